package http

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quizbook-tracker/internal/app"
	"quizbook-tracker/internal/domain"
)

// WSHandler runs a live study session: the client answers questions and
// receives a fresh analytics snapshot after every change to the book.
type WSHandler struct {
	tracker  *app.Tracker
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(tracker *app.Tracker, log *zap.Logger) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHandler{
		tracker: tracker,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// questionPayload addresses one question; exactly one of chapterId/sectionId is set.
type questionPayload struct {
	ChapterID      string `json:"chapterId"`
	SectionID      string `json:"sectionId"`
	QuestionNumber int    `json:"questionNumber"`
	Result         string `json:"result"`
}

func (p questionPayload) ref() domain.ContainerRef {
	return domain.ContainerRef{ChapterID: p.ChapterID, SectionID: p.SectionID}
}

type attemptPayload struct {
	ChapterID      string         `json:"chapterId,omitempty"`
	SectionID      string         `json:"sectionId,omitempty"`
	QuestionNumber int            `json:"questionNumber"`
	Attempt        domain.Attempt `json:"attempt"`
}

type removedPayload struct {
	Operation      string `json:"operation"`
	ChapterID      string `json:"chapterId,omitempty"`
	SectionID      string `json:"sectionId,omitempty"`
	QuestionNumber int    `json:"questionNumber"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades HTTP requests to websockets and wires them into the tracker.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	bookID := r.URL.Query().Get("bookId")
	ownerID := r.URL.Query().Get("ownerId")
	if bookID == "" || ownerID == "" {
		http.Error(w, "missing bookId or ownerId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := r.Context()
	updates, cancel, err := h.tracker.Subscribe(ctx, ownerID, bookID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Only the writer goroutine touches conn for writes.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", zap.String("book_id", bookID), zap.Error(err))
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "analytics", Payload: update}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	reply := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}
	fail := func(err error) {
		reply(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}

		var payload questionPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			reply(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid payload"}})
			continue
		}
		ref := payload.ref()

		switch inbound.Type {
		case "record", "draft", "confirm", "retract", "delete":
			// A session only edits the book it is subscribed to.
			if err := h.tracker.CheckContainer(ctx, ownerID, bookID, ref); err != nil {
				fail(err)
				continue
			}
		}

		switch inbound.Type {
		case "record", "draft":
			result, err := domain.ParseResult(payload.Result)
			if err != nil {
				fail(err)
				continue
			}
			record := h.tracker.RecordAttempt
			if inbound.Type == "draft" {
				record = h.tracker.DraftAttempt
			}
			attempt, err := record(ctx, ownerID, ref, payload.QuestionNumber, result)
			if err != nil {
				fail(err)
				continue
			}
			reply(outboundMessage[any]{Type: "attempt", Payload: attemptPayload{
				ChapterID:      payload.ChapterID,
				SectionID:      payload.SectionID,
				QuestionNumber: payload.QuestionNumber,
				Attempt:        attempt,
			}})
		case "confirm":
			attempt, err := h.tracker.ConfirmAttempt(ctx, ownerID, ref, payload.QuestionNumber)
			if err != nil {
				fail(err)
				continue
			}
			reply(outboundMessage[any]{Type: "attempt", Payload: attemptPayload{
				ChapterID:      payload.ChapterID,
				SectionID:      payload.SectionID,
				QuestionNumber: payload.QuestionNumber,
				Attempt:        attempt,
			}})
		case "retract", "delete":
			var err error
			if inbound.Type == "retract" {
				err = h.tracker.RetractLatestAttempt(ctx, ownerID, ref, payload.QuestionNumber)
			} else {
				err = h.tracker.DeleteQuestion(ctx, ownerID, ref, payload.QuestionNumber)
			}
			if err != nil {
				fail(err)
				continue
			}
			reply(outboundMessage[any]{Type: "removed", Payload: removedPayload{
				Operation:      inbound.Type,
				ChapterID:      payload.ChapterID,
				SectionID:      payload.SectionID,
				QuestionNumber: payload.QuestionNumber,
			}})
		default:
			reply(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}
