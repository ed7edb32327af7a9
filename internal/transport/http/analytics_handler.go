package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"quizbook-tracker/internal/app"
	"quizbook-tracker/internal/domain"
)

// AnalyticsHandler serves the read side of the tracker as JSON.
type AnalyticsHandler struct {
	tracker *app.Tracker
	log     *zap.Logger
}

func NewAnalyticsHandler(tracker *app.Tracker, log *zap.Logger) *AnalyticsHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AnalyticsHandler{tracker: tracker, log: log}
}

// Register mounts the routes on mux. Every route takes the owner as ?ownerId=.
func (h *AnalyticsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /books/{bookId}/analytics", h.getAnalytics)
	mux.HandleFunc("GET /books/{bookId}/progress", h.getProgress)
	mux.HandleFunc("GET /books/{bookId}/history", h.getHistory)
	mux.HandleFunc("GET /books/{bookId}/chapters/{chapterId}/rate", h.getChapterRate)
	mux.HandleFunc("PUT /books/{bookId}/current-round", h.putCurrentRound)
}

type chapterRateResponse struct {
	ChapterID string `json:"chapterId"`
	Round     int    `json:"round"`
	Rate      int    `json:"rate"`
}

type currentRoundRequest struct {
	Round int `json:"round"`
}

func (h *AnalyticsHandler) getAnalytics(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	analytics, err := h.tracker.GetAnalytics(r.Context(), ownerID, r.PathValue("bookId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

func (h *AnalyticsHandler) getProgress(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	progress, err := h.tracker.GetProgressRates(r.Context(), ownerID, r.PathValue("bookId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (h *AnalyticsHandler) getHistory(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	activities, err := h.tracker.RecentActivity(r.Context(), ownerID, r.PathValue("bookId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, activities)
}

func (h *AnalyticsHandler) getChapterRate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	round, err := strconv.Atoi(r.URL.Query().Get("round"))
	if err != nil {
		h.writeError(w, domain.ErrInvalidRound)
		return
	}
	chapterID := r.PathValue("chapterId")
	rate, err := h.tracker.GetChapterRate(r.Context(), ownerID, r.PathValue("bookId"), chapterID, round)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chapterRateResponse{ChapterID: chapterID, Round: round, Rate: rate})
}

func (h *AnalyticsHandler) putCurrentRound(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req currentRoundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Message: "invalid body"})
		return
	}
	if err := h.tracker.SetCurrentRound(r.Context(), ownerID, r.PathValue("bookId"), req.Round); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AnalyticsHandler) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorPayload{Message: err.Error()})
}

// StatusFor maps tracker errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsInvalidInput(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerID := r.URL.Query().Get("ownerId")
	if ownerID == "" {
		writeJSON(w, http.StatusBadRequest, errorPayload{Message: "missing ownerId"})
		return "", false
	}
	return ownerID, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
