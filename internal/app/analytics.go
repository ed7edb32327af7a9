package app

import (
	"math"
	"sort"

	"quizbook-tracker/internal/domain"
)

// FlatRecord is one question record lifted out of the book tree together with its owners.
type FlatRecord struct {
	ChapterID     string
	ChapterNumber int
	SectionID     string
	SectionNumber int
	Record        domain.QuestionRecord
}

type tally struct {
	total   int
	correct int
}

// Flatten walks the book once and returns every question record, chapter-direct and section-owned.
func Flatten(book domain.QuizBook) []FlatRecord {
	var out []FlatRecord
	for _, ch := range book.Chapters {
		for _, rec := range ch.Questions {
			out = append(out, FlatRecord{
				ChapterID:     ch.ID,
				ChapterNumber: ch.Number,
				Record:        rec,
			})
		}
		for _, sec := range ch.Sections {
			for _, rec := range sec.Questions {
				out = append(out, FlatRecord{
					ChapterID:     ch.ID,
					ChapterNumber: ch.Number,
					SectionID:     sec.ID,
					SectionNumber: sec.Number,
					Record:        rec,
				})
			}
		}
	}
	return out
}

// ValidateBook checks every history in the book before it is aggregated.
func ValidateBook(book domain.QuizBook) error {
	for _, fr := range Flatten(book) {
		ref := domain.ContainerRef{ChapterID: fr.ChapterID, SectionID: fr.SectionID}
		if err := CheckHistory(ref, fr.Record); err != nil {
			return err
		}
	}
	return nil
}

// ValidateChapter checks the histories of one chapter, sections included.
func ValidateChapter(ch domain.Chapter) error {
	return ValidateBook(domain.QuizBook{Chapters: []domain.Chapter{ch}})
}

// attemptAt returns the confirmed attempt on the given round, if the history has one.
func attemptAt(attempts []domain.Attempt, round int) (domain.Attempt, bool) {
	for _, a := range attempts {
		if a.Confirmed && a.Round == round {
			return a, true
		}
	}
	return domain.Attempt{}, false
}

func tallyRound(records []FlatRecord, round int) tally {
	var t tally
	for _, fr := range records {
		a, ok := attemptAt(fr.Record.Attempts, round)
		if !ok {
			continue
		}
		t.total++
		if a.Result == domain.Correct {
			t.correct++
		}
	}
	return t
}

// rateInt is the whole-percent rate used by the progress badge; no attempts means 0.
func (t tally) rateInt() int {
	if t.total == 0 {
		return 0
	}
	return int(math.Round(float64(t.correct) * 100 / float64(t.total)))
}

// rateOneDecimal is the chart rate, rounded to one decimal place.
func (t tally) rateOneDecimal() float64 {
	if t.total == 0 {
		return 0
	}
	return math.Round(float64(t.correct)*1000/float64(t.total)) / 10
}

// MaxRound is the highest confirmed round across the records, 0 when there is none.
func MaxRound(records []FlatRecord) int {
	max := 0
	for _, fr := range records {
		for _, a := range fr.Record.Attempts {
			if a.Confirmed && a.Round > max {
				max = a.Round
			}
		}
	}
	return max
}

// ChapterRate is the chapter's correctness percentage on one round.
// A chapter with sections is measured from its sections only.
func ChapterRate(ch domain.Chapter, round int) int {
	var records []FlatRecord
	if len(ch.Sections) > 0 {
		for _, sec := range ch.Sections {
			for _, rec := range sec.Questions {
				records = append(records, FlatRecord{Record: rec})
			}
		}
	} else {
		for _, rec := range ch.Questions {
			records = append(records, FlatRecord{Record: rec})
		}
	}
	return tallyRound(records, round).rateInt()
}

// RoundStats tallies the whole book for every round from 1 to the highest reached.
func RoundStats(records []FlatRecord) []domain.RoundStat {
	max := MaxRound(records)
	stats := make([]domain.RoundStat, 0, max)
	for r := 1; r <= max; r++ {
		t := tallyRound(records, r)
		stats = append(stats, domain.RoundStat{
			Round:          r,
			TotalQuestions: t.total,
			CorrectAnswers: t.correct,
			CorrectRate:    t.rateOneDecimal(),
		})
	}
	return stats
}

// ChapterStats repeats the per-round tally for each chapter and keeps only rounds with activity.
// Every record owned by the chapter counts, direct or through a section.
func ChapterStats(records []FlatRecord, maxRound int, chapters []domain.Chapter) []domain.ChapterStat {
	groups := make(map[string][]FlatRecord)
	for _, fr := range records {
		groups[fr.ChapterID] = append(groups[fr.ChapterID], fr)
	}

	stats := make([]domain.ChapterStat, 0)
	for _, ch := range chapters {
		group, ok := groups[ch.ID]
		if !ok {
			continue
		}
		for r := 1; r <= maxRound; r++ {
			t := tallyRound(group, r)
			if t.total == 0 {
				continue
			}
			stats = append(stats, domain.ChapterStat{
				Round:          r,
				ChapterID:      ch.ID,
				ChapterNumber:  ch.Number,
				TotalQuestions: t.total,
				CorrectAnswers: t.correct,
				CorrectRate:    t.rateOneDecimal(),
			})
		}
	}

	sort.SliceStable(stats, func(i, j int) bool {
		if stats[i].Round != stats[j].Round {
			return stats[i].Round < stats[j].Round
		}
		return stats[i].ChapterNumber < stats[j].ChapterNumber
	})
	return stats
}

// SectionStats is ChapterStats keyed by section.
func SectionStats(records []FlatRecord, maxRound int, chapters []domain.Chapter) []domain.SectionStat {
	groups := make(map[string][]FlatRecord)
	for _, fr := range records {
		if fr.SectionID == "" {
			continue
		}
		groups[fr.SectionID] = append(groups[fr.SectionID], fr)
	}

	type row struct {
		stat          domain.SectionStat
		chapterNumber int
	}
	rows := make([]row, 0)
	for _, ch := range chapters {
		for _, sec := range ch.Sections {
			group, ok := groups[sec.ID]
			if !ok {
				continue
			}
			for r := 1; r <= maxRound; r++ {
				t := tallyRound(group, r)
				if t.total == 0 {
					continue
				}
				rows = append(rows, row{
					stat: domain.SectionStat{
						Round:          r,
						SectionID:      sec.ID,
						ChapterID:      ch.ID,
						SectionNumber:  sec.Number,
						TotalQuestions: t.total,
						CorrectAnswers: t.correct,
						CorrectRate:    t.rateOneDecimal(),
					},
					chapterNumber: ch.Number,
				})
			}
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.stat.Round != b.stat.Round {
			return a.stat.Round < b.stat.Round
		}
		if a.stat.SectionNumber != b.stat.SectionNumber {
			return a.stat.SectionNumber < b.stat.SectionNumber
		}
		return a.chapterNumber < b.chapterNumber
	})

	stats := make([]domain.SectionStat, len(rows))
	for i, r := range rows {
		stats[i] = r.stat
	}
	return stats
}

// Analyze assembles the statistics of one loaded book. It does not mutate the book.
func Analyze(book domain.QuizBook) domain.Analytics {
	records := Flatten(book)
	max := MaxRound(records)
	return domain.Analytics{
		QuizBookID:   book.ID,
		TotalRounds:  max,
		RoundStats:   RoundStats(records),
		ChapterStats: ChapterStats(records, max, book.Chapters),
		SectionStats: SectionStats(records, max, book.Chapters),
	}
}
