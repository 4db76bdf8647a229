package faq

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QAPair is one parsed dataset row.
type QAPair struct {
	Question string
	Answer   string
}

// AnswerRecord is the answer store row for a canonical question.
type AnswerRecord struct {
	ID           uuid.UUID `json:"id"`
	QuestionText string    `json:"questionText"`
	AnswerText   string    `json:"answerText"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Neighbor is a single similarity index hit.
type Neighbor struct {
	ID       uuid.UUID
	Distance float64
}

// Match is a resolved candidate: index hit plus its stored answer.
type Match struct {
	ID           uuid.UUID
	QuestionText string
	AnswerText   string
	Distance     float64
	Score        float64
}

// Outcome tags the result of a query resolution.
type Outcome string

const (
	// OutcomeMatched means at least one candidate cleared the threshold.
	OutcomeMatched Outcome = "matched"
	// OutcomeNoMatch is the normal result when nothing is close enough.
	OutcomeNoMatch Outcome = "no_match"
)

// Resolution is returned by the query entry points. Matches are ordered
// most similar first.
type Resolution struct {
	Question string
	Outcome  Outcome
	Matches  []Match
}

// Best returns the top match when the resolution matched.
func (r Resolution) Best() (Match, bool) {
	if r.Outcome != OutcomeMatched || len(r.Matches) == 0 {
		return Match{}, false
	}
	return r.Matches[0], true
}

// IngestStatus summarizes a batch.
type IngestStatus string

const (
	IngestSuccess IngestStatus = "success"
	IngestPartial IngestStatus = "partial"
	IngestFailure IngestStatus = "failure"
)

// RecordOutcome describes what happened to a single input row.
type RecordOutcome string

const (
	RecordLoaded    RecordOutcome = "loaded"
	RecordSkipped   RecordOutcome = "skipped"
	RecordDuplicate RecordOutcome = "duplicate"
)

// RecordResult is reported per input row, in input order.
type RecordResult struct {
	Row      int
	ID       uuid.UUID
	Question string
	Outcome  RecordOutcome
	Reason   string
}

// IngestReport is the aggregated result of an ingestion batch.
type IngestReport struct {
	Status     IngestStatus
	Loaded     int
	Skipped    int
	Duplicates int
	Records    []RecordResult
}

// Failures lists skipped rows.
func (r IngestReport) Failures() []RecordResult {
	var out []RecordResult
	for _, rec := range r.Records {
		if rec.Outcome == RecordSkipped {
			out = append(out, rec)
		}
	}
	return out
}

// Stats reports the size of the answer store.
type Stats struct {
	Questions int `json:"questions"`
}

// Summary renders the human readable load message.
func (r IngestReport) Summary() string {
	msg := fmt.Sprintf("Loaded %d of %d records", r.Loaded, len(r.Records))
	if r.Skipped > 0 {
		msg += fmt.Sprintf(", skipped %d", r.Skipped)
	}
	if r.Duplicates > 0 {
		msg += fmt.Sprintf(", merged %d duplicates", r.Duplicates)
	}
	return msg + "."
}
