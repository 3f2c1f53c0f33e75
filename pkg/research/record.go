package research

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxQueryLength is the maximum query length in characters.
const MaxQueryLength = 500

var (
	ErrInvalidQuery       = errors.New("invalid query")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrFrozen             = errors.New("record is in a terminal status")
	ErrReportErrorExclude = errors.New("report and error are mutually exclusive")
)

// Record is the persisted unit of work for one research job.
type Record struct {
	ID                string    `json:"id"`
	Query             string    `json:"query"`
	Status            Status    `json:"status"`
	Model             string    `json:"model"`
	SearchModel       string    `json:"search_model,omitempty"`
	MaxSearches       int       `json:"max_searches"`
	CustomRequirement string    `json:"custom_requirement"`
	Learnings         []string  `json:"learnings"`
	Report            string    `json:"report,omitempty"`
	Error             string    `json:"error,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Params are the caller-supplied inputs of a new research job.
type Params struct {
	Query             string
	Model             string
	SearchModel       string
	MaxSearches       int
	CustomRequirement string
}

// Validate checks the creation inputs.
func (p Params) Validate() error {
	n := utf8.RuneCountInString(strings.TrimSpace(p.Query))
	if n == 0 {
		return fmt.Errorf("%w: query is required", ErrInvalidQuery)
	}
	if utf8.RuneCountInString(p.Query) > MaxQueryLength {
		return fmt.Errorf("%w: query exceeds %d characters", ErrInvalidQuery, MaxQueryLength)
	}
	if p.MaxSearches < 0 {
		return fmt.Errorf("%w: max_searches must not be negative", ErrInvalidQuery)
	}
	if p.Model == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidQuery)
	}
	return nil
}

// NewRecord validates p and returns a fresh record in the processing status.
func NewRecord(p Params, now time.Time) (*Record, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Record{
		ID:                uuid.NewString(),
		Query:             p.Query,
		Status:            Processing,
		Model:             p.Model,
		SearchModel:       p.SearchModel,
		MaxSearches:       p.MaxSearches,
		CustomRequirement: p.CustomRequirement,
		Learnings:         []string{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// DistillModel is the model used to extract learnings from search results.
func (r *Record) DistillModel() string {
	if r.SearchModel != "" {
		return r.SearchModel
	}
	return r.Model
}

// Clone returns a deep copy, safe to hand to concurrent readers.
func (r *Record) Clone() *Record {
	c := *r
	c.Learnings = slices.Clone(r.Learnings)
	if c.Learnings == nil {
		c.Learnings = []string{}
	}
	return &c
}

// Transition moves the record to next if the state machine allows it.
func (r *Record) Transition(next Status, now time.Time) error {
	if !r.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, next)
	}
	r.Status = next
	r.UpdatedAt = now
	return nil
}

// AppendLearnings adds items in order. Learnings are frozen once terminal.
func (r *Record) AppendLearnings(now time.Time, items ...string) error {
	if r.Status.Terminal() {
		return ErrFrozen
	}
	r.Learnings = append(r.Learnings, items...)
	r.UpdatedAt = now
	return nil
}

// Complete stores the final report and marks the record completed.
func (r *Record) Complete(report string, now time.Time) error {
	if r.Error != "" {
		return ErrReportErrorExclude
	}
	if err := r.Transition(StatusOf(StageCompleted), now); err != nil {
		return err
	}
	r.Report = report
	return nil
}

// Fail records msg and marks the record as errored.
func (r *Record) Fail(msg string, now time.Time) error {
	if r.Report != "" {
		return ErrReportErrorExclude
	}
	if err := r.Transition(StatusOf(StageError), now); err != nil {
		return err
	}
	r.Error = msg
	return nil
}
