package research

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Stage is one step of the research state machine.
type Stage string

const (
	StageProcessing        Stage = "processing"
	StageGeneratingQueries Stage = "generating_queries"
	StageSearching         Stage = "searching"
	StageProcessingResults Stage = "processing_results"
	StageGeneratingReport  Stage = "generating_report"
	StageCompleted         Stage = "completed"
	StageError             Stage = "error"
	StageNoResults         Stage = "no_results"
)

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	switch s {
	case StageProcessing, StageGeneratingQueries, StageSearching, StageProcessingResults,
		StageGeneratingReport, StageCompleted, StageError, StageNoResults:
		return true
	}
	return false
}

// Status is the structured form of a record's status. Index, Total and Label
// are only meaningful for the searching and processing_results stages, where
// they carry the sub-query position and text.
type Status struct {
	Stage Stage
	Index int
	Total int
	Label string
}

// Processing is the status every record starts in.
var Processing = Status{Stage: StageProcessing}

// StatusOf returns a status without progress information.
func StatusOf(stage Stage) Status {
	return Status{Stage: stage}
}

// Searching returns the status for sub-query i of n.
func Searching(i, n int, query string) Status {
	return Status{Stage: StageSearching, Index: i, Total: n, Label: query}
}

// ProcessingResults returns the distillation status for sub-query i of n.
func ProcessingResults(i, n int, query string) Status {
	return Status{Stage: StageProcessingResults, Index: i, Total: n, Label: query}
}

// Terminal reports whether the orchestrator is done with the record.
func (s Status) Terminal() bool {
	switch s.Stage {
	case StageCompleted, StageError, StageNoResults:
		return true
	}
	return false
}

func (s Status) hasProgress() bool {
	return s.Stage == StageSearching || s.Stage == StageProcessingResults
}

// String renders the display form, e.g. "searching: 2/5: solar tariffs".
func (s Status) String() string {
	if !s.hasProgress() {
		return string(s.Stage)
	}
	return fmt.Sprintf("%s: %d/%d: %s", s.Stage, s.Index, s.Total, s.Label)
}

// ParseStatus is the inverse of String.
func ParseStatus(raw string) (Status, error) {
	stage, rest, hasRest := strings.Cut(raw, ": ")
	st := Stage(stage)
	switch st {
	case StageProcessing, StageGeneratingQueries, StageGeneratingReport,
		StageCompleted, StageError, StageNoResults:
		if hasRest {
			return Status{}, fmt.Errorf("unexpected progress on status %q", raw)
		}
		return Status{Stage: st}, nil
	case StageSearching, StageProcessingResults:
	default:
		return Status{}, fmt.Errorf("unknown status %q", raw)
	}
	if !hasRest {
		return Status{}, fmt.Errorf("missing progress on status %q", raw)
	}

	progress, label, _ := strings.Cut(rest, ": ")
	is, ns, ok := strings.Cut(progress, "/")
	if !ok {
		return Status{}, fmt.Errorf("malformed progress in status %q", raw)
	}
	i, err := strconv.Atoi(is)
	if err != nil {
		return Status{}, fmt.Errorf("malformed index in status %q: %w", raw, err)
	}
	n, err := strconv.Atoi(ns)
	if err != nil {
		return Status{}, fmt.Errorf("malformed total in status %q: %w", raw, err)
	}
	return Status{Stage: st, Index: i, Total: n, Label: label}, nil
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// order returns a sortable position of the status in the pipeline.
func (s Status) order() [3]int {
	switch s.Stage {
	case StageProcessing:
		return [3]int{0, 0, 0}
	case StageGeneratingQueries:
		return [3]int{1, 0, 0}
	case StageSearching:
		return [3]int{2, s.Index, 0}
	case StageProcessingResults:
		return [3]int{2, s.Index, 1}
	case StageGeneratingReport:
		return [3]int{3, 0, 0}
	default:
		return [3]int{4, 0, 0}
	}
}

func (s Status) before(o Status) bool {
	a, b := s.order(), o.order()
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// CanTransition reports whether moving from s to next respects the state
// machine: forward only, error/no_results from any live stage, completed only
// after the report stage, nothing out of a terminal stage.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	switch next.Stage {
	case StageError, StageNoResults:
		return true
	case StageCompleted:
		return s.Stage == StageGeneratingReport
	}
	if next.hasProgress() && (next.Index < 1 || next.Index > next.Total) {
		return false
	}
	return s.before(next)
}
