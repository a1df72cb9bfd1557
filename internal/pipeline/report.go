package pipeline

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/andresuchdata/dss-loader/internal/domain"
)

// RunReport collects per-record outcomes keyed by input position, which is
// unique within a run even when record ids are not. It is safe for concurrent
// use and can be snapshotted while a run is in progress.
type RunReport struct {
	mu        sync.Mutex
	dryRun    bool
	expected  int
	outcomes  map[int]Outcome
	started   time.Time
	finished  time.Time
	cancelled bool
}

// NewRunReport creates an empty report.
func NewRunReport(dryRun bool) *RunReport {
	return &RunReport{
		dryRun:   dryRun,
		outcomes: make(map[int]Outcome),
		started:  time.Now(),
	}
}

func (r *RunReport) expect(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expected += n
}

// Record stores the outcome for the record at o.Index. A later outcome for the
// same index replaces the earlier one.
func (r *RunReport) Record(o Outcome) {
	if o.Label == "" {
		o.Label = domain.OutcomeLabel(o.Status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[o.Index] = o
}

// Has reports whether the record at index already has an outcome.
func (r *RunReport) Has(index int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.outcomes[index]
	return ok
}

func (r *RunReport) finish(cancelled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = time.Now()
	r.cancelled = cancelled
}

// Summary is a point-in-time view of a report.
type Summary struct {
	DryRun       bool          `json:"dry_run"`
	Finished     bool          `json:"finished"`
	Cancelled    bool          `json:"cancelled"`
	Total        int           `json:"total"`
	Pending      int           `json:"pending"`
	Loaded       int           `json:"loaded"`
	SkippedDry   int           `json:"skipped_dry_run"`
	Failed       int           `json:"failed"`
	Unparsed     int           `json:"unparsed"`
	NotAttempted int           `json:"not_attempted"`
	Bytes        int64         `json:"bytes"`
	Elapsed      time.Duration `json:"elapsed"`
	Outcomes     []Outcome     `json:"outcomes"`
}

// Snapshot copies the current state, outcomes ordered by input position.
func (r *RunReport) Snapshot() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Summary{
		DryRun:    r.dryRun,
		Finished:  !r.finished.IsZero(),
		Cancelled: r.cancelled,
		Total:     r.expected,
		Outcomes:  make([]Outcome, 0, len(r.outcomes)),
	}
	end := r.finished
	if end.IsZero() {
		end = time.Now()
	}
	s.Elapsed = end.Sub(r.started)

	for _, o := range r.outcomes {
		s.Outcomes = append(s.Outcomes, o)
		switch o.Status {
		case domain.OutcomeSucceeded:
			s.Loaded++
			s.Bytes += o.Bytes
		case domain.OutcomeSkippedDryRun:
			s.SkippedDry++
			s.Bytes += o.Bytes
		case domain.OutcomeNotAttempted:
			s.NotAttempted++
		case domain.OutcomeFailed:
			if o.Stage == StageParse {
				s.Unparsed++
			} else {
				s.Failed++
			}
		}
	}
	sort.Slice(s.Outcomes, func(i, j int) bool {
		return s.Outcomes[i].Index < s.Outcomes[j].Index
	})

	s.Pending = s.Total - len(s.Outcomes)
	if s.Pending < 0 {
		s.Pending = 0
	}
	return s
}

// Failures returns the failed outcomes, parse failures included.
func (s Summary) Failures() []Outcome {
	var out []Outcome
	for _, o := range s.Outcomes {
		if o.Failed() {
			out = append(out, o)
		}
	}
	return out
}

// OK reports whether every record loaded or was skipped by a dry run.
func (s Summary) OK() bool {
	return s.Failed == 0 && s.Unparsed == 0 && s.NotAttempted == 0 && s.Pending == 0
}

// WriteTo renders the human-readable end-of-run summary.
func (s Summary) WriteTo(w io.Writer) (int64, error) {
	var n int64
	p := func(format string, args ...any) {
		m, _ := fmt.Fprintf(w, format, args...)
		n += int64(m)
	}

	mode := "load"
	if s.DryRun {
		mode = "dry run"
	}
	p("Run summary (%s)\n", mode)
	p("  records:        %d\n", s.Total)
	if s.DryRun {
		p("  would load:     %d (%s)\n", s.SkippedDry, humanize.Bytes(uint64(s.Bytes)))
	} else {
		p("  loaded:         %d (%s)\n", s.Loaded, humanize.Bytes(uint64(s.Bytes)))
	}
	p("  failed:         %d\n", s.Failed)
	p("  unparsed:       %d\n", s.Unparsed)
	p("  not attempted:  %d\n", s.NotAttempted+s.Pending)

	failures := s.Failures()
	if len(failures) > 0 {
		p("\nFailures:\n")
		for _, o := range failures {
			p("  %s [%s] %s: %s\n", o.RecordID, o.Stage, o.Kind, o.Error)
		}
	}
	if s.OK() {
		if s.DryRun {
			p("\nAll %s records validated.\n", humanize.Comma(int64(s.Total)))
		} else {
			p("\nSuccessfully loaded all %s records.\n", humanize.Comma(int64(s.Total)))
		}
	}
	return n, nil
}
