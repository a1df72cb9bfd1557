package pipeline

import (
	"context"
	"time"

	"github.com/andresuchdata/dss-loader/internal/domain"
	"github.com/andresuchdata/dss-loader/internal/submission"
)

// Transformer turns an input record into a submission bundle.
type Transformer interface {
	Transform(ctx context.Context, rec *domain.InputRecord) (*domain.SubmissionBundle, error)
}

// Submitter stages and registers bundles.
type Submitter interface {
	Stage(ctx context.Context, bundle *domain.SubmissionBundle, dryRun bool) (*submission.StagedBundle, error)
	Submit(ctx context.Context, staged *submission.StagedBundle, dryRun bool) (*submission.Result, error)
}

// Config holds configuration for a run
type Config struct {
	Workers int  // Number of records processed concurrently
	DryRun  bool // Validate and stage in memory only
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Workers: 4,
		DryRun:  true,
	}
}

// Stage names the step a record was in when it finished.
type Stage string

const (
	StageParse     Stage = "parse"
	StageTransform Stage = "transform"
	StageStaging   Stage = "stage"
	StageSubmit    Stage = "submit"
	StageDone      Stage = "done"
)

// Outcome is the result for one record.
type Outcome struct {
	RecordID string               `json:"record_id"`
	Index    int                  `json:"index"`
	Status   domain.OutcomeStatus `json:"status"`
	Label    string               `json:"label"`
	Stage    Stage                `json:"stage,omitempty"`
	Kind     domain.ErrorKind     `json:"kind,omitempty"`
	Error    string               `json:"error,omitempty"`
	Bundle   string               `json:"bundle,omitempty"`
	Files    int                  `json:"files,omitempty"`
	Bytes    int64                `json:"bytes,omitempty"`
	Duration time.Duration        `json:"duration,omitempty"`
}

// Failed reports whether the record ended in failure.
func (o Outcome) Failed() bool {
	return o.Status == domain.OutcomeFailed
}
