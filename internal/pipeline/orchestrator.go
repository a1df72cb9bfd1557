package pipeline

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/dss-loader/internal/domain"
)

// Orchestrator drains input records through transform, stage and submit.
type Orchestrator struct {
	transformer Transformer
	submitter   Submitter
	cfg         Config
	report      *RunReport
	log         zerolog.Logger
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(t Transformer, s Submitter, cfg Config, log zerolog.Logger) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Orchestrator{
		transformer: t,
		submitter:   s,
		cfg:         cfg,
		report:      NewRunReport(cfg.DryRun),
		log:         log,
	}
}

// Report is the live report of the current run.
func (o *Orchestrator) Report() *RunReport {
	return o.report
}

// Run records the parse failures, processes every record and returns the
// report. Cancelling ctx stops new records from starting; records already
// running finish and the rest are reported as not attempted.
func (o *Orchestrator) Run(ctx context.Context, records []*domain.InputRecord, failures []domain.ParseFailure) *RunReport {
	o.report.expect(len(records) + len(failures))

	for _, f := range failures {
		o.report.Record(Outcome{
			RecordID: f.RecordID,
			Index:    f.Index,
			Status:   domain.OutcomeFailed,
			Stage:    StageParse,
			Kind:     kindOf(f.Err, domain.KindParse),
			Error:    errString(f.Err),
		})
	}

	o.log.Info().
		Int("records", len(records)).
		Int("unparsed", len(failures)).
		Int("workers", o.cfg.Workers).
		Bool("dry_run", o.cfg.DryRun).
		Msgf("going to load %d bundle%s", len(records), plural(len(records)))

	o.processRecords(ctx, records)

	cancelled := ctx.Err() != nil
	if cancelled {
		n := 0
		for _, rec := range records {
			if !o.report.Has(rec.Index) {
				o.report.Record(Outcome{RecordID: rec.ID, Index: rec.Index, Status: domain.OutcomeNotAttempted})
				n++
			}
		}
		o.log.Warn().Int("not_attempted", n).Msg("run cancelled before every record was attempted")
	}
	o.report.finish(cancelled)
	return o.report
}

func kindOf(err error, fallback domain.ErrorKind) domain.ErrorKind {
	if kind := domain.RootKind(err); kind != "" {
		return kind
	}
	return fallback
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
