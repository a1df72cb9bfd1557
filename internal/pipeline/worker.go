package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/andresuchdata/dss-loader/internal/domain"
	"github.com/andresuchdata/dss-loader/internal/submission"
)

// processRecords runs records through a pool of cfg.Workers goroutines. It
// stops starting records once ctx is cancelled. Records already started run
// on a context that ignores the cancellation, so their store calls are
// only bounded by the per-call timeout.
func (o *Orchestrator) processRecords(ctx context.Context, records []*domain.InputRecord) {
	jobChan := make(chan *domain.InputRecord)
	detached := context.WithoutCancel(ctx)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < o.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for rec := range jobChan {
				if ctx.Err() != nil {
					continue
				}
				out := o.processRecord(detached, rec)
				o.report.Record(out)
				if out.Failed() {
					o.log.Error().
						Int("worker", workerID).
						Str("record", rec.ID).
						Str("stage", string(out.Stage)).
						Str("kind", string(out.Kind)).
						Msg(out.Error)
				}
			}
		}(i)
	}

	// Enqueue jobs
enqueue:
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break enqueue
		case jobChan <- rec:
		}
	}
	close(jobChan)

	wg.Wait()
}

// processRecord transforms, stages and submits one record. It never returns
// an error: failures are folded into the outcome.
func (o *Orchestrator) processRecord(ctx context.Context, rec *domain.InputRecord) Outcome {
	start := time.Now()
	out := Outcome{RecordID: rec.ID, Index: rec.Index}
	fail := func(stage Stage, err error, fallback domain.ErrorKind) Outcome {
		out.Status = domain.OutcomeFailed
		out.Stage = stage
		out.Kind = kindOf(err, fallback)
		out.Error = err.Error()
		out.Duration = time.Since(start)
		return out
	}

	log := o.log.With().Str("record", rec.ID).Logger()
	log.Debug().Int("files", len(rec.Files)).Msg("processing record")

	bundle, err := o.transformer.Transform(ctx, rec)
	if err != nil {
		return fail(StageTransform, err, domain.KindTransform)
	}
	out.Bundle = bundle.UUID
	out.Files = len(bundle.Files)
	out.Bytes = bundle.TotalBytes()

	staged, err := o.submitter.Stage(ctx, bundle, o.cfg.DryRun)
	if err != nil {
		return fail(StageStaging, err, domain.KindStaging)
	}

	res, err := o.submitter.Submit(ctx, staged, o.cfg.DryRun)
	if err != nil {
		return fail(StageSubmit, err, domain.KindSubmission)
	}

	out.Bundle = res.FQID()
	out.Stage = StageDone
	out.Duration = time.Since(start)
	if res.Status == submission.StatusWouldSubmit {
		out.Status = domain.OutcomeSkippedDryRun
	} else {
		out.Status = domain.OutcomeSucceeded
	}

	log.Info().
		Str("bundle", out.Bundle).
		Str("result", string(res.Status)).
		Dur("elapsed", out.Duration).
		Msg("record done")
	return out
}
