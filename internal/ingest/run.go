package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-ingest/internal/media"
	"github.com/fpang/media-ingest/internal/metrics"
	"github.com/fpang/media-ingest/internal/rag"
	"github.com/fpang/media-ingest/internal/store"
)

// State is a stage of an ingestion run.
type State string

const (
	StateInit       State = "INIT"
	StateAuthorized State = "AUTHORIZED"
	StateFetched    State = "FETCHED"
	StateExtracted  State = "EXTRACTED"
	StateSaved      State = "SAVED"
	StateEnriched   State = "ENRICHED"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)

// Status is the externally visible outcome of a run.
type Status string

const (
	StatusDone       Status = "done"
	StatusNothingNew Status = "nothing_new"
	StatusFailed     Status = "failed"
)

// Processor is the set of stages a run drives, in order.
type Processor interface {
	UserID() string
	Authorize(ctx context.Context) error
	FetchData(ctx context.Context) ([]media.RawEntry, error)
	ExtractAndPreprocess(ctx context.Context, entries []media.RawEntry) ([]media.Item, error)
	SaveToDB(ctx context.Context, items []media.Item) (int, error)
	Enrich(ctx context.Context) int
}

// describeFailureCounter is implemented by processors that track failed
// description calls.
type describeFailureCounter interface {
	DescribeFailures() int
}

// Result is the outcome of one run.
type Result struct {
	RunID       string
	UserID      string
	Status      Status
	State       State
	Fetched     int
	Constructed int
	Saved       int
	Enriched    int
	Err         error
	StartedAt   time.Time
	Elapsed     time.Duration
}

// Map returns the run summary as a plain map. It is empty unless the run
// saved new media, so "nothing new" and "failed" look the same to callers
// that only inspect the map.
func (r Result) Map() map[string]any {
	if r.Status != StatusDone {
		return map[string]any{}
	}
	return map[string]any{
		"runId":       r.RunID,
		"userId":      r.UserID,
		"fetched":     r.Fetched,
		"constructed": r.Constructed,
		"saved":       r.Saved,
		"enriched":    r.Enriched,
	}
}

// EventEmitter publishes run completion events.
type EventEmitter interface {
	EmitMediaIngested(ctx context.Context, event rag.MediaIngested) error
}

type runOptions struct {
	ledger    store.RunLedger
	leaseTTL  time.Duration
	events    EventEmitter
	namespace string
	now       func() time.Time
}

// Option configures Execute.
type Option func(*runOptions)

// WithLedger serializes runs per user through ledger and records each run.
func WithLedger(ledger store.RunLedger, leaseTTL time.Duration) Option {
	return func(o *runOptions) {
		o.ledger = ledger
		o.leaseTTL = leaseTTL
	}
}

// WithEvents publishes a MediaIngested event after each run that saved media.
func WithEvents(events EventEmitter) Option {
	return func(o *runOptions) { o.events = events }
}

// WithMetrics flushes an EMF summary of each run under namespace.
func WithMetrics(namespace string) Option {
	return func(o *runOptions) { o.namespace = namespace }
}

// run tracks the state of one execution.
type run struct {
	id     string
	userID string
	state  State
	result Result
}

func (r *run) advance(to State) {
	log.Debug().Str("runId", r.id).Str("userId", r.userID).Str("from", string(r.state)).Str("to", string(to)).Msg("Run state transition")
	r.state = to
}

// Execute drives p through INIT → AUTHORIZED → FETCHED → EXTRACTED → SAVED →
// ENRICHED → DONE. Any fetch, construct or persist error ends the run in
// FAILED. Execute never returns an error and recovers panics raised by p.
func Execute(ctx context.Context, p Processor, opts ...Option) (res Result) {
	o := runOptions{leaseTTL: 15 * time.Minute, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	r := &run{id: uuid.NewString(), userID: p.UserID(), state: StateInit}
	started := o.now()
	r.result = Result{RunID: r.id, UserID: r.userID, StartedAt: started}

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("runId", r.id).
				Str("userId", r.userID).
				Str("state", string(r.state)).
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("Ingestion run panicked")
			r.fail(fmt.Errorf("panic in %s: %v", r.state, rec))
		}
		r.result.State = r.state
		r.result.Elapsed = o.now().Sub(started)
		res = r.result
		o.finish(ctx, p, res)
	}()

	log.Info().Str("runId", r.id).Str("userId", r.userID).Msg("Ingestion run started")

	if o.ledger != nil {
		if err := o.ledger.Acquire(ctx, r.userID, r.id, o.leaseTTL); err != nil {
			r.fail(fmt.Errorf("acquire run lease: %w", err))
			return
		}
		defer func() {
			if err := o.ledger.Release(context.WithoutCancel(ctx), r.userID, r.id); err != nil {
				log.Warn().Err(err).Str("runId", r.id).Msg("Releasing run lease failed")
			}
		}()
	}

	r.execute(ctx, p)
	return
}

func (r *run) execute(ctx context.Context, p Processor) {
	if err := p.Authorize(ctx); err != nil {
		r.fail(fmt.Errorf("authorize: %w", err))
		return
	}
	r.advance(StateAuthorized)

	entries, err := p.FetchData(ctx)
	if err != nil {
		r.fail(fmt.Errorf("fetch: %w", err))
		return
	}
	r.result.Fetched = len(entries)
	r.advance(StateFetched)
	if len(entries) == 0 {
		log.Info().Str("runId", r.id).Str("userId", r.userID).Msg("No new media to fetch")
		r.finishEmpty()
		return
	}

	items, err := p.ExtractAndPreprocess(ctx, entries)
	if err != nil {
		r.fail(fmt.Errorf("construct: %w", err))
		return
	}
	r.result.Constructed = len(items)
	r.advance(StateExtracted)
	if len(items) == 0 {
		log.Info().Str("runId", r.id).Str("userId", r.userID).Msg("No new media to process")
		r.finishEmpty()
		return
	}

	saved, err := p.SaveToDB(ctx, items)
	r.result.Saved = saved
	if err != nil {
		r.fail(fmt.Errorf("save: %w", err))
		return
	}
	r.advance(StateSaved)

	r.result.Enriched = p.Enrich(ctx)
	r.advance(StateEnriched)

	r.advance(StateDone)
	r.result.Status = StatusDone
	log.Info().
		Str("runId", r.id).
		Str("userId", r.userID).
		Int("fetched", r.result.Fetched).
		Int("constructed", r.result.Constructed).
		Int("saved", r.result.Saved).
		Int("enriched", r.result.Enriched).
		Msg("Ingestion run complete")
}

func (r *run) finishEmpty() {
	r.advance(StateDone)
	r.result.Status = StatusNothingNew
}

func (r *run) fail(err error) {
	log.Error().Err(err).Str("runId", r.id).Str("userId", r.userID).Str("state", string(r.state)).Msg("Ingestion run failed")
	r.state = StateFailed
	r.result.Status = StatusFailed
	r.result.Err = err
}

// finish records, measures and announces a completed run. All of it is
// best-effort.
func (o *runOptions) finish(ctx context.Context, p Processor, res Result) {
	ctx = context.WithoutCancel(ctx)

	if o.namespace != "" {
		stats := metrics.RunStats{
			UserID:      res.UserID,
			RunID:       res.RunID,
			Status:      string(res.Status),
			State:       string(res.State),
			Fetched:     res.Fetched,
			Constructed: res.Constructed,
			Saved:       res.Saved,
			Enriched:    res.Enriched,
			Elapsed:     res.Elapsed,
		}
		if c, ok := p.(describeFailureCounter); ok {
			stats.DescribeFailures = c.DescribeFailures()
		}
		stats.Emit(metrics.New(o.namespace))
	}

	if o.ledger != nil {
		rec := &store.RunRecord{
			UserID:     res.UserID,
			RunID:      res.RunID,
			Status:     string(res.Status),
			State:      string(res.State),
			StartedAt:  res.StartedAt,
			FinishedAt: res.StartedAt.Add(res.Elapsed),
			Fetched:    res.Fetched,
			Saved:      res.Saved,
			Enriched:   res.Enriched,
		}
		if res.Err != nil {
			rec.Error = res.Err.Error()
		}
		if err := o.ledger.Record(ctx, rec); err != nil {
			log.Warn().Err(err).Str("runId", res.RunID).Msg("Recording run failed")
		}
	}

	if o.events != nil && res.Status == StatusDone && res.Saved > 0 {
		event := rag.MediaIngested{
			UserID:     res.UserID,
			RunID:      res.RunID,
			Status:     string(res.Status),
			Saved:      res.Saved,
			Enriched:   res.Enriched,
			FinishedAt: res.StartedAt.Add(res.Elapsed),
		}
		if err := o.events.EmitMediaIngested(ctx, event); err != nil {
			log.Warn().Err(err).Str("runId", res.RunID).Msg("Publishing MediaIngested failed")
		}
	}
}

// IsRunInProgress reports whether a failed result was caused by a
// concurrent run holding the user's lease.
func (r Result) IsRunInProgress() bool {
	return errors.Is(r.Err, store.ErrRunInProgress)
}
