package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/domain"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/port"
)

type Options struct {
	Workers    int
	Retries    int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// Recorder drains claim events into the ledger and then the publisher.
// Either sink may be nil.
type Recorder struct {
	ledger    port.ClaimLedger
	publisher port.ClaimPublisher
	opts      Options
	log       zerolog.Logger
	wg        sync.WaitGroup
}

func NewRecorder(ledger port.ClaimLedger, publisher port.ClaimPublisher, opts Options, log zerolog.Logger) *Recorder {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Recorder{
		ledger:    ledger,
		publisher: publisher,
		opts:      opts,
		log:       log.With().Str("component", "claim_recorder").Logger(),
	}
}

// Start runs the workers until queue is closed.
func (r *Recorder) Start(queue <-chan domain.ClaimEvent) {
	for i := 0; i < r.opts.Workers; i++ {
		r.wg.Add(1)
		go func(id int) {
			defer r.wg.Done()
			r.workerLoop(id, queue)
		}(i)
	}
	r.log.Info().Int("workers", r.opts.Workers).Msg("claim recorder started")
}

// Wait blocks until every worker has drained the queue.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

func (r *Recorder) workerLoop(id int, queue <-chan domain.ClaimEvent) {
	log := r.log.With().Int("worker", id).Logger()
	for event := range queue {
		r.Handle(log, event)
	}
}

// Handle records one event. Issued keys are never returned to a pool, so a
// ledger failure is only logged.
func (r *Recorder) Handle(log zerolog.Logger, event domain.ClaimEvent) {
	log = log.With().Str("event_id", event.ID).Str("session_id", event.SessionID).
		Str("outcome", string(event.Outcome)).Logger()

	if r.ledger != nil {
		err := r.retry(func(ctx context.Context) error {
			return r.ledger.RecordClaim(ctx, event)
		})
		if err != nil {
			log.Error().Err(err).Interface("keys", event.Keys).Msg("CRITICAL: failed to write claim to ledger")
		} else {
			log.Debug().Int("keys", len(event.Keys)).Msg("claim written to ledger")
		}
	}

	if r.publisher != nil {
		err := r.retry(func(ctx context.Context) error {
			return r.publisher.Publish(ctx, event)
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to publish claim event")
		}
	}
}

func (r *Recorder) retry(fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= r.opts.Retries; attempt++ {
		if attempt > 0 {
			time.Sleep(r.opts.RetryDelay * time.Duration(attempt))
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.Timeout)
		err = fn(ctx)
		cancel()
		if err == nil {
			return nil
		}
	}
	return err
}
