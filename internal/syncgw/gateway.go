package syncgw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"backend-fieldtrack/internal/buffer"
	"backend-fieldtrack/internal/event"
)

// ErrRejected marks a non-retryable backend response (malformed event). The
// offending entries are dropped after MaxAttempts instead of clogging the
// buffer forever.
var ErrRejected = errors.New("syncgw: backend rejected batch")

type Config struct {
	URL         string
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
}

// Gateway drains the offline buffer to the backend persistence collaborator
// as idempotent JSON batches. It is the buffer's sole consumer.
type Gateway struct {
	cfg     Config
	buf     *buffer.Buffer
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[int]
	log     zerolog.Logger
}

func New(cfg Config, buf *buffer.Buffer, log zerolog.Logger) *Gateway {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	breaker := gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:    "backend-delivery",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Gateway{
		cfg:     cfg,
		buf:     buf,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: breaker,
		log:     log.With().Str("component", "syncgw").Logger(),
	}
}

// Run flushes on the configured interval until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.Flush(ctx); err != nil {
				g.log.Warn().Err(err).Msg("flush failed, events remain buffered")
			}
		}
	}
}

// Flush delivers buffered batches oldest-first until the buffer is empty or
// delivery fails. Entries are acked only after the backend responds 2xx, so
// a crash mid-flush redelivers rather than loses.
func (g *Gateway) Flush(ctx context.Context) error {
	for {
		entries, err := g.buf.Peek(g.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("peek buffer: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}

		err = g.deliverWithRetry(ctx, entries)
		switch {
		case err == nil:
			seqs := make([]int64, len(entries))
			for i, e := range entries {
				seqs[i] = e.Seq
			}
			if err := g.buf.Ack(seqs); err != nil {
				return fmt.Errorf("ack batch: %w", err)
			}
			g.log.Debug().Int("events", len(entries)).Msg("batch delivered")
		case errors.Is(err, ErrRejected):
			// The batch is tainted, not necessarily every event in it:
			// redeliver one at a time so only what the backend actually
			// rejects burns attempts.
			if ierr := g.deliverEach(ctx, entries); ierr != nil {
				return ierr
			}
			return err
		default:
			return err
		}
	}
}

// deliverEach retries a rejected batch entry by entry. Entries the backend
// accepts ack normally; only the ones it rejects again are quarantined.
func (g *Gateway) deliverEach(ctx context.Context, entries []buffer.Entry) error {
	for _, e := range entries {
		err := g.deliverWithRetry(ctx, []buffer.Entry{e})
		switch {
		case err == nil:
			if err := g.buf.Ack([]int64{e.Seq}); err != nil {
				return fmt.Errorf("ack entry: %w", err)
			}
		case errors.Is(err, ErrRejected):
			g.quarantine([]buffer.Entry{e})
		default:
			return err
		}
	}
	return nil
}

func (g *Gateway) deliverWithRetry(ctx context.Context, entries []buffer.Entry) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		err := g.deliver(ctx, entries)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrRejected) || errors.Is(err, gobreaker.ErrOpenState) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 3), ctx))
}

func (g *Gateway) deliver(ctx context.Context, entries []buffer.Entry) error {
	events := make([]event.SessionEvent, len(entries))
	for i, e := range entries {
		events[i] = e.Event
	}
	body, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	_, err = g.breaker.Execute(func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, bytes.NewReader(body))
		if err != nil {
			return 0, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.client.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp.StatusCode, nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return resp.StatusCode, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
		default:
			return resp.StatusCode, fmt.Errorf("backend status %d", resp.StatusCode)
		}
	})
	return err
}

// quarantine bumps attempt counts for rejected entries and drops the ones
// that exhausted their retries, with a diagnostic for the collaborator
// layer.
func (g *Gateway) quarantine(entries []buffer.Entry) {
	for _, e := range entries {
		if e.Attempts+1 >= g.cfg.MaxAttempts {
			if err := g.buf.Drop(e.Seq); err != nil {
				g.log.Error().Err(err).Int64("seq", e.Seq).Msg("drop rejected event")
				continue
			}
			g.log.Error().
				Str("event_id", e.Event.ID).
				Str("kind", string(e.Event.Kind)).
				Msg("event permanently rejected by backend, dropped")
			continue
		}
		if err := g.buf.Fail([]int64{e.Seq}); err != nil {
			g.log.Error().Err(err).Int64("seq", e.Seq).Msg("record rejection")
		}
	}
}
