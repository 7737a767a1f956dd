// SPDX-License-Identifier: MIT

// Package pipeline contains the coordinator: the single control loop that
// pulls decoded lines from the supervised decoder chain, parses them into
// records, and publishes them to the broker. All failure handling lives
// here; the leaf components report errors and the coordinator decides.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/caelyn-nl/pagerstream/internal/audit"
	"github.com/caelyn-nl/pagerstream/internal/decoder"
	"github.com/caelyn-nl/pagerstream/internal/log"
	"github.com/caelyn-nl/pagerstream/internal/metrics"
	"github.com/caelyn-nl/pagerstream/internal/record"
)

// bannerPrefix marks multimon-ng's startup banner line, which is not a
// decoded message and is discarded.
const bannerPrefix = "Enabled demodulators:"

// LineSource is the decoder chain as the coordinator sees it. ReadLine
// blocks for at most the source's poll interval and returns
// decoder.ErrNoData when the stream is merely idle.
type LineSource interface {
	Start() error
	ReadLine() (string, error)
	StderrTail(n int) []string
	Stop()
}

// RecordPublisher is the broker connection as the coordinator sees it.
type RecordPublisher interface {
	Publish(ctx context.Context, body []byte) error
	Close()
}

// Config tunes the restart policy.
type Config struct {
	// BackoffUnit and BackoffCap shape the restart delay:
	// min(BackoffCap, failures*BackoffUnit), monotone and capped.
	BackoffUnit time.Duration
	BackoffCap  time.Duration
}

// Deps wires the coordinator's collaborators. NewSource and Connect are
// factories because the coordinator recreates both sides on every cycle;
// a session's resources are never reused across restarts.
type Deps struct {
	NewSource func() LineSource
	Connect   func(ctx context.Context) (RecordPublisher, error)
	Sink      *audit.Sink
	Logger    zerolog.Logger
}

// Coordinator drives the CONNECTING -> RUNNING -> FAILED cycle until the
// context is cancelled.
type Coordinator struct {
	cfg  Config
	deps Deps

	state    atomic.Value // State
	failures int
}

// New builds a Coordinator. Deps.Logger is required; pass zerolog.Nop()
// to silence it.
func New(cfg Config, deps Deps) *Coordinator {
	c := &Coordinator{cfg: cfg, deps: deps}
	c.state.Store(StateConnecting)
	return c
}

// State reports the current lifecycle state. Safe from other goroutines;
// the ops readiness probe reads it.
func (c *Coordinator) State() State {
	return c.state.Load().(State)
}

func (c *Coordinator) setState(s State) {
	old := c.State()
	if old == s {
		return
	}
	c.state.Store(s)
	c.deps.Logger.Info().
		Str(log.FieldEvent, "pipeline.state").
		Str(log.FieldOldState, string(old)).
		Str(log.FieldNewState, string(s)).
		Int(log.FieldFailures, c.failures).
		Msg("pipeline state changed")
}

// Backoff computes the restart delay for the given consecutive-failure
// count: min(cap, failures*unit).
func (c *Coordinator) Backoff(failures int) time.Duration {
	d := time.Duration(failures) * c.cfg.BackoffUnit
	if d > c.cfg.BackoffCap {
		return c.cfg.BackoffCap
	}
	return d
}

// Run executes the coordinator loop until ctx is cancelled. It always
// returns nil on orderly shutdown; the process-level caller treats any
// error as fatal, and the whole point of this loop is that pipeline
// failures are never fatal.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			c.shutdown(nil, nil)
			return nil
		}

		c.setState(StateConnecting)
		c.deps.Sink.WriteEvent("pipeline.connecting", nil)

		pub, err := c.deps.Connect(ctx)
		if err != nil {
			// Connect only fails when shutdown was requested mid-retry.
			c.shutdown(nil, nil)
			return nil
		}

		src := c.deps.NewSource()
		if err := src.Start(); err != nil {
			c.deps.Logger.Error().
				Err(err).
				Str(log.FieldEvent, "decoder.start_failed").
				Msg("decoder pipeline failed to start")
			if c.fail(ctx, "stream_error", src, pub) {
				c.shutdown(nil, nil)
				return nil
			}
			continue
		}

		c.setState(StateRunning)
		if c.run(ctx, src, pub) {
			c.shutdown(src, pub)
			return nil
		}
		// run returned because of a failure; fail() already handled
		// teardown and backoff, loop back to CONNECTING.
	}
}

// run is the RUNNING state. It returns true when shutdown was requested
// and false when the cycle failed and must restart.
func (c *Coordinator) run(ctx context.Context, src LineSource, pub RecordPublisher) bool {
	for {
		if ctx.Err() != nil {
			return true
		}

		line, err := src.ReadLine()
		if err != nil {
			if errors.Is(err, decoder.ErrNoData) {
				// Bursty stream, legitimately idle. ReadLine already
				// waited one poll interval; just go around.
				continue
			}
			c.deps.Logger.Error().
				Err(err).
				Str(log.FieldEvent, "decoder.stream_failed").
				Strs("stderr_tail", src.StderrTail(20)).
				Msg("decoder stream failed")
			return c.fail(ctx, "stream_error", src, pub)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			metrics.LinesDiscarded.WithLabelValues("blank").Inc()
			continue
		}
		if strings.HasPrefix(line, bannerPrefix) {
			metrics.LinesDiscarded.WithLabelValues("banner").Inc()
			continue
		}

		rec := record.Parse(line)
		shape := "fallback"
		if record.Fielded(line) {
			shape = "fielded"
		}
		metrics.LinesParsed.WithLabelValues(shape).Inc()

		body, err := json.Marshal(rec)
		if err != nil {
			// A Record contains nothing unmarshalable; treat as a bug,
			// drop the line rather than the pipeline.
			c.deps.Logger.Error().
				Err(err).
				Str(log.FieldRecordID, rec.ID).
				Msg("record serialization failed")
			continue
		}

		c.deps.Logger.Info().
			Str(log.FieldEvent, "record.received").
			Str(log.FieldRecordID, rec.ID).
			RawJSON("record", body).
			Msg("record received")
		c.deps.Sink.WriteRecord(body)

		if err := pub.Publish(ctx, body); err != nil {
			// Presumptive connection loss: no further reads on a
			// connection already known broken.
			c.deps.Logger.Error().
				Err(err).
				Str(log.FieldEvent, "publish.failed").
				Str(log.FieldRecordID, rec.ID).
				Msg("publish failed, restarting pipeline")
			return c.fail(ctx, "publish_error", src, pub)
		}

		// A record made it through end to end; the failure streak is over.
		c.failures = 0
	}
}

// fail is the FAILED state: tear down both sides together, back off, and
// hand control back to the connect cycle. Returns true when shutdown was
// requested during the backoff sleep.
func (c *Coordinator) fail(ctx context.Context, trigger string, src LineSource, pub RecordPublisher) bool {
	c.setState(StateFailed)
	c.failures++
	metrics.PipelineRestarts.WithLabelValues(trigger).Inc()

	if src != nil {
		src.Stop()
	}
	if pub != nil {
		pub.Close()
	}

	delay := c.Backoff(c.failures)
	c.deps.Logger.Warn().
		Str(log.FieldEvent, "pipeline.restart").
		Str("trigger", trigger).
		Int(log.FieldFailures, c.failures).
		Dur(log.FieldBackoff, delay).
		Msg("pipeline restarting after failure")
	c.deps.Sink.WriteEvent("pipeline.restart", map[string]string{
		"trigger": trigger,
		"backoff": delay.String(),
	})

	select {
	case <-ctx.Done():
		return true
	case <-time.After(delay):
		return false
	}
}

// shutdown is the STOPPED state: terminate the decoder pair and close the
// broker connection if either is still open, then leave the loop.
func (c *Coordinator) shutdown(src LineSource, pub RecordPublisher) {
	c.setState(StateStopped)
	if src != nil {
		src.Stop()
	}
	if pub != nil {
		pub.Close()
	}
	c.deps.Sink.WriteEvent("pipeline.stopped", nil)
	c.deps.Logger.Info().
		Str(log.FieldEvent, "pipeline.stopped").
		Msg("pipeline stopped")
}
