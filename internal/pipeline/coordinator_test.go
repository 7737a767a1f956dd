// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caelyn-nl/pagerstream/internal/decoder"
)

// fakeSource replays a scripted sequence of lines and errors. Once the
// script is exhausted it reports an idle stream.
type fakeSource struct {
	mu      sync.Mutex
	script  []readResult
	stopped bool
}

type readResult struct {
	line string
	err  error
}

func (f *fakeSource) Start() error { return nil }

func (f *fakeSource) ReadLine() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.script) == 0 {
		// Simulate the real source's bounded poll wait.
		time.Sleep(time.Millisecond)
		return "", decoder.ErrNoData
	}
	next := f.script[0]
	f.script = f.script[1:]
	return next.line, next.err
}

func (f *fakeSource) StderrTail(int) []string { return nil }

func (f *fakeSource) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeSource) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// fakePublisher records published bodies and can fail on demand.
type fakePublisher struct {
	mu        sync.Mutex
	published [][]byte
	failNext  bool
	closed    bool
}

func (f *fakePublisher) Publish(_ context.Context, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("channel/connection is not open")
	}
	f.published = append(f.published, body)
	return nil
}

func (f *fakePublisher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakePublisher) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakePublisher) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func testConfig() Config {
	return Config{BackoffUnit: 5 * time.Millisecond, BackoffCap: 20 * time.Millisecond}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestRecordsFlowEndToEnd(t *testing.T) {
	src := &fakeSource{script: []readResult{
		{line: "Enabled demodulators: FLEX"},
		{line: "   "},
		{line: "FLEX|2024-01-01 12:00:00|001000000|ALN|1234567|A1 B1|Test message body"},
	}}
	pub := &fakePublisher{}

	c := New(testConfig(), Deps{
		NewSource: func() LineSource { return src },
		Connect:   func(context.Context) (RecordPublisher, error) { return pub, nil },
		Logger:    zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, func() bool { return pub.publishedCount() == 1 }, "record never published")
	cancel()
	require.NoError(t, <-done)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(pub.published[0], &wire))
	data := wire["data"].(map[string]any)
	assert.Equal(t, "A1 B1|Test message body", data["message"])
	assert.Equal(t, "A1", data["prio"])

	// Banner and blank lines were discarded, never published.
	assert.Equal(t, 1, pub.publishedCount())

	assert.Equal(t, StateStopped, c.State())
	assert.True(t, src.isStopped())
	assert.True(t, pub.isClosed())
}

func TestPublishFailureRestartsWholePipeline(t *testing.T) {
	line := readResult{line: "FLEX|ts|0|ALN|123|msg|tail"}

	firstSrc := &fakeSource{script: []readResult{line}}
	secondSrc := &fakeSource{script: []readResult{line}}
	firstPub := &fakePublisher{failNext: true}
	secondPub := &fakePublisher{}

	var mu sync.Mutex
	cycle := 0

	c := New(testConfig(), Deps{
		NewSource: func() LineSource {
			mu.Lock()
			defer mu.Unlock()
			if cycle == 1 {
				return firstSrc
			}
			return secondSrc
		},
		Connect: func(context.Context) (RecordPublisher, error) {
			mu.Lock()
			defer mu.Unlock()
			cycle++
			if cycle == 1 {
				return firstPub, nil
			}
			return secondPub, nil
		},
		Logger: zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, func() bool { return secondPub.publishedCount() == 1 }, "second cycle never published")
	cancel()
	require.NoError(t, <-done)

	// The failed cycle tore down both sides together.
	assert.True(t, firstSrc.isStopped())
	assert.True(t, firstPub.isClosed())
	assert.Zero(t, firstPub.publishedCount())

	mu.Lock()
	assert.Equal(t, 2, cycle, "a fresh broker connection per cycle")
	mu.Unlock()
}

func TestStreamErrorRestartsWholePipeline(t *testing.T) {
	firstSrc := &fakeSource{script: []readResult{
		{err: decoder.ErrStreamClosed},
	}}
	secondSrc := &fakeSource{script: []readResult{
		{line: "FLEX|ts|0|ALN|123|msg|tail"},
	}}
	pub := &fakePublisher{}

	var mu sync.Mutex
	cycle := 0

	c := New(testConfig(), Deps{
		NewSource: func() LineSource {
			mu.Lock()
			defer mu.Unlock()
			cycle++
			if cycle == 1 {
				return firstSrc
			}
			return secondSrc
		},
		Connect: func(context.Context) (RecordPublisher, error) {
			return pub, nil
		},
		Logger: zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, func() bool { return pub.publishedCount() == 1 }, "never recovered from stream error")
	cancel()
	require.NoError(t, <-done)

	assert.True(t, firstSrc.isStopped())
}

func TestFailureCounterResetsAfterSuccessfulPublish(t *testing.T) {
	src := &fakeSource{script: []readResult{
		{line: "FLEX|ts|0|ALN|123|msg|tail"},
	}}
	pub := &fakePublisher{}

	c := New(testConfig(), Deps{
		NewSource: func() LineSource { return src },
		Connect:   func(context.Context) (RecordPublisher, error) { return pub, nil },
		Logger:    zerolog.Nop(),
	})
	c.failures = 7

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, func() bool { return pub.publishedCount() == 1 }, "record never published")
	cancel()
	require.NoError(t, <-done)

	assert.Zero(t, c.failures)
}

func TestShutdownDuringConnectRetry(t *testing.T) {
	c := New(testConfig(), Deps{
		NewSource: func() LineSource { return &fakeSource{} },
		Connect: func(ctx context.Context) (RecordPublisher, error) {
			// Broker never reachable; block until shutdown like the real
			// connect loop does.
			<-ctx.Done()
			return nil, ctx.Err()
		},
		Logger: zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, StateConnecting, c.State())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after shutdown request")
	}
	assert.Equal(t, StateStopped, c.State())
}

func TestShutdownDuringBackoffSleep(t *testing.T) {
	cfg := Config{BackoffUnit: 10 * time.Second, BackoffCap: 30 * time.Second}
	src := &fakeSource{script: []readResult{
		{err: decoder.ErrStreamClosed},
	}}
	pub := &fakePublisher{}

	c := New(cfg, Deps{
		NewSource: func() LineSource { return src },
		Connect:   func(context.Context) (RecordPublisher, error) { return pub, nil },
		Logger:    zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, func() bool { return c.State() == StateFailed }, "never entered failed state")

	start := time.Now()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not exit during backoff sleep")
	}
	assert.Less(t, time.Since(start), time.Second, "shutdown must not wait out the backoff")
}

func TestBackoffIsMonotoneAndCapped(t *testing.T) {
	c := New(Config{BackoffUnit: 3 * time.Second, BackoffCap: 30 * time.Second}, Deps{Logger: zerolog.Nop()})

	var prev time.Duration
	for n := 1; n <= 20; n++ {
		d := c.Backoff(n)
		assert.GreaterOrEqual(t, d, prev, "backoff must be non-decreasing")
		assert.LessOrEqual(t, d, 30*time.Second, "backoff must be capped")
		prev = d
	}

	assert.Equal(t, 3*time.Second, c.Backoff(1))
	assert.Equal(t, 15*time.Second, c.Backoff(5))
	assert.Equal(t, 30*time.Second, c.Backoff(10))
	assert.Equal(t, 30*time.Second, c.Backoff(1000))
}
