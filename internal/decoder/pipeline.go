// SPDX-License-Identifier: MIT

// Package decoder supervises the external radio decoding chain: an FM
// demodulator (rtl_fm) piped into a pager protocol decoder (multimon-ng).
// The decoder's stdout is exposed as a line stream; both processes are
// always started and torn down together.
package decoder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/caelyn-nl/pagerstream/internal/log"
	"github.com/caelyn-nl/pagerstream/internal/metrics"
	"github.com/caelyn-nl/pagerstream/internal/procgroup"
	"golang.org/x/sync/errgroup"
)

// ErrNoData reports that no decoded line arrived within the poll interval.
// The signal stream is intrinsically bursty, so this is not a failure.
var ErrNoData = errors.New("decoder: no data within poll interval")

// ErrStreamClosed reports that the decoder's stdout ended. A pipe only
// closes when the process behind it exited, so this is fatal and the whole
// chain must be restarted.
var ErrStreamClosed = errors.New("decoder: output stream closed")

// Config carries the fixed startup parameters of the two external tools.
type Config struct {
	RTLFMBin   string
	Frequency  string
	SampleRate int
	Gain       int

	MultimonBin string
	Protocol    string

	PollInterval time.Duration
	KillGrace    time.Duration
}

// Pipeline owns one demodulator/decoder process pair and the pipe between
// them. It is single-use: after Stop, build a new one.
type Pipeline struct {
	cfg Config

	rtl      *exec.Cmd
	multimon *exec.Cmd

	rtlWait      chan error
	multimonWait chan error

	lineCh  chan string
	readErr chan error

	stderr   *LineRing
	stopOnce sync.Once
}

// New builds an unstarted Pipeline from config.
func New(cfg Config) *Pipeline {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 2 * time.Second
	}
	return &Pipeline{
		cfg:          cfg,
		rtlWait:      make(chan error, 1),
		multimonWait: make(chan error, 1),
		lineCh:       make(chan string, 64),
		readErr:      make(chan error, 1),
		stderr:       NewLineRing(128),
	}
}

// Start spawns both processes, wires rtl_fm's stdout into multimon-ng's
// stdin, and begins draining multimon-ng's stdout into the line channel.
// Both are process-group leaders so Stop can reap their whole trees.
func (p *Pipeline) Start() error {
	logger := log.WithComponent("decoder")

	rtlArgs := []string{
		"-f", p.cfg.Frequency,
		"-M", "fm",
		"-s", strconv.Itoa(p.cfg.SampleRate),
		"-g", strconv.Itoa(p.cfg.Gain),
	}
	multimonArgs := []string{
		"-a", p.cfg.Protocol,
		"-t", "raw",
		"-q",
		"-",
	}

	p.rtl = exec.Command(p.cfg.RTLFMBin, rtlArgs...)              // #nosec G204
	p.multimon = exec.Command(p.cfg.MultimonBin, multimonArgs...) // #nosec G204
	procgroup.Set(p.rtl)
	procgroup.Set(p.multimon)

	audio, err := p.rtl.StdoutPipe()
	if err != nil {
		metrics.IncDecoderStart(false)
		return fmt.Errorf("demodulator stdout pipe: %w", err)
	}
	p.multimon.Stdin = audio

	out, err := p.multimon.StdoutPipe()
	if err != nil {
		metrics.IncDecoderStart(false)
		return fmt.Errorf("decoder stdout pipe: %w", err)
	}

	// Both stderrs land in the shared ring; they are never forwarded.
	p.rtl.Stderr = p.stderr
	p.multimon.Stderr = p.stderr

	logger.Info().
		Str(log.FieldEvent, "decoder.start").
		Str(log.FieldFrequency, p.cfg.Frequency).
		Str(log.FieldProtocol, p.cfg.Protocol).
		Str(log.FieldCommand, p.rtl.String()+" | "+p.multimon.String()).
		Msg("starting decoder pipeline")

	if err := p.rtl.Start(); err != nil {
		metrics.IncDecoderStart(false)
		return fmt.Errorf("demodulator start: %w", err)
	}
	if err := p.multimon.Start(); err != nil {
		_ = procgroup.Kill(p.rtl, syscall.SIGKILL)
		_ = p.rtl.Wait()
		// The demodulator is reaped right here and its wait channel is
		// never armed; clear both so a later Stop has nothing to wait on.
		p.rtl, p.multimon = nil, nil
		metrics.IncDecoderStart(false)
		return fmt.Errorf("decoder start: %w", err)
	}

	go func() { p.rtlWait <- p.rtl.Wait() }()
	go func() { p.multimonWait <- p.multimon.Wait() }()

	go p.drain(out)

	metrics.IncDecoderStart(true)
	logger.Debug().
		Str(log.FieldEvent, "decoder.started").
		Int(log.FieldPID, p.multimon.Process.Pid).
		Msg("decoder pipeline running")
	return nil
}

// drain pumps decoded lines into the channel until the stream ends.
func (p *Pipeline) drain(out io.Reader) {
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		p.lineCh <- scanner.Text()
	}
	// Wait closes the stdout pipe when the process exits, so a closed-file
	// error is the same condition as a clean EOF: the stream is gone.
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		p.readErr <- fmt.Errorf("decoder stream: %w", err)
	} else {
		p.readErr <- ErrStreamClosed
	}
	close(p.lineCh)
}

// ReadLine returns the next decoded line. When no line arrives within the
// poll interval it returns ErrNoData; the caller pauses and retries. A
// closed or broken stream returns a fatal error and the pipeline is done.
func (p *Pipeline) ReadLine() (string, error) {
	select {
	case line, ok := <-p.lineCh:
		if !ok {
			err := <-p.readErr
			p.readErr <- err // keep the final error for repeated calls
			return "", err
		}
		return line, nil
	case <-time.After(p.cfg.PollInterval):
		return "", ErrNoData
	}
}

// StderrTail returns the last n stderr lines of both tools, for diagnostics
// after a failure.
func (p *Pipeline) StderrTail(n int) []string {
	return p.stderr.LastN(n)
}

// Stop terminates both process groups. The demodulator goes first to cut
// the decoder's input, mirroring the data flow. Idempotent, and safe to
// call on pipelines that never started or already died: each wait channel
// carries exactly one result, so teardown must run at most once.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(p.stop)
}

func (p *Pipeline) stop() {
	logger := log.WithComponent("decoder")

	g := new(errgroup.Group)
	if p.rtl != nil && p.rtl.Process != nil {
		g.Go(func() error {
			_ = procgroup.Terminate(p.rtl, p.rtlWait, p.cfg.KillGrace)
			return nil
		})
	}
	drainStarted := p.multimon != nil && p.multimon.Process != nil
	if drainStarted {
		g.Go(func() error {
			_ = procgroup.Terminate(p.multimon, p.multimonWait, p.cfg.KillGrace)
			return nil
		})
	}
	_ = g.Wait()

	if drainStarted {
		// Release the drain goroutine if it is parked on a full line
		// channel; nobody reads lines from a stopped pipeline.
		go func() {
			for range p.lineCh {
			}
		}()
	}

	logger.Debug().
		Str(log.FieldEvent, "decoder.stop").
		Msg("decoder pipeline stopped")
}
