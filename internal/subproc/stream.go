package subproc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/meetscribe/internal/metrics"
)

// ErrStreamClosed is returned by Write after the stream has been closed.
var ErrStreamClosed = errors.New("stream closed")

// maxFrameBytes bounds a single newline-delimited JSON frame from an engine.
const maxFrameBytes = 1 << 20

// Message is one newline-delimited JSON frame emitted by a streaming engine.
type Message struct {
	Envelope
	Type   string `json:"type"` // interim | partial | final
	Status string `json:"status,omitempty"`
	Text   string `json:"text,omitempty"`
	Result []Word `json:"result,omitempty"`
}

// Word is a timestamped word from a streaming recognition frame.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Conf  float64 `json:"conf,omitempty"`
}

// StreamOptions configures a persistent streaming engine process.
type StreamOptions struct {
	// ReadyTimeout bounds the wait for the engine's ready handshake.
	ReadyTimeout time.Duration
	// StopGrace bounds the wait for a clean exit after stdin is closed;
	// the process is force-killed when it elapses.
	StopGrace time.Duration
	Log       zerolog.Logger
}

// Stream is a persistent inference process fed raw audio on stdin and read
// incrementally on stdout. Frames are demultiplexed by splitting on newline;
// a trailing partial line is buffered across reads. Exactly one goroutine
// may call Write at a time — providers serialize their own senders.
type Stream struct {
	name string
	opts StreamOptions
	cmd  *exec.Cmd

	stdin  io.WriteCloser
	msgs   chan Message
	ready  chan error
	exited chan struct{} // closed once the process is reaped
	stderr *tailBuffer

	writeMu   sync.Mutex
	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error

	waitErr error // valid after exited is closed
}

// StartStream spawns a streaming engine and waits for its ready handshake:
// the first stdout frame, which for the local engines is
// {"success":true,"status":"ready"}. An engine that streams results
// immediately passes the handshake with its first result frame.
func StartStream(ctx context.Context, opts StreamOptions, bin string, args ...string) (*Stream, error) {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 30 * time.Second
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 5 * time.Second
	}

	name := engineLabel(bin, args)
	cmd := exec.Command(bin, args...)
	// Engines may spawn helpers of their own; run the whole tree in its own
	// process group so a forced kill cannot orphan grandchildren holding the
	// output pipe open.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = 5 * time.Second

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr := &tailBuffer{limit: 8 << 10}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", name, err)
	}
	metrics.SubprocessSpawnsTotal.WithLabelValues(name).Inc()

	s := &Stream{
		name:   name,
		opts:   opts,
		cmd:    cmd,
		stdin:  stdin,
		msgs:   make(chan Message, 64),
		ready:  make(chan error, 1),
		exited: make(chan struct{}),
		stderr: stderr,
	}
	go s.readLoop(stdout)

	select {
	case err := <-s.ready:
		if err != nil {
			s.kill()
			return nil, &Error{Cmd: name, Stderr: stderr.String(), Err: fmt.Errorf("engine startup: %w", err)}
		}
	case <-time.After(opts.ReadyTimeout):
		s.kill()
		return nil, &Error{Cmd: name, Stderr: stderr.String(), Err: errors.New("engine ready timeout")}
	case <-ctx.Done():
		s.kill()
		return nil, ctx.Err()
	}

	opts.Log.Debug().Str("engine", name).Msg("streaming engine ready")
	return s, nil
}

// readLoop decodes frames until stdout closes, then reaps the process.
func (s *Stream) readLoop(stdout io.Reader) {
	sawFrame := false

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64<<10), maxFrameBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			s.opts.Log.Warn().Str("engine", s.name).Err(err).Msg("malformed engine frame")
			msg = Message{Envelope: Envelope{Success: false, Error: fmt.Sprintf("malformed frame: %v", err)}}
		}

		if !sawFrame {
			sawFrame = true
			s.ready <- msg.Check()
			if msg.Status == "ready" || msg.Check() != nil {
				continue
			}
		}
		s.msgs <- msg
	}

	close(s.msgs)
	err := s.cmd.Wait()
	s.waitErr = err
	close(s.exited)

	if !sawFrame {
		readyErr := err
		if readyErr == nil {
			readyErr = errors.New("engine exited before first frame")
		}
		s.ready <- readyErr
	}
	if !s.closing.Load() {
		metrics.SubprocessFailuresTotal.WithLabelValues(s.name).Inc()
		s.opts.Log.Warn().Str("engine", s.name).Err(err).Msg("streaming engine exited unexpectedly")
	}
}

// Messages returns the frame channel. It is closed when the engine's stdout
// closes, whether by a clean stop or a crash; check Err afterwards.
func (s *Stream) Messages() <-chan Message { return s.msgs }

// Write delivers one audio chunk to the engine's stdin. Chunks from a
// session must arrive through a single logical writer; concurrent calls are
// serialized, never interleaved.
func (s *Stream) Write(chunk []byte) error {
	if s.closing.Load() {
		return ErrStreamClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closing.Load() {
		return ErrStreamClosed
	}
	if _, err := s.stdin.Write(chunk); err != nil {
		return fmt.Errorf("write to %s: %w", s.name, err)
	}
	return nil
}

// Close signals end-of-input by closing stdin, waits up to the stop grace
// period for a clean exit, and force-kills the process otherwise. It is
// mandatory on every stop path and safe to call more than once.
func (s *Stream) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.stdin.Close()

		timer := time.NewTimer(s.opts.StopGrace)
		defer timer.Stop()
		select {
		case <-s.exited:
			if s.waitErr != nil {
				s.closeErr = &Error{Cmd: s.name, ExitCode: exitCode(s.waitErr), Stderr: s.stderr.String(), Err: s.waitErr}
			}
		case <-timer.C:
			s.opts.Log.Warn().Str("engine", s.name).Dur("grace", s.opts.StopGrace).Msg("engine did not exit in grace period, killing")
			s.kill()
			<-s.exited
		case <-ctx.Done():
			s.kill()
			<-s.exited
			s.closeErr = ctx.Err()
		}
	})
	return s.closeErr
}

// Err reports how the process ended: nil while it is still running or after
// a caller-initiated Close, and an *Error with captured stderr after a
// crash or unexpected exit.
func (s *Stream) Err() error {
	select {
	case <-s.exited:
	default:
		return nil
	}
	if s.closing.Load() {
		return nil
	}
	err := s.waitErr
	if err == nil {
		err = errors.New("engine exited unexpectedly")
	}
	return &Error{Cmd: s.name, ExitCode: exitCode(s.waitErr), Stderr: s.stderr.String(), Err: err}
}

func (s *Stream) kill() {
	if s.cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-s.cmd.Process.Pid, syscall.SIGKILL); err != nil {
		_ = s.cmd.Process.Kill()
	}
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if err == nil {
		return 0
	}
	return -1
}

// tailBuffer retains the last limit bytes written to it. Engines log
// verbose progress to stderr; only the tail is useful in diagnostics.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
