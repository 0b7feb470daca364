// Package subproc runs external inference engines as child processes and
// hides process-spawn mechanics from providers. One-shot invocations run to
// completion and yield a single JSON document; streaming invocations keep
// the process alive and demultiplex newline-delimited JSON frames.
package subproc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/meetscribe/internal/metrics"
)

// Error carries diagnostics from a failed inference subprocess: the exit
// code and whatever the engine wrote to stderr. It is never swallowed;
// providers wrap it and surface it to the caller.
type Error struct {
	Cmd      string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("subprocess %s failed (exit %d)", e.Cmd, e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Envelope is the success/error wrapper every engine emits as part of its
// JSON output. Embed it in engine-specific result structs.
type Envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Check converts an engine-reported failure into a Go error.
func (e Envelope) Check() error {
	if e.Success {
		return nil
	}
	if e.Error == "" {
		return errors.New("engine reported failure without detail")
	}
	return errors.New(e.Error)
}

// RunJSON spawns one inference invocation, captures all of stdout, and on
// clean exit decodes it as a single JSON document into out. A non-zero exit
// or a JSON parse failure is an *Error carrying captured stderr.
func RunJSON(ctx context.Context, log zerolog.Logger, out any, bin string, args ...string) error {
	name := engineLabel(bin, args)
	metrics.SubprocessSpawnsTotal.WithLabelValues(name).Inc()

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	dur := time.Since(start)

	if runErr != nil {
		metrics.SubprocessFailuresTotal.WithLabelValues(name).Inc()
		code := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		log.Warn().Str("engine", name).Int("exit_code", code).Dur("duration_ms", dur).Msg("one-shot engine failed")
		return &Error{Cmd: name, ExitCode: code, Stderr: stderr.String(), Err: runErr}
	}

	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), out); err != nil {
		metrics.SubprocessFailuresTotal.WithLabelValues(name).Inc()
		return &Error{Cmd: name, Stderr: stderr.String(), Err: fmt.Errorf("parse engine output: %w", err)}
	}

	log.Debug().Str("engine", name).Dur("duration_ms", dur).Msg("one-shot engine complete")
	return nil
}

// engineLabel derives a low-cardinality metrics/log label from the command
// line: the script name when the binary is an interpreter, the binary name
// otherwise.
func engineLabel(bin string, args []string) string {
	base := filepath.Base(bin)
	if (strings.HasPrefix(base, "python") || base == "sh" || base == "bash") && len(args) > 0 {
		return filepath.Base(args[0])
	}
	return base
}
