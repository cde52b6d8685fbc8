// Package sevenzip drives the 7-Zip command-line program.
package sevenzip

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultCandidates are the executable names tried by Locate, in order.
var DefaultCandidates = []string{"7zz", "7z", "7za"}

// ErrNotFound is returned by Locate when no 7-Zip executable is on PATH.
var ErrNotFound = errors.New("sevenzip: executable not found")

// Invocation is a single 7-Zip command line.
type Invocation struct {
	// Args are the arguments after the program name, e.g. ["a", "-tzip", ...].
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// OnPercent receives completion percentages parsed from -bsp1 output.
	OnPercent func(percent int)
}

// Commander runs 7-Zip invocations.
type Commander interface {
	Run(ctx context.Context, inv Invocation) error
}

// ExitError reports a non-zero 7-Zip exit status.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("7-zip exited with status %d", e.Code)
	}
	return fmt.Sprintf("7-zip exited with status %d: %s", e.Code, e.Stderr)
}

// Locate searches PATH for the first available candidate.
// An explicit path is returned unchanged if it resolves.
func Locate(candidates ...string) (string, error) {
	if len(candidates) == 0 {
		candidates = DefaultCandidates
	}
	for _, name := range candidates {
		if name == "" {
			continue
		}
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w (tried %s)", ErrNotFound, strings.Join(candidates, ", "))
}

// Exec runs the 7-Zip executable at Path as a child process.
type Exec struct {
	Path   string
	Logger *slog.Logger

	// WaitDelay bounds how long Run waits for output pipes after the process
	// is killed on context cancellation.
	WaitDelay time.Duration
}

// NewExec returns an Exec for the executable at path.
func NewExec(path string, logger *slog.Logger) *Exec {
	return &Exec{Path: path, Logger: logger, WaitDelay: 5 * time.Second}
}

// log returns the logger, falling back to a discard logger if nil.
func (e *Exec) log() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.Logger
}

// stderrLimit caps how much stderr is kept for error messages.
const stderrLimit = 4 << 10

// Run executes inv and blocks until the process exits. Cancelling ctx kills
// the process.
func (e *Exec) Run(ctx context.Context, inv Invocation) error {
	cmd := exec.CommandContext(ctx, e.Path, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.WaitDelay = e.WaitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("sevenzip: stdout pipe: %w", err)
	}
	stderr := &tailBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	e.log().Debug("running 7-zip", "path", e.Path, "dir", inv.Dir, "args", redact(inv.Args))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("sevenzip: start: %w", err)
	}

	scanErr := ScanPercent(stdout, inv.OnPercent)
	// Keep draining so the child never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, stdout) //nolint:errcheck // drained output is unused
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return &ExitError{Code: exitErr.ExitCode(), Stderr: strings.TrimSpace(stderr.String())}
		}
		return fmt.Errorf("sevenzip: wait: %w", waitErr)
	}
	if scanErr != nil && !errors.Is(scanErr, io.ErrClosedPipe) {
		e.log().Debug("7-zip output scan ended early", "error", scanErr)
	}
	return nil
}

var percentPattern = regexp.MustCompile(`(\d{1,3})%`)

// ScanPercent reads 7-Zip -bsp1 output and reports each percentage found.
// 7-Zip rewrites its progress line with backspaces and carriage returns, so
// those are treated as line breaks.
func ScanPercent(r io.Reader, onPercent func(int)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 64<<10)
	sc.Split(splitProgress)
	for sc.Scan() {
		if onPercent == nil {
			continue
		}
		m := percentPattern.FindSubmatch(sc.Bytes())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(string(m[1]))
		if err != nil || n > 100 {
			continue
		}
		onPercent(n)
	}
	return sc.Err()
}

func splitProgress(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n\b"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// redact hides password switches from logged argument lists.
func redact(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if strings.HasPrefix(a, "-p") && len(a) > 2 {
			out[i] = "-p***"
			continue
		}
		out[i] = a
	}
	return out
}

// tailBuffer keeps the last limit bytes written to it.
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
