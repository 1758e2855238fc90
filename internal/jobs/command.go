package jobs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/YoshitsuguKoike/quotacycle/internal/application/port/output"
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/jobexec"
)

// CommandConfig controls how external step commands are run
type CommandConfig struct {
	Dir           string        // Working directory; empty uses the process's
	Env           []string      // Extra KEY=VALUE entries appended to the environment
	QuotaExitCode int           // Exit code a command uses to report quota exhaustion; 0 disables
	StderrTail    int           // Stderr lines kept for the failure message
	WaitDelay     time.Duration // Grace period after cancellation before the process is killed
}

// DefaultCommandConfig returns default command settings
func DefaultCommandConfig() CommandConfig {
	return CommandConfig{
		QuotaExitCode: 75,
		StderrTail:    20,
		WaitDelay:     10 * time.Second,
	}
}

// CommandResult is stored as the record's result
type CommandResult struct {
	ExitCode    int `json:"exitCode"`
	OutputLines int `json:"outputLines"`
}

// QuotaExitError is returned when a command exits with the quota exit code
type QuotaExitError struct {
	Command string
	Stderr  string
}

func (e *QuotaExitError) Error() string {
	return fmt.Sprintf("%s reported quota exhaustion: %s", e.Command, e.Stderr)
}

// StatusCode maps the exit to 402 so the quota classifier recognises it
func (e *QuotaExitError) StatusCode() int {
	return http.StatusPaymentRequired
}

// CommandJob returns a job that runs argv through queue. Stdout lines of the
// form "progress <fraction>" report progress, other stdout lines are info logs
// and stderr lines are warnings.
func CommandJob(argv []string, queue output.APIQueue, config CommandConfig) output.JobFunc {
	argv = append([]string(nil), argv...)
	return func(ctx context.Context, jc output.JobContext) (any, error) {
		if len(argv) == 0 {
			return nil, errors.New("command job has no program")
		}

		var result *CommandResult
		run := func(ctx context.Context) error {
			var err error
			result, err = runCommand(ctx, argv, jc, config)
			return err
		}

		var err error
		if queue != nil {
			err = queue.Do(ctx, run)
		} else {
			err = run(ctx)
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

func runCommand(ctx context.Context, argv []string, jc output.JobContext, config CommandConfig) (*CommandResult, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = config.Dir
	if len(config.Env) > 0 {
		cmd.Env = append(cmd.Environ(), config.Env...)
	}
	cmd.WaitDelay = config.WaitDelay

	// Wait copies into these pipes and is bounded by WaitDelay
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}
	jc.AppendLog(fmt.Sprintf("started %s", strings.Join(argv, " ")), jobexec.LogLevelInfo)

	tail := newLineTail(config.StderrTail)
	lines := 0

	var g errgroup.Group
	g.Go(func() error {
		return scanLines(stdoutR, func(line string) {
			lines++
			if fraction, ok := parseProgress(line); ok {
				jc.Progress(fraction)
				return
			}
			jc.AppendLog(line, jobexec.LogLevelInfo)
		})
	})
	g.Go(func() error {
		return scanLines(stderrR, func(line string) {
			tail.add(line)
			jc.AppendLog(line, jobexec.LogLevelWarn)
		})
	})
	waitErr := cmd.Wait()
	stdoutW.Close()
	stderrW.Close()
	readErr := g.Wait()

	if ctx.Err() != nil {
		return nil, context.Cause(ctx)
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code := exitErr.ExitCode()
		if config.QuotaExitCode != 0 && code == config.QuotaExitCode {
			return nil, &QuotaExitError{Command: argv[0], Stderr: tail.String()}
		}
		return nil, fmt.Errorf("%s exited with code %d: %s", argv[0], code, tail.String())
	}
	if waitErr != nil {
		return nil, fmt.Errorf("wait %s: %w", argv[0], waitErr)
	}
	if readErr != nil {
		return nil, fmt.Errorf("read output of %s: %w", argv[0], readErr)
	}

	jc.AppendLog(fmt.Sprintf("%s completed", argv[0]), jobexec.LogLevelInfo)
	return &CommandResult{ExitCode: 0, OutputLines: lines}, nil
}

// parseProgress recognises "progress <fraction>" lines
func parseProgress(line string) (float64, bool) {
	fields := strings.Fields(line)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "progress") {
		return 0, false
	}
	fraction, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, false
	}
	return fraction, true
}

func scanLines(r io.Reader, fn func(line string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fn(line)
	}
	if err := scanner.Err(); err != nil {
		// keep the writer unblocked
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}

// lineTail keeps the last n lines written to it
type lineTail struct {
	mu    sync.Mutex
	n     int
	lines []string
}

func newLineTail(n int) *lineTail {
	if n <= 0 {
		n = 1
	}
	return &lineTail{n: n}
}

func (t *lineTail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *lineTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
