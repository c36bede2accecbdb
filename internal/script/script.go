// Package script runs user-supplied capture and post-process scripts.
//
// Scripts are executed directly, never through a shell. Each one reads the
// previous stage's output on stdin and writes its own output to stdout, so a
// list of scripts composes into a byte-stream pipeline.
package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
)

// DefaultTimeout bounds a single script invocation.
const DefaultTimeout = 5 * time.Minute

const waitDelay = 2 * time.Second

var (
	// ErrNotFound means the script does not resolve to an executable file.
	ErrNotFound = errors.New("script not found")
	// ErrFailed means the script exited non-zero or reported an error on stderr.
	ErrFailed = errors.New("script failed")
)

// stderr noise that some capture scripts always print.
var ignoredStderr = []string{
	"InsecureRequestWarning",
	"FAILED TO establish the default connection to the WindowServer",
}

// Command is a resolved executable with its fixed arguments.
type Command struct {
	Path string
	Args []string
}

// Resolve turns a configured script line such as "./capture.py --all" into
// a Command. "./" and "../" are relative to dir, absolute paths are used as
// they are, and bare names are looked up in PATH.
func Resolve(line, dir string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("%w: empty command", ErrNotFound)
	}
	program := fields[0]

	var path string
	switch {
	case filepath.IsAbs(program):
		path = program
	case strings.HasPrefix(program, "./"), strings.HasPrefix(program, "../"):
		path = filepath.Join(dir, program)
	default:
		found, err := exec.LookPath(program)
		if err != nil {
			return Command{}, fmt.Errorf("%w: %s", ErrNotFound, program)
		}
		return Command{Path: found, Args: fields[1:]}, nil
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
		return Command{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return Command{Path: path, Args: fields[1:]}, nil
}

// Runner executes scripts inside one feed directory.
type Runner struct {
	Dir     string
	Timeout time.Duration
	Logger  logger.Logger
}

// NewRunner returns a Runner for dir with the default timeout.
func NewRunner(dir string, log logger.Logger) *Runner {
	if log == nil {
		log = logger.NewNop()
	}
	return &Runner{Dir: dir, Timeout: DefaultTimeout, Logger: log}
}

// Run resolves line, appends extraArgs, and feeds stdin to it.
func (r *Runner) Run(ctx context.Context, line string, stdin []byte, extraArgs ...string) ([]byte, error) {
	command, err := Resolve(line, r.Dir)
	if err != nil {
		return nil, err
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, command.Args...), extraArgs...)
	cmd := exec.CommandContext(ctx, command.Path, args...)
	cmd.Dir = r.Dir
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// The script may have spawned helpers; kill the whole group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	errText := strings.TrimSpace(stderr.String())

	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrFailed, command.Path, ctxErr)
		}
		return nil, fmt.Errorf("%w: %s: %w: %s", ErrFailed, command.Path, runErr, errText)
	}
	if errText != "" && !ignorable(errText) {
		if strings.Contains(strings.ToLower(errText), "error") {
			return nil, fmt.Errorf("%w: %s: %s", ErrFailed, command.Path, errText)
		}
		r.Logger.Warn("Script wrote to stderr",
			logger.String("script", command.Path),
			logger.String("stderr", errText),
		)
	}
	return stdout.Bytes(), nil
}

func ignorable(stderr string) bool {
	for _, s := range ignoredStderr {
		if strings.Contains(stderr, s) {
			return true
		}
	}
	return false
}

// Transform is one stage of a byte-stream pipeline.
type Transform func(ctx context.Context, in []byte) ([]byte, error)

// Step wraps a script invocation as a Transform.
func (r *Runner) Step(line string, extraArgs ...string) Transform {
	return func(ctx context.Context, in []byte) ([]byte, error) {
		return r.Run(ctx, line, in, extraArgs...)
	}
}

// Pipeline feeds in through each transform in order.
func Pipeline(ctx context.Context, in []byte, steps ...Transform) ([]byte, error) {
	out := in
	for _, step := range steps {
		if step == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := step(ctx, out)
		if err != nil {
			return nil, err
		}
		out = next
	}
	return out, nil
}
