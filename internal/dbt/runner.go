// Package dbt invokes the external build tool's command line.
package dbt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kamilpajak/guardian/internal/config"
	"github.com/kamilpajak/guardian/pkg/models"
	"go.uber.org/zap"
)

// Runner executes stage commands through a shell in the project directory.
type Runner struct {
	dir      string
	shell    string
	env      []string
	commands config.Commands
	logger   *zap.Logger
}

// Options configures a Runner.
type Options struct {
	Dir      string          // Directory the commands run in
	Shell    string          // Shell used as `<shell> -c <command>`
	Env      []string        // Extra KEY=VALUE pairs added to the process environment
	Commands config.Commands // Command line per stage
	Logger   *zap.Logger     // Optional
}

// NewRunner creates a Runner. The directory must exist.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("project dir is required")
	}
	info, err := os.Stat(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open project dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project dir %s is not a directory", opts.Dir)
	}
	if opts.Shell == "" {
		opts.Shell = "/bin/sh"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Runner{
		dir:      opts.Dir,
		shell:    opts.Shell,
		env:      opts.Env,
		commands: opts.Commands,
		logger:   opts.Logger,
	}, nil
}

// FromConfig builds a Runner from the resolved configuration.
func FromConfig(cfg *config.Config, logger *zap.Logger) (*Runner, error) {
	return NewRunner(Options{
		Dir:      cfg.ProjectDir,
		Shell:    cfg.Shell,
		Env:      cfg.Env(),
		Commands: cfg.Commands,
		Logger:   logger,
	})
}

// Command returns the command line for stage.
func (r *Runner) Command(stage models.Stage) (string, error) {
	cmd, ok := r.commands.For(stage)
	if !ok {
		return "", fmt.Errorf("no command configured for stage %q", stage)
	}
	return cmd, nil
}

// Run executes the stage command and waits for it. Each line of interleaved
// stdout/stderr is passed to onLine as it arrives. A non-zero exit is reported
// in the result, not as an error; errors mean the command could not run.
func (r *Runner) Run(ctx context.Context, stage models.Stage, onLine func(string)) (*models.StageResult, error) {
	command, err := r.Command(stage)
	if err != nil {
		return nil, err
	}

	result := &models.StageResult{
		Stage:     stage,
		Command:   command,
		ExitCode:  -1,
		StartedAt: time.Now(),
	}

	cmd := exec.CommandContext(ctx, r.shell, "-c", command)
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(), r.env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open output pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	r.logger.Debug("starting stage",
		zap.String("stage", string(stage)),
		zap.String("command", command),
		zap.String("dir", r.dir))

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", stage, err)
	}

	output, readErr := readLines(stdout, onLine)
	waitErr := cmd.Wait()

	result.Duration = time.Since(result.StartedAt)
	result.Output = output

	if readErr != nil {
		return nil, fmt.Errorf("failed to read %s output: %w", stage, readErr)
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		result.ExitCode = 0
	case errors.As(waitErr, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("failed to run %s: %w", stage, waitErr)
	}
	if ctx.Err() != nil {
		return result, fmt.Errorf("%s interrupted: %w", stage, ctx.Err())
	}

	r.logger.Debug("stage finished",
		zap.String("stage", string(stage)),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// readLines copies r line by line into the returned string.
func readLines(r io.Reader, onLine func(string)) (string, error) {
	var out strings.Builder
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			out.WriteString(line)
			if onLine != nil {
				onLine(strings.TrimRight(line, "\r\n"))
			}
		}
		if err == io.EOF {
			return out.String(), nil
		}
		if err != nil {
			return out.String(), err
		}
	}
}
