// Package pipeline drives the seed, build, test, diagnose and patch stages
// shared by the batch CLI and the web form.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kamilpajak/guardian/internal/classify"
	"github.com/kamilpajak/guardian/internal/config"
	"github.com/kamilpajak/guardian/internal/patch"
	"github.com/kamilpajak/guardian/internal/progress"
	"github.com/kamilpajak/guardian/internal/results"
	"github.com/kamilpajak/guardian/pkg/models"
	"go.uber.org/zap"
)

var (
	// ErrStageFailed means a prerequisite stage exited non-zero.
	ErrStageFailed = errors.New("stage failed")
	// ErrBusy means another stage is already running.
	ErrBusy = errors.New("another stage is already running")
)

// StageRunner executes build tool stages. *dbt.Runner implements it.
type StageRunner interface {
	Command(stage models.Stage) (string, error)
	Run(ctx context.Context, stage models.Stage, onLine func(string)) (*models.StageResult, error)
}

// Params configures a Guardian.
type Params struct {
	Runner           StageRunner
	ResultsPath      string
	PatchTarget      string
	MaxPatchAttempts int
	Emitter          progress.Emitter
	Logger           *zap.Logger
}

// Guardian exposes the stage operations and the full re-run loop.
type Guardian struct {
	runner      StageRunner
	resultsPath string
	patchTarget string
	maxAttempts int
	emitter     progress.Emitter
	logger      *zap.Logger
	runID       string
	busy        *sync.Mutex
}

// New creates a Guardian.
func New(p Params) (*Guardian, error) {
	if p.Runner == nil {
		return nil, fmt.Errorf("stage runner is required")
	}
	if p.ResultsPath == "" {
		return nil, fmt.Errorf("results path is required")
	}
	if p.PatchTarget == "" {
		return nil, fmt.Errorf("patch target is required")
	}
	if p.MaxPatchAttempts == 0 {
		p.MaxPatchAttempts = 1
	}
	if p.MaxPatchAttempts < 1 || p.MaxPatchAttempts > config.MaxPatchAttemptsLimit {
		return nil, fmt.Errorf("max patch attempts must be between 1 and %d", config.MaxPatchAttemptsLimit)
	}
	if p.Emitter == nil {
		p.Emitter = progress.Discard
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}

	return &Guardian{
		runner:      p.Runner,
		resultsPath: p.ResultsPath,
		patchTarget: p.PatchTarget,
		maxAttempts: p.MaxPatchAttempts,
		emitter:     p.Emitter,
		logger:      p.Logger,
		busy:        &sync.Mutex{},
	}, nil
}

// FromConfig creates a Guardian for the resolved configuration.
func FromConfig(cfg *config.Config, runner StageRunner, emitter progress.Emitter, logger *zap.Logger) (*Guardian, error) {
	return New(Params{
		Runner:           runner,
		ResultsPath:      cfg.ResultsPath,
		PatchTarget:      cfg.PatchTarget,
		MaxPatchAttempts: cfg.MaxPatchAttempts,
		Emitter:          emitter,
		Logger:           logger,
	})
}

// WithEmitter returns a copy that reports to e. The copy shares the busy lock.
func (g *Guardian) WithEmitter(e progress.Emitter) *Guardian {
	c := *g
	c.emitter = e
	return &c
}

// ResultsPath is where the results artifact is read from.
func (g *Guardian) ResultsPath() string { return g.resultsPath }

// PatchTarget is the model file whose region gets rewritten.
func (g *Guardian) PatchTarget() string { return g.patchTarget }

// MaxPatchAttempts bounds the re-run loop.
func (g *Guardian) MaxPatchAttempts() int { return g.maxAttempts }

// Exclusive runs fn unless another Exclusive call is in progress, in which
// case it returns ErrBusy without waiting.
func (g *Guardian) Exclusive(fn func() error) error {
	if !g.busy.TryLock() {
		return ErrBusy
	}
	defer g.busy.Unlock()
	return fn()
}

// RunStage runs one build tool stage, streaming its output as line events.
func (g *Guardian) RunStage(ctx context.Context, stage models.Stage) (*models.StageResult, error) {
	command, err := g.runner.Command(stage)
	if err != nil {
		return nil, err
	}

	g.emit(progress.Event{Type: progress.EventStageStart, Stage: stage, Command: command})

	res, err := g.runner.Run(ctx, stage, func(line string) {
		g.emit(progress.Event{Type: progress.EventLine, Stage: stage, Line: line})
	})
	if err != nil {
		return res, err
	}

	g.emit(progress.Event{
		Type:     progress.EventStageEnd,
		Stage:    stage,
		Command:  command,
		ExitCode: progress.ExitCode(res.ExitCode),
	})

	if stage == models.StageTest {
		if res.Passed() {
			g.emit(progress.Event{Type: progress.EventInfo, Stage: stage, Message: "All tests passed"})
		} else {
			g.emit(progress.Event{Type: progress.EventWarn, Stage: stage, Message: "Some tests failed"})
		}
	}

	return res, nil
}

// Diagnose reads the latest results artifact and classifies its failures.
// When the artifact is missing it warns and returns an error wrapping
// results.ErrNotFound.
func (g *Guardian) Diagnose() (*models.Diagnosis, error) {
	d, err := classify.Diagnose(g.resultsPath)
	if errors.Is(err, results.ErrNotFound) {
		g.emit(progress.Event{Type: progress.EventWarn, Message: "No run_results.json found. Run tests first."})
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if d.HasFailures() {
		d.SuggestedPatch = patch.Build(d.Categories)
	}

	g.logger.Debug("diagnosed results",
		zap.String("run_id", g.runID),
		zap.String("path", g.resultsPath),
		zap.Int("failures", len(d.Failures)),
		zap.Strings("categories", d.Categories.Labels()))

	g.emit(progress.Event{Type: progress.EventDiagnosis, Diagnosis: d})
	return d, nil
}

// ApplyPatch writes the fragment for categories into the patch target.
func (g *Guardian) ApplyPatch(categories models.IssueSet) (*models.PatchOutcome, error) {
	if categories == nil {
		categories = models.NewIssueSet()
	}

	changed, err := patch.Apply(g.patchTarget, patch.Build(categories))
	if err != nil {
		return nil, fmt.Errorf("failed to apply patch: %w", err)
	}

	outcome := &models.PatchOutcome{
		Path:       g.patchTarget,
		Categories: categories,
		Changed:    changed,
	}
	g.emit(progress.Event{Type: progress.EventPatch, Patch: outcome})
	return outcome, nil
}

func (g *Guardian) emit(ev progress.Event) {
	if ev.RunID == "" {
		ev.RunID = g.runID
	}
	g.emitter.Emit(ev)
}
