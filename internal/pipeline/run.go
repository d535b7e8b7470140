package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kamilpajak/guardian/internal/progress"
	"github.com/kamilpajak/guardian/pkg/models"
	"go.uber.org/zap"
)

// Run executes the full loop: deps and seed, build, test, and on a failing
// test up to MaxPatchAttempts cycles of diagnose, patch, rebuild and retest.
// The returned report is non-nil even when err is set.
//
// Failing tests are reported in the report, not as an error. Errors mean the
// loop could not proceed: a prerequisite stage failed, a command could not
// start, the artifact was missing or malformed, or the patch region is absent.
func (g *Guardian) Run(ctx context.Context) (*models.PipelineReport, error) {
	g = g.withRunID(uuid.NewString())
	report := &models.PipelineReport{
		RunID:     g.runID,
		StartedAt: time.Now(),
	}

	err := g.run(ctx, report)
	report.Duration = time.Since(report.StartedAt)

	if err != nil {
		if report.StopReason == "" {
			report.StopReason = err.Error()
		}
		g.emit(progress.Event{Type: progress.EventError, Message: err.Error()})
		g.logger.Warn("pipeline stopped",
			zap.String("run_id", report.RunID),
			zap.Error(err))
		return report, err
	}

	g.logger.Info("pipeline finished",
		zap.String("run_id", report.RunID),
		zap.String("initial", report.InitialStatus()),
		zap.String("final", report.FinalStatus()),
		zap.Int("attempts", len(report.Attempts)),
		zap.Duration("duration", report.Duration))

	g.emit(progress.Event{Type: progress.EventDone, Message: report.StopReason, Report: report})
	return report, nil
}

func (g *Guardian) run(ctx context.Context, report *models.PipelineReport) error {
	for _, stage := range []models.Stage{models.StageDeps, models.StageSeed} {
		res, err := g.stage(ctx, report, stage)
		if err != nil {
			return err
		}
		if !res.Passed() {
			report.StopReason = fmt.Sprintf("%s failed", stage)
			return fmt.Errorf("%w: %s exited with code %d", ErrStageFailed, stage, res.ExitCode)
		}
	}
	report.States = append(report.States, models.StateSeeded)

	// A failed build is recorded; the tests still run and report the damage.
	if _, err := g.stage(ctx, report, models.StageRun); err != nil {
		return err
	}
	report.States = append(report.States, models.StateBuilt)

	test, err := g.stage(ctx, report, models.StageTest)
	if err != nil {
		return err
	}
	report.States = append(report.States, models.StateTested)
	report.InitialPassed = test.Passed()
	report.FinalPassed = test.Passed()

	if report.InitialPassed {
		report.StopReason = "tests passed"
		return nil
	}

	applied := models.NewIssueSet()
	for n := 1; n <= g.maxAttempts; n++ {
		g.emit(progress.Event{
			Type:    progress.EventInfo,
			Attempt: n,
			Message: fmt.Sprintf("Patch attempt %d/%d", n, g.maxAttempts),
		})

		diag, err := g.Diagnose()
		if err != nil {
			return fmt.Errorf("diagnosis failed: %w", err)
		}
		report.States = append(report.States, models.StateDiagnosed)

		// Categories accumulate so a later attempt never drops an earlier fix.
		applied = applied.Union(diag.Categories)
		outcome, err := g.ApplyPatch(applied)
		if err != nil {
			return err
		}
		report.States = append(report.States, models.StatePatched)

		attempt := models.Attempt{Number: n, Diagnosis: diag, Patch: outcome}

		if !outcome.Changed && n > 1 {
			report.Attempts = append(report.Attempts, attempt)
			report.StopReason = "patch left the model unchanged; no further attempts"
			g.logAttempt(attempt)
			return nil
		}

		attempt.Build, err = g.stage(ctx, report, models.StageRun)
		if err != nil {
			return err
		}
		report.States = append(report.States, models.StateRebuilt)

		attempt.Test, err = g.stage(ctx, report, models.StageTest)
		if err != nil {
			return err
		}
		report.States = append(report.States, models.StateRetested)

		report.Attempts = append(report.Attempts, attempt)
		report.FinalPassed = attempt.Test.Passed()
		g.logAttempt(attempt)

		if report.FinalPassed {
			report.StopReason = "tests passed after patch"
			return nil
		}
	}

	report.StopReason = fmt.Sprintf("tests still failing after %d patch attempt(s)", len(report.Attempts))
	return nil
}

func (g *Guardian) stage(ctx context.Context, report *models.PipelineReport, stage models.Stage) (*models.StageResult, error) {
	res, err := g.RunStage(ctx, stage)
	if res != nil {
		report.Stages = append(report.Stages, res)
	}
	return res, err
}

func (g *Guardian) logAttempt(a models.Attempt) {
	fields := []zap.Field{
		zap.String("run_id", g.runID),
		zap.Int("attempt", a.Number),
		zap.Int("max_attempts", g.maxAttempts),
	}
	if a.Diagnosis != nil {
		fields = append(fields,
			zap.Int("failures", len(a.Diagnosis.Failures)),
			zap.Strings("categories", a.Diagnosis.Categories.Labels()))
	}
	if a.Patch != nil {
		fields = append(fields, zap.Bool("changed", a.Patch.Changed))
	}
	if a.Test != nil {
		fields = append(fields, zap.Int("retest_exit_code", a.Test.ExitCode))
	}
	g.logger.Info("patch attempt", fields...)
}

func (g *Guardian) withRunID(id string) *Guardian {
	c := *g
	c.runID = id
	return &c
}
