package pipeline

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/kamilpajak/guardian/internal/config"
	"github.com/kamilpajak/guardian/internal/patch"
	"github.com/kamilpajak/guardian/internal/progress"
	"github.com/kamilpajak/guardian/internal/results"
	"github.com/kamilpajak/guardian/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		p    Params
	}{
		{"no runner", Params{ResultsPath: "r", PatchTarget: "m"}},
		{"no results path", Params{Runner: &fakeRunner{}, PatchTarget: "m"}},
		{"no patch target", Params{Runner: &fakeRunner{}, ResultsPath: "r"}},
		{"attempts too high", Params{Runner: &fakeRunner{}, ResultsPath: "r", PatchTarget: "m", MaxPatchAttempts: 11}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.p)
			assert.Error(t, err)
		})
	}

	g, err := New(Params{Runner: &fakeRunner{}, ResultsPath: "r", PatchTarget: "m"})
	require.NoError(t, err)
	assert.Equal(t, 1, g.MaxPatchAttempts())
}

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{ResultsPath: "/p/target/run_results.json", PatchTarget: "/p/models/x.sql", MaxPatchAttempts: 2}
	g, err := FromConfig(cfg, &fakeRunner{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, cfg.ResultsPath, g.ResultsPath())
	assert.Equal(t, cfg.PatchTarget, g.PatchTarget())
	assert.Equal(t, 2, g.MaxPatchAttempts())
}

func TestRunStage_EmitsLifecycle(t *testing.T) {
	f := newFixture(t)
	rec := &progress.Recorder{}
	g := f.guardian(t, &fakeRunner{exits: map[models.Stage][]int{models.StageTest: {1}}}, 1, rec)

	res, err := g.RunStage(context.Background(), models.StageTest)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)

	assert.Equal(t, []progress.EventType{
		progress.EventStageStart,
		progress.EventLine,
		progress.EventStageEnd,
		progress.EventWarn,
	}, rec.Types())
	assert.Equal(t, "dbt test", rec.Events[0].Command)
	require.NotNil(t, rec.Events[2].ExitCode)
	assert.Equal(t, 1, *rec.Events[2].ExitCode)
	assert.Equal(t, "Some tests failed", rec.Events[3].Message)
}

func TestDiagnose(t *testing.T) {
	f := newFixture(t)
	f.writeResults(t, uniqueFailure)
	rec := &progress.Recorder{}

	d, err := f.guardian(t, &fakeRunner{}, 1, rec).Diagnose()
	require.NoError(t, err)
	assert.Len(t, d.Failures, 1)
	assert.Equal(t, patch.Build(models.NewIssueSet(models.IssueDuplicateKey)), d.SuggestedPatch)
	assert.Equal(t, []progress.EventType{progress.EventDiagnosis}, rec.Types())
}

func TestDiagnose_NoFailures(t *testing.T) {
	f := newFixture(t)
	f.writeResults(t, `{"results":[{"unique_id":"test.shop.unique_stg_orders_order_id","status":"pass"}]}`)

	d, err := f.guardian(t, &fakeRunner{}, 1, nil).Diagnose()
	require.NoError(t, err)
	assert.False(t, d.HasFailures())
	assert.Empty(t, d.SuggestedPatch)
}

func TestDiagnose_Malformed(t *testing.T) {
	f := newFixture(t)
	f.writeResults(t, `{"results": "nope"}`)

	_, err := f.guardian(t, &fakeRunner{}, 1, nil).Diagnose()
	var pe *results.ParseError
	assert.True(t, errors.As(err, &pe))
}

func TestApplyPatch(t *testing.T) {
	f := newFixture(t)
	g := f.guardian(t, &fakeRunner{}, 1, nil)

	out, err := g.ApplyPatch(models.NewIssueSet(models.IssueNullValue))
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, f.model, out.Path)

	out, err = g.ApplyPatch(models.NewIssueSet(models.IssueNullValue))
	require.NoError(t, err)
	assert.False(t, out.Changed)

	data, err := os.ReadFile(f.model)
	require.NoError(t, err)
	assert.Contains(t, string(data), "where amount is not null")
}

func TestExclusive(t *testing.T) {
	f := newFixture(t)
	g := f.guardian(t, &fakeRunner{}, 1, nil)
	other := g.WithEmitter(&progress.Recorder{})

	err := g.Exclusive(func() error {
		return other.Exclusive(func() error { return nil })
	})
	assert.ErrorIs(t, err, ErrBusy)

	assert.NoError(t, g.Exclusive(func() error { return nil }))
}
