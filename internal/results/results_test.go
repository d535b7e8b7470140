package results

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kamilpajak/guardian/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleArtifact = `{
	"metadata": {
		"dbt_schema_version": "https://schemas.getdbt.com/dbt/run-results/v6.json",
		"dbt_version": "1.8.2",
		"generated_at": "2026-10-19T09:12:44.512345Z",
		"invocation_id": "5c1f0f2e-4d6a-4f5b-9a0e-9d8f7c6b5a43"
	},
	"results": [
		{
			"unique_id": "test.shop.unique_stg_orders_order_id.1a2b3c",
			"status": "fail",
			"message": "Got 2 results, configured to fail if != 0",
			"failures": 2,
			"execution_time": 0.042
		},
		{
			"unique_id": "test.shop.not_null_stg_orders_customer_id.4d5e6f",
			"status": "pass",
			"message": null,
			"failures": 0,
			"execution_time": 0.013
		},
		{
			"unique_id": "test.shop.accepted_values_stg_orders_status.7a8b9c",
			"status": "error",
			"message": "Runtime Error"
		}
	],
	"elapsed_time": 1.73
}`

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeArtifact(t, sampleArtifact)

	rr, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, rr.Path)
	assert.Equal(t, "1.8.2", rr.DBTVersion)
	assert.Equal(t, "5c1f0f2e-4d6a-4f5b-9a0e-9d8f7c6b5a43", rr.InvocationID)
	assert.Equal(t, 2026, rr.GeneratedAt.Year())
	assert.InDelta(t, 1.73, rr.ElapsedTime, 0.0001)
	require.Len(t, rr.Results, 3)

	first := rr.Results[0]
	assert.Equal(t, models.StatusFail, first.Status)
	assert.Equal(t, 2, first.Failures)
	assert.Equal(t, "Got 2 results, configured to fail if != 0", first.Message)

	// null message decodes to empty
	assert.Empty(t, rr.Results[1].Message)

	failed := rr.FailedEntries()
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].UniqueID, "unique_stg_orders_order_id")
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "target", DefaultFile))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLoad_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid json", `{"results": [`},
		{"results not a list", `{"results": {"unique_id": "x"}}`},
		{"status not a string", `{"results": [{"unique_id": "x", "status": 3}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeArtifact(t, tt.content)

			_, err := Load(path)
			require.Error(t, err)

			var pe *ParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, path, pe.Path)
			assert.False(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestParse_MissingResultsIsEmpty(t *testing.T) {
	rr, err := Parse([]byte(`{"metadata": {"dbt_version": "1.7.0"}}`))
	require.NoError(t, err)
	assert.Empty(t, rr.Results)
	assert.False(t, rr.HasFailures())
}

func TestParse_BadTimestampIgnored(t *testing.T) {
	rr, err := Parse([]byte(`{"metadata": {"generated_at": "yesterday"}, "results": []}`))
	require.NoError(t, err)
	assert.True(t, rr.GeneratedAt.IsZero())
}
