// Package results loads the build tool's structured test-results artifact.
package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/kamilpajak/guardian/pkg/models"
)

// DefaultFile is the artifact name the build tool writes into its target dir.
const DefaultFile = "run_results.json"

// ErrNotFound is returned when the artifact does not exist yet.
var ErrNotFound = errors.New("results artifact not found")

// ParseError reports a malformed artifact.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse results artifact %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// rawArtifact mirrors the parts of run_results.json we read.
type rawArtifact struct {
	Metadata    rawMetadata  `json:"metadata"`
	Results     *[]rawResult `json:"results"`
	ElapsedTime float64      `json:"elapsed_time"`
}

type rawMetadata struct {
	DBTVersion   string `json:"dbt_version"`
	GeneratedAt  string `json:"generated_at"`
	InvocationID string `json:"invocation_id"`
}

type rawResult struct {
	UniqueID      string  `json:"unique_id"`
	Status        string  `json:"status"`
	Message       *string `json:"message"`
	Failures      *int    `json:"failures"`
	ExecutionTime float64 `json:"execution_time"`
}

// Load reads and parses the artifact at path.
func Load(path string) (*models.RunResults, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read results artifact: %w", err)
	}

	rr, err := Parse(data)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return nil, err
	}
	rr.Path = path
	return rr, nil
}

// Parse decodes artifact bytes. A missing results list is treated as empty.
func Parse(data []byte) (*models.RunResults, error) {
	var raw rawArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Path: "<bytes>", Err: err}
	}
	return normalize(raw), nil
}

func normalize(raw rawArtifact) *models.RunResults {
	rr := &models.RunResults{
		DBTVersion:   raw.Metadata.DBTVersion,
		InvocationID: raw.Metadata.InvocationID,
		ElapsedTime:  raw.ElapsedTime,
		Results:      []models.TestResultEntry{},
	}

	if raw.Metadata.GeneratedAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw.Metadata.GeneratedAt); err == nil {
			rr.GeneratedAt = ts
		}
	}

	if raw.Results == nil {
		return rr
	}

	for _, r := range *raw.Results {
		entry := models.TestResultEntry{
			UniqueID:      r.UniqueID,
			Status:        models.ResultStatus(r.Status),
			ExecutionTime: r.ExecutionTime,
		}
		if r.Message != nil {
			entry.Message = *r.Message
		}
		if r.Failures != nil {
			entry.Failures = *r.Failures
		}
		rr.Results = append(rr.Results, entry)
	}

	return rr
}
