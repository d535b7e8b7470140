// Package classify maps failing test results onto known issue categories by
// keyword matching on the test identifier and message.
package classify

import (
	"fmt"
	"strings"

	"github.com/kamilpajak/guardian/internal/results"
	"github.com/kamilpajak/guardian/pkg/models"
)

// Rule adds Category when Match returns true for a lower-cased identifier and
// message.
type Rule struct {
	Category models.IssueCategory
	Match    func(node, msg string) bool
}

// Rules are evaluated independently; one entry can hit several categories.
var Rules = []Rule{
	{
		Category: models.IssueDuplicateKey,
		Match: func(node, _ string) bool {
			return strings.Contains(node, "unique")
		},
	},
	{
		Category: models.IssueNullValue,
		Match: func(node, _ string) bool {
			return strings.Contains(node, "not_null") && strings.Contains(node, "amount")
		},
	},
	{
		Category: models.IssueOutOfRangeDate,
		Match: func(node, msg string) bool {
			return strings.Contains(node, "order_date") &&
				(strings.Contains(node, "between") || strings.Contains(msg, "future"))
		},
	},
}

// Entry returns the categories a single entry points at. Non-fail entries
// never match.
func Entry(e models.TestResultEntry) models.IssueSet {
	set := models.NewIssueSet()
	if e.Status != models.StatusFail {
		return set
	}

	node := strings.ToLower(e.UniqueID)
	msg := strings.ToLower(e.Message)
	for _, r := range Rules {
		if r.Match(node, msg) {
			set.Add(r.Category)
		}
	}
	return set
}

// Results returns the union of categories across all failing entries.
func Results(rr *models.RunResults) models.IssueSet {
	set := models.NewIssueSet()
	for _, e := range rr.FailedEntries() {
		for c := range Entry(e) {
			set.Add(c)
		}
	}
	return set
}

// File loads the artifact at path and classifies it. Errors from the loader
// (results.ErrNotFound, *results.ParseError) are passed through.
func File(path string) (models.IssueSet, error) {
	rr, err := results.Load(path)
	if err != nil {
		return nil, err
	}
	return Results(rr), nil
}

// Diagnose loads the artifact and returns its failures with their categories.
func Diagnose(path string) (*models.Diagnosis, error) {
	rr, err := results.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load results: %w", err)
	}

	return &models.Diagnosis{
		ResultsPath: path,
		Failures:    rr.FailedEntries(),
		Categories:  Results(rr),
	}, nil
}
