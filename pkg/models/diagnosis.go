package models

import (
	"encoding/json"
	"sort"
	"strings"
)

// IssueCategory is one of the known data-quality problems a failing test can
// point at.
type IssueCategory string

const (
	IssueDuplicateKey   IssueCategory = "duplicate-key"
	IssueNullValue      IssueCategory = "null-value"
	IssueOutOfRangeDate IssueCategory = "out-of-range-date"
)

const (
	unclassifiedRootCause = "Could not classify automatically."
	noFailuresRootCause   = "No failures"
)

// AllIssueCategories lists every category in display order.
var AllIssueCategories = []IssueCategory{
	IssueDuplicateKey,
	IssueNullValue,
	IssueOutOfRangeDate,
}

var issueLabels = map[IssueCategory]string{
	IssueDuplicateKey:   "duplicate order_id",
	IssueNullValue:      "NULL amount",
	IssueOutOfRangeDate: "future order_date",
}

// Label returns the human-readable root cause for the category.
func (c IssueCategory) Label() string {
	if l, ok := issueLabels[c]; ok {
		return l
	}
	return string(c)
}

// Valid reports whether c is one of the known categories.
func (c IssueCategory) Valid() bool {
	_, ok := issueLabels[c]
	return ok
}

// ParseIssueCategory accepts either the category name or its label.
func ParseIssueCategory(s string) (IssueCategory, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	for _, c := range AllIssueCategories {
		if s == string(c) || s == strings.ToLower(c.Label()) {
			return c, true
		}
	}
	return "", false
}

// IssueSet is an unordered set of categories.
type IssueSet map[IssueCategory]struct{}

// NewIssueSet builds a set from the given categories.
func NewIssueSet(cats ...IssueCategory) IssueSet {
	s := make(IssueSet, len(cats))
	for _, c := range cats {
		s.Add(c)
	}
	return s
}

func (s IssueSet) Add(c IssueCategory) { s[c] = struct{}{} }

func (s IssueSet) Has(c IssueCategory) bool {
	_, ok := s[c]
	return ok
}

func (s IssueSet) Len() int { return len(s) }

// Union returns a new set holding the members of both sets.
func (s IssueSet) Union(other IssueSet) IssueSet {
	out := make(IssueSet, len(s)+len(other))
	for c := range s {
		out.Add(c)
	}
	for c := range other {
		out.Add(c)
	}
	return out
}

// Sorted returns the members sorted by name.
func (s IssueSet) Sorted() []IssueCategory {
	out := make([]IssueCategory, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Labels returns the sorted human-readable labels.
func (s IssueSet) Labels() []string {
	labels := make([]string, 0, len(s))
	for c := range s {
		labels = append(labels, c.Label())
	}
	sort.Strings(labels)
	return labels
}

// MarshalJSON encodes the set as a sorted list.
func (s IssueSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes a list of category names.
func (s *IssueSet) UnmarshalJSON(data []byte) error {
	var cats []IssueCategory
	if err := json.Unmarshal(data, &cats); err != nil {
		return err
	}
	*s = NewIssueSet(cats...)
	return nil
}

// Diagnosis is the classified view of the latest test failures
type Diagnosis struct {
	ResultsPath    string            `json:"results_path"`
	Failures       []TestResultEntry `json:"failures"`
	Categories     IssueSet          `json:"categories"`
	SuggestedPatch string            `json:"suggested_patch,omitempty"`
}

// HasFailures returns true if the diagnosis found any failing entries.
func (d *Diagnosis) HasFailures() bool {
	return len(d.Failures) > 0
}

// Unclassified is true when there are failures but no category matched.
func (d *Diagnosis) Unclassified() bool {
	return d.HasFailures() && d.Categories.Len() == 0
}

// RootCause renders the categories the way the form UI shows them.
func (d *Diagnosis) RootCause() string {
	if !d.HasFailures() {
		return noFailuresRootCause
	}
	if d.Categories.Len() == 0 {
		return unclassifiedRootCause
	}
	return strings.Join(d.Categories.Labels(), ", ")
}
