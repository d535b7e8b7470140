package patch

import (
	"strings"

	"github.com/kamilpajak/guardian/pkg/models"
)

// Fix is the corrective piece contributed by one issue category.
type Fix struct {
	Category models.IssueCategory
	// Filter is a predicate for the cleaned CTE's where clause.
	Filter string
	// Dedup keeps the most recent row per order_id.
	Dedup bool
}

// Catalog maps each category to its fix.
var Catalog = map[models.IssueCategory]Fix{
	models.IssueNullValue: {
		Category: models.IssueNullValue,
		Filter:   "amount is not null",
	},
	models.IssueOutOfRangeDate: {
		Category: models.IssueOutOfRangeDate,
		Filter:   "cast(order_date as date) <= current_date",
	},
	models.IssueDuplicateKey: {
		Category: models.IssueDuplicateKey,
		Dedup:    true,
	},
}

// filterOrder fixes predicate order so the output is stable.
var filterOrder = []models.IssueCategory{models.IssueNullValue, models.IssueOutOfRangeDate}

// DedupClause picks one row per key. Rows that tie on order_date have no
// secondary ordering, so which one survives is up to the warehouse.
const DedupClause = "row_number() over (partition by order_id order by order_date desc) as rn"

// CleanAndDedup is the full corrective fragment: every fix applied.
var CleanAndDedup = Build(models.NewIssueSet(models.AllIssueCategories...))

// Build renders the patch fragment for the detected categories. An empty set
// (failures nobody could classify) gets the full clean + dedup fragment.
func Build(categories models.IssueSet) string {
	if categories.Len() == 0 {
		categories = models.NewIssueSet(models.AllIssueCategories...)
	}

	var filters []string
	for _, c := range filterOrder {
		if categories.Has(c) {
			filters = append(filters, Catalog[c].Filter)
		}
	}
	dedup := false
	for c := range categories {
		if Catalog[c].Dedup {
			dedup = true
		}
	}

	var b strings.Builder
	b.WriteString(header(len(filters) > 0, dedup) + "\n")
	b.WriteString("patched as (\n")
	b.WriteString("  with cleaned as (\n")
	b.WriteString("    select *\n")
	b.WriteString("    from source\n")
	for i, f := range filters {
		if i == 0 {
			b.WriteString("    where " + f + "\n")
		} else {
			b.WriteString("      and " + f + "\n")
		}
	}

	if dedup {
		b.WriteString("  ),\n")
		b.WriteString("  ranked as (\n")
		b.WriteString("    select\n")
		writeProjection(&b, "      ", true)
		b.WriteString("    from cleaned\n")
		b.WriteString("  )\n")
		b.WriteString("  select * from ranked where rn = 1\n")
	} else {
		b.WriteString("  )\n")
		b.WriteString("  select\n")
		writeProjection(&b, "    ", false)
		b.WriteString("  from cleaned\n")
	}
	b.WriteString(")\n")

	return b.String()
}

func writeProjection(b *strings.Builder, indent string, withRank bool) {
	cols := []string{
		"order_id",
		"customer_id",
		"cast(amount as double) as amount",
		"cast(order_date as date) as order_date",
	}
	if withRank {
		cols = append(cols, DedupClause)
	}
	for i, c := range cols {
		b.WriteString(indent + c)
		if i < len(cols)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
}

func header(clean, dedup bool) string {
	switch {
	case clean && dedup:
		return "-- clean + dedup"
	case dedup:
		return "-- dedup"
	default:
		return "-- clean"
	}
}
