package importer

// staging.go is the in-memory holding area between parse and commit. The
// caller inspects outcomes, flips row selection, and either commits the
// selected admitted subset or discards everything. Nothing here touches the
// persistence store.

import (
	"sort"

	"github.com/tiendafacil/backoffice/internal/model"
)

// Staging holds one import run's parsed batch and the caller's row selection.
type Staging struct {
	Outcomes []model.RowOutcome
	Admitted []model.CanonicalRecord
	Rejected []model.RowOutcome
	Variants []model.VariantRecord

	selected map[int]bool
}

// NewStaging partitions the row outcomes and selects every admitted row by
// default. Rejected rows are never selectable.
func NewStaging(outcomes []model.RowOutcome, variants []model.VariantRecord) *Staging {
	s := &Staging{
		Outcomes: outcomes,
		Variants: variants,
		selected: make(map[int]bool),
	}

	rejectedRows := make(map[int]bool)
	for _, o := range outcomes {
		if !o.Admitted() {
			s.Rejected = append(s.Rejected, o)
			rejectedRows[o.RowNumber] = true
		}
	}
	for _, o := range outcomes {
		if o.Admitted() {
			s.Admitted = append(s.Admitted, *o.Record)
			if !rejectedRows[o.RowNumber] {
				s.selected[o.RowNumber] = true
			}
		}
	}
	return s
}

// Toggle flips the selection state of one admitted row. Rows that were
// rejected are ignored.
func (s *Staging) Toggle(rowNumber int) {
	for _, r := range s.Admitted {
		if r.RowNumber == rowNumber {
			s.selected[rowNumber] = !s.selected[rowNumber]
			return
		}
	}
}

// SelectAll marks every admitted row as selected.
func (s *Staging) SelectAll() {
	for _, r := range s.Admitted {
		s.selected[r.RowNumber] = true
	}
}

// ClearSelection deselects every row.
func (s *Staging) ClearSelection() {
	s.selected = make(map[int]bool)
}

// IsSelected reports the selection state of a row.
func (s *Staging) IsSelected(rowNumber int) bool {
	return s.selected[rowNumber]
}

// SelectedRows returns the selected row numbers in ascending order.
func (s *Staging) SelectedRows() []int {
	rows := make([]int, 0, len(s.selected))
	for row, on := range s.selected {
		if on {
			rows = append(rows, row)
		}
	}
	sort.Ints(rows)
	return rows
}

// SelectedRecords returns the commit set: admitted rows that are currently
// selected, in batch order.
func (s *Staging) SelectedRecords() []model.CanonicalRecord {
	var out []model.CanonicalRecord
	for _, r := range s.Admitted {
		if s.selected[r.RowNumber] {
			out = append(out, r)
		}
	}
	return out
}

// SelectedVariants returns the variants whose parent product is in the
// commit set.
func (s *Staging) SelectedVariants() []model.VariantRecord {
	selectedKeys := make(map[string]bool)
	for _, r := range s.SelectedRecords() {
		selectedKeys[r.ProductKey] = true
	}

	var out []model.VariantRecord
	for _, v := range s.Variants {
		if selectedKeys[v.ProductKey] {
			out = append(out, v)
		}
	}
	return out
}
