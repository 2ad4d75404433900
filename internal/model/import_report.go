package model

// CsvImportRow is one parsed data row of a member import file.
type CsvImportRow struct {
	Row         int
	Email       string
	FullName    string
	Role        string
	CohortLabel string
}

// RowError explains why a row of a bulk membership change was rejected.
type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// ImportReport is the reconciliation report returned by bulk membership
// operations. Partial success is normal.
type ImportReport struct {
	Added   int        `json:"added"`
	Skipped int        `json:"skipped"`
	Errors  []RowError `json:"errors"`
}

// AddError records a rejected row.
func (r *ImportReport) AddError(row int, reason string) {
	r.Errors = append(r.Errors, RowError{Row: row, Reason: reason})
}

// HasErrors returns true if any row was rejected.
func (r *ImportReport) HasErrors() bool {
	return len(r.Errors) > 0
}
