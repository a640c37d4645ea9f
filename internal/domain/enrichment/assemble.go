package enrichment

import "sort"

// Assemble orders records by descending number of priority diagnoses. Ties
// keep their input order. The input slice is left untouched.
func Assemble(records []ReportRecord) []ReportRecord {
	out := make([]ReportRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i].PriorityDiagnoses) > len(out[j].PriorityDiagnoses)
	})
	return out
}
