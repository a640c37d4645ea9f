package enrichment

// Transform rewrites one patient's diagnoses into described, priority and
// malformed buckets, keeping the patient's original code order. Codes found
// in neither table are dropped.
func Transform(p PatientRecord, t *ResolutionTables) ReportRecord {
	out := ReportRecord{
		PatientID:          p.PatientID,
		Diagnoses:          make([]DescribedDiagnosis, 0, len(p.Diagnoses)),
		PriorityDiagnoses:  make([]string, 0),
		MalformedDiagnoses: make([]DiagnosisCode, 0),
	}
	for _, code := range p.Diagnoses {
		if t.IsMalformed(code) {
			out.MalformedDiagnoses = append(out.MalformedDiagnoses, code)
			continue
		}
		desc, ok := t.Description(code)
		if !ok {
			continue
		}
		out.Diagnoses = append(out.Diagnoses, DescribedDiagnosis{Code: code, Description: desc})
		if t.IsPriority(code) {
			out.PriorityDiagnoses = append(out.PriorityDiagnoses, desc)
		}
	}
	return out
}
