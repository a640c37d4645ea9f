package enrichment

// ExtractCodes returns every distinct diagnosis code across records, in the
// order each was first seen. Callers should treat the result as a set.
func ExtractCodes(records []PatientRecord) []DiagnosisCode {
	seen := make(map[DiagnosisCode]struct{})
	var codes []DiagnosisCode
	for _, p := range records {
		for _, c := range p.Diagnoses {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			codes = append(codes, c)
		}
	}
	return codes
}

func uniqueCodes(codes []DiagnosisCode) []DiagnosisCode {
	return ExtractCodes([]PatientRecord{{Diagnoses: codes}})
}
