package enrichment

import (
	"context"
	"reflect"
	"testing"
)

func TestTransform_PatientOne(t *testing.T) {
	p := patient(1, "E78.5", "ABC.123", "U07.1", "J96.00")
	tables, err := NewSequentialResolver(newFakeLookup()).Resolve(context.Background(), p.Diagnoses)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := Transform(p, tables)

	wantDiag := []DescribedDiagnosis{
		{StringCode("E78.5"), sampleDescriptions["E78.5"]},
		{StringCode("U07.1"), "COVID-19"},
		{StringCode("J96.00"), sampleDescriptions["J96.00"]},
	}
	if !reflect.DeepEqual(got.Diagnoses, wantDiag) {
		t.Errorf("diagnoses: expected %v, got %v", wantDiag, got.Diagnoses)
	}
	wantPriority := []string{"COVID-19", sampleDescriptions["J96.00"]}
	if !reflect.DeepEqual(got.PriorityDiagnoses, wantPriority) {
		t.Errorf("priority: expected %v, got %v", wantPriority, got.PriorityDiagnoses)
	}
	if !reflect.DeepEqual(got.MalformedDiagnoses, codes("ABC.123")) {
		t.Errorf("malformed: expected [ABC.123], got %v", got.MalformedDiagnoses)
	}
}

func TestTransform_KeepsDuplicatesAndRawValues(t *testing.T) {
	p := patient(2, "U07.1", 1, "U07.1", 1)
	tables, err := NewSequentialResolver(newFakeLookup()).Resolve(context.Background(), p.Diagnoses)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := Transform(p, tables)
	if len(got.Diagnoses) != 2 || len(got.PriorityDiagnoses) != 2 {
		t.Errorf("expected repeated code twice, got %+v", got)
	}
	if !reflect.DeepEqual(got.MalformedDiagnoses, codes(1, 1)) {
		t.Errorf("expected raw numeric codes, got %v", got.MalformedDiagnoses)
	}
}

func TestTransform_Empty(t *testing.T) {
	got := Transform(PatientRecord{PatientID: 9}, newTables(0))
	if got.PatientID != 9 {
		t.Errorf("expected patient 9, got %d", got.PatientID)
	}
	if got.Diagnoses == nil || got.PriorityDiagnoses == nil || got.MalformedDiagnoses == nil {
		t.Error("expected non-nil empty lists")
	}
	if len(got.Diagnoses)+len(got.PriorityDiagnoses)+len(got.MalformedDiagnoses) != 0 {
		t.Error("expected empty lists")
	}
}

func TestTransform_DropsUnknownCodes(t *testing.T) {
	got := Transform(patient(4, "Z00.00"), newTables(0))
	if len(got.Diagnoses) != 0 || len(got.MalformedDiagnoses) != 0 {
		t.Errorf("expected code absent from both tables to be dropped, got %+v", got)
	}
}
