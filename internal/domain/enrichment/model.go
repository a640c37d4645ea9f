package enrichment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CodeKind tags a DiagnosisCode as a string vocabulary code or as some other
// JSON scalar that arrived in a diagnosis list.
type CodeKind uint8

const (
	KindString CodeKind = iota + 1
	KindOther
)

// DiagnosisCode is a diagnosis identifier as submitted. String codes are
// looked up; anything else is kept verbatim (as its JSON literal) so that it
// can be reported back unchanged. The zero value is not a valid code.
//
// DiagnosisCode is comparable and may be used as a map key.
type DiagnosisCode struct {
	kind  CodeKind
	value string
}

// StringCode returns a code for the vocabulary identifier s.
func StringCode(s string) DiagnosisCode {
	return DiagnosisCode{kind: KindString, value: s}
}

// NewCode classifies v once. Strings become string codes; every other value is
// encoded to JSON and kept as an opaque literal.
func NewCode(v any) (DiagnosisCode, error) {
	if s, ok := v.(string); ok {
		return StringCode(s), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return DiagnosisCode{}, fmt.Errorf("encode diagnosis code %v: %w", v, err)
	}
	return DiagnosisCode{kind: KindOther, value: string(raw)}, nil
}

// MustCode is NewCode for literals known to encode.
func MustCode(v any) DiagnosisCode {
	c, err := NewCode(v)
	if err != nil {
		panic(err)
	}
	return c
}

func (c DiagnosisCode) Kind() CodeKind { return c.kind }

// IsString reports whether the code can be looked up.
func (c DiagnosisCode) IsString() bool { return c.kind == KindString }

// Text returns the string code, or the raw JSON literal for other kinds.
func (c DiagnosisCode) Text() string { return c.value }

func (c DiagnosisCode) String() string { return c.value }

func (c DiagnosisCode) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case KindString:
		return json.Marshal(c.value)
	case KindOther:
		return []byte(c.value), nil
	default:
		return []byte("null"), nil
	}
}

func (c *DiagnosisCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty diagnosis code")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = StringCode(s)
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return fmt.Errorf("invalid diagnosis code %s: %w", data, err)
	}
	*c = DiagnosisCode{kind: KindOther, value: buf.String()}
	return nil
}

// PatientRecord is one input patient.
type PatientRecord struct {
	PatientID int             `json:"patient_id"`
	Diagnoses []DiagnosisCode `json:"diagnoses"`
}

// DescribedDiagnosis pairs a resolved code with its description. It encodes as
// a two element array.
type DescribedDiagnosis struct {
	Code        DiagnosisCode
	Description string
}

func (d DescribedDiagnosis) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{d.Code, d.Description})
}

func (d *DescribedDiagnosis) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("described diagnosis must have 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &d.Code); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &d.Description)
}

// ReportRecord is one output patient.
type ReportRecord struct {
	PatientID          int                  `json:"patient_id"`
	Diagnoses          []DescribedDiagnosis `json:"diagnoses"`
	PriorityDiagnoses  []string             `json:"priority_diagnoses"`
	MalformedDiagnoses []DiagnosisCode      `json:"malformed_diagnoses"`
}

// Strategy selects how lookups are issued.
type Strategy string

const (
	// StrategySequential opens a new connection for every lookup.
	StrategySequential Strategy = "sequential"
	// StrategyReused issues lookups one at a time over a persistent session.
	StrategyReused Strategy = "reused"
	// StrategyConcurrent fans lookups out over a shared connection pool.
	StrategyConcurrent Strategy = "concurrent"
)

// ErrUnknownStrategy is returned for a strategy name that is not supported.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Strategies lists every supported strategy.
var Strategies = []Strategy{StrategySequential, StrategyReused, StrategyConcurrent}

// ParseStrategy validates s. An empty string yields def.
func ParseStrategy(s string, def Strategy) (Strategy, error) {
	if s == "" {
		return def, nil
	}
	for _, st := range Strategies {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w %q (want sequential, reused or concurrent)", ErrUnknownStrategy, s)
}

// RunStats summarizes one enrichment run.
type RunStats struct {
	Patients    int   `json:"patients"`
	UniqueCodes int   `json:"unique_codes"`
	Lookups     int   `json:"lookups"`
	Described   int   `json:"described"`
	Malformed   int   `json:"malformed"`
	Priority    int   `json:"priority"`
	DurationMS  int64 `json:"duration_ms"`
}

// Run is a completed enrichment batch.
type Run struct {
	ID        uuid.UUID      `json:"id"`
	Strategy  Strategy       `json:"strategy"`
	Stats     RunStats       `json:"stats"`
	Report    []ReportRecord `json:"report"`
	CreatedAt time.Time      `json:"created_at"`
}

// RunSummary is a Run without its report.
type RunSummary struct {
	ID        uuid.UUID `json:"id"`
	Strategy  Strategy  `json:"strategy"`
	Stats     RunStats  `json:"stats"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary returns the run without its report.
func (r *Run) Summary() *RunSummary {
	return &RunSummary{ID: r.ID, Strategy: r.Strategy, Stats: r.Stats, CreatedAt: r.CreatedAt}
}
