package enrichment

import "strings"

// OutcomeKind classifies the result of resolving one code.
type OutcomeKind uint8

const (
	// Resolved means the lookup returned a description.
	Resolved OutcomeKind = iota + 1
	// TypeMismatch means the code is not a string; no lookup was issued.
	TypeMismatch
	// LookupMiss means the service reported zero matches.
	LookupMiss
	// TransportFailure covers connection errors, timeouts and non-2xx statuses.
	TransportFailure
	// ShapeError means the response body did not have the expected layout.
	ShapeError
)

func (k OutcomeKind) String() string {
	switch k {
	case Resolved:
		return "resolved"
	case TypeMismatch:
		return "type_mismatch"
	case LookupMiss:
		return "lookup_miss"
	case TransportFailure:
		return "transport_failure"
	case ShapeError:
		return "shape_error"
	default:
		return "unknown"
	}
}

// Malformed reports whether codes with this outcome are malformed.
func (k OutcomeKind) Malformed() bool { return k != Resolved }

// Outcome is the classification of a single code.
type Outcome struct {
	Code        DiagnosisCode
	Kind        OutcomeKind
	Description string
	Err         error
}

// ResolutionTables hold everything the transformer needs for one batch.
// A code appears in exactly one of Descriptions and Malformed.
type ResolutionTables struct {
	Descriptions map[string]string
	Malformed    map[DiagnosisCode]struct{}
	Priority     map[string]struct{}
	Outcomes     []Outcome
	// Lookups counts requests issued to the lookup service.
	Lookups int
}

func newTables(n int) *ResolutionTables {
	return &ResolutionTables{
		Descriptions: make(map[string]string, n),
		Malformed:    make(map[DiagnosisCode]struct{}),
		Priority:     make(map[string]struct{}),
		Outcomes:     make([]Outcome, 0, n),
	}
}

func (t *ResolutionTables) add(o Outcome, keywords PriorityKeywords) {
	t.Outcomes = append(t.Outcomes, o)
	if o.Kind != TypeMismatch {
		t.Lookups++
	}
	if o.Kind.Malformed() {
		t.Malformed[o.Code] = struct{}{}
		return
	}
	t.Descriptions[o.Code.Text()] = o.Description
	if keywords.Match(o.Description) {
		t.Priority[o.Code.Text()] = struct{}{}
	}
}

func (t *ResolutionTables) known(c DiagnosisCode) bool {
	if t.IsMalformed(c) {
		return true
	}
	_, ok := t.Description(c)
	return ok
}

// Description returns the description of a resolved code.
func (t *ResolutionTables) Description(c DiagnosisCode) (string, bool) {
	if !c.IsString() {
		return "", false
	}
	d, ok := t.Descriptions[c.Text()]
	return d, ok
}

// IsMalformed reports whether c was classified malformed.
func (t *ResolutionTables) IsMalformed(c DiagnosisCode) bool {
	_, ok := t.Malformed[c]
	return ok
}

// IsPriority reports whether c resolved to an urgent-condition description.
func (t *ResolutionTables) IsPriority(c DiagnosisCode) bool {
	if !c.IsString() {
		return false
	}
	_, ok := t.Priority[c.Text()]
	return ok
}

// PriorityKeywords are lowercase substrings that mark a description urgent.
type PriorityKeywords []string

// DefaultPriorityKeywords flags COVID and respiratory failure diagnoses.
var DefaultPriorityKeywords = PriorityKeywords{"respiratory failure", "covid"}

// NewPriorityKeywords normalizes words to trimmed lowercase, dropping blanks.
func NewPriorityKeywords(words ...string) PriorityKeywords {
	kw := make(PriorityKeywords, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			kw = append(kw, w)
		}
	}
	return kw
}

// Match reports whether description contains any keyword, ignoring case.
func (k PriorityKeywords) Match(description string) bool {
	d := strings.ToLower(description)
	for _, w := range k {
		if strings.Contains(d, w) {
			return true
		}
	}
	return false
}
