package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ehr/dxenrich/internal/platform/icd10"
)

var sampleDescriptions = map[string]string{
	"I10":    "Essential (primary) hypertension",
	"K21.9":  "Gastro-esophageal reflux disease without esophagitis",
	"E78.5":  "Hyperlipidemia, unspecified",
	"U07.1":  "COVID-19",
	"J96.00": "Acute respiratory failure, unspecified whether with hypoxia or hypercapnia",
	"N18.30": "Chronic kidney disease, stage 3 unspecified",
	"E66.9":  "Obesity, unspecified",
	"G47.33": "Obstructive sleep apnea (adult) (pediatric)",
	"I73.9":  "Peripheral vascular disease, unspecified",
	"E11.9":  "Type 2 diabetes mellitus without complications",
	"J12.82": "Pneumonia due to coronavirus disease 2019",
}

// fakeLookup is an in-process Lookuper. Codes in fail return a transport
// error; codes in shape return a malformed response error.
type fakeLookup struct {
	mu    sync.Mutex
	calls map[string]int
	total atomic.Int64
	data  map[string]string
	fail  map[string]bool
	shape map[string]bool
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		calls: make(map[string]int),
		data:  sampleDescriptions,
		fail:  map[string]bool{},
		shape: map[string]bool{},
	}
}

var errFakeTransport = errors.New("connection refused")

func (f *fakeLookup) Lookup(ctx context.Context, code string) (*icd10.Match, error) {
	f.total.Add(1)
	f.mu.Lock()
	f.calls[code]++
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.fail[code] {
		return nil, errFakeTransport
	}
	if f.shape[code] {
		return nil, icd10.ErrMalformedResponse
	}
	desc, ok := f.data[code]
	if !ok {
		return nil, nil
	}
	return &icd10.Match{Code: code, Description: desc, Total: 1}, nil
}

func (f *fakeLookup) callsFor(code string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[code]
}

// newFakeICD10Server serves sampleDescriptions in the NLM search response
// layout and counts requests.
func newFakeICD10Server(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		code := r.URL.Query().Get("terms")
		w.Header().Set("Content-Type", "application/json")
		desc, ok := sampleDescriptions[code]
		if !ok {
			w.Write([]byte(`[0,[],null,[]]`))
			return
		}
		body, _ := json.Marshal([]any{1, []string{code}, nil, [][]string{{code, desc}}})
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func codes(vs ...any) []DiagnosisCode {
	out := make([]DiagnosisCode, len(vs))
	for i, v := range vs {
		out[i] = MustCode(v)
	}
	return out
}

func patient(id int, vs ...any) PatientRecord {
	return PatientRecord{PatientID: id, Diagnoses: codes(vs...)}
}

func allResolvers(l Lookuper, opts ...ResolverOption) Resolvers {
	return NewResolvers(l, l, opts...)
}
