package enrichment

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo) {
	t.Helper()
	svc := newTestService(t, newFakeLookup(), NewMemoryRunRepo(10))
	return NewHandler(svc), echo.New()
}

func postEnrich(t *testing.T, h *Handler, e *echo.Echo, target, body string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return rec, h.Enrich(e.NewContext(req, rec))
}

func assertHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected echo.HTTPError, got %v", err)
	}
	if he.Code != code {
		t.Errorf("expected %d, got %d", code, he.Code)
	}
}

func TestHandler_Enrich_Array(t *testing.T) {
	h, e := newTestHandler(t)
	rec, err := postEnrich(t, h, e, "/api/v1/enrichment?strategy=sequential",
		`[{"patient_id":1,"diagnoses":["E78.5","ABC.123","U07.1","J96.00"]},{"patient_id":2,"diagnoses":[]}]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var run Run
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if run.Strategy != StrategySequential {
		t.Errorf("expected sequential, got %s", run.Strategy)
	}
	if len(run.Report) != 2 || run.Report[0].PatientID != 1 {
		t.Fatalf("unexpected report %+v", run.Report)
	}
	if len(run.Report[0].PriorityDiagnoses) != 2 {
		t.Errorf("expected 2 priority diagnoses, got %v", run.Report[0].PriorityDiagnoses)
	}
	if !strings.Contains(rec.Body.String(), `"malformed_diagnoses":["ABC.123"]`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_Enrich_Envelope(t *testing.T) {
	h, e := newTestHandler(t)
	rec, err := postEnrich(t, h, e, "/api/v1/enrichment", `{"patients":[{"patient_id":5,"diagnoses":["I10",1]}]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"malformed_diagnoses":[1]`) {
		t.Errorf("expected raw numeric code, got %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"strategy":"concurrent"`) {
		t.Errorf("expected default strategy, got %s", rec.Body.String())
	}
}

func TestHandler_Enrich_BadRequests(t *testing.T) {
	h, e := newTestHandler(t)
	tests := []struct {
		name, target, body string
	}{
		{"invalid json", "/api/v1/enrichment", `[{"patient_id":`},
		{"empty body", "/api/v1/enrichment", ``},
		{"missing patients", "/api/v1/enrichment", `{"records":[]}`},
		{"unknown strategy", "/api/v1/enrichment?strategy=threads", `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := postEnrich(t, h, e, tt.target, tt.body)
			assertHTTPError(t, err, http.StatusBadRequest)
		})
	}
}

func TestHandler_Enrich_BodyTooLarge(t *testing.T) {
	h, e := newTestHandler(t)
	e.POST("/api/v1/enrichment", h.Enrich, middleware.BodyLimit("16B"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/enrichment",
		strings.NewReader(`[{"patient_id":1,"diagnoses":["E78.5","U07.1"]}]`))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestHandler_Runs(t *testing.T) {
	h, e := newTestHandler(t)
	rec, err := postEnrich(t, h, e, "/api/v1/enrichment", `[{"patient_id":1,"diagnoses":["I10"]}]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var run Run
	json.Unmarshal(rec.Body.Bytes(), &run)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/enrichment/runs?limit=5", nil)
	rec = httptest.NewRecorder()
	if err := h.ListRuns(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var list struct {
		Runs  []RunSummary `json:"runs"`
		Total int          `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &list)
	if list.Total != 1 || len(list.Runs) != 1 || list.Runs[0].ID != run.ID {
		t.Errorf("unexpected list %+v", list)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/v1/enrichment/runs/:id")
	c.SetParamNames("id")
	c.SetParamValues(run.ID.String())
	if err := h.GetRun(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"report"`) {
		t.Errorf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_GetRun_Errors(t *testing.T) {
	h, e := newTestHandler(t)
	for id, code := range map[string]int{
		"not-a-uuid":        http.StatusBadRequest,
		uuid.New().String(): http.StatusNotFound,
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(id)
		assertHTTPError(t, h.GetRun(c), code)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e := newTestHandler(t)
	h.RegisterRoutes(e.Group("/api/v1"))
	want := map[string]bool{
		"POST /api/v1/enrichment":         false,
		"GET /api/v1/enrichment/runs":     false,
		"GET /api/v1/enrichment/runs/:id": false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for k, ok := range want {
		if !ok {
			t.Errorf("route %s not registered", k)
		}
	}
}

func TestDecodePatients(t *testing.T) {
	got, err := DecodePatients([]byte(` [] `))
	if err != nil || got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %v %v", got, err)
	}
	got, err = DecodePatients([]byte(`{"patients":[{"patient_id":3}]}`))
	if err != nil || len(got) != 1 || got[0].PatientID != 3 {
		t.Errorf("unexpected %v %v", got, err)
	}
}
