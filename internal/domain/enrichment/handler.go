package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/dxenrich/pkg/pagination"
)

// Handler provides REST endpoints for enrichment runs.
type Handler struct {
	svc *Service
}

// NewHandler creates a new enrichment handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers enrichment routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/enrichment")
	g.POST("", h.Enrich)
	g.GET("/runs", h.ListRuns)
	g.GET("/runs/:id", h.GetRun)
}

// DecodePatients accepts either a JSON array of patient records or an object
// with a "patients" array.
func DecodePatients(body []byte) ([]PatientRecord, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("request body is empty")
	}
	var records []PatientRecord
	if body[0] == '{' {
		var env struct {
			Patients *[]PatientRecord `json:"patients"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, err
		}
		if env.Patients == nil {
			return nil, errors.New(`object body must contain a "patients" array`)
		}
		records = *env.Patients
	} else if err := json.Unmarshal(body, &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []PatientRecord{}
	}
	return records, nil
}

// Enrich handles POST /api/v1/enrichment?strategy=...
func (h *Handler) Enrich(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, "read request body: "+err.Error())
	}
	records, err := DecodePatients(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient records: "+err.Error())
	}

	run, err := h.svc.Run(c.Request().Context(), c.QueryParam("strategy"), records)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, run)
	case errors.Is(err, ErrUnknownStrategy):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, context.Canceled):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
}

// ListRuns handles GET /api/v1/enrichment/runs
func (h *Handler) ListRuns(c echo.Context) error {
	p := pagination.FromContext(c)
	runs, total, err := h.svc.ListRuns(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"runs":     runs,
		"total":    total,
		"limit":    p.Limit,
		"offset":   p.Offset,
		"has_more": p.HasNext(total),
	})
}

// GetRun handles GET /api/v1/enrichment/runs/:id
func (h *Handler) GetRun(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid run id")
	}
	run, err := h.svc.GetRun(c.Request().Context(), id)
	if errors.Is(err, ErrRunNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, run)
}
