package api

import (
	"errors"
	"net/http"

	"BrentBreaks/internal/domain/models"
	"BrentBreaks/internal/service/ratelimit"
	"BrentBreaks/internal/usecase"
	xhttp "BrentBreaks/pkg/http"
	xlogger "BrentBreaks/pkg/logger"

	"github.com/labstack/echo/v4"
)

// BrentHandler serves the read-only dashboard API.
type BrentHandler struct {
	q  *usecase.QueryService
	rl *ratelimit.Limiter
	l  *xlogger.Logger
}

func NewBrentHandler(q *usecase.QueryService, rl *ratelimit.Limiter, l *xlogger.Logger) *BrentHandler {
	if l == nil {
		l = xlogger.Nop()
	}
	return &BrentHandler{q: q, rl: rl, l: l}
}

func (h *BrentHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Index)
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	if h.rl != nil {
		g.Use(h.rl.Middleware())
	}
	g.GET("/prices", h.Prices)
	g.GET("/events", h.Events)
	g.GET("/events/:id/price-impact", h.EventPriceImpact)
	g.GET("/event-types", h.EventTypes)
	g.GET("/stats", h.Stats)
	g.GET("/change-points", h.ChangePoints)
	g.GET("/event-impact/:id", h.EventImpact)
	g.GET("/validation", h.Validation)
	g.GET("/snapshots/:fingerprint", h.Snapshot)
}

func (h *BrentHandler) Index(c echo.Context) error {
	st, err := h.q.Status(c.Request().Context())
	if err != nil {
		return h.fail(c, "index", err)
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *BrentHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

func (h *BrentHandler) Prices(c echo.Context) error {
	req := &models.PriceSeriesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	s, err := h.q.Prices(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "prices", err)
	}
	return xhttp.SuccessResponse(c, s.Points)
}

func (h *BrentHandler) Events(c echo.Context) error {
	req := &models.EventsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	events, err := h.q.Events(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "events", err)
	}
	return xhttp.SuccessResponse(c, events)
}

func (h *BrentHandler) EventTypes(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.q.EventTypes())
}

func (h *BrentHandler) Stats(c echo.Context) error {
	st, err := h.q.Stats(c.Request().Context())
	if err != nil {
		return h.fail(c, "stats", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, st)
}

func (h *BrentHandler) ChangePoints(c echo.Context) error {
	req := &models.ChangePointsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	resp, err := h.q.ChangePoints(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "change_points", err)
	}
	return xhttp.SuccessResponse(c, resp)
}

func (h *BrentHandler) EventImpact(c echo.Context) error {
	req := &models.EventImpactRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	resp, err := h.q.EventImpact(c.Request().Context(), req.ID)
	if err != nil {
		return h.fail(c, "event_impact", err)
	}
	return xhttp.SuccessResponse(c, resp)
}

func (h *BrentHandler) EventPriceImpact(c echo.Context) error {
	req := &models.EventPriceImpactRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	resp, err := h.q.EventPriceImpact(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "event_price_impact", err)
	}
	return xhttp.SuccessResponse(c, resp)
}

func (h *BrentHandler) Validation(c echo.Context) error {
	resp, err := h.q.Validation(c.Request().Context())
	if err != nil {
		return h.fail(c, "validation", err)
	}
	return xhttp.SuccessResponse(c, resp)
}

// Snapshot serves one immutable snapshot, so it may be cached freely.
func (h *BrentHandler) Snapshot(c echo.Context) error {
	req := &models.SnapshotRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	snap, err := h.q.Snapshot(c.Request().Context(), req.Fingerprint)
	if err != nil {
		return h.fail(c, "snapshot", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "public, max-age=86400, immutable")
	return xhttp.SuccessResponse(c, snap)
}

// fail maps use-case errors onto application error envelopes.
func (h *BrentHandler) fail(c echo.Context, op string, err error) error {
	var (
		insufficient *models.InsufficientDataError
		inference    *models.InferenceFailureError
		appErr       *xhttp.AppError
	)
	switch {
	case errors.Is(err, usecase.ErrNotFound):
		appErr = xhttp.NotFoundError(err.Error())
	case errors.Is(err, usecase.ErrInvalidQuery):
		appErr = xhttp.BadRequestError(err.Error())
	case errors.As(err, &insufficient):
		appErr = xhttp.InsufficientDataError(insufficient.Error()).
			WithParam("length", insufficient.Length).
			WithParam("min_segment", insufficient.MinSegment)
	case errors.As(err, &inference):
		appErr = xhttp.InferenceFailedError(inference.Error()).WithParam("chains", len(inference.Chains))
	default:
		appErr = xhttp.InternalError("query failed").WithError(err)
	}
	if appErr.Status >= http.StatusInternalServerError {
		h.l.Error("api query failed", xlogger.String("op", op), xlogger.Error(err))
	} else {
		h.l.Debug("api query rejected", xlogger.String("op", op), xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}
