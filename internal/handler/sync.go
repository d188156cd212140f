// Package handler exposes HTTP handlers for the webhook, admin and read
// endpoints.
package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cruisesync/internal/feed"
	"github.com/iliyamo/cruisesync/internal/ingest"
	"github.com/iliyamo/cruisesync/internal/logger"
	"github.com/iliyamo/cruisesync/internal/middleware"
	"github.com/iliyamo/cruisesync/internal/normalize"
)

// Triggerer accepts and cancels runs.  *ingest.Coordinator satisfies it.
type Triggerer interface {
	Trigger(ctx context.Context, req ingest.Request) (ingest.Ticket, error)
	Cancel(runID string) error
}

// SyncHandler serves the supplier webhook and the admin sync endpoints.
type SyncHandler struct {
	Runs          Triggerer
	WebhookSecret string
	Log           logger.Logger
}

func NewSyncHandler(runs Triggerer, webhookSecret string, log logger.Logger) *SyncHandler {
	if runs == nil || log == nil {
		panic("nil dependency passed to NewSyncHandler")
	}
	return &SyncHandler{Runs: runs, WebhookSecret: webhookSecret, Log: log}
}

// webhookReq is the supplier's notification.  lineid and marketid arrive as
// numbers or strings.
type webhookReq struct {
	Event    string           `json:"event"`
	LineID   normalize.Scalar `json:"lineid"`
	MarketID normalize.Scalar `json:"marketid"`
	Currency string           `json:"currency"`
	Paths    []string         `json:"paths"`
}

type adminSyncReq struct {
	LineID   int64    `json:"line_id"`
	Paths    []string `json:"paths"`
	Currency string   `json:"currency"`
}

type acceptedResp struct {
	RunID  string `json:"run_id"`
	LineID int64  `json:"line_id"`
	Status string `json:"status"`
}

// Webhook: accept a supplier notification and start a run for its line.
// Responds 202 accepted, 409 line_busy or 400 invalid_payload.
func (h *SyncHandler) Webhook(c echo.Context) error {
	if h.WebhookSecret != "" {
		got := c.Request().Header.Get("X-Webhook-Secret")
		if got == "" {
			got = c.QueryParam("secret")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.WebhookSecret)) != 1 {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
		}
	}

	var req webhookReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_payload"})
	}
	lineID, ok := webhookLine(req)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_payload"})
	}
	h.Log.Info("webhook received", "event", req.Event, "line_id", lineID, "paths", len(req.Paths))
	return h.trigger(c, ingest.Request{
		LineID:   lineID,
		Paths:    req.Paths,
		Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
		Source:   ingest.SourceWebhook,
	})
}

// webhookLine takes lineid from the body, or infers it from the first path
// when the supplier left it out.
func webhookLine(req webhookReq) (int64, bool) {
	if id := req.LineID.PositiveInt(); id != nil {
		return *id, true
	}
	if len(req.Paths) == 0 {
		return 0, false
	}
	ref, err := feed.ParsePath(req.Paths[0])
	if err != nil {
		return 0, false
	}
	return ref.LineID, true
}

// AdminSync: operator trigger, same contract as the webhook.
func (h *SyncHandler) AdminSync(c echo.Context) error {
	var req adminSyncReq
	if err := c.Bind(&req); err != nil || req.LineID <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_payload"})
	}
	h.Log.Info("manual sync requested", "line_id", req.LineID, "by", middleware.Subject(c))
	return h.trigger(c, ingest.Request{
		LineID:   req.LineID,
		Paths:    req.Paths,
		Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
		Source:   ingest.SourceManual,
	})
}

func (h *SyncHandler) trigger(c echo.Context, req ingest.Request) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	t, err := h.Runs.Trigger(ctx, req)
	switch {
	case err == nil:
		return c.JSON(http.StatusAccepted, acceptedResp{RunID: t.RunID, LineID: t.LineID, Status: "accepted"})
	case errors.Is(err, ingest.ErrLineBusy):
		return c.JSON(http.StatusConflict, echo.Map{"error": "line_busy"})
	case errors.Is(err, ingest.ErrInvalidRequest):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_payload"})
	default:
		h.Log.Error("trigger failed", "line_id", req.LineID, "source", req.Source, "error", err)
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "unavailable"})
	}
}

// CancelRun: stop a run executing in this process.
func (h *SyncHandler) CancelRun(c echo.Context) error {
	runID := c.Param("runID")
	if err := h.Runs.Cancel(runID); err != nil {
		if errors.Is(err, ingest.ErrRunNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "run_not_found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "cancel failed"})
	}
	h.Log.Info("run cancel requested", "run_id", runID, "by", middleware.Subject(c))
	return c.JSON(http.StatusAccepted, echo.Map{"run_id": runID, "status": "cancelling"})
}
