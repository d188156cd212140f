package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cruisesync/internal/lock"
	"github.com/iliyamo/cruisesync/internal/logger"
	"github.com/iliyamo/cruisesync/internal/middleware"
)

// LockAdmin is the operator side of lock.Manager.
type LockAdmin interface {
	ListActive(ctx context.Context) ([]lock.Info, error)
	ForceClear(ctx context.Context, lineID int64) (bool, error)
	ClearStale(ctx context.Context) ([]int64, error)
}

// LockHandler lists and clears ingestion locks.
type LockHandler struct {
	Locks LockAdmin
	Log   logger.Logger
}

func NewLockHandler(locks LockAdmin, log logger.Logger) *LockHandler {
	if locks == nil || log == nil {
		panic("nil dependency passed to NewLockHandler")
	}
	return &LockHandler{Locks: locks, Log: log}
}

type lockView struct {
	LineID      int64     `json:"line_id"`
	Owner       string    `json:"owner"`
	AcquiredAt  time.Time `json:"acquired_at"`
	RefreshedAt time.Time `json:"refreshed_at"`
	AgeSeconds  float64   `json:"age_seconds"`
	TTLSeconds  float64   `json:"ttl_remaining_seconds"`
	Stale       bool      `json:"stale"`
}

type clearReq struct {
	LineID    *int64 `json:"line_id"`
	StaleOnly bool   `json:"stale_only"`
}

// List: active locks with age.
func (h *LockHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	infos, err := h.Locks.ListActive(ctx)
	if err != nil {
		h.Log.Error("list locks failed", "error", err)
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "lock store unavailable"})
	}
	out := make([]lockView, 0, len(infos))
	for _, i := range infos {
		out = append(out, lockView{
			LineID:      i.LineID,
			Owner:       i.Owner,
			AcquiredAt:  i.AcquiredAt,
			RefreshedAt: i.RefreshedAt,
			AgeSeconds:  i.Age.Seconds(),
			TTLSeconds:  i.Remaining.Seconds(),
			Stale:       i.Stale,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}

// Clear: force-clear one line, or every stale lock.  A run still holding a
// cleared lock aborts at its next ownership check.
func (h *LockHandler) Clear(c echo.Context) error {
	var req clearReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_payload"})
	}
	if (req.LineID == nil) == !req.StaleOnly || (req.LineID != nil && *req.LineID <= 0) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "give exactly one of line_id or stale_only"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if req.LineID != nil {
		cleared, err := h.Locks.ForceClear(ctx, *req.LineID)
		if err != nil {
			h.Log.Error("force clear failed", "line_id", *req.LineID, "error", err)
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "lock store unavailable"})
		}
		h.Log.Warn("lock force-cleared", "line_id", *req.LineID, "cleared", cleared, "by", middleware.Subject(c))
		lines := []int64{}
		if cleared {
			lines = append(lines, *req.LineID)
		}
		return c.JSON(http.StatusOK, echo.Map{"cleared": lines})
	}

	lines, err := h.Locks.ClearStale(ctx)
	if err != nil {
		h.Log.Error("clear stale locks failed", "error", err)
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "lock store unavailable"})
	}
	if lines == nil {
		lines = []int64{}
	}
	h.Log.Warn("stale locks cleared", "lines", lines, "by", middleware.Subject(c))
	return c.JSON(http.StatusOK, echo.Map{"cleared": lines})
}
