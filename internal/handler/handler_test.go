package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cruisesync/internal/diagnostics"
	"github.com/iliyamo/cruisesync/internal/ingest"
	"github.com/iliyamo/cruisesync/internal/lock"
	"github.com/iliyamo/cruisesync/internal/logger"
	"github.com/iliyamo/cruisesync/internal/model"
	"github.com/iliyamo/cruisesync/internal/repository"
)

type fakeRuns struct {
	requests []ingest.Request
	err      error
	cancel   map[string]bool
}

func (f *fakeRuns) Trigger(_ context.Context, req ingest.Request) (ingest.Ticket, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return ingest.Ticket{}, f.err
	}
	return ingest.Ticket{RunID: "run-1", LineID: req.LineID}, nil
}

func (f *fakeRuns) Cancel(runID string) error {
	if f.cancel[runID] {
		return nil
	}
	return ingest.ErrRunNotFound
}

func call(h echo.HandlerFunc, method, target, body string, params ...string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	for i := 0; i+1 < len(params); i += 2 {
		c.SetParamNames(params[i])
		c.SetParamValues(params[i+1])
	}
	_ = h(c)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func TestWebhook_Accepted(t *testing.T) {
	runs := &fakeRuns{}
	h := NewSyncHandler(runs, "", logger.NewNop())

	rec := call(h.Webhook, http.MethodPost, "/webhooks/traveltek",
		`{"event":"cruiseline_pricing_updated","lineid":"21","currency":"gbp","marketid":1,"paths":["/2026/05/21/410/900123.json"]}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "run-1", body["run_id"])
	assert.Equal(t, "accepted", body["status"])
	assert.EqualValues(t, 21, body["line_id"])

	require.Len(t, runs.requests, 1)
	assert.Equal(t, ingest.Request{
		LineID:   21,
		Paths:    []string{"/2026/05/21/410/900123.json"},
		Currency: "GBP",
		Source:   ingest.SourceWebhook,
	}, runs.requests[0])
}

func TestWebhook_InfersLineFromPaths(t *testing.T) {
	runs := &fakeRuns{}
	h := NewSyncHandler(runs, "", logger.NewNop())

	rec := call(h.Webhook, http.MethodPost, "/webhooks/traveltek", `{"paths":["2026/05/30/7/1.json"]}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, int64(30), runs.requests[0].LineID)
}

func TestWebhook_Rejections(t *testing.T) {
	cases := []struct {
		name string
		body string
		err  error
		code int
		want string
	}{
		{"malformed json", `{"lineid":`, nil, http.StatusBadRequest, "invalid_payload"},
		{"no line", `{"event":"x"}`, nil, http.StatusBadRequest, "invalid_payload"},
		{"bad path", `{"paths":["nope"]}`, nil, http.StatusBadRequest, "invalid_payload"},
		{"busy", `{"lineid":21}`, ingest.ErrLineBusy, http.StatusConflict, "line_busy"},
		{"invalid request", `{"lineid":21}`, errors.Wrap(ingest.ErrInvalidRequest, "path"), http.StatusBadRequest, "invalid_payload"},
		{"lock store down", `{"lineid":21}`, errors.New("dial tcp: refused"), http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewSyncHandler(&fakeRuns{err: tc.err}, "", logger.NewNop())
			rec := call(h.Webhook, http.MethodPost, "/webhooks/traveltek", tc.body)
			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, tc.want, decode(t, rec)["error"])
		})
	}
}

func TestWebhook_Secret(t *testing.T) {
	runs := &fakeRuns{}
	h := NewSyncHandler(runs, "s3cret", logger.NewNop())

	rec := call(h.Webhook, http.MethodPost, "/webhooks/traveltek", `{"lineid":21}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(h.Webhook, http.MethodPost, "/webhooks/traveltek?secret=s3cret", `{"lineid":21}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, runs.requests, 1)
}

func TestAdminSync(t *testing.T) {
	runs := &fakeRuns{}
	h := NewSyncHandler(runs, "", logger.NewNop())

	rec := call(h.AdminSync, http.MethodPost, "/admin/sync", `{"line_id":21,"paths":["2026/05/21/410/900123.json"]}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, ingest.SourceManual, runs.requests[0].Source)

	rec = call(h.AdminSync, http.MethodPost, "/admin/sync", `{"line_id":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelRun(t *testing.T) {
	h := NewSyncHandler(&fakeRuns{cancel: map[string]bool{"run-1": true}}, "", logger.NewNop())

	rec := call(h.CancelRun, http.MethodPost, "/admin/runs/run-1/cancel", "", "runID", "run-1")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = call(h.CancelRun, http.MethodPost, "/admin/runs/other/cancel", "", "runID", "other")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeLocks struct {
	infos   []lock.Info
	cleared []int64
	stale   []int64
}

func (f *fakeLocks) ListActive(context.Context) ([]lock.Info, error) { return f.infos, nil }

func (f *fakeLocks) ForceClear(_ context.Context, lineID int64) (bool, error) {
	for _, i := range f.infos {
		if i.LineID == lineID {
			f.cleared = append(f.cleared, lineID)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeLocks) ClearStale(context.Context) ([]int64, error) { return f.stale, nil }

func TestLocks(t *testing.T) {
	locks := &fakeLocks{
		infos: []lock.Info{{LineID: 21, Owner: "worker-1", Age: 90 * time.Second, Remaining: 30 * time.Second}},
		stale: []int64{7},
	}
	h := NewLockHandler(locks, logger.NewNop())

	rec := call(h.List, http.MethodGet, "/admin/locks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode(t, rec)["items"].([]any)
	require.Len(t, items, 1)
	first := items[0].(map[string]any)
	assert.EqualValues(t, 21, first["line_id"])
	assert.EqualValues(t, 90, first["age_seconds"])

	rec = call(h.Clear, http.MethodPost, "/admin/locks/clear", `{"line_id":21}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{21}, locks.cleared)

	rec = call(h.Clear, http.MethodPost, "/admin/locks/clear", `{"stale_only":true}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{float64(7)}, decode(t, rec)["cleared"])

	rec = call(h.Clear, http.MethodPost, "/admin/locks/clear", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = call(h.Clear, http.MethodPost, "/admin/locks/clear", `{"line_id":21,"stale_only":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeReporter struct{ gotLine *int64 }

func (f *fakeReporter) Report(_ context.Context, lineID *int64) diagnostics.Report {
	f.gotLine = lineID
	return diagnostics.Report{Health: diagnostics.Health{Feed: true, LockStore: true}, RecentSource: "memory"}
}

func TestStatus(t *testing.T) {
	r := &fakeReporter{}
	h := NewStatusHandler(r)

	rec := call(h.Status, http.MethodGet, "/admin/status?lineId=21", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, r.gotLine)
	assert.Equal(t, int64(21), *r.gotLine)
	health := decode(t, rec)["health"].(map[string]any)
	assert.Equal(t, false, health["database"])

	rec = call(h.Status, http.MethodGet, "/admin/status?lineId=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeSailings struct {
	view *model.SailingView
	err  error
}

func (f fakeSailings) GetSailingView(context.Context, int64) (*model.SailingView, error) {
	return f.view, f.err
}

func TestGetSailing(t *testing.T) {
	day := time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC)
	class := model.CabinInterior
	gbp := "GBP"
	view := &model.SailingView{
		Definition: model.CruiseDefinition{CruiseID: 2143102, LineID: 21, ShipID: 410, Name: "7 Night Western Caribbean"},
		Sailing:    model.CruiseSailing{SailingID: 900123, SailDate: &day, IsActive: true},
		Cheapest: &model.CheapestPricingSummary{
			Interior:      decimal.NewNullDecimal(decimal.RequireFromString("749")),
			Cheapest:      decimal.NewNullDecimal(decimal.RequireFromString("749")),
			CheapestClass: &class,
			Currency:      &gbp,
		},
	}
	h := NewSailingHandler(fakeSailings{view: view})

	rec := call(h.GetSailing, http.MethodGet, "/v1/sailings/900123", "", "sailingId", "900123")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "2026-05-03", body["sail_date"])
	assert.Equal(t, []any{}, body["port_ids"])
	cheapest := body["cheapest"].(map[string]any)
	assert.Equal(t, "749.00", cheapest["interior"])
	assert.Nil(t, cheapest["suite"])
	assert.Equal(t, "interior", cheapest["cheapest_class"])
	assert.Equal(t, "7 Night Western Caribbean", body["cruise"].(map[string]any)["name"])
}

func TestGetSailing_Errors(t *testing.T) {
	cases := []struct {
		name  string
		param string
		err   error
		code  int
	}{
		{"bad id", "abc", nil, http.StatusBadRequest},
		{"not found", "1", repository.ErrNotFound, http.StatusNotFound},
		{"db down", "1", errors.Mark(errors.New("refused"), repository.ErrDatabaseUnavailable), http.StatusServiceUnavailable},
		{"other", "1", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewSailingHandler(fakeSailings{err: tc.err})
			rec := call(h.GetSailing, http.MethodGet, "/v1/sailings/"+tc.param, "", "sailingId", tc.param)
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestHealth(t *testing.T) {
	rec := call(Health, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
