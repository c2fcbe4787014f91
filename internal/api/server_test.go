package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/bidpoints/internal/features/admin"
	"serotonyl.ru/bidpoints/internal/features/bidding"
	"serotonyl.ru/bidpoints/internal/features/joboffers"
	"serotonyl.ru/bidpoints/internal/features/ledger"
	"serotonyl.ru/bidpoints/internal/features/members"
)

const adminPassword = "s3cret"

type testAPI struct {
	srv   *httptest.Server
	locks *bidding.KeyedLocker
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	hash, err := admin.HashPassword(adminPassword, admin.HashParams{Memory: 1024, Iterations: 1, Parallelism: 1, KeyLength: 32})
	require.NoError(t, err)

	ledgerSvc := ledger.NewService(ledger.NewMemoryStore())
	membersSvc := members.NewService(members.NewMemoryStore())
	locks := bidding.NewKeyedLocker(0, time.Millisecond)
	engine := bidding.NewService(
		ledgerSvc,
		bidding.NewMemoryPool(),
		joboffers.NewMemoryDirectory(joboffers.Job{ID: "j1", Title: "Backend"}),
		membersSvc,
		locks,
		5,
	)
	adminSvc := admin.NewService(admin.NewMemoryStore(), ledgerSvc, engine, admin.Settings{PasswordHash: hash, MaxAttempts: 3, SessionTTL: time.Hour})

	s := NewServer(engine, adminSvc, 5*time.Second)
	s.EnableMetrics()
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, locks: locks}
}

type response struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func (a *testAPI) do(t *testing.T, method, path, user, body string, headers ...string) (int, http.Header, response) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rdr)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set(headerUserID, user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out response
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, resp.Header, out
}

func (a *testAPI) award(t *testing.T, user string, points int) {
	t.Helper()
	code, _, _ := a.do(t, http.MethodPost, "/api/admin/points/"+user+"/award", "", `{"points":`+itoa(points)+`,"reason":"отзыв"}`,
		headerAdminPassword, adminPassword)
	require.Equal(t, http.StatusOK, code)
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestHealthAndMetrics(t *testing.T) {
	a := newTestAPI(t)

	code, _, _ := a.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, code)

	code, _, _ = a.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestRequiresUserHeader(t *testing.T) {
	a := newTestAPI(t)

	code, _, body := a.do(t, http.MethodGet, "/api/points", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "fail", body.Status)
}

func TestAdminRequiresPassword(t *testing.T) {
	a := newTestAPI(t)

	code, _, _ := a.do(t, http.MethodPost, "/api/admin/points/u1/award", "", `{"points":10}`)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _, _ = a.do(t, http.MethodPost, "/api/admin/points/u1/award", "", `{"points":10}`, headerAdminPassword, "nope")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _, body := a.do(t, http.MethodPost, "/api/admin/points/u1/award", "", `{"points":0}`, headerAdminPassword, adminPassword)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "fail", body.Status)
}

func TestAdminLockoutAfterFailedAttempts(t *testing.T) {
	a := newTestAPI(t)
	path := "/api/admin/points/u1/award"

	for i := 0; i < 3; i++ {
		code, _, _ := a.do(t, http.MethodPost, path, "", `{"points":10}`, headerAdminPassword, "wrong")
		require.Equal(t, http.StatusUnauthorized, code)
	}

	code, header, body := a.do(t, http.MethodPost, path, "", `{"points":10}`, headerAdminPassword, adminPassword)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "fail", body.Status)
	assert.Equal(t, "3600", header.Get("Retry-After"))

	// счётчик ведётся по клиенту: другой адрес не заблокирован
	code, _, _ = a.do(t, http.MethodPost, path, "", `{"points":10}`,
		headerAdminPassword, adminPassword, "X-Real-IP", "10.0.0.9")
	assert.Equal(t, http.StatusOK, code)
}

func TestAdminClientKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.7:51000"
	assert.Equal(t, "http:192.0.2.7", adminClient(r))

	r.RemoteAddr = "10.0.0.9"
	assert.Equal(t, "http:10.0.0.9", adminClient(r))

	r.RemoteAddr = ""
	assert.Equal(t, "http:unknown", adminClient(r))
}

func TestAdminAwardSource(t *testing.T) {
	a := newTestAPI(t)
	path := "/api/admin/points/u1/award"

	code, _, body := a.do(t, http.MethodPost, path, "", `{"points":15,"source":"job_application","reason":"отклик"}`,
		headerAdminPassword, adminPassword)
	require.Equal(t, http.StatusOK, code)
	var rec ledger.Receipt
	require.NoError(t, json.Unmarshal(body.Data, &rec))
	assert.Equal(t, ledger.SourceJobApplication, rec.Entry.Source)
	assert.Equal(t, int64(15), rec.Balance)

	code, _, body = a.do(t, http.MethodPost, path, "", `{"points":15,"source":"auction"}`,
		headerAdminPassword, adminPassword)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "fail", body.Status)
}

func TestBidLifecycle(t *testing.T) {
	a := newTestAPI(t)
	a.award(t, "u1", 100)

	code, _, body := a.do(t, http.MethodPost, "/api/points/bid/j1", "u1", `{"points":30}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", body.Status)
	var placed bidding.PlaceResult
	require.NoError(t, json.Unmarshal(body.Data, &placed))
	assert.Equal(t, int64(70), placed.Balance)
	assert.Equal(t, 1, placed.Bid.Position)

	code, _, _ = a.do(t, http.MethodPost, "/api/points/bid/j1", "u1", `{"points":10}`)
	assert.Equal(t, http.StatusConflict, code, "duplicate bid")

	code, _, _ = a.do(t, http.MethodPost, "/api/points/bid/j1", "u2", `{"points":10}`)
	assert.Equal(t, http.StatusBadRequest, code, "insufficient balance")

	code, _, _ = a.do(t, http.MethodPost, "/api/points/bid/missing", "u1", `{"points":10}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _, _ = a.do(t, http.MethodPost, "/api/points/bid/j1", "u1", `{"points":`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _, body = a.do(t, http.MethodGet, "/api/points/job/j1/bids", "u1", "")
	require.Equal(t, http.StatusOK, code)
	var ranked []bidding.RankedBid
	require.NoError(t, json.Unmarshal(body.Data, &ranked))
	require.Len(t, ranked, 1)
	assert.Equal(t, "u1", ranked[0].UserID)

	code, _, body = a.do(t, http.MethodGet, "/api/points", "u1", "")
	require.Equal(t, http.StatusOK, code)
	var snap bidding.AccountSnapshot
	require.NoError(t, json.Unmarshal(body.Data, &snap))
	assert.Equal(t, int64(70), snap.TotalPoints)
	assert.Len(t, snap.Bids, 1)

	code, _, body = a.do(t, http.MethodDelete, "/api/points/bid/j1", "u1", "")
	require.Equal(t, http.StatusOK, code)
	var cancelled bidding.CancelResult
	require.NoError(t, json.Unmarshal(body.Data, &cancelled))
	assert.Equal(t, int64(30), cancelled.Refunded)
	assert.Equal(t, int64(100), cancelled.Balance)

	code, _, _ = a.do(t, http.MethodDelete, "/api/points/bid/j1", "u1", "")
	assert.Equal(t, http.StatusConflict, code, "bid is no longer active")

	code, _, body = a.do(t, http.MethodGet, "/api/points/history", "u1", "")
	require.Equal(t, http.StatusOK, code)
	var entries []ledger.Entry
	require.NoError(t, json.Unmarshal(body.Data, &entries))
	require.Len(t, entries, 3)
	assert.Equal(t, ledger.KindRefunded, entries[2].Kind)
}

func TestHistoryWithoutAccount(t *testing.T) {
	a := newTestAPI(t)

	code, _, _ := a.do(t, http.MethodGet, "/api/points/history", "ghost", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestBusyJobReturns503(t *testing.T) {
	a := newTestAPI(t)
	a.award(t, "u1", 100)

	unlock, err := a.locks.Lock(context.Background(), "job:j1")
	require.NoError(t, err)
	defer unlock()

	code, header, _ := a.do(t, http.MethodPost, "/api/points/bid/j1", "u1", `{"points":10}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "1", header.Get("Retry-After"))
}

func TestAdminCloseJob(t *testing.T) {
	a := newTestAPI(t)
	a.award(t, "u1", 100)
	a.award(t, "u2", 100)

	for _, u := range []string{"u1", "u2"} {
		code, _, _ := a.do(t, http.MethodPost, "/api/points/bid/j1", u, `{"points":10}`)
		require.Equal(t, http.StatusOK, code)
	}

	code, _, body := a.do(t, http.MethodPost, "/api/admin/jobs/j1/close", "", `{"winners":["u2"]}`, headerAdminPassword, adminPassword)
	require.Equal(t, http.StatusOK, code)
	var res bidding.CloseResult
	require.NoError(t, json.Unmarshal(body.Data, &res))
	assert.Equal(t, 1, res.Won)
	assert.Equal(t, 1, res.Lost)

	code, _, _ = a.do(t, http.MethodPost, "/api/points/bid/j1", "u1", `{"points":10}`)
	assert.Equal(t, http.StatusNotFound, code, "closed job no longer accepts bids")
}
