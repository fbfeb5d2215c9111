package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sheetdb/internal/api"
	"github.com/roach88/sheetdb/internal/engine"
	"github.com/roach88/sheetdb/internal/metrics/prom"
	"github.com/roach88/sheetdb/internal/testutil"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	backend, err := prom.New()
	require.NoError(t, err)

	db, err := engine.Init(context.Background(), engine.Config{
		DSN:     filepath.Join(t.TempDir(), "server.db"),
		Metrics: backend,
	}, testutil.DemoTables()...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc := api.NewService(db, testutil.NewFixedRequestIDGenerator("req"))
	return New(svc, WithMetrics(backend.Handler()))
}

// do sends a request and decodes the envelope.
func do(t *testing.T, s *Server, method, target, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestCreateAndRead(t *testing.T) {
	s := newTestServer(t)

	code, env := do(t, s, http.MethodPost, "/api/CATEGORY", "")
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, 201.0, env["status"])
	data := env["data"].(map[string]any)
	assert.Equal(t, "default_name", data["name"])
	assert.Equal(t, 1.0, data["id"])

	code, env = do(t, s, http.MethodGet, "/api/CATEGORY/1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "default_name", env["data"].(map[string]any)["name"])
	assert.Equal(t, "req-0002", env["metadata"].(map[string]any)["requestId"])
}

func TestStatusMirrorsEnvelope(t *testing.T) {
	s := newTestServer(t)

	code, env := do(t, s, http.MethodPost, "/api/PRODUCT", `{"price": 4}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_FAILED", env["metadata"].(map[string]any)["error"])

	code, env = do(t, s, http.MethodGet, "/api/PRODUCT/9", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env["metadata"].(map[string]any)["error"])

	code, env = do(t, s, http.MethodGet, "/api/PRODUCT?sortBy=colour", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_QUERY", env["metadata"].(map[string]any)["error"])
}

func TestRejectedRequests(t *testing.T) {
	s := newTestServer(t)

	code, env := do(t, s, http.MethodGet, "/api/NOPE", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "UNKNOWN_TABLE", env["metadata"].(map[string]any)["error"])

	code, env = do(t, s, http.MethodGet, "/api/PRODUCT/abc", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "id must be a positive integer", env["message"])

	code, _ = do(t, s, http.MethodPost, "/api/PRODUCT", `[1, 2]`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestUpdateRemoveRestore(t *testing.T) {
	s := newTestServer(t)

	code, _ := do(t, s, http.MethodPost, "/api/PRODUCT", `{"name": "Lamp", "price": "12.50"}`)
	require.Equal(t, http.StatusCreated, code)

	code, env := do(t, s, http.MethodPatch, "/api/PRODUCT/1", `{"price": 15}`)
	require.Equal(t, http.StatusOK, code)
	data := env["data"].(map[string]any)
	assert.Equal(t, 15.0, data["price"])
	assert.Equal(t, "Lamp", data["name"])

	code, _ = do(t, s, http.MethodDelete, "/api/PRODUCT/1", "")
	require.Equal(t, http.StatusOK, code)

	code, env = do(t, s, http.MethodGet, "/api/PRODUCT/history/1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Lamp", env["data"].(map[string]any)["name"])

	code, _ = do(t, s, http.MethodPost, "/api/PRODUCT/history/1/restore", "")
	require.Equal(t, http.StatusOK, code)

	code, _ = do(t, s, http.MethodGet, "/api/PRODUCT/1", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestListingAndRelations(t *testing.T) {
	s := newTestServer(t)
	for _, step := range []struct{ path, body string }{
		{"/api/CATEGORY", `{"name": "Lighting"}`},
		{"/api/PRODUCT", `{"name": "Lamp", "price": 30, "category_fk": 1}`},
		{"/api/PRODUCT", `{"name": "Bulb", "price": 2, "category_fk": 1}`},
		{"/api/ORDER", `{"customer": "ann"}`},
		{"/api/ORDER_DETAIL", `{"order_fk": 1, "product_fk": 2, "quantity": 4}`},
	} {
		code, _ := do(t, s, http.MethodPost, step.path, step.body)
		require.Equal(t, http.StatusCreated, code, step.path)
	}

	code, env := do(t, s, http.MethodGet, "/api/PRODUCT?sortBy=price&sortOrder=DESC&pageSize=1&page=2", "")
	require.Equal(t, http.StatusOK, code)
	rows := env["data"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "Bulb", rows[0].(map[string]any)["name"])
	meta := env["metadata"].(map[string]any)
	assert.Equal(t, 2.0, meta["total"])
	assert.Equal(t, 2.0, meta["pageCount"])

	code, env = do(t, s, http.MethodGet, "/api/PRODUCT?sortBy=price&sortOrder=DESC&pageSize=1&page=2", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, env["metadata"].(map[string]any)["cached"])

	code, env = do(t, s, http.MethodGet, "/api/PRODUCT?sortBy=price&sortOrder=DESC&pageSize=1&page=2&cache=false", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, env["metadata"].(map[string]any)["cached"])

	code, env = do(t, s, http.MethodGet, "/api/CATEGORY/1/related/PRODUCT/category_fk", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, env["data"], 2)

	code, env = do(t, s, http.MethodGet, "/api/ORDER_DETAIL/1/junction/ORDER/PRODUCT", "")
	require.Equal(t, http.StatusOK, code)
	rows = env["data"].([]any)
	require.Len(t, rows, 1)
	rel := rows[0].(map[string]any)["relationship"].(map[string]any)
	assert.Equal(t, 4.0, rel["quantity"])

	code, env = do(t, s, http.MethodPost, "/api/CATEGORY/ids", `{"ids": [1, 3]}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{3.0}, env["data"].(map[string]any)["notFound"])

	code, env = do(t, s, http.MethodDelete, "/api/PRODUCT/2?cascade=true", "")
	require.Equal(t, http.StatusOK, code)
	junctions := env["data"].(map[string]any)["junctions"].([]any)
	require.Len(t, junctions, 1)

	code, env = do(t, s, http.MethodPost, "/api/ORDER_DETAIL/integrity", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "integrity check passed", env["message"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	do(t, s, http.MethodPost, "/api/CATEGORY", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `sheetdb_operations_total{op="create",status="success",table="CATEGORY"} 1`)
}

func TestPanicBecomesInternalError(t *testing.T) {
	s := newTestServer(t)
	s.App().Get("/boom", func(c *fiber.Ctx) error {
		panic("handler blew up")
	})

	code, env := do(t, s, http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, 500.0, env["status"])
	assert.Equal(t, "internal error", env["message"])
	assert.Equal(t, "INTERNAL", env["metadata"].(map[string]any)["error"])

	// the server keeps serving
	code, _ = do(t, s, http.MethodPost, "/api/CATEGORY", "")
	assert.Equal(t, http.StatusCreated, code)
}

func TestHugePageReturnsEmptyPage(t *testing.T) {
	s := newTestServer(t)
	do(t, s, http.MethodPost, "/api/CATEGORY", "")

	code, env := do(t, s, http.MethodGet, "/api/CATEGORY?page=9223372036854775807&pageSize=2&cache=false", "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, env["data"])
	meta := env["metadata"].(map[string]any)
	assert.Equal(t, 1.0, meta["total"])
	assert.Equal(t, 1.0, meta["pageCount"])

	code, env = do(t, s, http.MethodGet, "/api/CATEGORY?page=1&pageSize=9223372036854775807&cache=false", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, env["data"], 1)
	assert.Equal(t, 1.0, env["metadata"].(map[string]any)["pageCount"])
}
