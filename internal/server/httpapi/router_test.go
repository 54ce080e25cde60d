package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/devplane-io/devplane/internal/clock"
	"github.com/devplane-io/devplane/internal/logging"
	"github.com/devplane-io/devplane/internal/server/dispatch"
	"github.com/devplane-io/devplane/internal/server/identity"
	"github.com/devplane-io/devplane/internal/server/ledger"
	"github.com/devplane-io/devplane/internal/server/objectstore"
	"github.com/devplane-io/devplane/internal/server/reconcile"
	"github.com/devplane-io/devplane/internal/server/sessions"
	"github.com/devplane-io/devplane/internal/server/store"
	"github.com/devplane-io/devplane/internal/server/templates"
	"github.com/devplane-io/devplane/internal/server/uploads"
)

type okVerifier struct{}

func (okVerifier) Verify(ctx context.Context, _ []byte) (bool, string, error) {
	return true, "cred-1", nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := store.New(store.NewMemoryBacking(), logging.Discard())
	t.Cleanup(st.Close)
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	objects := objectstore.NewMemory()
	ident := identity.NewService(st, clk, okVerifier{}, []byte("test-secret"), logging.Discard())
	tpls := templates.NewService(st, clk, objects, &templates.LogRunner{Objects: objects}, dispatch.Nop{}, logging.Discard())
	sess := sessions.NewService(st, clk, logging.Discard())
	ups := uploads.NewService(st, clk, objects, logging.Discard())
	rec := reconcile.NewService(st, clk, tpls, objects, logging.Discard())
	led := ledger.NewService(st, clk)
	return NewRouter(Deps{
		Identity:  ident,
		Templates: tpls,
		Sessions:  sess,
		Uploads:   ups,
		Reconcile: rec,
		Ledger:    led,
		Log:       logging.Discard(),
	})
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRegisterAndTemplateFlow(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/auth/register", "", gin.H{"email": "alice@example.com", "name": "Alice"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	token, _ := decode(t, w)["token"].(string)
	require.NotEmpty(t, token)

	w = doJSON(t, r, http.MethodPost, "/v1/templates", token, gin.H{"name": "base"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	tplID, _ := decode(t, w)["id"].(string)
	require.NotEmpty(t, tplID)

	w = doJSON(t, r, http.MethodPost, "/v1/templates/"+tplID+"/versions", token, gin.H{
		"version":  "v1",
		"manifest": gin.H{"image": "ubuntu:24.04", "features": []string{"ssh"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	verID, _ := decode(t, w)["id"].(string)

	// Nop dispatcher in tests: drive the queued build via the internal
	// reconcile endpoint, exactly what the timer does in production.
	w = doJSON(t, r, http.MethodPost, "/internal/reconcile", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(1), decode(t, w)["processedBuilds"])

	w = doJSON(t, r, http.MethodPost, "/v1/templates/"+tplID+"/versions/"+verID+"/promote", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Session lifecycle over HTTP, including the internal runtime callback.
	w = doJSON(t, r, http.MethodPost, "/v1/sessions", token, gin.H{"templateId": tplID, "name": "dev"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sessID, _ := decode(t, w)["id"].(string)

	w = doJSON(t, r, http.MethodPost, "/v1/sessions/"+sessID+"/start", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = doJSON(t, r, http.MethodPost, "/internal/sessions/"+sessID+"/running", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Runtime token round trip.
	w = doJSON(t, r, http.MethodPost, "/v1/sessions/"+sessID+"/runtime-token", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	runtimeToken, _ := decode(t, w)["token"].(string)
	w = doJSON(t, r, http.MethodGet, "/v1/runtime/session", runtimeToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Usage shows the zero-valued start event.
	w = doJSON(t, r, http.MethodGet, "/v1/usage", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestErrorKindMapping(t *testing.T) {
	r := newTestRouter(t)

	// Missing token → 401.
	w := doJSON(t, r, http.MethodGet, "/v1/templates", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "unauthorized", decode(t, w)["kind"])

	w = doJSON(t, r, http.MethodPost, "/v1/auth/register", "", gin.H{"email": "alice@example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	token, _ := decode(t, w)["token"].(string)

	// Unknown template → 404.
	w = doJSON(t, r, http.MethodGet, "/v1/templates/nope", token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	// Invalid manifest feature → 400.
	w = doJSON(t, r, http.MethodPost, "/v1/templates", token, gin.H{"name": "base"})
	tplID, _ := decode(t, w)["id"].(string)
	w = doJSON(t, r, http.MethodPost, "/v1/templates/"+tplID+"/versions", token, gin.H{
		"version":  "v1",
		"manifest": gin.H{"image": "ubuntu:24.04", "features": []string{"warp-drive"}},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	// Duplicate name → 409.
	w = doJSON(t, r, http.MethodPost, "/v1/templates", token, gin.H{"name": "base"})
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestDeviceFlowOverHTTP(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/auth/register", "", gin.H{"email": "alice@example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	browserToken, _ := decode(t, w)["token"].(string)

	w = doJSON(t, r, http.MethodPost, "/v1/auth/device/start", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	code, _ := decode(t, w)["code"].(string)
	require.NotEmpty(t, code)

	w = doJSON(t, r, http.MethodPost, "/v1/auth/device/approve", browserToken, gin.H{"code": code})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodPost, "/v1/auth/device/exchange", "", gin.H{"code": code})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	apiToken, _ := decode(t, w)["token"].(string)
	require.NotEmpty(t, apiToken)

	// The API token works against the resource surface.
	w = doJSON(t, r, http.MethodGet, "/v1/sessions", apiToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestGrantUploadOverHTTP(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/auth/register", "", gin.H{"email": "alice@example.com"})
	token, _ := decode(t, w)["token"].(string)
	w = doJSON(t, r, http.MethodPost, "/v1/templates", token, gin.H{"name": "base"})
	tplID, _ := decode(t, w)["id"].(string)
	w = doJSON(t, r, http.MethodPost, "/v1/templates/"+tplID+"/versions", token, gin.H{
		"version": "v1", "manifest": gin.H{"image": "ubuntu:24.04"},
	})
	verID, _ := decode(t, w)["id"].(string)

	w = doJSON(t, r, http.MethodPost, "/v1/versions/"+verID+"/bundle-grant", token, gin.H{"contentType": "application/gzip"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	grantID, _ := decode(t, w)["id"].(string)

	req := httptest.NewRequest(http.MethodPut, "/v1/grants/"+grantID, bytes.NewReader([]byte("bundle-bytes")))
	req.Header.Set("Content-Type", "application/gzip")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Replay → 409.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPut, "/v1/grants/"+grantID, bytes.NewReader([]byte("other")))
	req.Header.Set("Content-Type", "application/gzip")
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}
