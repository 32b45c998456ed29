package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"venue-sync-engine/internal/domain"
	"venue-sync-engine/internal/provider"
	"venue-sync-engine/internal/repository/memory"
	"venue-sync-engine/internal/service/health"
	"venue-sync-engine/internal/service/oauth"
	"venue-sync-engine/internal/service/queue"
	"venue-sync-engine/internal/service/vault"
)

type fixture struct {
	store        *memory.Store
	vault        *vault.Vault
	mock         *provider.MockProvider
	queue        *queue.Service
	integrations *IntegrationAPI
	oauth        *OAuthAPI
	webhooks     *WebhookAPI
	echo         *echo.Echo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	v, err := vault.NewVault(map[string]string{"v1": "test-phrase"}, "v1", store.Credentials())
	require.NoError(t, err)

	mock := provider.NewMockProvider()
	mock.WebhookSecret = "hook-secret"
	registry := provider.NewRegistry()
	registry.Register(domain.IntegrationSquare, mock)

	q := queue.NewService(store.Tasks(), queue.DefaultConfig())
	healthMon := health.NewMonitor(
		store.Integrations(), store.Tasks(), store.Health(),
		v, registry, health.DefaultConfig(),
	)
	oauthManager := oauth.NewManager(v, registry, store.Integrations())

	return &fixture{
		store:        store,
		vault:        v,
		mock:         mock,
		queue:        q,
		integrations: NewIntegrationAPI(store.Integrations(), v, q, healthMon, registry),
		oauth:        NewOAuthAPI(oauthManager),
		webhooks:     NewWebhookAPI(registry, q),
		echo:         echo.New(),
	}
}

func (f *fixture) request(method, target, body string) (*http.Request, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	return req, httptest.NewRecorder()
}

func (f *fixture) connectSquare(t *testing.T, venueID string) {
	t.Helper()

	req, rec := f.request(http.MethodPost, "/api/v1/integrations/connect",
		`{"venue_id":"`+venueID+`","integration_type":"square","key":"sq-key","secret":"sq-secret","environment":"sandbox"}`)
	c := f.echo.NewContext(req, rec)

	require.NoError(t, f.integrations.Connect(c))
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestConnect(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	f.connectSquare(t, "venue-1")

	cfg, err := f.store.Integrations().Find(context.Background(), "venue-1", domain.IntegrationSquare)
	require.NoError(err)
	require.Equal(domain.StatusConnected, cfg.Status)

	secret, err := f.vault.Get(context.Background(), "venue-1", domain.IntegrationSquare)
	require.NoError(err)
	require.Equal(domain.CredentialAPIKey, secret.Kind)
	require.Equal("sq-key", secret.APIKey.Key)
}

func TestConnect_Validation(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	req, rec := f.request(http.MethodPost, "/api/v1/integrations/connect",
		`{"venue_id":"venue-1","integration_type":"square"}`)
	c := f.echo.NewContext(req, rec)
	require.NoError(f.integrations.Connect(c))
	require.Equal(http.StatusBadRequest, rec.Code)

	// Незарегистрированный тип интеграции
	req, rec = f.request(http.MethodPost, "/api/v1/integrations/connect",
		`{"venue_id":"venue-1","integration_type":"xero","key":"k"}`)
	c = f.echo.NewContext(req, rec)
	require.NoError(f.integrations.Connect(c))
	require.Equal(http.StatusNotFound, rec.Code)
}

func TestDisconnect(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.connectSquare(t, "venue-1")

	req, rec := f.request(http.MethodDelete, "/", "")
	c := f.echo.NewContext(req, rec)
	c.SetParamNames("venue", "type")
	c.SetParamValues("venue-1", "square")

	require.NoError(f.integrations.Disconnect(c))
	require.Equal(http.StatusNoContent, rec.Code)

	// Конфигурация остается, секрет удален
	cfg, err := f.store.Integrations().Find(context.Background(), "venue-1", domain.IntegrationSquare)
	require.NoError(err)
	require.Equal(domain.StatusDisconnected, cfg.Status)

	_, err = f.vault.Get(context.Background(), "venue-1", domain.IntegrationSquare)
	require.ErrorIs(err, domain.ErrNotFound)
}

func TestDisconnect_Unknown(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	req, rec := f.request(http.MethodDelete, "/", "")
	c := f.echo.NewContext(req, rec)
	c.SetParamNames("venue", "type")
	c.SetParamValues("venue-x", "square")

	require.NoError(f.integrations.Disconnect(c))
	require.Equal(http.StatusNotFound, rec.Code)
}

func TestSyncNow(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.connectSquare(t, "venue-1")

	// payload принимается как сырой JSON, не base64
	req, rec := f.request(http.MethodPost, "/",
		`{"entity_type":"products","priority":"high","idempotency_key":"evt-1","payload":{"product_id":"prod-1"}}`)
	c := f.echo.NewContext(req, rec)
	c.SetParamNames("venue", "type")
	c.SetParamValues("venue-1", "square")

	require.NoError(f.integrations.SyncNow(c))
	require.Equal(http.StatusAccepted, rec.Code)

	var task domain.SyncTask
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &task))
	require.Equal(domain.OpSync, task.Operation)
	require.Equal(domain.PriorityHigh, task.Priority)
	require.Equal(domain.TaskPending, task.Status)
	require.JSONEq(`{"product_id":"prod-1"}`, string(task.Payload))

	// Повтор с тем же ключом идемпотентности возвращает ту же задачу
	req, rec = f.request(http.MethodPost, "/",
		`{"entity_type":"products","priority":"high","idempotency_key":"evt-1"}`)
	c = f.echo.NewContext(req, rec)
	c.SetParamNames("venue", "type")
	c.SetParamValues("venue-1", "square")

	require.NoError(f.integrations.SyncNow(c))
	require.Equal(http.StatusAccepted, rec.Code)

	var duplicate domain.SyncTask
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &duplicate))
	require.Equal(task.ID, duplicate.ID)
}

func TestSyncNow_QueueFull(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.connectSquare(t, "venue-1")

	cfg := queue.DefaultConfig()
	cfg.MaxDepthPerVenue = 1
	f.integrations.queue = queue.NewService(f.store.Tasks(), cfg)

	for i, wantCode := range []int{http.StatusAccepted, http.StatusTooManyRequests} {
		req, rec := f.request(http.MethodPost, "/", `{"entity_type":"products"}`)
		c := f.echo.NewContext(req, rec)
		c.SetParamNames("venue", "type")
		c.SetParamValues("venue-1", "square")

		require.NoError(f.integrations.SyncNow(c))
		require.Equal(wantCode, rec.Code, "request %d", i)
	}
}

func TestOAuthInitiateAndCallback(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	req, rec := f.request(http.MethodPost, "/", `{"venue_id":"venue-1"}`)
	c := f.echo.NewContext(req, rec)
	c.SetParamNames("type")
	c.SetParamValues("square")
	c.Set("user_id", "user-1")

	require.NoError(f.oauth.Initiate(c))
	require.Equal(http.StatusOK, rec.Code)

	var initiateResp map[string]string
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &initiateResp))
	authURL := initiateResp["authorization_url"]
	require.NotEmpty(authURL)
	state := authURL[strings.Index(authURL, "state=")+len("state="):]

	req, rec = f.request(http.MethodGet, "/?code=auth-code&state="+state, "")
	c = f.echo.NewContext(req, rec)
	c.SetParamNames("type")
	c.SetParamValues("square")

	require.NoError(f.oauth.Callback(c))
	require.Equal(http.StatusOK, rec.Code)

	cfg, err := f.store.Integrations().Find(context.Background(), "venue-1", domain.IntegrationSquare)
	require.NoError(err)
	require.Equal(domain.StatusConnected, cfg.Status)

	// Повторный callback с тем же state отклоняется
	req, rec = f.request(http.MethodGet, "/?code=auth-code&state="+state, "")
	c = f.echo.NewContext(req, rec)
	c.SetParamNames("type")
	c.SetParamValues("square")

	require.NoError(f.oauth.Callback(c))
	require.Equal(http.StatusUnauthorized, rec.Code)
}

func TestOAuthCallback_MissingParams(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	req, rec := f.request(http.MethodGet, "/?code=only-code", "")
	c := f.echo.NewContext(req, rec)
	c.SetParamNames("type")
	c.SetParamValues("square")

	require.NoError(f.oauth.Callback(c))
	require.Equal(http.StatusBadRequest, rec.Code)
}

func signWebhook(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookHandle(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.connectSquare(t, "venue-1")

	payload := []byte(`{"type":"payment.updated","event_id":"evt-42"}`)

	req, rec := f.request(http.MethodPost, "/", string(payload))
	req.Header.Set("X-Webhook-Signature", signWebhook("hook-secret", payload))
	c := f.echo.NewContext(req, rec)
	c.SetParamNames("venue", "type")
	c.SetParamValues("venue-1", "square")

	require.NoError(f.webhooks.Handle(c))
	require.Equal(http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &resp))

	task, err := f.store.Tasks().FindByID(context.Background(), resp["task_id"])
	require.NoError(err)
	require.Equal(domain.OpReconcile, task.Operation)
	require.NotNil(task.IdempotencyKey)
	require.Equal("evt-42", *task.IdempotencyKey)
}

func TestWebhookHandle_BadSignature(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	payload := []byte(`{"type":"payment.updated"}`)

	req, rec := f.request(http.MethodPost, "/", string(payload))
	req.Header.Set("X-Webhook-Signature", "deadbeef")
	c := f.echo.NewContext(req, rec)
	c.SetParamNames("venue", "type")
	c.SetParamValues("venue-1", "square")

	require.NoError(f.webhooks.Handle(c))
	require.Equal(http.StatusUnauthorized, rec.Code)
}
