package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"guardian.org/internal/auth"
	"guardian.org/internal/guard"
	"guardian.org/internal/ratelimit"
	"guardian.org/internal/rbac"
	"guardian.org/internal/store/memstore"
)

const testPassword = "correct-horse-battery"

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *memstore.Store
	t       *testing.T
}

type envelopeResponse struct {
	Code      int             `json:"code"`
	Msg       string          `json:"msg"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	RequestID string          `json:"request_id"`
}

func newTestAPI(t *testing.T, limit int) *apiClient {
	t.Helper()

	store := memstore.New()
	seedFixtures(t, store)

	tokens, err := auth.NewTokenManager("httpapi-test-secret", store.Revocations(context.Background()))
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	accounts, err := auth.NewAuthenticator(store, tokens)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	limiter, err := ratelimit.New(ratelimit.Config{MaxRequests: limit, Window: time.Minute})
	if err != nil {
		t.Fatalf("ratelimit.New: %v", err)
	}
	evaluator := rbac.NewEvaluator(store)
	pipeline, err := guard.New(limiter, tokens, evaluator)
	if err != nil {
		t.Fatalf("guard.New: %v", err)
	}
	api, err := New(Deps{
		Pipeline:       pipeline,
		Accounts:       accounts,
		Permissions:    evaluator,
		Version:        "test",
		RequestTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		store:   store,
		t:       t,
	}
}

func seedFixtures(t *testing.T, store *memstore.Store) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	for _, a := range []auth.AdminIdentity{
		{ID: "adm-root", Username: "root", IsSuperAdmin: true},
		{ID: "adm-ops", Username: "ops"},
		{ID: "adm-plain", Username: "plain"},
	} {
		a.PasswordHash = string(hash)
		must(store.AddAdmin(a))
	}
	get, path := "GET", APIPrefix+"/admins/{id}/permissions"
	must(store.AddRole(auth.Role{ID: "role-admin", Code: "admin", Name: "Administrator"}))
	must(store.AddPermission(auth.Permission{
		ID: "perm-read", Code: "admin:read", Name: "Read permissions",
		ResourceType: auth.ResourceTypeAPI, HTTPMethod: &get, ResourcePath: &path,
	}))
	must(store.Grant("role-admin", "perm-read"))
	must(store.Assign("adm-ops", "role-admin"))
}

func (c *apiClient) do(method, path string, body any, token string) (*http.Response, envelopeResponse) {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var env envelopeResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		c.t.Fatalf("decode response: %v", err)
	}
	return resp, env
}

func (c *apiClient) login(username, password string) auth.TokenPair {
	c.t.Helper()
	resp, env := c.do(http.MethodPost, APIPrefix+"/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, "")
	if resp.StatusCode != http.StatusOK || env.Code != CodeSuccess {
		c.t.Fatalf("login %s: status=%d code=%d msg=%s", username, resp.StatusCode, env.Code, env.Msg)
	}
	return decodeData[auth.TokenPair](c.t, env)
}

func decodeData[T any](t *testing.T, env envelopeResponse) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, env envelopeResponse, status, code int) {
	t.Helper()
	if resp.StatusCode != status || env.Code != code {
		t.Fatalf("expected %d/%d, got %d/%d (%s)", status, code, resp.StatusCode, env.Code, env.Msg)
	}
}

func TestLoginRefreshLogoutFlow(t *testing.T) {
	c := newTestAPI(t, 100)

	pair := c.login("ops", testPassword)
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.ExpiresIn != 900 {
		t.Fatalf("unexpected pair: %+v", pair)
	}

	resp, env := c.do(http.MethodPost, APIPrefix+"/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken}, "")
	expectStatus(t, resp, env, http.StatusOK, CodeSuccess)
	rotated := decodeData[auth.AccessToken](t, env)
	if rotated.AccessToken == "" {
		t.Fatal("expected rotated access token")
	}

	resp, env = c.do(http.MethodPost, APIPrefix+"/auth/logout", map[string]string{"refresh_token": pair.RefreshToken}, rotated.AccessToken)
	expectStatus(t, resp, env, http.StatusOK, CodeSuccess)

	resp, env = c.do(http.MethodPost, APIPrefix+"/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken}, "")
	expectStatus(t, resp, env, http.StatusUnauthorized, CodeAuthFailed)
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}
}

func TestLogoutRejectsForeignRefreshToken(t *testing.T) {
	c := newTestAPI(t, 100)
	ops := c.login("ops", testPassword)
	plain := c.login("plain", testPassword)

	resp, env := c.do(http.MethodPost, APIPrefix+"/auth/logout", map[string]string{"refresh_token": ops.RefreshToken}, plain.AccessToken)
	expectStatus(t, resp, env, http.StatusForbidden, CodePermissionDenied)
}

func TestLoginFailures(t *testing.T) {
	c := newTestAPI(t, 100)

	resp, env := c.do(http.MethodPost, APIPrefix+"/auth/login", map[string]string{"username": "ghost", "password": "whatever"}, "")
	expectStatus(t, resp, env, http.StatusUnauthorized, CodeAuthFailed)

	for i := 0; i < 4; i++ {
		resp, env = c.do(http.MethodPost, APIPrefix+"/auth/login", map[string]string{"username": "plain", "password": "nope"}, "")
		expectStatus(t, resp, env, http.StatusUnauthorized, CodeAuthFailed)
	}
	resp, env = c.do(http.MethodPost, APIPrefix+"/auth/login", map[string]string{"username": "plain", "password": "nope"}, "")
	expectStatus(t, resp, env, http.StatusLocked, CodeAccountLocked)

	resp, env = c.do(http.MethodPost, APIPrefix+"/auth/login", map[string]string{"username": "plain", "password": testPassword}, "")
	expectStatus(t, resp, env, http.StatusLocked, CodeAccountLocked)

	resp, env = c.do(http.MethodPost, APIPrefix+"/auth/login", map[string]any{"username": "plain", "extra": 1}, "")
	expectStatus(t, resp, env, http.StatusBadRequest, CodeValidation)
}

func TestAdminRoutesRunFullPipeline(t *testing.T) {
	c := newTestAPI(t, 100)
	root := c.login("root", testPassword)
	ops := c.login("ops", testPassword)
	plain := c.login("plain", testPassword)

	permsPath := APIPrefix + "/admins/adm-ops/permissions"

	resp, env := c.do(http.MethodGet, permsPath, nil, ops.AccessToken)
	expectStatus(t, resp, env, http.StatusOK, CodeSuccess)
	perms := decodeData[[]permissionView](t, env)
	if len(perms) != 1 || perms[0].Code != "admin:read" {
		t.Fatalf("unexpected permissions: %+v", perms)
	}

	resp, env = c.do(http.MethodPost, APIPrefix+"/admins/adm-plain/unlock", nil, ops.AccessToken)
	expectStatus(t, resp, env, http.StatusForbidden, CodePermissionDenied)

	resp, env = c.do(http.MethodGet, permsPath, nil, plain.AccessToken)
	expectStatus(t, resp, env, http.StatusForbidden, CodePermissionDenied)

	resp, env = c.do(http.MethodGet, permsPath, nil, "")
	expectStatus(t, resp, env, http.StatusUnauthorized, CodeAuthFailed)

	resp, env = c.do(http.MethodGet, permsPath, nil, ops.RefreshToken)
	expectStatus(t, resp, env, http.StatusUnauthorized, CodeAuthFailed)

	resp, env = c.do(http.MethodPost, APIPrefix+"/admins/adm-plain/unlock", nil, root.AccessToken)
	expectStatus(t, resp, env, http.StatusOK, CodeSuccess)

	resp, env = c.do(http.MethodPost, APIPrefix+"/admins/missing/unlock", nil, root.AccessToken)
	expectStatus(t, resp, env, http.StatusNotFound, CodeValidation)
}

func TestRateLimitRunsBeforeAuthentication(t *testing.T) {
	c := newTestAPI(t, 2)
	path := APIPrefix + "/auth/me"

	for i := 0; i < 2; i++ {
		resp, env := c.do(http.MethodGet, path, nil, "")
		expectStatus(t, resp, env, http.StatusUnauthorized, CodeAuthFailed)
	}
	resp, env := c.do(http.MethodGet, path, nil, "garbage")
	expectStatus(t, resp, env, http.StatusTooManyRequests, CodeRateLimited)
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if env.RequestID == "" {
		t.Fatal("expected request_id in envelope")
	}

	health, err := c.client.Get(c.baseURL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("operational endpoints must bypass the limiter, got %d", health.StatusCode)
	}
}

func TestTwoFactorLifecycle(t *testing.T) {
	c := newTestAPI(t, 100)
	pair := c.login("ops", testPassword)

	resp, env := c.do(http.MethodPost, APIPrefix+"/auth/2fa/setup", nil, pair.AccessToken)
	expectStatus(t, resp, env, http.StatusOK, CodeSuccess)
	enrollment := decodeData[auth.TwoFactorEnrollment](t, env)
	if enrollment.Secret == "" || enrollment.OTPAuthURL == "" || enrollment.QRCodeURL == "" {
		t.Fatalf("incomplete enrollment: %+v", enrollment)
	}

	resp, env = c.do(http.MethodPost, APIPrefix+"/auth/2fa/setup", nil, pair.AccessToken)
	expectStatus(t, resp, env, http.StatusConflict, CodeTwoFactorEnabled)

	resp, env = c.do(http.MethodPost, APIPrefix+"/auth/login", map[string]string{"username": "ops", "password": testPassword}, "")
	expectStatus(t, resp, env, http.StatusUnauthorized, CodeInvalidTwoFactor)

	code, err := auth.GenerateTOTPCode(enrollment.Secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateTOTPCode: %v", err)
	}
	resp, env = c.do(http.MethodPost, APIPrefix+"/auth/2fa/verify", map[string]string{"code": code}, pair.AccessToken)
	expectStatus(t, resp, env, http.StatusOK, CodeSuccess)

	resp, env = c.do(http.MethodPost, APIPrefix+"/auth/login", map[string]string{
		"username": "ops", "password": testPassword, "two_fa_code": code,
	}, "")
	expectStatus(t, resp, env, http.StatusOK, CodeSuccess)

	resp, env = c.do(http.MethodPost, APIPrefix+"/auth/2fa/disable", nil, pair.AccessToken)
	expectStatus(t, resp, env, http.StatusOK, CodeSuccess)

	resp, env = c.do(http.MethodPost, APIPrefix+"/auth/2fa/disable", nil, pair.AccessToken)
	expectStatus(t, resp, env, http.StatusBadRequest, CodeTwoFactorNotEnabled)
}

func TestPasswordChangeAndMe(t *testing.T) {
	c := newTestAPI(t, 100)
	pair := c.login("plain", testPassword)

	resp, env := c.do(http.MethodPut, APIPrefix+"/auth/password", map[string]string{
		"old_password": "wrong", "new_password": "a-new-passphrase",
	}, pair.AccessToken)
	expectStatus(t, resp, env, http.StatusUnauthorized, CodeAuthFailed)

	resp, env = c.do(http.MethodPut, APIPrefix+"/auth/password", map[string]string{
		"old_password": testPassword, "new_password": "a-new-passphrase",
	}, pair.AccessToken)
	expectStatus(t, resp, env, http.StatusOK, CodeSuccess)

	c.login("plain", "a-new-passphrase")

	resp, env = c.do(http.MethodGet, APIPrefix+"/auth/me", nil, pair.AccessToken)
	expectStatus(t, resp, env, http.StatusOK, CodeSuccess)
	me := decodeData[profileResponse](t, env)
	if me.ID != "adm-plain" || me.Username != "plain" || me.TwoFactorEnabled || me.LastLoginAt == nil {
		t.Fatalf("unexpected profile: %+v", me)
	}
}

func TestPasswordResetRequiresTwoFactor(t *testing.T) {
	c := newTestAPI(t, 100)
	resp, env := c.do(http.MethodPost, APIPrefix+"/auth/password/reset", map[string]string{
		"username": "plain", "code": "123456", "new_password": "a-new-passphrase",
	}, "")
	expectStatus(t, resp, env, http.StatusBadRequest, CodeTwoFactorNotEnabled)
}

func TestHealthAndInfo(t *testing.T) {
	c := newTestAPI(t, 100)
	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp, err := c.client.Get(c.baseURL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: status %d", path, resp.StatusCode)
		}
		if resp.Header.Get("X-Request-ID") == "" {
			t.Fatalf("GET %s: missing X-Request-ID", path)
		}
	}
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	c := newTestAPI(t, 100)
	resp, env := c.do(http.MethodGet, APIPrefix+"/nope", nil, "")
	if resp.StatusCode != http.StatusNotFound || env.Code != CodeValidation {
		t.Fatalf("unexpected response %d/%d", resp.StatusCode, env.Code)
	}
}
