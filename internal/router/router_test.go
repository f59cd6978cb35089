package router

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-identity/internal/account"
	accountentity "github.com/ovaphlow/pitchfork/service-identity/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-identity/internal/config"
	"github.com/ovaphlow/pitchfork/service-identity/internal/media"
	"github.com/ovaphlow/pitchfork/service-identity/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-identity/internal/projection"
	projectionentity "github.com/ovaphlow/pitchfork/service-identity/internal/projection/entity"
	"github.com/ovaphlow/pitchfork/service-identity/internal/session"
	"github.com/ovaphlow/pitchfork/service-identity/internal/subscription"
	"github.com/ovaphlow/pitchfork/service-identity/internal/testutil/memstore"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/utilities"
)

type nopRemote struct{}

func (nopRemote) Upload(_ context.Context, prefix string, file media.LocalFile) (accountentity.Asset, error) {
	key := prefix + "/" + file.Filename
	return accountentity.Asset{URL: "https://cdn.test/" + key, RemoteID: key}, nil
}

func (nopRemote) Delete(context.Context, string) error { return nil }

type testServer struct {
	handler http.Handler
	store   *memstore.Store
	clock   *clockwork.FakeClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	store := memstore.New(clock)
	logger := zap.NewNop().Sugar()
	reg, m := metrics.NewRegistry()
	fs := afero.NewMemMapFs()

	tokenCfg := config.TokenConfig{
		AccessSecret:  "router-access-secret-0001",
		RefreshSecret: "router-refresh-secret-0002",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    240 * time.Hour,
		Issuer:        "identity-test",
	}
	mediaCfg := config.MediaConfig{UploadTimeout: time.Second, DeleteAttempts: 1, MaxUploadBytes: 1 << 20}

	tokens := session.NewTokenService(store, tokenCfg, clock, m, logger)
	orch := media.NewOrchestrator(nopRemote{}, store, fs, mediaCfg, m, logger)
	accounts := account.NewService(store, orch, tokens, account.BcryptHasher{Cost: bcrypt.MinCost}, utilities.NewIDGenerator(1), time.Second, m, logger)

	h := RegisterRoutes(Deps{
		Accounts:      account.NewHandler(accounts, fs, mediaCfg, tokenCfg, logger),
		Sessions:      session.NewHandler(tokens, tokenCfg, logger),
		Projections:   projection.NewHandler(projection.NewService(store, logger), logger),
		Subscriptions: subscription.NewHandler(subscription.NewService(store, logger), logger),
		Workflow:      session.NewWorkflow(tokens, store, logger),
		Metrics:       metrics.Handler(reg),
		Logger:        logger,
	})
	return &testServer{handler: h, store: store, clock: clock}
}

func (s *testServer) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func jsonRequest(method, path, bearer string, payload any) *http.Request {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(payload)
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return req
}

func registerRequest(t *testing.T, fields map[string]string, withAvatar bool) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if withAvatar {
		fw, err := mw.CreateFormFile("avatar", "me.png")
		require.NoError(t, err)
		_, err = fw.Write([]byte("\x89PNG\r\n\x1a\nbody"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, basePath+"/users/register", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func data(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	d, ok := body["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %v", body)
	return d
}

func (s *testServer) registerAndLogin(t *testing.T, username string) (access, refresh string) {
	t.Helper()
	rec, _ := s.do(t, registerRequest(t, map[string]string{
		"fullName": "Test " + username, "email": username + "@example.com", "username": username, "password": "pw-" + username,
	}, true))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, body := s.do(t, jsonRequest(http.MethodPost, basePath+"/users/login", "", map[string]string{
		"username": username, "password": "pw-" + username,
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	d := data(t, body)
	return d["accessToken"].(string), d["refreshToken"].(string)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec, _ := s.do(t, httptest.NewRequest(http.MethodGet, basePath+"/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestRegisterLoginRefreshReplay(t *testing.T) {
	s := newTestServer(t)

	rec, body := s.do(t, registerRequest(t, map[string]string{
		"fullName": "Ada Lovelace", "email": "Ada@Example.com", "username": "Ada", "password": "analytical",
	}, true))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	profile := data(t, body)
	assert.Equal(t, "ada", profile["username"])
	assert.Equal(t, "https://cdn.test/avatars/me.png", profile["avatar"])
	assert.NotContains(t, rec.Body.String(), "password")
	assert.NotContains(t, rec.Body.String(), "refreshToken")

	rec, body = s.do(t, jsonRequest(http.MethodPost, basePath+"/users/login", "", map[string]string{
		"email": "ada@example.com", "password": "analytical",
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	login := data(t, body)
	refresh := login["refreshToken"].(string)
	require.NotEmpty(t, login["accessToken"])
	assert.Equal(t, "ada", login["user"].(map[string]any)["username"])

	var cookies []string
	for _, c := range rec.Result().Cookies() {
		cookies = append(cookies, c.Name)
		assert.True(t, c.HttpOnly)
	}
	assert.ElementsMatch(t, []string{session.AccessCookie, session.RefreshCookie}, cookies)

	rec, body = s.do(t, jsonRequest(http.MethodPost, basePath+"/users/refresh-token", "", map[string]string{"refreshToken": refresh}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rotated := data(t, body)["refreshToken"].(string)
	assert.NotEqual(t, refresh, rotated)

	rec, body = s.do(t, jsonRequest(http.MethodPost, basePath+"/users/refresh-token", "", map[string]string{"refreshToken": refresh}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TokenReused", body["errorKind"])

	rec, body = s.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, body)
	assert.Contains(t, rec.Body.String(), "identity_refresh_token_reuse_total 1")
}

func TestRegister_Errors(t *testing.T) {
	s := newTestServer(t)
	fields := map[string]string{"fullName": "Ada", "email": "ada@example.com", "username": "ada", "password": "pw"}

	rec, body := s.do(t, registerRequest(t, fields, false))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "avatar", body["field"])

	rec, _ = s.do(t, registerRequest(t, fields, true))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, body = s.do(t, registerRequest(t, fields, true))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Conflict", body["errorKind"])
	assert.Equal(t, false, body["success"])
}

func TestLogin_UnknownUserAndWrongPasswordLookTheSame(t *testing.T) {
	s := newTestServer(t)
	s.registerAndLogin(t, "ada")

	recA, bodyA := s.do(t, jsonRequest(http.MethodPost, basePath+"/users/login", "", map[string]string{"username": "ghost", "password": "x"}))
	recB, bodyB := s.do(t, jsonRequest(http.MethodPost, basePath+"/users/login", "", map[string]string{"username": "ada", "password": "x"}))

	assert.Equal(t, http.StatusUnauthorized, recA.Code)
	assert.Equal(t, recA.Code, recB.Code)
	assert.Equal(t, bodyA["message"], bodyB["message"])
	assert.Equal(t, bodyA["errorKind"], bodyB["errorKind"])
}

func TestProtectedRoutes(t *testing.T) {
	s := newTestServer(t)
	access, _ := s.registerAndLogin(t, "ada")

	rec, body := s.do(t, httptest.NewRequest(http.MethodGet, basePath+"/users/current-user", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthenticated", body["errorKind"])

	rec, body = s.do(t, jsonRequest(http.MethodGet, basePath+"/users/current-user", access, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ada", data(t, body)["username"])

	s.clock.Advance(16 * time.Minute)
	rec, body = s.do(t, jsonRequest(http.MethodGet, basePath+"/users/current-user", access, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TokenExpired", body["errorKind"])
}

func TestLogoutRevokesRefresh(t *testing.T) {
	s := newTestServer(t)
	access, refresh := s.registerAndLogin(t, "ada")

	rec, _ := s.do(t, jsonRequest(http.MethodPost, basePath+"/users/logout", access, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(t, jsonRequest(http.MethodPost, basePath+"/users/refresh-token", "", map[string]string{"refreshToken": refresh}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChannelAndSubscriptions(t *testing.T) {
	s := newTestServer(t)
	s.registerAndLogin(t, "chan")
	viewer, _ := s.registerAndLogin(t, "viewer")

	rec, body := s.do(t, jsonRequest(http.MethodPost, basePath+"/users/channel/chan/subscription", viewer, nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec, _ = s.do(t, jsonRequest(http.MethodPost, basePath+"/users/channel/chan/subscription", viewer, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body = s.do(t, jsonRequest(http.MethodGet, basePath+"/users/channel/CHAN", viewer, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	view := data(t, body)
	assert.EqualValues(t, 1, view["subscribersCount"])
	assert.Equal(t, true, view["isSubscribed"])

	rec, body = s.do(t, httptest.NewRequest(http.MethodGet, basePath+"/users/channel/chan", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, data(t, body)["isSubscribed"])

	rec, body = s.do(t, jsonRequest(http.MethodGet, basePath+"/users/channel/chan", "garbage", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TokenInvalid", body["errorKind"])

	rec, _ = s.do(t, jsonRequest(http.MethodPost, basePath+"/users/channel/viewer/subscription", viewer, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, jsonRequest(http.MethodDelete, basePath+"/users/channel/chan/subscription", viewer, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWatchHistoryRoutes(t *testing.T) {
	s := newTestServer(t)
	viewer, _ := s.registerAndLogin(t, "viewer")
	s.store.AddVideo(projectionVideo("vid-1", s.accountID(t, "viewer")))

	rec, _ := s.do(t, jsonRequest(http.MethodPost, basePath+"/users/watch-history", viewer, map[string]string{"videoId": "vid-1"}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec, _ = s.do(t, jsonRequest(http.MethodPost, basePath+"/users/watch-history", viewer, map[string]string{"videoId": "nope"}))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body := s.do(t, jsonRequest(http.MethodGet, basePath+"/users/watch-history", viewer, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	entries, ok := body["data"].([]any)
	require.True(t, ok)
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]any)
	assert.Equal(t, "vid-1", entry["id"])
	assert.Equal(t, "viewer", entry["owner"].(map[string]any)["username"])
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)
	rec, body := s.do(t, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NotFound", body["errorKind"])
}

func (s *testServer) accountID(t *testing.T, username string) string {
	t.Helper()
	id, err := s.store.AccountIDByUsername(context.Background(), username)
	require.NoError(t, err)
	return id
}

func projectionVideo(id, ownerID string) projectionentity.Video {
	return projectionentity.Video{ID: id, OwnerID: ownerID, Title: "clip " + id, IsPublished: true}
}

func uploadRequest(t *testing.T, method, path, bearer string, fields, files map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for field, filename := range files {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte("\x89PNG\r\n\x1a\nbody"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return req
}

func TestLegacyCoverImageFieldAndRoutes(t *testing.T) {
	s := newTestServer(t)

	rec, body := s.do(t, uploadRequest(t, http.MethodPost, basePath+"/users/register", "",
		map[string]string{"fullName": "Ada", "email": "ada@example.com", "username": "ada", "password": "pw-ada"},
		map[string]string{"avatar": "me.png", "coverimage": "cover.png"}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "https://cdn.test/covers/cover.png", data(t, body)["coverImage"])

	rec, body = s.do(t, jsonRequest(http.MethodPost, basePath+"/users/login", "", map[string]string{"username": "ada", "password": "pw-ada"}))
	require.Equal(t, http.StatusOK, rec.Code)
	access := data(t, body)["accessToken"].(string)

	rec, body = s.do(t, uploadRequest(t, http.MethodPatch, basePath+"/users/update-coverimage", access, nil,
		map[string]string{"coverimage": "next.png"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "https://cdn.test/covers/next.png", data(t, body)["coverImage"])

	s.store.AddVideo(projectionVideo("vid-1", s.accountID(t, "ada")))
	rec, _ = s.do(t, jsonRequest(http.MethodPost, basePath+"/users/watchHistory", access, map[string]string{"videoId": "vid-1"}))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, body = s.do(t, jsonRequest(http.MethodGet, basePath+"/users/watchHistory", access, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["data"], 1)
}
