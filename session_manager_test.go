package realtime

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitaflow/realtime-go-sdk/api"
)

var (
	test_sessionURL = test_baseURL + "/api/auth/session"
	test_refreshURL = test_baseURL + "/api/auth/refresh"
)

func test_token(t *testing.T, expires time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": expires.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func test_sessionBody(token string) string {
	return fmt.Sprintf(`{"user":{"id":"user-1","name":"Anna","email":"anna@example.org"},"token":%q,"expires":"2030-01-01T00:00:00Z"}`, token)
}

func newTestSessionManager(events chan api.ClientEvent) *SessionManager {
	return NewSessionManager(test_baseURL, &Options{ClientEventHandler: events})
}

func TestSessionManager_fetchSession_authenticated(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	token := test_token(t, time.Now().Add(time.Hour))
	httpmock.RegisterResponder("GET", test_sessionURL, httpmock.NewStringResponder(200, test_sessionBody(token)))

	events := make(chan api.ClientEvent, 10)
	manager := newTestSessionManager(events)
	defer manager.Close()

	var statuses []api.SessionStatus
	manager.Subscribe(func(status api.SessionStatus) { statuses = append(statuses, status) })
	assert.Equal(t, api.SessionStatus_Loading, manager.Status())

	require.NoError(t, manager.initialFetch())

	assert.Equal(t, api.SessionStatus_Authenticated, manager.Status())
	assert.Equal(t, token, manager.Token())
	assert.Equal(t, "Anna", manager.Session().User.Name)
	assert.Equal(t, []api.SessionStatus{api.SessionStatus_Authenticated}, statuses)

	event := <-events
	assert.Equal(t, api.ClientEventType_SessionChanged, event.EventType)
	assert.Equal(t, api.SessionStatus_Authenticated, event.EventData)

	// Unchanged status does not notify again.
	require.NoError(t, manager.fetchSession(false))
	assert.Len(t, statuses, 1)
}

func TestSessionManager_fetchSession_emptySession(t *testing.T) {
	for _, body := range []string{`{}`, `null`, ``, `{"user":{"id":"user-1"}}`} {
		t.Run(body, func(t *testing.T) {
			httpmock.Activate()
			defer httpmock.DeactivateAndReset()
			httpmock.RegisterResponder("GET", test_sessionURL, httpmock.NewStringResponder(200, body))

			manager := newTestSessionManager(nil)
			defer manager.Close()

			require.NoError(t, manager.initialFetch())
			assert.Equal(t, api.SessionStatus_Unauthenticated, manager.Status())
			assert.Empty(t, manager.Token())
		})
	}
}

func TestSessionManager_fetchSession_invalidJSON(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("GET", test_sessionURL, httpmock.NewStringResponder(200, `{"token":`))

	manager := newTestSessionManager(nil)
	defer manager.Close()

	assert.Error(t, manager.initialFetch())
	assert.Equal(t, api.SessionStatus_Loading, manager.Status())
}

func TestSessionManager_fetchSession_refreshOn401(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	token := test_token(t, time.Now().Add(time.Hour))
	httpmock.RegisterResponder("GET", test_sessionURL,
		httpmock.NewStringResponder(http.StatusUnauthorized, "").Then(httpmock.NewStringResponder(200, test_sessionBody(token))),
	)
	httpmock.RegisterResponder("POST", test_refreshURL, httpmock.NewStringResponder(200, `{}`))

	manager := newTestSessionManager(nil)
	defer manager.Close()

	require.NoError(t, manager.initialFetch())
	assert.Equal(t, api.SessionStatus_Authenticated, manager.Status())

	calls := httpmock.GetCallCountInfo()
	assert.Equal(t, 2, calls["GET "+test_sessionURL])
	assert.Equal(t, 1, calls["POST "+test_refreshURL])
}

func TestSessionManager_fetchSession_refreshFails(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", test_sessionURL, httpmock.NewStringResponder(http.StatusUnauthorized, ""))
	httpmock.RegisterResponder("POST", test_refreshURL, httpmock.NewStringResponder(http.StatusUnauthorized, ""))

	manager := newTestSessionManager(nil)
	defer manager.Close()

	require.NoError(t, manager.initialFetch())
	assert.Equal(t, api.SessionStatus_Unauthenticated, manager.Status())

	calls := httpmock.GetCallCountInfo()
	assert.Equal(t, 1, calls["GET "+test_sessionURL])
	assert.Equal(t, 1, calls["POST "+test_refreshURL])
}

func TestSessionManager_fetchSession_forbidden(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("GET", test_sessionURL, httpmock.NewStringResponder(http.StatusForbidden, ""))

	manager := newTestSessionManager(nil)
	defer manager.Close()

	require.NoError(t, manager.initialFetch())
	assert.Equal(t, api.SessionStatus_Unauthenticated, manager.Status())
	assert.Equal(t, 0, httpmock.GetCallCountInfo()["POST "+test_refreshURL])
}

func TestSessionManager_fetchSession_retries500(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	token := test_token(t, time.Now().Add(time.Hour))
	httpmock.RegisterResponder("GET", test_sessionURL,
		httpmock.NewStringResponder(http.StatusInternalServerError, "Internal Server Error").Then(httpmock.NewStringResponder(200, test_sessionBody(token))),
	)

	manager := newTestSessionManager(nil)
	defer manager.Close()

	require.NoError(t, manager.initialFetch())
	assert.Equal(t, api.SessionStatus_Authenticated, manager.Status())
	assert.Equal(t, 2, httpmock.GetCallCountInfo()["GET "+test_sessionURL])
}

func TestSessionManager_fetchSession_gives_up(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("GET", test_sessionURL, httpmock.NewStringResponder(http.StatusBadGateway, ""))

	manager := newTestSessionManager(nil)
	defer manager.Close()

	assert.Error(t, manager.initialFetch())
	assert.Equal(t, api.SessionStatus_Loading, manager.Status())
	assert.Equal(t, maxSessionAttempts, httpmock.GetCallCountInfo()["GET "+test_sessionURL])
}

func TestSessionManager_fetchSession_expiredToken(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	expired := test_token(t, time.Now().Add(-time.Minute))
	fresh := test_token(t, time.Now().Add(time.Hour))
	httpmock.RegisterResponder("GET", test_sessionURL,
		httpmock.NewStringResponder(200, test_sessionBody(expired)).Then(httpmock.NewStringResponder(200, test_sessionBody(fresh))),
	)
	httpmock.RegisterResponder("POST", test_refreshURL, httpmock.NewStringResponder(200, `{}`))

	manager := newTestSessionManager(nil)
	defer manager.Close()

	require.NoError(t, manager.initialFetch())
	assert.Equal(t, api.SessionStatus_Authenticated, manager.Status())
	assert.Equal(t, fresh, manager.Token())
	assert.Equal(t, 1, httpmock.GetCallCountInfo()["POST "+test_refreshURL])
}

func TestSessionManager_fetchSession_stillExpired(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	expired := test_token(t, time.Now().Add(-time.Minute))
	httpmock.RegisterResponder("GET", test_sessionURL, httpmock.NewStringResponder(200, test_sessionBody(expired)))
	httpmock.RegisterResponder("POST", test_refreshURL, httpmock.NewStringResponder(200, `{}`))

	manager := newTestSessionManager(nil)
	defer manager.Close()

	assert.Error(t, manager.initialFetch())
	assert.Equal(t, api.SessionStatus_Unauthenticated, manager.Status())
}

func TestSessionManager_headers(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", test_sessionURL, func(req *http.Request) (*http.Response, error) {
		if req.Header.Get("Cookie") != "session=abc" {
			return httpmock.NewStringResponse(http.StatusUnauthorized, ""), nil
		}
		assert.Equal(t, "application/json", req.Header.Get("Accept"))
		assert.Contains(t, req.Header.Get("User-Agent"), VERSION)
		return httpmock.NewStringResponse(200, test_sessionBody("opaque-token")), nil
	})
	httpmock.RegisterResponder("POST", test_refreshURL, httpmock.NewStringResponder(http.StatusUnauthorized, ""))

	manager := newTestSessionManager(nil)
	defer manager.Close()
	manager.AddDefaultHeader("Cookie", "session=abc")

	require.NoError(t, manager.initialFetch())
	assert.Equal(t, "opaque-token", manager.Token())
}

func TestSessionManager_InitializeAndClose(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("GET", test_sessionURL, httpmock.NewStringResponder(http.StatusForbidden, ""))

	manager := NewSessionManager(test_baseURL, &Options{SessionPollingInterval: time.Second})
	require.NoError(t, manager.Initialize())
	assert.Equal(t, api.SessionStatus_Unauthenticated, manager.Status())

	manager.Close()
	manager.Close()
}

func TestSessionManager_InitializeAfterClose(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("GET", test_sessionURL, httpmock.NewStringResponder(http.StatusForbidden, ""))

	manager := NewSessionManager(test_baseURL, &Options{SessionPollingInterval: time.Second})
	manager.Close()

	assert.ErrorIs(t, manager.Initialize(), ErrSessionManagerClosed)
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
	assert.Equal(t, api.SessionStatus_Loading, manager.Status())

	manager.mu.RLock()
	defer manager.mu.RUnlock()
	assert.Nil(t, manager.ticker)
}

func TestSessionManager_CloseInterruptsRetry(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	requested := make(chan struct{}, maxSessionAttempts)
	httpmock.RegisterResponder("GET", test_sessionURL, func(req *http.Request) (*http.Response, error) {
		requested <- struct{}{}
		return httpmock.NewStringResponse(http.StatusBadGateway, ""), nil
	})

	manager := newTestSessionManager(nil)
	done := make(chan error, 1)
	go func() { done <- manager.initialFetch() }()

	<-requested
	start := time.Now()
	manager.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(start), 150*time.Millisecond)
	case <-time.After(5 * time.Second):
		t.Fatal("initial fetch did not return after Close")
	}
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestTokenExpired(t *testing.T) {
	now := time.Now()

	assert.False(t, tokenExpired("opaque-token", now))
	assert.False(t, tokenExpired("", now))
	assert.False(t, tokenExpired(test_token(t, now.Add(time.Hour)), now))
	assert.True(t, tokenExpired(test_token(t, now.Add(-time.Hour)), now))
	assert.True(t, tokenExpired(test_token(t, now.Add(10*time.Second)), now))
}
