package stream

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genforge-dev/genforge/pkg/events"
)

func TestGateway_ServeDeliversEventsInPublishOrder(t *testing.T) {
	bus := events.NewBus()
	gw := NewGateway(bus, Config{HeartbeatInterval: time.Hour, IdleTimeout: time.Hour})

	token, err := gw.IssueToken("user-1", "gen-1")
	require.NoError(t, err)

	bus.Publish(events.New("gen-1", "schema_extraction", 0.1, "extracting"))
	bus.Publish(events.New("gen-1", "code_generation_start", 0.15, "generating"))
	bus.Publish(events.Completed("gen-1", "done"))

	req := httptest.NewRequest(http.MethodGet, "/stream?token="+token, nil)
	rec := httptest.NewRecorder()

	gw.Serve(rec, req, token)

	body := rec.Body.String()
	assert.Contains(t, body, "schema_extraction")
	idxSchema := strings.Index(body, "schema_extraction")
	idxCodegen := strings.Index(body, "code_generation_start")
	idxDone := strings.Index(body, `"status":"completed"`)
	assert.True(t, idxSchema < idxCodegen)
	assert.True(t, idxCodegen < idxDone)
}

func TestGateway_ServeRejectsUnknownToken(t *testing.T) {
	bus := events.NewBus()
	gw := NewGateway(bus, Config{})

	req := httptest.NewRequest(http.MethodGet, "/stream?token=bogus", nil)
	rec := httptest.NewRecorder()

	gw.Serve(rec, req, "bogus")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGateway_ServeRejectsSecondClaimOfSameToken(t *testing.T) {
	bus := events.NewBus()
	gw := NewGateway(bus, Config{HeartbeatInterval: time.Hour, IdleTimeout: time.Hour})

	token, err := gw.IssueToken("user-1", "gen-2")
	require.NoError(t, err)

	bus.Publish(events.Completed("gen-2", "done"))

	req1 := httptest.NewRequest(http.MethodGet, "/stream?token="+token, nil)
	rec1 := httptest.NewRecorder()
	gw.Serve(rec1, req1, token)
	assert.Equal(t, http.StatusOK, rec1.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/stream?token="+token, nil)
	rec2 := httptest.NewRecorder()
	gw.Serve(rec2, req2, token)
	assert.Equal(t, http.StatusUnauthorized, rec2.Code)
}

func TestGateway_IssueTokenInvalidatesPriorTokenForSameGeneration(t *testing.T) {
	bus := events.NewBus()
	gw := NewGateway(bus, Config{})

	first, err := gw.IssueToken("user-1", "gen-3")
	require.NoError(t, err)
	_, err = gw.IssueToken("user-1", "gen-3")
	require.NoError(t, err)

	_, ok := gw.tokens.claim(first)
	assert.False(t, ok)
}

func TestGateway_ServeClosesOnIdleTimeoutWithoutConsumingTerminalEvent(t *testing.T) {
	bus := events.NewBus()
	gw := NewGateway(bus, Config{HeartbeatInterval: time.Hour, IdleTimeout: 10 * time.Millisecond})

	token, err := gw.IssueToken("user-1", "gen-4")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/stream?token="+token, nil)
	rec := httptest.NewRecorder()

	start := time.Now()
	gw.Serve(rec, req, token)
	assert.True(t, time.Since(start) < time.Second)

	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	for scanner.Scan() {
		assert.NotContains(t, scanner.Text(), "completed")
	}
}
