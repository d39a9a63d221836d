package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"endpointagent/internal/model"
)

func TestPerformSynthesizes500OnFailure(t *testing.T) {
	c := New(Options{})
	resp := c.Perform(context.Background(), Params{Method: http.MethodGet, URL: "http://127.0.0.1:0/unreachable"})
	assert.Equal(t, 500, resp.StatusCode)
	assert.NotEmpty(t, resp.Body)
}

func TestPerformReturnsServerResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(Options{})
	resp := c.Perform(context.Background(), Params{Method: http.MethodGet, URL: srv.URL})
	assert.Equal(t, 200, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestCoPerformUsesCurrentBearerEachIteration(t *testing.T) {
	var seenAuth []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = append(seenAuth, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tok := &model.TokenState{}
	tok.Set("jwt1", time.Now().Add(time.Hour).Unix())

	c := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	iterations := 0

	err := c.CoPerform(ctx, CoPerformOptions{
		Method:           http.MethodGet,
		URL:              func() string { return srv.URL },
		Token:            tok,
		RetryInterval:    10 * time.Millisecond,
		BatchingInterval: 10 * time.Millisecond,
		OnSuccess: func(body []byte) {
			iterations++
			if iterations == 1 {
				tok.Set("jwt2", time.Now().Add(time.Hour).Unix())
			}
		},
		LoopCondition: func() bool {
			if iterations >= 2 {
				cancel()
				return false
			}
			return true
		},
	})
	require.NoError(t, err) // LoopCondition returned false: clean exit

	require.Len(t, seenAuth, 2)
	assert.Equal(t, "Bearer jwt1", seenAuth[0])
	assert.Equal(t, "Bearer jwt2", seenAuth[1])
}

func TestCoPerformUnauthTriggersCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tok := &model.TokenState{}
	tok.Set("stale", time.Now().Add(time.Hour).Unix())

	c := New(Options{})
	unauthCalls := 0
	err := c.CoPerform(context.Background(), CoPerformOptions{
		Method:           http.MethodGet,
		URL:              func() string { return srv.URL },
		Token:            tok,
		RetryInterval:    5 * time.Millisecond,
		BatchingInterval: 5 * time.Millisecond,
		OnUnauth:         func() { unauthCalls++ },
	})
	require.NoError(t, err) // single-shot: nil LoopCondition
	assert.Equal(t, 1, unauthCalls)
}
