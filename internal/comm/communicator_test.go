package comm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"endpointagent/internal/model"
	"endpointagent/internal/queue"
	"endpointagent/internal/transport"
)

func signedToken(t *testing.T, expIn time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{"exp": time.Now().Add(expIn).Unix()}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func newTestCommunicator(t *testing.T, host string, port int) *Communicator {
	t.Helper()
	q, err := queue.Open(filepath.Join(t.TempDir(), "q.db"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	client := transport.New(transport.Options{})
	token := &model.TokenState{}
	identity := model.NewAgentIdentity("agent-uuid", "agent-key", nil)
	cfg := Config{
		Host:             host,
		Port:             port,
		RetryInterval:    10 * time.Millisecond,
		BatchingInterval: 10 * time.Millisecond,
		PreExpiry:        0,
		MaxBatchBytes:    1 << 20,
	}
	return New(cfg, client, token, identity, q)
}

func TestAuthenticateParsesExpClaim(t *testing.T) {
	tok := signedToken(t, 2*time.Minute)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"token":"` + tok + `"}`))
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	c := newTestCommunicator(t, host, port)

	err := c.Authenticate(context.Background())
	require.NoError(t, err)

	bearer, exp := c.token.Get()
	assert.Equal(t, tok, bearer)
	assert.InDelta(t, time.Now().Add(2*time.Minute).Unix(), exp, 2)
}

func TestTryReAuthenticateCoalescesConcurrentCallers(t *testing.T) {
	c := newTestCommunicator(t, "127.0.0.1", 0)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.TryReAuthenticate()
		}()
	}
	wg.Wait()

	assert.Len(t, c.triggerCh, 1, "exactly one wake-up should have been queued regardless of caller count")
	assert.True(t, c.reauthing.Load())
}

func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u.Hostname(), port
}
