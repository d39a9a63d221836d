// Package comm implements C5: the communicator owns the bearer token's
// lifecycle and runs the long-lived request loops (commands pull,
// stateful push, stateless push, and command-result push over the
// stateless endpoint) against the manager.
package comm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"endpointagent/internal/model"
	"endpointagent/internal/pkg/logger"
	"endpointagent/internal/queue"
	"endpointagent/internal/transport"
)

// Config bundles the manager endpoint and timing knobs from
// config.MasterConfig without creating a dependency on that package.
type Config struct {
	Host             string
	Port             int
	HTTPS            bool
	RetryInterval    time.Duration
	BatchingInterval time.Duration
	PreExpiry        time.Duration
	MaxBatchBytes    int
}

// Communicator is C5.
type Communicator struct {
	cfg      Config
	client   *transport.Client
	token    *model.TokenState
	identity *model.AgentIdentity
	q        *queue.Queue

	// OnCommands is called with the raw "commands" JSON array body from a
	// successful long-poll; the orchestrator decodes it and pushes each
	// entry into the queue as a COMMAND. Wiring it this way (a callback
	// passed down) avoids a back-reference from the communicator to the
	// agent.
	OnCommands func(commandsJSON []byte)

	keepRunning atomic.Bool
	reauthing   atomic.Bool
	triggerCh   chan struct{}

	wg sync.WaitGroup
}

// New constructs a Communicator. token and identity are shared with the
// rest of the agent; New does not take ownership of q's lifecycle.
func New(cfg Config, client *transport.Client, token *model.TokenState, identity *model.AgentIdentity, q *queue.Queue) *Communicator {
	c := &Communicator{
		cfg:       cfg,
		client:    client,
		token:     token,
		identity:  identity,
		q:         q,
		triggerCh: make(chan struct{}, 1),
	}
	c.keepRunning.Store(true)
	return c
}

func (c *Communicator) baseURL() string {
	scheme := "http"
	if c.cfg.HTTPS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.cfg.Host, c.cfg.Port)
}

// Stop sets the shared keep_running flag every loop's LoopCondition reads.
func (c *Communicator) Stop() {
	c.keepRunning.Store(false)
	select {
	case c.triggerCh <- struct{}{}:
	default:
	}
	c.wg.Wait()
}

func (c *Communicator) running() bool { return c.keepRunning.Load() }

// Authenticate performs a single uuid/key authentication and installs the
// resulting token, parsing its exp claim via golang-jwt.
func (c *Communicator) Authenticate(ctx context.Context) error {
	tok, ok := c.client.AuthenticateUUIDKey(ctx, c.baseURL(), c.identity.UUID, c.identity.Key)
	if !ok {
		return fmt.Errorf("authentication rejected")
	}
	exp, err := expFromJWT(tok)
	if err != nil {
		return fmt.Errorf("authentication token missing exp: %w", err)
	}
	c.token.Set(tok, exp)
	return nil
}

func expFromJWT(tok string) (int64, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(tok, claims); err != nil {
		return 0, err
	}
	expVal, ok := claims["exp"]
	if !ok {
		return 0, fmt.Errorf("no exp claim")
	}
	switch v := expVal.(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, fmt.Errorf("unexpected exp claim type %T", expVal)
	}
}

// AuthLoop runs the wait_for_token_expiration_and_authenticate state
// machine: UNAUTH -> authenticate -> AUTHED(exp) -> wait until exp -
// preExpiry or an explicit TryReAuthenticate cancel -> UNAUTH.
func (c *Communicator) AuthLoop(ctx context.Context) {
	c.wg.Add(1)
	defer c.wg.Done()

	for c.running() && ctx.Err() == nil {
		if !c.token.Authenticated() {
			if err := c.Authenticate(ctx); err != nil {
				logger.Warnf("authentication failed: %v", err)
				c.reauthing.Store(false)
				sleepCtx(ctx, time.Second)
				continue
			}
			c.reauthing.Store(false)
		}

		_, exp := c.token.Get()
		wait := time.Until(time.Unix(exp, 0)) - c.cfg.PreExpiry
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			c.token.Clear()
		case <-c.triggerCh:
			timer.Stop()
			c.token.Clear()
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// TryReAuthenticate coalesces concurrent 401/403 observations from the
// request loops into a single token refresh: the first caller wakes the
// auth loop immediately; later callers observe the in-flight flag and
// return without doing anything. The flag is cleared by AuthLoop only
// once a fresh authentication attempt has actually completed, not the
// instant it is acquired here.
func (c *Communicator) TryReAuthenticate() {
	if !c.reauthing.CompareAndSwap(false, true) {
		return
	}
	select {
	case c.triggerCh <- struct{}{}:
	default:
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// commandsEnvelope decodes the {"commands": [...]} body of a long-poll.
type commandsEnvelope struct {
	Commands []json.RawMessage `json:"commands"`
}

// RunCommandsLoop is the commands-pull loop: GET /commands (long poll),
// handing the decoded commands array to OnCommands.
func (c *Communicator) RunCommandsLoop(ctx context.Context) error {
	c.wg.Add(1)
	defer c.wg.Done()
	return c.client.CoPerform(ctx, transport.CoPerformOptions{
		Method:           "GET",
		URL:              func() string { return c.baseURL() + "/commands" },
		Token:            c.token,
		RetryInterval:    c.cfg.RetryInterval,
		BatchingInterval: 0,
		OnSuccess: func(body []byte) {
			var env commandsEnvelope
			if err := json.Unmarshal(body, &env); err != nil {
				logger.Warnf("commands body decode failed: %v", err)
				return
			}
			if c.OnCommands != nil && len(env.Commands) > 0 {
				raw, _ := json.Marshal(env.Commands)
				c.OnCommands(raw)
			}
		},
		OnUnauth:      c.TryReAuthenticate,
		LoopCondition: c.running,
	})
}

// drainBatch pulls up to maxBatchBytes worth of PENDING records of t and
// returns their JSON-encoded data blobs alongside how many were drained,
// for stateful/stateless push bodies.
func (c *Communicator) drainBatch(ctx context.Context, t model.MessageType) ([]json.RawMessage, int, error) {
	recs, err := c.q.AwaitNextN(ctx, t, 64, "")
	if err != nil {
		return nil, 0, err
	}
	var out []json.RawMessage
	total := 0
	for _, r := range recs {
		if c.cfg.MaxBatchBytes > 0 && total+len(r.DataBlob) > c.cfg.MaxBatchBytes && len(out) > 0 {
			break
		}
		out = append(out, json.RawMessage(r.DataBlob))
		total += len(r.DataBlob)
	}
	return out, len(out), nil
}

func (c *Communicator) buildPushBody(t model.MessageType) (func(ctx context.Context) ([]byte, error), func(body []byte)) {
	var lastDrainCount int
	getMessages := func(ctx context.Context) ([]byte, error) {
		blobs, n, err := c.drainBatch(ctx, t)
		if err != nil {
			return nil, err
		}
		lastDrainCount = n
		agentMeta, _ := json.Marshal(map[string]string{"uuid": c.identity.UUID})
		moduleMeta, _ := json.Marshal(map[string]string{})
		dataArr, _ := json.Marshal(blobs)
		return []byte(fmt.Sprintf("%s\n%s\n%s", agentMeta, moduleMeta, dataArr)), nil
	}
	onSuccess := func(body []byte) {
		if lastDrainCount > 0 {
			if _, err := c.q.PopN(t, lastDrainCount, ""); err != nil {
				logger.Errorf("failed to pop acked %s batch: %v", t, err)
			}
			lastDrainCount = 0
		}
	}
	return getMessages, onSuccess
}

// RunStatefulLoop is the stateful-push loop: POST /stateful.
func (c *Communicator) RunStatefulLoop(ctx context.Context) error {
	return c.runPushLoop(ctx, model.MessageStateful, "/stateful")
}

// RunStatelessLoop is the stateless-push loop: POST /stateless.
func (c *Communicator) RunStatelessLoop(ctx context.Context) error {
	return c.runPushLoop(ctx, model.MessageStateless, "/stateless")
}

// RunCommandResultsLoop drains the COMMAND_RESULT queue over the same
// /stateless endpoint used for telemetry; there is no dedicated
// command-result endpoint, so the manager distinguishes a result from an
// event by its module/module_type tags rather than by path.
func (c *Communicator) RunCommandResultsLoop(ctx context.Context) error {
	return c.runPushLoop(ctx, model.MessageCommandResult, "/stateless")
}

// FetchGroupOverlay retrieves the raw YAML bytes for a group's overlay
// config from the manager, for use as a config.OverlayFetcher.
func (c *Communicator) FetchGroupOverlay(ctx context.Context, group string) ([]byte, error) {
	bearer, _ := c.token.Get()
	resp := c.client.Perform(ctx, transport.Params{
		Method:      "GET",
		URL:         c.baseURL() + "/group/" + group + "/configuration",
		BearerToken: bearer,
	})
	if resp.StatusCode == 401 || resp.StatusCode == 403 {
		c.TryReAuthenticate()
		return nil, fmt.Errorf("unauthorized fetching group overlay %q", group)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch group overlay %q: status %d", group, resp.StatusCode)
	}
	return resp.Body, nil
}

func (c *Communicator) runPushLoop(ctx context.Context, t model.MessageType, path string) error {
	c.wg.Add(1)
	defer c.wg.Done()
	getMessages, onSuccess := c.buildPushBody(t)
	return c.client.CoPerform(ctx, transport.CoPerformOptions{
		Method:           "POST",
		URL:              func() string { return c.baseURL() + path },
		Token:            c.token,
		MessageGetter:    getMessages,
		OnSuccess:        onSuccess,
		OnUnauth:         c.TryReAuthenticate,
		RetryInterval:    c.cfg.RetryInterval,
		BatchingInterval: c.cfg.BatchingInterval,
		LoopCondition:    c.running,
	})
}
