package rpc

import (
	"context"
	"math"
	"math/rand"
	"time"

	gonutstash "github.com/Keksclan/goNutStash"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ClientConfig controls the retry behaviour of [Client]. Only transport
// unavailability is retried; cache-level failures (transaction aborts)
// surface immediately.
type ClientConfig struct {
	// MaxAttempts is the maximum number of times a call is made
	// (including the first attempt). Values ≤ 1 mean no retries.
	MaxAttempts int

	// BaseDelay is the delay before the first retry. Subsequent retries
	// use exponential back-off: BaseDelay * 2^attempt.
	BaseDelay time.Duration

	// MaxDelay caps the computed back-off delay.
	MaxDelay time.Duration

	// Jitter adds randomness to the delay. A value of 0.2 means ±20 % of
	// the computed delay. Zero disables jitter.
	Jitter float64
}

// DefaultClientConfig is a reasonable starting point for callers that use
// the cache as an optimization and prefer a quick miss over a long wait.
var DefaultClientConfig = ClientConfig{
	MaxAttempts: 3,
	BaseDelay:   25 * time.Millisecond,
	MaxDelay:    250 * time.Millisecond,
	Jitter:      0.2,
}

// Client is a RenderCache client over an established gRPC connection.
type Client struct {
	cc  *grpc.ClientConn
	cfg ClientConfig
}

// NewClient wraps an established connection. The connection's lifecycle
// stays with the caller.
func NewClient(cc *grpc.ClientConn, cfg ClientConfig) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Client{cc: cc, cfg: cfg}
}

// Get retrieves the cached value for key. The boolean reports a hit.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp := new(GetResponse)
	if err := c.invoke(ctx, "Get", &GetRequest{Key: key}, resp); err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Found, nil
}

// Set stores value under key with the given entry type.
func (c *Client) Set(ctx context.Context, key string, value []byte, entryType string) error {
	return c.invoke(ctx, "Set", &SetRequest{Key: key, Value: value, EntryType: entryType}, new(SetResponse))
}

// Delete removes key from the cache.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.invoke(ctx, "Delete", &DeleteRequest{Key: key}, new(DeleteResponse))
}

// Clear empties the cache.
func (c *Client) Clear(ctx context.Context) error {
	return c.invoke(ctx, "Clear", new(ClearRequest), new(ClearResponse))
}

// Stats reports both tiers, including up to limit recent entries.
func (c *Client) Stats(ctx context.Context, limit int) (gonutstash.Stats, error) {
	resp := new(StatsResponse)
	if err := c.invoke(ctx, "Stats", &StatsRequest{Limit: limit}, resp); err != nil {
		return gonutstash.Stats{}, err
	}
	return resp.Stats, nil
}

// MakeKey derives the cache key for content server-side, so remote
// callers need no local hashing.
func (c *Client) MakeKey(ctx context.Context, content []byte, entryType string, renderCtx map[string]string) (string, error) {
	resp := new(MakeKeyResponse)
	req := &MakeKeyRequest{Content: content, EntryType: entryType, Context: renderCtx}
	if err := c.invoke(ctx, "MakeKey", req, resp); err != nil {
		return "", err
	}
	return resp.Key, nil
}

// invoke calls a RenderCache method, retrying Unavailable responses with
// exponential back-off. The context is checked before every retry.
func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	full := "/stash.RenderCache/" + method

	var err error
	for i := range c.cfg.MaxAttempts {
		err = c.cc.Invoke(ctx, full, req, resp)
		if err == nil {
			return nil
		}
		if i == c.cfg.MaxAttempts-1 {
			return err
		}
		if status.Code(err) != codes.Unavailable {
			return err
		}

		timer := time.NewTimer(c.backoff(i))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// backoff returns the delay for the given attempt (0-indexed) according
// to exponential back-off with optional jitter, capped at MaxDelay.
func (c *Client) backoff(attempt int) time.Duration {
	delay := float64(c.cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if max := float64(c.cfg.MaxDelay); c.cfg.MaxDelay > 0 && delay > max {
		delay = max
	}
	if c.cfg.Jitter > 0 {
		delay += delay * c.cfg.Jitter * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
