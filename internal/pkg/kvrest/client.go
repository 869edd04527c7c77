// Package kvrest is a client for REST key-value stores that speak the
// Upstash-compatible protocol: every command is a JSON array POSTed to the base
// URL with a bearer token, answered by {"result": ...} or {"error": "..."}.
// These stores do not offer key enumeration.
package kvrest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// CompareAndSetScript writes ARGV[2] only when the current value equals ARGV[1].
// An empty ARGV[1] means "key must not exist". Returns 1 when written.
const CompareAndSetScript = `local cur = redis.call('GET', KEYS[1])
if ((not cur) and ARGV[1] == '') or cur == ARGV[1] then
  redis.call('SET', KEYS[1], ARGV[2])
  return 1
end
return 0`

// TransientError marks failures worth retrying: network errors, timeouts and 5xx replies.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("kv rest transient failure: status=%d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("kv rest transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// CommandError is a permanent rejection by the store (bad command, auth, 4xx).
type CommandError struct {
	Status  int
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("kv rest command failed: status=%d: %s", e.Status, e.Message)
}

// IsTransient reports whether err is a retryable transport failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type reply struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// Do sends one command and returns the raw JSON result.
func (c *Client) Do(ctx context.Context, args ...string) (json.RawMessage, error) {
	if c.BaseURL == "" || c.Token == "" {
		return nil, errors.New("kv rest client is not configured")
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, &TransientError{Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &TransientError{Status: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(body)))}
	}

	var out reply
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &CommandError{Status: resp.StatusCode, Message: "undecodable reply: " + string(body)}
	}
	if out.Error != "" || resp.StatusCode >= 400 {
		msg := out.Error
		if msg == "" {
			msg = string(body)
		}
		return nil, &CommandError{Status: resp.StatusCode, Message: msg}
	}
	return out.Result, nil
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Do(ctx, "PING")
	return err
}

// Get returns the value and whether the key exists.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	raw, err := c.Do(ctx, "GET", key)
	if err != nil {
		return "", false, err
	}
	return decodeNullableString(raw)
}

// MGet returns one entry per key; nil marks a missing key.
func (c *Client) MGet(ctx context.Context, keys ...string) ([]*string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	raw, err := c.Do(ctx, append([]string{"MGET"}, keys...)...)
	if err != nil {
		return nil, err
	}
	var values []*string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decode MGET reply: %w", err)
	}
	if len(values) != len(keys) {
		return nil, fmt.Errorf("MGET returned %d values for %d keys", len(values), len(keys))
	}
	return values, nil
}

func (c *Client) Set(ctx context.Context, key, value string) error {
	_, err := c.Do(ctx, "SET", key, value)
	return err
}

// Del returns the number of removed keys.
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	raw, err := c.Do(ctx, append([]string{"DEL"}, keys...)...)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("decode DEL reply: %w", err)
	}
	return n, nil
}

// CompareAndSet replaces key's value with next only if it currently equals prev
// ("" meaning absent). It reports whether the write happened.
func (c *Client) CompareAndSet(ctx context.Context, key, prev, next string) (bool, error) {
	raw, err := c.Do(ctx, "EVAL", CompareAndSetScript, "1", key, prev, next)
	if err != nil {
		return false, err
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return false, fmt.Errorf("decode EVAL reply: %w", err)
	}
	return n == 1, nil
}

func decodeNullableString(raw json.RawMessage) (string, bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false, fmt.Errorf("decode string reply: %w", err)
	}
	return s, true, nil
}
