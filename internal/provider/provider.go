// Package provider calls paid service endpoints with a payment-proof header.
package provider

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

	"github.com/rotisserie/eris"
)

// PaymentHeader carries the proof of payment to the provider.
const PaymentHeader = "X-Payment"

const maxBody = 4 << 20

// Proof is serialized into the X-Payment header
type Proof struct {
	Network string `json:"network"`
	TxHash  string `json:"txHash"`
	From    string `json:"from"`
	To      string `json:"to"`
	Amount  string `json:"amount"`
	Asset   string `json:"asset"`
}

// Error is the single shape every provider failure is normalized into.
type Error struct {
	StatusCode int    `json:"statusCode,omitempty"`
	Body       string `json:"body,omitempty"`
	Message    string `json:"message"`
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Message)
	}
	return "provider call failed: " + e.Message
}

type Response struct {
	StatusCode int
	Body       json.RawMessage
	Elapsed    time.Duration
}

type Client struct {
	http          *http.Client
	timeout       time.Duration
	healthTimeout time.Duration
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http:          &http.Client{},
		timeout:       timeout,
		healthTimeout: 5 * time.Second,
	}
}

// Call POSTs body to endpoint. Any non-2xx, timeout or transport failure comes back as *Error.
func (c *Client) Call(ctx context.Context, endpoint string, body json.RawMessage, proof Proof) (Response, error) {
	header, err := json.Marshal(proof)
	if err != nil {
		return Response{}, &Error{Message: "encode payment proof: " + err.Error()}
	}
	if len(body) == 0 {
		body = json.RawMessage("{}")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, &Error{Message: "build request: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(PaymentHeader, string(header))

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return Response{Elapsed: elapsed}, normalize(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Response{StatusCode: resp.StatusCode, Elapsed: elapsed}, normalize(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{StatusCode: resp.StatusCode, Elapsed: elapsed}, &Error{
			StatusCode: resp.StatusCode,
			Body:       string(raw),
			Message:    messageFrom(raw, resp.Status),
		}
	}

	out := Response{StatusCode: resp.StatusCode, Elapsed: elapsed}
	if json.Valid(raw) {
		out.Body = raw
	} else {
		wrapped, _ := json.Marshal(map[string]string{"result": string(raw)})
		out.Body = wrapped
	}
	return out, nil
}

func normalize(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Message: "timeout"}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Message: "canceled"}
	}
	return &Error{Message: err.Error()}
}

// messageFrom pulls a readable message out of a provider error body.
func messageFrom(raw []byte, status string) string {
	var body struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if s, ok := body.Error.(string); ok && s != "" {
			return s
		}
	}
	if s := strings.TrimSpace(string(raw)); s != "" && len(s) <= 200 {
		return s
	}
	return status
}

// HealthCheck probes <endpoint>/health, falling back to HEAD on the endpoint itself.
func (c *Client) HealthCheck(ctx context.Context, endpoint string) error {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	if err := c.probe(ctx, http.MethodGet, strings.TrimRight(endpoint, "/")+"/health"); err == nil {
		return nil
	}
	return eris.Wrapf(c.probe(ctx, http.MethodHead, endpoint), "health check %s", endpoint)
}

func (c *Client) probe(ctx context.Context, method, url string) error {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusNotFound {
		return eris.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
