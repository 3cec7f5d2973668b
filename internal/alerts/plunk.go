package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const defaultPlunkURL = "https://api.useplunk.com/v1/send"

type PlunkConfig struct {
	APIKey string
	From   string
	APIURL string
	To     string // operator inbox
}

// PlunkNotifier emails alerts through the Plunk send API
type PlunkNotifier struct {
	cfg    PlunkConfig
	client *http.Client
}

func NewPlunkNotifier(cfg PlunkConfig) (*PlunkNotifier, error) {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultPlunkURL
	}
	if cfg.APIKey == "" {
		return nil, eris.New("plunk not configured: set alerts.plunk_api_key")
	}
	if cfg.To == "" {
		return nil, eris.New("plunk not configured: set alerts.admin_email")
	}
	return &PlunkNotifier{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}}, nil
}

type plunkSendBody struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	From    string `json:"from,omitempty"`
}

func renderBody(a Alert) string {
	var b strings.Builder
	b.WriteString(a.Message)
	if len(a.Fields) > 0 {
		keys := make([]string, 0, len(a.Fields))
		for k := range a.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\n", k, a.Fields[k])
		}
	}
	return b.String()
}

// Notify performs the HTTP request to Plunk API
func (p *PlunkNotifier) Notify(ctx context.Context, a Alert) error {
	payload := plunkSendBody{
		To:      p.cfg.To,
		Subject: fmt.Sprintf("[%s] %s", strings.ToUpper(a.Severity), a.Subject),
		Body:    renderBody(a),
		From:    p.cfg.From,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "encode plunk payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.APIURL, bytes.NewReader(b))
	if err != nil {
		return eris.Wrap(err, "build plunk request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "plunk send")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Try to read response body for more context
		if msg, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096)); readErr == nil && len(msg) > 0 {
			return eris.Errorf("plunk send failed: status=%d body=%s", resp.StatusCode, msg)
		}
		return eris.Errorf("plunk send failed: status=%d", resp.StatusCode)
	}
	return nil
}
