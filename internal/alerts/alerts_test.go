package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestPlunkNotifier_Sends(t *testing.T) {
	var got plunkSendBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewPlunkNotifier(PlunkConfig{APIKey: "key", APIURL: srv.URL, To: "ops@example.com", From: "bot@example.com"})
	require.NoError(t, err)

	err = n.Notify(context.Background(), Alert{
		Severity: SeverityCritical,
		Subject:  "payment undelivered",
		Message:  "all providers failed",
		Fields:   map[string]string{"signature": "sig", "dispute_id": "d1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", got.To)
	assert.Equal(t, "[CRITICAL] payment undelivered", got.Subject)
	assert.Equal(t, "all providers failed\n\ndispute_id: d1\nsignature: sig\n", got.Body)
}

func TestPlunkNotifier_Errors(t *testing.T) {
	_, err := NewPlunkNotifier(PlunkConfig{To: "ops@example.com"})
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("bad key"))
	}))
	defer srv.Close()

	n, err := NewPlunkNotifier(PlunkConfig{APIKey: "k", APIURL: srv.URL, To: "ops@example.com"})
	require.NoError(t, err)
	err = n.Notify(context.Background(), Alert{Subject: "x"})
	assert.ErrorContains(t, err, "status=401 body=bad key")
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	require.NoError(t, n.Notify(context.Background(), Alert{Kind: KindUndelivered, Severity: SeverityCritical, Subject: "s"}))
	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, KindUndelivered, entries[0].ContextMap()["kind"])
}

type failing struct{ calls int }

func (f *failing) Notify(context.Context, Alert) error {
	f.calls++
	return errors.New("down")
}

func TestMultiAndSend(t *testing.T) {
	f := &failing{}
	core, logs := observer.New(zapcore.InfoLevel)
	m := Multi{f, NewLogNotifier(zap.New(core))}

	assert.EqualError(t, m.Notify(context.Background(), Alert{Subject: "x"}), "down")
	assert.Equal(t, 1, f.calls)
	assert.Equal(t, 1, logs.Len())

	Send(context.Background(), m, Alert{Subject: "y"})
	Send(context.Background(), nil, Alert{Subject: "z"})
	assert.Equal(t, 2, f.calls)
}
