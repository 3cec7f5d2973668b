package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sudo-init-do/agenthub/internal/apperr"
	"github.com/sudo-init-do/agenthub/internal/auth"
	"github.com/sudo-init-do/agenthub/internal/config"
	"github.com/sudo-init-do/agenthub/internal/marketplace"
	"github.com/sudo-init-do/agenthub/internal/store"
)

func memoryOpener(st *store.MemoryStore) opener {
	return func(context.Context) (*env, error) {
		return &env{
			cfg: &config.Config{Auth: config.AuthConfig{JWTSecret: "cli-secret"}},
			log: zap.NewNop(),
			st:  st,
		}, nil
	}
}

func run(t *testing.T, st *store.MemoryStore, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(memoryOpener(st))
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func sig(b byte) string {
	var s solana.Signature
	for i := range s {
		s[i] = b
	}
	return s.String()
}

func TestMigrate(t *testing.T) {
	out, err := run(t, store.NewMemory(), "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema up to date")
}

func TestSeedAndDelist(t *testing.T) {
	st := store.NewMemory()
	drafts := []marketplace.ServiceDraft{{
		Name:         "Sentiment",
		Provider:     solana.NewWallet().PublicKey().String(),
		Endpoint:     "https://s.example",
		Capabilities: []string{"sentiment-analysis"},
		Pricing:      marketplace.Pricing{Amount: "0.02", Currency: "USDC"},
	}}
	raw, err := json.Marshal(drafts)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "services.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	out, err := run(t, st, "seed", path)
	require.NoError(t, err)
	assert.Contains(t, out, "registered")

	listed, err := st.ListServices(context.Background())
	require.NoError(t, err)
	require.Len(t, listed, 1)

	out, err = run(t, st, "delist", listed[0].ID)
	require.NoError(t, err)
	assert.Contains(t, out, "delisted")

	listed, _ = st.ListServices(context.Background())
	assert.Empty(t, listed)

	_, err = run(t, st, "delist", "missing")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestAudit(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, st.InsertTerminalTransaction(ctx, marketplace.Transaction{
		ID: "tx-1", ServiceID: "svc", Buyer: "buyer", PaymentHash: sig(2), Status: marketplace.TxFailed,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))

	out, err := run(t, st, "audit", sig(2))
	require.NoError(t, err)
	var txs []marketplace.Transaction
	require.NoError(t, json.Unmarshal([]byte(out), &txs))
	require.Len(t, txs, 1)
	assert.Equal(t, "tx-1", txs[0].ID)

	_, err = run(t, st, "audit", sig(3))
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	_, err = run(t, st, "audit", "bad")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestDisputes(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.InsertDispute(context.Background(), marketplace.Dispute{
		ID: "d-1", PaymentHash: sig(4), Buyer: "buyer", Status: marketplace.DisputeOpen, CreatedAt: time.Now(),
	}))

	out, err := run(t, st, "disputes", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "d-1")

	_, err = run(t, st, "disputes", "resolve", "d-1")
	assert.Error(t, err)

	out, err = run(t, st, "disputes", "resolve", "d-1", "--resolution", "refund", "--notes", "sent back")
	require.NoError(t, err)
	assert.Contains(t, out, `"resolved"`)

	out, err = run(t, st, "disputes", "list")
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out))
}

func TestToken(t *testing.T) {
	wallet := solana.NewWallet().PublicKey().String()
	out, err := run(t, store.NewMemory(), "token", "--wallet", wallet)
	require.NoError(t, err)

	claims, err := auth.Parse("cli-secret", strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, wallet, claims.Wallet)
	assert.Equal(t, auth.RoleBuyer, claims.Role)

	_, err = run(t, store.NewMemory(), "token", "--wallet", wallet, "--role", "root")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}
