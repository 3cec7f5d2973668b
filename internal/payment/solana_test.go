package payment

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRPC struct {
	status    *rpc.SignatureStatusesResult
	statusErr error
	tx        *rpc.GetTransactionResult
	txErr     error

	statusCalls int
	txCalls     int
}

func (f *fakeRPC) GetSignatureStatuses(_ context.Context, _ bool, _ ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	f.statusCalls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{f.status}}, nil
}

func (f *fakeRPC) GetTransaction(_ context.Context, _ solana.Signature, _ *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	f.txCalls++
	return f.tx, f.txErr
}

func randomSignature(t *testing.T) string {
	t.Helper()
	var sig solana.Signature
	_, err := rand.Read(sig[:])
	require.NoError(t, err)
	return sig.String()
}

func balance(owner, mint solana.PublicKey, amount string) rpc.TokenBalance {
	o := owner
	return rpc.TokenBalance{Owner: &o, Mint: mint, UiTokenAmount: &rpc.UiTokenAmount{Amount: amount}}
}

type fixture struct {
	t                                 *testing.T
	payer, recipient, mint, otherMint solana.PublicKey
	claim                              Claim
	rpc                                *fakeRPC
	verifier                           *SolanaVerifier
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		t:     t,
		payer:     solana.NewWallet().PublicKey(),
		recipient: solana.NewWallet().PublicKey(),
		mint:      solana.NewWallet().PublicKey(),
		otherMint: solana.NewWallet().PublicKey(),
	}
	f.claim = Claim{
		Signature:         randomSignature(t),
		Payer:             f.payer.String(),
		ExpectedAmount:    20000,
		ExpectedRecipient: f.recipient.String(),
		ExpectedAsset:     f.mint.String(),
		ExpectedMemo:      "session-1",
		Network:           "solana-devnet",
	}
	f.rpc = &fakeRPC{
		status: &rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusConfirmed},
		tx:     f.transfer(f.recipient, f.mint, 20000),
	}
	f.verifier = NewSolanaVerifier(f.rpc, SolanaOptions{Network: "solana-devnet"}, zap.NewNop())
	return f
}

func (f *fixture) transfer(to, mint solana.PublicKey, amount uint64) *rpc.GetTransactionResult {
	pre := []rpc.TokenBalance{
		balance(f.payer, mint, "1000000"),
		balance(to, mint, "5"),
	}
	post := []rpc.TokenBalance{
		balance(f.payer, mint, strconv.FormatUint(1000000-amount, 10)),
		balance(to, mint, strconv.FormatUint(5+amount, 10)),
	}
	return &rpc.GetTransactionResult{
		Transaction: f.body(memoProgram, "session-1"),
		Meta:        &rpc.TransactionMeta{PreTokenBalances: pre, PostTokenBalances: post},
	}
}

var memoProgram = solana.MemoProgramID

// body encodes a transaction carrying one memo instruction the way RPC returns it for base64 encoding.
func (f *fixture) body(program solana.PublicKey, memo string) *rpc.TransactionResultEnvelope {
	f.t.Helper()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{solana.NewInstruction(program, solana.AccountMetaSlice{}, []byte(memo))},
		solana.Hash{},
		solana.TransactionPayer(f.payer),
	)
	require.NoError(f.t, err)
	raw, err := tx.MarshalBinary()
	require.NoError(f.t, err)

	var env rpc.TransactionResultEnvelope
	wire, err := json.Marshal([]string{base64.StdEncoding.EncodeToString(raw), "base64"})
	require.NoError(f.t, err)
	require.NoError(f.t, json.Unmarshal(wire, &env))
	return &env
}

func TestVerify_Success(t *testing.T) {
	f := newFixture(t)
	res := f.verifier.Verify(context.Background(), f.claim)

	require.True(t, res.Verified, res.Error)
	assert.Equal(t, uint64(20000), res.ActualAmount)
	assert.Equal(t, f.recipient.String(), res.ActualRecipient)
	assert.Equal(t, f.payer.String(), res.Payer)
}

func TestVerify_AnySingleMismatchFails(t *testing.T) {
	t.Run("amount", func(t *testing.T) {
		f := newFixture(t)
		f.rpc.tx = f.transfer(f.recipient, f.mint, 19999)
		res := f.verifier.Verify(context.Background(), f.claim)
		assert.False(t, res.Verified)
		assert.Contains(t, res.Error, "amount mismatch")
		assert.Equal(t, uint64(19999), res.ActualAmount)
	})
	t.Run("recipient", func(t *testing.T) {
		f := newFixture(t)
		f.rpc.tx = f.transfer(solana.NewWallet().PublicKey(), f.mint, 20000)
		res := f.verifier.Verify(context.Background(), f.claim)
		assert.False(t, res.Verified)
		assert.NotEmpty(t, res.Error)
	})
	t.Run("asset", func(t *testing.T) {
		f := newFixture(t)
		f.rpc.tx = f.transfer(f.recipient, f.otherMint, 20000)
		res := f.verifier.Verify(context.Background(), f.claim)
		assert.False(t, res.Verified)
	})
	t.Run("payer", func(t *testing.T) {
		f := newFixture(t)
		f.claim.Payer = solana.NewWallet().PublicKey().String()
		res := f.verifier.Verify(context.Background(), f.claim)
		assert.False(t, res.Verified)
		assert.Contains(t, res.Error, "payer mismatch")
		assert.Equal(t, f.payer.String(), res.Payer)
	})
	t.Run("memo", func(t *testing.T) {
		f := newFixture(t)
		f.rpc.tx.Transaction = f.body(memoProgram, "session-2")
		res := f.verifier.Verify(context.Background(), f.claim)
		assert.False(t, res.Verified)
		assert.Contains(t, res.Error, "memo mismatch")
	})
	t.Run("memo under another program", func(t *testing.T) {
		f := newFixture(t)
		f.rpc.tx.Transaction = f.body(solana.NewWallet().PublicKey(), "session-1")
		res := f.verifier.Verify(context.Background(), f.claim)
		assert.False(t, res.Verified)
		assert.Contains(t, res.Error, "memo mismatch")
	})
	t.Run("missing body", func(t *testing.T) {
		f := newFixture(t)
		f.rpc.tx.Transaction = nil
		res := f.verifier.Verify(context.Background(), f.claim)
		assert.False(t, res.Verified)
	})
	t.Run("network", func(t *testing.T) {
		f := newFixture(t)
		f.claim.Network = "solana"
		res := f.verifier.Verify(context.Background(), f.claim)
		assert.False(t, res.Verified)
		assert.Contains(t, res.Error, "network mismatch")
		assert.Zero(t, f.rpc.statusCalls)
	})
}

func TestVerify_ChainStates(t *testing.T) {
	t.Run("unknown signature", func(t *testing.T) {
		f := newFixture(t)
		f.rpc.status = nil
		res := f.verifier.Verify(context.Background(), f.claim)
		assert.False(t, res.Verified)
		assert.Contains(t, res.Error, "not found")
	})
	t.Run("processed only", func(t *testing.T) {
		f := newFixture(t)
		f.rpc.status.ConfirmationStatus = rpc.ConfirmationStatusProcessed
		res := f.verifier.Verify(context.Background(), f.claim)
		assert.False(t, res.Verified)
		assert.Contains(t, res.Error, "not confirmed")
		assert.Zero(t, f.rpc.txCalls)
	})
	t.Run("failed on chain", func(t *testing.T) {
		f := newFixture(t)
		f.rpc.tx.Meta.Err = map[string]any{"InstructionError": []any{0, "Custom"}}
		res := f.verifier.Verify(context.Background(), f.claim)
		assert.False(t, res.Verified)
		assert.Contains(t, res.Error, "failed on chain")
	})
	t.Run("rpc error is not retried", func(t *testing.T) {
		f := newFixture(t)
		f.rpc.statusErr = errors.New("connection reset")
		res := f.verifier.Verify(context.Background(), f.claim)
		assert.False(t, res.Verified)
		assert.Equal(t, 1, f.rpc.statusCalls)
	})
	t.Run("transaction missing", func(t *testing.T) {
		f := newFixture(t)
		f.rpc.tx, f.rpc.txErr = nil, rpc.ErrNotFound
		res := f.verifier.Verify(context.Background(), f.claim)
		assert.False(t, res.Verified)
		assert.Contains(t, res.Error, "not found")
	})
}

func TestVerify_LegacyMemoProgram(t *testing.T) {
	f := newFixture(t)
	f.rpc.tx.Transaction = f.body(legacyMemoProgramID, "session-1")
	res := f.verifier.Verify(context.Background(), f.claim)
	assert.True(t, res.Verified, res.Error)
}

func TestVerify_OptionalBindings(t *testing.T) {
	f := newFixture(t)
	f.claim.Payer, f.claim.ExpectedMemo = "", ""
	f.rpc.tx.Transaction = nil
	res := f.verifier.Verify(context.Background(), f.claim)
	require.True(t, res.Verified, res.Error)
	assert.Equal(t, f.payer.String(), res.Payer)
}

func TestVerify_FinalizedCommitment(t *testing.T) {
	f := newFixture(t)
	v := NewSolanaVerifier(f.rpc, SolanaOptions{Network: "solana-devnet", Commitment: "finalized"}, zap.NewNop())

	assert.False(t, v.Verify(context.Background(), f.claim).Verified)
	f.rpc.status.ConfirmationStatus = rpc.ConfirmationStatusFinalized
	assert.True(t, v.Verify(context.Background(), f.claim).Verified)
}

func TestVerify_MalformedSignature(t *testing.T) {
	f := newFixture(t)
	f.claim.Signature = "not-a-signature"
	res := f.verifier.Verify(context.Background(), f.claim)
	assert.False(t, res.Verified)
	assert.Zero(t, f.rpc.statusCalls)
}
