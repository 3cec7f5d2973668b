package payment

import (
	"context"
	"errors"
	"slices"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// legacyMemoProgramID is the v1 SPL memo program, still accepted by wallets.
var legacyMemoProgramID = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")

// RPC is the read-only slice of *rpc.Client the verifier needs.
type RPC interface {
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetTransaction(ctx context.Context, txSig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

type SolanaVerifier struct {
	rpc        RPC
	network    string
	commitment rpc.CommitmentType
	limiter    *rate.Limiter
	log        *zap.Logger
}

type SolanaOptions struct {
	Network           string
	Commitment        string  // confirmed | finalized
	RequestsPerSecond float64 // <= 0 disables pacing
}

func NewSolanaVerifier(client RPC, opts SolanaOptions, logger *zap.Logger) *SolanaVerifier {
	if logger == nil {
		logger = zap.L()
	}
	commitment := rpc.CommitmentConfirmed
	if opts.Commitment == string(rpc.CommitmentFinalized) {
		commitment = rpc.CommitmentFinalized
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &SolanaVerifier{
		rpc:        client,
		network:    opts.Network,
		commitment: commitment,
		limiter:    rate.NewLimiter(limit, 1),
		log:        logger.Named("verifier"),
	}
}

// Verify checks the claim against the chain. It never retries; the caller decides.
func (v *SolanaVerifier) Verify(ctx context.Context, c Claim) Verification {
	res := v.verify(ctx, c)
	fields := []zap.Field{
		zap.String("signature", c.Signature),
		zap.Uint64("expected_amount", c.ExpectedAmount),
		zap.String("expected_recipient", c.ExpectedRecipient),
		zap.String("payer", c.Payer),
		zap.Bool("verified", res.Verified),
	}
	if res.Verified {
		v.log.Info("payment verified", fields...)
	} else {
		v.log.Warn("payment not verified", append(fields, zap.String("reason", res.Error))...)
	}
	return res
}

func (v *SolanaVerifier) verify(ctx context.Context, c Claim) Verification {
	if c.Network != v.network {
		return failed("network mismatch: expected %s, verifier runs on %s", c.Network, v.network)
	}
	sig, err := ValidateSignature(c.Signature)
	if err != nil {
		return failed("malformed signature")
	}
	recipient, err := solana.PublicKeyFromBase58(c.ExpectedRecipient)
	if err != nil {
		return failed("invalid expected recipient %q", c.ExpectedRecipient)
	}
	mint, err := solana.PublicKeyFromBase58(c.ExpectedAsset)
	if err != nil {
		return failed("invalid expected asset %q", c.ExpectedAsset)
	}

	if err := v.limiter.Wait(ctx); err != nil {
		return failed("rpc rate limit: %v", err)
	}
	statuses, err := v.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return failed("signature status lookup failed: %v", err)
	}
	if statuses == nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
		return failed("transaction not found")
	}
	st := statuses.Value[0]
	if st.Err != nil {
		return failed("transaction failed on chain: %v", st.Err)
	}
	if !v.committed(st.ConfirmationStatus) {
		return failed("transaction not confirmed (status %q)", st.ConfirmationStatus)
	}

	if err := v.limiter.Wait(ctx); err != nil {
		return failed("rpc rate limit: %v", err)
	}
	maxVersion := uint64(0)
	tx, err := v.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     v.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return failed("transaction not found")
	}
	if err != nil {
		return failed("transaction lookup failed: %v", err)
	}
	if tx == nil || tx.Meta == nil {
		return failed("transaction metadata unavailable")
	}
	if tx.Meta.Err != nil {
		return failed("transaction failed on chain: %v", tx.Meta.Err)
	}

	received, senders, err := transferTo(tx.Meta, recipient, mint)
	if err != nil {
		return failed("%v", err)
	}
	var payer string
	switch {
	case c.Payer != "" && slices.Contains(senders, c.Payer):
		payer = c.Payer
	case len(senders) > 0:
		payer = senders[0]
	}
	out := Verification{ActualAmount: received, ActualRecipient: c.ExpectedRecipient, Payer: payer}
	if received == 0 {
		out.ActualRecipient = ""
		out.Error = "no transfer of the expected asset to the expected recipient"
		return out
	}
	if received != c.ExpectedAmount {
		out.Error = "amount mismatch: expected " + strconv.FormatUint(c.ExpectedAmount, 10) +
			", received " + strconv.FormatUint(received, 10)
		return out
	}
	if c.Payer != "" && payer != c.Payer {
		out.Error = "payer mismatch: " + c.Payer + " did not send the transfer"
		return out
	}
	if c.ExpectedMemo != "" {
		memos, err := memosOf(tx)
		if err != nil {
			out.Error = err.Error()
			return out
		}
		if !slices.Contains(memos, c.ExpectedMemo) {
			out.Error = "memo mismatch: transaction does not carry " + strconv.Quote(c.ExpectedMemo)
			return out
		}
	}
	out.Verified = true
	return out
}

// memosOf decodes the transaction body and returns the data of every memo instruction.
func memosOf(res *rpc.GetTransactionResult) ([]string, error) {
	if res.Transaction == nil {
		return nil, eris.New("transaction body unavailable")
	}
	tx, err := res.Transaction.GetTransaction()
	if err != nil || tx == nil {
		return nil, eris.New("undecodable transaction body")
	}
	var memos []string
	for _, inst := range tx.Message.Instructions {
		program, err := tx.Message.Program(inst.ProgramIDIndex)
		if err != nil {
			continue
		}
		if program.Equals(solana.MemoProgramID) || program.Equals(legacyMemoProgramID) {
			memos = append(memos, string(inst.Data))
		}
	}
	return memos, nil
}

func (v *SolanaVerifier) committed(s rpc.ConfirmationStatusType) bool {
	if v.commitment == rpc.CommitmentFinalized {
		return s == rpc.ConfirmationStatusFinalized
	}
	return s == rpc.ConfirmationStatusConfirmed || s == rpc.ConfirmationStatusFinalized
}

type balanceKey struct {
	owner solana.PublicKey
	mint  solana.PublicKey
}

func sumBalances(list []rpc.TokenBalance) (map[balanceKey]uint64, error) {
	out := make(map[balanceKey]uint64, len(list))
	for _, b := range list {
		if b.Owner == nil || b.UiTokenAmount == nil {
			continue
		}
		amt, err := strconv.ParseUint(b.UiTokenAmount.Amount, 10, 64)
		if err != nil {
			return nil, err
		}
		out[balanceKey{owner: *b.Owner, mint: b.Mint}] += amt
	}
	return out, nil
}

// transferTo returns how much of mint recipient gained in the transaction and the sorted
// owners whose balance of mint went down.
func transferTo(meta *rpc.TransactionMeta, recipient, mint solana.PublicKey) (uint64, []string, error) {
	pre, err := sumBalances(meta.PreTokenBalances)
	if err != nil {
		return 0, nil, eris.New("unparseable pre token balance")
	}
	post, err := sumBalances(meta.PostTokenBalances)
	if err != nil {
		return 0, nil, eris.New("unparseable post token balance")
	}

	key := balanceKey{owner: recipient, mint: mint}
	var received uint64
	if post[key] > pre[key] {
		received = post[key] - pre[key]
	}

	var senders []string
	for k, before := range pre {
		if k.mint != mint || k.owner == recipient {
			continue
		}
		if post[k] < before {
			senders = append(senders, k.owner.String())
		}
	}
	slices.Sort(senders)
	return received, senders, nil
}
