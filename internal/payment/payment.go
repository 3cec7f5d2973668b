// Package payment builds payment instructions and verifies on-chain payment claims.
package payment

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sudo-init-do/agenthub/internal/apperr"
	"github.com/sudo-init-do/agenthub/internal/marketplace"
)

// Claim is one buyer payment, consumed by every provider attempt of a purchase.
type Claim struct {
	Signature         string
	Payer             string // wallet that must have sent the funds; empty skips the check
	ExpectedAmount    uint64 // smallest units
	ExpectedRecipient string
	ExpectedAsset     string // token mint address
	ExpectedMemo      string // memo the transaction must carry; empty skips the check
	Network           string
}

// Verification is never partially trusted: only Verified == true unlocks a provider call.
type Verification struct {
	Verified        bool   `json:"verified"`
	ActualAmount    uint64 `json:"actualAmount,omitempty"`
	ActualRecipient string `json:"actualRecipient,omitempty"`
	Payer           string `json:"payer,omitempty"`
	Error           string `json:"error,omitempty"`
}

func failed(format string, args ...any) Verification {
	return Verification{Error: fmt.Sprintf(format, args...)}
}

type Verifier interface {
	Verify(ctx context.Context, c Claim) Verification
}

// Instructions tell the buyer exactly what to pay and where
type Instructions struct {
	Amount      string `json:"amount"`      // decimal, e.g. "0.02"
	AmountUnits string `json:"amountUnits"` // smallest units, e.g. "20000"
	Recipient   string `json:"recipient"`
	Asset       string `json:"asset"` // e.g. "USDC"
	Mint        string `json:"mint"`
	Network     string `json:"network"`
	Memo        string `json:"memo,omitempty"`
}

// Units returns AmountUnits as an integer.
func (i Instructions) Units() (uint64, error) {
	return strconv.ParseUint(i.AmountUnits, 10, 64)
}

// ParsePrice converts a USDC-style price string into smallest units.
func ParsePrice(price string) (uint64, error) {
	return marketplace.ParseUnits(price, 6)
}

// NewInstructions prices svc for payment on network using the given token mint.
func NewInstructions(svc marketplace.Service, network, mint string) (Instructions, error) {
	units, err := svc.Pricing.PriceUnits()
	if err != nil {
		return Instructions{}, apperr.Wrap(err, apperr.KindValidation, "service %s has an invalid price", svc.ID)
	}
	if units == 0 {
		return Instructions{}, apperr.Validation("service %s has a zero price", svc.ID)
	}
	if svc.Pricing.Network != "" && svc.Pricing.Network != network {
		return Instructions{}, apperr.Validation("service %s is priced on %s, marketplace settles on %s",
			svc.ID, svc.Pricing.Network, network)
	}
	if mint == "" {
		return Instructions{}, apperr.Validation("no %s mint configured for %s", marketplace.SettlementAsset, network)
	}
	dec, _ := marketplace.AssetDecimals(svc.Pricing.Currency)
	return Instructions{
		Amount:      marketplace.FormatUnits(units, dec),
		AmountUnits: strconv.FormatUint(units, 10),
		Recipient:   svc.Provider,
		Asset:       marketplace.SettlementAsset,
		Mint:        mint,
		Network:     network,
	}, nil
}

// Claim turns the instructions into the value the verifier checks against.
func (i Instructions) Claim(signature, payer string) (Claim, error) {
	units, err := i.Units()
	if err != nil {
		return Claim{}, apperr.Wrap(err, apperr.KindValidation, "invalid instruction amount %q", i.AmountUnits)
	}
	return Claim{
		Signature:         signature,
		Payer:             payer,
		ExpectedAmount:    units,
		ExpectedRecipient: i.Recipient,
		ExpectedAsset:     i.Mint,
		ExpectedMemo:      i.Memo,
		Network:           i.Network,
	}, nil
}
