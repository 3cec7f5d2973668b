package payment

import (
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/sudo-init-do/agenthub/internal/apperr"
)

// ValidateSignature checks that sig is a base58 64-byte transaction signature.
func ValidateSignature(sig string) (solana.Signature, error) {
	sig = strings.TrimSpace(sig)
	if sig == "" {
		return solana.Signature{}, apperr.Validation("payment signature is required")
	}
	parsed, err := solana.SignatureFromBase58(sig)
	if err != nil {
		return solana.Signature{}, apperr.Wrap(err, apperr.KindValidation, "malformed payment signature")
	}
	if parsed == (solana.Signature{}) {
		return solana.Signature{}, apperr.Validation("malformed payment signature")
	}
	return parsed, nil
}

// ValidateAddress checks that addr is a base58 public key.
func ValidateAddress(addr string) error {
	if _, err := solana.PublicKeyFromBase58(addr); err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "invalid address %q", addr)
	}
	return nil
}
