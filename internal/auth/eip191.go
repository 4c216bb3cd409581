// Package auth authenticates HTTP callers by EIP-191 wallet signature. The
// recovered address becomes the protocol caller for every entrypoint, so the
// gateway never trusts a client-supplied user field.
package auth

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// PrefixedHash computes the EIP-191 digest:
// keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg)
func PrefixedHash(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	return crypto.Keccak256([]byte(prefix), msg)
}

// RecoverSigner extracts the wallet address from a 65-byte EIP-191
// signature (R || S || V, with V in {0,1} or {27,28}).
func RecoverSigner(msg []byte, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, errors.New("invalid signature length")
	}
	digest := PrefixedHash(msg)

	norm := make([]byte, 65)
	copy(norm, sig)
	if norm[64] >= 27 {
		norm[64] -= 27
	}

	pub, err := crypto.SigToPub(digest, norm)
	if err != nil {
		return common.Address{}, fmt.Errorf("ecrecover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
