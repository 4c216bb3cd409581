// Package quote implements the operator-signed fee quote: domain-separated
// hashing over a fixed-order field tuple, ECDSA signing, and verification
// against the single configured operator key.
//
// The preimage field order (domainSep, contract, asset, amountA, amountB,
// validUntil, user) is part of the wire contract. Changing it, or the domain
// tag, invalidates every previously issued quote and is a breaking protocol
// version bump.
package quote

import (
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidSignature = errors.New("quote: invalid operator signature")
	ErrQuoteExpired     = errors.New("quote: expired")
	ErrQuoteTTLTooLarge = errors.New("quote: ttl exceeds maximum")
)

// MaxTTLSeconds caps validUntil-now for pay-per-transaction quotes. Top-up
// quotes are deliberately uncapped; the asymmetry is inherited behavior.
const MaxTTLSeconds int64 = 3600

var quoteTypeHash = crypto.Keccak256Hash([]byte(
	"FeeQuote(address acceptedAsset,uint256 amountA,uint256 amountB,uint256 validUntil,address user)",
))

// DomainSeparator binds quotes to one (chainID, gateway) deployment.
func DomainSeparator(chainID *big.Int, contractAddr common.Address) [32]byte {
	domainTypeHash := crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
	nameHash := crypto.Keccak256Hash([]byte("Feegate"))
	versionHash := crypto.Keccak256Hash([]byte("1"))

	encoded := make([]byte, 5*32)
	copy(encoded[0:32], domainTypeHash[:])
	copy(encoded[32:64], nameHash[:])
	copy(encoded[64:96], versionHash[:])
	chainID.FillBytes(encoded[96:128])
	copy(encoded[140:160], contractAddr.Bytes()) // addr right-aligned in its slot

	return crypto.Keccak256Hash(encoded)
}

// Hash computes the quote hash over the fixed-order tuple.
func Hash(
	domainSep [32]byte,
	contractAddr common.Address,
	acceptedAsset common.Address,
	amountA, amountB *big.Int,
	validUntil int64,
	user common.Address,
) [32]byte {
	encoded := make([]byte, 8*32)
	copy(encoded[0:32], quoteTypeHash[:])
	copy(encoded[32:64], domainSep[:])
	copy(encoded[76:96], contractAddr.Bytes())
	copy(encoded[108:128], acceptedAsset.Bytes())
	amountA.FillBytes(encoded[128:160])
	amountB.FillBytes(encoded[160:192])
	big.NewInt(validUntil).FillBytes(encoded[192:224])
	copy(encoded[236:256], user.Bytes())
	return crypto.Keccak256Hash(encoded)
}

// Sign produces a 65-byte operator signature (V in 27/28 form) over the
// quote hash. Used by the quote-signing service and by tests.
func Sign(
	privKey *ecdsa.PrivateKey,
	domainSep [32]byte,
	contractAddr common.Address,
	acceptedAsset common.Address,
	amountA, amountB *big.Int,
	validUntil int64,
	user common.Address,
) ([]byte, error) {
	digest := Hash(domainSep, contractAddr, acceptedAsset, amountA, amountB, validUntil, user)
	sig, err := crypto.Sign(digest[:], privKey)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// Verifier checks quotes against one fixed operator public key and one
// deployment's domain separator.
type Verifier struct {
	domainSep    [32]byte
	contractAddr common.Address
	operatorPub  []byte // uncompressed (0x04 || X || Y)
}

func NewVerifier(chainID *big.Int, contractAddr common.Address, pubX, pubY *big.Int) *Verifier {
	pub := make([]byte, 65)
	pub[0] = 0x04
	pubX.FillBytes(pub[1:33])
	pubY.FillBytes(pub[33:65])
	return &Verifier{
		domainSep:    DomainSeparator(chainID, contractAddr),
		contractAddr: contractAddr,
		operatorPub:  pub,
	}
}

// DomainSep returns the deployment's domain separator.
func (v *Verifier) DomainSep() [32]byte { return v.domainSep }

// Verify recomputes the quote hash, checks the operator signature over it,
// and checks freshness (validUntil == now still passes). maxTTL > 0
// additionally bounds validUntil-now. Returns the hash for replay-guard
// consumption; nothing is registered here.
func (v *Verifier) Verify(
	acceptedAsset common.Address,
	amountA, amountB *big.Int,
	validUntil int64,
	user common.Address,
	sig []byte,
	now int64,
	maxTTL int64,
) ([32]byte, error) {
	digest := Hash(v.domainSep, v.contractAddr, acceptedAsset, amountA, amountB, validUntil, user)

	if len(sig) != 65 {
		return [32]byte{}, ErrInvalidSignature
	}
	if !crypto.VerifySignature(v.operatorPub, digest[:], sig[:64]) {
		return [32]byte{}, ErrInvalidSignature
	}
	if validUntil < now {
		return [32]byte{}, ErrQuoteExpired
	}
	if maxTTL > 0 && validUntil-now > maxTTL {
		return [32]byte{}, ErrQuoteTTLTooLarge
	}
	return digest, nil
}
