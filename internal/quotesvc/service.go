// Package quotesvc issues operator-signed fee quotes. It shares the hash
// and rate formulas with the on-path verifier by construction, so a quote
// it signs either verifies cleanly or reveals a config mismatch, never a
// formula drift.
package quotesvc

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/operon-labs/feegate/internal/gascost"
	"github.com/operon-labs/feegate/internal/quote"
)

// Issued is the quote returned to a wallet, ready to present on-path.
type Issued struct {
	AcceptedAsset common.Address `json:"accepted_asset"`
	AmountA       *big.Int       `json:"amount_a"`
	AmountB       *big.Int       `json:"amount_b"`
	ValidUntil    int64          `json:"valid_until"`
	Signature     string         `json:"signature"` // 0x-prefixed hex
}

// Service signs quotes with the operator key at a fixed token rate.
type Service struct {
	priv      *ecdsa.PrivateKey
	domainSep [32]byte
	gateway   common.Address
	asset     common.Address
	rateNum   *big.Int
	rateDen   *big.Int
	directTTL int64
	topupTTL  int64
}

func New(
	priv *ecdsa.PrivateKey,
	chainID *big.Int,
	gateway, asset common.Address,
	rateNum, rateDen *big.Int,
	directTTL, topupTTL int64,
) (*Service, error) {
	if rateDen.Sign() == 0 {
		return nil, gascost.ErrInvalidRate
	}
	if directTTL <= 0 || directTTL > quote.MaxTTLSeconds {
		return nil, fmt.Errorf("direct ttl %d outside (0, %d]", directTTL, quote.MaxTTLSeconds)
	}
	if topupTTL <= 0 {
		return nil, fmt.Errorf("topup ttl must be positive")
	}
	return &Service{
		priv:      priv,
		domainSep: quote.DomainSeparator(chainID, gateway),
		gateway:   gateway,
		asset:     asset,
		rateNum:   rateNum,
		rateDen:   rateDen,
		directTTL: directTTL,
		topupTTL:  topupTTL,
	}, nil
}

// IssueDirect prices a pay-per-transaction quote: feeAmount is the exact
// setup gas cost the wallet will declare, the token leg is the rate-converted
// charge.
func (s *Service) IssueDirect(user common.Address, feeAmount *big.Int, now int64) (*Issued, error) {
	return s.issue(user, feeAmount, now, s.directTTL)
}

// IssueTopUp prices a credit purchase: mintAmount is chosen by the caller,
// the quote attests the operator's agreed token price for it.
func (s *Service) IssueTopUp(user common.Address, mintAmount *big.Int, now int64) (*Issued, error) {
	return s.issue(user, mintAmount, now, s.topupTTL)
}

func (s *Service) issue(user common.Address, amountA *big.Int, now, ttl int64) (*Issued, error) {
	tokenAmount, err := gascost.AssetCharge(amountA, s.rateNum, s.rateDen)
	if err != nil {
		return nil, fmt.Errorf("price quote: %w", err)
	}
	validUntil := now + ttl

	sig, err := quote.Sign(s.priv, s.domainSep, s.gateway, s.asset, amountA, tokenAmount, validUntil, user)
	if err != nil {
		return nil, fmt.Errorf("sign quote: %w", err)
	}
	return &Issued{
		AcceptedAsset: s.asset,
		AmountA:       amountA,
		AmountB:       tokenAmount,
		ValidUntil:    validUntil,
		Signature:     fmt.Sprintf("0x%x", sig),
	}, nil
}
