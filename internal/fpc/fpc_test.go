package fpc

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/operon-labs/feegate/internal/gascost"
	"github.com/operon-labs/feegate/internal/ledger"
	"github.com/operon-labs/feegate/internal/quote"
	"github.com/operon-labs/feegate/internal/replay"
	"github.com/operon-labs/feegate/internal/token"
)

var (
	testOperator = common.HexToAddress("0x00000000000000000000000000000000000000FE")
	testAsset    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testSelf     = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testCaller   = common.HexToAddress("0x3333333333333333333333333333333333333333")
	testChainID  = big.NewInt(31337)
	testNow      = int64(1_700_000_000)
)

// testGas yields MaxCostNoTeardown = 50_000 and MaxCostWithTeardown = 70_000.
func testGas() gascost.GasSettings {
	return gascost.GasSettings{
		DAGasLimit:         big.NewInt(200),
		L2GasLimit:         big.NewInt(100),
		FeePerDAGas:        big.NewInt(100),
		FeePerL2Gas:        big.NewInt(300),
		TeardownDAGasLimit: big.NewInt(50),
		TeardownL2GasLimit: big.NewInt(50),
	}
}

// fakeAsset is an in-memory accepted asset with (from, amount, nonce)-scoped
// single-use authwits.
type fakeAsset struct {
	authwits map[string]struct{}
	pulls    int
}

func newFakeAsset() *fakeAsset {
	return &fakeAsset{authwits: map[string]struct{}{}}
}

func authwitKey(from common.Address, amount *big.Int, nonce [32]byte) string {
	return fmt.Sprintf("%s|%s|%x", from.Hex(), amount.String(), nonce)
}

func (f *fakeAsset) authorize(from common.Address, amount *big.Int, nonce [32]byte) {
	f.authwits[authwitKey(from, amount, nonce)] = struct{}{}
}

func (f *fakeAsset) PullWithAuthwit(_ context.Context, from, _ common.Address, amount *big.Int, nonce [32]byte, _ []byte) error {
	key := authwitKey(from, amount, nonce)
	if _, ok := f.authwits[key]; !ok {
		return token.ErrAuthwitMismatch
	}
	delete(f.authwits, key)
	f.pulls++
	return nil
}

type recordingSink struct {
	receipts []Receipt
}

func (s *recordingSink) Record(_ context.Context, r Receipt) error {
	s.receipts = append(s.receipts, r)
	return nil
}

type fixture struct {
	gw    *Gateway
	rdb   *redis.Client
	priv  *ecdsa.PrivateKey
	asset *fakeAsset
	sink  *recordingSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	cfg := Config{
		Operator:      testOperator,
		OperatorPubX:  priv.PublicKey.X,
		OperatorPubY:  priv.PublicKey.Y,
		AcceptedAsset: testAsset,
		ChainID:       testChainID,
		Self:          testSelf,
	}
	asset := newFakeAsset()
	sink := &recordingSink{}
	return &fixture{
		gw:    NewGateway(cfg, rdb, asset, sink, zap.NewNop()),
		rdb:   rdb,
		priv:  priv,
		asset: asset,
		sink:  sink,
	}
}

func (f *fixture) sign(t *testing.T, amountA, amountB *big.Int, validUntil int64, user common.Address) []byte {
	t.Helper()
	sig, err := quote.Sign(
		f.priv,
		quote.DomainSeparator(testChainID, testSelf), testSelf,
		testAsset, amountA, amountB, validUntil, user,
	)
	if err != nil {
		t.Fatal(err)
	}
	return sig
}

func nonce(b byte) [32]byte {
	var n [32]byte
	n[31] = b
	return n
}

func newTx(n [32]byte) *TxContext {
	return &TxContext{
		Caller:       testCaller,
		Timestamp:    testNow,
		Gas:          testGas(),
		AuthwitNonce: n,
	}
}

// ── PayFee ──────────────────────────────────────────────────────────────────

func TestPayFee_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fee := big.NewInt(50_000)
	tokens := big.NewInt(55_000)
	sig := f.sign(t, fee, tokens, testNow+300, testCaller)

	tx := newTx(nonce(1))
	f.asset.authorize(testCaller, tokens, nonce(1))

	if err := f.gw.PayFee(ctx, tx, fee, tokens, testNow+300, sig); err != nil {
		t.Fatalf("PayFee: %v", err)
	}

	if payer, ok := tx.FeePayer(); !ok || payer != testSelf {
		t.Errorf("fee payer not registered as self: %v %v", payer, ok)
	}
	if f.asset.pulls != 1 {
		t.Errorf("expected 1 token pull, got %d", f.asset.pulls)
	}
	if len(f.sink.receipts) != 1 || f.sink.receipts[0].Kind != "pay_fee" {
		t.Errorf("missing pay_fee receipt: %+v", f.sink.receipts)
	}
}

func TestPayFee_Replay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fee := big.NewInt(50_000)
	tokens := big.NewInt(55_000)
	sig := f.sign(t, fee, tokens, testNow+300, testCaller)

	f.asset.authorize(testCaller, tokens, nonce(1))
	if err := f.gw.PayFee(ctx, newTx(nonce(1)), fee, tokens, testNow+300, sig); err != nil {
		t.Fatal(err)
	}

	f.asset.authorize(testCaller, tokens, nonce(2))
	err := f.gw.PayFee(ctx, newTx(nonce(2)), fee, tokens, testNow+300, sig)
	if !errors.Is(err, replay.ErrQuoteReplayed) {
		t.Fatalf("expected ErrQuoteReplayed, got %v", err)
	}
	if f.asset.pulls != 1 {
		t.Errorf("replayed quote must not pull tokens, pulls=%d", f.asset.pulls)
	}
}

func TestPayFee_FeeMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// valid signature over a fee that is not the tx's setup gas cost
	fee := big.NewInt(49_999)
	tokens := big.NewInt(55_000)
	sig := f.sign(t, fee, tokens, testNow+300, testCaller)

	err := f.gw.PayFee(ctx, newTx(nonce(1)), fee, tokens, testNow+300, sig)
	if !errors.Is(err, ErrQuotedFeeMismatch) {
		t.Fatalf("expected ErrQuotedFeeMismatch, got %v", err)
	}

	// the quote must remain unconsumed
	used, err := f.gw.QuoteUsed(ctx, fee, tokens, testNow+300, testCaller)
	if err != nil {
		t.Fatal(err)
	}
	if used {
		t.Error("failed PayFee consumed the quote")
	}
}

func TestPayFee_TTLCapEnforced(t *testing.T) {
	f := newFixture(t)

	fee := big.NewInt(50_000)
	tokens := big.NewInt(55_000)
	until := testNow + quote.MaxTTLSeconds + 1
	sig := f.sign(t, fee, tokens, until, testCaller)

	err := f.gw.PayFee(context.Background(), newTx(nonce(1)), fee, tokens, until, sig)
	if !errors.Is(err, quote.ErrQuoteTTLTooLarge) {
		t.Fatalf("expected ErrQuoteTTLTooLarge, got %v", err)
	}
}

func TestPayFee_AuthwitFailureReleasesQuote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fee := big.NewInt(50_000)
	tokens := big.NewInt(55_000)
	sig := f.sign(t, fee, tokens, testNow+300, testCaller)

	// no authwit registered → pull fails
	err := f.gw.PayFee(ctx, newTx(nonce(1)), fee, tokens, testNow+300, sig)
	if !errors.Is(err, token.ErrAuthwitMismatch) {
		t.Fatalf("expected ErrAuthwitMismatch, got %v", err)
	}

	// hash was released: retry with the authwit in place succeeds
	f.asset.authorize(testCaller, tokens, nonce(1))
	if err := f.gw.PayFee(ctx, newTx(nonce(1)), fee, tokens, testNow+300, sig); err != nil {
		t.Fatalf("retry after failed pull: %v", err)
	}
}

func TestPayFee_ExpiredQuote(t *testing.T) {
	f := newFixture(t)

	fee := big.NewInt(50_000)
	tokens := big.NewInt(55_000)
	sig := f.sign(t, fee, tokens, testNow-1, testCaller)

	err := f.gw.PayFee(context.Background(), newTx(nonce(1)), fee, tokens, testNow-1, sig)
	if !errors.Is(err, quote.ErrQuoteExpired) {
		t.Fatalf("expected ErrQuoteExpired, got %v", err)
	}
}

// ── TopUp / SpendCredit ─────────────────────────────────────────────────────

func TestTopUp_MintsNetOfSelfCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mint := big.NewInt(1_000_000)
	tokens := big.NewInt(1_000_000) // rate 1:1
	sig := f.sign(t, mint, tokens, testNow+300, testCaller)

	tx := newTx(nonce(1))
	f.asset.authorize(testCaller, tokens, nonce(1))
	if err := f.gw.TopUp(ctx, tx, mint, tokens, testNow+300, sig); err != nil {
		t.Fatalf("TopUp: %v", err)
	}

	bal, err := f.gw.BalanceOf(ctx, testCaller)
	if err != nil {
		t.Fatal(err)
	}
	// self-charged maxGasCostNoTeardown = 50_000
	if bal.Cmp(big.NewInt(950_000)) != 0 {
		t.Errorf("balance: got %s want 950000", bal)
	}
	if payer, ok := tx.FeePayer(); !ok || payer != testSelf {
		t.Error("fee payer not registered")
	}
}

func TestTopUp_MintBelowSelfCost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mint := big.NewInt(49_999) // below 50_000 setup cost
	tokens := big.NewInt(49_999)
	sig := f.sign(t, mint, tokens, testNow+300, testCaller)

	f.asset.authorize(testCaller, tokens, nonce(1))
	err := f.gw.TopUp(ctx, newTx(nonce(1)), mint, tokens, testNow+300, sig)
	if !errors.Is(err, ledger.ErrInsufficientCredit) {
		t.Fatalf("expected ErrInsufficientCredit, got %v", err)
	}
	if f.asset.pulls != 0 {
		t.Error("failed TopUp must not pull tokens")
	}
}

func TestTopUp_NoTTLCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mint := big.NewInt(1_000_000)
	tokens := big.NewInt(1_000_000)
	until := testNow + quote.MaxTTLSeconds*24 // far beyond the direct-payment cap
	sig := f.sign(t, mint, tokens, until, testCaller)

	f.asset.authorize(testCaller, tokens, nonce(1))
	if err := f.gw.TopUp(ctx, newTx(nonce(1)), mint, tokens, until, sig); err != nil {
		t.Fatalf("top-up quotes carry no TTL cap, got %v", err)
	}
}

func TestSpendCredit_DebitsWithTeardown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mint := big.NewInt(1_000_000)
	tokens := big.NewInt(1_000_000)
	sig := f.sign(t, mint, tokens, testNow+300, testCaller)
	f.asset.authorize(testCaller, tokens, nonce(1))
	if err := f.gw.TopUp(ctx, newTx(nonce(1)), mint, tokens, testNow+300, sig); err != nil {
		t.Fatal(err)
	}

	tx := newTx(nonce(2))
	if err := f.gw.SpendCredit(ctx, tx); err != nil {
		t.Fatalf("SpendCredit: %v", err)
	}

	bal, err := f.gw.BalanceOf(ctx, testCaller)
	if err != nil {
		t.Fatal(err)
	}
	// 950_000 - maxGasCostWithTeardown(70_000)
	if bal.Cmp(big.NewInt(880_000)) != 0 {
		t.Errorf("balance: got %s want 880000", bal)
	}
	if payer, ok := tx.FeePayer(); !ok || payer != testSelf {
		t.Error("fee payer not registered")
	}
}

func TestSpendCredit_InsufficientLeavesBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// credit the caller with less than maxGasCostWithTeardown
	l := ledger.New(f.rdb)
	if err := l.Mint(ctx, testCaller, big.NewInt(69_999)); err != nil {
		t.Fatal(err)
	}

	tx := newTx(nonce(1))
	err := f.gw.SpendCredit(ctx, tx)
	if !errors.Is(err, ledger.ErrInsufficientCredit) {
		t.Fatalf("expected ErrInsufficientCredit, got %v", err)
	}
	if _, ok := tx.FeePayer(); ok {
		t.Error("failed SpendCredit must not register a fee payer")
	}

	bal, err := f.gw.BalanceOf(ctx, testCaller)
	if err != nil {
		t.Fatal(err)
	}
	if bal.Cmp(big.NewInt(69_999)) != 0 {
		t.Errorf("balance changed on failed spend: got %s", bal)
	}
}

// ── Queries and the end-to-end scenario ─────────────────────────────────────

func TestQuoteUsed_FlipsAfterFirstUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fee := big.NewInt(50_000)
	tokens := big.NewInt(55_000)
	sig := f.sign(t, fee, tokens, testNow+300, testCaller)

	used, err := f.gw.QuoteUsed(ctx, fee, tokens, testNow+300, testCaller)
	if err != nil {
		t.Fatal(err)
	}
	if used {
		t.Fatal("unused quote reported as used")
	}

	f.asset.authorize(testCaller, tokens, nonce(1))
	if err := f.gw.PayFee(ctx, newTx(nonce(1)), fee, tokens, testNow+300, sig); err != nil {
		t.Fatal(err)
	}

	used, err = f.gw.QuoteUsed(ctx, fee, tokens, testNow+300, testCaller)
	if err != nil {
		t.Fatal(err)
	}
	if !used {
		t.Fatal("consumed quote reported as unused")
	}
}

// TestCreditLifecycle walks the full prepaid flow: mint 1_000_000 at a 1:1
// rate, pay the top-up's own setup cost, replay-reject the same quote, then
// drain the balance with credit-only spends until it runs out.
func TestCreditLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mint := big.NewInt(1_000_000)
	tokens := big.NewInt(1_000_000)
	sig := f.sign(t, mint, tokens, testNow+300, testCaller)

	f.asset.authorize(testCaller, tokens, nonce(1))
	if err := f.gw.TopUp(ctx, newTx(nonce(1)), mint, tokens, testNow+300, sig); err != nil {
		t.Fatal(err)
	}
	bal, _ := f.gw.BalanceOf(ctx, testCaller)
	if bal.Cmp(big.NewInt(950_000)) != 0 {
		t.Fatalf("after top-up: got %s want 950000", bal)
	}

	// second use of the same signature
	f.asset.authorize(testCaller, tokens, nonce(2))
	err := f.gw.TopUp(ctx, newTx(nonce(2)), mint, tokens, testNow+300, sig)
	if !errors.Is(err, replay.ErrQuoteReplayed) {
		t.Fatalf("expected ErrQuoteReplayed, got %v", err)
	}

	// spend 70_000 per transaction while the balance holds
	spends := 0
	for {
		err := f.gw.SpendCredit(ctx, newTx(nonce(3)))
		if err != nil {
			if !errors.Is(err, ledger.ErrInsufficientCredit) {
				t.Fatalf("unexpected spend failure: %v", err)
			}
			break
		}
		spends++
		if spends > 20 {
			t.Fatal("spend loop did not terminate")
		}
	}
	// 950_000 / 70_000 = 13 full spends
	if spends != 13 {
		t.Errorf("got %d spends, want 13", spends)
	}
	bal, _ = f.gw.BalanceOf(ctx, testCaller)
	if bal.Cmp(big.NewInt(950_000-13*70_000)) != 0 {
		t.Errorf("final balance: got %s want %d", bal, 950_000-13*70_000)
	}
}
