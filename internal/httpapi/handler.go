// Package httpapi adapts the gateway's entrypoints to HTTP. The caller
// address comes exclusively from the auth middleware; request bodies carry
// the quote fields, the authwit, and the transaction's declared gas
// settings.
package httpapi

import (
	"encoding/hex"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/operon-labs/feegate/internal/auth"
	"github.com/operon-labs/feegate/internal/fpc"
	"github.com/operon-labs/feegate/internal/gascost"
	"github.com/operon-labs/feegate/internal/ledger"
	"github.com/operon-labs/feegate/internal/quote"
	"github.com/operon-labs/feegate/internal/replay"
	"github.com/operon-labs/feegate/internal/token"
)

// gasJSON mirrors gascost.GasSettings with decimal-string amounts.
type gasJSON struct {
	DAGasLimit         string `json:"da_gas_limit" binding:"required"`
	L2GasLimit         string `json:"l2_gas_limit" binding:"required"`
	FeePerDAGas        string `json:"fee_per_da_gas" binding:"required"`
	FeePerL2Gas        string `json:"fee_per_l2_gas" binding:"required"`
	TeardownDAGasLimit string `json:"teardown_da_gas_limit" binding:"required"`
	TeardownL2GasLimit string `json:"teardown_l2_gas_limit" binding:"required"`
}

type payFeeRequest struct {
	QuotedFee    string  `json:"quoted_fee" binding:"required"`
	TokenAmount  string  `json:"token_amount" binding:"required"`
	ValidUntil   int64   `json:"valid_until" binding:"required"`
	Signature    string  `json:"signature" binding:"required"`
	AuthwitNonce string  `json:"authwit_nonce" binding:"required"`
	Authwit      string  `json:"authwit" binding:"required"`
	Gas          gasJSON `json:"gas" binding:"required"`
}

type topUpRequest struct {
	MintAmount   string  `json:"mint_amount" binding:"required"`
	TokenAmount  string  `json:"token_amount" binding:"required"`
	ValidUntil   int64   `json:"valid_until" binding:"required"`
	Signature    string  `json:"signature" binding:"required"`
	AuthwitNonce string  `json:"authwit_nonce" binding:"required"`
	Authwit      string  `json:"authwit" binding:"required"`
	Gas          gasJSON `json:"gas" binding:"required"`
}

type spendCreditRequest struct {
	Gas gasJSON `json:"gas" binding:"required"`
}

// Handler wires the gateway entrypoints onto a gin router group.
type Handler struct {
	gw  *fpc.Gateway
	log *zap.Logger
	now func() int64 // anchored timestamp source; wall clock in production
}

func NewHandler(gw *fpc.Gateway, log *zap.Logger) *Handler {
	return &Handler{gw: gw, log: log, now: func() int64 { return time.Now().Unix() }}
}

// Register mounts all routes. The auth middleware must already be applied
// to the group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/pay-fee", h.payFee)
	rg.POST("/top-up", h.topUp)
	rg.POST("/spend-credit", h.spendCredit)
	rg.GET("/balance/:address", h.balance)
	rg.GET("/quote-used", h.quoteUsed)
}

func (h *Handler) payFee(c *gin.Context) {
	var req payFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	quotedFee, ok1 := parseAmount(req.QuotedFee)
	tokenAmount, ok2 := parseAmount(req.TokenAmount)
	gas, ok3 := parseGas(req.Gas)
	nonce, ok4 := parseHash(req.AuthwitNonce)
	authwit, ok5 := parseHexBytes(req.Authwit)
	sig, ok6 := parseHexBytes(req.Signature)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed field encoding"})
		return
	}

	tx := &fpc.TxContext{
		Caller:       auth.Caller(c),
		Timestamp:    h.now(),
		Gas:          gas,
		AuthwitNonce: nonce,
		Authwit:      authwit,
	}
	if err := h.gw.PayFee(c.Request.Context(), tx, quotedFee, tokenAmount, req.ValidUntil, sig); err != nil {
		h.fail(c, "pay-fee", err)
		return
	}
	h.ok(c, tx)
}

func (h *Handler) topUp(c *gin.Context) {
	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	mintAmount, ok1 := parseAmount(req.MintAmount)
	tokenAmount, ok2 := parseAmount(req.TokenAmount)
	gas, ok3 := parseGas(req.Gas)
	nonce, ok4 := parseHash(req.AuthwitNonce)
	authwit, ok5 := parseHexBytes(req.Authwit)
	sig, ok6 := parseHexBytes(req.Signature)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed field encoding"})
		return
	}

	tx := &fpc.TxContext{
		Caller:       auth.Caller(c),
		Timestamp:    h.now(),
		Gas:          gas,
		AuthwitNonce: nonce,
		Authwit:      authwit,
	}
	if err := h.gw.TopUp(c.Request.Context(), tx, mintAmount, tokenAmount, req.ValidUntil, sig); err != nil {
		h.fail(c, "top-up", err)
		return
	}
	h.ok(c, tx)
}

func (h *Handler) spendCredit(c *gin.Context) {
	var req spendCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	gas, ok := parseGas(req.Gas)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed field encoding"})
		return
	}

	tx := &fpc.TxContext{
		Caller:    auth.Caller(c),
		Timestamp: h.now(),
		Gas:       gas,
	}
	if err := h.gw.SpendCredit(c.Request.Context(), tx); err != nil {
		h.fail(c, "spend-credit", err)
		return
	}
	h.ok(c, tx)
}

func (h *Handler) balance(c *gin.Context) {
	addr := c.Param("address")
	if !common.IsHexAddress(addr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}
	bal, err := h.gw.BalanceOf(c.Request.Context(), common.HexToAddress(addr))
	if err != nil {
		h.fail(c, "balance", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": bal.String()})
}

func (h *Handler) quoteUsed(c *gin.Context) {
	amountA, ok1 := parseAmount(c.Query("amount_a"))
	amountB, ok2 := parseAmount(c.Query("amount_b"))
	validUntil, ok3 := new(big.Int).SetString(c.Query("valid_until"), 10)
	userStr := c.Query("user")
	if !(ok1 && ok2 && ok3 && common.IsHexAddress(userStr)) || !validUntil.IsInt64() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or malformed query params"})
		return
	}
	used, err := h.gw.QuoteUsed(c.Request.Context(), amountA, amountB, validUntil.Int64(), common.HexToAddress(userStr))
	if err != nil {
		h.fail(c, "quote-used", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"used": used})
}

func (h *Handler) ok(c *gin.Context, tx *fpc.TxContext) {
	payer, _ := tx.FeePayer()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "fee_payer": payer.Hex()})
}

// fail maps a protocol error onto a stable machine-readable code. Every
// taxonomy error stays caller-visible; only genuinely internal failures
// collapse to 500.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	var status int
	var code string
	switch {
	case errors.Is(err, quote.ErrInvalidSignature):
		status, code = http.StatusUnprocessableEntity, "invalid_signature"
	case errors.Is(err, quote.ErrQuoteExpired):
		status, code = http.StatusUnprocessableEntity, "quote_expired"
	case errors.Is(err, quote.ErrQuoteTTLTooLarge):
		status, code = http.StatusUnprocessableEntity, "quote_ttl_too_large"
	case errors.Is(err, fpc.ErrQuotedFeeMismatch):
		status, code = http.StatusUnprocessableEntity, "quoted_fee_mismatch"
	case errors.Is(err, token.ErrAuthwitMismatch):
		status, code = http.StatusUnprocessableEntity, "authwit_mismatch"
	case errors.Is(err, replay.ErrQuoteReplayed):
		status, code = http.StatusConflict, "quote_replayed"
	case errors.Is(err, ledger.ErrNoteConflict):
		status, code = http.StatusConflict, "note_conflict"
	case errors.Is(err, ledger.ErrInsufficientCredit):
		status, code = http.StatusPaymentRequired, "insufficient_credit"
	case errors.Is(err, gascost.ErrArithmeticOverflow):
		status, code = http.StatusUnprocessableEntity, "arithmetic_overflow"
	case errors.Is(err, gascost.ErrInvalidRate):
		status, code = http.StatusUnprocessableEntity, "invalid_rate"
	default:
		h.log.Error("entrypoint failed", zap.String("op", op), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": code})
}

func parseAmount(s string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}

func parseGas(g gasJSON) (gascost.GasSettings, bool) {
	fields := []string{
		g.DAGasLimit, g.L2GasLimit, g.FeePerDAGas,
		g.FeePerL2Gas, g.TeardownDAGasLimit, g.TeardownL2GasLimit,
	}
	parsed := make([]*big.Int, len(fields))
	for i, f := range fields {
		v, ok := parseAmount(f)
		if !ok {
			return gascost.GasSettings{}, false
		}
		parsed[i] = v
	}
	return gascost.GasSettings{
		DAGasLimit:         parsed[0],
		L2GasLimit:         parsed[1],
		FeePerDAGas:        parsed[2],
		FeePerL2Gas:        parsed[3],
		TeardownDAGasLimit: parsed[4],
		TeardownL2GasLimit: parsed[5],
	}, true
}

func parseHash(s string) ([32]byte, bool) {
	var h [32]byte
	b, ok := parseHexBytes(s)
	if !ok || len(b) != 32 {
		return h, false
	}
	copy(h[:], b)
	return h, true
}

func parseHexBytes(s string) ([]byte, bool) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, false
	}
	return b, true
}
