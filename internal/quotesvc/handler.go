package quotesvc

import (
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type quoteRequest struct {
	User    string `json:"user" binding:"required"`
	Variant string `json:"variant" binding:"required"` // "direct" | "top_up"
	Amount  string `json:"amount" binding:"required"`  // fee amount or mint amount
}

// Handler serves POST /quote.
type Handler struct {
	svc *Service
	log *zap.Logger
}

func NewHandler(svc *Service, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/quote", h.issueQuote)
}

func (h *Handler) issueQuote(c *gin.Context) {
	var req quoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if !common.IsHexAddress(req.User) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user address"})
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok || amount.Sign() < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	user := common.HexToAddress(req.User)
	now := time.Now().Unix()

	var (
		issued *Issued
		err    error
	)
	switch req.Variant {
	case "direct":
		issued, err = h.svc.IssueDirect(user, amount, now)
	case "top_up":
		issued, err = h.svc.IssueTopUp(user, amount, now)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown variant"})
		return
	}
	if err != nil {
		h.log.Error("quote issue failed",
			zap.String("user", user.Hex()),
			zap.String("variant", req.Variant),
			zap.Error(err),
		)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, issued)
}
