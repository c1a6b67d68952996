package handler

import (
	"errors"
	"time"

	"github.com/alphagov/pay-connector-sub018/internal/model"
	"github.com/alphagov/pay-connector-sub018/internal/repository"
	"github.com/alphagov/pay-connector-sub018/internal/service"
	"github.com/alphagov/pay-connector-sub018/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct {
	charges *repository.ChargeRepository
	parity  *service.ParityService
	expunge *service.ExpungeService
	log     *zap.Logger
}

func NewHandler(charges *repository.ChargeRepository, parity *service.ParityService, expunge *service.ExpungeService, log *zap.Logger) *Handler {
	return &Handler{
		charges: charges,
		parity:  parity,
		expunge: expunge,
		log:     log.Named("handler"),
	}
}

type chargeView struct {
	ChargeID    string                    `json:"charge_id"`
	Amount      int64                     `json:"amount"`
	State       model.ExternalChargeState `json:"state"`
	Provider    string                    `json:"payment_provider"`
	CardBrand   string                    `json:"card_brand,omitempty"`
	CreatedDate time.Time                 `json:"created_date"`
}

// GetCharge exposes the public status mapping for one charge.
func (h *Handler) GetCharge(c *gin.Context) {
	externalID := c.Param("externalID")

	charge, err := h.charges.GetByExternalID(c.Request.Context(), externalID)
	if err != nil {
		if errors.Is(err, repository.ErrChargeNotFound) {
			response.NotFound(c, "charge not found")
			return
		}
		h.log.Error("charge lookup failed", zap.String("external_id", externalID), zap.Error(err))
		response.ServerError(c, "charge lookup failed")
		return
	}

	response.Success(c, chargeView{
		ChargeID:    charge.ExternalID,
		Amount:      charge.Amount,
		State:       model.ExternalChargeStatus(charge.Status, charge.CanRetry),
		Provider:    charge.Provider,
		CardBrand:   charge.CardBrand,
		CreatedDate: charge.CreatedAt,
	})
}

type parityCheckRequest struct {
	StartID      int64  `json:"start_id" binding:"required"`
	EndID        int64  `json:"end_id" binding:"required"`
	ParityStatus string `json:"parity_status"`
}

// RunParityCheck reconciles a numeric id range against the ledger. Out of
// band operator tooling, not part of the payment path.
func (h *Handler) RunParityCheck(c *gin.Context) {
	var req parityCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}
	if req.EndID < req.StartID {
		response.ParamError(c, "end_id must not be less than start_id")
		return
	}

	summary, err := h.parity.RunChargeRange(c.Request.Context(), req.StartID, req.EndID, req.ParityStatus)
	if err != nil {
		h.log.Error("parity run failed", zap.Error(err))
		response.Error(c, response.CodeParityRunFailed, err.Error())
		return
	}
	response.Success(c, summary)
}

type expungeRequest struct {
	BatchSize int `json:"batch_size"`
}

// RunExpunge triggers one expunge batch.
func (h *Handler) RunExpunge(c *gin.Context) {
	var req expungeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}
	if req.BatchSize <= 0 {
		req.BatchSize = 50
	}

	summary, err := h.expunge.Expunge(c.Request.Context(), req.BatchSize)
	if err != nil {
		h.log.Error("expunge run failed", zap.Error(err))
		response.Error(c, response.CodeExpungeRunFailed, err.Error())
		return
	}
	response.Success(c, summary)
}
