package model

import (
	"time"
)

type RefundStatus string

const (
	RefundCreated   RefundStatus = "REFUND_CREATED"
	RefundSubmitted RefundStatus = "REFUND_SUBMITTED"
	Refunded        RefundStatus = "REFUNDED"
	RefundError     RefundStatus = "REFUND_ERROR"
)

var ValidRefundTransitions = map[RefundStatus][]RefundStatus{
	RefundCreated:   {RefundSubmitted, RefundError},
	RefundSubmitted: {Refunded, RefundError},
}

func CanTransitionRefund(from, to RefundStatus) bool {
	allowed, exists := ValidRefundTransitions[from]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func (s RefundStatus) IsTerminal() bool {
	_, hasOutbound := ValidRefundTransitions[s]
	return !hasOutbound
}

func (s RefundStatus) IsExpungeable() bool {
	return s.IsTerminal()
}

type ExternalRefundState struct {
	Status   string `json:"status"`
	Finished bool   `json:"finished"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
}

var externalRefundStates = map[RefundStatus]ExternalRefundState{
	RefundCreated:   {Status: ExternalSubmitted},
	RefundSubmitted: {Status: ExternalSubmitted},
	Refunded:        {Status: ExternalSuccess, Finished: true},
	RefundError:     {Status: ExternalError, Finished: true, Code: "P0050", Message: "Refund could not be processed"},
}

func ExternalRefundStatus(status RefundStatus) ExternalRefundState {
	state, ok := externalRefundStates[status]
	if !ok {
		return ExternalRefundState{Status: ExternalError, Finished: true}
	}
	return state
}

// Refund initiator.
const (
	RefundedByUser    = "USER"
	RefundedByService = "SERVICE"
)

type Refund struct {
	ID                    int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	ExternalID            string       `gorm:"type:varchar(32);uniqueIndex;not null" json:"external_id"`
	ChargeExternalID      string       `gorm:"type:varchar(32);index;not null" json:"charge_external_id"`
	Amount                int64        `gorm:"not null" json:"amount"`
	Status                RefundStatus `gorm:"type:varchar(32);index;not null" json:"status"`
	RefundedBy            string       `gorm:"type:varchar(16);not null" json:"refunded_by"`
	UserExternalID        string       `gorm:"type:varchar(64)" json:"user_external_id"`
	ProviderTransactionID string       `gorm:"type:varchar(64)" json:"provider_transaction_id"`
	ParityCheckStatus     string       `gorm:"type:varchar(32)" json:"parity_check_status"`
	ParityCheckedAt       *time.Time   `json:"parity_checked_at"`
	Version               int          `gorm:"not null;default:0" json:"version"`
	CreatedAt             time.Time    `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt             time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Refund) TableName() string {
	return "refund"
}
