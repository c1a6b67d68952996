package model

import (
	"fmt"
	"time"
)

type ChargeStatus string

const (
	ChargeCreated             ChargeStatus = "CREATED"
	ChargeEnteringCardDetails ChargeStatus = "ENTERING_CARD_DETAILS"
	ChargeAuthorisationReady  ChargeStatus = "AUTHORISATION_READY"
	ChargeAuthorisationOK     ChargeStatus = "AUTHORISATION_SUCCESS"
	ChargeAuthorisationDenied ChargeStatus = "AUTHORISATION_REJECTED"
	ChargeAuthorisationError  ChargeStatus = "AUTHORISATION_ERROR"
	ChargeCaptureApproved     ChargeStatus = "CAPTURE_APPROVED"
	ChargeCaptureReady        ChargeStatus = "CAPTURE_READY"
	ChargeCaptureSubmitted    ChargeStatus = "CAPTURE_SUBMITTED"
	ChargeCaptured            ChargeStatus = "CAPTURED"
	ChargeCaptureError        ChargeStatus = "CAPTURE_ERROR"
	ChargeExpired             ChargeStatus = "EXPIRED"
	ChargeUserCancelled       ChargeStatus = "USER_CANCELLED"
	ChargeSystemCancelled     ChargeStatus = "SYSTEM_CANCELLED"
)

// ValidChargeTransitions is the full transition graph for a charge.
// Terminal statuses have no entry. Any edge not listed here is illegal and
// rejected at the write layer.
var ValidChargeTransitions = map[ChargeStatus][]ChargeStatus{
	ChargeCreated: {
		ChargeEnteringCardDetails,
		ChargeExpired,
		ChargeSystemCancelled,
	},
	ChargeEnteringCardDetails: {
		ChargeAuthorisationReady,
		ChargeExpired,
		ChargeUserCancelled,
		ChargeSystemCancelled,
	},
	ChargeAuthorisationReady: {
		ChargeAuthorisationOK,
		ChargeAuthorisationDenied,
		ChargeAuthorisationError,
	},
	ChargeAuthorisationOK: {
		ChargeCaptureApproved,
		ChargeExpired,
		ChargeUserCancelled,
		ChargeSystemCancelled,
	},
	ChargeCaptureApproved: {
		ChargeCaptureReady,
	},
	ChargeCaptureReady: {
		ChargeCaptureSubmitted,
		ChargeCaptureError,
	},
	ChargeCaptureSubmitted: {
		ChargeCaptured,
		ChargeCaptureError,
	},
}

func CanTransitionCharge(from, to ChargeStatus) bool {
	allowed, exists := ValidChargeTransitions[from]
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

func (s ChargeStatus) IsTerminal() bool {
	_, hasOutbound := ValidChargeTransitions[s]
	return !hasOutbound
}

// IsExpungeable reports whether a charge in this status is safe to purge
// once aged and reconciled. Only terminal statuses qualify.
func (s ChargeStatus) IsExpungeable() bool {
	return s.IsTerminal()
}

// InvalidTransitionError is always an integration defect, never retried.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

func NewInvalidTransitionError(from, to string) *InvalidTransitionError {
	return &InvalidTransitionError{From: from, To: to}
}

// ExternalChargeState is the client-facing view of an internal status.
type ExternalChargeState struct {
	Status   string `json:"status"`
	Finished bool   `json:"finished"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
	CanRetry *bool  `json:"can_retry,omitempty"`
}

const (
	ExternalCreated   = "created"
	ExternalStarted   = "started"
	ExternalSubmitted = "submitted"
	ExternalSuccess   = "success"
	ExternalDeclined  = "declined"
	ExternalTimedOut  = "timedout"
	ExternalCancelled = "cancelled"
	ExternalError     = "error"
)

var externalChargeStates = map[ChargeStatus]ExternalChargeState{
	ChargeCreated:             {Status: ExternalCreated},
	ChargeEnteringCardDetails: {Status: ExternalStarted},
	ChargeAuthorisationReady:  {Status: ExternalStarted},
	ChargeAuthorisationOK:     {Status: ExternalSubmitted},
	ChargeCaptureApproved:     {Status: ExternalSuccess, Finished: true},
	ChargeCaptureReady:        {Status: ExternalSuccess, Finished: true},
	ChargeCaptureSubmitted:    {Status: ExternalSuccess, Finished: true},
	ChargeCaptured:            {Status: ExternalSuccess, Finished: true},
	ChargeAuthorisationDenied: {Status: ExternalDeclined, Finished: true, Code: "P0010", Message: "Payment method rejected"},
	ChargeAuthorisationError:  {Status: ExternalError, Finished: true, Code: "P0050", Message: "Payment provider returned an error"},
	ChargeCaptureError:        {Status: ExternalError, Finished: true, Code: "P0050", Message: "Payment provider returned an error"},
	ChargeExpired:             {Status: ExternalTimedOut, Finished: true, Code: "P0020", Message: "Payment expired"},
	ChargeUserCancelled:       {Status: ExternalCancelled, Finished: true, Code: "P0030", Message: "Payment was cancelled by the user"},
	ChargeSystemCancelled:     {Status: ExternalCancelled, Finished: true, Code: "P0040", Message: "Payment was cancelled by the service"},
}

// ExternalChargeStatus maps an internal status to its public representation.
// canRetry is carried separately from the state machine so a declined
// agreement payment can advertise retryability without an extra status.
func ExternalChargeStatus(status ChargeStatus, canRetry *bool) ExternalChargeState {
	state, ok := externalChargeStates[status]
	if !ok {
		return ExternalChargeState{Status: ExternalError, Finished: true}
	}
	if status == ChargeAuthorisationDenied && canRetry != nil {
		state.CanRetry = canRetry
	}
	return state
}

const (
	ParityMatched         = "MATCHED"
	ParityDataMismatch    = "DATA_MISMATCH"
	ParityMissingInLedger = "MISSING_IN_LEDGER"
)

type Charge struct {
	ID                    int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	ExternalID            string       `gorm:"type:varchar(32);uniqueIndex;not null" json:"external_id"`
	GatewayAccountID      int64        `gorm:"index;not null" json:"gateway_account_id"`
	Amount                int64        `gorm:"not null" json:"amount"`
	Status                ChargeStatus `gorm:"type:varchar(32);index;not null" json:"status"`
	Provider              string       `gorm:"type:varchar(32);not null" json:"provider"`
	ProviderTransactionID string       `gorm:"type:varchar(64);index" json:"provider_transaction_id"`
	Description           string       `gorm:"type:varchar(256)" json:"description"`
	Reference             string       `gorm:"type:varchar(64)" json:"reference"`
	Email                 string       `gorm:"type:varchar(128)" json:"email"`
	CardholderName        string       `gorm:"type:varchar(128)" json:"cardholder_name"`
	CardBrand             string       `gorm:"type:varchar(32)" json:"card_brand"`
	LastDigitsCardNumber  string       `gorm:"type:varchar(4)" json:"last_digits_card_number"`
	CanRetry              *bool        `json:"can_retry,omitempty"`
	ParityCheckStatus     string       `gorm:"type:varchar(32)" json:"parity_check_status"`
	ParityCheckedAt       *time.Time   `json:"parity_checked_at"`
	Version               int          `gorm:"not null;default:0" json:"version"`
	CreatedAt             time.Time    `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt             time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Charge) TableName() string {
	return "charge"
}
