package event

import (
	"time"
)

// Payment event types.
const (
	PaymentCreated            = "PAYMENT_CREATED"
	PaymentStarted            = "PAYMENT_STARTED"
	AuthorisationSucceeded    = "AUTHORISATION_SUCCEEDED"
	AuthorisationRejected     = "AUTHORISATION_REJECTED"
	AuthorisationErrored      = "AUTHORISATION_ERRORED"
	CaptureSubmitted          = "CAPTURE_SUBMITTED"
	CaptureConfirmed          = "CAPTURE_CONFIRMED"
	CaptureErrored            = "CAPTURE_ERRORED"
	PaymentExpired            = "PAYMENT_EXPIRED"
	CancelledByUser           = "CANCELLED_BY_USER"
	CancelledByService        = "CANCELLED_BY_SERVICE"
	RefundAvailabilityUpdated = "REFUND_AVAILABILITY_UPDATED"
)

// Refund event types.
const (
	RefundCreatedByUser    = "REFUND_CREATED_BY_USER"
	RefundCreatedByService = "REFUND_CREATED_BY_SERVICE"
	RefundSubmitted        = "REFUND_SUBMITTED"
	RefundSucceeded        = "REFUND_SUCCEEDED"
	RefundError            = "REFUND_ERROR"
)

// Event is an immutable fact about a resource state change, delivered to
// the external ledger. Timestamp is taken from the persisted transition,
// not wall clock at emission time, so replays stay temporally accurate.
type Event struct {
	ResourceType             string      `json:"resource_type"`
	ResourceExternalID       string      `json:"resource_external_id"`
	ParentResourceExternalID string      `json:"parent_resource_external_id,omitempty"`
	EventType                string      `json:"event_type"`
	Timestamp                time.Time   `json:"timestamp"`
	Details                  interface{} `json:"event_details"`
}

type PaymentCreatedDetails struct {
	Amount           int64  `json:"amount"`
	Description      string `json:"description,omitempty"`
	Reference        string `json:"reference,omitempty"`
	GatewayAccountID int64  `json:"gateway_account_id"`
	Provider         string `json:"payment_provider"`
}

type PaymentStatusDetails struct {
	Status string `json:"status"`
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type AuthorisationDetails struct {
	ProviderTransactionID string `json:"gateway_transaction_id,omitempty"`
	CardBrand             string `json:"card_brand,omitempty"`
	LastDigitsCardNumber  string `json:"last_digits_card_number,omitempty"`
	CardholderName        string `json:"cardholder_name,omitempty"`
	CanRetry              *bool  `json:"can_retry,omitempty"`
}

type CaptureConfirmedDetails struct {
	CapturedDate          time.Time `json:"captured_date"`
	ProviderTransactionID string    `json:"gateway_transaction_id,omitempty"`
}

type RefundDetails struct {
	Amount         int64  `json:"amount"`
	UserExternalID string `json:"user_external_id,omitempty"`
	RefundedBy     string `json:"refunded_by,omitempty"`
}

type RefundAvailabilityDetails struct {
	RefundStatus    string `json:"refund_status"`
	AmountAvailable int64  `json:"amount_available"`
	AmountRefunded  int64  `json:"amount_refunded"`
}
