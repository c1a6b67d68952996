package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alphagov/pay-connector-sub018/internal/event"
)

// ErrNotFound means the ledger has no view of the resource yet. Parity
// checks treat this as SKIPPED, not a failure.
var ErrNotFound = errors.New("resource not found in ledger")

// TransportError covers network failures and 5xx responses. Retryable.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ledger transport failure: %v", e.Err)
	}
	return fmt.Sprintf("ledger transport failure: status %d", e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectedError covers 4xx responses: the ledger understood the request
// and refused it. Terminal for the event, never retried.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("ledger rejected request: status %d: %s", e.StatusCode, e.Body)
}

// TransactionSnapshot is the ledger's view of a charge or refund, fetched
// for parity checks.
type TransactionSnapshot struct {
	TransactionID        string    `json:"transaction_id"`
	ParentTransactionID  string    `json:"parent_transaction_id,omitempty"`
	Amount               int64     `json:"amount"`
	Status               string    `json:"state"`
	CreatedDate          time.Time `json:"created_date"`
	CardBrand            string    `json:"card_brand,omitempty"`
	LastDigitsCardNumber string    `json:"last_digits_card_number,omitempty"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// PostEvents delivers a batch of domain events as a JSON array. Any 2xx
// response counts as accepted.
func (c *Client) PostEvents(ctx context.Context, events []event.Event) error {
	body, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/event", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &RejectedError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return &TransportError{StatusCode: resp.StatusCode}
}

// GetTransaction fetches the ledger snapshot for a resource by natural id.
func (c *Client) GetTransaction(ctx context.Context, resourceType, externalID string) (*TransactionSnapshot, error) {
	url := fmt.Sprintf("%s/v1/transaction/%s/%s", c.baseURL, resourceType, externalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var snapshot TransactionSnapshot
		if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		return &snapshot, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, &TransportError{StatusCode: resp.StatusCode}
	}
}

// IsTransport reports whether err is a retryable delivery failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsRejected reports whether err is a terminal protocol failure.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
