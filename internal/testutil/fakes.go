// Package testutil provides in-memory store and client fakes shared by
// service and job tests.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/alphagov/pay-connector-sub018/internal/event"
	"github.com/alphagov/pay-connector-sub018/internal/ledger"
	"github.com/alphagov/pay-connector-sub018/internal/model"
	"github.com/alphagov/pay-connector-sub018/internal/repository"

	"gorm.io/gorm"
)

// Charges is an in-memory ChargeStore.
type Charges struct {
	mu      sync.Mutex
	byID    map[string]*model.Charge
	Cleared []string
}

func NewCharges() *Charges {
	return &Charges{byID: make(map[string]*model.Charge)}
}

func (s *Charges) Add(c *model.Charge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[c.ExternalID] = c
}

func (s *Charges) GetByExternalID(_ context.Context, externalID string) (*model.Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[externalID]
	if !ok {
		return nil, repository.ErrChargeNotFound
	}
	return c, nil
}

func (s *Charges) UpdateStatus(_ context.Context, _ *gorm.DB, externalID string, from, to model.ChargeStatus) error {
	if !model.CanTransitionCharge(from, to) {
		return model.NewInvalidTransitionError(string(from), string(to))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[externalID]
	if !ok {
		return repository.ErrChargeNotFound
	}
	if c.Status != from {
		return repository.ErrStatusConflict
	}
	c.Status = to
	c.Version++
	return nil
}

func (s *Charges) UpdateParity(_ context.Context, externalID, parityStatus string, checkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[externalID]
	if !ok {
		return repository.ErrChargeNotFound
	}
	c.ParityCheckStatus = parityStatus
	at := checkedAt
	c.ParityCheckedAt = &at
	return nil
}

func (s *Charges) ClearSensitiveFields(_ context.Context, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[externalID]
	if !ok {
		return repository.ErrChargeNotFound
	}
	c.Description = ""
	c.Reference = ""
	c.Email = ""
	c.CardholderName = ""
	c.ProviderTransactionID = ""
	s.Cleared = append(s.Cleared, externalID)
	return nil
}

func (s *Charges) FindExpungeCandidates(_ context.Context, olderThan, checkedBefore time.Time, limit int) ([]*model.Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Charge
	for _, c := range s.byID {
		if !c.Status.IsExpungeable() || !c.CreatedAt.Before(olderThan) {
			continue
		}
		if c.ParityCheckedAt != nil && !c.ParityCheckedAt.Before(checkedBefore) {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Charges) FindByIDRange(_ context.Context, startID, endID int64, parityStatus string) ([]*model.Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Charge
	for _, c := range s.byID {
		if c.ID < startID || c.ID > endID {
			continue
		}
		if parityStatus != "" && c.ParityCheckStatus != parityStatus {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Refunds is an in-memory RefundStore.
type Refunds struct {
	mu      sync.Mutex
	byID    map[string]*model.Refund
	Cleared []string
}

func NewRefunds() *Refunds {
	return &Refunds{byID: make(map[string]*model.Refund)}
}

func (s *Refunds) Add(r *model.Refund) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[r.ExternalID] = r
}

func (s *Refunds) GetByExternalID(_ context.Context, externalID string) (*model.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[externalID]
	if !ok {
		return nil, repository.ErrRefundNotFound
	}
	return r, nil
}

func (s *Refunds) SumRefunded(_ context.Context, chargeExternalID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, r := range s.byID {
		if r.ChargeExternalID == chargeExternalID && r.Status != model.RefundError {
			sum += r.Amount
		}
	}
	return sum, nil
}

func (s *Refunds) UpdateParity(_ context.Context, externalID, parityStatus string, checkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[externalID]
	if !ok {
		return repository.ErrRefundNotFound
	}
	r.ParityCheckStatus = parityStatus
	at := checkedAt
	r.ParityCheckedAt = &at
	return nil
}

func (s *Refunds) ClearSensitiveFields(_ context.Context, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[externalID]
	if !ok {
		return repository.ErrRefundNotFound
	}
	r.UserExternalID = ""
	r.ProviderTransactionID = ""
	s.Cleared = append(s.Cleared, externalID)
	return nil
}

func (s *Refunds) FindExpungeCandidates(_ context.Context, olderThan, checkedBefore time.Time, limit int) ([]*model.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Refund
	for _, r := range s.byID {
		if !r.Status.IsExpungeable() || !r.CreatedAt.Before(olderThan) {
			continue
		}
		if r.ParityCheckedAt != nil && !r.ParityCheckedAt.Before(checkedBefore) {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Refunds) FindByIDRange(_ context.Context, startID, endID int64, parityStatus string) ([]*model.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Refund
	for _, r := range s.byID {
		if r.ID < startID || r.ID > endID {
			continue
		}
		if parityStatus != "" && r.ParityCheckStatus != parityStatus {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Transitions is an in-memory TransitionEventStore.
type Transitions struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*model.TransitionEvent
}

func NewTransitions() *Transitions {
	return &Transitions{byID: make(map[int64]*model.TransitionEvent)}
}

func (s *Transitions) Append(_ context.Context, _ *gorm.DB, rec *model.TransitionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	stored := *rec
	s.byID[rec.ID] = &stored
	return nil
}

func (s *Transitions) GetByID(_ context.Context, id int64) (*model.TransitionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrTransitionEventNotFound
	}
	return rec, nil
}

func (s *Transitions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Delete removes a row so tests can simulate a marker whose source is gone.
func (s *Transitions) Delete(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}

// Emissions is an in-memory EmissionStore with the same natural-key
// idempotence as the database table.
type Emissions struct {
	mu      sync.Mutex
	nextID  int64
	Records []*model.EmissionRecord
	byKey   map[model.EmissionKey]*model.EmissionRecord
}

func NewEmissions() *Emissions {
	return &Emissions{byKey: make(map[model.EmissionKey]*model.EmissionRecord)}
}

func (s *Emissions) RecordOffered(_ context.Context, _ *gorm.DB, rec *model.EmissionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byKey[rec.Key()]; ok {
		rec.ID = existing.ID
		return nil
	}
	s.nextID++
	rec.ID = s.nextID
	stored := *rec
	s.byKey[rec.Key()] = &stored
	s.Records = append(s.Records, &stored)
	return nil
}

func (s *Emissions) RecordEmitted(_ context.Context, key model.EmissionKey, emittedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byKey[key]
	if !ok {
		return nil
	}
	if rec.EmittedAt == nil {
		at := emittedAt
		rec.EmittedAt = &at
	}
	return nil
}

func (s *Emissions) HasBeenEmitted(_ context.Context, key model.EmissionKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byKey[key]
	return ok && rec.EmittedAt != nil, nil
}

func (s *Emissions) FindUnconfirmedOlderThan(_ context.Context, cutoff time.Time, limit int) ([]*model.EmissionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []*model.EmissionRecord
	for _, rec := range s.Records {
		if rec.EmittedAt != nil || !rec.OfferedAt.Before(cutoff) {
			continue
		}
		if rec.DoNotRetryBefore != nil && rec.DoNotRetryBefore.After(now) {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Emissions) SetRetryDeadline(_ context.Context, id int64, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.Records {
		if rec.ID == id {
			d := deadline
			rec.DoNotRetryBefore = &d
			return nil
		}
	}
	return nil
}

// Get returns the stored record for a key, or nil.
func (s *Emissions) Get(key model.EmissionKey) *model.EmissionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byKey[key]
}

func (s *Emissions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Records)
}

// EmittedCount returns how many records are confirmed delivered.
func (s *Emissions) EmittedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.Records {
		if rec.EmittedAt != nil {
			n++
		}
	}
	return n
}

// Ledger is a scripted LedgerClient. Each PostEvents call pops the next
// error from PostErrs; once the script is exhausted every call succeeds.
type Ledger struct {
	mu        sync.Mutex
	PostErrs  []error
	Posted    [][]event.Event
	Snapshots map[string]*ledger.TransactionSnapshot
	GetErr    error
}

func NewLedger() *Ledger {
	return &Ledger{Snapshots: make(map[string]*ledger.TransactionSnapshot)}
}

func (l *Ledger) SetSnapshot(resourceType, externalID string, snap *ledger.TransactionSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Snapshots[resourceType+"/"+externalID] = snap
}

func (l *Ledger) PostEvents(_ context.Context, events []event.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var err error
	if len(l.PostErrs) > 0 {
		err = l.PostErrs[0]
		l.PostErrs = l.PostErrs[1:]
	}
	if err != nil {
		return err
	}
	l.Posted = append(l.Posted, events)
	return nil
}

func (l *Ledger) GetTransaction(_ context.Context, resourceType, externalID string) (*ledger.TransactionSnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.GetErr != nil {
		return nil, l.GetErr
	}
	snap, ok := l.Snapshots[resourceType+"/"+externalID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return snap, nil
}

// PostedCount returns how many PostEvents calls succeeded.
func (l *Ledger) PostedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Posted)
}

// AllPosted flattens every delivered batch.
func (l *Ledger) AllPosted() []event.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []event.Event
	for _, batch := range l.Posted {
		out = append(out, batch...)
	}
	return out
}

// Notifier captures published notifications.
type Notifier struct {
	mu        sync.Mutex
	Err       error
	Published []event.Event
}

func NewNotifier() *Notifier {
	return &Notifier{}
}

func (n *Notifier) Publish(_ context.Context, ev event.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.Published = append(n.Published, ev)
	return nil
}

func (n *Notifier) PublishedTypes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.Published))
	for _, ev := range n.Published {
		out = append(out, ev.EventType)
	}
	return out
}
