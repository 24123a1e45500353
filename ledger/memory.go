package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chainpress/paygate/types"
)

// Memory is a mutex-guarded in-process Store, suitable for tests and
// single-instance deployments that do not need durability.
type Memory struct {
	mu     sync.Mutex
	events map[string]types.PaymentEvent
	grants map[string]time.Time
	subs   map[string]*types.SubscriptionState
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		events: make(map[string]types.PaymentEvent),
		grants: make(map[string]time.Time),
		subs:   make(map[string]*types.SubscriptionState),
	}
}

func eventKey(network types.Network, txID string) string { return network.String() + "|" + txID }
func grantKey(resourceID, payer string) string           { return resourceID + "|" + payer }
func subKey(subscriber, author string) string            { return subscriber + "|" + author }

func (m *Memory) Record(_ context.Context, payment *types.VerifiedPayment, resourceID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := eventKey(payment.Network, payment.TxID)
	if existing, ok := m.events[key]; ok {
		return existing.EventID, true, nil
	}

	event := types.PaymentEvent{
		EventID:   uuid.NewString(),
		Network:   payment.Network,
		TxID:      payment.TxID,
		Payer:     payment.Payer,
		Recipient: payment.Recipient,
		Amount:    payment.Amount,
		Token:     payment.Token,
		Resource:  resourceID,
		CreatedAt: time.Now(),
	}
	m.events[key] = event
	return event.EventID, false, nil
}

func (m *Memory) HasGrant(_ context.Context, resourceID string, payerAddresses []string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, addr := range payerAddresses {
		if _, ok := m.grants[grantKey(resourceID, addr)]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) CreateGrant(_ context.Context, resourceID, payerAddress string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := grantKey(resourceID, payerAddress)
	if _, ok := m.grants[key]; !ok {
		m.grants[key] = time.Now()
	}
	return nil
}

func (m *Memory) GetAccess(_ context.Context, subscriber, author string) (*types.SubscriptionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[subKey(subscriber, author)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *sub
	return &copied, nil
}

func (m *Memory) Renew(_ context.Context, subscriber, author string, period time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := subKey(subscriber, author)
	base := time.Now()
	sub, ok := m.subs[key]
	if !ok {
		sub = &types.SubscriptionState{Subscriber: subscriber, Author: author}
		m.subs[key] = sub
	}
	if sub.CurrentPeriodEnd.After(base) {
		base = sub.CurrentPeriodEnd
	}
	sub.CurrentPeriodEnd = base.Add(period)
	return nil
}

// SetSubscription writes subscription state directly.
func (m *Memory) SetSubscription(_ context.Context, sub *types.SubscriptionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *sub
	m.subs[subKey(sub.Subscriber, sub.Author)] = &copied
	return nil
}

// EventCount reports the number of recorded payment events.
func (m *Memory) EventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// StaticWallets is a WalletDirectory backed by a fixed map, for tests and
// examples.
type StaticWallets map[string][]string

func (w StaticWallets) WalletAddresses(_ context.Context, userID string) ([]string, error) {
	return w[userID], nil
}
