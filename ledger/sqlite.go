package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/chainpress/paygate/types"
)

// SQLite is the durable Store implementation.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens (and initializes) the database at path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &SQLite{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS payment_events (
			event_id TEXT NOT NULL,
			chain TEXT NOT NULL,
			tx_id TEXT NOT NULL,
			payer TEXT NOT NULL,
			recipient TEXT NOT NULL,
			amount INTEGER NOT NULL,
			token TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (chain, tx_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_events_payer ON payment_events(payer)`,

		`CREATE TABLE IF NOT EXISTS access_grants (
			resource_id TEXT NOT NULL,
			payer_address TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (resource_id, payer_address)
		)`,

		`CREATE TABLE IF NOT EXISTS subscriptions (
			subscriber TEXT NOT NULL,
			author TEXT NOT NULL,
			current_period_end INTEGER NOT NULL,
			renewal_price INTEGER NOT NULL,
			PRIMARY KEY (subscriber, author)
		)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// Record inserts the payment event once. A duplicate (chain, tx_id) leaves
// the original row untouched and reports its event id.
func (s *SQLite) Record(ctx context.Context, payment *types.VerifiedPayment, resourceID string) (string, bool, error) {
	eventID := uuid.NewString()

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO payment_events
		 (event_id, chain, tx_id, payer, recipient, amount, token, resource_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		eventID, payment.Network.String(), payment.TxID, payment.Payer, payment.Recipient,
		payment.Amount, payment.Token, resourceID, time.Now().Unix(),
	)
	if err != nil {
		return "", false, err
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return "", false, err
	}
	if inserted > 0 {
		return eventID, false, nil
	}

	var existingID string
	err = s.db.QueryRowContext(ctx,
		`SELECT event_id FROM payment_events WHERE chain = ? AND tx_id = ?`,
		payment.Network.String(), payment.TxID,
	).Scan(&existingID)
	if err != nil {
		return "", false, err
	}
	return existingID, true, nil
}

func (s *SQLite) HasGrant(ctx context.Context, resourceID string, payerAddresses []string) (bool, error) {
	for _, addr := range payerAddresses {
		var one int
		err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM access_grants WHERE resource_id = ? AND payer_address = ?`,
			resourceID, addr,
		).Scan(&one)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (s *SQLite) CreateGrant(ctx context.Context, resourceID, payerAddress string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO access_grants (resource_id, payer_address, created_at)
		 VALUES (?, ?, ?)`,
		resourceID, payerAddress, time.Now().Unix(),
	)
	return err
}

func (s *SQLite) GetAccess(ctx context.Context, subscriber, author string) (*types.SubscriptionState, error) {
	var (
		periodEnd    int64
		renewalPrice uint64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT current_period_end, renewal_price FROM subscriptions
		 WHERE subscriber = ? AND author = ?`,
		subscriber, author,
	).Scan(&periodEnd, &renewalPrice)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &types.SubscriptionState{
		Subscriber:       subscriber,
		Author:           author,
		CurrentPeriodEnd: time.Unix(periodEnd, 0).UTC(),
		RenewalPrice:     renewalPrice,
	}, nil
}

// Renew extends from the later of now and the current period end, so early
// renewals stack instead of losing paid time.
func (s *SQLite) Renew(ctx context.Context, subscriber, author string, period time.Duration) error {
	current, err := s.GetAccess(ctx, subscriber, author)
	if err != nil && err != ErrNotFound {
		return err
	}

	base := time.Now()
	renewalPrice := uint64(0)
	if current != nil {
		renewalPrice = current.RenewalPrice
		if current.CurrentPeriodEnd.After(base) {
			base = current.CurrentPeriodEnd
		}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (subscriber, author, current_period_end, renewal_price)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (subscriber, author)
		 DO UPDATE SET current_period_end = excluded.current_period_end`,
		subscriber, author, base.Add(period).Unix(), renewalPrice,
	)
	return err
}

// SetSubscription writes subscription state directly; used by publishing
// flows when an author configures pricing, and by tests.
func (s *SQLite) SetSubscription(ctx context.Context, sub *types.SubscriptionState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (subscriber, author, current_period_end, renewal_price)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (subscriber, author)
		 DO UPDATE SET current_period_end = excluded.current_period_end,
		               renewal_price = excluded.renewal_price`,
		sub.Subscriber, sub.Author, sub.CurrentPeriodEnd.Unix(), sub.RenewalPrice,
	)
	return err
}
