package paygate

import (
	"time"

	"github.com/chainpress/paygate/ledger"
	"github.com/chainpress/paygate/logger"
	"github.com/chainpress/paygate/metrics"
)

type Option func(*Paygate)

func WithLogger(l logger.Logger) Option {
	return func(p *Paygate) { p.log = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(p *Paygate) { p.metrics = r }
}

// WithTimeout bounds each verification end to end.
func WithTimeout(t time.Duration) Option {
	return func(p *Paygate) { p.timeout = t }
}

// WithLedger replaces the default in-memory store with a durable one.
func WithLedger(s ledger.Store) Option {
	return func(p *Paygate) { p.store = s }
}

// WithWalletDirectory lets grant checks cover all wallets of an
// authenticated caller, not only the one on the submitted proof.
func WithWalletDirectory(d ledger.WalletDirectory) Option {
	return func(p *Paygate) { p.wallets = d }
}

func WithClock(now func() time.Time) Option {
	return func(p *Paygate) { p.now = now }
}

func WithReferenceWindow(d time.Duration) Option {
	return func(p *Paygate) { p.refWindow = d }
}

func WithSubscriptionPeriod(d time.Duration) Option {
	return func(p *Paygate) { p.subPeriod = d }
}

// WithAfterGrant installs a hook run detached after every successful unlock.
func WithAfterGrant(fn func(resourceID string) error) Option {
	return func(p *Paygate) { p.afterGrant = fn }
}
