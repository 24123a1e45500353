// Package access decides whether a caller may see a gated resource: free
// resources pass through, persistent grants and active subscriptions are
// checked before any chain call, and otherwise a submitted payment proof is
// verified on chain. Terminal outcomes are Granted or PaymentRequired;
// retries are the caller's responsibility via a new request.
package access

import (
	"context"
	"net/http"
	"time"

	"github.com/chainpress/paygate/ledger"
	"github.com/chainpress/paygate/logger"
	"github.com/chainpress/paygate/metrics"
	"github.com/chainpress/paygate/reference"
	"github.com/chainpress/paygate/types"
	"github.com/chainpress/paygate/utils"
	"github.com/chainpress/paygate/verification"
)

// AccessType classifies how access was granted.
type AccessType string

const (
	AccessFree         AccessType = "free"
	AccessGrant        AccessType = "grant"
	AccessSubscription AccessType = "subscription"
	AccessPayment      AccessType = "payment"
)

// DefaultSubscriptionPeriod is the rolling period added by one renewal.
const DefaultSubscriptionPeriod = 30 * 24 * time.Hour

// Resource describes the gated content being requested.
type Resource struct {
	ID       string
	AuthorID string
	Free     bool

	// Price in smallest units of the stablecoin.
	Price uint64

	// Preview text included in payment-required responses.
	Preview string

	// SubscriptionGated marks resources whose author sells subscriptions;
	// an active subscription then grants access without a per-resource
	// purchase.
	SubscriptionGated bool

	// Recipients maps each network to the payee wallet (author wallet, or
	// the platform treasury for non-split payments).
	Recipients map[types.Network]string
}

// Request is one access check.
type Request struct {
	Resource Resource

	// CallerID is the platform identity of the requester, empty for
	// anonymous callers (who can still pay per resource).
	CallerID string

	// Proof is the submitted payment claim, nil when none was sent.
	Proof *types.PaymentProof
}

// Decision is the terminal outcome of an access check.
type Decision struct {
	Granted    bool
	AccessType AccessType

	// Payment and EventID are set when access came from a freshly verified
	// payment.
	Payment *types.VerifiedPayment
	EventID string

	// Required is set when access was denied.
	Required *types.PaymentRequired
}

// StatusCode maps a decision to its HTTP-level outcome. Verification
// failures are never 5xx; they are 402 with actionable detail.
func (d *Decision) StatusCode() int {
	if d.Granted {
		return http.StatusOK
	}
	return http.StatusPaymentRequired
}

// PaymentNetwork is one way the platform accepts payment.
type PaymentNetwork struct {
	Network  types.Network
	Token    string
	Decimals int
}

// Engine composes the verification service with the durable stores.
type Engine struct {
	verify   *verification.Service
	store    ledger.Store
	wallets  ledger.WalletDirectory
	networks []PaymentNetwork

	refWindow time.Duration
	subPeriod time.Duration

	log     logger.Logger
	metrics metrics.Recorder
	now     func() time.Time

	// afterGrant runs detached after any successful unlock; best-effort,
	// errors are logged and never affect the request outcome.
	afterGrant func(resourceID string) error
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = r }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithReferenceWindow(d time.Duration) Option {
	return func(e *Engine) { e.refWindow = d }
}

func WithSubscriptionPeriod(d time.Duration) Option {
	return func(e *Engine) { e.subPeriod = d }
}

func WithAfterGrant(fn func(resourceID string) error) Option {
	return func(e *Engine) { e.afterGrant = fn }
}

// NewEngine builds an access decision engine.
func NewEngine(verify *verification.Service, store ledger.Store, wallets ledger.WalletDirectory, networks []PaymentNetwork, opts ...Option) *Engine {
	e := &Engine{
		verify:    verify,
		store:     store,
		wallets:   wallets,
		networks:  networks,
		refWindow: types.DefaultReferenceWindow,
		subPeriod: DefaultSubscriptionPeriod,
		log:       logger.NoopLogger{},
		metrics:   metrics.NoopRecorder{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SubscriptionResourceID is the reference resource id used when a payment
// renews an author subscription rather than buying one resource.
func SubscriptionResourceID(authorID string) string {
	return "sub:" + authorID
}

// Decide runs the state machine. Only genuine internal failures (store
// errors, transport exhaustion) return a non-nil error; every policy
// outcome is a Decision.
func (e *Engine) Decide(ctx context.Context, req Request) (*Decision, error) {
	if req.Resource.Free {
		e.count("access_free")
		return e.granted(AccessFree, nil, ""), nil
	}

	wallets, err := e.callerWallets(ctx, req)
	if err != nil {
		return nil, err
	}

	// Persistent grant: cheapest path, no chain call.
	if len(wallets) > 0 {
		has, err := e.store.HasGrant(ctx, req.Resource.ID, wallets)
		if err != nil {
			return nil, err
		}
		if has {
			e.count("access_grant")
			return e.granted(AccessGrant, nil, ""), nil
		}
	}

	sub := e.subscriptionState(ctx, req)
	if sub.Active(e.now()) {
		e.count("access_subscription")
		return e.granted(AccessSubscription, nil, ""), nil
	}

	if req.Proof == nil {
		// An expired subscription gets a renewal offer, a distinct shape
		// from per-resource payment-required.
		if sub != nil {
			e.count("renewal_required")
			return e.denied(e.renewalRequired(req.Resource, sub, nil)), nil
		}
		e.count("payment_required")
		return e.denied(e.paymentRequired(req.Resource, nil)), nil
	}

	return e.decideWithProof(ctx, req, sub)
}

// decideWithProof verifies a submitted proof, retrying against subscription
// parameters when the failure could plausibly be a renewal payment instead.
func (e *Engine) decideWithProof(ctx context.Context, req Request, sub *types.SubscriptionState) (*Decision, error) {
	log := e.log.With(map[string]any{
		"resource_id": req.Resource.ID,
		"tx_id":       req.Proof.TxID,
	})

	payment, err := e.verify.Verify(ctx, req.Proof, e.resourceParams(req.Resource, req.Proof.Network))
	if err == nil {
		return e.recordAndGrant(ctx, req, payment, log)
	}

	ve, ok := types.AsVerificationError(err)
	if !ok {
		return nil, err
	}

	if sub != nil && sub.RenewalPrice > 0 && renewalPlausible(ve.Code) {
		if d, ok := e.tryRenewal(ctx, req, sub, log); ok {
			return d, nil
		}
	}

	e.count("verification_failed")
	if sub != nil {
		return e.denied(e.renewalRequired(req.Resource, sub, ve)), nil
	}
	return e.denied(e.paymentRequired(req.Resource, ve)), nil
}

// renewalPlausible reports whether a per-resource failure code is
// consistent with the payment having been a subscription renewal (right
// chain, wrong amount or reference for per-resource pricing).
func renewalPlausible(code types.ErrorCode) bool {
	switch code {
	case types.ErrInsufficientAmount, types.ErrInvalidReference, types.ErrNoMatchingTransfer:
		return true
	default:
		return false
	}
}

func (e *Engine) tryRenewal(ctx context.Context, req Request, sub *types.SubscriptionState, log logger.Logger) (*Decision, bool) {
	params := e.resourceParams(req.Resource, req.Proof.Network)
	params.ResourceID = SubscriptionResourceID(req.Resource.AuthorID)
	params.Amount = sub.RenewalPrice

	payment, err := e.verify.Verify(ctx, req.Proof, params)
	if err != nil {
		return nil, false
	}

	// Record before extending the period; the ledger's uniqueness
	// constraint stops a double-submitted renewal from stacking twice.
	recordCtx := context.WithoutCancel(ctx)
	eventID, already, err := e.store.Record(recordCtx, payment, params.ResourceID)
	if err != nil {
		log.Error("renewal ledger write failed", map[string]any{"error": err.Error()})
		return nil, false
	}
	if !already {
		if err := e.store.Renew(recordCtx, req.CallerID, req.Resource.AuthorID, e.subPeriod); err != nil {
			log.Error("subscription renew failed", map[string]any{"error": err.Error()})
			return nil, false
		}
	}

	e.count("access_renewal")
	e.dispatch("after_grant", req.Resource.ID)
	d := e.granted(AccessSubscription, payment, eventID)
	return d, true
}

// recordAndGrant persists the ledger row and the grant, then unlocks.
// Recording uses a context that survives client disconnects so a payment
// is never left verified-but-unrecorded.
func (e *Engine) recordAndGrant(ctx context.Context, req Request, payment *types.VerifiedPayment, log logger.Logger) (*Decision, error) {
	recordCtx := context.WithoutCancel(ctx)

	eventID, already, err := e.store.Record(recordCtx, payment, req.Resource.ID)
	if err != nil {
		return nil, err
	}
	if already {
		log.Info("payment already recorded", map[string]any{"event_id": eventID})
	}

	if err := e.store.CreateGrant(recordCtx, req.Resource.ID, payment.Payer); err != nil {
		return nil, err
	}

	e.count("access_payment")
	e.dispatch("after_grant", req.Resource.ID)
	return e.granted(AccessPayment, payment, eventID), nil
}

// callerWallets merges the directory's wallets for the caller with the
// proof's claimed payer address.
func (e *Engine) callerWallets(ctx context.Context, req Request) ([]string, error) {
	var wallets []string
	if req.CallerID != "" && e.wallets != nil {
		ws, err := e.wallets.WalletAddresses(ctx, req.CallerID)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, ws...)
	}
	if req.Proof != nil && req.Proof.PayerAddress != "" {
		wallets = append(wallets, req.Proof.PayerAddress)
	}
	return wallets, nil
}

// subscriptionState loads the caller's subscription to the resource's
// author, nil when the resource is not subscription-gated or none exists.
func (e *Engine) subscriptionState(ctx context.Context, req Request) *types.SubscriptionState {
	if !req.Resource.SubscriptionGated || req.CallerID == "" {
		return nil
	}
	sub, err := e.store.GetAccess(ctx, req.CallerID, req.Resource.AuthorID)
	if err != nil {
		if err != ledger.ErrNotFound {
			e.log.Warn("subscription lookup failed", map[string]any{"error": err.Error()})
		}
		return nil
	}
	return sub
}

func (e *Engine) resourceParams(res Resource, network types.Network) types.PaymentParams {
	return types.PaymentParams{
		ResourceID:      res.ID,
		Recipient:       res.Recipients[network],
		Amount:          res.Price,
		Token:           e.tokenFor(network),
		ReferenceWindow: e.refWindow,
	}
}

func (e *Engine) tokenFor(network types.Network) string {
	for _, n := range e.networks {
		if n.Network == network {
			return n.Token
		}
	}
	return ""
}

// paymentRequired mints a per-resource 402 body with a fresh single-window
// reference per payment option. A failed attempt must not be retried with
// the same reference past its window, hence the fresh mint on every denial.
func (e *Engine) paymentRequired(res Resource, ve *types.VerificationError) *types.PaymentRequired {
	return e.buildRequired(res, res.ID, res.Price, false, res.Preview, ve)
}

// renewalRequired mints the subscription-renewal variant, offering the
// renewal price instead of the per-resource price.
func (e *Engine) renewalRequired(res Resource, sub *types.SubscriptionState, ve *types.VerificationError) *types.PaymentRequired {
	return e.buildRequired(res, SubscriptionResourceID(res.AuthorID), sub.RenewalPrice, true, "", ve)
}

func (e *Engine) buildRequired(res Resource, resourceID string, price uint64, renewal bool, preview string, ve *types.VerificationError) *types.PaymentRequired {
	now := e.now()
	pr := &types.PaymentRequired{
		Error:               "payment_required",
		ResourceID:          resourceID,
		Price:               utils.FormatAmount(price, types.StablecoinDecimals),
		ValidUntil:          now.Add(e.refWindow).Unix(),
		Preview:             preview,
		SubscriptionRenewal: renewal,
	}

	for _, n := range e.networks {
		recipient := res.Recipients[n.Network]
		if recipient == "" {
			continue
		}
		pr.PaymentOptions = append(pr.PaymentOptions, types.PaymentOption{
			Network:   n.Network,
			Recipient: recipient,
			Token:     n.Token,
			Decimals:  n.Decimals,
			Reference: reference.Encode(resourceID, now),
		})
	}

	if ve != nil {
		pr.PaymentVerificationFailed = true
		pr.VerificationError = ve.Message
		pr.VerificationErrorCode = ve.Code
	}
	return pr
}

func (e *Engine) granted(at AccessType, payment *types.VerifiedPayment, eventID string) *Decision {
	return &Decision{
		Granted:    true,
		AccessType: at,
		Payment:    payment,
		EventID:    eventID,
	}
}

func (e *Engine) denied(pr *types.PaymentRequired) *Decision {
	return &Decision{Granted: false, Required: pr}
}

func (e *Engine) count(name string) {
	e.metrics.IncCounter(name, map[string]string{"network": ""})
}

// dispatch runs a best-effort side effect detached from the request path.
func (e *Engine) dispatch(name, resourceID string) {
	if e.afterGrant == nil {
		return
	}
	fn := e.afterGrant
	go func() {
		if err := fn(resourceID); err != nil {
			e.log.Warn("side effect failed", map[string]any{
				"effect":      name,
				"resource_id": resourceID,
				"error":       err.Error(),
			})
		}
	}()
}
