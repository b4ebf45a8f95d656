package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/cafe-pos/internal/cart"
	"github.com/joao-fontenele/cafe-pos/internal/domain"
	"github.com/joao-fontenele/cafe-pos/internal/payment"
	"github.com/joao-fontenele/cafe-pos/internal/queue"
	"github.com/joao-fontenele/cafe-pos/internal/submission"
	"github.com/joao-fontenele/cafe-pos/internal/telemetry"
)

var tracer = otel.Tracer("checkout")

type Stage string

const (
	StageIdle                 Stage = "IDLE"
	StageAwaitingConfirmation Stage = "AWAITING_CONFIRMATION"
	StageAwaitingAuth         Stage = "AWAITING_AUTH"
	StageSubmitting           Stage = "SUBMITTING"
	StageSuccess              Stage = "SUCCESS"
	StageOfflineQueued        Stage = "OFFLINE_QUEUED"
	StageFailed               Stage = "FAILED"
)

func (s Stage) Terminal() bool {
	return s == StageSuccess || s == StageOfflineQueued || s == StageFailed
}

type Cart interface {
	Snapshot() cart.Snapshot
	Reset(ctx context.Context) cart.Snapshot
}

type Submitter interface {
	Submit(ctx context.Context, payload domain.OrderPayload) (submission.Result, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, order domain.PendingOrder) error
}

type Connectivity interface {
	Online() bool
	MarkOffline()
}

type ReceiptSink interface {
	Deliver(ctx context.Context, receipt domain.Receipt)
}

type Config struct {
	// PINLength is the number of digits that completes an operator credential.
	PINLength int
}

type Dependencies struct {
	Cart         Cart
	Allocator    *payment.Allocator
	Submitter    Submitter
	Queue        Enqueuer
	Connectivity Connectivity
	Receipts     ReceiptSink
	Metrics      *telemetry.Metrics
	Logger       *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Request starts a checkout. Credential may carry digits the operator typed
// ahead; a complete credential skips the authorization prompt.
type Request struct {
	Payment    domain.PaymentAllocation `json:"payment"`
	Credential string                   `json:"credential,omitempty"`
}

// State is the externally visible checkout state. The credential itself is
// never exposed, only how many digits were entered.
type State struct {
	Stage         Stage                     `json:"stage"`
	Cart          *cart.Snapshot            `json:"cart,omitempty"`
	Payment       *domain.PaymentAllocation `json:"payment,omitempty"`
	PrimaryMethod domain.PaymentMethod      `json:"primary_method,omitempty"`
	EnteredDigits int                       `json:"entered_digits"`
	PINLength     int                       `json:"pin_length"`
	AuthFailed    bool                      `json:"auth_failed"`
	Error         string                    `json:"error,omitempty"`
	OrderID       string                    `json:"order_id,omitempty"`
	Receipt       *domain.Receipt           `json:"receipt,omitempty"`
}

type session struct {
	stage      Stage
	snapshot   cart.Snapshot
	allocation domain.PaymentAllocation
	credential string
	authFailed bool
	lastError  string
	key        string
	orderID    string
	receipt    *domain.Receipt
}

// Pipeline drives one order at a time from checkout to a terminal outcome.
// All transitions are serialized; the network call runs outside the lock
// while the stage reads SUBMITTING, so concurrent operations are rejected.
type Pipeline struct {
	mu   sync.Mutex
	cfg  Config
	deps Dependencies
	s    session
}

func NewPipeline(cfg Config, deps Dependencies) *Pipeline {
	if cfg.PINLength <= 0 {
		cfg.PINLength = 4
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Pipeline{
		cfg:  cfg,
		deps: deps,
		s:    session{stage: StageIdle},
	}
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

// Checkout snapshots the cart and validates the payment allocation against
// its final total. It is accepted from IDLE or after a finished order.
func (p *Pipeline) Checkout(ctx context.Context, req Request) (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.s.stage != StageIdle && !p.s.stage.Terminal() {
		return p.stateLocked(), fmt.Errorf("checkout from %s: %w", p.s.stage, domain.ErrIllegalTransition)
	}

	snap := p.deps.Cart.Snapshot()
	if snap.Empty() {
		return p.stateLocked(), domain.ErrEmptyCart
	}
	if err := p.deps.Allocator.Validate(req.Payment, snap.Totals.FinalTotal); err != nil {
		return p.stateLocked(), err
	}
	if err := p.checkDigits(req.Credential); err != nil {
		return p.stateLocked(), err
	}
	if len(req.Credential) > p.cfg.PINLength {
		return p.stateLocked(), domain.NewValidationError("credential", fmt.Sprintf("credential has more than %d digits", p.cfg.PINLength))
	}

	p.s = session{
		stage:      StageAwaitingConfirmation,
		snapshot:   snap,
		allocation: req.Payment,
		credential: req.Credential,
	}

	p.deps.Logger.Info("checkout started",
		"final_total", domain.RoundMoney(snap.Totals.FinalTotal).String(),
		"split", req.Payment.IsSplit(),
		"mode", snap.Mode,
	)
	return p.stateLocked(), nil
}

// Confirm accepts the order summary. With a complete credential already
// supplied the order is submitted right away.
func (p *Pipeline) Confirm(ctx context.Context) (State, error) {
	p.mu.Lock()
	if p.s.stage != StageAwaitingConfirmation {
		return p.rejectLocked("confirm")
	}

	if len(p.s.credential) == p.cfg.PINLength {
		return p.submitLocked(ctx)
	}

	p.s.stage = StageAwaitingAuth
	st := p.stateLocked()
	p.mu.Unlock()
	return st, nil
}

// EnterCredential appends digits to the credential. Reaching the configured
// length submits the order.
func (p *Pipeline) EnterCredential(ctx context.Context, digits string) (State, error) {
	p.mu.Lock()
	if p.s.stage != StageAwaitingAuth {
		return p.rejectLocked("enter credential")
	}
	if err := p.checkDigits(digits); err != nil {
		st := p.stateLocked()
		p.mu.Unlock()
		return st, err
	}

	if room := p.cfg.PINLength - len(p.s.credential); len(digits) > room {
		st := p.stateLocked()
		p.mu.Unlock()
		return st, domain.NewValidationError("credential", fmt.Sprintf("only %d more digits fit the PIN", room))
	}

	if digits != "" {
		p.s.authFailed = false
		p.s.lastError = ""
	}
	p.s.credential += digits

	if len(p.s.credential) == p.cfg.PINLength {
		return p.submitLocked(ctx)
	}

	st := p.stateLocked()
	p.mu.Unlock()
	return st, nil
}

// rejectLocked releases p.mu and reports an illegal transition.
func (p *Pipeline) rejectLocked(op string) (State, error) {
	st := p.stateLocked()
	p.mu.Unlock()
	return st, fmt.Errorf("%s from %s: %w", op, st.Stage, domain.ErrIllegalTransition)
}

func (p *Pipeline) Backspace() (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.s.stage != StageAwaitingAuth {
		return p.stateLocked(), fmt.Errorf("backspace from %s: %w", p.s.stage, domain.ErrIllegalTransition)
	}
	if n := len(p.s.credential); n > 0 {
		p.s.credential = p.s.credential[:n-1]
	}
	return p.stateLocked(), nil
}

// Cancel abandons the checkout before submission. The cart is untouched and
// nothing is sent or queued.
func (p *Pipeline) Cancel() (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.s.stage != StageAwaitingConfirmation && p.s.stage != StageAwaitingAuth {
		return p.stateLocked(), fmt.Errorf("cancel from %s: %w", p.s.stage, domain.ErrIllegalTransition)
	}

	p.deps.Logger.Info("checkout cancelled", "stage", p.s.stage)
	p.s = session{stage: StageIdle}
	return p.stateLocked(), nil
}

// Dismiss returns a finished checkout to IDLE.
func (p *Pipeline) Dismiss() (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.s.stage.Terminal() {
		return p.stateLocked(), fmt.Errorf("dismiss from %s: %w", p.s.stage, domain.ErrIllegalTransition)
	}
	p.s = session{stage: StageIdle}
	return p.stateLocked(), nil
}

// submitLocked must be called with p.mu held and releases it for the network
// call. The operator cannot abort an in-flight submission, so the call runs on
// a context detached from the caller's cancellation.
func (p *Pipeline) submitLocked(ctx context.Context) (State, error) {
	p.s.stage = StageSubmitting
	if p.s.key == "" {
		p.s.key = queue.NewKey(p.deps.Now())
	}
	payload := buildPayload(p.s, p.deps.Now().UTC())
	p.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	ctx, span := tracer.Start(ctx, "checkout.submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.idempotency_key", payload.IdempotencyKey),
		attribute.Int("order.items", len(payload.Items)),
	)

	var (
		result submission.Result
		err    error
	)
	online := p.deps.Connectivity == nil || p.deps.Connectivity.Online()
	if online {
		start := time.Now()
		result, err = p.deps.Submitter.Submit(ctx, payload)
		p.recordDuration(ctx, time.Since(start))
	} else {
		err = &domain.TransientError{Err: fmt.Errorf("register is offline")}
	}

	var receipt *domain.Receipt
	stage := StageSuccess
	switch {
	case err == nil:
		r := domain.NewReceipt(result.OrderID, false, payload, p.deps.Now().UTC())
		receipt = &r

	case domain.IsAuthorization(err):
		stage = StageAwaitingAuth

	case domain.IsValidation(err):
		stage = StageFailed

	default:
		if online && p.deps.Connectivity != nil && domain.IsTransient(err) {
			p.deps.Connectivity.MarkOffline()
		}
		if qerr := p.enqueue(ctx, payload); qerr != nil {
			err = qerr
			stage = StageFailed
			break
		}
		r := domain.NewReceipt(payload.IdempotencyKey, true, payload, p.deps.Now().UTC())
		receipt = &r
		stage = StageOfflineQueued
	}

	if err != nil && stage != StageOfflineQueued {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("checkout.outcome", string(stage)))

	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyOutcome(ctx, stage, result, receipt, err)
	return p.stateLocked(), nil
}

func (p *Pipeline) applyOutcome(ctx context.Context, stage Stage, result submission.Result, receipt *domain.Receipt, err error) {
	p.s.stage = stage
	logger := p.deps.Logger.With("idempotency_key", p.s.key)

	switch stage {
	case StageAwaitingAuth:
		p.s.credential = ""
		p.s.authFailed = true
		p.s.lastError = err.Error()
		logger.Warn("operator credential rejected")

	case StageFailed:
		p.s.lastError = failureMessage(err)
		logger.Error("order submission failed", "error", err)

	case StageSuccess, StageOfflineQueued:
		p.s.credential = ""
		p.s.orderID = receipt.OrderID
		p.s.receipt = receipt
		p.deps.Cart.Reset(ctx)
		if p.deps.Receipts != nil {
			p.deps.Receipts.Deliver(ctx, *receipt)
		}
		if stage == StageOfflineQueued {
			logger.Warn("order queued for later sync", "error", err)
		} else {
			logger.Info("order submitted", "order_id", result.OrderID, "replayed", result.Replayed)
		}
	}

	if stage.Terminal() && p.deps.Metrics != nil {
		p.deps.Metrics.CheckoutOutcomes.Add(ctx, 1,
			otelmetric.WithAttributes(attribute.String("outcome", string(stage))),
		)
	}
}

// enqueue stores payload without the operator PIN; the PIN is kept in its own
// column until the order is acknowledged.
func (p *Pipeline) enqueue(ctx context.Context, payload domain.OrderPayload) error {
	pin := payload.OperatorPIN
	payload.OperatorPIN = ""
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode order for the offline queue: %w", err)
	}

	err = p.deps.Queue.Enqueue(ctx, domain.PendingOrder{
		IdempotencyKey: payload.IdempotencyKey,
		Payload:        data,
		OperatorPIN:    pin,
		CreatedAt:      payload.CreatedAt,
		SyncState:      domain.SyncPending,
	})
	if err != nil {
		return fmt.Errorf("save order to the offline queue: %w", err)
	}
	return nil
}

func (p *Pipeline) recordDuration(ctx context.Context, d time.Duration) {
	if p.deps.Metrics != nil {
		p.deps.Metrics.SubmitDuration.Record(ctx, d.Seconds())
	}
}

func (p *Pipeline) checkDigits(s string) error {
	for _, r := range s {
		if r < '0' || r > '9' {
			return domain.NewValidationError("credential", "credential must be digits only")
		}
	}
	return nil
}

func (p *Pipeline) stateLocked() State {
	st := State{
		Stage:         p.s.stage,
		EnteredDigits: len(p.s.credential),
		PINLength:     p.cfg.PINLength,
		AuthFailed:    p.s.authFailed,
		Error:         p.s.lastError,
		OrderID:       p.s.orderID,
		Receipt:       p.s.receipt,
	}
	if p.s.stage != StageIdle {
		snap := p.s.snapshot
		alloc := p.s.allocation
		st.Cart = &snap
		st.Payment = &alloc
		st.PrimaryMethod = alloc.PrimaryMethod()
	}
	return st
}

// buildPayload freezes the session into the order sent to the server. Unit
// prices are the mode-adjusted ones the totals were computed from.
func buildPayload(s session, now time.Time) domain.OrderPayload {
	snap := s.snapshot
	items := make([]domain.OrderItem, len(snap.Lines))
	for i, line := range snap.Lines {
		priced := snap.Totals.Lines[i]
		items[i] = domain.OrderItem{
			ProductID: line.ProductID,
			Name:      line.Name,
			Size:      line.Size,
			Category:  line.Category,
			Quantity:  line.Quantity,
			UnitPrice: priced.EffectiveUnitPrice,
			LineTotal: priced.Subtotal,
		}
	}

	return domain.OrderPayload{
		IdempotencyKey:     s.key,
		Mode:               snap.Mode,
		Items:              items,
		Subtotal:           snap.Totals.Subtotal,
		InclusiveTax:       snap.Totals.InclusiveTax,
		BOGODiscount:       snap.Totals.BOGODiscount,
		PercentageDiscount: snap.Totals.PercentageDiscount,
		TotalDiscount:      snap.Totals.TotalDiscount,
		FinalTotal:         snap.Totals.FinalTotal,
		Discount:           snap.Discount,
		Payment:            s.allocation,
		Customer:           snap.Customer,
		OperatorPIN:        s.credential,
		CreatedAt:          now,
	}
}

func failureMessage(err error) string {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	return err.Error()
}
