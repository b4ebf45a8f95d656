package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/cafe-pos/internal/cart"
	"github.com/joao-fontenele/cafe-pos/internal/domain"
	"github.com/joao-fontenele/cafe-pos/internal/payment"
	"github.com/joao-fontenele/cafe-pos/internal/pricing"
	"github.com/joao-fontenele/cafe-pos/internal/submission"
	"github.com/joao-fontenele/cafe-pos/internal/telemetry"
)

type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []domain.OrderPayload
	errs     []error
}

func (s *fakeSubmitter) Submit(_ context.Context, payload domain.OrderPayload) (submission.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return submission.Result{}, err
		}
	}
	return submission.Result{OrderID: "order-1"}, nil
}

func (s *fakeSubmitter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

type fakeQueue struct {
	orders []domain.PendingOrder
	err    error
}

func (q *fakeQueue) Enqueue(_ context.Context, order domain.PendingOrder) error {
	if q.err != nil {
		return q.err
	}
	q.orders = append(q.orders, order)
	return nil
}

type fakeConnectivity struct {
	online bool
}

func (c *fakeConnectivity) Online() bool { return c.online }
func (c *fakeConnectivity) MarkOffline() { c.online = false }

type receiptRecorder struct {
	receipts []domain.Receipt
}

func (r *receiptRecorder) Deliver(_ context.Context, receipt domain.Receipt) {
	r.receipts = append(r.receipts, receipt)
}

type fixture struct {
	cart      *cart.Cart
	submitter *fakeSubmitter
	queue     *fakeQueue
	conn      *fakeConnectivity
	receipts  *receiptRecorder
	allocator *payment.Allocator
	pipeline  *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics, err := telemetry.NewMetrics()
	require.NoError(t, err)

	f := &fixture{
		cart:      cart.New(pricing.NewEngine(pricing.DefaultConfig()), nil, logger),
		submitter: &fakeSubmitter{},
		queue:     &fakeQueue{},
		conn:      &fakeConnectivity{online: true},
		receipts:  &receiptRecorder{},
		allocator: payment.NewAllocator(payment.DefaultTolerance),
	}
	f.pipeline = NewPipeline(Config{PINLength: 4}, Dependencies{
		Cart:         f.cart,
		Allocator:    f.allocator,
		Submitter:    f.submitter,
		Queue:        f.queue,
		Connectivity: f.conn,
		Receipts:     f.receipts,
		Metrics:      metrics,
		Logger:       logger,
		Now:          func() time.Time { return time.UnixMilli(1735689600000) },
	})

	line, err := domain.NewCartLine("latte", "Latte", "", "coffee", decimal.NewFromInt(190), 2)
	require.NoError(t, err)
	_, err = f.cart.Add(context.Background(), line)
	require.NoError(t, err)
	_, err = f.cart.SetDiscount(context.Background(), domain.DiscountPolicy{Rate: decimal.NewFromInt(20)})
	require.NoError(t, err)

	return f
}

func (f *fixture) cashRequest(t *testing.T, credential string) Request {
	t.Helper()
	alloc, err := f.allocator.Single(domain.PaymentCash, f.cart.Snapshot().Totals.FinalTotal)
	require.NoError(t, err)
	return Request{Payment: alloc, Credential: credential}
}

func (f *fixture) toAwaitingAuth(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := f.pipeline.Checkout(ctx, f.cashRequest(t, ""))
	require.NoError(t, err)
	st, err := f.pipeline.Confirm(ctx)
	require.NoError(t, err)
	require.Equal(t, StageAwaitingAuth, st.Stage)
}

func TestPipeline_HappyPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	st, err := f.pipeline.Checkout(ctx, f.cashRequest(t, ""))
	require.NoError(t, err)
	assert.Equal(t, StageAwaitingConfirmation, st.Stage)
	assert.Equal(t, domain.PaymentCash, st.PrimaryMethod)

	st, err = f.pipeline.Confirm(ctx)
	require.NoError(t, err)
	assert.Equal(t, StageAwaitingAuth, st.Stage)

	st, err = f.pipeline.EnterCredential(ctx, "12")
	require.NoError(t, err)
	assert.Equal(t, 2, st.EnteredDigits)
	assert.Equal(t, 0, f.submitter.calls())

	st, err = f.pipeline.EnterCredential(ctx, "34")
	require.NoError(t, err)

	assert.Equal(t, StageSuccess, st.Stage)
	assert.Equal(t, "order-1", st.OrderID)
	require.Equal(t, 1, f.submitter.calls())

	payload := f.submitter.payloads[0]
	assert.Equal(t, "1234", payload.OperatorPIN)
	assert.Regexp(t, `^1735689600000-[0-9a-f]{12}$`, payload.IdempotencyKey)
	assert.True(t, decimal.NewFromInt(304).Equal(payload.FinalTotal))
	assert.True(t, decimal.NewFromInt(76).Equal(payload.TotalDiscount))

	assert.True(t, f.cart.Snapshot().Empty())
	assert.True(t, f.cart.Snapshot().Discount.Rate.IsZero())
	require.Len(t, f.receipts.receipts, 1)
	assert.False(t, f.receipts.receipts[0].Offline)
	assert.Empty(t, f.queue.orders)
}

func TestPipeline_PreSuppliedCredential(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.pipeline.Checkout(ctx, f.cashRequest(t, "1234"))
	require.NoError(t, err)

	st, err := f.pipeline.Confirm(ctx)
	require.NoError(t, err)

	assert.Equal(t, StageSuccess, st.Stage)
	assert.Equal(t, 1, f.submitter.calls())
}

func TestPipeline_CancelHasNoSideEffects(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		name  string
		setup func(t *testing.T, f *fixture)
	}{
		{"from confirmation", func(t *testing.T, f *fixture) {
			_, err := f.pipeline.Checkout(ctx, f.cashRequest(t, ""))
			require.NoError(t, err)
		}},
		{"from authorization", func(t *testing.T, f *fixture) {
			f.toAwaitingAuth(t)
			_, err := f.pipeline.EnterCredential(ctx, "12")
			require.NoError(t, err)
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			before := f.cart.Snapshot()
			tc.setup(t, f)

			st, err := f.pipeline.Cancel()
			require.NoError(t, err)

			assert.Equal(t, StageIdle, st.Stage)
			assert.Equal(t, 0, f.submitter.calls())
			assert.Empty(t, f.queue.orders)
			assert.Empty(t, f.receipts.receipts)
			assert.Equal(t, before.Lines, f.cart.Snapshot().Lines)
			assert.True(t, before.Totals.FinalTotal.Equal(f.cart.Snapshot().Totals.FinalTotal))
		})
	}
}

func TestPipeline_AuthorizationRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.submitter.errs = []error{&domain.AuthorizationError{Message: "invalid operator pin"}}
	f.toAwaitingAuth(t)

	st, err := f.pipeline.EnterCredential(ctx, "9999")
	require.NoError(t, err)

	assert.Equal(t, StageAwaitingAuth, st.Stage)
	assert.True(t, st.AuthFailed)
	assert.Equal(t, 0, st.EnteredDigits)
	assert.False(t, f.cart.Snapshot().Empty())
	assert.Empty(t, f.queue.orders)

	st, err = f.pipeline.EnterCredential(ctx, "1234")
	require.NoError(t, err)

	assert.Equal(t, StageSuccess, st.Stage)
	require.Equal(t, 2, f.submitter.calls())
	assert.Equal(t, f.submitter.payloads[0].IdempotencyKey, f.submitter.payloads[1].IdempotencyKey)
}

func TestPipeline_ValidationFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.submitter.errs = []error{domain.NewValidationError("items", "Item latte is unavailable")}
	f.toAwaitingAuth(t)

	st, err := f.pipeline.EnterCredential(ctx, "1234")
	require.NoError(t, err)

	assert.Equal(t, StageFailed, st.Stage)
	assert.Equal(t, "Item latte is unavailable", st.Error)
	assert.False(t, f.cart.Snapshot().Empty())
	assert.Empty(t, f.queue.orders)
	assert.Empty(t, f.receipts.receipts)
}

func TestPipeline_TransientFailureQueues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.submitter.errs = []error{&domain.TransientError{Err: errors.New("connection reset")}}
	f.toAwaitingAuth(t)

	st, err := f.pipeline.EnterCredential(ctx, "1234")
	require.NoError(t, err)

	assert.Equal(t, StageOfflineQueued, st.Stage)
	require.Len(t, f.queue.orders, 1)
	queued := f.queue.orders[0]
	assert.Equal(t, f.submitter.payloads[0].IdempotencyKey, queued.IdempotencyKey)

	assert.Equal(t, "1234", queued.OperatorPIN)

	var payload domain.OrderPayload
	require.NoError(t, json.Unmarshal(queued.Payload, &payload))
	assert.Empty(t, payload.OperatorPIN)
	assert.NotContains(t, string(queued.Payload), `"operator_pin":"1234"`)
	assert.True(t, decimal.NewFromInt(304).Equal(payload.FinalTotal))

	assert.True(t, f.cart.Snapshot().Empty())
	require.Len(t, f.receipts.receipts, 1)
	assert.True(t, f.receipts.receipts[0].Offline)
	assert.False(t, f.conn.online)
}

func TestPipeline_OfflineSkipsTheNetwork(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.conn.online = false
	f.toAwaitingAuth(t)

	st, err := f.pipeline.EnterCredential(ctx, "1234")
	require.NoError(t, err)

	assert.Equal(t, StageOfflineQueued, st.Stage)
	assert.Equal(t, 0, f.submitter.calls())
	assert.Len(t, f.queue.orders, 1)
	assert.True(t, f.cart.Snapshot().Empty())
}

func TestPipeline_QueueWriteFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.conn.online = false
	f.queue.err = errors.New("disk full")
	f.toAwaitingAuth(t)

	st, err := f.pipeline.EnterCredential(ctx, "1234")
	require.NoError(t, err)

	assert.Equal(t, StageFailed, st.Stage)
	assert.Contains(t, st.Error, "disk full")
	assert.False(t, f.cart.Snapshot().Empty())
	assert.Empty(t, f.receipts.receipts)
}

func TestPipeline_CheckoutValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("empty cart", func(t *testing.T) {
		f := newFixture(t)
		f.cart.Reset(ctx)

		_, err := f.pipeline.Checkout(ctx, Request{Payment: domain.PaymentAllocation{
			Parts: []domain.PaymentPart{{Method: domain.PaymentCash, Amount: decimal.Zero}},
		}})
		assert.ErrorIs(t, err, domain.ErrEmptyCart)
	})

	t.Run("split that does not add up", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.pipeline.Checkout(ctx, Request{Payment: domain.PaymentAllocation{Parts: []domain.PaymentPart{
			{Method: domain.PaymentCash, Amount: decimal.NewFromInt(200)},
			{Method: domain.PaymentCard, Amount: decimal.NewFromInt(100)},
		}}})

		assert.True(t, domain.IsValidation(err))
		assert.Equal(t, StageIdle, f.pipeline.State().Stage)
	})

	t.Run("non numeric credential", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.pipeline.Checkout(ctx, f.cashRequest(t, "12a4"))
		assert.True(t, domain.IsValidation(err))
	})
}

func TestPipeline_IllegalTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.pipeline.Confirm(ctx)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)

	_, err = f.pipeline.EnterCredential(ctx, "1")
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)

	_, err = f.pipeline.Cancel()
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)

	_, err = f.pipeline.Checkout(ctx, f.cashRequest(t, ""))
	require.NoError(t, err)
	_, err = f.pipeline.Checkout(ctx, f.cashRequest(t, ""))
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestPipeline_Backspace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.toAwaitingAuth(t)

	_, err := f.pipeline.EnterCredential(ctx, "123")
	require.NoError(t, err)

	st, err := f.pipeline.Backspace()
	require.NoError(t, err)
	assert.Equal(t, 2, st.EnteredDigits)

	st, err = f.pipeline.EnterCredential(ctx, "9")
	require.NoError(t, err)
	assert.Equal(t, StageAwaitingAuth, st.Stage)

	st, err = f.pipeline.EnterCredential(ctx, "4")
	require.NoError(t, err)
	assert.Equal(t, StageSuccess, st.Stage)
	assert.Equal(t, "1294", f.submitter.payloads[0].OperatorPIN)
}

func TestPipeline_RejectsOverlongCredential(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.toAwaitingAuth(t)

	_, err := f.pipeline.EnterCredential(ctx, "12")
	require.NoError(t, err)

	st, err := f.pipeline.EnterCredential(ctx, "345")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "credential", verr.Field)
	assert.Equal(t, StageAwaitingAuth, st.Stage)
	assert.Equal(t, 2, st.EnteredDigits)
	assert.Empty(t, f.submitter.payloads)

	st, err = f.pipeline.EnterCredential(ctx, "34")
	require.NoError(t, err)
	assert.Equal(t, StageSuccess, st.Stage)
	assert.Equal(t, "1234", f.submitter.payloads[0].OperatorPIN)
}

func TestPipeline_NewCheckoutAfterTerminal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.toAwaitingAuth(t)
	_, err := f.pipeline.EnterCredential(ctx, "1234")
	require.NoError(t, err)

	line, err := domain.NewCartLine("cake", "Cake", "", "dessert", decimal.NewFromInt(120), 1)
	require.NoError(t, err)
	_, err = f.cart.Add(ctx, line)
	require.NoError(t, err)

	st, err := f.pipeline.Checkout(ctx, f.cashRequest(t, ""))
	require.NoError(t, err)
	assert.Equal(t, StageAwaitingConfirmation, st.Stage)
	assert.Empty(t, st.OrderID)

	_, err = f.pipeline.Cancel()
	require.NoError(t, err)
	_, err = f.pipeline.Dismiss()
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
}
