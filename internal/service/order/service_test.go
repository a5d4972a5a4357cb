package order_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/Additional-Code/umkm/internal/cache"
	"github.com/Additional-Code/umkm/internal/config"
	"github.com/Additional-Code/umkm/internal/database"
	"github.com/Additional-Code/umkm/internal/database/databasetest"
	"github.com/Additional-Code/umkm/internal/entity"
	"github.com/Additional-Code/umkm/internal/messaging"
	"github.com/Additional-Code/umkm/internal/notification"
	"github.com/Additional-Code/umkm/internal/notification/notificationtest"
	"github.com/Additional-Code/umkm/internal/repository/catalog"
	"github.com/Additional-Code/umkm/internal/repository/inventory"
	orderrepo "github.com/Additional-Code/umkm/internal/repository/order"
	"github.com/Additional-Code/umkm/internal/service/order"
	"github.com/Additional-Code/umkm/internal/service/ordernumber"
	"github.com/Additional-Code/umkm/pkg/errorbank"
)

var (
	buyer      = entity.Actor{UserID: "buyer-1", Role: entity.ActorCustomer}
	otherBuyer = entity.Actor{UserID: "buyer-2", Role: entity.ActorCustomer}
	owner      = entity.Actor{UserID: "owner-1", Role: entity.ActorOwner}
	otherOwner = entity.Actor{UserID: "owner-2", Role: entity.ActorOwner}
	admin      = entity.Actor{UserID: "admin-1", Role: entity.ActorAdmin}
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type event struct {
	eventType string
	payload   []byte
}

type capturePublisher struct {
	mu     sync.Mutex
	events []event
}

func (c *capturePublisher) Publish(_ context.Context, eventType string, _ []byte, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event{eventType: eventType, payload: value})
	return nil
}

func (c *capturePublisher) Consume(ctx context.Context, _ messaging.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (c *capturePublisher) Topic() string { return "umkm.events" }

func (c *capturePublisher) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.eventType)
	}
	return out
}

type fixture struct {
	t         *testing.T
	conns     *database.Connections
	svc       *order.Service
	notes     *notificationtest.Recorder
	publisher *capturePublisher
	clock     *clock
	store     *entity.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return buildFixture(t, fixtureOptions{})
}

// fixtureOptions overrides collaborators; zero values pick the database
// sequence, 20 allocation attempts, no cache and the global meter provider.
type fixtureOptions struct {
	sequence ordernumber.Sequence
	attempts int
	cache    cache.Store
	meters   metric.MeterProvider
}

func buildFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()

	conns := databasetest.New(t)
	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)

	clk := &clock{now: time.Date(2026, 10, 19, 2, 0, 0, 0, time.UTC)}
	orders := orderrepo.NewRepository(conns)
	seq := opts.sequence
	if seq == nil {
		seq = ordernumber.NewDatabaseSequence(orders)
	}
	store := opts.cache
	if store == nil {
		store = cache.Noop()
	}
	attempts := opts.attempts
	if attempts == 0 {
		attempts = 20
	}
	numbers := ordernumber.NewAllocator(orders, seq, "ORD", loc, 5, zap.NewNop(),
		ordernumber.WithClock(clk.Now))

	f := &fixture{
		t:         t,
		conns:     conns,
		notes:     &notificationtest.Recorder{},
		publisher: &capturePublisher{},
		clock:     clk,
	}
	f.svc = order.NewService(order.Params{
		Orders:    orders,
		Catalog:   catalog.NewRepository(conns),
		Ledger:    inventory.NewLedger(conns),
		Numbers:   numbers,
		Notifier:  f.notes,
		Cache:     store,
		Publisher: f.publisher,
		Config: config.Config{Orders: config.Orders{
			AllocationAttempts: attempts,
			SideEffectTimeout:  time.Second,
		}},
		Logger: zap.NewNop(),
		Clock:  clk.Now,
		Meters: opts.meters,
	})
	f.store = databasetest.InsertStore(t, conns, &entity.Store{OwnerID: owner.UserID, Name: "Warung Bu Sri", IsActive: true})
	return f
}

func (f *fixture) product(price string, stock int) *entity.Product {
	return databasetest.InsertProduct(f.t, f.conns, &entity.Product{
		StoreID: f.store.ID,
		Price:   decimal.RequireFromString(price),
		Stock:   stock,
	})
}

func (f *fixture) stock(p *entity.Product) int {
	return databasetest.Stock(f.t, f.conns, p.ID)
}

func (f *fixture) checkout(actor entity.Actor, items ...order.LineInput) (*entity.Order, error) {
	return f.svc.Create(context.Background(), order.CreateInput{
		Buyer:         actor,
		StoreID:       f.store.ID,
		BuyerPhone:    "0812-3456-7890",
		PaymentMethod: "transfer",
		Items:         items,
	})
}

func (f *fixture) mustCheckout(items ...order.LineInput) *entity.Order {
	o, err := f.checkout(buyer, items...)
	require.NoError(f.t, err)
	return o
}

func (f *fixture) move(o *entity.Order, to entity.OrderStatus, actor entity.Actor) (*entity.Order, error) {
	in := order.TransitionInput{OrderID: o.ID, Target: to, Actor: actor}
	if to == entity.OrderPaid {
		in.PaymentProof = "proofs/" + o.ID + ".jpg"
		in.PaymentNote = "BCA transfer"
	}
	return f.svc.Transition(context.Background(), in)
}

func line(p *entity.Product, qty int) order.LineInput {
	return order.LineInput{ProductID: p.ID, Quantity: qty}
}

func kindOf(err error) errorbank.Kind {
	return errorbank.From(err).Kind()
}

func TestCreateFreezesPricesAndTotals(t *testing.T) {
	f := newFixture(t)
	keripik := f.product("12500.00", 10)
	sambal := f.product("18000.50", 5)

	o, err := f.checkout(buyer, line(keripik, 3), line(sambal, 2))
	require.NoError(t, err)

	assert.Equal(t, entity.OrderPending, o.Status)
	assert.Equal(t, "081234567890", o.BuyerPhone)
	require.Len(t, o.Lines, 2)
	sum := decimal.Zero
	for _, l := range o.Lines {
		assert.True(t, l.Subtotal.Equal(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))))
		sum = sum.Add(l.Subtotal)
	}
	assert.True(t, o.TotalPrice.Equal(sum))
	assert.Equal(t, "73501.00", o.TotalPrice.StringFixed(2))

	assert.Equal(t, 7, f.stock(keripik))
	assert.Equal(t, 3, f.stock(sambal))

	// Later price changes never reach the order.
	_, err = f.conns.Writer.NewUpdate().Model((*entity.Product)(nil)).
		Set("price = ?", decimal.RequireFromString("99999.00")).
		Where("id = ?", keripik.ID).
		Exec(context.Background())
	require.NoError(t, err)

	stored, err := f.svc.Get(context.Background(), o.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, "73501.00", stored.TotalPrice.StringFixed(2))
	for _, l := range stored.Lines {
		if l.ProductID == keripik.ID {
			assert.Equal(t, "12500.00", l.UnitPrice.StringFixed(2))
		}
	}
}

func TestCreateNotifiesOwnerAfterCommit(t *testing.T) {
	f := newFixture(t)
	p := f.product("5000.00", 3)

	o := f.mustCheckout(line(p, 1))

	sent := f.notes.For(owner.UserID)
	require.Len(t, sent, 1)
	assert.Equal(t, notification.TypeOrderNew, sent[0].Type)
	assert.Equal(t, notification.CategoryStore, sent[0].Category)
	assert.Equal(t, o.ID, sent[0].Data["order_id"])
	assert.Equal(t, []string{order.EventOrderCreated}, f.publisher.types())
}

func TestCreateSurvivesNotificationFailure(t *testing.T) {
	f := newFixture(t)
	p := f.product("5000.00", 3)
	f.notes.FailWith(errors.New("inbox down"))

	o, err := f.checkout(buyer, line(p, 1))
	require.NoError(t, err)
	assert.NotEmpty(t, o.OrderNumber)
	assert.Equal(t, 2, f.stock(p))
}

func TestCreateRollsBackEarlierLinesWhenOneIsShort(t *testing.T) {
	f := newFixture(t)
	first := f.product("1000.00", 5)
	short := f.product("2000.00", 1)
	third := f.product("3000.00", 5)

	_, err := f.checkout(buyer, line(first, 2), line(short, 2), line(third, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, order.ErrInsufficientStock)
	assert.Equal(t, errorbank.KindConflict, kindOf(err))

	var stockErr *inventory.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, short.ID, stockErr.ProductID)
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, short.ID, errorbank.From(err).Details()["product_id"])
	assert.Equal(t, 1, errorbank.From(err).Details()["available"])

	assert.Equal(t, 5, f.stock(first), "reserved line is released")
	assert.Equal(t, 1, f.stock(short))
	assert.Equal(t, 5, f.stock(third))
	assert.Empty(t, f.notes.Sent(), "no notification for an order that never committed")
	assert.Empty(t, f.publisher.types())

	page, err := f.svc.ListForBuyer(context.Background(), buyer, order.ListFilter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	p := f.product("1000.00", 5)

	cases := map[string]struct {
		in    order.CreateInput
		field string
	}{
		"no items": {
			in:    order.CreateInput{Buyer: buyer, StoreID: f.store.ID, BuyerPhone: "081234567890"},
			field: "items",
		},
		"zero quantity": {
			in:    order.CreateInput{Buyer: buyer, StoreID: f.store.ID, BuyerPhone: "081234567890", Items: []order.LineInput{line(p, 0)}},
			field: "items[0].quantity",
		},
		"bad phone": {
			in:    order.CreateInput{Buyer: buyer, StoreID: f.store.ID, BuyerPhone: "call me", Items: []order.LineInput{line(p, 1)}},
			field: "buyer_phone",
		},
		"no buyer": {
			in:    order.CreateInput{StoreID: f.store.ID, BuyerPhone: "081234567890", Items: []order.LineInput{line(p, 1)}},
			field: "buyer",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), tc.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, order.ErrValidation)
			assert.Equal(t, errorbank.KindBadRequest, kindOf(err))
			fields, ok := errorbank.From(err).Details()["fields"].(map[string]string)
			require.True(t, ok)
			assert.Contains(t, fields, tc.field)
		})
	}
	assert.Equal(t, 5, f.stock(p))
}

func TestOnlyCustomersCheckOut(t *testing.T) {
	f := newFixture(t)
	p := f.product("1000.00", 5)

	for _, actor := range []entity.Actor{owner, admin} {
		_, err := f.checkout(actor, line(p, 1))
		assert.ErrorIs(t, err, order.ErrCheckoutNotPermitted, string(actor.Role))
		assert.Equal(t, errorbank.KindForbidden, kindOf(err))
	}
	assert.Equal(t, 5, f.stock(p))
	assert.Empty(t, f.publisher.types())
	assert.Empty(t, f.notes.Sent())
}

func TestCreateRejectsUnorderableProducts(t *testing.T) {
	f := newFixture(t)
	ok := f.product("1000.00", 5)
	pending := databasetest.InsertProduct(t, f.conns, &entity.Product{
		StoreID: f.store.ID, Price: decimal.RequireFromString("1000.00"), Stock: 5, Status: entity.ProductPending,
	})
	otherStore := databasetest.InsertStore(t, f.conns, &entity.Store{OwnerID: otherOwner.UserID, Name: "Toko Lain", IsActive: true})
	foreign := databasetest.InsertProduct(t, f.conns, &entity.Product{
		StoreID: otherStore.ID, Price: decimal.RequireFromString("1000.00"), Stock: 5,
	})

	_, err := f.checkout(buyer, line(ok, 1), line(pending, 1))
	assert.ErrorIs(t, err, order.ErrProductNotOrderable)
	assert.Equal(t, errorbank.KindBadRequest, kindOf(err))

	_, err = f.checkout(buyer, line(ok, 1), line(foreign, 1))
	assert.ErrorIs(t, err, order.ErrProductNotFound)
	assert.Equal(t, errorbank.KindNotFound, kindOf(err))

	_, err = f.checkout(buyer, order.LineInput{ProductID: "missing", Quantity: 1})
	assert.ErrorIs(t, err, order.ErrProductNotFound)

	assert.Equal(t, 5, f.stock(ok))
	assert.Equal(t, 5, f.stock(pending))
	assert.Equal(t, 5, f.stock(foreign))

	_, err = f.svc.Create(context.Background(), order.CreateInput{
		Buyer: buyer, StoreID: "missing", BuyerPhone: "081234567890", Items: []order.LineInput{line(ok, 1)},
	})
	assert.ErrorIs(t, err, order.ErrStoreNotFound)
}

func TestCreateMergesRepeatedProducts(t *testing.T) {
	f := newFixture(t)
	p := f.product("1500.00", 10)

	o := f.mustCheckout(line(p, 2), line(p, 3))
	require.Len(t, o.Lines, 1)
	assert.Equal(t, 5, o.Lines[0].Quantity)
	assert.Equal(t, "7500.00", o.TotalPrice.StringFixed(2))
	assert.Equal(t, 5, f.stock(p))
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	const (
		initialStock = 4
		buyers       = 12
	)
	f := newFixture(t)
	p := f.product("10000.00", initialStock)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		numbers  []string
		rejected int
	)
	start := make(chan struct{})
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			o, err := f.checkout(buyer, line(p, 1))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				numbers = append(numbers, o.OrderNumber)
			case errors.Is(err, order.ErrInsufficientStock):
				rejected++
			default:
				t.Errorf("unexpected checkout error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Len(t, numbers, initialStock)
	assert.Equal(t, buyers-initialStock, rejected)
	assert.Equal(t, 0, f.stock(p))

	sort.Strings(numbers)
	assert.Equal(t, []string{"ORD-20261019-001", "ORD-20261019-002", "ORD-20261019-003", "ORD-20261019-004"}, numbers)
}

func TestLastUnitGoesToExactlyOneBuyer(t *testing.T) {
	f := newFixture(t)
	p := f.product("10000.00", 1)

	results := make(chan error, 2)
	for _, actor := range []entity.Actor{buyer, otherBuyer} {
		go func(actor entity.Actor) {
			_, err := f.checkout(actor, line(p, 1))
			results <- err
		}(actor)
	}

	var succeeded int
	var stockErr *inventory.InsufficientStockError
	for i := 0; i < 2; i++ {
		err := <-results
		if err == nil {
			succeeded++
			continue
		}
		require.True(t, errors.As(err, &stockErr), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, p.ID, stockErr.ProductID)
	assert.Equal(t, 0, f.stock(p))
}

func TestOrderNumbersFollowTheLocalDay(t *testing.T) {
	f := newFixture(t)
	p := f.product("1000.00", 10)

	first := f.mustCheckout(line(p, 1))
	second := f.mustCheckout(line(p, 1))
	assert.Equal(t, "ORD-20261019-001", first.OrderNumber)
	assert.Equal(t, "ORD-20261019-002", second.OrderNumber)
	assert.Less(t, first.OrderNumber, second.OrderNumber)

	// 17:30 UTC is past midnight in Jakarta.
	f.clock.Set(time.Date(2026, 10, 19, 17, 30, 0, 0, time.UTC))
	nextDay := f.mustCheckout(line(p, 1))
	assert.Equal(t, "ORD-20261020-001", nextDay.OrderNumber)
}

func TestFulfilmentLifecycle(t *testing.T) {
	f := newFixture(t)
	p := f.product("20000.00", 5)
	o := f.mustCheckout(line(p, 2))

	paid, err := f.move(o, entity.OrderPaid, buyer)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)
	require.NotNil(t, paid.PaymentProof)
	assert.Empty(t, f.notes.For(buyer.UserID), "payment does not notify the buyer")

	_, err = f.move(o, entity.OrderProcessing, owner)
	require.NoError(t, err)
	_, err = f.move(o, entity.OrderShipped, owner)
	require.NoError(t, err)
	done, err := f.move(o, entity.OrderCompleted, buyer)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	stored, err := f.svc.Get(context.Background(), o.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderCompleted, stored.Status)
	require.NotNil(t, stored.PaidAt)
	require.NotNil(t, stored.CompletedAt)
	assert.Nil(t, stored.CancelledAt)
	assert.Equal(t, "BCA transfer", stored.PaymentNote)

	var types []string
	for _, n := range f.notes.For(buyer.UserID) {
		assert.Equal(t, notification.CategoryPersonal, n.Category)
		types = append(types, n.Type)
	}
	assert.Equal(t, []string{
		notification.TypeOrderConfirmed,
		notification.TypeOrderShipped,
		notification.TypeOrderCompleted,
	}, types)
	assert.Equal(t, 3, f.stock(p), "fulfilment never touches stock")

	for _, to := range entity.OrderStatuses {
		_, err := f.move(o, to, admin)
		assert.ErrorIs(t, err, order.ErrIllegalTransition, "completed -> %s", to)
	}
}

func TestCancellingPaidOrderRestoresEachLineOnce(t *testing.T) {
	f := newFixture(t)
	a := f.product("1000.00", 10)
	b := f.product("2000.00", 10)
	o := f.mustCheckout(line(a, 2), line(b, 3))
	require.Equal(t, 8, f.stock(a))
	require.Equal(t, 7, f.stock(b))

	_, err := f.move(o, entity.OrderPaid, buyer)
	require.NoError(t, err)

	cancelled, err := f.move(o, entity.OrderCancelled, owner)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, 10, f.stock(a))
	assert.Equal(t, 10, f.stock(b))

	sent := f.notes.For(buyer.UserID)
	require.Len(t, sent, 1)
	assert.Equal(t, notification.TypeOrderCancelled, sent[0].Type)
	assert.Equal(t, notification.CategoryPersonal, sent[0].Category)

	_, err = f.move(o, entity.OrderCancelled, admin)
	assert.ErrorIs(t, err, order.ErrIllegalTransition)
	assert.Equal(t, errorbank.KindUnprocessableEntity, kindOf(err))
	assert.Equal(t, 10, f.stock(a), "second cancel must not restore again")
	assert.Equal(t, 10, f.stock(b))
}

func TestConcurrentCancellationsReleaseOnce(t *testing.T) {
	f := newFixture(t)
	p := f.product("1000.00", 6)
	o := f.mustCheckout(line(p, 4))

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(actor entity.Actor) {
			defer wg.Done()
			_, err := f.move(o, entity.OrderCancelled, actor)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			assert.ErrorIs(t, err, order.ErrIllegalTransition)
		}([]entity.Actor{buyer, admin}[i%2])
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 6, f.stock(p))
}

func TestIllegalTransitionsLeaveOrderUnchanged(t *testing.T) {
	f := newFixture(t)
	p := f.product("1000.00", 5)
	o := f.mustCheckout(line(p, 1))

	_, err := f.move(o, entity.OrderShipped, owner)
	assert.ErrorIs(t, err, order.ErrIllegalTransition)

	_, err = f.move(o, entity.OrderPaid, buyer)
	require.NoError(t, err)
	_, err = f.move(o, entity.OrderProcessing, owner)
	require.NoError(t, err)
	_, err = f.move(o, entity.OrderShipped, owner)
	require.NoError(t, err)

	_, err = f.move(o, entity.OrderPaid, buyer)
	require.Error(t, err)
	assert.ErrorIs(t, err, order.ErrIllegalTransition)
	details := errorbank.From(err).Details()
	assert.Equal(t, entity.OrderShipped, details["from"])
	assert.Equal(t, entity.OrderPaid, details["to"])

	stored, err := f.svc.Get(context.Background(), o.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderShipped, stored.Status)
	assert.Nil(t, stored.CompletedAt)
}

func TestTransitionActorRules(t *testing.T) {
	f := newFixture(t)
	p := f.product("1000.00", 5)
	o := f.mustCheckout(line(p, 1))

	_, err := f.move(o, entity.OrderPaid, owner)
	assert.ErrorIs(t, err, order.ErrActorNotPermitted)
	assert.Equal(t, errorbank.KindForbidden, kindOf(err))

	_, err = f.move(o, entity.OrderCancelled, otherBuyer)
	assert.ErrorIs(t, err, order.ErrNotParticipant)
	assert.Equal(t, errorbank.KindForbidden, kindOf(err))

	_, err = f.svc.Transition(context.Background(), order.TransitionInput{OrderID: o.ID, Target: entity.OrderPaid, Actor: buyer})
	assert.ErrorIs(t, err, order.ErrPaymentProofRequired)
	assert.Equal(t, errorbank.KindBadRequest, kindOf(err))

	_, err = f.move(o, entity.OrderPaid, buyer)
	require.NoError(t, err)

	_, err = f.move(o, entity.OrderProcessing, otherOwner)
	assert.ErrorIs(t, err, order.ErrNotParticipant)

	_, err = f.move(o, entity.OrderCancelled, buyer)
	assert.ErrorIs(t, err, order.ErrActorNotPermitted, "buyers cannot cancel once paid")

	_, err = f.svc.Transition(context.Background(), order.TransitionInput{OrderID: "missing", Target: entity.OrderPaid, Actor: buyer})
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	_, err = f.svc.Transition(context.Background(), order.TransitionInput{OrderID: o.ID, Target: "refunded", Actor: admin})
	assert.ErrorIs(t, err, order.ErrValidation)
}

func TestCancelSkipsRemovedProducts(t *testing.T) {
	f := newFixture(t)
	kept := f.product("1000.00", 5)
	removed := f.product("1000.00", 5)
	o := f.mustCheckout(line(kept, 1), line(removed, 1))

	_, err := f.conns.Writer.NewDelete().Model((*entity.Product)(nil)).Where("id = ?", removed.ID).Exec(context.Background())
	require.NoError(t, err)

	_, err = f.move(o, entity.OrderCancelled, buyer)
	require.NoError(t, err)
	assert.Equal(t, 5, f.stock(kept))

	stored, err := f.svc.Get(context.Background(), o.ID, admin)
	require.NoError(t, err)
	assert.Len(t, stored.Lines, 2, "history survives product removal")
}

func TestReadAccess(t *testing.T) {
	f := newFixture(t)
	p := f.product("1000.00", 10)
	o := f.mustCheckout(line(p, 1))
	_, err := f.checkout(otherBuyer, line(p, 1))
	require.NoError(t, err)

	for _, actor := range []entity.Actor{buyer, owner, admin} {
		_, err := f.svc.Get(context.Background(), o.ID, actor)
		assert.NoError(t, err, actor.UserID)
	}
	for _, actor := range []entity.Actor{otherBuyer, otherOwner} {
		_, err := f.svc.Get(context.Background(), o.ID, actor)
		assert.ErrorIs(t, err, order.ErrNotParticipant, actor.UserID)
	}
	_, err = f.svc.Get(context.Background(), "missing", admin)
	assert.Equal(t, errorbank.KindNotFound, kindOf(err))

	mine, err := f.svc.ListForBuyer(context.Background(), buyer, order.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, mine.Total)
	assert.Equal(t, 20, mine.Limit)

	storeOrders, err := f.svc.ListForStore(context.Background(), owner, f.store.ID, order.ListFilter{Status: entity.OrderPending, Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, 2, storeOrders.Total)
	assert.Equal(t, 100, storeOrders.Limit)

	_, err = f.svc.ListForStore(context.Background(), otherOwner, f.store.ID, order.ListFilter{})
	assert.ErrorIs(t, err, order.ErrNotParticipant)
	_, err = f.svc.ListForStore(context.Background(), buyer, f.store.ID, order.ListFilter{})
	assert.ErrorIs(t, err, order.ErrNotParticipant)
	_, err = f.svc.ListForStore(context.Background(), admin, f.store.ID, order.ListFilter{Status: "lost"})
	assert.ErrorIs(t, err, order.ErrValidation)
}

// stuckSequence always hands out the same counter.
type stuckSequence struct {
	mu    sync.Mutex
	value int64
	calls int
}

func (s *stuckSequence) Next(context.Context, string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.value, nil
}

func TestCreateGivesUpOnPersistentNumberConflicts(t *testing.T) {
	seq := &stuckSequence{value: 1}
	f := buildFixture(t, fixtureOptions{sequence: seq, attempts: 3})
	p := f.product("10000.00", 4)

	first := f.mustCheckout(line(p, 1))
	require.Equal(t, "ORD-20261019-001", first.OrderNumber)
	require.Equal(t, 3, f.stock(p))
	callsBefore := seq.calls

	o, err := f.checkout(buyer, line(p, 2))
	require.Error(t, err)
	assert.Nil(t, o)
	assert.ErrorIs(t, err, order.ErrOrderNumberAllocation)
	assert.Equal(t, errorbank.KindInternal, kindOf(err))
	assert.Equal(t, 3, seq.calls-callsBefore, "one number per allowed attempt")

	assert.Equal(t, 3, f.stock(p), "reservation unwound")
	assert.Equal(t, []string{order.EventOrderCreated}, f.publisher.types())

	page, err := f.svc.ListForBuyer(context.Background(), buyer, order.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestCacheHoldsOnlyOrdersThatCannotChange(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f := buildFixture(t, fixtureOptions{cache: cache.NewRedisStore(client, time.Minute)})
	p := f.product("5000.00", 5)
	ctx := context.Background()
	key := order.CacheKey

	o := f.mustCheckout(line(p, 1))
	assert.True(t, mr.Exists(key(o.ID)), "fresh order cached after commit")

	_, err := f.move(o, entity.OrderPaid, buyer)
	require.NoError(t, err)
	assert.False(t, mr.Exists(key(o.ID)), "transition evicts")

	got, err := f.svc.Get(ctx, o.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderPaid, got.Status)
	assert.False(t, mr.Exists(key(o.ID)), "live order read is not written back")

	_, err = f.move(o, entity.OrderCancelled, owner)
	require.NoError(t, err)
	got, err = f.svc.Get(ctx, o.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderCancelled, got.Status)
	assert.True(t, mr.Exists(key(o.ID)), "terminal order cached on read")
}

func TestTransitionsAreCountedPerActor(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	f := buildFixture(t, fixtureOptions{meters: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))})
	p := f.product("5000.00", 5)

	o := f.mustCheckout(line(p, 1))
	_, err := f.move(o, entity.OrderPaid, buyer)
	require.NoError(t, err)
	_, err = f.move(o, entity.OrderCancelled, admin)
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counts := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "orders.transitions" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				from, _ := dp.Attributes.Value("from")
				to, _ := dp.Attributes.Value("to")
				actor, _ := dp.Attributes.Value("actor")
				counts[from.AsString()+">"+to.AsString()+"@"+actor.AsString()] += dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{
		"pending>paid@customer": 1,
		"paid>cancelled@admin":  1,
	}, counts)
}
