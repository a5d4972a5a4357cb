package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/umkm/internal/cache"
	"github.com/Additional-Code/umkm/internal/config"
	"github.com/Additional-Code/umkm/internal/entity"
	"github.com/Additional-Code/umkm/internal/messaging"
	"github.com/Additional-Code/umkm/internal/notification"
	"github.com/Additional-Code/umkm/internal/repository/catalog"
	"github.com/Additional-Code/umkm/internal/repository/inventory"
	repo "github.com/Additional-Code/umkm/internal/repository/order"
	"github.com/Additional-Code/umkm/internal/service/ordernumber"
	"github.com/Additional-Code/umkm/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/umkm/service/order")

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Clock supplies the current time.
type Clock func() time.Time

// Service owns order creation and every order status change.
type Service struct {
	orders    *repo.Repository
	catalog   *catalog.Repository
	ledger    *inventory.Ledger
	numbers   *ordernumber.Allocator
	notifier  notification.Dispatcher
	cache     cache.Store
	cacheTTL  time.Duration
	publisher messaging.Client
	cfg       config.Orders
	logger    *zap.Logger
	now       Clock
	metrics   *metrics
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Orders    *repo.Repository
	Catalog   *catalog.Repository
	Ledger    *inventory.Ledger
	Numbers   *ordernumber.Allocator
	Notifier  notification.Dispatcher
	Cache     cache.Store
	Publisher messaging.Client
	Config    config.Config
	Logger    *zap.Logger
	Clock     Clock `optional:"true"`
	// Meters defaults to the global provider.
	Meters metric.MeterProvider `optional:"true"`
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	now := p.Clock
	if now == nil {
		now = time.Now
	}
	store := p.Cache
	if store == nil {
		store = cache.Noop()
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	orders := p.Config.Orders
	if orders.AllocationAttempts <= 0 {
		orders.AllocationAttempts = 1
	}
	if orders.SideEffectTimeout <= 0 {
		orders.SideEffectTimeout = 5 * time.Second
	}
	return &Service{
		orders:    p.Orders,
		catalog:   p.Catalog,
		ledger:    p.Ledger,
		numbers:   p.Numbers,
		notifier:  p.Notifier,
		cache:     store,
		cacheTTL:  p.Config.Cache.DefaultTTL,
		publisher: p.Publisher,
		cfg:       orders,
		logger:    logger,
		now:       now,
		metrics:   newMetrics(p.Meters),
	}
}

// LineInput is one requested product and quantity.
type LineInput struct {
	ProductID string
	Quantity  int
}

// CreateInput is a checkout request.
type CreateInput struct {
	Buyer         entity.Actor
	StoreID       string
	BuyerPhone    string
	Note          string
	PaymentMethod string
	Items         []LineInput
}

// TransitionInput asks to move an order to Target on behalf of Actor.
type TransitionInput struct {
	OrderID      string
	Target       entity.OrderStatus
	Actor        entity.Actor
	PaymentProof string
	PaymentNote  string
}

// ListFilter narrows order listings.
type ListFilter struct {
	Status entity.OrderStatus
	Limit  int
	Offset int
}

// Page is one slice of an order listing.
type Page struct {
	Orders []*entity.Order
	Total  int
	Limit  int
	Offset int
}

// Create validates a checkout, reserves stock for every line all-or-nothing,
// numbers and persists the order as pending, then notifies the store owner.
func (s *Service) Create(ctx context.Context, in CreateInput) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Create", trace.WithAttributes(
		attribute.String("store.id", in.StoreID),
		attribute.String("user.id", in.Buyer.UserID),
		attribute.Int("order.items", len(in.Items)),
	))
	defer span.End()

	order, store, err := s.create(ctx, in)
	if err != nil {
		appErr := appError(err)
		traceFailure(span, appErr)
		return nil, appErr
	}
	span.SetAttributes(attribute.String("order.number", order.OrderNumber))
	s.metrics.created.Add(ctx, 1)

	s.afterCreate(ctx, order, store)
	return order, nil
}

func (s *Service) create(ctx context.Context, in CreateInput) (*entity.Order, *entity.Store, error) {
	items, err := validateCreate(in)
	if err != nil {
		return nil, nil, err
	}
	if in.Buyer.Role != entity.ActorCustomer {
		return nil, nil, ErrCheckoutNotPermitted
	}

	store, err := s.catalog.GetStore(ctx, in.StoreID)
	if errors.Is(err, catalog.ErrStoreNotFound) {
		return nil, nil, ErrStoreNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load store: %w", err)
	}
	if !store.IsActive {
		return nil, nil, &ValidationError{Fields: map[string]string{"store_id": "store is not accepting orders"}}
	}

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}
	products, err := s.catalog.ProductsByID(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("load products: %w", err)
	}

	now := s.now().UTC()
	order := &entity.Order{
		ID:            uuid.NewString(),
		UserID:        in.Buyer.UserID,
		StoreID:       store.ID,
		BuyerPhone:    normalizePhone(in.BuyerPhone),
		Note:          in.Note,
		PaymentMethod: in.PaymentMethod,
		Status:        entity.OrderPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	total := decimal.Zero
	for _, item := range items {
		product, ok := products[item.ProductID]
		if !ok || product.StoreID != store.ID {
			return nil, nil, &ProductError{ProductID: item.ProductID, Err: ErrProductNotFound}
		}
		if !product.Status.Orderable() {
			return nil, nil, &ProductError{ProductID: item.ProductID, Err: ErrProductNotOrderable}
		}

		unitPrice := product.Price.Round(2)
		subtotal := unitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		total = total.Add(subtotal)
		order.Lines = append(order.Lines, &entity.OrderLine{
			ID:          uuid.NewString(),
			OrderID:     order.ID,
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   unitPrice,
			Subtotal:    subtotal,
			CreatedAt:   now,
		})
	}
	order.TotalPrice = total

	reserved, err := s.reserve(ctx, order)
	if err != nil {
		return nil, nil, err
	}

	if err := s.persist(ctx, order); err != nil {
		s.unwind(ctx, order, reserved)
		return nil, nil, err
	}
	return order, store, nil
}

// reserve takes stock for every line. On the first failure the lines reserved
// so far are released in reverse order and the failure is returned.
func (s *Service) reserve(ctx context.Context, order *entity.Order) ([]*entity.OrderLine, error) {
	reserved := make([]*entity.OrderLine, 0, len(order.Lines))
	for _, line := range order.Lines {
		err := s.ledger.Reserve(ctx, line.ProductID, line.Quantity)
		if err == nil {
			reserved = append(reserved, line)
			continue
		}

		s.unwind(ctx, order, reserved)
		switch {
		case errors.Is(err, inventory.ErrInsufficientStock):
			s.metrics.stockConflicts.Add(ctx, 1)
			return nil, err
		case errors.Is(err, inventory.ErrProductMissing):
			return nil, &ProductError{ProductID: line.ProductID, Err: ErrProductNotFound}
		default:
			return nil, fmt.Errorf("reserve stock: %w", err)
		}
	}
	return reserved, nil
}

func (s *Service) unwind(ctx context.Context, order *entity.Order, reserved []*entity.OrderLine) {
	// Compensation must run even if the caller went away.
	ctx = context.WithoutCancel(ctx)
	for i := len(reserved) - 1; i >= 0; i-- {
		line := reserved[i]
		if err := s.ledger.Release(ctx, line.ProductID, line.Quantity); err != nil {
			s.logger.Error("stock rollback failed",
				zap.String("order_id", order.ID),
				zap.String("product_id", line.ProductID),
				zap.Int("quantity", line.Quantity),
				zap.Error(err),
			)
		}
	}
}

// persist numbers the order and inserts it, drawing a new number whenever the
// unique index reports the previous one as taken.
func (s *Service) persist(ctx context.Context, order *entity.Order) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond

	op := func() (struct{}, error) {
		number, err := s.numbers.Next(ctx)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		order.OrderNumber = number

		err = s.orders.Create(ctx, order, nil)
		if errors.Is(err, repo.ErrDuplicateNumber) {
			s.logger.Debug("order number taken; retrying", zap.String("order_number", number))
			return struct{}{}, err
		}
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("insert order: %w", err))
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(s.cfg.AllocationAttempts)),
	)
	if errors.Is(err, repo.ErrDuplicateNumber) {
		order.OrderNumber = ""
		return fmt.Errorf("%w: %d conflicting attempts", ErrOrderNumberAllocation, s.cfg.AllocationAttempts)
	}
	return err
}

func (s *Service) afterCreate(ctx context.Context, order *entity.Order, store *entity.Store) {
	ctx, cancel := s.sideEffectContext(ctx)
	defer cancel()

	s.storeInCache(ctx, order)

	s.publish(ctx, EventOrderCreated, order.ID, OrderCreatedEvent{
		ID:         order.ID,
		Number:     order.OrderNumber,
		UserID:     order.UserID,
		StoreID:    order.StoreID,
		Status:     order.Status,
		TotalPrice: order.TotalPrice.StringFixed(2),
		Lines:      len(order.Lines),
		CreatedAt:  order.CreatedAt,
	})

	s.notify(ctx, order, notification.Notification{
		UserID:    store.OwnerID,
		Type:      notification.TypeOrderNew,
		Category:  notification.CategoryStore,
		Title:     "New order " + order.OrderNumber,
		Message:   fmt.Sprintf("%s received an order of %d item(s) totalling %s.", store.Name, totalQuantity(order), order.TotalPrice.StringFixed(2)),
		ActionURL: "/stores/" + store.ID + "/orders",
		Data:      orderData(order),
	})
}

// Get returns an order the actor is allowed to see, consulting the cache first.
func (s *Service) Get(ctx context.Context, id string, actor entity.Actor) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Get", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	order, err := s.load(ctx, id)
	if err == nil {
		err = s.authorizeView(ctx, actor, order)
	}
	if err != nil {
		appErr := appError(err)
		traceFailure(span, appErr)
		return nil, appErr
	}
	return order, nil
}

func (s *Service) load(ctx context.Context, id string) (*entity.Order, error) {
	if order, err := s.getFromCache(ctx, id); err == nil {
		return order, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("orders cache read failed", zap.String("id", id), zap.Error(err))
	}

	order, err := s.orders.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	// A live order read here may be overtaken by a transition whose eviction
	// lands before this write; only terminal orders are safe to write back.
	if order.Status.Terminal() {
		s.storeInCache(ctx, order)
	}
	return order, nil
}

// ListForBuyer returns the actor's own orders.
func (s *Service) ListForBuyer(ctx context.Context, actor entity.Actor, filter ListFilter) (*Page, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.ListForBuyer", trace.WithAttributes(attribute.String("user.id", actor.UserID)))
	defer span.End()

	f, err := normalizeFilter(filter)
	if err != nil {
		return nil, appError(err)
	}
	orders, total, err := s.orders.ListByUser(ctx, actor.UserID, f)
	if err != nil {
		appErr := appError(err)
		traceFailure(span, appErr)
		return nil, appErr
	}
	return &Page{Orders: orders, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// ListForStore returns a store's orders to its owner or an admin.
func (s *Service) ListForStore(ctx context.Context, actor entity.Actor, storeID string, filter ListFilter) (*Page, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.ListForStore", trace.WithAttributes(attribute.String("store.id", storeID)))
	defer span.End()

	page, err := s.listForStore(ctx, actor, storeID, filter)
	if err != nil {
		appErr := appError(err)
		traceFailure(span, appErr)
		return nil, appErr
	}
	return page, nil
}

func (s *Service) listForStore(ctx context.Context, actor entity.Actor, storeID string, filter ListFilter) (*Page, error) {
	f, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	store, err := s.catalog.GetStore(ctx, storeID)
	if errors.Is(err, catalog.ErrStoreNotFound) {
		return nil, ErrStoreNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load store: %w", err)
	}
	if actor.Role != entity.ActorAdmin && (actor.Role != entity.ActorOwner || store.OwnerID != actor.UserID) {
		return nil, ErrNotParticipant
	}
	orders, total, err := s.orders.ListByStore(ctx, storeID, f)
	if err != nil {
		return nil, err
	}
	return &Page{Orders: orders, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// Transition moves an order along the lifecycle on behalf of an actor. The
// legality check runs against the status re-read from the primary, and the
// write only lands if the order is still in that status, so two concurrent
// requests can never both succeed from the same state.
func (s *Service) Transition(ctx context.Context, in TransitionInput) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Transition", trace.WithAttributes(
		attribute.String("order.id", in.OrderID),
		attribute.String("order.status.to", string(in.Target)),
		attribute.String("actor.role", string(in.Actor.Role)),
	))
	defer span.End()

	order, rule, err := s.transition(ctx, in)
	if err != nil {
		appErr := appError(err)
		traceFailure(span, appErr)
		return nil, appErr
	}
	s.metrics.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(rule.From)),
		attribute.String("to", string(rule.To)),
		attribute.String("actor", string(in.Actor.Role)),
	))

	s.afterTransition(ctx, order, rule, in.Actor)
	return order, nil
}

func (s *Service) transition(ctx context.Context, in TransitionInput) (*entity.Order, Transition, error) {
	if err := validateTransition(in); err != nil {
		return nil, Transition{}, err
	}

	order, err := s.orders.GetForWrite(ctx, in.OrderID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, Transition{}, ErrOrderNotFound
	}
	if err != nil {
		return nil, Transition{}, fmt.Errorf("load order: %w", err)
	}

	if err := s.authorizeTransition(ctx, in.Actor, order); err != nil {
		return nil, Transition{}, err
	}

	rule, err := LookupTransition(order.Status, in.Target, in.Actor.Role)
	if err != nil {
		return nil, Transition{}, err
	}

	now := s.now().UTC()
	change := repo.StatusChange{OrderID: order.ID, From: rule.From, To: rule.To, At: now}
	if rule.To == entity.OrderPaid {
		if strings.TrimSpace(in.PaymentProof) == "" {
			return nil, Transition{}, ErrPaymentProofRequired
		}
		proof, note := in.PaymentProof, in.PaymentNote
		change.PaymentProof = &proof
		change.PaymentNote = &note
	}

	err = s.orders.Transition(ctx, change, func(ctx context.Context, tx bun.Tx) error {
		if !rule.ReleaseStock {
			return nil
		}
		return s.releaseLines(ctx, s.ledger.WithTx(tx), order)
	})
	if errors.Is(err, repo.ErrStaleStatus) {
		current := order.Status
		if latest, rerr := s.orders.GetForWrite(ctx, order.ID); rerr == nil {
			current = latest.Status
		}
		return nil, Transition{}, &IllegalTransitionError{From: current, To: in.Target, Role: in.Actor.Role}
	}
	if err != nil {
		return nil, Transition{}, fmt.Errorf("apply transition: %w", err)
	}

	order.Status = rule.To
	order.UpdatedAt = now
	switch rule.To {
	case entity.OrderPaid:
		order.PaidAt = &now
		order.PaymentProof = change.PaymentProof
		order.PaymentNote = *change.PaymentNote
	case entity.OrderCompleted:
		order.CompletedAt = &now
	case entity.OrderCancelled:
		order.CancelledAt = &now
	}
	return order, rule, nil
}

// releaseLines returns each line's quantity. Lines whose product has since been
// removed from the catalog are skipped; there is no stock left to restore.
func (s *Service) releaseLines(ctx context.Context, ledger *inventory.Ledger, order *entity.Order) error {
	for _, line := range order.Lines {
		err := ledger.Release(ctx, line.ProductID, line.Quantity)
		if errors.Is(err, inventory.ErrProductMissing) {
			s.logger.Warn("cancelled line references a removed product",
				zap.String("order_id", order.ID),
				zap.String("product_id", line.ProductID),
			)
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) afterTransition(ctx context.Context, order *entity.Order, rule Transition, actor entity.Actor) {
	ctx, cancel := s.sideEffectContext(ctx)
	defer cancel()

	if err := s.cache.Delete(ctx, CacheKey(order.ID)); err != nil {
		s.logger.Warn("orders cache evict failed", zap.String("id", order.ID), zap.Error(err))
	}

	s.publish(ctx, EventOrderStatusChanged, order.ID, OrderStatusChangedEvent{
		ID:        order.ID,
		Number:    order.OrderNumber,
		StoreID:   order.StoreID,
		From:      rule.From,
		To:        rule.To,
		ActorID:   actor.UserID,
		ActorRole: actor.Role,
		ChangedAt: order.UpdatedAt,
	})

	if rule.NotifyType == "" {
		return
	}
	title, message := buyerMessage(rule.NotifyType, order)
	s.notify(ctx, order, notification.Notification{
		UserID:    order.UserID,
		Type:      rule.NotifyType,
		Category:  notification.CategoryPersonal,
		Title:     title,
		Message:   message,
		ActionURL: "/orders/" + order.ID,
		Data:      orderData(order),
	})
}

func (s *Service) authorizeView(ctx context.Context, actor entity.Actor, order *entity.Order) error {
	if actor.Role == entity.ActorAdmin || order.UserID == actor.UserID {
		return nil
	}
	if actor.Role == entity.ActorOwner {
		return s.requireStoreOwner(ctx, actor, order)
	}
	return ErrNotParticipant
}

func (s *Service) authorizeTransition(ctx context.Context, actor entity.Actor, order *entity.Order) error {
	switch actor.Role {
	case entity.ActorAdmin:
		return nil
	case entity.ActorCustomer:
		if order.UserID != actor.UserID {
			return ErrNotParticipant
		}
		return nil
	case entity.ActorOwner:
		return s.requireStoreOwner(ctx, actor, order)
	default:
		return ErrNotParticipant
	}
}

func (s *Service) requireStoreOwner(ctx context.Context, actor entity.Actor, order *entity.Order) error {
	store, err := s.catalog.GetStore(ctx, order.StoreID)
	if errors.Is(err, catalog.ErrStoreNotFound) {
		return ErrNotParticipant
	}
	if err != nil {
		return fmt.Errorf("load store: %w", err)
	}
	if store.OwnerID != actor.UserID {
		return ErrNotParticipant
	}
	return nil
}

// sideEffectContext detaches post-commit work from the request so a client
// disconnect cannot cut it short, while still bounding how long it may take.
func (s *Service) sideEffectContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SideEffectTimeout)
}

func (s *Service) notify(ctx context.Context, order *entity.Order, n notification.Notification) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("notification dropped",
			zap.String("order_id", order.ID),
			zap.String("type", n.Type),
			zap.String("user_id", n.UserID),
			zap.Error(err),
		)
	}
}

func (s *Service) publish(ctx context.Context, eventType, key string, event any) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal order event", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, eventType, []byte(key), payload); err != nil {
		s.logger.Warn("publish order event", zap.String("event_type", eventType), zap.Error(err))
	}
}

// CacheKey is where the read-through cache keeps an order view.
func CacheKey(id string) string {
	return cache.Key("orders", id)
}

func (s *Service) getFromCache(ctx context.Context, id string) (*entity.Order, error) {
	bytes, err := s.cache.Get(ctx, CacheKey(id))
	if err != nil {
		return nil, err
	}
	var order entity.Order
	if err := json.Unmarshal(bytes, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Service) storeInCache(ctx context.Context, order *entity.Order) {
	bytes, err := json.Marshal(order)
	if err == nil {
		err = s.cache.Set(ctx, CacheKey(order.ID), bytes, s.cacheTTL)
	}
	if err != nil {
		s.logger.Warn("orders cache write failed", zap.String("id", order.ID), zap.Error(err))
	}
}

// traceFailure marks the span as failed only for server-side faults; expected
// rejections such as stock contention are recorded as attributes.
func traceFailure(span trace.Span, err error) {
	if errorbank.Is(err, errorbank.KindInternal) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "order operation failed")
		return
	}
	span.SetAttributes(attribute.String("order.rejection", errorbank.From(err).Message()))
}

func orderData(order *entity.Order) map[string]any {
	return map[string]any{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"store_id":     order.StoreID,
		"status":       string(order.Status),
		"total_price":  order.TotalPrice.StringFixed(2),
	}
}

func totalQuantity(order *entity.Order) int {
	n := 0
	for _, line := range order.Lines {
		n += line.Quantity
	}
	return n
}

func buyerMessage(notifyType string, order *entity.Order) (string, string) {
	switch notifyType {
	case notification.TypeOrderConfirmed:
		return "Order confirmed", fmt.Sprintf("Order %s has been confirmed by the seller and is being prepared.", order.OrderNumber)
	case notification.TypeOrderShipped:
		return "Order on its way", fmt.Sprintf("Order %s is ready and has been sent.", order.OrderNumber)
	case notification.TypeOrderCompleted:
		return "Order completed", fmt.Sprintf("Order %s is complete. Thank you for shopping!", order.OrderNumber)
	case notification.TypeOrderCancelled:
		return "Order cancelled", fmt.Sprintf("Order %s has been cancelled.", order.OrderNumber)
	default:
		return "Order updated", fmt.Sprintf("Order %s is now %s.", order.OrderNumber, order.Status)
	}
}
