package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/umkm/internal/database"
	"github.com/Additional-Code/umkm/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/umkm/repository/order")

var (
	// ErrNotFound is returned when an order is missing.
	ErrNotFound = errors.New("order not found")
	// ErrStaleStatus is returned when the order left the expected status before the update landed.
	ErrStaleStatus = errors.New("order status changed concurrently")
	// ErrDuplicateNumber is returned when the order number is already taken.
	ErrDuplicateNumber = errors.New("order number already exists")
)

// StatusChange describes a compare-and-set move of one order between statuses.
// Non-nil payment fields are written together with the status.
type StatusChange struct {
	OrderID      string
	From         entity.OrderStatus
	To           entity.OrderStatus
	At           time.Time
	PaymentProof *string
	PaymentNote  *string
}

// ListFilter narrows order listings. A zero Status matches every status.
type ListFilter struct {
	Status entity.OrderStatus
	Limit  int
	Offset int
}

// Repository encapsulates read/write access for orders.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// Create persists an order together with its lines in one transaction.
// fn, when non-nil, runs inside the same transaction after the rows are written.
func (r *Repository) Create(ctx context.Context, order *entity.Order, fn func(ctx context.Context, tx bun.Tx) error) error {
	if order == nil {
		return errors.New("nil order")
	}
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Create", trace.WithAttributes(
		attribute.String("order.number", order.OrderNumber),
		attribute.Int("order.lines", len(order.Lines)),
	))
	defer span.End()

	err := r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return err
		}
		if len(order.Lines) > 0 {
			if _, err := tx.NewInsert().Model(&order.Lines).Exec(ctx); err != nil {
				return err
			}
		}
		if fn != nil {
			return fn(ctx, tx)
		}
		return nil
	})
	if database.IsUniqueViolation(err) {
		span.SetStatus(codes.Error, "duplicate order number")
		return fmt.Errorf("%w: %s", ErrDuplicateNumber, order.OrderNumber)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

// GetByID fetches an order with its lines using the read replica when available.
func (r *Repository) GetByID(ctx context.Context, id string) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.GetByID", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	order, err := r.get(ctx, r.reader, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
	}
	return order, err
}

// GetForWrite fetches an order from the primary so a status decision never
// starts from a lagging replica.
func (r *Repository) GetForWrite(ctx context.Context, id string) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.GetForWrite", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	order, err := r.get(ctx, r.writer, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
	}
	return order, err
}

func (r *Repository) get(ctx context.Context, db bun.IDB, id string) (*entity.Order, error) {
	order := new(entity.Order)
	err := db.NewSelect().
		Model(order).
		Relation("Lines", orderLines).
		Where("?TableAlias.id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Transition moves an order from change.From to change.To only if it is still
// in change.From, stamping the matching lifecycle timestamp. fn runs in the same
// transaction so stock restored on cancellation commits with the status.
func (r *Repository) Transition(ctx context.Context, change StatusChange, fn func(ctx context.Context, tx bun.Tx) error) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Transition", trace.WithAttributes(
		attribute.String("order.id", change.OrderID),
		attribute.String("order.status.from", string(change.From)),
		attribute.String("order.status.to", string(change.To)),
	))
	defer span.End()

	err := r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewUpdate().
			Model((*entity.Order)(nil)).
			Set("status = ?", change.To).
			Set("updated_at = ?", change.At)
		if column := stampColumn(change.To); column != "" {
			q = q.Set("? = ?", bun.Ident(column), change.At)
		}
		if change.PaymentProof != nil {
			q = q.Set("payment_proof = ?", *change.PaymentProof)
		}
		if change.PaymentNote != nil {
			q = q.Set("payment_note = ?", *change.PaymentNote)
		}
		res, err := q.
			Where("id = ?", change.OrderID).
			Where("status = ?", change.From).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrStaleStatus
		}
		if fn != nil {
			return fn(ctx, tx)
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrStaleStatus) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition failed")
	}
	return err
}

func stampColumn(status entity.OrderStatus) string {
	switch status {
	case entity.OrderPaid:
		return "paid_at"
	case entity.OrderCompleted:
		return "completed_at"
	case entity.OrderCancelled:
		return "cancelled_at"
	default:
		return ""
	}
}

// NumberExists reports whether an order number has already been issued.
func (r *Repository) NumberExists(ctx context.Context, number string) (bool, error) {
	return r.writer.NewSelect().
		Model((*entity.Order)(nil)).
		Where("order_number = ?", number).
		Exists(ctx)
}

// MaxNumber returns the highest order number starting with prefix, or "" when none exist.
// Suffixes may outgrow their zero padding, so longer numbers sort first.
func (r *Repository) MaxNumber(ctx context.Context, prefix string) (string, error) {
	var number string
	err := r.writer.NewSelect().
		Model((*entity.Order)(nil)).
		Column("order_number").
		Where("order_number LIKE ?", prefix+"%").
		OrderExpr("LENGTH(order_number) DESC, order_number DESC").
		Limit(1).
		Scan(ctx, &number)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("max order number: %w", err)
	}
	return number, nil
}

// ListByUser returns a buyer's orders, newest first, with the total match count.
func (r *Repository) ListByUser(ctx context.Context, userID string, filter ListFilter) ([]*entity.Order, int, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.ListByUser", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	return r.list(ctx, span, "user_id", userID, filter)
}

// ListByStore returns a store's orders, newest first, with the total match count.
func (r *Repository) ListByStore(ctx context.Context, storeID string, filter ListFilter) ([]*entity.Order, int, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.ListByStore", trace.WithAttributes(attribute.String("store.id", storeID)))
	defer span.End()

	return r.list(ctx, span, "store_id", storeID, filter)
}

func (r *Repository) list(ctx context.Context, span trace.Span, column, value string, filter ListFilter) ([]*entity.Order, int, error) {
	var orders []*entity.Order
	q := r.reader.NewSelect().
		Model(&orders).
		Relation("Lines", orderLines).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		OrderExpr("?TableAlias.created_at DESC, ?TableAlias.id DESC")
	if filter.Status != "" {
		q = q.Where("?TableAlias.status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	total, err := q.ScanAndCount(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, 0, err
	}
	return orders, total, nil
}

func orderLines(q *bun.SelectQuery) *bun.SelectQuery {
	return q.Order("created_at", "id")
}
