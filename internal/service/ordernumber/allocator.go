// Package ordernumber issues human-readable order numbers of the form
// PREFIX-YYYYMMDD-NNN, where the date is the store-local calendar day and
// NNN is a per-day sequence padded to at least three digits.
package ordernumber

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	allocatorTracer = otel.Tracer("github.com/Additional-Code/umkm/service/ordernumber")
	allocatorMeter  = otel.Meter("github.com/Additional-Code/umkm/service/ordernumber")
)

// ErrAllocation is returned when neither the sequence nor the random fallback
// produced an unused number.
var ErrAllocation = errors.New("order number allocation failed")

// NumberStore is the view of issued order numbers the allocator needs.
type NumberStore interface {
	NumberExists(ctx context.Context, number string) (bool, error)
	MaxNumber(ctx context.Context, prefix string) (string, error)
}

// Sequence hands out the next per-day counter for a day prefix such as "ORD-20261019-".
type Sequence interface {
	Next(ctx context.Context, dayPrefix string) (int64, error)
}

// Allocator formats order numbers. Uniqueness is ultimately enforced by the
// unique index on orders.order_number; callers retry on conflict.
type Allocator struct {
	store            NumberStore
	sequence         Sequence
	prefix           string
	location         *time.Location
	fallbackAttempts int
	now              func() time.Time
	random           func() int
	logger           *zap.Logger
	fallbacks        metric.Int64Counter
}

// Option customises an Allocator.
type Option func(*Allocator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

// WithRandom overrides the fallback suffix source. fn must return values in [0, 1000).
func WithRandom(fn func() int) Option {
	return func(a *Allocator) { a.random = fn }
}

// NewAllocator builds an allocator for prefix, dating numbers in loc.
func NewAllocator(store NumberStore, sequence Sequence, prefix string, loc *time.Location, fallbackAttempts int, logger *zap.Logger, opts ...Option) *Allocator {
	if loc == nil {
		loc = time.UTC
	}
	if fallbackAttempts <= 0 {
		fallbackAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Allocator{
		store:            store,
		sequence:         sequence,
		prefix:           prefix,
		location:         loc,
		fallbackAttempts: fallbackAttempts,
		now:              time.Now,
		random:           func() int { return rand.IntN(1000) },
		logger:           logger,
	}
	for _, opt := range opts {
		opt(a)
	}

	counter, err := allocatorMeter.Int64Counter("orders.number_fallbacks",
		metric.WithDescription("Order numbers issued from the random fallback"))
	if err != nil {
		a.fallbacks = noop.Int64Counter{}
	} else {
		a.fallbacks = counter
	}
	return a
}

// DayPrefix returns "PREFIX-YYYYMMDD-" for the calendar day of t in the allocator's zone.
func (a *Allocator) DayPrefix(t time.Time) string {
	return fmt.Sprintf("%s-%s-", a.prefix, t.In(a.location).Format("20060102"))
}

// Next returns a candidate order number for the current day.
func (a *Allocator) Next(ctx context.Context) (string, error) {
	dayPrefix := a.DayPrefix(a.now())
	ctx, span := allocatorTracer.Start(ctx, "OrderNumber.Next", trace.WithAttributes(attribute.String("order.number.prefix", dayPrefix)))
	defer span.End()

	seq, err := a.sequence.Next(ctx, dayPrefix)
	if err == nil {
		return formatNumber(dayPrefix, seq), nil
	}

	a.logger.Warn("order sequence unavailable; using random suffix",
		zap.String("prefix", dayPrefix),
		zap.Error(err),
	)
	a.fallbacks.Add(ctx, 1)

	for attempt := 0; attempt < a.fallbackAttempts; attempt++ {
		candidate := formatNumber(dayPrefix, int64(a.random()))
		exists, err := a.store.NumberExists(ctx, candidate)
		if err != nil {
			span.RecordError(err)
			continue
		}
		if !exists {
			return candidate, nil
		}
	}

	span.SetStatus(codes.Error, "allocation exhausted")
	return "", fmt.Errorf("%w: %d fallback attempts for %s", ErrAllocation, a.fallbackAttempts, dayPrefix)
}

func formatNumber(dayPrefix string, seq int64) string {
	return fmt.Sprintf("%s%03d", dayPrefix, seq)
}

// parseSuffix extracts the counter of number issued under dayPrefix.
func parseSuffix(dayPrefix, number string) (int64, error) {
	suffix, ok := strings.CutPrefix(number, dayPrefix)
	if !ok {
		return 0, fmt.Errorf("order number %q lacks prefix %q", number, dayPrefix)
	}
	n, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("order number %q: %w", number, err)
	}
	return n, nil
}
