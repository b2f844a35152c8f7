// ============================================================================
// Order Reservation Strategies
// ============================================================================
//
// Package: internal/reservation
// File: strategy.go
//
// A strategy owns one order type. It decides
//   - which orders it accepts (by default: order.TypeID == its type id)
//   - the row ordering (a comparator; nil keeps declaration order)
//   - which row handlers it composes, tried first to last per row
//
// Every strategy shares the same reservation loop:
//
//   rows := SortRows(order.Rows)        // stable copy, order untouched
//   for each row:
//       h := first handler with h.Accepts(row)
//       result := h.ReserveRow(...)  or  REJECTED (no handler)
//
// Adding an order type means registering another strategy instance with the
// dispatcher. Nothing here or in the dispatcher changes.
//
// ============================================================================

package reservation

import (
	"context"
	"sort"

	"github.com/ChuLiYu/depot-reserve/internal/stock"
	"github.com/ChuLiYu/depot-reserve/pkg/types"
)

// Strategy reserves orders of one type.
type Strategy interface {
	TypeID() int
	AcceptsOrder(order types.Order) bool
	SortRows(rows []types.OrderRow) []types.OrderRow
	Reserve(ctx context.Context, order types.Order) []types.ReservationResult
}

// RowLess orders rows for reservation.
type RowLess func(a, b types.OrderRow) bool

// ByRowNumber honors a predefined pick sequence.
func ByRowNumber(a, b types.OrderRow) bool {
	return a.RowNumber < b.RowNumber
}

// CompositeStrategy is a Strategy assembled from a type id, an ordered list
// of row handlers and an optional row comparator.
type CompositeStrategy struct {
	name     string
	typeID   int
	handlers []RowHandler
	less     RowLess
	accepts  func(types.Order) bool
}

// StrategyOption customizes a CompositeStrategy.
type StrategyOption func(*CompositeStrategy)

// WithRowOrder sets the row comparator.
func WithRowOrder(less RowLess) StrategyOption {
	return func(s *CompositeStrategy) { s.less = less }
}

// WithAcceptance replaces the default type-id predicate.
func WithAcceptance(accepts func(types.Order) bool) StrategyOption {
	return func(s *CompositeStrategy) { s.accepts = accepts }
}

// NewStrategy builds a strategy for typeID composed of handlers.
func NewStrategy(name string, typeID int, handlers []RowHandler, opts ...StrategyOption) *CompositeStrategy {
	s := &CompositeStrategy{
		name:     name,
		typeID:   typeID,
		handlers: handlers,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the strategy name used in logs.
func (s *CompositeStrategy) Name() string { return s.name }

func (s *CompositeStrategy) TypeID() int { return s.typeID }

func (s *CompositeStrategy) AcceptsOrder(order types.Order) bool {
	if s.accepts != nil {
		return s.accepts(order)
	}
	return order.TypeID == s.typeID
}

// SortRows returns a reordered copy of rows.
func (s *CompositeStrategy) SortRows(rows []types.OrderRow) []types.OrderRow {
	out := make([]types.OrderRow, len(rows))
	copy(out, rows)
	if s.less != nil {
		sort.SliceStable(out, func(i, j int) bool {
			return s.less(out[i], out[j])
		})
	}
	return out
}

func (s *CompositeStrategy) Reserve(ctx context.Context, order types.Order) []types.ReservationResult {
	rows := s.SortRows(order.Rows)
	results := make([]types.ReservationResult, 0, len(rows))

	for _, row := range rows {
		h := s.handlerFor(row)
		if h == nil {
			results = append(results, types.ReservationResult{
				RowNumber: row.RowNumber,
				Outcome:   types.OutcomeRejected,
				Reason:    ReasonNoRowHandler,
			})
			continue
		}
		results = append(results, h.ReserveRow(ctx, order, row))
	}
	return results
}

func (s *CompositeStrategy) handlerFor(row types.OrderRow) RowHandler {
	for _, h := range s.handlers {
		if h.Accepts(row) {
			return h
		}
	}
	return nil
}

// ============================================================================
// Built-in strategies
// ============================================================================

// NewPickingStrategy reserves picking lists in row-number order so the pick
// path printed on the list is kept.
func NewPickingStrategy(s stock.Store) *CompositeStrategy {
	return NewStrategy("picking", types.OrderTypePicking,
		[]RowHandler{NewContainerRowHandler(s), NewProductRowHandler(s)},
		WithRowOrder(ByRowNumber),
	)
}

// NewRefillingStrategy reserves refill orders. Refills always target a
// location, so only the container handler is composed.
func NewRefillingStrategy(s stock.Store) *CompositeStrategy {
	return NewStrategy("refilling", types.OrderTypeRefilling,
		[]RowHandler{NewContainerRowHandler(s)},
	)
}

// NewInventoryStrategy reserves stock for counting in declaration order.
func NewInventoryStrategy(s stock.Store) *CompositeStrategy {
	return NewStrategy("inventory", types.OrderTypeInventory,
		[]RowHandler{NewContainerRowHandler(s), NewProductRowHandler(s)},
	)
}

// ============================================================================
// Result helpers
// ============================================================================

// FullyReserved reports whether every row was reserved in full.
func FullyReserved(results []types.ReservationResult) bool {
	for _, r := range results {
		if r.Outcome != types.OutcomeReserved {
			return false
		}
	}
	return true
}

// Summarize folds row results into the order-level outcome.
// An order without rows counts as reserved.
func Summarize(results []types.ReservationResult) types.Outcome {
	if FullyReserved(results) {
		return types.OutcomeReserved
	}
	for _, r := range results {
		if r.Outcome != types.OutcomeRejected {
			return types.OutcomePartial
		}
	}
	return types.OutcomeRejected
}
