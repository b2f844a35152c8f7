package reservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ChuLiYu/depot-reserve/pkg/types"
)

var log = slog.Default()

var (
	// ErrUnroutableOrder means no registered strategy accepts the order.
	ErrUnroutableOrder = errors.New("unroutable order")
	// ErrAmbiguousRouting means more than one strategy claims the order or type id.
	ErrAmbiguousRouting = errors.New("ambiguous routing")
)

// RoutingError is a configuration-level dispatch failure. It is not retryable.
type RoutingError struct {
	OrderID types.OrderID
	TypeID  int
	Err     error
}

func (e *RoutingError) Error() string {
	if e.OrderID == "" {
		return fmt.Sprintf("type %d: %v", e.TypeID, e.Err)
	}
	return fmt.Sprintf("order %s (type %d): %v", e.OrderID, e.TypeID, e.Err)
}

func (e *RoutingError) Unwrap() error { return e.Err }

// Dispatcher routes orders to the single strategy that accepts them.
// There is no fallback strategy.
type Dispatcher struct {
	mu         sync.RWMutex
	strategies []Strategy
}

// NewDispatcher creates a dispatcher and registers strategies in order.
func NewDispatcher(strategies ...Strategy) (*Dispatcher, error) {
	d := &Dispatcher{}
	for _, s := range strategies {
		if err := d.Register(s); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Register adds a strategy. Two strategies declaring the same type id are
// rejected here rather than at dispatch time.
func (d *Dispatcher) Register(s Strategy) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, existing := range d.strategies {
		if existing.TypeID() == s.TypeID() {
			return &RoutingError{TypeID: s.TypeID(), Err: ErrAmbiguousRouting}
		}
	}
	d.strategies = append(d.strategies, s)
	log.Debug("strategy registered", "typeID", s.TypeID())
	return nil
}

// TypeIDs returns the declared type ids in registration order.
func (d *Dispatcher) TypeIDs() []int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]int, 0, len(d.strategies))
	for _, s := range d.strategies {
		ids = append(ids, s.TypeID())
	}
	return ids
}

// Route returns the strategy that accepts order.
func (d *Dispatcher) Route(order types.Order) (Strategy, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var match Strategy
	for _, s := range d.strategies {
		if !s.AcceptsOrder(order) {
			continue
		}
		if match != nil {
			return nil, &RoutingError{OrderID: order.ID, TypeID: order.TypeID, Err: ErrAmbiguousRouting}
		}
		match = s
	}
	if match == nil {
		return nil, &RoutingError{OrderID: order.ID, TypeID: order.TypeID, Err: ErrUnroutableOrder}
	}
	return match, nil
}

// Dispatch reserves order with its strategy and returns one result per row.
func (d *Dispatcher) Dispatch(ctx context.Context, order types.Order) ([]types.ReservationResult, error) {
	s, err := d.Route(order)
	if err != nil {
		return nil, err
	}
	return s.Reserve(ctx, order), nil
}
