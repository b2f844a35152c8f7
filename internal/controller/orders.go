package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ChuLiYu/depot-reserve/internal/dispatchqueue"
	"github.com/ChuLiYu/depot-reserve/internal/reservation"
	"github.com/ChuLiYu/depot-reserve/pkg/types"
)

// ============================================================================
// Orders
// ============================================================================

// EnqueueOrder queues order for reservation. Higher priority is dispatched
// first, equal priorities in arrival order.
func (c *Controller) EnqueueOrder(order types.Order, priority int) error {
	if err := validateOrder(order); err != nil {
		return err
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if _, queued := c.queue.Find(sameOrder(order.ID)); queued {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateOrder, order.ID)
	}
	c.queue.Enqueue(order, priority)
	depth := c.queue.Len()
	c.mu.Unlock()

	c.metrics.RecordEnqueue(depth)
	log.Debug("Order enqueued", "orderID", order.ID, "type", order.TypeID, "priority", priority, "depth", depth)

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

func validateOrder(order types.Order) error {
	if order.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidOrder)
	}
	// row numbers key the results, bad quantities are rejected per row
	seen := make(map[int]bool, len(order.Rows))
	for _, row := range order.Rows {
		if seen[row.RowNumber] {
			return fmt.Errorf("%w: order %s repeats row %d", ErrInvalidOrder, order.ID, row.RowNumber)
		}
		seen[row.RowNumber] = true
	}
	return nil
}

func sameOrder(id types.OrderID) func(types.Order) bool {
	return func(o types.Order) bool { return o.ID == id }
}

// CancelOrder removes a queued order. It reports false once the order has
// been dequeued.
func (c *Controller) CancelOrder(id types.OrderID) bool {
	c.mu.Lock()
	removed := c.queue.Remove(sameOrder(id))
	depth := c.queue.Len()
	c.mu.Unlock()

	if removed {
		c.metrics.SetQueueDepth(depth)
		log.Info("Order cancelled", "orderID", id)
	}
	return removed
}

// PendingOrders returns the queued orders in dispatch order.
func (c *Controller) PendingOrders() []dispatchqueue.Entry[types.Order] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Entries()
}

// OrderResult returns the stored outcome of a dispatched order. A
// re-submitted order reports pending until its new outcome is stored.
func (c *Controller) OrderResult(id types.OrderID) (types.OrderOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, queued := c.queue.Find(sameOrder(id)); queued {
		return types.OrderOutcome{}, ErrOrderPending
	}
	if out, ok := c.outcomes[id]; ok {
		return out, nil
	}
	return types.OrderOutcome{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
}

// reserve dispatches one order and stores its outcome. A routing error is
// stored as a rejected outcome carrying the error.
func (c *Controller) reserve(ctx context.Context, order types.Order) {
	start := time.Now()
	results, err := c.dispatcher.Dispatch(ctx, order)

	out := types.OrderOutcome{
		OrderID:    order.ID,
		TypeID:     order.TypeID,
		Results:    results,
		ReservedAt: c.now(),
	}

	if err != nil {
		kind := "unroutable"
		if errors.Is(err, reservation.ErrAmbiguousRouting) {
			kind = "ambiguous"
		}
		c.metrics.RecordRoutingError(kind)
		log.Error("Order could not be routed", "orderID", order.ID, "type", order.TypeID, "error", err)

		out.Outcome = types.OutcomeRejected
		out.Error = err.Error()
		c.storeOutcome(out)
		return
	}

	out.Outcome = reservation.Summarize(results)
	rows := make([]string, len(results))
	for i, r := range results {
		rows[i] = string(r.Outcome)
	}
	c.metrics.RecordReservation(string(out.Outcome), rows, time.Since(start).Seconds())
	c.storeOutcome(out)

	log.Info("Order reserved", "orderID", order.ID, "outcome", out.Outcome, "rows", len(results))
	c.feed.Logf("order %s: %s", order.ID, out.Outcome)
}

// storeOutcome keeps at most MaxOutcomes outcomes, evicting the oldest.
func (c *Controller) storeOutcome(out types.OrderOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.outcomes[out.OrderID]; !exists {
		c.evict = append(c.evict, out.OrderID)
	}
	c.outcomes[out.OrderID] = out

	for len(c.outcomes) > c.config.MaxOutcomes && len(c.evict) > 0 {
		oldest := c.evict[0]
		c.evict = c.evict[1:]
		delete(c.outcomes, oldest)
	}
}
