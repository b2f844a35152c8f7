package controller

import (
	"sync"

	"github.com/ChuLiYu/depot-reserve/pkg/types"
)

// stockGate orders reservations that touch the same stock by dispatch order.
//
// enter is called while dequeuing, so tickets follow queue order. A holder
// waits until it is first in line for every key it touches; orders with
// disjoint keys still reserve in parallel. Tickets are totally ordered, so
// waiting never forms a cycle.
type stockGate struct {
	mu     sync.Mutex
	cond   *sync.Cond
	next   uint64
	queues map[string][]uint64
}

type gateTicket struct {
	id   uint64
	keys []string
}

func newStockGate() *stockGate {
	g := &stockGate{queues: make(map[string][]uint64)}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// stockKeys lists the distinct location/product pairs an order reserves.
func stockKeys(order types.Order) []string {
	seen := make(map[string]bool, len(order.Rows))
	keys := make([]string, 0, len(order.Rows))
	for _, row := range order.Rows {
		k := row.LocationRef + "\x00" + row.ProductRef
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}

func (g *stockGate) enter(order types.Order) gateTicket {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.next++
	t := gateTicket{id: g.next, keys: stockKeys(order)}
	for _, k := range t.keys {
		g.queues[k] = append(g.queues[k], t.id)
	}
	return t
}

func (g *stockGate) wait(t gateTicket) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for !g.firstInLine(t) {
		g.cond.Wait()
	}
}

func (g *stockGate) firstInLine(t gateTicket) bool {
	for _, k := range t.keys {
		if g.queues[k][0] != t.id {
			return false
		}
	}
	return true
}

func (g *stockGate) leave(t gateTicket) {
	g.mu.Lock()
	for _, k := range t.keys {
		q := g.queues[k][1:]
		if len(q) == 0 {
			delete(g.queues, k)
		} else {
			g.queues[k] = q
		}
	}
	g.mu.Unlock()
	g.cond.Broadcast()
}
