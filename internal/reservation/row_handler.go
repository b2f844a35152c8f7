package reservation

import (
	"context"
	"errors"
	"fmt"

	"github.com/ChuLiYu/depot-reserve/internal/stock"
	"github.com/ChuLiYu/depot-reserve/pkg/types"
)

// Rejection reasons recorded on ReservationResult.
const (
	ReasonInsufficientStock = "insufficient stock"
	ReasonInvalidLocation   = "invalid location"
	ReasonUnknownProduct    = "unknown product"
	ReasonInvalidQuantity   = "invalid quantity"
	ReasonNoRowHandler      = "configuration error: no row handler accepts row"
)

// RowHandler reserves the requested quantity of one row shape.
type RowHandler interface {
	// Name identifies the handler in logs.
	Name() string
	// Accepts reports whether this handler knows the row's shape.
	Accepts(row types.OrderRow) bool
	// ReserveRow earmarks stock for the row. It never returns an error;
	// business failures are recorded on the result.
	ReserveRow(ctx context.Context, order types.Order, row types.OrderRow) types.ReservationResult
}

// ProductRowHandler reserves rows that name no location against the
// product's unallocated pool.
type ProductRowHandler struct {
	stock stock.Store
}

// NewProductRowHandler creates a handler for location-less rows.
func NewProductRowHandler(s stock.Store) *ProductRowHandler {
	return &ProductRowHandler{stock: s}
}

func (h *ProductRowHandler) Name() string { return "product" }

func (h *ProductRowHandler) Accepts(row types.OrderRow) bool {
	return row.LocationRef == ""
}

func (h *ProductRowHandler) ReserveRow(ctx context.Context, order types.Order, row types.OrderRow) types.ReservationResult {
	return reserveFrom(ctx, h.stock, row, stock.PoolLocation)
}

// ContainerRowHandler reserves rows bound to a storage location
// (pallet, tote or bin).
type ContainerRowHandler struct {
	stock stock.Store
}

// NewContainerRowHandler creates a handler for location-bound rows.
func NewContainerRowHandler(s stock.Store) *ContainerRowHandler {
	return &ContainerRowHandler{stock: s}
}

func (h *ContainerRowHandler) Name() string { return "container" }

func (h *ContainerRowHandler) Accepts(row types.OrderRow) bool {
	return row.LocationRef != ""
}

func (h *ContainerRowHandler) ReserveRow(ctx context.Context, order types.Order, row types.OrderRow) types.ReservationResult {
	return reserveFrom(ctx, h.stock, row, row.LocationRef)
}

// reserveFrom is the shared quantity rule of both handlers.
func reserveFrom(ctx context.Context, s stock.Store, row types.OrderRow, location string) types.ReservationResult {
	result := types.ReservationResult{RowNumber: row.RowNumber}

	if row.RequestedQty <= 0 {
		result.Outcome = types.OutcomeRejected
		result.Reason = ReasonInvalidQuantity
		return result
	}

	n, err := s.Reserve(ctx, row.ProductRef, location, row.RequestedQty)
	switch {
	case errors.Is(err, stock.ErrUnknownLocation):
		result.Outcome = types.OutcomeRejected
		result.Reason = ReasonInvalidLocation
		return result
	case errors.Is(err, stock.ErrUnknownProduct):
		result.Outcome = types.OutcomeRejected
		result.Reason = ReasonUnknownProduct
		return result
	case err != nil:
		result.Outcome = types.OutcomeRejected
		result.Reason = fmt.Sprintf("stock unavailable: %v", err)
		return result
	}

	result.ReservedQty = n
	switch {
	case n == row.RequestedQty:
		result.Outcome = types.OutcomeReserved
	case n > 0:
		result.Outcome = types.OutcomePartial
		result.Reason = ReasonInsufficientStock
	default:
		result.Outcome = types.OutcomeRejected
		result.Reason = ReasonInsufficientStock
	}
	return result
}
