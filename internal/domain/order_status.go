package domain

import (
	"fmt"
	"slices"
	"strings"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusScheduled is the initial state: stock is held until the reservation deadline.
	OrderStatusScheduled OrderStatus = "SCHEDULED"
	// OrderStatusPaymentReported indicates the customer reported a payment that awaits review.
	OrderStatusPaymentReported OrderStatus = "PAYMENT_REPORTED"
	// OrderStatusPaymentVerified indicates an operator confirmed the payment.
	OrderStatusPaymentVerified OrderStatus = "PAYMENT_VERIFIED"
	OrderStatusPreparing       OrderStatus = "PREPARING"
	OrderStatusOutForDelivery  OrderStatus = "OUT_FOR_DELIVERY"
	OrderStatusShippedAgency   OrderStatus = "SHIPPED_AGENCY"
	OrderStatusDelivered       OrderStatus = "DELIVERED"
	// OrderStatusCancelledManual is an operator cancellation.
	OrderStatusCancelledManual OrderStatus = "CANCELLED_MANUAL"
	// OrderStatusCancelledExpired is set by the sweeper once the reservation deadline passes unpaid.
	OrderStatusCancelledExpired OrderStatus = "CANCELLED_EXPIRED"
)

var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusScheduled:        {OrderStatusPaymentReported, OrderStatusCancelledManual, OrderStatusCancelledExpired},
	OrderStatusPaymentReported:  {OrderStatusPaymentVerified, OrderStatusCancelledManual},
	OrderStatusPaymentVerified:  {OrderStatusPreparing, OrderStatusCancelledManual},
	OrderStatusPreparing:        {OrderStatusOutForDelivery, OrderStatusShippedAgency},
	OrderStatusOutForDelivery:   {OrderStatusDelivered},
	OrderStatusShippedAgency:    {OrderStatusDelivered},
	OrderStatusDelivered:        nil,
	OrderStatusCancelledManual:  nil,
	OrderStatusCancelledExpired: nil,
}

// restoreStockOnCancel is consulted only for transitions into CANCELLED_MANUAL.
// Later states may already have physically shipped goods and need operator review.
var restoreStockOnCancel = map[OrderStatus]bool{
	OrderStatusScheduled:       true,
	OrderStatusPaymentReported: true,
}

// AllOrderStatuses lists every known status in lifecycle order.
func AllOrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusScheduled,
		OrderStatusPaymentReported,
		OrderStatusPaymentVerified,
		OrderStatusPreparing,
		OrderStatusOutForDelivery,
		OrderStatusShippedAgency,
		OrderStatusDelivered,
		OrderStatusCancelledManual,
		OrderStatusCancelledExpired,
	}
}

// ParseOrderStatus normalises and validates a status name.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := orderStatusTransitions[status]; !ok {
		return "", false
	}
	return status, true
}

// IsTerminal reports whether no transition leaves the status.
func (s OrderStatus) IsTerminal() bool {
	next, ok := orderStatusTransitions[s]
	return ok && len(next) == 0
}

// IsCancelled reports whether the status is one of the cancellation states.
func (s OrderStatus) IsCancelled() bool {
	return s == OrderStatusCancelledManual || s == OrderStatusCancelledExpired
}

// AllowedTransitions returns a copy of the legal successor set of the status.
func AllowedTransitions(from OrderStatus) []OrderStatus {
	return slices.Clone(orderStatusTransitions[from])
}

// RestoreStockOnCancel reports whether a manual cancellation from the status returns stock to inventory.
func RestoreStockOnCancel(from OrderStatus) bool {
	return restoreStockOnCancel[from]
}

// InvalidTransitionError describes a rejected status change.
type InvalidTransitionError struct {
	Current   OrderStatus
	Requested OrderStatus
	Allowed   []OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("invalid transition %s -> %s: %s is terminal", e.Current, e.Requested, e.Current)
	}
	names := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		names[i] = string(s)
	}
	return fmt.Sprintf("invalid transition %s -> %s: allowed [%s]", e.Current, e.Requested, strings.Join(names, ", "))
}

// ValidateTransition checks a requested status change against the transition table.
// Same-state requests are rejected like any other transition missing from the table.
func ValidateTransition(current, requested OrderStatus) error {
	allowed, known := orderStatusTransitions[current]
	if known && slices.Contains(allowed, requested) {
		return nil
	}
	return &InvalidTransitionError{
		Current:   current,
		Requested: requested,
		Allowed:   slices.Clone(allowed),
	}
}
