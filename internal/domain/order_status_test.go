package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateTransition_AllowsTableEntries(t *testing.T) {
	cases := []struct {
		from OrderStatus
		to   OrderStatus
	}{
		{OrderStatusScheduled, OrderStatusPaymentReported},
		{OrderStatusScheduled, OrderStatusCancelledManual},
		{OrderStatusScheduled, OrderStatusCancelledExpired},
		{OrderStatusPaymentReported, OrderStatusPaymentVerified},
		{OrderStatusPaymentReported, OrderStatusCancelledManual},
		{OrderStatusPaymentVerified, OrderStatusPreparing},
		{OrderStatusPaymentVerified, OrderStatusCancelledManual},
		{OrderStatusPreparing, OrderStatusOutForDelivery},
		{OrderStatusPreparing, OrderStatusShippedAgency},
		{OrderStatusOutForDelivery, OrderStatusDelivered},
		{OrderStatusShippedAgency, OrderStatusDelivered},
	}
	for _, tc := range cases {
		require.NoError(t, ValidateTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestValidateTransition_RejectsWithLegalSet(t *testing.T) {
	err := ValidateTransition(OrderStatusScheduled, OrderStatusDelivered)
	require.Error(t, err)

	var invalid *InvalidTransitionError
	require.True(t, errors.As(err, &invalid))
	require.Equal(t, OrderStatusScheduled, invalid.Current)
	require.Equal(t, []OrderStatus{OrderStatusPaymentReported, OrderStatusCancelledManual, OrderStatusCancelledExpired}, invalid.Allowed)
	require.Contains(t, err.Error(), "PAYMENT_REPORTED, CANCELLED_MANUAL, CANCELLED_EXPIRED")
}

func TestValidateTransition_TerminalStates(t *testing.T) {
	for _, status := range []OrderStatus{OrderStatusDelivered, OrderStatusCancelledManual, OrderStatusCancelledExpired} {
		require.True(t, status.IsTerminal(), status)
		for _, target := range AllOrderStatuses() {
			require.Error(t, ValidateTransition(status, target), "%s -> %s", status, target)
		}
	}
}

func TestValidateTransition_SameStateRejected(t *testing.T) {
	require.Error(t, ValidateTransition(OrderStatusPreparing, OrderStatusPreparing))
}

func TestRestoreStockOnCancel(t *testing.T) {
	require.True(t, RestoreStockOnCancel(OrderStatusScheduled))
	require.True(t, RestoreStockOnCancel(OrderStatusPaymentReported))
	require.False(t, RestoreStockOnCancel(OrderStatusPaymentVerified))
	require.False(t, RestoreStockOnCancel(OrderStatusPreparing))
}

func TestParseOrderStatus(t *testing.T) {
	status, ok := ParseOrderStatus(" payment_verified ")
	require.True(t, ok)
	require.Equal(t, OrderStatusPaymentVerified, status)

	_, ok = ParseOrderStatus("paid")
	require.False(t, ok)
}

func TestFormatSolesAndTotals(t *testing.T) {
	require.Equal(t, int64(8990), CentsFromSoles(89.9))
	require.Equal(t, "S/ 89.90", FormatSoles(8990))

	items := []OrderItemSnapshot{
		{UnitPriceSnapshot: 5000, Quantity: 2},
		{UnitPriceSnapshot: 1250, Quantity: 1},
	}
	subtotal, total := OrderTotals(items, 1500)
	require.Equal(t, int64(11250), subtotal)
	require.Equal(t, int64(12750), total)
}
