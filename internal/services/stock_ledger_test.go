package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	domain "github.com/odera-store/api/internal/domain"
	"github.com/odera-store/api/internal/repositories"
	"github.com/odera-store/api/internal/repositories/memory"
)

func newLedgerFixture(t *testing.T) (*memory.Registry, *StockLedger, *logRecorder) {
	t.Helper()
	reg := memory.NewRegistry(memory.NewStore(memory.WithRetryPolicy(noSleepPolicy(5))))
	seedCatalog(t, reg)
	logs := &logRecorder{}
	ledger, err := NewStockLedger(StockLedgerDeps{
		Products:  reg.Products(),
		Movements: reg.StockMovements(),
		Logger:    logs.Log,
	})
	require.NoError(t, err)
	return reg, ledger, logs
}

func TestStockLedgerReserveWritesStockAndMovements(t *testing.T) {
	reg, ledger, _ := newLedgerFixture(t)
	ctx := context.Background()

	err := reg.RunInTx(ctx, func(txCtx context.Context) error {
		return ledger.Reserve(txCtx, "ord_1", []StockLine{
			{ProductID: "prod_polo", VariantID: "s-black", Quantity: 2},
			{ProductID: "prod_jogger", VariantID: "32-green", Quantity: 1},
			{ProductID: "prod_polo", VariantID: "s-black", Quantity: 1},
		})
	})
	require.NoError(t, err)

	require.Equal(t, 0, variantStock(t, reg, "prod_polo", "s-black"))
	require.Equal(t, 4, variantStock(t, reg, "prod_jogger", "32-green"))

	movements := reg.StockMovementsFor("ord_1")
	require.Len(t, movements, 3)
	require.Equal(t, 3, movements[0].PreviousStock)
	require.Equal(t, 1, movements[0].NewStock)
	require.Equal(t, -2, movements[0].Delta)
	require.Equal(t, 1, movements[2].PreviousStock)
	require.Equal(t, 0, movements[2].NewStock)
	for _, m := range movements {
		require.Equal(t, domain.StockReasonOrderCreated, m.Reason)
	}
}

func TestStockLedgerPrepareReserveFailures(t *testing.T) {
	tests := []struct {
		name  string
		lines []StockLine
		code  repositories.StockErrorCode
	}{
		{
			name:  "insufficient across merged lines",
			lines: []StockLine{{ProductID: "prod_polo", VariantID: "m-black", Quantity: 1}, {ProductID: "prod_polo", VariantID: "m-black", Quantity: 1}},
			code:  repositories.StockErrorInsufficient,
		},
		{
			name:  "missing product",
			lines: []StockLine{{ProductID: "prod_ghost", VariantID: "s", Quantity: 1}},
			code:  repositories.StockErrorProductNotFound,
		},
		{
			name:  "missing variant",
			lines: []StockLine{{ProductID: "prod_polo", VariantID: "xl-white", Quantity: 1}},
			code:  repositories.StockErrorVariantNotFound,
		},
		{
			name:  "inactive product",
			lines: []StockLine{{ProductID: "prod_hidden", VariantID: "l", Quantity: 1}},
			code:  repositories.StockErrorProductInactive,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reg, ledger, _ := newLedgerFixture(t)
			plan, err := ledger.PrepareReserve(context.Background(), "ord_1", tc.lines)
			require.Nil(t, plan)

			var stockErr *repositories.StockError
			require.True(t, errors.As(err, &stockErr))
			require.Equal(t, tc.code, stockErr.Code)
			require.Empty(t, reg.StockMovementsFor("ord_1"))
		})
	}
}

func TestStockLedgerInsufficientReportsAvailability(t *testing.T) {
	_, ledger, _ := newLedgerFixture(t)

	_, err := ledger.PrepareReserve(context.Background(), "ord_1", []StockLine{
		{ProductID: "prod_jogger", VariantID: "32-green", Quantity: 2},
		{ProductID: "prod_polo", VariantID: "s-black", Quantity: 4},
	})
	var stockErr *repositories.StockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, 4, stockErr.Requested)
	require.Equal(t, 3, stockErr.Available)
	require.Contains(t, stockErr.Message, "S/Negro")
}

func TestStockLedgerRestoreSkipsDeletedLines(t *testing.T) {
	reg, ledger, logs := newLedgerFixture(t)
	ctx := context.Background()

	var plan *StockPlan
	err := reg.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		plan, err = ledger.PrepareRestore(txCtx, "ord_2", []StockLine{
			{ProductID: "prod_polo", VariantID: "m-black", Quantity: 2},
			{ProductID: "prod_ghost", VariantID: "s", Quantity: 1},
			{ProductID: "prod_polo", VariantID: "xl-white", Quantity: 1},
			{ProductID: "prod_jogger", VariantID: "32-green", Quantity: 0},
		}, domain.StockReasonOrderExpired)
		if err != nil {
			return err
		}
		return ledger.Commit(txCtx, plan)
	})
	require.NoError(t, err)

	require.Equal(t, 3, variantStock(t, reg, "prod_polo", "m-black"))
	require.Equal(t, 5, variantStock(t, reg, "prod_jogger", "32-green"))
	require.Len(t, plan.Skipped(), 2)
	require.True(t, logs.Has("stock.restore.skipped"))

	movements := reg.StockMovementsFor("ord_2")
	require.Len(t, movements, 1)
	require.Equal(t, domain.StockReasonOrderExpired, movements[0].Reason)
	require.Equal(t, 2, movements[0].Delta)
}

func TestStockLedgerCommitNilPlan(t *testing.T) {
	_, ledger, _ := newLedgerFixture(t)
	require.NoError(t, ledger.Commit(context.Background(), nil))
}
