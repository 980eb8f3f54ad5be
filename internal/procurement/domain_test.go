package procurement

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReconcileStatus(t *testing.T) {
	items := []PurchaseItem{
		{ID: 1, OrderedQty: 10},
		{ID: 2, OrderedQty: 4},
	}

	require.Equal(t, StatusOrdered, ReconcileStatus(items, nil))

	partial := []ReceivedStock{{ItemID: 1, Qty: 10}}
	require.Equal(t, StatusReceivedPartial, ReconcileStatus(items, partial))

	full := append(partial, ReceivedStock{ItemID: 2, Qty: 4})
	require.Equal(t, StatusCompleted, ReconcileStatus(items, full))
}

func TestReconcileStatusFloatAccumulation(t *testing.T) {
	// Ten receipts of 0.1 must satisfy an ordered quantity of 1.0 even
	// though the binary sum lands slightly under it.
	items := []PurchaseItem{{ID: 1, OrderedQty: 1.0}}
	var receipts []ReceivedStock
	for i := 0; i < 10; i++ {
		receipts = append(receipts, ReceivedStock{ItemID: 1, Qty: 0.1})
	}
	require.Equal(t, StatusCompleted, ReconcileStatus(items, receipts))
}

func TestTerminal(t *testing.T) {
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusCancelled.Terminal())
	require.False(t, StatusDraft.Terminal())
	require.False(t, StatusOrdered.Terminal())
	require.False(t, StatusReceivedPartial.Terminal())
}
