//go:build integration

package store_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/safar/marketplace-core/internal/database"
	"github.com/safar/marketplace-core/internal/ledger"
	"github.com/safar/marketplace-core/internal/models"
	"github.com/safar/marketplace-core/internal/store"
	"github.com/safar/marketplace-core/internal/testutil"
)

// walk follows next cursors until the last page and returns every id seen
// and the number of pages read.
func walk(t *testing.T, fetch func(cursor string) (*store.CursorPage, []int64)) ([]int64, int) {
	t.Helper()
	var (
		ids    []int64
		cursor string
		pages  int
	)
	for {
		page, got := fetch(cursor)
		pages++
		ids = append(ids, got...)
		if !page.HasMore {
			assert.Empty(t, page.NextCursor, "last page has no next cursor")
			return ids, pages
		}
		require.NotEmpty(t, page.NextCursor)
		require.Less(t, pages, 10, "cursor does not advance")
		cursor = page.NextCursor
	}
}

func assertDescendingUnique(t *testing.T, ids []int64, want int) {
	t.Helper()
	require.Len(t, ids, want)
	seen := make(map[int64]bool)
	for i, id := range ids {
		assert.False(t, seen[id], "id %d returned twice", id)
		seen[id] = true
		if i > 0 {
			assert.Less(t, id, ids[i-1], "ids out of order")
		}
	}
}

func TestWalletTransactionsCursor(t *testing.T) {
	db := testutil.NewDB(t)
	l := ledger.New(db, zap.NewNop(), nil)
	ctx := context.Background()

	_, wallet := testutil.Merchant(t, db, "0")
	_, other := testutil.Merchant(t, db, "0")

	credit := func(tx *sql.Tx, walletID int64) error {
		_, err := l.Credit(ctx, tx, ledger.Posting{WalletID: walletID, Amount: decimal.NewFromInt(1), Type: models.TxSaleCredit})
		return err
	}

	// rows written in one transaction share created_at
	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		for i := 0; i < 3; i++ {
			if err := credit(tx, wallet.ID); err != nil {
				return err
			}
		}
		return credit(tx, other.ID)
	})
	require.NoError(t, err)
	err = database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		return credit(tx, wallet.ID)
	})
	require.NoError(t, err)

	tests := []struct {
		limit int
		pages int
	}{
		{limit: 3, pages: 2},
		{limit: 2, pages: 2},
		{limit: 4, pages: 1},
		{limit: 1, pages: 4},
	}
	for _, tt := range tests {
		ids, pages := walk(t, func(cursor string) (*store.CursorPage, []int64) {
			page, err := store.ListWalletTransactionsCursor(ctx, db, wallet.ID, cursor, tt.limit)
			require.NoError(t, err)
			items, ok := page.Items.([]models.WalletTransaction)
			require.True(t, ok || page.Items == nil)
			assert.LessOrEqual(t, len(items), tt.limit)

			var ids []int64
			for _, item := range items {
				assert.Equal(t, wallet.ID, item.WalletID)
				ids = append(ids, item.ID)
			}
			return page, ids
		})
		assert.Equal(t, tt.pages, pages, "limit %d", tt.limit)
		assertDescendingUnique(t, ids, 4)
	}
}

func TestOrdersCursor(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()

	user := testutil.User(t, db)
	stranger := testutil.User(t, db)

	insert := func(tx *sql.Tx, userID int64) error {
		return store.InsertOrder(ctx, tx, &models.Order{
			UserID:        userID,
			TotalAmount:   decimal.NewFromInt(10),
			PaymentMethod: models.PaymentMethodCash,
		})
	}

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		for i := 0; i < 2; i++ {
			if err := insert(tx, user.ID); err != nil {
				return err
			}
		}
		return insert(tx, stranger.ID)
	})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
			return insert(tx, user.ID)
		})
		require.NoError(t, err)
	}

	ids, pages := walk(t, func(cursor string) (*store.CursorPage, []int64) {
		page, err := store.ListOrdersCursor(ctx, db, user.ID, cursor, 3)
		require.NoError(t, err)
		orders, ok := page.Items.([]models.Order)
		require.True(t, ok || page.Items == nil)

		var ids []int64
		for _, o := range orders {
			assert.Equal(t, user.ID, o.UserID)
			ids = append(ids, o.ID)
		}
		return page, ids
	})
	assert.Equal(t, 2, pages)
	assertDescendingUnique(t, ids, 4)

	empty, err := store.ListOrdersCursor(ctx, db, testutil.User(t, db).ID, "", 3)
	require.NoError(t, err)
	assert.False(t, empty.HasMore)
	assert.Empty(t, empty.NextCursor)
}
