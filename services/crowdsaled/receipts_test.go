package crowdsaled

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"tokensale/config"
)

func TestReceiptStoreRecordAndList(t *testing.T) {
	store := NewReceiptStore(openTestReceipts(t))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := base
	store.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	ctx := context.Background()

	first := &Receipt{Kind: ReceiptPurchase, Account: buyerA.Hex(), Spent: "20"}
	require.NoError(t, store.Record(ctx, first))
	require.NotEqual(t, uuid.Nil, first.ID)
	require.NoError(t, store.Record(ctx, &Receipt{Kind: ReceiptRefund, Account: buyerA.Hex(), Refunded: "20"}))
	require.NoError(t, store.Record(ctx, &Receipt{Kind: ReceiptPurchase, Account: buyerB.Hex()}))

	got, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, "20", got.Spent)

	_, err = store.Get(ctx, uuid.New())
	require.ErrorIs(t, err, ErrReceiptNotFound)

	list, err := store.ListByAccount(ctx, buyerA, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, ReceiptPurchase, list[0].Kind)
	require.Equal(t, ReceiptRefund, list[1].Kind)

	list, err = store.ListByAccount(ctx, buyerA, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestReceiptStoreOutbox(t *testing.T) {
	store := NewReceiptStore(openTestReceipts(t))
	ctx := context.Background()
	key := payoutKey(payoutKindRefund, buyerA)

	require.Error(t, store.Queue(ctx, key, buyerA, big.NewInt(0)))
	require.Error(t, store.Queue(ctx, key, buyerA, nil))
	require.Error(t, store.Queue(ctx, "", buyerA, big.NewInt(42)))
	require.NoError(t, store.Queue(ctx, key, buyerA, big.NewInt(42)))

	pending, err := store.Payouts(ctx, PayoutPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "42", pending[0].AmountWei)
	require.Equal(t, buyerA.Hex(), pending[0].Recipient)
	require.Equal(t, key, pending[0].IdempotencyKey)

	require.NoError(t, store.MarkSettled(ctx, pending[0].ID))
	require.ErrorIs(t, store.MarkSettled(ctx, pending[0].ID), ErrPayoutNotPending)
	require.ErrorIs(t, store.MarkSettled(ctx, uuid.New()), ErrPayoutNotPending)

	all, err := store.Payouts(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, PayoutSettled, all[0].Status)
}

func TestReceiptStoreQueueIsIdempotent(t *testing.T) {
	store := NewReceiptStore(openTestReceipts(t))
	ctx := context.Background()
	key := payoutKey(payoutKindForward, testWallet)

	require.NoError(t, store.Queue(ctx, key, testWallet, big.NewInt(150)))
	require.NoError(t, store.Queue(ctx, key, testWallet, big.NewInt(150)), "same transfer converges")
	require.ErrorIs(t, store.Queue(ctx, key, testWallet, big.NewInt(151)), ErrPayoutConflict)
	require.ErrorIs(t, store.Queue(ctx, key, buyerA, big.NewInt(150)), ErrPayoutConflict)
	require.NoError(t, store.Queue(ctx, payoutKey(payoutKindRefund, testWallet), testWallet, big.NewInt(150)))

	all, err := store.Payouts(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestPayoutSinkRequiresKey(t *testing.T) {
	store := NewReceiptStore(openTestReceipts(t))
	sink := &payoutSink{store: store}

	require.Error(t, sink.Send(buyerA, big.NewInt(1)))
	sink.key = payoutKey(payoutKindRefund, buyerA)
	require.NoError(t, sink.Send(buyerA, big.NewInt(1)))
	require.NoError(t, sink.Send(buyerA, big.NewInt(1)))

	all, err := store.Payouts(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestOpenReceiptsDBRejectsUnknownDriver(t *testing.T) {
	_, err := OpenReceiptsDB(config.Receipts{Driver: "oracle", DSN: "x"})
	require.ErrorContains(t, err, "unsupported receipts driver")
}

func TestOpenReceiptsDBCreatesDirectory(t *testing.T) {
	dsn := t.TempDir() + "/nested/receipts.db"
	db, err := OpenReceiptsDB(config.Receipts{Driver: config.DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
}
