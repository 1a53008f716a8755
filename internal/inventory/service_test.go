package inventory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	balances map[string]Balance
	lots     map[string]Lot
	codes    map[string]int64
	cards    []StockCardEntry
	nextID   int64
	failCard error
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{balances: make(map[string]Balance), lots: make(map[string]Lot), codes: make(map[string]int64)}
}

func key(warehouseID, productID int64) string {
	return fmt.Sprintf("%d:%d", warehouseID, productID)
}

// WithTx rolls every map back when fn fails.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	balances := copyMap(r.balances)
	lots := copyMap(r.lots)
	codes := copyMap(r.codes)
	cards := len(r.cards)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.balances, r.lots, r.codes, r.cards = balances, lots, codes, r.cards[:cards]
		return err
	}
	return nil
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (r *memoryRepo) GetStockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error) {
	result := make([]StockCardEntry, len(r.cards))
	copy(result, r.cards)
	return result, nil
}

func (tx *memoryTx) InsertTransaction(ctx context.Context, t Transaction) (int64, error) {
	if _, ok := tx.repo.codes[t.Code]; ok {
		return 0, ErrDuplicateCode
	}
	tx.repo.nextID++
	tx.repo.codes[t.Code] = tx.repo.nextID
	return tx.repo.nextID, nil
}

func (tx *memoryTx) InsertTransactionLines(ctx context.Context, txID int64, lines []TransactionLine) error {
	return nil
}

func (tx *memoryTx) GetBalanceForUpdate(ctx context.Context, warehouseID, productID int64) (Balance, error) {
	if bal, ok := tx.repo.balances[key(warehouseID, productID)]; ok {
		return bal, nil
	}
	return Balance{WarehouseID: warehouseID, ProductID: productID}, ErrBalanceNotFound
}

func (tx *memoryTx) UpsertBalance(ctx context.Context, balance Balance) error {
	tx.repo.balances[key(balance.WarehouseID, balance.ProductID)] = balance
	return nil
}

func (tx *memoryTx) AddToLot(ctx context.Context, lot Lot) error {
	k := key(lot.WarehouseID, lot.ProductID) + ":" + lot.LotNumber
	if cur, ok := tx.repo.lots[k]; ok {
		lot.Qty = lot.Qty.Add(cur.Qty)
	}
	tx.repo.lots[k] = lot
	return nil
}

func (tx *memoryTx) InsertCardEntry(ctx context.Context, card StockCardEntry, warehouseID, productID int64, txID int64) error {
	if tx.repo.failCard != nil {
		return tx.repo.failCard
	}
	tx.repo.cards = append(tx.repo.cards, card)
	return nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestAverageMovingCost(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	entry, err := svc.PostInbound(ctx, InboundInput{WarehouseID: 1, ProductID: 1, Qty: d("10"), UnitCost: d("100000"), Note: "BL#1"})
	require.NoError(t, err)
	require.True(t, entry.BalanceQty.Equal(d("10")))
	require.True(t, entry.BalanceCost.Equal(d("100000")))

	entry, err = svc.PostInbound(ctx, InboundInput{WarehouseID: 1, ProductID: 1, Qty: d("5"), UnitCost: d("120000"), Note: "BL#2"})
	require.NoError(t, err)
	require.True(t, entry.BalanceQty.Equal(d("15")))
	require.True(t, entry.BalanceCost.Equal(d("106666.666667")), entry.BalanceCost.String())

	cards, err := svc.GetStockCard(ctx, StockCardFilter{WarehouseID: 1, ProductID: 1})
	require.NoError(t, err)
	require.Len(t, cards, 2)
}

func TestInboundAccumulatesLots(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()
	expiry := time.Date(2028, 5, 31, 0, 0, 0, 0, time.UTC)

	for _, qty := range []string{"4", "6.5"} {
		_, err := svc.PostInbound(ctx, InboundInput{WarehouseID: 2, ProductID: 9, Qty: d(qty), UnitCost: d("10"), LotNumber: "LOT-A", ExpiryDate: &expiry})
		require.NoError(t, err)
	}
	lot := repo.lots[key(2, 9)+":LOT-A"]
	require.True(t, lot.Qty.Equal(d("10.5")))
	require.Equal(t, expiry, *lot.ExpiryDate)
}

func TestInboundIsIdempotentPerCode(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()
	ref := uuid.NewSHA1(uuid.Nil, []byte("RECEPTION:1:2")).String()
	input := InboundInput{Code: "REC-1-2", WarehouseID: 1, ProductID: 3, Qty: d("2"), UnitCost: d("5"), RefModule: "RECEPTION", RefID: ref}

	_, err := svc.PostInbound(ctx, input)
	require.NoError(t, err)
	_, err = svc.PostInbound(ctx, input)
	require.ErrorIs(t, err, ErrAlreadyPosted)
	require.True(t, repo.balances[key(1, 3)].Qty.Equal(d("2")))
	require.Len(t, repo.cards, 1)
}

func TestInboundFailureRollsBackAndRetries(t *testing.T) {
	repo := newMemoryRepo()
	repo.failCard = errors.New("disk full")
	svc := NewService(repo, nil)
	ctx := context.Background()
	input := InboundInput{Code: "REC-7", WarehouseID: 1, ProductID: 3, Qty: d("1"), UnitCost: d("5"), LotNumber: "L1"}

	_, err := svc.PostInbound(ctx, input)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrAlreadyPosted)
	require.Empty(t, repo.codes)
	require.Empty(t, repo.balances)
	require.Empty(t, repo.lots)

	repo.failCard = nil
	entry, err := svc.PostInbound(ctx, input)
	require.NoError(t, err)
	require.True(t, entry.BalanceQty.Equal(d("1")))
	require.Contains(t, repo.codes, "REC-7")
}

func TestInboundWithoutCodeGetsUniqueCode(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()
	input := InboundInput{WarehouseID: 1, ProductID: 3, Qty: d("1"), UnitCost: d("5")}

	first, err := svc.PostInbound(ctx, input)
	require.NoError(t, err)
	second, err := svc.PostInbound(ctx, input)
	require.NoError(t, err)
	require.NotEqual(t, first.TxCode, second.TxCode)
	require.True(t, second.BalanceQty.Equal(d("2")))
}

func TestInboundRejectsInvalidInput(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	ctx := context.Background()

	_, err := svc.PostInbound(ctx, InboundInput{WarehouseID: 1, ProductID: 1, Qty: decimal.Zero})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = svc.PostInbound(ctx, InboundInput{WarehouseID: 1, ProductID: 1, Qty: d("1"), UnitCost: d("-1")})
	require.ErrorIs(t, err, ErrInvalidUnitCost)
	_, err = svc.PostInbound(ctx, InboundInput{WarehouseID: 1, ProductID: 1, Qty: d("1"), RefID: "not-a-uuid"})
	require.Error(t, err)
}
