package inventory_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospital-backoffice/backoffice/internal/inventory"
	"github.com/hospital-backoffice/backoffice/internal/shared"
	"github.com/hospital-backoffice/backoffice/internal/store/memory"
)

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

func newService(t *testing.T) (*inventory.Service, *memory.Store, *recordingAudit) {
	t.Helper()
	store := memory.New()
	audit := &recordingAudit{}
	svc := inventory.NewService(store.Inventory(), audit, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, store, audit
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func createItem(t *testing.T, svc *inventory.Service, kind inventory.ItemKind, price string, opening int64) inventory.Item {
	t.Helper()
	item, err := svc.CreateItem(context.Background(), inventory.NewItemInput{
		Kind:          kind,
		Name:          string(kind) + " item",
		PurchasePrice: dec(price),
		SellingPrice:  dec(price).Mul(decimal.NewFromInt(2)),
		MinStock:      2,
		OpeningStock:  opening,
	})
	require.NoError(t, err)
	return item
}

func assertConsistent(t *testing.T, svc *inventory.Service) {
	t.Helper()
	drift, err := svc.VerifyAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, drift)
}

func TestWeightedAverage(t *testing.T) {
	cases := []struct {
		name   string
		oldAvg string
		oldQty int64
		cost   string
		qty    int64
		want   string
	}{
		{"blend", "100", 2, "120", 3, "112"},
		{"empty shelf takes incoming cost", "100", 0, "90", 4, "90"},
		{"negative stock treated as empty", "100", -3, "80", 1, "80"},
		{"rounds to cents", "10", 1, "10.01", 2, "10.01"},
		{"zero total falls back to cost", "50", 0, "70", 0, "70"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := inventory.WeightedAverage(dec(tc.oldAvg), tc.oldQty, dec(tc.cost), tc.qty)
			assert.True(t, got.Equal(dec(tc.want)), "got %s want %s", got, tc.want)
		})
	}
}

func TestCreateItemBooksOpeningStock(t *testing.T) {
	svc, _, audit := newService(t)
	ctx := context.Background()

	item := createItem(t, svc, inventory.KindLens, "40", 6)
	assert.EqualValues(t, 6, item.Stock)
	assert.Contains(t, item.Code, "LNS-")

	card, err := svc.StockCard(ctx, item.Ref, 0)
	require.NoError(t, err)
	require.Len(t, card, 1)
	assert.Equal(t, inventory.MovementAdjustment, card[0].Type)
	assert.EqualValues(t, 0, card[0].PreviousStock)
	assert.EqualValues(t, 6, card[0].NewStock)
	assert.True(t, card[0].TotalAmount.Equal(dec("240")))
	assertConsistent(t, svc)
	assert.Empty(t, audit.actions())
}

func TestCreateItemValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateItem(ctx, inventory.NewItemInput{Kind: "monocle", Name: "x"})
	assert.ErrorIs(t, err, inventory.ErrInvalidLineItem)

	_, err = svc.CreateItem(ctx, inventory.NewItemInput{Kind: inventory.KindFrame, Name: "  "})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateItem(ctx, inventory.NewItemInput{Kind: inventory.KindFrame, Name: "x", PurchasePrice: dec("-1")})
	assert.ErrorIs(t, err, inventory.ErrInvalidPrice)

	_, err = svc.CreateItem(ctx, inventory.NewItemInput{Kind: inventory.KindFrame, Name: "x", OpeningStock: -1})
	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)
}

func TestRecordPurchaseAveragesFramesOnly(t *testing.T) {
	svc, _, audit := newService(t)
	ctx := context.Background()
	frame := createItem(t, svc, inventory.KindFrame, "100", 2)
	lens := createItem(t, svc, inventory.KindLens, "100", 2)

	for _, ref := range []inventory.ItemRef{frame.Ref, lens.Ref} {
		m, err := svc.Record(ctx, inventory.RecordInput{
			Item:      ref,
			Type:      inventory.MovementPurchase,
			Quantity:  3,
			UnitPrice: dec("120"),
			Source:    shared.Source(shared.SourcePurchase, 1),
		})
		require.NoError(t, err)
		assert.EqualValues(t, 2, m.PreviousStock)
		assert.EqualValues(t, 5, m.NewStock)
		assert.True(t, m.TotalAmount.Equal(dec("360")))
	}

	got, err := svc.Resolve(ctx, frame.Ref)
	require.NoError(t, err)
	assert.True(t, got.PurchasePrice.Equal(dec("112")), got.PurchasePrice.String())

	got, err = svc.Resolve(ctx, lens.Ref)
	require.NoError(t, err)
	assert.True(t, got.PurchasePrice.Equal(dec("120")), got.PurchasePrice.String())

	assert.Equal(t, []string{"inventory:purchase", "inventory:purchase"}, audit.actions())
	assertConsistent(t, svc)
}

func TestRecordRejectsWrongSigns(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	item := createItem(t, svc, inventory.KindFrame, "10", 5)

	cases := []inventory.RecordInput{
		{Item: item.Ref, Type: inventory.MovementPurchase, Quantity: -1},
		{Item: item.Ref, Type: inventory.MovementSale, Quantity: 1},
		{Item: item.Ref, Type: inventory.MovementAdjustment, Quantity: 0},
	}
	for _, input := range cases {
		_, err := svc.Record(ctx, input)
		assert.ErrorIs(t, err, inventory.ErrInvalidQuantity, input.Type)
	}

	_, err := svc.Record(ctx, inventory.RecordInput{Item: item.Ref, Type: "transfer", Quantity: 1})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestSaleBeyondStockIsRefused(t *testing.T) {
	svc, _, audit := newService(t)
	ctx := context.Background()
	item := createItem(t, svc, inventory.KindCompleteGlasses, "300", 1)

	_, err := svc.Record(ctx, inventory.RecordInput{
		Item:     item.Ref,
		Type:     inventory.MovementSale,
		Quantity: -2,
		Source:   shared.Source(shared.SourceSale, 9),
	})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.ErrorIs(t, err, shared.ErrConflict)
	short, ok := inventory.AsInsufficientStock(err)
	require.True(t, ok)
	assert.Equal(t, item.Name, short.Name)
	assert.EqualValues(t, 1, short.Available)
	assert.EqualValues(t, 2, short.Requested)

	got, err := svc.Resolve(ctx, item.Ref)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.Stock)
	assert.Empty(t, audit.actions())
	assertConsistent(t, svc)
}

func TestRecordOnUnknownOrInactiveItem(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Record(ctx, inventory.RecordInput{Item: inventory.Lens(77), Type: inventory.MovementAdjustment, Quantity: 1})
	assert.ErrorIs(t, err, inventory.ErrInvalidLineItem)
	assert.ErrorIs(t, err, shared.ErrRejected)

	item := createItem(t, svc, inventory.KindLens, "10", 1)
	outcome, err := svc.DeleteItem(ctx, item.Ref, 1)
	require.NoError(t, err)
	require.Equal(t, inventory.DeletedSoft, outcome)

	_, err = svc.Record(ctx, inventory.RecordInput{Item: item.Ref, Type: inventory.MovementAdjustment, Quantity: 1})
	assert.ErrorIs(t, err, inventory.ErrInvalidLineItem)
}

func TestRevertSourceRestoresStock(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	frame := createItem(t, svc, inventory.KindFrame, "100", 4)
	lens := createItem(t, svc, inventory.KindLens, "50", 4)
	src := shared.Source(shared.SourceSale, 3)

	for _, ref := range []inventory.ItemRef{frame.Ref, lens.Ref} {
		_, err := svc.Record(ctx, inventory.RecordInput{Item: ref, Type: inventory.MovementSale, Quantity: -3, Source: src})
		require.NoError(t, err)
	}

	removed, err := svc.RevertSource(ctx, src, 1)
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	for _, ref := range []inventory.ItemRef{frame.Ref, lens.Ref} {
		got, err := svc.Resolve(ctx, ref)
		require.NoError(t, err)
		assert.EqualValues(t, 4, got.Stock)
	}
	left, err := svc.MovementsBySource(ctx, src)
	require.NoError(t, err)
	assert.Empty(t, left)
	assertConsistent(t, svc)

	_, err = svc.RevertSource(ctx, shared.SourceRef{}, 1)
	assert.Error(t, err)
}

func TestRevertPurchaseOnlyTouchesPurchases(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	item := createItem(t, svc, inventory.KindFrame, "100", 0)

	purchase, err := svc.Record(ctx, inventory.RecordInput{
		Item: item.Ref, Type: inventory.MovementPurchase, Quantity: 5, UnitPrice: dec("80"),
		Source: shared.Source(shared.SourcePurchase, 1),
	})
	require.NoError(t, err)
	sale, err := svc.Record(ctx, inventory.RecordInput{Item: item.Ref, Type: inventory.MovementSale, Quantity: -4})
	require.NoError(t, err)

	_, err = svc.RevertPurchase(ctx, sale.ID, 1)
	assert.ErrorIs(t, err, inventory.ErrNotPurchaseMovement)

	// Only one unit is left, so taking the purchase back would go negative.
	_, err = svc.RevertPurchase(ctx, purchase.ID, 1)
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)

	_, err = svc.Record(ctx, inventory.RecordInput{Item: item.Ref, Type: inventory.MovementAdjustment, Quantity: 4})
	require.NoError(t, err)
	_, err = svc.RevertPurchase(ctx, purchase.ID, 1)
	require.NoError(t, err)

	got, err := svc.Resolve(ctx, item.Ref)
	require.NoError(t, err)
	assert.EqualValues(t, 0, got.Stock)
	_, err = svc.Movement(ctx, purchase.ID)
	assert.ErrorIs(t, err, inventory.ErrMovementNotFound)
	assertConsistent(t, svc)
}

func TestEditPurchaseSameItem(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	item := createItem(t, svc, inventory.KindLens, "20", 1)
	m, err := svc.Record(ctx, inventory.RecordInput{Item: item.Ref, Type: inventory.MovementPurchase, Quantity: 5, UnitPrice: dec("20")})
	require.NoError(t, err)

	note := "recount"
	edit, err := svc.EditPurchase(ctx, m.ID, inventory.EditPurchaseInput{Item: item.Ref, Quantity: 2, UnitPrice: dec("25"), Note: &note})
	require.NoError(t, err)
	assert.EqualValues(t, 5, edit.Before.Quantity)
	assert.EqualValues(t, 2, edit.After.Quantity)
	assert.EqualValues(t, 1, edit.After.PreviousStock)
	assert.EqualValues(t, 3, edit.After.NewStock)
	assert.True(t, edit.After.TotalAmount.Equal(dec("50")))
	assert.Equal(t, "recount", edit.After.Note)
	assertConsistent(t, svc)
}

func TestEditPurchaseRepricesSameItem(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	frame := createItem(t, svc, inventory.KindFrame, "100", 2)
	m, err := svc.Record(ctx, inventory.RecordInput{Item: frame.Ref, Type: inventory.MovementPurchase, Quantity: 3, UnitPrice: dec("120")})
	require.NoError(t, err)
	got, err := svc.Resolve(ctx, frame.Ref)
	require.NoError(t, err)
	require.True(t, got.PurchasePrice.Equal(dec("112")), got.PurchasePrice.String())

	_, err = svc.EditPurchase(ctx, m.ID, inventory.EditPurchaseInput{Item: frame.Ref, Quantity: 3, UnitPrice: dec("150")})
	require.NoError(t, err)
	got, err = svc.Resolve(ctx, frame.Ref)
	require.NoError(t, err)
	assert.EqualValues(t, 5, got.Stock)
	assert.True(t, got.PurchasePrice.Equal(dec("130")), got.PurchasePrice.String())

	_, err = svc.EditPurchase(ctx, m.ID, inventory.EditPurchaseInput{Item: frame.Ref, Quantity: 2, UnitPrice: dec("150")})
	require.NoError(t, err)
	got, err = svc.Resolve(ctx, frame.Ref)
	require.NoError(t, err)
	assert.EqualValues(t, 4, got.Stock)
	assert.True(t, got.PurchasePrice.Equal(dec("125")), got.PurchasePrice.String())

	lens := createItem(t, svc, inventory.KindLens, "20", 1)
	lm, err := svc.Record(ctx, inventory.RecordInput{Item: lens.Ref, Type: inventory.MovementPurchase, Quantity: 2, UnitPrice: dec("20")})
	require.NoError(t, err)
	_, err = svc.EditPurchase(ctx, lm.ID, inventory.EditPurchaseInput{Item: lens.Ref, Quantity: 2, UnitPrice: dec("24")})
	require.NoError(t, err)
	got, err = svc.Resolve(ctx, lens.Ref)
	require.NoError(t, err)
	assert.True(t, got.PurchasePrice.Equal(dec("24")), got.PurchasePrice.String())
	assertConsistent(t, svc)
}

func TestWithdrawAverage(t *testing.T) {
	assert.True(t, inventory.WithdrawAverage(dec("112"), 5, dec("120"), 3).Equal(dec("100")))
	assert.True(t, inventory.WithdrawAverage(dec("112"), 3, dec("120"), 3).Equal(dec("112")))
	assert.True(t, inventory.WithdrawAverage(dec("10"), 5, dec("100"), 1).Equal(dec("10")))
}

func TestEditPurchaseMovesToAnotherItem(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	from := createItem(t, svc, inventory.KindFrame, "100", 0)
	to := createItem(t, svc, inventory.KindFrame, "100", 1)
	m, err := svc.Record(ctx, inventory.RecordInput{Item: from.Ref, Type: inventory.MovementPurchase, Quantity: 3, UnitPrice: dec("100")})
	require.NoError(t, err)

	_, err = svc.EditPurchase(ctx, m.ID, inventory.EditPurchaseInput{Item: to.Ref, Quantity: 3, UnitPrice: dec("200")})
	require.NoError(t, err)

	got, err := svc.Resolve(ctx, from.Ref)
	require.NoError(t, err)
	assert.EqualValues(t, 0, got.Stock)
	got, err = svc.Resolve(ctx, to.Ref)
	require.NoError(t, err)
	assert.EqualValues(t, 4, got.Stock)
	assert.True(t, got.PurchasePrice.Equal(dec("175")), got.PurchasePrice.String())
	assertConsistent(t, svc)
}

func TestEditPurchaseFailureLeavesStockUntouched(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	item := createItem(t, svc, inventory.KindFrame, "100", 0)
	m, err := svc.Record(ctx, inventory.RecordInput{Item: item.Ref, Type: inventory.MovementPurchase, Quantity: 5, UnitPrice: dec("100")})
	require.NoError(t, err)
	_, err = svc.Record(ctx, inventory.RecordInput{Item: item.Ref, Type: inventory.MovementSale, Quantity: -4})
	require.NoError(t, err)

	_, err = svc.EditPurchase(ctx, m.ID, inventory.EditPurchaseInput{Item: item.Ref, Quantity: 2, UnitPrice: dec("100")})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	got, err := svc.Resolve(ctx, item.Ref)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.Stock)
	unchanged, err := svc.Movement(ctx, m.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, unchanged.Quantity)
	assertConsistent(t, svc)
}

func TestDeleteItemOutcomes(t *testing.T) {
	svc, _, audit := newService(t)
	ctx := context.Background()

	fresh := createItem(t, svc, inventory.KindLens, "10", 0)
	outcome, err := svc.DeleteItem(ctx, fresh.Ref, 1)
	require.NoError(t, err)
	assert.Equal(t, inventory.DeletedHard, outcome)
	_, err = svc.Resolve(ctx, fresh.Ref)
	assert.ErrorIs(t, err, inventory.ErrItemNotFound)

	stocked := createItem(t, svc, inventory.KindLens, "10", 3)
	outcome, err = svc.DeleteItem(ctx, stocked.Ref, 1)
	require.NoError(t, err)
	assert.Equal(t, inventory.DeletedSoft, outcome)

	for _, kind := range inventory.Kinds {
		sold := createItem(t, svc, kind, "10", 3)
		_, err = svc.Record(ctx, inventory.RecordInput{Item: sold.Ref, Type: inventory.MovementSale, Quantity: -1})
		require.NoError(t, err)
		_, err = svc.DeleteItem(ctx, sold.Ref, 1)
		assert.ErrorIs(t, err, inventory.ErrDeletionBlocked, kind)
	}

	assert.Contains(t, audit.actions(), "inventory:delete_item")
}

func TestLowStockAndVerify(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	low := createItem(t, svc, inventory.KindFrame, "10", 2)
	createItem(t, svc, inventory.KindFrame, "10", 9)

	list, err := svc.LowStock(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, low.Ref, list[0].Ref)

	d, err := svc.Verify(ctx, low.Ref)
	require.NoError(t, err)
	assert.Nil(t, d)

	_, err = store.Inventory().ApplyStockDelta(ctx, low.Ref, 5, nil)
	require.NoError(t, err)
	d, err = svc.Verify(ctx, low.Ref)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.EqualValues(t, 7, d.Stock)
	assert.EqualValues(t, 2, d.LedgerSum)
}

func TestParseItemRef(t *testing.T) {
	ref, err := inventory.ParseItemRef("complete_glasses", 4)
	require.NoError(t, err)
	assert.Equal(t, inventory.CompleteGlasses(4), ref)
	assert.Equal(t, "complete_glasses#4", ref.String())

	_, err = inventory.ParseItemRef("frame", 0)
	assert.True(t, errors.Is(err, inventory.ErrInvalidLineItem))
}
