package sales_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospital-backoffice/backoffice/internal/accounts"
	"github.com/hospital-backoffice/backoffice/internal/directory"
	"github.com/hospital-backoffice/backoffice/internal/inventory"
	"github.com/hospital-backoffice/backoffice/internal/sales"
	"github.com/hospital-backoffice/backoffice/internal/shared"
	"github.com/hospital-backoffice/backoffice/internal/store/memory"
)

type fixture struct {
	store        *memory.Store
	stock        *inventory.Service
	shop         *accounts.ShopLedger
	consolidated *accounts.ConsolidatedLedger
	svc          *sales.Service
	frame        inventory.Item
	lens         inventory.Item
	cash         directory.PaymentMethod
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	audit := shared.SlogAudit{Logger: logger}
	f := &fixture{store: store}
	f.stock = inventory.NewService(store.Inventory(), audit, logger)
	f.shop = accounts.NewShopLedger(store.Accounts(), nil, logger)
	f.consolidated = accounts.NewConsolidatedLedger(store.Accounts(), nil, logger, true)
	f.svc = sales.NewService(store.Sales(), sales.Deps{
		Stock:        f.stock,
		Shop:         f.shop,
		Consolidated: f.consolidated,
		Directory:    store,
		Idempotency:  store,
		Audit:        audit,
		Logger:       logger,
	})
	f.cash = store.AddPaymentMethod(directory.PaymentMethod{Name: "Cash"})

	ctx := context.Background()
	var err error
	f.frame, err = f.stock.CreateItem(ctx, inventory.NewItemInput{
		Kind: inventory.KindFrame, Name: "Aviator", PurchasePrice: dec("100"), SellingPrice: dec("250"), OpeningStock: 2,
	})
	require.NoError(t, err)
	f.lens, err = f.stock.CreateItem(ctx, inventory.NewItemInput{
		Kind: inventory.KindLens, Name: "Blue Cut 1.56", PurchasePrice: dec("60"), SellingPrice: dec("150"), OpeningStock: 4,
	})
	require.NoError(t, err)
	return f
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func (f *fixture) input(advance string) sales.Input {
	return sales.Input{
		Customer: sales.CustomerInput{Name: "Budi"},
		Lines: []sales.LineInput{
			{Item: f.frame.Ref, Quantity: 1},
			{Item: f.lens.Ref, Quantity: 2},
		},
		FittingCharge:   dec("50"),
		Discount:        dec("25"),
		Advance:         dec(advance),
		PaymentMethodID: f.cash.ID,
		ActorID:         7,
	}
}

func (f *fixture) stockOf(t *testing.T, ref inventory.ItemRef) int64 {
	t.Helper()
	h, err := f.stock.Resolve(context.Background(), ref)
	require.NoError(t, err)
	return h.Stock
}

func (f *fixture) totals(t *testing.T) (shop, consolidated accounts.Totals) {
	t.Helper()
	ctx := context.Background()
	shop, err := f.shop.Balance(ctx)
	require.NoError(t, err)
	consolidated, err = f.consolidated.Balance(ctx)
	require.NoError(t, err)
	return shop, consolidated
}

func (f *fixture) assertConsistent(t *testing.T) {
	t.Helper()
	drift, err := f.stock.VerifyAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, drift)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func TestCreateComputesTotalsAndPostsAdvance(t *testing.T) {
	f := newFixture(t)
	sale, err := f.svc.Create(context.Background(), f.input("200"))
	require.NoError(t, err)

	assertMoney(t, "550", sale.Subtotal)
	assertMoney(t, "575", sale.TotalAmount)
	assertMoney(t, "200", sale.AdvancePayment)
	assertMoney(t, "375", sale.DueAmount)
	assert.Equal(t, sales.StatusPending, sale.Status)
	assert.Regexp(t, `^INV-`, sale.Number)
	require.Len(t, sale.Lines, 2)
	assert.Equal(t, "Blue Cut 1.56", sale.Lines[1].ItemName)
	assertMoney(t, "300", sale.Lines[1].TotalPrice)
	require.Len(t, sale.Payments, 1)
	assert.Equal(t, "Cash", sale.Payments[0].MethodName)

	assert.EqualValues(t, 1, f.stockOf(t, f.frame.Ref))
	assert.EqualValues(t, 2, f.stockOf(t, f.lens.Ref))

	shop, cons := f.totals(t)
	assertMoney(t, "200", shop.Income)
	assertMoney(t, "200", cons.Income)

	entries, err := f.consolidated.Entries(context.Background(), accounts.ConsolidatedFilter{Source: ptr(sale.Source())})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, accounts.CategoryOpticsIncome, entries[0].CategoryName)
	f.assertConsistent(t)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := f.input("0")
	in.Lines = nil
	_, err := f.svc.Create(ctx, in)
	assert.ErrorIs(t, err, sales.ErrNoLines)

	in = f.input("0")
	in.Customer = sales.CustomerInput{Name: "  "}
	_, err = f.svc.Create(ctx, in)
	assert.ErrorIs(t, err, sales.ErrCustomerRequired)

	in = f.input("0")
	in.Discount = dec("1000")
	_, err = f.svc.Create(ctx, in)
	assert.ErrorIs(t, err, sales.ErrNegativeTotal)

	_, err = f.svc.Create(ctx, f.input("575.01"))
	assert.ErrorIs(t, err, shared.ErrOverpayment)
	assert.ErrorIs(t, err, shared.ErrRejected)

	in = f.input("0")
	in.Lines = []sales.LineInput{{Item: inventory.Lens(42), Quantity: 1}}
	_, err = f.svc.Create(ctx, in)
	assert.ErrorIs(t, err, inventory.ErrInvalidLineItem)

	list, err := f.svc.List(ctx, sales.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreateAggregatesDuplicateLinesForStockCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := f.input("100")
	in.Lines = []sales.LineInput{
		{Item: f.lens.Ref, Quantity: 1},
		{Item: f.frame.Ref, Quantity: 2},
		{Item: f.frame.Ref, Quantity: 1},
	}
	_, err := f.svc.Create(ctx, in)
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	short, ok := inventory.AsInsufficientStock(err)
	require.True(t, ok)
	assert.EqualValues(t, 2, short.Available)
	assert.EqualValues(t, 3, short.Requested)
	assert.Equal(t, "Aviator", short.Name)
	assert.EqualValues(t, 2, f.stockOf(t, f.frame.Ref))
	assert.EqualValues(t, 4, f.stockOf(t, f.lens.Ref))

	for _, ref := range []inventory.ItemRef{f.frame.Ref, f.lens.Ref} {
		card, err := f.stock.StockCard(ctx, ref, 100)
		require.NoError(t, err)
		require.Len(t, card, 1, "only the opening movement of %s", ref)
		assert.Equal(t, inventory.MovementAdjustment, card[0].Type)
	}
	list, err := f.svc.List(ctx, sales.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	shop, cons := f.totals(t)
	assert.True(t, shop.Income.IsZero())
	assert.True(t, shop.Expense.IsZero())
	assert.True(t, cons.Income.IsZero())
	assert.True(t, cons.Expense.IsZero())
}

func TestCreateRollsBackEverythingOnLateFailure(t *testing.T) {
	f := newFixture(t)
	in := f.input("100")
	in.PaymentMethodID = 99

	_, err := f.svc.Create(context.Background(), in)
	require.ErrorIs(t, err, directory.ErrPaymentMethodNotFound)

	assert.EqualValues(t, 2, f.stockOf(t, f.frame.Ref))
	assert.EqualValues(t, 4, f.stockOf(t, f.lens.Ref))
	shop, cons := f.totals(t)
	assert.True(t, shop.Income.IsZero())
	assert.True(t, cons.Income.IsZero())
	list, err := f.svc.List(context.Background(), sales.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	f.assertConsistent(t)
}

func TestCreateIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := f.input("0")
	in.IdempotencyKey = "counter-1"
	in.Lines = []sales.LineInput{{Item: f.frame.Ref, Quantity: 5}}
	_, err := f.svc.Create(ctx, in)
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	// a failed attempt releases the key
	in.Lines = []sales.LineInput{{Item: f.frame.Ref, Quantity: 1}}
	_, err = f.svc.Create(ctx, in)
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, in)
	assert.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	assert.EqualValues(t, 1, f.stockOf(t, f.frame.Ref))
}

func TestCreateResolvesPatient(t *testing.T) {
	f := newFixture(t)
	patient := f.store.AddPatient(directory.Patient{Name: "Siti Rahma", Phone: "0812"})

	in := f.input("0")
	in.Customer = sales.CustomerInput{PatientID: &patient.ID, Name: "ignored"}
	sale, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, sale.Customer.PatientID)
	assert.Equal(t, patient.ID, *sale.Customer.PatientID)
	assert.Equal(t, "Siti Rahma", sale.Customer.Name)
	assert.Equal(t, "0812", sale.Customer.Phone)

	missing := int64(404)
	in.Customer = sales.CustomerInput{PatientID: &missing}
	_, err = f.svc.Create(context.Background(), in)
	assert.ErrorIs(t, err, directory.ErrPatientNotFound)
}

func TestPaymentsAndDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale, err := f.svc.Create(ctx, f.input("200"))
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, sale.ID, sales.StatusDelivered, 7)
	require.ErrorIs(t, err, sales.ErrPaymentIncomplete)

	_, err = f.svc.AddPayment(ctx, sale.ID, sales.PaymentInput{Amount: dec("375.01"), ActorID: 7})
	require.ErrorIs(t, err, shared.ErrOverpayment)
	_, err = f.svc.AddPayment(ctx, sale.ID, sales.PaymentInput{Amount: decimal.Zero})
	require.ErrorIs(t, err, shared.ErrInvalidAmount)

	sale, err = f.svc.AddPayment(ctx, sale.ID, sales.PaymentInput{Amount: dec("175"), MethodID: f.cash.ID, ActorID: 7})
	require.NoError(t, err)
	assertMoney(t, "200", sale.DueAmount)
	sale, err = f.svc.AddPayment(ctx, sale.ID, sales.PaymentInput{Amount: dec("200"), ActorID: 7})
	require.NoError(t, err)
	assert.True(t, sale.DueAmount.IsZero())
	assert.Len(t, sale.Payments, 3)

	shop, cons := f.totals(t)
	assertMoney(t, "575", shop.Income)
	assertMoney(t, "575", cons.Income)

	sale, err = f.svc.UpdateStatus(ctx, sale.ID, sales.StatusReady, 7)
	require.NoError(t, err)
	sale, err = f.svc.UpdateStatus(ctx, sale.ID, sales.StatusDelivered, 7)
	require.NoError(t, err)
	assert.Equal(t, sales.StatusDelivered, sale.Status)

	_, err = f.svc.UpdateStatus(ctx, sale.ID, sales.StatusPending, 7)
	assert.ErrorIs(t, err, sales.ErrInvalidTransition)
}

func TestDeleteRestoresEveryLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale, err := f.svc.Create(ctx, f.input("200"))
	require.NoError(t, err)
	_, err = f.svc.AddPayment(ctx, sale.ID, sales.PaymentInput{Amount: dec("100"), ActorID: 7})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, sale.ID, 7))

	assert.EqualValues(t, 2, f.stockOf(t, f.frame.Ref))
	assert.EqualValues(t, 4, f.stockOf(t, f.lens.Ref))
	shop, cons := f.totals(t)
	assert.True(t, shop.Balance().IsZero(), shop.Balance().String())
	assertMoney(t, "300", shop.Expense)
	assert.True(t, cons.Balance().IsZero(), cons.Balance().String())
	assertMoney(t, "300", cons.Expense)

	_, err = f.svc.Get(ctx, sale.ID)
	assert.ErrorIs(t, err, sales.ErrSaleNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, sale.ID, 7), sales.ErrSaleNotFound)
	f.assertConsistent(t)
}

func TestEditReappliesWithoutRepostingConsolidated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale, err := f.svc.Create(ctx, f.input("200"))
	require.NoError(t, err)

	in := f.input("150")
	in.Lines = []sales.LineInput{{Item: f.lens.Ref, Quantity: 3}}
	in.Discount = decimal.Zero
	in.FittingCharge = decimal.Zero
	edited, err := f.svc.Edit(ctx, sale.ID, in)
	require.NoError(t, err)

	assert.Equal(t, sale.ID, edited.ID)
	assert.Equal(t, sale.Number, edited.Number)
	assertMoney(t, "450", edited.TotalAmount)
	assertMoney(t, "300", edited.DueAmount)
	require.Len(t, edited.Payments, 1)

	assert.EqualValues(t, 2, f.stockOf(t, f.frame.Ref))
	assert.EqualValues(t, 1, f.stockOf(t, f.lens.Ref))

	shop, cons := f.totals(t)
	assertMoney(t, "350", shop.Income)
	assertMoney(t, "200", shop.Expense)
	assertMoney(t, "150", shop.Balance())
	assertMoney(t, "200", cons.Income)
	assert.True(t, cons.Expense.IsZero())
	f.assertConsistent(t)
}

func TestEditFailureKeepsOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale, err := f.svc.Create(ctx, f.input("200"))
	require.NoError(t, err)

	in := f.input("0")
	in.Lines = []sales.LineInput{{Item: f.frame.Ref, Quantity: 3}}
	_, err = f.svc.Edit(ctx, sale.ID, in)
	require.True(t, errors.Is(err, inventory.ErrInsufficientStock), err)

	got, err := f.svc.Get(ctx, sale.ID)
	require.NoError(t, err)
	assertMoney(t, "575", got.TotalAmount)
	assert.Len(t, got.Lines, 2)
	assert.EqualValues(t, 1, f.stockOf(t, f.frame.Ref))
	shop, _ := f.totals(t)
	assertMoney(t, "200", shop.Balance())
}

func TestEditDeliveredSaleMustStayPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale, err := f.svc.Create(ctx, f.input("575"))
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, sale.ID, sales.StatusDelivered, 7)
	require.NoError(t, err)

	_, err = f.svc.Edit(ctx, sale.ID, f.input("500"))
	assert.ErrorIs(t, err, sales.ErrPaymentIncomplete)

	_, err = f.svc.Edit(ctx, sale.ID, f.input("575"))
	assert.NoError(t, err)
}

func ptr[T any](v T) *T { return &v }

// Stock must equal the opening stock plus every recorded movement after any
// mix of sales, edits, deletions and restocks, failed attempts included.
func TestStockConservedAcrossRandomSequences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(20260301, 7))
	items := []inventory.ItemRef{f.frame.Ref, f.lens.Ref}
	want := map[inventory.ItemRef]int64{f.frame.Ref: 2, f.lens.Ref: 4}
	open := map[int64]map[inventory.ItemRef]int64{}

	randomLines := func() ([]sales.LineInput, map[inventory.ItemRef]int64) {
		var lines []sales.LineInput
		used := map[inventory.ItemRef]int64{}
		for len(lines) == 0 {
			for _, ref := range items {
				if qty := rng.Int64N(3); qty > 0 {
					lines = append(lines, sales.LineInput{Item: ref, Quantity: qty})
					used[ref] += qty
				}
			}
		}
		return lines, used
	}
	openIDs := func() []int64 {
		ids := make([]int64, 0, len(open))
		for id := range open {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		return ids
	}

	for step := 0; step < 200; step++ {
		switch op := rng.IntN(4); {
		case op == 0 || len(open) == 0:
			in := f.input("0")
			lines, used := randomLines()
			in.Lines = lines
			sale, err := f.svc.Create(ctx, in)
			if err != nil {
				require.ErrorIs(t, err, inventory.ErrInsufficientStock, "step %d", step)
				break
			}
			open[sale.ID] = used
			for ref, qty := range used {
				want[ref] -= qty
			}
		case op == 1:
			ids := openIDs()
			id := ids[rng.IntN(len(ids))]
			in := f.input("0")
			lines, used := randomLines()
			in.Lines = lines
			if _, err := f.svc.Edit(ctx, id, in); err != nil {
				require.ErrorIs(t, err, inventory.ErrInsufficientStock, "step %d", step)
				break
			}
			for ref, qty := range open[id] {
				want[ref] += qty
			}
			for ref, qty := range used {
				want[ref] -= qty
			}
			open[id] = used
		case op == 2:
			ids := openIDs()
			id := ids[rng.IntN(len(ids))]
			require.NoError(t, f.svc.Delete(ctx, id, 7), "step %d", step)
			for ref, qty := range open[id] {
				want[ref] += qty
			}
			delete(open, id)
		default:
			ref := items[rng.IntN(len(items))]
			qty := 1 + rng.Int64N(3)
			_, err := f.stock.Adjust(ctx, inventory.AdjustInput{Item: ref, Quantity: qty, Note: "restock", ActorID: 7})
			require.NoError(t, err, "step %d", step)
			want[ref] += qty
		}

		for _, ref := range items {
			require.Equal(t, want[ref], f.stockOf(t, ref), "step %d %s", step, ref)
			require.GreaterOrEqual(t, want[ref], int64(0))
		}
	}
	f.assertConsistent(t)
}
