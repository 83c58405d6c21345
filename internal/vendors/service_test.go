package vendors_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospital-backoffice/backoffice/internal/shared"
	"github.com/hospital-backoffice/backoffice/internal/store/memory"
	"github.com/hospital-backoffice/backoffice/internal/vendors"
)

func newService(t *testing.T) (*vendors.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	return vendors.NewService(store.Vendors(), shared.SlogAudit{Logger: quiet}, quiet), store
}

func money(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestCreateRequiresName(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Create(context.Background(), vendors.NewVendorInput{Name: " "})
	assert.ErrorIs(t, err, shared.ErrValidation)

	v, err := svc.Create(context.Background(), vendors.NewVendorInput{Name: " Optik Jaya ", Phone: "0812"})
	require.NoError(t, err)
	assert.Equal(t, "Optik Jaya", v.Name)
	assert.True(t, v.Position.Equal(vendors.ZeroPosition()))
	assert.Equal(t, vendors.BalanceDue, v.Position.Type)
}

func TestPostingsKeepStatementInStep(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	v, err := svc.Create(ctx, vendors.NewVendorInput{Name: "Lensa Prima"})
	require.NoError(t, err)

	src := shared.Source(shared.SourcePurchase, 4)
	_, err = svc.AddPurchaseDue(ctx, vendors.PostingInput{VendorID: v.ID, Amount: money(260), Source: src})
	require.NoError(t, err)
	_, err = svc.AddPayment(ctx, vendors.PostingInput{VendorID: v.ID, Amount: money(300), PaymentMethodID: 1})
	require.NoError(t, err)
	entry, err := svc.ReversePayment(ctx, vendors.PostingInput{VendorID: v.ID, Amount: money(300)})
	require.NoError(t, err)
	assert.True(t, entry.After.Equal(vendors.Position{Balance: money(260), Type: vendors.BalanceDue}))

	got, err := svc.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, got.Position.Balance.Equal(money(260)))
	assert.Equal(t, vendors.BalanceDue, got.Position.Type)

	statement, err := svc.Statement(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, statement, 3)
	assert.Equal(t, vendors.EntryPurchaseDue, statement[0].Type)
	assert.Equal(t, src, statement[0].Source)
	assert.Equal(t, vendors.BalanceAdvance, statement[1].After.Type)
	assert.True(t, statement[1].After.Balance.Equal(money(40)))
	assert.False(t, statement[0].Date.IsZero())

	d, err := svc.Verify(ctx, v.ID)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestPostingRejectsBadInput(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.AddPayment(ctx, vendors.PostingInput{VendorID: 1, Amount: decimal.Zero})
	assert.ErrorIs(t, err, shared.ErrInvalidAmount)

	_, err = svc.AddPurchaseDue(ctx, vendors.PostingInput{VendorID: 99, Amount: money(1)})
	assert.ErrorIs(t, err, vendors.ErrVendorNotFound)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Statement(ctx, 99)
	assert.ErrorIs(t, err, vendors.ErrVendorNotFound)
}

func TestAmountsRoundToCents(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	v, err := svc.Create(ctx, vendors.NewVendorInput{Name: "Frame House"})
	require.NoError(t, err)

	entry, err := svc.AddPurchaseDue(ctx, vendors.PostingInput{VendorID: v.ID, Amount: decimal.RequireFromString("10.005")})
	require.NoError(t, err)
	assert.Equal(t, "10.01", entry.Amount.StringFixed(2))
	assert.True(t, entry.After.Balance.Equal(entry.Amount))
}

func TestVerifyAllReportsDrift(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	clean, err := svc.Create(ctx, vendors.NewVendorInput{Name: "Clean"})
	require.NoError(t, err)
	drifted, err := svc.Create(ctx, vendors.NewVendorInput{Name: "Drifted"})
	require.NoError(t, err)
	for _, id := range []int64{clean.ID, drifted.ID} {
		_, err = svc.AddPurchaseDue(ctx, vendors.PostingInput{VendorID: id, Amount: money(100)})
		require.NoError(t, err)
	}

	require.NoError(t, store.Vendors().SetPosition(ctx, drifted.ID, vendors.Position{Balance: money(20), Type: vendors.BalanceAdvance}))

	report, err := svc.VerifyAll(ctx)
	require.NoError(t, err)
	require.Len(t, report, 1)
	assert.Equal(t, drifted.ID, report[0].VendorID)
	assert.Equal(t, "Drifted", report[0].Name)
	assert.True(t, report[0].Replayed.Balance.Equal(money(100)))
	assert.Equal(t, vendors.BalanceAdvance, report[0].Stored.Type)
}
