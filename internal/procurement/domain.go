package procurement

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hospital-backoffice/backoffice/internal/inventory"
	"github.com/hospital-backoffice/backoffice/internal/shared"
)

// PaymentStatus is derived from paid and total amounts.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

// DeriveStatus classifies a purchase by how much of it is paid.
func DeriveStatus(paid, total decimal.Decimal) PaymentStatus {
	switch {
	case !paid.IsPositive():
		return PaymentPending
	case paid.LessThan(total):
		return PaymentPartial
	default:
		return PaymentPaid
	}
}

// Purchase is a stock purchase, optionally on credit from a vendor.
type Purchase struct {
	ID                  int64             `json:"id"`
	Number              string            `json:"number"`
	VendorID            *int64            `json:"vendor_id,omitempty"`
	Item                inventory.ItemRef `json:"item"`
	ItemName            string            `json:"item_name"`
	Quantity            int64             `json:"quantity"`
	UnitCost            decimal.Decimal   `json:"unit_cost"`
	TotalCost           decimal.Decimal   `json:"total_cost"`
	PaidAmount          decimal.Decimal   `json:"paid_amount"`
	DueAmount           decimal.Decimal   `json:"due_amount"`
	Status              PaymentStatus     `json:"payment_status"`
	PurchaseDate        time.Time         `json:"purchase_date"`
	Note                string            `json:"note,omitempty"`
	MovementID          int64             `json:"movement_id"`
	ConsolidatedEntryID *int64            `json:"consolidated_entry_id,omitempty"`
	ActorID             int64             `json:"actor_id"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
	Payments            []Payment         `json:"payments,omitempty"`
}

// Source is the ledger foreign key of the purchase.
func (p Purchase) Source() shared.SourceRef {
	return shared.Source(shared.SourcePurchase, p.ID)
}

// HasVendor reports whether the purchase was bought on vendor credit terms.
func (p Purchase) HasVendor() bool {
	return p.VendorID != nil && *p.VendorID > 0
}

// PaidLater sums the due payments recorded after the purchase was booked.
func (p Purchase) PaidLater() decimal.Decimal {
	sum := decimal.Zero
	for _, pay := range p.Payments {
		sum = sum.Add(pay.Amount)
	}
	return sum
}

// Payment is a later settlement of a purchase's due.
type Payment struct {
	ID                  int64           `json:"id"`
	PurchaseID          int64           `json:"purchase_id"`
	Amount              decimal.Decimal `json:"amount"`
	MethodID            int64           `json:"method_id,omitempty"`
	Note                string          `json:"note,omitempty"`
	PaidAt              time.Time       `json:"paid_at"`
	VendorEntryID       int64           `json:"vendor_entry_id,omitempty"`
	ConsolidatedEntryID *int64          `json:"consolidated_entry_id,omitempty"`
	ActorID             int64           `json:"actor_id"`
}

// Input describes a purchase; Create and Edit share it.
type Input struct {
	VendorID        *int64
	Item            inventory.ItemRef
	Quantity        int64
	UnitCost        decimal.Decimal
	Paid            decimal.Decimal
	PaymentMethodID int64
	PurchaseDate    time.Time
	Note            string
	ActorID         int64
}

// PayDueInput settles part of a purchase's due.
type PayDueInput struct {
	Amount   decimal.Decimal
	MethodID int64
	Date     time.Time
	Note     string
	ActorID  int64
}

// VendorPaymentInput pays a vendor against its running balance.
type VendorPaymentInput struct {
	VendorID int64
	Amount   decimal.Decimal
	MethodID int64
	Date     time.Time
	Memo     string
	ActorID  int64
}

// QuickRestockInput is a ledger-only stock-in paid from the shop.
type QuickRestockInput struct {
	Item     inventory.ItemRef
	Quantity int64
	UnitCost decimal.Decimal
	Note     string
	ActorID  int64
}

// QuickAdjustInput rewrites a quick restock movement.
type QuickAdjustInput struct {
	Item     inventory.ItemRef
	Quantity int64
	UnitCost decimal.Decimal
	Note     *string
	ActorID  int64
}

// ListFilter narrows purchase listings.
type ListFilter struct {
	VendorID int64
	Limit    int
}

var (
	// ErrPurchaseNotFound indicates a missing purchase.
	ErrPurchaseNotFound = shared.NewKindError("procurement: purchase not found", shared.ErrNotFound)
	// ErrManagedByPurchase keeps quick ops off movements owned by a purchase record.
	ErrManagedByPurchase = shared.NewKindError("procurement: movement belongs to a purchase record; edit the purchase instead", shared.ErrConflict)
	// ErrVendorLocked keeps a purchase on the vendor its due payments went to.
	ErrVendorLocked = shared.NewKindError("procurement: purchase has due payments; its vendor cannot change", shared.ErrRejected)
)
