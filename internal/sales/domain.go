package sales

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hospital-backoffice/backoffice/internal/inventory"
	"github.com/hospital-backoffice/backoffice/internal/shared"
)

// Status is the fulfilment state of a sale.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReady     Status = "ready"
	StatusDelivered Status = "delivered"
)

var statusRank = map[Status]int{StatusPending: 0, StatusReady: 1, StatusDelivered: 2}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanTransition reports whether a sale may move from s to next. Sales only
// move forward; deletion is the cancellation path.
func (s Status) CanTransition(next Status) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	return ok && to >= from
}

// Customer identifies the buyer. A linked patient's contact fields win over
// free text.
type Customer struct {
	PatientID *int64 `json:"patient_id,omitempty"`
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Sale is the sale aggregate: header, lines and payments.
type Sale struct {
	ID             int64           `json:"id"`
	Number         string          `json:"number"`
	Customer       Customer        `json:"customer"`
	SellerID       int64           `json:"seller_id"`
	SaleDate       time.Time       `json:"sale_date"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	FittingCharge  decimal.Decimal `json:"fitting_charge"`
	Discount       decimal.Decimal `json:"discount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	AdvancePayment decimal.Decimal `json:"advance_payment"`
	DueAmount      decimal.Decimal `json:"due_amount"`
	Status         Status          `json:"status"`
	Notes          string          `json:"notes,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Lines          []Line          `json:"lines,omitempty"`
	Payments       []Payment       `json:"payments,omitempty"`
}

// Source is the ledger foreign key of the sale.
func (s Sale) Source() shared.SourceRef {
	return shared.Source(shared.SourceSale, s.ID)
}

// PaidAmount sums recorded payments.
func (s Sale) PaidAmount() decimal.Decimal {
	total := decimal.Zero
	for _, p := range s.Payments {
		total = total.Add(p.Amount)
	}
	return total
}

// Line is one sold item with its name and price frozen at sale time.
type Line struct {
	ID         int64             `json:"id"`
	SaleID     int64             `json:"sale_id"`
	Item       inventory.ItemRef `json:"item"`
	ItemName   string            `json:"item_name"`
	Quantity   int64             `json:"quantity"`
	UnitPrice  decimal.Decimal   `json:"unit_price"`
	TotalPrice decimal.Decimal   `json:"total_price"`
	MovementID int64             `json:"movement_id"`
}

// Payment is cash received against a sale.
type Payment struct {
	ID             int64           `json:"id"`
	SaleID         int64           `json:"sale_id"`
	Amount         decimal.Decimal `json:"amount"`
	MethodID       int64           `json:"method_id,omitempty"`
	MethodName     string          `json:"method_name,omitempty"`
	TransactionRef string          `json:"transaction_ref,omitempty"`
	Note           string          `json:"note,omitempty"`
	ReceivedBy     int64           `json:"received_by"`
	PaidAt         time.Time       `json:"paid_at"`
}

// CustomerInput is the caller's view of the buyer.
type CustomerInput struct {
	PatientID *int64
	Name      string
	Phone     string
	Email     string
}

// LineInput requests quantity of an item. UnitPrice defaults to the item's
// selling price.
type LineInput struct {
	Item      inventory.ItemRef
	Quantity  int64
	UnitPrice *decimal.Decimal
}

// Input carries everything needed to build a sale; Create and Edit share it.
type Input struct {
	Customer        CustomerInput
	SellerID        int64
	SaleDate        time.Time
	Lines           []LineInput
	FittingCharge   decimal.Decimal
	Discount        decimal.Decimal
	Advance         decimal.Decimal
	PaymentMethodID int64
	TransactionRef  string
	Notes           string
	ActorID         int64
	IdempotencyKey  string
}

// PaymentInput records a later payment.
type PaymentInput struct {
	Amount         decimal.Decimal
	MethodID       int64
	TransactionRef string
	Note           string
	ActorID        int64
}

// ListFilter narrows sale listings.
type ListFilter struct {
	Status Status
	From   time.Time
	To     time.Time
	Limit  int
}

var (
	// ErrSaleNotFound indicates a missing sale.
	ErrSaleNotFound = shared.NewKindError("sales: sale not found", shared.ErrNotFound)
	// ErrPaymentIncomplete blocks delivery while an amount is still due.
	ErrPaymentIncomplete = shared.NewKindError("sales: payment incomplete", shared.ErrRejected)
	// ErrInvalidTransition rejects backward or unknown status changes.
	ErrInvalidTransition = shared.NewKindError("sales: invalid status transition", shared.ErrRejected)
	// ErrNoLines rejects sales without items.
	ErrNoLines = shared.NewKindError("sales: at least one line item required", shared.ErrValidation)
	// ErrCustomerRequired rejects sales without a patient or customer name.
	ErrCustomerRequired = shared.NewKindError("sales: customer name or patient required", shared.ErrValidation)
	// ErrNegativeTotal rejects discounts larger than the gross amount.
	ErrNegativeTotal = shared.NewKindError("sales: discount exceeds sale amount", shared.ErrRejected)
)
