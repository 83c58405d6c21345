package accounts

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hospital-backoffice/backoffice/internal/shared"
)

// ShopEntryType classifies shop ledger rows.
type ShopEntryType string

const (
	ShopIncome  ShopEntryType = "income"
	ShopExpense ShopEntryType = "expense"
	ShopFundIn  ShopEntryType = "fund_in"
	ShopFundOut ShopEntryType = "fund_out"
)

// Inbound reports whether the entry raises the balance.
func (t ShopEntryType) Inbound() bool {
	return t == ShopIncome || t == ShopFundIn
}

// Shop ledger categories used by the orchestrators.
const (
	CategorySaleAdvance     = "sale_advance"
	CategorySalePayment     = "sale_payment"
	CategorySaleReversal    = "sale_reversal"
	CategoryStockPurchase   = "stock_purchase"
	CategoryStockAdjustment = "stock_adjustment"
	CategoryManual          = "manual"
)

// Well-known consolidated category names, created on first use.
const (
	CategoryOpticsIncome           = "Optics Income"
	CategoryOpticsPurchase         = "Optics Purchase"
	CategoryOpticsSaleReversal     = "Optics Sale Reversal"
	CategoryOpticsPurchaseReversal = "Optics Purchase Reversal"
	CategoryVendorPayment          = "Vendor Payment"
)

// ShopEntry is one row of the optics shop ledger.
type ShopEntry struct {
	ID          int64            `json:"id"`
	Type        ShopEntryType    `json:"type"`
	Amount      decimal.Decimal  `json:"amount"`
	Category    string           `json:"category"`
	Description string           `json:"description"`
	Date        time.Time        `json:"date"`
	ActorID     int64            `json:"actor_id"`
	Source      shared.SourceRef `json:"source"`
	CreatedAt   time.Time        `json:"created_at"`
}

// EntryType classifies consolidated ledger rows.
type EntryType string

const (
	EntryIncome  EntryType = "income"
	EntryExpense EntryType = "expense"
)

// CategoryKind separates income and expense registries.
type CategoryKind string

const (
	CategoryKindIncome  CategoryKind = "income"
	CategoryKindExpense CategoryKind = "expense"
)

// Category is an income or expense category of the consolidated ledger.
type Category struct {
	ID   int64        `json:"id"`
	Kind CategoryKind `json:"kind"`
	Name string       `json:"name"`
}

// ConsolidatedEntry is one row of the hospital-wide ledger.
type ConsolidatedEntry struct {
	ID           int64            `json:"id"`
	Type         EntryType        `json:"type"`
	Amount       decimal.Decimal  `json:"amount"`
	CategoryID   int64            `json:"category_id"`
	CategoryName string           `json:"category_name"`
	Description  string           `json:"description"`
	Source       shared.SourceRef `json:"source"`
	Date         time.Time        `json:"date"`
	ActorID      int64            `json:"actor_id"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Totals aggregates a ledger by entry type.
type Totals struct {
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
	FundIn  decimal.Decimal `json:"fund_in"`
	FundOut decimal.Decimal `json:"fund_out"`
}

// Balance is fund_in - fund_out + income - expense.
func (t Totals) Balance() decimal.Decimal {
	return t.FundIn.Sub(t.FundOut).Add(t.Income).Sub(t.Expense)
}

// Add folds one amount into the totals.
func (t Totals) Add(typ ShopEntryType, amount decimal.Decimal) Totals {
	switch typ {
	case ShopIncome:
		t.Income = t.Income.Add(amount)
	case ShopExpense:
		t.Expense = t.Expense.Add(amount)
	case ShopFundIn:
		t.FundIn = t.FundIn.Add(amount)
	case ShopFundOut:
		t.FundOut = t.FundOut.Add(amount)
	}
	return t
}

// Direction picks the side of an adjustment.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// ShopPosting describes a shop ledger write.
type ShopPosting struct {
	Amount      decimal.Decimal
	Category    string
	Description string
	Date        time.Time
	ActorID     int64
	Source      shared.SourceRef
}

// ConsolidatedPosting describes a consolidated ledger write.
type ConsolidatedPosting struct {
	Amount       decimal.Decimal
	CategoryName string
	Description  string
	Date         time.Time
	ActorID      int64
	Source       shared.SourceRef
}

// CashPosting is cash crossing the shop boundary: it lands in the shop
// ledger and, when mirroring is enabled, in the consolidated ledger.
type CashPosting struct {
	Amount               decimal.Decimal
	ShopCategory         string
	ConsolidatedCategory string
	Description          string
	Date                 time.Time
	ActorID              int64
	Source               shared.SourceRef
}

// Posted reports the rows written by a cash posting.
type Posted struct {
	Shop         ShopEntry          `json:"shop"`
	Consolidated *ConsolidatedEntry `json:"consolidated,omitempty"`
}

// ShopFilter narrows shop entry listings.
type ShopFilter struct {
	Type   ShopEntryType
	Source *shared.SourceRef
	From   time.Time
	To     time.Time
	Limit  int
}

// ConsolidatedFilter narrows consolidated entry listings.
type ConsolidatedFilter struct {
	Type   EntryType
	Source *shared.SourceRef
	From   time.Time
	To     time.Time
	Limit  int
}

var (
	// ErrInvalidDirection rejects adjustments without a known direction.
	ErrInvalidDirection = shared.NewKindError("accounts: direction must be in or out", shared.ErrValidation)
	// ErrCategoryRequired rejects postings without a category.
	ErrCategoryRequired = shared.NewKindError("accounts: category required", shared.ErrValidation)
)
