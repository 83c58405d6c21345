package vendors

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hospital-backoffice/backoffice/internal/shared"
)

// BalanceType carries the sign of a vendor balance.
type BalanceType string

const (
	// BalanceDue means the shop owes the vendor.
	BalanceDue BalanceType = "due"
	// BalanceAdvance means the shop has pre-paid the vendor.
	BalanceAdvance BalanceType = "advance"
)

// Position is a non-negative balance and its direction.
type Position struct {
	Balance decimal.Decimal `json:"balance"`
	Type    BalanceType     `json:"balance_type"`
}

// ZeroPosition is the balance of a new vendor.
func ZeroPosition() Position {
	return Position{Balance: decimal.Zero, Type: BalanceDue}
}

// AddPurchaseDue grows what the shop owes, consuming any advance first.
func (p Position) AddPurchaseDue(amount decimal.Decimal) Position {
	if p.Type != BalanceAdvance {
		return Position{Balance: p.Balance.Add(amount), Type: BalanceDue}
	}
	if amount.LessThanOrEqual(p.Balance) {
		return Position{Balance: p.Balance.Sub(amount), Type: BalanceAdvance}
	}
	return Position{Balance: amount.Sub(p.Balance), Type: BalanceDue}
}

// AddPayment settles due first; any remainder becomes an advance.
func (p Position) AddPayment(amount decimal.Decimal) Position {
	if p.Type == BalanceAdvance {
		return Position{Balance: p.Balance.Add(amount), Type: BalanceAdvance}
	}
	if amount.LessThanOrEqual(p.Balance) {
		return Position{Balance: p.Balance.Sub(amount), Type: BalanceDue}
	}
	return Position{Balance: amount.Sub(p.Balance), Type: BalanceAdvance}
}

// Signed returns the balance with due positive and advance negative.
func (p Position) Signed() decimal.Decimal {
	if p.Type == BalanceAdvance {
		return p.Balance.Neg()
	}
	return p.Balance
}

// Equal compares balances numerically. A zero balance matches either type.
func (p Position) Equal(other Position) bool {
	return p.Signed().Equal(other.Signed())
}

// Apply folds one ledger entry into the position.
func (p Position) Apply(typ EntryType, amount decimal.Decimal) Position {
	switch typ {
	case EntryPurchaseDue, EntryPaymentReversal:
		return p.AddPurchaseDue(amount)
	default:
		return p.AddPayment(amount)
	}
}

// Replay re-derives a position from a vendor's ledger entries in order.
func Replay(entries []LedgerEntry) Position {
	pos := ZeroPosition()
	for _, e := range entries {
		pos = pos.Apply(e.Type, e.Amount)
	}
	return pos
}

// Vendor is a supplier account with a running balance.
type Vendor struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address,omitempty"`
	Position  Position  `json:"position"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntryType classifies vendor ledger postings.
type EntryType string

const (
	EntryPurchaseDue      EntryType = "purchase_due"
	EntryPayment          EntryType = "payment"
	EntryPurchaseReversal EntryType = "purchase_reversal"
	EntryPaymentReversal  EntryType = "payment_reversal"
)

// LedgerEntry is one append-only posting against a vendor.
type LedgerEntry struct {
	ID              int64            `json:"id"`
	VendorID        int64            `json:"vendor_id"`
	Type            EntryType        `json:"type"`
	Amount          decimal.Decimal  `json:"amount"`
	Memo            string           `json:"memo,omitempty"`
	Source          shared.SourceRef `json:"source"`
	PaymentMethodID int64            `json:"payment_method_id,omitempty"`
	Date            time.Time        `json:"date"`
	After           Position         `json:"after"`
	ActorID         int64            `json:"actor_id"`
	CreatedAt       time.Time        `json:"created_at"`
}

// NewVendorInput creates a vendor.
type NewVendorInput struct {
	Name    string
	Phone   string
	Email   string
	Address string
}

// PostingInput describes a balance posting.
type PostingInput struct {
	VendorID        int64
	Amount          decimal.Decimal
	Memo            string
	Source          shared.SourceRef
	PaymentMethodID int64
	Date            time.Time
	ActorID         int64
}

// Discrepancy reports a vendor whose stored balance differs from its ledger replay.
type Discrepancy struct {
	VendorID int64    `json:"vendor_id"`
	Name     string   `json:"name"`
	Stored   Position `json:"stored"`
	Replayed Position `json:"replayed"`
}

var (
	// ErrVendorNotFound indicates a missing vendor.
	ErrVendorNotFound = shared.NewKindError("vendors: vendor not found", shared.ErrNotFound)
)
