package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hospital-backoffice/backoffice/internal/shared"
)

// ItemKind enumerates the stocked item families.
type ItemKind string

const (
	// KindFrame is a spectacle frame; its purchase price is a running weighted average.
	KindFrame ItemKind = "frame"
	// KindLens is a lens type.
	KindLens ItemKind = "lens"
	// KindCompleteGlasses is a pre-assembled pair of glasses.
	KindCompleteGlasses ItemKind = "complete_glasses"
)

// Kinds lists every supported item kind.
var Kinds = []ItemKind{KindFrame, KindLens, KindCompleteGlasses}

// Valid reports whether k is a known kind.
func (k ItemKind) Valid() bool {
	switch k {
	case KindFrame, KindLens, KindCompleteGlasses:
		return true
	}
	return false
}

// AveragesCost reports whether restocks blend the purchase price.
func (k ItemKind) AveragesCost() bool {
	return k == KindFrame
}

// ItemRef identifies one stocked item across kinds.
type ItemRef struct {
	Kind ItemKind `json:"kind"`
	ID   int64    `json:"id"`
}

// Frame references a frame.
func Frame(id int64) ItemRef { return ItemRef{Kind: KindFrame, ID: id} }

// Lens references a lens type.
func Lens(id int64) ItemRef { return ItemRef{Kind: KindLens, ID: id} }

// CompleteGlasses references a complete glasses item.
func CompleteGlasses(id int64) ItemRef { return ItemRef{Kind: KindCompleteGlasses, ID: id} }

// ParseItemRef validates a kind tag and id coming from callers.
func ParseItemRef(kind string, id int64) (ItemRef, error) {
	ref := ItemRef{Kind: ItemKind(kind), ID: id}
	if err := ref.Validate(); err != nil {
		return ItemRef{}, err
	}
	return ref, nil
}

// Validate rejects unknown kinds and non-positive ids.
func (r ItemRef) Validate() error {
	if !r.Kind.Valid() || r.ID <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidLineItem, r)
	}
	return nil
}

func (r ItemRef) String() string {
	return fmt.Sprintf("%s#%d", r.Kind, r.ID)
}

// Item is the stock-carrying aggregate. Stock changes only through movements.
type Item struct {
	Ref           ItemRef
	Code          string
	Name          string
	Stock         int64
	PurchasePrice decimal.Decimal
	SellingPrice  decimal.Decimal
	MinStock      int64
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Handle projects the item into its read view.
func (i Item) Handle() ItemHandle {
	return ItemHandle{
		Ref:           i.Ref,
		Code:          i.Code,
		Name:          i.Name,
		Stock:         i.Stock,
		PurchasePrice: i.PurchasePrice,
		SellingPrice:  i.SellingPrice,
		MinStock:      i.MinStock,
		Active:        i.Active,
	}
}

// ItemHandle is what callers see when resolving an ItemRef.
type ItemHandle struct {
	Ref           ItemRef         `json:"ref"`
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	Stock         int64           `json:"stock"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	MinStock      int64           `json:"min_stock"`
	Active        bool            `json:"active"`
}

// MovementType classifies stock movements.
type MovementType string

const (
	MovementPurchase   MovementType = "purchase"
	MovementSale       MovementType = "sale"
	MovementAdjustment MovementType = "adjustment"
)

// Movement is one signed change of an item's stock with before/after snapshots.
type Movement struct {
	ID            int64            `json:"id"`
	Code          string           `json:"code"`
	Item          ItemRef          `json:"item"`
	Type          MovementType     `json:"type"`
	Quantity      int64            `json:"quantity"`
	PreviousStock int64            `json:"previous_stock"`
	NewStock      int64            `json:"new_stock"`
	UnitPrice     decimal.Decimal  `json:"unit_price"`
	TotalAmount   decimal.Decimal  `json:"total_amount"`
	Note          string           `json:"note,omitempty"`
	ActorID       int64            `json:"actor_id"`
	Source        shared.SourceRef `json:"source"`
	CreatedAt     time.Time        `json:"created_at"`
}

// StockChange reports the stock on either side of an applied delta.
type StockChange struct {
	Previous int64
	New      int64
}

// RecordInput describes a movement to append.
type RecordInput struct {
	Item      ItemRef
	Type      MovementType
	Quantity  int64
	UnitPrice decimal.Decimal
	Note      string
	ActorID   int64
	Source    shared.SourceRef
}

// EditPurchaseInput replaces the item, quantity and price of a purchase movement.
type EditPurchaseInput struct {
	Item      ItemRef
	Quantity  int64
	UnitPrice decimal.Decimal
	Note      *string
	ActorID   int64
}

// PurchaseEdit carries a purchase movement before and after an edit.
type PurchaseEdit struct {
	Before Movement `json:"before"`
	After  Movement `json:"after"`
}

// NewItemInput creates an item with optional opening stock.
type NewItemInput struct {
	Kind          ItemKind
	Code          string
	Name          string
	PurchasePrice decimal.Decimal
	SellingPrice  decimal.Decimal
	MinStock      int64
	OpeningStock  int64
	ActorID       int64
}

// AdjustInput is a manual stock correction.
type AdjustInput struct {
	Item     ItemRef
	Quantity int64
	Note     string
	ActorID  int64
}

// DeleteOutcome reports how an item was removed.
type DeleteOutcome string

const (
	DeletedHard DeleteOutcome = "deleted"
	DeletedSoft DeleteOutcome = "deactivated"
)

// Discrepancy reports an item whose stock differs from its ledger sum.
type Discrepancy struct {
	Item      ItemRef `json:"item"`
	Name      string  `json:"name"`
	Stock     int64   `json:"stock"`
	LedgerSum int64   `json:"ledger_sum"`
}

// ItemFilter narrows item listings.
type ItemFilter struct {
	Kind       ItemKind
	ActiveOnly bool
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	Item   *ItemRef
	Source *shared.SourceRef
	Limit  int
}

var (
	// ErrInsufficientStock matches every InsufficientStockError.
	ErrInsufficientStock = shared.NewKindError("inventory: insufficient stock", shared.ErrConflict)
	// ErrInvalidLineItem indicates an item reference that does not resolve.
	ErrInvalidLineItem = shared.NewKindError("inventory: item reference does not resolve", shared.ErrRejected)
	// ErrItemNotFound indicates a missing item on direct lookups.
	ErrItemNotFound = shared.NewKindError("inventory: item not found", shared.ErrNotFound)
	// ErrMovementNotFound indicates a missing movement.
	ErrMovementNotFound = shared.NewKindError("inventory: movement not found", shared.ErrNotFound)
	// ErrDeletionBlocked indicates the item has sale history.
	ErrDeletionBlocked = shared.NewKindError("inventory: item has sale history", shared.ErrConflict)
	// ErrNotPurchaseMovement guards purchase-only ledger operations.
	ErrNotPurchaseMovement = shared.NewKindError("inventory: movement is not a purchase", shared.ErrRejected)
	// ErrInvalidQuantity indicates a zero or wrongly signed quantity.
	ErrInvalidQuantity = shared.NewKindError("inventory: invalid quantity", shared.ErrValidation)
	// ErrInvalidPrice indicates a negative price.
	ErrInvalidPrice = shared.NewKindError("inventory: price must not be negative", shared.ErrValidation)
)

// InsufficientStockError carries the shortfall of an outbound movement.
type InsufficientStockError struct {
	Item      ItemRef
	Name      string
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	name := e.Name
	if name == "" {
		name = e.Item.String()
	}
	return fmt.Sprintf("inventory: insufficient stock for %s: available %d, requested %d", name, e.Available, e.Requested)
}

// Unwrap lets errors.Is match ErrInsufficientStock.
func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// AsInsufficientStock extracts the typed error.
func AsInsufficientStock(err error) (*InsufficientStockError, bool) {
	var target *InsufficientStockError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// WithdrawAverage removes qty units bought at unitCost from a running
// average over stock units. When nothing would remain, or the history no
// longer supports the withdrawal, the average is kept.
func WithdrawAverage(avg decimal.Decimal, stock int64, unitCost decimal.Decimal, qty int64) decimal.Decimal {
	remaining := stock - qty
	if remaining <= 0 {
		return avg
	}
	value := avg.Mul(decimal.NewFromInt(stock)).Sub(unitCost.Mul(decimal.NewFromInt(qty)))
	if value.IsNegative() {
		return avg
	}
	return value.DivRound(decimal.NewFromInt(remaining), 2)
}

// WeightedAverage blends an incoming restock into the running average cost.
func WeightedAverage(oldAvg decimal.Decimal, oldQty int64, unitCost decimal.Decimal, qty int64) decimal.Decimal {
	if oldQty < 0 {
		oldQty = 0
	}
	total := oldQty + qty
	if total <= 0 {
		return unitCost
	}
	value := oldAvg.Mul(decimal.NewFromInt(oldQty)).Add(unitCost.Mul(decimal.NewFromInt(qty)))
	return value.DivRound(decimal.NewFromInt(total), 2)
}
