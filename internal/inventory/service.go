package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hospital-backoffice/backoffice/internal/platform/db"
	"github.com/hospital-backoffice/backoffice/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, ref ItemRef) (Item, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]Item, error)
	GetMovement(ctx context.Context, id int64) (Movement, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	LedgerSums(ctx context.Context) (map[ItemRef]int64, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	InsertItem(ctx context.Context, item Item) (Item, error)
	// GetItemForUpdate locks the item row for the rest of the transaction.
	GetItemForUpdate(ctx context.Context, ref ItemRef) (Item, error)
	// ApplyStockDelta adds delta to the stock only if the result stays
	// non-negative, optionally replacing the purchase price in the same write.
	ApplyStockDelta(ctx context.Context, ref ItemRef, delta int64, purchasePrice *decimal.Decimal) (StockChange, error)
	SetItemActive(ctx context.Context, ref ItemRef, active bool) error
	DeleteItem(ctx context.Context, ref ItemRef) error
	CountMovements(ctx context.Context, ref ItemRef, typ MovementType) (int64, error)
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
	GetMovementForUpdate(ctx context.Context, id int64) (Movement, error)
	UpdateMovement(ctx context.Context, m Movement) error
	DeleteMovement(ctx context.Context, id int64) error
	ListMovementsBySource(ctx context.Context, src shared.SourceRef) ([]Movement, error)
}

// Service is the movement ledger. It is the only writer of item stock.
type Service struct {
	repo   RepositoryPort
	audit  shared.AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit shared.AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Record appends a movement and moves the item's stock in the same unit of work.
func (s *Service) Record(ctx context.Context, input RecordInput) (Movement, error) {
	if err := validateRecord(input); err != nil {
		return Movement{}, err
	}
	var out Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := s.lockActive(ctx, tx, input.Item)
		if err != nil {
			return err
		}
		unitPrice := input.UnitPrice
		if unitPrice.IsZero() && input.Type == MovementAdjustment {
			unitPrice = item.PurchasePrice
		}
		var price *decimal.Decimal
		if input.Type == MovementPurchase {
			next := nextPurchasePrice(item, unitPrice, input.Quantity)
			price = &next
		}
		change, err := tx.ApplyStockDelta(ctx, item.Ref, input.Quantity, price)
		if err != nil {
			return withItemName(err, item)
		}
		out, err = tx.InsertMovement(ctx, Movement{
			Code:          shared.NewCode("MOV"),
			Item:          item.Ref,
			Type:          input.Type,
			Quantity:      input.Quantity,
			PreviousStock: change.Previous,
			NewStock:      change.New,
			UnitPrice:     unitPrice,
			TotalAmount:   lineTotal(unitPrice, input.Quantity),
			Note:          strings.TrimSpace(input.Note),
			ActorID:       input.ActorID,
			Source:        input.Source,
			CreatedAt:     s.now(),
		})
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	s.recordAudit(ctx, input.ActorID, "inventory:"+string(out.Type), out)
	return out, nil
}

// RevertPurchase takes a purchase movement's quantity back off the item's
// current stock and removes the movement.
func (s *Service) RevertPurchase(ctx context.Context, movementID int64, actorID int64) (Movement, error) {
	var removed Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		m, err := tx.GetMovementForUpdate(ctx, movementID)
		if err != nil {
			return err
		}
		if m.Type != MovementPurchase {
			return fmt.Errorf("%w: %s is %s", ErrNotPurchaseMovement, m.Code, m.Type)
		}
		if err := s.unwind(ctx, tx, m); err != nil {
			return err
		}
		removed = m
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	s.recordAudit(ctx, actorID, "inventory:revert_purchase", removed)
	return removed, nil
}

// RevertSource unwinds every movement recorded for src, newest first.
// Sale movements are only ever removed this way, as part of their sale.
func (s *Service) RevertSource(ctx context.Context, src shared.SourceRef, actorID int64) ([]Movement, error) {
	if src.IsZero() {
		return nil, errors.New("inventory: source required")
	}
	var removed []Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		movements, err := tx.ListMovementsBySource(ctx, src)
		if err != nil {
			return err
		}
		for i := len(movements) - 1; i >= 0; i-- {
			if err := s.unwind(ctx, tx, movements[i]); err != nil {
				return err
			}
		}
		removed = movements
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, m := range removed {
		s.recordAudit(ctx, actorID, "inventory:revert", m)
	}
	return removed, nil
}

// EditPurchase rewrites a purchase movement. A changed item moves the old
// quantity off the old item and the new quantity onto the new one; otherwise
// only the quantity delta is applied and the line's share of the purchase
// price is swapped for the new one. Snapshots of the edited movement are
// recomputed against current stock; later movements keep theirs.
func (s *Service) EditPurchase(ctx context.Context, movementID int64, input EditPurchaseInput) (PurchaseEdit, error) {
	if input.Quantity <= 0 {
		return PurchaseEdit{}, ErrInvalidQuantity
	}
	if input.UnitPrice.IsNegative() {
		return PurchaseEdit{}, ErrInvalidPrice
	}
	if err := input.Item.Validate(); err != nil {
		return PurchaseEdit{}, err
	}
	var result PurchaseEdit
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		before, err := tx.GetMovementForUpdate(ctx, movementID)
		if err != nil {
			return err
		}
		if before.Type != MovementPurchase {
			return fmt.Errorf("%w: %s is %s", ErrNotPurchaseMovement, before.Code, before.Type)
		}
		after := before
		var change StockChange
		if before.Item != input.Item {
			if _, err := tx.ApplyStockDelta(ctx, before.Item, -before.Quantity, nil); err != nil {
				return s.nameShortfall(ctx, tx, err, before.Item)
			}
			item, err := s.lockActive(ctx, tx, input.Item)
			if err != nil {
				return err
			}
			price := nextPurchasePrice(item, input.UnitPrice, input.Quantity)
			if change, err = tx.ApplyStockDelta(ctx, item.Ref, input.Quantity, &price); err != nil {
				return withItemName(err, item)
			}
		} else {
			item, err := tx.GetItemForUpdate(ctx, before.Item)
			if err != nil {
				return err
			}
			change = StockChange{Previous: item.Stock, New: item.Stock}
			delta := input.Quantity - before.Quantity
			if delta != 0 || !input.UnitPrice.Equal(before.UnitPrice) {
				price := revisedPurchasePrice(item, before, input.UnitPrice, input.Quantity)
				if change, err = tx.ApplyStockDelta(ctx, item.Ref, delta, &price); err != nil {
					return withItemName(err, item)
				}
			}
		}
		after.Item = input.Item
		after.Quantity = input.Quantity
		after.UnitPrice = input.UnitPrice
		after.TotalAmount = lineTotal(input.UnitPrice, input.Quantity)
		after.NewStock = change.New
		after.PreviousStock = change.New - input.Quantity
		if input.Note != nil {
			after.Note = strings.TrimSpace(*input.Note)
		}
		if err := tx.UpdateMovement(ctx, after); err != nil {
			return err
		}
		result = PurchaseEdit{Before: before, After: after}
		return nil
	})
	if err != nil {
		return PurchaseEdit{}, err
	}
	s.recordAudit(ctx, input.ActorID, "inventory:edit_purchase", result.After)
	return result, nil
}

// CreateItem registers an item. Opening stock is booked as an adjustment
// movement so stock always equals the ledger sum.
func (s *Service) CreateItem(ctx context.Context, input NewItemInput) (Item, error) {
	if !input.Kind.Valid() {
		return Item{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidLineItem, input.Kind)
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Item{}, fmt.Errorf("inventory: name required: %w", shared.ErrValidation)
	}
	if input.PurchasePrice.IsNegative() || input.SellingPrice.IsNegative() {
		return Item{}, ErrInvalidPrice
	}
	if input.OpeningStock < 0 || input.MinStock < 0 {
		return Item{}, ErrInvalidQuantity
	}
	code := strings.TrimSpace(input.Code)
	if code == "" {
		code = shared.NewCode(codePrefix(input.Kind))
	}
	var created Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.now()
		item, err := tx.InsertItem(ctx, Item{
			Ref:           ItemRef{Kind: input.Kind},
			Code:          code,
			Name:          name,
			PurchasePrice: input.PurchasePrice,
			SellingPrice:  input.SellingPrice,
			MinStock:      input.MinStock,
			Active:        true,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		if err != nil {
			return err
		}
		if input.OpeningStock > 0 {
			change, err := tx.ApplyStockDelta(ctx, item.Ref, input.OpeningStock, nil)
			if err != nil {
				return err
			}
			if _, err := tx.InsertMovement(ctx, Movement{
				Code:          shared.NewCode("MOV"),
				Item:          item.Ref,
				Type:          MovementAdjustment,
				Quantity:      input.OpeningStock,
				PreviousStock: change.Previous,
				NewStock:      change.New,
				UnitPrice:     input.PurchasePrice,
				TotalAmount:   lineTotal(input.PurchasePrice, input.OpeningStock),
				Note:          "opening stock",
				ActorID:       input.ActorID,
				Source:        shared.Source(shared.SourceManual, 0),
				CreatedAt:     now,
			}); err != nil {
				return err
			}
			item.Stock = change.New
		}
		created = item
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	db.AfterCommit(ctx, func(ctx context.Context) {
		s.logger.InfoContext(ctx, "inventory item created", slog.String("item", created.Ref.String()), slog.Int64("stock", created.Stock))
	})
	return created, nil
}

// Adjust books a manual signed correction.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (Movement, error) {
	return s.Record(ctx, RecordInput{
		Item:     input.Item,
		Type:     MovementAdjustment,
		Quantity: input.Quantity,
		Note:     input.Note,
		ActorID:  input.ActorID,
		Source:   shared.Source(shared.SourceManual, 0),
	})
}

// DeleteItem removes an item. Items with sale history cannot be deleted;
// items with other history are deactivated; untouched items are removed.
func (s *Service) DeleteItem(ctx context.Context, ref ItemRef, actorID int64) (DeleteOutcome, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}
	var outcome DeleteOutcome
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItemForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		sales, err := tx.CountMovements(ctx, ref, MovementSale)
		if err != nil {
			return err
		}
		if sales > 0 {
			return fmt.Errorf("%w: %s has %d sale movements", ErrDeletionBlocked, item.Name, sales)
		}
		all, err := tx.CountMovements(ctx, ref, "")
		if err != nil {
			return err
		}
		if all > 0 {
			outcome = DeletedSoft
			return tx.SetItemActive(ctx, ref, false)
		}
		outcome = DeletedHard
		return tx.DeleteItem(ctx, ref)
	})
	if err != nil {
		return "", err
	}
	if s.audit != nil {
		db.AfterCommit(ctx, func(ctx context.Context) {
			_ = s.audit.Record(ctx, shared.AuditLog{
				ActorID:  actorID,
				Action:   "inventory:delete_item",
				Entity:   "inventory_item",
				EntityID: ref.String(),
				Meta:     map[string]any{"outcome": string(outcome)},
			})
		})
	}
	return outcome, nil
}

// Resolve returns the read view of ref.
func (s *Service) Resolve(ctx context.Context, ref ItemRef) (ItemHandle, error) {
	if err := ref.Validate(); err != nil {
		return ItemHandle{}, err
	}
	item, err := s.repo.GetItem(ctx, ref)
	if err != nil {
		return ItemHandle{}, err
	}
	return item.Handle(), nil
}

// ListItems returns items matching filter.
func (s *Service) ListItems(ctx context.Context, filter ItemFilter) ([]ItemHandle, error) {
	items, err := s.repo.ListItems(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]ItemHandle, 0, len(items))
	for _, item := range items {
		out = append(out, item.Handle())
	}
	return out, nil
}

// LowStock lists active items at or below their minimum threshold.
func (s *Service) LowStock(ctx context.Context) ([]ItemHandle, error) {
	items, err := s.repo.ListItems(ctx, ItemFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	var out []ItemHandle
	for _, item := range items {
		if item.Stock <= item.MinStock {
			out = append(out, item.Handle())
		}
	}
	return out, nil
}

// StockCard lists movements of one item, oldest first.
func (s *Service) StockCard(ctx context.Context, ref ItemRef, limit int) ([]Movement, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 200
	}
	return s.repo.ListMovements(ctx, MovementFilter{Item: &ref, Limit: limit})
}

// Movement fetches a single movement.
func (s *Service) Movement(ctx context.Context, id int64) (Movement, error) {
	return s.repo.GetMovement(ctx, id)
}

// MovementsBySource lists the movements recorded for src.
func (s *Service) MovementsBySource(ctx context.Context, src shared.SourceRef) ([]Movement, error) {
	return s.repo.ListMovements(ctx, MovementFilter{Source: &src})
}

// Verify compares one item's stock with the sum of its movements.
func (s *Service) Verify(ctx context.Context, ref ItemRef) (*Discrepancy, error) {
	item, err := s.repo.GetItem(ctx, ref)
	if err != nil {
		return nil, err
	}
	movements, err := s.repo.ListMovements(ctx, MovementFilter{Item: &ref})
	if err != nil {
		return nil, err
	}
	var sum int64
	for _, m := range movements {
		sum += m.Quantity
	}
	if sum == item.Stock {
		return nil, nil
	}
	return &Discrepancy{Item: ref, Name: item.Name, Stock: item.Stock, LedgerSum: sum}, nil
}

// VerifyAll checks stock conservation for every item.
func (s *Service) VerifyAll(ctx context.Context) ([]Discrepancy, error) {
	items, err := s.repo.ListItems(ctx, ItemFilter{})
	if err != nil {
		return nil, err
	}
	sums, err := s.repo.LedgerSums(ctx)
	if err != nil {
		return nil, err
	}
	var out []Discrepancy
	for _, item := range items {
		if sum := sums[item.Ref]; sum != item.Stock {
			out = append(out, Discrepancy{Item: item.Ref, Name: item.Name, Stock: item.Stock, LedgerSum: sum})
		}
	}
	return out, nil
}

func (s *Service) unwind(ctx context.Context, tx TxRepository, m Movement) error {
	if _, err := tx.ApplyStockDelta(ctx, m.Item, -m.Quantity, nil); err != nil {
		return s.nameShortfall(ctx, tx, err, m.Item)
	}
	return tx.DeleteMovement(ctx, m.ID)
}

func (s *Service) lockActive(ctx context.Context, tx TxRepository, ref ItemRef) (Item, error) {
	if err := ref.Validate(); err != nil {
		return Item{}, err
	}
	item, err := tx.GetItemForUpdate(ctx, ref)
	if errors.Is(err, ErrItemNotFound) {
		return Item{}, fmt.Errorf("%w: %s", ErrInvalidLineItem, ref)
	}
	if err != nil {
		return Item{}, err
	}
	if !item.Active {
		return Item{}, fmt.Errorf("%w: %s is inactive", ErrInvalidLineItem, ref)
	}
	return item, nil
}

func (s *Service) nameShortfall(ctx context.Context, tx TxRepository, err error, ref ItemRef) error {
	if short, ok := AsInsufficientStock(err); ok && short.Name == "" {
		if item, getErr := tx.GetItemForUpdate(ctx, ref); getErr == nil {
			short.Name = item.Name
		}
	}
	return err
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, m Movement) {
	db.AfterCommit(ctx, func(ctx context.Context) {
		if s.audit != nil {
			_ = s.audit.Record(ctx, shared.AuditLog{
				ActorID:  actorID,
				Action:   action,
				Entity:   "stock_movement",
				EntityID: m.Code,
				Meta: map[string]any{
					"item":     m.Item.String(),
					"quantity": m.Quantity,
					"source":   m.Source.String(),
				},
			})
		}
		s.logger.DebugContext(ctx, "stock movement", slog.String("action", action), slog.String("code", m.Code), slog.Int64("quantity", m.Quantity))
	})
}

func validateRecord(input RecordInput) error {
	if err := input.Item.Validate(); err != nil {
		return err
	}
	if input.UnitPrice.IsNegative() {
		return ErrInvalidPrice
	}
	switch input.Type {
	case MovementPurchase:
		if input.Quantity <= 0 {
			return ErrInvalidQuantity
		}
	case MovementSale:
		if input.Quantity >= 0 {
			return ErrInvalidQuantity
		}
	case MovementAdjustment:
		if input.Quantity == 0 {
			return ErrInvalidQuantity
		}
	default:
		return fmt.Errorf("inventory: unknown movement type %q: %w", input.Type, shared.ErrValidation)
	}
	return nil
}

func nextPurchasePrice(item Item, unitCost decimal.Decimal, qty int64) decimal.Decimal {
	if item.Ref.Kind.AveragesCost() {
		return WeightedAverage(item.PurchasePrice, item.Stock, unitCost, qty)
	}
	return unitCost
}

// revisedPurchasePrice swaps an edited purchase line's contribution to the
// item's price for the new one.
func revisedPurchasePrice(item Item, old Movement, unitCost decimal.Decimal, qty int64) decimal.Decimal {
	if !item.Ref.Kind.AveragesCost() {
		return unitCost
	}
	base := item.Stock - old.Quantity
	return WeightedAverage(WithdrawAverage(item.PurchasePrice, item.Stock, old.UnitPrice, old.Quantity), base, unitCost, qty)
}

func withItemName(err error, item Item) error {
	if short, ok := AsInsufficientStock(err); ok && short.Name == "" {
		short.Name = item.Name
	}
	return err
}

func lineTotal(price decimal.Decimal, qty int64) decimal.Decimal {
	return shared.Round2(price.Mul(decimal.NewFromInt(qty)))
}

func codePrefix(kind ItemKind) string {
	switch kind {
	case KindFrame:
		return "FRM"
	case KindLens:
		return "LNS"
	default:
		return "CGL"
	}
}
