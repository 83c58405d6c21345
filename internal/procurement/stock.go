package procurement

import (
	"context"
	"fmt"

	"github.com/hospital-backoffice/backoffice/internal/accounts"
	"github.com/hospital-backoffice/backoffice/internal/inventory"
	"github.com/hospital-backoffice/backoffice/internal/shared"
)

// Quick stock operations are the ledger-only path behind the stock management
// screen. They move stock and the shop ledger only; the vendor balance and the
// consolidated ledger are not touched, so they refuse movements that belong to
// a purchase record.

// QuickRestock books stock bought for cash out of the shop till.
func (s *Service) QuickRestock(ctx context.Context, input QuickRestockInput) (inventory.Movement, error) {
	var movement inventory.Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, _ TxRepository) error {
		var err error
		movement, err = s.stock.Record(ctx, inventory.RecordInput{
			Item:      input.Item,
			Type:      inventory.MovementPurchase,
			Quantity:  input.Quantity,
			UnitPrice: input.UnitCost,
			Note:      input.Note,
			ActorID:   input.ActorID,
			Source:    shared.Source(shared.SourceManual, 0),
		})
		if err != nil {
			return err
		}
		if !movement.TotalAmount.IsPositive() {
			return nil
		}
		_, err = s.shop.PostExpense(ctx, accounts.ShopPosting{
			Amount:      movement.TotalAmount,
			Category:    accounts.CategoryStockPurchase,
			Description: accounts.Describe("Stock restock "+movement.Code, fmt.Sprintf("qty=%d", movement.Quantity)),
			ActorID:     input.ActorID,
			Source:      shared.Source(shared.SourceMovement, movement.ID),
		})
		return err
	})
	return movement, err
}

// QuickAdjust rewrites a quick restock and settles the cost difference with
// the shop: a larger cost is an expense, a smaller one income.
func (s *Service) QuickAdjust(ctx context.Context, movementID int64, input QuickAdjustInput) (inventory.PurchaseEdit, error) {
	var edit inventory.PurchaseEdit
	err := s.repo.WithTx(ctx, func(ctx context.Context, _ TxRepository) error {
		if err := s.ensureUnmanaged(ctx, movementID); err != nil {
			return err
		}
		var err error
		edit, err = s.stock.EditPurchase(ctx, movementID, inventory.EditPurchaseInput{
			Item:      input.Item,
			Quantity:  input.Quantity,
			UnitPrice: input.UnitCost,
			Note:      input.Note,
			ActorID:   input.ActorID,
		})
		if err != nil {
			return err
		}
		delta := edit.After.TotalAmount.Sub(edit.Before.TotalAmount)
		if delta.IsZero() {
			return nil
		}
		direction := accounts.DirectionOut
		if delta.IsNegative() {
			direction = accounts.DirectionIn
		}
		_, err = s.shop.AdjustAmount(ctx, direction, accounts.ShopPosting{
			Amount:      delta.Abs(),
			Category:    accounts.CategoryStockAdjustment,
			Description: accounts.Describe("Stock adjust "+edit.After.Code, "cost_delta="+delta.StringFixed(2)),
			ActorID:     input.ActorID,
			Source:      shared.Source(shared.SourceMovement, movementID),
		})
		return err
	})
	return edit, err
}

// QuickRemove deletes a quick restock and refunds its cost to the shop.
func (s *Service) QuickRemove(ctx context.Context, movementID int64, actorID int64) (inventory.Movement, error) {
	var removed inventory.Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, _ TxRepository) error {
		if err := s.ensureUnmanaged(ctx, movementID); err != nil {
			return err
		}
		var err error
		removed, err = s.stock.RevertPurchase(ctx, movementID, actorID)
		if err != nil {
			return err
		}
		if !removed.TotalAmount.IsPositive() {
			return nil
		}
		_, err = s.shop.AdjustAmount(ctx, accounts.DirectionIn, accounts.ShopPosting{
			Amount:      removed.TotalAmount,
			Category:    accounts.CategoryStockAdjustment,
			Description: accounts.Describe("Stock removed "+removed.Code, "refund="+removed.TotalAmount.StringFixed(2)),
			ActorID:     actorID,
			Source:      shared.Source(shared.SourceMovement, movementID),
		})
		return err
	})
	return removed, err
}

func (s *Service) ensureUnmanaged(ctx context.Context, movementID int64) error {
	m, err := s.stock.Movement(ctx, movementID)
	if err != nil {
		return err
	}
	if m.Source.Type == shared.SourcePurchase {
		return fmt.Errorf("%w: %s", ErrManagedByPurchase, m.Code)
	}
	return nil
}
