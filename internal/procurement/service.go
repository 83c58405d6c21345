package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hospital-backoffice/backoffice/internal/accounts"
	"github.com/hospital-backoffice/backoffice/internal/inventory"
	"github.com/hospital-backoffice/backoffice/internal/platform/db"
	"github.com/hospital-backoffice/backoffice/internal/shared"
	"github.com/hospital-backoffice/backoffice/internal/vendors"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPurchase(ctx context.Context, id int64) (Purchase, error)
	ListPurchases(ctx context.Context, filter ListFilter) ([]Purchase, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	InsertPurchase(ctx context.Context, p Purchase) (Purchase, error)
	// GetPurchaseForUpdate locks the purchase and returns it with payments.
	GetPurchaseForUpdate(ctx context.Context, id int64) (Purchase, error)
	UpdatePurchase(ctx context.Context, p Purchase) error
	DeletePurchase(ctx context.Context, id int64) error
	// OpenPurchasesForUpdate locks a vendor's purchases that still carry a
	// due, oldest first.
	OpenPurchasesForUpdate(ctx context.Context, vendorID int64) ([]Purchase, error)
	InsertPayment(ctx context.Context, payment Payment) (Payment, error)
	DeletePayments(ctx context.Context, purchaseID int64) error
}

// StockLedger is the part of the movement ledger purchases depend on.
type StockLedger interface {
	Record(ctx context.Context, input inventory.RecordInput) (inventory.Movement, error)
	EditPurchase(ctx context.Context, movementID int64, input inventory.EditPurchaseInput) (inventory.PurchaseEdit, error)
	RevertPurchase(ctx context.Context, movementID int64, actorID int64) (inventory.Movement, error)
	Movement(ctx context.Context, id int64) (inventory.Movement, error)
	Resolve(ctx context.Context, ref inventory.ItemRef) (inventory.ItemHandle, error)
}

// VendorLedger tracks what the shop owes each vendor.
type VendorLedger interface {
	Get(ctx context.Context, id int64) (vendors.Vendor, error)
	AddPurchaseDue(ctx context.Context, input vendors.PostingInput) (vendors.LedgerEntry, error)
	AddPayment(ctx context.Context, input vendors.PostingInput) (vendors.LedgerEntry, error)
	ReversePurchaseDue(ctx context.Context, input vendors.PostingInput) (vendors.LedgerEntry, error)
}

// ConsolidatedLedger receives the cash actually paid for stock.
type ConsolidatedLedger interface {
	PostIncome(ctx context.Context, p accounts.ConsolidatedPosting) (accounts.ConsolidatedEntry, error)
	PostExpense(ctx context.Context, p accounts.ConsolidatedPosting) (accounts.ConsolidatedEntry, error)
}

// ShopLedger receives the cash side of ledger-only stock operations.
type ShopLedger interface {
	PostExpense(ctx context.Context, p accounts.ShopPosting) (accounts.ShopEntry, error)
	AdjustAmount(ctx context.Context, direction accounts.Direction, p accounts.ShopPosting) (accounts.ShopEntry, error)
}

// Deps groups the collaborators of Service.
type Deps struct {
	Stock        StockLedger
	Vendors      VendorLedger
	Consolidated ConsolidatedLedger
	Shop         ShopLedger
	Audit        shared.AuditPort
	Logger       *slog.Logger
}

// Service orchestrates purchases across stock, vendor balance and the
// consolidated ledger.
type Service struct {
	repo         RepositoryPort
	stock        StockLedger
	vendors      VendorLedger
	consolidated ConsolidatedLedger
	shop         ShopLedger
	audit        shared.AuditPort
	logger       *slog.Logger
	now          func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:         repo,
		stock:        deps.Stock,
		vendors:      deps.Vendors,
		consolidated: deps.Consolidated,
		shop:         deps.Shop,
		audit:        deps.Audit,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

type amounts struct {
	total decimal.Decimal
	paid  decimal.Decimal
	due   decimal.Decimal
}

// settle computes total, paid and due. Without a vendor there is no credit,
// so the whole total counts as paid.
func settle(input Input) (amounts, error) {
	if input.Quantity <= 0 {
		return amounts{}, inventory.ErrInvalidQuantity
	}
	if input.UnitCost.IsNegative() {
		return amounts{}, inventory.ErrInvalidPrice
	}
	if input.Paid.IsNegative() {
		return amounts{}, fmt.Errorf("procurement: paid must not be negative: %w", shared.ErrValidation)
	}
	total := shared.Round2(input.UnitCost.Mul(decimal.NewFromInt(input.Quantity)))
	paid := shared.Round2(input.Paid)
	if input.VendorID == nil || *input.VendorID <= 0 {
		paid = total
	}
	if paid.GreaterThan(total) {
		return amounts{}, fmt.Errorf("%w: paid %s exceeds total %s", shared.ErrOverpayment, paid.StringFixed(2), total.StringFixed(2))
	}
	return amounts{total: total, paid: paid, due: total.Sub(paid)}, nil
}

// Create books a purchase: stock in, the due onto the vendor and the paid
// part as a consolidated expense.
func (s *Service) Create(ctx context.Context, input Input) (Purchase, error) {
	money, err := settle(input)
	if err != nil {
		return Purchase{}, err
	}
	var created Purchase
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		vendorID, err := s.checkVendor(ctx, input.VendorID)
		if err != nil {
			return err
		}
		handle, err := s.stock.Resolve(ctx, input.Item)
		if err != nil {
			return lineItemError(err, input.Item)
		}
		now := s.now()
		p, err := tx.InsertPurchase(ctx, Purchase{
			Number:       shared.NewCode("PUR"),
			VendorID:     vendorID,
			Item:         input.Item,
			ItemName:     handle.Name,
			Quantity:     input.Quantity,
			UnitCost:     input.UnitCost,
			TotalCost:    money.total,
			PaidAmount:   money.paid,
			DueAmount:    money.due,
			Status:       DeriveStatus(money.paid, money.total),
			PurchaseDate: shared.DateOrNow(input.PurchaseDate, s.now),
			Note:         strings.TrimSpace(input.Note),
			ActorID:      input.ActorID,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			return err
		}
		movement, err := s.stock.Record(ctx, inventory.RecordInput{
			Item:      input.Item,
			Type:      inventory.MovementPurchase,
			Quantity:  input.Quantity,
			UnitPrice: input.UnitCost,
			Note:      "purchase " + p.Number,
			ActorID:   input.ActorID,
			Source:    p.Source(),
		})
		if err != nil {
			return err
		}
		p.MovementID = movement.ID
		if p.HasVendor() && money.due.IsPositive() {
			if _, err := s.vendors.AddPurchaseDue(ctx, vendors.PostingInput{
				VendorID: *p.VendorID,
				Amount:   money.due,
				Memo:     "purchase " + p.Number,
				Source:   p.Source(),
				Date:     p.PurchaseDate,
				ActorID:  input.ActorID,
			}); err != nil {
				return err
			}
		}
		if money.paid.IsPositive() {
			entry, err := s.consolidated.PostExpense(ctx, accounts.ConsolidatedPosting{
				Amount:       money.paid,
				CategoryName: accounts.CategoryOpticsPurchase,
				Description:  describePurchase(p),
				Date:         p.PurchaseDate,
				ActorID:      input.ActorID,
				Source:       p.Source(),
			})
			if err != nil {
				return err
			}
			p.ConsolidatedEntryID = entryID(entry)
		}
		created = p
		return tx.UpdatePurchase(ctx, p)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "purchase create failed", slog.Any("error", err))
		return Purchase{}, err
	}
	s.afterCommit(ctx, input.ActorID, "procurement:create", created)
	return created, nil
}

// PayDue settles part of a purchase's due with the vendor and recognises the
// payment as a consolidated expense.
func (s *Service) PayDue(ctx context.Context, id int64, input PayDueInput) (Purchase, error) {
	if !input.Amount.IsPositive() {
		return Purchase{}, shared.ErrInvalidAmount
	}
	amount := shared.Round2(input.Amount)
	var updated Purchase
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPurchaseForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if amount.GreaterThan(p.DueAmount) {
			return fmt.Errorf("%w: payment %s exceeds due %s on %s", shared.ErrOverpayment, amount.StringFixed(2), p.DueAmount.StringFixed(2), p.Number)
		}
		date := shared.DateOrNow(input.Date, s.now)
		payment := Payment{
			PurchaseID: p.ID,
			Amount:     amount,
			MethodID:   input.MethodID,
			Note:       strings.TrimSpace(input.Note),
			PaidAt:     date,
			ActorID:    input.ActorID,
		}
		if p.HasVendor() {
			entry, err := s.vendors.AddPayment(ctx, vendors.PostingInput{
				VendorID:        *p.VendorID,
				Amount:          amount,
				Memo:            "payment for " + p.Number,
				Source:          p.Source(),
				PaymentMethodID: input.MethodID,
				Date:            date,
				ActorID:         input.ActorID,
			})
			if err != nil {
				return err
			}
			payment.VendorEntryID = entry.ID
		}
		entry, err := s.consolidated.PostExpense(ctx, accounts.ConsolidatedPosting{
			Amount:       amount,
			CategoryName: accounts.CategoryOpticsPurchase,
			Description:  accounts.Describe("Optics purchase payment "+p.Number, "paid="+amount.StringFixed(2)),
			Date:         date,
			ActorID:      input.ActorID,
			Source:       p.Source(),
		})
		if err != nil {
			return err
		}
		payment.ConsolidatedEntryID = entryID(entry)
		payment, err = tx.InsertPayment(ctx, payment)
		if err != nil {
			return err
		}
		p.Payments = append(p.Payments, payment)
		p.PaidAmount = p.PaidAmount.Add(amount)
		p.DueAmount = p.TotalCost.Sub(p.PaidAmount)
		p.Status = DeriveStatus(p.PaidAmount, p.TotalCost)
		p.UpdatedAt = s.now()
		updated = p
		return tx.UpdatePurchase(ctx, p)
	})
	if err != nil {
		return Purchase{}, err
	}
	s.afterCommit(ctx, input.ActorID, "procurement:pay_due", updated)
	return updated, nil
}

// Edit is the one way to change a purchase. Stock, the vendor balance and
// the consolidated ledger move by the difference between the old and new
// versions. input.Paid is the amount paid at booking; due payments already
// recorded stay paid, so the new total may not drop below them.
func (s *Service) Edit(ctx context.Context, id int64, input Input) (Purchase, error) {
	money, err := settle(input)
	if err != nil {
		return Purchase{}, err
	}
	var edited Purchase
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPurchaseForUpdate(ctx, id)
		if err != nil {
			return err
		}
		vendorID, err := s.checkVendor(ctx, input.VendorID)
		if err != nil {
			return err
		}
		paid := money.paid
		if later := p.PaidLater(); later.IsPositive() {
			if vendorKey(p) != vendorKey(Purchase{VendorID: vendorID}) {
				return fmt.Errorf("%w: %s", ErrVendorLocked, p.Number)
			}
			paid = paid.Add(later)
			if paid.GreaterThan(money.total) {
				return fmt.Errorf("%w: total %s is below %s already paid on %s", shared.ErrOverpayment, money.total.StringFixed(2), paid.StringFixed(2), p.Number)
			}
		}
		change, err := s.stock.EditPurchase(ctx, p.MovementID, inventory.EditPurchaseInput{
			Item:      input.Item,
			Quantity:  input.Quantity,
			UnitPrice: input.UnitCost,
			ActorID:   input.ActorID,
		})
		if err != nil {
			return lineItemError(err, input.Item)
		}
		next := p
		next.VendorID = vendorID
		next.Item = change.After.Item
		if next.Item != p.Item {
			handle, err := s.stock.Resolve(ctx, next.Item)
			if err != nil {
				return err
			}
			next.ItemName = handle.Name
		}
		next.Quantity = input.Quantity
		next.UnitCost = input.UnitCost
		next.TotalCost = money.total
		next.PaidAmount = paid
		next.DueAmount = money.total.Sub(paid)
		next.Status = DeriveStatus(paid, money.total)
		if !input.PurchaseDate.IsZero() {
			next.PurchaseDate = input.PurchaseDate
		}
		next.Note = strings.TrimSpace(input.Note)
		next.UpdatedAt = s.now()

		if err := s.moveVendorDue(ctx, p, next, input.ActorID); err != nil {
			return err
		}
		if err := s.moveConsolidatedPaid(ctx, p, next, input.ActorID); err != nil {
			return err
		}
		edited = next
		return tx.UpdatePurchase(ctx, next)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "purchase edit failed", slog.Int64("purchase_id", id), slog.Any("error", err))
		return Purchase{}, err
	}
	s.afterCommit(ctx, input.ActorID, "procurement:edit", edited)
	return edited, nil
}

// Delete reverts a purchase exactly: stock leaves the item, the open due
// leaves the vendor and paid cash returns to the consolidated ledger.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	var deleted Purchase
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPurchaseForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if _, err := s.stock.RevertPurchase(ctx, p.MovementID, actorID); err != nil {
			return err
		}
		if p.HasVendor() && p.DueAmount.IsPositive() {
			if _, err := s.vendors.ReversePurchaseDue(ctx, vendors.PostingInput{
				VendorID: *p.VendorID,
				Amount:   p.DueAmount,
				Memo:     "purchase deleted " + p.Number,
				Source:   p.Source(),
				ActorID:  actorID,
			}); err != nil {
				return err
			}
		}
		if p.PaidAmount.IsPositive() {
			if _, err := s.consolidated.PostIncome(ctx, accounts.ConsolidatedPosting{
				Amount:       p.PaidAmount,
				CategoryName: accounts.CategoryOpticsPurchaseReversal,
				Description:  accounts.Describe("Optics purchase deleted "+p.Number, "reversed="+p.PaidAmount.StringFixed(2)),
				Date:         s.now(),
				ActorID:      actorID,
				Source:       p.Source(),
			}); err != nil {
				return err
			}
		}
		if err := tx.DeletePayments(ctx, p.ID); err != nil {
			return err
		}
		deleted = p
		return tx.DeletePurchase(ctx, p.ID)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "purchase delete failed", slog.Int64("purchase_id", id), slog.Any("error", err))
		return err
	}
	s.afterCommit(ctx, actorID, "procurement:delete", deleted)
	return nil
}

// PayVendor pays a vendor against its running balance. While the vendor is
// in due, paying more than the due is rejected rather than turned into an
// advance. The payment settles the vendor's open purchases oldest first, so
// a later PayDue on one of them cannot pay the same debt twice.
func (s *Service) PayVendor(ctx context.Context, input VendorPaymentInput) (vendors.LedgerEntry, error) {
	if !input.Amount.IsPositive() {
		return vendors.LedgerEntry{}, shared.ErrInvalidAmount
	}
	amount := shared.Round2(input.Amount)
	var entry vendors.LedgerEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := s.vendors.Get(ctx, input.VendorID)
		if err != nil {
			return err
		}
		if v.Position.Type == vendors.BalanceDue && amount.GreaterThan(v.Position.Balance) {
			return fmt.Errorf("%w: payment %s exceeds due %s for %s", shared.ErrOverpayment, amount.StringFixed(2), v.Position.Balance.StringFixed(2), v.Name)
		}
		src := shared.Source(shared.SourceVendor, v.ID)
		date := shared.DateOrNow(input.Date, s.now)
		entry, err = s.vendors.AddPayment(ctx, vendors.PostingInput{
			VendorID:        v.ID,
			Amount:          amount,
			Memo:            input.Memo,
			Source:          src,
			PaymentMethodID: input.MethodID,
			Date:            date,
			ActorID:         input.ActorID,
		})
		if err != nil {
			return err
		}
		cash, err := s.consolidated.PostExpense(ctx, accounts.ConsolidatedPosting{
			Amount:       amount,
			CategoryName: accounts.CategoryVendorPayment,
			Description:  accounts.Describe("Vendor payment "+v.Name, "paid="+amount.StringFixed(2)),
			Date:         date,
			ActorID:      input.ActorID,
			Source:       src,
		})
		if err != nil {
			return err
		}
		return s.allocate(ctx, tx, v.ID, amount, Payment{
			MethodID:            input.MethodID,
			Note:                strings.TrimSpace(input.Memo),
			PaidAt:              date,
			VendorEntryID:       entry.ID,
			ConsolidatedEntryID: entryID(cash),
			ActorID:             input.ActorID,
		})
	})
	if err != nil {
		return vendors.LedgerEntry{}, err
	}
	return entry, nil
}

// Get returns a purchase with its payments.
func (s *Service) Get(ctx context.Context, id int64) (Purchase, error) {
	return s.repo.GetPurchase(ctx, id)
}

// ListByVendor lists purchases of one vendor, newest first.
func (s *Service) ListByVendor(ctx context.Context, vendorID int64) ([]Purchase, error) {
	return s.repo.ListPurchases(ctx, ListFilter{VendorID: vendorID, Limit: 200})
}

// List lists purchases newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Purchase, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	return s.repo.ListPurchases(ctx, filter)
}

// allocate spreads a vendor payment over open purchases, oldest first. What is
// left once every due is cleared stays on the vendor as an advance.
func (s *Service) allocate(ctx context.Context, tx TxRepository, vendorID int64, amount decimal.Decimal, template Payment) error {
	open, err := tx.OpenPurchasesForUpdate(ctx, vendorID)
	if err != nil {
		return err
	}
	remaining := amount
	for _, p := range open {
		if !remaining.IsPositive() {
			break
		}
		part := decimal.Min(remaining, p.DueAmount)
		payment := template
		payment.PurchaseID = p.ID
		payment.Amount = part
		if _, err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}
		p.PaidAmount = p.PaidAmount.Add(part)
		p.DueAmount = p.TotalCost.Sub(p.PaidAmount)
		p.Status = DeriveStatus(p.PaidAmount, p.TotalCost)
		p.UpdatedAt = s.now()
		if err := tx.UpdatePurchase(ctx, p); err != nil {
			return err
		}
		remaining = remaining.Sub(part)
	}
	return nil
}

func (s *Service) moveVendorDue(ctx context.Context, before, after Purchase, actorID int64) error {
	oldVendor, newVendor := vendorKey(before), vendorKey(after)
	post := func(vendorID int64, delta decimal.Decimal) error {
		if vendorID == 0 || delta.IsZero() {
			return nil
		}
		in := vendors.PostingInput{
			VendorID: vendorID,
			Amount:   delta.Abs(),
			Memo:     "purchase edited " + after.Number,
			Source:   after.Source(),
			ActorID:  actorID,
		}
		var err error
		if delta.IsPositive() {
			_, err = s.vendors.AddPurchaseDue(ctx, in)
		} else {
			_, err = s.vendors.ReversePurchaseDue(ctx, in)
		}
		return err
	}
	if oldVendor == newVendor {
		return post(newVendor, after.DueAmount.Sub(before.DueAmount))
	}
	if err := post(oldVendor, before.DueAmount.Neg()); err != nil {
		return err
	}
	return post(newVendor, after.DueAmount)
}

func (s *Service) moveConsolidatedPaid(ctx context.Context, before, after Purchase, actorID int64) error {
	delta := after.PaidAmount.Sub(before.PaidAmount)
	if delta.IsZero() {
		return nil
	}
	posting := accounts.ConsolidatedPosting{
		Amount:      delta.Abs(),
		Description: accounts.Describe("Optics purchase edited "+after.Number, "paid_delta="+delta.StringFixed(2)),
		Date:        s.now(),
		ActorID:     actorID,
		Source:      after.Source(),
	}
	if delta.IsPositive() {
		posting.CategoryName = accounts.CategoryOpticsPurchase
		_, err := s.consolidated.PostExpense(ctx, posting)
		return err
	}
	posting.CategoryName = accounts.CategoryOpticsPurchaseReversal
	_, err := s.consolidated.PostIncome(ctx, posting)
	return err
}

func (s *Service) checkVendor(ctx context.Context, id *int64) (*int64, error) {
	if id == nil || *id <= 0 {
		return nil, nil
	}
	v, err := s.vendors.Get(ctx, *id)
	if err != nil {
		return nil, err
	}
	vid := v.ID
	return &vid, nil
}

func (s *Service) afterCommit(ctx context.Context, actorID int64, action string, p Purchase) {
	db.AfterCommit(ctx, func(ctx context.Context) {
		s.logger.InfoContext(ctx, "purchase "+strings.TrimPrefix(action, "procurement:"),
			slog.Int64("purchase_id", p.ID),
			slog.String("number", p.Number),
			slog.String("total", p.TotalCost.StringFixed(2)),
			slog.String("due", p.DueAmount.StringFixed(2)))
		if s.audit == nil {
			return
		}
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   "purchase",
			EntityID: strconv.FormatInt(p.ID, 10),
			Meta: map[string]any{
				"number": p.Number,
				"total":  p.TotalCost.String(),
				"paid":   p.PaidAmount.String(),
				"due":    p.DueAmount.String(),
			},
		})
	})
}

func vendorKey(p Purchase) int64 {
	if !p.HasVendor() {
		return 0
	}
	return *p.VendorID
}

func entryID(e accounts.ConsolidatedEntry) *int64 {
	if e.ID == 0 {
		return nil
	}
	id := e.ID
	return &id
}

func describePurchase(p Purchase) string {
	return accounts.Describe("Optics purchase "+p.Number,
		"item="+p.ItemName,
		"qty="+strconv.FormatInt(p.Quantity, 10),
		"total="+p.TotalCost.StringFixed(2),
		"paid="+p.PaidAmount.StringFixed(2),
		"due="+p.DueAmount.StringFixed(2))
}

func lineItemError(err error, ref inventory.ItemRef) error {
	if errors.Is(err, inventory.ErrItemNotFound) {
		return fmt.Errorf("%w: %s", inventory.ErrInvalidLineItem, ref)
	}
	return err
}
