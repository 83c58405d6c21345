package sales

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
	"github.com/hospital-backoffice/backoffice/internal/directory"
	"github.com/hospital-backoffice/backoffice/internal/inventory"
	"github.com/hospital-backoffice/backoffice/internal/platform/db"
	"github.com/hospital-backoffice/backoffice/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSale(ctx context.Context, id int64) (Sale, error)
	ListSales(ctx context.Context, filter ListFilter) ([]Sale, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	InsertSale(ctx context.Context, sale Sale) (Sale, error)
	// GetSaleForUpdate locks the header and returns it with lines and payments.
	GetSaleForUpdate(ctx context.Context, id int64) (Sale, error)
	UpdateSale(ctx context.Context, sale Sale) error
	DeleteSale(ctx context.Context, id int64) error
	InsertLine(ctx context.Context, line Line) (Line, error)
	DeleteLines(ctx context.Context, saleID int64) error
	InsertPayment(ctx context.Context, payment Payment) (Payment, error)
	DeletePayments(ctx context.Context, saleID int64) error
}

// StockLedger is the part of the movement ledger sales depend on.
type StockLedger interface {
	Resolve(ctx context.Context, ref inventory.ItemRef) (inventory.ItemHandle, error)
	Record(ctx context.Context, input inventory.RecordInput) (inventory.Movement, error)
	RevertSource(ctx context.Context, src shared.SourceRef, actorID int64) ([]inventory.Movement, error)
}

// ShopLedger receives the shop side of every cash movement.
type ShopLedger interface {
	PostIncome(ctx context.Context, p accounts.ShopPosting) (accounts.ShopEntry, error)
	PostExpense(ctx context.Context, p accounts.ShopPosting) (accounts.ShopEntry, error)
}

// ConsolidatedLedger receives the cash-recognised side of sales.
type ConsolidatedLedger interface {
	PostIncome(ctx context.Context, p accounts.ConsolidatedPosting) (accounts.ConsolidatedEntry, error)
	PostExpense(ctx context.Context, p accounts.ConsolidatedPosting) (accounts.ConsolidatedEntry, error)
	TotalForSource(ctx context.Context, src shared.SourceRef, typ accounts.EntryType) (accounts.Totals, error)
}

// Service orchestrates sale create, edit, delete and payments. Each
// operation is one unit of work across stock, shop and consolidated ledgers.
type Service struct {
	repo         RepositoryPort
	stock        StockLedger
	shop         ShopLedger
	consolidated ConsolidatedLedger
	directory    directory.Lookup
	idempotency  shared.IdempotencyPort
	audit        shared.AuditPort
	logger       *slog.Logger
	now          func() time.Time
}

// Deps groups the collaborators of Service.
type Deps struct {
	Stock        StockLedger
	Shop         ShopLedger
	Consolidated ConsolidatedLedger
	Directory    directory.Lookup
	Idempotency  shared.IdempotencyPort
	Audit        shared.AuditPort
	Logger       *slog.Logger
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
		shop:         deps.Shop,
		consolidated: deps.Consolidated,
		directory:    deps.Directory,
		idempotency:  deps.Idempotency,
		audit:        deps.Audit,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Create records a sale: stock out for every line, the advance as income in
// the shop and consolidated ledgers. Nothing is written if any step fails.
func (s *Service) Create(ctx context.Context, input Input) (Sale, error) {
	if err := validateInput(input); err != nil {
		return Sale{}, err
	}
	customer, err := s.resolveCustomer(ctx, input.Customer)
	if err != nil {
		return Sale{}, err
	}
	key := strings.TrimSpace(input.IdempotencyKey)
	if key != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, "sale:"+key, "sales"); err != nil {
			return Sale{}, err
		}
	}
	var created Sale
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		plan, err := s.plan(ctx, input)
		if err != nil {
			return err
		}
		now := s.now()
		sale, err := tx.InsertSale(ctx, Sale{
			Number:    shared.NewCode("INV"),
			Customer:  customer,
			SellerID:  input.SellerID,
			SaleDate:  shared.DateOrNow(input.SaleDate, s.now),
			Status:    StatusPending,
			Notes:     strings.TrimSpace(input.Notes),
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		created, err = s.apply(ctx, tx, sale, plan, input, true)
		return err
	})
	if err != nil {
		if key != "" && s.idempotency != nil {
			_ = s.idempotency.Delete(ctx, "sale:"+key)
		}
		s.logger.WarnContext(ctx, "sale create failed", slog.Any("error", err))
		return Sale{}, err
	}
	s.afterCommit(ctx, input.ActorID, "sales:create", created)
	return created, nil
}

// Edit rebuilds a sale from new inputs: stock and shop cash of the old
// version are reverted, then the sale is re-applied on the same id.
// Consolidated income recognised earlier is left untouched.
func (s *Service) Edit(ctx context.Context, id int64, input Input) (Sale, error) {
	if err := validateInput(input); err != nil {
		return Sale{}, err
	}
	customer, err := s.resolveCustomer(ctx, input.Customer)
	if err != nil {
		return Sale{}, err
	}
	var edited Sale
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := s.revert(ctx, tx, sale, input.ActorID, "edit"); err != nil {
			return err
		}
		plan, err := s.plan(ctx, input)
		if err != nil {
			return err
		}
		if sale.Status == StatusDelivered && plan.due(input.Advance).IsPositive() {
			return fmt.Errorf("%w: delivered sale %s would owe %s", ErrPaymentIncomplete, sale.Number, plan.due(input.Advance).StringFixed(2))
		}
		sale.Customer = customer
		sale.SellerID = input.SellerID
		if !input.SaleDate.IsZero() {
			sale.SaleDate = input.SaleDate
		}
		sale.Notes = strings.TrimSpace(input.Notes)
		sale.Lines, sale.Payments = nil, nil
		edited, err = s.apply(ctx, tx, sale, plan, input, false)
		return err
	})
	if err != nil {
		s.logger.WarnContext(ctx, "sale edit failed", slog.Int64("sale_id", id), slog.Any("error", err))
		return Sale{}, err
	}
	s.afterCommit(ctx, input.ActorID, "sales:edit", edited)
	return edited, nil
}

// Delete removes a sale and everything it posted: stock returns to the
// items, every payment is reversed in the shop ledger and the consolidated
// income recognised for the sale is reversed as an expense.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	var deleted Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := s.revert(ctx, tx, sale, actorID, "delete"); err != nil {
			return err
		}
		if err := s.reverseConsolidated(ctx, sale, actorID); err != nil {
			return err
		}
		deleted = sale
		return tx.DeleteSale(ctx, sale.ID)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "sale delete failed", slog.Int64("sale_id", id), slog.Any("error", err))
		return err
	}
	s.afterCommit(ctx, actorID, "sales:delete", deleted)
	return nil
}

// AddPayment takes a later payment against the outstanding due. It is
// recognised in both ledgers on the payment date, not the sale date.
func (s *Service) AddPayment(ctx context.Context, id int64, input PaymentInput) (Sale, error) {
	if !input.Amount.IsPositive() {
		return Sale{}, shared.ErrInvalidAmount
	}
	amount := shared.Round2(input.Amount)
	methodName, err := s.methodName(ctx, input.MethodID)
	if err != nil {
		return Sale{}, err
	}
	var updated Sale
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if amount.GreaterThan(sale.DueAmount) {
			return fmt.Errorf("%w: payment %s exceeds due %s on %s", shared.ErrOverpayment, amount.StringFixed(2), sale.DueAmount.StringFixed(2), sale.Number)
		}
		now := s.now()
		payment, err := tx.InsertPayment(ctx, Payment{
			SaleID:         sale.ID,
			Amount:         amount,
			MethodID:       input.MethodID,
			MethodName:     methodName,
			TransactionRef: strings.TrimSpace(input.TransactionRef),
			Note:           strings.TrimSpace(input.Note),
			ReceivedBy:     input.ActorID,
			PaidAt:         now,
		})
		if err != nil {
			return err
		}
		sale.Payments = append(sale.Payments, payment)
		sale.DueAmount = sale.TotalAmount.Sub(sale.PaidAmount())
		sale.UpdatedAt = now
		if err := tx.UpdateSale(ctx, sale); err != nil {
			return err
		}
		description := accounts.Describe("Optics sale payment "+sale.Number,
			"paid="+amount.StringFixed(2), "due="+sale.DueAmount.StringFixed(2))
		if err := s.postIncome(ctx, sale, amount, accounts.CategorySalePayment, description, now, input.ActorID, true); err != nil {
			return err
		}
		updated = sale
		return nil
	})
	if err != nil {
		return Sale{}, err
	}
	s.afterCommit(ctx, input.ActorID, "sales:payment", updated)
	return updated, nil
}

// UpdateStatus moves a sale forward. Delivery requires a zero due.
func (s *Service) UpdateStatus(ctx context.Context, id int64, status Status, actorID int64) (Sale, error) {
	if !status.Valid() {
		return Sale{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	var updated Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !sale.Status.CanTransition(status) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, sale.Status, status)
		}
		if status == StatusDelivered && sale.DueAmount.IsPositive() {
			return fmt.Errorf("%w: %s still owes %s", ErrPaymentIncomplete, sale.Number, sale.DueAmount.StringFixed(2))
		}
		sale.Status = status
		sale.UpdatedAt = s.now()
		updated = sale
		return tx.UpdateSale(ctx, sale)
	})
	if err != nil {
		return Sale{}, err
	}
	s.afterCommit(ctx, actorID, "sales:status", updated)
	return updated, nil
}

// Get returns a sale with its lines and payments.
func (s *Service) Get(ctx context.Context, id int64) (Sale, error) {
	return s.repo.GetSale(ctx, id)
}

// List returns sale headers.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Sale, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	return s.repo.ListSales(ctx, filter)
}

type plannedLine struct {
	handle    inventory.ItemHandle
	quantity  int64
	unitPrice decimal.Decimal
	total     decimal.Decimal
}

type salePlan struct {
	lines    []plannedLine
	subtotal decimal.Decimal
	fitting  decimal.Decimal
	discount decimal.Decimal
	total    decimal.Decimal
}

func (p salePlan) due(advance decimal.Decimal) decimal.Decimal {
	return p.total.Sub(shared.Round2(advance))
}

// plan resolves lines, checks stock for every line and validates the money
// before anything is written.
func (s *Service) plan(ctx context.Context, input Input) (salePlan, error) {
	plan := salePlan{
		subtotal: decimal.Zero,
		fitting:  shared.Round2(input.FittingCharge),
		discount: shared.Round2(input.Discount),
	}
	requested := make(map[inventory.ItemRef]int64)
	handles := make(map[inventory.ItemRef]inventory.ItemHandle)
	for _, line := range input.Lines {
		handle, ok := handles[line.Item]
		if !ok {
			var err error
			handle, err = s.stock.Resolve(ctx, line.Item)
			if errors.Is(err, inventory.ErrItemNotFound) {
				return salePlan{}, fmt.Errorf("%w: %s", inventory.ErrInvalidLineItem, line.Item)
			}
			if err != nil {
				return salePlan{}, err
			}
			if !handle.Active {
				return salePlan{}, fmt.Errorf("%w: %s is inactive", inventory.ErrInvalidLineItem, line.Item)
			}
			handles[line.Item] = handle
		}
		requested[line.Item] += line.Quantity
		if requested[line.Item] > handle.Stock {
			return salePlan{}, &inventory.InsufficientStockError{
				Item:      line.Item,
				Name:      handle.Name,
				Available: handle.Stock,
				Requested: requested[line.Item],
			}
		}
		price := handle.SellingPrice
		if line.UnitPrice != nil {
			price = *line.UnitPrice
		}
		price = shared.Round2(price)
		total := price.Mul(decimal.NewFromInt(line.Quantity))
		plan.lines = append(plan.lines, plannedLine{handle: handle, quantity: line.Quantity, unitPrice: price, total: total})
		plan.subtotal = plan.subtotal.Add(total)
	}
	plan.total = plan.subtotal.Add(plan.fitting).Sub(plan.discount)
	if plan.total.IsNegative() {
		return salePlan{}, ErrNegativeTotal
	}
	if advance := shared.Round2(input.Advance); advance.GreaterThan(plan.total) {
		return salePlan{}, fmt.Errorf("%w: advance %s exceeds total %s", shared.ErrOverpayment, advance.StringFixed(2), plan.total.StringFixed(2))
	}
	return plan, nil
}

// apply writes lines, movements, the advance payment and its postings onto
// an existing header.
func (s *Service) apply(ctx context.Context, tx TxRepository, sale Sale, plan salePlan, input Input, postConsolidated bool) (Sale, error) {
	advance := shared.Round2(input.Advance)
	sale.Subtotal = plan.subtotal
	sale.FittingCharge = plan.fitting
	sale.Discount = plan.discount
	sale.TotalAmount = plan.total
	sale.AdvancePayment = advance
	sale.DueAmount = plan.due(advance)

	itemsDesc := make([]string, 0, len(plan.lines))
	for _, pl := range plan.lines {
		movement, err := s.stock.Record(ctx, inventory.RecordInput{
			Item:      pl.handle.Ref,
			Type:      inventory.MovementSale,
			Quantity:  -pl.quantity,
			UnitPrice: pl.unitPrice,
			Note:      "sale " + sale.Number,
			ActorID:   input.ActorID,
			Source:    sale.Source(),
		})
		if err != nil {
			return Sale{}, err
		}
		line, err := tx.InsertLine(ctx, Line{
			SaleID:     sale.ID,
			Item:       pl.handle.Ref,
			ItemName:   pl.handle.Name,
			Quantity:   pl.quantity,
			UnitPrice:  pl.unitPrice,
			TotalPrice: pl.total,
			MovementID: movement.ID,
		})
		if err != nil {
			return Sale{}, err
		}
		sale.Lines = append(sale.Lines, line)
		itemsDesc = append(itemsDesc, fmt.Sprintf("%s x%d", pl.handle.Name, pl.quantity))
	}

	if advance.IsPositive() {
		methodName, err := s.methodName(ctx, input.PaymentMethodID)
		if err != nil {
			return Sale{}, err
		}
		payment, err := tx.InsertPayment(ctx, Payment{
			SaleID:         sale.ID,
			Amount:         advance,
			MethodID:       input.PaymentMethodID,
			MethodName:     methodName,
			TransactionRef: strings.TrimSpace(input.TransactionRef),
			Note:           "advance",
			ReceivedBy:     input.ActorID,
			PaidAt:         sale.SaleDate,
		})
		if err != nil {
			return Sale{}, err
		}
		sale.Payments = append(sale.Payments, payment)
		description := accounts.Describe("Optics sale "+sale.Number,
			"total="+sale.TotalAmount.StringFixed(2),
			"advance="+advance.StringFixed(2),
			"due="+sale.DueAmount.StringFixed(2),
			"items="+strings.Join(itemsDesc, "; "))
		if err := s.postIncome(ctx, sale, advance, accounts.CategorySaleAdvance, description, sale.SaleDate, input.ActorID, postConsolidated); err != nil {
			return Sale{}, err
		}
	}
	sale.UpdatedAt = s.now()
	if err := tx.UpdateSale(ctx, sale); err != nil {
		return Sale{}, err
	}
	return sale, nil
}

// revert puts the stock of every line back, reverses all payments in the
// shop ledger and removes lines and payments. The header survives.
func (s *Service) revert(ctx context.Context, tx TxRepository, sale Sale, actorID int64, reason string) error {
	if _, err := s.stock.RevertSource(ctx, sale.Source(), actorID); err != nil {
		return err
	}
	if err := tx.DeleteLines(ctx, sale.ID); err != nil {
		return err
	}
	if paid := sale.PaidAmount(); paid.IsPositive() {
		if _, err := s.shop.PostExpense(ctx, accounts.ShopPosting{
			Amount:      paid,
			Category:    accounts.CategorySaleReversal,
			Description: accounts.Describe("Optics sale "+reason+" "+sale.Number, "reversed="+paid.StringFixed(2)),
			Date:        s.now(),
			ActorID:     actorID,
			Source:      sale.Source(),
		}); err != nil {
			return err
		}
	}
	return tx.DeletePayments(ctx, sale.ID)
}

func (s *Service) reverseConsolidated(ctx context.Context, sale Sale, actorID int64) error {
	if s.consolidated == nil {
		return nil
	}
	totals, err := s.consolidated.TotalForSource(ctx, sale.Source(), "")
	if err != nil {
		return err
	}
	net := totals.Income.Sub(totals.Expense)
	if !net.IsPositive() {
		return nil
	}
	_, err = s.consolidated.PostExpense(ctx, accounts.ConsolidatedPosting{
		Amount:       net,
		CategoryName: accounts.CategoryOpticsSaleReversal,
		Description:  accounts.Describe("Optics sale delete "+sale.Number, "reversed="+net.StringFixed(2)),
		Date:         s.now(),
		ActorID:      actorID,
		Source:       sale.Source(),
	})
	return err
}

func (s *Service) postIncome(ctx context.Context, sale Sale, amount decimal.Decimal, category, description string, date time.Time, actorID int64, consolidated bool) error {
	if _, err := s.shop.PostIncome(ctx, accounts.ShopPosting{
		Amount:      amount,
		Category:    category,
		Description: description,
		Date:        date,
		ActorID:     actorID,
		Source:      sale.Source(),
	}); err != nil {
		return err
	}
	if !consolidated || s.consolidated == nil {
		return nil
	}
	_, err := s.consolidated.PostIncome(ctx, accounts.ConsolidatedPosting{
		Amount:       amount,
		CategoryName: accounts.CategoryOpticsIncome,
		Description:  description,
		Date:         date,
		ActorID:      actorID,
		Source:       sale.Source(),
	})
	return err
}

func (s *Service) resolveCustomer(ctx context.Context, in CustomerInput) (Customer, error) {
	if in.PatientID != nil && *in.PatientID > 0 {
		if s.directory == nil {
			return Customer{}, fmt.Errorf("%w: patient directory unavailable", directory.ErrPatientNotFound)
		}
		p, err := s.directory.Patient(ctx, *in.PatientID)
		if err != nil {
			return Customer{}, err
		}
		id := p.ID
		return Customer{PatientID: &id, Name: p.Name, Phone: p.Phone, Email: p.Email}, nil
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Customer{}, ErrCustomerRequired
	}
	return Customer{Name: name, Phone: strings.TrimSpace(in.Phone), Email: strings.TrimSpace(in.Email)}, nil
}

func (s *Service) methodName(ctx context.Context, id int64) (string, error) {
	if id == 0 || s.directory == nil {
		return "", nil
	}
	m, err := s.directory.PaymentMethod(ctx, id)
	if err != nil {
		return "", err
	}
	return m.Name, nil
}

func (s *Service) afterCommit(ctx context.Context, actorID int64, action string, sale Sale) {
	db.AfterCommit(ctx, func(ctx context.Context) {
		s.logger.InfoContext(ctx, "sale "+strings.TrimPrefix(action, "sales:"),
			slog.Int64("sale_id", sale.ID),
			slog.String("number", sale.Number),
			slog.String("total", sale.TotalAmount.StringFixed(2)),
			slog.String("due", sale.DueAmount.StringFixed(2)))
		if s.audit == nil {
			return
		}
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   "sale",
			EntityID: strconv.FormatInt(sale.ID, 10),
			Meta: map[string]any{
				"number": sale.Number,
				"total":  sale.TotalAmount.String(),
				"due":    sale.DueAmount.String(),
				"status": string(sale.Status),
			},
		})
	})
}

func validateInput(input Input) error {
	if len(input.Lines) == 0 {
		return ErrNoLines
	}
	for _, line := range input.Lines {
		if err := line.Item.Validate(); err != nil {
			return err
		}
		if line.Quantity <= 0 {
			return inventory.ErrInvalidQuantity
		}
		if line.UnitPrice != nil && line.UnitPrice.IsNegative() {
			return inventory.ErrInvalidPrice
		}
	}
	if input.FittingCharge.IsNegative() || input.Discount.IsNegative() || input.Advance.IsNegative() {
		return fmt.Errorf("sales: amounts must not be negative: %w", shared.ErrValidation)
	}
	return nil
}
