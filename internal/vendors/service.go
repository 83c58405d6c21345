package vendors

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hospital-backoffice/backoffice/internal/platform/db"
	"github.com/hospital-backoffice/backoffice/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetVendor(ctx context.Context, id int64) (Vendor, error)
	ListVendors(ctx context.Context) ([]Vendor, error)
	ListEntries(ctx context.Context, vendorID int64) ([]LedgerEntry, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	InsertVendor(ctx context.Context, v Vendor) (Vendor, error)
	GetVendorForUpdate(ctx context.Context, id int64) (Vendor, error)
	UpdatePosition(ctx context.Context, id int64, pos Position) error
	InsertEntry(ctx context.Context, entry LedgerEntry) (LedgerEntry, error)
}

// Service maintains vendor balances. Every change is a ledger entry.
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

// Create registers a vendor with a zero due balance.
func (s *Service) Create(ctx context.Context, input NewVendorInput) (Vendor, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Vendor{}, fmt.Errorf("vendors: name required: %w", shared.ErrValidation)
	}
	var created Vendor
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.now()
		v, err := tx.InsertVendor(ctx, Vendor{
			Name:      name,
			Phone:     strings.TrimSpace(input.Phone),
			Email:     strings.TrimSpace(input.Email),
			Address:   strings.TrimSpace(input.Address),
			Position:  ZeroPosition(),
			CreatedAt: now,
			UpdatedAt: now,
		})
		created = v
		return err
	})
	return created, err
}

// Get returns a vendor.
func (s *Service) Get(ctx context.Context, id int64) (Vendor, error) {
	return s.repo.GetVendor(ctx, id)
}

// List returns all vendors.
func (s *Service) List(ctx context.Context) ([]Vendor, error) {
	return s.repo.ListVendors(ctx)
}

// Statement returns a vendor's ledger entries in posting order.
func (s *Service) Statement(ctx context.Context, id int64) ([]LedgerEntry, error) {
	if _, err := s.repo.GetVendor(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListEntries(ctx, id)
}

// AddPurchaseDue increases what the shop owes the vendor.
func (s *Service) AddPurchaseDue(ctx context.Context, input PostingInput) (LedgerEntry, error) {
	return s.post(ctx, EntryPurchaseDue, input)
}

// AddPayment records a payment to the vendor. Paying more than the due flips
// the balance into an advance; callers that must not overpay check first.
func (s *Service) AddPayment(ctx context.Context, input PostingInput) (LedgerEntry, error) {
	return s.post(ctx, EntryPayment, input)
}

// ReversePurchaseDue takes back a previously posted purchase due.
func (s *Service) ReversePurchaseDue(ctx context.Context, input PostingInput) (LedgerEntry, error) {
	return s.post(ctx, EntryPurchaseReversal, input)
}

// ReversePayment takes back a previously posted payment.
func (s *Service) ReversePayment(ctx context.Context, input PostingInput) (LedgerEntry, error) {
	return s.post(ctx, EntryPaymentReversal, input)
}

func (s *Service) post(ctx context.Context, typ EntryType, input PostingInput) (LedgerEntry, error) {
	if !input.Amount.IsPositive() {
		return LedgerEntry{}, shared.ErrInvalidAmount
	}
	var entry LedgerEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := tx.GetVendorForUpdate(ctx, input.VendorID)
		if err != nil {
			return err
		}
		next := v.Position.Apply(typ, shared.Round2(input.Amount))
		if err := tx.UpdatePosition(ctx, v.ID, next); err != nil {
			return err
		}
		entry, err = tx.InsertEntry(ctx, LedgerEntry{
			VendorID:        v.ID,
			Type:            typ,
			Amount:          shared.Round2(input.Amount),
			Memo:            strings.TrimSpace(input.Memo),
			Source:          input.Source,
			PaymentMethodID: input.PaymentMethodID,
			Date:            shared.DateOrNow(input.Date, s.now),
			After:           next,
			ActorID:         input.ActorID,
			CreatedAt:       s.now(),
		})
		return err
	})
	if err != nil {
		return LedgerEntry{}, err
	}
	db.AfterCommit(ctx, func(ctx context.Context) {
		if s.audit != nil {
			_ = s.audit.Record(ctx, shared.AuditLog{
				ActorID:  input.ActorID,
				Action:   "vendor:" + string(typ),
				Entity:   "vendor",
				EntityID: strconv.FormatInt(entry.VendorID, 10),
				Meta: map[string]any{
					"amount":       entry.Amount.String(),
					"balance":      entry.After.Balance.String(),
					"balance_type": string(entry.After.Type),
					"source":       entry.Source.String(),
				},
			})
		}
	})
	return entry, nil
}

// Verify replays a vendor's ledger and compares it with the stored balance.
func (s *Service) Verify(ctx context.Context, id int64) (*Discrepancy, error) {
	v, err := s.repo.GetVendor(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.verify(ctx, v)
}

// VerifyAll checks every vendor.
func (s *Service) VerifyAll(ctx context.Context) ([]Discrepancy, error) {
	vendors, err := s.repo.ListVendors(ctx)
	if err != nil {
		return nil, err
	}
	var out []Discrepancy
	for _, v := range vendors {
		d, err := s.verify(ctx, v)
		if err != nil {
			return nil, err
		}
		if d != nil {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *Service) verify(ctx context.Context, v Vendor) (*Discrepancy, error) {
	entries, err := s.repo.ListEntries(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	replayed := Replay(entries)
	if replayed.Equal(v.Position) {
		return nil, nil
	}
	s.logger.WarnContext(ctx, "vendor balance drift",
		slog.Int64("vendor_id", v.ID),
		slog.String("stored", v.Position.Signed().String()),
		slog.String("replayed", replayed.Signed().String()))
	return &Discrepancy{VendorID: v.ID, Name: v.Name, Stored: v.Position, Replayed: replayed}, nil
}
