package memory

import (
	"context"

	"github.com/hospital-backoffice/backoffice/internal/procurement"
)

// ProcurementRepo implements procurement.RepositoryPort and procurement.TxRepository.
type ProcurementRepo struct {
	s *Store
}

// Procurement returns the purchase repository.
func (s *Store) Procurement() *ProcurementRepo {
	return &ProcurementRepo{s: s}
}

// WithTx executes the callback inside the ambient or a new unit of work.
func (r *ProcurementRepo) WithTx(ctx context.Context, fn func(context.Context, procurement.TxRepository) error) error {
	return r.s.WithTx(ctx, func(ctx context.Context) error {
		return fn(ctx, r)
	})
}

// GetPurchase loads a purchase with payments.
func (r *ProcurementRepo) GetPurchase(ctx context.Context, id int64) (procurement.Purchase, error) {
	var p procurement.Purchase
	err := r.s.read(ctx, func(st *state) error {
		var err error
		p, err = st.purchase(id)
		return err
	})
	return p, err
}

// ListPurchases lists purchase headers newest first.
func (r *ProcurementRepo) ListPurchases(ctx context.Context, filter procurement.ListFilter) ([]procurement.Purchase, error) {
	var out []procurement.Purchase
	err := r.s.read(ctx, func(st *state) error {
		for _, p := range descending(st.purchases) {
			if filter.VendorID != 0 && (p.VendorID == nil || *p.VendorID != filter.VendorID) {
				continue
			}
			out = append(out, p)
		}
		return nil
	})
	return limit(out, filter.Limit), err
}

// InsertPurchase assigns an id and stores the header.
func (r *ProcurementRepo) InsertPurchase(_ context.Context, p procurement.Purchase) (procurement.Purchase, error) {
	p.ID = r.s.st.next("purchases")
	p.Payments = nil
	r.s.st.purchases[p.ID] = p
	return p, nil
}

// GetPurchaseForUpdate loads a purchase with payments inside the unit of work.
func (r *ProcurementRepo) GetPurchaseForUpdate(_ context.Context, id int64) (procurement.Purchase, error) {
	return r.s.st.purchase(id)
}

// UpdatePurchase replaces the header.
func (r *ProcurementRepo) UpdatePurchase(_ context.Context, p procurement.Purchase) error {
	if _, ok := r.s.st.purchases[p.ID]; !ok {
		return procurement.ErrPurchaseNotFound
	}
	p.Payments = nil
	r.s.st.purchases[p.ID] = p
	return nil
}

// DeletePurchase removes the header.
func (r *ProcurementRepo) DeletePurchase(_ context.Context, id int64) error {
	delete(r.s.st.purchases, id)
	return nil
}

// OpenPurchasesForUpdate lists a vendor's purchases with a due, oldest first.
func (r *ProcurementRepo) OpenPurchasesForUpdate(_ context.Context, vendorID int64) ([]procurement.Purchase, error) {
	var out []procurement.Purchase
	for _, p := range ascending(r.s.st.purchases) {
		if p.VendorID != nil && *p.VendorID == vendorID && p.DueAmount.IsPositive() {
			out = append(out, p)
		}
	}
	return out, nil
}

// InsertPayment appends a purchase payment.
func (r *ProcurementRepo) InsertPayment(_ context.Context, p procurement.Payment) (procurement.Payment, error) {
	p.ID = r.s.st.next("purchase_payments")
	r.s.st.purchasePayments[p.ID] = p
	return p, nil
}

// DeletePayments removes every payment of a purchase.
func (r *ProcurementRepo) DeletePayments(_ context.Context, purchaseID int64) error {
	for id, p := range r.s.st.purchasePayments {
		if p.PurchaseID == purchaseID {
			delete(r.s.st.purchasePayments, id)
		}
	}
	return nil
}

func (st *state) purchase(id int64) (procurement.Purchase, error) {
	p, ok := st.purchases[id]
	if !ok {
		return procurement.Purchase{}, procurement.ErrPurchaseNotFound
	}
	for _, pay := range ascending(st.purchasePayments) {
		if pay.PurchaseID == id {
			p.Payments = append(p.Payments, pay)
		}
	}
	return p, nil
}
