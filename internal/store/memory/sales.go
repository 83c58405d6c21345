package memory

import (
	"context"

	"github.com/hospital-backoffice/backoffice/internal/sales"
)

// SalesRepo implements sales.RepositoryPort and sales.TxRepository.
type SalesRepo struct {
	s *Store
}

// Sales returns the sale repository.
func (s *Store) Sales() *SalesRepo {
	return &SalesRepo{s: s}
}

// WithTx executes the callback inside the ambient or a new unit of work.
func (r *SalesRepo) WithTx(ctx context.Context, fn func(context.Context, sales.TxRepository) error) error {
	return r.s.WithTx(ctx, func(ctx context.Context) error {
		return fn(ctx, r)
	})
}

// GetSale loads a sale with lines and payments.
func (r *SalesRepo) GetSale(ctx context.Context, id int64) (sales.Sale, error) {
	var sale sales.Sale
	err := r.s.read(ctx, func(st *state) error {
		var err error
		sale, err = st.sale(id)
		return err
	})
	return sale, err
}

// ListSales lists sale headers newest first.
func (r *SalesRepo) ListSales(ctx context.Context, filter sales.ListFilter) ([]sales.Sale, error) {
	var out []sales.Sale
	err := r.s.read(ctx, func(st *state) error {
		for _, sale := range descending(st.salesByID) {
			if filter.Status != "" && sale.Status != filter.Status {
				continue
			}
			if !inWindow(sale.SaleDate, filter.From, filter.To) {
				continue
			}
			out = append(out, sale)
		}
		return nil
	})
	return limit(out, filter.Limit), err
}

// InsertSale assigns an id and stores the header.
func (r *SalesRepo) InsertSale(_ context.Context, sale sales.Sale) (sales.Sale, error) {
	sale.ID = r.s.st.next("sales")
	r.s.st.salesByID[sale.ID] = header(sale)
	return sale, nil
}

// GetSaleForUpdate loads a sale with lines and payments inside the unit of work.
func (r *SalesRepo) GetSaleForUpdate(_ context.Context, id int64) (sales.Sale, error) {
	return r.s.st.sale(id)
}

// UpdateSale replaces the header.
func (r *SalesRepo) UpdateSale(_ context.Context, sale sales.Sale) error {
	if _, ok := r.s.st.salesByID[sale.ID]; !ok {
		return sales.ErrSaleNotFound
	}
	r.s.st.salesByID[sale.ID] = header(sale)
	return nil
}

// DeleteSale removes the header with its lines and payments.
func (r *SalesRepo) DeleteSale(ctx context.Context, id int64) error {
	delete(r.s.st.salesByID, id)
	_ = r.DeleteLines(ctx, id)
	return r.DeletePayments(ctx, id)
}

// InsertLine appends a line.
func (r *SalesRepo) InsertLine(_ context.Context, line sales.Line) (sales.Line, error) {
	line.ID = r.s.st.next("sale_lines")
	r.s.st.saleLines[line.ID] = line
	return line, nil
}

// DeleteLines removes every line of a sale.
func (r *SalesRepo) DeleteLines(_ context.Context, saleID int64) error {
	for id, line := range r.s.st.saleLines {
		if line.SaleID == saleID {
			delete(r.s.st.saleLines, id)
		}
	}
	return nil
}

// InsertPayment appends a payment.
func (r *SalesRepo) InsertPayment(_ context.Context, p sales.Payment) (sales.Payment, error) {
	p.ID = r.s.st.next("sale_payments")
	r.s.st.salePayments[p.ID] = p
	return p, nil
}

// DeletePayments removes every payment of a sale.
func (r *SalesRepo) DeletePayments(_ context.Context, saleID int64) error {
	for id, p := range r.s.st.salePayments {
		if p.SaleID == saleID {
			delete(r.s.st.salePayments, id)
		}
	}
	return nil
}

func header(sale sales.Sale) sales.Sale {
	sale.Lines, sale.Payments = nil, nil
	return sale
}

func (st *state) sale(id int64) (sales.Sale, error) {
	sale, ok := st.salesByID[id]
	if !ok {
		return sales.Sale{}, sales.ErrSaleNotFound
	}
	for _, line := range ascending(st.saleLines) {
		if line.SaleID == id {
			sale.Lines = append(sale.Lines, line)
		}
	}
	for _, p := range ascending(st.salePayments) {
		if p.SaleID == id {
			sale.Payments = append(sale.Payments, p)
		}
	}
	return sale, nil
}
