package memory

import (
	"context"

	"github.com/hospital-backoffice/backoffice/internal/vendors"
)

// VendorRepo implements vendors.RepositoryPort and vendors.TxRepository.
type VendorRepo struct {
	s *Store
}

// Vendors returns the vendor balance repository.
func (s *Store) Vendors() *VendorRepo {
	return &VendorRepo{s: s}
}

// WithTx executes the callback inside the ambient or a new unit of work.
func (r *VendorRepo) WithTx(ctx context.Context, fn func(context.Context, vendors.TxRepository) error) error {
	return r.s.WithTx(ctx, func(ctx context.Context) error {
		return fn(ctx, r)
	})
}

// GetVendor loads a vendor.
func (r *VendorRepo) GetVendor(ctx context.Context, id int64) (vendors.Vendor, error) {
	var v vendors.Vendor
	err := r.s.read(ctx, func(st *state) error {
		var ok bool
		if v, ok = st.vendors[id]; !ok {
			return vendors.ErrVendorNotFound
		}
		return nil
	})
	return v, err
}

// ListVendors lists vendors by id.
func (r *VendorRepo) ListVendors(ctx context.Context) ([]vendors.Vendor, error) {
	var out []vendors.Vendor
	err := r.s.read(ctx, func(st *state) error {
		out = ascending(st.vendors)
		return nil
	})
	return out, err
}

// ListEntries lists a vendor's ledger in posting order.
func (r *VendorRepo) ListEntries(ctx context.Context, vendorID int64) ([]vendors.LedgerEntry, error) {
	var out []vendors.LedgerEntry
	err := r.s.read(ctx, func(st *state) error {
		for _, e := range ascending(st.vendorEntries) {
			if e.VendorID == vendorID {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

// InsertVendor assigns an id.
func (r *VendorRepo) InsertVendor(_ context.Context, v vendors.Vendor) (vendors.Vendor, error) {
	v.ID = r.s.st.next("vendors")
	r.s.st.vendors[v.ID] = v
	return v, nil
}

// GetVendorForUpdate loads a vendor inside the unit of work.
func (r *VendorRepo) GetVendorForUpdate(_ context.Context, id int64) (vendors.Vendor, error) {
	v, ok := r.s.st.vendors[id]
	if !ok {
		return vendors.Vendor{}, vendors.ErrVendorNotFound
	}
	return v, nil
}

// UpdatePosition stores a vendor's balance and direction.
func (r *VendorRepo) UpdatePosition(_ context.Context, id int64, pos vendors.Position) error {
	v, ok := r.s.st.vendors[id]
	if !ok {
		return vendors.ErrVendorNotFound
	}
	v.Position = pos
	v.UpdatedAt = r.s.now()
	r.s.st.vendors[id] = v
	return nil
}

// InsertEntry appends a ledger entry.
func (r *VendorRepo) InsertEntry(_ context.Context, e vendors.LedgerEntry) (vendors.LedgerEntry, error) {
	e.ID = r.s.st.next("vendor_entries")
	r.s.st.vendorEntries[e.ID] = e
	return e, nil
}

// SetPosition overwrites a stored balance without a ledger entry. It exists
// so reconciliation can be exercised against drifted data.
func (r *VendorRepo) SetPosition(ctx context.Context, id int64, pos vendors.Position) error {
	return r.s.write(ctx, func(*state) error {
		return r.UpdatePosition(ctx, id, pos)
	})
}
