// Package memory implements every ledger repository over one in-process
// store. A unit of work holds the store lock and restores a snapshot when
// it fails, so multi-ledger operations stay all-or-nothing without a
// database.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/hospital-backoffice/backoffice/internal/accounts"
	"github.com/hospital-backoffice/backoffice/internal/directory"
	"github.com/hospital-backoffice/backoffice/internal/inventory"
	"github.com/hospital-backoffice/backoffice/internal/platform/db"
	"github.com/hospital-backoffice/backoffice/internal/procurement"
	"github.com/hospital-backoffice/backoffice/internal/sales"
	"github.com/hospital-backoffice/backoffice/internal/shared"
	"github.com/hospital-backoffice/backoffice/internal/vendors"
)

type state struct {
	seq map[string]int64

	items     map[inventory.ItemRef]inventory.Item
	movements map[int64]inventory.Movement

	vendors       map[int64]vendors.Vendor
	vendorEntries map[int64]vendors.LedgerEntry

	shopEntries  map[int64]accounts.ShopEntry
	consEntries  map[int64]accounts.ConsolidatedEntry
	categories   map[int64]accounts.Category
	salesByID    map[int64]sales.Sale
	saleLines    map[int64]sales.Line
	salePayments map[int64]sales.Payment

	purchases        map[int64]procurement.Purchase
	purchasePayments map[int64]procurement.Payment

	patients map[int64]directory.Patient
	methods  map[int64]directory.PaymentMethod
	idem     map[string]string
}

func newState() *state {
	return &state{
		seq:              map[string]int64{},
		items:            map[inventory.ItemRef]inventory.Item{},
		movements:        map[int64]inventory.Movement{},
		vendors:          map[int64]vendors.Vendor{},
		vendorEntries:    map[int64]vendors.LedgerEntry{},
		shopEntries:      map[int64]accounts.ShopEntry{},
		consEntries:      map[int64]accounts.ConsolidatedEntry{},
		categories:       map[int64]accounts.Category{},
		salesByID:        map[int64]sales.Sale{},
		saleLines:        map[int64]sales.Line{},
		salePayments:     map[int64]sales.Payment{},
		purchases:        map[int64]procurement.Purchase{},
		purchasePayments: map[int64]procurement.Payment{},
		patients:         map[int64]directory.Patient{},
		methods:          map[int64]directory.PaymentMethod{},
		idem:             map[string]string{},
	}
}

// clone copies every table. Rows are values, so a shallow map copy is a
// full snapshot as long as nothing mutates rows through shared pointers.
func (st *state) clone() *state {
	return &state{
		seq:              maps.Clone(st.seq),
		items:            maps.Clone(st.items),
		movements:        maps.Clone(st.movements),
		vendors:          maps.Clone(st.vendors),
		vendorEntries:    maps.Clone(st.vendorEntries),
		shopEntries:      maps.Clone(st.shopEntries),
		consEntries:      maps.Clone(st.consEntries),
		categories:       maps.Clone(st.categories),
		salesByID:        maps.Clone(st.salesByID),
		saleLines:        maps.Clone(st.saleLines),
		salePayments:     maps.Clone(st.salePayments),
		purchases:        maps.Clone(st.purchases),
		purchasePayments: maps.Clone(st.purchasePayments),
		patients:         maps.Clone(st.patients),
		methods:          maps.Clone(st.methods),
		idem:             maps.Clone(st.idem),
	}
}

func (st *state) next(table string) int64 {
	st.seq[table]++
	return st.seq[table]
}

// Store is the in-memory backing of every repository port.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{st: newState(), now: func() time.Time { return time.Now().UTC() }}
}

type txKey struct{}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// WithTx runs fn as one unit of work. Nested calls join the outer one; the
// outermost call restores the snapshot when fn fails and runs commit hooks
// after releasing the lock when it succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	snapshot := s.st.clone()
	txCtx, flush := db.NewHookScope(context.WithValue(ctx, txKey{}, s))
	err := fn(txCtx)
	if err != nil {
		s.st = snapshot
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	flush(ctx)
	return nil
}

// read runs fn against the current state, taking the lock unless ctx is
// already inside a unit of work of this store.
func (s *Store) read(ctx context.Context, fn func(st *state) error) error {
	if s.inTx(ctx) {
		return fn(s.st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

// write runs a single mutation as its own unit of work, or inside the
// enclosing one.
func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		return fn(s.st)
	})
}

// AddPatient seeds the patient directory.
func (s *Store) AddPatient(p directory.Patient) directory.Patient {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.st.next("patients")
	}
	s.st.patients[p.ID] = p
	return p
}

// AddPaymentMethod seeds the payment method directory.
func (s *Store) AddPaymentMethod(m directory.PaymentMethod) directory.PaymentMethod {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == 0 {
		m.ID = s.st.next("payment_methods")
	}
	s.st.methods[m.ID] = m
	return m
}

// Patient implements directory.Lookup.
func (s *Store) Patient(ctx context.Context, id int64) (directory.Patient, error) {
	var p directory.Patient
	err := s.read(ctx, func(st *state) error {
		var ok bool
		if p, ok = st.patients[id]; !ok {
			return fmt.Errorf("%w: %d", directory.ErrPatientNotFound, id)
		}
		return nil
	})
	return p, err
}

// PaymentMethod implements directory.Lookup.
func (s *Store) PaymentMethod(ctx context.Context, id int64) (directory.PaymentMethod, error) {
	var m directory.PaymentMethod
	err := s.read(ctx, func(st *state) error {
		var ok bool
		if m, ok = st.methods[id]; !ok {
			return fmt.Errorf("%w: %d", directory.ErrPaymentMethodNotFound, id)
		}
		return nil
	})
	return m, err
}

// CheckAndInsert implements shared.IdempotencyPort.
func (s *Store) CheckAndInsert(ctx context.Context, key, module string) error {
	if key == "" || module == "" {
		return errors.New("idempotency key and module required")
	}
	return s.write(ctx, func(st *state) error {
		if _, ok := st.idem[key]; ok {
			return shared.ErrIdempotencyConflict
		}
		st.idem[key] = module
		return nil
	})
}

// Delete implements shared.IdempotencyPort.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.write(ctx, func(st *state) error {
		delete(st.idem, key)
		return nil
	})
}

// ascending returns the values of m ordered by key.
func ascending[V any](m map[int64]V) []V {
	keys := slices.Sorted(maps.Keys(m))
	out := make([]V, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

func descending[V any](m map[int64]V) []V {
	out := ascending(m)
	slices.Reverse(out)
	return out
}

func limit[V any](rows []V, n int) []V {
	if n > 0 && len(rows) > n {
		return rows[:n]
	}
	return rows
}
