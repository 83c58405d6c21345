package memory

import (
	"context"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/hospital-backoffice/backoffice/internal/inventory"
	"github.com/hospital-backoffice/backoffice/internal/shared"
)

// InventoryRepo implements inventory.RepositoryPort and inventory.TxRepository.
type InventoryRepo struct {
	s *Store
}

// Inventory returns the movement ledger repository.
func (s *Store) Inventory() *InventoryRepo {
	return &InventoryRepo{s: s}
}

// WithTx executes the callback inside the ambient or a new unit of work.
func (r *InventoryRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return r.s.WithTx(ctx, func(ctx context.Context) error {
		return fn(ctx, r)
	})
}

// GetItem loads one item.
func (r *InventoryRepo) GetItem(ctx context.Context, ref inventory.ItemRef) (inventory.Item, error) {
	var item inventory.Item
	err := r.s.read(ctx, func(st *state) error {
		var err error
		item, err = st.item(ref)
		return err
	})
	return item, err
}

// ListItems lists items by kind then id.
func (r *InventoryRepo) ListItems(ctx context.Context, filter inventory.ItemFilter) ([]inventory.Item, error) {
	var out []inventory.Item
	err := r.s.read(ctx, func(st *state) error {
		for _, item := range st.items {
			if filter.Kind != "" && item.Ref.Kind != filter.Kind {
				continue
			}
			if filter.ActiveOnly && !item.Active {
				continue
			}
			out = append(out, item)
		}
		return nil
	})
	slices.SortFunc(out, func(a, b inventory.Item) int {
		if a.Ref.Kind != b.Ref.Kind {
			return slices.Index(inventory.Kinds, a.Ref.Kind) - slices.Index(inventory.Kinds, b.Ref.Kind)
		}
		return int(a.Ref.ID - b.Ref.ID)
	})
	return out, err
}

// GetMovement loads one movement.
func (r *InventoryRepo) GetMovement(ctx context.Context, id int64) (inventory.Movement, error) {
	var m inventory.Movement
	err := r.s.read(ctx, func(st *state) error {
		var ok bool
		if m, ok = st.movements[id]; !ok {
			return inventory.ErrMovementNotFound
		}
		return nil
	})
	return m, err
}

// ListMovements lists movements oldest first.
func (r *InventoryRepo) ListMovements(ctx context.Context, filter inventory.MovementFilter) ([]inventory.Movement, error) {
	var out []inventory.Movement
	err := r.s.read(ctx, func(st *state) error {
		for _, m := range ascending(st.movements) {
			if filter.Item != nil && m.Item != *filter.Item {
				continue
			}
			if filter.Source != nil && m.Source != *filter.Source {
				continue
			}
			out = append(out, m)
		}
		return nil
	})
	return limit(out, filter.Limit), err
}

// LedgerSums returns the signed movement total per item.
func (r *InventoryRepo) LedgerSums(ctx context.Context) (map[inventory.ItemRef]int64, error) {
	sums := make(map[inventory.ItemRef]int64)
	err := r.s.read(ctx, func(st *state) error {
		for _, m := range st.movements {
			sums[m.Item] += m.Quantity
		}
		return nil
	})
	return sums, err
}

// InsertItem assigns an id within the item's kind.
func (r *InventoryRepo) InsertItem(_ context.Context, item inventory.Item) (inventory.Item, error) {
	if !item.Ref.Kind.Valid() {
		return inventory.Item{}, inventory.ErrInvalidLineItem
	}
	item.Ref.ID = r.s.st.next("item:" + string(item.Ref.Kind))
	r.s.st.items[item.Ref] = item
	return item, nil
}

// GetItemForUpdate loads an item; the unit of work already holds the lock.
func (r *InventoryRepo) GetItemForUpdate(_ context.Context, ref inventory.ItemRef) (inventory.Item, error) {
	return r.s.st.item(ref)
}

// ApplyStockDelta refuses a delta that would take stock below zero.
func (r *InventoryRepo) ApplyStockDelta(_ context.Context, ref inventory.ItemRef, delta int64, purchasePrice *decimal.Decimal) (inventory.StockChange, error) {
	item, err := r.s.st.item(ref)
	if err != nil {
		return inventory.StockChange{}, err
	}
	if item.Stock+delta < 0 {
		return inventory.StockChange{}, &inventory.InsufficientStockError{Item: ref, Name: item.Name, Available: item.Stock, Requested: -delta}
	}
	change := inventory.StockChange{Previous: item.Stock, New: item.Stock + delta}
	item.Stock = change.New
	if purchasePrice != nil {
		item.PurchasePrice = *purchasePrice
	}
	item.UpdatedAt = r.s.now()
	r.s.st.items[ref] = item
	return change, nil
}

// SetItemActive toggles the active flag.
func (r *InventoryRepo) SetItemActive(_ context.Context, ref inventory.ItemRef, active bool) error {
	item, err := r.s.st.item(ref)
	if err != nil {
		return err
	}
	item.Active = active
	item.UpdatedAt = r.s.now()
	r.s.st.items[ref] = item
	return nil
}

// DeleteItem removes an item.
func (r *InventoryRepo) DeleteItem(_ context.Context, ref inventory.ItemRef) error {
	if _, err := r.s.st.item(ref); err != nil {
		return err
	}
	delete(r.s.st.items, ref)
	return nil
}

// CountMovements counts movements of ref, of every type when typ is empty.
func (r *InventoryRepo) CountMovements(_ context.Context, ref inventory.ItemRef, typ inventory.MovementType) (int64, error) {
	var n int64
	for _, m := range r.s.st.movements {
		if m.Item == ref && (typ == "" || m.Type == typ) {
			n++
		}
	}
	return n, nil
}

// InsertMovement appends a movement.
func (r *InventoryRepo) InsertMovement(_ context.Context, m inventory.Movement) (inventory.Movement, error) {
	m.ID = r.s.st.next("movements")
	r.s.st.movements[m.ID] = m
	return m, nil
}

// GetMovementForUpdate loads one movement inside the unit of work.
func (r *InventoryRepo) GetMovementForUpdate(_ context.Context, id int64) (inventory.Movement, error) {
	m, ok := r.s.st.movements[id]
	if !ok {
		return inventory.Movement{}, inventory.ErrMovementNotFound
	}
	return m, nil
}

// UpdateMovement replaces a movement.
func (r *InventoryRepo) UpdateMovement(_ context.Context, m inventory.Movement) error {
	if _, ok := r.s.st.movements[m.ID]; !ok {
		return inventory.ErrMovementNotFound
	}
	r.s.st.movements[m.ID] = m
	return nil
}

// DeleteMovement removes a movement.
func (r *InventoryRepo) DeleteMovement(_ context.Context, id int64) error {
	delete(r.s.st.movements, id)
	return nil
}

// ListMovementsBySource lists the movements of src oldest first.
func (r *InventoryRepo) ListMovementsBySource(_ context.Context, src shared.SourceRef) ([]inventory.Movement, error) {
	var out []inventory.Movement
	for _, m := range ascending(r.s.st.movements) {
		if m.Source == src {
			out = append(out, m)
		}
	}
	return out, nil
}

func (st *state) item(ref inventory.ItemRef) (inventory.Item, error) {
	item, ok := st.items[ref]
	if !ok {
		return inventory.Item{}, inventory.ErrItemNotFound
	}
	return item, nil
}
