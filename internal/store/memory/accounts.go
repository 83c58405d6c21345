package memory

import (
	"context"
	"time"

	"github.com/hospital-backoffice/backoffice/internal/accounts"
	"github.com/hospital-backoffice/backoffice/internal/shared"
)

// AccountsRepo implements accounts.RepositoryPort and accounts.TxRepository.
type AccountsRepo struct {
	s *Store
}

// Accounts returns the shop and consolidated ledger repository.
func (s *Store) Accounts() *AccountsRepo {
	return &AccountsRepo{s: s}
}

// WithTx executes the callback inside the ambient or a new unit of work.
func (r *AccountsRepo) WithTx(ctx context.Context, fn func(context.Context, accounts.TxRepository) error) error {
	return r.s.WithTx(ctx, func(ctx context.Context) error {
		return fn(ctx, r)
	})
}

// ShopTotals aggregates the shop ledger.
func (r *AccountsRepo) ShopTotals(ctx context.Context) (accounts.Totals, error) {
	var t accounts.Totals
	err := r.s.read(ctx, func(st *state) error {
		for _, e := range st.shopEntries {
			t = t.Add(e.Type, e.Amount)
		}
		return nil
	})
	return t, err
}

// ConsolidatedTotals aggregates the consolidated ledger.
func (r *AccountsRepo) ConsolidatedTotals(ctx context.Context) (accounts.Totals, error) {
	var t accounts.Totals
	err := r.s.read(ctx, func(st *state) error {
		for _, e := range st.consEntries {
			if e.Type == accounts.EntryIncome {
				t = t.Add(accounts.ShopIncome, e.Amount)
			} else {
				t = t.Add(accounts.ShopExpense, e.Amount)
			}
		}
		return nil
	})
	return t, err
}

// ListShopEntries lists shop entries oldest first.
func (r *AccountsRepo) ListShopEntries(ctx context.Context, filter accounts.ShopFilter) ([]accounts.ShopEntry, error) {
	var out []accounts.ShopEntry
	err := r.s.read(ctx, func(st *state) error {
		for _, e := range ascending(st.shopEntries) {
			if filter.Type != "" && e.Type != filter.Type {
				continue
			}
			if !matchSource(e.Source, filter.Source) || !inWindow(e.Date, filter.From, filter.To) {
				continue
			}
			out = append(out, e)
		}
		return nil
	})
	return limit(out, filter.Limit), err
}

// ListConsolidatedEntries lists consolidated entries oldest first.
func (r *AccountsRepo) ListConsolidatedEntries(ctx context.Context, filter accounts.ConsolidatedFilter) ([]accounts.ConsolidatedEntry, error) {
	var out []accounts.ConsolidatedEntry
	err := r.s.read(ctx, func(st *state) error {
		for _, e := range ascending(st.consEntries) {
			if filter.Type != "" && e.Type != filter.Type {
				continue
			}
			if !matchSource(e.Source, filter.Source) || !inWindow(e.Date, filter.From, filter.To) {
				continue
			}
			out = append(out, e)
		}
		return nil
	})
	return limit(out, filter.Limit), err
}

// ListCategories lists categories of kind in creation order.
func (r *AccountsRepo) ListCategories(ctx context.Context, kind accounts.CategoryKind) ([]accounts.Category, error) {
	var out []accounts.Category
	err := r.s.read(ctx, func(st *state) error {
		for _, c := range ascending(st.categories) {
			if c.Kind == kind {
				out = append(out, c)
			}
		}
		return nil
	})
	return out, err
}

// InsertShopEntry appends a shop entry.
func (r *AccountsRepo) InsertShopEntry(_ context.Context, e accounts.ShopEntry) (accounts.ShopEntry, error) {
	e.ID = r.s.st.next("shop_entries")
	r.s.st.shopEntries[e.ID] = e
	return e, nil
}

// InsertConsolidatedEntry appends a consolidated entry.
func (r *AccountsRepo) InsertConsolidatedEntry(_ context.Context, e accounts.ConsolidatedEntry) (accounts.ConsolidatedEntry, error) {
	e.ID = r.s.st.next("consolidated_entries")
	r.s.st.consEntries[e.ID] = e
	return e, nil
}

// FirstOrCreateCategory returns the category of kind named name, creating it once.
func (r *AccountsRepo) FirstOrCreateCategory(_ context.Context, kind accounts.CategoryKind, name string) (accounts.Category, error) {
	for _, c := range r.s.st.categories {
		if c.Kind == kind && c.Name == name {
			return c, nil
		}
	}
	c := accounts.Category{ID: r.s.st.next("categories"), Kind: kind, Name: name}
	r.s.st.categories[c.ID] = c
	return c, nil
}

func matchSource(src shared.SourceRef, want *shared.SourceRef) bool {
	return want == nil || src == *want
}

func inWindow(at, from, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	return to.IsZero() || !at.After(to)
}
