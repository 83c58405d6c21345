package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hospital-backoffice/backoffice/internal/accounts"
	"github.com/hospital-backoffice/backoffice/internal/directory"
	"github.com/hospital-backoffice/backoffice/internal/inventory"
	"github.com/hospital-backoffice/backoffice/internal/procurement"
	"github.com/hospital-backoffice/backoffice/internal/sales"
	"github.com/hospital-backoffice/backoffice/internal/shared"
	"github.com/hospital-backoffice/backoffice/internal/store/memory"
	"github.com/hospital-backoffice/backoffice/internal/vendors"
)

// Repositories groups the storage ports of every ledger. All of them must
// share one unit-of-work mechanism so cross-ledger operations commit together.
type Repositories struct {
	Inventory   inventory.RepositoryPort
	Vendors     vendors.RepositoryPort
	Accounts    accounts.RepositoryPort
	Sales       sales.RepositoryPort
	Procurement procurement.RepositoryPort
	Directory   directory.Lookup
	Idempotency shared.IdempotencyPort
	Audit       shared.AuditPort
}

// PostgresRepositories binds every port to the pool.
func PostgresRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Inventory:   inventory.NewRepository(pool),
		Vendors:     vendors.NewRepository(pool),
		Accounts:    accounts.NewRepository(pool),
		Sales:       sales.NewRepository(pool),
		Procurement: procurement.NewRepository(pool),
		Directory:   directory.NewRepository(pool),
		Idempotency: shared.NewIdempotencyStore(pool),
		Audit:       shared.NewAuditLogger(pool),
	}
}

// MemoryRepositories binds every port to one in-memory store. Audit records
// go to the logger.
func MemoryRepositories(store *memory.Store, logger *slog.Logger) Repositories {
	return Repositories{
		Inventory:   store.Inventory(),
		Vendors:     store.Vendors(),
		Accounts:    store.Accounts(),
		Sales:       store.Sales(),
		Procurement: store.Procurement(),
		Directory:   store,
		Idempotency: store,
		Audit:       shared.SlogAudit{Logger: logger},
	}
}

// ServiceOptions tunes NewServices.
type ServiceOptions struct {
	Logger             *slog.Logger
	BalanceCache       accounts.BalancePort
	ConsolidatedMirror bool
}

// Services is the assembled ledger core.
type Services struct {
	Inventory    *inventory.Service
	Vendors      *vendors.Service
	Shop         *accounts.ShopLedger
	Consolidated *accounts.ConsolidatedLedger
	Poster       *accounts.Poster
	Sales        *sales.Service
	Procurement  *procurement.Service
}

// NewServices wires the leaf ledgers first and the orchestrators on top.
func NewServices(repos Repositories, opts ServiceOptions) *Services {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stock := inventory.NewService(repos.Inventory, repos.Audit, logger.With(slog.String("component", "inventory")))
	vendorLedger := vendors.NewService(repos.Vendors, repos.Audit, logger.With(slog.String("component", "vendors")))
	shop := accounts.NewShopLedger(repos.Accounts, opts.BalanceCache, logger.With(slog.String("component", "shop_ledger")))
	consolidated := accounts.NewConsolidatedLedger(repos.Accounts, opts.BalanceCache, logger.With(slog.String("component", "consolidated_ledger")), opts.ConsolidatedMirror)

	return &Services{
		Inventory:    stock,
		Vendors:      vendorLedger,
		Shop:         shop,
		Consolidated: consolidated,
		Poster:       accounts.NewPoster(shop, consolidated),
		Sales: sales.NewService(repos.Sales, sales.Deps{
			Stock:        stock,
			Shop:         shop,
			Consolidated: consolidated,
			Directory:    repos.Directory,
			Idempotency:  repos.Idempotency,
			Audit:        repos.Audit,
			Logger:       logger.With(slog.String("component", "sales")),
		}),
		Procurement: procurement.NewService(repos.Procurement, procurement.Deps{
			Stock:        stock,
			Vendors:      vendorLedger,
			Consolidated: consolidated,
			Shop:         shop,
			Audit:        repos.Audit,
			Logger:       logger.With(slog.String("component", "procurement")),
		}),
	}
}

// Observe reports committed shop and consolidated postings to o.
func (s *Services) Observe(o accounts.PostingObserver) {
	s.Shop.Observe(o)
	s.Consolidated.Observe(o)
}
