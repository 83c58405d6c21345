package accounts

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/hospital-backoffice/backoffice/internal/platform/httpx"
	"github.com/hospital-backoffice/backoffice/internal/shared"
)

// Handler exposes the shop and consolidated ledgers.
type Handler struct {
	logger       *slog.Logger
	shop         *ShopLedger
	consolidated *ConsolidatedLedger
	poster       *Poster
	validator    *validator.Validate
}

// NewHandler constructs accounts handler.
func NewHandler(logger *slog.Logger, shop *ShopLedger, consolidated *ConsolidatedLedger, poster *Poster) *Handler {
	return &Handler{logger: logger, shop: shop, consolidated: consolidated, poster: poster, validator: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/shop", func(r chi.Router) {
		r.Get("/balance", h.shopBalance)
		r.Get("/entries", h.shopEntries)
		r.Post("/income", h.shopPost(h.shop.PostIncome))
		r.Post("/expense", h.shopPost(h.shop.PostExpense))
		r.Post("/fund-in", h.shopPost(h.shop.FundIn))
		r.Post("/fund-out", h.shopPost(h.shop.FundOut))
		r.Post("/adjustments", h.adjust)
	})
	r.Route("/consolidated", func(r chi.Router) {
		r.Get("/balance", h.consolidatedBalance)
		r.Get("/entries", h.consolidatedEntries)
		r.Get("/categories", h.categories)
	})
	r.Post("/cash-in", h.cash(h.poster.RecordCashIn))
	r.Post("/cash-out", h.cash(h.poster.RecordCashOut))
}

type postingRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category" validate:"max=100"`
	Description string          `json:"description" validate:"max=500"`
	Date        time.Time       `json:"date"`
}

type adjustRequest struct {
	postingRequest
	Direction Direction `json:"direction" validate:"required,oneof=in out"`
}

type cashRequest struct {
	postingRequest
	ConsolidatedCategory string `json:"consolidated_category" validate:"required,max=100"`
}

type balanceResponse struct {
	Totals
	Balance decimal.Decimal `json:"balance"`
}

func (req postingRequest) shopPosting(ctx context.Context) ShopPosting {
	category := req.Category
	if category == "" {
		category = CategoryManual
	}
	return ShopPosting{
		Amount:      req.Amount,
		Category:    category,
		Description: req.Description,
		Date:        req.Date,
		ActorID:     shared.ActorFromContext(ctx),
		Source:      shared.Source(shared.SourceManual, 0),
	}
}

func (h *Handler) shopBalance(w http.ResponseWriter, r *http.Request) {
	t, err := h.shop.Balance(r.Context())
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balanceResponse{Totals: t, Balance: t.Balance()})
}

func (h *Handler) consolidatedBalance(w http.ResponseWriter, r *http.Request) {
	t, err := h.consolidated.Balance(r.Context())
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balanceResponse{Totals: t, Balance: t.Balance()})
}

func (h *Handler) shopEntries(w http.ResponseWriter, r *http.Request) {
	from, to, limit, err := window(r)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	entries, err := h.shop.Entries(r.Context(), ShopFilter{
		Type:  ShopEntryType(r.URL.Query().Get("type")),
		From:  from,
		To:    to,
		Limit: limit,
	})
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) consolidatedEntries(w http.ResponseWriter, r *http.Request) {
	from, to, limit, err := window(r)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	entries, err := h.consolidated.Entries(r.Context(), ConsolidatedFilter{
		Type:  EntryType(r.URL.Query().Get("type")),
		From:  from,
		To:    to,
		Limit: limit,
	})
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) categories(w http.ResponseWriter, r *http.Request) {
	kind := CategoryKind(r.URL.Query().Get("kind"))
	if kind != CategoryKindIncome && kind != CategoryKindExpense {
		httpx.BadRequest(w, "kind must be income or expense")
		return
	}
	list, err := h.consolidated.Categories(r.Context(), kind)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) shopPost(post func(context.Context, ShopPosting) (ShopEntry, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req postingRequest
		if err := httpx.Bind(r, h.validator, &req); err != nil {
			httpx.RespondError(w, r, err)
			return
		}
		entry, err := post(r.Context(), req.shopPosting(r.Context()))
		if err != nil {
			httpx.RespondError(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, entry)
	}
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	entry, err := h.shop.AdjustAmount(r.Context(), req.Direction, req.shopPosting(r.Context()))
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) cash(record func(context.Context, CashPosting) (Posted, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cashRequest
		if err := httpx.Bind(r, h.validator, &req); err != nil {
			httpx.RespondError(w, r, err)
			return
		}
		p := req.shopPosting(r.Context())
		posted, err := record(r.Context(), CashPosting{
			Amount:               p.Amount,
			ShopCategory:         p.Category,
			ConsolidatedCategory: req.ConsolidatedCategory,
			Description:          p.Description,
			Date:                 p.Date,
			ActorID:              p.ActorID,
			Source:               p.Source,
		})
		if err != nil {
			httpx.RespondError(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, posted)
	}
}

func window(r *http.Request) (from, to time.Time, limit int, err error) {
	if from, err = httpx.QueryDate(r, "from", false); err != nil {
		return
	}
	if to, err = httpx.QueryDate(r, "to", true); err != nil {
		return
	}
	limit, err = httpx.QueryInt(r, "limit", 200)
	return
}
