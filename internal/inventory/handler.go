package inventory

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/hospital-backoffice/backoffice/internal/platform/httpx"
	"github.com/hospital-backoffice/backoffice/internal/shared"
)

// Handler wires HTTP endpoints for the movement ledger.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/items", h.listItems)
	r.Post("/items", h.createItem)
	r.Get("/items/low-stock", h.lowStock)
	r.Route("/items/{kind}/{id}", func(r chi.Router) {
		r.Get("/", h.getItem)
		r.Delete("/", h.deleteItem)
		r.Get("/movements", h.stockCard)
		r.Post("/adjustments", h.adjust)
		r.Get("/verify", h.verifyItem)
	})
	r.Get("/movements/{id}", h.getMovement)
	r.Get("/verify", h.verifyAll)
}

type createItemRequest struct {
	Kind          string          `json:"kind" validate:"required,oneof=frame lens complete_glasses"`
	Code          string          `json:"code" validate:"max=64"`
	Name          string          `json:"name" validate:"required,max=200"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	MinStock      int64           `json:"min_stock" validate:"gte=0"`
	OpeningStock  int64           `json:"opening_stock" validate:"gte=0"`
}

type adjustRequest struct {
	Quantity int64  `json:"quantity" validate:"required"`
	Note     string `json:"note" validate:"max=500"`
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	filter := ItemFilter{Kind: ItemKind(r.URL.Query().Get("kind"))}
	if filter.Kind != "" && !filter.Kind.Valid() {
		httpx.BadRequest(w, "unknown kind")
		return
	}
	filter.ActiveOnly, _ = strconv.ParseBool(r.URL.Query().Get("active"))
	items, err := h.service.ListItems(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	item, err := h.service.CreateItem(r.Context(), NewItemInput{
		Kind:          ItemKind(req.Kind),
		Code:          req.Code,
		Name:          req.Name,
		PurchasePrice: req.PurchasePrice,
		SellingPrice:  req.SellingPrice,
		MinStock:      req.MinStock,
		OpeningStock:  req.OpeningStock,
		ActorID:       shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item.Handle())
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.LowStock(r.Context())
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	ref, ok := itemRefParam(w, r)
	if !ok {
		return
	}
	item, err := h.service.Resolve(r.Context(), ref)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	ref, ok := itemRefParam(w, r)
	if !ok {
		return
	}
	outcome, err := h.service.DeleteItem(r.Context(), ref, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]DeleteOutcome{"outcome": outcome})
}

func (h *Handler) stockCard(w http.ResponseWriter, r *http.Request) {
	ref, ok := itemRefParam(w, r)
	if !ok {
		return
	}
	limit, err := httpx.QueryInt(r, "limit", 100)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	movements, err := h.service.StockCard(r.Context(), ref, limit)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	ref, ok := itemRefParam(w, r)
	if !ok {
		return
	}
	var req adjustRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	movement, err := h.service.Adjust(r.Context(), AdjustInput{
		Item:     ref,
		Quantity: req.Quantity,
		Note:     req.Note,
		ActorID:  shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) verifyItem(w http.ResponseWriter, r *http.Request) {
	ref, ok := itemRefParam(w, r)
	if !ok {
		return
	}
	d, err := h.service.Verify(r.Context(), ref)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"consistent": d == nil, "discrepancy": d})
}

func (h *Handler) getMovement(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	m, err := h.service.Movement(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) verifyAll(w http.ResponseWriter, r *http.Request) {
	drift, err := h.service.VerifyAll(r.Context())
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	if drift == nil {
		drift = []Discrepancy{}
	}
	httpx.JSON(w, http.StatusOK, drift)
}

func itemRefParam(w http.ResponseWriter, r *http.Request) (ItemRef, bool) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.BadRequest(w, err.Error())
		return ItemRef{}, false
	}
	ref, err := ParseItemRef(chi.URLParam(r, "kind"), id)
	if err != nil {
		httpx.RespondError(w, r, err)
		return ItemRef{}, false
	}
	return ref, true
}
