package procurement

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/hospital-backoffice/backoffice/internal/inventory"
	"github.com/hospital-backoffice/backoffice/internal/platform/httpx"
	"github.com/hospital-backoffice/backoffice/internal/shared"
)

// Handler wires HTTP endpoints for purchases, vendor payments and quick stock ops.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs procurement handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/purchases", h.list)
	r.Post("/purchases", h.create)
	r.Route("/purchases/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Put("/", h.edit)
		r.Delete("/", h.delete)
		r.Post("/payments", h.payDue)
	})
	r.Post("/vendor-payments", h.payVendor)
	r.Post("/quick-stock", h.quickRestock)
	r.Put("/quick-stock/{id}", h.quickAdjust)
	r.Delete("/quick-stock/{id}", h.quickRemove)
}

type purchaseRequest struct {
	VendorID        *int64          `json:"vendor_id" validate:"omitempty,gt=0"`
	Kind            string          `json:"kind" validate:"required,oneof=frame lens complete_glasses"`
	ItemID          int64           `json:"item_id" validate:"required,gt=0"`
	Quantity        int64           `json:"quantity" validate:"required,gt=0"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	Paid            decimal.Decimal `json:"paid"`
	PaymentMethodID int64           `json:"payment_method_id" validate:"gte=0"`
	PurchaseDate    time.Time       `json:"purchase_date"`
	Note            string          `json:"note" validate:"max=1000"`
}

type payDueRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	MethodID int64           `json:"method_id" validate:"gte=0"`
	Date     time.Time       `json:"date"`
	Note     string          `json:"note" validate:"max=500"`
}

type vendorPaymentRequest struct {
	VendorID int64           `json:"vendor_id" validate:"required,gt=0"`
	Amount   decimal.Decimal `json:"amount"`
	MethodID int64           `json:"method_id" validate:"gte=0"`
	Date     time.Time       `json:"date"`
	Memo     string          `json:"memo" validate:"max=500"`
}

type quickStockRequest struct {
	Kind     string          `json:"kind" validate:"required,oneof=frame lens complete_glasses"`
	ItemID   int64           `json:"item_id" validate:"required,gt=0"`
	Quantity int64           `json:"quantity" validate:"required,gt=0"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	Note     *string         `json:"note" validate:"omitempty,max=500"`
}

func (req quickStockRequest) item() inventory.ItemRef {
	return inventory.ItemRef{Kind: inventory.ItemKind(req.Kind), ID: req.ItemID}
}

func (req purchaseRequest) input(r *http.Request) Input {
	return Input{
		VendorID:        req.VendorID,
		Item:            inventory.ItemRef{Kind: inventory.ItemKind(req.Kind), ID: req.ItemID},
		Quantity:        req.Quantity,
		UnitCost:        req.UnitCost,
		Paid:            req.Paid,
		PaymentMethodID: req.PaymentMethodID,
		PurchaseDate:    req.PurchaseDate,
		Note:            req.Note,
		ActorID:         shared.ActorFromContext(r.Context()),
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	vendorID, err := httpx.QueryInt(r, "vendor_id", 0)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	limit, err := httpx.QueryInt(r, "limit", 100)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	list, err := h.service.List(r.Context(), ListFilter{VendorID: int64(vendorID), Limit: limit})
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	p, err := h.service.Create(r.Context(), req.input(r))
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) edit(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	var req purchaseRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	p, err := h.service.Edit(r.Context(), id, req.input(r))
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	if err := h.service.Delete(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) payDue(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	var req payDueRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	p, err := h.service.PayDue(r.Context(), id, PayDueInput{
		Amount:   req.Amount,
		MethodID: req.MethodID,
		Date:     req.Date,
		Note:     req.Note,
		ActorID:  shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) payVendor(w http.ResponseWriter, r *http.Request) {
	var req vendorPaymentRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	entry, err := h.service.PayVendor(r.Context(), VendorPaymentInput{
		VendorID: req.VendorID,
		Amount:   req.Amount,
		MethodID: req.MethodID,
		Date:     req.Date,
		Memo:     req.Memo,
		ActorID:  shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) quickRestock(w http.ResponseWriter, r *http.Request) {
	var req quickStockRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	note := ""
	if req.Note != nil {
		note = *req.Note
	}
	m, err := h.service.QuickRestock(r.Context(), QuickRestockInput{
		Item:     req.item(),
		Quantity: req.Quantity,
		UnitCost: req.UnitCost,
		Note:     note,
		ActorID:  shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) quickAdjust(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	var req quickStockRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	edit, err := h.service.QuickAdjust(r.Context(), id, QuickAdjustInput{
		Item:     req.item(),
		Quantity: req.Quantity,
		UnitCost: req.UnitCost,
		Note:     req.Note,
		ActorID:  shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, edit)
}

func (h *Handler) quickRemove(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	m, err := h.service.QuickRemove(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}
