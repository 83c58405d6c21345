package sales

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

// IdempotencyHeader lets clients retry a sale creation safely.
const IdempotencyHeader = "Idempotency-Key"

// Handler wires HTTP endpoints for sales.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs sales handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Put("/", h.edit)
		r.Delete("/", h.delete)
		r.Post("/payments", h.addPayment)
		r.Patch("/status", h.updateStatus)
	})
}

type customerRequest struct {
	PatientID *int64 `json:"patient_id" validate:"omitempty,gt=0"`
	Name      string `json:"name" validate:"required_without=PatientID,max=200"`
	Phone     string `json:"phone" validate:"max=40"`
	Email     string `json:"email" validate:"omitempty,email"`
}

type lineRequest struct {
	Kind      string           `json:"kind" validate:"required,oneof=frame lens complete_glasses"`
	ItemID    int64            `json:"item_id" validate:"required,gt=0"`
	Quantity  int64            `json:"quantity" validate:"required,gt=0"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
}

type saleRequest struct {
	Customer        customerRequest `json:"customer"`
	SellerID        int64           `json:"seller_id" validate:"gte=0"`
	SaleDate        time.Time       `json:"sale_date"`
	Lines           []lineRequest   `json:"lines" validate:"required,min=1,dive"`
	FittingCharge   decimal.Decimal `json:"fitting_charge"`
	Discount        decimal.Decimal `json:"discount"`
	Advance         decimal.Decimal `json:"advance"`
	PaymentMethodID int64           `json:"payment_method_id" validate:"gte=0"`
	TransactionRef  string          `json:"transaction_ref" validate:"max=100"`
	Notes           string          `json:"notes" validate:"max=1000"`
}

type paymentRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	MethodID       int64           `json:"method_id" validate:"gte=0"`
	TransactionRef string          `json:"transaction_ref" validate:"max=100"`
	Note           string          `json:"note" validate:"max=500"`
}

type statusRequest struct {
	Status Status `json:"status" validate:"required,oneof=pending ready delivered"`
}

func (req saleRequest) input(r *http.Request) Input {
	lines := make([]LineInput, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, LineInput{
			Item:      inventory.ItemRef{Kind: inventory.ItemKind(l.Kind), ID: l.ItemID},
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		})
	}
	return Input{
		Customer:        CustomerInput(req.Customer),
		SellerID:        req.SellerID,
		SaleDate:        req.SaleDate,
		Lines:           lines,
		FittingCharge:   req.FittingCharge,
		Discount:        req.Discount,
		Advance:         req.Advance,
		PaymentMethodID: req.PaymentMethodID,
		TransactionRef:  req.TransactionRef,
		Notes:           req.Notes,
		ActorID:         shared.ActorFromContext(r.Context()),
		IdempotencyKey:  r.Header.Get(IdempotencyHeader),
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{Status: Status(r.URL.Query().Get("status"))}
	if filter.Status != "" && !filter.Status.Valid() {
		httpx.BadRequest(w, "unknown status")
		return
	}
	var err error
	if filter.From, err = httpx.QueryDate(r, "from", false); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	if filter.To, err = httpx.QueryDate(r, "to", true); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	if filter.Limit, err = httpx.QueryInt(r, "limit", 100); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	sale, err := h.service.Create(r.Context(), req.input(r))
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	sale, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) edit(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	var req saleRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	sale, err := h.service.Edit(r.Context(), id, req.input(r))
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
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

func (h *Handler) addPayment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	var req paymentRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	sale, err := h.service.AddPayment(r.Context(), id, PaymentInput{
		Amount:         req.Amount,
		MethodID:       req.MethodID,
		TransactionRef: req.TransactionRef,
		Note:           req.Note,
		ActorID:        shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	var req statusRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	sale, err := h.service.UpdateStatus(r.Context(), id, req.Status, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}
