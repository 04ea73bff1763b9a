package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"market-core/internal/domain"
	"market-core/internal/middleware"
	"market-core/internal/service"
)

// CheckoutRequest carries the buyer details confirmed at checkout
type CheckoutRequest struct {
	Name    string `json:"name" validate:"required"`
	Phone   string `json:"phone" validate:"required,mobilephone"`
	Address string `json:"address" validate:"required"`
}

// UpdateOrderStatusRequest moves an order through the status machine
type UpdateOrderStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed completed cancelled"`
}

// OrderLineResponse represents one frozen order line
type OrderLineResponse struct {
	ProductID   string                `json:"product_id"`
	ProductName string                `json:"product_name"`
	UnitPrice   string                `json:"unit_price"`
	ImageURL    string                `json:"image_url,omitempty"`
	Quantity    int                   `json:"quantity"`
	Subtotal    string                `json:"subtotal"`
	Seller      SellerContactResponse `json:"seller"`
}

// SellerContactResponse is the seller payment block frozen at checkout
type SellerContactResponse struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	PromptPayID string `json:"prompt_pay_id"`
	LineID      string `json:"line_id"`
}

// OrderResponse represents an order
type OrderResponse struct {
	ID        string              `json:"id"`
	Buyer     BuyerResponse       `json:"buyer"`
	Lines     []OrderLineResponse `json:"lines"`
	Total     string              `json:"total"`
	Status    string              `json:"status"`
	CreatedAt string              `json:"created_at"`
	UpdatedAt string              `json:"updated_at"`
}

// BuyerResponse is the buyer block frozen at checkout
type BuyerResponse struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// OrderHandler handles HTTP requests for order operations
type OrderHandler struct {
	orders service.OrderService
	logger *zap.Logger
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(orders service.OrderService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger}
}

// RegisterRoutes registers all order routes
func (h *OrderHandler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.Route("/api/orders", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/checkout", h.Checkout)
		r.Get("/", h.List)
		r.Get("/{id}", h.GetByID)
		r.Put("/{id}/status", h.UpdateStatus)
	})
}

// Checkout materializes the current cart into a pending order
func (h *OrderHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return
		}
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.orders.Materialize(r.Context(), domain.BuyerDetails{
		Name:    req.Name,
		Phone:   req.Phone,
		Address: req.Address,
	})
	if err != nil {
		h.logger.Debug("Checkout failed", zap.Error(err))
		middleware.RespondWithFault(w, err)
		return
	}

	h.logger.Info("Checkout completed", zap.String("order_id", order.ID.String()))
	middleware.RespondWithJSON(w, http.StatusCreated, toOrderResponse(order))
}

// List returns orders, newest first
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.List(r.Context(), domain.OrderFilter{
		Status: r.URL.Query().Get("status"),
	})
	if err != nil {
		h.logger.Error("Order list failed", zap.Error(err))
		middleware.RespondWithFault(w, err)
		return
	}

	responses := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		responses = append(responses, toOrderResponse(o))
	}
	middleware.RespondWithJSON(w, http.StatusOK, responses)
}

// GetByID returns one order
func (h *OrderHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	order, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		middleware.RespondWithFault(w, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, toOrderResponse(order))
}

// UpdateStatus moves an order through the status machine
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req UpdateOrderStatusRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return
		}
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.orders.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		h.logger.Debug("Order status update failed", zap.Error(err))
		middleware.RespondWithFault(w, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, toOrderResponse(order))
}

func toOrderResponse(o *domain.Order) OrderResponse {
	resp := OrderResponse{
		ID: o.ID.String(),
		Buyer: BuyerResponse{
			Name:    o.Buyer.Name,
			Phone:   o.Buyer.Phone,
			Address: o.Buyer.Address,
		},
		Lines:     make([]OrderLineResponse, 0, len(o.Lines)),
		Total:     o.Total.String(),
		Status:    o.Status,
		CreatedAt: o.CreatedAt.Format(time.RFC3339),
		UpdatedAt: o.UpdatedAt.Format(time.RFC3339),
	}
	for _, line := range o.Lines {
		resp.Lines = append(resp.Lines, OrderLineResponse{
			ProductID:   line.ProductID.String(),
			ProductName: line.ProductName,
			UnitPrice:   line.UnitPrice.String(),
			ImageURL:    line.ImageURL,
			Quantity:    line.Quantity,
			Subtotal:    line.Subtotal.String(),
			Seller: SellerContactResponse{
				Name:        line.Seller.Name,
				Phone:       line.Seller.Phone,
				PromptPayID: line.Seller.PromptPayID,
				LineID:      line.Seller.LineID,
			},
		})
	}
	return resp
}
