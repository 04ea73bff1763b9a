package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"market-core/internal/domain"
	"market-core/internal/middleware"
	"market-core/internal/service"
)

// AddToCartRequest represents the add-to-cart payload
type AddToCartRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

// SetQuantityRequest replaces a line's quantity; zero removes the line
type SetQuantityRequest struct {
	Quantity int `json:"quantity" validate:"min=0"`
}

// CartLineResponse represents one cart line with its price snapshot
type CartLineResponse struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	UnitPrice   string `json:"unit_price"`
	ImageURL    string `json:"image_url,omitempty"`
	Quantity    int    `json:"quantity"`
	Subtotal    string `json:"subtotal"`
}

// CartResponse represents the whole cart
type CartResponse struct {
	Lines     []CartLineResponse `json:"lines"`
	ItemCount int                `json:"item_count"`
	Total     string             `json:"total"`
}

// CartHandler handles HTTP requests for cart operations
type CartHandler struct {
	cart   service.CartService
	logger *zap.Logger
}

// NewCartHandler creates a new CartHandler
func NewCartHandler(cart service.CartService, logger *zap.Logger) *CartHandler {
	return &CartHandler{cart: cart, logger: logger}
}

// RegisterRoutes registers all cart routes
func (h *CartHandler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.Route("/api/cart", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/", h.Get)
		r.Post("/items", h.Add)
		r.Put("/items/{productID}", h.SetQuantity)
		r.Delete("/items/{productID}", h.Remove)
		r.Delete("/", h.Clear)
	})
}

// Get returns the current cart
func (h *CartHandler) Get(w http.ResponseWriter, r *http.Request) {
	lines, err := h.cart.Lines(r.Context())
	if err != nil {
		h.logger.Error("Cart read failed", zap.Error(err))
		middleware.RespondWithFault(w, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, toCartResponse(lines))
}

// Add puts units of a product in the cart
func (h *CartHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req AddToCartRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return
		}
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	if err := h.cart.Add(r.Context(), productID, req.Quantity); err != nil {
		h.logger.Debug("Cart add failed", zap.Error(err))
		middleware.RespondWithFault(w, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "added to cart"})
}

// SetQuantity replaces a line's quantity
func (h *CartHandler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	productID, err := uuid.Parse(chi.URLParam(r, "productID"))
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	var req SetQuantityRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.cart.SetQuantity(r.Context(), productID, req.Quantity); err != nil {
		h.logger.Debug("Cart quantity update failed", zap.Error(err))
		middleware.RespondWithFault(w, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "quantity updated"})
}

// Remove drops a line from the cart
func (h *CartHandler) Remove(w http.ResponseWriter, r *http.Request) {
	productID, err := uuid.Parse(chi.URLParam(r, "productID"))
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	if err := h.cart.Remove(r.Context(), productID); err != nil {
		h.logger.Debug("Cart remove failed", zap.Error(err))
		middleware.RespondWithFault(w, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "removed from cart"})
}

// Clear empties the cart
func (h *CartHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.cart.Clear(r.Context()); err != nil {
		h.logger.Debug("Cart clear failed", zap.Error(err))
		middleware.RespondWithFault(w, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "cart cleared"})
}

func toCartResponse(lines []domain.CartLine) CartResponse {
	cart := domain.Cart{Lines: lines}
	resp := CartResponse{
		Lines:     make([]CartLineResponse, 0, len(lines)),
		ItemCount: cart.ItemCount(),
		Total:     cart.Total().String(),
	}
	for _, line := range lines {
		resp.Lines = append(resp.Lines, CartLineResponse{
			ProductID:   line.ProductID.String(),
			ProductName: line.ProductName,
			UnitPrice:   line.UnitPrice.String(),
			ImageURL:    line.ImageURL,
			Quantity:    line.Quantity,
			Subtotal:    line.Subtotal().String(),
		})
	}
	return resp
}
