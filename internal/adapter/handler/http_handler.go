package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-engine/internal/core/domain"
	"github.com/rl1809/inventory-engine/internal/core/service"
)

const defaultNotificationLimit = 50

// NotificationHistory is implemented by notifiers that keep the messages
// they sent.
type NotificationHistory interface {
	History(ctx context.Context, n int64) ([]string, error)
}

type HTTPHandler struct {
	orders   *service.InventoryService
	products *service.ProductService
	history  NotificationHistory
	logger   *zap.Logger
}

type HTTPOption func(*HTTPHandler)

// WithNotificationHistory serves GET /api/notifications from h.
func WithNotificationHistory(h NotificationHistory) HTTPOption {
	return func(handler *HTTPHandler) {
		handler.history = h
	}
}

type OrderItemDTO struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type CreateOrderRequest struct {
	Items []OrderItemDTO `json:"items"`
}

type UpdateOrderRequest struct {
	Status string         `json:"status"`
	Items  []OrderItemDTO `json:"items,omitempty"`
}

type OrderResponse struct {
	ID        int64          `json:"id"`
	OrderDate time.Time      `json:"orderDate"`
	Status    string         `json:"status"`
	Items     []OrderItemDTO `json:"items"`
	Version   string         `json:"version"`
}

type ProductRequest struct {
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stockQuantity"`
}

type ProductResponse struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stockQuantity"`
	Version       string          `json:"version"`
}

// Problem is the error body returned for every failed request.
type Problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Status int    `json:"status"`
}

func NewHTTPHandler(orders *service.InventoryService, products *service.ProductService, logger *zap.Logger, opts ...HTTPOption) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HTTPHandler{orders: orders, products: products, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers every endpoint on a new mux.
func (h *HTTPHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HealthCheck)

	mux.HandleFunc("POST /api/orders", h.PlaceOrder)
	mux.HandleFunc("GET /api/orders/pending-orders", h.GetPendingOrders)
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
	mux.HandleFunc("PUT /api/orders/{id}", h.UpdateOrder)
	mux.HandleFunc("DELETE /api/orders/{id}", h.CancelOrder)

	mux.HandleFunc("GET /api/products", h.ListProducts)
	mux.HandleFunc("POST /api/products", h.CreateProduct)
	mux.HandleFunc("GET /api/products/check-inventory/{productId}/{quantity}", h.CheckInventory)
	mux.HandleFunc("GET /api/products/{id}", h.GetProduct)
	mux.HandleFunc("PUT /api/products/{id}", h.UpdateProduct)
	mux.HandleFunc("DELETE /api/products/{id}", h.DeleteProduct)

	if h.history != nil {
		mux.HandleFunc("GET /api/notifications", h.ListNotifications)
	}
	return mux
}

func (h *HTTPHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.orders.PlaceOrder(r.Context(), toItemInputs(req.Items))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *HTTPHandler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req UpdateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	status, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		h.writeError(w, domain.BadRequestf("%s", err.Error()))
		return
	}

	order, err := h.orders.UpdateOrder(r.Context(), id, service.UpdateOrderInput{
		Status: status,
		Items:  toItemInputs(req.Items),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *HTTPHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.orders.CancelOrder(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *HTTPHandler) GetPendingOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.GetPendingOrders(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.ListProducts(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := make([]ProductResponse, 0, len(products))
	for _, p := range products {
		resp = append(resp, toProductResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	product, err := h.products.GetProduct(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(product))
}

func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	product, err := h.products.CreateProduct(r.Context(), toProductInput(req))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(product))
}

func (h *HTTPHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req ProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, err := h.products.UpdateProduct(r.Context(), id, toProductInput(req)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.products.DeleteProduct(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) CheckInventory(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.pathID(w, r, "productId")
	if !ok {
		return
	}
	quantity, err := strconv.Atoi(r.PathValue("quantity"))
	if err != nil {
		h.writeError(w, domain.BadRequestf("quantity must be a number"))
		return
	}
	inStock, err := h.products.CheckInventory(r.Context(), productID, quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inStock)
}

// ListNotifications returns the most recent notifications, oldest first.
// The optional limit query parameter defaults to 50.
func (h *HTTPHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := int64(defaultNotificationLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			h.writeError(w, domain.BadRequestf("limit must be a positive number"))
			return
		}
		limit = n
	}

	messages, err := h.history.History(r.Context(), limit)
	if err != nil {
		h.writeError(w, domain.Internal(err))
		return
	}
	if messages == nil {
		messages = []string{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, domain.BadRequestf("invalid request body"))
		return false
	}
	return true
}

func (h *HTTPHandler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		h.writeError(w, domain.BadRequestf("%s must be a number", name))
		return 0, false
	}
	return id, true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	problem := Problem{Detail: err.Error()}
	switch domain.KindOf(err) {
	case domain.ErrNotFound:
		problem.Status, problem.Title = http.StatusNotFound, "Not Found"
	case domain.ErrBadRequest:
		problem.Status, problem.Title = http.StatusBadRequest, "Bad Request"
	case domain.ErrConflict:
		problem.Status, problem.Title = http.StatusConflict, "Conflict"
	default:
		problem.Status, problem.Title = http.StatusInternalServerError, "Internal Server Error"
		var domainErr *domain.Error
		if !errors.As(err, &domainErr) {
			problem.Detail = "an unexpected error occurred, please try again later"
		}
		h.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, problem.Status, problem)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func toItemInputs(items []OrderItemDTO) []service.OrderItemInput {
	if items == nil {
		return nil
	}
	out := make([]service.OrderItemInput, 0, len(items))
	for _, item := range items {
		out = append(out, service.OrderItemInput{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return out
}

func toProductInput(req ProductRequest) service.ProductInput {
	return service.ProductInput{
		Name:          req.Name,
		Price:         req.Price,
		StockQuantity: req.StockQuantity,
	}
}

func toOrderResponse(o domain.Order) OrderResponse {
	items := make([]OrderItemDTO, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderItemDTO{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return OrderResponse{
		ID:        o.ID,
		OrderDate: o.OrderDate,
		Status:    string(o.Status),
		Items:     items,
		Version:   o.Version.String(),
	}
}

func toProductResponse(p domain.Product) ProductResponse {
	return ProductResponse{
		ID:            p.ID,
		Name:          p.Name,
		Price:         p.Price,
		StockQuantity: p.StockQuantity,
		Version:       p.Version.String(),
	}
}
