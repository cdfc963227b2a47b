package server

import (
	"net/http"
	"strings"

	"ghazal/pkg/domain"
)

type cartItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gte=0,lte=999"`
}

type cartQuantityRequest struct {
	Quantity int `json:"quantity" validate:"gte=0,lte=999"`
}

type checkoutRequest struct {
	PaymentMethod   string `json:"paymentMethod" validate:"required"`
	ShippingAddress string `json:"shippingAddress" validate:"max=500"`
}

type orderStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (s *Server) handleCart(w http.ResponseWriter, r *http.Request, user domain.User) {
	cart, err := s.app.Cart(user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (s *Server) handleAddToCart(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req cartItemRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	qty := req.Quantity
	if qty == 0 {
		qty = 1
	}
	cart, err := s.app.AddToCart(user, req.ProductID, qty)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (s *Server) handleUpdateCartItem(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req cartQuantityRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	cart, err := s.app.UpdateCartItem(user, r.PathValue("productId"), req.Quantity)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (s *Server) handleRemoveFromCart(w http.ResponseWriter, r *http.Request, user domain.User) {
	cart, err := s.app.RemoveFromCart(user, r.PathValue("productId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req checkoutRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod)))
	order, err := s.app.Checkout(r.Context(), user, method, req.ShippingAddress)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request, user domain.User) {
	orders, err := s.app.ListOrders(user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, orders)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request, user domain.User) {
	order, err := s.app.GetOrder(user, r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleAdminOrders(w http.ResponseWriter, r *http.Request, _ domain.User) {
	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))))
	orders, err := s.app.ListAllOrders(status)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, orders)
}

func (s *Server) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request, admin domain.User) {
	var req orderStatusRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	to := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	order, err := s.app.UpdateOrderStatus(r.Context(), r.PathValue("id"), to)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "order_status_changed", "success", "admin_id", admin.ID, "order_id", order.ID, "status", order.Status)
	writeJSON(w, http.StatusOK, order)
}
