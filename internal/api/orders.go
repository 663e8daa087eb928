package api

import (
	"net/http"
	"strings"

	"github.com/safar/marketplace-core/internal/checkout"
	"github.com/safar/marketplace-core/internal/database"
	"github.com/safar/marketplace-core/internal/models"
	"github.com/safar/marketplace-core/internal/store"
)

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		s.writeError(w, r, database.Invalid("email", "required"))
		return
	}

	user, err := store.CreateUser(r.Context(), s.db, req.Email, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, user)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	user, err := store.GetUser(r.Context(), s.db, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	cart, err := store.GetCart(r.Context(), s.db, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": cart})
}

// addToCart prices the line at the offer's current price.
func (s *Server) addToCart(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req struct {
		OfferID  int64  `json:"offer_id"`
		CouponID *int64 `json:"coupon_id"`
		Quantity int    `json:"quantity"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	offer, err := store.GetOffer(r.Context(), s.db, req.OfferID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	item := &models.CartItem{
		UserID:     userID,
		OfferID:    offer.ID,
		CouponID:   req.CouponID,
		Quantity:   req.Quantity,
		PriceAtAdd: offer.Price,
	}
	if err := store.AddCartItem(r.Context(), s.db, item); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, item)
}

func (s *Server) checkoutCart(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req struct {
		PaymentMethod string            `json:"payment_method"`
		PaymentData   map[string]string `json:"payment_data"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	order, err := s.checkout.Checkout(r.Context(), checkout.Request{
		UserID:        userID,
		PaymentMethod: models.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		PaymentData:   req.PaymentData,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, order)
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	cursor := r.URL.Query().Get("cursor")
	if _, err := store.DecodeCursor(cursor); err != nil {
		s.writeError(w, r, database.Invalid("cursor", "malformed"))
		return
	}

	page, err := store.ListOrdersCursor(r.Context(), s.db, userID, cursor, queryInt(r, "limit", 20, 100))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "orderID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	order, err := store.GetOrder(r.Context(), s.db, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

func (s *Server) confirmPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "orderID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req struct {
		Reference string `json:"reference"`
	}
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	order, err := s.checkout.ConfirmPayment(r.Context(), id, req.Reference)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "orderID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	order, err := s.checkout.Cancel(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

func (s *Server) refundOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "orderID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	actor, err := optionalActor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	order, err := s.checkout.Refund(r.Context(), id, actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}
