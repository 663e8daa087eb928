package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/safar/marketplace-core/internal/coupon"
	"github.com/safar/marketplace-core/internal/database"
	"github.com/safar/marketplace-core/internal/models"
	"github.com/safar/marketplace-core/internal/store"
	"github.com/shopspring/decimal"
)

type offerRequest struct {
	MerchantID    int64           `json:"merchant_id"`
	CategoryID    *int64          `json:"category_id"`
	Title         string          `json:"title"`
	Price         decimal.Decimal `json:"price"`
	DiscountType  string          `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	UsageLimit    int             `json:"usage_limit"`
	ValidFrom     time.Time       `json:"valid_from"`
	ValidUntil    time.Time       `json:"valid_until"`
	Inventory     int             `json:"inventory"`
	Status        string          `json:"status"`
}

func (req offerRequest) build() (store.CreateOfferRequest, error) {
	out := store.CreateOfferRequest{
		MerchantID:    req.MerchantID,
		CategoryID:    req.CategoryID,
		Title:         strings.TrimSpace(req.Title),
		Price:         req.Price.Round(2),
		DiscountValue: req.DiscountValue,
		UsageLimit:    req.UsageLimit,
		ValidFrom:     req.ValidFrom,
		ValidUntil:    req.ValidUntil,
		Inventory:     req.Inventory,
	}

	switch {
	case out.MerchantID <= 0:
		return out, database.Invalid("merchant_id", "required")
	case out.Title == "":
		return out, database.Invalid("title", "required")
	case out.Price.IsNegative():
		return out, database.Invalid("price", "must not be negative")
	case out.DiscountValue.IsNegative():
		return out, database.Invalid("discount_value", "must not be negative")
	case out.UsageLimit < 0:
		return out, database.Invalid("usage_limit", "must not be negative")
	case out.Inventory < 0:
		return out, database.Invalid("inventory", "must not be negative")
	case out.ValidFrom.IsZero() || out.ValidUntil.IsZero():
		return out, database.Invalid("valid_until", "validity window required")
	case !out.ValidUntil.After(out.ValidFrom):
		return out, database.Invalid("valid_until", "must be after valid_from")
	}

	var err error
	if out.DiscountType, err = models.ParseDiscountType(req.DiscountType); err != nil {
		return out, database.Invalid("discount_type", "%v", err)
	}
	if out.DiscountType == models.DiscountPercent && out.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
		return out, database.Invalid("discount_value", "percentage above 100")
	}
	if req.Status != "" {
		if out.Status, err = models.ParseOfferStatus(req.Status); err != nil {
			return out, database.Invalid("status", "%v", err)
		}
	}
	return out, nil
}

func (s *Server) createOffer(w http.ResponseWriter, r *http.Request) {
	var req offerRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	create, err := req.build()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if _, err := store.GetMerchant(r.Context(), s.db, create.MerchantID); err != nil {
		s.writeError(w, r, err)
		return
	}

	offer, err := store.CreateOffer(r.Context(), s.db, create)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, offer)
}

func (s *Server) getOffer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "offerID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	offer, err := store.GetOffer(r.Context(), s.db, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, offer)
}

func (s *Server) listOffers(w http.ResponseWriter, r *http.Request) {
	merchantID, err := pathID(r, "merchantID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	page, err := store.ListOffers(r.Context(), s.db, merchantID, queryInt(r, "page", 1, 0), queryInt(r, "page_size", 20, 100))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) setOfferStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "offerID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	status, err := models.ParseOfferStatus(req.Status)
	if err != nil {
		s.writeError(w, r, database.Invalid("status", "%v", err))
		return
	}

	if err := store.UpdateOfferStatus(r.Context(), s.db, id, status); err != nil {
		s.writeError(w, r, err)
		return
	}
	offer, err := store.GetOffer(r.Context(), s.db, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, offer)
}

func (s *Server) deleteOffer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "offerID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	removed, err := s.coupons.DeleteOffer(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"offer_id": id, "coupons_removed": removed})
}

func (s *Server) issueCatalogCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "offerID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	c, err := s.coupons.IssueCatalog(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, c)
}

// activateCoupon redeems a coupon at a merchant. The acting staff member
// comes from the actor header.
func (s *Server) activateCoupon(w http.ResponseWriter, r *http.Request) {
	staffID, err := actorID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req struct {
		Code       string `json:"code"`
		CouponID   int64  `json:"coupon_id"`
		MerchantID int64  `json:"merchant_id"`
		Channel    string `json:"channel"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	channel, err := coupon.ParseChannel(req.Channel)
	if err != nil {
		s.writeError(w, r, database.Invalid("channel", "%v", err))
		return
	}
	if req.MerchantID <= 0 {
		s.writeError(w, r, database.Invalid("merchant_id", "required"))
		return
	}

	c, err := s.coupons.Activate(r.Context(), coupon.ActivateRequest{
		Code:       strings.TrimSpace(req.Code),
		CouponID:   req.CouponID,
		MerchantID: req.MerchantID,
		StaffID:    staffID,
		Channel:    channel,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) getCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "couponID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	c, err := store.GetCoupon(r.Context(), s.db, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

// getCouponByCode looks a coupon up by its printed code or scanned barcode
// value without locking it.
func (s *Server) getCouponByCode(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		s.writeError(w, r, database.Invalid("code", "required"))
		return
	}

	c, err := store.GetCouponByCode(r.Context(), s.db, code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) publishCoupon(w http.ResponseWriter, r *http.Request) {
	s.couponAction(w, r, s.coupons.Publish)
}

func (s *Server) useCoupon(w http.ResponseWriter, r *http.Request) {
	s.couponAction(w, r, s.coupons.Use)
}

func (s *Server) cancelCoupon(w http.ResponseWriter, r *http.Request) {
	s.couponAction(w, r, s.coupons.CancelByID)
}

func (s *Server) couponAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, id int64) (*models.Coupon, error)) {
	id, err := pathID(r, "couponID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	c, err := action(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) deleteCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "couponID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.coupons.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
