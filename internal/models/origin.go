package models

import (
	"encoding/json"
	"errors"
)

type OriginKind string

const (
	OriginCatalog OriginKind = "catalog"
	OriginOrder   OriginKind = "order"
)

// CouponOrigin says where a coupon came from. Catalog coupons are
// pre-generated for an offer; order coupons are issued at checkout and
// owned by the buyer.
type CouponOrigin struct {
	Kind    OriginKind
	OfferID *int64
	OrderID *int64
	UserID  *int64
}

func CatalogOrigin(offerID int64) CouponOrigin {
	return CouponOrigin{Kind: OriginCatalog, OfferID: &offerID}
}

func OrderOrigin(orderID, userID, offerID int64) CouponOrigin {
	return CouponOrigin{Kind: OriginOrder, OrderID: &orderID, UserID: &userID, OfferID: &offerID}
}

func (o CouponOrigin) Validate() error {
	switch o.Kind {
	case OriginCatalog:
		if o.OfferID == nil {
			return errors.New("catalog coupon requires an offer")
		}
		if o.OrderID != nil || o.UserID != nil {
			return errors.New("catalog coupon cannot belong to an order")
		}
	case OriginOrder:
		if o.OrderID == nil || o.UserID == nil {
			return errors.New("order coupon requires order and user")
		}
	default:
		return errors.New("unknown coupon origin")
	}
	return nil
}

func (o CouponOrigin) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind    OriginKind `json:"kind"`
		OfferID *int64     `json:"offer_id,omitempty"`
		OrderID *int64     `json:"order_id,omitempty"`
		UserID  *int64     `json:"user_id,omitempty"`
	}{o.Kind, o.OfferID, o.OrderID, o.UserID})
}
