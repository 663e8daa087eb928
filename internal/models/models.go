package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID            int64     `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	LoyaltyPoints int64     `json:"loyalty_points"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Merchant struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	CategoryID *int64    `json:"category_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// CommissionRate is informational; settlement uses the flat configured rate.
type CommissionRate struct {
	CategoryID   int64           `json:"category_id"`
	CategoryName string          `json:"category_name"`
	Rate         decimal.Decimal `json:"rate"`
}

type Offer struct {
	ID               int64           `json:"id"`
	MerchantID       int64           `json:"merchant_id"`
	CategoryID       *int64          `json:"category_id,omitempty"`
	CouponID         *int64          `json:"coupon_id,omitempty"`
	Title            string          `json:"title"`
	Price            decimal.Decimal `json:"price"`
	DiscountType     DiscountType    `json:"discount_type"`
	DiscountValue    decimal.Decimal `json:"discount_value"`
	UsageLimit       int             `json:"usage_limit"`
	ValidFrom        time.Time       `json:"valid_from"`
	ValidUntil       time.Time       `json:"valid_until"`
	CouponsRemaining int             `json:"coupons_remaining"`
	Status           OfferStatus     `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	DeletedAt        *time.Time      `json:"deleted_at,omitempty"`
}

// Available reports whether the offer can be sold at t.
func (o *Offer) Available(t time.Time) bool {
	return o.DeletedAt == nil &&
		o.Status == OfferStatusActive &&
		!t.Before(o.ValidFrom) &&
		t.Before(o.ValidUntil)
}

type Coupon struct {
	ID              int64           `json:"id"`
	MerchantID      int64           `json:"merchant_id"`
	Origin          CouponOrigin    `json:"origin"`
	Status          CouponStatus    `json:"status"`
	UsageLimit      int             `json:"usage_limit"`
	TimesUsed       int             `json:"times_used"`
	DiscountType    DiscountType    `json:"discount_type"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	CouponCode      string          `json:"coupon_code"`
	Barcode         string          `json:"barcode"`
	BarcodeValue    string          `json:"barcode_value"`
	ExpiresAt       time.Time       `json:"expires_at"`
	ActivatedAt     *time.Time      `json:"activated_at,omitempty"`
	ActivatedBy     *int64          `json:"activated_by,omitempty"`
	UsedAt          *time.Time      `json:"used_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// RemainingUses is usage_limit - times_used.
func (c *Coupon) RemainingUses() int {
	return c.UsageLimit - c.TimesUsed
}

type Order struct {
	ID               int64           `json:"id"`
	UserID           int64           `json:"user_id"`
	OrderNumber      string          `json:"order_number"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	PaymentStatus    PaymentStatus   `json:"payment_status"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Items            []OrderItem     `json:"items,omitempty"`
	Coupons          []Coupon        `json:"coupons,omitempty"`
}

type OrderItem struct {
	ID         int64           `json:"id"`
	OrderID    int64           `json:"order_id"`
	OfferID    int64           `json:"offer_id"`
	MerchantID int64           `json:"merchant_id"`
	CouponID   *int64          `json:"coupon_id,omitempty"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	CreatedAt  time.Time       `json:"created_at"`
}

// CartItem is a line in a user's cart. CouponID names a pre-generated
// catalog coupon to reuse instead of issuing new ones.
type CartItem struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"user_id"`
	OfferID    int64           `json:"offer_id"`
	CouponID   *int64          `json:"coupon_id,omitempty"`
	Quantity   int             `json:"quantity"`
	PriceAtAdd decimal.Decimal `json:"price_at_add"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Wallet is a merchant or admin balance row. Balance and ReservedBalance
// change only through the ledger.
type Wallet struct {
	ID              int64           `json:"id"`
	WalletType      WalletType      `json:"wallet_type"`
	OwnerID         int64           `json:"owner_id"`
	Balance         decimal.Decimal `json:"balance"`
	ReservedBalance decimal.Decimal `json:"reserved_balance"`
	InitialBalance  decimal.Decimal `json:"initial_balance"`
	IsFrozen        bool            `json:"is_frozen"`
	Currency        string          `json:"currency"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (w *Wallet) AvailableBalance() decimal.Decimal {
	return w.Balance.Sub(w.ReservedBalance)
}

// WalletTransaction is an immutable ledger row. Amount is signed: positive
// for credits, negative for debits.
type WalletTransaction struct {
	ID              int64           `json:"id"`
	WalletID        int64           `json:"wallet_id"`
	WalletType      WalletType      `json:"wallet_type"`
	TransactionType TransactionType `json:"transaction_type"`
	Amount          decimal.Decimal `json:"amount"`
	BalanceBefore   decimal.Decimal `json:"balance_before"`
	BalanceAfter    decimal.Decimal `json:"balance_after"`
	RelatedType     string          `json:"related_type,omitempty"`
	RelatedID       *int64          `json:"related_id,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	ActorID         *int64          `json:"actor_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type Withdrawal struct {
	ID              int64            `json:"id"`
	MerchantID      int64            `json:"merchant_id"`
	WalletID        int64            `json:"wallet_id"`
	Amount          decimal.Decimal  `json:"amount"`
	Method          string           `json:"method"`
	Status          WithdrawalStatus `json:"status"`
	ApprovedBy      *int64           `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time       `json:"approved_at,omitempty"`
	RejectedBy      *int64           `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time       `json:"rejected_at,omitempty"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// FinancialTransaction is the merchant-facing accounting record. It never
// moves money on its own.
type FinancialTransaction struct {
	ID              int64           `json:"id"`
	MerchantID      int64           `json:"merchant_id"`
	TransactionType string          `json:"transaction_type"`
	TransactionFlow TransactionFlow `json:"transaction_flow"`
	Amount          decimal.Decimal `json:"amount"`
	OrderID         *int64          `json:"order_id,omitempty"`
	WithdrawalID    *int64          `json:"withdrawal_id,omitempty"`
	Description     string          `json:"description,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type Invoice struct {
	ID            int64           `json:"id"`
	OrderID       int64           `json:"order_id"`
	InvoiceNumber string          `json:"invoice_number"`
	Amount        decimal.Decimal `json:"amount"`
	CreatedAt     time.Time       `json:"created_at"`
}
