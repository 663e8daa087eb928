package models

import (
	"fmt"
	"strings"
)

type CouponStatus string

const (
	CouponStatusPending   CouponStatus = "pending"
	CouponStatusReserved  CouponStatus = "reserved"
	CouponStatusPaid      CouponStatus = "paid"
	CouponStatusActivated CouponStatus = "activated"
	CouponStatusUsed      CouponStatus = "used"
	CouponStatusCancelled CouponStatus = "cancelled"
	CouponStatusExpired   CouponStatus = "expired"
)

var couponTransitions = map[CouponStatus][]CouponStatus{
	CouponStatusPending:   {CouponStatusReserved, CouponStatusCancelled, CouponStatusExpired},
	CouponStatusReserved:  {CouponStatusPaid, CouponStatusActivated, CouponStatusCancelled, CouponStatusExpired},
	CouponStatusPaid:      {CouponStatusActivated, CouponStatusCancelled, CouponStatusExpired},
	CouponStatusActivated: {CouponStatusActivated, CouponStatusUsed, CouponStatusExpired},
}

// legacyCouponStatuses maps values written by older clients onto the
// current lifecycle.
var legacyCouponStatuses = map[string]CouponStatus{
	"active":   CouponStatusReserved,
	"inactive": CouponStatusCancelled,
	"redeemed": CouponStatusUsed,
}

func ParseCouponStatus(s string) (CouponStatus, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if legacy, ok := legacyCouponStatuses[v]; ok {
		return legacy, nil
	}
	switch st := CouponStatus(v); st {
	case CouponStatusPending, CouponStatusReserved, CouponStatusPaid, CouponStatusActivated,
		CouponStatusUsed, CouponStatusCancelled, CouponStatusExpired:
		return st, nil
	}
	return "", fmt.Errorf("unknown coupon status %q", s)
}

func (s CouponStatus) CanTransitionTo(next CouponStatus) bool {
	for _, allowed := range couponTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s CouponStatus) Terminal() bool {
	return len(couponTransitions[s]) == 0
}

// Deletable reports whether a coupon in this status may be removed.
func (s CouponStatus) Deletable() bool {
	return s != CouponStatusActivated && s != CouponStatusUsed
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {PaymentStatusPaid, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusPaid:    {PaymentStatusRefunded},
}

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "completed", "success", "succeeded":
		return PaymentStatusPaid, nil
	case "canceled":
		return PaymentStatusCancelled, nil
	}
	switch st := PaymentStatus(v); st {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded, PaymentStatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown payment status %q", s)
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type WithdrawalStatus string

const (
	WithdrawalStatusPending   WithdrawalStatus = "pending"
	WithdrawalStatusApproved  WithdrawalStatus = "approved"
	WithdrawalStatusRejected  WithdrawalStatus = "rejected"
	WithdrawalStatusCompleted WithdrawalStatus = "completed"
)

var withdrawalTransitions = map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalStatusPending:  {WithdrawalStatusApproved, WithdrawalStatusRejected},
	WithdrawalStatusApproved: {WithdrawalStatusCompleted},
}

func ParseWithdrawalStatus(s string) (WithdrawalStatus, error) {
	switch st := WithdrawalStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case WithdrawalStatusPending, WithdrawalStatusApproved, WithdrawalStatusRejected, WithdrawalStatusCompleted:
		return st, nil
	}
	return "", fmt.Errorf("unknown withdrawal status %q", s)
}

func (s WithdrawalStatus) CanTransitionTo(next WithdrawalStatus) bool {
	for _, allowed := range withdrawalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type OfferStatus string

const (
	OfferStatusPending  OfferStatus = "pending"
	OfferStatusActive   OfferStatus = "active"
	OfferStatusDisabled OfferStatus = "disabled"
	OfferStatusExpired  OfferStatus = "expired"
)

func ParseOfferStatus(s string) (OfferStatus, error) {
	switch st := OfferStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case OfferStatusPending, OfferStatusActive, OfferStatusDisabled, OfferStatusExpired:
		return st, nil
	}
	return "", fmt.Errorf("unknown offer status %q", s)
}

type DiscountType string

const (
	DiscountPercent DiscountType = "percent"
	DiscountFixed   DiscountType = "fixed"
)

func ParseDiscountType(s string) (DiscountType, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "percent", "percentage":
		return DiscountPercent, nil
	case "fixed", "flat":
		return DiscountFixed, nil
	}
	return "", fmt.Errorf("unknown discount type %q", s)
}

type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "cash"
	PaymentMethodCard   PaymentMethod = "card"
	PaymentMethodOnline PaymentMethod = "online"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodOnline:
		return m, nil
	}
	return "", fmt.Errorf("unknown payment method %q", s)
}

// RequiresGateway reports whether the method is captured by the external
// payment gateway at checkout.
func (m PaymentMethod) RequiresGateway() bool {
	return m != PaymentMethodCash
}

type WalletType string

const (
	WalletTypeMerchant WalletType = "merchant"
	WalletTypeAdmin    WalletType = "admin"
)

type TransactionType string

const (
	TxSaleCredit       TransactionType = "sale_credit"
	TxCommissionCredit TransactionType = "commission_credit"
	TxWithdrawalDebit  TransactionType = "withdrawal_debit"
	TxRefundDebit      TransactionType = "refund_debit"
	TxCommissionRefund TransactionType = "commission_refund"
	TxAdjustmentCredit TransactionType = "adjustment_credit"
	TxAdjustmentDebit  TransactionType = "adjustment_debit"
)

type TransactionFlow string

const (
	FlowIncoming TransactionFlow = "incoming"
	FlowOutgoing TransactionFlow = "outgoing"
)
