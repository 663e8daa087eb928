package coupon

import (
	"fmt"
	"strings"

	"github.com/safar/marketplace-core/internal/models"
)

// Channel is the redemption surface a merchant uses to activate a coupon.
type Channel string

const (
	ChannelQR      Channel = "qr"
	ChannelBarcode Channel = "barcode"
	ChannelCounter Channel = "counter"
)

// First activations are accepted only from these statuses. Scanned coupons
// must be reserved; the merchant counter may also redeem paid ones.
var channelStatuses = map[Channel][]models.CouponStatus{
	ChannelQR:      {models.CouponStatusReserved},
	ChannelBarcode: {models.CouponStatusReserved},
	ChannelCounter: {models.CouponStatusReserved, models.CouponStatusPaid},
}

func ParseChannel(s string) (Channel, error) {
	ch := Channel(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := channelStatuses[ch]; !ok {
		return "", fmt.Errorf("unknown activation channel %q", s)
	}
	return ch, nil
}

func (ch Channel) Accepts(status models.CouponStatus) bool {
	for _, s := range channelStatuses[ch] {
		if s == status {
			return true
		}
	}
	return false
}
