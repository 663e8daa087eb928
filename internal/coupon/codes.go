package coupon

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/safar/marketplace-core/internal/database"
	"github.com/safar/marketplace-core/internal/models"
	"github.com/safar/marketplace-core/internal/store"
)

const (
	codePrefix      = "CPN-"
	barcodeSymbol   = "EAN13"
	maxCodeAttempts = 3
)

// newCodes derives a printable coupon code and a scannable EAN-13 value
// from one random UUID.
func newCodes() (code, barcodeValue string) {
	id := uuid.New()
	hex := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
	code = codePrefix + hex[:12]

	digits := fmt.Sprintf("%012d", binary.BigEndian.Uint64(id[:8])%1_000_000_000_000)
	return code, digits + ean13CheckDigit(digits)
}

func ean13CheckDigit(digits string) string {
	sum := 0
	for i, r := range digits {
		n := int(r - '0')
		if i%2 == 1 {
			n *= 3
		}
		sum += n
	}
	return fmt.Sprint((10 - sum%10) % 10)
}

// insertWithCodes assigns fresh codes and inserts c. A code collision is
// retried under a savepoint so the enclosing transaction survives it.
func insertWithCodes(ctx context.Context, tx *sql.Tx, c *models.Coupon) error {
	for attempt := 1; ; attempt++ {
		c.CouponCode, c.BarcodeValue = newCodes()
		c.Barcode = barcodeSymbol

		if _, err := tx.ExecContext(ctx, `SAVEPOINT coupon_insert`); err != nil {
			return fmt.Errorf("savepoint: %w", err)
		}

		err := store.InsertCoupon(ctx, tx, c)
		if err == nil {
			_, err = tx.ExecContext(ctx, `RELEASE SAVEPOINT coupon_insert`)
			return err
		}

		collision := database.IsUniqueViolation(err, "coupons_coupon_code_key") ||
			database.IsUniqueViolation(err, "coupons_barcode_value_key")
		if !collision || attempt == maxCodeAttempts {
			return err
		}

		if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT coupon_insert`); rbErr != nil {
			return fmt.Errorf("rollback to savepoint: %w", rbErr)
		}
	}
}
