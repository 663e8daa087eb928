// Package testutil starts a throwaway Postgres for integration tests and
// seeds the rows most scenarios need.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/safar/marketplace-core/internal/models"
	"github.com/safar/marketplace-core/internal/store"
	"github.com/safar/marketplace-core/migrations"
)

// NewDB starts a Postgres container, applies every up migration and
// registers cleanup with t.
func NewDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := postgres.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close database: %v", err)
		}
	})
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}
	if _, err := migrations.Run(ctx, db, "up"); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return db
}

var seq atomic.Int64

func next() int64 {
	return seq.Add(1)
}

func User(t *testing.T, db *sql.DB) *models.User {
	t.Helper()
	n := next()
	user, err := store.CreateUser(context.Background(), db, fmt.Sprintf("user%d@example.com", n), fmt.Sprintf("User %d", n))
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}
	return user
}

// Merchant creates a merchant whose wallet opens with balance.
func Merchant(t *testing.T, db *sql.DB, balance string) (*models.Merchant, *models.Wallet) {
	t.Helper()
	n := next()
	merchant, wallet, err := store.CreateMerchant(context.Background(), db,
		fmt.Sprintf("Merchant %d", n), fmt.Sprintf("merchant%d@example.com", n), nil, decimal.RequireFromString(balance))
	if err != nil {
		t.Fatalf("Create merchant: %v", err)
	}
	return merchant, wallet
}

type OfferOption func(*store.CreateOfferRequest)

func WithUsageLimit(n int) OfferOption {
	return func(r *store.CreateOfferRequest) { r.UsageLimit = n }
}

func WithValidity(from, until time.Time) OfferOption {
	return func(r *store.CreateOfferRequest) {
		r.ValidFrom = from
		r.ValidUntil = until
	}
}

// Offer creates an active offer valid from an hour ago for thirty days.
func Offer(t *testing.T, db *sql.DB, merchantID int64, price string, inventory int, opts ...OfferOption) *models.Offer {
	t.Helper()
	now := time.Now()
	req := store.CreateOfferRequest{
		MerchantID:    merchantID,
		Title:         fmt.Sprintf("Offer %d", next()),
		Price:         decimal.RequireFromString(price),
		DiscountType:  models.DiscountPercent,
		DiscountValue: decimal.NewFromInt(20),
		UsageLimit:    1,
		ValidFrom:     now.Add(-time.Hour),
		ValidUntil:    now.AddDate(0, 0, 30),
		Inventory:     inventory,
		Status:        models.OfferStatusActive,
	}
	for _, opt := range opts {
		opt(&req)
	}

	offer, err := store.CreateOffer(context.Background(), db, req)
	if err != nil {
		t.Fatalf("Create offer: %v", err)
	}
	return offer
}

// AddToCart puts quantity units of offer in the user's cart at its price.
func AddToCart(t *testing.T, db *sql.DB, userID int64, offer *models.Offer, quantity int) *models.CartItem {
	t.Helper()
	item := &models.CartItem{
		UserID:     userID,
		OfferID:    offer.ID,
		Quantity:   quantity,
		PriceAtAdd: offer.Price,
	}
	if err := store.AddCartItem(context.Background(), db, item); err != nil {
		t.Fatalf("Add cart item: %v", err)
	}
	return item
}
