// Package dbtest opens isolated in-memory sqlite databases carrying the same
// tables, unique indexes and check constraints as the goose migrations.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/handoffmarket/handoff-backend/pkg/db"
	"github.com/handoffmarket/handoff-backend/pkg/db/models"
	"github.com/handoffmarket/handoff-backend/pkg/enums"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  role TEXT NOT NULL DEFAULT 'member',
  is_verified INTEGER NOT NULL DEFAULT 0,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS listings (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  title TEXT NOT NULL,
  price_paise INTEGER NOT NULL CHECK (price_paise > 0),
  is_active INTEGER NOT NULL DEFAULT 1,
  sold_transaction_id TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS transactions (
  id TEXT PRIMARY KEY,
  buyer_id TEXT NOT NULL,
  seller_id TEXT NOT NULL,
  listing_id TEXT NOT NULL,
  amount_paise INTEGER NOT NULL CHECK (amount_paise > 0),
  currency TEXT NOT NULL DEFAULT 'INR',
  external_order_id TEXT NOT NULL,
  external_payment_id TEXT,
  status TEXT NOT NULL DEFAULT 'INITIATED',
  refunded_paise INTEGER NOT NULL DEFAULT 0,
  settlement_source TEXT,
  paid_at DATETIME,
  cancelled_at DATETIME,
  refunded_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  CHECK (buyer_id <> seller_id),
  CHECK (refunded_paise >= 0 AND refunded_paise <= amount_paise)
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS transactions_external_order_id_key ON transactions (external_order_id);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS transactions_external_payment_id_key ON transactions (external_payment_id) WHERE external_payment_id IS NOT NULL;`,
	`CREATE TABLE IF NOT EXISTS pickups (
  id TEXT PRIMARY KEY,
  transaction_id TEXT NOT NULL,
  pickup_code TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'GENERATED',
  confirmed_at DATETIME,
  confirmed_by TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS pickups_transaction_id_key ON pickups (transaction_id);`,
	`CREATE TABLE IF NOT EXISTS disputes (
  id TEXT PRIMARY KEY,
  transaction_id TEXT NOT NULL,
  reporter_id TEXT NOT NULL,
  reason TEXT NOT NULL,
  priority TEXT NOT NULL DEFAULT 'medium',
  status TEXT NOT NULL DEFAULT 'OPEN',
  resolution TEXT,
  resolved_at DATETIME,
  resolved_by TEXT,
  refund_id TEXT,
  refund_claimed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS disputes_one_active_per_transaction ON disputes (transaction_id) WHERE status IN ('OPEN', 'IN_REVIEW');`,
	`CREATE TABLE IF NOT EXISTS refunds (
  id TEXT PRIMARY KEY,
  transaction_id TEXT NOT NULL,
  dispute_id TEXT,
  amount_paise INTEGER NOT NULL CHECK (amount_paise > 0),
  reason TEXT NOT NULL,
  initiated_by TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  external_refund_id TEXT,
  failure_reason TEXT,
  reactivate_listing INTEGER NOT NULL DEFAULT 0,
  attempted_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS refunds_one_live_per_transaction ON refunds (transaction_id) WHERE status IN ('pending', 'succeeded');`,
	`CREATE TABLE IF NOT EXISTS audit_events (
  id TEXT PRIMARY KEY,
  transaction_id TEXT NOT NULL,
  actor_id TEXT,
  type TEXT NOT NULL,
  amount_paise INTEGER NOT NULL DEFAULT 0,
  metadata BLOB,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload BLOB NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
}

// Open returns a fresh database private to the calling test. A single
// connection serialises writers the way row locks would on Postgres.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), db.GormConfig())
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}

// Client wraps Open in a db.Client so services exercise the real WithTx.
func Client(t *testing.T) *db.Client {
	t.Helper()
	return db.NewFromConn(Open(t))
}

func SeedUser(t *testing.T, conn *gorm.DB, verified bool) *models.User {
	t.Helper()
	user := &models.User{
		ID:         uuid.New(),
		Email:      uuid.NewString() + "@handoff.test",
		Role:       enums.UserRoleMember,
		IsVerified: verified,
		IsActive:   true,
	}
	require.NoError(t, conn.Create(user).Error)
	return user
}

func SeedAdmin(t *testing.T, conn *gorm.DB) *models.User {
	t.Helper()
	user := &models.User{
		ID:         uuid.New(),
		Email:      uuid.NewString() + "@handoff.test",
		Role:       enums.UserRoleAdmin,
		IsVerified: true,
		IsActive:   true,
	}
	require.NoError(t, conn.Create(user).Error)
	return user
}

func SeedListing(t *testing.T, conn *gorm.DB, ownerID uuid.UUID, pricePaise int64) *models.Listing {
	t.Helper()
	listing := &models.Listing{
		ID:         uuid.New(),
		OwnerID:    ownerID,
		Title:      "Road bike",
		PricePaise: pricePaise,
		IsActive:   true,
	}
	require.NoError(t, conn.Create(listing).Error)
	return listing
}

// SeedTransaction inserts a transaction in the given status. PAID rows get a
// payment id and mark the listing sold.
func SeedTransaction(t *testing.T, conn *gorm.DB, buyerID uuid.UUID, listing *models.Listing, status enums.TransactionStatus) *models.Transaction {
	t.Helper()
	txn := &models.Transaction{
		ID:              uuid.New(),
		BuyerID:         buyerID,
		SellerID:        listing.OwnerID,
		ListingID:       listing.ID,
		AmountPaise:     listing.PricePaise,
		Currency:        enums.CurrencyINR,
		ExternalOrderID: "order_" + uuid.NewString()[:14],
		Status:          status,
	}
	if status == enums.TransactionStatusPaid || status == enums.TransactionStatusRefunded {
		paymentID := "pay_" + uuid.NewString()[:14]
		txn.ExternalPaymentID = &paymentID
	}
	require.NoError(t, conn.Create(txn).Error)

	if status == enums.TransactionStatusPaid {
		require.NoError(t, conn.Model(&models.Listing{}).
			Where("id = ?", listing.ID).
			Updates(map[string]any{"is_active": false, "sold_transaction_id": txn.ID}).Error)
		listing.IsActive = false
		listing.SoldTransactionID = &txn.ID
	}
	return txn
}
