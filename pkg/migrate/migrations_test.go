package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/handoffmarket/handoff-backend/pkg/migrate"
	"github.com/handoffmarket/handoff-backend/pkg/migrate/migrations"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	require.NoError(t, err)
	require.Len(t, matches, 1, "expected exactly one %s migration", suffix)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	return string(data)
}

func TestMigrationDirValidates(t *testing.T) {
	require.NoError(t, migrate.ValidateDir("migrations"))
}

func TestTransactionsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "create_transactions")
	for _, sub := range []string{
		"CREATE TABLE IF NOT EXISTS transactions",
		"CHECK (buyer_id <> seller_id)",
		"CHECK (refunded_paise >= 0 AND refunded_paise <= amount_paise)",
		"transactions_external_order_id_key",
		"WHERE external_payment_id IS NOT NULL",
		"DROP TABLE IF EXISTS transactions",
	} {
		require.Contains(t, content, sub)
	}
}

func TestPickupsMigrationIsOnePerTransaction(t *testing.T) {
	content := readMigration(t, "create_pickups")
	require.Contains(t, content, "CREATE UNIQUE INDEX IF NOT EXISTS pickups_transaction_id_key ON pickups (transaction_id)")
	require.Contains(t, content, "pickups_code_format")
}

func TestRefundsMigrationAllowsOneLiveRefund(t *testing.T) {
	content := readMigration(t, "create_refunds")
	require.Contains(t, content, "refunds_one_live_per_transaction")
	require.Contains(t, content, "WHERE status IN ('pending', 'succeeded')")
}

func TestDisputesMigrationAllowsOneActiveDispute(t *testing.T) {
	content := readMigration(t, "create_disputes")
	require.Contains(t, content, "disputes_one_active_per_transaction")
	require.Contains(t, content, "WHERE status IN ('OPEN', 'IN_REVIEW')")
}

func TestAuditEventsAreAppendOnly(t *testing.T) {
	content := readMigration(t, "create_audit_events")
	require.Contains(t, content, "BEFORE UPDATE OR DELETE ON audit_events")
}

func TestEmbeddedFSMatchesDisk(t *testing.T) {
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	require.NoError(t, err)

	embedded, err := migrations.FS.ReadDir(".")
	require.NoError(t, err)

	var names []string
	for _, e := range embedded {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	require.Len(t, names, len(onDisk))
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Refund Notes!")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(path, "_add_refund_notes.sql"), path)
	require.NoError(t, migrate.ValidateDir(dir))

	_, err = migrate.CreateSQLMigration(dir, "!!!")
	require.Error(t, err)
}

func TestCreateSQLMigrationBumpsPastNewestVersion(t *testing.T) {
	dir := t.TempDir()
	future := "29990101000000_later.sql"
	require.NoError(t, os.WriteFile(filepath.Join(dir, future), []byte("-- +goose Up\n-- +goose Down\n"), 0o644))

	path, err := migrate.CreateSQLMigration(dir, "next")
	require.NoError(t, err)

	version, ok := migrate.ParseVersion(filepath.Base(path))
	require.True(t, ok)
	require.Equal(t, int64(29990101000001), version)
}

func TestValidateDirRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "create_things.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644))
	require.Error(t, migrate.ValidateDir(dir))

	dir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260101000000_no_down.sql"), []byte("-- +goose Up\n"), 0o644))
	require.Error(t, migrate.ValidateDir(dir))
}
