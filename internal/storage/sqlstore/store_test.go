package sqlstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libranexus-lending/internal/catalog"
	"libranexus-lending/internal/lifecycle"
	"libranexus-lending/internal/storage/storetest"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "lending.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) catalog.Store { return openSQLite(t) })
}

func TestPostgresStoreContract(t *testing.T) {
	if os.Getenv("PGHOST") == "" {
		t.Skip("skipping postgres tests: PGHOST not set")
	}
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		os.Getenv("PGHOST"), envOr("PGPORT", "5432"), envOr("PGUSER", "user"),
		envOr("PGPASSWORD", "password"), envOr("PGDATABASE", "testdb"))

	storetest.Run(t, func(t *testing.T) catalog.Store {
		s, err := Open(context.Background(), DriverPostgres, dsn)
		require.NoError(t, err)
		t.Cleanup(func() {
			s.DB().MustExec("TRUNCATE condition_reports, lending_records, assets")
			s.Close()
		})
		s.DB().MustExec("TRUNCATE condition_reports, lending_records, assets")
		return s
	})
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func TestMigrationsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lending.db")

	s, err := Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	require.NoError(t, s.UpsertAsset(ctx, &catalog.Asset{ID: "ISBN003", State: lifecycle.Available}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	defer s.Close()

	var applied int
	require.NoError(t, s.DB().Get(&applied, "SELECT COUNT(1) FROM schema_migrations"))
	assert.Equal(t, 1, applied)

	_, err = s.GetAsset(ctx, "ISBN003")
	assert.NoError(t, err)
}

func TestUnknownStatusLabelIsKeptForTheCatalog(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	s.DB().MustExec(`INSERT INTO assets (id, title, author, metadata, state) VALUES ('ISBN009', 'Old', 'Scribe', '{}', 'Lost')`)

	a, err := s.GetAsset(ctx, "ISBN009")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.State("Lost"), a.State)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "dsn")
	assert.Error(t, err)

	_, err = Open(context.Background(), DriverSQLite, " ")
	assert.Error(t, err)
}

func TestRecordIDsAreOpaque(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	require.NoError(t, s.UpsertAsset(ctx, &catalog.Asset{ID: "ISBN003", State: lifecycle.Available}))
	id := uuid.NewString()
	require.NoError(t, s.InsertLendingRecord(ctx, catalog.LendingRecord{ID: id, AssetID: "ISBN003", UserID: "alice"}))
	assert.NoError(t, s.DeleteLendingRecord(ctx, id))
}
