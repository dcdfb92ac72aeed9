package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractMigrationPart(t *testing.T) {
	content := `
-- +migrate Up
CREATE TABLE orders (id uuid);
CREATE INDEX idx_orders_user_id ON orders(user_id);

-- +migrate Down
DROP TABLE orders;
`
	t.Run("ExtractUp", func(t *testing.T) {
		up := extractMigrationPart(content, "Up")
		assert.Contains(t, up, "CREATE TABLE orders")
		assert.Contains(t, up, "CREATE INDEX idx_orders_user_id")
		assert.NotContains(t, up, "DROP TABLE orders")
		assert.NotContains(t, up, "-- +migrate Up")
	})

	t.Run("ExtractDown", func(t *testing.T) {
		down := extractMigrationPart(content, "Down")
		assert.Contains(t, down, "DROP TABLE orders")
		assert.NotContains(t, down, "CREATE TABLE orders")
	})
}

func TestShippedMigrationsHaveBothSections(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("..", "..", "migrations", "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		content, err := os.ReadFile(f)
		require.NoError(t, err)
		assert.NotEmpty(t, extractMigrationPart(string(content), "Up"), f)
		assert.NotEmpty(t, extractMigrationPart(string(content), "Down"), f)
	}
}

func writeMigration(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunMigrationsUp(t *testing.T) {
	t.Run("AppliesPendingMigrationInATransaction", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		file := writeMigration(t, t.TempDir(), "0001_init.sql", "-- +migrate Up\nCREATE TABLE test (id int);\n-- +migrate Down\nDROP TABLE test;")

		mock.ExpectQuery("SELECT EXISTS.*schema_migrations").
			WithArgs("0001_init.sql").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE test").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO schema_migrations").
			WithArgs("0001_init.sql").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		require.NoError(t, runMigrationsUp(db, []string{file}))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("SkipsAppliedMigration", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		file := writeMigration(t, t.TempDir(), "0001_init.sql", "-- +migrate Up\nCREATE TABLE test (id int);")

		mock.ExpectQuery("SELECT EXISTS.*schema_migrations").
			WithArgs("0001_init.sql").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		require.NoError(t, runMigrationsUp(db, []string{file}))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("FailedStatementRollsBack", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		file := writeMigration(t, t.TempDir(), "0002_bad.sql", "-- +migrate Up\nCREATE TABLE broken (;")

		mock.ExpectQuery("SELECT EXISTS.*schema_migrations").
			WithArgs("0002_bad.sql").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE broken").WillReturnError(errors.New("syntax error"))
		mock.ExpectRollback()

		err = runMigrationsUp(db, []string{file})
		assert.ErrorContains(t, err, "0002_bad.sql")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("MissingUpSection", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		file := writeMigration(t, t.TempDir(), "0003_empty.sql", "-- +migrate Down\nDROP TABLE x;")

		mock.ExpectQuery("SELECT EXISTS.*schema_migrations").
			WithArgs("0003_empty.sql").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		assert.ErrorContains(t, runMigrationsUp(db, []string{file}), "no Up section")
	})
}

func TestRunMigrationsDown(t *testing.T) {
	t.Run("RollsBackLatest", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		dir := t.TempDir()
		first := writeMigration(t, dir, "0001_init.sql", "-- +migrate Up\nCREATE TABLE a (id int);\n-- +migrate Down\nDROP TABLE a;")
		second := writeMigration(t, dir, "0002_more.sql", "-- +migrate Up\nCREATE TABLE b (id int);\n-- +migrate Down\nDROP TABLE b;")

		mock.ExpectQuery("SELECT version FROM schema_migrations").
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("0002_more.sql"))
		mock.ExpectBegin()
		mock.ExpectExec("DROP TABLE b").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("DELETE FROM schema_migrations").
			WithArgs("0002_more.sql").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, runMigrationsDown(db, []string{first, second}))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NothingApplied", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("SELECT version FROM schema_migrations").
			WillReturnRows(sqlmock.NewRows([]string{"version"}))

		require.NoError(t, runMigrationsDown(db, nil))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("FileMissing", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("SELECT version FROM schema_migrations").
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("0009_gone.sql"))

		assert.ErrorContains(t, runMigrationsDown(db, nil), "0009_gone.sql")
	})
}

func TestRun_UnknownMode(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorContains(t, run(db, "sideways", t.TempDir()), "unknown mode")
}

func TestDSNFromEnv(t *testing.T) {
	t.Run("DBURLWins", func(t *testing.T) {
		t.Setenv("DB_URL", "postgres://u:p@db:5432/shop")
		dsn, err := dsnFromEnv()
		require.NoError(t, err)
		assert.Equal(t, "postgres://u:p@db:5432/shop", dsn)
	})

	t.Run("BuiltFromParts", func(t *testing.T) {
		t.Setenv("DB_URL", "")
		t.Setenv("DB_HOST", "db")
		t.Setenv("DB_PORT", "")
		t.Setenv("DB_USER", "u")
		t.Setenv("DB_PASSWORD", "p")
		t.Setenv("DB_NAME", "shop")
		t.Setenv("DB_SSLMODE", "")

		dsn, err := dsnFromEnv()
		require.NoError(t, err)
		assert.Equal(t, "host=db port=5432 user=u password=p dbname=shop sslmode=disable", dsn)
	})

	t.Run("NothingSet", func(t *testing.T) {
		t.Setenv("DB_URL", "")
		t.Setenv("DB_HOST", "")
		_, err := dsnFromEnv()
		assert.Error(t, err)
	})
}
