package db

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"os"
	"os/exec"
	"testing"

	"sastabazar-be/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{
			name: "DefaultSSLMode",
			cfg:  config.Config{DBHost: "pg", DBUser: "shop", DBPassword: "pw", DBName: "sastabazar", DBPort: "5432"},
			want: "host=pg user=shop password=pw dbname=sastabazar port=5432 sslmode=disable",
		},
		{
			name: "ManagedPostgres",
			cfg:  config.Config{DBHost: "db.internal", DBUser: "shop", DBPassword: "pw", DBName: "sastabazar", DBPort: "6432", DBSSLMode: "require"},
			want: "host=db.internal user=shop password=pw dbname=sastabazar port=6432 sslmode=require",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, buildDSN(&tc.cfg))
		})
	}
}

func TestPoolSize(t *testing.T) {
	tests := []struct {
		name               string
		configured         int
		wantOpen, wantIdle int
	}{
		{"Unset", 0, 25, 10},
		{"Configured", 50, 50, 20},
		{"Tiny", 1, 1, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			open, idle := poolSize(&config.Config{DBMaxOpenConns: tc.configured})
			assert.Equal(t, tc.wantOpen, open)
			assert.Equal(t, tc.wantIdle, idle)
		})
	}
}

// stubDriver hands out connections that are never used beyond the ping.
type stubDriver struct{}

func (d *stubDriver) Open(string) (driver.Conn, error) { return &stubConn{}, nil }

type stubConn struct{}

func (c *stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (c *stubConn) Close() error                        { return nil }
func (c *stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not supported") }

func init() {
	sql.Register("stub_pg_up", &stubDriver{})
}

func TestNewDatabase(t *testing.T) {
	t.Run("AppliesPoolSize", func(t *testing.T) {
		db, err := newDatabaseWithDriver(&config.Config{DBHost: "pg", DBMaxOpenConns: 40}, "stub_pg_up")
		require.NoError(t, err)
		defer db.Close()

		assert.Equal(t, 40, db.Stats().MaxOpenConnections)
	})

	t.Run("UnknownDriver", func(t *testing.T) {
		db, err := newDatabaseWithDriver(&config.Config{}, "cockroach")
		assert.Nil(t, db)
		assert.ErrorContains(t, err, "failed to connect to DB")
	})

	t.Run("UnreachableHost", func(t *testing.T) {
		db, err := NewDatabase(&config.Config{DBHost: "invalid_host", DBPort: "5432"})
		assert.Nil(t, db)
		assert.ErrorContains(t, err, "failed to ping DB")
	})
}

func TestInitDB_ExitsWhenUnreachable(t *testing.T) {
	if os.Getenv("SB_INITDB_CHILD") == "1" {
		InitDB(&config.Config{DBHost: "invalid_host", DBPort: "5432"})
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestInitDB_ExitsWhenUnreachable")
	cmd.Env = append(os.Environ(), "SB_INITDB_CHILD=1")
	err := cmd.Run()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.False(t, exitErr.Success())
}
