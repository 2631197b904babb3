package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDatabaseConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		config DatabaseConfig
		valid  bool
	}{
		{"sqlite", DatabaseConfig{Type: "sqlite", File: "history.db"}, true},
		{"sqlite-no-file", DatabaseConfig{Type: "sqlite"}, false},
		{"mysql", DatabaseConfig{Type: "mysql", Host: "localhost"}, true},
		{"mysql-no-host", DatabaseConfig{Type: "mysql"}, false},
		{"pgsql-socket", DatabaseConfig{Type: "pgsql", Host: "/run/postgresql"}, true},
		{"unknown", DatabaseConfig{Type: "oracle", Host: "localhost"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestDataSource(t *testing.T) {
	t.Run("mysql-tcp", func(t *testing.T) {
		driver, dsn, err := dataSource(&DatabaseConfig{
			Type: "mysql", Host: "db.example.com", User: "notifyd", Database: "notifyd",
		})
		require.NoError(t, err)
		require.Equal(t, "mysql", driver)
		require.Contains(t, dsn, "tcp(db.example.com:3306)")
	})

	t.Run("mysql-socket", func(t *testing.T) {
		_, dsn, err := dataSource(&DatabaseConfig{
			Type: "mysql", Host: "/run/mysqld/mysqld.sock", User: "notifyd", Database: "notifyd",
		})
		require.NoError(t, err)
		require.Contains(t, dsn, "unix(/run/mysqld/mysqld.sock)")
	})

	t.Run("pgsql", func(t *testing.T) {
		driver, dsn, err := dataSource(&DatabaseConfig{
			Type: "pgsql", Host: "db.example.com", Port: 5433, User: "notifyd", Database: "notifyd",
		})
		require.NoError(t, err)
		require.Equal(t, "postgres", driver)
		require.Contains(t, dsn, "db.example.com:5433")
		require.Contains(t, dsn, "connect_timeout=60")
	})

	t.Run("pgsql-socket", func(t *testing.T) {
		_, dsn, err := dataSource(&DatabaseConfig{
			Type: "pgsql", Host: "/run/postgresql", User: "notifyd", Database: "notifyd",
		})
		require.NoError(t, err)
		require.Contains(t, dsn, "localhost:5432")
		require.Contains(t, dsn, "host=%2Frun%2Fpostgresql")
	})

	t.Run("sqlite", func(t *testing.T) {
		driver, dsn, err := dataSource(&DatabaseConfig{Type: "sqlite", File: "history.db"})
		require.NoError(t, err)
		require.Equal(t, "sqlite", driver)
		require.Equal(t, "history.db", dsn)
	})
}

func TestSQLWriterSQLite(t *testing.T) {
	config := &DatabaseConfig{
		Type: "sqlite",
		File: filepath.Join(t.TempDir(), "history.db"),
	}

	w, err := NewSQLWriter(context.Background(), config, testLogger(t))
	require.NoError(t, err)
	defer func() { require.NoError(t, w.Close()) }()

	w.Sent("mail", hostContext())
	w.Result("mail", serviceContext(), 1, []string{"connection refused"})

	var count int
	require.NoError(t, w.db.Get(&count, "SELECT COUNT(*) FROM notification_history"))
	require.Equal(t, 2, count)

	var entry struct {
		Kind     string `db:"kind"`
		Contact  string `db:"contact"`
		Host     string `db:"host"`
		Service  string `db:"service"`
		State    string `db:"state"`
		Plugin   string `db:"plugin"`
		ExitCode int    `db:"exit_code"`
		Message  string `db:"message"`
	}
	require.NoError(t, w.db.Get(&entry,
		"SELECT kind, contact, host, service, state, plugin, exit_code, message FROM notification_history WHERE kind = 'result'"))

	require.Equal(t, "hh", entry.Contact)
	require.Equal(t, "gw", entry.Host)
	require.Equal(t, "CPU load", entry.Service)
	require.Equal(t, "WARNING", entry.State)
	require.Equal(t, "mail", entry.Plugin)
	require.Equal(t, 1, entry.ExitCode)
	require.Contains(t, entry.Message, "SERVICE NOTIFICATION RESULT:")
}
