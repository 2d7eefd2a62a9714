package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"BOOKS_PORT", "BOOKS_DB_PATH", "BOOKS_AUDIT_PATH", "BOOKS_LOG_LEVEL", "BOOKS_CORS_ORIGINS"} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "./books.db", cfg.DBPath)
	assert.Empty(t, cfg.AuditPath)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.CORSOrigins)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOOKS_PORT", "9090")
	t.Setenv("BOOKS_DB_PATH", "/var/lib/books/books.db")
	t.Setenv("BOOKS_AUDIT_PATH", "/var/lib/books/audit.bolt")
	t.Setenv("BOOKS_LOG_LEVEL", "debug")
	t.Setenv("BOOKS_CORS_ORIGINS", " https://books.example.org , ,https://admin.example.org")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "/var/lib/books/books.db", cfg.DBPath)
	assert.Equal(t, "/var/lib/books/audit.bolt", cfg.AuditPath)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, []string{"https://books.example.org", "https://admin.example.org"}, cfg.CORSOrigins)
}

func TestLoad_InvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOOKS_PORT", "eighty")
	_, err := Load()
	assert.ErrorContains(t, err, "BOOKS_PORT")

	t.Setenv("BOOKS_PORT", "")
	t.Setenv("BOOKS_LOG_LEVEL", "loud")
	_, err = Load()
	assert.ErrorContains(t, err, "BOOKS_LOG_LEVEL")
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	// godotenv does not override variables that are already set
	os.Unsetenv("BOOKS_PORT")
	os.Unsetenv("BOOKS_DB_PATH")

	path := filepath.Join(t.TempDir(), "books.env")
	require.NoError(t, os.WriteFile(path, []byte("BOOKS_PORT=7070\nBOOKS_DB_PATH=/tmp/from-file.db\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "/tmp/from-file.db", cfg.DBPath)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"ok", Config{Port: 8080, DBPath: "books.db"}, false},
		{"port zero", Config{Port: 0, DBPath: "books.db"}, true},
		{"port too high", Config{Port: 70000, DBPath: "books.db"}, true},
		{"no db path", Config{Port: 8080}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
