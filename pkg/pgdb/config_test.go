package pgdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	cfg := Config{Database: "paperflow", MaxOpenConns: 10, MaxIdleConns: 5}
	require.NoError(t, cfg.Validate())

	cfg.MaxIdleConns = 20
	assert.Error(t, cfg.Validate())

	cfg.MaxIdleConns = 5
	cfg.Database = ""
	assert.Error(t, cfg.Validate())

	cfg.Database = "paperflow"
	cfg.MaxOpenConns = 0
	assert.Error(t, cfg.Validate())
}

func TestConfig_DSN(t *testing.T) {
	cfg := Config{
		Host: "db.internal", Port: 5432, User: "paperflow",
		Password: "secret", Database: "paperflow", SSLMode: "disable",
	}
	dsn := cfg.DSN()
	assert.Contains(t, dsn, "host=db.internal")
	assert.Contains(t, dsn, "dbname=paperflow")
	assert.Contains(t, dsn, "sslmode=disable")
}
