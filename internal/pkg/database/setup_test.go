package database

import (
	"testing"

	"github.com/ManuelReschke/PayFox/internal/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectorByDriver(t *testing.T) {
	cfg := &config.Config{DBDriver: "mysql", DBHost: "db", DBPort: "3306", DBUser: "u", DBPassword: "p", DBName: "payfox"}
	d, err := Dialector(cfg)
	require.NoError(t, err)
	assert.Equal(t, "mysql", d.Name())

	cfg.DBDriver = "postgres"
	d, err = Dialector(cfg)
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	cfg.DBDriver = "oracle"
	_, err = Dialector(cfg)
	assert.Error(t, err)
}
