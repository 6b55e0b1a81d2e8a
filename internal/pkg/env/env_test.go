package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvPrefersLoadedFile(t *testing.T) {
	t.Setenv("PAYFOX_TEST_KEY", "from-os")
	Env = map[string]string{"PAYFOX_TEST_KEY": "from-file"}
	t.Cleanup(func() { Env = nil })

	assert.Equal(t, "from-file", GetEnv("PAYFOX_TEST_KEY", "def"))

	Env = nil
	assert.Equal(t, "from-os", GetEnv("PAYFOX_TEST_KEY", "def"))
	assert.Equal(t, "def", GetEnv("PAYFOX_TEST_MISSING", "def"))
}

func TestGetEnvTyped(t *testing.T) {
	t.Setenv("PAYFOX_TEST_INT", "7")
	t.Setenv("PAYFOX_TEST_DURATION", "90s")
	t.Setenv("PAYFOX_TEST_BAD", "soon")
	t.Setenv("PAYFOX_TEST_BOOL", "false")

	assert.Equal(t, 7, GetEnvInt("PAYFOX_TEST_INT", 1))
	assert.Equal(t, 1, GetEnvInt("PAYFOX_TEST_BAD", 1))
	assert.Equal(t, 90*time.Second, GetEnvDuration("PAYFOX_TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, GetEnvDuration("PAYFOX_TEST_BAD", time.Second))
	assert.False(t, GetEnvBool("PAYFOX_TEST_BOOL", true))
	assert.True(t, GetEnvBool("PAYFOX_TEST_BAD", true))
}
