package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FRONTEND_ORIGIN", "https://app.example.com/")
	t.Setenv("KHALTI_RETURN_URL", "")
	t.Setenv("KHALTI_TIMEOUT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://app.example.com", cfg.Khalti.FrontendOrigin)
	assert.Equal(t, "https://app.example.com/payment/verify", cfg.Khalti.ReturnURL)
	assert.Equal(t, DefaultKhaltiTimeout, cfg.Khalti.Timeout)
	assert.Equal(t, DefaultLookupRetries, cfg.Khalti.LookupRetries)
	assert.Equal(t, cfg.Khalti.MaxLookupDuration()+VerifyLockMargin, cfg.Redis.VerifyLockTTL)
}

func TestMaxLookupDuration(t *testing.T) {
	k := KhaltiConfig{Timeout: 15 * time.Second, LookupRetries: 2, LookupBackoff: 500 * time.Millisecond}
	// three attempts plus 500ms and 1s of backoff
	assert.Equal(t, 46500*time.Millisecond, k.MaxLookupDuration())

	k.LookupRetries = 0
	assert.Equal(t, 15*time.Second, k.MaxLookupDuration())
}

func TestLockTTLCoversRetriedLookup(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("KHALTI_SECRET_KEY", "key")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("KHALTI_TIMEOUT", "10s")
	t.Setenv("KHALTI_LOOKUP_RETRIES", "3")
	t.Setenv("KHALTI_LOOKUP_BACKOFF", "1s")
	t.Setenv("VERIFY_LOCK_TTL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 51*time.Second, cfg.Redis.VerifyLockTTL)
	assert.NoError(t, cfg.Validate())

	cfg.Redis.VerifyLockTTL = 30 * time.Second
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VERIFY_LOCK_TTL")
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "esm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("khalti_timeout: 4s\ndatabase_name: fromfile\nport: \"7070\"\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "8080")
	t.Setenv("KHALTI_TIMEOUT", "")
	t.Setenv("DATABASE_NAME", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4*time.Second, cfg.Khalti.Timeout)
	assert.Equal(t, "fromfile", cfg.Database.Name)
	assert.Equal(t, "8080", cfg.Port)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KHALTI_BASE_URL", "https://khalti.test/api/v2/")
	t.Setenv("KHALTI_TIMEOUT", "3s")
	t.Setenv("KHALTI_LOOKUP_RETRIES", "4")
	t.Setenv("MAINTENANCE_MODE", "true")
	t.Setenv("DATABASE_HOST", "db")
	t.Setenv("DATABASE_NAME", "payments")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://khalti.test/api/v2/", cfg.Khalti.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Khalti.Timeout)
	assert.Equal(t, 4, cfg.Khalti.LookupRetries)
	assert.True(t, cfg.MaintenanceMode)
	assert.Contains(t, cfg.GetDSN(), "host=db")
	assert.Contains(t, cfg.GetDSN(), "dbname=payments")
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("KHALTI_TIMEOUT", "soon")
	t.Setenv("MAINTENANCE_MODE", "maybe")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KHALTI_TIMEOUT")
	assert.Contains(t, err.Error(), "MAINTENANCE_MODE")
}

func TestValidate(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("KHALTI_SECRET_KEY", "")
	t.Setenv("KHALTI_SECRET_ARN", "")
	t.Setenv("DATABASE_DRIVER", "")

	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "KHALTI_SECRET_KEY")

	cfg.JWTSecret = "secret"
	cfg.Khalti.SecretARN = "arn:aws:secretsmanager:ap-south-1:000000000000:secret:khalti"
	assert.NoError(t, cfg.Validate())

	cfg.Database.Driver = "mysql"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_DRIVER")
}
