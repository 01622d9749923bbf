package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setTwilioEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "secret")
	t.Setenv("TWILIO_WHATSAPP_NUMBER", "whatsapp:+14155238886")
}

func TestLoadDefaults(t *testing.T) {
	setTwilioEnv(t)
	t.Setenv("YOUR_PERSONAL_WHATSAPP", "+50760000000")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "+50760000000", cfg.App.OwnerNumber)
	assert.Equal(t, "twilio", cfg.App.Transport)
	assert.Equal(t, 3*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 35*time.Second, cfg.Sourcing.ItemTimeout)
	assert.Equal(t, 30*time.Second, cfg.Sourcing.SupplierTimeout)
	assert.Equal(t, 4, cfg.Sourcing.ItemWorkers)
	assert.Equal(t, 10, cfg.Sourcing.SupplierWorkers)
	assert.InDelta(t, 0.35, cfg.Sourcing.Markup, 1e-9)
	assert.Equal(t, 5*time.Minute, cfg.Followup.ReminderDelay)
	assert.Equal(t, 10*time.Minute, cfg.Followup.LongWaitDelay)
	assert.Equal(t, 5*time.Second, cfg.Messaging.RetryDelay)
	assert.Equal(t, "0 8 * * *", cfg.Scheduler.SummaryCron)
}

func TestLoadPrefixedEnvOverrides(t *testing.T) {
	setTwilioEnv(t)
	t.Setenv("PARTSBOT_APP_OWNER_NUMBER", "+50761111111")
	t.Setenv("PARTSBOT_SOURCING_ITEM_TIMEOUT", "10s")
	t.Setenv("PARTSBOT_SHEETS_SCOPES", "a,b")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "+50761111111", cfg.App.OwnerNumber)
	assert.Equal(t, 10*time.Second, cfg.Sourcing.ItemTimeout)
	assert.Equal(t, []string{"a", "b"}, cfg.Sheets.Scopes)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partsbot.yaml")
	content := []byte(`
app:
  owner_number: "+50762222222"
  transport: whatsmeow
session:
  backend: memory
  ttl: 90m
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "whatsmeow", cfg.App.Transport)
	assert.Equal(t, 90*time.Minute, cfg.Session.TTL)
}

func TestLoadRejectsMissingOwner(t *testing.T) {
	setTwilioEnv(t)
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadRejectsRedisBackendWithoutAddr(t *testing.T) {
	setTwilioEnv(t)
	t.Setenv("PARTSBOT_APP_OWNER_NUMBER", "+50761111111")
	t.Setenv("PARTSBOT_SESSION_BACKEND", "redis")

	_, err := Load("")
	assert.ErrorContains(t, err, "redis.addr")
}

func TestLocationFallback(t *testing.T) {
	cfg := &Config{App: AppConfig{Timezone: "Nowhere/Invalid"}}
	loc := cfg.Location()
	_, offset := time.Now().In(loc).Zone()
	assert.Equal(t, -5*60*60, offset)
}
