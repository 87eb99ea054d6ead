package couchbase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zx8086/capellaql-sub003/internal/config"
)

func TestBuildClusterOptions_AppliesDefaultTimeouts(t *testing.T) {
	cfg := &config.CouchbaseConfig{
		ConnectionString: "couchbase://localhost",
		Username:         "tester",
		Password:         "s3cret!",
		Bucket:           "default",
	}
	meta := config.ParseConnectionString(cfg.ConnectionString)

	opts, err := BuildClusterOptions(cfg, meta)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, opts.TimeoutsConfig.ConnectTimeout)
	assert.Equal(t, 7500*time.Millisecond, opts.TimeoutsConfig.KVTimeout)
	assert.Equal(t, 30*time.Second, opts.TimeoutsConfig.QueryTimeout)
}

func TestEffectiveTimeouts_CapellaOverridesUnsetValuesOnly(t *testing.T) {
	cfg := &config.CouchbaseConfig{}
	cfg.Timeouts.KV = 9 * time.Second // explicit override must survive

	meta := config.ConnectionStringMeta{IsCapella: true}
	timeouts := effectiveTimeouts(cfg, meta)

	assert.Equal(t, 15*time.Second, timeouts.Connect)
	assert.Equal(t, 25*time.Second, timeouts.Bootstrap)
	assert.Equal(t, 9*time.Second, timeouts.KV, "an explicit config value must not be overridden by the Capella profile")
	assert.Equal(t, 45*time.Second, timeouts.Query)
}

func TestEffectiveTimeouts_NonCapellaUsesPlainDefaults(t *testing.T) {
	cfg := &config.CouchbaseConfig{}
	meta := config.ConnectionStringMeta{IsCapella: false}
	timeouts := effectiveTimeouts(cfg, meta)

	assert.Equal(t, 10*time.Second, timeouts.Connect)
	assert.Equal(t, 30*time.Second, timeouts.Query)
}

func TestCompressionDefaults(t *testing.T) {
	assert.Equal(t, uint32(32), compressionMinSize(0))
	assert.Equal(t, uint32(64), compressionMinSize(64))
	assert.Equal(t, 0.83, compressionMinRatio(0))
	assert.Equal(t, 0.5, compressionMinRatio(0.5))
}

func TestApplySecurityConfig_SkipsVerifyOutsideProductionAndCapella(t *testing.T) {
	cfg := &config.CouchbaseConfig{Environment: "development"}
	meta := config.ParseConnectionString("couchbases://localhost")

	opts, err := BuildClusterOptions(cfg, meta)
	require.NoError(t, err)
	assert.True(t, opts.SecurityConfig.TLSSkipVerify)
}

func TestApplySecurityConfig_CapellaTrustsSystemStoreAndNeverSkipsVerify(t *testing.T) {
	cfg := &config.CouchbaseConfig{Environment: "production"}
	meta := config.ParseConnectionString("couchbases://cb.abc123.cloud.couchbase.com")

	opts, err := BuildClusterOptions(cfg, meta)
	require.NoError(t, err)
	assert.False(t, opts.SecurityConfig.TLSSkipVerify)
	assert.True(t, opts.SecurityConfig.UseSystemCertificateStore)
}

func TestApplySecurityConfig_PlaintextLeavesSecurityConfigZero(t *testing.T) {
	cfg := &config.CouchbaseConfig{}
	meta := config.ParseConnectionString("couchbase://localhost")

	opts, err := BuildClusterOptions(cfg, meta)
	require.NoError(t, err)
	assert.False(t, opts.SecurityConfig.TLSSkipVerify)
	assert.False(t, opts.SecurityConfig.UseSystemCertificateStore)
}
