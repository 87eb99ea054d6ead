package couchbase

import (
	"time"

	"github.com/couchbase/gocb/v2"

	"github.com/zx8086/capellaql-sub003/internal/config"
)

// BuildClusterOptions translates a validated CouchbaseConfig plus its
// parsed ConnectionStringMeta into a gocb.ClusterOptions record: timeouts,
// compression, orphan/threshold logging, transaction defaults, and TLS
// posture. This is C3 — a pure function, no network calls.
func BuildClusterOptions(cfg *config.CouchbaseConfig, meta config.ConnectionStringMeta) (*gocb.ClusterOptions, error) {
	timeouts := effectiveTimeouts(cfg, meta)

	opts := &gocb.ClusterOptions{
		Authenticator: gocb.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		},
		TimeoutsConfig: gocb.TimeoutsConfig{
			ConnectTimeout:    timeouts.Connect,
			ResolveTimeout:    timeouts.Resolve,
			KVTimeout:         timeouts.KV,
			KVDurableTimeout:  timeouts.KVDurable,
			QueryTimeout:      timeouts.Query,
			AnalyticsTimeout:  timeouts.Analytics,
			SearchTimeout:     timeouts.Search,
			ViewTimeout:       timeouts.View,
			ManagementTimeout: timeouts.Management,
		},
		CompressionConfig: gocb.CompressionConfig{
			Enabled:  cfg.Compression.Enabled,
			MinSize:  compressionMinSize(cfg.Compression.MinSize),
			MinRatio: compressionMinRatio(cfg.Compression.MinRatio),
		},
		OrphanReporterConfig: gocb.OrphanReporterConfig{
			Enabled:        true,
			SampleSize:     10,
			ReportInterval: 10 * time.Second,
		},
		TransactionsConfig: BuildTransactionConfig(),
	}

	if cfg.ThresholdLogging.Enabled {
		opts.ThresholdLoggingTracerConfig = gocb.ThresholdLoggingTracerConfig{
			KVThreshold:        durationOrDefault(cfg.ThresholdLogging.KVThreshold, 500*time.Millisecond),
			QueryThreshold:     durationOrDefault(cfg.ThresholdLogging.QueryThreshold, time.Second),
			AnalyticsThreshold: time.Second,
			SearchThreshold:    time.Second,
			Interval:           durationOrDefault(cfg.ThresholdLogging.Interval, 10*time.Second),
		}
	}

	applySecurityConfig(opts, cfg, meta)

	if meta.IsCapella {
		applyWanDevelopmentProfile(opts)
	}

	return opts, nil
}

// BuildTransactionConfig returns the transaction defaults {cleanupWindow=60s,
// durability=majority, timeout=15s} as a gocb.TransactionsConfig.
func BuildTransactionConfig() gocb.TransactionsConfig {
	return gocb.TransactionsConfig{
		DurabilityLevel: gocb.DurabilityLevelMajority,
		Timeout:         15 * time.Second,
		CleanupConfig: gocb.TransactionsCleanupConfig{
			CleanupWindow:      60 * time.Second,
			CleanupLostAttempts: true,
		},
	}
}

type timeoutSet struct {
	Connect, Bootstrap, Resolve, KV, KVDurable, Query, Analytics, Search, View, Management time.Duration
}

// effectiveTimeouts applies config overrides on top of the spec's defaults,
// then applies Capella-optimised overrides (connect 15s, bootstrap 25s,
// kv 10s, query 45s) when the target is Capella and the config did not
// already override that specific timeout.
func effectiveTimeouts(cfg *config.CouchbaseConfig, meta config.ConnectionStringMeta) timeoutSet {
	t := timeoutSet{
		Connect:    durationOrDefault(cfg.Timeouts.Connect, 10*time.Second),
		Bootstrap:  durationOrDefault(cfg.Timeouts.Bootstrap, 20*time.Second),
		Resolve:    durationOrDefault(cfg.Timeouts.Resolve, 5*time.Second),
		KV:         durationOrDefault(cfg.Timeouts.KV, 7500*time.Millisecond),
		KVDurable:  durationOrDefault(cfg.Timeouts.KVDurable, 15*time.Second),
		Query:      durationOrDefault(cfg.Timeouts.Query, 30*time.Second),
		Analytics:  durationOrDefault(cfg.Timeouts.Analytics, 60*time.Second),
		Search:     durationOrDefault(cfg.Timeouts.Search, 30*time.Second),
		View:       durationOrDefault(cfg.Timeouts.View, 30*time.Second),
		Management: durationOrDefault(cfg.Timeouts.Management, 15*time.Second),
	}

	if meta.IsCapella {
		if cfg.Timeouts.Connect == 0 {
			t.Connect = 15 * time.Second
		}
		if cfg.Timeouts.Bootstrap == 0 {
			t.Bootstrap = 25 * time.Second
		}
		if cfg.Timeouts.KV == 0 {
			t.KV = 10 * time.Second
		}
		if cfg.Timeouts.Query == 0 {
			t.Query = 45 * time.Second
		}
	}

	return t
}

func durationOrDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func compressionMinSize(configured int) uint32 {
	if configured <= 0 {
		return 32
	}
	return uint32(configured)
}

func compressionMinRatio(configured float64) float64 {
	if configured <= 0 {
		return 0.83
	}
	return configured
}

// applySecurityConfig wires TLS posture per invariant 7: TLS is required
// whenever the deployment is production or Capella. Certificate
// verification is disabled only outside production and Capella. Capella
// targets trust the system certificate store; everything else trusts the
// configured custom store path, if any.
func applySecurityConfig(opts *gocb.ClusterOptions, cfg *config.CouchbaseConfig, meta config.ConnectionStringMeta) {
	if !meta.IsTLS {
		return
	}

	opts.SecurityConfig = gocb.SecurityConfig{
		TLSSkipVerify: !cfg.IsProduction() && !meta.IsCapella,
	}

	if meta.IsCapella {
		opts.SecurityConfig.UseSystemCertificateStore = true
	} else if cfg.TrustStorePath != "" {
		opts.SecurityConfig.TLSRootCAProvider = systemAndCustomStoreProvider(cfg.TrustStorePath)
	}
}

func applyWanDevelopmentProfile(opts *gocb.ClusterOptions) {
	// ApplyProfile mutates the already-populated timeout config with WAN
	// safe margins; call last so it can only widen, never shrink, timeouts
	// this builder already computed.
	opts.ApplyProfile(gocb.ClusterConfigProfileWanDevelopment)
}
