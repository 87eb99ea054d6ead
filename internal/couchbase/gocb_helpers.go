package couchbase

import (
	"context"
	"crypto/x509"
	"errors"
	"os"
	"strconv"

	"github.com/couchbase/gocb/v2"
)

var (
	errNotGocbCollection       = errors.New("couchbase: collection handle is not a gocb-backed collection")
	errNotGocbDocument         = errors.New("couchbase: document handle is not a gocb-backed transaction document")
	errUnsupportedOnTxDocument = errors.New("couchbase: path-indexed content is not available on a transaction document")
)

// casToString renders a gocb.Cas as the opaque CAS token this module's
// public API deals in. Callers never interpret the token; it is round
// tripped back into stringToCas on the next mutating call.
func casToString(cas gocb.Cas) string {
	return strconv.FormatUint(uint64(cas), 16)
}

func stringToCas(s string) gocb.Cas {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0
	}
	return gocb.Cas(v)
}

func toGocbDurability(d Durability) gocb.DurabilityLevel {
	switch d {
	case DurabilityMajority:
		return gocb.DurabilityLevelMajority
	case DurabilityMajorityAndPersistActive:
		return gocb.DurabilityLevelMajorityAndPersistOnMaster
	case DurabilityPersistToMajority:
		return gocb.DurabilityLevelPersistToMajority
	default:
		return gocb.DurabilityLevelNone
	}
}

func toGocbScanConsistency(s ScanConsistency) gocb.QueryScanConsistency {
	switch s {
	case ScanConsistencyRequestPlus:
		return gocb.QueryScanConsistencyRequestPlus
	case ScanConsistencyAtPlus:
		return gocb.QueryScanConsistencyNotBounded // at_plus needs consistent-with tokens; callers without tokens fall back to not_bounded
	default:
		return gocb.QueryScanConsistencyNotBounded
	}
}

func toGocbQueryOptions(opts QueryOptions) *gocb.QueryOptions {
	o := &gocb.QueryOptions{
		Adhoc:           !opts.UsePreparedStatement,
		QueryContext:    opts.QueryContext,
		Profile:         profileMode(opts.Profile),
		Metrics:         opts.Metrics == nil || *opts.Metrics,
		Timeout:         opts.Timeout,
		ScanConsistency: toGocbScanConsistency(opts.ScanConsistency),
		Readonly:        opts.Readonly,
		ClientContextID: opts.ClientContextID,
	}
	if len(opts.NamedParameters) > 0 {
		o.NamedParameters = opts.NamedParameters
	}
	if len(opts.Parameters) > 0 {
		o.PositionalParameters = opts.Parameters
	}
	return o
}

func toGocbTransactionQueryOptions(opts QueryOptions) *gocb.TransactionQueryOptions {
	o := &gocb.TransactionQueryOptions{
		ScanConsistency: toGocbScanConsistency(opts.ScanConsistency),
	}
	if len(opts.NamedParameters) > 0 {
		o.NamedParameters = opts.NamedParameters
	}
	if len(opts.Parameters) > 0 {
		o.PositionalParameters = opts.Parameters
	}
	return o
}

func profileMode(enabled bool) gocb.QueryProfileMode {
	if enabled {
		return gocb.QueryProfileModeTimings
	}
	return gocb.QueryProfileModeOff
}

func toGocbUpsertOptions(ctx context.Context, opts KVUpsertOptions) *gocb.UpsertOptions {
	return &gocb.UpsertOptions{
		Context:         ctx,
		Expiry:          opts.Expiry,
		Timeout:         opts.Timeout,
		DurabilityLevel: toGocbDurability(opts.Durability),
	}
}

func toGocbInsertOptions(ctx context.Context, opts KVUpsertOptions) *gocb.InsertOptions {
	return &gocb.InsertOptions{
		Context:         ctx,
		Expiry:          opts.Expiry,
		Timeout:         opts.Timeout,
		DurabilityLevel: toGocbDurability(opts.Durability),
	}
}

// systemAndCustomStoreProvider returns a gocb.TLSRootCAProvider that trusts
// the host's system pool plus the PEM bundle at trustStorePath.
func systemAndCustomStoreProvider(trustStorePath string) func() *x509.CertPool {
	return func() *x509.CertPool {
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if pem, err := os.ReadFile(trustStorePath); err == nil {
			pool.AppendCertsFromPEM(pem)
		}
		return pool
	}
}
