// Package config builds the immutable Config the core consumes. Loading and
// flag/env/file merging is the CLI's job (cmd/evmwatch, via viper); this package
// only validates and normalizes once a set of raw values has been gathered.
package config

import (
	"math/big"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/evmwatch/evmwatch/internal/ethunit"
	"github.com/evmwatch/evmwatch/internal/model"
)

// Defaults mirror spec.md §6.
const (
	DefaultBaseDelay           = 5 * time.Second
	DefaultMaxCooldown         = 5 * time.Minute
	DefaultHealthCheckInterval = 60 * time.Second
	DefaultRequestTimeout      = 10 * time.Second
	DefaultDedupRetention      = 10 * time.Minute
)

// BuiltinFallbackEndpoints are appended to the operator-supplied primary endpoint
// list (deduplicated in order) so the orchestrator always has somewhere to fail
// over to, per spec.md §4.F step 1.
var BuiltinFallbackEndpoints = []string{
	"wss://base-rpc.publicnode.com",
	"wss://base.drpc.org",
}

// Config is built once at startup and consumed read-only thereafter.
type Config struct {
	Endpoints []string

	ThresholdWei *big.Int

	Watched mapset.Set[model.Address]
	Labels  map[model.Address]string

	BaseDelay           time.Duration
	MaxCooldown         time.Duration
	HealthCheckInterval time.Duration
	RequestTimeout      time.Duration
	DedupRetention      time.Duration

	LogLevel string
}

// Raw is the unvalidated shape the CLI layer gathers from flags/env/file before
// handing off to Build.
type Raw struct {
	Endpoints           []string
	ThresholdEth        string
	Wallets             []model.WatchedWallet
	BaseDelay           time.Duration
	MaxCooldown         time.Duration
	HealthCheckInterval time.Duration
	RequestTimeout      time.Duration
	DedupRetention      time.Duration
	LogLevel            string
}

// Build validates r and produces an immutable Config, or a *model.ConfigError.
func Build(r Raw) (*Config, error) {
	if len(r.Endpoints) == 0 {
		return nil, model.NewConfigError("at least one RPC endpoint is required")
	}
	endpoints := dedupInOrder(append(append([]string{}, r.Endpoints...), BuiltinFallbackEndpoints...))
	for _, ep := range endpoints {
		if !isWSURL(ep) {
			return nil, model.NewConfigError("endpoint " + ep + " must use ws:// or wss://")
		}
	}

	thresholdWei, err := ethunit.ParseEthToWei(r.ThresholdEth)
	if err != nil {
		return nil, model.NewConfigError("threshold: " + err.Error())
	}

	watched := mapset.NewThreadUnsafeSet[model.Address]()
	labels := make(map[model.Address]string, len(r.Wallets))
	for _, w := range r.Wallets {
		addr := model.NormalizeAddress(string(w.Address))
		if !addr.Valid() {
			return nil, model.NewConfigError("invalid watched address " + string(w.Address))
		}
		if watched.Contains(addr) {
			return nil, model.NewConfigError("duplicate watched address " + addr.String())
		}
		watched.Add(addr)
		if w.Label != "" {
			labels[addr] = w.Label
		}
	}
	if watched.Cardinality() == 0 {
		return nil, model.NewConfigError("at least one watched address is required")
	}

	cfg := &Config{
		Endpoints:           endpoints,
		ThresholdWei:        thresholdWei,
		Watched:             watched,
		Labels:              labels,
		BaseDelay:           orDefault(r.BaseDelay, DefaultBaseDelay),
		MaxCooldown:         orDefault(r.MaxCooldown, DefaultMaxCooldown),
		HealthCheckInterval: orDefault(r.HealthCheckInterval, DefaultHealthCheckInterval),
		RequestTimeout:      orDefault(r.RequestTimeout, DefaultRequestTimeout),
		DedupRetention:      orDefault(r.DedupRetention, DefaultDedupRetention),
		LogLevel:            r.LogLevel,
	}
	return cfg, nil
}

// Label returns the operator label for addr, or "" if unlabeled.
func (c *Config) Label(addr model.Address) string {
	return c.Labels[addr]
}

func orDefault(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func dedupInOrder(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func isWSURL(s string) bool {
	return strings.HasPrefix(s, "ws://") || strings.HasPrefix(s, "wss://")
}
