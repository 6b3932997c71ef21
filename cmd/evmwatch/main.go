// Command evmwatch watches an EVM-compatible chain's mempool and confirmed
// blocks for native-token transfers touching a curated watch-list. It is the
// external collaborator spec.md §1 describes: CLI parsing, config loading, and
// presentation are all handled here, outside the core.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/evmwatch/evmwatch/internal/config"
	"github.com/evmwatch/evmwatch/internal/logging"
	"github.com/evmwatch/evmwatch/internal/metrics"
	"github.com/evmwatch/evmwatch/internal/model"
	"github.com/evmwatch/evmwatch/internal/orchestrator"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		// spec.md §6: 0 normal shutdown, 1 fatal init error, 1 uncaught
		// internal error. Any error reaching here is one of those two.
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("EVMWATCH")
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "evmwatch",
		Short: "Watch an EVM chain's mempool and confirmed blocks for watch-listed native transfers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v)
		},
	}

	flags := cmd.Flags()
	flags.StringSlice("endpoint", nil, "RPC endpoint (ws:// or wss://); repeatable, tried in order")
	flags.String("threshold-eth", "1", "minimum transfer value in whole ETH to emit, as an exact decimal string")
	flags.StringSlice("watch", nil, "watched address, optionally label=0xaddress; repeatable")
	flags.String("config", "", "path to a YAML config file")
	flags.String("log-level", "info", "log level: debug|info|warn|error")
	flags.String("metrics-listen", "", "address to serve Prometheus /metrics on, e.g. :9090 (empty disables it)")
	flags.Duration("base-delay", config.DefaultBaseDelay, "base endpoint cooldown delay")
	flags.Duration("max-cooldown", config.DefaultMaxCooldown, "maximum endpoint cooldown")
	flags.Duration("health-check-interval", config.DefaultHealthCheckInterval, "background probe interval for non-active endpoints")
	flags.Duration("request-timeout", config.DefaultRequestTimeout, "per-RPC-call timeout")
	flags.Duration("dedup-retention", config.DefaultDedupRetention, "how long a hash is remembered in the dedup set")

	_ = v.BindPFlags(flags)

	return cmd
}

func run(ctx context.Context, v *viper.Viper) error {
	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return model.NewConfigError("reading config file: " + err.Error())
		}
	}

	cfg, err := buildConfig(v)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return model.NewFatalInternalError("logger init: " + err.Error())
	}
	defer log.Sync() //nolint:errcheck

	reg := prometheus.NewRegistry()
	m := metrics.NewRegistry(reg)

	if listen := v.GetString("metrics-listen"); listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: listen, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("metrics server stopped", "err", err)
			}
		}()
		defer srv.Close() //nolint:errcheck
	}

	sink := terminalSink(log)
	orch := orchestrator.New(cfg, sink, log, m)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Infow("starting evmwatch", "endpoints", cfg.Endpoints, "thresholdWei", cfg.ThresholdWei.String())
	return orch.Run(ctx)
}

// terminalSink is the minimal presentation-layer formatter spec.md §1 treats as
// an external collaborator: it renders each TransferEvent as one structured
// log line. A richer terminal UI can replace this without touching the core.
func terminalSink(log interface {
	Infow(msg string, kv ...interface{})
}) model.Sink {
	return func(event model.TransferEvent) {
		log.Infow("transfer detected",
			"type", event.Type.String(),
			"tx", event.TxHash,
			"from", event.From,
			"fromLabel", event.FromLabel,
			"to", event.To,
			"toLabel", event.ToLabel,
			"valueEth", event.ValueEth,
			"watchedSide", event.WatchedSide.String(),
			"blockNumber", event.BlockNumber,
			"seenInMempool", event.SeenInMempool,
		)
	}
}

func buildConfig(v *viper.Viper) (*config.Config, error) {
	wallets, err := parseWatchList(v.GetStringSlice("watch"))
	if err != nil {
		return nil, err
	}

	raw := config.Raw{
		Endpoints:           v.GetStringSlice("endpoint"),
		ThresholdEth:        v.GetString("threshold-eth"),
		Wallets:             wallets,
		BaseDelay:           v.GetDuration("base-delay"),
		MaxCooldown:         v.GetDuration("max-cooldown"),
		HealthCheckInterval: v.GetDuration("health-check-interval"),
		RequestTimeout:      v.GetDuration("request-timeout"),
		DedupRetention:      v.GetDuration("dedup-retention"),
		LogLevel:            v.GetString("log-level"),
	}
	return config.Build(raw)
}

// parseWatchList accepts either "0xaddr" or "label=0xaddr" entries.
func parseWatchList(entries []string) ([]model.WatchedWallet, error) {
	wallets := make([]model.WatchedWallet, 0, len(entries))
	for _, e := range entries {
		label, addr, hasLabel := strings.Cut(e, "=")
		if !hasLabel {
			addr = e
			label = ""
		}
		if addr == "" {
			return nil, model.NewConfigError("empty watched address in --watch entry " + e)
		}
		wallets = append(wallets, model.WatchedWallet{
			Label:   label,
			Address: model.Address(addr),
		})
	}
	return wallets, nil
}
