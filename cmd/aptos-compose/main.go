// Command aptos-compose builds batched Move script payloads with the script
// composer WASM module.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aperturerobotics/go-aptos-composer-wasi/internal/config"
	"github.com/aperturerobotics/go-aptos-composer-wasi/modcache"
	"github.com/aperturerobotics/go-aptos-composer-wasi/node"
)

var (
	// Global flags
	configPath string
	verbose    bool
	network    string
	nodeURL    string
	wasmPath   string
	cacheDir   string

	cfg    *config.Config
	logger *zap.Logger
)

// newRuntime creates the runtime composers run in. Tests replace it to
// register a fake composer host.
var newRuntime = func(ctx context.Context, cfg *config.Config) (wazero.Runtime, error) {
	rc := wazero.NewRuntimeConfig()
	if cfg.CacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(filepath.Join(cfg.CacheDir, "wazero"))
		if err != nil {
			return nil, fmt.Errorf("failed to open compilation cache: %w", err)
		}
		rc = rc.WithCompilationCache(cache)
	}
	return wazero.NewRuntimeWithConfig(ctx, rc), nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "aptos-compose",
		Short: "Compose batched Aptos Move calls into one script transaction",
		Long: `aptos-compose chains Move entry and public functions into a single
script payload using the Aptos script composer compiled to WASM.

Module ABIs are fetched from a fullnode and cached locally.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("network") {
				cfg.Network = network
			}
			if flags.Changed("node-url") {
				cfg.NodeURL = nodeURL
			}
			if flags.Changed("wasm") {
				cfg.ComposerWASM = wasmPath
			}
			if flags.Changed("cache-dir") {
				cfg.CacheDir = cacheDir
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err = buildLogger(cfg.Logging, verbose)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "aptos-compose.yaml", "config file")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	pf.StringVar(&network, "network", "", "network preset (mainnet, testnet, devnet, local)")
	pf.StringVar(&nodeURL, "node-url", "", "fullnode REST URL, overrides --network")
	pf.StringVar(&wasmPath, "wasm", "", "path of the script composer wasm")
	pf.StringVar(&cacheDir, "cache-dir", "", "module cache directory")

	root.AddCommand(newBuildCmd(), newABICmd(), newServeCmd(), newCacheCmd())
	return root
}

func buildLogger(lc config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Format == "console" {
		zc.Encoding = "console"
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	level, err := zapcore.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zc.Build()
}

// openResolver wires the fullnode client and module cache from cfg.
func openResolver() (*modcache.Resolver, func(), error) {
	endpoint, err := cfg.NodeEndpoint()
	if err != nil {
		return nil, nil, err
	}
	client, err := node.NewClient(endpoint, cfg.APIKey)
	if err != nil {
		return nil, nil, err
	}
	client.Logger = logger.Named("node")

	var cache *modcache.Cache
	if cfg.CacheDir != "" {
		cache, err = modcache.Open(filepath.Join(cfg.CacheDir, "modules"), logger.Named("cache"))
	} else {
		cache, err = modcache.OpenInMemory(logger.Named("cache"))
	}
	if err != nil {
		return nil, nil, err
	}

	r := &modcache.Resolver{
		Network:     endpoint,
		Cache:       cache,
		Fetcher:     client,
		Concurrency: cfg.FetchConcurrency,
		Log:         logger.Named("resolver"),
	}
	return r, func() { cache.Close() }, nil
}

func readWASM() ([]byte, error) {
	wasm, err := os.ReadFile(cfg.ComposerWASM)
	if err != nil {
		return nil, fmt.Errorf("failed to read composer wasm: %w", err)
	}
	return wasm, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
