// Command txregistry-deploy deploys the TxRegistry contract to an EVM node and
// publishes its ABI and address for the rest of the project.
//
// Usage:
//
//	txregistry-deploy [--rpc-url URL] [--chain-id ID] [--contract NAME] ...
//
// Every flag can also be set through the environment (RPC_URL, CHAIN_ID,
// PRIVATE_KEY, ...) or the project's .env file.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/fraudchain/txregistry-deployer/internal/config"
	"github.com/fraudchain/txregistry-deployer/internal/deploy"
	"github.com/fraudchain/txregistry-deployer/internal/metrics"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "txregistry-deploy",
	Short: "Deploy the TxRegistry contract and publish its address",
	Long: `Deploy a compiled contract to an EVM node, then publish its ABI and address.

The flow is:
  1. Resolve a signer: PRIVATE_KEY if valid, else the node's first account
  2. Deploy the compiled artifact and wait for the receipt
  3. Write <abi-dir>/<Name>.json and <abi-dir>/<Name>.address
  4. Set CONTRACT_ADDRESS in the .env file

Examples:
  # Local Ganache/Anvil node using its unlocked dev account
  txregistry-deploy

  # Explicit key and node
  PRIVATE_KEY=0x... txregistry-deploy --rpc-url http://127.0.0.1:8545 --chain-id 31337

  # Foundry output directory
  txregistry-deploy --artifacts-dir out --artifact-layout foundry`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDeploy,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configFile, "config", "", "Optional config file (yaml, toml or json)")

	flags.String("rpc-url", config.DefaultRPCURL, "Node JSON-RPC endpoint (RPC_URL)")
	flags.Uint64("chain-id", config.DefaultChainID, "Expected chain ID (CHAIN_ID)")
	flags.String("private-key", "", "Deployer private key, 0x + 64 hex digits (PRIVATE_KEY); prefer the environment")
	flags.Bool("allow-node-accounts", true, "Fall back to the node's first account when no valid key is set (ALLOW_NODE_ACCOUNTS)")

	flags.String("contract", config.DefaultContractName, "Contract name (CONTRACT_NAME)")
	flags.String("artifacts-dir", "hardhat/artifacts", "Compiler artifacts directory (ARTIFACTS_DIR)")
	flags.String("artifact-layout", config.LayoutHardhat, "Artifact layout: hardhat or foundry (ARTIFACT_LAYOUT)")
	flags.Uint64("gas-limit-fallback", deploy.DefaultGasLimitFallback, "Gas limit used when estimation fails (GAS_LIMIT_FALLBACK)")

	flags.String("abi-dir", "abi", "Directory for the published ABI and address files (ABI_DIR)")
	flags.String("env-file", ".env", "Dotenv file that receives the contract address (ENV_FILE)")
	flags.String("env-key", config.DefaultEnvKey, "Variable name written to the dotenv file (ENV_KEY)")

	flags.String("log-level", "info", "Log level: debug, info, warn, error (LOG_LEVEL)")
	flags.String("log-format", "text", "Log format: text or json (LOG_FORMAT)")
	flags.String("metrics-file", "", "Write run metrics in node-exporter textfile format (METRICS_FILE)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDeploy(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: configFile,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return err
	}

	logger := newLogger(cfg, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	orch := deploy.NewOrchestrator(cfg, deploy.NewEthClientFactory(), deploy.OrchestratorConfig{
		Logger: logger,
		Fs:     afero.NewOsFs(),
	})

	start := time.Now()
	result, runErr := orch.Run(cmd.Context())

	if cfg.MetricsFile != "" {
		if err := writeMetrics(cfg, result, runErr, time.Since(start)); err != nil {
			logger.Warn("failed to write metrics", slog.String("path", cfg.MetricsFile), slog.String("error", err.Error()))
		} else {
			logger.Info("metrics written", slog.String("path", cfg.MetricsFile))
		}
	}

	if runErr != nil {
		return runErr
	}

	printSummary(cmd.OutOrStdout(), cfg.ContractName, result)
	return nil
}

// newLogger builds the process logger from the configured level and format.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func writeMetrics(cfg *config.Config, result *deploy.Result, runErr error, elapsed time.Duration) error {
	run := metrics.Run{
		Contract:   cfg.ContractName,
		Success:    runErr == nil,
		Duration:   elapsed,
		FinishedAt: time.Now(),
	}
	if runErr != nil {
		run.FailedStage = deploy.StageOf(runErr).String()
	} else if result != nil && result.Deployment != nil {
		run.GasUsed = result.Deployment.GasUsed
		run.BlockNumber = result.Deployment.BlockNumber
	}

	rec := metrics.NewRecorder()
	rec.Record(run)
	return rec.WriteTextfile(cfg.MetricsFile)
}

func printSummary(w io.Writer, contract string, result *deploy.Result) {
	fmt.Fprintf(w, "%s deployed to: %s\n", contract, result.Deployment.ContractAddress.Hex())
	fmt.Fprintf(w, "  Transaction:  %s\n", result.Deployment.TxHash.Hex())
	fmt.Fprintf(w, "  Block:        %d\n", result.Deployment.BlockNumber)
	fmt.Fprintf(w, "  Deployer:     %s (%s)\n", result.Signer.Hex(), result.SignerKind)
	if result.Published != nil {
		fmt.Fprintf(w, "  ABI:          %s\n", result.Published.InterfaceFilePath)
		fmt.Fprintf(w, "  Address file: %s\n", result.Published.AddressFilePath)
	}
	if !result.EnvUpdated {
		fmt.Fprintln(w, "  Config:       already up to date")
	}
}
