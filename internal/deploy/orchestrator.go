package deploy

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/fraudchain/txregistry-deployer/internal/config"
)

// Stage represents a step of a deployment run.
type Stage string

const (
	// StageIdle is the state before a run starts.
	StageIdle Stage = "idle"
	// StageResolvingSigner picks the signing identity.
	StageResolvingSigner Stage = "resolving_signer"
	// StageDeploying loads the artifact and deploys it.
	StageDeploying Stage = "deploying"
	// StagePublishing writes the ABI and address files.
	StagePublishing Stage = "publishing"
	// StageUpdatingConfig records the address in the dotenv file.
	StageUpdatingConfig Stage = "updating_config"
	// StageDone indicates the run completed.
	StageDone Stage = "done"
	// StageFailed indicates the run stopped on an error.
	StageFailed Stage = "failed"
)

// String returns the string representation of the stage.
func (s Stage) String() string {
	return string(s)
}

// StageOrder is the order stages run in.
var StageOrder = []Stage{
	StageIdle,
	StageResolvingSigner,
	StageDeploying,
	StagePublishing,
	StageUpdatingConfig,
	StageDone,
}

// ProgressCallback is called when the run enters a new stage.
type ProgressCallback func(stage Stage, message string)

// OrchestratorConfig contains configuration for the orchestrator.
type OrchestratorConfig struct {
	// Logger for structured logging
	Logger *slog.Logger

	// Fs is where artifacts are read and outputs written. Defaults to the OS filesystem.
	Fs afero.Fs

	// OnProgress is optional.
	OnProgress ProgressCallback
}

// Result summarizes a successful run.
type Result struct {
	RunID      uuid.UUID             `json:"run_id"`
	Signer     common.Address        `json:"signer"`
	SignerKind SignerKind            `json:"signer_kind"`
	Deployment *DeploymentResult     `json:"deployment"`
	Published  *PublishedArtifactSet `json:"published"`
	EnvUpdated bool                  `json:"env_updated"`
	Stage      Stage                 `json:"stage"`
	Duration   time.Duration         `json:"duration"`
}

// Orchestrator runs the deployment pipeline for one contract:
// resolve signer, deploy, publish ABI and address, update the dotenv file.
// Stages run strictly in order and the first failure stops the run.
type Orchestrator struct {
	cfg        *config.Config
	clients    ChainClientFactory
	fs         afero.Fs
	logger     *slog.Logger
	onProgress ProgressCallback
}

// NewOrchestrator creates a new deployment orchestrator.
func NewOrchestrator(cfg *config.Config, clients ChainClientFactory, opts OrchestratorConfig) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fsys := opts.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	return &Orchestrator{
		cfg:        cfg,
		clients:    clients,
		fs:         fsys,
		logger:     logger,
		onProgress: opts.OnProgress,
	}
}

// Run executes every stage. Errors are *StageError values naming the stage
// that failed; errors.Is reaches the underlying sentinel.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{
		RunID: uuid.New(),
		Stage: StageIdle,
	}
	logger := o.logger.With(slog.String("run_id", result.RunID.String()))

	logger.Info("starting deployment", slog.Any("config", o.cfg))

	fail := func(stage Stage, err error) (*Result, error) {
		result.Stage = StageFailed
		logger.Error("deployment failed",
			slog.String("stage", stage.String()),
			slog.String("error", err.Error()),
		)
		o.progress(StageFailed, err.Error())
		return nil, &StageError{Stage: stage, Err: err}
	}

	chainID := new(big.Int).SetUint64(o.cfg.ChainID)

	// Stage 1: signer
	o.enter(logger, result, StageResolvingSigner, "resolving signer")
	client, err := o.clients.Dial(ctx, o.cfg.RPCURL)
	if err != nil {
		return fail(StageResolvingSigner, deploymentFailed("connect to "+o.cfg.RPCURL, err))
	}
	defer client.Close()

	resolver := NewSignerResolver(SignerResolverConfig{
		ChainID:           chainID,
		AllowNodeAccounts: o.cfg.AllowNodeAccounts,
		Logger:            logger,
	})
	signer, kind, err := resolver.Resolve(ctx, o.cfg.PrivateKey, client)
	if err != nil {
		return fail(StageResolvingSigner, err)
	}
	result.Signer = signer.Address()
	result.SignerKind = kind

	// Stage 2: deploy. The artifact is checked first so a run that cannot
	// publish never spends gas.
	o.enter(logger, result, StageDeploying, "deploying "+o.cfg.ContractName)
	loader := NewArtifactLoader(o.fs, o.cfg.ArtifactsDir, o.cfg.ArtifactLayout)
	artifact, err := loader.Load(o.cfg.ContractName)
	if err != nil {
		return fail(StageDeploying, err)
	}
	logger.Debug("artifact loaded", slog.String("path", artifact.Path))

	executor := NewExecutor(client, ExecutorConfig{
		Logger:           logger,
		GasLimitFallback: o.cfg.GasLimitFallback,
	})
	deployment, err := executor.Deploy(ctx, signer, artifact)
	if err != nil {
		return fail(StageDeploying, err)
	}
	result.Deployment = deployment

	// Stage 3: publish
	o.enter(logger, result, StagePublishing, "publishing ABI and address")
	publisher := NewPublisher(o.fs, o.cfg.ABIDir, logger)
	published, err := publisher.Publish(o.cfg.ContractName, artifact, deployment)
	if err != nil {
		return fail(StagePublishing, err)
	}
	result.Published = published

	// Stage 4: dotenv
	o.enter(logger, result, StageUpdatingConfig, "updating "+o.cfg.EnvFile)
	updater := NewEnvUpdater(o.fs, logger)
	changed, err := updater.Update(o.cfg.EnvFile, o.cfg.EnvKey, deployment.ContractAddress.Hex())
	if err != nil {
		return fail(StageUpdatingConfig, err)
	}
	result.EnvUpdated = changed

	result.Duration = time.Since(start)
	o.enter(logger, result, StageDone, "deployment complete")

	logger.Info("deployment complete",
		slog.String("contract", o.cfg.ContractName),
		slog.String("address", deployment.ContractAddress.Hex()),
		slog.String("tx_hash", deployment.TxHash.Hex()),
		slog.Duration("duration", result.Duration),
	)

	return result, nil
}

func (o *Orchestrator) enter(logger *slog.Logger, result *Result, stage Stage, message string) {
	result.Stage = stage
	logger.Debug("entering stage", slog.String("stage", stage.String()))
	o.progress(stage, message)
}

func (o *Orchestrator) progress(stage Stage, message string) {
	if o.onProgress != nil {
		o.onProgress(stage, message)
	}
}
