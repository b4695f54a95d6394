package deploy

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fraudchain/txregistry-deployer/internal/config"
)

const testRPCURL = "http://127.0.0.1:8545"

func testConfig() *config.Config {
	return &config.Config{
		RPCURL:            testRPCURL,
		ChainID:           1337,
		PrivateKey:        anvilKey,
		AllowNodeAccounts: true,
		ContractName:      "TxRegistry",
		ArtifactsDir:      "hardhat/artifacts",
		ArtifactLayout:    config.LayoutHardhat,
		GasLimitFallback:  DefaultGasLimitFallback,
		ABIDir:            "abi",
		EnvFile:           ".env",
		EnvKey:            "CONTRACT_ADDRESS",
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

func testWorkspace(t *testing.T) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	writeArtifact(t, fsys, "hardhat/artifacts/contracts/TxRegistry.sol/TxRegistry.json", hardhatArtifact())
	require.NoError(t, afero.WriteFile(fsys, ".env", []byte("RPC_URL=http://127.0.0.1:8545\nCHAIN_ID=1337\n"), 0o644))
	return fsys
}

func TestOrchestrator_Run(t *testing.T) {
	fsys := testWorkspace(t)
	client := new(MockChainClient)
	expectSuccessfulDeploy(client, deployedAddress)
	factory := new(MockClientFactory)
	factory.On("Dial", mock.Anything, testRPCURL).Return(client, nil)

	var stages []Stage
	orch := NewOrchestrator(testConfig(), factory, OrchestratorConfig{
		Fs: fsys,
		OnProgress: func(stage Stage, _ string) {
			stages = append(stages, stage)
		},
	})

	result, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StageDone, result.Stage)
	assert.Equal(t, SignerKindLocalKey, result.SignerKind)
	assert.Equal(t, anvilAddress, result.Signer)
	assert.Equal(t, deployedAddress, result.Deployment.ContractAddress)
	assert.NotEqual(t, result.Signer, result.Deployment.ContractAddress)
	assert.True(t, result.EnvUpdated)
	assert.NotEqual(t, uuid.Nil, result.RunID)

	// Every stage after idle is reported, in order.
	assert.Equal(t, StageOrder[1:], stages)

	address, err := afero.ReadFile(fsys, result.Published.AddressFilePath)
	require.NoError(t, err)
	assert.Equal(t, deployedAddress.Hex(), string(address))

	exists, err := afero.Exists(fsys, result.Published.InterfaceFilePath)
	require.NoError(t, err)
	assert.True(t, exists)

	env, err := afero.ReadFile(fsys, ".env")
	require.NoError(t, err)
	assert.Equal(t, "RPC_URL=http://127.0.0.1:8545\nCHAIN_ID=1337\nCONTRACT_ADDRESS="+deployedAddress.Hex()+"\n", string(env))

	factory.AssertExpectations(t)
	client.AssertExpectations(t)
}

func TestOrchestrator_Run_StageLogsCarryRunID(t *testing.T) {
	client := new(MockChainClient)
	expectSuccessfulDeploy(client, deployedAddress)
	factory := new(MockClientFactory)
	factory.On("Dial", mock.Anything, testRPCURL).Return(client, nil)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	result, err := NewOrchestrator(testConfig(), factory, OrchestratorConfig{
		Fs:     testWorkspace(t),
		Logger: logger,
	}).Run(context.Background())
	require.NoError(t, err)

	runID := "run_id=" + result.RunID.String()
	var entered int
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		if strings.Contains(line, `msg="entering stage"`) {
			entered++
			assert.Contains(t, line, runID)
		}
	}
	assert.Equal(t, len(StageOrder)-1, entered)
}

func TestOrchestrator_Run_RerunIsIdempotent(t *testing.T) {
	fsys := testWorkspace(t)
	client := new(MockChainClient)
	expectSuccessfulDeploy(client, deployedAddress)
	factory := new(MockClientFactory)
	factory.On("Dial", mock.Anything, testRPCURL).Return(client, nil)

	orch := NewOrchestrator(testConfig(), factory, OrchestratorConfig{Fs: fsys})

	_, err := orch.Run(context.Background())
	require.NoError(t, err)
	first, err := afero.ReadFile(fsys, ".env")
	require.NoError(t, err)

	result, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, result.EnvUpdated)

	second, err := afero.ReadFile(fsys, ".env")
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestOrchestrator_Run_MissingArtifact(t *testing.T) {
	fsys := afero.NewMemMapFs()
	envContent := "FOO=bar\nCONTRACT_ADDRESS=0xOLD\n"
	require.NoError(t, afero.WriteFile(fsys, ".env", []byte(envContent), 0o644))

	client := new(MockChainClient)
	factory := new(MockClientFactory)
	factory.On("Dial", mock.Anything, testRPCURL).Return(client, nil)

	var stages []Stage
	orch := NewOrchestrator(testConfig(), factory, OrchestratorConfig{
		Fs:         fsys,
		OnProgress: func(stage Stage, _ string) { stages = append(stages, stage) },
	})

	result, err := orch.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrArtifactNotFound)
	assert.Equal(t, StageDeploying, StageOf(err))
	assert.Equal(t, StageFailed, stages[len(stages)-1])

	client.AssertNotCalled(t, "SendTransaction", mock.Anything, mock.Anything)

	env, err := afero.ReadFile(fsys, ".env")
	require.NoError(t, err)
	assert.Equal(t, envContent, string(env))

	exists, err := afero.DirExists(fsys, "abi")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestOrchestrator_Run_NoSigner(t *testing.T) {
	fsys := testWorkspace(t)
	client := new(MockChainClient)
	factory := new(MockClientFactory)
	factory.On("Dial", mock.Anything, testRPCURL).Return(client, nil)

	cfg := testConfig()
	cfg.PrivateKey = ""
	cfg.AllowNodeAccounts = false

	_, err := NewOrchestrator(cfg, factory, OrchestratorConfig{Fs: fsys}).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoSignerAvailable)
	assert.Equal(t, StageResolvingSigner, StageOf(err))

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Contains(t, stageErr.Error(), "resolving_signer: ")

	client.AssertNotCalled(t, "ChainID", mock.Anything)
	client.AssertNotCalled(t, "SendTransaction", mock.Anything, mock.Anything)
}

func TestOrchestrator_Run_DialFailure(t *testing.T) {
	factory := new(MockClientFactory)
	factory.On("Dial", mock.Anything, testRPCURL).Return(nil, errors.New("no known transport"))

	_, err := NewOrchestrator(testConfig(), factory, OrchestratorConfig{Fs: testWorkspace(t)}).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeploymentFailed)
	assert.Equal(t, StageResolvingSigner, StageOf(err))
}

func TestOrchestrator_Run_DeploymentFailure(t *testing.T) {
	fsys := testWorkspace(t)
	client := new(MockChainClient)
	client.On("ChainID", mock.Anything).Return(nil, errors.New("connection refused"))
	factory := new(MockClientFactory)
	factory.On("Dial", mock.Anything, testRPCURL).Return(client, nil)

	_, err := NewOrchestrator(testConfig(), factory, OrchestratorConfig{Fs: fsys}).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeploymentFailed)
	assert.Equal(t, StageDeploying, StageOf(err))

	exists, err := afero.Exists(fsys, "abi/TxRegistry.address")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestOrchestrator_Run_MissingEnvFile(t *testing.T) {
	fsys := testWorkspace(t)
	require.NoError(t, fsys.Remove(".env"))

	client := new(MockChainClient)
	expectSuccessfulDeploy(client, deployedAddress)
	factory := new(MockClientFactory)
	factory.On("Dial", mock.Anything, testRPCURL).Return(client, nil)

	_, err := NewOrchestrator(testConfig(), factory, OrchestratorConfig{Fs: fsys}).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigIO)
	assert.Equal(t, StageUpdatingConfig, StageOf(err))

	// Publication happened before the failing stage.
	exists, err := afero.Exists(fsys, "abi/TxRegistry.address")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStageOf_ForeignError(t *testing.T) {
	assert.Equal(t, Stage(""), StageOf(errors.New("boom")))
	assert.Equal(t, StagePublishing, StageOf(&StageError{Stage: StagePublishing, Err: ErrPublishIO}))
}
