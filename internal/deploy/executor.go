package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DefaultGasLimitFallback is used when gas estimation fails.
const DefaultGasLimitFallback uint64 = 6_000_000

// DeploymentResult is the outcome of a confirmed contract creation.
type DeploymentResult struct {
	ContractAddress      common.Address `json:"contract_address"`
	TransactionConfirmed bool           `json:"transaction_confirmed"`
	TxHash               common.Hash    `json:"tx_hash"`
	BlockNumber          uint64         `json:"block_number"`
	GasUsed              uint64         `json:"gas_used"`
	Deployer             common.Address `json:"deployer"`
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Logger *slog.Logger
	// GasLimitFallback is the gas limit used when estimation fails.
	GasLimitFallback uint64
}

// Executor sends the contract-creation transaction and waits for it to be mined.
// A single attempt is made; there is no retry.
type Executor struct {
	client           ChainClient
	logger           *slog.Logger
	gasLimitFallback uint64
}

// NewExecutor creates an Executor bound to client.
func NewExecutor(client ChainClient, cfg ExecutorConfig) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fallback := cfg.GasLimitFallback
	if fallback == 0 {
		fallback = DefaultGasLimitFallback
	}
	return &Executor{
		client:           client,
		logger:           logger,
		gasLimitFallback: fallback,
	}
}

// Deploy deploys artifact signed by signer and blocks until the receipt is
// available. The contract address is the one reported by the node.
func (e *Executor) Deploy(ctx context.Context, signer TransactionSigner, artifact *CompiledArtifact) (*DeploymentResult, error) {
	from := signer.Address()

	bytecode, err := artifact.Bytecode.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArtifactMalformed, err)
	}

	chainID, err := e.client.ChainID(ctx)
	if err != nil {
		return nil, deploymentFailed("get chain ID", err)
	}
	if chainID.Cmp(signer.ChainID()) != 0 {
		return nil, deploymentFailed("verify chain ID",
			fmt.Errorf("node reports chain %s, configured %s", chainID, signer.ChainID()))
	}

	e.logBalance(ctx, from)

	nonce, err := e.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, deploymentFailed("get nonce", err)
	}

	tx, err := e.buildCreation(ctx, from, chainID, nonce, bytecode)
	if err != nil {
		return nil, err
	}

	signedTx, err := signer.SignTransaction(ctx, tx)
	if err != nil {
		return nil, deploymentFailed("sign transaction", err)
	}

	if err := e.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, deploymentFailed("send transaction", err)
	}

	e.logger.Info("transaction submitted, waiting for confirmation",
		slog.String("contract", artifact.ContractName),
		slog.String("tx_hash", signedTx.Hash().Hex()),
		slog.Uint64("nonce", nonce),
	)

	receipt, err := bind.WaitMined(ctx, e.client, signedTx)
	if err != nil {
		return nil, deploymentFailed("wait for receipt", err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, deploymentFailed("check receipt",
			fmt.Errorf("contract creation reverted in tx %s", signedTx.Hash().Hex()))
	}

	if receipt.ContractAddress == (common.Address{}) {
		return nil, deploymentFailed("check receipt", errors.New("receipt has no contract address"))
	}
	if receipt.ContractAddress == from {
		return nil, deploymentFailed("check receipt",
			fmt.Errorf("contract address %s equals deployer address", from.Hex()))
	}

	result := &DeploymentResult{
		ContractAddress:      receipt.ContractAddress,
		TransactionConfirmed: true,
		TxHash:               signedTx.Hash(),
		GasUsed:              receipt.GasUsed,
		Deployer:             from,
	}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}

	e.logger.Info("contract deployed",
		slog.String("contract", artifact.ContractName),
		slog.String("address", result.ContractAddress.Hex()),
		slog.Uint64("block_number", result.BlockNumber),
		slog.Uint64("gas_used", result.GasUsed),
	)

	return result, nil
}

// buildCreation builds an unsigned contract-creation transaction. Chains that
// report a base fee get an EIP-1559 transaction; others get a legacy one.
func (e *Executor) buildCreation(ctx context.Context, from common.Address, chainID *big.Int, nonce uint64, bytecode []byte) (*types.Transaction, error) {
	head, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, deploymentFailed("get latest header", err)
	}

	call := ethereum.CallMsg{
		From:  from,
		To:    nil, // Contract creation
		Value: big.NewInt(0),
		Data:  bytecode,
	}

	if head.BaseFee != nil {
		tipCap, err := e.client.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, deploymentFailed("get gas tip cap", err)
		}
		feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tipCap)

		call.GasFeeCap = feeCap
		call.GasTipCap = tipCap
		gasLimit := e.estimateGas(ctx, call)

		e.logger.Info("sending contract creation",
			slog.String("from", from.Hex()),
			slog.Uint64("gas_limit", gasLimit),
			slog.String("max_fee_per_gas", feeCap.String()),
			slog.String("max_priority_fee_per_gas", tipCap.String()),
		)

		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tipCap,
			GasFeeCap: feeCap,
			Gas:       gasLimit,
			To:        nil,
			Value:     big.NewInt(0),
			Data:      bytecode,
		}), nil
	}

	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, deploymentFailed("get gas price", err)
	}

	call.GasPrice = gasPrice
	gasLimit := e.estimateGas(ctx, call)

	e.logger.Info("sending contract creation",
		slog.String("from", from.Hex()),
		slog.Uint64("gas_limit", gasLimit),
		slog.String("gas_price", gasPrice.String()),
	)

	return types.NewContractCreation(nonce, big.NewInt(0), gasLimit, gasPrice, bytecode), nil
}

// estimateGas returns the estimate plus a 20% buffer, or the fallback limit
// when the node cannot estimate.
func (e *Executor) estimateGas(ctx context.Context, call ethereum.CallMsg) uint64 {
	gasLimit, err := e.client.EstimateGas(ctx, call)
	if err != nil {
		e.logger.Warn("gas estimation failed, using default",
			slog.Uint64("gas_limit", e.gasLimitFallback),
			slog.String("error", err.Error()),
		)
		return e.gasLimitFallback
	}
	return gasLimit * 120 / 100
}

func (e *Executor) logBalance(ctx context.Context, from common.Address) {
	balance, err := e.client.BalanceAt(ctx, from, nil)
	if err != nil {
		e.logger.Warn("could not read deployer balance",
			slog.String("address", from.Hex()),
			slog.String("error", err.Error()),
		)
		return
	}

	e.logger.Info("deployer balance",
		slog.String("address", from.Hex()),
		slog.String("balance_wei", balance.String()),
	)
	if balance.Sign() == 0 {
		e.logger.Warn("deployer has no balance; the deployment will likely be rejected",
			slog.String("address", from.Hex()),
		)
	}
}
