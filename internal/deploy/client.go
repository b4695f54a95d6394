package deploy

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// RPCCaller issues raw JSON-RPC calls. *rpc.Client satisfies it.
type RPCCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// ChainClient defines the node operations used by a deployment run.
// It also satisfies bind.DeployBackend so receipts can be awaited with bind.WaitMined.
type ChainClient interface {
	RPCCaller

	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	Close()
}

// ChainClientFactory creates chain clients from RPC URLs.
type ChainClientFactory interface {
	Dial(ctx context.Context, rpcURL string) (ChainClient, error)
}

// EthClientFactory creates chain clients using go-ethereum's ethclient.
type EthClientFactory struct{}

// NewEthClientFactory creates a new EthClientFactory.
func NewEthClientFactory() *EthClientFactory {
	return &EthClientFactory{}
}

// ethClient pairs the typed ethclient with the raw RPC client it wraps, so
// node-side methods (eth_accounts, eth_signTransaction) share the connection.
type ethClient struct {
	*ethclient.Client
	rpc *rpc.Client
}

// Dial connects to an Ethereum RPC endpoint.
func (f *EthClientFactory) Dial(ctx context.Context, rpcURL string) (ChainClient, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return &ethClient{Client: ethclient.NewClient(rpcClient), rpc: rpcClient}, nil
}

// CallContext performs a raw JSON-RPC call on the shared connection.
func (c *ethClient) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return c.rpc.CallContext(ctx, result, method, args...)
}
