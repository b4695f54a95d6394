package deploy

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"
)

// anvilKey is the first well-known Anvil/Hardhat development key.
const anvilKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var anvilAddress = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

// MockChainClient is a mock implementation of ChainClient.
type MockChainClient struct {
	mock.Mock
}

func (m *MockChainClient) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	called := m.Called(ctx, result, method, args)
	return called.Error(0)
}

func (m *MockChainClient) ChainID(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockChainClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	args := m.Called(ctx, account, blockNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockChainClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockChainClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockChainClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockChainClient) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	args := m.Called(ctx, call)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockChainClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	args := m.Called(ctx, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Header), args.Error(1)
}

func (m *MockChainClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockChainClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	args := m.Called(ctx, txHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Receipt), args.Error(1)
}

func (m *MockChainClient) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	args := m.Called(ctx, account, blockNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockChainClient) Close() {}

// MockClientFactory returns a fixed client.
type MockClientFactory struct {
	mock.Mock
}

func (m *MockClientFactory) Dial(ctx context.Context, rpcURL string) (ChainClient, error) {
	args := m.Called(ctx, rpcURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ChainClient), args.Error(1)
}

// setRPCResult returns a mock Run function that stores value into the
// CallContext result pointer the way the JSON-RPC client would.
func setRPCResult(value interface{}) func(mock.Arguments) {
	return func(args mock.Arguments) {
		data, err := json.Marshal(value)
		if err != nil {
			panic(err)
		}
		if err := json.Unmarshal(data, args.Get(1)); err != nil {
			panic(err)
		}
	}
}

// expectSuccessfulDeploy wires client for a deployment from anvilAddress on
// chain 1337 that mines at contractAddr.
func expectSuccessfulDeploy(client *MockChainClient, contractAddr common.Address) {
	client.On("ChainID", mock.Anything).Return(big.NewInt(1337), nil)
	client.On("BalanceAt", mock.Anything, anvilAddress, mock.Anything).Return(big.NewInt(1e18), nil)
	client.On("PendingNonceAt", mock.Anything, anvilAddress).Return(uint64(0), nil)
	client.On("HeaderByNumber", mock.Anything, mock.Anything).Return(&types.Header{
		Number:  big.NewInt(10),
		BaseFee: big.NewInt(1_000_000_000),
	}, nil)
	client.On("SuggestGasTipCap", mock.Anything).Return(big.NewInt(1_000_000_000), nil)
	client.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(500_000), nil)
	client.On("SendTransaction", mock.Anything, mock.Anything).Return(nil)
	client.On("TransactionReceipt", mock.Anything, mock.Anything).Return(&types.Receipt{
		Status:          types.ReceiptStatusSuccessful,
		ContractAddress: contractAddr,
		GasUsed:         420_000,
		BlockNumber:     big.NewInt(11),
	}, nil)
}
