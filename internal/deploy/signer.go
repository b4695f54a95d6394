// Package deploy deploys a single compiled contract and publishes its address
// and ABI for the rest of the project.
package deploy

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TransactionSigner is the signing identity of a deployment run.
type TransactionSigner interface {
	Address() common.Address
	ChainID() *big.Int
	SignTransaction(ctx context.Context, tx *types.Transaction) (*types.Transaction, error)
}

// SignerKind describes where a signer's key lives.
type SignerKind string

const (
	SignerKindLocalKey    SignerKind = "local_key"
	SignerKindNodeAccount SignerKind = "node_account"
)

// LocalSigner signs with a private key held in process memory.
type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

// NewLocalSigner creates a LocalSigner from a hex-encoded private key.
// The key may carry a "0x" prefix.
func NewLocalSigner(hexKey string, chainID *big.Int) (*LocalSigner, error) {
	keyBytes, err := hexutil.Decode(ensureHexPrefix(hexKey))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}

	privateKey, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return &LocalSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		chainID:    new(big.Int).Set(chainID),
	}, nil
}

// Address returns the signer's Ethereum address.
func (s *LocalSigner) Address() common.Address {
	return s.address
}

// ChainID returns the chain ID for transaction signing.
func (s *LocalSigner) ChainID() *big.Int {
	return s.chainID
}

// SignTransaction signs a transaction using the local private key.
func (s *LocalSigner) SignTransaction(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	signer := types.LatestSignerForChainID(s.chainID)
	signedTx, err := types.SignTx(tx, signer, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signedTx, nil
}

// NodeSigner signs with an account managed by the connected node
// (Ganache, Anvil and Hardhat dev accounts) through eth_signTransaction.
type NodeSigner struct {
	rpc     RPCCaller
	address common.Address
	chainID *big.Int
}

// NewNodeSigner creates a signer for a node-managed account.
func NewNodeSigner(rpc RPCCaller, address common.Address, chainID *big.Int) *NodeSigner {
	return &NodeSigner{
		rpc:     rpc,
		address: address,
		chainID: new(big.Int).Set(chainID),
	}
}

// Address returns the node account address.
func (s *NodeSigner) Address() common.Address {
	return s.address
}

// ChainID returns the chain ID for transaction signing.
func (s *NodeSigner) ChainID() *big.Int {
	return s.chainID
}

// transactionArgs is the eth_signTransaction parameter object.
type transactionArgs struct {
	From                 string  `json:"from"`
	To                   *string `json:"to,omitempty"`
	Gas                  string  `json:"gas"`
	GasPrice             *string `json:"gasPrice,omitempty"`
	MaxFeePerGas         *string `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *string `json:"maxPriorityFeePerGas,omitempty"`
	Value                string  `json:"value"`
	Nonce                string  `json:"nonce"`
	Data                 string  `json:"data,omitempty"`
	ChainID              string  `json:"chainId"`
}

// SignTransaction asks the node to sign tx with the managed account.
func (s *NodeSigner) SignTransaction(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	var raw json.RawMessage
	if err := s.rpc.CallContext(ctx, &raw, "eth_signTransaction", s.buildTransactionArgs(tx)); err != nil {
		return nil, fmt.Errorf("eth_signTransaction: %w", err)
	}

	signedTx, err := decodeSignResult(raw)
	if err != nil {
		return nil, fmt.Errorf("decode signed transaction: %w", err)
	}

	from, err := types.Sender(types.LatestSignerForChainID(s.chainID), signedTx)
	if err != nil {
		return nil, fmt.Errorf("recover signer: %w", err)
	}
	if from != s.address {
		return nil, fmt.Errorf("node signed as %s, expected %s", from.Hex(), s.address.Hex())
	}

	return signedTx, nil
}

// buildTransactionArgs converts a go-ethereum transaction to JSON-RPC args.
func (s *NodeSigner) buildTransactionArgs(tx *types.Transaction) transactionArgs {
	args := transactionArgs{
		From:    s.address.Hex(),
		Gas:     hexutil.EncodeUint64(tx.Gas()),
		Value:   hexutil.EncodeBig(tx.Value()),
		Nonce:   hexutil.EncodeUint64(tx.Nonce()),
		ChainID: hexutil.EncodeBig(s.chainID),
	}

	// nil for contract creation
	if tx.To() != nil {
		to := tx.To().Hex()
		args.To = &to
	}

	if len(tx.Data()) > 0 {
		args.Data = hexutil.Encode(tx.Data())
	}

	switch tx.Type() {
	case types.DynamicFeeTxType:
		maxFee := hexutil.EncodeBig(tx.GasFeeCap())
		maxTip := hexutil.EncodeBig(tx.GasTipCap())
		args.MaxFeePerGas = &maxFee
		args.MaxPriorityFeePerGas = &maxTip
	default:
		gasPrice := hexutil.EncodeBig(tx.GasPrice())
		args.GasPrice = &gasPrice
	}

	return args
}

// decodeSignResult accepts both result shapes seen in the wild: a bare RLP hex
// string (Ganache, Anvil) and geth's {"raw": ..., "tx": ...} object.
func decodeSignResult(raw json.RawMessage) (*types.Transaction, error) {
	var encoded hexutil.Bytes

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		b, err := hexutil.Decode(ensureHexPrefix(asString))
		if err != nil {
			return nil, fmt.Errorf("decode hex: %w", err)
		}
		encoded = b
	} else {
		var asObject struct {
			Raw hexutil.Bytes `json:"raw"`
		}
		if err := json.Unmarshal(raw, &asObject); err != nil {
			return nil, fmt.Errorf("unexpected result %s: %w", string(raw), err)
		}
		encoded = asObject.Raw
	}

	if len(encoded) == 0 {
		return nil, errors.New("empty signed transaction")
	}

	var tx types.Transaction
	if err := tx.UnmarshalBinary(encoded); err != nil {
		return nil, fmt.Errorf("unmarshal transaction: %w", err)
	}
	return &tx, nil
}

func ensureHexPrefix(s string) string {
	if has0xPrefix(s) {
		return s
	}
	return "0x" + s
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

// Ensure both signers implement TransactionSigner.
var (
	_ TransactionSigner = (*LocalSigner)(nil)
	_ TransactionSigner = (*NodeSigner)(nil)
)
