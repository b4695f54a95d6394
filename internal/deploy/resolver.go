package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"

	"github.com/ethereum/go-ethereum/common"
)

// privateKeyPattern is the accepted raw key form: 0x followed by 64 hex digits.
var privateKeyPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// productionChainIDs lists networks where falling back to a node-managed
// account is refused. Node accounts only exist on development nodes; on these
// chains a missing key is a configuration mistake.
var productionChainIDs = map[uint64]string{
	1:     "Ethereum Mainnet",
	10:    "Optimism",
	137:   "Polygon",
	8453:  "Base",
	42161: "Arbitrum One",
}

// ValidPrivateKey reports whether raw has the accepted private key shape.
func ValidPrivateKey(raw string) bool {
	return privateKeyPattern.MatchString(raw)
}

// SignerResolverConfig configures a SignerResolver.
type SignerResolverConfig struct {
	ChainID *big.Int
	// AllowNodeAccounts enables the fallback to the node's first account.
	AllowNodeAccounts bool
	Logger            *slog.Logger
}

// SignerResolver picks the identity that signs and pays for the deployment.
type SignerResolver struct {
	chainID           *big.Int
	allowNodeAccounts bool
	logger            *slog.Logger
}

// NewSignerResolver creates a new SignerResolver.
func NewSignerResolver(cfg SignerResolverConfig) *SignerResolver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SignerResolver{
		chainID:           cfg.ChainID,
		allowNodeAccounts: cfg.AllowNodeAccounts,
		logger:            logger,
	}
}

// Resolve returns a LocalSigner when rawKey is a usable private key and the
// node's first managed account otherwise. A malformed key is not an error: it
// is logged and treated as absent.
func (r *SignerResolver) Resolve(ctx context.Context, rawKey string, node RPCCaller) (TransactionSigner, SignerKind, error) {
	if rawKey != "" {
		if signer, ok := r.localSigner(rawKey); ok {
			r.logger.Info("using private key signer",
				slog.String("address", signer.Address().Hex()),
			)
			return signer, SignerKindLocalKey, nil
		}
	}

	signer, err := r.nodeSigner(ctx, node)
	if err != nil {
		return nil, "", err
	}

	r.logger.Info("using node-managed signer",
		slog.String("address", signer.Address().Hex()),
	)
	return signer, SignerKindNodeAccount, nil
}

// localSigner builds a LocalSigner, logging a warning instead of failing when
// the key cannot be used. The key itself is never logged.
func (r *SignerResolver) localSigner(rawKey string) (*LocalSigner, bool) {
	if !ValidPrivateKey(rawKey) {
		r.logger.Warn("PRIVATE_KEY is set but malformed (want 0x + 64 hex digits); falling back to node-managed account",
			slog.Int("length", len(rawKey)),
		)
		return nil, false
	}

	signer, err := NewLocalSigner(rawKey, r.chainID)
	if err != nil {
		r.logger.Warn("PRIVATE_KEY is not a valid secp256k1 key; falling back to node-managed account",
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	return signer, true
}

// nodeSigner wraps the first account the node reports via eth_accounts.
func (r *SignerResolver) nodeSigner(ctx context.Context, node RPCCaller) (*NodeSigner, error) {
	if !r.allowNodeAccounts {
		return nil, fmt.Errorf("%w: no valid private key and node-managed accounts are disabled", ErrNoSignerAvailable)
	}

	if name, isProduction := productionChainIDs[r.chainID.Uint64()]; isProduction && r.chainID.IsUint64() {
		return nil, fmt.Errorf("%w: no valid private key and node-managed accounts are refused on %s (chain_id=%s)",
			ErrNoSignerAvailable, name, r.chainID)
	}

	var accounts []common.Address
	if err := node.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, fmt.Errorf("%w: list node accounts: %w", ErrNoSignerAvailable, err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: no valid private key and the node manages no accounts", ErrNoSignerAvailable)
	}

	r.logger.Debug("node accounts available", slog.Int("count", len(accounts)))

	return NewNodeSigner(node, accounts[0], r.chainID), nil
}
