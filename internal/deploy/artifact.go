package deploy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/afero"

	"github.com/fraudchain/txregistry-deployer/internal/config"
)

// CompiledArtifact is the part of a compiler artifact this tool uses.
type CompiledArtifact struct {
	ContractName string          `json:"contractName,omitempty"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     Bytecode        `json:"bytecode"`

	// Path is where the artifact was read from.
	Path string `json:"-"`
}

// Bytecode contains the contract creation bytecode.
// It handles both formats:
// - Simple string: "0x608060..." (Hardhat)
// - Object with "object" field: {"object": "0x608060..."} (Foundry)
type Bytecode struct {
	hex string
}

// UnmarshalJSON handles both string and object bytecode formats.
func (b *Bytecode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		b.hex = s
		return nil
	}

	var obj struct {
		Object string `json:"object"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		b.hex = obj.Object
		return nil
	}

	return fmt.Errorf("bytecode must be a string or object with 'object' field")
}

// String returns the bytecode hex string.
func (b Bytecode) String() string {
	return b.hex
}

// Bytes decodes the bytecode. Unlinked library placeholders and empty
// bytecode (interfaces, abstract contracts) are rejected.
func (b Bytecode) Bytes() ([]byte, error) {
	code := b.hex
	if strings.Contains(code, "__") {
		return nil, errors.New("bytecode has unlinked library references")
	}
	decoded, err := hexutil.Decode(ensureHexPrefix(code))
	if err != nil {
		return nil, fmt.Errorf("decode bytecode: %w", err)
	}
	if len(decoded) == 0 {
		return nil, errors.New("empty bytecode")
	}
	return decoded, nil
}

// ParsedABI returns the ABI parsed by go-ethereum.
func (a *CompiledArtifact) ParsedABI() (abi.ABI, error) {
	return abi.JSON(bytes.NewReader(a.ABI))
}

// IndentedABI renders the ABI with two-space indentation. Entry order is kept
// as written by the compiler.
func (a *CompiledArtifact) IndentedABI() ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, a.ABI, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ArtifactPath derives the artifact location for a contract.
//
//	hardhat: <dir>/contracts/<Name>.sol/<Name>.json
//	foundry: <dir>/<Name>.sol/<Name>.json
func ArtifactPath(dir, layout, contractName string) (string, error) {
	file := contractName + ".json"
	source := contractName + ".sol"

	switch layout {
	case config.LayoutHardhat, "":
		return filepath.Join(dir, "contracts", source, file), nil
	case config.LayoutFoundry:
		return filepath.Join(dir, source, file), nil
	default:
		return "", fmt.Errorf("unknown artifact layout %q", layout)
	}
}

// ArtifactLoader reads compiled artifacts from disk.
type ArtifactLoader struct {
	fs     afero.Fs
	dir    string
	layout string
}

// NewArtifactLoader creates a loader rooted at dir.
func NewArtifactLoader(fsys afero.Fs, dir, layout string) *ArtifactLoader {
	return &ArtifactLoader{fs: fsys, dir: dir, layout: layout}
}

// Load reads and validates the artifact for contractName.
func (l *ArtifactLoader) Load(contractName string) (*CompiledArtifact, error) {
	path, err := ArtifactPath(l.dir, l.layout, contractName)
	if err != nil {
		return nil, &ArtifactError{Path: l.dir, Err: fmt.Errorf("%w: %w", ErrArtifactNotFound, err)}
	}

	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ArtifactError{Path: path, Err: fmt.Errorf("%w (compile the contract first)", ErrArtifactNotFound)}
		}
		return nil, &ArtifactError{Path: path, Err: fmt.Errorf("%w: read: %w", ErrArtifactMalformed, err)}
	}

	artifact, err := ParseArtifact(data)
	if err != nil {
		return nil, &ArtifactError{Path: path, Err: err}
	}
	artifact.Path = path
	if artifact.ContractName == "" {
		artifact.ContractName = contractName
	}

	return artifact, nil
}

// ParseArtifact decodes artifact JSON and checks that the ABI is a usable
// interface description and that the bytecode decodes.
func ParseArtifact(data []byte) (*CompiledArtifact, error) {
	var artifact CompiledArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("%w: parse json: %w", ErrArtifactMalformed, err)
	}

	trimmed := bytes.TrimSpace(artifact.ABI)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("%w: missing abi field", ErrArtifactMalformed)
	}
	if trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: abi is not an array", ErrArtifactMalformed)
	}
	if _, err := artifact.ParsedABI(); err != nil {
		return nil, fmt.Errorf("%w: parse abi: %w", ErrArtifactMalformed, err)
	}

	if _, err := artifact.Bytecode.Bytes(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArtifactMalformed, err)
	}

	return &artifact, nil
}
