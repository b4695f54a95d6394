package deploy

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"
)

// PublishedArtifactSet lists the files written for downstream consumers.
type PublishedArtifactSet struct {
	InterfaceFilePath string `json:"interface_file"`
	AddressFilePath   string `json:"address_file"`
}

// Publisher writes a contract's ABI and deployed address as standalone files.
type Publisher struct {
	fs     afero.Fs
	dir    string
	logger *slog.Logger
}

// NewPublisher creates a publisher writing into dir.
func NewPublisher(fsys afero.Fs, dir string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{fs: fsys, dir: dir, logger: logger}
}

// Paths returns where Publish writes for contractName.
func (p *Publisher) Paths(contractName string) PublishedArtifactSet {
	return PublishedArtifactSet{
		InterfaceFilePath: filepath.Join(p.dir, contractName+".json"),
		AddressFilePath:   filepath.Join(p.dir, contractName+".address"),
	}
}

// Publish writes <dir>/<Name>.json with the ABI, then <dir>/<Name>.address
// with the deployed address. The address file is only written once the
// interface file is in place.
func (p *Publisher) Publish(contractName string, artifact *CompiledArtifact, result *DeploymentResult) (*PublishedArtifactSet, error) {
	set := p.Paths(contractName)

	abiJSON, err := artifact.IndentedABI()
	if err != nil {
		return nil, fmt.Errorf("%w: render abi: %w", ErrArtifactMalformed, err)
	}

	if err := writeFileAtomic(p.fs, set.InterfaceFilePath, abiJSON, 0o644); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPublishIO, err)
	}
	p.logger.Info("ABI written", slog.String("path", set.InterfaceFilePath))

	address := result.ContractAddress.Hex()
	if err := writeFileAtomic(p.fs, set.AddressFilePath, []byte(address), 0o644); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPublishIO, err)
	}
	p.logger.Info("address written",
		slog.String("path", set.AddressFilePath),
		slog.String("address", address),
	)

	return &set, nil
}
