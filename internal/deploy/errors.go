package deploy

import (
	"errors"
	"fmt"
)

// Sentinel errors - one per failure kind of the pipeline. All of them are fatal.
var (
	ErrNoSignerAvailable = errors.New("deploy: no signer available")
	ErrDeploymentFailed  = errors.New("deploy: deployment failed")
	ErrArtifactNotFound  = errors.New("deploy: artifact not found")
	ErrArtifactMalformed = errors.New("deploy: artifact malformed")
	ErrPublishIO         = errors.New("deploy: failed to write published artifacts")
	ErrConfigIO          = errors.New("deploy: failed to update config file")
)

// StageError wraps an error with the pipeline stage it came from.
type StageError struct {
	Stage Stage
	Err   error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

// Unwrap implements the errors.Unwrap interface for error chaining.
func (e *StageError) Unwrap() error {
	return e.Err
}

// ArtifactError carries the artifact path alongside the failure.
type ArtifactError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *ArtifactError) Error() string {
	return fmt.Sprintf("artifact %s: %v", e.Path, e.Err)
}

// Unwrap implements the errors.Unwrap interface for error chaining.
func (e *ArtifactError) Unwrap() error {
	return e.Err
}

// deploymentFailed wraps cause as ErrDeploymentFailed with an operation prefix.
func deploymentFailed(op string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrDeploymentFailed, op, cause)
}

// StageOf returns the stage recorded in err, or the empty stage if err did not
// come out of the orchestrator.
func StageOf(err error) Stage {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return ""
}
