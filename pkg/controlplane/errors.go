package controlplane

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNodeNotFound is returned when no deployment exists for a node id.
	ErrNodeNotFound = errors.New("node not found")
	// ErrCaptureNotStarted is returned when the platform accepted no capture job.
	ErrCaptureNotStarted = errors.New("capture was not started")
	// ErrInvalidImageName is returned for capture names that cannot form an image id.
	ErrInvalidImageName = errors.New("invalid image name")
)

// DeploymentTimeoutError is returned when the deployment was not confirmed
// within the operation timeout. Resources the platform created before the
// timeout are left in place.
type DeploymentTimeoutError struct {
	Deployment string
	Timeout    time.Duration
	Err        error
}

func (e *DeploymentTimeoutError) Error() string {
	return fmt.Sprintf("deployment %s was not created within %s: %v", e.Deployment, e.Timeout, e.Err)
}

func (e *DeploymentTimeoutError) Unwrap() error { return e.Err }

// TeardownStepSkipped records where a teardown cascade halted. It is logged
// and reported, never returned as an error.
type TeardownStepSkipped struct {
	Step   string `json:"step"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

func (e *TeardownStepSkipped) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("teardown halted at %s: %s: %v", e.Step, e.Reason, e.Err)
	}
	return fmt.Sprintf("teardown halted at %s: %s", e.Step, e.Reason)
}

func (e *TeardownStepSkipped) Unwrap() error { return e.Err }
