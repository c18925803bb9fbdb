package platform

import "context"

// Getters return (nil, nil) when the resource is absent. Deletes of absent
// resources succeed; handle-returning deletes return a nil handle.

type ResourceGroupService interface {
	Get(ctx context.Context, name string) (*ResourceGroup, error)
	// Create is create-if-absent: it returns the existing group when one exists.
	Create(ctx context.Context, name, location string, tags map[string]string) (*ResourceGroup, error)
}

type DeploymentService interface {
	Create(ctx context.Context, group, name string, body []byte) (*Deployment, error)
	Get(ctx context.Context, group, name string) (*Deployment, error)
	List(ctx context.Context, group string) ([]Deployment, error)
	Delete(ctx context.Context, group, name string) error
}

type VirtualMachineService interface {
	Delete(ctx context.Context, group, name string) (*JobHandle, error)
	Restart(ctx context.Context, group, name string) error
	Start(ctx context.Context, group, name string) error
	Stop(ctx context.Context, group, name string) error
	Generalize(ctx context.Context, group, name string) error
	Capture(ctx context.Context, group, name, vhdPrefix, container string) (*JobHandle, error)
	InstanceDetails(ctx context.Context, group, name string) (*VMDetails, error)
}

type NetworkInterfaceService interface {
	Delete(ctx context.Context, group, name string) (*JobHandle, error)
}

type PublicIPService interface {
	Delete(ctx context.Context, group, name string) error
	Get(ctx context.Context, group, name string) (*PublicIPAddress, error)
}

type VirtualNetworkService interface {
	Delete(ctx context.Context, group, name string) error
}

type StorageAccountService interface {
	Delete(ctx context.Context, group, name string) error
}

type JobService interface {
	Status(ctx context.Context, handle JobHandle) (JobStatus, error)
	CaptureOutput(ctx context.Context, handle JobHandle) (*CaptureOutput, error)
}

// Platform bundles the collaborator services the control plane calls through.
type Platform struct {
	Groups          ResourceGroupService
	Deployments     DeploymentService
	VirtualMachines VirtualMachineService
	Interfaces      NetworkInterfaceService
	PublicIPs       PublicIPService
	Networks        VirtualNetworkService
	StorageAccounts StorageAccountService
	Jobs            JobService
}
