package platform

import (
	"encoding/json"
	"errors"
	"time"
)

// Resource types recorded in deployment dependency metadata.
const (
	TypeStorageAccount   = "Microsoft.Storage/storageAccounts"
	TypeVirtualNetwork   = "Microsoft.Network/virtualNetworks"
	TypePublicIPAddress  = "Microsoft.Network/publicIPAddresses"
	TypeNetworkInterface = "Microsoft.Network/networkInterfaces"
	TypeVirtualMachine   = "Microsoft.Compute/virtualMachines"
)

// ErrTransient marks a platform failure that is worth retrying (throttling, 5xx, dropped connections).
var ErrTransient = errors.New("transient platform error")

// JobKind identifies the mutation a JobHandle tracks.
type JobKind string

const (
	JobKindVMDelete   JobKind = "vm-delete"
	JobKindNICDelete  JobKind = "nic-delete"
	JobKindCapture    JobKind = "capture"
	JobKindGeneralize JobKind = "generalize"
)

// JobHandle is returned by a mutating call the platform completes asynchronously.
type JobHandle struct {
	Endpoint string  `json:"endpoint"`
	Kind     JobKind `json:"kind"`
}

// JobStatus is the state of an asynchronous platform job.
type JobStatus string

const (
	JobStatusAccepted  JobStatus = "ACCEPTED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusDone      JobStatus = "DONE"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusNoContent JobStatus = "NO_CONTENT"
)

// Terminal reports whether the job will not change state again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusDone, JobStatusFailed, JobStatusNoContent:
		return true
	}
	return false
}

// ResourceGroup is a named container for deployments.
type ResourceGroup struct {
	ID       string            `json:"id,omitempty"`
	Name     string            `json:"name"`
	Location string            `json:"location"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// Deployment is the platform-side record of one submitted template.
type Deployment struct {
	ID         string                `json:"id"`
	Name       string                `json:"name"`
	Properties *DeploymentProperties `json:"properties,omitempty"`
}

// DeploymentProperties carries the processing state and the dependency edges the platform resolved.
type DeploymentProperties struct {
	ProvisioningState string          `json:"provisioningState,omitempty"`
	CorrelationID     string          `json:"correlationId,omitempty"`
	Timestamp         *time.Time      `json:"timestamp,omitempty"`
	Mode              string          `json:"mode,omitempty"`
	Dependencies      []Dependency    `json:"dependencies,omitempty"`
	Outputs           json.RawMessage `json:"outputs,omitempty"`
}

// Dependency is one recorded dependency edge of a deployment.
type Dependency struct {
	ID           string       `json:"id,omitempty"`
	ResourceType string       `json:"resourceType"`
	ResourceName string       `json:"resourceName"`
	DependsOn    []Dependency `json:"dependsOn,omitempty"`
}

// PublicIPAddress is a public IP resource.
type PublicIPAddress struct {
	ID         string                    `json:"id,omitempty"`
	Name       string                    `json:"name"`
	Location   string                    `json:"location,omitempty"`
	Properties PublicIPAddressProperties `json:"properties"`
}

type PublicIPAddressProperties struct {
	ProvisioningState        string       `json:"provisioningState,omitempty"`
	IPAddress                string       `json:"ipAddress,omitempty"`
	PublicIPAllocationMethod string       `json:"publicIPAllocationMethod,omitempty"`
	IdleTimeoutInMinutes     int          `json:"idleTimeoutInMinutes,omitempty"`
	DNSSettings              *DNSSettings `json:"dnsSettings,omitempty"`
}

type DNSSettings struct {
	DomainNameLabel string `json:"domainNameLabel,omitempty"`
	FQDN            string `json:"fqdn,omitempty"`
}

// VMDetails is the instance view of a virtual machine.
type VMDetails struct {
	ComputerName string     `json:"computerName,omitempty"`
	OSName       string     `json:"osName,omitempty"`
	OSVersion    string     `json:"osVersion,omitempty"`
	Statuses     []VMStatus `json:"statuses,omitempty"`
}

type VMStatus struct {
	Code          string     `json:"code"`
	Level         string     `json:"level,omitempty"`
	DisplayStatus string     `json:"displayStatus,omitempty"`
	Time          *time.Time `json:"time,omitempty"`
}

// PowerState returns the PowerState/* status code suffix, or "" when the view has none.
func (d *VMDetails) PowerState() string {
	if d == nil {
		return ""
	}
	const prefix = "PowerState/"
	for _, s := range d.Statuses {
		if len(s.Code) > len(prefix) && s.Code[:len(prefix)] == prefix {
			return s.Code[len(prefix):]
		}
	}
	return ""
}

// CaptureOutput lists the disks written by a completed capture job.
type CaptureOutput struct {
	OSDiskName    string   `json:"osDiskName"`
	DataDiskNames []string `json:"dataDiskNames,omitempty"`
}
