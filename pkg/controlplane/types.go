package controlplane

import (
	"strings"
	"time"

	"github.com/vyvo/compute/provisioner/pkg/platform"
	"github.com/vyvo/compute/provisioner/pkg/resourcegraph"
)

// NodeStatus is the lifecycle stage recorded in the event journal.
type NodeStatus string

const (
	NodeStatusProvisioning NodeStatus = "PROVISIONING"
	NodeStatusReady        NodeStatus = "READY"
	NodeStatusError        NodeStatus = "ERROR"
	NodeStatusDestroying   NodeStatus = "DESTROYING"
	NodeStatusDestroyed    NodeStatus = "DESTROYED"
)

// NodeEvent captures provisioning and teardown progress for a node.
type NodeEvent struct {
	ID        string     `json:"id"`
	NodeID    string     `json:"nodeId"`
	Status    NodeStatus `json:"status"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"createdAt"`
}

// NodeRecord is a node as reconstructed from platform state. It is assembled
// on every read and never cached.
type NodeRecord struct {
	ID          string                     `json:"id"`
	Group       string                     `json:"group,omitempty"`
	Deployment  *platform.Deployment       `json:"deployment"`
	VM          *platform.VMDetails        `json:"vm,omitempty"`
	IPAddresses []platform.PublicIPAddress `json:"ipAddresses"`
}

// PublicAddresses returns the assigned public IPs.
func (n *NodeRecord) PublicAddresses() []string {
	var out []string
	for _, ip := range n.IPAddresses {
		if ip.Properties.IPAddress != "" {
			out = append(out, ip.Properties.IPAddress)
		}
	}
	return out
}

// PowerState is the VM power state, or "" when no instance view was read.
func (n *NodeRecord) PowerState() string {
	return n.VM.PowerState()
}

// Credentials are the login details generated for a new node.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	KeyAuth  bool   `json:"keyAuth"`
}

// ProvisionRequest names one node to create. Group is the node group whose
// members share a virtual network; an empty Name is generated from Group.
type ProvisionRequest struct {
	Group    string                       `json:"group"`
	Name     string                       `json:"name,omitempty"`
	Location string                       `json:"location,omitempty"`
	VMSize   string                       `json:"vmSize,omitempty"`
	Image    resourcegraph.ImageSelection `json:"image"`
	Login    resourcegraph.LoginOptions   `json:"login"`
}

// ProvisionResult pairs the created node with its login credentials.
type ProvisionResult struct {
	Node        *NodeRecord `json:"node"`
	Credentials Credentials `json:"credentials"`
	// Token identifies this provisioning attempt in logs and the journal.
	Token string `json:"token"`
}

// GroupFromNodeID returns the node group encoded in an id of the form "<group>-<suffix>".
func GroupFromNodeID(id string) string {
	if idx := strings.LastIndex(id, "-"); idx > 0 {
		return id[:idx]
	}
	return id
}

// groupFromDeployment recovers the node group from the virtual network the
// deployment recorded, falling back to the id convention.
func groupFromDeployment(d *platform.Deployment) string {
	if d == nil {
		return ""
	}
	if d.Properties != nil {
		for _, dep := range d.Properties.Dependencies {
			for _, nested := range append([]platform.Dependency{dep}, dep.DependsOn...) {
				if nested.ResourceType == platform.TypeVirtualNetwork && strings.HasSuffix(nested.ResourceName, "virtualnetwork") {
					return strings.TrimSuffix(nested.ResourceName, "virtualnetwork")
				}
			}
		}
	}
	return GroupFromNodeID(d.Name)
}

// storageAccountFromDeployment returns the storage account the node's VM
// depends on. Without a recorded dependency it falls back to the name derived
// from id.
func storageAccountFromDeployment(d *platform.Deployment, id string) string {
	if d != nil && d.Properties != nil {
		for _, dep := range d.Properties.Dependencies {
			if dep.ResourceType != platform.TypeVirtualMachine {
				continue
			}
			for _, nested := range dep.DependsOn {
				if nested.ResourceType == platform.TypeStorageAccount && nested.ResourceName != "" {
					return nested.ResourceName
				}
			}
		}
	}
	return resourcegraph.StorageAccountName(id)
}
