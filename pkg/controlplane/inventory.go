package controlplane

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyvo/compute/provisioner/pkg/platform"
)

// ListNodes re-reads every deployment in the resource group and assembles a
// NodeRecord for each. Results are ordered by node id.
func (o *Orchestrator) ListNodes(ctx context.Context) ([]*NodeRecord, error) {
	ctx, span := o.tracer.Start(ctx, "controlplane.ListNodes")
	defer span.End()

	deployments, err := o.platform.Deployments.List(ctx, o.opts.ResourceGroup)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	sort.Slice(deployments, func(i, j int) bool { return deployments[i].Name < deployments[j].Name })

	nodes := make([]*NodeRecord, 0, len(deployments))
	for i := range deployments {
		node, err := o.assemble(ctx, &deployments[i])
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	span.SetAttributes(attribute.Int("node.count", len(nodes)))
	return nodes, nil
}

// ListNodesByIDs returns the listed nodes whose id is in ids.
func (o *Orchestrator) ListNodesByIDs(ctx context.Context, ids []string) ([]*NodeRecord, error) {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	nodes, err := o.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	filtered := nodes[:0]
	for _, n := range nodes {
		if wanted[n.ID] {
			filtered = append(filtered, n)
		}
	}
	return filtered, nil
}

// GetNode returns ErrNodeNotFound when no deployment exists for id.
func (o *Orchestrator) GetNode(ctx context.Context, id string) (*NodeRecord, error) {
	ctx, span := o.tracer.Start(ctx, "controlplane.GetNode", trace.WithAttributes(attribute.String("node.id", id)))
	defer span.End()

	d, err := o.platform.Deployments.Get(ctx, o.opts.ResourceGroup, id)
	if err != nil {
		return nil, fmt.Errorf("get deployment %s: %w", id, err)
	}
	if d == nil {
		return nil, ErrNodeNotFound
	}
	return o.assemble(ctx, d)
}

func (o *Orchestrator) assemble(ctx context.Context, d *platform.Deployment) (*NodeRecord, error) {
	group := o.opts.ResourceGroup
	vm, err := o.platform.VirtualMachines.InstanceDetails(ctx, group, d.Name)
	if err != nil {
		return nil, fmt.Errorf("instance details for %s: %w", d.Name, err)
	}

	node := &NodeRecord{
		ID:          d.Name,
		Group:       groupFromDeployment(d),
		Deployment:  d,
		VM:          vm,
		IPAddresses: []platform.PublicIPAddress{},
	}
	for _, name := range publicIPNames(d) {
		ip, err := o.platform.PublicIPs.Get(ctx, group, name)
		if err != nil {
			return nil, fmt.Errorf("public ip %s: %w", name, err)
		}
		if ip != nil {
			node.IPAddresses = append(node.IPAddresses, *ip)
		}
	}
	return node, nil
}

// publicIPNames follows the deployment's recorded network interface
// dependencies to the public IP addresses they depend on.
func publicIPNames(d *platform.Deployment) []string {
	if d.Properties == nil {
		return nil
	}
	var names []string
	for _, dep := range d.Properties.Dependencies {
		if dep.ResourceType != platform.TypeNetworkInterface {
			continue
		}
		for _, nested := range dep.DependsOn {
			if nested.ResourceType == platform.TypePublicIPAddress {
				names = append(names, nested.ResourceName)
			}
		}
	}
	return names
}
