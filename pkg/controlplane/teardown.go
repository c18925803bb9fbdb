package controlplane

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyvo/compute/provisioner/pkg/platform"
	"github.com/vyvo/compute/provisioner/pkg/poll"
	"github.com/vyvo/compute/provisioner/pkg/resourcegraph"
)

// Teardown step names, in execution order.
const (
	StepDeleteVM             = "delete-vm"
	StepDeleteStorageAccount = "delete-storage-account"
	StepDeleteNIC            = "delete-nic"
	StepDeletePublicIP       = "delete-public-ip"
	StepDeleteDeployment     = "delete-deployment"
	StepDeleteNetwork        = "delete-virtual-network"
)

// TeardownReport describes how far a teardown got.
type TeardownReport struct {
	Node      string               `json:"node"`
	Completed []string             `json:"completed"`
	Skipped   *TeardownStepSkipped `json:"skipped,omitempty"`
}

// Complete reports whether every step ran.
func (r TeardownReport) Complete() bool { return r.Skipped == nil }

// Destroy deletes a node's resources in dependency order:
// VM, storage account, NIC, public IP, deployment record, virtual network.
// The VM and NIC steps wait for their platform jobs. A missing job handle, a
// failed call or a job that does not finish in time halts the sequence; the
// remaining steps are skipped and not retried. Destroy never returns an error,
// and resources left behind by a halted run stay in place.
func (o *Orchestrator) Destroy(ctx context.Context, id string) TeardownReport {
	ctx, span := o.tracer.Start(ctx, "controlplane.Destroy", trace.WithAttributes(attribute.String("node.id", id)))
	defer span.End()

	report := TeardownReport{Node: id}
	group := o.opts.ResourceGroup

	// The network name is read before the deployment record is removed.
	nodeGroup := GroupFromNodeID(id)
	d, err := o.platform.Deployments.Get(ctx, group, id)
	if err != nil {
		o.logger.Warn("could not read deployment before teardown", "node", id, "error", err)
	} else if d != nil {
		nodeGroup = groupFromDeployment(d)
	}
	// A node whose deployment record is gone was torn down before; its journal
	// stays empty unless this run removes something.
	removed := err == nil && d == nil

	if !removed {
		o.journal.AppendEvent(id, NodeStatusDestroying, "Teardown started")
	}
	o.logger.Info("tearing down node", "node", id, "group", group)

	for _, step := range o.teardownPlan(group, id, nodeGroup) {
		if err := step.run(ctx); err != nil {
			skipped, ok := err.(*TeardownStepSkipped)
			if !ok {
				skipped = &TeardownStepSkipped{Reason: "call failed", Err: err}
			}
			skipped.Step = step.name
			report.Skipped = skipped
			span.SetAttributes(attribute.String("teardown.halted_at", step.name))
			if removed && len(report.Completed) == 0 && skipped.Err == nil {
				o.logger.Info("node already torn down", "node", id, "step", step.name, "reason", skipped.Reason)
				return report
			}
			o.logger.Warn("teardown halted", "node", id, "step", step.name, "reason", skipped.Reason, "error", skipped.Err)
			o.journal.AppendEvent(id, NodeStatusError, skipped.Error())
			return report
		}
		report.Completed = append(report.Completed, step.name)
		o.logger.Info("teardown step completed", "node", id, "step", step.name)
	}

	o.journal.AppendEvent(id, NodeStatusDestroyed, "Teardown completed")
	if err := o.journal.Forget(id); err != nil {
		o.logger.Warn("could not clear node events", "node", id, "error", err)
	}
	return report
}

type teardownStep struct {
	name string
	run  func(context.Context) error
}

// teardownPlan lists the steps for node id in group; nodeGroup names the
// shared virtual network.
func (o *Orchestrator) teardownPlan(group, id, nodeGroup string) []teardownStep {
	return []teardownStep{
		{StepDeleteVM, func(ctx context.Context) error {
			h, err := o.platform.VirtualMachines.Delete(ctx, group, id)
			return o.awaitJob(ctx, h, err, platform.JobStatusDone)
		}},
		{StepDeleteStorageAccount, func(ctx context.Context) error {
			return o.platform.StorageAccounts.Delete(ctx, group, resourcegraph.StorageAccountName(id))
		}},
		{StepDeleteNIC, func(ctx context.Context) error {
			h, err := o.platform.Interfaces.Delete(ctx, group, resourcegraph.NICName(id))
			return o.awaitJob(ctx, h, err, platform.JobStatusDone, platform.JobStatusNoContent)
		}},
		{StepDeletePublicIP, func(ctx context.Context) error {
			return o.platform.PublicIPs.Delete(ctx, group, resourcegraph.PublicIPName(id))
		}},
		{StepDeleteDeployment, func(ctx context.Context) error {
			return o.platform.Deployments.Delete(ctx, group, id)
		}},
		{StepDeleteNetwork, func(ctx context.Context) error {
			return o.platform.Networks.Delete(ctx, group, resourcegraph.VirtualNetworkName(nodeGroup))
		}},
	}
}

// awaitJob polls the job behind h until it reports one of accept. It returns a
// *TeardownStepSkipped when there is nothing to wait on or the job never
// reaches an accepted state.
func (o *Orchestrator) awaitJob(ctx context.Context, h *platform.JobHandle, callErr error, accept ...platform.JobStatus) error {
	if callErr != nil {
		return &TeardownStepSkipped{Reason: "call failed", Err: callErr}
	}
	if h == nil {
		return &TeardownStepSkipped{Reason: "no job handle returned"}
	}

	var last platform.JobStatus
	poller := poll.Poller{Timeout: o.opts.JobTimeout, Interval: o.opts.PollInterval, Logger: o.logger}
	_, err := poller.Until(ctx, func(ctx context.Context) (bool, error) {
		status, err := o.platform.Jobs.Status(ctx, *h)
		if err != nil {
			return false, err
		}
		last = status
		for _, s := range accept {
			if status == s {
				return true, nil
			}
		}
		if status.Terminal() {
			return false, fmt.Errorf("job %s ended in %s", h.Kind, status)
		}
		return false, nil
	})
	if err != nil {
		return &TeardownStepSkipped{Reason: fmt.Sprintf("job %s did not finish (last status %q)", h.Kind, last), Err: err}
	}
	return nil
}
