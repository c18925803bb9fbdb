package controlplane

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyvo/compute/provisioner/pkg/platform"
	"github.com/vyvo/compute/provisioner/pkg/poll"
	"github.com/vyvo/compute/provisioner/pkg/resourcegraph"
)

// Reboot restarts the node's virtual machine.
func (o *Orchestrator) Reboot(ctx context.Context, id string) error {
	if err := o.platform.VirtualMachines.Restart(ctx, o.opts.ResourceGroup, id); err != nil {
		return fmt.Errorf("reboot %s: %w", id, err)
	}
	o.logger.Info("node rebooted", "node", id)
	return nil
}

// Resume starts a stopped node.
func (o *Orchestrator) Resume(ctx context.Context, id string) error {
	if err := o.platform.VirtualMachines.Start(ctx, o.opts.ResourceGroup, id); err != nil {
		return fmt.Errorf("resume %s: %w", id, err)
	}
	o.logger.Info("node resumed", "node", id)
	return nil
}

// Suspend stops a running node.
func (o *Orchestrator) Suspend(ctx context.Context, id string) error {
	if err := o.platform.VirtualMachines.Stop(ctx, o.opts.ResourceGroup, id); err != nil {
		return fmt.Errorf("suspend %s: %w", id, err)
	}
	o.logger.Info("node suspended", "node", id)
	return nil
}

// CaptureImage generalizes the node and captures its disks into the storage
// account holding its OS disk: the node's own account, or the image account
// for a node provisioned from a custom image. The returned selection can be
// passed to Provision. A failed generalize is logged and the capture is
// attempted anyway.
func (o *Orchestrator) CaptureImage(ctx context.Context, id, imageName string) (*resourcegraph.ImageSelection, error) {
	ctx, span := o.tracer.Start(ctx, "controlplane.CaptureImage", trace.WithAttributes(
		attribute.String("node.id", id),
		attribute.String("image.name", imageName),
	))
	defer span.End()

	group := o.opts.ResourceGroup
	imageName, err := normalizeImageName(imageName)
	if err != nil {
		return nil, err
	}
	d, err := o.platform.Deployments.Get(ctx, group, id)
	if err != nil {
		return nil, fmt.Errorf("get deployment %s: %w", id, err)
	}
	account := storageAccountFromDeployment(d, id)
	if err := checkCaptureID(account, imageName); err != nil {
		return nil, err
	}

	if err := o.platform.VirtualMachines.Generalize(ctx, group, id); err != nil {
		o.logger.Warn("generalize failed, capturing anyway", "node", id, "error", err)
	}

	h, err := o.platform.VirtualMachines.Capture(ctx, group, id, imageName, resourcegraph.CaptureContainer)
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", id, err)
	}
	if h == nil {
		return nil, ErrCaptureNotStarted
	}

	_, err = poll.Poller{Timeout: o.opts.CaptureTimeout, Interval: captureInterval(o.opts), Logger: o.logger}.
		Until(ctx, func(ctx context.Context) (bool, error) {
			status, err := o.platform.Jobs.Status(ctx, *h)
			if err != nil {
				return false, err
			}
			if status == platform.JobStatusFailed {
				return false, fmt.Errorf("capture job failed")
			}
			return status == platform.JobStatusDone, nil
		})
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", id, err)
	}

	out, err := o.platform.Jobs.CaptureOutput(ctx, *h)
	if err != nil {
		return nil, fmt.Errorf("capture output for %s: %w", id, err)
	}
	vhd := imageName + "-osDisk.vhd"
	if out != nil && out.OSDiskName != "" {
		vhd = out.OSDiskName
	}
	o.logger.Info("image captured", "node", id, "account", account, "vhd", vhd)
	return &resourcegraph.ImageSelection{
		Custom: &resourcegraph.CustomImage{
			StorageAccount: account,
			VHD:            vhd,
		},
	}, nil
}

var imageNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// normalizeImageName lowercases name, which becomes the captured VHD prefix.
func normalizeImageName(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !imageNamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q must start with a letter and hold only letters, digits and hyphens", ErrInvalidImageName, name)
	}
	return name, nil
}

// checkCaptureID rejects names whose image id would split at the wrong place,
// such as a digit directly followed by a letter.
func checkCaptureID(account, imageName string) error {
	want := resourcegraph.CustomImage{StorageAccount: account, VHD: imageName + "-osDisk.vhd"}
	got, err := resourcegraph.ParseImageID(resourcegraph.ImageSelection{Custom: &want}.ID())
	if err != nil || got.Custom == nil || *got.Custom != want {
		return fmt.Errorf("%w: %q cannot be told apart from storage account %s", ErrInvalidImageName, imageName, account)
	}
	return nil
}

func captureInterval(opts Options) time.Duration {
	if opts.PollInterval > opts.CaptureTimeout {
		return opts.CaptureTimeout
	}
	return opts.PollInterval
}
