package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/vyvo/compute/provisioner/pkg/config"
	"github.com/vyvo/compute/provisioner/pkg/controlplane"
	"github.com/vyvo/compute/provisioner/pkg/resourcegraph"
)

func TestOpenDryRun(t *testing.T) {
	cfg := config.ProvisionerConfig{
		DryRun:           true,
		JournalPath:      filepath.Join(t.TempDir(), "events.json"),
		ResourceGroup:    "rg",
		Location:         "westus",
		OperationTimeout: time.Second,
		PollInterval:     10 * time.Millisecond,
	}
	svc, err := Open(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer svc.Close()

	res, err := svc.Orchestrator.Provision(context.Background(), controlplane.ProvisionRequest{
		Group: "g1",
		Name:  "g1-n1",
		Image: resourcegraph.Marketplace("Canonical", "UbuntuServer", "16.04"),
	})
	if err != nil {
		t.Fatalf("Provision returned error: %v", err)
	}
	if res.Node.ID != "g1-n1" {
		t.Fatalf("unexpected node %q", res.Node.ID)
	}
	if events := svc.Journal.GetEvents("g1-n1"); len(events) == 0 {
		t.Fatalf("expected journaled events")
	}
}

func TestPlatformWithStaticToken(t *testing.T) {
	cfg := config.ProvisionerConfig{}
	cfg.Azure.SubscriptionID = "sub1"
	cfg.Azure.Token = "tok"

	p, err := Platform(cfg)
	if err != nil {
		t.Fatalf("Platform returned error: %v", err)
	}
	if p.Deployments == nil || p.Jobs == nil {
		t.Fatalf("platform services not populated")
	}
}
