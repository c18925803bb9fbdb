package controlplane

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vyvo/compute/provisioner/pkg/platform"
	"github.com/vyvo/compute/provisioner/pkg/platform/fakeplatform"
	"github.com/vyvo/compute/provisioner/pkg/poll"
	"github.com/vyvo/compute/provisioner/pkg/resourcegraph"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeplatform.Platform, *FileJournal) {
	t.Helper()
	fake := fakeplatform.New()
	journal, err := NewFileJournal("")
	if err != nil {
		t.Fatalf("NewFileJournal returned error: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	o := NewOrchestrator(fake.Services(), journal, logger, Options{
		ResourceGroup:    "rg",
		Location:         "westus",
		OperationTimeout: 200 * time.Millisecond,
		PollInterval:     10 * time.Millisecond,
		JobTimeout:       200 * time.Millisecond,
		CaptureTimeout:   200 * time.Millisecond,
	})
	return o, fake, journal
}

func ubuntuRequest(name string) ProvisionRequest {
	return ProvisionRequest{
		Group: "g1",
		Name:  name,
		Image: resourcegraph.Marketplace("Canonical", "UbuntuServer", "16.04"),
	}
}

func countCalls(calls []string, prefix string) int {
	n := 0
	for _, c := range calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func TestProvisionCreatesDeployment(t *testing.T) {
	o, fake, journal := newTestOrchestrator(t)

	res, err := o.Provision(context.Background(), ubuntuRequest("g1-n1"))
	if err != nil {
		t.Fatalf("Provision returned error: %v", err)
	}
	if res.Node.ID != "g1-n1" || res.Node.Deployment == nil {
		t.Fatalf("unexpected node: %#v", res.Node)
	}
	if res.Token == "" {
		t.Fatalf("expected a provisioning token")
	}
	if res.Credentials.Username != DefaultLoginUser || res.Credentials.KeyAuth {
		t.Fatalf("unexpected credentials: %#v", res.Credentials)
	}
	if !strings.HasPrefix(res.Credentials.Password, "P") || !strings.HasSuffix(res.Credentials.Password, "!") {
		t.Fatalf("unexpected generated password %q", res.Credentials.Password)
	}
	for _, typ := range []string{
		platform.TypeStorageAccount,
		platform.TypePublicIPAddress,
		platform.TypeNetworkInterface,
		platform.TypeVirtualMachine,
	} {
		if !fake.Has(typ, "rg", nodeResourceName(typ, "g1-n1")) {
			t.Fatalf("expected %s to exist", typ)
		}
	}
	if !fake.Has(platform.TypeVirtualNetwork, "rg", "g1virtualnetwork") {
		t.Fatalf("expected shared virtual network")
	}

	events := journal.GetEvents("g1-n1")
	if len(events) != 2 || events[1].Status != NodeStatusReady {
		t.Fatalf("unexpected events: %#v", events)
	}
}

func nodeResourceName(typ, node string) string {
	switch typ {
	case platform.TypeStorageAccount:
		return resourcegraph.StorageAccountName(node)
	case platform.TypePublicIPAddress:
		return resourcegraph.PublicIPName(node)
	case platform.TypeNetworkInterface:
		return resourcegraph.NICName(node)
	}
	return node
}

func TestProvisionGeneratesNodeName(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	res, err := o.Provision(context.Background(), ubuntuRequest(""))
	if err != nil {
		t.Fatalf("Provision returned error: %v", err)
	}
	if !strings.HasPrefix(res.Node.ID, "g1-") || GroupFromNodeID(res.Node.ID) != "g1" {
		t.Fatalf("unexpected generated id %q", res.Node.ID)
	}
}

func TestProvisionKeyLogin(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	req := ubuntuRequest("g1-key")
	req.Login = resourcegraph.LoginOptions{User: "ops", PublicKey: testPublicKey}

	res, err := o.Provision(context.Background(), req)
	if err != nil {
		t.Fatalf("Provision returned error: %v", err)
	}
	if !res.Credentials.KeyAuth || res.Credentials.Password != "" || res.Credentials.Username != "ops" {
		t.Fatalf("unexpected credentials: %#v", res.Credentials)
	}
}

func TestProvisionCreatesResourceGroupOnce(t *testing.T) {
	o, fake, _ := newTestOrchestrator(t)

	for _, name := range []string{"g1-a", "g1-b"} {
		if _, err := o.Provision(context.Background(), ubuntuRequest(name)); err != nil {
			t.Fatalf("Provision(%s) returned error: %v", name, err)
		}
	}
	if n := countCalls(fake.Calls(), "groups.create"); n != 1 {
		t.Fatalf("expected one group create, got %d", n)
	}
}

func TestProvisionRetriesUntilDeploymentExists(t *testing.T) {
	o, fake, _ := newTestOrchestrator(t)
	fake.NilDeployments = 2

	if _, err := o.Provision(context.Background(), ubuntuRequest("g1-n1")); err != nil {
		t.Fatalf("Provision returned error: %v", err)
	}
	if n := countCalls(fake.Calls(), "deployments.create"); n != 3 {
		t.Fatalf("expected 3 create attempts, got %d", n)
	}
}

func TestProvisionRetriesTransientErrors(t *testing.T) {
	o, fake, _ := newTestOrchestrator(t)
	fake.FailNext("deployments.create", fmt.Errorf("throttled: %w", platform.ErrTransient))

	if _, err := o.Provision(context.Background(), ubuntuRequest("g1-n1")); err != nil {
		t.Fatalf("Provision returned error: %v", err)
	}
}

func TestProvisionTimeout(t *testing.T) {
	o, fake, journal := newTestOrchestrator(t)
	fake.NilDeployments = 1 << 30

	start := time.Now()
	_, err := o.Provision(context.Background(), ubuntuRequest("g1-n1"))
	var timeoutErr *DeploymentTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected DeploymentTimeoutError, got %v", err)
	}
	if timeoutErr.Deployment != "g1-n1" || !errors.Is(err, poll.ErrTimeout) {
		t.Fatalf("unexpected timeout error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout took too long: %s", elapsed)
	}
	for _, c := range fake.Calls() {
		if strings.Contains(c, ".delete") {
			t.Fatalf("no cleanup expected after timeout, saw %q", c)
		}
	}
	events := journal.GetEvents("g1-n1")
	if len(events) == 0 || events[len(events)-1].Status != NodeStatusError {
		t.Fatalf("expected error event, got %#v", events)
	}
}

func TestProvisionPermanentErrorIsNotRetried(t *testing.T) {
	o, fake, _ := newTestOrchestrator(t)
	fake.FailNext("deployments.create", errors.New("InvalidTemplate"))

	_, err := o.Provision(context.Background(), ubuntuRequest("g1-n1"))
	if err == nil || !strings.Contains(err.Error(), "InvalidTemplate") {
		t.Fatalf("expected template error, got %v", err)
	}
	var timeoutErr *DeploymentTimeoutError
	if errors.As(err, &timeoutErr) {
		t.Fatalf("permanent error must not be reported as a timeout")
	}
	if n := countCalls(fake.Calls(), "deployments.create"); n != 1 {
		t.Fatalf("expected a single attempt, got %d", n)
	}
}

func TestProvisionRejectsInvalidRequest(t *testing.T) {
	o, fake, _ := newTestOrchestrator(t)
	req := ubuntuRequest("g1-n1")
	req.Image = resourcegraph.ImageSelection{}

	if _, err := o.Provision(context.Background(), req); !errors.Is(err, resourcegraph.ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
	if len(fake.Calls()) != 0 {
		t.Fatalf("no platform calls expected, got %v", fake.Calls())
	}
}

func TestConcurrentProvisionsUseDistinctTokens(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	const n = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		tokens = make(map[string]bool)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := o.Provision(context.Background(), ubuntuRequest(fmt.Sprintf("g1-n%d", i)))
			if err != nil {
				t.Errorf("Provision returned error: %v", err)
				return
			}
			mu.Lock()
			tokens[res.Token] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	if len(tokens) != n {
		t.Fatalf("expected %d distinct tokens, got %d", n, len(tokens))
	}
}

const testPublicKey = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIOMqqnkVzrm0SdG6UOoqKLsabgH5C9okWi0dh2l9GKJl ops@example"
