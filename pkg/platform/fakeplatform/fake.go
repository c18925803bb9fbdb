// Package fakeplatform is an in-memory platform that materializes submitted
// deployment templates, for tests and dry runs.
package fakeplatform

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vyvo/compute/provisioner/pkg/armtemplate"
	"github.com/vyvo/compute/provisioner/pkg/platform"
)

type resourceKey struct {
	group string
	name  string
}

type job struct {
	kind     platform.JobKind
	statuses []platform.JobStatus
	output   *platform.CaptureOutput
}

// Platform holds resource state keyed by group and name.
type Platform struct {
	mu sync.Mutex

	groups      map[string]*platform.ResourceGroup
	deployments map[resourceKey]*platform.Deployment
	resources   map[string]map[resourceKey]bool
	publicIPs   map[resourceKey]*platform.PublicIPAddress
	vmStates    map[resourceKey]string
	jobs        map[string]*job
	failures    map[string][]error
	calls       []string

	// NilDeployments makes the next N deployment creates return no record.
	NilDeployments int
	// JobStatuses scripts the statuses reported for new jobs of a kind; the last entry repeats.
	JobStatuses map[platform.JobKind][]platform.JobStatus
}

// New returns an empty platform.
func New() *Platform {
	return &Platform{
		groups:      make(map[string]*platform.ResourceGroup),
		deployments: make(map[resourceKey]*platform.Deployment),
		resources:   make(map[string]map[resourceKey]bool),
		publicIPs:   make(map[resourceKey]*platform.PublicIPAddress),
		vmStates:    make(map[resourceKey]string),
		jobs:        make(map[string]*job),
		failures:    make(map[string][]error),
		JobStatuses: make(map[platform.JobKind][]platform.JobStatus),
	}
}

// Services exposes the fake through the collaborator interfaces.
func (p *Platform) Services() platform.Platform {
	return platform.Platform{
		Groups:          groupService{p},
		Deployments:     deploymentService{p},
		VirtualMachines: vmService{p},
		Interfaces:      nicService{p},
		PublicIPs:       publicIPService{p},
		Networks:        networkService{p},
		StorageAccounts: storageService{p},
		Jobs:            jobService{p},
	}
}

// FailNext queues err to be returned by the next call of op, e.g. "deployments.create".
func (p *Platform) FailNext(op string, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op] = append(p.failures[op], errs...)
}

// Calls returns the operations invoked so far, as "op group/name".
func (p *Platform) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Has reports whether a resource of type typ exists.
func (p *Platform) Has(typ, group, name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resources[typ][resourceKey{group, name}]
}

// PowerState returns the last power state set on a VM.
func (p *Platform) PowerState(group, name string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vmStates[resourceKey{group, name}]
}

func (p *Platform) record(op, group, name string) error {
	p.calls = append(p.calls, fmt.Sprintf("%s %s/%s", op, group, name))
	if queued := p.failures[op]; len(queued) > 0 {
		p.failures[op] = queued[1:]
		return queued[0]
	}
	return nil
}

func (p *Platform) add(typ, group, name string) {
	if p.resources[typ] == nil {
		p.resources[typ] = make(map[resourceKey]bool)
	}
	p.resources[typ][resourceKey{group, name}] = true
}

func (p *Platform) remove(typ, group, name string) bool {
	k := resourceKey{group, name}
	if !p.resources[typ][k] {
		return false
	}
	delete(p.resources[typ], k)
	return true
}

func (p *Platform) newJob(kind platform.JobKind) *platform.JobHandle {
	endpoint := "https://fake.local/operations/" + uuid.NewString()
	statuses := p.JobStatuses[kind]
	if len(statuses) == 0 {
		statuses = []platform.JobStatus{platform.JobStatusDone}
	}
	p.jobs[endpoint] = &job{kind: kind, statuses: append([]platform.JobStatus(nil), statuses...)}
	return &platform.JobHandle{Endpoint: endpoint, Kind: kind}
}

type groupService struct{ p *Platform }

func (s groupService) Get(_ context.Context, name string) (*platform.ResourceGroup, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if err := s.p.record("groups.get", name, ""); err != nil {
		return nil, err
	}
	g, ok := s.p.groups[name]
	if !ok {
		return nil, nil
	}
	copyGroup := *g
	return &copyGroup, nil
}

func (s groupService) Create(_ context.Context, name, location string, tags map[string]string) (*platform.ResourceGroup, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if err := s.p.record("groups.create", name, ""); err != nil {
		return nil, err
	}
	if g, ok := s.p.groups[name]; ok {
		copyGroup := *g
		return &copyGroup, nil
	}
	g := &platform.ResourceGroup{
		ID:       "/subscriptions/fake/resourceGroups/" + name,
		Name:     name,
		Location: location,
		Tags:     tags,
	}
	s.p.groups[name] = g
	copyGroup := *g
	return &copyGroup, nil
}

type deploymentService struct{ p *Platform }

func (s deploymentService) Create(_ context.Context, group, name string, body []byte) (*platform.Deployment, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if err := s.p.record("deployments.create", group, name); err != nil {
		return nil, err
	}
	if _, ok := s.p.groups[group]; !ok {
		return nil, fmt.Errorf("resource group %s not found", group)
	}
	if s.p.NilDeployments > 0 {
		s.p.NilDeployments--
		return nil, nil
	}
	parsed, err := armtemplate.ParseDeploymentBody(body)
	if err != nil {
		return nil, err
	}
	tmpl := parsed.Properties.Template

	resolve := func(expr string) string {
		refs := armtemplate.References(expr)
		if len(refs) == 0 {
			return expr
		}
		return tmpl.Variables[refs[len(refs)-1]]
	}

	var deps []platform.Dependency
	for _, r := range tmpl.Resources {
		resName := resolve(r.Name)
		s.p.add(r.Type, group, resName)
		if r.Type == platform.TypePublicIPAddress {
			s.p.publicIPs[resourceKey{group, resName}] = &platform.PublicIPAddress{
				ID:       fmt.Sprintf("/subscriptions/fake/resourceGroups/%s/providers/%s/%s", group, r.Type, resName),
				Name:     resName,
				Location: r.Location,
				Properties: platform.PublicIPAddressProperties{
					ProvisioningState:        "Succeeded",
					IPAddress:                fmt.Sprintf("203.0.113.%d", len(s.p.publicIPs)+1),
					PublicIPAllocationMethod: "Dynamic",
				},
			}
		}
		if r.Type == platform.TypeVirtualMachine {
			s.p.vmStates[resourceKey{group, resName}] = "running"
		}
		if len(r.DependsOn) == 0 {
			continue
		}
		dep := platform.Dependency{ResourceType: r.Type, ResourceName: resName}
		for _, d := range r.DependsOn {
			dep.DependsOn = append(dep.DependsOn, platform.Dependency{ResourceType: dependencyType(d), ResourceName: resolve(d)})
		}
		deps = append(deps, dep)
	}

	now := time.Now().UTC()
	d := &platform.Deployment{
		ID:   fmt.Sprintf("/subscriptions/fake/resourceGroups/%s/providers/Microsoft.Resources/deployments/%s", group, name),
		Name: name,
		Properties: &platform.DeploymentProperties{
			ProvisioningState: "Succeeded",
			Timestamp:         &now,
			Mode:              parsed.Properties.Mode,
			Dependencies:      deps,
		},
	}
	s.p.deployments[resourceKey{group, name}] = d
	copyDeployment := *d
	return &copyDeployment, nil
}

func (s deploymentService) Get(_ context.Context, group, name string) (*platform.Deployment, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if err := s.p.record("deployments.get", group, name); err != nil {
		return nil, err
	}
	d, ok := s.p.deployments[resourceKey{group, name}]
	if !ok {
		return nil, nil
	}
	copyDeployment := *d
	return &copyDeployment, nil
}

func (s deploymentService) List(_ context.Context, group string) ([]platform.Deployment, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if err := s.p.record("deployments.list", group, ""); err != nil {
		return nil, err
	}
	var out []platform.Deployment
	for k, d := range s.p.deployments {
		if k.group == group {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s deploymentService) Delete(_ context.Context, group, name string) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if err := s.p.record("deployments.delete", group, name); err != nil {
		return err
	}
	delete(s.p.deployments, resourceKey{group, name})
	return nil
}

// dependencyType extracts the type from "[concat('<type>/', variables('<name>'))]".
func dependencyType(expr string) string {
	parts := strings.SplitN(expr, "'", 3)
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimSuffix(parts[1], "/")
}

type vmService struct{ p *Platform }

func (s vmService) Delete(_ context.Context, group, name string) (*platform.JobHandle, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if err := s.p.record("vms.delete", group, name); err != nil {
		return nil, err
	}
	if !s.p.remove(platform.TypeVirtualMachine, group, name) {
		return nil, nil
	}
	delete(s.p.vmStates, resourceKey{group, name})
	return s.p.newJob(platform.JobKindVMDelete), nil
}

func (s vmService) setState(op, group, name, state string) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if err := s.p.record(op, group, name); err != nil {
		return err
	}
	if !s.p.resources[platform.TypeVirtualMachine][resourceKey{group, name}] {
		return fmt.Errorf("virtual machine %s not found", name)
	}
	s.p.vmStates[resourceKey{group, name}] = state
	return nil
}

func (s vmService) Restart(_ context.Context, group, name string) error {
	return s.setState("vms.restart", group, name, "running")
}

func (s vmService) Start(_ context.Context, group, name string) error {
	return s.setState("vms.start", group, name, "running")
}

func (s vmService) Stop(_ context.Context, group, name string) error {
	return s.setState("vms.stop", group, name, "stopped")
}

func (s vmService) Generalize(_ context.Context, group, name string) error {
	return s.setState("vms.generalize", group, name, "generalized")
}

func (s vmService) Capture(_ context.Context, group, name, vhdPrefix, container string) (*platform.JobHandle, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if err := s.p.record("vms.capture", group, name); err != nil {
		return nil, err
	}
	if !s.p.resources[platform.TypeVirtualMachine][resourceKey{group, name}] {
		return nil, nil
	}
	h := s.p.newJob(platform.JobKindCapture)
	suffix := uuid.NewString()
	s.p.jobs[h.Endpoint].output = &platform.CaptureOutput{
		OSDiskName:    vhdPrefix + "-osDisk." + suffix + ".vhd",
		DataDiskNames: []string{vhdPrefix + "-dataDisk-0." + suffix + ".vhd"},
	}
	return h, nil
}

func (s vmService) InstanceDetails(_ context.Context, group, name string) (*platform.VMDetails, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if err := s.p.record("vms.instanceView", group, name); err != nil {
		return nil, err
	}
	state, ok := s.p.vmStates[resourceKey{group, name}]
	if !ok {
		return nil, nil
	}
	return &platform.VMDetails{
		ComputerName: name + "pc",
		Statuses: []platform.VMStatus{
			{Code: "ProvisioningState/succeeded"},
			{Code: "PowerState/" + state},
		},
	}, nil
}

type nicService struct{ p *Platform }

func (s nicService) Delete(_ context.Context, group, name string) (*platform.JobHandle, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if err := s.p.record("nics.delete", group, name); err != nil {
		return nil, err
	}
	if !s.p.remove(platform.TypeNetworkInterface, group, name) {
		return nil, nil
	}
	return s.p.newJob(platform.JobKindNICDelete), nil
}

type publicIPService struct{ p *Platform }

func (s publicIPService) Delete(_ context.Context, group, name string) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if err := s.p.record("publicips.delete", group, name); err != nil {
		return err
	}
	s.p.remove(platform.TypePublicIPAddress, group, name)
	delete(s.p.publicIPs, resourceKey{group, name})
	return nil
}

func (s publicIPService) Get(_ context.Context, group, name string) (*platform.PublicIPAddress, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if err := s.p.record("publicips.get", group, name); err != nil {
		return nil, err
	}
	ip, ok := s.p.publicIPs[resourceKey{group, name}]
	if !ok {
		return nil, nil
	}
	copyIP := *ip
	return &copyIP, nil
}

type networkService struct{ p *Platform }

func (s networkService) Delete(_ context.Context, group, name string) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if err := s.p.record("networks.delete", group, name); err != nil {
		return err
	}
	s.p.remove(platform.TypeVirtualNetwork, group, name)
	return nil
}

type storageService struct{ p *Platform }

func (s storageService) Delete(_ context.Context, group, name string) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if err := s.p.record("storage.delete", group, name); err != nil {
		return err
	}
	s.p.remove(platform.TypeStorageAccount, group, name)
	return nil
}

type jobService struct{ p *Platform }

func (s jobService) Status(_ context.Context, handle platform.JobHandle) (platform.JobStatus, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if err := s.p.record("jobs.status", string(handle.Kind), ""); err != nil {
		return "", err
	}
	j, ok := s.p.jobs[handle.Endpoint]
	if !ok {
		return platform.JobStatusNoContent, nil
	}
	status := j.statuses[0]
	if len(j.statuses) > 1 {
		j.statuses = j.statuses[1:]
	}
	return status, nil
}

func (s jobService) CaptureOutput(_ context.Context, handle platform.JobHandle) (*platform.CaptureOutput, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if err := s.p.record("jobs.captureOutput", string(handle.Kind), ""); err != nil {
		return nil, err
	}
	j, ok := s.p.jobs[handle.Endpoint]
	if !ok || j.output == nil {
		return nil, nil
	}
	out := *j.output
	return &out, nil
}
