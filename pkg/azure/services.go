package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"

	"github.com/vyvo/compute/provisioner/pkg/platform"
)

const (
	providerDeployments = "Microsoft.Resources/deployments"
	providerVMs         = "Microsoft.Compute/virtualMachines"
	providerNICs        = "Microsoft.Network/networkInterfaces"
	providerPublicIPs   = "Microsoft.Network/publicIPAddresses"
	providerNetworks    = "Microsoft.Network/virtualNetworks"
	providerStorage     = "Microsoft.Storage/storageAccounts"
)

// NewPlatform exposes c through the platform service interfaces.
func NewPlatform(c *Client) platform.Platform {
	return platform.Platform{
		Groups:          groupService{c},
		Deployments:     deploymentService{c},
		VirtualMachines: vmService{c},
		Interfaces:      nicService{c},
		PublicIPs:       publicIPService{c},
		Networks:        networkService{c},
		StorageAccounts: storageService{c},
		Jobs:            jobService{c},
	}
}

type groupService struct{ c *Client }

func (s groupService) Get(ctx context.Context, name string) (*platform.ResourceGroup, error) {
	var g platform.ResourceGroup
	found, err := s.c.get(ctx, s.c.endpoint(s.c.groupPath(name), resourcesAPIVersion), &g)
	if err != nil || !found {
		return nil, err
	}
	return &g, nil
}

func (s groupService) Create(ctx context.Context, name, location string, tags map[string]string) (*platform.ResourceGroup, error) {
	body := struct {
		Location string            `json:"location"`
		Tags     map[string]string `json:"tags,omitempty"`
	}{location, tags}
	var g platform.ResourceGroup
	if err := s.c.put(ctx, s.c.endpoint(s.c.groupPath(name), resourcesAPIVersion), body, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

type deploymentService struct{ c *Client }

func (s deploymentService) url(group, name string) string {
	return s.c.endpoint(s.c.providerPath(group, providerDeployments, name), resourcesAPIVersion)
}

func (s deploymentService) Create(ctx context.Context, group, name string, body []byte) (*platform.Deployment, error) {
	var d platform.Deployment
	if err := s.c.put(ctx, s.url(group, name), body, &d); err != nil {
		return nil, err
	}
	if d.Name == "" {
		return nil, nil
	}
	return &d, nil
}

func (s deploymentService) Get(ctx context.Context, group, name string) (*platform.Deployment, error) {
	var d platform.Deployment
	found, err := s.c.get(ctx, s.url(group, name), &d)
	if err != nil || !found {
		return nil, err
	}
	return &d, nil
}

func (s deploymentService) List(ctx context.Context, group string) ([]platform.Deployment, error) {
	var page struct {
		Value    []platform.Deployment `json:"value"`
		NextLink string                `json:"nextLink"`
	}
	endpoint := s.c.endpoint(s.c.groupPath(group)+"/providers/"+providerDeployments, resourcesAPIVersion)
	var out []platform.Deployment
	for endpoint != "" {
		page.Value, page.NextLink = nil, ""
		found, err := s.c.get(ctx, endpoint, &page)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, nil
		}
		out = append(out, page.Value...)
		endpoint = page.NextLink
	}
	return out, nil
}

func (s deploymentService) Delete(ctx context.Context, group, name string) error {
	_, err := s.c.mutate(ctx, http.MethodDelete, s.url(group, name), nil, "")
	return err
}

type vmService struct{ c *Client }

func (s vmService) url(group, name, action string) string {
	p := s.c.providerPath(group, providerVMs, name)
	if action != "" {
		p += "/" + action
	}
	return s.c.endpoint(p, computeAPIVersion)
}

func (s vmService) Delete(ctx context.Context, group, name string) (*platform.JobHandle, error) {
	return s.c.mutate(ctx, http.MethodDelete, s.url(group, name, ""), nil, platform.JobKindVMDelete)
}

func (s vmService) action(ctx context.Context, group, name, action string) error {
	_, err := s.c.mutate(ctx, http.MethodPost, s.url(group, name, action), nil, "")
	return err
}

func (s vmService) Restart(ctx context.Context, group, name string) error {
	return s.action(ctx, group, name, "restart")
}

func (s vmService) Start(ctx context.Context, group, name string) error {
	return s.action(ctx, group, name, "start")
}

func (s vmService) Stop(ctx context.Context, group, name string) error {
	return s.action(ctx, group, name, "powerOff")
}

func (s vmService) Generalize(ctx context.Context, group, name string) error {
	return s.action(ctx, group, name, "generalize")
}

func (s vmService) Capture(ctx context.Context, group, name, vhdPrefix, container string) (*platform.JobHandle, error) {
	body := map[string]any{
		"vhdPrefix":                vhdPrefix,
		"destinationContainerName": container,
		"overwriteVhds":            true,
	}
	return s.c.mutate(ctx, http.MethodPost, s.url(group, name, "capture"), body, platform.JobKindCapture)
}

func (s vmService) InstanceDetails(ctx context.Context, group, name string) (*platform.VMDetails, error) {
	var d platform.VMDetails
	found, err := s.c.get(ctx, s.url(group, name, "instanceView"), &d)
	if err != nil || !found {
		return nil, err
	}
	return &d, nil
}

type nicService struct{ c *Client }

func (s nicService) Delete(ctx context.Context, group, name string) (*platform.JobHandle, error) {
	endpoint := s.c.endpoint(s.c.providerPath(group, providerNICs, name), computeAPIVersion)
	return s.c.mutate(ctx, http.MethodDelete, endpoint, nil, platform.JobKindNICDelete)
}

type publicIPService struct{ c *Client }

func (s publicIPService) url(group, name string) string {
	return s.c.endpoint(s.c.providerPath(group, providerPublicIPs, name), computeAPIVersion)
}

func (s publicIPService) Delete(ctx context.Context, group, name string) error {
	_, err := s.c.mutate(ctx, http.MethodDelete, s.url(group, name), nil, "")
	return err
}

func (s publicIPService) Get(ctx context.Context, group, name string) (*platform.PublicIPAddress, error) {
	var ip platform.PublicIPAddress
	found, err := s.c.get(ctx, s.url(group, name), &ip)
	if err != nil || !found {
		return nil, err
	}
	return &ip, nil
}

type networkService struct{ c *Client }

func (s networkService) Delete(ctx context.Context, group, name string) error {
	endpoint := s.c.endpoint(s.c.providerPath(group, providerNetworks, name), computeAPIVersion)
	_, err := s.c.mutate(ctx, http.MethodDelete, endpoint, nil, "")
	return err
}

type storageService struct{ c *Client }

func (s storageService) Delete(ctx context.Context, group, name string) error {
	endpoint := s.c.endpoint(s.c.providerPath(group, providerStorage, name), computeAPIVersion)
	_, err := s.c.mutate(ctx, http.MethodDelete, endpoint, nil, "")
	return err
}

type jobService struct{ c *Client }

// Status maps the operation endpoint's status code: 202 is still running,
// 200 is done, 204 means the job left nothing to report.
func (s jobService) Status(ctx context.Context, handle platform.JobHandle) (platform.JobStatus, error) {
	resp, err := s.c.do(ctx, http.MethodGet, handle.Endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", platform.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusAccepted:
		return platform.JobStatusRunning, nil
	case resp.StatusCode == http.StatusOK:
		return platform.JobStatusDone, nil
	case resp.StatusCode == http.StatusNoContent:
		return platform.JobStatusNoContent, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", responseError(resp)
	default:
		return platform.JobStatusFailed, nil
	}
}

type captureResult struct {
	Resources []struct {
		Properties struct {
			StorageProfile struct {
				OSDisk struct {
					Image struct {
						URI string `json:"uri"`
					} `json:"image"`
				} `json:"osDisk"`
				DataDisks []struct {
					Image struct {
						URI string `json:"uri"`
					} `json:"image"`
				} `json:"dataDisks"`
			} `json:"storageProfile"`
		} `json:"properties"`
	} `json:"resources"`
}

// CaptureOutput reads the template the capture job produced and returns the
// blob names of the captured disks.
func (s jobService) CaptureOutput(ctx context.Context, handle platform.JobHandle) (*platform.CaptureOutput, error) {
	var body struct {
		Properties struct {
			Output json.RawMessage `json:"output"`
		} `json:"properties"`
	}
	found, err := s.c.get(ctx, handle.Endpoint, &body)
	if err != nil || !found || len(body.Properties.Output) == 0 {
		return nil, err
	}
	var result captureResult
	if err := json.Unmarshal(body.Properties.Output, &result); err != nil {
		return nil, fmt.Errorf("decode capture output: %w", err)
	}
	if len(result.Resources) == 0 {
		return nil, nil
	}
	profile := result.Resources[0].Properties.StorageProfile
	out := &platform.CaptureOutput{}
	if uri := profile.OSDisk.Image.URI; uri != "" {
		out.OSDiskName = path.Base(uri)
	}
	for _, d := range profile.DataDisks {
		if d.Image.URI != "" {
			out.DataDiskNames = append(out.DataDiskNames, path.Base(d.Image.URI))
		}
	}
	return out, nil
}
