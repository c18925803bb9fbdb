package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"

	"github.com/vyvo/compute/provisioner/pkg/platform"
	"github.com/vyvo/compute/provisioner/pkg/poll"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   string
}

type armServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

func newARMServer(t *testing.T, handler http.HandlerFunc) *armServer {
	t.Helper()
	s := recordingServer(handler)
	s.Start()
	t.Cleanup(s.Close)
	return s
}

// newTLSARMServer serves over https, which bearer token authentication requires.
func newTLSARMServer(t *testing.T, handler http.HandlerFunc) *armServer {
	t.Helper()
	s := recordingServer(handler)
	s.StartTLS()
	t.Cleanup(s.Close)
	return s
}

func recordingServer(handler http.HandlerFunc) *armServer {
	s := &armServer{}
	s.Server = httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
		s.mu.Lock()
		s.requests = append(s.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Auth:   r.Header.Get("Authorization"),
			Body:   string(body),
		})
		s.mu.Unlock()
		handler(w, r)
	}))
	return s
}

func (s *armServer) last() recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

func newTestPlatform(s *armServer) platform.Platform {
	return NewPlatform(NewClient(Config{BaseURL: s.URL, SubscriptionID: "sub1", Token: "tok"}))
}

func TestGroupGetAndCreate(t *testing.T) {
	srv := newARMServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"/subscriptions/sub1/resourceGroups/rg","name":"rg","location":"westus"}`))
		}
	})
	p := newTestPlatform(srv)

	g, err := p.Groups.Get(context.Background(), "rg")
	if err != nil || g != nil {
		t.Fatalf("expected absent group, got %#v %v", g, err)
	}
	g, err = p.Groups.Create(context.Background(), "rg", "westus", map[string]string{"description": "x"})
	if err != nil || g.Name != "rg" {
		t.Fatalf("unexpected create result: %#v %v", g, err)
	}

	req := srv.last()
	if req.Path != "/subscriptions/sub1/resourcegroups/rg" || req.Query != "api-version=2015-01-01" {
		t.Fatalf("unexpected request: %#v", req)
	}
	if req.Auth != "Bearer tok" {
		t.Fatalf("missing bearer token: %q", req.Auth)
	}
	if !strings.Contains(req.Body, `"location":"westus"`) {
		t.Fatalf("unexpected body: %s", req.Body)
	}
}

func TestDeploymentCreateSendsBody(t *testing.T) {
	srv := newARMServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"d1","name":"g1-n1","properties":{"provisioningState":"Accepted"}}`))
	})
	p := newTestPlatform(srv)

	body := []byte(`{"properties":{"mode":"Incremental"}}`)
	d, err := p.Deployments.Create(context.Background(), "rg", "g1-n1", body)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if d.Name != "g1-n1" || d.Properties.ProvisioningState != "Accepted" {
		t.Fatalf("unexpected deployment: %#v", d)
	}
	req := srv.last()
	if req.Method != http.MethodPut || req.Path != "/subscriptions/sub1/resourcegroups/rg/providers/Microsoft.Resources/deployments/g1-n1" {
		t.Fatalf("unexpected request: %#v", req)
	}
	if req.Body != string(body) {
		t.Fatalf("body was not passed through: %s", req.Body)
	}
}

func TestDeploymentListFollowsNextLink(t *testing.T) {
	var srv *armServer
	srv = newARMServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			_, _ = w.Write([]byte(`{"value":[{"name":"g1-n2"}]}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value":    []map[string]string{{"name": "g1-n1"}},
			"nextLink": srv.URL + r.URL.Path + "?api-version=2015-01-01&page=2",
		})
	})
	p := newTestPlatform(srv)

	list, err := p.Deployments.List(context.Background(), "rg")
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(list) != 2 || list[0].Name != "g1-n1" || list[1].Name != "g1-n2" {
		t.Fatalf("unexpected deployments: %#v", list)
	}
}

func TestDeleteReturnsJobHandle(t *testing.T) {
	srv := newARMServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://management.azure.com/operations/op1")
		w.WriteHeader(http.StatusAccepted)
	})
	p := newTestPlatform(srv)

	h, err := p.VirtualMachines.Delete(context.Background(), "rg", "g1-n1")
	if err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if h == nil || h.Endpoint != "https://management.azure.com/operations/op1" || h.Kind != platform.JobKindVMDelete {
		t.Fatalf("unexpected handle: %#v", h)
	}
	if req := srv.last(); req.Method != http.MethodDelete || req.Query != "api-version=2015-06-15" {
		t.Fatalf("unexpected request: %#v", req)
	}
}

func TestDeleteOfAbsentResourceHasNoHandle(t *testing.T) {
	srv := newARMServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	p := newTestPlatform(srv)

	h, err := p.Interfaces.Delete(context.Background(), "rg", "g1-n1nic")
	if err != nil || h != nil {
		t.Fatalf("expected no handle and no error, got %#v %v", h, err)
	}
	if err := p.PublicIPs.Delete(context.Background(), "rg", "g1-n1publicip"); err != nil {
		t.Fatalf("PublicIPs.Delete returned error: %v", err)
	}
}

func TestJobStatusMapping(t *testing.T) {
	codes := map[string]int{
		"/running":  http.StatusAccepted,
		"/done":     http.StatusOK,
		"/empty":    http.StatusNoContent,
		"/conflict": http.StatusConflict,
	}
	srv := newARMServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(codes[r.URL.Path])
	})
	p := newTestPlatform(srv)

	want := map[string]platform.JobStatus{
		"/running":  platform.JobStatusRunning,
		"/done":     platform.JobStatusDone,
		"/empty":    platform.JobStatusNoContent,
		"/conflict": platform.JobStatusFailed,
	}
	for path, status := range want {
		got, err := p.Jobs.Status(context.Background(), platform.JobHandle{Endpoint: srv.URL + path})
		if err != nil || got != status {
			t.Fatalf("%s: got %s %v, want %s", path, got, err, status)
		}
	}
}

func TestThrottlingIsRetryable(t *testing.T) {
	srv := newARMServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":"TooManyRequests"}}`))
	})
	p := newTestPlatform(srv)

	_, err := p.Jobs.Status(context.Background(), platform.JobHandle{Endpoint: srv.URL + "/op"})
	var respErr *ResponseError
	if !errors.As(err, &respErr) || respErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected ResponseError, got %v", err)
	}
	if !poll.IsRetryable(err) {
		t.Fatalf("throttling should be retryable")
	}

	_, err = p.Deployments.Create(context.Background(), "rg", "g1-n1", []byte(`{}`))
	if !poll.IsRetryable(err) {
		t.Fatalf("throttled create should be retryable: %v", err)
	}
}

func TestBadRequestIsNotRetryable(t *testing.T) {
	srv := newARMServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"InvalidTemplate"}}`))
	})
	p := newTestPlatform(srv)

	_, err := p.Deployments.Create(context.Background(), "rg", "g1-n1", []byte(`{}`))
	if err == nil || poll.IsRetryable(err) || !strings.Contains(err.Error(), "InvalidTemplate") {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestInstanceDetailsAndPowerActions(t *testing.T) {
	srv := newARMServer(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/instanceView") {
			_, _ = w.Write([]byte(`{"computerName":"g1-n1pc","statuses":[{"code":"ProvisioningState/succeeded"},{"code":"PowerState/running"}]}`))
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	p := newTestPlatform(srv)

	d, err := p.VirtualMachines.InstanceDetails(context.Background(), "rg", "g1-n1")
	if err != nil || d.PowerState() != "running" {
		t.Fatalf("unexpected details: %#v %v", d, err)
	}
	if err := p.VirtualMachines.Stop(context.Background(), "rg", "g1-n1"); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if req := srv.last(); req.Method != http.MethodPost || !strings.HasSuffix(req.Path, "/virtualMachines/g1-n1/powerOff") {
		t.Fatalf("unexpected request: %#v", req)
	}
}

func TestCaptureOutput(t *testing.T) {
	srv := newARMServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if !strings.Contains(readBody(r), `"destinationContainerName":"vhdsnew"`) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Header().Set("Location", "http://"+r.Host+"/operations/capture1")
			w.WriteHeader(http.StatusAccepted)
			return
		}
		_, _ = w.Write([]byte(`{"properties":{"output":{"resources":[{"properties":{"storageProfile":{
			"osDisk":{"image":{"uri":"https://acct.blob.core.windows.net/system/Microsoft.Compute/Images/vhdsnew/golden-osDisk.abc.vhd"}},
			"dataDisks":[{"image":{"uri":"https://acct.blob.core.windows.net/system/Microsoft.Compute/Images/vhdsnew/golden-dataDisk-0.abc.vhd"}}]}}}]}}}`))
	})
	p := newTestPlatform(srv)

	h, err := p.VirtualMachines.Capture(context.Background(), "rg", "g1-n1", "golden", "vhdsnew")
	if err != nil || h == nil || h.Kind != platform.JobKindCapture {
		t.Fatalf("unexpected capture handle: %#v %v", h, err)
	}
	out, err := p.Jobs.CaptureOutput(context.Background(), *h)
	if err != nil {
		t.Fatalf("CaptureOutput returned error: %v", err)
	}
	if out.OSDiskName != "golden-osDisk.abc.vhd" || len(out.DataDiskNames) != 1 {
		t.Fatalf("unexpected capture output: %#v", out)
	}
}

func readBody(r *http.Request) string {
	b, _ := io.ReadAll(r.Body)
	return string(b)
}

type testCredential struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *testCredential) GetToken(context.Context, policy.TokenRequestOptions) (azcore.AccessToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return azcore.AccessToken{}, c.err
	}
	return azcore.AccessToken{Token: "issued", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func TestCredentialErrorsStopRequest(t *testing.T) {
	srv := newTLSARMServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("request must not be sent without a token")
	})
	cred := &testCredential{err: errors.New("no credential")}
	p := NewPlatform(NewClient(Config{BaseURL: srv.URL, SubscriptionID: "sub1", Credential: cred, Transport: srv.Client()}))

	if _, err := p.Groups.Get(context.Background(), "rg"); err == nil || !strings.Contains(err.Error(), "no credential") {
		t.Fatalf("expected token error, got %v", err)
	}
}

func TestCredentialTokenIsReused(t *testing.T) {
	srv := newTLSARMServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	cred := &testCredential{}
	p := NewPlatform(NewClient(Config{BaseURL: srv.URL, SubscriptionID: "sub1", Credential: cred, Transport: srv.Client()}))

	for i := 0; i < 3; i++ {
		if _, err := p.Groups.Get(context.Background(), "rg"); err != nil {
			t.Fatalf("Groups.Get returned error: %v", err)
		}
	}
	if got := srv.last().Auth; got != "Bearer issued" {
		t.Fatalf("unexpected authorization header %q", got)
	}
	cred.mu.Lock()
	defer cred.mu.Unlock()
	if cred.calls != 1 {
		t.Fatalf("expected one token request, got %d", cred.calls)
	}
}

func TestThrottledRequestIsSentOnce(t *testing.T) {
	srv := newARMServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	p := newTestPlatform(srv)

	if _, err := p.Groups.Get(context.Background(), "rg"); !poll.IsRetryable(err) {
		t.Fatalf("expected a retryable error, got %v", err)
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.requests) != 1 {
		t.Fatalf("the client must leave retries to the poller, got %d requests", len(srv.requests))
	}
}
