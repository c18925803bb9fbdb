// Package azure implements the platform services against the Azure Resource
// Manager REST API.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"

	"github.com/vyvo/compute/provisioner/pkg/platform"
)

const (
	// DefaultBaseURL is the public cloud management endpoint.
	DefaultBaseURL = "https://management.azure.com"

	resourcesAPIVersion = "2015-01-01"
	computeAPIVersion   = "2015-06-15"

	moduleName    = "provisioner"
	moduleVersion = "v1.0.0"
)

// Config holds the connection settings for the management API. Requests are
// authorized with Credential when set, otherwise Token is sent as a static
// bearer token. Transport overrides the HTTP client, e.g. in tests.
type Config struct {
	BaseURL        string
	SubscriptionID string
	Token          string
	Credential     azcore.TokenCredential
	Timeout        time.Duration
	Transport      policy.Transporter
}

// Client issues authenticated requests against one subscription.
type Client struct {
	baseURL      string
	subscription string
	pipeline     runtime.Pipeline
}

// NewClient creates a management client with sane defaults. The pipeline does
// not retry; throttling and server errors surface as retryable ResponseErrors
// for the poller to handle.
func NewClient(cfg Config) *Client {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := cfg.Transport
	if transport == nil {
		transport = &http.Client{Timeout: timeout}
	}

	var perRetry []policy.Policy
	switch {
	case cfg.Credential != nil:
		perRetry = append(perRetry, runtime.NewBearerTokenPolicy(cfg.Credential, []string{managementScope}, nil))
	case cfg.Token != "":
		perRetry = append(perRetry, staticTokenPolicy(cfg.Token))
	}
	pipeline := runtime.NewPipeline(moduleName, moduleVersion, runtime.PipelineOptions{PerRetry: perRetry}, &policy.ClientOptions{
		Retry:     policy.RetryOptions{MaxRetries: -1},
		Transport: transport,
	})

	return &Client{
		baseURL:      base,
		subscription: cfg.SubscriptionID,
		pipeline:     pipeline,
	}
}

// ResponseError is returned for unexpected status codes.
type ResponseError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Retryable reports whether the platform asked the caller to try again.
func (e *ResponseError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func (c *Client) groupPath(group string) string {
	return fmt.Sprintf("/subscriptions/%s/resourcegroups/%s", url.PathEscape(c.subscription), url.PathEscape(group))
}

func (c *Client) providerPath(group, provider, name string) string {
	return fmt.Sprintf("%s/providers/%s/%s", c.groupPath(group), provider, url.PathEscape(name))
}

func (c *Client) endpoint(path, apiVersion string) string {
	return fmt.Sprintf("%s%s?api-version=%s", c.baseURL, path, apiVersion)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	var payload []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		payload = b
	default:
		var err error
		if payload, err = json.Marshal(b); err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", method, err)
		}
	}

	req, err := runtime.NewRequest(ctx, method, endpoint)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", method, err)
	}
	req.Raw().Header.Set("Accept", "application/json")
	if payload != nil {
		if err := req.SetBody(streaming.NopCloser(bytes.NewReader(payload)), "application/json"); err != nil {
			return nil, fmt.Errorf("set %s request body: %w", method, err)
		}
	}

	resp, err := c.pipeline.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	return resp, nil
}

func responseError(resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return &ResponseError{
		Method:     resp.Request.Method,
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(payload)),
	}
}

// get decodes a 200 response into out. It reports false on 404.
func (c *Client) get(ctx context.Context, endpoint string, out any) (bool, error) {
	resp, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, responseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return true, nil
}

// put sends body and decodes a 200 or 201 response into out.
func (c *Client) put(ctx context.Context, endpoint string, body, out any) error {
	resp, err := c.do(ctx, http.MethodPut, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return responseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

// mutate issues a DELETE or action POST. Absent resources succeed. When the
// platform accepts the request asynchronously the returned handle tracks it.
func (c *Client) mutate(ctx context.Context, method, endpoint string, body any, kind platform.JobKind) (*platform.JobHandle, error) {
	resp, err := c.do(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		location := resp.Header.Get("Location")
		if location == "" {
			location = resp.Header.Get("Azure-AsyncOperation")
		}
		if location == "" {
			return nil, nil
		}
		return &platform.JobHandle{Endpoint: location, Kind: kind}, nil
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil, nil
	default:
		return nil, responseError(resp)
	}
}
