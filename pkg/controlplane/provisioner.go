package controlplane

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyvo/compute/provisioner/pkg/platform"
	"github.com/vyvo/compute/provisioner/pkg/poll"
	"github.com/vyvo/compute/provisioner/pkg/resourcegraph"
)

const (
	// DefaultJobTimeout bounds each VM and NIC deletion job.
	DefaultJobTimeout = 10 * time.Minute
	// DefaultCaptureTimeout bounds image capture confirmation.
	DefaultCaptureTimeout = 15 * time.Second
	DefaultLoginUser      = "azureuser"
)

var groupTags = map[string]string{"description": "managed compute nodes"}

type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures an Orchestrator. ResourceGroup is the platform resource
// group every deployment is submitted to.
type Options struct {
	ResourceGroup    string
	Location         string
	OperationTimeout time.Duration
	PollInterval     time.Duration
	JobTimeout       time.Duration
	CaptureTimeout   time.Duration
	LoginUser        string
	VMSize           string
}

func (o Options) withDefaults() Options {
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = 10 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = DefaultJobTimeout
	}
	if o.CaptureTimeout <= 0 {
		o.CaptureTimeout = DefaultCaptureTimeout
	}
	if o.LoginUser == "" {
		o.LoginUser = DefaultLoginUser
	}
	return o
}

// Orchestrator provisions, inspects and tears down nodes. Each call runs its
// platform steps sequentially; separate calls share no mutable state.
type Orchestrator struct {
	platform platform.Platform
	builder  *resourcegraph.Builder
	journal  Journal
	logger   Logger
	tracer   trace.Tracer
	opts     Options
}

func NewOrchestrator(p platform.Platform, journal Journal, logger Logger, opts Options) *Orchestrator {
	return &Orchestrator{
		platform: p,
		builder:  resourcegraph.NewBuilder(),
		journal:  journal,
		logger:   logger,
		tracer:   otel.Tracer("github.com/vyvo/compute/provisioner/pkg/controlplane"),
		opts:     opts.withDefaults(),
	}
}

// Provision builds the node's resource graph, submits it as one deployment and
// waits for the platform to confirm it. It does not remove resources left
// behind by a failed or timed-out deployment.
func (o *Orchestrator) Provision(ctx context.Context, req ProvisionRequest) (*ProvisionResult, error) {
	token := uuid.NewString()
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = fmt.Sprintf("%s-%s", req.Group, token[:8])
	}

	ctx, span := o.tracer.Start(ctx, "controlplane.Provision", trace.WithAttributes(
		attribute.String("node.id", name),
		attribute.String("node.group", req.Group),
		attribute.String("provision.token", token),
	))
	defer span.End()

	creds, login := o.credentials(req.Login)
	location := req.Location
	if location == "" {
		location = o.opts.Location
	}
	vmSize := req.VMSize
	if vmSize == "" {
		vmSize = o.opts.VMSize
	}

	graph, err := o.builder.Build(resourcegraph.Input{
		Group:    req.Group,
		Name:     name,
		Location: location,
		VMSize:   vmSize,
		Image:    req.Image,
		Login:    login,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("build resource graph for %s: %w", name, err)
	}
	body, err := graph.DeploymentBody()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("render deployment for %s: %w", name, err)
	}

	o.logger.Info("submitting deployment", "node", name, "token", token, "resources", len(graph.Resources))
	o.journal.AppendEvent(name, NodeStatusProvisioning, "Submitting deployment "+token)

	var deployment *platform.Deployment
	poller := poll.Poller{Timeout: o.opts.OperationTimeout, Interval: o.opts.PollInterval, Logger: o.logger}
	_, err = poller.Until(ctx, func(ctx context.Context) (bool, error) {
		group, err := o.ensureResourceGroup(ctx, location)
		if err != nil {
			return false, err
		}
		d, err := o.platform.Deployments.Create(ctx, group, name, body)
		if err != nil {
			return false, err
		}
		if d == nil {
			o.logger.Info("deployment not created yet", "node", name, "token", token)
			return false, nil
		}
		deployment = d
		return true, nil
	})
	if err != nil {
		if errors.Is(err, poll.ErrTimeout) {
			err = &DeploymentTimeoutError{Deployment: name, Timeout: o.opts.OperationTimeout, Err: err}
		} else {
			err = fmt.Errorf("provision %s: %w", name, err)
		}
		o.fail(name, err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	o.journal.AppendEvent(name, NodeStatusReady, "Deployment created")
	o.logger.Info("deployment created", "node", name, "token", token, "deployment", deployment.ID)

	return &ProvisionResult{
		Node: &NodeRecord{
			ID:         name,
			Group:      req.Group,
			Deployment: deployment,
		},
		Credentials: creds,
		Token:       token,
	}, nil
}

// ensureResourceGroup returns the configured group, creating it on first miss.
// Concurrent creators rely on the platform's create-if-absent semantics.
func (o *Orchestrator) ensureResourceGroup(ctx context.Context, location string) (string, error) {
	group, err := o.platform.Groups.Get(ctx, o.opts.ResourceGroup)
	if err != nil {
		return "", fmt.Errorf("get resource group %s: %w", o.opts.ResourceGroup, err)
	}
	if group != nil {
		return group.Name, nil
	}
	group, err = o.platform.Groups.Create(ctx, o.opts.ResourceGroup, location, groupTags)
	if err != nil {
		return "", fmt.Errorf("create resource group %s: %w", o.opts.ResourceGroup, err)
	}
	o.logger.Info("created resource group", "group", group.Name, "location", location)
	return group.Name, nil
}

func (o *Orchestrator) credentials(login resourcegraph.LoginOptions) (Credentials, resourcegraph.LoginOptions) {
	if login.User == "" {
		login.User = o.opts.LoginUser
	}
	if login.UsesKey() {
		login.Password = ""
		return Credentials{Username: login.User, KeyAuth: true}, login
	}
	if login.Password == "" {
		login.Password = generatePassword()
	}
	return Credentials{Username: login.User, Password: login.Password}, login
}

// generatePassword satisfies the platform's complexity rule of three
// character classes: upper case, special and hex lower case or digits.
func generatePassword() string {
	return "P" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20] + "!"
}

func (o *Orchestrator) fail(nodeID string, err error) {
	o.logger.Error("provision failed", "node", nodeID, "error", err)
	o.journal.AppendEvent(nodeID, NodeStatusError, err.Error())
}
