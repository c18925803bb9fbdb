// Package bootstrap wires configuration into a ready Orchestrator for the
// provisioner binaries.
package bootstrap

import (
	"fmt"

	"github.com/vyvo/compute/provisioner/pkg/azure"
	"github.com/vyvo/compute/provisioner/pkg/config"
	"github.com/vyvo/compute/provisioner/pkg/controlplane"
	"github.com/vyvo/compute/provisioner/pkg/platform"
	"github.com/vyvo/compute/provisioner/pkg/platform/fakeplatform"
)

// Services is what a binary needs to run node operations.
type Services struct {
	Orchestrator *controlplane.Orchestrator
	Journal      controlplane.Journal
	closers      []func() error
}

// Close releases the journal connection, if any.
func (s *Services) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open builds the platform, journal and orchestrator described by cfg.
func Open(cfg config.ProvisionerConfig, logger controlplane.Logger) (*Services, error) {
	p, err := Platform(cfg)
	if err != nil {
		return nil, err
	}

	svc := &Services{}
	if cfg.DatabaseURL != "" {
		pg, err := controlplane.NewPostgresJournal(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open event journal: %w", err)
		}
		svc.Journal = pg
		svc.closers = append(svc.closers, pg.Close)
	} else {
		fj, err := controlplane.NewFileJournal(cfg.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("open event journal %s: %w", cfg.JournalPath, err)
		}
		svc.Journal = fj
	}

	svc.Orchestrator = controlplane.NewOrchestrator(p, svc.Journal, logger, OrchestratorOptions(cfg))
	return svc, nil
}

// OrchestratorOptions maps configuration onto orchestrator options.
func OrchestratorOptions(cfg config.ProvisionerConfig) controlplane.Options {
	return controlplane.Options{
		ResourceGroup:    cfg.ResourceGroup,
		Location:         cfg.Location,
		OperationTimeout: cfg.OperationTimeout,
		PollInterval:     cfg.PollInterval,
		JobTimeout:       cfg.JobTimeout,
		CaptureTimeout:   cfg.CaptureTimeout,
		LoginUser:        cfg.LoginUser,
		VMSize:           cfg.VMSize,
	}
}

// Platform returns the in-memory platform for dry runs, otherwise an ARM
// client authenticated with a static token or an azidentity credential.
func Platform(cfg config.ProvisionerConfig) (platform.Platform, error) {
	if cfg.DryRun {
		return fakeplatform.New().Services(), nil
	}

	clientCfg := azure.Config{
		BaseURL:        cfg.Azure.BaseURL,
		SubscriptionID: cfg.Azure.SubscriptionID,
		Token:          cfg.Azure.Token,
	}
	if cfg.Azure.Token == "" {
		cred, err := azure.NewCredential(azure.Credentials{
			TenantID:     cfg.Azure.TenantID,
			ClientID:     cfg.Azure.ClientID,
			ClientSecret: cfg.Azure.ClientSecret,
		})
		if err != nil {
			return platform.Platform{}, err
		}
		clientCfg.Credential = cred
	}
	return azure.NewPlatform(azure.NewClient(clientCfg)), nil
}
