package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadProvisionerDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PROVISIONER_DRY_RUN", "true")

	cfg, err := LoadProvisioner()
	if err != nil {
		t.Fatalf("LoadProvisioner returned error: %v", err)
	}
	if cfg.ListenAddr != ":8090" || cfg.Workers != 4 || cfg.LoginUser != "azureuser" {
		t.Fatalf("unexpected defaults: %#v", cfg)
	}
	if cfg.JobTimeout != 10*time.Minute || cfg.CaptureTimeout != 15*time.Second {
		t.Fatalf("unexpected timeouts: %s %s", cfg.JobTimeout, cfg.CaptureTimeout)
	}
}

func TestLoadProvisionerFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	if err := os.MkdirAll(filepath.Join(dir, "configs"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	file := []byte(`
resource_group: nodes-test
poll_interval: 2s
azure:
  subscription_id: sub-from-file
  tenant_id: tenant-1
`)
	if err := os.WriteFile(filepath.Join(dir, "configs", "provisioner.yaml"), file, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PROVISIONER_AZURE_SUBSCRIPTION_ID", "sub-from-env")
	t.Setenv("PROVISIONER_WORKERS", "2")

	cfg, err := LoadProvisioner()
	if err != nil {
		t.Fatalf("LoadProvisioner returned error: %v", err)
	}
	if cfg.ResourceGroup != "nodes-test" || cfg.PollInterval != 2*time.Second {
		t.Fatalf("file values not applied: %#v", cfg)
	}
	if cfg.Azure.SubscriptionID != "sub-from-env" || cfg.Azure.TenantID != "tenant-1" || cfg.Workers != 2 {
		t.Fatalf("env values not applied: %#v", cfg)
	}
}

func TestLoadProvisionerRequiresSubscription(t *testing.T) {
	chdir(t, t.TempDir())

	if _, err := LoadProvisioner(); err == nil {
		t.Fatalf("expected missing subscription to fail")
	}
}
