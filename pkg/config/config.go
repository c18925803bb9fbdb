package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AzureConfig selects the management endpoint and how to authenticate to it.
type AzureConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	SubscriptionID string `mapstructure:"subscription_id"`
	TenantID       string `mapstructure:"tenant_id"`
	ClientID       string `mapstructure:"client_id"`
	ClientSecret   string `mapstructure:"client_secret"`
	Token          string `mapstructure:"token"`
}

// ProvisionerConfig captures runtime settings shared by the API, worker and CLI.
type ProvisionerConfig struct {
	ListenAddr       string        `mapstructure:"listen_addr"`
	RedisURL         string        `mapstructure:"redis_url"`
	DatabaseURL      string        `mapstructure:"database_url"`
	JournalPath      string        `mapstructure:"journal_path"`
	APIKeys          []string      `mapstructure:"api_keys"`
	Workers          int           `mapstructure:"workers"`
	DryRun           bool          `mapstructure:"dry_run"`
	ResourceGroup    string        `mapstructure:"resource_group"`
	Location         string        `mapstructure:"location"`
	VMSize           string        `mapstructure:"vm_size"`
	LoginUser        string        `mapstructure:"login_user"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	JobTimeout       time.Duration `mapstructure:"job_timeout"`
	CaptureTimeout   time.Duration `mapstructure:"capture_timeout"`
	Azure            AzureConfig   `mapstructure:"azure"`
}

// LoadProvisioner loads configuration from defaults, ./configs/provisioner.yaml
// and PROVISIONER_* environment variables (PROVISIONER_AZURE_SUBSCRIPTION_ID
// for nested keys).
func LoadProvisioner() (ProvisionerConfig, error) {
	v := viper.New()
	v.SetConfigName("provisioner")
	v.AddConfigPath("./configs")
	v.SetEnvPrefix("PROVISIONER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return ProvisionerConfig{}, fmt.Errorf("load config: %w", err)
		}
	}

	return decode(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8090")
	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("database_url", "")
	v.SetDefault("journal_path", "./data/events.json")
	v.SetDefault("api_keys", []string{})
	v.SetDefault("workers", 4)
	v.SetDefault("dry_run", false)
	v.SetDefault("resource_group", "compute-nodes")
	v.SetDefault("location", "westus")
	v.SetDefault("vm_size", "Standard_D1_v2")
	v.SetDefault("login_user", "azureuser")
	v.SetDefault("operation_timeout", 10*time.Minute)
	v.SetDefault("poll_interval", 5*time.Second)
	v.SetDefault("job_timeout", 10*time.Minute)
	v.SetDefault("capture_timeout", 15*time.Second)
	v.SetDefault("azure.base_url", "https://management.azure.com")
	v.SetDefault("azure.subscription_id", "")
	v.SetDefault("azure.tenant_id", "")
	v.SetDefault("azure.client_id", "")
	v.SetDefault("azure.client_secret", "")
	v.SetDefault("azure.token", "")
}

func decode(v *viper.Viper) (ProvisionerConfig, error) {
	var cfg ProvisionerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return ProvisionerConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Workers < 1 {
		return ProvisionerConfig{}, fmt.Errorf("workers must be at least 1, got %d", cfg.Workers)
	}
	if !cfg.DryRun && cfg.Azure.SubscriptionID == "" {
		return ProvisionerConfig{}, fmt.Errorf("azure.subscription_id is required unless dry_run is set")
	}
	return cfg, nil
}
