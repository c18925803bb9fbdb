package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vyvo/compute/provisioner/pkg/armtemplate"
	"github.com/vyvo/compute/provisioner/pkg/bootstrap"
	"github.com/vyvo/compute/provisioner/pkg/config"
	"github.com/vyvo/compute/provisioner/pkg/controlplane"
	"github.com/vyvo/compute/provisioner/pkg/resourcegraph"
	"github.com/vyvo/compute/provisioner/pkg/telemetry"
)

var (
	logLevel      string
	group         string
	nodeName      string
	imageID       string
	location      string
	vmSize        string
	loginUser     string
	publicKeyFile string
	password      string
	imageName     string
	indent        bool
)

var rootCmd = &cobra.Command{
	Use:   "nodectl",
	Short: "Provision and tear down compute nodes",
	Long:  `Runs node operations directly against the platform using the provisioner configuration, without going through the request queue.`,
	SilenceUsage: true,
}

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Deploy a new node into a group",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := provisionRequest()
		if err != nil {
			return err
		}
		return withOrchestrator(cmd, func(ctx context.Context, o *controlplane.Orchestrator) error {
			res, err := o.Provision(ctx, req)
			if err != nil {
				return fmt.Errorf("provision %s: %w", req.Name, err)
			}
			return writeJSON(cmd.OutOrStdout(), res)
		})
	},
}

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Print the deployment body for a node without deploying it",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := provisionRequest()
		if err != nil {
			return err
		}
		if req.Name == "" {
			return fmt.Errorf("--name is required")
		}
		if req.Location == "" {
			req.Location = "westus"
		}
		if !req.Login.UsesKey() && req.Login.Password == "" {
			req.Login.Password = "<generated>"
		}
		if req.Login.User == "" {
			req.Login.User = controlplane.DefaultLoginUser
		}
		g, err := resourcegraph.NewBuilder().Build(resourcegraph.Input{
			Group:    req.Group,
			Name:     req.Name,
			Location: req.Location,
			VMSize:   req.VMSize,
			Image:    req.Image,
			Login:    req.Login,
		})
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), armtemplate.NewDeploymentBody(g.Template()))
	},
}

var destroyCmd = &cobra.Command{
	Use:   "destroy NODE",
	Short: "Tear down a node and its group network when it is the last member",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOrchestrator(cmd, func(ctx context.Context, o *controlplane.Orchestrator) error {
			report := o.Destroy(ctx, args[0])
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.Complete() {
				return report.Skipped
			}
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list [NODE...]",
	Short: "List nodes, optionally restricted to the given ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOrchestrator(cmd, func(ctx context.Context, o *controlplane.Orchestrator) error {
			var (
				nodes []*controlplane.NodeRecord
				err   error
			)
			if len(args) > 0 {
				nodes, err = o.ListNodesByIDs(ctx, args)
			} else {
				nodes, err = o.ListNodes(ctx)
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), nodes)
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get NODE",
	Short: "Show one node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOrchestrator(cmd, func(ctx context.Context, o *controlplane.Orchestrator) error {
			node, err := o.GetNode(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), node)
		})
	},
}

var captureCmd = &cobra.Command{
	Use:   "capture NODE",
	Short: "Generalize a node and capture its disk as a reusable image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if imageName == "" {
			return fmt.Errorf("--image-name is required")
		}
		return withOrchestrator(cmd, func(ctx context.Context, o *controlplane.Orchestrator) error {
			img, err := o.CaptureImage(ctx, args[0], imageName)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"imageId": img.ID(), "image": img})
		})
	},
}

func powerCmd(use, short string, op func(*controlplane.Orchestrator, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " NODE",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd, func(ctx context.Context, o *controlplane.Orchestrator) error {
				if err := op(o, ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", use, args[0])
				return nil
			})
		},
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVarP(&indent, "indent", "i", true, "indent json output")

	for _, c := range []*cobra.Command{provisionCmd, templateCmd} {
		c.Flags().StringVarP(&group, "group", "g", "", "node group; members share a virtual network")
		c.Flags().StringVarP(&nodeName, "name", "n", "", "node name, generated from the group when empty")
		c.Flags().StringVar(&imageID, "image", "Canonical:UbuntuServer:16.04-LTS:latest", "image id: publisher:offer:sku[:version] or a captured custom image id")
		c.Flags().StringVarP(&location, "location", "l", "", "region, defaults to the configured location")
		c.Flags().StringVar(&vmSize, "vm-size", "", "virtual machine size")
		c.Flags().StringVarP(&loginUser, "user", "u", "", "login user")
		c.Flags().StringVar(&publicKeyFile, "public-key-file", "", "authorized_keys formatted public key for key-based login")
		c.Flags().StringVar(&password, "password", "", "login password, generated when empty and no key is given")
		if err := c.MarkFlagRequired("group"); err != nil {
			fmt.Fprintf(os.Stderr, "Error making flag group required: %v\n", err)
		}
	}
	captureCmd.Flags().StringVar(&imageName, "image-name", "", "prefix for the captured VHD")

	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(templateCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(powerCmd("reboot", "Restart a node", (*controlplane.Orchestrator).Reboot))
	rootCmd.AddCommand(powerCmd("resume", "Start a stopped node", (*controlplane.Orchestrator).Resume))
	rootCmd.AddCommand(powerCmd("suspend", "Power off a node", (*controlplane.Orchestrator).Suspend))
}

// Execute runs the command line.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func provisionRequest() (controlplane.ProvisionRequest, error) {
	img, err := resourcegraph.ParseImageID(imageID)
	if err != nil {
		return controlplane.ProvisionRequest{}, err
	}
	req := controlplane.ProvisionRequest{
		Group:    group,
		Name:     nodeName,
		Location: location,
		VMSize:   vmSize,
		Image:    img,
		Login:    resourcegraph.LoginOptions{User: loginUser, Password: password},
	}
	if publicKeyFile != "" {
		key, err := os.ReadFile(publicKeyFile)
		if err != nil {
			return req, fmt.Errorf("read public key: %w", err)
		}
		req.Login.PublicKey = strings.TrimSpace(string(key))
	}
	return req, nil
}

func withOrchestrator(cmd *cobra.Command, fn func(context.Context, *controlplane.Orchestrator) error) error {
	logger := telemetry.NewLogger(cmd.ErrOrStderr(), "nodectl", logLevel)

	cfg, err := config.LoadProvisioner()
	if err != nil {
		return err
	}
	svc, err := bootstrap.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, svc.Orchestrator)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
