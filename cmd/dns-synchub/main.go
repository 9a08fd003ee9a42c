package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/datawire/dlib/dgroup"

	"github.com/inean/dns-synchub/pkg/logging"
	"github.com/inean/dns-synchub/pkg/settings"
	"github.com/inean/dns-synchub/pkg/synchub"
)

const processName = "dns-synchub"

func main() {
	var dryRun, configDump bool

	cmd := &cobra.Command{
		Use:           processName,
		Short:         "Keep Cloudflare DNS records in sync with Docker and Traefik hostnames",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := settings.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("unable to load settings: %w", err)
			}
			if dryRun {
				cfg.DryRun = true
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid settings:\n%w", err)
			}
			if configDump {
				out, err := yaml.Marshal(cfg.Redacted())
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			}

			ctx := logging.MakeBaseLogger(cmd.Context(), cfg)
			ctx = dgroup.WithGoroutineName(ctx, "/"+processName)
			cfg.Report(ctx)
			return synchub.Run(ctx, cfg)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log intended writes and skip provider mutations")
	cmd.Flags().BoolVar(&configDump, "config-dump", false, "print the effective configuration and exit")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s: error: %v\n", processName, err)
		os.Exit(1)
	}
}
