package main

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/ashureev/behold/internal/agent"
	"github.com/ashureev/behold/internal/bridge"
	"github.com/ashureev/behold/internal/config"
	"github.com/ashureev/behold/internal/shopify"
	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and reachability of the agent, bridge and store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadEnv()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			out := cmd.OutOrStdout()
			ctx := cmd.Context()

			fmt.Fprintln(out, "behold doctor")
			fmt.Fprintf(out, "  Version:  %s\n", Version)
			fmt.Fprintf(out, "  Go:       %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(out, "  Listen:   %s\n", cfg.Addr())
			fmt.Fprintln(out)

			printEnv(out, cfg)

			availability := agent.Resolve(ctx, cfg.Agent, logger)
			defer availability.Close()
			fmt.Fprintln(out, "  Agent:")
			if availability.IsAvailable() {
				fmt.Fprintf(out, "    %-12s enabled (%s)\n", "Mode:", availability.Describe())
			} else {
				fmt.Fprintf(out, "    %-12s fallback_mode (%s)\n", "Mode:", availability.Reason())
			}
			fmt.Fprintf(out, "    %-12s %s\n", "Fallback:", cfg.Fallback.Model)
			fmt.Fprintln(out)

			bctx, cancel := context.WithTimeout(ctx, cfg.Bridge.ProbeTimeout)
			status := bridge.NewClient(cfg.Bridge.URL, cfg.Bridge.ProbeTimeout, nil, logger).Probe(bctx)
			cancel()
			fmt.Fprintln(out, "  Bridge:")
			fmt.Fprintf(out, "    %-12s %s\n", "URL:", status.BridgeURL)
			fmt.Fprintf(out, "    %-12s %s\n", "Status:", status.BridgeStatus)
			if status.Error != "" {
				fmt.Fprintf(out, "    %-12s %s\n", "Error:", status.Error)
			}
			fmt.Fprintln(out)

			sctx, cancel := context.WithTimeout(ctx, cfg.Bridge.ProbeTimeout)
			shop := shopify.NewClient(cfg.Shopify, logger).Probe(sctx)
			cancel()
			fmt.Fprintln(out, "  Shopify:")
			fmt.Fprintf(out, "    %-12s %s\n", "Status:", shop.ShopifyStatus)
			if shop.Shop != nil {
				fmt.Fprintf(out, "    %-12s %s (%s)\n", "Shop:", shop.Shop.Name, shop.Shop.MyshopifyDomain)
			}
			if shop.Error != "" {
				fmt.Fprintf(out, "    %-12s %s\n", "Error:", shop.Error)
			}
			return nil
		},
	}
}

func printEnv(out io.Writer, cfg *config.Config) {
	presence := cfg.Presence()
	fmt.Fprintln(out, "  Environment:")
	for _, name := range config.CredentialVars {
		state := "missing"
		if presence[name] {
			state = "set"
		}
		fmt.Fprintf(out, "    %-26s %s\n", name, state)
	}
	fmt.Fprintln(out)
}
