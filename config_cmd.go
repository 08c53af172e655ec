package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/scrybble-go/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigReloadCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		RunE:  runConfigShow,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Flags.JSON {
		shown := *cc.Cfg
		if shown.ClientSecret != "" {
			shown.ClientSecret = "(set)"
		}

		return printJSON(os.Stdout, &shown)
	}

	return config.RenderEffective(cc.Cfg, cc.CfgPath, os.Stdout)
}

func newConfigReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Tell a running sync --watch to re-read its config file",
		RunE:  runConfigReload,
	}
}

func runConfigReload(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	pid, err := sendSIGHUP(config.PIDPath())
	if err != nil {
		return err
	}

	cc.Statusf("Sent reload signal to watcher (PID %d).\n", pid)

	return nil
}
