package main

import (
	"github.com/spf13/cobra"

	"github.com/tonimelisma/scrybble-go/internal/config"
	"github.com/tonimelisma/scrybble-go/internal/sync"
)

func newForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <remote-path>...",
		Short: "Download documents again on the next sync",
		Long: `Drop the recorded sync version of each document from the local ledger, so
the next sync downloads it again even when the server has nothing newer.
Files already in the vault are left alone.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runForget,
	}
}

func runForget(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	paths, err := normalizeRemotePaths(args)
	if err != nil {
		return err
	}

	ledger, err := sync.OpenLedger(ctx, config.LedgerPath(), cc.Logger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	for _, p := range paths {
		_, known, err := ledger.SyncVersion(ctx, p)
		if err != nil {
			return err
		}

		if !known {
			cc.Statusf("%s: not synced yet\n", p)
			continue
		}

		if err := ledger.Forget(ctx, p); err != nil {
			return err
		}

		cc.Statusf("%s: will be downloaded on the next sync\n", p)
	}

	return nil
}
