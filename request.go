package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newRequestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "request <remote-path>...",
		Short: "Ask the server to render documents and download them",
		Long: `Request a sync of each reMarkable document (as listed by 'scrybble ls'),
wait while the server renders it, and write the result into the vault.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRequest,
	}
}

func runRequest(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	paths, err := normalizeRemotePaths(args)
	if err != nil {
		return err
	}

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	rt, err := newSyncRuntime(ctx, cc)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.session.requireAuth(ctx); err != nil {
		return err
	}

	for _, p := range paths {
		rt.progress.follow(rt.queue, p)
		rt.queue.RequestSync(p)
	}

	if err := rt.queue.Drain(ctx); err != nil {
		return err
	}

	return rt.progress.finish()
}

// normalizeRemotePaths makes every path absolute on the tablet and drops
// repeats, keeping the first occurrence.
func normalizeRemotePaths(args []string) ([]string, error) {
	seen := make(map[string]bool, len(args))
	out := make([]string, 0, len(args))

	for _, a := range args {
		p := strings.TrimSpace(a)
		if p == "" || p == "/" {
			return nil, fmt.Errorf("invalid document path %q", a)
		}

		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}

		if seen[p] {
			continue
		}

		seen[p] = true
		out = append(out, p)
	}

	return out, nil
}
