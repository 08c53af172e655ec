package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/scrybble-go/internal/api"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List sync requests recorded on the server",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}

	cmd.Flags().Int("page", 1, "page number")

	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	page, err := cmd.Flags().GetInt("page")
	if err != nil {
		return err
	}

	if page < 1 {
		return fmt.Errorf("--page must be at least 1, got %d", page)
	}

	sess, err := newSession(cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.requireAuth(ctx); err != nil {
		return err
	}

	hp, err := withReauth(ctx, sess, func() (*api.HistoryPage, error) {
		return sess.Client.SyncHistory(ctx, page)
	})
	if err != nil {
		return fmt.Errorf("fetching history: %w", err)
	}

	if cc.Flags.JSON {
		return printJSON(os.Stdout, hp)
	}

	printHistoryPage(os.Stdout, hp)

	return nil
}

func printHistoryPage(w io.Writer, hp *api.HistoryPage) {
	if len(hp.Items) == 0 {
		fmt.Fprintln(w, "No sync requests yet.")
		return
	}

	rows := make([][]string, 0, len(hp.Items))
	for i := range hp.Items {
		item := &hp.Items[i]
		rows = append(rows, []string{
			strconv.FormatInt(item.ID, 10),
			formatServerTime(item.CreatedAt),
			item.Status(),
			item.Filename,
		})
	}

	printTable(w, []string{"ID", "CREATED", "STATUS", "FILE"}, rows)
	fmt.Fprintf(w, "\nPage %d of %d (%d total)\n", hp.CurrentPage, hp.LastPage, hp.Total)
}

// withReauth runs call and, if the server rejects the token, refreshes the
// session once and runs it again.
func withReauth[T any](ctx context.Context, sess *Session, call func() (T, error)) (T, error) {
	v, err := call()
	if err == nil {
		return v, nil
	}

	if reauthErr := sess.Engine.RefreshToken(ctx, err); reauthErr != nil {
		var zero T
		return zero, reauthErr
	}

	return call()
}
