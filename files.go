package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/scrybble-go/internal/api"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List documents and folders on the tablet",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLs,
	}
}

func runLs(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	path := "/"
	if len(args) > 0 {
		path = cleanTreePath(args[0])
	}

	sess, err := newSession(cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.requireAuth(ctx); err != nil {
		return err
	}

	tree, err := withReauth(ctx, sess, func() (*api.FileTree, error) {
		return sess.Client.FileTree(ctx, path)
	})
	if err != nil {
		return fmt.Errorf("listing %s: %w", path, err)
	}

	if cc.Flags.JSON {
		return printJSON(os.Stdout, tree)
	}

	printTree(os.Stdout, tree)

	return nil
}

// cleanTreePath makes a tablet path absolute with a trailing slash on
// folders, the form the file tree endpoint expects.
func cleanTreePath(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	if !strings.HasSuffix(p, "/") {
		p += "/"
	}

	return p
}

func printTree(w io.Writer, tree *api.FileTree) {
	fmt.Fprintf(w, "%s\n", tree.CWD)

	if len(tree.Items) == 0 {
		fmt.Fprintln(w, "  (empty)")
		return
	}

	rows := make([][]string, 0, len(tree.Items))

	for i := range tree.Items {
		item := &tree.Items[i]

		kind, name := "file", item.Name
		if item.IsDir() {
			kind, name = "dir", item.Name+"/"
		}

		rows = append(rows, []string{kind, name, item.Path})
	}

	printTable(w, []string{"TYPE", "NAME", "PATH"}, rows)
}
