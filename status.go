package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/scrybble-go/internal/config"
	"github.com/tonimelisma/scrybble-go/internal/sync"
)

// defaultHistoryLimit is how many job outcomes status --history shows.
const defaultHistoryLimit = 50

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show what is in the vault and whether a watcher is running",
		Long: `List every document the vault holds with the sync it came from, read from the
local ledger. With --history, list the most recent job outcomes instead,
including failures. Does not contact the server.`,
		RunE: runStatus,
	}

	cmd.Flags().Bool("history", false, "show recent job outcomes")
	cmd.Flags().Int("limit", defaultHistoryLimit, "number of outcomes shown with --history")

	return cmd
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	Server     string          `json:"server"`
	VaultDir   string          `json:"vault_dir"`
	SyncFolder string          `json:"sync_folder"`
	LoggedIn   bool            `json:"logged_in"`
	WatcherPID int             `json:"watcher_pid,omitempty"`
	Files      []statusFile    `json:"files,omitempty"`
	History    []statusOutcome `json:"history,omitempty"`
}

type statusFile struct {
	Filename string `json:"filename"`
	SyncID   int64  `json:"sync_id"`
}

type statusOutcome struct {
	JobID      string    `json:"job_id"`
	Filename   string    `json:"filename"`
	SyncID     *int64    `json:"sync_id,omitempty"`
	State      string    `json:"state"`
	Stage      string    `json:"stage,omitempty"`
	Status     int       `json:"http_status,omitempty"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	history, err := cmd.Flags().GetBool("history")
	if err != nil {
		return err
	}

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	sess, err := newSession(cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	out := statusOutput{
		Server:     cc.Cfg.ServerURL(),
		VaultDir:   cc.Cfg.VaultDir,
		SyncFolder: cc.Cfg.SyncFolder,
		LoggedIn:   sess.Tokens.AccessToken() != "",
	}

	if proc, findErr := findWatcher(config.PIDPath()); findErr == nil {
		out.WatcherPID = proc.Pid
	} else if !errors.Is(findErr, errNoWatcher) {
		cc.Logger.Debug("checking watcher", slog.String("error", findErr.Error()))
	}

	ledger, err := sync.OpenLedger(ctx, config.LedgerPath(), cc.Logger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	if history {
		outcomes, histErr := ledger.History(ctx, limit)
		if histErr != nil {
			return histErr
		}

		out.History = toStatusOutcomes(outcomes)
	} else {
		versions, verErr := ledger.SyncVersions(ctx)
		if verErr != nil {
			return verErr
		}

		out.Files = toStatusFiles(versions)
	}

	if cc.Flags.JSON {
		return printJSON(os.Stdout, out)
	}

	printStatusText(os.Stdout, &out, history)

	return nil
}

func toStatusFiles(versions map[string]int64) []statusFile {
	files := make([]statusFile, 0, len(versions))
	for name, id := range versions {
		files = append(files, statusFile{Filename: name, SyncID: id})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })

	return files
}

func toStatusOutcomes(outcomes []sync.Outcome) []statusOutcome {
	out := make([]statusOutcome, 0, len(outcomes))

	for i := range outcomes {
		o := &outcomes[i]
		so := statusOutcome{
			JobID:      o.JobID,
			Filename:   o.Filename,
			SyncID:     o.SyncID,
			State:      string(o.State),
			Status:     o.Status,
			Error:      o.Error,
			FinishedAt: o.FinishedAt,
		}

		if !o.Succeeded() {
			so.Stage = o.Stage.Stage()
		}

		out = append(out, so)
	}

	return out
}

func printStatusText(w io.Writer, out *statusOutput, history bool) {
	login := "not logged in"
	if out.LoggedIn {
		login = "logged in"
	}

	fmt.Fprintf(w, "Server:  %s (%s)\n", out.Server, login)
	fmt.Fprintf(w, "Vault:   %s/%s\n", out.VaultDir, out.SyncFolder)

	if out.WatcherPID != 0 {
		fmt.Fprintf(w, "Watcher: running (PID %d)\n", out.WatcherPID)
	} else {
		fmt.Fprintf(w, "Watcher: not running\n")
	}

	fmt.Fprintln(w)

	if history {
		printHistoryOutcomes(w, out.History)
		return
	}

	if len(out.Files) == 0 {
		fmt.Fprintln(w, "No documents synced yet. Run 'scrybble sync' to fetch them.")
		return
	}

	rows := make([][]string, 0, len(out.Files))
	for _, f := range out.Files {
		rows = append(rows, []string{f.Filename, strconv.FormatInt(f.SyncID, 10)})
	}

	printTable(w, []string{"FILE", "SYNC"}, rows)
}

func printHistoryOutcomes(w io.Writer, outcomes []statusOutcome) {
	if len(outcomes) == 0 {
		fmt.Fprintln(w, "No jobs have finished yet.")
		return
	}

	rows := make([][]string, 0, len(outcomes))

	for _, o := range outcomes {
		result := "downloaded"
		if o.State != string(sync.StateDownloaded) {
			result = fmt.Sprintf("%s while %s", o.State, strings.ToLower(o.Stage))
			if o.Error != "" {
				result += ": " + o.Error
			}
		}

		rows = append(rows, []string{formatTime(o.FinishedAt), o.Filename, result})
	}

	printTable(w, []string{"FINISHED", "FILE", "RESULT"}, rows)
}
