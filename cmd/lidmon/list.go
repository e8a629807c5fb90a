package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/BrandonDHaskell/lidmon/internal/lidmon/store"
)

var (
	listLimit   int
	listSince   time.Duration
	listAfterID int64
	listDesc    bool
	listJSON    bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print recorded lid transitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st := openStores(cfg)
		defer st.Close()

		f := store.ListFilter{AfterID: listAfterID, Limit: listLimit, Desc: listDesc}
		if listSince > 0 {
			f.Since = time.Now().Add(-listSince).Unix()
		}

		recs, err := st.events.List(cmd.Context(), f)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if listJSON || !isTerminal(out) {
			return printRecordsJSON(out, recs)
		}
		printRecordsTable(out, recs)
		return nil
	},
}

func init() {
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum number of records (0 = all)")
	listCmd.Flags().DurationVar(&listSince, "since", 0, "only records newer than this (e.g. 24h)")
	listCmd.Flags().Int64Var(&listAfterID, "after-id", 0, "only records with a larger id")
	listCmd.Flags().BoolVar(&listDesc, "desc", false, "newest first")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON even on a terminal")
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func printRecordsJSON(w io.Writer, recs []store.LidSwitchRecord) error {
	if recs == nil {
		recs = []store.LidSwitchRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(recs)
}

func printRecordsTable(w io.Writer, recs []store.LidSwitchRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED (UTC)\tLID_STATE")
	for _, r := range recs {
		state := "open"
		if r.LidState == 1 {
			state = "closed"
		}
		fmt.Fprintf(tw, "%d\t%s\t%d (%s)\n", r.ID, r.CreatedTime().Format("2006-01-02 15:04:05"), r.LidState, state)
	}
	tw.Flush()
	fmt.Fprintf(w, "%d record(s)\n", len(recs))
}
