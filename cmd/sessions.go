package cmd

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"flowrelay/pkg/config"
	"flowrelay/pkg/session"

	"github.com/spf13/cobra"
)

var (
	seedFile   string
	seedTTLSec int64
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect session seeds",
}

var sessionsInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Validate a seed file and show what the session store would load",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		path := strings.TrimSpace(seedFile)
		if path == "" {
			return errors.New("--seed-file is required")
		}

		seeds, err := config.ReadSeedFile(path)
		if err != nil {
			return err
		}

		return printSeeds(cmd.OutOrStdout(), seeds, time.Duration(seedTTLSec)*time.Second, time.Now)
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsInspectCmd)
	sessionsInspectCmd.Flags().StringVar(&seedFile, "seed-file", "", "path to a JSON array of session seeds")
	sessionsInspectCmd.Flags().Int64Var(&seedTTLSec, "ttl", 0, "session ttl in seconds used to report validity (0 disables expiry)")
}

// printSeeds loads seeds into a store and reports each session's state.
func printSeeds(out io.Writer, seeds []config.SessionSeed, ttl time.Duration, now func() time.Time) error {
	store := session.NewStore(session.WithSeeds(seeds), session.WithTTL(ttl), session.WithClock(now))

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CHAT\tACTIVE\tLAST INTERACTION\tVALID")
	for _, seed := range store.Snapshot() {
		last := "none"
		if seed.LastInteraction != nil {
			last = strconv.FormatInt(*seed.LastInteraction, 10)
		}
		_, valid := store.Get(seed.ChatID)
		fmt.Fprintf(w, "%s\t%t\t%s\t%t\n", seed.ChatID, seed.IsActive, last, valid)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(out, "%d sessions loaded\n", store.Len())
	return err
}
