package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/andywolf/ampa/internal/store"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the scheduled commands known to the store",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().Bool("json", false, "print the command list as JSON")
}

type listEntry struct {
	CommandID   string     `json:"command_id"`
	CommandType string     `json:"command_type"`
	Interval    string     `json:"interval"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	InFlight    bool       `json:"in_flight"`
	RunCount    int        `json:"run_count"`
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	entries := buildListEntries(st.Snapshot())

	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	fmt.Print(renderListTable(entries))
	return nil
}

// buildListEntries flattens a store snapshot into a sorted, display-ready
// slice so the formatting helpers below stay pure and testable.
func buildListEntries(doc store.Document) []listEntry {
	entries := make([]listEntry, 0, len(doc.Commands))
	for id, sc := range doc.Commands {
		entry := listEntry{
			CommandID:   id,
			CommandType: string(sc.CommandType),
			Interval:    sc.Interval.String(),
			RunCount:    len(doc.State.History[id]),
		}
		if t, ok := doc.State.LastRunAt[id]; ok {
			entry.LastRunAt = &t
		}
		_, entry.InFlight = doc.State.InFlight[id]
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CommandID < entries[j].CommandID })
	return entries
}

func renderListTable(entries []listEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-16s %-12s %-10s %-22s %-8s %s\n", "COMMAND", "TYPE", "INTERVAL", "LAST RUN", "RUNNING", "RUNS")
	for _, e := range entries {
		lastRun := "never"
		if e.LastRunAt != nil {
			lastRun = e.LastRunAt.Format(time.RFC3339)
		}
		running := "no"
		if e.InFlight {
			running = "yes"
		}
		fmt.Fprintf(&b, "%-16s %-12s %-10s %-22s %-8s %d\n", e.CommandID, e.CommandType, e.Interval, lastRun, running, e.RunCount)
	}
	return b.String()
}
