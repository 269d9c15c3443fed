package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/regvm/journal"
	"github.com/chazu/regvm/manifest"
)

// journalRow is the JSON form of a journal entry.
type journalRow struct {
	RunID       string `json:"run_id"`
	Program     string `json:"program"`
	ProgramHash string `json:"program_hash"`
	Arch        string `json:"arch"`
	Outcome     string `json:"outcome"`
	PanicReason string `json:"panic_reason,omitempty"`
	Return      string `json:"return,omitempty"`
	Steps       uint64 `json:"steps"`
	RecordedAt  string `json:"recorded_at"`
	Snapshot    bool   `json:"has_snapshot"`
}

// handleJournalCommand processes the `regvm journal` subcommand.
// Usage:
//
//	regvm journal                       # last 20 runs
//	regvm journal -n 0 -json            # every run as JSON lines
//	regvm journal -show <run-id>        # one run with its panic snapshot
func handleJournalCommand(args []string, m *manifest.Manifest) {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	n := fs.Int("n", 20, "Number of runs to show, 0 for all")
	jsonOut := fs.Bool("json", false, "Print one JSON object per run")
	show := fs.String("show", "", "Show a single run by id")
	fs.Parse(args)

	path := m.JournalPath()
	if _, err := os.Stat(path); err != nil {
		fatal(fmt.Errorf("no journal at %s (enable [journal] in regvm.toml)", path))
	}
	j, err := journal.Open(path)
	if err != nil {
		fatal(err)
	}
	defer j.Close()

	if *show != "" {
		if err := showEntry(os.Stdout, j, *show); err != nil {
			fatal(err)
		}
		return
	}

	entries, err := j.Recent(*n)
	if err != nil {
		fatal(err)
	}
	if err := listEntries(os.Stdout, entries, *jsonOut); err != nil {
		fatal(err)
	}
}

func newJournalRow(e *journal.Entry) journalRow {
	return journalRow{
		RunID:       e.RunID.String(),
		Program:     e.Program,
		ProgramHash: e.ProgramHash,
		Arch:        e.Arch,
		Outcome:     e.Outcome,
		PanicReason: e.PanicReason,
		Return:      e.Return,
		Steps:       e.Steps,
		RecordedAt:  e.RecordedAt.Format(time.RFC3339),
		Snapshot:    !e.Graceful(),
	}
}

func listEntries(w io.Writer, entries []journal.Entry, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		for i := range entries {
			if err := enc.Encode(newJournalRow(&entries[i])); err != nil {
				return err
			}
		}
		return nil
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded")
		return err
	}
	for i := range entries {
		e := &entries[i]
		result := e.Return
		if !e.Graceful() {
			result = e.PanicReason
		}
		if _, err := fmt.Fprintf(w, "%s  %s  %-15s  %-4s  %-20s  %s\n",
			e.RunID, e.RecordedAt.Local().Format("2006-01-02 15:04:05"), e.Outcome, e.Arch, result, e.Program); err != nil {
			return err
		}
	}
	return nil
}

func showEntry(w io.Writer, j *journal.Journal, id string) error {
	runID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", id, err)
	}
	e, err := j.Get(runID)
	if err != nil {
		return err
	}
	row := newJournalRow(e)
	fmt.Fprintf(w, "Run:      %s\n", row.RunID)
	fmt.Fprintf(w, "Program:  %s (%s)\n", row.Program, row.ProgramHash)
	fmt.Fprintf(w, "Arch:     %s\n", row.Arch)
	fmt.Fprintf(w, "Recorded: %s\n", row.RecordedAt)
	fmt.Fprintf(w, "Steps:    %d\n", row.Steps)
	if e.Graceful() {
		fmt.Fprintf(w, "Outcome:  %s with %s\n", row.Outcome, row.Return)
		return nil
	}
	fmt.Fprintf(w, "Outcome:  %s (%s)\n", row.Outcome, row.PanicReason)

	report, err := e.DecodeReport()
	if err != nil {
		return err
	}
	if p := report.Exit.Panic; p != nil {
		fmt.Fprintf(w, "Message:  %s\n", p.Message)
	}
	snap := report.Snapshot
	if snap == nil {
		return nil
	}
	loc := snap.Location
	if snap.Exit != nil && snap.Exit.Panic != nil {
		loc = snap.Exit.Panic.Location
	}
	fmt.Fprintf(w, "Panicked: pc %d, %d stack slots, %d heap entries\n",
		loc.PC, len(snap.Stack.Slots), len(snap.Heap))
	for _, r := range snap.Registers {
		fmt.Fprintf(w, "  %-2s %-8s %s\n", r.Name, r.Type, r.Value.String())
	}
	return nil
}
