package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/freegame-watcher/internal/dedupstore"
	"github.com/JakeFAU/freegame-watcher/internal/harvest"
	"github.com/JakeFAU/freegame-watcher/internal/storage/memory"
)

type inspectOutput struct {
	File      string                   `json:"file"`
	Outcome   string                   `json:"outcome"`
	Processed []harvest.GameIdentifier `json:"processed"`
	Invalid   []harvest.GameIdentifier `json:"invalid"`
}

func newInspectCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect <snapshot-file>",
		Short: "Decode a local dedup snapshot and print both sets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspectSnapshot(cmd, args[0], asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of text")
	return cmd
}

func inspectSnapshot(cmd *cobra.Command, path string, asJSON bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	name := filepath.Base(path)
	backend := memory.NewBlobStore()
	if err := backend.Put(cmd.Context(), name, data); err != nil {
		return err
	}
	store := dedupstore.New()
	outcome, err := dedupstore.NewPersister(backend, nil).LoadName(cmd.Context(), name, store)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", path, err)
	}

	out := inspectOutput{
		File:      path,
		Outcome:   outcome.String(),
		Processed: store.Processed(),
		Invalid:   store.Invalid(),
	}
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	printSet(cmd.OutOrStdout(), "processed", out.Processed, dedupstore.ProcessedCapacity)
	printSet(cmd.OutOrStdout(), "invalid", out.Invalid, dedupstore.InvalidCapacity)
	return nil
}

func printSet(w io.Writer, name string, ids []harvest.GameIdentifier, capacity int) {
	fmt.Fprintf(w, "%s (%d/%d):\n", name, len(ids), capacity)
	for _, id := range ids {
		fmt.Fprintf(w, "  %s\n", id)
	}
}
