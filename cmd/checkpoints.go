package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/opthive/internal/checkpoint"
)

var (
	ckDir      string
	ckNaming   string
	keepLast   int
	olderThan  int
	forceClean bool
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Manage run checkpoints",
	Long: `Manage run checkpoints including listing and cleaning old checkpoints.
Checkpoints allow resuming interrupted runs from saved state.`,
}

var listCheckpointsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all checkpoints matching the naming template",
	RunE:  runListCheckpoints,
}

var cleanCheckpointsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old checkpoints",
	Long: `Delete old checkpoints based on retention policy.
You can keep the last N checkpoints or delete checkpoints older than N days.`,
	RunE: runCleanCheckpoints,
}

func init() {
	rootCmd.AddCommand(checkpointsCmd)
	checkpointsCmd.AddCommand(listCheckpointsCmd)
	checkpointsCmd.AddCommand(cleanCheckpointsCmd)

	checkpointsCmd.PersistentFlags().StringVar(&ckDir, "dir", "checkpoints", "Checkpoint directory")
	checkpointsCmd.PersistentFlags().StringVar(&ckNaming, "naming", "opthive_checkpoint_%(date)_%(time)_%(count)", "Naming template identifying checkpoints")

	cleanCheckpointsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the last N checkpoints (0 = keep all)")
	cleanCheckpointsCmd.Flags().IntVar(&olderThan, "older-than", 0, "Delete checkpoints older than N days (0 = no age limit)")
	cleanCheckpointsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

type checkpointEntry struct {
	name string
	mod  time.Time
	size int64
}

func scanCheckpoints() ([]checkpointEntry, error) {
	opts := checkpoint.DefaultOptions()
	opts.Dir = ckDir
	opts.NamingTemplate = ckNaming
	ctrl, err := checkpoint.NewController(opts)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(ckDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	var found []checkpointEntry
	for _, e := range entries {
		if !ctrl.Matches(e.Name()) {
			continue
		}
		ce := checkpointEntry{name: e.Name()}
		if info, err := e.Info(); err == nil {
			ce.mod = info.ModTime()
		}
		if size, err := getDirSize(filepath.Join(ckDir, e.Name())); err == nil {
			ce.size = size
		}
		found = append(found, ce)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].mod.Before(found[j].mod) })
	return found, nil
}

func runListCheckpoints(cmd *cobra.Command, args []string) error {
	found, err := scanCheckpoints()
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Println("No checkpoints found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCREATED\tSIZE")
	fmt.Fprintln(w, "----\t-------\t----")
	for _, ce := range found {
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			ce.name,
			ce.mod.Format("2006-01-02 15:04:05"),
			formatBytes(ce.size),
		)
	}
	w.Flush()

	fmt.Printf("\nTotal checkpoints: %d\n", len(found))
	return nil
}

func runCleanCheckpoints(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThan == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	found, err := scanCheckpoints()
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Println("No checkpoints to clean.")
		return nil
	}

	toDelete := selectCheckpointsForDeletion(found, keepLast, olderThan)
	if len(toDelete) == 0 {
		fmt.Println("No checkpoints match deletion criteria.")
		return nil
	}

	fmt.Printf("Found %d checkpoint(s) to delete:\n", len(toDelete))
	for _, ce := range toDelete {
		fmt.Printf("  - %s (%s)\n", ce.name, ce.mod.Format("2006-01-02 15:04:05"))
	}

	if !forceClean {
		fmt.Print("\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	deleted := 0
	failed := 0
	for _, ce := range toDelete {
		if err := os.RemoveAll(filepath.Join(ckDir, ce.name)); err != nil {
			slog.Error("Failed to delete checkpoint", "name", ce.name, "error", err)
			failed++
		} else {
			slog.Info("Deleted checkpoint", "name", ce.name)
			deleted++
		}
	}

	fmt.Printf("\nDeleted %d checkpoint(s), %d failed.\n", deleted, failed)
	return nil
}

// selectCheckpointsForDeletion applies the age and count retention rules to
// the already time-sorted (oldest first) entries.
func selectCheckpointsForDeletion(found []checkpointEntry, keepLast, olderThanDays int) []checkpointEntry {
	seen := make(map[string]bool)
	var toDelete []checkpointEntry

	if olderThanDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -olderThanDays)
		for _, ce := range found {
			if ce.mod.Before(cutoff) && !seen[ce.name] {
				seen[ce.name] = true
				toDelete = append(toDelete, ce)
			}
		}
	}

	if keepLast > 0 && len(found) > keepLast {
		for _, ce := range found[:len(found)-keepLast] {
			if !seen[ce.name] {
				seen[ce.name] = true
				toDelete = append(toDelete, ce)
			}
		}
	}

	return toDelete
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
