package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/opthive/internal/manager"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [checkpoint-dir]",
	Short: "Resume a run from a checkpoint",
	Long: `Restores counters, worker states and trajectories from a checkpoint
directory and relaunches the workers that were still running.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	// Resume shares the run command's objective/convergence/checkpoint flags.
	// Registered directly rather than copied from runCmd: file-ordered inits
	// would copy an empty set.
	addRunFlags(resumeCmd.Flags())
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	objective, err := objectiveByName(objectiveName)
	if err != nil {
		return err
	}
	checker, err := buildChecker()
	if err != nil {
		return err
	}
	hunter, err := buildHunter()
	if err != nil {
		return err
	}
	ctrl, err := buildCheckpointing()
	if err != nil {
		return err
	}

	mgr, err := manager.New(objective, checker, hunter, manager.Options{
		HuntInterval: huntInterval,
		SummaryPath:  summaryPath,
		Checkpoint:   ctrl,
	})
	if err != nil {
		return err
	}

	if err := mgr.Restore(args[0]); err != nil {
		return fmt.Errorf("failed to restore checkpoint: %w", err)
	}
	slog.Info("Restored checkpoint", "dir", args[0], "run_id", mgr.RunID())

	start := time.Now()
	summary, err := mgr.Run(cmd.Context(), nil)
	if summary != nil {
		printSummary(summary, time.Since(start))
	}
	return err
}
