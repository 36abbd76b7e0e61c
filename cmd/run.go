package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cwbudde/opthive/internal/checkers"
	"github.com/cwbudde/opthive/internal/checkpoint"
	"github.com/cwbudde/opthive/internal/hunters"
	"github.com/cwbudde/opthive/internal/manager"
	"github.com/cwbudde/opthive/internal/opt"
)

var (
	objectiveName string
	algorithms    string
	dim           int
	boundLo       float64
	boundHi       float64
	maxIters      int
	target        float64
	summaryPath   string

	huntInterval  time.Duration
	minCalls      int
	unmovWindow   int
	unmovTol      float64
	disableHunts  bool
	maxCalls      int
	nConverged    int
	maxKills      int
	maxSeconds    time.Duration
	cpDir         string
	cpNaming      string
	cpTimeFreq    time.Duration
	cpIterFreq    int
	cpAtInit      bool
	cpAtConv      bool
	cpKeepPast    int
	cpRaiseOnFail bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a managed parallel optimization",
	Long: `Launches one worker per requested algorithm against the chosen objective,
hunts underperforming workers, and stops the run once the convergence
conditions are met.`,
	RunE: runManaged,
}

func init() {
	addRunFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

// addRunFlags registers the objective, hunt, convergence and checkpoint
// flags. The resume command registers the same set, so it must not depend on
// any other command's init having run first.
func addRunFlags(fs *pflag.FlagSet) {
	fs.StringVar(&objectiveName, "objective", "sphere", "Objective: sphere, rastrigin, rosenbrock")
	fs.StringVar(&algorithms, "algorithms", "hillclimb,hillclimb,random", "Comma-separated worker algorithms")
	fs.IntVar(&dim, "dim", 4, "Problem dimensionality")
	fs.Float64Var(&boundLo, "lower", -5, "Lower bound for every dimension")
	fs.Float64Var(&boundHi, "upper", 5, "Upper bound for every dimension")
	fs.IntVar(&maxIters, "iters", 5000, "Max iterations per worker")
	fs.Float64Var(&target, "target", 1e-6, "Objective value at which a worker converges")
	fs.StringVar(&summaryPath, "summary", "opthive_summary.yml", "Run summary output path")

	fs.DurationVar(&huntInterval, "hunt-interval", 500*time.Millisecond, "Cadence of hunt rounds")
	fs.IntVar(&minCalls, "hunt-min-calls", 50, "Function calls before a worker may be hunted")
	fs.IntVar(&unmovWindow, "hunt-window", 200, "Call window for the stagnation hunter")
	fs.Float64Var(&unmovTol, "hunt-tol", 0.001, "Relative improvement below which a victim counts as stagnant")
	fs.BoolVar(&disableHunts, "no-hunts", false, "Disable hunting entirely")

	fs.IntVar(&maxCalls, "max-calls", 100000, "Converge after this many total function calls (0 = disabled)")
	fs.IntVar(&nConverged, "n-converged", 1, "Converge after this many workers converge naturally (0 = disabled)")
	fs.IntVar(&maxKills, "max-kills", 0, "Converge after this many hunted workers (0 = disabled)")
	fs.DurationVar(&maxSeconds, "max-time", 0, "Converge after this much wall time (0 = disabled)")

	fs.StringVar(&cpDir, "checkpoint-dir", "checkpoints", "Checkpoint directory")
	fs.StringVar(&cpNaming, "checkpoint-naming", "opthive_checkpoint_%(date)_%(time)_%(count)", "Checkpoint naming template")
	fs.DurationVar(&cpTimeFreq, "checkpoint-time", 0, "Checkpoint every interval of wall time (0 = disabled)")
	fs.IntVar(&cpIterFreq, "checkpoint-iters", 0, "Checkpoint every N function calls (0 = disabled)")
	fs.BoolVar(&cpAtInit, "checkpoint-at-init", false, "Checkpoint at run start")
	fs.BoolVar(&cpAtConv, "checkpoint-at-conv", false, "Checkpoint at convergence")
	fs.IntVar(&cpKeepPast, "keep-past", -1, "Checkpoints retained after a new one (-1 = keep all)")
	fs.BoolVar(&cpRaiseOnFail, "raise-checkpoint-fail", false, "Abort the run on checkpoint failure")
}

func runManaged(cmd *cobra.Command, args []string) error {
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

	configs, err := workerConfigs()
	if err != nil {
		return err
	}

	slog.Info("Starting managed run",
		"objective", objectiveName, "workers", len(configs), "dim", dim)

	start := time.Now()
	summary, err := mgr.Run(cmd.Context(), configs)
	if summary != nil {
		printSummary(summary, time.Since(start))
	}
	return err
}

func workerConfigs() ([]opt.Config, error) {
	lower := make([]float64, dim)
	upper := make([]float64, dim)
	for i := range lower {
		lower[i] = boundLo
		upper[i] = boundHi
	}

	var configs []opt.Config
	for _, algo := range strings.Split(algorithms, ",") {
		algo = strings.TrimSpace(algo)
		if algo == "" {
			continue
		}
		configs = append(configs, opt.Config{
			Algorithm: algo,
			Lower:     lower,
			Upper:     upper,
			MaxIters:  maxIters,
			Target:    target,
		})
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("no worker algorithms given")
	}
	return configs, nil
}

func buildChecker() (checkers.Checker, error) {
	var tree checkers.Checker

	add := func(leaf checkers.Checker, err error) error {
		if err != nil {
			return err
		}
		if tree == nil {
			tree = leaf
			return nil
		}
		combined, err := checkers.AnyOf(tree, leaf)
		if err != nil {
			return err
		}
		tree = combined
		return nil
	}

	if maxCalls > 0 {
		if err := add(checkers.NewMaxFuncCalls(maxCalls)); err != nil {
			return nil, err
		}
	}
	if nConverged > 0 {
		if err := add(checkers.NewNOptConverged(nConverged)); err != nil {
			return nil, err
		}
	}
	if maxKills > 0 {
		if err := add(checkers.NewMaxKills(maxKills)); err != nil {
			return nil, err
		}
	}
	if maxSeconds > 0 {
		if err := add(checkers.NewMaxSeconds(maxSeconds)); err != nil {
			return nil, err
		}
	}
	if tree == nil {
		return nil, fmt.Errorf("at least one convergence condition is required")
	}
	return tree, nil
}

func buildHunter() (hunters.Hunter, error) {
	if disableHunts {
		return nil, nil
	}
	shield, err := hunters.NewMinFuncCalls(minCalls)
	if err != nil {
		return nil, err
	}
	stagnant, err := hunters.NewBestUnmoving(unmovWindow, unmovTol)
	if err != nil {
		return nil, err
	}
	return hunters.AllOf(shield, stagnant)
}

func buildCheckpointing() (*checkpoint.Controller, error) {
	if cpTimeFreq == 0 && cpIterFreq == 0 && !cpAtInit && !cpAtConv {
		return nil, nil
	}
	opts := checkpoint.DefaultOptions()
	opts.Dir = cpDir
	opts.NamingTemplate = cpNaming
	opts.TimeFrequency = cpTimeFreq
	opts.IterFrequency = cpIterFreq
	opts.AtInit = cpAtInit
	opts.AtConv = cpAtConv
	opts.KeepPast = cpKeepPast
	opts.RaiseOnFail = cpRaiseOnFail
	return checkpoint.NewController(opts)
}

func printSummary(s *manager.Summary, elapsed time.Duration) {
	fmt.Printf("Run %s finished in %s\n", s.RunID, elapsed.Round(time.Millisecond))
	fmt.Printf("  function calls: %d, converged: %d, hunted: %d\n",
		s.FuncCalls, s.ConvCount, s.KillCount)
	if best, ok := s.Best(); ok {
		fmt.Printf("  best: worker %d (%s) f=%.6g\n", best.OptID, best.Algorithm, best.FBest)
	}
}
