package main

import "testing"

// Both commands must carry the shared flag set regardless of the order their
// init functions ran in; resume once copied runCmd's flags before run.go had
// registered them and ended up with none.
func TestRunAndResumeCarrySharedFlags(t *testing.T) {
	names := []string{
		"objective", "algorithms", "summary",
		"hunt-interval", "hunt-min-calls", "no-hunts",
		"max-calls", "n-converged", "max-kills", "max-time",
		"checkpoint-dir", "checkpoint-naming", "keep-past",
	}
	for _, cmd := range []string{"run", "resume"} {
		fs := runCmd.Flags()
		if cmd == "resume" {
			fs = resumeCmd.Flags()
		}
		for _, name := range names {
			if fs.Lookup(name) == nil {
				t.Errorf("%s command: flag %q not registered", cmd, name)
			}
		}
	}
}
