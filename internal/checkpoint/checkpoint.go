// Package checkpoint decides when the manager snapshots its state, names the
// snapshot artifacts, and enforces retention of old artifacts. Serialization
// of the state itself is the caller's job; this package owns naming, trigger
// policy, atomic directory placement and deletion of superseded checkpoints.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrWriteFailed wraps any error raised while building a checkpoint artifact.
var ErrWriteFailed = errors.New("checkpoint: write failed")

// Options configures checkpoint triggering, naming and retention.
type Options struct {
	// TimeFrequency triggers a checkpoint when this much wall time passed
	// since the last one. Zero disables the time trigger.
	TimeFrequency time.Duration

	// IterFrequency triggers a checkpoint when this many function calls
	// accumulated since the last one. Zero disables the call trigger.
	IterFrequency int

	// AtInit builds a checkpoint right at the start of the run.
	AtInit bool

	// AtConv builds a checkpoint when the run converges, before shutdown.
	AtConv bool

	// RaiseOnFail aborts the run on a failed checkpoint write. When false a
	// failure is logged and the run continues without the checkpoint.
	RaiseOnFail bool

	// KeepPast is the number of newest checkpoints retained after a
	// successful write. -1 disables deletion; 0 keeps only the new one.
	KeepPast int

	// NamingTemplate names new checkpoints. Tokens: %(date) %(year) %(yr)
	// %(month) %(day) %(time) %(hour) %(min) %(sec) %(count).
	NamingTemplate string

	// Dir is the directory checkpoints are written into.
	Dir string

	// WriteTimeout bounds a single checkpoint write.
	WriteTimeout time.Duration
}

// DefaultOptions disables the periodic triggers and retention.
func DefaultOptions() Options {
	return Options{
		KeepPast:       -1,
		NamingTemplate: "opthive_checkpoint_%(date)_%(time)",
		Dir:            "checkpoints",
		WriteTimeout:   time.Minute,
	}
}

// Fixed digit widths substituted for each date/time token when the naming
// template is compiled to a matching pattern.
var tokenWidths = []struct {
	token string
	width int
}{
	{"%(date)", 8},
	{"%(year)", 4},
	{"%(yr)", 2},
	{"%(month)", 2},
	{"%(day)", 2},
	{"%(time)", 6},
	{"%(hour)", 2},
	{"%(min)", 2},
	{"%(sec)", 2},
}

var tokenFormats = []struct {
	token  string
	layout string
}{
	{"%(date)", "20060102"},
	{"%(year)", "2006"},
	{"%(yr)", "06"},
	{"%(month)", "01"},
	{"%(day)", "02"},
	{"%(time)", "150405"},
	{"%(hour)", "15"},
	{"%(min)", "04"},
	{"%(sec)", "05"},
}

// Controller implements the checkpoint trigger, naming and retention policy.
type Controller struct {
	opts Options
	re   *regexp.Regexp

	count      int // next %(count) value guaranteed unused in this process
	lastTime   time.Time
	lastFCalls int
	now        func() time.Time
}

// NewController validates the options and compiles the naming template.
func NewController(opts Options) (*Controller, error) {
	if opts.KeepPast < -1 {
		return nil, fmt.Errorf("checkpoint: keep_past must be >= -1, got %d", opts.KeepPast)
	}
	if opts.IterFrequency < 0 {
		return nil, fmt.Errorf("checkpoint: iter frequency must be non-negative, got %d", opts.IterFrequency)
	}
	if opts.NamingTemplate == "" {
		return nil, errors.New("checkpoint: naming template must not be empty")
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = time.Minute
	}

	pattern := regexp.QuoteMeta(opts.NamingTemplate)
	for _, tw := range tokenWidths {
		quoted := regexp.QuoteMeta(tw.token)
		pattern = strings.ReplaceAll(pattern, quoted, fmt.Sprintf("[0-9]{%d}", tw.width))
	}
	pattern = strings.ReplaceAll(pattern, regexp.QuoteMeta("%(count)"), `(?P<count>[0-9]{3})`)

	re, err := regexp.Compile("^" + pattern + "$")
	if err != nil {
		return nil, fmt.Errorf("checkpoint: invalid naming template: %w", err)
	}

	return &Controller{
		opts: opts,
		re:   re,
		now:  time.Now,
	}, nil
}

// Options returns the controller's configuration.
func (c *Controller) Options() Options {
	return c.opts
}

// NextName expands the naming template with the current timestamp. The
// %(count) token resolves to one more than the largest count found among the
// matching directory entries, with an in-process floor so that repeated calls
// never collide even before a new artifact lands on disk.
func (c *Controller) NextName() string {
	now := c.now()
	name := c.opts.NamingTemplate
	for _, tf := range tokenFormats {
		name = strings.ReplaceAll(name, tf.token, now.Format(tf.layout))
	}

	if strings.Contains(name, "%(count)") {
		count := c.scanMaxCount() + 1
		if c.count > count {
			count = c.count
		}
		name = strings.ReplaceAll(name, "%(count)", fmt.Sprintf("%03d", count))
		c.count = count + 1
	}
	return name
}

// scanMaxCount returns the largest %(count) among matching directory entries,
// or -1 if there are none or the directory does not exist.
func (c *Controller) scanMaxCount() int {
	maxCount := -1
	entries, err := os.ReadDir(c.opts.Dir)
	if err != nil {
		return maxCount
	}
	idx := c.re.SubexpIndex("count")
	if idx < 0 {
		return maxCount
	}
	for _, e := range entries {
		m := c.re.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[idx])
		if err == nil && n > maxCount {
			maxCount = n
		}
	}
	return maxCount
}

// Matches reports whether name belongs to this controller's naming scheme.
func (c *Controller) Matches(name string) bool {
	return c.re.MatchString(name)
}

// Due reports whether a periodic checkpoint should fire given the current
// time and global function call count.
func (c *Controller) Due(now time.Time, fcalls int) bool {
	if c.opts.TimeFrequency > 0 && now.Sub(c.lastTime) >= c.opts.TimeFrequency {
		return true
	}
	if c.opts.IterFrequency > 0 && fcalls-c.lastFCalls >= c.opts.IterFrequency {
		return true
	}
	return false
}

// MarkSaved resets the periodic trigger baselines after a successful write.
func (c *Controller) MarkSaved(now time.Time, fcalls int) {
	c.lastTime = now
	c.lastFCalls = fcalls
}

// Write builds the checkpoint artifact named name by calling fill with a
// staging directory, then atomically renames it into place. The write is
// bounded by the configured timeout; exceeding it fails the checkpoint and
// leaves the staging dir behind for the next write to clean up.
// Retention runs only after a successful rename.
func (c *Controller) Write(ctx context.Context, name string, fill func(dir string) error) error {
	if err := os.MkdirAll(c.opts.Dir, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	c.cleanStaging()

	tmpDir := filepath.Join(c.opts.Dir, name+".tmp")
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	wctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fill(tmpDir) }()

	select {
	case err := <-done:
		if err != nil {
			os.RemoveAll(tmpDir)
			return fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
	case <-wctx.Done():
		// The fill goroutine may still be writing into the staging dir, so it
		// cannot be removed here; the next Write cleans it up.
		return fmt.Errorf("%w: %v", ErrWriteFailed, wctx.Err())
	}

	finalDir := filepath.Join(c.opts.Dir, name)
	if err := os.Rename(tmpDir, finalDir); err != nil {
		os.RemoveAll(tmpDir)
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	if err := c.applyRetention(name); err != nil {
		slog.Warn("Checkpoint retention failed", "error", err)
	}
	return nil
}

// cleanStaging removes staging directories abandoned by timed-out writes.
func (c *Controller) cleanStaging() {
	entries, err := os.ReadDir(c.opts.Dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		base, ok := strings.CutSuffix(e.Name(), ".tmp")
		if !ok || !c.re.MatchString(base) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.opts.Dir, e.Name())); err == nil {
			slog.Debug("Removed stale checkpoint staging dir", "name", e.Name())
		}
	}
}

// applyRetention deletes matching checkpoints beyond the KeepPast newest.
// The just-written checkpoint is never deleted. Entries are ordered by the
// embedded %(count) when the template carries one, else by modification time.
func (c *Controller) applyRetention(justWritten string) error {
	if c.opts.KeepPast < 0 {
		return nil
	}

	entries, err := os.ReadDir(c.opts.Dir)
	if err != nil {
		return fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	type candidate struct {
		name  string
		count int
		mod   time.Time
	}
	idx := c.re.SubexpIndex("count")

	var matched []candidate
	for _, e := range entries {
		m := c.re.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		cand := candidate{name: e.Name(), count: -1}
		if idx >= 0 {
			if n, err := strconv.Atoi(m[idx]); err == nil {
				cand.count = n
			}
		}
		if info, err := e.Info(); err == nil {
			cand.mod = info.ModTime()
		}
		matched = append(matched, cand)
	}

	// Newest first.
	sort.Slice(matched, func(i, j int) bool {
		if idx >= 0 && matched[i].count != matched[j].count {
			return matched[i].count > matched[j].count
		}
		return matched[i].mod.After(matched[j].mod)
	})

	for i, cand := range matched {
		if i < c.opts.KeepPast || cand.name == justWritten {
			continue
		}
		path := filepath.Join(c.opts.Dir, cand.name)
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to delete old checkpoint %s: %w", cand.name, err)
		}
		slog.Debug("Deleted old checkpoint", "name", cand.name)
	}
	return nil
}
