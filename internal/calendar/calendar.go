// Package calendar maps calendar dates to exchange trading days.
package calendar

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fund-analytics/internal/logging"
	"github.com/fund-analytics/internal/types"
)

// ErrResourceMissing is returned when the calendar file does not exist
var ErrResourceMissing = errors.New("trading calendar resource missing")

// Calendar is a sorted set of trading days loaded at most once.
// After load it is immutable and safe to share; Reload swaps the set atomically.
type Calendar struct {
	path string

	mu   sync.Mutex
	days atomic.Pointer[[]time.Time]
}

// New creates a calendar backed by a CSV file with one ISO date per row.
// The file must exist; it is parsed lazily on first use.
func New(path string) (*Calendar, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrResourceMissing, path)
		}
		return nil, fmt.Errorf("failed to stat calendar %s: %w", path, err)
	}
	return &Calendar{path: path}, nil
}

// FromDays builds an already-loaded calendar from a list of days
func FromDays(days []time.Time) *Calendar {
	c := &Calendar{}
	sorted := normalize(days)
	c.days.Store(&sorted)
	return c
}

// EnsureLoaded parses the backing file unless it was already loaded
func (c *Calendar) EnsureLoaded() error {
	if c.days.Load() != nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.days.Load() != nil {
		return nil
	}
	days, err := readFile(c.path)
	if err != nil {
		return err
	}
	c.days.Store(&days)
	return nil
}

// Reload re-reads the backing file and swaps the day set
func (c *Calendar) Reload() error {
	if c.path == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	days, err := readFile(c.path)
	if err != nil {
		return err
	}
	c.days.Store(&days)
	logging.WithField("days", len(days)).Info("Trading calendar reloaded")
	return nil
}

func (c *Calendar) snapshot() []time.Time {
	if err := c.EnsureLoaded(); err != nil {
		logging.GetGlobalLogger().WithError(err).Error("Failed to load trading calendar")
		return nil
	}
	return *c.days.Load()
}

// IsTradingDay reports whether d is a trading day
func (c *Calendar) IsTradingDay(d time.Time) bool {
	if d.IsZero() {
		logging.Warnf("calendar: invalid date passed to IsTradingDay")
		return false
	}
	days := c.snapshot()
	d = types.Day(d)
	i := sort.Search(len(days), func(i int) bool { return !days[i].Before(d) })
	return i < len(days) && days[i].Equal(d)
}

// Prev returns the last trading day strictly before d
func (c *Calendar) Prev(d time.Time) (time.Time, bool) {
	if d.IsZero() {
		logging.Warnf("calendar: invalid date passed to Prev")
		return time.Time{}, false
	}
	days := c.snapshot()
	d = types.Day(d)
	i := sort.Search(len(days), func(i int) bool { return !days[i].Before(d) })
	if i == 0 {
		return time.Time{}, false
	}
	return days[i-1], true
}

// Next returns the first trading day strictly after d
func (c *Calendar) Next(d time.Time) (time.Time, bool) {
	if d.IsZero() {
		logging.Warnf("calendar: invalid date passed to Next")
		return time.Time{}, false
	}
	days := c.snapshot()
	d = types.Day(d)
	i := sort.Search(len(days), func(i int) bool { return days[i].After(d) })
	if i == len(days) {
		return time.Time{}, false
	}
	return days[i], true
}

// OnOrBefore returns the last trading day not after d
func (c *Calendar) OnOrBefore(d time.Time) (time.Time, bool) {
	if c.IsTradingDay(d) {
		return types.Day(d), true
	}
	return c.Prev(d)
}

// OnOrAfter returns the first trading day not before d
func (c *Calendar) OnOrAfter(d time.Time) (time.Time, bool) {
	if c.IsTradingDay(d) {
		return types.Day(d), true
	}
	return c.Next(d)
}

// Range returns the trading days in [start, end]
func (c *Calendar) Range(start, end time.Time) []time.Time {
	if start.IsZero() || end.IsZero() {
		logging.Warnf("calendar: invalid range bounds")
		return nil
	}
	days := c.snapshot()
	start, end = types.Day(start), types.Day(end)
	lo := sort.Search(len(days), func(i int) bool { return !days[i].Before(start) })
	hi := sort.Search(len(days), func(i int) bool { return days[i].After(end) })
	if lo >= hi {
		return nil
	}
	out := make([]time.Time, hi-lo)
	copy(out, days[lo:hi])
	return out
}

// Days returns a copy of all loaded trading days
func (c *Calendar) Days() []time.Time {
	days := c.snapshot()
	out := make([]time.Time, len(days))
	copy(out, days)
	return out
}

func readFile(path string) ([]time.Time, error) {
	f, err := os.Open(path) // #nosec G304 - path comes from configuration
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrResourceMissing, path)
		}
		return nil, fmt.Errorf("failed to open calendar: %w", err)
	}
	defer f.Close()

	return parse(f)
}

func parse(r io.Reader) ([]time.Time, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var days []time.Time
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read calendar: %w", err)
		}
		line++
		if len(record) == 0 || strings.TrimSpace(record[0]) == "" {
			continue
		}
		d, err := types.ParseDay(strings.TrimSpace(record[0]))
		if err != nil {
			if line == 1 {
				continue // header
			}
			return nil, fmt.Errorf("calendar line %d: %w", line, err)
		}
		days = append(days, d)
	}
	return normalize(days), nil
}

func normalize(days []time.Time) []time.Time {
	out := make([]time.Time, 0, len(days))
	for _, d := range days {
		out = append(out, types.Day(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })

	// dedupe
	uniq := out[:0]
	for i, d := range out {
		if i == 0 || !d.Equal(out[i-1]) {
			uniq = append(uniq, d)
		}
	}
	return uniq
}
