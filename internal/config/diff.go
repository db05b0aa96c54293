package config

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	logx "cadence/pkg/logx"
)

// Change summarizes what a reload touched.
type Change struct {
	// Sections lists changed top-level blocks (debug, jobs, logging, runner, storage).
	Sections []string

	// Job names, sorted.
	Added   []string
	Removed []string
	Changed []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// Fields returns safe structured attrs for logging (never includes secrets
// like tokens).
func (c Change) Fields() []logx.Field {
	return []logx.Field{
		logx.String("sections", strings.Join(c.Sections, ",")),
		logx.Int("jobs.added", len(c.Added)),
		logx.Int("jobs.removed", len(c.Removed)),
		logx.Int("jobs.changed", len(c.Changed)),
	}
}

// Diff compares two snapshots. A nil snapshot counts as empty.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var c Change

	if hashJSON(oldCfg.Logging) != hashJSON(newCfg.Logging) {
		c.Sections = append(c.Sections, "logging")
	}
	if hashJSON(oldCfg.Debug) != hashJSON(newCfg.Debug) {
		c.Sections = append(c.Sections, "debug")
	}
	if hashJSON(oldCfg.Storage) != hashJSON(newCfg.Storage) {
		c.Sections = append(c.Sections, "storage")
	}

	// Timezone and default policy feed every job's effective settings.
	runnerJobsDirty := strings.TrimSpace(oldCfg.Runner.Timezone) != strings.TrimSpace(newCfg.Runner.Timezone) ||
		strings.TrimSpace(oldCfg.Runner.MissedPolicy) != strings.TrimSpace(newCfg.Runner.MissedPolicy)
	if runnerJobsDirty || hashJSON(oldCfg.Runner) != hashJSON(newCfg.Runner) {
		c.Sections = append(c.Sections, "runner")
	}

	oldJobs := indexJobs(oldCfg.Jobs)
	newJobs := indexJobs(newCfg.Jobs)
	for name, nj := range newJobs {
		oj, ok := oldJobs[name]
		switch {
		case !ok:
			c.Added = append(c.Added, name)
		case runnerJobsDirty || hashJSON(oj) != hashJSON(nj):
			c.Changed = append(c.Changed, name)
		}
	}
	for name := range oldJobs {
		if _, ok := newJobs[name]; !ok {
			c.Removed = append(c.Removed, name)
		}
	}
	sort.Strings(c.Added)
	sort.Strings(c.Removed)
	sort.Strings(c.Changed)
	if len(c.Added)+len(c.Removed)+len(c.Changed) > 0 {
		c.Sections = append(c.Sections, "jobs")
	}
	sort.Strings(c.Sections)
	return c
}

func indexJobs(jobs []JobConfig) map[string]JobConfig {
	m := make(map[string]JobConfig, len(jobs))
	for _, j := range jobs {
		m[j.Name] = j
	}
	return m
}

func hashJSON(v any) uint64 {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	return xxhash.Sum64(b)
}
