package scheduler

import (
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// InvocationMode selects how the Operation Dispatcher runs user
// functions.
type InvocationMode string

const (
	// InvocationInProcess dispatches one handler call per operation
	// against the Registry.
	InvocationInProcess InvocationMode = "in_process"
	// InvocationOutOfProcess dispatches one subprocess call per batch.
	InvocationOutOfProcess InvocationMode = "out_of_process"
)

func isValidInvocationMode(m InvocationMode) bool {
	return m == InvocationInProcess || m == InvocationOutOfProcess
}

// Config is the declarative, YAML-loadable configuration for one
// entity class's scheduler: a required "kind" discriminator
// (InvocationMode) plus mode-specific sub-config, validated with a
// required-field-then-cross-reference discipline.
type Config struct {
	ClassName      string         `json:"class_name" yaml:"class_name"`
	InvocationMode InvocationMode `json:"invocation_mode" yaml:"invocation_mode"`
	BatchSizeLimit int            `json:"batch_size_limit,omitempty" yaml:"batch_size_limit,omitempty"`
	OutOfProcess   *ProcessConfig `json:"out_of_process,omitempty" yaml:"out_of_process,omitempty"`
	Sweep          SweepConfig    `json:"sweep,omitempty" yaml:"sweep,omitempty"`
}

// ProcessConfig names the external worker command for
// InvocationOutOfProcess. Requesting out-of-process mode without a
// valid command is a fatal startup error, not a deferred one.
type ProcessConfig struct {
	Command string   `json:"command" yaml:"command"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// SweepConfig controls the outbox/idle sweeper cadence, an ambient
// operational concern layered around the core loop (see
// runtime.Sweeper).
type SweepConfig struct {
	Enabled  bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}

// Validate performs structural validation: required fields first, then
// mode-specific cross-checks.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ClassName) == "" {
		return fmt.Errorf("scheduler: config requires class_name")
	}
	if !isValidInvocationMode(c.InvocationMode) {
		return fmt.Errorf("scheduler: class %s requires invocation_mode (%s|%s)",
			c.ClassName, InvocationInProcess, InvocationOutOfProcess)
	}
	if c.BatchSizeLimit < 0 {
		return fmt.Errorf("scheduler: class %s batch_size_limit must be >= 0", c.ClassName)
	}
	if c.InvocationMode == InvocationOutOfProcess {
		if c.OutOfProcess == nil || strings.TrimSpace(c.OutOfProcess.Command) == "" {
			return fmt.Errorf("scheduler: class %s requires out_of_process.command", c.ClassName)
		}
	}
	if c.Sweep.Enabled && strings.TrimSpace(c.Sweep.Schedule) == "" {
		return fmt.Errorf("scheduler: class %s sweep.enabled requires sweep.schedule", c.ClassName)
	}
	return nil
}

// Set is a named collection of per-class configs loaded from a single
// YAML document, grouping related class definitions under one file.
type Set struct {
	Version int      `json:"version" yaml:"version"`
	Classes []Config `json:"classes" yaml:"classes"`
}

// Validate checks every class definition and rejects duplicate class names.
func (s Set) Validate() error {
	seen := make(map[string]struct{}, len(s.Classes))
	for idx, c := range s.Classes {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("classes[%d]: %w", idx, err)
		}
		if _, dup := seen[c.ClassName]; dup {
			return fmt.Errorf("classes[%d]: duplicate class_name %s", idx, c.ClassName)
		}
		seen[c.ClassName] = struct{}{}
	}
	return nil
}

// LoadSet decodes a Set from its YAML document form (the format
// Config/SweepConfig/ProcessConfig's yaml tags describe) and validates
// it before returning, so callers never hold a Set that wouldn't pass
// Validate.
func LoadSet(r io.Reader) (Set, error) {
	var s Set
	if err := yaml.NewDecoder(r).Decode(&s); err != nil {
		return Set{}, fmt.Errorf("scheduler: decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Set{}, err
	}
	return s, nil
}

// Lookup returns the Config for className, if present.
func (s Set) Lookup(className string) (Config, bool) {
	for _, c := range s.Classes {
		if c.ClassName == className {
			return c, true
		}
	}
	return Config{}, false
}
