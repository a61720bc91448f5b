package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/pitchtime/internal/schedule"
)

// Scenario defines one timeline test.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Protocol is a CUE directory. Relative paths are resolved against the
	// scenario file. Empty means the embedded default protocol.
	Protocol string `yaml:"protocol,omitempty"`

	// Participant is the raw identifier as received from the browser.
	Participant string `yaml:"participant"`

	// Random scripts the identifier assignment source.
	Random []int `yaml:"random,omitempty"`

	// Token is the fixed session token.
	Token string `yaml:"token,omitempty"`

	// Schedule is an inline schedule: blocks of [octave, shift, offset].
	Schedule any `yaml:"schedule,omitempty"`

	// Generate builds the schedule instead of listing it.
	Generate *GenerateSpec `yaml:"generate,omitempty"`

	// NoSchedule leaves the store empty, for scenarios about the failure path.
	NoSchedule bool `yaml:"no_schedule,omitempty"`

	// ExpectError, when set, requires the session start to fail with an
	// error containing this text. Assertions are then skipped.
	ExpectError string `yaml:"expect_error,omitempty"`

	// Assertions validate the served experiment.
	Assertions []Assertion `yaml:"assertions"`
}

// GenerateSpec parameterizes schedule generation. Zero fields take the
// schedule package defaults.
type GenerateSpec struct {
	Seed        uint64 `yaml:"seed"`
	Blocks      int    `yaml:"blocks,omitempty"`
	Repetitions int    `yaml:"repetitions,omitempty"`
}

// Assertion validates the served experiment.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Event names a record event (timeline_count).
	Event string `yaml:"event,omitempty"`

	// Count is the expected number (timeline_count, preload_count).
	Count int `yaml:"count,omitempty"`

	// Events is the expected relative order (timeline_order).
	Events []string `yaml:"events,omitempty"`

	// Index selects a top-level record; negative counts from the end
	// (record_field).
	Index int `yaml:"index,omitempty"`

	// Field is a dot path into the record's JSON form (record_field).
	Field string `yaml:"field,omitempty"`

	// Value is the expected field value, compared in its printed form
	// (record_field).
	Value any `yaml:"value,omitempty"`
}

// Assertion type constants.
const (
	AssertTimelineCount       = "timeline_count"
	AssertTimelineOrder       = "timeline_order"
	AssertPreloadUnique       = "preload_unique"
	AssertPreloadCount        = "preload_count"
	AssertBreaksBetweenBlocks = "breaks_between_blocks"
	AssertRecordField         = "record_field"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Protocol != "" && !filepath.IsAbs(scenario.Protocol) {
		scenario.Protocol = filepath.Join(filepath.Dir(path), scenario.Protocol)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	sources := 0
	if s.Schedule != nil {
		sources++
	}
	if s.Generate != nil {
		sources++
	}
	if s.NoSchedule {
		sources++
	}
	if sources != 1 {
		return fmt.Errorf("exactly one of schedule, generate or no_schedule is required")
	}

	if s.ExpectError == "" && len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.Protocol != "" {
		if _, err := os.Stat(s.Protocol); err != nil {
			return fmt.Errorf("protocol directory not found: %s", s.Protocol)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertTimelineCount:
		if a.Event == "" {
			return fmt.Errorf("timeline_count requires event")
		}
		if a.Count < 0 {
			return fmt.Errorf("timeline_count requires count >= 0")
		}
	case AssertTimelineOrder:
		if len(a.Events) < 2 {
			return fmt.Errorf("timeline_order requires at least 2 events")
		}
	case AssertPreloadCount:
		if a.Count < 0 {
			return fmt.Errorf("preload_count requires count >= 0")
		}
	case AssertPreloadUnique, AssertBreaksBetweenBlocks:
	case AssertRecordField:
		if a.Field == "" {
			return fmt.Errorf("record_field requires field")
		}
		if a.Value == nil {
			return fmt.Errorf("record_field requires value")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// buildSchedule returns the scenario's schedule. NoSchedule yields nil.
func (s *Scenario) buildSchedule() (schedule.Schedule, error) {
	switch {
	case s.Generate != nil:
		opts := schedule.DefaultGenerateOptions()
		if s.Generate.Blocks > 0 {
			opts.Blocks = s.Generate.Blocks
		}
		if s.Generate.Repetitions > 0 {
			opts.Repetitions = s.Generate.Repetitions
		}
		return schedule.Generate(opts, schedule.NewRand(s.Generate.Seed))
	case s.Schedule != nil:
		data, err := json.Marshal(s.Schedule)
		if err != nil {
			return nil, fmt.Errorf("inline schedule: %w", err)
		}
		return schedule.Parse(data)
	default:
		return nil, nil
	}
}
