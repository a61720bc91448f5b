package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/pitchtime/internal/canonical"
	"github.com/roach88/pitchtime/internal/timeline"
)

// Snapshot is the golden form of a scenario run.
type Snapshot struct {
	ScenarioName string               `json:"scenario_name"`
	Token        string               `json:"session"`
	Subject      int                  `json:"subject"`
	Assigned     bool                 `json:"assigned"`
	TimelineHash string               `json:"timeline_hash"`
	Experiment   *timeline.Experiment `json:"experiment"`
}

// SnapshotJSON renders the canonical golden bytes for a result.
func SnapshotJSON(name string, result *Result) ([]byte, error) {
	return canonical.Marshal(Snapshot{
		ScenarioName: name,
		Token:        result.Session.Token,
		Subject:      result.Session.Subject,
		Assigned:     result.Session.Assigned,
		TimelineHash: result.Session.TimelineHash,
		Experiment:   result.Experiment,
	})
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden. Options override the fixture
// location.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...goldie.Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	data, err := SnapshotJSON(scenario.Name, result)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t, append([]goldie.Option{
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	}, opts...)...)
	g.Assert(t, scenario.Name, data)
	return result, nil
}
