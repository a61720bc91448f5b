package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/pitchtime/internal/blob"
	"github.com/roach88/pitchtime/internal/blob/memory"
	"github.com/roach88/pitchtime/internal/participant"
	"github.com/roach88/pitchtime/internal/protocol"
	"github.com/roach88/pitchtime/internal/schedule"
	"github.com/roach88/pitchtime/internal/session"
	"github.com/roach88/pitchtime/internal/store"
	"github.com/roach88/pitchtime/internal/testutil"
	"github.com/roach88/pitchtime/internal/timeline"
)

// Result is the outcome of a scenario.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Errors holds one message per failed assertion.
	Errors []string `json:"errors,omitempty"`

	// Session is the recorded session; zero when the start failed.
	Session store.Session `json:"session"`

	// Experiment is what the runner would have received.
	Experiment *timeline.Experiment `json:"experiment,omitempty"`

	// Schedule is the schedule that was served.
	Schedule schedule.Schedule `json:"schedule,omitempty"`
}

// newResult creates a passing result.
func newResult() *Result {
	return &Result{Pass: true, Errors: []string{}}
}

// addError records a failure.
func (r *Result) addError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// Run executes a scenario against fresh in-memory stores.
//
// An error is returned only when the scenario cannot be executed at all
// (bad protocol, bad schedule); assertion failures are reported in Result.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	p, errs := protocol.Load(scenario.Protocol, protocol.LoadModeFailFast)
	if len(errs) > 0 {
		return nil, fmt.Errorf("load protocol: %w", errs[0])
	}
	sched, err := scenario.buildSchedule()
	if err != nil {
		return nil, fmt.Errorf("schedule: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	blobs := memory.New()
	if sched != nil {
		// Resolve with an identical script to learn which key the service
		// will read.
		res := participant.Resolve(scenario.Participant, p.Participants, testutil.NewScriptedSource(scenario.Random...))
		data, err := sched.Marshal()
		if err != nil {
			return nil, fmt.Errorf("schedule: %w", err)
		}
		key := schedule.Key(schedule.DefaultPrefix, res.ID)
		if _, err := blobs.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{ContentType: "application/json"}); err != nil {
			return nil, fmt.Errorf("store schedule: %w", err)
		}
	}

	svc, err := session.New(p, schedule.NewSource(blobs, schedule.DefaultPrefix), st,
		session.WithRandomSource(testutil.NewScriptedSource(scenario.Random...)),
		session.WithTokenGenerator(testutil.NewFixedTokenGenerator(scenario.Token)))
	if err != nil {
		return nil, err
	}

	result := newResult()
	result.Schedule = sched

	started, err := svc.Start(ctx, scenario.Participant)
	if scenario.ExpectError != "" {
		switch {
		case err == nil:
			result.addError(fmt.Sprintf("expected start to fail with %q, but it succeeded", scenario.ExpectError))
		case !strings.Contains(err.Error(), scenario.ExpectError):
			result.addError(fmt.Sprintf("expected error containing %q, got %q", scenario.ExpectError, err.Error()))
		}
		return result, nil
	}
	if errors.Is(err, session.ErrScheduleUnavailable) {
		result.addError(err.Error())
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	result.Session = started.Session
	result.Experiment = started.Experiment
	for i, a := range scenario.Assertions {
		if err := evaluate(started.Experiment, sched, a); err != nil {
			result.addError(fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return result, nil
}
