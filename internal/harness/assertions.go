package harness

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/pitchtime/internal/schedule"
	"github.com/roach88/pitchtime/internal/timeline"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Events   []string // Top-level event sequence for context
}

// Error implements the error interface. The event sequence is summarized
// with runs collapsed, so 240 alternating tones/response records stay short.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s: expected %s, got %s", e.Type, e.Expected, e.Actual)
	if len(e.Events) > 0 {
		fmt.Fprintf(&buf, " (timeline: %s)", summarize(e.Events))
	}
	return buf.String()
}

func summarize(events []string) string {
	var parts []string
	for i := 0; i < len(events); {
		j := i
		for j < len(events) && events[j] == events[i] {
			j++
		}
		if j-i > 1 {
			parts = append(parts, fmt.Sprintf("%s×%d", events[i], j-i))
		} else {
			parts = append(parts, events[i])
		}
		i = j
	}
	return strings.Join(parts, " ")
}

func evaluate(exp *timeline.Experiment, sched schedule.Schedule, a Assertion) error {
	switch a.Type {
	case AssertTimelineCount:
		return assertTimelineCount(exp, a)
	case AssertTimelineOrder:
		return assertTimelineOrder(exp, a)
	case AssertPreloadUnique:
		return assertPreloadUnique(exp)
	case AssertPreloadCount:
		return assertPreloadCount(exp, a)
	case AssertBreaksBetweenBlocks:
		return assertBreaksBetweenBlocks(exp, sched)
	case AssertRecordField:
		return assertRecordField(exp, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertTimelineCount checks how often an event occurs among top-level
// records.
func assertTimelineCount(exp *timeline.Experiment, a Assertion) error {
	events := exp.Events()
	count := 0
	for _, ev := range events {
		if ev == a.Event {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTimelineCount,
			Expected: fmt.Sprintf("%d × %s", a.Count, a.Event),
			Actual:   strconv.Itoa(count),
			Events:   events,
		}
	}
	return nil
}

// assertTimelineOrder checks that the first occurrence of each event comes
// after the first occurrence of the one before it. Other records may sit in
// between.
func assertTimelineOrder(exp *timeline.Experiment, a Assertion) error {
	events := exp.Events()
	positions := make(map[string]int)
	for i, ev := range events {
		if _, seen := positions[ev]; !seen {
			positions[ev] = i + 1
		}
	}

	for _, ev := range a.Events {
		if positions[ev] == 0 {
			return &AssertionError{
				Type:     AssertTimelineOrder,
				Expected: fmt.Sprintf("all events present: %v", a.Events),
				Actual:   fmt.Sprintf("missing event %s", ev),
				Events:   events,
			}
		}
	}
	for i := 1; i < len(a.Events); i++ {
		prev, curr := a.Events[i-1], a.Events[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTimelineOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Events: events,
			}
		}
	}
	return nil
}

func assertPreloadUnique(exp *timeline.Experiment) error {
	seen := make(map[string]bool, len(exp.Preload))
	for _, p := range exp.Preload {
		if seen[p] {
			return &AssertionError{
				Type:     AssertPreloadUnique,
				Expected: "every preload path once",
				Actual:   fmt.Sprintf("%s listed twice", p),
			}
		}
		seen[p] = true
	}
	return nil
}

func assertPreloadCount(exp *timeline.Experiment, a Assertion) error {
	if len(exp.Preload) != a.Count {
		return &AssertionError{
			Type:     AssertPreloadCount,
			Expected: fmt.Sprintf("%d paths", a.Count),
			Actual:   fmt.Sprintf("%d paths %v", len(exp.Preload), exp.Preload),
		}
	}
	return nil
}

// assertBreaksBetweenBlocks checks that the main trials are split by break
// screens exactly at block boundaries, with no break after the last block.
func assertBreaksBetweenBlocks(exp *timeline.Experiment, sched schedule.Schedule) error {
	events := exp.Events()
	var segments []int
	current, inMain := 0, false
	for _, ev := range events {
		switch ev {
		case timeline.EventSummary:
			inMain = true
		case timeline.EventTones:
			current++
		case timeline.EventBreak:
			segments = append(segments, current)
			current = 0
		case timeline.EventEnding:
			if inMain {
				segments = append(segments, current)
				inMain = false
			}
		}
	}

	want := make([]int, len(sched))
	for i, block := range sched {
		want[i] = len(block)
	}
	if fmt.Sprint(segments) != fmt.Sprint(want) {
		return &AssertionError{
			Type:     AssertBreaksBetweenBlocks,
			Expected: fmt.Sprintf("trials per segment %v", want),
			Actual:   fmt.Sprintf("%v", segments),
			Events:   events,
		}
	}
	return nil
}

// assertRecordField compares one field of one top-level record, addressed
// by a dot path into its JSON form ("data.event", "choices.0").
func assertRecordField(exp *timeline.Experiment, a Assertion) error {
	idx := a.Index
	if idx < 0 {
		idx += len(exp.Timeline)
	}
	if idx < 0 || idx >= len(exp.Timeline) {
		return &AssertionError{
			Type:     AssertRecordField,
			Expected: fmt.Sprintf("record %d", a.Index),
			Actual:   fmt.Sprintf("timeline has %d records", len(exp.Timeline)),
		}
	}

	data, err := json.Marshal(exp.Timeline[idx])
	if err != nil {
		return err
	}
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return err
	}

	actual, ok := lookup(tree, a.Field)
	if !ok {
		return &AssertionError{
			Type:     AssertRecordField,
			Expected: fmt.Sprintf("%s = %v", a.Field, a.Value),
			Actual:   "field missing",
		}
	}
	if fmt.Sprint(actual) != fmt.Sprint(a.Value) {
		return &AssertionError{
			Type:     AssertRecordField,
			Expected: fmt.Sprintf("%s = %v", a.Field, a.Value),
			Actual:   fmt.Sprint(actual),
		}
	}
	return nil
}

func lookup(tree any, path string) (any, bool) {
	cur := tree
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}
