// Package schedule holds the per-participant trial order: blocks of trials,
// each trial a (octave, pitch shift, onset offset) triple.
//
// On the wire a schedule is a JSON array of blocks of 3-tuples:
//
//	[[[4,"+",0],[4,"-",75],...],...]
package schedule

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Shift is the direction the final tone is moved in pitch.
type Shift string

const (
	ShiftUp   Shift = "+"
	ShiftDown Shift = "-"
)

// Valid reports whether s is one of the two recognised directions.
func (s Shift) Valid() bool { return s == ShiftUp || s == ShiftDown }

// Trial is one schedule entry.
type Trial struct {
	Octave int
	Shift  Shift
	Offset int // ms relative to the isochronous onset; negative is early
}

func (t Trial) String() string {
	return fmt.Sprintf("[%d,%q,%d]", t.Octave, string(t.Shift), t.Offset)
}

// MarshalJSON encodes the trial as its wire tuple.
func (t Trial) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{t.Octave, string(t.Shift), t.Offset})
}

// UnmarshalJSON decodes a wire tuple. The octave may be a number or a
// numeric string.
func (t *Trial) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("trial must be an array: %w", err)
	}
	if len(raw) != 3 {
		return fmt.Errorf("trial must have 3 elements, got %d", len(raw))
	}
	octave, err := decodeOctave(raw[0])
	if err != nil {
		return err
	}
	var shift string
	if err := json.Unmarshal(raw[1], &shift); err != nil {
		return fmt.Errorf("pitch shift must be a string: %w", err)
	}
	if !Shift(shift).Valid() {
		return fmt.Errorf("pitch shift must be %q or %q, got %q", ShiftUp, ShiftDown, shift)
	}
	offset, err := decodeInt(raw[2])
	if err != nil {
		return fmt.Errorf("offset: %w", err)
	}
	*t = Trial{Octave: octave, Shift: Shift(shift), Offset: offset}
	return nil
}

func decodeOctave(raw json.RawMessage) (int, error) {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("octave %q is not an integer", s)
		}
		return n, nil
	}
	n, err := decodeInt(raw)
	if err != nil {
		return 0, fmt.Errorf("octave: %w", err)
	}
	return n, nil
}

func decodeInt(raw json.RawMessage) (int, error) {
	// json.Number also accepts a quoted number.
	if t := bytes.TrimSpace(raw); len(t) == 0 || t[0] == '"' {
		return 0, fmt.Errorf("expected integer, got %s", raw)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var n json.Number
	if err := dec.Decode(&n); err != nil {
		return 0, fmt.Errorf("expected integer, got %s", raw)
	}
	v, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("expected integer, got %s", n)
	}
	return int(v), nil
}

// Schedule is the ordered list of blocks.
type Schedule [][]Trial

var (
	// ErrEmpty is returned for schedules with no blocks or an empty block.
	ErrEmpty = errors.New("schedule is empty")
	// ErrRagged is returned when blocks differ in length.
	ErrRagged = errors.New("schedule blocks differ in length")
	// ErrDimensions is returned when a pinned dimension does not match.
	ErrDimensions = errors.New("schedule dimensions mismatch")
)

// Parse decodes the tuple wire form.
func Parse(data []byte) (Schedule, error) {
	var s Schedule
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}
	return s, nil
}

// Dimensions returns the block count and the longest block's length.
func (s Schedule) Dimensions() (blocks, trialsPerBlock int) {
	for _, b := range s {
		trialsPerBlock = max(trialsPerBlock, len(b))
	}
	return len(s), trialsPerBlock
}

// TotalTrials counts every trial across blocks.
func (s Schedule) TotalTrials() int {
	n := 0
	for _, b := range s {
		n += len(b)
	}
	return n
}

// Validate checks the schedule is rectangular and non-empty. A positive
// blocks or trialsPerBlock must match exactly; zero leaves it unpinned.
func (s Schedule) Validate(blocks, trialsPerBlock int) error {
	if len(s) == 0 {
		return ErrEmpty
	}
	width := len(s[0])
	for i, b := range s {
		if len(b) == 0 {
			return fmt.Errorf("block %d: %w", i+1, ErrEmpty)
		}
		if len(b) != width {
			return fmt.Errorf("block %d has %d trials, block 1 has %d: %w", i+1, len(b), width, ErrRagged)
		}
		for j, t := range b {
			if !t.Shift.Valid() {
				return fmt.Errorf("block %d trial %d: invalid pitch shift %q", i+1, j+1, t.Shift)
			}
		}
	}
	if blocks > 0 && len(s) != blocks {
		return fmt.Errorf("want %d blocks, got %d: %w", blocks, len(s), ErrDimensions)
	}
	if trialsPerBlock > 0 && width != trialsPerBlock {
		return fmt.Errorf("want %d trials per block, got %d: %w", trialsPerBlock, width, ErrDimensions)
	}
	return nil
}

// Marshal encodes the schedule in wire form, one block per line.
func (s Schedule) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, b := range s {
		if i > 0 {
			buf.WriteString(",\n ")
		}
		enc, err := json.Marshal(b)
		if err != nil {
			return nil, err
		}
		buf.Write(enc)
	}
	buf.WriteString("]\n")
	return buf.Bytes(), nil
}
