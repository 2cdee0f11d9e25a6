// Package loopdetect tracks recent (name, args) tool-call pairs and flags
// repeats, per spec §4.4.
package loopdetect

import (
	"encoding/json"
	"fmt"
	"sync"
)

const (
	// DefaultMaxConsecutive is the default max_consecutive_identical_calls.
	DefaultMaxConsecutive = 2
	// DefaultWindow bounds how many calls the detector remembers.
	DefaultWindow = 10
)

type entry struct {
	name      string
	canonical string
}

// Detector tracks a sliding window of the most recent tool calls as
// (name, canonical-json-of-input) pairs.
type Detector struct {
	mu             sync.Mutex
	window         []entry
	maxWindow      int
	maxConsecutive int
}

// New returns a Detector with the given thresholds.
func New(maxConsecutive, window int) *Detector {
	if maxConsecutive <= 0 {
		maxConsecutive = DefaultMaxConsecutive
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Detector{maxWindow: window, maxConsecutive: maxConsecutive}
}

// Detection reports a run of identical consecutive tool calls.
type Detection struct {
	ToolName         string
	ConsecutiveCount int
}

// Check records one tool call and reports a detection when at least
// max_consecutive_identical_calls identical calls immediately precede it,
// so with the default of 2 the third identical call fires. On
// detection the tracker is cleared so a single recovery attempt is not
// immediately retriggered (spec §4.4).
func (d *Detector) Check(name string, input []byte) (Detection, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	canon := canonicalJSON(input)

	count := 0
	for i := len(d.window) - 1; i >= 0; i-- {
		if d.window[i].name == name && d.window[i].canonical == canon {
			count++
		} else {
			break
		}
	}

	if count >= d.maxConsecutive {
		d.window = nil
		return Detection{ToolName: name, ConsecutiveCount: count + 1}, true
	}

	d.window = append(d.window, entry{name: name, canonical: canon})
	if len(d.window) > d.maxWindow {
		d.window = d.window[len(d.window)-d.maxWindow:]
	}
	return Detection{}, false
}

// Clear empties the tracker without reporting a detection.
func (d *Detector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.window = nil
}

// canonicalJSON re-encodes input through json.Unmarshal/Marshal so that
// differing whitespace never counts as a different input; encoding/json
// marshals map keys in sorted order, giving a stable serialization.
func canonicalJSON(input []byte) string {
	if len(input) == 0 {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(input, &v); err != nil {
		return string(input)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(input)
	}
	return string(out)
}

// Message renders the byte-exact loop-detection text surfaced to the model
// as a tool result (spec §6).
func Message(d Detection) string {
	return fmt.Sprintf(
		"LOOP DETECTED: You have called '%s' %d times in a row with the same arguments. This appears to be a loop. Please try a DIFFERENT approach or tool. …",
		d.ToolName, d.ConsecutiveCount,
	)
}
