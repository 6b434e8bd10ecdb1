package retrieval

import (
	"fmt"
	"slices"
	"strings"
)

// Result summarises one device pass.
type Result struct {
	Address string

	// Pages is the number of pages ingested.
	Pages int

	// Accepted counts readings handed to the engine without error, per sensor.
	Accepted map[int]int

	// Remain is the remain count of the last page read.
	Remain int

	Sentinels int
	Stale     int
	Failed    int

	// NoContent is set when the node had nothing to report.
	NoContent bool

	// Aborted is set when a malformed response ended the pass.
	Aborted bool

	// Disconnected is set when retries ran out. Reset reports whether the
	// device survived through a reset.
	Disconnected bool
	Reset        bool
}

func newResult(address string) *Result {
	return &Result{Address: address, Accepted: make(map[int]int)}
}

// Total returns the number of accepted readings across sensors.
func (r *Result) Total() int {
	n := 0
	for _, c := range r.Accepted {
		n += c
	}
	return n
}

// Summary renders accepted counts by ascending sensor id,
// e.g. "sensor 1: 3 rec, sensor 2: 1 rec".
func (r *Result) Summary() string {
	ids := make([]int, 0, len(r.Accepted))
	for id := range r.Accepted {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("sensor %d: %d rec", id, r.Accepted[id])
	}
	return strings.Join(parts, ", ")
}
