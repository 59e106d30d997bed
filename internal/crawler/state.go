package crawler

// State is a step of a single stream's crawl.
type State int

const (
	StateIdle State = iota
	StateComputingRange
	StateFetching
	// StatePublishing covers normalization and publication of one page.
	StatePublishing
	StateAdvancing
	StateDone
	StateAborted
)

var stateNames = [...]string{
	StateIdle:           "idle",
	StateComputingRange: "computing_range",
	StateFetching:       "fetching",
	StatePublishing:     "publishing",
	StateAdvancing:      "advancing_watermark",
	StateDone:           "done",
	StateAborted:        "aborted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
