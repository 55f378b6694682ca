package progress

// State represents a discovery run state.
type State int

const (
	StateIdle               State = iota // Run not started
	StateCollectingSeeds                 // Gathering seed artists
	StateFetchingSimilarity              // Querying the similarity provider
	StateMatchingLibrary                 // Matching candidates against the library
	StateFinalizing                      // Shuffling, confirming and dispatching
	StateDone                            // Run succeeded
	StateFailed                          // Run failed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollectingSeeds:
		return "collecting_seeds"
	case StateFetchingSimilarity:
		return "fetching_similarity"
	case StateMatchingLibrary:
		return "matching_library"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal returns true for Done and Failed.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// Event represents one progress update of a discovery run.
type Event struct {
	RunID      string
	SequenceNo uint64 // Assigned by the broadcaster
	Auto       bool   // Run was triggered by the auto-queue controller
	State      State
	Index      int    // 1-based position of the current seed or artist
	Total      int    // Number of seeds or artists in the current step
	Artist     string // Artist being processed
	Title      string // Track being matched, if any
	Matched    int    // Tracks matched so far
	Message    string // Outcome message on terminal events
}
