package harness

// TraceEvent is one step's effect on the Store.
type TraceEvent struct {
	Step     int    `json:"step"`
	Type     string `json:"type"` // "submit", "arrive", "deliver" or "fail"
	Mutation string `json:"mutation"`
	Seq      int64  `json:"seq"`
	Action   string `json:"action,omitempty"`
	Status   string `json:"status,omitempty"`
	Stale    bool   `json:"stale,omitempty"`

	// View after the step. Lines render as "<merchandise>=<qty>", with a
	// trailing "*" while optimistic.
	Lines         []string `json:"lines"`
	TotalQuantity int      `json:"totalQuantity"`
	Pending       int      `json:"pending"`
}

// Trace event types.
const (
	EventSubmit  = "submit"
	EventArrive  = "arrive"
	EventDeliver = "deliver"
	EventFail    = "fail"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every expectation matched and no
	// invariant was violated.
	Pass bool `json:"pass"`

	// Trace contains one event per step other than expect.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and invariant failures.
	Errors []string `json:"errors,omitempty"`

	// SnapshotHash is the hash of the final confirmed snapshot, empty if
	// nothing was ever confirmed.
	SnapshotHash string `json:"snapshotHash,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a trace event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
