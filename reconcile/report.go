package reconcile

import (
	"time"

	"github.com/flynn/mongorole/pkg/roleerr"
)

// Outcome is the result of reconciling one resource.
type Outcome string

const (
	Unchanged Outcome = "unchanged"
	Changed   Outcome = "changed"
	Failed    Outcome = "failed"
)

// Result is the outcome for one managed resource. Resources are named
// "kind:identity", e.g. "file:/etc/mongod.conf" or "user:admin.root".
type Result struct {
	Resource string       `json:"resource"`
	Outcome  Outcome      `json:"outcome"`
	Detail   string       `json:"detail,omitempty"`
	Error    string       `json:"error,omitempty"`
	Kind     roleerr.Kind `json:"kind,omitempty"`
}

type Tally struct {
	Unchanged int `json:"unchanged"`
	Changed   int `json:"changed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	// Pending counts members left out of the set for now. They are also
	// counted as unchanged.
	Pending int `json:"pending"`
}

// Report is the record of one run against one node.
type Report struct {
	Node     string    `json:"node"`
	DryRun   bool      `json:"dry_run"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Results  []Result  `json:"results"`
	// Skipped lists resources not attempted because an earlier stage
	// failed fatally.
	Skipped []string `json:"skipped,omitempty"`
	// Pending lists desired members not yet in the live set because
	// their daemon was not reachable.
	Pending         []string `json:"pending,omitempty"`
	ReplicaSetState string   `json:"replset_state,omitempty"`
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
}

func (r *Report) Tally() Tally {
	t := Tally{Skipped: len(r.Skipped), Pending: len(r.Pending)}
	for _, res := range r.Results {
		switch res.Outcome {
		case Unchanged:
			t.Unchanged++
		case Changed:
			t.Changed++
		case Failed:
			t.Failed++
		}
	}
	return t
}

// Failed reports whether any resource failed or was skipped.
func (r *Report) Failed() bool {
	t := r.Tally()
	return t.Failed > 0 || t.Skipped > 0
}

func (r *Report) Changed() bool {
	return r.Tally().Changed > 0
}

// Lookup returns the result for resource, or nil.
func (r *Report) Lookup(resource string) *Result {
	for i := range r.Results {
		if r.Results[i].Resource == resource {
			return &r.Results[i]
		}
	}
	return nil
}

func (r *Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}
