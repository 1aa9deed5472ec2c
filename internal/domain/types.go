package domain

// Status represents the lifecycle state of one repo's pipeline
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusBranching  Status = "branching"
	StatusAdapting   Status = "adapting"
	StatusTesting    Status = "testing"
	StatusFixing     Status = "fixing"
	StatusReviewing  Status = "reviewing"
	StatusCommitting Status = "committing"
	StatusPushing    Status = "pushing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// Terminal reports whether the status is a terminal state.
// done, failed and skipped are sticky: a pipeline never leaves them.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusSkipped
}

// Role distinguishes the repo that originates a change from the repos
// that consume it
type Role string

const (
	RoleSource   Role = "source"
	RoleConsumer Role = "consumer"
)

// EventType identifies a lifecycle event published during a run
type EventType string

const (
	EventRunStarted   EventType = "cascade.started"
	EventRunCompleted EventType = "cascade.completed"
	EventBranching    EventType = "repo.branching"
	EventAdapting     EventType = "repo.adapting"
	EventOutput       EventType = "repo.output"
	EventTesting      EventType = "repo.testing"
	EventFixing       EventType = "repo.fixing"
	EventReviewing    EventType = "repo.reviewing"
	EventCommitting   EventType = "repo.committing"
	EventPushing      EventType = "repo.pushing"
	EventDone         EventType = "repo.done"
	EventFailed       EventType = "repo.failed"
	EventSkipped      EventType = "repo.skipped"

	EventDiscoveryStarted   EventType = "discovery.started"
	EventDiscoveryCompleted EventType = "discovery.completed"
)

// Event is a lifecycle notification delivered to bus subscribers.
// Repo-level events carry a snapshot of the repo state at publish time;
// run-level events carry the run result instead.
type Event struct {
	Type  EventType  `json:"type"`
	Repo  string     `json:"repo,omitempty"`
	Line  string     `json:"line,omitempty"`
	State *RepoState `json:"state,omitempty"`
	Run   *RunResult `json:"run,omitempty"`
}
