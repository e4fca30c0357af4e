package definition

// ObservabilitySink is the single structured-event collaborator that
// arbiter, resync and delta push through instead of logging directly to
// stdout (spec.md §7: "the core never logs to stdout in production paths;
// it emits structured events to an observability collaborator").
type ObservabilitySink interface {
	Event(kind string, fields map[string]interface{})
}

// Event kinds emitted by the engine. These are names, not a closed enum,
// so embedders can match on them without importing internal packages.
const (
	EventNoMajorityHash = "no_majority_hash"
	EventDesynced       = "desynced"
	EventResynced       = "resynced"
	EventRollback       = "rollback"
	EventMissingSnapshot = "missing_snapshot"
	EventDegradation    = "degradation_tier"
	EventResyncTimeout  = "resync_timeout"
	EventFatal          = "fatal"
)

// NoopSink discards every event; useful as a zero-value default.
type NoopSink struct{}

func (NoopSink) Event(string, map[string]interface{}) {}

// LoggerSink adapts a Logger into an ObservabilitySink by formatting
// fields at Debug level — the smallest possible bridge for callers that
// only want the event stream as log lines.
type LoggerSink struct {
	Log Logger
}

func (s LoggerSink) Event(kind string, fields map[string]interface{}) {
	s.Log.Debugf("event %s %#v", kind, fields)
}
