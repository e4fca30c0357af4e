package definition

import "github.com/davecgh/go-spew/spew"

// SpewSink formats event fields with go-spew before handing them to a
// Logger's Debugf path — useful for local debugging sessions where the
// default `%#v` formatting of nested maps/slices is too terse.
type SpewSink struct {
	Log Logger
}

func (s SpewSink) Event(kind string, fields map[string]interface{}) {
	s.Log.Debugf("event %s:\n%s", kind, spew.Sdump(fields))
}
