package quest

import "fmt"

// UnknownNodeError reports a reference to a node id that the level does not
// define. It is returned by [Compile] for dangling edges or start ids and by
// [Graph.NodeFor] for lookups of unknown ids.
type UnknownNodeError struct {
	// Level is the id of the level the lookup ran against.
	Level string

	// ID is the missing node id.
	ID NodeID

	// From is the node whose edge referenced ID. Empty for direct lookups and
	// for the start reference.
	From NodeID
}

func (e *UnknownNodeError) Error() string {
	if e.From != "" {
		return fmt.Sprintf("quest: level %q: node %q references unknown node %q", e.Level, e.From, e.ID)
	}
	return fmt.Sprintf("quest: level %q: unknown node %q", e.Level, e.ID)
}

// ValidationError wraps every structural problem found in one level. Err is
// usually an [errors.Join] of the individual problems, so [errors.As] reaches
// an embedded [*UnknownNodeError].
type ValidationError struct {
	Level string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("quest: invalid level %q: %v", e.Level, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
