package tenant

// Status is the lifecycle state of a hostname in the registry.
type Status int

const (
	Absent Status = iota
	Initializing
	Ready
	// Failed is reported only to the requests that joined the failed
	// attempt. The registry keeps no failed entries, the next request
	// initializes from scratch.
	Failed
)

func (s Status) String() string {
	switch s {
	case Absent:
		return "absent"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
