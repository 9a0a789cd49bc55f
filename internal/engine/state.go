package engine

// State is the lifecycle stage of one engine invocation.
type State int

const (
	// StateIdle is the state before Run starts.
	StateIdle State = iota
	// StatePublicIPResolving is entered once while the caller's public IP is looked up.
	StatePublicIPResolving
	// StateProbesRunning is entered when the probes are launched.
	StateProbesRunning
	// StateMerging is entered once every probe has finished.
	StateMerging
	// StateDone is terminal.
	StateDone
)

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePublicIPResolving:
		return "public_ip_resolving"
	case StateProbesRunning:
		return "probes_running"
	case StateMerging:
		return "merging"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}
