package reload

// Action is the decision taken for one iteration.
type Action int

const (
	ActionStart Action = iota
	ActionContinue
	ActionSkipped
	ActionSoftReload
	ActionHardRestart
	ActionStop
)

func (a Action) String() string {
	switch a {
	case ActionStart:
		return "start"
	case ActionContinue:
		return "continue"
	case ActionSkipped:
		return "skipped"
	case ActionSoftReload:
		return "soft_reload"
	case ActionHardRestart:
		return "hard_restart"
	case ActionStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Event reports one controller decision to an observer.
type Event struct {
	Err        error
	Iteration  uint64
	Generation uint64 // current generation after the action
	Attempt    uint64 // generation whose load was attempted; zero for start, continue and stop
	Action     Action
	Changed    bool // artifact modification time differed
	Transient  bool // skipped load is expected to succeed after a rebuild
	Restart    bool // module asked for a restart
}

// Observer receives every event synchronously, from the goroutine running
// the controller.
type Observer func(Event)
