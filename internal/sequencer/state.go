package sequencer

// State is the transaction flow's current phase. Flows move strictly
// forward; a failure at any phase lands in StateFailed and the flow must
// be restarted explicitly, never retried automatically.
type State int

const (
	StateIdle State = iota
	StateAwaitingApprovalSignature
	StateApprovalPending
	StateApprovalConfirmed
	StateAwaitingActionSignature
	StateActionPending
	StateActionConfirmed
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:                      "idle",
	StateAwaitingApprovalSignature: "awaiting_approval_signature",
	StateApprovalPending:           "approval_pending",
	StateApprovalConfirmed:         "approval_confirmed",
	StateAwaitingActionSignature:   "awaiting_action_signature",
	StateActionPending:             "action_pending",
	StateActionConfirmed:           "action_confirmed",
	StateFailed:                    "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Observer receives every state transition. Called synchronously from the
// flow goroutine; keep it fast.
type Observer func(from, to State)
