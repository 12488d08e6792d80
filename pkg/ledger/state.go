package ledger

import "github.com/google/uuid"

// State is a step of the withdrawal state machine.
type State string

const (
	StateValidating       State = "VALIDATING"
	StateFetchingAccounts State = "FETCHING_ACCOUNTS"
	StateCreditingMaster  State = "CREDITING_MASTER"
	StateDebitingSource   State = "DEBITING_SOURCE"
	StateCompleted        State = "COMPLETED"
	StateAborted          State = "ABORTED"
	StateInconsistent     State = "INCONSISTENT"
)

// IsTerminal reports whether the withdrawal has finished.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateAborted || s == StateInconsistent
}

// Result is the outcome of a withdrawal. TransferID is uuid.Nil when the
// withdrawal was rejected before an intent was recorded.
type Result struct {
	TransferID uuid.UUID `json:"transferId"`
	State      State     `json:"state"`
}
