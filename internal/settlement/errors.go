package settlement

import (
	"fmt"

	"github.com/google/uuid"
)

// GatewayError wraps a failure talking to the external checkout gateway.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("settlement: gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// ReconciliationRequiredError marks the one unacceptable outcome: money moved
// and the corrective step could not be completed. It is never swallowed; the
// orchestrator records a ledger discrepancy and surfaces this to the operator
// path, not verbatim to the end user.
type ReconciliationRequiredError struct {
	WalletID    uuid.UUID
	AmountCents int64
	Cause       error
}

func (e *ReconciliationRequiredError) Error() string {
	return fmt.Sprintf("settlement: reconciliation required for wallet %s amount %d: %v", e.WalletID, e.AmountCents, e.Cause)
}

func (e *ReconciliationRequiredError) Unwrap() error {
	return e.Cause
}
