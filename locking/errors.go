package locking

import (
	"fmt"

	"github.com/jakewins/neo4j-sub001/utils"
)

// DeadlockError is returned to the client chosen to break a deadlock. It
// matches utils.ErrDeadlockDetected with errors.Is.
type DeadlockError struct {
	Session int64
	Cycle   *Cycle
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("%s: client %d was chosen as victim of [%s]", utils.ErrDeadlockDetected, e.Session, e.Cycle)
}

func (e *DeadlockError) Unwrap() error {
	return utils.ErrDeadlockDetected
}
