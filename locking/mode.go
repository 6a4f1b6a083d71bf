package locking

// LockMode is the kind of hold a client has, or asks for, on a resource.
// The numeric value is the mode's stable index.
type LockMode uint8

const (
	Exclusive LockMode = 0
	Shared    LockMode = 1
	// Upgrade is a shared holder waiting to become the exclusive holder.
	Upgrade LockMode = 2
	None    LockMode = 4
)

func (m LockMode) Index() int {
	return int(m)
}

func (m LockMode) String() string {
	switch m {
	case Exclusive:
		return "EXCLUSIVE"
	case Shared:
		return "SHARED"
	case Upgrade:
		return "UPGRADE"
	case None:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// AcquireMode says whether an acquire may park the calling goroutine.
type AcquireMode uint8

const (
	Blocking AcquireMode = iota
	NonBlocking
)

func (m AcquireMode) String() string {
	if m == Blocking {
		return "BLOCKING"
	}
	return "NONBLOCKING"
}
