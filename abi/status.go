package abi

// Status is the value a syscall returns to the guest.
type Status int32

const (
	OK               Status = 0
	Dropped          Status = 1
	PermissionDenied Status = -1
	InvalidArgument  Status = -2
	WouldBlock       Status = -3
	NotSupported     Status = -4
	Exhausted        Status = -5
	NoSuchInstance   Status = -6
)

func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case Dropped:
		return "dropped"
	case PermissionDenied:
		return "permission_denied"
	case InvalidArgument:
		return "invalid_argument"
	case WouldBlock:
		return "would_block"
	case NotSupported:
		return "not_supported"
	case Exhausted:
		return "exhausted"
	case NoSuchInstance:
		return "no_such_instance"
	default:
		return "unknown"
	}
}

// Word returns the status as the raw i32 result slot value.
func (s Status) Word() uint64 {
	return uint64(uint32(int32(s)))
}
