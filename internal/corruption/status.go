package corruption

import "fmt"

// Status is the corruption state of a node.
type Status int32

const (
	Healthy Status = iota
	DefinitiveCorruptionDetectedByLocal
	DefinitiveCorruptionDetectedByRemote
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "HEALTHY"
	case DefinitiveCorruptionDetectedByLocal:
		return "DEFINITIVE_CORRUPTION_DETECTED_BY_LOCAL"
	case DefinitiveCorruptionDetectedByRemote:
		return "DEFINITIVE_CORRUPTION_DETECTED_BY_REMOTE"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

// ShouldRejectRequests reports whether a node in this state must refuse
// requests.
func (s Status) ShouldRejectRequests() bool {
	switch s {
	case DefinitiveCorruptionDetectedByLocal, DefinitiveCorruptionDetectedByRemote:
		return true
	default:
		return false
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// severity orders statuses for HealthCheck; local findings outrank reports
// from peers.
func (s Status) severity() int {
	switch s {
	case DefinitiveCorruptionDetectedByLocal:
		return 2
	case DefinitiveCorruptionDetectedByRemote:
		return 1
	default:
		return 0
	}
}

// nextStatus is the transition applied after every local analysis. A
// rejecting report moves to DefinitiveCorruptionDetectedByLocal; any other
// report keeps the previous status.
func nextStatus(previous Status, report HealthReport) Status {
	if report.ShouldRejectRequests() {
		return DefinitiveCorruptionDetectedByLocal
	}
	return previous
}
