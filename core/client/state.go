package client

type SyncState int

const (
	ResolvingAddress SyncState = iota
	AwaitingAddress
	RequestTime
	AwaitingResponse
	WaitingNextAttempt
	Failed
)

func (s SyncState) String() string {
	switch s {
	case ResolvingAddress:
		return "ResolvingAddress"
	case AwaitingAddress:
		return "AwaitingAddress"
	case RequestTime:
		return "RequestTime"
	case AwaitingResponse:
		return "AwaitingResponse"
	case WaitingNextAttempt:
		return "WaitingNextAttempt"
	case Failed:
		return "Failed"
	default:
		return "unknown"
	}
}
