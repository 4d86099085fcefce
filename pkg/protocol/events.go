package protocol

// Event names pushed from the gateway to panels.
const (
	// EventBus carries one page-side bus event (payload: the encoded bus.Event).
	EventBus      = "bus"
	EventShutdown = "shutdown"
)
