package realtime

import "net/http"

type ReadyState int32

const (
	ReadyStateConnecting ReadyState = iota
	ReadyStateOpen
	ReadyStateClosed
)

func (s ReadyState) String() string {
	switch s {
	case ReadyStateConnecting:
		return "connecting"
	case ReadyStateOpen:
		return "open"
	case ReadyStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnHandler receives the signals of a single push connection. Calls for one
// connection are delivered sequentially.
type ConnHandler interface {
	OnOpen()
	OnMessage(eventName, data string)
	OnError(err error)
}

// Conn is a handle on one push connection.
type Conn interface {
	Close()
	ReadyState() ReadyState
}

// Transport opens push connections.
type Transport interface {
	// Supported reports whether the transport can be used at all.
	Supported() bool
	// Open starts connecting in the background and returns immediately.
	// The handler must not be invoked before Open returns.
	Open(url string, header http.Header, handler ConnHandler) (Conn, error)
}

// NetworkMonitor reports host connectivity. It is only consulted to pick a
// human-readable error message.
type NetworkMonitor interface {
	Online() bool
}

type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }
