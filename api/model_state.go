package api

type ConnectionStatus string

const (
	ConnectionStatus_Idle         ConnectionStatus = "idle"
	ConnectionStatus_Connected    ConnectionStatus = "connected"
	ConnectionStatus_Reconnecting ConnectionStatus = "reconnecting"
	ConnectionStatus_Failed       ConnectionStatus = "failed"
)

// StreamState is a snapshot of an event stream's live state.
type StreamState struct {
	IsConnected       bool             `json:"isConnected"`
	Error             string           `json:"error,omitempty"`
	ReconnectAttempts int              `json:"reconnectAttempts"`
	Status            ConnectionStatus `json:"status"`
}

// DeriveStatus computes the externally visible status from the connection flag
// and the attempt counter.
func DeriveStatus(isConnected bool, reconnectAttempts, maxReconnectAttempts int) ConnectionStatus {
	switch {
	case isConnected:
		return ConnectionStatus_Connected
	case reconnectAttempts >= maxReconnectAttempts && reconnectAttempts > 0:
		return ConnectionStatus_Failed
	case reconnectAttempts > 0:
		return ConnectionStatus_Reconnecting
	default:
		return ConnectionStatus_Idle
	}
}
