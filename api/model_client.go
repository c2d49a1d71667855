package api

type ClientEvent struct {
	EventType ClientEventType `json:"eventType"`
	EventData interface{}     `json:"eventData"`
	Status    string          `json:"status"`
	Error     error           `json:"error"`
}

type ClientEventType string

const (
	ClientEventType_Error            ClientEventType = "error"
	ClientEventType_RealtimeUpdates  ClientEventType = "realtimeUpdates"
	ClientEventType_SSEConnected     ClientEventType = "sseConnected"
	ClientEventType_SSEReconnecting  ClientEventType = "sseReconnecting"
	ClientEventType_SSEFailure       ClientEventType = "sseFailure"
	ClientEventType_SSEDisabled      ClientEventType = "sseDisabled"
	ClientEventType_CacheInvalidated ClientEventType = "cacheInvalidated"
	ClientEventType_SessionChanged   ClientEventType = "sessionChanged"
)

// InvalidationSummary describes one router flush.
type InvalidationSummary struct {
	GroupIDs          []string `json:"groupIds"`
	StudentIDs        []string `json:"studentIds"`
	ActivitiesTouched bool     `json:"activitiesTouched"`
}
