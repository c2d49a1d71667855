package realtime

import (
	"github.com/kitaflow/realtime-go-sdk/api"
	"github.com/kitaflow/realtime-go-sdk/util"
)

type IncomingEvent = api.IncomingEvent
type EventData = api.EventData
type EventType = api.EventType
type ID = api.ID
type StreamState = api.StreamState
type ConnectionStatus = api.ConnectionStatus
type ClientEvent = api.ClientEvent
type ClientEventType = api.ClientEventType
type InvalidationSummary = api.InvalidationSummary
type Session = api.Session
type SessionUser = api.SessionUser
type SessionStatus = api.SessionStatus
type Logger = util.Logger
type DiscardLogger = util.DiscardLogger

func SetLogger(log Logger) { util.SetLogger(log) }
