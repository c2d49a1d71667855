package api

import "time"

type SessionStatus string

const (
	SessionStatus_Loading         SessionStatus = "loading"
	SessionStatus_Authenticated   SessionStatus = "authenticated"
	SessionStatus_Unauthenticated SessionStatus = "unauthenticated"
)

// Session is the payload of the web app's session endpoint.
type Session struct {
	User    SessionUser `json:"user"`
	Token   string      `json:"token" validate:"required"`
	Expires time.Time   `json:"expires"`
}

type SessionUser struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}
