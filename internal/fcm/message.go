package fcm

import "encoding/json"

// Message is the v1 "message" object. Only the fields this service sends
// are modelled.
type Message struct {
	Token        string            `json:"token"`
	Notification *Notification     `json:"notification,omitempty"`
	Android      *AndroidConfig    `json:"android,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
}

// Notification is the cross-platform display notification.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// AndroidConfig carries Android delivery hints.
type AndroidConfig struct {
	Priority     string               `json:"priority,omitempty"` // "high" | "normal"
	Notification *AndroidNotification `json:"notification,omitempty"`
}

// AndroidNotification selects the client-side channel.
type AndroidNotification struct {
	ChannelID string `json:"channel_id,omitempty"`
	Tag       string `json:"tag,omitempty"`
}

// Response is the provider's reply to one send.
type Response struct {
	StatusCode int
	Body       json.RawMessage
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

type sendRequest struct {
	Message *Message `json:"message"`
}
