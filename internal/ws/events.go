package ws

import "encoding/json"

// Live event names. "msg-recieve" keeps the spelling existing clients listen
// for.
const (
	EventAddUser          = "add-user"
	EventSendMsg          = "send-msg"
	EventMsgReceive       = "msg-recieve"
	EventSendNotification = "send-notification"
	EventDeleteMsg        = "delete-msg"
	EventMsgDeleted       = "msg-deleted"
)

// Envelope is the frame exchanged on the socket in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SendMsg is the payload of send-msg. Only To is read by the relay; the
// frame is forwarded as received.
type SendMsg struct {
	To        string `json:"to"`
	From      string `json:"from"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
	ID        string `json:"_id,omitempty"`
}

type Notification struct {
	To        string `json:"to"`
	From      string `json:"from"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
}

type DeleteMsg struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	ID   string `json:"_id"`
}

type route struct {
	To   string `json:"to"`
	From string `json:"from"`
}

// addressing extracts "to" and "from" without decoding the rest of the
// payload.
func addressing(payload json.RawMessage) route {
	var r route
	if err := json.Unmarshal(payload, &r); err != nil {
		return route{}
	}
	return r
}

// encodeFrame builds an envelope around payload without re-encoding it, so
// the peer receives the sender's bytes unchanged.
func encodeFrame(event string, payload json.RawMessage) ([]byte, bool) {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	if !json.Valid(payload) {
		return nil, false
	}
	name, err := json.Marshal(event)
	if err != nil {
		return nil, false
	}
	b := make([]byte, 0, len(payload)+len(name)+24)
	b = append(b, `{"type":`...)
	b = append(b, name...)
	b = append(b, `,"payload":`...)
	b = append(b, payload...)
	b = append(b, '}')
	return b, true
}
