package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/types"
)

// ClientMessage is the inbound frame a client sends to post a message.
type ClientMessage struct {
	To       string     `json:"to,omitempty"`
	Text     string     `json:"text"`
	DateTime *Timestamp `json:"dateTime,omitempty"`
}

// Timestamp accepts either an RFC 3339 string or integer milliseconds
// since the Unix epoch.
type Timestamp struct {
	time.Time
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return ts.Time.UnmarshalJSON(data)
	}

	ms, err := strconv.ParseInt(string(bytes.TrimSpace(data)), 10, 64)
	if err != nil {
		return fmt.Errorf("dateTime %s: expected RFC 3339 string or epoch milliseconds", data)
	}
	ts.Time = time.UnixMilli(ms).UTC()
	return nil
}

const (
	greetingNotice        = "Hello"
	malformedNotice       = "wrong message structure"
	missingTextNotice     = "your message doesn't contain text"
	persistenceNotice     = "failed to save message"
	deliveryFailureNotice = "failed to deliver message"
	unknownSenderNotice   = "sender account does not exist"
	blockedSenderNotice   = "sender account is blocked"
	oversizedNotice       = "message is too long"
)

func blockedNotice(nickname string) string {
	return nickname + " is blocked"
}

func inactiveNotice(nickname string) string {
	return nickname + " is inactive"
}

func unknownContactNotice(identity string) string {
	return identity + " contact doesn't exist"
}

func connectionCountNotice(n int) string {
	return fmt.Sprintf("number of connections is %d", n)
}

func parseClientMessage(raw []byte) (ClientMessage, error) {
	var msg ClientMessage
	err := json.Unmarshal(raw, &msg)
	return msg, err
}

func serializeMessage(msg types.Message) ([]byte, error) {
	return json.Marshal(msg)
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
