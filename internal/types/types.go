package types

import (
	"time"
)

// BroadcastRecipient addresses a message to every live connection.
const BroadcastRecipient = "all"

type Account struct {
	Username string `json:"username"`
	Nickname string `json:"nickname,omitempty"`
	Blocked  bool   `json:"blocked"`
	Active   bool   `json:"active"`
}

// DisplayName returns the nickname, or the username when no nickname is set.
func (a Account) DisplayName() string {
	if a.Nickname != "" {
		return a.Nickname
	}
	return a.Username
}

type Message struct {
	Id              int       `json:"id"`
	From            string    `json:"from"`
	To              string    `json:"to,omitempty"`
	Text            string    `json:"text"`
	DateTime        time.Time `json:"dateTime"`
	ReadByRecipient bool      `json:"readByRecipient"`
}

// IsBroadcast reports whether the message is addressed to everyone.
func (m Message) IsBroadcast() bool {
	return m.To == "" || m.To == BroadcastRecipient
}
