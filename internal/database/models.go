package database

import "time"

type Account struct {
	Username string `bson:"_id"`
	Nickname string `bson:"nickname"`
	Blocked  bool   `bson:"blocked"`
	Active   bool   `bson:"active"`
}

type Message struct {
	Id              int       `bson:"_id"`
	From            string    `bson:"from"`
	To              string    `bson:"to,omitempty"`
	Text            string    `bson:"text"`
	DateTime        time.Time `bson:"dateTime"`
	ReadByRecipient bool      `bson:"readByRecipient"`
}

// AccountGroup selects a presence group in ListAccounts.
type AccountGroup string

const (
	GroupOnline  AccountGroup = "online"
	GroupOffline AccountGroup = "offline"
	GroupBlocked AccountGroup = "blocked"
)

// matches reports whether the account belongs to the group.
func (g AccountGroup) matches(a Account) bool {
	switch g {
	case GroupOnline:
		return a.Active && !a.Blocked
	case GroupOffline:
		return !a.Active && !a.Blocked
	case GroupBlocked:
		return a.Blocked
	}
	return false
}

// MessageFilter narrows ListMessages. An empty field or "all" matches any value.
type MessageFilter struct {
	From string
	To   string
}

func anyValue(v string) bool {
	return v == "" || v == "all"
}

func (f MessageFilter) matches(m Message) bool {
	if !anyValue(f.From) && m.From != f.From {
		return false
	}
	if !anyValue(f.To) && m.To != f.To {
		return false
	}
	return true
}
