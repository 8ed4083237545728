package gmail

import (
	"errors"
	"time"
)

type MessageID string
type LabelID string

// System labels the engine mutates directly.
const (
	LabelUnread LabelID = "UNREAD"
	LabelInbox  LabelID = "INBOX"
)

// ErrLabelConflict is returned by CreateLabel when a label with the same
// name already exists remotely.
var ErrLabelConflict = errors.New("label already exists")

// Label is a remote label as listed by the service.
type Label struct {
	ID   LabelID
	Name string
}

// Visibility controls where a created label shows up in the Gmail UI.
type Visibility struct {
	LabelList   string // labelShow, labelShowIfUnread, labelHide
	MessageList string // show, hide
}

// DefaultVisibility shows the label both in the label list and on messages.
func DefaultVisibility() Visibility {
	return Visibility{LabelList: "labelShow", MessageList: "show"}
}

type ModifyOps struct {
	AddLabels    []LabelID
	RemoveLabels []LabelID
}

// Empty reports whether the ops would not change anything.
func (o ModifyOps) Empty() bool {
	return len(o.AddLabels) == 0 && len(o.RemoveLabels) == 0
}

type Query struct {
	Raw string // Gmail query string, already formed (e.g., `in:inbox newer_than:30d`)
}

// ListPage is one page of message IDs.
type ListPage struct {
	IDs           []MessageID
	NextPageToken string
}

// Message is a fully fetched message with its payload flattened into the
// headers and decoded bodies the ingestion path needs.
type Message struct {
	ID           MessageID
	ThreadID     string
	LabelIDs     []LabelID
	Headers      map[string]string // canonical header names: From, To, Subject, Date
	TextBody     string
	HTMLBody     string
	InternalDate time.Time
}

// HasLabel reports whether the message carries the given label.
func (m Message) HasLabel(id LabelID) bool {
	for _, l := range m.LabelIDs {
		if l == id {
			return true
		}
	}
	return false
}
