package schemas

import (
	"time"
)

// -- Activity Schemas --

// ActivityKind classifies what the change detector observed.
type ActivityKind string

const (
	// ActivityNewWindow is a conversation surface that was not present in the previous poll.
	ActivityNewWindow ActivityKind = "new_chat_window"
	// ActivityBadgeIncrease is a rise of the unread indicator. It carries no source identity.
	ActivityBadgeIncrease ActivityKind = "badge_increase"
)

// ActivityEvent is one record of the append-only event log. It is written once and
// never mutated afterwards.
type ActivityEvent struct {
	Timestamp      time.Time    `json:"timestamp"`
	SessionID      string       `json:"session_id,omitempty"`
	SourceIdentity string       `json:"source"`
	Kind           ActivityKind `json:"kind"`
	Replied        bool         `json:"replied"`
	ReplyText      string       `json:"reply_text,omitempty"`
	Error          string       `json:"error,omitempty"`
	Note           string       `json:"note,omitempty"`
	BadgeFrom      int          `json:"badge_from,omitempty"`
	BadgeTo        int          `json:"badge_to,omitempty"`
}

// -- Report Schemas --

// SendStatus is the outcome of a send operation that got as far as typing the text.
type SendStatus string

const (
	StatusTypedNotSent SendStatus = "typed_not_sent"
	StatusSent         SendStatus = "sent"
)

// SendReport is the per-send JSON document written by the reply command.
type SendReport struct {
	Success    bool       `json:"success"`
	Message    string     `json:"message"`
	DryRun     bool       `json:"dry_run"`
	Status     SendStatus `json:"status,omitempty"`
	Error      string     `json:"error,omitempty"`
	ChatWindow string     `json:"chat_window,omitempty"`
}

// Sent reports whether the confirm key was issued.
func (r *SendReport) Sent() bool {
	return r != nil && r.Success && r.Status == StatusSent
}

// SearchReport is the result document of opening a conversation via search.
type SearchReport struct {
	Success    bool   `json:"success"`
	Name       string `json:"name"`
	ChatWindow string `json:"chat_window,omitempty"`
	Note       string `json:"note,omitempty"`
	Error      string `json:"error,omitempty"`
}
