package domain

import (
	"time"
	"unicode/utf8"
)

type Status string
type SpaceType string
type ThreadKind string
type MessageType string
type ObjectKind string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

const (
	SpaceTypeDesk        SpaceType = "desk"
	SpaceTypeHuddle      SpaceType = "huddle"
	SpaceTypeMeetingRoom SpaceType = "meeting_room"
	SpaceTypeCommonArea  SpaceType = "common_area"
)

const (
	ThreadKindGeneral ThreadKind = "general"
	ThreadKindDirect  ThreadKind = "direct"
	ThreadKindGroup   ThreadKind = "group"
)

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

const (
	ObjectKindDog   ObjectKind = "dog"
	ObjectKindPlant ObjectKind = "plant"
	ObjectKindCar   ObjectKind = "car"
	ObjectKindChair ObjectKind = "chair"
	ObjectKindTable ObjectKind = "table"
	ObjectKindLamp  ObjectKind = "lamp"
)

const GeneralThreadID = "general"

const MaxPreviewRunes = 80

func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

func (t SpaceType) Valid() bool {
	switch t {
	case SpaceTypeDesk, SpaceTypeHuddle, SpaceTypeMeetingRoom, SpaceTypeCommonArea:
		return true
	}
	return false
}

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile:
		return true
	}
	return false
}

func (k ObjectKind) Valid() bool {
	switch k {
	case ObjectKindDog, ObjectKindPlant, ObjectKindCar, ObjectKindChair, ObjectKindTable, ObjectKindLamp:
		return true
	}
	return false
}

type Participant struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role,omitempty"`
}

type Meeting struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	IsLocked bool       `json:"is_locked"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`
}

// Active reports whether the meeting is still running at now. Meetings
// without an end time stay active until cleared.
func (m *Meeting) Active(now time.Time) bool {
	if m == nil {
		return false
	}
	return m.EndsAt == nil || now.Before(*m.EndsAt)
}

type PresenceRecord struct {
	Participant    Participant `json:"participant"`
	Position       Position    `json:"position"`
	Status         Status      `json:"status"`
	DoNotDisturb   bool        `json:"do_not_disturb"`
	InOffice       bool        `json:"in_office"`
	CurrentSpaceID string      `json:"current_space_id,omitempty"`
	CurrentMeeting *Meeting    `json:"current_meeting,omitempty"`
	AudioEnabled   bool        `json:"audio_enabled"`
	VideoEnabled   bool        `json:"video_enabled"`
	Version        uint64      `json:"version"`
	UpdatedAt      time.Time   `json:"updated_at"`

	// Set once the calendar integration has written a meeting for the participant.
	CalendarConnected bool `json:"calendar_connected"`
}

// Clone returns a copy that shares no pointers with r.
func (r PresenceRecord) Clone() PresenceRecord {
	if r.CurrentMeeting != nil {
		meeting := *r.CurrentMeeting
		if meeting.EndsAt != nil {
			endsAt := *meeting.EndsAt
			meeting.EndsAt = &endsAt
		}
		r.CurrentMeeting = &meeting
	}
	return r
}

type Space struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      SpaceType `json:"type"`
	Bounds    Rect      `json:"bounds"`
	Capacity  int       `json:"capacity"`
	Occupants []string  `json:"occupants"`
	Locked    bool      `json:"locked"`
	Version   uint64    `json:"version"`
}

func (s Space) Clone() Space {
	s.Occupants = append([]string{}, s.Occupants...)
	return s
}

type ChatThread struct {
	ID           string     `json:"id"`
	Kind         ThreadKind `json:"kind"`
	Name         string     `json:"name"`
	Participants []string   `json:"participants"`
	CreatedBy    string     `json:"created_by,omitempty"`
	LastSeq      uint64     `json:"last_seq"`
	CreatedAt    time.Time  `json:"created_at"`

	LastMessagePreview string     `json:"last_message_preview,omitempty"`
	LastMessageAt      *time.Time `json:"last_message_at,omitempty"`

	// UnreadCount is relative to the participant the thread was listed for.
	UnreadCount uint64 `json:"unread_count"`
}

func (t ChatThread) Clone() ChatThread {
	t.Participants = append([]string{}, t.Participants...)
	if t.LastMessageAt != nil {
		at := *t.LastMessageAt
		t.LastMessageAt = &at
	}
	return t
}

// Summarize records msg as the thread's latest message.
func (t *ChatThread) Summarize(msg ChatMessage) {
	if msg.Seq > t.LastSeq {
		t.LastSeq = msg.Seq
	}
	t.LastMessagePreview = msg.Preview()
	at := msg.Timestamp
	t.LastMessageAt = &at
}

type Attachment struct {
	ObjectKey    string `json:"object_key"`
	ThumbnailKey string `json:"thumbnail_key,omitempty"`
	ContentType  string `json:"content_type,omitempty"`
}

type ChatMessage struct {
	ID          string      `json:"id"`
	ThreadID    string      `json:"thread_id"`
	Seq         uint64      `json:"seq"`
	SenderID    string      `json:"sender_id"`
	Content     string      `json:"content"`
	Type        MessageType `json:"type"`
	Attachment  *Attachment `json:"attachment,omitempty"`
	ClientMsgID string      `json:"client_msg_id,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Preview is the short form of a message shown in thread listings.
func (m ChatMessage) Preview() string {
	text := m.Content
	if text == "" && m.Attachment != nil {
		return "[" + string(m.Type) + "]"
	}
	if utf8.RuneCountInString(text) <= MaxPreviewRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:MaxPreviewRunes-3]) + "..."
}

type WorkspaceObject struct {
	ID       string     `json:"id"`
	Kind     ObjectKind `json:"kind"`
	Position Position   `json:"position"`
	Rotation float64    `json:"rotation"`
	Scale    float64    `json:"scale"`
	PlacedBy string     `json:"placed_by"`
	PlacedAt time.Time  `json:"placed_at"`
	Version  uint64     `json:"version"`
}
