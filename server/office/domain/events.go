package domain

import "time"

type EventType string

const (
	EventWelcome         EventType = "session.welcome"
	EventSuperseded      EventType = "session.superseded"
	EventRosterUpdated   EventType = "roster.updated"
	EventPresenceUpdated EventType = "presence.updated"
	EventSpaceUpdated    EventType = "space.updated"
	EventChatMessage     EventType = "chat.message"
	EventThreadCreated   EventType = "thread.created"
	EventObjectPlaced    EventType = "object.placed"
	EventObjectRemoved   EventType = "object.removed"
	EventAck             EventType = "ack"
	EventError           EventType = "error"
)

// Presence fields named in a PresenceDelta.
const (
	FieldPosition     = "position"
	FieldStatus       = "status"
	FieldDoNotDisturb = "do_not_disturb"
	FieldInOffice     = "in_office"
	FieldSpace        = "current_space_id"
	FieldMeeting      = "current_meeting"
	FieldAudio        = "audio_enabled"
	FieldVideo        = "video_enabled"
	FieldCalendar     = "calendar_connected"
)

type PresenceDelta struct {
	ParticipantID string         `json:"participant_id"`
	Version       uint64         `json:"version"`
	Fields        []string       `json:"fields"`
	Record        PresenceRecord `json:"record"`
}

type RosterDelta struct {
	Joined []PresenceRecord `json:"joined,omitempty"`
	Left   []string         `json:"left,omitempty"`
}

type Snapshot struct {
	SessionID string            `json:"session_id"`
	Self      PresenceRecord    `json:"self"`
	Roster    []PresenceRecord  `json:"roster"`
	Spaces    []Space           `json:"spaces"`
	Threads   []ChatThread      `json:"threads"`
	Objects   []WorkspaceObject `json:"objects"`
	Stage     Rect              `json:"stage"`
	Version   uint64            `json:"version"`
	Restored  bool              `json:"restored"`
}

// Event is the closed set of server-to-client messages. A space.updated
// carries the changed Space, any other space changed in the same step in
// Spaces (the one vacated when switching) and the Presence change of the
// participant who caused it, so subscribers never see occupancy and the
// participant's current space disagree. A roster.updated removing a
// participant carries the space it vacated in Spaces.
type Event struct {
	Type           EventType        `json:"type"`
	OrganizationID string           `json:"organization_id,omitempty"`
	Version        uint64           `json:"version,omitempty"`
	RequestID      string           `json:"request_id,omitempty"`
	Presence       *PresenceDelta   `json:"presence,omitempty"`
	Roster         *RosterDelta     `json:"roster,omitempty"`
	Space          *Space           `json:"space,omitempty"`
	Spaces         []Space          `json:"spaces,omitempty"`
	Message        *ChatMessage     `json:"message,omitempty"`
	Thread         *ChatThread      `json:"thread,omitempty"`
	Object         *WorkspaceObject `json:"object,omitempty"`
	ObjectID       string           `json:"object_id,omitempty"`
	Snapshot       *Snapshot        `json:"snapshot,omitempty"`
	Result         any              `json:"result,omitempty"`
	Error          string           `json:"error,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	At             time.Time        `json:"at"`
}

// EntityKey names the entity whose order the event belongs to.
func (e Event) EntityKey() string {
	switch {
	case e.Space != nil:
		return "space:" + e.Space.ID
	case e.Presence != nil:
		return "participant:" + e.Presence.ParticipantID
	case e.Message != nil:
		return "thread:" + e.Message.ThreadID
	case e.Thread != nil:
		return "thread:" + e.Thread.ID
	case e.Object != nil:
		return "object:" + e.Object.ID
	case e.ObjectID != "":
		return "object:" + e.ObjectID
	case e.Roster != nil:
		return "roster"
	}
	return ""
}

func NewAck(requestID string, result any, at time.Time) Event {
	return Event{Type: EventAck, RequestID: requestID, Result: result, At: at}
}

func NewError(requestID string, err error, at time.Time) Event {
	return Event{Type: EventError, RequestID: requestID, Error: err.Error(), Reason: Reason(err), At: at}
}
