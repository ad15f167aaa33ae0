package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

type CommandType string

const (
	CommandIdentify     CommandType = "identify"
	CommandMove         CommandType = "move"
	CommandSetStatus    CommandType = "status.set"
	CommandSetDND       CommandType = "dnd.set"
	CommandSetMedia     CommandType = "media.set"
	CommandEnterOffice  CommandType = "office.enter"
	CommandLeaveOffice  CommandType = "office.leave"
	CommandEnterSpace   CommandType = "space.enter"
	CommandExitSpace    CommandType = "space.exit"
	CommandToggleLock   CommandType = "space.toggle_lock"
	CommandSendChat     CommandType = "chat.send"
	CommandCreateDirect CommandType = "chat.create_direct"
	CommandCreateGroup  CommandType = "chat.create_group"
	CommandHistory      CommandType = "chat.history"
	CommandMarkRead     CommandType = "chat.mark_read"
	CommandPlaceObject  CommandType = "object.place"
	CommandRemoveObject CommandType = "object.remove"
	CommandPing         CommandType = "ping"
)

var knownCommands = map[CommandType]struct{}{
	CommandIdentify: {}, CommandMove: {}, CommandSetStatus: {}, CommandSetDND: {}, CommandSetMedia: {},
	CommandEnterOffice: {}, CommandLeaveOffice: {}, CommandEnterSpace: {}, CommandExitSpace: {},
	CommandToggleLock: {}, CommandSendChat: {}, CommandCreateDirect: {}, CommandCreateGroup: {},
	CommandHistory: {}, CommandMarkRead: {}, CommandPlaceObject: {}, CommandRemoveObject: {}, CommandPing: {},
}

const (
	MaxMessageLength   = 4000
	MaxGroupMembers    = 50
	MaxThreadNameRunes = 80
	MaxClientMsgIDLen  = 64
)

type Command struct {
	Type      CommandType     `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type payload interface {
	Validate() error
}

// DecodeCommand parses an envelope and rejects unknown command types.
func DecodeCommand(raw []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: malformed envelope", ErrInvalidCommand)
	}
	cmd.Type = CommandType(strings.TrimSpace(string(cmd.Type)))
	if _, ok := knownCommands[cmd.Type]; !ok {
		return cmd, fmt.Errorf("%w: unknown type %q", ErrInvalidCommand, cmd.Type)
	}
	return cmd, nil
}

// Bind decodes the payload into dst and validates it.
func (c Command) Bind(dst payload) error {
	if len(c.Payload) > 0 && string(c.Payload) != "null" {
		if err := json.Unmarshal(c.Payload, dst); err != nil {
			return fmt.Errorf("%w: malformed %s payload", ErrInvalidCommand, c.Type)
		}
	}
	return dst.Validate()
}

type IdentifyPayload struct {
	Token string `json:"token"`
}

func (p *IdentifyPayload) Validate() error {
	p.Token = strings.TrimSpace(p.Token)
	if p.Token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidCommand)
	}
	return nil
}

// ParticipantID on the mutation payloads below is optional; when present it
// must name the session's own participant.
type MovePayload struct {
	X             *float64 `json:"x"`
	Y             *float64 `json:"y"`
	ParticipantID string   `json:"participant_id,omitempty"`
}

func (p *MovePayload) Validate() error {
	if p.X == nil || p.Y == nil {
		return fmt.Errorf("%w: x and y are required", ErrInvalidCommand)
	}
	return nil
}

func (p *MovePayload) Position() Position {
	return Position{X: *p.X, Y: *p.Y}
}

type StatusPayload struct {
	Status        Status `json:"status"`
	ParticipantID string `json:"participant_id,omitempty"`
}

func (p *StatusPayload) Validate() error {
	p.Status = Status(strings.ToLower(strings.TrimSpace(string(p.Status))))
	if !p.Status.Valid() {
		return fmt.Errorf("%w: status must be one of online|away|busy|offline", ErrInvalidCommand)
	}
	return nil
}

type DNDPayload struct {
	Enabled       *bool  `json:"enabled"`
	ParticipantID string `json:"participant_id,omitempty"`
}

func (p *DNDPayload) Validate() error {
	if p.Enabled == nil {
		return fmt.Errorf("%w: enabled is required", ErrInvalidCommand)
	}
	return nil
}

type MediaPayload struct {
	Audio         *bool  `json:"audio"`
	Video         *bool  `json:"video"`
	ParticipantID string `json:"participant_id,omitempty"`
}

func (p *MediaPayload) Validate() error {
	if p.Audio == nil && p.Video == nil {
		return fmt.Errorf("%w: audio or video is required", ErrInvalidCommand)
	}
	return nil
}

type EmptyPayload struct{}

func (p *EmptyPayload) Validate() error { return nil }

type SpacePayload struct {
	SpaceID string `json:"space_id"`
}

func (p *SpacePayload) Validate() error {
	p.SpaceID = strings.TrimSpace(p.SpaceID)
	if p.SpaceID == "" {
		return fmt.Errorf("%w: space_id is required", ErrInvalidCommand)
	}
	return nil
}

type ChatSendPayload struct {
	ThreadID      string      `json:"thread_id"`
	Content       string      `json:"content"`
	Type          MessageType `json:"type"`
	ClientMsgID   string      `json:"client_msg_id,omitempty"`
	AttachmentKey string      `json:"attachment_key,omitempty"`
	ContentType   string      `json:"content_type,omitempty"`
	ThumbnailKey  string      `json:"thumbnail_key,omitempty"`
}

func (p *ChatSendPayload) Validate() error {
	p.ThreadID = strings.TrimSpace(p.ThreadID)
	p.ClientMsgID = strings.TrimSpace(p.ClientMsgID)
	p.AttachmentKey = strings.TrimSpace(p.AttachmentKey)
	if p.Type == "" {
		p.Type = MessageTypeText
	}
	if p.ThreadID == "" {
		return fmt.Errorf("%w: thread_id is required", ErrInvalidMessage)
	}
	if !p.Type.Valid() {
		return fmt.Errorf("%w: type must be one of text|image|file", ErrInvalidMessage)
	}
	if utf8.RuneCountInString(p.Content) > MaxMessageLength {
		return fmt.Errorf("%w: content exceeds %d characters", ErrInvalidMessage, MaxMessageLength)
	}
	if len(p.ClientMsgID) > MaxClientMsgIDLen {
		return fmt.Errorf("%w: client_msg_id is too long", ErrInvalidMessage)
	}
	switch p.Type {
	case MessageTypeText:
		if strings.TrimSpace(p.Content) == "" {
			return fmt.Errorf("%w: content is required", ErrInvalidMessage)
		}
	default:
		if p.AttachmentKey == "" {
			return fmt.Errorf("%w: attachment_key is required for %s messages", ErrInvalidMessage, p.Type)
		}
	}
	return nil
}

type DirectThreadPayload struct {
	ParticipantID string `json:"participant_id"`
}

func (p *DirectThreadPayload) Validate() error {
	p.ParticipantID = strings.TrimSpace(p.ParticipantID)
	if p.ParticipantID == "" {
		return fmt.Errorf("%w: participant_id is required", ErrInvalidCommand)
	}
	return nil
}

type GroupThreadPayload struct {
	Name           string   `json:"name"`
	ParticipantIDs []string `json:"participant_ids"`
}

func (p *GroupThreadPayload) Validate() error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" || utf8.RuneCountInString(p.Name) > MaxThreadNameRunes {
		return fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidCommand, MaxThreadNameRunes)
	}
	if len(p.ParticipantIDs) == 0 || len(p.ParticipantIDs) > MaxGroupMembers {
		return fmt.Errorf("%w: participant_ids must list 1-%d members", ErrInvalidCommand, MaxGroupMembers)
	}
	return nil
}

type HistoryPayload struct {
	ThreadID  string `json:"thread_id"`
	BeforeSeq uint64 `json:"before_seq,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

func (p *HistoryPayload) Validate() error {
	p.ThreadID = strings.TrimSpace(p.ThreadID)
	if p.ThreadID == "" {
		return fmt.Errorf("%w: thread_id is required", ErrInvalidCommand)
	}
	if p.Limit <= 0 || p.Limit > 200 {
		p.Limit = 50
	}
	return nil
}

// MarkReadPayload moves the caller's read cursor; a zero Seq means the
// latest message.
type MarkReadPayload struct {
	ThreadID string `json:"thread_id"`
	Seq      uint64 `json:"seq,omitempty"`
}

func (p *MarkReadPayload) Validate() error {
	p.ThreadID = strings.TrimSpace(p.ThreadID)
	if p.ThreadID == "" {
		return fmt.Errorf("%w: thread_id is required", ErrInvalidCommand)
	}
	return nil
}

type PlaceObjectPayload struct {
	Kind     ObjectKind `json:"kind"`
	X        float64    `json:"x"`
	Y        float64    `json:"y"`
	Rotation float64    `json:"rotation"`
	Scale    float64    `json:"scale"`
}

func (p *PlaceObjectPayload) Validate() error {
	p.Kind = ObjectKind(strings.ToLower(strings.TrimSpace(string(p.Kind))))
	if !p.Kind.Valid() {
		return fmt.Errorf("%w: unknown object kind %q", ErrInvalidCommand, p.Kind)
	}
	if p.Scale == 0 {
		p.Scale = 1
	}
	if p.Scale < 0.1 || p.Scale > 10 {
		return fmt.Errorf("%w: scale must be within [0.1, 10]", ErrInvalidCommand)
	}
	return nil
}

type RemoveObjectPayload struct {
	ObjectID string `json:"object_id"`
}

func (p *RemoveObjectPayload) Validate() error {
	p.ObjectID = strings.TrimSpace(p.ObjectID)
	if p.ObjectID == "" {
		return fmt.Errorf("%w: object_id is required", ErrInvalidCommand)
	}
	return nil
}

// ToggleLockPayload may name the space; it defaults to the caller's current one.
type ToggleLockPayload struct {
	SpaceID string `json:"space_id,omitempty"`
}

func (p *ToggleLockPayload) Validate() error {
	p.SpaceID = strings.TrimSpace(p.SpaceID)
	return nil
}
