package service

import (
	"sort"
	"sync"
	"time"

	commonlog "office_server/server/common/log"
	"office_server/server/common/metrics"
	"office_server/server/office/domain"
)

const (
	DefaultProximityThreshold = 5.0
	DefaultGracePeriod        = 30 * time.Second
	DefaultMaxObjects         = 500
	DefaultChatTail           = 200
)

var (
	DefaultOfficeEntry = domain.Position{X: 15, Y: 15}
	DefaultLobby       = domain.Position{X: 50, Y: 50}
)

// Sink is a session's outbound queue. Send must not block and reports false
// when the event could not be queued; Close must not call back into Office.
type Sink interface {
	Send(ev domain.Event) bool
	Close()
}

// Mirror receives every broadcast event after it has been queued to sessions.
type Mirror interface {
	Enqueue(ev domain.Event)
}

type Options struct {
	OrganizationID     string
	Stage              domain.Rect
	Spaces             []domain.Space
	ProximityThreshold float64
	GracePeriod        time.Duration
	OfficeEntry        domain.Position
	Lobby              domain.Position
	MaxObjects         int
	ChatTail           int
	Metrics            *metrics.Metrics
	Mirror             Mirror
	Dedupe             Deduper
	Archive            HistoryArchive
	Clock              func() time.Time
}

// Office is the single authority for one organization's presence, spaces,
// chat threads and workspace objects. Every mutation runs under mu and queues
// its events before releasing it, so each session observes mutations in the
// order they were applied.
type Office struct {
	opts Options
	now  func() time.Time

	mu       sync.Mutex
	version  uint64
	sessions map[string]*session
	current  map[string]string
	presence map[string]*presenceState
	spaces   map[string]*domain.Space
	threads  map[string]*threadState
	objects  map[string]domain.WorkspaceObject

	// attachment and thumbnail keys to the thread that carried them
	attachmentThreads map[string]string
}

type session struct {
	id            string
	sink          Sink
	participantID string
	dropped       bool
}

type presenceState struct {
	record      domain.PresenceRecord
	sessionID   string
	savedStatus domain.Status
	graceGen    uint64
	graceTimer  *time.Timer
}

func NewOffice(opts Options) *Office {
	if opts.Stage == (domain.Rect{}) {
		opts.Stage = domain.DefaultStage
	}
	if opts.ProximityThreshold <= 0 {
		opts.ProximityThreshold = DefaultProximityThreshold
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.OfficeEntry == (domain.Position{}) {
		opts.OfficeEntry = DefaultOfficeEntry
	}
	if opts.Lobby == (domain.Position{}) {
		opts.Lobby = DefaultLobby
	}
	if opts.MaxObjects <= 0 {
		opts.MaxObjects = DefaultMaxObjects
	}
	if opts.ChatTail <= 0 {
		opts.ChatTail = DefaultChatTail
	}
	if opts.Dedupe == nil {
		opts.Dedupe = NewMemoryDeduper(DedupeTTL)
	}
	now := opts.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	o := &Office{
		opts:     opts,
		now:      now,
		sessions: map[string]*session{},
		current:  map[string]string{},
		presence: map[string]*presenceState{},
		spaces:   map[string]*domain.Space{},
		threads:  map[string]*threadState{},
		objects:  map[string]domain.WorkspaceObject{},

		attachmentThreads: map[string]string{},
	}
	for _, s := range opts.Spaces {
		space := s.Clone()
		sort.Strings(space.Occupants)
		o.spaces[space.ID] = &space
	}
	o.threads[domain.GeneralThreadID] = newThreadState(domain.ChatThread{
		ID:           domain.GeneralThreadID,
		Kind:         domain.ThreadKindGeneral,
		Name:         "General",
		Participants: []string{},
		CreatedAt:    now(),
	})
	return o
}

func (o *Office) OrganizationID() string {
	return o.opts.OrganizationID
}

func (o *Office) Stage() domain.Rect {
	return o.opts.Stage
}

func (o *Office) nextVersion() uint64 {
	o.version++
	return o.version
}

// actorLocked resolves the participant a session acts as. A non-empty
// targetID must name that same participant.
func (o *Office) actorLocked(sessionID, targetID string) (*presenceState, error) {
	s, ok := o.sessions[sessionID]
	if !ok || s.participantID == "" {
		return nil, domain.ErrUnauthenticated
	}
	if targetID != "" && targetID != s.participantID {
		return nil, domain.ErrForbidden
	}
	return o.participantLocked(s.participantID)
}

func (o *Office) participantLocked(participantID string) (*presenceState, error) {
	st, ok := o.presence[participantID]
	if !ok {
		commonlog.Warnf("event=office_presence action=lookup status=rejected reason=unknown_participant participant_id=%s", participantID)
		return nil, domain.ErrUnknownParticipant
	}
	return st, nil
}

// withActor runs fn for the session's participant inside the critical section.
func (o *Office) withActor(sessionID, targetID string, fn func(st *presenceState) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, err := o.actorLocked(sessionID, targetID)
	if err != nil {
		return err
	}
	return fn(st)
}

// withParticipant runs fn for a participant id inside the critical section.
func (o *Office) withParticipant(participantID string, fn func(st *presenceState) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, err := o.participantLocked(participantID)
	if err != nil {
		return err
	}
	return fn(st)
}

// Version is the last version handed out.
func (o *Office) Version() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.version
}

func (o *Office) Roster() []domain.PresenceRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rosterLocked()
}

func (o *Office) Presence(participantID string) (domain.PresenceRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, err := o.participantLocked(participantID)
	if err != nil {
		return domain.PresenceRecord{}, err
	}
	return st.record.Clone(), nil
}

func (o *Office) Spaces() []domain.Space {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.spacesLocked()
}

func (o *Office) Space(spaceID string) (domain.Space, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	space, ok := o.spaces[spaceID]
	if !ok {
		return domain.Space{}, domain.ErrUnknownSpace
	}
	out := space.Clone()
	out.Locked = o.derivedLockLocked(space)
	return out, nil
}

func (o *Office) rosterLocked() []domain.PresenceRecord {
	out := make([]domain.PresenceRecord, 0, len(o.presence))
	for _, st := range o.presence {
		out = append(out, st.record.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Participant.ID < out[j].Participant.ID })
	return out
}

func (o *Office) spacesLocked() []domain.Space {
	out := make([]domain.Space, 0, len(o.spaces))
	for _, space := range o.spaces {
		s := space.Clone()
		s.Locked = o.derivedLockLocked(space)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (o *Office) snapshotLocked(sessionID string, st *presenceState, restored bool) domain.Snapshot {
	return domain.Snapshot{
		SessionID: sessionID,
		Self:      st.record.Clone(),
		Roster:    o.rosterLocked(),
		Spaces:    o.spacesLocked(),
		Threads:   o.threadsForLocked(st.record.Participant.ID),
		Objects:   o.objectsLocked(),
		Stage:     o.opts.Stage,
		Version:   o.version,
		Restored:  restored,
	}
}
