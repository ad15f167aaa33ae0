package domain

// Replica is the client-side view of an office. It applies deltas only when
// they are newer than what it holds, so replayed or duplicated deliveries
// leave it unchanged. Removed participants and objects leave a tombstone with
// the removal version; older deltas for them are ignored.
type Replica struct {
	Version  uint64
	Presence map[string]PresenceRecord
	Spaces   map[string]Space
	Objects  map[string]WorkspaceObject
	Threads  map[string]ChatThread
	Messages map[string][]ChatMessage

	selfID    string
	leftAt    map[string]uint64
	removedAt map[string]uint64
}

func NewReplica(snapshot Snapshot) *Replica {
	r := &Replica{
		Version:  snapshot.Version,
		Presence: make(map[string]PresenceRecord, len(snapshot.Roster)),
		Spaces:   make(map[string]Space, len(snapshot.Spaces)),
		Objects:  make(map[string]WorkspaceObject, len(snapshot.Objects)),
		Threads:  make(map[string]ChatThread, len(snapshot.Threads)),
		Messages: make(map[string][]ChatMessage),

		selfID:    snapshot.Self.Participant.ID,
		leftAt:    make(map[string]uint64),
		removedAt: make(map[string]uint64),
	}
	for _, record := range snapshot.Roster {
		r.Presence[record.Participant.ID] = record.Clone()
	}
	for _, space := range snapshot.Spaces {
		r.Spaces[space.ID] = space.Clone()
	}
	for _, object := range snapshot.Objects {
		r.Objects[object.ID] = object
	}
	for _, thread := range snapshot.Threads {
		r.Threads[thread.ID] = thread.Clone()
	}
	return r
}

// Apply folds ev into the replica and reports whether anything changed.
func (r *Replica) Apply(ev Event) bool {
	changed := false
	switch ev.Type {
	case EventWelcome:
		if ev.Snapshot != nil {
			*r = *NewReplica(*ev.Snapshot)
			return true
		}
	case EventPresenceUpdated:
		if ev.Presence != nil {
			changed = r.applyPresence(ev.Presence.Record)
		}
	case EventRosterUpdated:
		if ev.Roster != nil {
			for _, record := range ev.Roster.Joined {
				if r.applyPresence(record) {
					changed = true
				}
			}
			for _, id := range ev.Roster.Left {
				if r.applyLeft(id, ev.Version) {
					changed = true
				}
			}
		}
		if r.applySpaces(ev.Spaces...) {
			changed = true
		}
	case EventSpaceUpdated:
		if ev.Space != nil {
			changed = r.applySpaces(*ev.Space)
		}
		if r.applySpaces(ev.Spaces...) {
			changed = true
		}
		if ev.Presence != nil && r.applyPresence(ev.Presence.Record) {
			changed = true
		}
	case EventThreadCreated:
		if ev.Thread != nil {
			if _, ok := r.Threads[ev.Thread.ID]; !ok {
				r.Threads[ev.Thread.ID] = ev.Thread.Clone()
				changed = true
			}
		}
	case EventChatMessage:
		if ev.Message != nil {
			changed = r.applyMessage(*ev.Message)
		}
	case EventObjectPlaced:
		if ev.Object != nil {
			changed = r.applyObject(*ev.Object)
		}
	case EventObjectRemoved:
		changed = r.applyObjectRemoved(ev.ObjectID, ev.Version)
	}
	if ev.Version > r.Version {
		r.Version = ev.Version
	}
	return changed
}

func (r *Replica) applyPresence(record PresenceRecord) bool {
	id := record.Participant.ID
	if left, ok := r.leftAt[id]; ok && record.Version <= left {
		return false
	}
	current, ok := r.Presence[id]
	if ok && record.Version <= current.Version {
		return false
	}
	delete(r.leftAt, id)
	r.Presence[id] = record.Clone()
	return true
}

func (r *Replica) applyLeft(id string, version uint64) bool {
	if left, ok := r.leftAt[id]; !ok || version > left {
		r.leftAt[id] = version
	}
	current, ok := r.Presence[id]
	if !ok || current.Version >= version {
		return false
	}
	delete(r.Presence, id)
	return true
}

func (r *Replica) applySpaces(spaces ...Space) bool {
	changed := false
	for _, space := range spaces {
		current, ok := r.Spaces[space.ID]
		if ok && space.Version <= current.Version {
			continue
		}
		r.Spaces[space.ID] = space.Clone()
		changed = true
	}
	return changed
}

func (r *Replica) applyObject(object WorkspaceObject) bool {
	if removed, ok := r.removedAt[object.ID]; ok && object.Version <= removed {
		return false
	}
	if _, ok := r.Objects[object.ID]; ok {
		return false
	}
	r.Objects[object.ID] = object
	return true
}

func (r *Replica) applyObjectRemoved(id string, version uint64) bool {
	if removed, ok := r.removedAt[id]; !ok || version > removed {
		r.removedAt[id] = version
	}
	current, ok := r.Objects[id]
	if !ok || current.Version > version {
		return false
	}
	delete(r.Objects, id)
	return true
}

func (r *Replica) applyMessage(msg ChatMessage) bool {
	thread := r.Threads[msg.ThreadID]
	if msg.Seq <= thread.LastSeq {
		return false
	}
	thread.ID = msg.ThreadID
	thread.Summarize(msg)
	if msg.SenderID != r.selfID {
		thread.UnreadCount++
	}
	r.Threads[msg.ThreadID] = thread
	r.Messages[msg.ThreadID] = append(r.Messages[msg.ThreadID], msg)
	return true
}
