package service

import (
	commonlog "office_server/server/common/log"
	"office_server/server/office/domain"
)

// subscriberFilter selects which bound sessions receive an event.
type subscriberFilter func(participantID string) bool

func allBound(string) bool { return true }

func onlyParticipants(ids ...string) subscriberFilter {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(participantID string) bool {
		_, ok := set[participantID]
		return ok
	}
}

// publishLocked queues ev on every bound session accepted by match and hands
// it to the mirror. A session whose queue refuses the event is closed and
// receives nothing further; its welcome snapshot on reconnect replaces what
// it missed.
func (o *Office) publishLocked(ev domain.Event, match subscriberFilter) int {
	ev.OrganizationID = o.opts.OrganizationID
	if ev.At.IsZero() {
		ev.At = o.now()
	}
	fanout := 0
	for _, s := range o.sessions {
		if s.participantID == "" || s.dropped || !match(s.participantID) {
			continue
		}
		if !s.sink.Send(ev) {
			s.dropped = true
			s.sink.Close()
			o.opts.Metrics.EventDropped("slow_subscriber")
			commonlog.Warnf("event=office_broadcast action=drop_subscriber status=queue_full session_id=%s participant_id=%s type=%s", s.id, s.participantID, ev.Type)
			continue
		}
		fanout++
	}
	o.opts.Metrics.EventPublished(string(ev.Type), fanout)
	if o.opts.Mirror != nil {
		o.opts.Mirror.Enqueue(ev)
	}
	return fanout
}

// sendLocked queues a direct reply to one session.
func (o *Office) sendLocked(sessionID string, ev domain.Event) bool {
	s, ok := o.sessions[sessionID]
	if !ok || s.dropped {
		return false
	}
	ev.OrganizationID = o.opts.OrganizationID
	if ev.At.IsZero() {
		ev.At = o.now()
	}
	if !s.sink.Send(ev) {
		s.dropped = true
		s.sink.Close()
		o.opts.Metrics.EventDropped("slow_subscriber")
		return false
	}
	return true
}

// Reply queues an ack or error for the session that issued a command.
func (o *Office) Reply(sessionID string, ev domain.Event) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sendLocked(sessionID, ev)
}

func (o *Office) publishPresenceLocked(st *presenceState, fields ...string) (domain.PresenceRecord, domain.PresenceDelta) {
	return o.publishChangeLocked(st, nil, fields...)
}

// publishChangeLocked publishes st as one event together with the spaces
// changed in the same step. Without spaces it is a presence.updated; with
// spaces it is a space.updated whose Space is the last one given (the space
// entered, or the one left) and whose Spaces holds any other. Nil spaces are
// skipped.
func (o *Office) publishChangeLocked(st *presenceState, spaces []*domain.Space, fields ...string) (domain.PresenceRecord, domain.PresenceDelta) {
	changed := o.stampSpacesLocked(spaces)
	st.record.Version = o.nextVersion()
	st.record.UpdatedAt = o.now()
	record := st.record.Clone()
	delta := domain.PresenceDelta{
		ParticipantID: record.Participant.ID,
		Version:       record.Version,
		Fields:        fields,
		Record:        record,
	}
	ev := domain.Event{Type: domain.EventPresenceUpdated, Version: record.Version, Presence: &delta}
	if n := len(changed); n > 0 {
		primary := changed[n-1]
		ev.Type = domain.EventSpaceUpdated
		ev.Space = &primary
		if n > 1 {
			ev.Spaces = changed[:n-1]
		}
	}
	o.publishLocked(ev, allBound)
	return record, delta
}

// stampSpaceLocked refreshes the derived lock and version of a space about to
// be published.
func (o *Office) stampSpaceLocked(space *domain.Space) domain.Space {
	space.Locked = o.derivedLockLocked(space)
	space.Version = o.nextVersion()
	return space.Clone()
}

func (o *Office) stampSpacesLocked(spaces []*domain.Space) []domain.Space {
	var out []domain.Space
	for _, space := range spaces {
		if space != nil {
			out = append(out, o.stampSpaceLocked(space))
		}
	}
	return out
}
