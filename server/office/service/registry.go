package service

import (
	"strings"
	"time"

	"github.com/google/uuid"

	commonlog "office_server/server/common/log"
	"office_server/server/office/domain"
)

// Connect registers a new, unbound session and returns its id.
func (o *Office) Connect(sink Sink) string {
	id := uuid.NewString()
	o.mu.Lock()
	o.sessions[id] = &session{id: id, sink: sink}
	o.mu.Unlock()
	o.opts.Metrics.SessionOpened()
	commonlog.Debugf("event=office_session action=connect status=ok session_id=%s", id)
	return id
}

// Identify binds a session to a participant and queues the welcome snapshot
// on it. Binding is idempotent for the same participant; a participant bound
// from a new session supersedes the older one, and a reconnect within the
// grace window restores the retained record.
func (o *Office) Identify(sessionID string, p domain.Participant) (domain.Snapshot, error) {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return domain.Snapshot{}, domain.ErrUnauthenticated
	}
	if o.opts.OrganizationID != "" && p.OrganizationID != o.opts.OrganizationID {
		commonlog.Warnf("event=office_session action=identify status=rejected reason=foreign_org session_id=%s participant_id=%s org_id=%s", sessionID, p.ID, p.OrganizationID)
		return domain.Snapshot{}, domain.ErrForbidden
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.sessions[sessionID]
	if !ok {
		return domain.Snapshot{}, domain.ErrUnauthenticated
	}
	if s.participantID != "" && s.participantID != p.ID {
		return domain.Snapshot{}, domain.ErrForbidden
	}
	if s.participantID == p.ID {
		snapshot := o.snapshotLocked(sessionID, o.presence[p.ID], false)
		o.sendLocked(sessionID, domain.Event{Type: domain.EventWelcome, Version: snapshot.Version, Snapshot: &snapshot})
		return snapshot, nil
	}

	restored := false
	if prevID, bound := o.current[p.ID]; bound && prevID != sessionID {
		o.supersedeLocked(prevID)
		restored = true
	}

	st, exists := o.presence[p.ID]
	if exists {
		st.record.Participant = p
		if st.graceTimer != nil {
			st.graceTimer.Stop()
			st.graceTimer = nil
			st.graceGen++
			restored = true
			if st.record.Status != st.savedStatus {
				st.record.Status = st.savedStatus
				o.publishPresenceLocked(st, domain.FieldStatus)
			}
		}
	} else {
		st = &presenceState{record: domain.PresenceRecord{
			Participant: p,
			Position:    o.opts.Lobby,
			Status:      domain.StatusOffline,
		}}
		o.presence[p.ID] = st
		st.record.Status = domain.StatusOnline
		st.record.Version = o.nextVersion()
		st.record.UpdatedAt = o.now()
		o.publishLocked(domain.Event{
			Type:    domain.EventRosterUpdated,
			Version: st.record.Version,
			Roster:  &domain.RosterDelta{Joined: []domain.PresenceRecord{st.record.Clone()}},
		}, allBound)
		o.opts.Metrics.SetParticipants(len(o.presence))
	}

	st.sessionID = sessionID
	s.participantID = p.ID
	o.current[p.ID] = sessionID

	snapshot := o.snapshotLocked(sessionID, st, restored)
	o.sendLocked(sessionID, domain.Event{Type: domain.EventWelcome, Version: snapshot.Version, Snapshot: &snapshot})
	commonlog.Infof("event=office_session action=identify status=ok session_id=%s participant_id=%s restored=%t", sessionID, p.ID, restored)
	return snapshot, nil
}

func (o *Office) supersedeLocked(prevID string) {
	prev, ok := o.sessions[prevID]
	if !ok {
		return
	}
	o.sendLocked(prevID, domain.Event{Type: domain.EventSuperseded})
	commonlog.Infof("event=office_session action=supersede status=ok session_id=%s participant_id=%s", prevID, prev.participantID)
	prev.participantID = ""
	delete(o.sessions, prevID)
	prev.sink.Close()
	o.opts.Metrics.SessionClosed()
}

// Disconnect forgets a session. When it was the participant's current
// session the record goes offline and is kept for the grace period.
func (o *Office) Disconnect(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.sessions[sessionID]
	if !ok {
		return
	}
	delete(o.sessions, sessionID)
	o.opts.Metrics.SessionClosed()
	if s.participantID == "" || o.current[s.participantID] != sessionID {
		return
	}
	participantID := s.participantID
	delete(o.current, participantID)

	st, ok := o.presence[participantID]
	if !ok {
		return
	}
	st.sessionID = ""
	st.savedStatus = st.record.Status
	st.graceGen++
	gen := st.graceGen
	if st.record.Status != domain.StatusOffline {
		st.record.Status = domain.StatusOffline
		o.publishPresenceLocked(st, domain.FieldStatus)
	}
	st.graceTimer = time.AfterFunc(o.opts.GracePeriod, func() {
		o.expireGrace(participantID, gen)
	})
	commonlog.Infof("event=office_session action=disconnect status=grace session_id=%s participant_id=%s grace_ms=%d", sessionID, participantID, o.opts.GracePeriod.Milliseconds())
}

// expireGrace removes a participant whose grace window elapsed. A timer from
// an older generation is ignored.
func (o *Office) expireGrace(participantID string, gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	st, ok := o.presence[participantID]
	if !ok || st.graceGen != gen || st.sessionID != "" {
		return
	}
	st.graceTimer = nil
	released := o.vacateLocked(st)
	delete(o.presence, participantID)
	spaces := o.stampSpacesLocked([]*domain.Space{released})
	version := o.nextVersion()
	o.publishLocked(domain.Event{
		Type:    domain.EventRosterUpdated,
		Version: version,
		Roster:  &domain.RosterDelta{Left: []string{participantID}},
		Spaces:  spaces,
	}, allBound)
	o.opts.Metrics.SetParticipants(len(o.presence))
	commonlog.Infof("event=office_session action=grace_expire status=removed participant_id=%s", participantID)
}

// SessionParticipant returns the participant bound to a session.
func (o *Office) SessionParticipant(sessionID string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[sessionID]
	if !ok || s.participantID == "" {
		return "", false
	}
	return s.participantID, true
}

// Close stops grace timers and closes every open session.
func (o *Office) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, st := range o.presence {
		if st.graceTimer != nil {
			st.graceTimer.Stop()
			st.graceTimer = nil
			st.graceGen++
		}
	}
	for id, s := range o.sessions {
		s.sink.Close()
		delete(o.sessions, id)
		o.opts.Metrics.SessionClosed()
	}
	o.current = map[string]string{}
}
