package service

import (
	"sort"
	"strings"

	commonlog "office_server/server/common/log"
	"office_server/server/office/domain"
)

// RequestEnter admits a participant into a space. Checks run in a fixed
// order and nothing changes unless all of them pass; on acceptance the
// participant leaves any previous space, joins this one and is recentered on
// it as one step.
func (o *Office) RequestEnter(participantID, spaceID string) (domain.Space, error) {
	var out domain.Space
	err := o.withParticipant(participantID, func(st *presenceState) error {
		var err error
		out, err = o.requestEnterLocked(st, spaceID)
		return err
	})
	return out, err
}

func (o *Office) EnterSpace(sessionID, spaceID string) (domain.Space, error) {
	var out domain.Space
	err := o.withActor(sessionID, "", func(st *presenceState) error {
		var err error
		out, err = o.requestEnterLocked(st, spaceID)
		return err
	})
	return out, err
}

func (o *Office) requestEnterLocked(st *presenceState, spaceID string) (domain.Space, error) {
	participantID := st.record.Participant.ID
	spaceID = strings.TrimSpace(spaceID)
	space, ok := o.spaces[spaceID]
	if !ok {
		commonlog.Warnf("event=office_space action=enter status=rejected reason=unknown_space participant_id=%s space_id=%s", participantID, spaceID)
		return domain.Space{}, domain.ErrUnknownSpace
	}
	if !st.record.InOffice {
		return domain.Space{}, domain.ErrNotInOffice
	}
	if st.record.CurrentSpaceID == spaceID {
		return o.viewLocked(space), nil
	}
	if st.record.Position.Distance(space.Bounds.Center()) > o.opts.ProximityThreshold {
		return domain.Space{}, domain.ErrTooFar
	}
	if len(space.Occupants) >= space.Capacity {
		return domain.Space{}, domain.ErrFull
	}
	if o.derivedLockLocked(space) {
		return domain.Space{}, domain.ErrLocked
	}

	fields := []string{domain.FieldSpace}
	previous := o.vacateLocked(st)
	space.Occupants = insertSorted(space.Occupants, participantID)
	st.record.CurrentSpaceID = spaceID
	if center := space.Bounds.Center(); center != st.record.Position {
		st.record.Position = center
		fields = append(fields, domain.FieldPosition)
	}
	o.publishChangeLocked(st, []*domain.Space{previous, space}, fields...)
	commonlog.Infof("event=office_space action=enter status=accepted participant_id=%s space_id=%s occupants=%d capacity=%d", participantID, spaceID, len(space.Occupants), space.Capacity)
	return o.viewLocked(space), nil
}

// RequestExit releases the participant's space. It is a no-op outside a space.
func (o *Office) RequestExit(participantID string) error {
	return o.withParticipant(participantID, func(st *presenceState) error {
		o.requestExitLocked(st)
		return nil
	})
}

func (o *Office) ExitSpace(sessionID string) (domain.PresenceRecord, error) {
	var record domain.PresenceRecord
	err := o.withActor(sessionID, "", func(st *presenceState) error {
		o.requestExitLocked(st)
		record = st.record.Clone()
		return nil
	})
	return record, err
}

func (o *Office) requestExitLocked(st *presenceState) {
	if st.record.CurrentSpaceID == "" {
		return
	}
	previous := o.vacateLocked(st)
	o.publishChangeLocked(st, []*domain.Space{previous}, domain.FieldSpace)
}

// vacateLocked takes the participant out of its space and returns that space
// for the caller to publish with the presence change. It returns nil when the
// participant held no known space.
func (o *Office) vacateLocked(st *presenceState) *domain.Space {
	spaceID := st.record.CurrentSpaceID
	if spaceID == "" {
		return nil
	}
	st.record.CurrentSpaceID = ""
	space, ok := o.spaces[spaceID]
	if !ok {
		return nil
	}
	space.Occupants = removeSorted(space.Occupants, st.record.Participant.ID)
	commonlog.Debugf("event=office_space action=exit status=ok participant_id=%s space_id=%s occupants=%d", st.record.Participant.ID, spaceID, len(space.Occupants))
	return space
}

// ToggleLock flips the lock flag of the caller's active meeting. spaceID is
// optional; when given it must be the caller's current space. Occupants are
// never evicted.
func (o *Office) ToggleLock(participantID, spaceID string) (domain.Space, error) {
	var out domain.Space
	err := o.withParticipant(participantID, func(st *presenceState) error {
		var err error
		out, err = o.toggleLockLocked(st, spaceID)
		return err
	})
	return out, err
}

func (o *Office) ToggleSessionLock(sessionID, spaceID string) (domain.Space, error) {
	var out domain.Space
	err := o.withActor(sessionID, "", func(st *presenceState) error {
		var err error
		out, err = o.toggleLockLocked(st, spaceID)
		return err
	})
	return out, err
}

func (o *Office) toggleLockLocked(st *presenceState, spaceID string) (domain.Space, error) {
	spaceID = strings.TrimSpace(spaceID)
	if spaceID != "" {
		if _, ok := o.spaces[spaceID]; !ok {
			return domain.Space{}, domain.ErrUnknownSpace
		}
	}
	current := st.record.CurrentSpaceID
	if current == "" || (spaceID != "" && spaceID != current) {
		return domain.Space{}, domain.ErrNotOccupant
	}
	if !st.record.CurrentMeeting.Active(o.now()) {
		return domain.Space{}, domain.ErrNoActiveMeeting
	}
	meeting := *st.record.CurrentMeeting
	meeting.IsLocked = !meeting.IsLocked
	st.record.CurrentMeeting = &meeting
	o.publishChangeLocked(st, []*domain.Space{o.lockChangedLocked(current)}, domain.FieldMeeting)
	commonlog.Infof("event=office_space action=toggle_lock status=ok participant_id=%s space_id=%s meeting_locked=%t", st.record.Participant.ID, current, meeting.IsLocked)

	space, ok := o.spaces[current]
	if !ok {
		return domain.Space{}, domain.ErrUnknownSpace
	}
	return o.viewLocked(space), nil
}

// derivedLockLocked reports whether any occupant holds an active, locked
// meeting.
func (o *Office) derivedLockLocked(space *domain.Space) bool {
	now := o.now()
	for _, id := range space.Occupants {
		st, ok := o.presence[id]
		if !ok {
			continue
		}
		if m := st.record.CurrentMeeting; m.Active(now) && m.IsLocked {
			return true
		}
	}
	return false
}

// lockChangedLocked returns the space when its derived lock no longer matches
// the published one, and nil otherwise.
func (o *Office) lockChangedLocked(spaceID string) *domain.Space {
	space, ok := o.spaces[spaceID]
	if !ok || o.derivedLockLocked(space) == space.Locked {
		return nil
	}
	return space
}

func (o *Office) viewLocked(space *domain.Space) domain.Space {
	out := space.Clone()
	out.Locked = o.derivedLockLocked(space)
	return out
}

func insertSorted(ids []string, id string) []string {
	i := sort.SearchStrings(ids, id)
	if i < len(ids) && ids[i] == id {
		return ids
	}
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

func removeSorted(ids []string, id string) []string {
	i := sort.SearchStrings(ids, id)
	if i >= len(ids) || ids[i] != id {
		return ids
	}
	return append(ids[:i], ids[i+1:]...)
}
