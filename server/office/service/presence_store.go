package service

import (
	"strings"

	commonlog "office_server/server/common/log"
	"office_server/server/office/domain"
)

// ApplyMove clamps pos to the stage and moves the participant there.
// Non-finite coordinates are rejected with ErrOutOfBounds.
func (o *Office) ApplyMove(participantID string, pos domain.Position) (domain.PresenceRecord, domain.PresenceDelta, error) {
	var (
		record domain.PresenceRecord
		delta  domain.PresenceDelta
	)
	err := o.withParticipant(participantID, func(st *presenceState) error {
		var err error
		record, delta, err = o.applyMoveLocked(st, pos)
		return err
	})
	return record, delta, err
}

// Move is ApplyMove on behalf of a session. targetID, when set, must be the
// session's own participant.
func (o *Office) Move(sessionID, targetID string, pos domain.Position) (domain.PresenceRecord, error) {
	var record domain.PresenceRecord
	err := o.withActor(sessionID, targetID, func(st *presenceState) error {
		var err error
		record, _, err = o.applyMoveLocked(st, pos)
		return err
	})
	return record, err
}

func (o *Office) applyMoveLocked(st *presenceState, pos domain.Position) (domain.PresenceRecord, domain.PresenceDelta, error) {
	if !pos.Finite() {
		commonlog.Warnf("event=office_presence action=move status=rejected reason=non_finite participant_id=%s", st.record.Participant.ID)
		return domain.PresenceRecord{}, domain.PresenceDelta{}, domain.ErrOutOfBounds
	}
	clamped := o.opts.Stage.Clamp(pos)
	if clamped == st.record.Position {
		return st.record.Clone(), unchanged(st), nil
	}
	st.record.Position = clamped
	record, delta := o.publishPresenceLocked(st, domain.FieldPosition)
	return record, delta, nil
}

func (o *Office) SetStatus(participantID string, status domain.Status) (domain.PresenceRecord, domain.PresenceDelta, error) {
	var (
		record domain.PresenceRecord
		delta  domain.PresenceDelta
	)
	err := o.withParticipant(participantID, func(st *presenceState) error {
		var err error
		record, delta, err = o.setStatusLocked(st, status)
		return err
	})
	return record, delta, err
}

func (o *Office) SetSessionStatus(sessionID, targetID string, status domain.Status) (domain.PresenceRecord, error) {
	var record domain.PresenceRecord
	err := o.withActor(sessionID, targetID, func(st *presenceState) error {
		var err error
		record, _, err = o.setStatusLocked(st, status)
		return err
	})
	return record, err
}

func (o *Office) setStatusLocked(st *presenceState, status domain.Status) (domain.PresenceRecord, domain.PresenceDelta, error) {
	status = domain.Status(strings.ToLower(strings.TrimSpace(string(status))))
	if !status.Valid() {
		return domain.PresenceRecord{}, domain.PresenceDelta{}, domain.ErrInvalidCommand
	}
	if st.record.Status == status {
		return st.record.Clone(), unchanged(st), nil
	}
	st.record.Status = status
	record, delta := o.publishPresenceLocked(st, domain.FieldStatus)
	return record, delta, nil
}

func (o *Office) SetDND(participantID string, enabled bool) (domain.PresenceRecord, domain.PresenceDelta, error) {
	var (
		record domain.PresenceRecord
		delta  domain.PresenceDelta
	)
	err := o.withParticipant(participantID, func(st *presenceState) error {
		record, delta = o.setDNDLocked(st, enabled)
		return nil
	})
	return record, delta, err
}

func (o *Office) SetSessionDND(sessionID, targetID string, enabled bool) (domain.PresenceRecord, error) {
	var record domain.PresenceRecord
	err := o.withActor(sessionID, targetID, func(st *presenceState) error {
		record, _ = o.setDNDLocked(st, enabled)
		return nil
	})
	return record, err
}

func (o *Office) setDNDLocked(st *presenceState, enabled bool) (domain.PresenceRecord, domain.PresenceDelta) {
	if st.record.DoNotDisturb == enabled {
		return st.record.Clone(), unchanged(st)
	}
	st.record.DoNotDisturb = enabled
	return o.publishPresenceLocked(st, domain.FieldDoNotDisturb)
}

// SetMediaFlags updates whichever of audio and video is non-nil.
func (o *Office) SetMediaFlags(participantID string, audio, video *bool) (domain.PresenceRecord, domain.PresenceDelta, error) {
	var (
		record domain.PresenceRecord
		delta  domain.PresenceDelta
	)
	err := o.withParticipant(participantID, func(st *presenceState) error {
		record, delta = o.setMediaLocked(st, audio, video)
		return nil
	})
	return record, delta, err
}

func (o *Office) SetSessionMedia(sessionID, targetID string, audio, video *bool) (domain.PresenceRecord, error) {
	var record domain.PresenceRecord
	err := o.withActor(sessionID, targetID, func(st *presenceState) error {
		record, _ = o.setMediaLocked(st, audio, video)
		return nil
	})
	return record, err
}

func (o *Office) setMediaLocked(st *presenceState, audio, video *bool) (domain.PresenceRecord, domain.PresenceDelta) {
	var fields []string
	if audio != nil && *audio != st.record.AudioEnabled {
		st.record.AudioEnabled = *audio
		fields = append(fields, domain.FieldAudio)
	}
	if video != nil && *video != st.record.VideoEnabled {
		st.record.VideoEnabled = *video
		fields = append(fields, domain.FieldVideo)
	}
	if len(fields) == 0 {
		return st.record.Clone(), unchanged(st)
	}
	return o.publishPresenceLocked(st, fields...)
}

// SetMeeting replaces the participant's current meeting; nil clears it. The
// derived lock of the participant's space follows.
func (o *Office) SetMeeting(participantID string, meeting *domain.Meeting) (domain.PresenceRecord, domain.PresenceDelta, error) {
	if meeting != nil {
		m := *meeting
		m.ID = strings.TrimSpace(m.ID)
		m.Title = strings.TrimSpace(m.Title)
		if m.ID == "" {
			return domain.PresenceRecord{}, domain.PresenceDelta{}, domain.ErrInvalidCommand
		}
		if m.EndsAt != nil {
			endsAt := m.EndsAt.UTC()
			m.EndsAt = &endsAt
		}
		meeting = &m
	}
	var (
		record domain.PresenceRecord
		delta  domain.PresenceDelta
	)
	err := o.withParticipant(participantID, func(st *presenceState) error {
		if meeting == nil && st.record.CurrentMeeting == nil {
			record, delta = st.record.Clone(), unchanged(st)
			return nil
		}
		fields := []string{domain.FieldMeeting}
		if !st.record.CalendarConnected {
			st.record.CalendarConnected = true
			fields = append(fields, domain.FieldCalendar)
		}
		st.record.CurrentMeeting = meeting
		record, delta = o.publishChangeLocked(st, []*domain.Space{o.lockChangedLocked(st.record.CurrentSpaceID)}, fields...)
		return nil
	})
	return record, delta, err
}

// SetInOffice moves a participant into the office at the entry point, or out
// of it to the lobby after releasing any space.
func (o *Office) SetInOffice(participantID string, inOffice bool) (domain.PresenceRecord, domain.PresenceDelta, error) {
	var (
		record domain.PresenceRecord
		delta  domain.PresenceDelta
	)
	err := o.withParticipant(participantID, func(st *presenceState) error {
		record, delta = o.setInOfficeLocked(st, inOffice)
		return nil
	})
	return record, delta, err
}

func (o *Office) EnterOffice(sessionID string) (domain.PresenceRecord, error) {
	var record domain.PresenceRecord
	err := o.withActor(sessionID, "", func(st *presenceState) error {
		record, _ = o.setInOfficeLocked(st, true)
		return nil
	})
	return record, err
}

func (o *Office) LeaveOffice(sessionID string) (domain.PresenceRecord, error) {
	var record domain.PresenceRecord
	err := o.withActor(sessionID, "", func(st *presenceState) error {
		record, _ = o.setInOfficeLocked(st, false)
		return nil
	})
	return record, err
}

func (o *Office) setInOfficeLocked(st *presenceState, inOffice bool) (domain.PresenceRecord, domain.PresenceDelta) {
	if st.record.InOffice == inOffice {
		return st.record.Clone(), unchanged(st)
	}
	fields := []string{domain.FieldInOffice, domain.FieldPosition}
	var released *domain.Space
	if inOffice {
		st.record.Position = o.opts.Stage.Clamp(o.opts.OfficeEntry)
	} else {
		if st.record.CurrentSpaceID != "" {
			fields = append(fields, domain.FieldSpace)
		}
		released = o.vacateLocked(st)
		st.record.Position = o.opts.Stage.Clamp(o.opts.Lobby)
	}
	st.record.InOffice = inOffice
	return o.publishChangeLocked(st, []*domain.Space{released}, fields...)
}

func unchanged(st *presenceState) domain.PresenceDelta {
	return domain.PresenceDelta{
		ParticipantID: st.record.Participant.ID,
		Version:       st.record.Version,
		Record:        st.record.Clone(),
	}
}
