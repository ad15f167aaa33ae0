package service

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	commonlog "office_server/server/common/log"
	"office_server/server/office/domain"
)

// PlaceObject puts a build-mode object on the stage at a clamped position.
func (o *Office) PlaceObject(sessionID string, p domain.PlaceObjectPayload) (domain.WorkspaceObject, error) {
	if err := p.Validate(); err != nil {
		return domain.WorkspaceObject{}, err
	}
	var out domain.WorkspaceObject
	err := o.withActor(sessionID, "", func(st *presenceState) error {
		pos := domain.Position{X: p.X, Y: p.Y}
		if !pos.Finite() {
			return domain.ErrOutOfBounds
		}
		if len(o.objects) >= o.opts.MaxObjects {
			return domain.ErrBoardFull
		}
		out = domain.WorkspaceObject{
			ID:       uuid.NewString(),
			Kind:     p.Kind,
			Position: o.opts.Stage.Clamp(pos),
			Rotation: p.Rotation,
			Scale:    p.Scale,
			PlacedBy: st.record.Participant.ID,
			PlacedAt: o.now(),
			Version:  o.nextVersion(),
		}
		o.objects[out.ID] = out
		placed := out
		o.publishLocked(domain.Event{Type: domain.EventObjectPlaced, Version: out.Version, Object: &placed}, allBound)
		commonlog.Debugf("event=office_board action=place status=ok object_id=%s kind=%s participant_id=%s", out.ID, out.Kind, out.PlacedBy)
		return nil
	})
	return out, err
}

func (o *Office) RemoveObject(sessionID, objectID string) error {
	return o.withActor(sessionID, "", func(st *presenceState) error {
		return o.removeObjectLocked(st.record.Participant.ID, objectID)
	})
}

// ModerateObject removes an object on behalf of an administrator who may not
// be present in the office.
func (o *Office) ModerateObject(adminID, objectID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.removeObjectLocked(adminID, objectID)
}

func (o *Office) removeObjectLocked(actorID, objectID string) error {
	objectID = strings.TrimSpace(objectID)
	if _, ok := o.objects[objectID]; !ok {
		commonlog.Warnf("event=office_board action=remove status=rejected reason=unknown_object object_id=%s participant_id=%s", objectID, actorID)
		return domain.ErrUnknownObject
	}
	delete(o.objects, objectID)
	o.publishLocked(domain.Event{Type: domain.EventObjectRemoved, Version: o.nextVersion(), ObjectID: objectID}, allBound)
	commonlog.Debugf("event=office_board action=remove status=ok object_id=%s participant_id=%s", objectID, actorID)
	return nil
}

func (o *Office) Objects() []domain.WorkspaceObject {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.objectsLocked()
}

func (o *Office) objectsLocked() []domain.WorkspaceObject {
	out := make([]domain.WorkspaceObject, 0, len(o.objects))
	for _, obj := range o.objects {
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PlacedAt.Equal(out[j].PlacedAt) {
			return out[i].PlacedAt.Before(out[j].PlacedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
