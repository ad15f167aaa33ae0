package api

import (
	"context"
	"time"

	commonlog "office_server/server/common/log"
	"office_server/server/office/domain"
)

type identifyResult struct {
	SessionID     string `json:"session_id"`
	ParticipantID string `json:"participant_id"`
	Restored      bool   `json:"restored"`
}

type threadResult struct {
	ThreadID string            `json:"thread_id"`
	Thread   domain.ChatThread `json:"thread"`
}

type historyResult struct {
	ThreadID string               `json:"thread_id"`
	Messages []domain.ChatMessage `json:"messages"`
}

// handleCommand runs one client command and answers the issuing session
// with an ack or an error. Broadcast effects are queued by the office.
func (h *Handler) handleCommand(ctx context.Context, sessionID string, cmd domain.Command) {
	startedAt := time.Now()
	result, err := h.dispatch(ctx, sessionID, cmd)
	now := time.Now().UTC()
	if err != nil {
		reason := domain.Reason(err)
		h.metrics.Command(string(cmd.Type), reason)
		if !domain.IsRejection(err) {
			commonlog.Errorf("event=office_command action=%s status=failed session_id=%s request_id=%s latency_ms=%d error=%v", cmd.Type, sessionID, cmd.RequestID, time.Since(startedAt).Milliseconds(), err)
		}
		h.office.Reply(sessionID, domain.NewError(cmd.RequestID, err, now))
		return
	}
	h.metrics.Command(string(cmd.Type), "ok")
	h.office.Reply(sessionID, domain.NewAck(cmd.RequestID, result, now))
}

func (h *Handler) dispatch(ctx context.Context, sessionID string, cmd domain.Command) (any, error) {
	switch cmd.Type {
	case domain.CommandPing:
		return "pong", nil

	case domain.CommandIdentify:
		var p domain.IdentifyPayload
		if err := cmd.Bind(&p); err != nil {
			return nil, err
		}
		return h.identify(sessionID, p.Token)

	case domain.CommandMove:
		var p domain.MovePayload
		if err := cmd.Bind(&p); err != nil {
			return nil, err
		}
		return h.office.Move(sessionID, p.ParticipantID, p.Position())

	case domain.CommandSetStatus:
		var p domain.StatusPayload
		if err := cmd.Bind(&p); err != nil {
			return nil, err
		}
		return h.office.SetSessionStatus(sessionID, p.ParticipantID, p.Status)

	case domain.CommandSetDND:
		var p domain.DNDPayload
		if err := cmd.Bind(&p); err != nil {
			return nil, err
		}
		return h.office.SetSessionDND(sessionID, p.ParticipantID, *p.Enabled)

	case domain.CommandSetMedia:
		var p domain.MediaPayload
		if err := cmd.Bind(&p); err != nil {
			return nil, err
		}
		return h.office.SetSessionMedia(sessionID, p.ParticipantID, p.Audio, p.Video)

	case domain.CommandEnterOffice:
		return h.office.EnterOffice(sessionID)

	case domain.CommandLeaveOffice:
		return h.office.LeaveOffice(sessionID)

	case domain.CommandEnterSpace:
		var p domain.SpacePayload
		if err := cmd.Bind(&p); err != nil {
			return nil, err
		}
		return h.office.EnterSpace(sessionID, p.SpaceID)

	case domain.CommandExitSpace:
		return h.office.ExitSpace(sessionID)

	case domain.CommandToggleLock:
		var p domain.ToggleLockPayload
		if err := cmd.Bind(&p); err != nil {
			return nil, err
		}
		return h.office.ToggleSessionLock(sessionID, p.SpaceID)

	case domain.CommandSendChat:
		var p domain.ChatSendPayload
		if err := cmd.Bind(&p); err != nil {
			return nil, err
		}
		return h.office.SendChat(ctx, sessionID, p)

	case domain.CommandCreateDirect:
		var p domain.DirectThreadPayload
		if err := cmd.Bind(&p); err != nil {
			return nil, err
		}
		thread, err := h.office.CreateDirect(sessionID, p.ParticipantID)
		if err != nil {
			return nil, err
		}
		return threadResult{ThreadID: thread.ID, Thread: thread}, nil

	case domain.CommandCreateGroup:
		var p domain.GroupThreadPayload
		if err := cmd.Bind(&p); err != nil {
			return nil, err
		}
		thread, err := h.office.CreateGroup(sessionID, p.Name, p.ParticipantIDs)
		if err != nil {
			return nil, err
		}
		return threadResult{ThreadID: thread.ID, Thread: thread}, nil

	case domain.CommandHistory:
		var p domain.HistoryPayload
		if err := cmd.Bind(&p); err != nil {
			return nil, err
		}
		messages, err := h.office.SessionHistory(ctx, sessionID, p.ThreadID, p.BeforeSeq, p.Limit)
		if err != nil {
			return nil, err
		}
		return historyResult{ThreadID: p.ThreadID, Messages: messages}, nil

	case domain.CommandMarkRead:
		var p domain.MarkReadPayload
		if err := cmd.Bind(&p); err != nil {
			return nil, err
		}
		thread, err := h.office.SessionMarkRead(sessionID, p.ThreadID, p.Seq)
		if err != nil {
			return nil, err
		}
		return threadResult{ThreadID: thread.ID, Thread: thread}, nil

	case domain.CommandPlaceObject:
		var p domain.PlaceObjectPayload
		if err := cmd.Bind(&p); err != nil {
			return nil, err
		}
		return h.office.PlaceObject(sessionID, p)

	case domain.CommandRemoveObject:
		var p domain.RemoveObjectPayload
		if err := cmd.Bind(&p); err != nil {
			return nil, err
		}
		if err := h.office.RemoveObject(sessionID, p.ObjectID); err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, domain.ErrInvalidCommand
}

// identify verifies a bearer token and binds the session to the
// participant it names. The welcome snapshot is queued by the office.
func (h *Handler) identify(sessionID, token string) (identifyResult, error) {
	claims, err := h.auth.ParseToken(token)
	if err != nil {
		commonlog.Warnf("event=office_session action=identify status=rejected reason=invalid_token session_id=%s error=%v", sessionID, err)
		return identifyResult{}, domain.ErrUnauthenticated
	}
	snapshot, err := h.office.Identify(sessionID, domain.Participant{
		ID:             claims.ParticipantID,
		Name:           claims.Name,
		Email:          claims.Email,
		OrganizationID: claims.OrganizationID,
		Role:           claims.Role,
	})
	if err != nil {
		return identifyResult{}, err
	}
	return identifyResult{SessionID: sessionID, ParticipantID: claims.ParticipantID, Restored: snapshot.Restored}, nil
}
