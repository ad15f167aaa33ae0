package service

import (
	"bytes"
	"math"
	"math/rand"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonlog "office_server/server/common/log"
	"office_server/server/office/domain"
)

func TestRandomMovesStayOnStage(t *testing.T) {
	o := newTestOffice(t)
	join(t, o, "alice")
	rng := rand.New(rand.NewSource(7))
	stage := o.Stage()

	for i := 0; i < 2000; i++ {
		pos := domain.Position{X: rng.Float64()*1000 - 500, Y: rng.Float64()*1000 - 500}
		if i%97 == 0 {
			pos.X = math.NaN()
		}
		if i%89 == 0 {
			pos.Y = math.Inf(1)
		}
		record, _, err := o.ApplyMove("alice", pos)
		if !pos.Finite() {
			assert.ErrorIs(t, err, domain.ErrOutOfBounds)
			continue
		}
		require.NoError(t, err)
		require.True(t, stage.Contains(record.Position), "position %+v escaped the stage", record.Position)
	}

	record, err := o.Presence("alice")
	require.NoError(t, err)
	assert.True(t, stage.Contains(record.Position))
}

func TestApplyMoveClampsAndReportsDelta(t *testing.T) {
	o := newTestOffice(t)
	join(t, o, "alice")

	record, delta, err := o.ApplyMove("alice", domain.Position{X: 140, Y: -3})
	require.NoError(t, err)
	assert.Equal(t, domain.Position{X: 100, Y: 0}, record.Position)
	assert.Equal(t, []string{domain.FieldPosition}, delta.Fields)
	assert.Equal(t, record.Version, delta.Version)

	again, delta, err := o.ApplyMove("alice", domain.Position{X: 100, Y: 0})
	require.NoError(t, err)
	assert.Equal(t, record.Version, again.Version)
	assert.Empty(t, delta.Fields)

	_, _, err = o.ApplyMove("ghost", domain.Position{X: 1, Y: 1})
	assert.ErrorIs(t, err, domain.ErrUnknownParticipant)
}

func TestOnlyOwnerMutatesPresence(t *testing.T) {
	o := newTestOffice(t)
	aliceSession, _ := join(t, o, "alice")
	join(t, o, "bob")

	_, err := o.Move(aliceSession, "bob", domain.Position{X: 1, Y: 1})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = o.SetSessionStatus(aliceSession, "bob", domain.StatusBusy)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = o.SetSessionDND(aliceSession, "bob", true)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	audio := true
	_, err = o.SetSessionMedia(aliceSession, "bob", &audio, nil)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	bob, err := o.Presence("bob")
	require.NoError(t, err)
	assert.Equal(t, DefaultLobby, bob.Position)
	assert.Equal(t, domain.StatusOnline, bob.Status)
	assert.False(t, bob.DoNotDisturb)

	_, err = o.Move(aliceSession, "alice", domain.Position{X: 3, Y: 4})
	assert.NoError(t, err)
}

func TestConcurrentFieldUpdatesDoNotClobber(t *testing.T) {
	o := newTestOffice(t)
	join(t, o, "alice")

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, _, err := o.ApplyMove("alice", domain.Position{X: float64(i % 100), Y: 42})
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 201; i++ {
			_, _, err := o.SetDND("alice", i%2 == 0)
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		video := true
		_, _, err := o.SetMediaFlags("alice", nil, &video)
		assert.NoError(t, err)
	}()
	wg.Wait()

	record, err := o.Presence("alice")
	require.NoError(t, err)
	assert.Equal(t, domain.Position{X: 99, Y: 42}, record.Position)
	assert.True(t, record.DoNotDisturb)
	assert.True(t, record.VideoEnabled)
	assert.False(t, record.AudioEnabled)
}

func TestDuplicateDeltaDeliveryIsIdempotent(t *testing.T) {
	o := newTestOffice(t)
	_, observer := join(t, o, "observer")
	sessionID, _ := join(t, o, "alice")

	welcome := observer.ofType(domain.EventWelcome)
	require.Len(t, welcome, 1)
	replica := domain.NewReplica(*welcome[0].Snapshot)

	_, err := o.Move(sessionID, "", domain.Position{X: 30, Y: 30})
	require.NoError(t, err)
	_, err = o.SetSessionDND(sessionID, "", true)
	require.NoError(t, err)

	events := observer.all()[1:]
	for _, ev := range events {
		replica.Apply(ev)
	}
	once := replica.Presence["alice"]

	for _, ev := range events {
		assert.False(t, replica.Apply(ev), "replayed %s changed the replica", ev.Type)
	}
	assert.Equal(t, once, replica.Presence["alice"])
	assert.Equal(t, domain.Position{X: 30, Y: 30}, once.Position)
	assert.True(t, once.DoNotDisturb)
}

func TestVersionsIncreasePerParticipant(t *testing.T) {
	o := newTestOffice(t)
	_, observer := join(t, o, "observer")
	sessionID, _ := join(t, o, "alice")
	observer.reset()

	for i := 0; i < 10; i++ {
		_, err := o.Move(sessionID, "", domain.Position{X: float64(i), Y: 1})
		require.NoError(t, err)
	}
	var last uint64
	for _, ev := range observer.ofType(domain.EventPresenceUpdated) {
		assert.Greater(t, ev.Presence.Version, last)
		last = ev.Presence.Version
	}
}

func TestSetStatusValidatesValue(t *testing.T) {
	o := newTestOffice(t)
	join(t, o, "alice")

	_, _, err := o.SetStatus("alice", domain.Status("sleeping"))
	assert.ErrorIs(t, err, domain.ErrInvalidCommand)

	record, delta, err := o.SetStatus("alice", "BUSY")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBusy, record.Status)
	assert.Equal(t, []string{domain.FieldStatus}, delta.Fields)
}

func TestOfficeEnterAndLeave(t *testing.T) {
	o := newTestOffice(t)
	sessionID, _ := join(t, o, "alice")

	record, err := o.EnterOffice(sessionID)
	require.NoError(t, err)
	assert.True(t, record.InOffice)
	assert.Equal(t, DefaultOfficeEntry, record.Position)

	_, err = o.Move(sessionID, "", domain.Position{X: 25, Y: 25})
	require.NoError(t, err)
	_, err = o.EnterSpace(sessionID, "mr-1")
	require.NoError(t, err)
	_, observer := join(t, o, "observer")
	observer.reset()

	record, err = o.LeaveOffice(sessionID)
	require.NoError(t, err)
	assert.False(t, record.InOffice)
	assert.Empty(t, record.CurrentSpaceID)
	assert.Equal(t, DefaultLobby, record.Position)

	room, err := o.Space("mr-1")
	require.NoError(t, err)
	assert.Empty(t, room.Occupants)

	events := observer.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventSpaceUpdated, events[0].Type)
	assert.Equal(t, "mr-1", events[0].Space.ID)
	assert.False(t, events[0].Presence.Record.InOffice)
	assertConsistent(t, o)
}

func TestUnknownParticipantLookupIsLogged(t *testing.T) {
	var buf bytes.Buffer
	commonlog.SetOutput(&buf)
	t.Cleanup(func() { commonlog.SetOutput(os.Stdout) })

	o := newTestOffice(t)
	err := o.RequestExit("ghost")
	assert.ErrorIs(t, err, domain.ErrUnknownParticipant)
	assert.Contains(t, buf.String(), "reason=unknown_participant participant_id=ghost")
}

func TestSetMeetingValidation(t *testing.T) {
	o := newTestOffice(t)
	join(t, o, "alice")

	_, _, err := o.SetMeeting("alice", &domain.Meeting{Title: "no id"})
	assert.ErrorIs(t, err, domain.ErrInvalidCommand)

	record, delta, err := o.SetMeeting("alice", activeMeeting("m-1", false))
	require.NoError(t, err)
	require.NotNil(t, record.CurrentMeeting)
	assert.True(t, record.CalendarConnected)
	assert.Equal(t, []string{domain.FieldMeeting, domain.FieldCalendar}, delta.Fields)

	_, delta, err = o.SetMeeting("alice", activeMeeting("m-2", false))
	require.NoError(t, err)
	assert.Equal(t, []string{domain.FieldMeeting}, delta.Fields)

	record, _, err = o.SetMeeting("alice", nil)
	require.NoError(t, err)
	assert.Nil(t, record.CurrentMeeting)
	assert.True(t, record.CalendarConnected)

	_, _, err = o.SetMeeting("ghost", nil)
	assert.ErrorIs(t, err, domain.ErrUnknownParticipant)
}
