package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"office_server/server/office/domain"
)

const testOrg = "org-1"

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
	limit  int
	closed bool
}

func (s *recordingSink) Send(ev domain.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || (s.limit > 0 && len(s.events) >= s.limit) {
		return false
	}
	s.events = append(s.events, ev)
	return true
}

func (s *recordingSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *recordingSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *recordingSink) all() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event{}, s.events...)
}

func (s *recordingSink) ofType(t domain.EventType) []domain.Event {
	var out []domain.Event
	for _, ev := range s.all() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

func testSpaces() []domain.Space {
	return []domain.Space{
		{ID: "desk-1", Name: "Desk 1", Type: domain.SpaceTypeDesk, Bounds: domain.Rect{X: 48, Y: 48, Width: 8, Height: 6}, Capacity: 1},
		{ID: "mr-1", Name: "Meeting Room", Type: domain.SpaceTypeMeetingRoom, Bounds: domain.Rect{X: 20, Y: 20, Width: 10, Height: 10}, Capacity: 4},
		{ID: "huddle-1", Name: "Huddle", Type: domain.SpaceTypeHuddle, Bounds: domain.Rect{X: 70, Y: 70, Width: 10, Height: 10}, Capacity: 2},
		{ID: "lounge", Name: "Lounge", Type: domain.SpaceTypeCommonArea, Bounds: domain.Rect{X: 5, Y: 70, Width: 20, Height: 20}, Capacity: 10},
	}
}

func newTestOffice(t *testing.T, mutate ...func(*Options)) *Office {
	t.Helper()
	opts := Options{OrganizationID: testOrg, Spaces: testSpaces()}
	for _, m := range mutate {
		m(&opts)
	}
	o := NewOffice(opts)
	t.Cleanup(o.Close)
	return o
}

func participant(id string) domain.Participant {
	return domain.Participant{ID: id, Name: "name-" + id, OrganizationID: testOrg, Role: "member"}
}

// join connects and identifies a participant.
func join(t *testing.T, o *Office, id string) (string, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	sessionID := o.Connect(sink)
	_, err := o.Identify(sessionID, participant(id))
	require.NoError(t, err)
	return sessionID, sink
}

// joinAt identifies a participant, brings it into the office and moves it.
func joinAt(t *testing.T, o *Office, id string, pos domain.Position) (string, *recordingSink) {
	t.Helper()
	sessionID, sink := join(t, o, id)
	_, err := o.EnterOffice(sessionID)
	require.NoError(t, err)
	_, err = o.Move(sessionID, "", pos)
	require.NoError(t, err)
	return sessionID, sink
}

func activeMeeting(id string, locked bool) *domain.Meeting {
	endsAt := time.Now().Add(time.Hour)
	return &domain.Meeting{ID: id, Title: "Standup", IsLocked: locked, EndsAt: &endsAt}
}

// assertConsistent checks occupancy against capacity and against every
// participant's current space.
func assertConsistent(t *testing.T, o *Office) {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, space := range o.spaces {
		require.LessOrEqual(t, len(space.Occupants), space.Capacity, "space %s over capacity", id)
		for _, occupant := range space.Occupants {
			st, ok := o.presence[occupant]
			require.True(t, ok, "occupant %s of %s has no record", occupant, id)
			require.Equal(t, id, st.record.CurrentSpaceID)
		}
	}
	for id, st := range o.presence {
		if st.record.CurrentSpaceID == "" {
			continue
		}
		space := o.spaces[st.record.CurrentSpaceID]
		require.NotNil(t, space)
		require.Contains(t, space.Occupants, id)
	}
}
