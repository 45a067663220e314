package conversation

import (
	"sync"

	"github.com/kalambet/whereismy/internal/storage"
)

// Flow identifies which conversation a user is in.
type Flow int

const (
	FlowNone Flow = iota
	FlowFound
	FlowLost
)

func (f Flow) String() string {
	switch f {
	case FlowFound:
		return "found"
	case FlowLost:
		return "lost"
	default:
		return "none"
	}
}

// Step is the prompt a session is waiting on.
type Step int

const (
	StepNone Step = iota
	StepChooseCategory
	StepEnterDescription
	StepChooseLocation
	StepEnterPlaceDetail
	StepChooseContactMode
	StepEnterContactDetail
)

func (s Step) String() string {
	switch s {
	case StepChooseCategory:
		return "choose_category"
	case StepEnterDescription:
		return "enter_description"
	case StepChooseLocation:
		return "choose_location"
	case StepEnterPlaceDetail:
		return "enter_place_detail"
	case StepChooseContactMode:
		return "choose_contact_mode"
	case StepEnterContactDetail:
		return "enter_contact_detail"
	default:
		return "none"
	}
}

// Draft holds the fields collected so far.
type Draft struct {
	Category    string
	Description string
	PhotoRef    string
	Location    string // empty in the lost flow means "don't remember"
	PlaceDetail string
	ContactMode storage.ContactMode
}

// Session is the in-memory conversation state of one user. The zero value
// is the idle state.
type Session struct {
	Flow  Flow
	Step  Step
	Draft Draft
}

// slot serializes the events of a single user. busy is set while a
// completion runs without mu held.
type slot struct {
	mu   sync.Mutex
	sess Session
	busy bool
}

// sessions partitions state by user id. Slots are never removed, so a
// pointer obtained from get stays the only slot for that user.
type sessions struct {
	mu    sync.Mutex
	slots map[int64]*slot
}

func newSessions() *sessions {
	return &sessions{slots: make(map[int64]*slot)}
}

func (s *sessions) get(userID int64) *slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[userID]
	if !ok {
		sl = &slot{}
		s.slots[userID] = sl
	}
	return sl
}

// peek returns a copy of the user's session without creating a slot.
func (s *sessions) peek(userID int64) (Session, bool) {
	s.mu.Lock()
	sl, ok := s.slots[userID]
	s.mu.Unlock()
	if !ok {
		return Session{}, false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.sess, sl.sess.Flow != FlowNone
}
