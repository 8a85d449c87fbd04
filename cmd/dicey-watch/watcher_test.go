package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/park285/dicey-decisions/internal/domain"
	"github.com/park285/dicey-decisions/internal/msgcat"
	"github.com/park285/dicey-decisions/internal/navigation"
	"github.com/park285/dicey-decisions/pkg/decisiondto"
)

type resolveCall struct {
	optionID string
	method   *domain.TiebreakMethod
}

type fakeAPI struct {
	mu        sync.Mutex
	joined    string
	rooms     []domain.Room
	snap      *domain.RoomSnapshot
	finalized int
	resolved  []resolveCall
}

func (f *fakeAPI) JoinRoom(_ context.Context, code, _ string) (*decisiondto.JoinResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = code
	return &decisiondto.JoinResponse{Room: domain.Room{ID: "r1", Code: code, Title: "Dinner"}, Joined: true}, nil
}

func (f *fakeAPI) ListRooms(context.Context) ([]domain.Room, error) { return f.rooms, nil }

func (f *fakeAPI) Snapshot(_ context.Context, roomID string) (*domain.RoomSnapshot, error) {
	if f.snap == nil || f.snap.Room.ID != roomID {
		return nil, domain.ErrNotFound
	}
	s := f.snap.Clone()
	return &s, nil
}

func (f *fakeAPI) Finalize(context.Context, string) (*decisiondto.SettleResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized++
	return &decisiondto.SettleResponse{}, nil
}

func (f *fakeAPI) ResolveRoom(_ context.Context, roomID, _, optionID string, method *domain.TiebreakMethod) (*domain.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, resolveCall{optionID: optionID, method: method})
	now := time.Now()
	return &domain.Room{ID: roomID, FinalOptionID: &optionID, TiebreakerUsed: method, ResolvedAt: &now}, nil
}

func (f *fakeAPI) GetRoom(context.Context, string) (*domain.Room, error) {
	return nil, domain.ErrNotFound
}

// snapshot builds room r1 owned by alice with bob joined, options o1 and o2,
// voting open and the given votes (user -> option).
func snapshot(votes map[string]string) domain.RoomSnapshot {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := domain.RoomSnapshot{
		Rev:  1,
		Room: domain.Room{ID: "r1", Code: "ABC123", Title: "Dinner", CreatorID: "alice", VotingActive: true, Open: true, CreatedAt: at},
		Participants: []domain.Participant{
			{RoomID: "r1", UserID: "alice", DisplayName: "Alice", JoinedAt: at},
			{RoomID: "r1", UserID: "bob", DisplayName: "Bob", JoinedAt: at},
		},
		Options: []domain.Option{
			{ID: "o1", RoomID: "r1", Text: "Pizza", SubmittedBy: "alice", CreatedAt: at, Seq: 1},
			{ID: "o2", RoomID: "r1", Text: "Sushi", SubmittedBy: "bob", CreatedAt: at, Seq: 2},
		},
	}
	for user, opt := range votes {
		s.Votes = append(s.Votes, domain.Vote{ID: "v-" + user, RoomID: "r1", UserID: user, OptionID: opt, CreatedAt: at})
	}
	return s
}

func newTestWatcher(api *fakeAPI) (*watcher, *bytes.Buffer) {
	var out bytes.Buffer
	w := newWatcher("bob", "Bob", domain.TiebreakCoin, 0, api, navigation.New(), msgcat.MustDefault(), &out)
	return w, &out
}

func TestPickRoomFromJoinLink(t *testing.T) {
	api := &fakeAPI{}
	w, out := newTestWatcher(api)
	id, err := w.pickRoom(context.Background(), "https://dicey.example/?room=abc123", "other", navigation.State{})
	if err != nil || id != "r1" {
		t.Fatalf("pickRoom = %q, %v", id, err)
	}
	if api.joined != "ABC123" {
		t.Fatalf("joined code = %q", api.joined)
	}
	if !strings.Contains(out.String(), `Joined "Dinner" as Bob (code ABC123).`) {
		t.Fatalf("output = %q", out.String())
	}
}

func TestPickRoomFallbacks(t *testing.T) {
	api := &fakeAPI{rooms: []domain.Room{{ID: "r9", Code: "ZZZ999", Title: "Trip"}}}
	w, out := newTestWatcher(api)
	ctx := context.Background()

	if id, _ := w.pickRoom(ctx, "", "r2", navigation.State{RoomID: "r3"}); id != "r2" {
		t.Fatalf("explicit room = %q", id)
	}
	if id, _ := w.pickRoom(ctx, "", "", navigation.State{RoomID: "r3"}); id != "r3" {
		t.Fatalf("restored room = %q", id)
	}
	if _, err := w.pickRoom(ctx, "", "", navigation.State{}); !errors.Is(err, errNoRoom) {
		t.Fatalf("no room err = %v", err)
	}
	if !strings.Contains(out.String(), "ZZZ999  Trip") {
		t.Fatalf("dashboard listing missing: %q", out.String())
	}
}

func TestFollowTracksVotingAndRunsTiebreakOnce(t *testing.T) {
	initial := snapshot(map[string]string{"alice": "o1"})
	api := &fakeAPI{snap: &initial}
	w, out := newTestWatcher(api)
	ctx := context.Background()

	if err := w.follow(ctx, "r1"); err != nil {
		t.Fatalf("follow: %v", err)
	}
	if st := w.nav.State(); st.Screen != navigation.Voting || st.RoomID != "r1" {
		t.Fatalf("state = %+v", st)
	}
	if !strings.Contains(out.String(), "Voting: 1/2 voted.") {
		t.Fatalf("output = %q", out.String())
	}

	tied := snapshot(map[string]string{"alice": "o1", "bob": "o2"})
	tied.Rev = 2
	w.handle(ctx, tied)
	w.handle(ctx, tied)

	if st := w.nav.State(); st.Screen != navigation.Results {
		t.Fatalf("screen = %s", st.Screen)
	}
	if len(api.resolved) != 1 {
		t.Fatalf("resolve calls = %d, want 1", len(api.resolved))
	}
	call := api.resolved[0]
	if (call.optionID != "o1" && call.optionID != "o2") || call.method == nil || *call.method != domain.TiebreakCoin {
		t.Fatalf("resolve call = %+v", call)
	}
	text := out.String()
	for _, want := range []string{"[results] Dinner", "Tie between 2 options. Rolling the coin...", "The coin picked: "} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}

func TestUniqueWinnerIsFinalized(t *testing.T) {
	initial := snapshot(nil)
	api := &fakeAPI{snap: &initial}
	w, _ := newTestWatcher(api)
	ctx := context.Background()
	if err := w.follow(ctx, "r1"); err != nil {
		t.Fatalf("follow: %v", err)
	}

	won := snapshot(map[string]string{"alice": "o2", "bob": "o2"})
	won.Rev = 2
	w.handle(ctx, won)
	if api.finalized != 1 || len(api.resolved) != 0 {
		t.Fatalf("finalized = %d, resolved = %d", api.finalized, len(api.resolved))
	}

	done := won.Clone()
	done.Rev = 3
	final := "o2"
	at := time.Now()
	done.Room.FinalOptionID, done.Room.ResolvedAt = &final, &at
	var out bytes.Buffer
	w.out = &out
	w.handle(ctx, done)
	if !strings.Contains(out.String(), "Winner: Sushi") || api.finalized != 1 {
		t.Fatalf("output = %q, finalized = %d", out.String(), api.finalized)
	}
}
