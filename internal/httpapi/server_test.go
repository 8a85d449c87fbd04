package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/park285/dicey-decisions/internal/archive"
	"github.com/park285/dicey-decisions/internal/domain"
	"github.com/park285/dicey-decisions/internal/metrics"
	"github.com/park285/dicey-decisions/internal/results"
	"github.com/park285/dicey-decisions/internal/roomstore"
	"github.com/park285/dicey-decisions/internal/tiebreak"
	"github.com/park285/dicey-decisions/pkg/decisiondto"
	"github.com/redis/go-redis/v9"
)

type api struct {
	t       *testing.T
	srv     *httptest.Server
	mr      *miniredis.Miniredis
	metrics *metrics.Recorder
}

func newAPI(t *testing.T, opts ...Option) *api {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := roomstore.New(rdb)
	rec := metrics.New(nil)
	svc := results.NewService(store,
		results.WithResolver(tiebreak.NewResolver(store, tiebreak.WithRetry(1, 0))),
		results.WithMetrics(rec),
	)
	opts = append([]Option{WithMetrics(rec), WithRateLimit(0, 0)}, opts...)
	srv := httptest.NewServer(New(store, svc, opts...).Routes())
	t.Cleanup(srv.Close)
	return &api{t: t, srv: srv, mr: mr, metrics: rec}
}

// call sends body as JSON on behalf of user and decodes a 2xx answer into out.
// Non-2xx answers are returned as the error body.
func (a *api) call(method, path, user string, body, out any) (int, decisiondto.ErrorBody) {
	a.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			a.t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	if err != nil {
		a.t.Fatalf("new request: %v", err)
	}
	if user != "" {
		req.Header.Set(decisiondto.HeaderUserID, user)
		req.Header.Set(decisiondto.HeaderUserName, strings.ToUpper(user[:1])+user[1:])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		a.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		var e decisiondto.ErrorResponse
		if err := json.Unmarshal(raw, &e); err != nil {
			a.t.Fatalf("%s %s: status %d, body %q", method, path, resp.StatusCode, raw)
		}
		return resp.StatusCode, e.Error
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			a.t.Fatalf("%s %s: decode %q: %v", method, path, raw, err)
		}
	}
	return resp.StatusCode, decisiondto.ErrorBody{}
}

func (a *api) mustCall(method, path, user string, body, out any) {
	a.t.Helper()
	if code, e := a.call(method, path, user, body, out); code >= 300 {
		a.t.Fatalf("%s %s as %s: %d %+v", method, path, user, code, e)
	}
}

// votingRoom creates a room owned by alice with bob joined, two options and
// voting started.
func (a *api) votingRoom(maxParticipants int) (domain.Room, []domain.Option) {
	a.t.Helper()
	var room domain.Room
	a.mustCall(http.MethodPost, "/rooms", "alice", decisiondto.CreateRoomRequest{Title: "Dinner", MaxParticipants: maxParticipants}, &room)
	a.mustCall(http.MethodPost, "/rooms/join", "bob", decisiondto.JoinRoomRequest{Code: strings.ToLower(room.Code)}, nil)
	var opts []domain.Option
	for _, text := range []string{"Pizza", "Sushi"} {
		var o domain.Option
		a.mustCall(http.MethodPost, "/rooms/"+room.ID+"/options", "alice", decisiondto.OptionRequest{Text: text}, &o)
		opts = append(opts, o)
	}
	a.mustCall(http.MethodPost, "/rooms/"+room.ID+"/voting/start", "alice", nil, nil)
	return room, opts
}

func TestDecisionFlowWithClientTiebreak(t *testing.T) {
	a := newAPI(t)
	room, opts := a.votingRoom(0)
	base := "/rooms/" + room.ID

	a.mustCall(http.MethodPost, base+"/votes", "alice", decisiondto.VoteRequest{OptionID: opts[0].ID}, nil)

	var mid domain.RoomSnapshot
	a.mustCall(http.MethodGet, base, "bob", nil, &mid)
	if len(mid.Votes) != 1 || mid.Votes[0].OptionID != "" {
		t.Fatalf("votes during voting = %+v, want one sealed vote", mid.Votes)
	}
	if code, e := a.call(http.MethodGet, base+"/results", "bob", nil, nil); code != http.StatusConflict || e.Kind != "state" {
		t.Fatalf("early results = %d %+v", code, e)
	}

	a.mustCall(http.MethodPost, base+"/votes", "bob", decisiondto.VoteRequest{OptionID: opts[1].ID}, nil)

	var rep results.Report
	a.mustCall(http.MethodGet, base+"/results", "bob", nil, &rep)
	if !rep.Tie || rep.Tally.TotalVotes != 2 || len(rep.Tally.Winners) != 2 {
		t.Fatalf("report = %+v", rep)
	}

	if code, e := a.call(http.MethodPost, base+"/resolve", "bob", decisiondto.ResolveRequest{OptionID: opts[1].ID}, nil); code != http.StatusBadRequest || e.Kind != "validation" {
		t.Fatalf("resolve tie without method = %d %+v", code, e)
	}

	coin := "coin"
	var settled decisiondto.SettleResponse
	a.mustCall(http.MethodPost, base+"/resolve", "bob", decisiondto.ResolveRequest{OptionID: opts[1].ID, Method: &coin}, &settled)
	if settled.Room.FinalOptionID == nil || *settled.Room.FinalOptionID != opts[1].ID {
		t.Fatalf("final option = %v", settled.Room.FinalOptionID)
	}
	if settled.Room.TiebreakerUsed == nil || *settled.Room.TiebreakerUsed != domain.TiebreakCoin {
		t.Fatalf("tiebreaker = %v", settled.Room.TiebreakerUsed)
	}

	if code, e := a.call(http.MethodPost, base+"/resolve", "alice", decisiondto.ResolveRequest{OptionID: opts[0].ID, Method: &coin}, nil); code != http.StatusConflict || e.Kind != "state" {
		t.Fatalf("second resolve = %d %+v", code, e)
	}

	var done domain.RoomSnapshot
	a.mustCall(http.MethodGet, base, "alice", nil, &done)
	if done.Votes[0].OptionID == "" {
		t.Fatalf("votes still sealed after resolution: %+v", done.Votes)
	}
}

func TestServerSideTiebreakAndFinalize(t *testing.T) {
	a := newAPI(t)
	room, opts := a.votingRoom(0)
	base := "/rooms/" + room.ID

	if code, e := a.call(http.MethodPost, base+"/tiebreak", "alice", decisiondto.TiebreakRequest{Method: "lottery"}, nil); code != http.StatusBadRequest || e.Kind != "validation" {
		t.Fatalf("unknown method = %d %+v", code, e)
	}
	if code, e := a.call(http.MethodPost, base+"/finalize", "bob", nil, nil); code != http.StatusForbidden || e.Kind != "permission" {
		t.Fatalf("finalize by non-creator while voting = %d %+v", code, e)
	}

	// no votes yet: every option ties, the creator may draw early
	var settled decisiondto.SettleResponse
	a.mustCall(http.MethodPost, base+"/tiebreak", "alice", decisiondto.TiebreakRequest{Method: "Dice"}, &settled)
	if settled.Room.FinalOptionID == nil || (*settled.Room.FinalOptionID != opts[0].ID && *settled.Room.FinalOptionID != opts[1].ID) {
		t.Fatalf("final option = %v", settled.Room.FinalOptionID)
	}
	if settled.Report.TiebreakerUsed == nil || *settled.Report.TiebreakerUsed != domain.TiebreakDice {
		t.Fatalf("report = %+v", settled.Report)
	}
}

func TestFinalizeUniqueWinner(t *testing.T) {
	a := newAPI(t)
	room, opts := a.votingRoom(0)
	base := "/rooms/" + room.ID
	a.mustCall(http.MethodPost, base+"/votes", "alice", decisiondto.VoteRequest{OptionID: opts[0].ID}, nil)
	a.mustCall(http.MethodPost, base+"/votes", "bob", decisiondto.VoteRequest{OptionID: opts[0].ID}, nil)

	var settled decisiondto.SettleResponse
	a.mustCall(http.MethodPost, base+"/finalize", "bob", nil, &settled)
	if *settled.Room.FinalOptionID != opts[0].ID || settled.Room.TiebreakerUsed != nil {
		t.Fatalf("room = %+v", settled.Room)
	}
}

func TestErrorMapping(t *testing.T) {
	a := newAPI(t)
	room, opts := a.votingRoom(2)
	base := "/rooms/" + room.ID
	a.mustCall(http.MethodPost, base+"/votes", "bob", decisiondto.VoteRequest{OptionID: opts[0].ID}, nil)

	cases := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		status int
		want   decisiondto.ErrorBody
	}{
		{"no identity", http.MethodGet, "/rooms", "", nil, http.StatusUnauthorized,
			decisiondto.ErrorBody{Kind: "auth", Message: "Please sign in first."}},
		{"full room", http.MethodPost, "/rooms/join", "carol", decisiondto.JoinRoomRequest{Code: room.Code}, http.StatusConflict,
			decisiondto.ErrorBody{Kind: "capacity", Message: "Room is full."}},
		{"unknown code", http.MethodPost, "/rooms/join", "carol", decisiondto.JoinRoomRequest{Code: "ZZZZZZ"}, http.StatusNotFound,
			decisiondto.ErrorBody{Kind: "not_found", Message: "Room not found. Check the code and try again."}},
		{"duplicate vote", http.MethodPost, base + "/votes", "bob", decisiondto.VoteRequest{OptionID: opts[1].ID}, http.StatusConflict,
			decisiondto.ErrorBody{Kind: "duplicate_vote", Message: "You have already voted in this room."}},
		{"outsider", http.MethodGet, base, "carol", nil, http.StatusForbidden,
			decisiondto.ErrorBody{Kind: "permission", Message: "You are not allowed to do that.", Detail: "not a participant of this room"}},
		{"unknown room", http.MethodGet, "/rooms/nope", "carol", nil, http.StatusNotFound,
			decisiondto.ErrorBody{Kind: "not_found", Message: "Room not found. Check the code and try again.", Detail: "room nope"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			code, got := a.call(c.method, c.path, c.user, c.body, nil)
			if code != c.status {
				t.Fatalf("status = %d, want %d (%+v)", code, c.status, got)
			}
			ignoreDetail := c.want.Detail == ""
			if ignoreDetail {
				got.Detail = ""
			}
			if diff := cmp.Diff(c.want, got); diff != "" {
				t.Fatalf("error body mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestInvalidBodyIsValidation(t *testing.T) {
	a := newAPI(t)
	req, _ := http.NewRequest(http.MethodPost, a.srv.URL+"/rooms", strings.NewReader("{not json"))
	req.Header.Set(decisiondto.HeaderUserID, "alice")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var e decisiondto.ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&e)
	if resp.StatusCode != http.StatusBadRequest || e.Error.Kind != "validation" {
		t.Fatalf("got %d %+v", resp.StatusCode, e)
	}
	if !strings.HasPrefix(e.Error.Message, "Please check your input: ") {
		t.Fatalf("message = %q", e.Error.Message)
	}
}

func TestRateLimitPerUser(t *testing.T) {
	a := newAPI(t, WithRateLimit(0.001, 1))
	a.mustCall(http.MethodPost, "/rooms", "alice", decisiondto.CreateRoomRequest{Title: "One"}, nil)
	code, e := a.call(http.MethodPost, "/rooms", "alice", decisiondto.CreateRoomRequest{Title: "Two"}, nil)
	if code != http.StatusTooManyRequests || e.Kind != "rate_limited" || !e.Retryable {
		t.Fatalf("second create = %d %+v", code, e)
	}
	// buckets are per user, and reads are not limited
	a.mustCall(http.MethodPost, "/rooms", "bob", decisiondto.CreateRoomRequest{Title: "Three"}, nil)
	a.mustCall(http.MethodGet, "/rooms", "alice", nil, nil)
}

func TestListRoomsAndClose(t *testing.T) {
	a := newAPI(t)
	room, _ := a.votingRoom(0)

	var list decisiondto.RoomsResponse
	a.mustCall(http.MethodGet, "/rooms", "bob", nil, &list)
	if len(list.Rooms) != 1 || list.Rooms[0].ID != room.ID {
		t.Fatalf("rooms = %+v", list.Rooms)
	}

	if code, e := a.call(http.MethodPost, "/rooms/"+room.ID+"/close", "bob", nil, nil); code != http.StatusForbidden {
		t.Fatalf("close by bob = %d %+v", code, e)
	}
	var closed domain.Room
	a.mustCall(http.MethodPost, "/rooms/"+room.ID+"/close", "alice", nil, &closed)
	if closed.Open {
		t.Fatalf("room still open")
	}
	if code, _ := a.call(http.MethodPost, "/rooms/join", "carol", decisiondto.JoinRoomRequest{Code: room.Code}, nil); code != http.StatusNotFound {
		t.Fatalf("join closed room = %d", code)
	}
}

func TestOptionEndpoints(t *testing.T) {
	a := newAPI(t)
	var room domain.Room
	a.mustCall(http.MethodPost, "/rooms", "alice", decisiondto.CreateRoomRequest{Title: "Trip"}, &room)
	a.mustCall(http.MethodPost, "/rooms/join", "bob", decisiondto.JoinRoomRequest{Code: room.Code}, nil)
	base := "/rooms/" + room.ID

	var o domain.Option
	a.mustCall(http.MethodPost, base+"/options", "bob", decisiondto.OptionRequest{Text: "Lisbon"}, &o)
	var edited domain.Option
	a.mustCall(http.MethodPut, base+"/options/"+o.ID, "bob", decisiondto.OptionRequest{Text: "Porto"}, &edited)
	if edited.Text != "Porto" {
		t.Fatalf("edited = %+v", edited)
	}
	if code, e := a.call(http.MethodPost, base+"/voting/start", "alice", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("start with one option = %d %+v", code, e)
	}
	if code, _ := a.call(http.MethodDelete, base+"/options/"+o.ID, "carol", nil, nil); code != http.StatusForbidden {
		t.Fatalf("delete by outsider = %d", code)
	}
	if code, _ := a.call(http.MethodDelete, base+"/options/"+o.ID, "alice", nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete by creator = %d", code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	a := newAPI(t)
	var h decisiondto.HealthResponse
	a.mustCall(http.MethodGet, "/health", "", nil, &h)
	if h.Status != "ok" {
		t.Fatalf("health = %+v", h)
	}
	a.mustCall(http.MethodPost, "/rooms", "alice", decisiondto.CreateRoomRequest{Title: "Count me"}, nil)

	resp, err := http.Get(a.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "dicey_rooms_created_total 1") {
		t.Fatalf("metrics output missing room counter:\n%s", body)
	}

	a.mr.SetError("simulated outage")
	req, _ := http.NewRequest(http.MethodGet, a.srv.URL+"/health", nil)
	hresp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	hresp.Body.Close()
	if hresp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("health during outage = %d", hresp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	a := newAPI(t, WithCORS([]string{"https://dicey.example"}))
	req, _ := http.NewRequest(http.MethodOptions, a.srv.URL+"/rooms", nil)
	req.Header.Set("Origin", "https://dicey.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://dicey.example" {
		t.Fatalf("allow origin = %q", got)
	}
	if !strings.Contains(resp.Header.Get("Access-Control-Allow-Headers"), decisiondto.HeaderUserID) {
		t.Fatalf("allow headers = %q", resp.Header.Get("Access-Control-Allow-Headers"))
	}
}

type fakeOutcomes struct {
	user  string
	limit int
}

func (f *fakeOutcomes) RecentOutcomes(_ context.Context, userID string, limit int) ([]archive.Outcome, error) {
	f.user, f.limit = userID, limit
	return []archive.Outcome{{RoomID: "r1", Title: "Dinner", FinalOptionText: "Pizza"}}, nil
}

func TestOutcomes(t *testing.T) {
	a := newAPI(t)
	var empty decisiondto.OutcomesResponse
	a.mustCall(http.MethodGet, "/outcomes", "alice", nil, &empty)
	if len(empty.Outcomes) != 0 {
		t.Fatalf("outcomes without archive = %+v", empty)
	}

	fake := &fakeOutcomes{}
	b := newAPI(t, WithOutcomes(fake))
	var got decisiondto.OutcomesResponse
	b.mustCall(http.MethodGet, "/outcomes?limit=5", "alice", nil, &got)
	if fake.user != "alice" || fake.limit != 5 || len(got.Outcomes) != 1 || got.Outcomes[0].FinalOptionText != "Pizza" {
		t.Fatalf("fake = %+v, got = %+v", fake, got)
	}
	if code, _ := b.call(http.MethodGet, "/outcomes?limit=-1", "alice", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d", code)
	}
}
