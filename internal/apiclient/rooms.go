package apiclient

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/park285/dicey-decisions/internal/archive"
	"github.com/park285/dicey-decisions/internal/domain"
	"github.com/park285/dicey-decisions/internal/results"
	"github.com/park285/dicey-decisions/pkg/decisiondto"
	"github.com/valyala/fasthttp"
)

func roomPath(roomID string, rest ...string) string {
	p := "/rooms/" + url.PathEscape(roomID)
	for _, r := range rest {
		p += "/" + url.PathEscape(r)
	}
	return p
}

func (c *Client) Health(ctx context.Context) (*decisiondto.HealthResponse, error) {
	var h decisiondto.HealthResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/health", nil, &h, true); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) CreateRoom(ctx context.Context, req decisiondto.CreateRoomRequest) (*domain.Room, error) {
	var room domain.Room
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/rooms", req, &room, false); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *Client) ListRooms(ctx context.Context) ([]domain.Room, error) {
	var resp decisiondto.RoomsResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/rooms", nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

// JoinRoom joins by room code. Joining a room twice is not an error.
func (c *Client) JoinRoom(ctx context.Context, code, displayName string) (*decisiondto.JoinResponse, error) {
	var resp decisiondto.JoinResponse
	req := decisiondto.JoinRoomRequest{Code: code, DisplayName: displayName}
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/rooms/join", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Snapshot returns the caller's view of the room.
func (c *Client) Snapshot(ctx context.Context, roomID string) (*domain.RoomSnapshot, error) {
	var snap domain.RoomSnapshot
	if err := c.doJSON(ctx, fasthttp.MethodGet, roomPath(roomID), nil, &snap, true); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	snap, err := c.Snapshot(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return &snap.Room, nil
}

func (c *Client) CloseRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	return c.roomAction(ctx, roomPath(roomID, "close"))
}

func (c *Client) StartVoting(ctx context.Context, roomID string) (*domain.Room, error) {
	return c.roomAction(ctx, roomPath(roomID, "voting", "start"))
}

func (c *Client) StopVoting(ctx context.Context, roomID string) (*domain.Room, error) {
	return c.roomAction(ctx, roomPath(roomID, "voting", "stop"))
}

func (c *Client) roomAction(ctx context.Context, path string) (*domain.Room, error) {
	var room domain.Room
	if err := c.doJSON(ctx, fasthttp.MethodPost, path, nil, &room, false); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *Client) AddOption(ctx context.Context, roomID, text string) (*domain.Option, error) {
	var o domain.Option
	if err := c.doJSON(ctx, fasthttp.MethodPost, roomPath(roomID, "options"), decisiondto.OptionRequest{Text: text}, &o, false); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *Client) EditOption(ctx context.Context, roomID, optionID, text string) (*domain.Option, error) {
	var o domain.Option
	if err := c.doJSON(ctx, fasthttp.MethodPut, roomPath(roomID, "options", optionID), decisiondto.OptionRequest{Text: text}, &o, false); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *Client) RemoveOption(ctx context.Context, roomID, optionID string) error {
	return c.doJSON(ctx, fasthttp.MethodDelete, roomPath(roomID, "options", optionID), nil, nil, false)
}

func (c *Client) CastVote(ctx context.Context, roomID, optionID string) (*domain.Vote, error) {
	var v domain.Vote
	if err := c.doJSON(ctx, fasthttp.MethodPost, roomPath(roomID, "votes"), decisiondto.VoteRequest{OptionID: optionID}, &v, false); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) Results(ctx context.Context, roomID string) (*results.Report, error) {
	var rep results.Report
	if err := c.doJSON(ctx, fasthttp.MethodGet, roomPath(roomID, "results"), nil, &rep, true); err != nil {
		return nil, err
	}
	return &rep, nil
}

func (c *Client) Finalize(ctx context.Context, roomID string) (*decisiondto.SettleResponse, error) {
	return c.settle(ctx, roomPath(roomID, "finalize"), nil)
}

// Tiebreak asks the server to draw among the tied options.
func (c *Client) Tiebreak(ctx context.Context, roomID string, method domain.TiebreakMethod) (*decisiondto.SettleResponse, error) {
	return c.settle(ctx, roomPath(roomID, "tiebreak"), decisiondto.TiebreakRequest{Method: string(method)})
}

// Resolve writes an option picked on this side, with the tiebreaker that
// picked it if there was one.
func (c *Client) Resolve(ctx context.Context, roomID, optionID string, method *domain.TiebreakMethod) (*decisiondto.SettleResponse, error) {
	req := decisiondto.ResolveRequest{OptionID: optionID}
	if method != nil {
		m := string(*method)
		req.Method = &m
	}
	return c.settle(ctx, roomPath(roomID, "resolve"), req)
}

func (c *Client) settle(ctx context.Context, path string, in any) (*decisiondto.SettleResponse, error) {
	var resp decisiondto.SettleResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, path, in, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResolveRoom lets the client stand in for the room store of a tiebreak
// resolver. The actor is always the client's own user.
func (c *Client) ResolveRoom(ctx context.Context, roomID, actorID, finalOptionID string, method *domain.TiebreakMethod) (*domain.Room, error) {
	if actorID != "" && actorID != c.userID {
		return nil, fmt.Errorf("%w: client acts as %s, not %s", domain.ErrPermission, c.userID, actorID)
	}
	resp, err := c.Resolve(ctx, roomID, finalOptionID, method)
	if err != nil {
		return nil, err
	}
	return &resp.Room, nil
}

func (c *Client) Outcomes(ctx context.Context, limit int) ([]archive.Outcome, error) {
	path := "/outcomes"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp decisiondto.OutcomesResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Outcomes, nil
}
