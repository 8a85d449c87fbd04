// Package decisiondto holds the JSON bodies exchanged by the HTTP API and its
// client.
package decisiondto

// Identity headers. There is no sign-in flow: callers name themselves.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserName = "X-User-Name"
)

type CreateRoomRequest struct {
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	MaxParticipants int    `json:"max_participants,omitempty"`
}

type JoinRoomRequest struct {
	Code        string `json:"code"`
	DisplayName string `json:"display_name,omitempty"`
}

type OptionRequest struct {
	Text string `json:"text"`
}

type VoteRequest struct {
	OptionID string `json:"option_id"`
}

type TiebreakRequest struct {
	Method string `json:"method"`
}

// ResolveRequest writes a final option. Method is set only when the option
// came out of a tiebreak.
type ResolveRequest struct {
	OptionID string  `json:"option_id"`
	Method   *string `json:"method,omitempty"`
}
