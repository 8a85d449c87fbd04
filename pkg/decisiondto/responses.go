package decisiondto

import (
	"github.com/park285/dicey-decisions/internal/archive"
	"github.com/park285/dicey-decisions/internal/domain"
	"github.com/park285/dicey-decisions/internal/results"
)

type JoinResponse struct {
	Room   domain.Room `json:"room"`
	Joined bool        `json:"joined"`
}

type RoomsResponse struct {
	Rooms []domain.Room `json:"rooms"`
}

// SettleResponse answers finalize, tiebreak and resolve: the room after the
// write and the report participants now see.
type SettleResponse struct {
	Room   domain.Room    `json:"room"`
	Report results.Report `json:"report"`
}

type OutcomesResponse struct {
	Outcomes []archive.Outcome `json:"outcomes"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Redis  string `json:"redis"`
}
