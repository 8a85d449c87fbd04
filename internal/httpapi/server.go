// Package httpapi is the JSON API in front of the room store and the results
// service, plus the WebSocket snapshot feed.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/park285/dicey-decisions/internal/archive"
	"github.com/park285/dicey-decisions/internal/domain"
	"github.com/park285/dicey-decisions/internal/metrics"
	"github.com/park285/dicey-decisions/internal/msgcat"
	"github.com/park285/dicey-decisions/internal/realtime"
	"github.com/park285/dicey-decisions/internal/results"
	"github.com/park285/dicey-decisions/internal/roomstore"
	"golang.org/x/time/rate"
)

// Rooms is the room repository as the API uses it.
type Rooms interface {
	Ping(ctx context.Context) error
	CreateRoom(ctx context.Context, in roomstore.CreateRoomInput) (*domain.Room, error)
	JoinRoom(ctx context.Context, code, displayName, userID string) (*roomstore.JoinResult, error)
	CloseRoom(ctx context.Context, roomID, actorID string) (*domain.Room, error)
	GetRoom(ctx context.Context, roomID string) (*domain.Room, error)
	IsParticipant(ctx context.Context, roomID, userID string) (bool, error)
	RoomsForUser(ctx context.Context, userID string) ([]domain.Room, error)
	Snapshot(ctx context.Context, roomID string) (*domain.RoomSnapshot, error)
	AddOption(ctx context.Context, roomID, text, actorID string) (*domain.Option, error)
	EditOption(ctx context.Context, roomID, optionID, text, actorID string) (*domain.Option, error)
	RemoveOption(ctx context.Context, roomID, optionID, actorID string) error
	StartVoting(ctx context.Context, roomID, actorID string) (*domain.Room, error)
	StopVoting(ctx context.Context, roomID, actorID string) (*domain.Room, error)
	CastVote(ctx context.Context, roomID, userID, optionID string) (*domain.Vote, error)
}

// Outcomes lists archived decisions.
type Outcomes interface {
	RecentOutcomes(ctx context.Context, userID string, limit int) ([]archive.Outcome, error)
}

type Server struct {
	rooms    Rooms
	results  *results.Service
	outcomes Outcomes
	feed     *realtime.Handler
	metrics  *metrics.Recorder
	messages *msgcat.Catalog
	limiter  *UserRateLimiter
	origins  []string
}

type Option func(*Server)

func WithOutcomes(o Outcomes) Option { return func(s *Server) { s.outcomes = o } }

func WithFeed(h *realtime.Handler) Option { return func(s *Server) { s.feed = h } }

func WithMetrics(m *metrics.Recorder) Option { return func(s *Server) { s.metrics = m } }

func WithMessages(c *msgcat.Catalog) Option { return func(s *Server) { s.messages = c } }

// WithRateLimit limits mutations per user. A non-positive rate disables it.
func WithRateLimit(perSec float64, burst int) Option {
	return func(s *Server) {
		if perSec <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = NewUserRateLimiter(rate.Limit(perSec), burst)
	}
}

// WithCORS sets the browser origins allowed to call the API.
func WithCORS(origins []string) Option { return func(s *Server) { s.origins = origins } }

func New(rooms Rooms, svc *results.Service, opts ...Option) *Server {
	s := &Server{
		rooms:    rooms,
		results:  svc,
		messages: msgcat.MustDefault(),
		limiter:  NewUserRateLimiter(5, 10),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP, middleware.Recoverer, requestLogger, CORSMiddleware(s.origins))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get("/ws/rooms/{id}", s.handleFeed)
		r.Get("/outcomes", s.handleOutcomes)

		r.Route("/rooms", func(r chi.Router) {
			r.Get("/", s.handleListRooms)
			r.With(s.rateLimit).Post("/", s.handleCreateRoom)
			r.With(s.rateLimit).Post("/join", s.handleJoinRoom)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRoom)
				r.Get("/results", s.handleResults)

				r.Group(func(r chi.Router) {
					r.Use(s.rateLimit)
					r.Post("/options", s.handleAddOption)
					r.Put("/options/{optionID}", s.handleEditOption)
					r.Delete("/options/{optionID}", s.handleRemoveOption)
					r.Post("/voting/start", s.handleStartVoting)
					r.Post("/voting/stop", s.handleStopVoting)
					r.Post("/votes", s.handleCastVote)
					r.Post("/close", s.handleCloseRoom)
					r.Post("/finalize", s.handleFinalize)
					r.Post("/tiebreak", s.handleTiebreak)
					r.Post("/resolve", s.handleResolve)
				})
			})
		})
	})
	return r
}
