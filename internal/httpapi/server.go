package httpapi

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/BrandonDHaskell/lidmon/internal/lidmon/service"
	"github.com/BrandonDHaskell/lidmon/internal/lidmon/store"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// CaptureStatus is the live view of a running capture loop.
type CaptureStatus interface {
	State() service.State
	Stats() service.CaptureStats
}

type Dependencies struct {
	Logger   *log.Logger
	Addr     string
	Seat     string
	Events   store.LidEventStore
	Sessions store.SessionStore
	Capture  CaptureStatus // nil when the API runs without a capture loop
}

// Server is a read-only HTTP view of the lid event log.
type Server struct {
	httpServer *http.Server
	logger     *log.Logger
	mux        *http.ServeMux
	seat       string
	events     store.LidEventStore
	sessions   store.SessionStore
	capture    CaptureStatus
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:   d.Logger,
		mux:      mux,
		seat:     d.Seat,
		events:   d.Events,
		sessions: d.Sessions,
		capture:  d.Capture,
	}

	mux.HandleFunc("GET /v1/lid_events", s.handleListEvents)
	mux.HandleFunc("GET /v1/lid_events/latest", s.handleLatestEvent)
	mux.HandleFunc("GET /v1/status", s.handleStatus)

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type listResponse struct {
	Events []store.LidSwitchRecord `json:"events"`
	Count  int                     `json:"count"`
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, ok := intParam(q.Get("limit"), defaultListLimit)
	if !ok || limit <= 0 || limit > maxListLimit {
		writeError(w, r, http.StatusBadRequest, "bad_limit", "limit must be between 1 and 1000")
		return
	}
	since, ok := intParam(q.Get("since"), 0)
	if !ok || since < 0 {
		writeError(w, r, http.StatusBadRequest, "bad_since", "since must be a unix timestamp")
		return
	}
	afterID, ok := intParam(q.Get("after_id"), 0)
	if !ok || afterID < 0 {
		writeError(w, r, http.StatusBadRequest, "bad_after_id", "after_id must be a non-negative integer")
		return
	}

	recs, err := s.events.List(r.Context(), store.ListFilter{
		AfterID: int64(afterID),
		Since:   int64(since),
		Limit:   limit,
		Desc:    q.Get("order") == "desc",
	})
	if err != nil {
		s.logger.Printf("list lid_events error: %v", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	if recs == nil {
		recs = []store.LidSwitchRecord{}
	}

	respond(w, r, http.StatusOK, listResponse{Events: recs, Count: len(recs)})
}

func (s *Server) handleLatestEvent(w http.ResponseWriter, r *http.Request) {
	recs, err := s.events.List(r.Context(), store.ListFilter{Limit: 1, Desc: true})
	if err != nil {
		s.logger.Printf("latest lid_event error: %v", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	if len(recs) == 0 {
		writeError(w, r, http.StatusNotFound, "no_events", "no lid events recorded")
		return
	}

	respond(w, r, http.StatusOK, recs[0])
}

type statusResponse struct {
	Seat        string                `json:"seat"`
	State       string                `json:"state"`
	Stats       *service.CaptureStats `json:"stats,omitempty"`
	TotalEvents int64                 `json:"total_events"`
	Session     *store.SessionRecord  `json:"session,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	total, err := s.events.Count(r.Context())
	if err != nil {
		s.logger.Printf("status count error: %v", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	resp := statusResponse{Seat: s.seat, State: "detached", TotalEvents: total}
	if s.capture != nil {
		st := s.capture.Stats()
		resp.State = s.capture.State().String()
		resp.Stats = &st
	}
	if s.sessions != nil {
		sess, err := s.sessions.LatestSession(r.Context())
		if err != nil {
			s.logger.Printf("status session error: %v", err)
		} else {
			resp.Session = sess
		}
	}

	respond(w, r, http.StatusOK, resp)
}

// intParam parses an optional integer query parameter.
func intParam(v string, def int) (int, bool) {
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
