package live

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/civicfix/backend/internal/dedup"
	"github.com/civicfix/backend/internal/models"
	"github.com/civicfix/backend/internal/routing"
)

const (
	FrameRouting   = "routing"
	FrameDuplicate = "duplicate"
	FrameError     = "error"
)

// Event is one snapshot of the report form.
type Event struct {
	Description string          `json:"description"`
	Lat         *float64        `json:"lat,omitempty"`
	Lng         *float64        `json:"lng,omitempty"`
	Reporter    models.Reporter `json:"reporter"`
}

func (e Event) location() (models.GeoPoint, bool) {
	if e.Lat == nil || e.Lng == nil {
		return models.GeoPoint{}, false
	}
	p := models.GeoPoint{Lat: *e.Lat, Lng: *e.Lng}
	return p, p.Valid()
}

type Frame struct {
	Type      string                 `json:"type"`
	Routing   *routing.Decision      `json:"routing,omitempty"`
	Duplicate *models.DuplicateMatch `json:"duplicate,omitempty"`
	Message   string                 `json:"message,omitempty"`
}

type Options struct {
	Router         *routing.Classifier
	Dedup          *dedup.Coordinator
	Logger         zerolog.Logger
	RoutingDelay   time.Duration
	DuplicateDelay time.Duration
	AfterFunc      AfterFunc
}

// Session holds the debouncers for one connected form. Routing previews never
// write; duplicate pre-checks go through the idempotent merge and stop once a
// merge has happened.
type Session struct {
	opts Options
	send func(Frame) error

	routeDeb *Debouncer
	dupDeb   *Debouncer

	mu     sync.Mutex
	merged bool
}

func NewSession(opts Options, send func(Frame) error) *Session {
	if opts.RoutingDelay <= 0 {
		opts.RoutingDelay = 800 * time.Millisecond
	}
	if opts.DuplicateDelay <= 0 {
		opts.DuplicateDelay = 2 * time.Second
	}
	return &Session{
		opts:     opts,
		send:     send,
		routeDeb: NewDebouncer(opts.RoutingDelay, opts.AfterFunc),
		dupDeb:   NewDebouncer(opts.DuplicateDelay, opts.AfterFunc),
	}
}

func (s *Session) Merged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.merged
}

func (s *Session) Handle(ctx context.Context, ev Event) {
	text := strings.TrimSpace(ev.Description)
	loc, hasLoc := ev.location()

	if s.opts.Router != nil {
		s.routeDeb.Trigger(ctx, func(ctx context.Context) {
			req := routing.Request{Description: text}
			if hasLoc {
				req.Location = &loc
			}
			decision, ok := s.opts.Router.Route(ctx, req)
			if !ok || ctx.Err() != nil {
				return
			}
			s.emit(Frame{Type: FrameRouting, Routing: &decision})
		})
	}

	if s.opts.Dedup == nil || s.Merged() || !s.opts.Dedup.Ready(text, loc) {
		s.dupDeb.Stop()
		return
	}
	reporter := ev.Reporter
	s.dupDeb.Trigger(ctx, func(ctx context.Context) {
		match, err := s.opts.Dedup.CheckDuplicate(ctx, dedup.Request{
			Description: text,
			Location:    loc,
			Reporter:    reporter,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.emit(Frame{Type: FrameError, Message: err.Error()})
			return
		}
		if !match.Checked {
			return
		}
		if match.IsDuplicate {
			s.mu.Lock()
			s.merged = true
			s.mu.Unlock()
		}
		s.emit(Frame{Type: FrameDuplicate, Duplicate: &match})
	})
}

func (s *Session) Close() {
	s.routeDeb.Stop()
	s.dupDeb.Stop()
}

func (s *Session) emit(f Frame) {
	if err := s.send(f); err != nil {
		s.opts.Logger.Debug().Err(err).Str("frame", f.Type).Msg("live: send failed")
	}
}

// Serve runs the read loop for one websocket connection until the peer goes
// away. Malformed events produce an error frame; the session stays open.
func Serve(ctx context.Context, conn *websocket.Conn, opts Options) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var writeMu sync.Mutex
	send := func(f Frame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(f)
	}

	session := NewSession(opts, send)
	defer session.Close()

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				if sendErr := send(Frame{Type: FrameError, Message: "malformed event"}); sendErr != nil {
					return
				}
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				opts.Logger.Debug().Err(err).Msg("live: connection closed")
			}
			return
		}
		session.Handle(ctx, ev)
	}
}
