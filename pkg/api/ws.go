package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stormstack/lightning/pkg/auth"
	"github.com/stormstack/lightning/pkg/engine"
	"github.com/stormstack/lightning/pkg/errdefs"
	"github.com/stormstack/lightning/pkg/log"
	"github.com/stormstack/lightning/pkg/metrics"
	"github.com/stormstack/lightning/pkg/stream"
	"github.com/stormstack/lightning/pkg/types"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Token auth gates the connection; origin checks belong to the
	// deployment's proxy layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsAuth authenticates a streaming upgrade request. Returns the token
// (nil for api-key callers) and the subprotocol to echo, if any.
func (s *EngineServer) wsAuth(r *http.Request) (*types.MatchToken, string, error) {
	bearer := BearerFromRequest(r)
	if bearer == "" {
		return nil, "", errdefs.New(errdefs.KindInvalidCredentials, "missing bearer token")
	}

	subprotocol := ""
	for _, proto := range strings.Split(r.Header.Get("Sec-WebSocket-Protocol"), ",") {
		proto = strings.TrimSpace(proto)
		if strings.HasPrefix(proto, "Bearer.") {
			subprotocol = proto
			break
		}
	}

	ctx, err := s.auth.authenticate(r.Context(), bearer)
	if err != nil {
		return nil, "", err
	}
	if su, _ := ctx.Value(ctxSuperuser).(bool); su {
		return nil, subprotocol, nil
	}
	t, _ := ctx.Value(ctxToken).(*types.MatchToken)
	return t, subprotocol, nil
}

func (s *EngineServer) upgrade(w http.ResponseWriter, r *http.Request, subprotocol string) (*websocket.Conn, error) {
	var header http.Header
	if subprotocol != "" {
		header = http.Header{"Sec-WebSocket-Protocol": []string{subprotocol}}
	}
	return upgrader.Upgrade(w, r, header)
}

// wsSnapshot streams a match's state: full snapshots or deltas with
// resync, per mode.
func (s *EngineServer) wsSnapshot(mode stream.Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, subprotocol, err := s.wsAuth(r)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		c, err := s.container(r)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		matchID, err := matchIDParam(r)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		if token != nil {
			if err := auth.RequireScope(token, types.ScopeViewSnapshots); err != nil {
				writeErr(w, r, err)
				return
			}
			if err := auth.RequireMatch(token, matchID); err != nil {
				writeErr(w, r, err)
				return
			}
		}
		m, err := c.Match(matchID)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		if m.Status().Terminal() {
			writeErr(w, r, errdefs.New(errdefs.KindPreconditionFailed,
				"match %d is %s and emits no further snapshots", matchID, m.Status()))
			return
		}

		conn, err := s.upgrade(w, r, subprotocol)
		if err != nil {
			return
		}
		defer conn.Close()

		logger := log.WithMatchID(uint64(matchID))
		logger.Debug().Bool("delta", mode == stream.ModeDelta).Str("remote", r.RemoteAddr).Msg("snapshot stream opened")
		defer logger.Debug().Str("remote", r.RemoteAddr).Msg("snapshot stream closed")

		sub := s.hub.Subscribe(matchID, mode, token)
		defer s.hub.Unsubscribe(sub)

		// Seed the stream with the current state so the subscriber has a
		// base for deltas.
		if initial := s.initialSnapshot(c, matchID, token); initial != nil {
			msg := stream.Message{Type: "snapshot", Resync: true, Snapshot: initial}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}

		s.pump(r, conn, sub)
	}
}

func (s *EngineServer) initialSnapshot(c *engine.Container, matchID types.MatchID, token *types.MatchToken) *types.Snapshot {
	if token != nil {
		if built, err := c.PlayerSnapshot(matchID, token.PlayerID); err == nil {
			return built.Snap
		}
		return nil
	}
	if built, ok := c.LatestSnapshot(matchID); ok {
		return built.Snap
	}
	if built, err := c.FullSnapshot(matchID); err == nil {
		return built.Snap
	}
	return nil
}

// pump forwards subscription frames to the connection until either side
// goes away.
func (s *EngineServer) pump(r *http.Request, conn *websocket.Conn, sub *stream.Subscriber) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader goroutine: detect client close and service pings.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pinger := time.NewTicker(wsPingInterval)
	defer pinger.Stop()

	frames := make(chan frameOrErr, 1)
	go func() {
		for {
			msg, err := sub.Next(ctx)
			select {
			case frames <- frameOrErr{msg: msg, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pinger.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case f := <-frames:
			if f.err != nil {
				code := websocket.CloseNormalClosure
				reason := "subscription closed"
				if errdefs.IsKind(f.err, errdefs.KindSlowConsumer) {
					code = websocket.ClosePolicyViolation
					reason = string(errdefs.KindSlowConsumer)
				}
				msg := websocket.FormatCloseMessage(code, reason)
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(f.msg); err != nil {
				return
			}
		}
	}
}

type frameOrErr struct {
	msg stream.Message
	err error
}

// commandFrame is one inbound message on the command stream.
type commandFrame struct {
	MatchID uint64         `json:"matchId"`
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload"`
}

// commandAck is the per-frame response on the command stream.
type commandAck struct {
	Queued bool         `json:"queued"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// wsCommands accepts a stream of command submissions, acknowledging each.
func (s *EngineServer) wsCommands(w http.ResponseWriter, r *http.Request) {
	token, subprotocol, err := s.wsAuth(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if token != nil {
		if err := auth.RequireScope(token, types.ScopeSubmitCommands); err != nil {
			writeErr(w, r, err)
			return
		}
	}
	c, err := s.container(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	conn, err := s.upgrade(w, r, subprotocol)
	if err != nil {
		return
	}
	defer conn.Close()

	var p types.Principal
	if token != nil {
		p = auth.Principal(token)
	} else {
		p = types.SuperuserPrincipal()
	}

	for {
		var frame commandFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}

		submitErr := s.submitStreamCommand(c, p, token, frame)
		ack := commandAck{Queued: submitErr == nil}
		if submitErr != nil {
			ack.Error = &ErrorDetail{
				Code:    string(errdefs.Code(submitErr)),
				Message: userMessage(submitErr),
				Details: errdefs.Details(submitErr),
			}
		} else {
			metrics.CommandsSubmitted.Inc()
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(ack); err != nil {
			return
		}
	}
}

func (s *EngineServer) submitStreamCommand(c *engine.Container, p types.Principal, token *types.MatchToken, frame commandFrame) error {
	matchID := types.MatchID(frame.MatchID)
	if token != nil {
		if err := auth.RequireMatch(token, matchID); err != nil {
			return err
		}
	}
	if !s.cmdLimiter.limiter(fmt.Sprintf("container:%d", c.ID)).Allow() {
		metrics.CommandsRejected.WithLabelValues("rate_limited").Inc()
		return errdefs.New(errdefs.KindRateLimited, "command rate limit exceeded")
	}
	if err := c.SubmitCommand(p, matchID, frame.Name, frame.Payload); err != nil {
		metrics.CommandsRejected.WithLabelValues(string(errdefs.Code(err))).Inc()
		return err
	}
	return nil
}
