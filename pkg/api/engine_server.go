package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/stormstack/lightning/pkg/engine"
	"github.com/stormstack/lightning/pkg/errdefs"
	"github.com/stormstack/lightning/pkg/log"
	"github.com/stormstack/lightning/pkg/metrics"
	"github.com/stormstack/lightning/pkg/module"
	"github.com/stormstack/lightning/pkg/snapshot"
	"github.com/stormstack/lightning/pkg/stream"
	"github.com/stormstack/lightning/pkg/types"
)

// EngineServer is the engine node's HTTP and WebSocket surface.
type EngineServer struct {
	logger     zerolog.Logger
	engine     *engine.Engine
	hub        *stream.Hub
	auth       *Authenticator
	reqLimiter *RateLimiter
	cmdLimiter *RateLimiter
}

// NewEngineServer wires the node API over an engine and its fanout hub.
func NewEngineServer(eng *engine.Engine, hub *stream.Hub, authn *Authenticator) *EngineServer {
	return &EngineServer{
		logger:     log.WithComponent("api"),
		engine:     eng,
		hub:        hub,
		auth:       authn,
		reqLimiter: NewRequestLimiter(),
		cmdLimiter: NewCommandLimiter(),
	}
}

// Handler builds the route tree.
func (s *EngineServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(withRequestID)

	r.Get("/health", metrics.HealthHandler())
	r.Get("/ready", metrics.ReadyHandler())
	r.Get("/live", metrics.LivenessHandler())
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Require)
		r.Use(s.reqLimiter.Middleware)

		r.Route("/api/containers", func(r chi.Router) {
			r.Get("/", s.listContainers)
			r.Post("/", s.createContainer)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.containerStatus)
				r.Get("/status", s.containerStatus)
				r.Get("/metrics", s.containerMetrics)
				r.Delete("/", s.removeContainer)

				r.Post("/ticks", s.tick)
				r.Post("/tick", s.tick)
				r.Post("/play", s.play)
				r.Post("/stop-auto", s.stopAuto)
				r.Post("/modules", s.enableModules)
				r.Post("/commands", s.submitCommand)

				r.Route("/matches", func(r chi.Router) {
					r.Get("/", s.listMatches)
					r.Post("/", s.createMatch)
					r.Get("/{matchId}", s.matchStatus)
					r.Post("/{matchId}/start", s.startMatch)
					r.Post("/{matchId}/finish", s.finishMatch)
					r.Post("/{matchId}/players", s.admitPlayer)
					r.Get("/{matchId}/errors", s.matchErrors)
				})

				r.Get("/snapshots/{matchId}", s.getSnapshot)
			})
		})

		r.Get("/api/modules", s.listModules)
	})

	// Streaming handlers authenticate in the upgrade path so the token
	// can ride the WebSocket subprotocol.
	r.Get("/ws/containers/{id}/matches/{matchId}/snapshot", s.wsSnapshot(stream.ModeFull))
	r.Get("/ws/containers/{id}/matches/{matchId}/delta", s.wsSnapshot(stream.ModeDelta))
	r.Get("/ws/containers/{id}/commands", s.wsCommands)

	return r
}

// containerView is the wire form of a container.
type containerView struct {
	ContainerID    uint64                `json:"containerId"`
	NodeID         uint64                `json:"nodeId"`
	Status         types.ContainerStatus `json:"status"`
	TickIntervalMs int64                 `json:"tickIntervalMs"`
	AutoPlaying    bool                  `json:"autoPlaying"`
	Modules        []string              `json:"modules"`
	MatchCount     int                   `json:"matchCount"`
}

func (s *EngineServer) containerView(c *engine.Container) containerView {
	return containerView{
		ContainerID:    uint64(c.ID),
		NodeID:         c.NodeID,
		Status:         c.Status(),
		TickIntervalMs: c.TickInterval().Milliseconds(),
		AutoPlaying:    c.Playing(),
		Modules:        c.Runtime().ModuleNames(),
		MatchCount:     len(c.Matches()),
	}
}

func (s *EngineServer) container(r *http.Request) (*engine.Container, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return nil, errdefs.BadRequest("invalid container id %q", chi.URLParam(r, "id"))
	}
	return s.engine.Container(types.ContainerID(id))
}

func matchIDParam(r *http.Request) (types.MatchID, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "matchId"), 10, 64)
	if err != nil {
		return 0, errdefs.BadRequest("invalid match id %q", chi.URLParam(r, "matchId"))
	}
	return types.MatchID(id), nil
}

func (s *EngineServer) listContainers(w http.ResponseWriter, r *http.Request) {
	containers := s.engine.Containers()
	views := make([]containerView, 0, len(containers))
	for _, c := range containers {
		views = append(views, s.containerView(c))
	}
	writeData(w, r, http.StatusOK, views)
}

func (s *EngineServer) createContainer(w http.ResponseWriter, r *http.Request) {
	if !isSuperuser(r) {
		writeErr(w, r, errdefs.PermissionDenied("container management requires the api key"))
		return
	}
	var req struct {
		Modules        []string `json:"modules"`
		TickIntervalMs int64    `json:"tickIntervalMs"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	c, err := s.engine.CreateContainer(req.Modules, time.Duration(req.TickIntervalMs)*time.Millisecond)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := c.Start(); err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, s.containerView(c))
}

func (s *EngineServer) containerStatus(w http.ResponseWriter, r *http.Request) {
	c, err := s.container(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, s.containerView(c))
}

func (s *EngineServer) containerMetrics(w http.ResponseWriter, r *http.Request) {
	c, err := s.container(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, c.Metrics())
}

func (s *EngineServer) removeContainer(w http.ResponseWriter, r *http.Request) {
	if !isSuperuser(r) {
		writeErr(w, r, errdefs.PermissionDenied("container management requires the api key"))
		return
	}
	c, err := s.container(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.engine.RemoveContainer(c.ID); err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"removed": uint64(c.ID)})
}

func (s *EngineServer) tick(w http.ResponseWriter, r *http.Request) {
	c, err := s.container(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req struct {
		Count int `json:"count"`
	}
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			writeErr(w, r, err)
			return
		}
	}
	count := req.Count
	if count <= 0 {
		count = 1
	}
	for i := 0; i < count; i++ {
		if err := c.Tick(); err != nil {
			writeErr(w, r, err)
			return
		}
	}
	writeData(w, r, http.StatusOK, map[string]any{"ticked": count})
}

func (s *EngineServer) play(w http.ResponseWriter, r *http.Request) {
	c, err := s.container(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req struct {
		IntervalMs int64 `json:"intervalMs"`
	}
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			writeErr(w, r, err)
			return
		}
	}
	interval := time.Duration(req.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = c.TickInterval()
	}
	if err := c.Play(interval); err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{
		"playing":    true,
		"intervalMs": interval.Milliseconds(),
	})
}

func (s *EngineServer) stopAuto(w http.ResponseWriter, r *http.Request) {
	c, err := s.container(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	c.StopPlay()
	writeData(w, r, http.StatusOK, map[string]any{"playing": false})
}

func (s *EngineServer) enableModules(w http.ResponseWriter, r *http.Request) {
	if !isSuperuser(r) {
		writeErr(w, r, errdefs.PermissionDenied("module management requires the api key"))
		return
	}
	c, err := s.container(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req struct {
		Modules []string `json:"modules"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := c.EnableModules(req.Modules); err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"modules": c.Runtime().ModuleNames()})
}

func (s *EngineServer) listMatches(w http.ResponseWriter, r *http.Request) {
	c, err := s.container(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	matches := c.Matches()
	views := make([]types.Match, 0, len(matches))
	for _, m := range matches {
		views = append(views, m.View(s.engine.NodeID(), c.ID))
	}
	writeData(w, r, http.StatusOK, views)
}

func (s *EngineServer) createMatch(w http.ResponseWriter, r *http.Request) {
	if !isSuperuser(r) {
		writeErr(w, r, errdefs.PermissionDenied("match placement requires the api key"))
		return
	}
	c, err := s.container(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req struct {
		MatchID     uint64   `json:"matchId"`
		Modules     []string `json:"modules"`
		PlayerLimit int      `json:"playerLimit"`
		AutoStart   bool     `json:"autoStart"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	matchID := types.MatchID(req.MatchID)
	if matchID == 0 {
		matchID = s.engine.AllocateMatchID()
	}
	m, err := c.CreateMatch(matchID, req.Modules, req.PlayerLimit)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if req.AutoStart {
		if err := m.Start(); err != nil {
			writeErr(w, r, err)
			return
		}
	}
	writeData(w, r, http.StatusCreated, m.View(s.engine.NodeID(), c.ID))
}

func (s *EngineServer) matchStatus(w http.ResponseWriter, r *http.Request) {
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
	m, err := c.Match(matchID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, m.View(s.engine.NodeID(), c.ID))
}

func (s *EngineServer) startMatch(w http.ResponseWriter, r *http.Request) {
	if !isSuperuser(r) {
		writeErr(w, r, errdefs.PermissionDenied("match lifecycle requires the api key"))
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
	m, err := c.Match(matchID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := m.Start(); err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, m.View(s.engine.NodeID(), c.ID))
}

func (s *EngineServer) finishMatch(w http.ResponseWriter, r *http.Request) {
	if !isSuperuser(r) {
		writeErr(w, r, errdefs.PermissionDenied("match lifecycle requires the api key"))
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
	if err := c.FinishMatch(matchID); err != nil {
		writeErr(w, r, err)
		return
	}
	m, err := c.Match(matchID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, m.View(s.engine.NodeID(), c.ID))
}

func (s *EngineServer) admitPlayer(w http.ResponseWriter, r *http.Request) {
	if !isSuperuser(r) {
		writeErr(w, r, errdefs.PermissionDenied("player admission requires the api key"))
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
	var req struct {
		PlayerID   uint64 `json:"playerId"`
		PlayerName string `json:"playerName"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	m, err := c.Match(matchID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := m.Join(types.PlayerID(req.PlayerID)); err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, m.View(s.engine.NodeID(), c.ID))
}

func (s *EngineServer) matchErrors(w http.ResponseWriter, r *http.Request) {
	if err := requireScope(r, types.ScopeReceiveErrors); err != nil {
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
	if t := tokenFrom(r); t != nil {
		if err := authRequireMatch(t, matchID); err != nil {
			writeErr(w, r, err)
			return
		}
	}
	writeData(w, r, http.StatusOK, c.RecentErrors(matchID))
}

func (s *EngineServer) submitCommand(w http.ResponseWriter, r *http.Request) {
	if err := requireScope(r, types.ScopeSubmitCommands); err != nil {
		writeErr(w, r, err)
		return
	}
	c, err := s.container(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.cmdLimiter.Allow(w, fmt.Sprintf("container:%d", c.ID)); err != nil {
		writeErr(w, r, err)
		return
	}
	var req struct {
		MatchID uint64         `json:"matchId"`
		Name    string         `json:"name"`
		Payload map[string]any `json:"payload"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	matchID := types.MatchID(req.MatchID)
	p := principalFrom(r)
	if t := tokenFrom(r); t != nil {
		if err := authRequireMatch(t, matchID); err != nil {
			writeErr(w, r, err)
			return
		}
	}
	if err := c.SubmitCommand(p, matchID, req.Name, req.Payload); err != nil {
		writeErr(w, r, err)
		return
	}
	metrics.CommandsSubmitted.Inc()
	writeData(w, r, http.StatusAccepted, map[string]any{"queued": true})
}

func (s *EngineServer) getSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := requireScope(r, types.ScopeViewSnapshots); err != nil {
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

	// Persisted history is unscoped, so it stays behind the api key.
	if tickStr := r.URL.Query().Get("tick"); tickStr != "" {
		if !isSuperuser(r) {
			writeErr(w, r, errdefs.PermissionDenied("snapshot history requires the api key"))
			return
		}
		tick, err := strconv.ParseUint(tickStr, 10, 64)
		if err != nil {
			writeErr(w, r, errdefs.BadRequest("invalid tick %q", tickStr))
			return
		}
		snap, err := s.engine.HistorySnapshot(matchID, tick)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeData(w, r, http.StatusOK, snap)
		return
	}

	var built *snapshot.Built
	if t := tokenFrom(r); t != nil {
		if err := authRequireMatch(t, matchID); err != nil {
			writeErr(w, r, err)
			return
		}
		built, err = c.PlayerSnapshot(matchID, t.PlayerID)
		if err != nil {
			writeErr(w, r, err)
			return
		}
	} else {
		var ok bool
		built, ok = c.LatestSnapshot(matchID)
		if !ok {
			built, err = c.FullSnapshot(matchID)
			if err != nil {
				writeErr(w, r, err)
				return
			}
		}
	}

	if r.URL.Query().Get("format") == "legacy" {
		writeData(w, r, http.StatusOK, snapshot.ToLegacy(built.Snap))
		return
	}
	writeData(w, r, http.StatusOK, built.Snap)
}

func (s *EngineServer) listModules(w http.ResponseWriter, r *http.Request) {
	type moduleView struct {
		Name     string   `json:"name"`
		Version  string   `json:"version"`
		Commands []string `json:"commands"`
	}
	descriptors := module.Builtins(module.KnownModules())
	views := make([]moduleView, 0, len(descriptors))
	for _, d := range descriptors {
		cmds := make([]string, 0, len(d.Commands))
		for _, cs := range d.Commands {
			cmds = append(cmds, cs.Name)
		}
		views = append(views, moduleView{Name: d.Name, Version: d.Version.String(), Commands: cmds})
	}
	writeData(w, r, http.StatusOK, views)
}
