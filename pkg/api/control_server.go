package api

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/stormstack/lightning/pkg/auth"
	"github.com/stormstack/lightning/pkg/cluster"
	"github.com/stormstack/lightning/pkg/errdefs"
	"github.com/stormstack/lightning/pkg/log"
	"github.com/stormstack/lightning/pkg/metrics"
	"github.com/stormstack/lightning/pkg/router"
	"github.com/stormstack/lightning/pkg/types"
)

// ControlServer is the control plane's HTTP surface.
type ControlServer struct {
	logger     zerolog.Logger
	registry   *cluster.Registry
	router     *router.Router
	gate       *auth.Gate
	auth       *Authenticator
	reqLimiter *RateLimiter
}

// NewControlServer wires the control plane API.
func NewControlServer(registry *cluster.Registry, rt *router.Router, gate *auth.Gate, authn *Authenticator) *ControlServer {
	return &ControlServer{
		logger:     log.WithComponent("api"),
		registry:   registry,
		router:     rt,
		gate:       gate,
		auth:       authn,
		reqLimiter: NewRequestLimiter(),
	}
}

// Handler builds the route tree.
func (s *ControlServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(withRequestID)

	r.Get("/health", metrics.HealthHandler())
	r.Get("/ready", metrics.ReadyHandler())
	r.Get("/live", metrics.LivenessHandler())
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Require)
		r.Use(s.reqLimiter.Middleware)

		r.Get("/api/cluster/status", s.clusterStatus)

		r.Route("/api/nodes", func(r chi.Router) {
			r.Get("/", s.listNodes)
			r.Post("/register", s.registerNode)
			r.Get("/{id}", s.getNode)
			r.Post("/{id}/heartbeat", s.heartbeat)
			r.Post("/{id}/drain", s.drainNode)
		})

		r.Route("/api/matches", func(r chi.Router) {
			r.Get("/", s.listMatches)
			r.Post("/route", s.routeMatch)
			r.Get("/{matchId}", s.getMatch)
			r.Post("/{matchId}/join", s.joinMatch)
		})

		r.Route("/api/tokens", func(r chi.Router) {
			r.Post("/introspect", s.introspectToken)
			r.Post("/{id}/revoke", s.revokeToken)
		})

		r.Get("/api/modules", s.listModules)
	})

	return r
}

func (s *ControlServer) requireSuperuser(w http.ResponseWriter, r *http.Request) bool {
	if !isSuperuser(r) {
		writeErr(w, r, errdefs.PermissionDenied("this operation requires the api key"))
		return false
	}
	return true
}

func (s *ControlServer) clusterStatus(w http.ResponseWriter, r *http.Request) {
	writeData(w, r, http.StatusOK, s.registry.Status())
}

func (s *ControlServer) listNodes(w http.ResponseWriter, r *http.Request) {
	writeData(w, r, http.StatusOK, s.registry.Nodes())
}

func (s *ControlServer) getNode(w http.ResponseWriter, r *http.Request) {
	id, err := nodeIDParam(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	n, err := s.registry.Node(id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, n)
}

func nodeIDParam(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, errdefs.BadRequest("invalid node id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

func (s *ControlServer) registerNode(w http.ResponseWriter, r *http.Request) {
	if !s.requireSuperuser(w, r) {
		return
	}
	var node types.Node
	if err := decode(r, &node); err != nil {
		writeErr(w, r, err)
		return
	}
	id, err := s.registry.RegisterNode(node)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, map[string]any{
		"nodeId":              id,
		"heartbeatIntervalMs": s.registry.HeartbeatInterval().Milliseconds(),
	})
}

// heartbeatRequest is the per-interval node report.
type heartbeatRequest struct {
	Metrics types.NodeMetrics `json:"metrics"`
	Matches []types.Match     `json:"matches"`
}

func (s *ControlServer) heartbeat(w http.ResponseWriter, r *http.Request) {
	if !s.requireSuperuser(w, r) {
		return
	}
	id, err := nodeIDParam(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req heartbeatRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.registry.Heartbeat(id, req.Metrics, req.Matches); err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"acknowledged": true})
}

func (s *ControlServer) drainNode(w http.ResponseWriter, r *http.Request) {
	if !s.requireSuperuser(w, r) {
		return
	}
	id, err := nodeIDParam(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.registry.DrainNode(id); err != nil {
		writeErr(w, r, err)
		return
	}
	n, err := s.registry.Node(id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, n)
}

func (s *ControlServer) listMatches(w http.ResponseWriter, r *http.Request) {
	writeData(w, r, http.StatusOK, s.registry.Matches())
}

func (s *ControlServer) getMatch(w http.ResponseWriter, r *http.Request) {
	matchID, err := matchIDParam(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	m, err := s.registry.Match(matchID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, m)
}

func (s *ControlServer) routeMatch(w http.ResponseWriter, r *http.Request) {
	if !s.requireSuperuser(w, r) {
		return
	}
	var req types.RouteRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	result, err := s.router.Route(r.Context(), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, result)
}

func (s *ControlServer) joinMatch(w http.ResponseWriter, r *http.Request) {
	if !s.requireSuperuser(w, r) {
		return
	}
	matchID, err := matchIDParam(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req types.JoinRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	result, err := s.router.Join(r.Context(), matchID, req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, result)
}

func (s *ControlServer) introspectToken(w http.ResponseWriter, r *http.Request) {
	if !s.requireSuperuser(w, r) {
		return
	}
	var req struct {
		Token string `json:"token"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	t, err := s.gate.Validate(r.Context(), req.Token)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, t)
}

func (s *ControlServer) revokeToken(w http.ResponseWriter, r *http.Request) {
	if !s.requireSuperuser(w, r) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.gate.Revoke(id); err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"revoked": id})
}

// listModules aggregates the module catalogs of all registered nodes.
func (s *ControlServer) listModules(w http.ResponseWriter, r *http.Request) {
	seen := make(map[string][]uint64)
	for _, n := range s.registry.Nodes() {
		if n.Status == types.NodeStatusOffline {
			continue
		}
		for _, m := range n.Modules {
			seen[m] = append(seen[m], n.ID)
		}
	}
	type moduleView struct {
		Name  string   `json:"name"`
		Nodes []uint64 `json:"nodes"`
	}
	views := make([]moduleView, 0, len(seen))
	for name, nodes := range seen {
		views = append(views, moduleView{Name: name, Nodes: nodes})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	writeData(w, r, http.StatusOK, views)
}
