// Package server exposes railway environments over HTTP. Each session owns one
// environment; all sessions share the network graph.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/cxd309/tms-railenv/internal/codec"
	"github.com/cxd309/tms-railenv/internal/engine"
	"github.com/cxd309/tms-railenv/internal/feed"
	"github.com/cxd309/tms-railenv/internal/graph"
	"github.com/cxd309/tms-railenv/internal/kinematics"
	"github.com/cxd309/tms-railenv/internal/logging"
	"github.com/cxd309/tms-railenv/internal/store"
)

// DefaultMaxSessions bounds concurrent sessions when Options leaves it unset.
const DefaultMaxSessions = 64

var (
	ErrUnknownSession  = errors.New("unknown session")
	ErrTooManySessions = errors.New("too many sessions")
)

// Options configures a Server.
type Options struct {
	Engine      engine.Options
	CORSOrigins []string
	FeedEpoch   time.Time
	MaxSessions int
}

// Server holds the sessions and their HTTP routes.
type Server struct {
	g      *graph.Graph
	opts   Options
	store  store.Store
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	seq      int

	upgrader websocket.Upgrader
}

// New returns a Server over g. A nil store records in memory and a nil logger
// discards.
func New(g *graph.Graph, opts Options, st store.Store, logger *slog.Logger) *Server {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if st == nil {
		st = store.NewMemory()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{
		g:        g,
		opts:     opts,
		store:    st,
		logger:   logger,
		sessions: make(map[string]*session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Router builds the gin engine with every route.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	allowAll := lo.Contains(s.opts.CORSOrigins, "*")
	var origins []string
	if !allowAll {
		origins = s.opts.CORSOrigins
	}
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: allowAll,
		AllowOrigins:    origins,
		AllowMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:   []string{"Content-Length"},
		MaxAge:          12 * time.Hour,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"sessions": s.sessionCount(),
		})
	})

	api := router.Group("/api")
	{
		api.GET("/network", s.getNetwork)
		api.GET("/episodes", s.listEpisodes)

		api.POST("/sessions", s.createSession)
		api.DELETE("/sessions/:id", s.deleteSession)
		api.POST("/sessions/:id/reset", s.resetSession)
		api.POST("/sessions/:id/step", s.stepSession)
		api.GET("/sessions/:id/render", s.renderSession)
		api.GET("/sessions/:id/feed", s.feedSession)
		api.GET("/sessions/:id/stream", s.streamSession)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// Close disconnects every session.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		sess.close()
		delete(s.sessions, id)
	}
}

func (s *Server) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) lookup(c *gin.Context) (*session, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[c.Param("id")]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("%v %q", ErrUnknownSession, c.Param("id"))})
	}
	return sess, ok
}

type networkResponse struct {
	Stations []graph.Station `json:"stations"`
	Tracks   []graph.Track   `json:"tracks"`
}

func (s *Server) getNetwork(c *gin.Context) {
	c.JSON(http.StatusOK, networkResponse{Stations: s.g.Stations(), Tracks: s.g.Tracks()})
}

func (s *Server) listEpisodes(c *gin.Context) {
	limit := store.DefaultLimit
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	eps, err := s.store.List(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("listing episodes", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list episodes"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"episodes": lo.Ternary(eps == nil, []store.Episode{}, eps)})
}

type sessionResponse struct {
	ID          string    `json:"id"`
	Observation []float64 `json:"observation"`
	Trains      int       `json:"trains"`
}

func (s *Server) createSession(c *gin.Context) {
	env, err := engine.NewEnv(s.g, s.opts.Engine, s.logger)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	if len(s.sessions) >= s.opts.MaxSessions {
		s.mu.Unlock()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": ErrTooManySessions.Error()})
		return
	}
	s.seq++
	id := fmt.Sprintf("s%d", s.seq)
	sess := newSession(id, env, feed.NewBuilder(s.g, s.opts.FeedEpoch), s.logger)
	s.sessions[id] = sess
	s.mu.Unlock()

	s.logger.Info("session created", "session", id)
	c.JSON(http.StatusCreated, sessionResponse{
		ID:          id,
		Observation: env.Observation(),
		Trains:      len(env.Snapshot()),
	})
}

func (s *Server) deleteSession(c *gin.Context) {
	s.mu.Lock()
	sess, ok := s.sessions[c.Param("id")]
	delete(s.sessions, c.Param("id"))
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": ErrUnknownSession.Error()})
		return
	}
	sess.close()
	s.logger.Info("session deleted", "session", sess.id)
	c.Status(http.StatusNoContent)
}

func (s *Server) resetSession(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	sess.mu.Lock()
	obs := sess.env.Reset()
	sess.mu.Unlock()

	sess.broadcast(Event{Type: "reset", Session: sess.id, Observation: obs})
	c.JSON(http.StatusOK, gin.H{"observation": obs})
}

// StepRequest is the body of a step call.
type StepRequest struct {
	Actions []int `json:"actions" binding:"required"`
}

func (s *Server) stepSession(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	var req StepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess.mu.Lock()
	res, err := sess.env.Step(req.Actions)
	var summary engine.EpisodeSummary
	if err == nil && res.Done {
		summary = sess.env.Summary()
	}
	sess.mu.Unlock()

	switch {
	case errors.Is(err, kinematics.ErrInvalidAction), errors.Is(err, codec.ErrActionCount):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, engine.ErrEpisodeDone):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if res.Done {
		s.record(c.Request.Context(), sess.id, summary)
	}
	sess.broadcast(Event{Type: "step", Session: sess.id, Step: &res})
	c.JSON(http.StatusOK, res)
}

func (s *Server) record(ctx context.Context, id string, sum engine.EpisodeSummary) {
	ep, err := s.store.Record(ctx, store.Episode{SessionID: id, Summary: sum})
	if err != nil {
		s.logger.Error("recording episode", "session", id, "err", err)
		return
	}
	s.logger.Info("episode recorded", "session", id, "id", ep.ID, "episode", sum.Episode)
}

func (s *Server) renderSession(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	sess.mu.Lock()
	out := sess.env.Render()
	sess.mu.Unlock()
	c.String(http.StatusOK, out)
}

func (s *Server) feedSession(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	sess.mu.Lock()
	msg := sess.feed.Build(sess.env.Snapshot(), sess.env.Elapsed())
	sess.mu.Unlock()

	data, err := feed.Marshal(msg)
	if err != nil {
		s.logger.Error("building feed", "session", sess.id, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build feed"})
		return
	}
	c.Data(http.StatusOK, feed.ContentType, data)
}

func (s *Server) streamSession(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "session", sess.id, "err", err)
		return
	}
	sub := sess.subscribe(conn)
	sess.send(sub, Event{Type: "subscribed", Session: sess.id})

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			sess.unsubscribe(sub)
			return
		}
	}
}
