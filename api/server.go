// Package api exposes decoder health, counters and the latest decoded picture over HTTP.
package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/ugparu/hwdec/sink"
	"github.com/ugparu/hwdec/utils/logger"
)

// StaleAfter is how long the latest frame may age before /health reports the stream as stalled.
const StaleAfter = 5 * time.Second

const readHeaderTimeout = 5 * time.Second

var modeOnce sync.Once

// StatsFunc returns a JSON-serializable snapshot of some component.
type StatsFunc func() any

type Server struct {
	server    *http.Server
	router    *gin.Engine
	snapshot  *sink.Snapshot
	stats     map[string]StatsFunc
	started   time.Time
	startOnce *sync.Once
	closeOnce *sync.Once
	deadChan  chan any
}

// New builds the router. stats entries are served under their key on /stats.
func New(listen string, enablePprof bool, snapshot *sink.Snapshot, stats map[string]StatsFunc) *Server {
	modeOnce.Do(func() { gin.SetMode(gin.ReleaseMode) })
	router := gin.New()
	router.Use(
		func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusOK)
				return
			}
			c.Next()
		})
	router.Use(gin.Recovery())
	if enablePprof {
		pprof.Register(router)
	}

	s := &Server{
		server: &http.Server{
			Addr:              listen,
			Handler:           router,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		router:    router,
		snapshot:  snapshot,
		stats:     stats,
		started:   time.Now(),
		startOnce: &sync.Once{},
		closeOnce: &sync.Once{},
		deadChan:  make(chan any),
	}

	router.GET("/health", s.getHealth)
	router.GET("/stats", s.getStats)
	router.GET("/snapshot.jpg", s.getSnapshot)

	logger.Debug(s, "Initialized and set up")
	return s
}

// Start serves until Close. It blocks.
func (s *Server) Start() {
	err := errors.New("HTTP server has been started already")
	s.startOnce.Do(func() {
		defer close(s.deadChan)

		logger.Infof(s, "Starting listening on %s", s.server.Addr)
		if err = s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warning(s, err.Error())
		}
		err = nil
	})
	if err != nil {
		logger.Error(s, err.Error())
	}
}

func (s *Server) Close() {
	s.closeOnce.Do(func() {
		logger.Info(s, "Stopping and closing")
		if err := s.server.Close(); err != nil {
			logger.Warning(s, err.Error())
		}
	})
}

// Dead is closed once Start returns.
func (s *Server) Dead() <-chan any {
	return s.deadChan
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

type health struct {
	Status       string  `json:"status"`
	Uptime       float64 `json:"uptime_seconds"`
	Frames       uint64  `json:"frames"`
	LastFrameAge float64 `json:"last_frame_age_seconds,omitempty"`
}

func (s *Server) getHealth(c *gin.Context) {
	h := health{
		Status:       "waiting",
		Uptime:       time.Since(s.started).Seconds(),
		Frames:       0,
		LastFrameAge: 0,
	}

	code := http.StatusOK
	if s.snapshot != nil {
		h.Frames = s.snapshot.Frames()
		if _, at, ok := s.snapshot.Latest(); ok {
			age := time.Since(at)
			h.LastFrameAge = age.Seconds()
			h.Status = "ok"
			if age > StaleAfter {
				h.Status = "stalled"
				code = http.StatusServiceUnavailable
			}
		}
	}
	c.JSON(code, h)
}

func (s *Server) getStats(c *gin.Context) {
	out := make(gin.H, len(s.stats))
	for name, fn := range s.stats {
		out[name] = fn()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getSnapshot(c *gin.Context) {
	if s.snapshot == nil {
		c.String(http.StatusNotFound, "snapshots are disabled")
		return
	}

	data, err := s.snapshot.JPEG()
	if err != nil {
		if errors.Is(err, sink.ErrNoFrame) {
			c.String(http.StatusNotFound, err.Error())
			return
		}
		logger.Errorf(s, "Failed to encode snapshot: %v", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (s *Server) String() string {
	return "HTTP_SERVER " + s.server.Addr
}
