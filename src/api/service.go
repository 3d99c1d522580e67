// Package api serves the address index over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/0xb10c/mempool-addrindex/src/addrindex"
	"github.com/0xb10c/mempool-addrindex/src/types"
)

var log = logrus.WithField("module", "api")

// DefaultQueryTimeout bounds how long a request waits for the index.
const DefaultQueryTimeout = 10 * time.Second

// Index is the part of *addrindex.Indexer the service reads from.
type Index interface {
	Query(addr types.Address, handleQuery addrindex.QueryHandler)
	Stats(handleStats addrindex.StatsHandler)
}

type Service struct {
	index        Index
	params       *chaincfg.Params
	queryTimeout time.Duration
}

func NewService(index Index, params *chaincfg.Params) *Service {
	return &Service{
		index:        index,
		params:       params,
		queryTimeout: DefaultQueryTimeout,
	}
}

func (s *Service) InitRouter(r *gin.Engine, basePath string) {
	g := r.Group(basePath)
	g.GET("/health", s.health)
	g.GET("/address/:address", s.address)
	g.GET("/stats", s.stats)
	g.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// NewServer returns an http.Server with all routes below basePath. The
// caller starts it with ListenAndServe and stops it with Shutdown.
func (s *Service) NewServer(listen, basePath string) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(requestLogger(), gin.Recovery())
	s.InitRouter(r, basePath)
	return &http.Server{
		Addr:              listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Debug("request")
	}
}
