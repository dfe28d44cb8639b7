package webservice

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/logging"

	"webkvm/config"
	sagent "webkvm/streamAgent"
	"webkvm/sdriver"
)

const Version = "0.4.0"

// WebMaster serves the HTTP API, the streaming websocket and the optional
// WebRTC upgrade for one driver.
type WebMaster struct {
	sync.Mutex
	UnlockAttemptRecords map[string]UnlockAttemptRecord

	WebRTCManager *WebRTCManager

	cfg      *config.Config
	driver   sdriver.SDriver
	registry *sagent.Registry
	pin      string
	hostname string

	jwtSecret []byte
	logf      logging.LoggerFactory
	log       logging.LeveledLogger
	router    *gin.Engine
}

func New(cfg *config.Config, driver sdriver.SDriver, registry *sagent.Registry, lf logging.LoggerFactory) (*WebMaster, error) {
	wm := &WebMaster{
		UnlockAttemptRecords: make(map[string]UnlockAttemptRecord),
		cfg:                  cfg,
		driver:               driver,
		registry:             registry,
		pin:                  cfg.Server.PIN,
		hostname:             cfg.Server.Hostname,
		logf:                 lf,
		log:                  lf.NewLogger("web"),
	}
	if cfg.Server.JWTSecret != "" {
		wm.jwtSecret = []byte(cfg.Server.JWTSecret)
	} else {
		// tokens do not survive a restart
		wm.jwtSecret = make([]byte, 32)
		if _, err := rand.Read(wm.jwtSecret); err != nil {
			return nil, fmt.Errorf("jwt secret: %w", err)
		}
	}
	if wm.hostname == "" {
		wm.hostname, _ = os.Hostname()
	}
	if cfg.WebRTC.Enabled {
		m, err := NewWebRTCManager(cfg.WebRTC, lf)
		if err != nil {
			return nil, err
		}
		wm.WebRTCManager = m
	}
	wm.router = wm.routes()
	return wm, nil
}

func (wm *WebMaster) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), wm.requestLogger())

	r.POST("/api/unlock", wm.handleUnlock)

	auth := r.Group("/", wm.HybridAuthMiddleware())
	auth.GET("/ws", wm.handleStreamWS)
	auth.GET("/api/info", wm.handleInfo)
	auth.GET("/api/monitors", wm.handleMonitors)
	auth.GET("/api/sessions", wm.handleSessions)
	auth.DELETE("/api/sessions/:id", wm.handleCloseSession)
	return r
}

func (wm *WebMaster) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		wm.log.Debugf("%s %s -> %d (%v)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func (wm *WebMaster) Handler() http.Handler {
	return wm.router
}

func (wm *WebMaster) encrypted() bool {
	srv := wm.cfg.Server
	return (srv.TLSCert != "" && srv.TLSKey != "") || srv.TLSSelfSigned
}

// Serve listens until ctx ends, then shuts the HTTP server down. Streaming
// sessions are stopped separately through the registry.
func (wm *WebMaster) Serve(ctx context.Context) error {
	tlsCfg, err := wm.tlsConfig()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              wm.cfg.Server.Addr,
		Handler:           wm.router,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if wm.cfg.Server.MDNS {
		stop, err := wm.Advertise()
		if err != nil {
			wm.log.Warnf("mdns advertisement disabled: %v", err)
		} else {
			defer stop()
		}
	}
	if wm.WebRTCManager != nil {
		go wm.WebRTCManager.LogStatus(ctx, wm.cfg.Server.StatusLog)
	}

	errCh := make(chan error, 1)
	go func() {
		wm.log.Infof("listening on %s (tls %v)", srv.Addr, wm.encrypted())
		var err error
		if tlsCfg != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if wm.WebRTCManager != nil {
		wm.WebRTCManager.CloseAll()
	}
	err = srv.Shutdown(shutdownCtx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
