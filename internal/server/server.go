package server

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/frame-export/internal/export"
	"github.com/babelcloud/gbox/packages/frame-export/internal/host"
	"github.com/babelcloud/gbox/packages/frame-export/internal/progress"
	"github.com/babelcloud/gbox/packages/frame-export/internal/server/handlers"
	"github.com/babelcloud/gbox/packages/frame-export/internal/server/router"
	"github.com/babelcloud/gbox/packages/frame-export/internal/util"
	"github.com/babelcloud/gbox/packages/frame-export/internal/version"
)

// Defaults fill zero fields of export requests.
type Defaults struct {
	Width            uint32
	Height           uint32
	FPS              uint32
	Frames           uint32
	Codec            string
	Bitrate          uint32
	ClusterMaxMillis uint32
	FramePrefix      string
	Scene            host.SceneConfig
}

// Options configures an ExportServer.
type Options struct {
	Port      int
	Encoders  export.VideoEncoderFactory
	Defaults  Defaults
	MaxFrames uint32
	// Retention is how long finished jobs stay queryable.
	Retention time.Duration
}

// ExportServer serves exports of the built-in scene over HTTP.
type ExportServer struct {
	port       int
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger

	encoders  export.VideoEncoderFactory
	defaults  Defaults
	maxFrames uint32
	registry  *progress.Registry

	mu        sync.RWMutex
	running   bool
	startTime time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewExportServer creates a server; call Start to listen.
func NewExportServer(opts Options) *ExportServer {
	ctx, cancel := context.WithCancel(context.Background())
	if opts.Retention <= 0 {
		opts.Retention = 10 * time.Minute
	}
	s := &ExportServer{
		port:      opts.Port,
		mux:       http.NewServeMux(),
		logger:    util.GetLogger().With("component", "export_server"),
		encoders:  opts.Encoders,
		defaults:  opts.Defaults,
		maxFrames: opts.MaxFrames,
		registry:  progress.NewRegistry(opts.Retention),
		startTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.setupRoutes()
	return s
}

// Handler returns the routed handler wrapped in request logging.
func (s *ExportServer) Handler() http.Handler {
	return loggingMiddleware(s.mux)
}

// Start listens on the configured port until Stop is called.
func (s *ExportServer) Start() error {
	s.mu.Lock()
	s.startTime = time.Now()
	s.running = true
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
		// Exports may take long to render; only bound the header read.
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("Export server listening", "port", s.port)
	err := srv.ListenAndServe()
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	if err == http.ErrServerClosed {
		return nil
	}
	return errors.Wrap(err, "export server failed")
}

// Stop cancels running exports and shuts the server down.
func (s *ExportServer) Stop() error {
	s.cancel()

	s.mu.RLock()
	srv := s.httpServer
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP server shutdown error", "error", err)
		if err := srv.Close(); err != nil {
			return errors.Wrap(err, "failed to close export server")
		}
	}
	s.logger.Info("Export server stopped")
	return nil
}

func (s *ExportServer) setupRoutes() {
	routers := []router.Router{
		&router.APIRouter{},
		&router.ExportsRouter{},
	}
	for _, r := range routers {
		r.RegisterRoutes(s.mux, s)
	}
}

// IsRunning returns whether the server is listening
func (s *ExportServer) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// GetPort returns the server port
func (s *ExportServer) GetPort() int {
	return s.port
}

// GetUptime returns server uptime
func (s *ExportServer) GetUptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime)
}

// GetVersion returns the build version
func (s *ExportServer) GetVersion() string {
	return version.Version
}

func (s *ExportServer) Progress(jobID string) *progress.Broadcaster {
	return s.registry.Create(jobID)
}

func (s *ExportServer) LookupProgress(jobID string) (*progress.Broadcaster, bool) {
	return s.registry.Get(jobID)
}

func (s *ExportServer) ReleaseProgress(jobID string) {
	s.registry.MarkFinished(jobID)
}

func (s *ExportServer) sceneConfig(opts handlers.SceneOptions) host.SceneConfig {
	cfg := s.defaults.Scene
	if opts.Particles > 0 {
		cfg.Particles = opts.Particles
	}
	if opts.Seed != 0 {
		cfg.Seed = opts.Seed
	}
	return cfg
}

func (s *ExportServer) checkFrames(n uint32) error {
	if s.maxFrames > 0 && n > s.maxFrames {
		return &export.Error{
			Kind:  export.KindInvalidConfiguration,
			Frame: -1,
			Err:   fmt.Errorf("frame count %d exceeds server limit %d", n, s.maxFrames),
		}
	}
	return nil
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// ExportVideo renders the scene into WebM and publishes progress under jobID.
func (s *ExportServer) ExportVideo(ctx context.Context, jobID string, req handlers.VideoExportRequest) (*export.Result, error) {
	cfg := export.VideoConfig{
		Width:            orDefault(req.Width, s.defaults.Width),
		Height:           orDefault(req.Height, s.defaults.Height),
		FPS:              orDefault(req.FPS, s.defaults.FPS),
		FrameCount:       orDefault(req.Frames, s.defaults.Frames),
		Codec:            orDefault(req.Codec, s.defaults.Codec),
		Bitrate:          orDefault(req.Bitrate, s.defaults.Bitrate),
		ClusterMaxMillis: orDefault(req.ClusterMaxMillis, s.defaults.ClusterMaxMillis),
	}
	b := s.registry.Start(jobID)
	defer s.registry.MarkFinished(jobID)

	if err := s.checkFrames(cfg.FrameCount); err != nil {
		b.Finish(nil, err)
		return nil, err
	}

	res, err := host.SceneVideoJob{
		Video:     cfg,
		Scene:     s.sceneConfig(req.Scene),
		Encoders:  s.encoders,
		Progress:  b.ProgressFunc(),
		Logger:    s.logger.With("job", jobID),
		MuxingApp: version.WritingApp(),
	}.Run(ctx)
	b.Finish(res, err)
	return res, err
}

// ExportFrames renders the scene into a ZIP of PNG stills.
func (s *ExportServer) ExportFrames(ctx context.Context, jobID string, req handlers.FramesExportRequest) (*export.Result, error) {
	frames := orDefault(req.Frames, s.defaults.Frames)
	b := s.registry.Start(jobID)
	defer s.registry.MarkFinished(jobID)

	if err := s.checkFrames(frames); err != nil {
		b.Finish(nil, err)
		return nil, err
	}

	res, err := host.SceneFramesJob{
		Width:  orDefault(req.Width, int(s.defaults.Width)),
		Height: orDefault(req.Height, int(s.defaults.Height)),
		Frames: export.ImageSequenceConfig{
			FrameCount: frames,
			FilePrefix: orDefault(req.Prefix, s.defaults.FramePrefix),
			FPS:        orDefault(req.FPS, s.defaults.FPS),
		},
		Scene:    s.sceneConfig(req.Scene),
		Progress: b.ProgressFunc(),
		Logger:   s.logger.With("job", jobID),
	}.Run(ctx)
	b.Finish(res, err)
	return res, err
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	length int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.status = code
	lw.ResponseWriter.WriteHeader(code)
}

func (lw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lw.status == 0 {
		lw.status = http.StatusOK
	}
	n, err := lw.ResponseWriter.Write(b)
	lw.length += n
	return n, err
}

// Hijack lets websocket upgrades pass through the middleware.
func (lw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := lw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("http.Hijacker interface is not supported")
	}
	return hj.Hijack()
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lw, r)
		util.GetLogger().Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.status,
			"bytes", lw.length,
			"duration", time.Since(start),
			"remote", r.RemoteAddr)
	})
}
