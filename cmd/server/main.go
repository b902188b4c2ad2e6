package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"blockstage.ai/internal/metrics"
	persistlog "blockstage.ai/internal/persistence/log"
	"blockstage.ai/internal/sim/stage"
	"blockstage.ai/internal/sim/tuning"
	"blockstage.ai/internal/transport/observer"
	"blockstage.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		stageID    = flag.String("stage", "stage_1", "stage id")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		watchTune  = flag.Bool("watch_tuning", true, "reload tuning.yaml when it changes")
		disableDB  = flag.Bool("disable_db", false, "disable the event index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	stageDir := filepath.Join(*dataDir, "stages", *stageID)
	_ = os.MkdirAll(stageDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	// Optional read-model index; never on the script execution path.
	idx, err := openRuntimeIndex(stageDir, *stageID, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.RecordTuning(tune); err != nil {
			logger.Printf("index backend: record tuning: %v", err)
		}
	}

	mirror, err := openMirror(*dataDir, logger)
	if err != nil {
		logger.Fatalf("init r2 mirror: %v", err)
	}
	logOpts := persistlog.LoggerOptions{}
	if mirror != nil {
		defer mirror.Close()
		logOpts.RotateLayout = mirrorRotateLayout
		logOpts.OnClose = mirror.Enqueue
	}
	eventLog := persistlog.NewEventLoggerWithOptions(stageDir, logOpts)
	defer eventLog.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	var events stage.MultiSink
	events = append(events, eventLog)
	if idx != nil {
		events = append(events, idx)
		m.WatchQueue("index", func() int { return idx.Stats().QueueDepth }, func() uint64 { return idx.Stats().DropTotal })
	}
	if mirror != nil {
		m.WatchQueue("r2_mirror", func() int { return mirror.Stats().QueueDepth }, func() uint64 { return mirror.Stats().DroppedTotal })
	}

	rt, err := newStageRuntime(tune, events, m, logger)
	if err != nil {
		logger.Fatalf("stage: %v", err)
	}
	logger.Printf("stage=%s actors=%d default=%gx%g", *stageID, rt.store.Len(), tune.Stage.Width, tune.Stage.Height)

	if *watchTune {
		if _, err := os.Stat(tp); err == nil {
			stopWatch, err := tuning.Watch(tp, logger, func(t tuning.Tuning) {
				rt.applyTuning(t)
				if idx != nil {
					_ = idx.RecordTuning(t)
				}
			})
			if err != nil {
				logger.Printf("tuning watch disabled: %v", err)
			} else {
				defer stopWatch()
			}
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	mux := newMux(rt, m, logger)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})
	g.Go(func() error {
		logger.Printf("listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Printf("server stopped: %v", err)
	}
}

func newMux(rt *stageRuntime, m *metrics.Stage, logger *log.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", m.Handler())

	t := rt.tune.Load()
	wsSrv := ws.NewServer(rt.store, rt.runs, rt.viewport, rt.validator, ws.Config{
		Params:          rt.params,
		MaxActors:       t.MaxActors,
		MaxScriptBlocks: t.MaxScriptBlocks,
	}, logger)
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	enableAdminHTTP := envBool("BS_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("BS_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		obsSrv := observer.NewServer(rt.store, observer.Sources{
			Running:      rt.running,
			Cooling:      rt.coordinator.Cooling,
			Bounds:       rt.viewport,
			DefaultStage: stage.Rect{Width: t.Stage.Width, Height: t.Stage.Height},
		}, logger)
		mux.HandleFunc("/admin/v1/state", obsSrv.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observe", obsSrv.WSHandler())
		mux.HandleFunc("/admin/v1/stop_all", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			n := rt.runs.StopAll()
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "stopped": n})
		})
	} else {
		logger.Printf("admin endpoints disabled (BS_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (BS_ENABLE_PPROF_HTTP=false)")
	}
	return mux
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
