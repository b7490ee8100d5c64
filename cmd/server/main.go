// Command server runs the chunk server: a TCP listener and an optional
// websocket bridge, both feeding the same session handler over one store.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"ironcraft.dev/internal/config"
	"ironcraft.dev/internal/index"
	"ironcraft.dev/internal/server"
	"ironcraft.dev/internal/store"
	"ironcraft.dev/internal/transport"
	"ironcraft.dev/internal/transport/tcpio"
	"ironcraft.dev/internal/transport/wsbridge"
	"ironcraft.dev/internal/world"
	"ironcraft.dev/internal/world/gen"
)

func main() {
	var (
		configPath   = flag.String("config", "", "yaml config path (empty runs the defaults)")
		disableIndex = flag.Bool("disable_index", false, "disable the sqlite runtime index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	if dir := filepath.Dir(cfg.World.StorePath); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	st, err := store.Open(cfg.World.StorePath, store.Options{})
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer st.Close()

	var generator world.Generator
	if cfg.World.Generator == "flat" {
		generator = gen.NewFlat(nil)
	}
	svc, err := world.NewService(st, generator, world.ServiceOptions{
		CacheEntries: cfg.World.CacheEntries,
		Scheme:       cfg.PersistScheme(),
	})
	if err != nil {
		logger.Fatalf("world service: %v", err)
	}

	// Optional read-model index; sessions and imports are recorded best-effort.
	var idx *index.Index
	if cfg.IndexPath != "" && !*disableIndex {
		if dir := filepath.Dir(cfg.IndexPath); dir != "." {
			_ = os.MkdirAll(dir, 0o755)
		}
		idx, err = index.Open(cfg.IndexPath)
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
	}

	srv := server.New(server.Options{
		MOTD:        cfg.Status.MOTD,
		MaxPlayers:  cfg.Status.MaxPlayers,
		FaviconPath: cfg.Status.FaviconPath,
		Threshold:   cfg.Frames.CompressionThreshold,
		Limits: transport.Limits{
			MaxFrameSize:        cfg.Frames.MaxFrameSize,
			MaxUncompressedSize: cfg.Frames.MaxUncompressedSize,
		},
		Dimension:   cfg.World.Dimension,
		ViewRadius:  cfg.World.ViewRadius,
		IdleTimeout: cfg.Session.Idle,
		Keepalive:   cfg.Session.Keepalive,
		Grace:       cfg.Session.Grace,
		WriteStall:  cfg.Session.Stall,
		QueueSize:   cfg.Session.OutboundQueue,
	}, svc, nil, idx, logger)
	defer srv.Close()

	ctx, cancel := signalContext()
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)

	if cfg.Listen.TCP != "" {
		tl, err := tcpio.Listen(cfg.Listen.TCP, func(conn net.Conn) {
			defer conn.Close()
			srv.HandleConn(conn)
		}, logger)
		if err != nil {
			logger.Fatalf("tcp listen: %v", err)
		}
		logger.Printf("listening on %s", tl.Addr())
		eg.Go(func() error { return tl.Serve(ctx) })
	}

	if cfg.Listen.WS != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
			rw.WriteHeader(200)
			_, _ = rw.Write([]byte("ok"))
		})
		bridge := wsbridge.NewServer(func(conn *wsbridge.Conn) {
			srv.HandleConn(conn)
		}, logger)
		mux.HandleFunc("/v1/ws", bridge.Handler())

		hs := &http.Server{
			Addr:              cfg.Listen.WS,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		eg.Go(func() error {
			<-ctx.Done()
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			return hs.Shutdown(ctx2)
		})
		eg.Go(func() error {
			logger.Printf("websocket bridge on %s", cfg.Listen.WS)
			if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		logger.Fatalf("serve: %v", err)
	}
	logger.Printf("draining sessions")
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
