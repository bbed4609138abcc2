// Command synctv-node wires together one node of the SyncTV distributed
// watch-party/live-streaming core: Redis-backed pub/sub and registries,
// Postgres-backed settings, the RTMP publish-authorization hook, the
// in-process stream hub and its GOP/HLS/pull-stream satellites, the
// kick/lifecycle propagation loop, and the viewer-facing HTTP-FLV/HLS
// serving surface. Modeled on the teacher's cmd/v1/session/main.go (env
// loading, hub construction, graceful shutdown) but without Gin: the
// cross-node gRPC **server** registration is out of scope (no generated
// stubs to register), so this entrypoint speaks gRPC only as a client
// (internal/relay, internal/cluster) and exposes viewers a plain
// net/http.ServeMux instead of a full router.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/synctv-org/synctv-core/internal/bus"
	"github.com/synctv-org/synctv-core/internal/cache"
	"github.com/synctv-org/synctv-core/internal/config"
	"github.com/synctv-org/synctv-core/internal/fanout"
	"github.com/synctv-org/synctv-core/internal/gop"
	"github.com/synctv-org/synctv-core/internal/hls"
	"github.com/synctv-org/synctv-core/internal/httpmedia"
	"github.com/synctv-org/synctv-core/internal/invalidation"
	"github.com/synctv-org/synctv-core/internal/kick"
	"github.com/synctv-org/synctv-core/internal/logging"
	"github.com/synctv-org/synctv-core/internal/middleware"
	"github.com/synctv-org/synctv-core/internal/noderegistry"
	"github.com/synctv-org/synctv-core/internal/publisher"
	"github.com/synctv-org/synctv-core/internal/pull"
	"github.com/synctv-org/synctv-core/internal/redisadapter"
	"github.com/synctv-org/synctv-core/internal/relay"
	"github.com/synctv-org/synctv-core/internal/roomstore"
	"github.com/synctv-org/synctv-core/internal/rtmpingest"
	"github.com/synctv-org/synctv-core/internal/settings"
	"github.com/synctv-org/synctv-core/internal/streamhub"
)

func main() {
	if err := godotenv.Load(); err != nil {
		zap.L().Debug("no .env file found, relying on process environment")
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		fmt.Fprintln(os.Stderr, "logging init:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithNodeID(ctx, cfg.NodeID)

	logging.Info(ctx, "starting synctv-core node")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer redisClient.Close()

	db, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	if err != nil {
		logging.Error(ctx, "failed to connect to postgres", zap.Error(err))
		os.Exit(1)
	}

	// --- C1/C2/C3/C4/C5/C6/C7: dedup, fanout, pub/sub bridge, invalidation,
	// caches, node registry, publisher registry ---
	fanoutHub := fanout.New(1024)

	invalBus := invalidation.New(cfg.KeyPrefix, redisadapter.New(redisClient))
	defer invalBus.Shutdown(context.Background())

	// permCache holds this node's local view of room/user permission grants
	// (C5's two-tier cache, instantiated for the one consumer this core
	// actually has today: the invalidation side, not a permission-read
	// path). invalPermInvalidator forwards permission_changed/
	// room_settings_changed events observed on C3 into C4's broadcast, and
	// the loop below drains C4 back into this node's own L1 so a peer's
	// permission change evicts the hot entry here too (I4, scenario S5).
	permCache := cache.New[bool]("permission", 5*time.Minute, 10*time.Minute, redisClient, cfg.KeyPrefix+":perm", 5*time.Minute)
	permInvalidator := newInvalPermInvalidator(invalBus)

	go func() {
		for msg := range invalBus.Subscribe(64) {
			switch msg.Kind {
			case invalidation.KindUserPermission:
				permCache.InvalidateByID(permissionCacheKey(msg.RoomID, msg.UserID))
			case invalidation.KindRoomPermission:
				permCache.InvalidateByID(permissionCacheKey(msg.RoomID, ""))
			}
		}
	}()

	pubsub, err := bus.New(bus.Config{
		NodeID:        cfg.NodeID,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		KeyPrefix:     cfg.KeyPrefix,
		DedupWindow:   cfg.DedupWindow,
		DedupCleanup:  cfg.DedupCleanup,
		RateLimitChat: cfg.RateLimitChat,
	}, fanoutHub, permInvalidator)
	if err != nil {
		logging.Error(ctx, "failed to start pub/sub bridge", zap.Error(err))
		os.Exit(1)
	}
	defer pubsub.Shutdown(context.Background())

	nodes := noderegistry.New(redisClient, cfg.KeyPrefix, cfg.NodeTTL)
	if err := nodes.RegisterLocal(ctx, noderegistry.Info{
		NodeID: cfg.NodeID, Address: cfg.HTTPListenAddr, GRPCAddr: cfg.GRPCListenAddr, StartedAt: time.Now(),
	}); err != nil {
		logging.Warn(ctx, "failed to register node", zap.Error(err))
	}
	go runHeartbeatLoop(ctx, nodes, cfg)

	publishers := publisher.New(redisClient, cfg.KeyPrefix, cfg.PublisherTTL)

	// --- C14: settings runtime ---
	settingsStorage := settings.NewStorage(db)
	if err := settingsStorage.Initialize(ctx); err != nil {
		logging.Warn(ctx, "failed to load settings from database", zap.Error(err))
	}
	vars := settings.NewVars(settingsStorage)
	settingsListener := settings.NewListener(cfg.PostgresDSN, settingsStorage)
	settingsListener.Start()
	defer settingsListener.Shutdown(context.Background())

	// --- C8/C9/C10: RTMP ingest, GOP cache, stream hub ---
	hub := streamhub.New()
	stores := roomstore.New(db)
	verifier := rtmpingest.NewTokenVerifier(cfg.JWTPublishSecret)
	ingest := rtmpingest.NewService(cfg.NodeID, verifier, stores, stores, stores, publishers, hub, pubsub.Broadcast)

	gopCache := gop.New(hub, 256, cfg.PullIdleTimeout, cfg.PullCheckPeriod)
	defer gopCache.Close(context.Background())

	// --- C11: pull-stream manager, backed by the cross-node relay client ---
	pullManager := pull.New(hub, publishers, relay.Puller{}, cfg.NodeID, cfg.PullIdleTimeout, cfg.PullCheckPeriod)

	// --- C12: HLS remux & storage ---
	hlsStorage, err := hls.NewFSStorage(os.TempDir() + "/synctv-hls")
	if err != nil {
		logging.Error(ctx, "failed to initialize HLS storage", zap.Error(err))
		os.Exit(1)
	}
	segmenters := httpmedia.NewSegmenterRegistry(hlsStorage, time.Duration(cfg.HLSSegmentSecs)*time.Second, cfg.HLSWindowSize)
	hub.OnFrame(func(id streamhub.Identifier, frame streamhub.Frame) {
		segmenters.ForStream(id).OnFrame(context.Background(), frame)
	})

	// --- C13: kick & lifecycle propagation. Issuer (BanUser/DeleteRoom/
	// DeleteMedia/PermissionChanged) is the admin side of this component;
	// it has no caller here since the admin REST/gRPC surface that would
	// invoke it is out of scope (see package doc above). Listener is the
	// receiving side every node needs regardless of which node an admin
	// action originated from, so it's wired unconditionally.
	listener := kick.NewListener(ingest, ingest.Tracker())
	adminEvents := pubsub.SubscribeAdminEvents(64)
	go func() {
		for event := range adminEvents {
			listener.HandleAdminEvent(ctx, event)
		}
	}()

	// --- Chat retention cleanup, keyed off the hot-reloadable setting ---
	go settings.RunChatCleanupLoop(ctx, vars, stores, time.Hour)

	// --- C10/C12: viewer-facing HTTP-FLV and HLS serving surface ---
	flvHandler := httpmedia.NewFLVHandler(hub, pullManager)
	hlsHandler := httpmedia.NewHLSHandler(hlsStorage, segmenters)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/live/flv/{room}/{media}", flvHandler)
	mux.HandleFunc("/hls/{room}/{media}/playlist.m3u8", hlsHandler.ServePlaylist)
	mux.HandleFunc("/hls/{room}/{media}/{segment}", hlsHandler.ServeSegment)
	srv := &http.Server{Addr: cfg.HTTPListenAddr, Handler: middleware.CorrelationID(mux)}

	go func() {
		logging.Info(ctx, "http server listening", zap.String("addr", cfg.HTTPListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logging.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn(shutdownCtx, "http server shutdown error", zap.Error(err))
	}
	if err := nodes.UnregisterRemote(shutdownCtx, cfg.NodeID); err != nil {
		logging.Warn(shutdownCtx, "failed to deregister node", zap.Error(err))
	}
	logging.Info(context.Background(), "shutdown complete")
}

func runHeartbeatLoop(ctx context.Context, nodes *noderegistry.Registry, cfg *config.Config) {
	interval := cfg.NodeTTL / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := nodes.HeartbeatRemote(ctx, cfg.NodeID); err != nil {
				logging.Warn(ctx, "node heartbeat failed", zap.Error(err))
			}
		}
	}
}

// invalPermInvalidator satisfies bus.PermissionInvalidator by forwarding
// permission_changed/room_settings_changed events observed on C3 (the room
// event bridge) into C4 (the cache invalidation bus): the node that
// received the event on the room channel already has nothing cached for it
// locally to drop, but every node subscribed to C4 — including this one,
// via the drain loop in main() — does.
type invalPermInvalidator struct {
	bus *invalidation.Bus
}

func newInvalPermInvalidator(bus *invalidation.Bus) *invalPermInvalidator {
	return &invalPermInvalidator{bus: bus}
}

func (p *invalPermInvalidator) InvalidateRoomPermission(ctx context.Context, roomID string) {
	if err := p.bus.InvalidateRoomPermission(ctx, roomID); err != nil {
		logging.Warn(ctx, "failed to broadcast room permission invalidation", zap.Error(err), zap.String("room_id", roomID))
	}
}

func (p *invalPermInvalidator) InvalidateUserPermission(ctx context.Context, roomID, userID string) {
	if err := p.bus.InvalidateUserPermission(ctx, roomID, userID); err != nil {
		logging.Warn(ctx, "failed to broadcast user permission invalidation", zap.Error(err), zap.String("room_id", roomID), zap.String("user_id", userID))
	}
}

// permissionCacheKey is the L1 key permCache is indexed by. A bare roomID
// (empty userID) invalidates the room-level entry only; per-user fan-out
// across every member of a room isn't tracked here, since nothing in this
// core's scope enumerates room membership from the node process.
func permissionCacheKey(roomID, userID string) string {
	return roomID + ":" + userID
}
