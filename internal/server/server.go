package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"backend-fieldtrack/internal/auth"
	"backend-fieldtrack/internal/buffer"
	"backend-fieldtrack/internal/config"
	"backend-fieldtrack/internal/db"
	"backend-fieldtrack/internal/geocode"
	"backend-fieldtrack/internal/session"
	"backend-fieldtrack/internal/stream"
	"backend-fieldtrack/internal/syncgw"
	"backend-fieldtrack/internal/tracking"
)

type Deps struct {
	Config config.Config
	DB     db.Querier
	Redis  *redis.Client
	Buffer *buffer.Buffer
	Log    zerolog.Logger
}

// Server assembles the HTTP surface and the long-running collaborators the
// entrypoint needs handles on.
type Server struct {
	App      *fiber.App
	Registry *session.Registry
	Gateway  *syncgw.Gateway
	Hub      *stream.Hub
}

func New(deps Deps) *Server {
	cfg := deps.Config

	store := session.NewPgStore(deps.DB)
	geocoder := geocode.NewClient(cfg.GeocodeURL, deps.Log)
	hub := stream.NewHub(deps.Redis, deps.Log)

	registry := session.NewRegistry(session.RegistryDeps{
		Store:    store,
		Events:   deps.Buffer,
		Live:     hub,
		Fences:   geocoder,
		Resolver: geocoder,
		Dwell:    cfg.CadenceDwell,
		Log:      deps.Log,
	})

	gateway := syncgw.New(syncgw.Config{
		URL:       cfg.SyncURL,
		Interval:  cfg.SyncInterval,
		BatchSize: cfg.SyncBatch,
	}, deps.Buffer, deps.Log)

	authSvc := auth.NewService(deps.DB, cfg.JWTSecret)
	trackingSvc := tracking.NewService(registry, store, geocoder, deps.Log)

	app := fiber.New(fiber.Config{
		AppName:               "fieldtrack",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	registerRoutes(app, authSvc, trackingSvc, hub)

	return &Server{
		App:      app,
		Registry: registry,
		Gateway:  gateway,
		Hub:      hub,
	}
}

func registerRoutes(app *fiber.App, authSvc *auth.Service, trackingSvc *tracking.Service, hub *stream.Hub) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	auth.NewHandler(authSvc).RegisterRoutes(app.Group("/auth"))

	protected := app.Group("/tracking", auth.JWTMiddleware(authSvc))
	tracking.NewHandler(trackingSvc).RegisterRoutes(protected)

	ws := app.Group("/stream", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	stream.RegisterRoutes(ws, hub)
}
