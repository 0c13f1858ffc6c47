package server

import (
	"github.com/RitwikMittal/KeraRoutes/internal/auth"
	"github.com/RitwikMittal/KeraRoutes/internal/config"
	"github.com/RitwikMittal/KeraRoutes/internal/live"
	"github.com/RitwikMittal/KeraRoutes/internal/store"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App   *fiber.App
	Cfg   config.Config
	DB    *pgxpool.Pool
	Redis *redis.Client
	Live  *live.Registry
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:   app,
		Cfg:   cfg,
		DB:    db,
		Redis: redisClient,
		Live:  live.NewRegistry(redisClient),
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Without a database the ping window degrades to in-memory only.
	var pings store.PingStore = store.NewMemory()
	if s.DB != nil {
		pings = store.NewPostgres(s.DB)
	}
	pipeline := live.NewPipeline(pings, s.Live)

	live.RegisterRoutes(s.App.Group("/ws"), s.Live, pipeline)

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)
	registerNotifyRoutes(s.App.Group("/internal/events", jwtMiddleware), s.Live)
	registerSegmentRoutes(s.App.Group("/internal/trips", jwtMiddleware), s.Cfg)
}

// Close releases live-session resources. The fiber app is shut down by the
// caller.
func (s *Server) Close() {
	s.Live.Close()
}
