package main

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"okuri/internal/cache"
	"okuri/internal/config"
	"okuri/internal/handler"
	"okuri/internal/middleware"
	"okuri/internal/repository"
	"okuri/internal/service"
	"okuri/internal/service/auth"
	"okuri/internal/service/family"
	"okuri/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()

	db, err := config.NewPostgresDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	redisClient, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	store := cache.NewRedisStore(redisClient, cfg.CacheTTL)
	defer store.Close()

	minioClient, err := config.NewMinIOClient(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to MinIO: %v", err)
	}
	blobs := storage.NewMinIOStore(minioClient, cfg)

	repos := repository.NewRepositories(db)
	services := service.NewServices(repos, store, blobs, cfg)
	handlers := handler.NewHandlers(services)

	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/health"
		},
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, PATCH, DELETE, OPTIONS",
	}))

	setupRoutes(app, handlers, services.Auth, services.Family)

	log.Printf("Server starting on port %s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func setupRoutes(app *fiber.App, h *handler.Handlers, authService auth.Service, familyService family.Service) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1 := app.Group("/api/v1")

	authRoutes := v1.Group("/auth")
	authRoutes.Post("/register", h.Auth.Register)
	authRoutes.Post("/login", h.Auth.Login)
	authRoutes.Post("/refresh", h.Auth.RefreshToken)
	authRoutes.Post("/sign-out", h.Auth.SignOut)
	authRoutes.Post("/forgot-password", h.Auth.ForgotPassword)
	authRoutes.Post("/reset-password", h.Auth.ResetPassword)

	protected := v1.Group("", middleware.AuthRequired(authService))

	users := protected.Group("/users")
	users.Get("/me", h.User.GetProfile)
	users.Put("/me", h.User.UpdateProfile)
	users.Post("/me/avatar", h.User.UploadAvatar)

	protected.Get("/bootstrap", h.Family.Bootstrap)

	families := protected.Group("/families")
	families.Post("/", h.Family.Create)
	families.Post("/join", h.Family.Join)

	scoped := families.Group("/:familyId", middleware.FamilyMemberRequired(familyService))
	scoped.Get("/", h.Family.Get)
	scoped.Put("/", h.Family.Update)
	scoped.Delete("/", h.Family.Delete)
	scoped.Post("/select", h.Family.Select)
	scoped.Post("/cover", h.Family.UploadCover)
	scoped.Post("/invite-code", h.Family.RegenerateInviteCode)
	scoped.Post("/invite", h.Family.SendInvite)

	members := scoped.Group("/members")
	members.Get("/", h.Family.Members)
	members.Put("/me", h.Family.UpdateMember)
	members.Post("/me/avatar", h.Family.UploadMemberAvatar)
	members.Delete("/me", h.Family.Leave)
	members.Post("/:userId/admin", h.Family.GrantAdmin)
	members.Delete("/:userId", h.Family.RemoveMember)

	posts := scoped.Group("/posts")
	posts.Get("/", h.Post.Feed)
	posts.Post("/", h.Post.Create)
	posts.Get("/:postId", h.Post.Get)
	posts.Put("/:postId", h.Post.Update)
	posts.Delete("/:postId", h.Post.Delete)
	posts.Post("/:postId/like", h.Post.ToggleLike)

	comments := posts.Group("/:postId/comments")
	comments.Get("/", h.Comment.List)
	comments.Post("/", h.Comment.Create)
	comments.Put("/:commentId", h.Comment.Update)
	comments.Delete("/:commentId", h.Comment.Delete)
}
