package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"market-core/internal/config"
	"market-core/internal/domain"
	custommiddleware "market-core/internal/middleware"
	"market-core/internal/service"
	"market-core/internal/storage"
	"market-core/internal/transport"
)

type Server struct {
	*http.Server
	config   *config.Config
	logger   *zap.Logger
	store    storage.Adapter
	identity service.IdentityService
}

func NewServer(cfg *config.Config, logger *zap.Logger, store storage.Adapter, redisClient *redis.Client) *Server {
	router := chi.NewRouter()

	for _, mw := range custommiddleware.DefaultMiddlewareStack() {
		router.Use(mw)
	}
	router.Use(custommiddleware.CORSMiddleware(nil, cfg.Server.Env == "development"))
	router.Use(custommiddleware.LoggingMiddleware(logger))
	router.Use(custommiddleware.ErrorHandlingMiddleware(logger))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Services. Order matters: the cart and catalog subscribe to identity
	// changes at construction time.
	identityService := service.NewIdentityService(store, cfg.JWT.Secret, cfg.JWT.AccessExpiry, logger)
	catalogService := service.NewCatalogService(store, identityService, logger)
	cartService := service.NewCartService(store, identityService, logger)
	orderService := service.NewOrderService(store, identityService, cartService, logger)

	authHandler := transport.NewAuthHandler(identityService, logger)
	productHandler := transport.NewProductHandler(catalogService, logger)
	cartHandler := transport.NewCartHandler(cartService, logger)
	orderHandler := transport.NewOrderHandler(orderService, logger)

	authMiddleware := custommiddleware.AuthMiddleware(identityService, logger)
	sellerOnly := custommiddleware.RequireRole([]string{domain.RoleSeller}, logger)

	// Auth endpoints take the brunt of credential stuffing; rate limit them
	// when redis is available.
	if redisClient != nil {
		limiter := custommiddleware.RateLimitMiddleware(redisClient, custommiddleware.RateLimitConfig{
			RequestsPerWindow: 20,
			Window:            time.Minute,
			KeyPrefix:         "ratelimit:auth",
		}, logger)
		authHandler.RegisterRoutes(router, authMiddleware, limiter)
	} else {
		authHandler.RegisterRoutes(router, authMiddleware)
	}

	productHandler.RegisterRoutes(router, authMiddleware, sellerOnly)
	cartHandler.RegisterRoutes(router, authMiddleware)
	orderHandler.RegisterRoutes(router, authMiddleware)

	return &Server{
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
			Handler:      router,
			IdleTimeout:  time.Minute,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		config:   cfg,
		logger:   logger,
		store:    store,
		identity: identityService,
	}
}

// Identity exposes the identity service so startup can restore any persisted
// session before the server begins listening.
func (s *Server) Identity() service.IdentityService {
	return s.identity
}

func (s *Server) Close() error {
	s.logger.Info("Closing server resources")

	if err := s.store.Close(); err != nil {
		s.logger.Error("Failed to close storage adapter", zap.Error(err))
	}

	s.logger.Sync()
	return nil
}
