package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/cors"

	"github.com/dukerupert/famhabit/internal/archive"
	"github.com/dukerupert/famhabit/internal/auth"
	"github.com/dukerupert/famhabit/internal/config"
	"github.com/dukerupert/famhabit/internal/family"
	"github.com/dukerupert/famhabit/internal/handler"
	"github.com/dukerupert/famhabit/internal/ledger"
	"github.com/dukerupert/famhabit/internal/middleware"
	"github.com/dukerupert/famhabit/internal/notify"
	"github.com/dukerupert/famhabit/internal/push"
	"github.com/dukerupert/famhabit/internal/shop"
	"github.com/dukerupert/famhabit/internal/store"
	"github.com/dukerupert/famhabit/internal/task"
	ws "github.com/dukerupert/famhabit/internal/websocket"
)

const (
	registerLimit = 10
	purchaseLimit = 20
	limitWindow   = time.Minute
)

type Server struct {
	db            *sql.DB
	cfg           *config.Config
	hub           *ws.Hub
	dispatcher    *notify.Dispatcher
	tokens        *auth.Tokens
	families      *family.Service
	authH         *handler.AuthHandler
	familyH       *handler.FamilyHandler
	taskH         *handler.TaskHandler
	pointsH       *handler.PointsHandler
	shopH         *handler.ShopHandler
	pushH         *handler.PushHandler
	rateLimiter   *middleware.RateLimiter
	pushScheduler *push.Scheduler
	archiver      *archive.Archiver
	logger        *slog.Logger
}

func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger)

	familyStore := store.NewFamilyStore(db)
	taskStore := store.NewTaskStore(db)
	ledgerStore := store.NewLedgerStore(db)
	shopStore := store.NewShopStore(db)
	pushStore := store.NewPushStore(db)
	archiveStore := store.NewArchiveStore(db)

	// Push is optional; without VAPID keys events still reach the websocket feed.
	pushSvc := push.NewService(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubject)
	var sender push.Sender
	var pushSched *push.Scheduler
	if pushSvc.Enabled() {
		sender = pushSvc
		if cfg.ReminderAfter > 0 {
			pushSched = push.NewScheduler(pushSvc, pushStore, taskStore, cfg.ReminderAfter, logger)
		}
	}
	dispatcher := notify.NewDispatcher(hub, sender, pushStore, logger)

	tokens := auth.NewTokens(cfg.TokenSecret, cfg.TokenTTL)
	families := family.NewService(db, familyStore, logger.With("component", "family"))
	ledgerEng := ledger.NewEngine(db, ledgerStore, cfg.Rewards.MaxAdjust, dispatcher, logger.With("component", "ledger"))
	taskEng := task.NewEngine(db, taskStore, familyStore, ledgerEng, cfg.Rewards, dispatcher, logger.With("component", "task"))
	shopEng := shop.NewEngine(db, shopStore, familyStore, ledgerEng, dispatcher, logger.With("component", "shop"))

	return &Server{
		db:            db,
		cfg:           cfg,
		hub:           hub,
		dispatcher:    dispatcher,
		tokens:        tokens,
		families:      families,
		authH:         handler.NewAuthHandler(families, tokens, cfg.RegistrationKey, logger.With("component", "auth_handler")),
		familyH:       handler.NewFamilyHandler(families, logger.With("component", "family_handler")),
		taskH:         handler.NewTaskHandler(taskEng, families, logger.With("component", "task_handler")),
		pointsH:       handler.NewPointsHandler(ledgerEng, families, logger.With("component", "points_handler")),
		shopH:         handler.NewShopHandler(shopEng, families, logger.With("component", "shop_handler")),
		pushH:         handler.NewPushHandler(pushStore, pushSvc, logger.With("component", "push_handler")),
		rateLimiter:   middleware.NewRateLimiter(),
		pushScheduler: pushSched,
		archiver:      archive.New(cfg.S3, ledgerStore, archiveStore, logger),
		logger:        logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// PushScheduler returns the approval reminder scheduler, or nil when push
// or reminders are disabled.
func (s *Server) PushScheduler() *push.Scheduler {
	return s.pushScheduler
}

// Archiver returns the ledger archiver.
func (s *Server) Archiver() *archive.Archiver {
	return s.archiver
}

// Dispatcher returns the event dispatcher so shutdown can wait for
// in-flight push deliveries.
func (s *Server) Dispatcher() *notify.Dispatcher {
	return s.dispatcher
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.Handle("POST /api/register", s.rateLimited("register", middleware.RealIP, registerLimit, http.HandlerFunc(s.authH.Register)))

	// Protected routes, wrapped with RequireAuth middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.tokens, s.families, s.logger.With("component", "auth"))
	outerMux.Handle("/", authMiddleware(protectedMux))

	corsMiddleware := cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Registration-Key", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader, "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           300,
	})

	logged := middleware.RequestLogger(s.logger.With("component", "http"))(corsMiddleware(outerMux))
	return middleware.RequestID(logged)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (s *Server) rateLimited(scope string, keyFunc func(*http.Request) string, limit int, h http.Handler) http.Handler {
	return middleware.RateLimit(s.rateLimiter, scope, keyFunc, limit, limitWindow)(h)
}

func guardian(h http.HandlerFunc) http.Handler  { return middleware.RequireGuardian(h) }
func dependent(h http.HandlerFunc) http.Handler { return middleware.RequireDependent(h) }

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Identity and family
	mux.HandleFunc("GET /api/me", s.authH.Me)
	mux.Handle("GET /api/family/stats", guardian(s.familyH.Stats))
	mux.Handle("POST /api/guardians", guardian(s.familyH.AddGuardian))
	mux.Handle("GET /api/dependents", guardian(s.familyH.ListDependents))
	mux.Handle("POST /api/dependents", guardian(s.familyH.AddDependent))
	mux.Handle("GET /api/dependents/{id}", guardian(s.familyH.GetDependent))
	mux.Handle("PUT /api/dependents/{id}", guardian(s.familyH.UpdateDependent))
	mux.Handle("DELETE /api/dependents/{id}", guardian(s.familyH.DeactivateDependent))
	mux.Handle("POST /api/dependents/{id}/token", guardian(s.authH.DependentToken))
	mux.Handle("POST /api/dependents/{id}/pin", guardian(s.familyH.SetPIN))
	mux.Handle("DELETE /api/dependents/{id}/pin", guardian(s.familyH.ClearPIN))

	// Tasks
	mux.HandleFunc("GET /api/tasks", s.taskH.List)
	mux.Handle("POST /api/tasks", guardian(s.taskH.Create))
	mux.Handle("GET /api/tasks/pending", guardian(s.taskH.Pending))
	mux.HandleFunc("GET /api/tasks/{id}", s.taskH.Get)
	mux.Handle("PUT /api/tasks/{id}", guardian(s.taskH.Update))
	mux.HandleFunc("GET /api/tasks/{id}/submissions", s.taskH.Submissions)
	mux.Handle("POST /api/tasks/{id}/submit", dependent(s.taskH.Submit))
	mux.Handle("POST /api/tasks/{id}/approve", guardian(s.taskH.Approve))
	mux.Handle("POST /api/tasks/{id}/reject", guardian(s.taskH.Reject))

	// Points
	mux.HandleFunc("GET /api/points/balance", s.pointsH.Balance)
	mux.HandleFunc("GET /api/points/ledger", s.pointsH.Ledger)
	mux.HandleFunc("GET /api/points/stats", s.pointsH.Stats)
	mux.Handle("GET /api/points/verify", guardian(s.pointsH.Verify))
	mux.Handle("POST /api/points/adjust", guardian(s.pointsH.Adjust))

	// Shop
	mux.HandleFunc("GET /api/shop/items", s.shopH.Items)
	mux.Handle("POST /api/shop/items", guardian(s.shopH.CreateItem))
	mux.Handle("PUT /api/shop/items/{id}", guardian(s.shopH.UpdateItem))
	mux.Handle("POST /api/shop/purchase", s.rateLimited("purchase", middleware.ByIdentity, purchaseLimit, dependent(s.shopH.Purchase)))
	mux.HandleFunc("GET /api/shop/purchases", s.shopH.Purchases)

	// Push
	mux.Handle("GET /api/push/vapid-key", guardian(s.pushH.GetVAPIDKey))
	mux.Handle("POST /api/push/subscribe", guardian(s.pushH.Subscribe))
	mux.Handle("GET /api/push/subscriptions", guardian(s.pushH.ListSubscriptions))
	mux.Handle("DELETE /api/push/subscriptions/{id}", guardian(s.pushH.Unsubscribe))

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, originHosts(s.cfg.AllowedOrigins), s.logger.With("component", "websocket")))
}

// originHosts turns configured CORS origins into the host patterns the
// websocket accept check matches against.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
			continue
		}
		hosts = append(hosts, o)
	}
	return hosts
}
