package server

/*
Пакет server — HTTP-периметр подсистемы экстренного доступа.
Пять операций: activate / deactivate / status / decode / monitor,
плюс надзорные выгрузки (журнал аудита, история окон).

Два слоя защиты периметра: RS256 токен платформы (кто пришел) и скоупы
операций (что ему можно). Третий слой — Authorization Gate — живет глубже,
в момент активации.
*/

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ndjobi-platform/emergency-access/internal/domain"
	"github.com/ndjobi-platform/emergency-access/internal/infra/auth"
)

type Server struct {
	router *chi.Mux
	logger *zap.Logger

	// Проверка RS256 токенов платформы
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	emergencyHandler *EmergencyHandler // /v1/emergency/*
	auditHandler     *AuditHandler     // /v1/audit, /v1/activations
}

// NewServer инициализирует периметр со всеми зависимостями
func NewServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	emergencyH *EmergencyHandler,
	auditH *AuditHandler,
) *Server {
	s := &Server{
		router:           chi.NewRouter(),
		logger:           logger.Named("emergency-api"),
		authValidator:    validator,
		emergencyHandler: emergencyH,
		auditHandler:     auditH,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (RS256 токен платформы) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		r.Route("/v1/emergency", func(r chi.Router) {
			// Статус окна доступен любому аутентифицированному оператору
			r.Get("/status", s.emergencyHandler.Status)

			// Активация/деактивация — только носителю скоупа
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireScope(domain.ScopeActivate, s.logger))
				r.Post("/activate", s.emergencyHandler.Activate)
				r.Post("/deactivate", s.emergencyHandler.Deactivate)
			})

			// Деанонимизация субъекта
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireScope(domain.ScopeDecode, s.logger))
				r.Post("/decode/{subjectID}", s.emergencyHandler.Decode)
			})

			// Аудиомониторинг
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireScope(domain.ScopeMonitor, s.logger))
				r.Post("/monitor/{subjectID}", s.emergencyHandler.StartMonitor)
				r.Post("/monitor/{recordingID}/stop", s.emergencyHandler.StopMonitor)
			})
		})

		// Надзорные выгрузки (журнал + история окон)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(domain.ScopeAudit, s.logger))
			r.Get("/v1/audit", s.auditHandler.ListEvents)
			r.Get("/v1/activations", s.auditHandler.ListActivations)
		})
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
