package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/authkit/credential-session-service/internal/health"
	"github.com/authkit/credential-session-service/internal/http/handler"
	"github.com/authkit/credential-session-service/internal/http/middleware"
	"github.com/authkit/credential-session-service/internal/http/response"
	"github.com/authkit/credential-session-service/internal/security"
)

type Dependencies struct {
	AuthHandler  *handler.AuthHandler
	UserHandler  *handler.UserHandler
	AdminHandler *handler.AdminHandler
	JWTManager   *security.JWTManager

	CORSOrigins                []string
	APIRateLimitRPM            int
	AuthRateLimitRPM           int
	PasswordForgotRateLimitRPM int

	Readiness      *health.ProbeRunner
	EnableOTelHTTP bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))
	r.Use(middleware.NewRateLimiterWithKey("api", dep.APIRateLimitRPM, middleware.SubjectOrIPKeyFunc(dep.JWTManager)).Middleware())

	authLimiter := middleware.NewRateLimiter("auth", dep.AuthRateLimitRPM).Middleware()
	forgotLimiter := middleware.NewRateLimiter("password_forgot", dep.PasswordForgotRateLimitRPM).Middleware()
	authn := middleware.AuthMiddleware(dep.JWTManager)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, response.CodeDependencyUnread, "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(authLimiter).Post("/register", dep.AuthHandler.Register)
			r.With(authLimiter).Post("/login", dep.AuthHandler.Login)
			r.With(authLimiter).Post("/verify-email", dep.AuthHandler.VerifyEmail)
			r.With(authLimiter).Post("/resend-verification", dep.AuthHandler.ResendVerification)
			r.Group(func(r chi.Router) {
				r.Use(middleware.CSRFMiddleware)
				r.With(authLimiter).Post("/refresh", dep.AuthHandler.Refresh)
				r.Post("/logout", dep.AuthHandler.Logout)
				r.With(authn).Post("/logout-all", dep.AuthHandler.LogoutAll)
			})
		})

		r.Route("/password", func(r chi.Router) {
			r.With(forgotLimiter).Post("/forgot", dep.AuthHandler.ForgotPassword)
			r.With(authLimiter).Post("/reset", dep.AuthHandler.ResetPassword)
			r.With(authn, middleware.CSRFMiddleware, authLimiter).Post("/change", dep.AuthHandler.ChangePassword)
		})

		r.Route("/me", func(r chi.Router) {
			r.Use(authn)
			r.Get("/", dep.UserHandler.Me)
			r.Get("/sessions", dep.UserHandler.Sessions)
			r.Group(func(r chi.Router) {
				r.Use(middleware.CSRFMiddleware)
				r.Patch("/", dep.UserHandler.UpdateMe)
				r.Delete("/", dep.UserHandler.DeleteMe)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(authn)
			r.Use(middleware.RequireSuperuser)
			r.Get("/users", dep.AdminHandler.ListUsers)
			r.Get("/users/{id}", dep.AdminHandler.GetUser)
			r.Patch("/users/{id}", dep.AdminHandler.UpdateUser)
			r.Delete("/users/{id}", dep.AdminHandler.DeleteUser)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
