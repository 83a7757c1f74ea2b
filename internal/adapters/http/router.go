package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/application"
)

// Handler is the HTTP adapter entrypoint for gating use-cases.
// Keeping only the application dependency here preserves clean adapter boundaries.
type Handler struct {
	service      *application.Service
	cookieSecure bool
}

// NewHandler constructs an HTTP handler bound to the application service.
func NewHandler(service *application.Service, cookieSecure bool) *Handler {
	return &Handler{service: service, cookieSecure: cookieSecure}
}

// NewRouter registers M04 HTTP routes and middleware stack.
// Centralizing routes here ensures consistent auth and error behavior across endpoints.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", handler.signup)
		r.Post("/login", handler.login)
		r.Post("/verify-otp", handler.verifyOTP)
		r.Post("/resend-otp", handler.resendOTP)
		r.Get("/check", handler.check)

		r.Group(func(r chi.Router) {
			r.Use(handler.authMiddleware)
			r.Post("/logout", handler.logout)
		})
	})

	r.Route("/user", func(r chi.Router) {
		r.Use(handler.authMiddleware)
		r.Get("/suspension-status", handler.suspensionStatus)
		r.Post("/pay-reactivation-fee", handler.payReactivationFee)
	})

	r.Route("/kyc", func(r chi.Router) {
		r.Use(handler.authMiddleware)
		r.Post("/create-payment", handler.kycCreatePayment)
		r.Post("/verify-payment", handler.kycVerifyPayment)
	})

	return r
}
