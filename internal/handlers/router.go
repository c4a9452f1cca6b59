package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/karigar/karigar/internal/middleware"
	"github.com/sirupsen/logrus"
)

func NewRouter(
	authHandlers *AuthHandlers,
	applicationHandlers *ApplicationHandlers,
	webhookHandlers *WebhookHandlers,
	authMiddleware *middleware.AuthMiddleware,
	logger *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]interface{}{"success": true, "status": "ok"})
	}).Methods("GET", "OPTIONS")

	api := router.PathPrefix("/api/v1").Subrouter()

	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/send-otp", authHandlers.SendOTP).Methods("POST", "OPTIONS")
	auth.HandleFunc("/verify-otp", authHandlers.VerifyOTP).Methods("POST", "OPTIONS")
	auth.HandleFunc("/register", authHandlers.Register).Methods("POST", "OPTIONS")
	auth.HandleFunc("/refresh", authHandlers.RefreshToken).Methods("POST", "OPTIONS")
	auth.Handle("/logout", authMiddleware.RequireAuth(http.HandlerFunc(authHandlers.Logout))).Methods("POST", "OPTIONS")
	auth.Handle("/me", authMiddleware.RequireAuth(http.HandlerFunc(authHandlers.Me))).Methods("GET")

	webhooks := api.PathPrefix("/webhooks").Subrouter()
	webhooks.HandleFunc("/application-status", webhookHandlers.ApplicationStatus).Methods("POST", "OPTIONS")
	webhooks.HandleFunc("/application-status", webhookHandlers.Challenge).Methods("GET")

	apps := api.PathPrefix("/applications").Subrouter()
	apps.Use(authMiddleware.RequireAuth)
	apps.HandleFunc("", applicationHandlers.Submit).Methods("POST", "OPTIONS")
	apps.HandleFunc("", applicationHandlers.List).Methods("GET")
	apps.HandleFunc("/{id}", applicationHandlers.Get).Methods("GET")
	apps.HandleFunc("/{id}/timeline", applicationHandlers.Timeline).Methods("GET")

	return router
}
