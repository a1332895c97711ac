// Package middleware provides HTTP middleware for authentication, authorization, and rate limiting.
//
// # Middleware Components
//
// AuthMiddleware: bearer token authentication
//
//	authMW := middleware.NewAuthMiddleware(verifier, metrics)
//	router.Handle("/auth/me", authMW.Handler(meHandler))
//	router.Handle("/auth/refresh-token", authMW.RefreshHandler(refreshHandler))
//
// A request passes through decode, token type, revocation and subject
// checks in that order. Any failure is a 401 and the handler never runs.
//
// PermissionMiddleware: named-permission and global role guards
//
//	guard := middleware.NewPermissionMiddleware(checker, audit, metrics)
//	router.Handle("/hospitals/{hospital_id}/doctors",
//	    authMW.Handler(guard.Require("hospital.doctor.create")(h)))
//
// The hospital is taken from the hospital_id path variable or query
// parameter. Without one the check runs in platform context.
//
// RateLimiter: per-IP token bucket for the login endpoint
//
//	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
//	router.Handle("/auth/login", limiter.Handler(loginHandler))
//
// Prune should be called periodically to drop idle clients.
package middleware
