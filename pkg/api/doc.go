// Package api is the caregate HTTP surface.
//
// NewServer wires the session service, the permission engine and tenant
// administration behind a gorilla/mux router:
//
//	POST   /auth/login                                   rate limited per client IP
//	POST   /auth/refresh-token                           refresh token
//	POST   /auth/logout                                  access token
//	GET    /auth/me                                      access token
//	GET    /hospitals/{hospital_id}/permissions/me       access token
//	POST   /hospitals/{hospital_id}/doctors              hospital.doctor.create
//	DELETE /hospitals/{hospital_id}/doctors/{user_id}    hospital.doctor.delete
//	PUT    /hospitals/{hospital_id}/roles/{role_id}/permissions  hospital.role.update
//	POST   /users/{user_id}/permissions                  superadmin
//	DELETE /users/{user_id}/permissions                  superadmin
//	PUT    /roles/{role_id}/permissions                  superadmin
//	GET    /health, /health/live, /health/ready
//	GET    /metrics
//
// Every request gets a request id, structured request logging, panic
// recovery and an otelhttp server span. Errors are written through
// httputil.WriteError, so 5xx bodies never carry internal detail.
package api
