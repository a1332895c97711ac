package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/platinummonkey/caregate/pkg/contextkeys"
	"github.com/platinummonkey/caregate/pkg/httputil"
	"github.com/platinummonkey/caregate/pkg/observability"
)

// AuditLogger writes security audit events as structured log entries
type AuditLogger struct {
	logger *observability.Logger
	now    func() time.Time
}

// NewAuditLogger creates an audit logger writing to logger
func NewAuditLogger(logger *observability.Logger) *AuditLogger {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &AuditLogger{logger: logger.WithField("audit", true), now: time.Now}
}

// LogAction records an audit event
func (al *AuditLogger) LogAction(ctx context.Context, log *AuditLog) error {
	if log.Action == "" {
		return fmt.Errorf("action is required")
	}
	if log.ResourceType == "" {
		return fmt.Errorf("resource_type is required")
	}
	if log.Status == "" {
		return fmt.Errorf("status is required")
	}
	log.CreatedAt = al.now().UTC()

	fields := map[string]interface{}{
		"action":        log.Action,
		"resource_type": log.ResourceType,
		"status":        log.Status,
		"created_at":    log.CreatedAt.Format(time.RFC3339),
	}
	if log.UserID != nil {
		fields["user_id"] = *log.UserID
	}
	if log.HospitalID != nil {
		fields["hospital_id"] = *log.HospitalID
	}
	if log.ResourceID != "" {
		fields["resource_id"] = log.ResourceID
	}
	if log.IPAddress != "" {
		fields["ip_address"] = log.IPAddress
	}
	if log.UserAgent != "" {
		fields["user_agent"] = log.UserAgent
	}
	if log.ErrorMessage != "" {
		fields["error_message"] = log.ErrorMessage
	}
	if requestID := contextkeys.GetRequestID(ctx); requestID != "" {
		fields["request_id"] = requestID
	}

	entry := al.logger.WithFields(fields)
	if log.Status == StatusSuccess {
		entry.Info("audit event")
	} else {
		entry.Warn("audit event")
	}
	return nil
}

// LogFromRequest records an audit event for r, taking the user from the
// request's auth context and the hospital from its hospital_id parameter.
func (al *AuditLogger) LogFromRequest(r *http.Request, action, resourceType, resourceID, status string, err error) error {
	log := &AuditLog{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IPAddress:    httputil.ClientIP(r),
		UserAgent:    r.UserAgent(),
		Status:       status,
		HospitalID:   httputil.OptionalID(r, "hospital_id"),
	}
	if err != nil {
		log.ErrorMessage = err.Error()
	}
	if ac, ok := r.Context().Value(contextkeys.AuthKey).(*AuthContext); ok && ac.UserID() > 0 {
		uid := ac.UserID()
		log.UserID = &uid
	}
	return al.LogAction(r.Context(), log)
}

// Audit actions
const (
	ActionLogin             = "auth.login"
	ActionLoginFailure      = "auth.login_failure"
	ActionRefresh           = "auth.refresh"
	ActionLogout            = "auth.logout"
	ActionPermissionGrant   = "permission.grant"
	ActionPermissionRevoke  = "permission.revoke"
	ActionDoctorAssign      = "hospital.doctor.assign"
	ActionDoctorRemove      = "hospital.doctor.remove"
	ActionRolePermissions   = "role.permissions.update"
	ActionAccessDenied      = "access.denied"
	ActionRateLimitExceeded = "ratelimit.exceeded"
)

// Audit resource types
const (
	ResourceSession      = "session"
	ResourceUser         = "user"
	ResourceHospitalRole = "hospital_role"
	ResourceGlobalRole   = "role"
)

// Status constants
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusDenied  = "denied"
)
