package rbac

import (
	"fmt"
	"strconv"
	"strings"
)

// globalScopeKey stands in for the hospital id in platform context
const globalScopeKey = "global"

func scopeSegment(hospitalID *int64) string {
	if hospitalID == nil {
		return globalScopeKey
	}
	return strconv.FormatInt(*hospitalID, 10)
}

// PermissionSetKey is the cache key of a resolved permission set
func PermissionSetKey(userID int64, hospitalID *int64) string {
	return fmt.Sprintf("user:%d:hospital:%s:perms", userID, scopeSegment(hospitalID))
}

// DecisionKey is the cache key of one guard decision. The required names are
// normalized and sorted so equivalent guards share an entry.
func DecisionKey(userID int64, hospitalID *int64, required []string) string {
	return fmt.Sprintf("permcheck:user:%d:hospital:%s:%s",
		userID, scopeSegment(hospitalID), strings.Join(normalizeRequired(required), ","))
}

func decisionScopePattern(userID int64, hospitalID *int64) string {
	return fmt.Sprintf("permcheck:user:%d:hospital:%s:*", userID, scopeSegment(hospitalID))
}

func userPermissionSetPattern(userID int64) string {
	return fmt.Sprintf("user:%d:hospital:*:perms", userID)
}

func userDecisionPattern(userID int64) string {
	return fmt.Sprintf("permcheck:user:%d:hospital:*", userID)
}
