package rbac

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const cacheNamespace = "rbac:"

// Context keys that make a decision inherently volatile. Caching a check keyed
// on one of these would either never hit or pin stale volatile state, so such
// contexts bypass the cache entirely.
var volatileContextKeys = map[string]struct{}{
	"request_id": {},
	"session_id": {},
	"timestamp":  {},
	"ip":         {},
}

func contextCacheable(context map[string]string) bool {
	for key := range context {
		if _, volatile := volatileContextKeys[key]; volatile {
			return false
		}
	}
	return true
}

// hashContext renders the context deterministically: keys sorted, pairs joined,
// then hashed so arbitrary values cannot break the key syntax.
func hashContext(context map[string]string) string {
	if len(context) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(context))
	for key := range context {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(context[key])
		b.WriteByte(';')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

func checkKey(userID uuid.UUID, permission, resource string, context map[string]string) string {
	return fmt.Sprintf("%scheck:%s:%s:%s:%s", cacheNamespace, userID, permission, resource, hashContext(context))
}

func userCheckPattern(userID uuid.UUID) string {
	return fmt.Sprintf("%scheck:%s:*", cacheNamespace, userID)
}

func userPermissionsKey(userID uuid.UUID) string {
	return cacheNamespace + "user_permissions:" + userID.String()
}

func userRolesKey(userID uuid.UUID) string {
	return cacheNamespace + "user_roles:" + userID.String()
}

func rolePermissionsKey(roleID uuid.UUID) string {
	return cacheNamespace + "role_permissions:" + roleID.String()
}

func allKeysPattern() string {
	return cacheNamespace + "*"
}
