// Package auth issues and verifies the bearer tokens that carry a user's
// authorization snapshot.
//
// # Tokens
//
// Every login yields an access token and a refresh token. Both are HS256
// JWTs with this payload:
//
//	{
//	  "user":    {"user_id": 7, "username": "...", "global_role": {...},
//	              "hospital_roles": [...], "permissions": [...]},
//	  "refresh": false,
//	  "exp": 1700000000, "iat": 1699996000, "jti": "2b1c..."
//	}
//
// The user object is a snapshot taken at issue time by ClaimsBuilder. It is
// informational: permission guards resolve authoritatively through the rbac
// package unless a route opts into trusting the snapshot.
//
// # Verification
//
// TokenVerifier runs the same sequence for every request and stops at the
// first failure:
//
//	decode -> token type -> revocation -> user id
//
// A revocation lookup that cannot reach the cache fails closed unless the
// verifier is built with WithFailOpen.
//
// # Revocation
//
// RevocationRegistry stores revoked token ids in the cache until the token
// would have expired anyway. When the cache cannot take a write the id goes
// into an in-process map instead, which is consulted on every lookup and
// swept by PurgeExpired.
package auth
