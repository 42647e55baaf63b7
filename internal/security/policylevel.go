package security

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// SecurityLevel selects how strictly VERONICA enforces policy-signature
// verification.
type SecurityLevel string

const (
	LevelDev  SecurityLevel = "DEV"
	LevelCI   SecurityLevel = "CI"
	LevelProd SecurityLevel = "PROD"
)

var levelState struct {
	mu      sync.Mutex
	level   SecurityLevel
	loaded  bool
	safe    bool
	safeSet bool
}

// SecurityLevelFromEnv parses a SECURITY_LEVEL value, defaulting to DEV for
// anything unrecognized or empty.
func SecurityLevelFromEnv(raw string) SecurityLevel {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(LevelCI):
		return LevelCI
	case string(LevelProd):
		return LevelProd
	default:
		return LevelDev
	}
}

// CurrentSecurityLevel returns the process's SECURITY_LEVEL, reading
// SECURITY_LEVEL from the environment on first call and caching it behind a
// lock for every call after.
func CurrentSecurityLevel() SecurityLevel {
	levelState.mu.Lock()
	defer levelState.mu.Unlock()
	if !levelState.loaded {
		levelState.level = SecurityLevelFromEnv(os.Getenv("SECURITY_LEVEL"))
		levelState.loaded = true
	}
	return levelState.level
}

// SafeModeEnabled returns whether the global emergency kill-switch is
// active, reading SAFE_MODE from the environment on first call and caching
// it behind a lock for every call after.
func SafeModeEnabled() bool {
	levelState.mu.Lock()
	defer levelState.mu.Unlock()
	if !levelState.safeSet {
		v := strings.ToLower(strings.TrimSpace(os.Getenv("SAFE_MODE")))
		levelState.safe = v == "1" || v == "true" || v == "yes" || v == "on"
		levelState.safeSet = true
	}
	return levelState.safe
}

// ResetGlobalState clears the cached SECURITY_LEVEL and SAFE_MODE values so
// the next call re-reads the environment. Tests that flip these variables
// between cases must call this first.
func ResetGlobalState() {
	levelState.mu.Lock()
	defer levelState.mu.Unlock()
	levelState.loaded = false
	levelState.safeSet = false
}

// ErrPolicySignatureInvalid indicates a signed policy token failed
// verification against the pinned key set.
var ErrPolicySignatureInvalid = errors.New("security: policy signature invalid")

// VerifyPolicySignature checks a signed policy token against a set of
// pinned HMAC keys, keyed by the token's "kid" header. At SECURITY_LEVEL
// CI or PROD a verification failure is fail-closed: it returns false and a
// non-nil error, and callers must abort startup. At DEV a failure still
// returns false but a nil error, so callers can log and continue.
func VerifyPolicySignature(token string, pins map[string]string) (bool, error) {
	if token == "" {
		return verificationFailed("empty policy token")
	}
	if len(pins) == 0 {
		return verificationFailed("no pinned policy keys configured")
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		key, ok := pins[kid]
		if !ok {
			return nil, fmt.Errorf("no pinned key for kid %q", kid)
		}
		return []byte(key), nil
	})
	if err != nil || !parsed.Valid {
		return verificationFailed(fmt.Sprintf("policy signature verification failed: %v", err))
	}

	return true, nil
}

func verificationFailed(reason string) (bool, error) {
	if CurrentSecurityLevel() == LevelDev {
		return false, nil
	}
	return false, fmt.Errorf("%w: %s", ErrPolicySignatureInvalid, reason)
}
