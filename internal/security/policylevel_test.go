package security

import (
	"os"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func signedPolicyToken(t *testing.T, kid, key string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"policy": "default"})
	token.Header["kid"] = kid
	signed, err := token.SignedString([]byte(key))
	if err != nil {
		t.Fatalf("unexpected error signing token: %v", err)
	}
	return signed
}

func TestVerifyPolicySignatureAcceptsTokenMatchingPinnedKey(t *testing.T) {
	token := signedPolicyToken(t, "key-1", "super-secret")
	ok, err := VerifyPolicySignature(token, map[string]string{"key-1": "super-secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected a token signed with the pinned key to verify")
	}
}

func TestVerifyPolicySignatureDevModeLogsAndContinues(t *testing.T) {
	t.Setenv("SECURITY_LEVEL", "DEV")
	ResetGlobalState()
	defer ResetGlobalState()

	token := signedPolicyToken(t, "key-1", "wrong-secret")
	ok, err := VerifyPolicySignature(token, map[string]string{"key-1": "super-secret"})
	if err != nil {
		t.Fatalf("expected no error in DEV, got %v", err)
	}
	if ok {
		t.Error("expected verification to fail for a mismatched key")
	}
}

func TestVerifyPolicySignatureProdModeFailsClosed(t *testing.T) {
	t.Setenv("SECURITY_LEVEL", "PROD")
	ResetGlobalState()
	defer ResetGlobalState()

	token := signedPolicyToken(t, "key-1", "wrong-secret")
	ok, err := VerifyPolicySignature(token, map[string]string{"key-1": "super-secret"})
	if err == nil {
		t.Fatal("expected an error in PROD for a mismatched key")
	}
	if ok {
		t.Error("expected verification to fail for a mismatched key")
	}
}

func TestVerifyPolicySignatureRejectsUnknownKid(t *testing.T) {
	t.Setenv("SECURITY_LEVEL", "CI")
	ResetGlobalState()
	defer ResetGlobalState()

	token := signedPolicyToken(t, "unknown-kid", "super-secret")
	ok, err := VerifyPolicySignature(token, map[string]string{"key-1": "super-secret"})
	if err == nil {
		t.Fatal("expected an error in CI for an unpinned kid")
	}
	if ok {
		t.Error("expected verification to fail for an unpinned kid")
	}
}

func TestCurrentSecurityLevelDefaultsToDev(t *testing.T) {
	os.Unsetenv("SECURITY_LEVEL")
	ResetGlobalState()
	defer ResetGlobalState()

	if got := CurrentSecurityLevel(); got != LevelDev {
		t.Errorf("expected default level DEV, got %q", got)
	}
}

func TestSafeModeEnabledReadsEnvOnce(t *testing.T) {
	t.Setenv("SAFE_MODE", "true")
	ResetGlobalState()
	defer ResetGlobalState()

	if !SafeModeEnabled() {
		t.Error("expected SAFE_MODE=true to enable safe mode")
	}

	os.Setenv("SAFE_MODE", "false")
	if !SafeModeEnabled() {
		t.Error("expected the cached value to persist until ResetGlobalState is called")
	}
}

func TestResetGlobalStateForcesReread(t *testing.T) {
	t.Setenv("SAFE_MODE", "true")
	ResetGlobalState()
	defer ResetGlobalState()

	if !SafeModeEnabled() {
		t.Fatal("expected safe mode enabled")
	}

	os.Setenv("SAFE_MODE", "false")
	ResetGlobalState()
	if SafeModeEnabled() {
		t.Error("expected safe mode disabled after reset and re-read")
	}
}
