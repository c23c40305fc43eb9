package safety

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPrivilegeEscalation(t *testing.T) {
	cases := map[string]bool{
		"sudo":            true,
		"/usr/bin/sudo":   true,
		"doas":            true,
		"pkexec":          true,
		"echo":            false,
		"/bin/echo":       false,
		"nohup sudo ls":   true,
	}
	for argv0, want := range cases {
		assert.Equal(t, want, IsPrivilegeEscalation(argv0), "argv0=%q", argv0)
	}
}

func TestCheckSpawnConsentWithoutConsent(t *testing.T) {
	os.Unsetenv(ConsentEnvVar)
	err := CheckSpawnConsent("sudo", "sudo rm -rf /tmp/x", false)
	assert.Error(t, err)
}

func TestCheckSpawnConsentWithConsent(t *testing.T) {
	os.Setenv(ConsentEnvVar, "yes")
	defer os.Unsetenv(ConsentEnvVar)
	err := CheckSpawnConsent("sudo", "sudo rm -rf /tmp/x", false)
	assert.NoError(t, err)
}

func TestSanitizeOverlayStripsDangerousVars(t *testing.T) {
	overlay := map[string]string{
		"LD_PRELOAD": "/evil.so",
		"PATH":       "/evil:/bin",
		"MY_VAR":     "keep-me",
	}
	clean := SanitizeOverlay(overlay)
	assert.NotContains(t, clean, "LD_PRELOAD")
	assert.NotContains(t, clean, "PATH")
	assert.Equal(t, "keep-me", clean["MY_VAR"])
}
