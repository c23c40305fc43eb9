package normalizer

import (
	"errors"
	"testing"

	"github.com/mcp-pty/mcp-pty/internal/ptyerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDirect(t *testing.T) {
	cmd := Normalize("ls -la /tmp")
	require.True(t, cmd.Direct)
	assert.Equal(t, "ls", cmd.Argv0)
	assert.Equal(t, []string{"-la", "/tmp"}, cmd.Args)
}

func TestNormalizeDirectQuoted(t *testing.T) {
	cmd := Normalize(`echo "hello world"`)
	require.True(t, cmd.Direct)
	assert.Equal(t, "echo", cmd.Argv0)
	assert.Equal(t, []string{"hello world"}, cmd.Args)
}

func TestNormalizeShellWrappedOnPipe(t *testing.T) {
	cmd := Normalize("ls | grep foo")
	assert.False(t, cmd.Direct)
	assert.Equal(t, []string{"sh", "-c", "ls | grep foo"}, cmd.ShellArgv)
}

func TestNormalizeShellWrappedOnAndAnd(t *testing.T) {
	cmd := Normalize("make build && make test")
	assert.False(t, cmd.Direct)
}

func TestNormalizeShellWrappedOnRedirect(t *testing.T) {
	cmd := Normalize("echo hi > out.txt")
	assert.False(t, cmd.Direct)
}

func TestNormalizeShellWrappedOnEnvPrefix(t *testing.T) {
	cmd := Normalize("FOO=bar env")
	assert.False(t, cmd.Direct)
}

func TestNormalizeShellWrappedOnExpansion(t *testing.T) {
	cmd := Normalize("echo $HOME")
	assert.False(t, cmd.Direct)
}

func TestNormalizeShellWrappedOnSemicolon(t *testing.T) {
	cmd := Normalize("echo one; echo two")
	assert.False(t, cmd.Direct)
}

func TestCheckDangerousForkBomb(t *testing.T) {
	err := CheckDangerous(":(){ :|:& };:", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ptyerr.ErrDangerousCommand))
}

func TestCheckDangerousRmRfRoot(t *testing.T) {
	err := CheckDangerous("rm -rf /", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ptyerr.ErrDangerousCommand))
}

func TestCheckDangerousRmRfSubpathAllowed(t *testing.T) {
	err := CheckDangerous("rm -rf /tmp/build", false)
	assert.NoError(t, err)
}

func TestCheckDangerousMkfs(t *testing.T) {
	err := CheckDangerous("mkfs.ext4 /dev/sdb1", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ptyerr.ErrDangerousCommand))
}

func TestCheckDangerousDdToDev(t *testing.T) {
	err := CheckDangerous("dd if=/dev/zero of=/dev/sda", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ptyerr.ErrDangerousCommand))
}

func TestCheckDangerousRedirectToDev(t *testing.T) {
	err := CheckDangerous("echo x > /dev/sda", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ptyerr.ErrDangerousCommand))
}

func TestCheckDangerousShellBypassRecursion(t *testing.T) {
	err := CheckDangerous("sh -c 'rm -rf /'", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ptyerr.ErrDangerousCommand))
}

func TestCheckDangerousPrivilegeEscalation(t *testing.T) {
	err := CheckDangerous("sudo rm -rf /tmp/x", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ptyerr.ErrPrivilegeEscalation))
}

func TestCheckDangerousWithConsentAllowsEverything(t *testing.T) {
	assert.NoError(t, CheckDangerous("rm -rf /", true))
	assert.NoError(t, CheckDangerous(":(){ :|:& };:", true))
}

func TestCheckDangerousBenignCommand(t *testing.T) {
	assert.NoError(t, CheckDangerous("ls -la", false))
}
