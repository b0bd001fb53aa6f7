package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"echorelay/pkg/e2e"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRoot_ValidateOnly(t *testing.T) {
	t.Setenv("RELAY_CONFIG_FILE", "")
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9100
`)

	out, err := execute(t, "-f", path, "--validate-only")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration OK")
	assert.Contains(t, out, "127.0.0.1:9100")
}

func TestRoot_ValidateOnlyRejectsBadConfig(t *testing.T) {
	path := writeConfig(t, `
[websocket]
overflow_policy = "block"
`)

	_, err := execute(t, "--config", path, "--validate-only")
	assert.Error(t, err)
}

func TestRoot_MissingConfigFile(t *testing.T) {
	_, err := execute(t, "-f", filepath.Join(t.TempDir(), "absent.toml"), "--validate-only")
	assert.Error(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 0

[log]
level = "warn"
`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, Options{ConfigFile: path}, &bytes.Buffer{})
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func parseKeygen(t *testing.T, out string) (public, secret string) {
	t.Helper()
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		name, value, ok := strings.Cut(line, ": ")
		require.True(t, ok, "unexpected line %q", line)
		switch name {
		case "public":
			public = value
		case "secret":
			secret = value
		}
	}
	require.NotEmpty(t, public)
	require.NotEmpty(t, secret)
	return public, secret
}

func TestKeygen_PrintsMatchingPair(t *testing.T) {
	out, err := execute(t, "keygen")
	require.NoError(t, err)
	public, secret := parseKeygen(t, out)

	sk, err := e2e.DecodeKey(secret)
	require.NoError(t, err)
	kp, err := e2e.KeyPairFromSecret(sk)
	require.NoError(t, err)
	assert.Equal(t, public, e2e.EncodeBase64(kp.Public[:]))
}

func TestDerive_BothSidesAgree(t *testing.T) {
	out, err := execute(t, "keygen")
	require.NoError(t, err)
	alicePub, aliceSecret := parseKeygen(t, out)

	out, err = execute(t, "keygen")
	require.NoError(t, err)
	bobPub, bobSecret := parseKeygen(t, out)

	aliceKey, err := execute(t, "derive", "--secret", aliceSecret, "--peer", bobPub)
	require.NoError(t, err)
	bobKey, err := execute(t, "derive", "--secret", bobSecret, "--peer", alicePub)
	require.NoError(t, err)

	assert.Equal(t, strings.TrimSpace(aliceKey), strings.TrimSpace(bobKey))
	key, err := e2e.DecodeKey(strings.TrimSpace(aliceKey))
	require.NoError(t, err)
	assert.Len(t, key, e2e.KeySize)
}

func TestDerive_RejectsBadKeys(t *testing.T) {
	_, err := execute(t, "derive", "--secret", "not-base64!", "--peer", "AAAA")
	assert.Error(t, err)

	_, err = execute(t, "derive", "--secret", "AAAA")
	assert.Error(t, err, "--peer is required")
}
