package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTTLVariants(t *testing.T) {
	cases := map[string]time.Duration{
		"0":   0,
		"30s": 30 * time.Second,
		"5m":  5 * time.Minute,
		"2h":  2 * time.Hour,
		"1d":  24 * time.Hour,
		"45":  45 * time.Second,
	}
	for in, want := range cases {
		got, err := ParseTTL(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}

func TestParseTTLRejectsGarbage(t *testing.T) {
	_, err := ParseTTL("abc")
	assert.Error(t, err)
}

func TestParseSenderFlagsRequiresPortHostDir(t *testing.T) {
	_, err := ParseSenderFlags([]string{"-p", "1000"})
	assert.Error(t, err)

	cfg, err := ParseSenderFlags([]string{"-p", "1000", "-n", "host1", "-D", "/tmp/in"})
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Port)
	assert.Equal(t, []string{"host1"}, cfg.Hosts)
	assert.Equal(t, []string{"/tmp/in"}, cfg.Dirs)
	assert.Equal(t, 4, cfg.WindowSize)
}

func TestParseSenderFlagsRepeatableHostsAndDirs(t *testing.T) {
	cfg, err := ParseSenderFlags([]string{
		"-p", "1000",
		"-n", "host1", "-n", "host2",
		"-D", "/tmp/a", "-D", "/tmp/b",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"host1", "host2"}, cfg.Hosts)
	assert.Equal(t, []string{"/tmp/a", "/tmp/b"}, cfg.Dirs)
}

func TestParseSenderFlagsWaitLastFileRequiresSentCountTwo(t *testing.T) {
	_, err := ParseSenderFlags([]string{
		"-p", "1000", "-n", "h", "-D", "/tmp/in", "-L", "-N", "1",
	})
	assert.Error(t, err)

	cfg, err := ParseSenderFlags([]string{
		"-p", "1000", "-n", "h", "-D", "/tmp/in", "-L", "-N", "2",
	})
	require.NoError(t, err)
	assert.True(t, cfg.WaitLastFile)
}

func TestParseReceiverFlagsRequiresPortAndOutDir(t *testing.T) {
	_, err := ParseReceiverFlags([]string{"-p", "2000"})
	assert.Error(t, err)

	cfg, err := ParseReceiverFlags([]string{"-p", "2000", "-D", "/tmp/out"})
	require.NoError(t, err)
	assert.Equal(t, 2000, cfg.Port)
	assert.Equal(t, "/tmp/out", cfg.OutDir)
	assert.Equal(t, 4, cfg.MaxWorkers)
}

func TestEnvDefaultsApplyWhenFlagsAbsent(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LOG_DIR_PATH", dir)
	t.Setenv("LOG_RETENTION", "archive")
	t.Setenv("LOG_MAX_FILE_SIZE", "2048")
	t.Setenv("LOG_FLUSH_TIME_INTERVAL", "30s")

	cfg, err := ParseSenderFlags([]string{"-p", "1000", "-n", "h", "-D", "/tmp/in"})
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.LogDir)
	assert.True(t, cfg.Archive)
	assert.Equal(t, int64(2048), cfg.LogMaxFileSize)
	assert.Equal(t, 30*time.Second, cfg.LogFlushInterval)
}

func TestEnvDefaultsAreOverriddenByExplicitFlags(t *testing.T) {
	envDir := t.TempDir()
	flagDir := t.TempDir()
	t.Setenv("LOG_DIR_PATH", envDir)
	t.Setenv("LOG_RETENTION", "archive")

	cfg, err := ParseReceiverFlags([]string{
		"-p", "2000", "-D", "/tmp/out",
		"-l", flagDir, "-a=false",
	})
	require.NoError(t, err)
	assert.Equal(t, flagDir, cfg.LogDir, "explicit -l must win over LOG_DIR_PATH")
	assert.False(t, cfg.Archive, "explicit -a=false must win over LOG_RETENTION=archive")
}

func TestLogSizingEnvDefaultsWhenUnset(t *testing.T) {
	cfg, err := ParseReceiverFlags([]string{"-p", "2000", "-D", "/tmp/out"})
	require.NoError(t, err)
	assert.Equal(t, DefaultLogMaxFileSize, cfg.LogMaxFileSize)
	assert.Equal(t, DefaultLogFlushInterval, cfg.LogFlushInterval)
}

func TestINIDefaultsAreOverriddenByExplicitFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.ini")
	require.NoError(t, os.WriteFile(path, []byte("[flags]\nw = 8\nt = 15s\n"), 0644))

	cfg, err := ParseSenderFlags([]string{
		"-config", path,
		"-p", "1000", "-n", "h", "-D", "/tmp/in",
		"-w", "2",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.WindowSize, "explicit flag must win over ini default")
	assert.Equal(t, 15*time.Second, cfg.Timeout, "ini default applies when flag absent")
}
