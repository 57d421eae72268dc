package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCreatesLayout(t *testing.T) {
	root := t.TempDir()

	ws, err := New(root, "10.0.0.5")
	require.NoError(t, err)

	assert.DirExists(t, ws.ScansDir())
	assert.DirExists(t, ws.LogsDir())
	assert.Equal(t, filepath.Join(root, "10.0.0.5"), ws.Dir())
}

func TestWriteRawPersistsBothStreams(t *testing.T) {
	ws, err := New(t.TempDir(), "10.0.0.5")
	require.NoError(t, err)

	require.NoError(t, ws.WriteRaw("portscan", "a1b2c3d4",
		[]string{"80/tcp open http", "443/tcp open https"},
		nil))

	stdout, err := os.ReadFile(filepath.Join(ws.ScansDir(), "portscan_a1b2c3d4.stdout.txt"))
	require.NoError(t, err)
	assert.Equal(t, "80/tcp open http\n443/tcp open https", string(stdout))

	// An empty stream still produces a file: no output is itself evidence.
	stderr, err := os.ReadFile(filepath.Join(ws.ScansDir(), "portscan_a1b2c3d4.stderr.txt"))
	require.NoError(t, err)
	assert.Empty(t, stderr)
}

func TestWriteReport(t *testing.T) {
	ws, err := New(t.TempDir(), "example.com")
	require.NoError(t, err)

	path, err := ws.WriteReport("report.json", []byte(`{"findings":[]}`))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Dir(), "report.json"), path)
	assert.FileExists(t, path)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "http___example.com_8080_path", Sanitize("http://example.com:8080/path"))
	assert.Equal(t, "plain", Sanitize("plain"))

	long := Sanitize(strings.Repeat("a", 100))
	assert.Len(t, long, 64)
}

func TestSetRoutesByTarget(t *testing.T) {
	root := t.TempDir()
	set, err := NewSet(root, []string{"10.0.0.5", "10.0.0.6"})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"10.0.0.5", "10.0.0.6"}, set.Targets())

	require.NoError(t, set.WriteRaw("10.0.0.6", "probe", "deadbeef", []string{"hit"}, nil))
	assert.FileExists(t, filepath.Join(root, "10.0.0.6", "scans", "probe_deadbeef.stdout.txt"))

	_, ok := set.For("10.0.0.5")
	assert.True(t, ok)
	_, ok = set.For("192.168.0.1")
	assert.False(t, ok)
}

func TestSetCreatesWorkspaceOnDemand(t *testing.T) {
	root := t.TempDir()
	set, err := NewSet(root, []string{"10.0.0.5"})
	require.NoError(t, err)

	// A target outside the initial set is persisted, not dropped.
	require.NoError(t, set.WriteRaw("10.9.9.9", "probe", "cafe0001", []string{"x"}, nil))
	assert.FileExists(t, filepath.Join(root, "10.9.9.9", "scans", "probe_cafe0001.stdout.txt"))

	_, ok := set.For("10.9.9.9")
	assert.True(t, ok)
}
