package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babelcloud/gbox/packages/frame-export/internal/export/archive"
	"github.com/babelcloud/gbox/packages/frame-export/internal/export/probe"
	"github.com/babelcloud/gbox/packages/frame-export/internal/export/webm"
)

func sampleWebM(t *testing.T) []byte {
	t.Helper()
	m, err := webm.NewMuxer(webm.Config{Width: 64, Height: 48, FPS: 30, Codec: "vp8"})
	require.NoError(t, err)
	for i, ts := range []uint64{0, 33333, 66667} {
		require.NoError(t, m.AddChunk(webm.EncodedChunk{TimestampMicros: ts, Keyframe: i == 0, Payload: []byte{1, 2, 3}}))
	}
	data, err := m.Finalize()
	require.NoError(t, err)
	return data
}

func sampleZip(t *testing.T) []byte {
	t.Helper()
	p := archive.NewPackager(nil)
	require.NoError(t, p.AddFile("frame_000000.png", []byte("a")))
	require.NoError(t, p.AddFile("frame_000001.png", []byte("bb")))
	data, err := p.Finalize()
	require.NoError(t, err)
	return data
}

func TestInspectWebMText(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runInspect(&out, sampleWebM(t), &InspectOptions{OutputFormat: "text"}))
	assert.Contains(t, out.String(), "webm")
	assert.Contains(t, out.String(), "V_VP8")
	assert.Contains(t, out.String(), "1 clusters, 3 blocks, 1 keyframes")
}

func TestInspectWebMJSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runInspect(&out, sampleWebM(t), &InspectOptions{OutputFormat: "json"}))

	var s probe.WebMSummary
	require.NoError(t, json.Unmarshal(out.Bytes(), &s))
	assert.Equal(t, 3, s.BlockCount())
	assert.Equal(t, uint64(1_000_000), s.TimecodeScale)
}

func TestInspectZipTOML(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runInspect(&out, sampleZip(t), &InspectOptions{OutputFormat: "toml"}))

	var s probe.ZipSummary
	require.NoError(t, toml.Unmarshal(out.Bytes(), &s))
	require.Len(t, s.Entries, 2)
	assert.Equal(t, "frame_000001.png", s.Entries[1].Name)
	assert.Equal(t, uint64(2), s.Entries[1].Size)
}

func TestInspectErrors(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, runInspect(&out, []byte("hello"), &InspectOptions{}))
	assert.Error(t, runInspect(&out, sampleZip(t), &InspectOptions{OutputFormat: "yaml"}))
}

func TestFramesCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shots.zip")
	rootCmd.SetArgs([]string{"frames", "-n", "2", "--width", "16", "--height", "8", "--prefix", "shot", "-q", "-o", path})
	require.NoError(t, rootCmd.Execute())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	s, err := probe.InspectZip(data)
	require.NoError(t, err)
	require.Len(t, s.Entries, 2)
	assert.Equal(t, "shot_000000.png", s.Entries[0].Name)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KiB", formatBytes(1536))
	assert.Equal(t, "2.0 MiB", formatBytes(2<<20))
}
