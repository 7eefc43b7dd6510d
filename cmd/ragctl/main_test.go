package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/WessleyAI/textbook-rag/engine/retrieval"
	"github.com/WessleyAI/textbook-rag/engine/service"
)

type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 4)
	for i, r := range text {
		v[i%4] += float32(r % 31)
	}
	v[0]++
	return v, nil
}

const physics = "5.3 Newton's Laws\n" +
	"Every object persists in its state of rest or uniform motion in a straight line.\n" +
	"5.4 Momentum\nToo short.\n" +
	"5.5 Conservation\n" +
	"Momentum is the product of mass and velocity and is conserved in closed systems."

// writeConfig writes a badger-backed config with one physics collection.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "physics.txt")
	require.NoError(t, os.WriteFile(src, []byte(physics), 0o644))
	cfg := fmt.Sprintf(`store:
  backend: badger
  dir: %s
extract:
  skip_pages: 0
collections:
  - name: physics
    source: %s
`, filepath.Join(dir, "vectors"), src)
	path := filepath.Join(dir, "rag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func runCtl(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newApp(&out, service.WithEmbedder(hashEmbedder{})).Run(append([]string{"ragctl"}, args...))
	return out.String(), err
}

func TestIngestSearchAndDrop(t *testing.T) {
	cfg := writeConfig(t)

	out, err := runCtl(t, "--config", cfg, "ingest", "--workers", "2")
	require.NoError(t, err)
	assert.Equal(t, "physics\t2 written\t0 failed\n", out)

	out, err = runCtl(t, "--config", cfg, "collections")
	require.NoError(t, err)
	assert.Equal(t, "physics\t2\n", out)

	out, err = runCtl(t, "--config", cfg, "search", "mass", "and", "velocity")
	require.NoError(t, err)
	assert.Contains(t, out, "physics\t")
	assert.Contains(t, out, "distance=")

	out, err = runCtl(t, "--config", cfg, "drop", "physics")
	require.NoError(t, err)
	assert.Equal(t, "dropped physics\n", out)

	out, err = runCtl(t, "--config", cfg, "collections")
	require.NoError(t, err)
	assert.Equal(t, "physics\t-\n", out)
}

func TestRerankWithoutScorer(t *testing.T) {
	cfg := writeConfig(t)
	_, err := runCtl(t, "--config", cfg, "rerank", "momentum")
	require.Error(t, err)
	assert.ErrorIs(t, err, retrieval.ErrNoScorer)
}

func TestIngestNATSRequiresURL(t *testing.T) {
	cfg := writeConfig(t)
	_, err := runCtl(t, "--config", cfg, "ingest", "--nats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats url")
}

func TestArgumentErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"search without query", []string{"search"}, "query is required"},
		{"blank query", []string{"rerank", "  "}, "query is required"},
		{"drop without name", []string{"drop"}, "collection name is required"},
		{"bad log level", []string{"--log-level", "loud", "collections"}, "invalid log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCtl(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCommandFlags(t *testing.T) {
	app := newApp(&bytes.Buffer{})
	names := make([]string, len(app.Commands))
	for i, c := range app.Commands {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"search", "rerank", "collections", "ingest", "drop"}, names)

	ingestCmd := app.Command("ingest")
	require.NotNil(t, ingestCmd)
	var workers *cli.IntFlag
	for _, f := range ingestCmd.Flags {
		if w, ok := f.(*cli.IntFlag); ok && w.Name == "workers" {
			workers = w
		}
	}
	require.NotNil(t, workers)
	assert.Equal(t, 4, workers.Value)
}
