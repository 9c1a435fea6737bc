package demo

import (
	"bytes"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/exo/internal/models"
)

func writeCorpus(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".bash_history")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadCorpusSkipsBlankLines(t *testing.T) {
	path := writeCorpus(t, "ls -la\n\n  \ngit status\nmake\n")

	lines, err := LoadCorpus(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ls -la", "git status", "make"}, lines)
}

func TestLoadCorpusOrEmptyFallsBack(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	lines := LoadCorpusOrEmpty(filepath.Join(t.TempDir(), "missing"), logger)
	assert.Empty(t, lines)
	assert.Contains(t, buf.String(), "demo corpus unavailable")
}

func TestGeneratorActions(t *testing.T) {
	corpus := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"}
	g := NewGenerator(corpus, rand.New(rand.NewPCG(1, 2)))

	actions := g.Actions(50)
	require.Len(t, actions, 50)
	for _, a := range actions {
		assert.Contains(t, corpus, a.Command)
		assert.Equal(t, models.ActionStatusSuccess, a.Status)
		assert.GreaterOrEqual(t, len(a.Output), 1)
		assert.LessOrEqual(t, len(a.Output), maxOutputLines)
		for _, line := range a.Output {
			assert.Contains(t, corpus, line)
		}
		assert.NotNil(t, a.CompletedAt)
	}
}

func TestGeneratorSmallCorpus(t *testing.T) {
	g := NewGenerator([]string{"only"}, nil)
	a, ok := g.Action()
	require.True(t, ok)
	assert.Equal(t, "only", a.Command)
	assert.Equal(t, []string{"only"}, a.Output)
}

func TestGeneratorEmptyCorpus(t *testing.T) {
	g := NewGenerator(nil, nil)
	_, ok := g.Action()
	assert.False(t, ok)
	assert.Empty(t, g.Actions(19))
}
