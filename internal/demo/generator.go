// Package demo fabricates finished actions from a corpus of text lines so
// the console has something to show before anything has been run.
package demo

import (
	"bufio"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/mpataki/exo/internal/models"
)

const maxOutputLines = 9

// LoadCorpus reads every non-blank line of path.
func LoadCorpus(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus: %w", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}
	return lines, nil
}

// LoadCorpusOrEmpty is LoadCorpus that logs a warning and returns an empty
// corpus instead of failing.
func LoadCorpusOrEmpty(path string, logger *slog.Logger) []string {
	lines, err := LoadCorpus(path)
	if err != nil {
		logger.Warn("demo corpus unavailable, starting with an empty log", "path", path, "err", err)
		return nil
	}
	return lines
}

type Generator struct {
	corpus []string
	rng    *rand.Rand
}

// NewGenerator uses rng when given, otherwise an unseeded source.
func NewGenerator(corpus []string, rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Generator{corpus: corpus, rng: rng}
}

// Action returns a successful action with a random command and between 1
// and 9 lines of output. ok is false when the corpus is empty.
func (g *Generator) Action() (a models.Action, ok bool) {
	if len(g.corpus) == 0 {
		return models.Action{}, false
	}

	a = models.NewAction(g.corpus[g.rng.IntN(len(g.corpus))])
	count := 1 + g.rng.IntN(maxOutputLines)
	if count > len(g.corpus) {
		count = len(g.corpus)
	}
	for _, i := range g.sample(count) {
		a.Output = append(a.Output, g.corpus[i])
	}

	a.Status = models.ActionStatusSuccess
	completed := a.CreatedAt
	a.CompletedAt = &completed
	code := 0
	a.ExitCode = &code
	return a, true
}

// sample returns count distinct corpus indices.
func (g *Generator) sample(count int) []int {
	n := len(g.corpus)
	if n <= 4*count {
		return g.rng.Perm(n)[:count]
	}
	seen := make(map[int]bool, count)
	out := make([]int, 0, count)
	for len(out) < count {
		i := g.rng.IntN(n)
		if seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
	}
	return out
}

// Actions returns n generated actions, or none for an empty corpus.
func (g *Generator) Actions(n int) []models.Action {
	var out []models.Action
	for i := 0; i < n; i++ {
		a, ok := g.Action()
		if !ok {
			break
		}
		out = append(out, a)
	}
	return out
}
