package classifier

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/dramabot/internal/domain"
)

// fixedRand always picks the same index and records the ranges it was asked for
type fixedRand struct {
	mu     sync.Mutex
	idx    int
	ranges []int
}

func (f *fixedRand) IntN(n int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranges = append(f.ranges, n)
	return f.idx % n
}

var catalog = []domain.CatalogEntry{
	{Text: "Il finale mi convince.", Author: "gubiani", Type: "feedback"},
	{Text: "Taglierei la seconda scena.", Author: "tollis", Type: " feedback "},
	{Text: "Chi lo dice?", Author: "gubiani", Type: "critica"},
	{Text: "A chi serve questa battuta?", Author: "ursella", Type: "critica"},
	{Text: "E se fosse tutto un sogno?", Author: "dipauli", Type: "e se"},
	{Text: "Prova a leggerlo ad alta voce.", Author: "dipauli", Type: "altro"},
	{Text: "Scrivi tutti i giorni.", Type: ""},
}

func texts(entries []domain.CatalogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Text
	}
	return out
}

func TestNewSnapshot(t *testing.T) {
	snap := NewSnapshot(catalog)

	for _, c := range domain.Categories() {
		_, ok := snap.ByCategory[c]
		assert.True(t, ok, "category %s present", c)
	}
	assert.Len(t, snap.ByCategory[domain.CategoryFeedback], 2)
	assert.Len(t, snap.ByCategory[domain.CategoryCritique], 2)
	assert.Len(t, snap.ByCategory[domain.CategoryExplain], 1)
	assert.Len(t, snap.ByCategory[domain.CategoryOther], 2)

	total := 0
	for _, entries := range snap.ByCategory {
		total += len(entries)
	}
	assert.Equal(t, len(catalog), total, "no entry is dropped")

	assert.Len(t, snap.ByAuthor["gubiani"], 2)
	assert.Len(t, snap.ByAuthor["dipauli"], 2)
	assert.NotContains(t, snap.ByAuthor, "")
}

func TestClassifyFeedback(t *testing.T) {
	c := New(nil, nil)
	snap := NewSnapshot(catalog)

	reply := c.Classify("vorrei un feedback", snap)
	assert.Equal(t, domain.VisibilityPublic, reply.Visibility)
	assert.Contains(t, texts(snap.ByCategory[domain.CategoryFeedback]), reply.Text)
}

func TestClassifyAbsentText(t *testing.T) {
	c := New(nil, nil)

	for _, snap := range []*Snapshot{nil, NewSnapshot(nil), NewSnapshot(catalog)} {
		reply := c.Classify("", snap)
		assert.Equal(t, domain.VisibilityPrivate, reply.Visibility)
		assert.Equal(t, c.Rules().ErrorText, reply.Text)
		assert.Empty(t, reply.Icon)
	}
}

func TestClassifyEmptyCategory(t *testing.T) {
	c := New(nil, nil)
	snap := NewSnapshot([]domain.CatalogEntry{{Text: "solo feedback", Type: "feedback"}})

	reply := c.Classify("non capisco niente e ho dei dubbi", snap)
	assert.Equal(t, domain.VisibilityPublic, reply.Visibility)
	assert.Empty(t, reply.Text)
}

func TestClassifyRuleOrder(t *testing.T) {
	rnd := &fixedRand{}
	c := New(nil, rnd)
	snap := NewSnapshot(catalog)

	reply := c.Classify("Anna, ho una domanda per te", snap)
	assert.Equal(t, "Chi lo dice?", reply.Text, "critique precedes author matching")
	assert.Equal(t, []int{2}, rnd.ranges)
}

func TestClassifyAuthorUnion(t *testing.T) {
	rnd := &fixedRand{idx: 2}
	c := New(nil, rnd)
	snap := NewSnapshot(catalog)

	reply := c.Classify("che ne dice ANNA? e dipi?", snap)
	assert.Equal(t, domain.VisibilityPublic, reply.Visibility)
	require.Equal(t, []int{4}, rnd.ranges, "gubiani and dipauli entries are pooled")

	// dipauli sorts before gubiani
	assert.Equal(t, "Il finale mi convince.", reply.Text)
}

func TestClassifyAuthorWithoutEntries(t *testing.T) {
	c := New(nil, &fixedRand{})
	snap := NewSnapshot(catalog)

	reply := c.Classify("e Stefania?", snap)
	assert.Equal(t, domain.VisibilityPublic, reply.Visibility)
	assert.Equal(t, "A chi serve questa battuta?", reply.Text)

	reply = c.Classify("e Stefania?", NewSnapshot(nil))
	assert.Equal(t, domain.VisibilityPublic, reply.Visibility)
	assert.Empty(t, reply.Text)
}

func TestClassifyOther(t *testing.T) {
	c := New(nil, &fixedRand{idx: 1})

	reply := c.Classify("dimmi qualcosa", NewSnapshot(catalog))
	assert.Equal(t, "E se fosse tutto un sogno?", reply.Text, "explain precedes other")

	reply = c.Classify("raccontami qualcosa", NewSnapshot(catalog))
	assert.Equal(t, "Scrivi tutti i giorni.", reply.Text)

	reply = c.Classify("raccontami qualcosa", NewSnapshot(nil))
	assert.Equal(t, domain.VisibilityPublic, reply.Visibility)
	assert.Equal(t, "Qualcosa? Oggi non mi viene in mente niente.", reply.Text)
}

func TestClassifyAffectionAndHeart(t *testing.T) {
	c := New(nil, &fixedRand{})
	snap := NewSnapshot(catalog)

	reply := c.Classify("ti adoro", snap)
	assert.Equal(t, "Anch'io!", reply.Text)
	assert.Empty(t, reply.Icon)

	reply = c.Classify("ti amo", snap)
	assert.Equal(t, "Anch'io!", reply.Text)
	assert.Equal(t, ":heart:", reply.Icon)

	reply = c.Classify("vorrei solo dirti che ti amo", snap)
	assert.Equal(t, "Il finale mi convince.", reply.Text, "feedback still wins")
	assert.Equal(t, ":heart:", reply.Icon, "the heart is independent of the rule")
}

func TestClassifyHeartIsCaseSensitive(t *testing.T) {
	c := New(nil, &fixedRand{})
	snap := NewSnapshot(catalog)

	reply := c.Classify("TI amo", snap)
	assert.Equal(t, ":heart:", reply.Icon)

	for _, text := range []string{"Ti AMO", "ti Amo"} {
		reply = c.Classify(text, snap)
		assert.Equal(t, "Anch'io!", reply.Text, "keywords still match in any case")
		assert.Empty(t, reply.Icon, text)
	}
}

func TestClassifyHelp(t *testing.T) {
	c := New(nil, nil)

	reply := c.Classify("help", NewSnapshot(catalog))
	assert.Equal(t, domain.VisibilityPublic, reply.Visibility)
	assert.True(t, strings.HasPrefix(reply.Text, "\nComandi possibili: "))
	for _, kw := range []string{"`feedback`", "`domanda`", "`Anna`", "`capisc`", "`qualcosa`", "`ador`"} {
		assert.Contains(t, reply.Text, kw)
	}
	assert.NotContains(t, reply.Text, "`merda`", "help keywords are not listed")
}

func TestClassifyNoMatch(t *testing.T) {
	c := New(nil, nil)

	reply := c.Classify("buongiorno", NewSnapshot(catalog))
	assert.Equal(t, domain.VisibilityPrivate, reply.Visibility)
	assert.Equal(t, c.Rules().ErrorText, reply.Text)
}

func TestMatch(t *testing.T) {
	c := New(nil, nil)

	tests := map[string]string{
		"vorrei un feedback":        "feedback",
		"secondo te va bene?":       "feedback",
		"devo cambiare il titolo?":  "critique",
		"cosa ne pensa Giulia?":     "feedback",
		"e Giulia?":                 "author",
		"SPIEGA":                    "explain",
		"qualcosa":                  "other",
		"ti adoro":                  "affection",
		"bee":                       "help",
		"buongiorno":                "",
		"":                          "",
	}
	for text, want := range tests {
		t.Run(text, func(t *testing.T) {
			assert.Equal(t, want, c.Match(text))
		})
	}
}

func TestNewRandIsUniformEnough(t *testing.T) {
	c := New(nil, NewRand())
	snap := NewSnapshot([]domain.CatalogEntry{
		{Text: "a", Type: "feedback"},
		{Text: "b", Type: "feedback"},
		{Text: "c", Type: "feedback"},
	})

	seen := make(map[string]int)
	for i := 0; i < 3000; i++ {
		seen[c.Classify("feedback", snap).Text]++
	}
	for _, text := range []string{"a", "b", "c"} {
		assert.Greater(t, seen[text], 700, "entry %q picked %d times", text, seen[text])
	}
}

func TestClassifyConcurrent(t *testing.T) {
	c := New(nil, NewRand())
	snap := NewSnapshot(catalog)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reply := c.Classify("vorrei un feedback", snap)
				assert.NotEmpty(t, reply.Text)
			}
		}()
	}
	wg.Wait()
}

func TestParseRules(t *testing.T) {
	t.Run("default rules parse", func(t *testing.T) {
		r := DefaultRules()
		require.Len(t, r.Rules, 7)
		assert.Equal(t, "feedback", r.Rules[0].Name)
		assert.Equal(t, "help", r.Rules[6].Name)
		assert.Len(t, r.Authors, 4)
	})

	t.Run("custom order", func(t *testing.T) {
		r, err := ParseRules([]byte(`
error_text: "boh"
rules:
  - name: explain
    action: category
    category: explain
    keywords: ["dubbi"]
  - name: feedback
    action: category
    category: feedback
    keywords: ["feedback"]
`))
		require.NoError(t, err)

		c := New(r, &fixedRand{})
		reply := c.Classify("dubbi sul feedback", NewSnapshot(catalog))
		assert.Equal(t, "E se fosse tutto un sogno?", reply.Text)
	})

	invalid := map[string]string{
		"no error text":    "rules: [{name: a, action: literal, reply: x, keywords: [a]}]",
		"no rules":         "error_text: x",
		"unknown action":   "error_text: x\nrules: [{name: a, action: shout, keywords: [a]}]",
		"unknown category": "error_text: x\nrules: [{name: a, action: category, category: poetry, keywords: [a]}]",
		"literal no reply": "error_text: x\nrules: [{name: a, action: literal, keywords: [a]}]",
		"no keywords":      "error_text: x\nrules: [{name: a, action: help}]",
		"not yaml":         "error_text: [",
	}
	for name, doc := range invalid {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRules([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
error_text: "Eh?"
rules:
  - name: hello
    action: literal
    keywords: ["ciao"]
    reply: "Ciao a te!"
`), 0o644))

	r, err := LoadRules(path)
	require.NoError(t, err)

	c := New(r, nil)
	assert.Equal(t, "Ciao a te!", c.Classify("ciao bot", nil).Text)
	assert.Equal(t, domain.Reply{Text: "Eh?", Visibility: domain.VisibilityPrivate}, c.Classify("salve", nil))

	_, err = LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

type listerFunc func() ([]domain.CatalogEntry, error)

func (f listerFunc) ListAll() ([]domain.CatalogEntry, error) { return f() }

func TestResponder(t *testing.T) {
	var current []domain.CatalogEntry
	r := NewResponder(listerFunc(func() ([]domain.CatalogEntry, error) {
		return current, nil
	}), New(nil, &fixedRand{}), nil)

	assert.Empty(t, r.Respond("vorrei un feedback").Text)

	current = catalog
	assert.Equal(t, "Il finale mi convince.", r.Respond("vorrei un feedback").Text, "snapshot is rebuilt per call")
}

func TestResponderLogsRule(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	r := NewResponder(listerFunc(func() ([]domain.CatalogEntry, error) {
		return catalog, nil
	}), New(nil, &fixedRand{}), &logger)

	r.Respond("secondo te va bene?")
	r.Respond("buongiorno")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first, second struct {
		Rule string `json:"rule"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "feedback", first.Rule)
	assert.Empty(t, second.Rule)
}

func TestClassifyReportsRule(t *testing.T) {
	c := New(nil, &fixedRand{})
	snap := NewSnapshot(catalog)

	for _, text := range []string{"vorrei un feedback", "ti adoro", "bee", "buongiorno", ""} {
		reply, rule := c.classify(text, snap)
		assert.Equal(t, c.Match(text), rule, text)
		assert.Equal(t, c.Classify(text, snap), reply, text)
	}
}

func TestResponderStoreFailure(t *testing.T) {
	r := NewResponder(listerFunc(func() ([]domain.CatalogEntry, error) {
		return nil, errors.New("database is locked")
	}), New(nil, nil), nil)

	reply := r.Respond("vorrei un feedback")
	assert.Equal(t, domain.VisibilityPublic, reply.Visibility)
	assert.Empty(t, reply.Text)

	reply = r.Respond("")
	assert.Equal(t, domain.VisibilityPrivate, reply.Visibility)
}
