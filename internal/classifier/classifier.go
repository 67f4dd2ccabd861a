// Package classifier answers a free-text message with a catalog entry.
//
// Rules are evaluated in table order against the lower-cased message using
// plain substring containment; the first rule with a matching keyword picks
// the reply. Classification never fails: a message no rule matches, or no
// message at all, gets the private help text.
package classifier

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"

	"github.com/pbaille/dramabot/internal/domain"
)

// Snapshot groups the catalog by category and by author for one request
type Snapshot struct {
	ByCategory map[domain.Category][]domain.CatalogEntry
	ByAuthor   map[string][]domain.CatalogEntry
}

// NewSnapshot groups entries. Every category is present, possibly empty;
// entries without an author are not indexed by author.
func NewSnapshot(entries []domain.CatalogEntry) *Snapshot {
	s := &Snapshot{
		ByCategory: make(map[domain.Category][]domain.CatalogEntry, len(domain.Categories())),
		ByAuthor:   make(map[string][]domain.CatalogEntry),
	}
	for _, c := range domain.Categories() {
		s.ByCategory[c] = nil
	}
	for _, e := range entries {
		c := e.Category()
		s.ByCategory[c] = append(s.ByCategory[c], e)
		if key := e.AuthorKey(); key != "" {
			s.ByAuthor[key] = append(s.ByAuthor[key], e)
		}
	}
	return s
}

// Rand picks an index in [0, n)
type Rand interface {
	IntN(n int) int
}

// lockedRand makes a *rand.Rand safe for concurrent use
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

// NewRand returns a goroutine-safe ChaCha8 generator seeded from crypto/rand.
// Create one per process and share it.
func NewRand() Rand {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		// crypto/rand does not fail on supported platforms
		binary.LittleEndian.PutUint64(seed[:], rand.Uint64())
	}
	return &lockedRand{r: rand.New(rand.NewChaCha8(seed))}
}

// Classifier maps a message to a reply
type Classifier struct {
	rules *Rules
	rand  Rand
}

// New creates a Classifier. A nil rules uses the embedded table and a nil
// rnd a fresh NewRand.
func New(rules *Rules, rnd Rand) *Classifier {
	if rules == nil {
		rules = DefaultRules()
	}
	if rnd == nil {
		rnd = NewRand()
	}
	return &Classifier{rules: rules, rand: rnd}
}

// Rules returns the rule table in use
func (c *Classifier) Rules() *Rules {
	return c.rules
}

// Classify answers text from snap. Empty text gets the private fallback.
func (c *Classifier) Classify(text string, snap *Snapshot) domain.Reply {
	reply, _ := c.classify(text, snap)
	return reply
}

// classify also returns the name of the rule that answered, "" for the
// fallback. Keywords match case-insensitively, the heart token on the raw text.
func (c *Classifier) classify(text string, snap *Snapshot) (domain.Reply, string) {
	if text == "" {
		return c.fallback(), ""
	}
	if snap == nil {
		snap = NewSnapshot(nil)
	}

	lower := strings.ToLower(text)
	reply, name := c.fallback(), ""

	for i, rule := range c.rules.Rules {
		if !containsAny(lower, c.rules.keywords(rule)) {
			continue
		}
		reply = domain.Reply{
			Text:       c.apply(i, rule, lower, snap),
			Visibility: domain.VisibilityPublic,
		}
		name = rule.Name
		break
	}

	if m := c.rules.Heart; m.Token != "" && strings.Contains(text, m.Token) {
		reply.Icon = m.Icon
	}
	return reply, name
}

// Match returns the name of the rule text would be answered by, "" if none
func (c *Classifier) Match(text string) string {
	if text == "" {
		return ""
	}
	lower := strings.ToLower(text)
	for _, rule := range c.rules.Rules {
		if containsAny(lower, c.rules.keywords(rule)) {
			return rule.Name
		}
	}
	return ""
}

func (c *Classifier) fallback() domain.Reply {
	return domain.Reply{Text: c.rules.ErrorText, Visibility: domain.VisibilityPrivate}
}

func (c *Classifier) apply(idx int, rule Rule, lower string, snap *Snapshot) string {
	switch rule.Action {
	case ActionCategory:
		entries := snap.ByCategory[rule.Category]
		if len(entries) == 0 {
			return rule.Fallback
		}
		return c.pick(entries)
	case ActionAuthor:
		return c.pick(c.authorEntries(lower, snap))
	case ActionLiteral:
		return rule.Reply
	case ActionHelp:
		return c.help(idx)
	}
	return ""
}

// pick returns the text of a uniformly chosen entry, "" for none
func (c *Classifier) pick(entries []domain.CatalogEntry) string {
	if len(entries) == 0 {
		return ""
	}
	return entries[c.rand.IntN(len(entries))].Text
}

// authorEntries unions the entries of every author with an alias in the
// message, in author key order
func (c *Classifier) authorEntries(lower string, snap *Snapshot) []domain.CatalogEntry {
	keys := make([]string, 0, len(snap.ByAuthor))
	for key := range snap.ByAuthor {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var out []domain.CatalogEntry
	for _, key := range keys {
		if containsAny(lower, c.rules.aliases(key)) {
			out = append(out, snap.ByAuthor[key]...)
		}
	}
	return out
}

// help lists the keywords of every rule before the help rule
func (c *Classifier) help(idx int) string {
	var sb strings.Builder
	sb.WriteString(c.rules.HelpHeader)
	for _, rule := range c.rules.Rules[:idx] {
		for _, kw := range c.rules.keywords(rule) {
			sb.WriteString(" `")
			sb.WriteString(kw)
			sb.WriteString("`")
		}
	}
	return sb.String()
}

func (r *Rules) authorKeys() []string {
	keys := make([]string, 0, len(r.Authors))
	for key := range r.Authors {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
