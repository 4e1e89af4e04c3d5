// Package linker rewrites markdown text so that mentions of known persons
// become links to their remote threads.
package linker

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/starford/dossier/internal/slug"
)

const (
	// DefaultMaxLinks caps replacements per text.
	DefaultMaxLinks = 15
	// DefaultLinkBase is the prefix of a Discord channel URL.
	DefaultLinkBase = "https://discord.com/channels"
)

var linkSpan = regexp.MustCompile(`\[[^\]]*\]\([^)]*\)`)

// Target is one linkable person: every name resolves to the same thread.
type Target struct {
	GuildID  string
	ThreadID string
	Names    []string
}

// Linker builds per-guild mention indexes.
type Linker struct {
	base     string
	maxLinks int
}

// New returns a Linker producing links under base. maxLinks <= 0 selects
// DefaultMaxLinks.
func New(base string, maxLinks int) *Linker {
	if base == "" {
		base = DefaultLinkBase
	}
	if maxLinks <= 0 {
		maxLinks = DefaultMaxLinks
	}
	return &Linker{base: strings.TrimRight(base, "/"), maxLinks: maxLinks}
}

// ThreadURL returns the link for a thread in a guild.
func (l *Linker) ThreadURL(guildID, threadID string) string {
	return l.base + "/" + guildID + "/" + threadID
}

// Index is a compiled token set. The zero value and nil links nothing.
type Index struct {
	pattern  *regexp.Regexp
	urls     map[string]string
	tokens   []token
	maxLinks int
}

type token struct {
	text string
	url  string
}

// Build compiles an index from targets. When two targets share a token the
// first one keeps it.
func (l *Linker) Build(targets []Target) *Index {
	urls := make(map[string]string)
	var toks []token
	for _, t := range targets {
		url := l.ThreadURL(t.GuildID, t.ThreadID)
		for _, name := range t.Names {
			name = strings.TrimSpace(name)
			key := slug.Fold(name)
			if key == "" {
				continue
			}
			if _, taken := urls[key]; taken {
				continue
			}
			urls[key] = url
			toks = append(toks, token{text: name, url: url})
		}
	}
	ix := &Index{urls: urls, maxLinks: l.maxLinks}
	if len(toks) == 0 {
		return ix
	}

	// Longest first so a full name wins over an alias that is its prefix.
	sort.Slice(toks, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(toks[i].text), utf8.RuneCountInString(toks[j].text)
		if li != lj {
			return li > lj
		}
		return toks[i].text < toks[j].text
	})
	ix.tokens = toks
	quoted := make([]string, len(toks))
	for i, tok := range toks {
		quoted[i] = regexp.QuoteMeta(tok.text)
	}
	ix.pattern = regexp.MustCompile(`(?i)(?:` + strings.Join(quoted, "|") + `)`)
	return ix
}

// Len returns the number of distinct tokens in the index.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.urls)
}

// Link returns text with whole-word mentions replaced by markdown links.
// Matches inside inline code or an existing markdown link are left alone.
func (ix *Index) Link(text string) string {
	if ix == nil || ix.pattern == nil || text == "" {
		return text
	}
	ticks := backticks(text)
	spans := linkSpan.FindAllStringIndex(text, -1)

	var b strings.Builder
	last, pos, n := 0, 0, 0
	for pos < len(text) && n < ix.maxLinks {
		loc := ix.pattern.FindStringIndex(text[pos:])
		if loc == nil {
			break
		}
		start := pos + loc[0]
		end, url := ix.wordAt(text, start)
		if end < 0 || inCode(ticks, start) || inSpan(spans, start) {
			_, size := utf8.DecodeRuneInString(text[start:])
			pos = start + size
			continue
		}
		b.WriteString(text[last:start])
		b.WriteString("[" + text[start:end] + "](" + url + ")")
		last, pos = end, end
		n++
	}
	if n == 0 {
		return text
	}
	b.WriteString(text[last:])
	return b.String()
}

// wordAt returns the end offset and link of the longest token that matches
// text at start as a whole word, or -1 when none does. A longer token that
// runs into a following letter gives way to a shorter one.
func (ix *Index) wordAt(text string, start int) (int, string) {
	for _, tok := range ix.tokens {
		n := foldPrefix(text[start:], tok.text)
		if n < 0 {
			continue
		}
		if end := start + n; wholeWord(text, start, end) {
			return end, tok.url
		}
	}
	return -1, ""
}

// foldPrefix reports the byte length of the prefix of s that equals tok
// under simple case folding, or -1.
func foldPrefix(s, tok string) int {
	i := 0
	for _, tr := range tok {
		if i >= len(s) {
			return -1
		}
		sr, size := utf8.DecodeRuneInString(s[i:])
		if !equalFoldRune(sr, tr) {
			return -1
		}
		i += size
	}
	return i
}

func equalFoldRune(a, b rune) bool {
	if a == b {
		return true
	}
	for r := unicode.SimpleFold(a); r != a; r = unicode.SimpleFold(r) {
		if r == b {
			return true
		}
	}
	return false
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func wholeWord(text string, start, end int) bool {
	if start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(text[:start]); isWord(r) {
			return false
		}
	}
	if end < len(text) {
		if r, _ := utf8.DecodeRuneInString(text[end:]); isWord(r) {
			return false
		}
	}
	return true
}

// backticks returns the offsets of backticks not preceded by a backslash.
func backticks(text string) []int {
	var out []int
	for i := 0; i < len(text); i++ {
		if text[i] == '`' && (i == 0 || text[i-1] != '\\') {
			out = append(out, i)
		}
	}
	return out
}

// inCode reports whether an odd number of unescaped backticks precede offset.
func inCode(ticks []int, offset int) bool {
	return sort.SearchInts(ticks, offset)%2 == 1
}

func inSpan(spans [][]int, offset int) bool {
	for _, s := range spans {
		if offset >= s[0] && offset < s[1] {
			return true
		}
	}
	return false
}
