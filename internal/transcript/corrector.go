package transcript

import (
	"strings"
	"sync"
	"unicode"

	"github.com/MrWong99/earshot/internal/transcript/phonetic"
)

// Correction records one substitution made by a Corrector.
type Correction struct {
	// Original is the phrase as transcribed, without surrounding
	// punctuation.
	Original string

	// Corrected is the vocabulary term that replaced it.
	Corrected string

	// Confidence is the matcher score in [0,1].
	Confidence float64
}

// Corrector replaces misheard phrases with terms from a user vocabulary.
//
// At each word position the longest window of up to the longest term's word
// count is tried first, so multi-word terms win over single-word ones.
// Windows never span punctuation between words. Leading and trailing
// punctuation of the window is kept around the replacement.
//
// A Corrector is safe for concurrent use; SetVocabulary may be called while
// Correct runs.
type Corrector struct {
	matcher *phonetic.Matcher

	mu    sync.RWMutex
	vocab *phonetic.Vocabulary
}

// NewCorrector returns a Corrector for terms. An empty vocabulary makes
// Correct a no-op.
func NewCorrector(terms []string, opts ...phonetic.Option) *Corrector {
	return &Corrector{
		matcher: phonetic.New(opts...),
		vocab:   phonetic.NewVocabulary(terms),
	}
}

// SetVocabulary replaces the vocabulary.
func (c *Corrector) SetVocabulary(terms []string) {
	v := phonetic.NewVocabulary(terms)
	c.mu.Lock()
	c.vocab = v
	c.mu.Unlock()
}

// Correct returns text with vocabulary corrections applied, and the list of
// substitutions that changed the text. Whitespace is normalised to single
// spaces when at least one substitution was made.
func (c *Corrector) Correct(text string) (string, []Correction) {
	c.mu.RLock()
	vocab := c.vocab
	c.mu.RUnlock()
	if vocab.Len() == 0 {
		return text, nil
	}

	tokens := strings.Fields(text)
	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		n := min(vocab.MaxWords(), len(tokens)-i)
		matched := false
		for ; n >= 1; n-- {
			window := tokens[i : i+n]
			lead, core, trail, ok := splitWindow(window)
			if !ok {
				continue
			}
			term, score, hit := c.matcher.Match(core, vocab)
			if !hit {
				continue
			}
			out = append(out, lead+term+trail)
			if term != core {
				corrections = append(corrections, Correction{Original: core, Corrected: term, Confidence: score})
			}
			i += n
			matched = true
			break
		}
		if !matched {
			out = append(out, tokens[i])
			i++
		}
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// splitWindow strips leading punctuation from the first token and trailing
// punctuation from the last. It reports false when punctuation separates
// tokens inside the window or nothing is left to match.
func splitWindow(window []string) (lead, core, trail string, ok bool) {
	words := make([]string, len(window))
	for j, tok := range window {
		l, w, t := splitPunct(tok)
		if (l != "" && j > 0) || (t != "" && j < len(window)-1) || w == "" {
			return "", "", "", false
		}
		if j == 0 {
			lead = l
		}
		if j == len(window)-1 {
			trail = t
		}
		words[j] = w
	}
	return lead, strings.Join(words, " "), trail, true
}

func splitPunct(tok string) (lead, word, trail string) {
	isPunct := func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) }
	word = strings.TrimLeftFunc(tok, isPunct)
	lead = tok[:len(tok)-len(word)]
	trimmed := strings.TrimRightFunc(word, isPunct)
	trail = word[len(trimmed):]
	return lead, trimmed, trail
}
