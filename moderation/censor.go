// Package moderation masks forbidden words in posted messages.
//
// Matching runs on a folded form of the text (lowercased, leet speak mapped
// back to letters, punctuation and spacing stripped) so trivial obfuscations
// like "b.a-d w0rd" are still caught. The mask is applied to the original
// runes, preserving layout.
package moderation

import (
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"

	"telchat/errors"
)

type Censor struct {
	machine *goahocorasick.Machine
	mask    rune
}

// NewCensor builds the Aho-Corasick automaton over the folded word list.
func NewCensor(words []string, mask rune) (*Censor, error) {
	if len(words) == 0 {
		return nil, errors.ErrEmptyWords
	}
	patterns := make([][]rune, 0, len(words))
	for _, w := range words {
		folded, _ := fold([]rune(w))
		if len(folded) == 0 {
			continue
		}
		patterns = append(patterns, folded)
	}
	if len(patterns) == 0 {
		return nil, errors.ErrEmptyWords
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	return &Censor{machine: m, mask: mask}, nil
}

// Apply returns the text with every matched span replaced by the mask rune.
// A nil Censor passes text through untouched, so moderation stays optional.
func (c *Censor) Apply(text string) string {
	if c == nil || c.machine == nil {
		return text
	}

	orig := []rune(text)
	folded, origIdx := fold(orig)
	if len(folded) == 0 {
		return text
	}

	hits := c.machine.MultiPatternSearch(folded, false)
	if len(hits) == 0 {
		return text
	}

	for _, hit := range hits {
		start := hit.Pos
		end := start + len(hit.Word)
		if start < 0 || end > len(origIdx) {
			continue
		}
		// Mask the original span covered by the folded match, including any
		// stripped noise characters in between.
		for i := origIdx[start]; i <= origIdx[end-1]; i++ {
			orig[i] = c.mask
		}
	}
	return string(orig)
}

// fold lowercases, undoes common leet substitutions and drops noise runes.
// The second return value maps each folded rune back to its original index.
func fold(in []rune) ([]rune, []int) {
	out := make([]rune, 0, len(in))
	idx := make([]int, 0, len(in))
	for i, r := range in {
		r = unleet(r)
		if unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r) {
			continue
		}
		out = append(out, unicode.ToLower(r))
		idx = append(idx, i)
	}
	return out, idx
}

func unleet(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	case '7':
		return 't'
	default:
		return r
	}
}
