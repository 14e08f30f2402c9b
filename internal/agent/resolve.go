package agent

import (
	"slices"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/ana/internal/entity"
)

const (
	// phoneticThreshold is the minimum Jaro-Winkler score of a reference
	// whose every word sounds like a word of the entity.
	phoneticThreshold = 0.85

	// fuzzyThreshold is the minimum score when the reference does not sound
	// like the entity.
	fuzzyThreshold = 0.92
)

// entityResolver maps the entity references a model writes back onto the ids
// of a snapshot. Models copy ids faithfully most of the time, but sometimes
// answer with the display name ("North Door"), another separator
// ("north_door") or a misspelling ("nroth-door").
//
// Resolution tries, in order: the exact id; the normalised reference against
// normalised ids and names; Double Metaphone codes plus Jaro-Winkler
// similarity against phoneticThreshold; plain Jaro-Winkler against
// fuzzyThreshold. The highest score wins, ties go to the earlier entity.
type entityResolver struct {
	ids     map[string]bool
	targets []resolveTarget
}

type resolveTarget struct {
	id    string
	keys  []string
	codes map[string]struct{}
}

func newEntityResolver(nearby []*entity.Entity) *entityResolver {
	r := &entityResolver{ids: make(map[string]bool, len(nearby))}
	for _, e := range nearby {
		r.ids[e.ID] = true
		t := resolveTarget{id: e.ID}
		for _, k := range []string{normalizeRef(e.ID), normalizeRef(e.Name)} {
			if k != "" && !slices.Contains(t.keys, k) {
				t.keys = append(t.keys, k)
			}
		}
		t.codes = metaphoneCodes(t.keys)
		r.targets = append(r.targets, t)
	}
	return r
}

// resolve returns the snapshot id ref refers to.
func (r *entityResolver) resolve(ref string) (string, bool) {
	if r.ids[ref] {
		return ref, true
	}
	norm := normalizeRef(ref)
	if norm == "" {
		return "", false
	}
	for _, t := range r.targets {
		if slices.Contains(t.keys, norm) {
			return t.id, true
		}
	}

	refTokens := strings.Fields(norm)
	var (
		bestID    string
		bestScore float64
	)
	for _, t := range r.targets {
		threshold := fuzzyThreshold
		if soundsLike(refTokens, t.codes) {
			threshold = phoneticThreshold
		}
		for _, k := range t.keys {
			score := similarity(norm, k)
			if score >= threshold && score > bestScore {
				bestID, bestScore = t.id, score
			}
		}
	}
	return bestID, bestID != ""
}

// normalizeRef lowercases s and turns every run of separators into a single
// space: "North_Door", "north-door" and "north door" all become "north door".
func normalizeRef(s string) string {
	f := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(f, " ")
}

// similarity is the better Jaro-Winkler score of the spaced and the
// concatenated forms of a and b.
func similarity(a, b string) float64 {
	score := matchr.JaroWinkler(a, b, false)
	joinedA, joinedB := strings.ReplaceAll(a, " ", ""), strings.ReplaceAll(b, " ", "")
	if joinedA != a || joinedB != b {
		if s := matchr.JaroWinkler(joinedA, joinedB, false); s > score {
			score = s
		}
	}
	return score
}

// soundsLike reports whether every token shares a Double Metaphone code with
// the target. Requiring all tokens keeps "north window" from sounding like
// "north door".
func soundsLike(tokens []string, codes map[string]struct{}) bool {
	if len(tokens) == 0 {
		return false
	}
	for _, tok := range tokens {
		p, s := matchr.DoubleMetaphone(tok)
		_, okP := codes[p]
		_, okS := codes[s]
		if !(p != "" && okP) && !(s != "" && okS) {
			return false
		}
	}
	return true
}

func metaphoneCodes(keys []string) map[string]struct{} {
	codes := map[string]struct{}{}
	for _, k := range keys {
		for _, tok := range strings.Fields(k) {
			p, s := matchr.DoubleMetaphone(tok)
			if p != "" {
				codes[p] = struct{}{}
			}
			if s != "" {
				codes[s] = struct{}{}
			}
		}
	}
	return codes
}
