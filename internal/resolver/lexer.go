package resolver

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/vk/dfkernel/internal/cellid"
)

type tokenKind int

const (
	tokName tokenKind = iota
	tokNumber
	tokDollar
	tokOp
)

type token struct {
	kind       tokenKind
	text       string
	start, end int
	// inField marks tokens inside an f-string replacement field.
	inField bool
}

// tokenize splits Python-like source into the tokens reference scanning
// cares about. Comments and string literals are skipped, so a "$" inside
// either never starts a reference. The replacement fields of f-strings are
// code and are tokenized.
func tokenize(src string) []token {
	var tokens []token
	i := 0
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case r == '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case unicode.IsSpace(r) || r == '\\':
			i += size
		case r == '\'' || r == '"':
			i = skipString(src, i)
		case r == '_' || unicode.IsLetter(r):
			start := i
			i = scanWord(src, i)
			word := src[start:i]
			if i < len(src) && (src[i] == '\'' || src[i] == '"') && isStringPrefix(word) {
				if strings.ContainsAny(word, "fF") {
					var fields []token
					fields, i = scanFString(src, i)
					tokens = append(tokens, fields...)
				} else {
					i = skipString(src, i)
				}
				continue
			}
			tokens = append(tokens, token{kind: tokName, text: word, start: start, end: i})
		case unicode.IsDigit(r):
			start := i
			i = scanWord(src, i)
			tokens = append(tokens, token{kind: tokNumber, text: src[start:i], start: start, end: i})
		case r == '$':
			tokens = append(tokens, token{kind: tokDollar, text: "$", start: i, end: i + 1})
			i++
		default:
			tokens = append(tokens, token{kind: tokOp, text: src[i : i+size], start: i, end: i + size})
			i += size
		}
	}
	return tokens
}

func scanWord(src string, i int) int {
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		i += size
	}
	return i
}

func isStringPrefix(word string) bool {
	switch strings.ToLower(word) {
	case "r", "u", "b", "f", "br", "rb", "fr", "rf":
		return true
	}
	return false
}

// skipString returns the offset just past the string literal opening at i.
// An unterminated literal runs to the end of the source.
func skipString(src string, i int) int {
	quote := src[i]
	delim := string(quote)
	if strings.HasPrefix(src[i:], strings.Repeat(delim, 3)) {
		delim = strings.Repeat(delim, 3)
	}
	j := i + len(delim)
	for j < len(src) {
		switch {
		case src[j] == '\\':
			j += 2
		case strings.HasPrefix(src[j:], delim):
			return j + len(delim)
		case src[j] == '\n' && len(delim) == 1:
			return j
		default:
			j++
		}
	}
	return len(src)
}

// scanRefs is pass 1: it finds every name$suffix reference. A reference
// starts at a name immediately followed by "$", takes an optional
// qualifier right after the "$", then a word, optionally followed by ":" and
// a second word. Any token that cannot continue the reference ends it.
func scanRefs(src string, inputTags map[string]cellid.ID) []Ref {
	tokens := tokenize(src)
	var refs []Ref

	for i := 0; i < len(tokens); i++ {
		dollar := tokens[i]
		if dollar.kind != tokDollar || i == 0 {
			continue
		}
		name := tokens[i-1]
		if name.kind != tokName || name.end != dollar.start {
			continue
		}

		ref := Ref{Start: name.start, End: dollar.end, Name: name.text}
		j := i + 1
		adjacent := func(k int) bool { return k < len(tokens) && tokens[k].start == ref.End }

		if adjacent(j) && tokens[j].kind == tokOp {
			if q, ok := parseQualifier(tokens[j].text); ok {
				ref.Qualifier = q
				ref.End = tokens[j].end
				j++
			}
		}

		var suffix string
		if adjacent(j) && isWord(tokens[j]) {
			suffix = tokens[j].text
			ref.End = tokens[j].end
			j++
			if adjacent(j) && tokens[j].text == ":" && j+1 < len(tokens) &&
				tokens[j+1].start == tokens[j].end && isWord(tokens[j+1]) &&
				(!tokens[j].inField || isTag(suffix, inputTags)) {
				suffix += ":" + tokens[j+1].text
				ref.End = tokens[j+1].end
				j += 2
			}
		}
		fillSuffix(&ref, suffix, inputTags)
		refs = append(refs, ref)
		i = j - 1
	}
	return refs
}

// isTag reports whether word names an input tag. Inside an f-string field a
// colon after anything else starts the format spec.
func isTag(word string, inputTags map[string]cellid.ID) bool {
	_, ok := inputTags[word]
	return ok
}

func isWord(t token) bool {
	return t.kind == tokName || t.kind == tokNumber
}

// fillSuffix interprets "tag:id", a known input tag, or a raw cell id.
func fillSuffix(ref *Ref, suffix string, inputTags map[string]cellid.ID) {
	if suffix == "" {
		return
	}
	if tag, id, ok := cellid.SplitSuffix(suffix); ok {
		ref.Tag, ref.CellID = tag, id
		return
	}
	if id, ok := inputTags[suffix]; ok {
		ref.Tag, ref.CellID = suffix, id
		return
	}
	ref.CellID = cellid.ID(suffix)
}

// References returns the "$" references of src without consulting any link
// table. Linearized export uses it to discover cross-cell edges.
func References(src string, inputTags map[string]cellid.ID) []Ref {
	return scanRefs(src, inputTags)
}

// scanFString tokenizes the replacement fields of the f-string opening at i
// and returns them with the offset just past the literal.
func scanFString(src string, i int) ([]token, int) {
	delim := string(src[i])
	if strings.HasPrefix(src[i:], strings.Repeat(delim, 3)) {
		delim = strings.Repeat(delim, 3)
	}
	var tokens []token
	j := i + len(delim)
	for j < len(src) {
		switch {
		case src[j] == '\\':
			j += 2
		case strings.HasPrefix(src[j:], delim):
			return tokens, j + len(delim)
		case src[j] == '\n' && len(delim) == 1:
			return tokens, j
		case strings.HasPrefix(src[j:], "{{"), strings.HasPrefix(src[j:], "}}"):
			j += 2
		case src[j] == '{':
			var field []token
			field, j = scanField(src, j)
			tokens = append(tokens, field...)
		default:
			j++
		}
	}
	return tokens, len(src)
}

// scanField tokenizes the replacement field opening at src[i] == '{',
// format spec included, and returns the offset just past its closing brace.
func scanField(src string, i int) ([]token, int) {
	start := i + 1
	depth := 0
	end, next := len(src), len(src)
	for j := start; j < len(src); j++ {
		c := src[j]
		if c == '\'' || c == '"' {
			j = skipString(src, j) - 1
			continue
		}
		if c == '(' || c == '[' || c == '{' {
			depth++
			continue
		}
		if c == '}' && depth == 0 {
			end, next = j, j+1
			break
		}
		if c == ')' || c == ']' || c == '}' {
			depth--
		}
	}
	tokens := tokenize(src[start:end])
	for k := range tokens {
		tokens[k].start += start
		tokens[k].end += start
		tokens[k].inField = true
	}
	return tokens, next
}
