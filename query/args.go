package query

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Arguments is a parsed command line: `--name=value` and `--name` tokens
// become named arguments, everything else is positional.
type Arguments struct {
	named      map[string]string
	positional []string
}

// ParseArguments splits already-tokenized arguments (see tokenize) into
// flags and positionals. The first token (the command name) must already
// be stripped.
func ParseArguments(tokens []string) *Arguments {
	a := &Arguments{named: map[string]string{}}
	for _, tok := range tokens {
		if !strings.HasPrefix(tok, "--") {
			a.positional = append(a.positional, tok)
			continue
		}
		body := tok[2:]
		if eq := strings.IndexByte(body, '='); eq >= 0 {
			a.named[body[:eq]] = body[eq+1:]
		} else {
			a.named[body] = ""
		}
	}
	return a
}

// tokenize splits line on whitespace; a double-quoted run is one token
// with the quotes removed.
func tokenize(line string) []string {
	var tokens []string
	var current strings.Builder
	inQuote := false
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
		case !inQuote && (r == ' ' || r == '\t'):
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// Has reports whether the named flag was present.
func (a *Arguments) Has(name string) bool {
	_, ok := a.named[name]
	return ok
}

// Get returns the named flag's value, or def when absent.
func (a *Arguments) Get(name, def string) string {
	if v, ok := a.named[name]; ok {
		return v
	}
	return def
}

// GetUint returns the named flag parsed as a non-negative integer
// (decimal, or hex with an 0x prefix), or def when absent.
func (a *Arguments) GetUint(name string, def uint64) (uint64, error) {
	v, ok := a.named[name]
	if !ok {
		return def, nil
	}
	parsed, err := parseUint(v)
	if err != nil {
		return 0, errors.Wrapf(err, "flag --%s", name)
	}
	return parsed, nil
}

// Positional returns the i'th positional argument.
func (a *Arguments) Positional(i int) (string, bool) {
	if i < 0 || i >= len(a.positional) {
		return "", false
	}
	return a.positional[i], true
}

// PositionalCount returns how many positional arguments were given.
func (a *Arguments) PositionalCount() int {
	return len(a.positional)
}

func parseUint(s string) (uint64, error) {
	if rest, ok := strings.CutPrefix(s, "0x"); ok {
		return strconv.ParseUint(rest, 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

// parseAddr parses a mapped address: bare hex digits, with or without an
// 0x prefix.
func parseAddr(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	addr, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, errors.Errorf("not an address: %q", s)
	}
	return addr, nil
}
