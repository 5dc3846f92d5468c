package command

import (
	"strings"
)

// tokenizeLine splits a command line into tokens while supporting quotes.
// Examples:
//
//	add --name "weekly report" --priority 2 --in 30 min
func tokenizeLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out    []string
		buf    strings.Builder
		inQ    bool
		qChar  byte
		esc    bool
		quoted bool
	)
	flush := func() {
		if buf.Len() > 0 || quoted {
			out = append(out, buf.String())
			buf.Reset()
		}
		quoted = false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if esc {
			buf.WriteByte(ch)
			esc = false
			continue
		}
		if ch == '\\' {
			esc = true
			continue
		}
		if inQ {
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteByte(ch)
			continue
		}
		switch ch {
		case '"', '\'':
			inQ = true
			quoted = true
			qChar = ch
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

// flagSet holds the "--key value words" groups of one command line.
type flagSet struct {
	values map[string][]string
	order  []string
}

func (f flagSet) has(key string) bool {
	_, ok := f.values[key]
	return ok
}

// words returns the value tokens of key joined by single spaces.
func (f flagSet) words(key string) string {
	return strings.Join(f.values[key], " ")
}

// parseFlags splits args into leading positionals and flag groups.
//
// Supported:
//
//	--k v1 v2, --k=v, --flag (no value)
//
// Tokens with a single dash ("-5min") are values, not flags. A repeated flag
// replaces the earlier group.
func parseFlags(args []string) (pos []string, flags flagSet) {
	flags.values = map[string][]string{}
	cur := ""
	for _, a := range args {
		if strings.HasPrefix(a, "--") && len(a) > 2 {
			key := strings.TrimPrefix(a, "--")
			var inline []string
			if eq := strings.IndexByte(key, '='); eq >= 0 {
				inline = []string{key[eq+1:]}
				key = key[:eq]
			}
			key = strings.ToLower(key)
			if _, seen := flags.values[key]; !seen {
				flags.order = append(flags.order, key)
			}
			flags.values[key] = inline
			cur = key
			continue
		}
		if cur == "" {
			pos = append(pos, a)
			continue
		}
		flags.values[cur] = append(flags.values[cur], a)
	}
	return pos, flags
}
