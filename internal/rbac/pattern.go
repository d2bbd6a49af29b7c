package rbac

import (
	"errors"
	"strings"
)

type segmentKind uint8

const (
	segLiteral segmentKind = iota
	segParam
	segWildcard
	segGlob
)

type segment struct {
	kind   segmentKind
	text   string
	tokens []token
	// tail is set on a final glob ending in a star; it matches the rest of
	// the path across segment boundaries.
	tail bool
}

type tokenKind uint8

const (
	tokLiteral tokenKind = iota
	tokStar
	tokParam
)

type token struct {
	kind tokenKind
	text string
}

// pattern is a compiled resource path pattern.
//
//	*                  every path
//	/roles             literal segments compare exactly
//	/roles/{id}        a placeholder matches one non-empty segment
//	/roles/*           a bare star matches one or more segments, possibly empty
//	/roles/r*          a star inside a segment matches any run within that segment
//	/items/{id}.json   a placeholder inside a segment matches a non-empty run
//	/admins*           a final star inside a segment also matches later segments
type pattern struct {
	all      bool
	segments []segment
}

var (
	errEmptyPattern   = errors.New("rbac: empty path pattern")
	errRelative       = errors.New("rbac: path pattern must start with /")
	errBadPlaceholder = errors.New("rbac: malformed placeholder")
)

func compilePattern(raw string) (*pattern, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return nil, errEmptyPattern
	case raw == "*":
		return &pattern{all: true}, nil
	case raw[0] != '/':
		return nil, errRelative
	}

	parts := strings.Split(raw[1:], "/")
	p := &pattern{segments: make([]segment, 0, len(parts))}
	for i, part := range parts {
		seg, err := compileSegment(part)
		if err != nil {
			return nil, err
		}
		if seg.kind == segGlob && i == len(parts)-1 {
			last := seg.tokens[len(seg.tokens)-1]
			seg.tail = last.kind == tokStar
		}
		p.segments = append(p.segments, seg)
	}
	return p, nil
}

func compileSegment(s string) (segment, error) {
	if s == "*" {
		return segment{kind: segWildcard}, nil
	}
	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		name := s[1 : len(s)-1]
		if name == "" || strings.ContainsAny(name, "{}*") {
			return segment{}, errBadPlaceholder
		}
		return segment{kind: segParam, text: name}, nil
	}
	if !strings.ContainsAny(s, "{}*") {
		return segment{kind: segLiteral, text: s}, nil
	}
	tokens, err := tokenize(s)
	if err != nil {
		return segment{}, err
	}
	return segment{kind: segGlob, tokens: tokens}, nil
}

func tokenize(s string) ([]token, error) {
	var out []token
	for s != "" {
		switch s[0] {
		case '*':
			if n := len(out); n == 0 || out[n-1].kind != tokStar {
				out = append(out, token{kind: tokStar})
			}
			s = s[1:]
		case '{':
			end := strings.IndexByte(s, '}')
			if end < 0 {
				return nil, errBadPlaceholder
			}
			name := s[1:end]
			if name == "" || strings.ContainsAny(name, "{*") {
				return nil, errBadPlaceholder
			}
			out = append(out, token{kind: tokParam, text: name})
			s = s[end+1:]
		case '}':
			return nil, errBadPlaceholder
		default:
			end := strings.IndexAny(s, "{}*")
			if end < 0 {
				end = len(s)
			}
			out = append(out, token{kind: tokLiteral, text: s[:end]})
			s = s[end:]
		}
	}
	return out, nil
}

func (p *pattern) match(path string) bool {
	if p.all {
		return true
	}
	if path == "" || path[0] != '/' {
		return false
	}
	segs := strings.Split(path[1:], "/")
	m := &matcher{pattern: p.segments, path: segs, memo: make([]uint8, (len(p.segments)+1)*(len(segs)+1))}
	return m.from(0, 0)
}

type matcher struct {
	pattern []segment
	path    []string
	memo    []uint8
}

const (
	memoUnknown uint8 = iota
	memoMatch
	memoMiss
)

func (m *matcher) from(i, j int) bool {
	idx := i*(len(m.path)+1) + j
	if v := m.memo[idx]; v != memoUnknown {
		return v == memoMatch
	}
	ok := m.step(i, j)
	if ok {
		m.memo[idx] = memoMatch
	} else {
		m.memo[idx] = memoMiss
	}
	return ok
}

func (m *matcher) step(i, j int) bool {
	if i == len(m.pattern) {
		return j == len(m.path)
	}
	seg := m.pattern[i]
	if seg.tail {
		return j < len(m.path) && matchTokens(seg.tokens, strings.Join(m.path[j:], "/"), true)
	}
	if seg.kind == segWildcard {
		if i == len(m.pattern)-1 {
			return j < len(m.path)
		}
		for k := j + 1; k <= len(m.path); k++ {
			if m.from(i+1, k) {
				return true
			}
		}
		return false
	}
	if j == len(m.path) || !seg.matches(m.path[j]) {
		return false
	}
	return m.from(i+1, j+1)
}

func (s segment) matches(v string) bool {
	switch s.kind {
	case segLiteral:
		return s.text == v
	case segParam:
		return v != ""
	case segGlob:
		return matchTokens(s.tokens, v, false)
	default:
		return false
	}
}

// matchTokens reports whether v is spelled by tokens. A star matches any
// run, a placeholder a non-empty run; neither crosses a slash unless
// crossSlash is set, and placeholders never do.
func matchTokens(tokens []token, v string, crossSlash bool) bool {
	n, width := len(tokens), len(v)+1
	dp := make([]bool, (n+1)*width)
	dp[n*width+len(v)] = true
	for i := n - 1; i >= 0; i-- {
		tok := tokens[i]
		for p := len(v); p >= 0; p-- {
			var ok bool
			switch tok.kind {
			case tokLiteral:
				ok = strings.HasPrefix(v[p:], tok.text) && dp[(i+1)*width+p+len(tok.text)]
			case tokStar:
				ok = dp[(i+1)*width+p] ||
					(p < len(v) && (crossSlash || v[p] != '/') && dp[i*width+p+1])
			case tokParam:
				ok = p < len(v) && v[p] != '/' &&
					(dp[(i+1)*width+p+1] || dp[i*width+p+1])
			}
			dp[i*width+p] = ok
		}
	}
	return dp[0]
}
