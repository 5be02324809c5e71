package nmodl

import (
	"regexp"
	"strings"
)

var (
	commentsRe = regexp.MustCompile(`(?:COMMENT|ENDCOMMENT)`)
	verbatimRe = regexp.MustCompile(`(?:VERBATIM|ENDVERBATIM)`)
	titleRe    = regexp.MustCompile(`TITLE (.*)`)
	defineRe   = regexp.MustCompile(`(?m)^[ \t]*DEFINE\s+(\w+)\s+([\d.\-eE]+)`)
	headerRe   = regexp.MustCompile(`^ *(\w+)(.*)`)
)

// rawBlock is one named top-level source section. Multiply-occurring block
// kinds (FUNCTION, PROCEDURE, DERIVATIVE, KINETIC, LINEAR) carry a
// signature; NET_RECEIVE carries its argument list there too.
type rawBlock struct {
	name      string
	signature string
	lines     []string
}

// blockSet holds the top-level blocks in source order. Extractors pop the
// blocks they own; anything left after extraction violates the compiler's
// completeness invariant.
type blockSet struct {
	blocks []*rawBlock
}

// pop removes and returns the lines of the sole block with the given name.
func (bs *blockSet) pop(name string) ([]string, bool) {
	for i, b := range bs.blocks {
		if b.name == name {
			bs.blocks = append(bs.blocks[:i], bs.blocks[i+1:]...)
			return b.lines, true
		}
	}
	return nil, false
}

// popNamed removes all blocks of the given kind and returns them keyed by
// signature.
func (bs *blockSet) popNamed(name string) map[string][]string {
	out := make(map[string][]string)
	kept := bs.blocks[:0]
	for _, b := range bs.blocks {
		if b.name == name {
			out[b.signature] = b.lines
		} else {
			kept = append(kept, b)
		}
	}
	bs.blocks = kept
	return out
}

// popSignature removes the sole block with the given name and returns its
// signature alongside its lines.
func (bs *blockSet) popSignature(name string) (string, []string, bool) {
	for i, b := range bs.blocks {
		if b.name == name {
			bs.blocks = append(bs.blocks[:i], bs.blocks[i+1:]...)
			return b.signature, b.lines, true
		}
	}
	return "", nil, false
}

// remaining lists the names of unconsumed blocks.
func (bs *blockSet) remaining() []string {
	var names []string
	for _, b := range bs.blocks {
		names = append(names, b.name)
	}
	return names
}

// stripRegions removes COMMENT…ENDCOMMENT regions, returning the stripped
// text and the comment bodies. The same splitter handles VERBATIM regions.
func stripRegions(re *regexp.Regexp, contents string) (string, []string) {
	parts := re.Split(contents, -1)
	if len(parts) == 1 {
		return contents, nil
	}
	var kept strings.Builder
	var removed []string
	for i, p := range parts {
		if i%2 == 0 {
			kept.WriteString(p)
		} else {
			removed = append(removed, p)
		}
	}
	return kept.String(), removed
}

// readTitle extracts the TITLE line if present.
func readTitle(contents string) string {
	if m := titleRe.FindStringSubmatch(contents); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// lineIter iterates over source lines with single-step pull semantics and
// one-line push-back.
type lineIter struct {
	lines  []string
	pos    int
	pushed []string
}

func newLineIter(lines []string) *lineIter {
	return &lineIter{lines: lines}
}

func (it *lineIter) next() (string, bool) {
	if len(it.pushed) > 0 {
		line := it.pushed[len(it.pushed)-1]
		it.pushed = it.pushed[:len(it.pushed)-1]
		return line, true
	}
	if it.pos >= len(it.lines) {
		return "", false
	}
	line := it.lines[it.pos]
	it.pos++
	return line, true
}

// push returns a line to the iterator so the next call to next yields it.
func (it *lineIter) push(line string) {
	it.pushed = append(it.pushed, line)
}

// cleanLines strips per-line ':' comments and tabs and drops blank lines,
// the normalization every block consumer relies on.
func cleanLines(lines []string) []string {
	var out []string
	for _, line := range lines {
		line = strings.SplitN(line, ":", 2)[0]
		line = strings.ReplaceAll(line, "\t", " ")
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// braceScanner yields consecutive brace-delimited groups from a line
// stream: the text before the opening brace, the body lines (nested braces
// kept verbatim), and the remainder of the line after the closing brace.
type braceScanner struct {
	it          *lineIter
	line        string
	havePending bool
}

func newBraceScanner(it *lineIter, initial string) *braceScanner {
	return &braceScanner{it: it, line: initial, havePending: initial != ""}
}

// next returns the next brace group. ok is false at end of input. A brace
// left open at end of input is a fatal parse error naming the unterminated
// block.
func (s *braceScanner) next() (pre string, body []string, ok bool, err error) {
	depth := 0
	line := s.line
	if !s.havePending {
		var more bool
		line, more = s.it.next()
		if !more {
			return "", nil, false, nil
		}
	}
	s.havePending = false
	for {
		i := 0
		segStart := 0
		for i < len(line) {
			switch line[i] {
			case '{':
				if depth == 0 {
					pre += line[:i]
					line = line[i+1:]
					i = 0
					segStart = 0
					depth = 1
					continue
				}
				depth++
			case '}':
				if depth == 0 {
					return "", nil, false, parseErrf(line, "unmatched '}'")
				}
				depth--
				if depth == 0 {
					if seg := strings.TrimSpace(line[segStart:i]); seg != "" {
						body = append(body, seg)
					}
					s.line = line[i+1:]
					s.havePending = true
					return pre, body, true, nil
				}
			}
			i++
		}
		if depth > 0 {
			if seg := strings.TrimSpace(line[segStart:]); seg != "" {
				body = append(body, seg)
			}
		} else if line != "" {
			pre += line + "\n"
		}
		var more bool
		line, more = s.it.next()
		if !more {
			if depth > 0 {
				return "", nil, false, parseErrf(pre, "block ended inside enclosing brace")
			}
			// Trailing non-block text with no brace group.
			return "", nil, false, nil
		}
	}
}

// pending returns the unconsumed remainder held by the scanner, if any.
func (s *braceScanner) pending() (string, bool) {
	if s.havePending && strings.TrimSpace(s.line) != "" {
		return s.line, true
	}
	return "", false
}

// rest returns the unconsumed remainder of the current line, pulling the
// next line when the remainder is blank. Used to peek for 'else' after a
// closing brace.
func (s *braceScanner) restLine() (string, bool) {
	for {
		if s.havePending && strings.TrimSpace(s.line) != "" {
			return s.line, true
		}
		line, ok := s.it.next()
		if !ok {
			s.havePending = false
			return "", false
		}
		s.line = line
		s.havePending = true
		if strings.TrimSpace(line) != "" {
			return line, true
		}
	}
}

// readBlocks partitions the source text into top-level blocks. Non-block
// text between blocks (TITLE lines, DEFINE lines) is skipped; only the line
// carrying the opening brace names the block.
func readBlocks(contents string) (*blockSet, error) {
	bs := &blockSet{}
	it := newLineIter(strings.Split(contents, "\n"))
	scanner := newBraceScanner(it, "")
	for {
		pre, body, ok, err := scanner.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		header := ""
		for _, l := range strings.Split(pre, "\n") {
			if strings.TrimSpace(l) != "" {
				header = l
			}
		}
		m := headerRe.FindStringSubmatch(strings.TrimSpace(header))
		if m == nil {
			return nil, parseErrf(header, "cannot parse block header")
		}
		name := strings.TrimSpace(m[1])
		sig := strings.TrimSpace(m[2])
		if name == "NET_RECEIVE" && sig != "" {
			// The signature is the parenthesized argument list.
			sig = strings.TrimSuffix(strings.TrimPrefix(sig, "("), ")")
		}
		bs.blocks = append(bs.blocks, &rawBlock{name: name, signature: sig, lines: body})
	}
	return bs, nil
}

// splitArgs splits an argument list on commas while respecting nested
// parentheses, returning the arguments and the consumed prefix.
func splitArgs(arglist string) ([]string, string) {
	var args []string
	depth := 1
	start := 0
	end := len(arglist)
	for i := 0; i < len(arglist); i++ {
		switch arglist[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				end = i
				i = len(arglist)
			}
		case ',':
			if depth == 1 {
				args = append(args, strings.TrimSpace(arglist[start:i]))
				start = i + 1
			}
		}
	}
	if arg := strings.TrimSpace(arglist[start:end]); arg != "" {
		args = append(args, arg)
	}
	return args, arglist[:end]
}

// matchingParens returns the prefix of s up to and including the ')' that
// balances the first '('.
func matchingParens(s string) (string, error) {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return s[:i+1], nil
			}
		}
	}
	return "", parseErrf(s, "no matching ')' found for opening '('")
}
