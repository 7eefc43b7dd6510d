package extract

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// Text-showing and line-advancing operators of a PDF content stream.
	textOps = regexp.MustCompile(`\((?:\\.|[^\\)])*\)\s*(?:Tj|'|")|\[[^\]]*\]\s*TJ|T\*|\bET\b|-?[\d.]+\s+-?[\d.]+\s+T[dD]`)
	literal = regexp.MustCompile(`\((?:\\.|[^\\)])*\)`)
)

// contentText decodes the literal strings drawn by a content stream into
// plain text. Hex strings and font encodings are not interpreted.
func contentText(stream string) string {
	var b strings.Builder
	newline := func() {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
	}
	for _, tok := range textOps.FindAllString(stream, -1) {
		switch {
		case tok == "T*" || tok == "ET":
			newline()
		case strings.HasSuffix(tok, "Td") || strings.HasSuffix(tok, "TD"):
			f := strings.Fields(tok)
			if ty, err := strconv.ParseFloat(f[1], 64); err == nil && ty != 0 {
				newline()
			}
		default:
			if strings.HasSuffix(tok, "'") || strings.HasSuffix(tok, `"`) {
				newline()
			}
			for _, lit := range literal.FindAllString(tok, -1) {
				b.WriteString(unescapeLiteral(lit[1 : len(lit)-1]))
			}
		}
	}
	return b.String()
}

func unescapeLiteral(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case '0', '1', '2', '3', '4', '5', '6', '7':
			j := i
			for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
				j++
			}
			v, _ := strconv.ParseUint(s[i:j], 8, 8)
			b.WriteByte(byte(v))
			i = j - 1
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
