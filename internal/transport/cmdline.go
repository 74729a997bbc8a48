package transport

import "strings"

// SplitCommandLine splits command text into tokens. A double quote opens a
// quoted token only at the start of a token, so apostrophes and inner quotes
// are kept. Backslash escapes the next rune. Examples:
//
//	/remind 30 "stretch your legs" --repeat
func SplitCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out []string
		buf strings.Builder
		inQ bool
		esc bool
		// quoted empty strings still count as a token
		quoted bool
	)
	flush := func() {
		if buf.Len() > 0 || quoted {
			out = append(out, buf.String())
			buf.Reset()
		}
		quoted = false
	}
	for _, ch := range s {
		switch {
		case esc:
			buf.WriteRune(ch)
			esc = false
		case ch == '\\':
			esc = true
		case inQ:
			if ch == '"' {
				inQ = false
				continue
			}
			buf.WriteRune(ch)
		case ch == '"' && buf.Len() == 0 && !quoted:
			inQ, quoted = true, true
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteRune(ch)
		}
	}
	flush()
	return out
}

// ParseCommand splits "/name@bot args..." into the lowercase command name and
// its arguments. ok is false when text is not a command.
func ParseCommand(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := SplitCommandLine(text)
	if len(parts) == 0 {
		return "", nil, false
	}
	name = strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), parts[1:], true
}

// ArgText returns the raw text after the command word, untouched except for
// surrounding whitespace.
func ArgText(text string) string {
	text = strings.TrimSpace(text)
	i := strings.IndexAny(text, " \t\r\n")
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(text[i:])
}
