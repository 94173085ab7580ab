package translator

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var (
	// leading "here is the translation:" style labels, English and Chinese
	labelPattern = regexp.MustCompile(`(?i)^\s*(?:(?:here is|here's|below is)\s+)?(?:the\s+)?(?:` +
		`translation(?:\s+of\s+the\s+current\s+page)?|translated\s+text|current\s+page(?:\s+translation)?` +
		`|以下是.{0,12}翻译|这是.{0,12}翻译|当前页的?(?:中文)?翻译|当前页|译文|翻译)\s*[:：]\s*`)

	// echoed context segments, "Previous Page: <snippet>"
	contextLinePattern = regexp.MustCompile(`(?i)^\s*(?:previous\s+page|next\s+page|前一页|上一页|下一页|后一页)\s*[:：]\s*(.*)$`)

	// commentary saying the neighbouring pages were left out, e.g.
	// "（注：下一页的内容未翻译）" or "The previous page context was not translated."
	pageRefPattern = regexp.MustCompile(`(?i)(?:previous|next)\s+page|前一页|上一页|下一页|后一页`)
	omittedPattern = regexp.MustCompile(`(?i)\bnot\s+(?:been\s+)?(?:included|translated|output)\b|\bomitted\b|\bexcluded\b|未(?:翻译|输出|包含)|不(?:翻译|输出|包含)|已省略`)

	fencePattern = regexp.MustCompile("^\\s*```[a-zA-Z]*\\s*$")
)

// minEchoRunes is the shortest fragment of a snippet treated as an echo.
const minEchoRunes = 10

// Sanitize cleans a model response so only the translated page text remains:
// literal "\n" markers become line breaks, the text is NFC-normalized,
// control and replacement characters are dropped, and introductory labels
// are removed. snippets are the neighbouring page excerpts sent with the
// request; lines echoing them, and lines saying they were left out, are
// removed too.
func Sanitize(s string, snippets ...string) string {
	s = strings.ReplaceAll(s, `\r\n`, "\n")
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = norm.NFC.String(s)
	s = stripGarbled(s)

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	labelled := false
	for _, line := range lines {
		if fencePattern.MatchString(line) || isMetaLine(line, snippets) {
			continue
		}
		// only the first text line can carry the introductory label
		if !labelled && strings.TrimSpace(line) != "" {
			labelled = true
			line = labelPattern.ReplaceAllString(line, "")
			if strings.TrimSpace(line) == "" {
				continue
			}
		}
		out = append(out, strings.TrimRightFunc(line, unicode.IsSpace))
	}

	return strings.TrimSpace(collapseBlankLines(strings.Join(out, "\n")))
}

// isMetaLine reports whether line repeats one of the snippets or only
// remarks that the neighbouring pages were not translated.
func isMetaLine(line string, snippets []string) bool {
	if m := contextLinePattern.FindStringSubmatch(line); m != nil {
		rest := strings.TrimSpace(m[1])
		if (rest == "" && len(snippets) > 0) || echoes(rest, snippets) {
			return true
		}
	}
	if echoes(line, snippets) {
		return true
	}
	return pageRefPattern.MatchString(line) && omittedPattern.MatchString(line)
}

// echoes reports whether text is one of the snippets, or a piece of one
// long enough not to be a coincidence.
func echoes(text string, snippets []string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	for _, snippet := range snippets {
		snippet = strings.TrimSpace(snippet)
		if snippet == "" {
			continue
		}
		if text == snippet || (utf8.RuneCountInString(text) >= minEchoRunes && strings.Contains(snippet, text)) {
			return true
		}
	}
	return false
}

// stripGarbled drops characters that cannot be displayed: invalid UTF-8,
// the replacement character, controls other than newline and tab, and
// private-use code points.
func stripGarbled(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r == utf8.RuneError:
		case r == '\n' || r == '\t':
			sb.WriteRune(r)
		case unicode.IsControl(r), unicode.Is(unicode.Co, r):
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}
