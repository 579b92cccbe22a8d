package telegram

import (
	"fmt"
	"html"
	"strings"
)

// htm is HTML that is already safe for ParseMode HTML.
type htm string

func esc(s string) htm { return htm(html.EscapeString(s)) }

func bold(s string) htm { return "<b>" + esc(s) + "</b>" }

func link(text, url string) htm {
	if url == "" {
		return esc(text)
	}
	return htm(fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(url), html.EscapeString(text)))
}

func lines(parts ...htm) string {
	ss := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(string(p)) == "" {
			continue
		}
		ss = append(ss, string(p))
	}
	return strings.Join(ss, "\n")
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
