package runner

import (
	"net/url"
	"regexp"
)

const searchURLPrefix = "https://www.google.com/search?q="

// urlPattern matches the first URL-shaped substring in a task. What
// "URL-shaped" means is deliberately loose: anything after http(s)://
// up to whitespace or a quote is taken verbatim, with no validation.
var urlPattern = regexp.MustCompile(`https?://[^\s"']+`)

// TargetURL derives the navigation target from free-form task text.
// A URL-shaped substring wins verbatim; anything else becomes a web
// search for the whole task text. This is an intent heuristic callers
// are known to depend on (including the search fallback), so it stays
// an approximation on purpose. Empty task text falls back to startURL,
// which is how interactive sessions open.
func TargetURL(task, startURL string) string {
	if task == "" {
		return startURL
	}
	if m := urlPattern.FindString(task); m != "" {
		return m
	}
	return searchURLPrefix + url.QueryEscape(task)
}
