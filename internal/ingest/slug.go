package ingest

import (
	"regexp"
	"strings"
	"unicode"
)

// The vision prompt asks for a numbered answer whose fifth item is a
// machine-readable slug; slugPattern matches that line in its common
// renderings ("5) Slug: foo", "Slug: foo", "5) foo").
var (
	slugPattern = regexp.MustCompile(`(?i)(?:5\)|slug:)\s*(?:slug:?\s*)?([a-zA-Z0-9_]+)`)
	wordPattern = regexp.MustCompile(`\s*([a-zA-Z0-9_]+)`)
	slugShape   = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
)

const fallbackSlug = "image"

// ExtractSlug pulls the slug out of an image description, falling back
// to a heuristic built from the description's first words.
func ExtractSlug(description string) string {
	if loc := slugPattern.FindStringSubmatchIndex(description); loc != nil {
		slug := strings.ToLower(description[loc[2]:loc[3]])
		if slug != "slug" {
			return slug
		}
		// The label itself was captured; the value is the next word.
		if m := wordPattern.FindStringSubmatch(description[loc[1]:]); m != nil {
			return strings.ToLower(m[1])
		}
	}

	lines := strings.Split(strings.TrimSpace(description), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if slugShape.MatchString(last) {
		return strings.ToLower(last)
	}

	return heuristicSlug(lines[0])
}

// heuristicSlug joins the first two alphanumeric words of a line.
func heuristicSlug(line string) string {
	var clean strings.Builder
	for _, r := range line {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			clean.WriteRune(r)
		}
	}
	words := strings.Fields(clean.String())
	if len(words) > 2 {
		words = words[:2]
	}
	slug := strings.ToLower(strings.Join(words, "_"))
	if !slugShape.MatchString(slug) {
		return fallbackSlug
	}
	return slug
}
