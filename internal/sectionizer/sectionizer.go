// Package sectionizer splits normalised filing text into titled sections.
package sectionizer

import (
	"regexp"
	"strings"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/domain"
)

// maxHeadingLength keeps long body paragraphs from being mistaken for
// headings.
const maxHeadingLength = 120

// itemHeading matches the "Item 1.01", "ITEM 9.01", "Item 1A" heading forms
// SEC forms use.
var itemHeading = regexp.MustCompile(`(?i)^item\s+\d+(\.\d+)?[a-z]?\b`)

// hasLetter distinguishes ALL-CAPS headings from numeric table rows.
var hasLetter = regexp.MustCompile(`[A-Z]`)

// Split cuts text into sections at heading paragraphs. Text before the first
// heading becomes an untitled leading section. Text with no headings at all
// comes back as a single section.
func Split(text string) []domain.Section {
	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	var sections []domain.Section
	var current *domain.Section
	var body []string

	flush := func() {
		if current == nil {
			return
		}
		current.Content = strings.Join(body, "\n\n")
		if current.Title != "" || current.Content != "" {
			current.Ordinal = len(sections)
			sections = append(sections, *current)
		}
		current = nil
		body = nil
	}

	for _, para := range paragraphs {
		if isHeading(para) {
			flush()
			current = &domain.Section{Title: para}
			continue
		}
		if current == nil {
			current = &domain.Section{}
		}
		body = append(body, para)
	}
	flush()
	return sections
}

func splitParagraphs(text string) []string {
	var out []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para != "" {
			out = append(out, para)
		}
	}
	return out
}

// isHeading reports whether a paragraph looks like a section heading: an
// "Item N.NN" lead-in, or a short single-line ALL-CAPS title.
func isHeading(para string) bool {
	if len(para) > maxHeadingLength || strings.Contains(para, "\n") {
		return false
	}
	if itemHeading.MatchString(para) {
		return true
	}
	return para == strings.ToUpper(para) && hasLetter.MatchString(para)
}
