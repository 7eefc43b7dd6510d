package chunk

import (
	"fmt"
	"regexp"
)

// DefaultHeadingPattern matches a numeric label of two or three dot-separated
// groups ("5.3", "11.1.2") followed by the heading line.
const DefaultHeadingPattern = `\n?(\d{1,2}(?:\.\d{1,2}){1,2})\s+([^\n]+)`

// Heading is one section boundary found in the document text.
type Heading struct {
	Label string // numeric label, e.g. "5.3"
	Text  string // heading line after the label
	Start int    // byte offset where the match begins
	End   int    // byte offset just past the match
}

// BoundaryDetector finds section headings in document order.
type BoundaryDetector interface {
	Detect(text string) []Heading
}

// RegexDetector detects headings with a regular expression whose first two
// capture groups are the label and the heading text.
type RegexDetector struct {
	re *regexp.Regexp
}

var numberedHeadings = &RegexDetector{re: regexp.MustCompile(DefaultHeadingPattern)}

// NumberedHeadings returns the detector for textbook-style numbered headings.
func NumberedHeadings() *RegexDetector { return numberedHeadings }

// NewRegexDetector compiles pattern into a detector.
func NewRegexDetector(pattern string) (*RegexDetector, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("chunk: compile heading pattern: %w", err)
	}
	if re.NumSubexp() < 2 {
		return nil, fmt.Errorf("chunk: heading pattern needs label and title groups, has %d", re.NumSubexp())
	}
	return &RegexDetector{re: re}, nil
}

// Detect implements BoundaryDetector. Matches never overlap and are returned
// in the order they appear.
func (d *RegexDetector) Detect(text string) []Heading {
	locs := d.re.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}
	headings := make([]Heading, 0, len(locs))
	for _, loc := range locs {
		h := Heading{Start: loc[0], End: loc[1]}
		if loc[2] >= 0 {
			h.Label = text[loc[2]:loc[3]]
		}
		if loc[4] >= 0 {
			h.Text = text[loc[4]:loc[5]]
		}
		headings = append(headings, h)
	}
	return headings
}
