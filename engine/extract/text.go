package extract

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Text reads UTF-8 text files. Form feeds separate pages; a file without
// form feeds is a single page.
type Text struct{}

func (Text) Extract(ctx context.Context, path string, skip int) ([]Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("extract: read %s: %w", path, err)
	}
	parts := strings.Split(string(data), "\f")
	pages := make([]Page, len(parts))
	for i, p := range parts {
		pages[i] = Page{Number: i + 1, Text: p}
	}
	return keepAfter(pages, skip), nil
}
