package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// pdfcpu names content dumps "<base>_Content_page_<n>.txt".
var contentFilePage = regexp.MustCompile(`(?i)page_(\d+)\.txt$`)

// PDF extracts page text with pdfcpu. pdfcpu dumps each page's raw content
// stream; the text-showing operators are decoded into plain text.
type PDF struct {
	tempDir string
	logger  *slog.Logger
}

// NewPDF creates a PDF extractor using the system temp directory.
func NewPDF() *PDF {
	return &PDF{tempDir: os.TempDir(), logger: slog.Default().With("component", "pdf-extractor")}
}

func (e *PDF) Extract(ctx context.Context, path string, skip int) ([]Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return nil, fmt.Errorf("extract: read pdf %s: %w", path, err)
	}
	if skip < 0 {
		skip = 0
	}
	if skip >= pdfCtx.PageCount {
		e.logger.Warn("all pages skipped", "path", path, "pages", pdfCtx.PageCount, "skip", skip)
		return nil, nil
	}

	outDir, err := os.MkdirTemp(e.tempDir, "pdf-pages-")
	if err != nil {
		return nil, fmt.Errorf("extract: temp dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	var selected []string
	if skip > 0 {
		selected = []string{strconv.Itoa(skip+1) + "-"}
	}
	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(path, outDir, selected, conf); err != nil {
		return nil, fmt.Errorf("extract: pdf content %s: %w", path, err)
	}

	pages, err := readContentDir(outDir)
	if err != nil {
		return nil, err
	}
	e.logger.Info("pdf extracted", "path", path, "pages", len(pages), "skipped", skip)
	return keepAfter(pages, skip), nil
}

// readContentDir loads pdfcpu content dumps and decodes them, ordered by page.
func readContentDir(dir string) ([]Page, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("extract: read content dir: %w", err)
	}
	byPage := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := contentFilePage.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("extract: read %s: %w", entry.Name(), err)
		}
		// A page with several content streams yields several dumps.
		byPage[n] += contentText(string(raw))
	}

	nums := make([]int, 0, len(byPage))
	for n := range byPage {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	pages := make([]Page, len(nums))
	for i, n := range nums {
		pages[i] = Page{Number: n, Text: byPage[n]}
	}
	return pages, nil
}
