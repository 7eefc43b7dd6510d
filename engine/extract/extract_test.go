package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestText_SinglePage(t *testing.T) {
	path := writeFile(t, "notes.txt", "5.3 Newton's Laws\nbody")

	pages, err := Text{}.Extract(context.Background(), path, 0)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].Number)
	assert.Equal(t, "5.3 Newton's Laws\nbody", pages[0].Text)
}

func TestText_SkipsLeadingPages(t *testing.T) {
	path := writeFile(t, "book.txt", "cover\fcontents\f1.1 Units\nbody\f1.2 More\nbody")

	pages, err := Text{}.Extract(context.Background(), path, 2)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, 3, pages[0].Number)
	assert.Equal(t, 4, pages[1].Number)
}

func TestText_SkipBeyondEnd(t *testing.T) {
	path := writeFile(t, "short.txt", "one\ftwo")

	pages, err := Text{}.Extract(context.Background(), path, 5)
	require.NoError(t, err)
	assert.Empty(t, pages)
}

func TestText_MissingFile(t *testing.T) {
	_, err := Text{}.Extract(context.Background(), filepath.Join(t.TempDir(), "nope.txt"), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestText_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Text{}.Extract(ctx, "whatever.txt", 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJoin(t *testing.T) {
	got := Join([]Page{{Number: 11, Text: "a"}, {Number: 12, Text: "b"}})
	assert.Equal(t, "\n--- PAGE 11 ---\na\n--- PAGE 12 ---\nb", got)
	assert.Equal(t, "", Join(nil))
}

func TestDocument(t *testing.T) {
	ex := ExtractorFunc(func(_ context.Context, path string, skip int) ([]Page, error) {
		assert.Equal(t, "book.pdf", path)
		assert.Equal(t, 10, skip)
		return []Page{{Number: 11, Text: "1.1 Units"}}, nil
	})
	got, err := Document(context.Background(), ex, "book.pdf", 10)
	require.NoError(t, err)
	assert.Equal(t, "\n--- PAGE 11 ---\n1.1 Units", got)

	failing := ExtractorFunc(func(context.Context, string, int) ([]Page, error) {
		return nil, errors.New("corrupt")
	})
	_, err = Document(context.Background(), failing, "bad.pdf", 0)
	assert.EqualError(t, err, "corrupt")
}

func TestAuto_Dispatch(t *testing.T) {
	var used string
	auto := &Auto{
		PDF: ExtractorFunc(func(context.Context, string, int) ([]Page, error) {
			used = "pdf"
			return nil, nil
		}),
		Text: ExtractorFunc(func(context.Context, string, int) ([]Page, error) {
			used = "text"
			return nil, nil
		}),
	}
	_, err := auto.Extract(context.Background(), "Physics.PDF", 0)
	require.NoError(t, err)
	assert.Equal(t, "pdf", used)

	_, err = auto.Extract(context.Background(), "chem.md", 0)
	require.NoError(t, err)
	assert.Equal(t, "text", used)

	_, err = (&Auto{}).Extract(context.Background(), "x.pdf", 0)
	assert.Error(t, err)
}

func TestContentText(t *testing.T) {
	stream := `BT
/F1 12 Tf
72 712 Td
(5.3 Newton's Laws) Tj
0 -14 Td
[(An ob) 20 (ject at rest) -250 (.)] TJ
T*
(Escaped \(paren\) and \\ slash) Tj
ET
BT (next \101) ' ET`

	got := contentText(stream)
	want := "5.3 Newton's Laws\nAn object at rest.\nEscaped (paren) and \\ slash\nnext A\n"
	assert.Equal(t, want, got)
}

func TestContentText_NoText(t *testing.T) {
	assert.Equal(t, "", contentText("q 1 0 0 1 0 0 cm /Im0 Do Q"))
}

func TestReadContentDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "book_Content_page_12.txt"), []byte("BT (second) Tj ET"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "book_Content_page_11.txt"), []byte("BT (first) Tj ET"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("ignored"), 0o644))

	pages, err := readContentDir(dir)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, Page{Number: 11, Text: "first\n"}, pages[0])
	assert.Equal(t, Page{Number: 12, Text: "second\n"}, pages[1])
}
