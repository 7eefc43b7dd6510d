package chunk

import (
	"reflect"
	"strings"
	"testing"
)

var (
	bodyA = "An object at rest stays at rest unless a net force acts on it." // 62 chars
	bodyB = "p equals mv"
)

func TestChunk_ThresholdDropsShortSection(t *testing.T) {
	text := "5.3 Newton's Laws\n" + bodyA + "\n5.4 Momentum\n" + bodyB
	got := New().Chunk(text)
	if len(got) != 1 {
		t.Fatalf("expected 1 section, got %d: %+v", len(got), got)
	}
	s := got[0]
	if s.ID != "sec_5_3" {
		t.Errorf("id = %q", s.ID)
	}
	if s.Title != "5.3 Newton's Laws" {
		t.Errorf("title = %q", s.Title)
	}
	if s.Text != bodyA {
		t.Errorf("text = %q", s.Text)
	}
	if s.Label != "5.3" {
		t.Errorf("label = %q", s.Label)
	}
}

func TestChunk_NoHeadings(t *testing.T) {
	got := New().Chunk("Preface\nThis book has no numbered headings at all, only prose.")
	if len(got) != 0 {
		t.Fatalf("expected empty, got %+v", got)
	}
	if got := New().Chunk(""); len(got) != 0 {
		t.Fatalf("expected empty for empty text, got %+v", got)
	}
}

func TestChunk_BodyBoundaries(t *testing.T) {
	long := strings.Repeat("x", 80)
	text := "\n--- PAGE 11 ---\n1.1 Units\n" + long + "\n1.2 Measurement\n" + long + "y\n11.1.2 Errors in Measurement\n" + long + "z"
	got := New().Chunk(text)
	if len(got) != 3 {
		t.Fatalf("expected 3 sections, got %d", len(got))
	}
	wantIDs := []string{"sec_1_1", "sec_1_2", "sec_11_1_2"}
	wantText := []string{long, long + "y", long + "z"}
	for i, s := range got {
		if s.ID != wantIDs[i] {
			t.Errorf("[%d] id = %q, want %q", i, s.ID, wantIDs[i])
		}
		if s.Text != wantText[i] {
			t.Errorf("[%d] text = %q, want %q", i, s.Text, wantText[i])
		}
	}
	if got[2].Title != "11.1.2 Errors in Measurement" {
		t.Errorf("title = %q", got[2].Title)
	}
}

func TestChunk_Properties(t *testing.T) {
	text := strings.Join([]string{
		"2.1 Kinematics", strings.Repeat("velocity ", 10),
		"2.2 Short", "tiny",
		"12 is not a heading",
		"2.3 Dynamics", strings.Repeat("force ", 15),
		"3.1 Work", strings.Repeat("energy ", 12),
	}, "\n")
	c := New()
	headings := c.detector.Detect(text)
	got := c.Chunk(text)

	if len(got) > len(headings) {
		t.Fatalf("got %d sections for %d headings", len(got), len(headings))
	}
	seen := map[string]bool{}
	for _, s := range got {
		if len([]rune(s.Text)) <= DefaultMinContent {
			t.Errorf("section %s body too short: %d", s.ID, len(s.Text))
		}
		if s.Text != strings.TrimSpace(s.Text) || s.Text == "" {
			t.Errorf("section %s body not trimmed", s.ID)
		}
		if seen[s.ID] {
			t.Errorf("duplicate id %s", s.ID)
		}
		seen[s.ID] = true
	}
	if again := c.Chunk(text); !reflect.DeepEqual(got, again) {
		t.Fatal("chunking is not deterministic")
	}
}

func TestChunk_DuplicateLabelKeepsLast(t *testing.T) {
	toc := "5.3 Newton's Laws\n" + strings.Repeat(".", 60)
	body := "5.3 Newton's Laws\n" + bodyA
	got := New().Chunk(toc + "\n" + body)
	if len(got) != 1 {
		t.Fatalf("expected 1 section, got %d", len(got))
	}
	if got[0].Text != bodyA {
		t.Fatalf("expected later body to win, got %q", got[0].Text)
	}
}

func TestChunk_OutOfOrderLabelsAccepted(t *testing.T) {
	long := strings.Repeat("w", 70)
	got := New().Chunk("4.2 Later\n" + long + "\n1.1 Earlier\n" + long)
	if len(got) != 2 || got[0].ID != "sec_4_2" || got[1].ID != "sec_1_1" {
		t.Fatalf("unexpected sections: %+v", got)
	}
}

func TestChunk_MinContentOption(t *testing.T) {
	text := "5.3 Newton's Laws\n" + bodyA + "\n5.4 Momentum\n" + bodyB
	got := New(WithMinContent(5)).Chunk(text)
	if len(got) != 2 {
		t.Fatalf("expected 2 sections with low threshold, got %d", len(got))
	}
	if New(WithMinContent(-1)).MinContent() != DefaultMinContent {
		t.Fatal("negative threshold should be ignored")
	}
}

func TestChunk_ThresholdIsStrict(t *testing.T) {
	exact := strings.Repeat("b", DefaultMinContent)
	if got := New().Chunk("1.1 Exact\n" + exact); len(got) != 0 {
		t.Fatalf("body of exactly the threshold should be dropped, got %+v", got)
	}
	if got := New().Chunk("1.1 Over\n" + exact + "b"); len(got) != 1 {
		t.Fatalf("body over the threshold should be kept, got %+v", got)
	}
}

func TestChunk_CountsRunesNotBytes(t *testing.T) {
	// 40 two-byte runes: 80 bytes but only 40 characters.
	body := strings.Repeat("é", 40)
	if got := New().Chunk("1.1 Accents\n" + body); len(got) != 0 {
		t.Fatalf("expected rune-based threshold, got %+v", got)
	}
}

type fixedDetector []Heading

func (f fixedDetector) Detect(string) []Heading { return f }

func TestChunk_CustomDetector(t *testing.T) {
	text := "Chapter A\n" + strings.Repeat("q", 60)
	det := fixedDetector{{Label: "7.1", Text: "Custom", Start: 0, End: len("Chapter A\n")}}
	got := New(WithDetector(det)).Chunk(text)
	if len(got) != 1 || got[0].ID != "sec_7_1" || got[0].Title != "7.1 Custom" {
		t.Fatalf("unexpected sections: %+v", got)
	}
}

func TestNewRegexDetector(t *testing.T) {
	d, err := NewRegexDetector(`(?m)^Lesson (\d+\.\d+)[:.]?\s+([^\n]+)`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := New(WithDetector(d)).Chunk("Lesson 1.1: Atoms\n" + strings.Repeat("m", 60) + "\nLesson 1.2 Ions\n" + strings.Repeat("n", 60))
	if len(got) != 2 || got[1].Title != "1.2 Ions" {
		t.Fatalf("unexpected sections: %+v", got)
	}

	if _, err := NewRegexDetector(`(`); err == nil {
		t.Fatal("expected compile error")
	}
	if _, err := NewRegexDetector(`\d+\.\d+`); err == nil {
		t.Fatal("expected error for pattern without groups")
	}
}

func TestNumberedHeadings_Detect(t *testing.T) {
	hs := NumberedHeadings().Detect("intro\n5.3 Newton's Laws\nbody\n11.1.2 Errors\nmore")
	if len(hs) != 2 {
		t.Fatalf("expected 2 headings, got %d", len(hs))
	}
	if hs[0].Label != "5.3" || hs[0].Text != "Newton's Laws" {
		t.Errorf("unexpected first heading: %+v", hs[0])
	}
	if hs[1].Label != "11.1.2" || hs[1].Text != "Errors" {
		t.Errorf("unexpected second heading: %+v", hs[1])
	}
	if hs[0].Start != len("intro") {
		t.Errorf("match should start at the preceding newline, got %d", hs[0].Start)
	}
}
