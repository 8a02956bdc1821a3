package ingest

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/storyglass/storyglass/internal/model"
)

// Parsed is the parsing collaborator contract: title, full text, detected
// chapters and how the detection was made.
type Parsed struct {
	Title       string
	FullText    string
	Chapters    []ParsedChapter
	ContentType model.ContentType
	Detection   model.DetectionMetadata
}

// ParsedChapter is one detected chapter with its [Start, End) span in the
// full text.
type ParsedChapter struct {
	Ordinal   int
	Title     string
	Content   string
	WordCount int
	Start     int
	End       int
}

// splitThresholdWords is the size above which an undetected text is split
// into length-based chapters.
const splitThresholdWords = 5000

// targetChapterWords caps the length-based chapter size.
const targetChapterWords = 3000

var chapterHeadingPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"chapter-heading", regexp.MustCompile(`(?mi)^\s*chapter\s+(\d+|[ivxlcdm]+)\b.*$`)},
	{"part-heading", regexp.MustCompile(`(?mi)^\s*part\s+(\d+|[ivxlcdm]+|one|two|three|four|five|six|seven|eight|nine|ten)\b.*$`)},
	{"markdown-heading", regexp.MustCompile(`(?m)^#{1,3}\s+.+$`)},
	{"numbered-section", regexp.MustCompile(`(?m)^\s*(\d{1,3}|[IVXLCDM]{1,7})\.?\s*$`)},
}

// ParseText parses plain text into chapters. Chapter headings are detected
// with the pattern set above; texts without detectable chapters and more than
// 5000 words are split into length-based chapters of roughly
// min(3000, total/3) words each.
func ParseText(title, text string) *Parsed {
	text = normalizeNewlines(text)
	totalWords := len(strings.Fields(text))

	for _, p := range chapterHeadingPatterns {
		locs := p.re.FindAllStringIndex(text, -1)
		if len(locs) < 2 {
			continue
		}
		chapters := splitAtHeadings(text, locs)
		if len(chapters) < 2 {
			continue
		}
		return &Parsed{
			Title:       title,
			FullText:    text,
			Chapters:    chapters,
			ContentType: contentTypeFor(len(chapters)),
			Detection: model.DetectionMetadata{
				Patterns:             []string{p.name},
				StructuralIndicators: headingSamples(text, locs),
				WordCount:            totalWords,
				Confidence:           0.9,
			},
		}
	}

	if totalWords > splitThresholdWords {
		chapters := splitByLength(text, totalWords)
		return &Parsed{
			Title:       title,
			FullText:    text,
			Chapters:    chapters,
			ContentType: contentTypeFor(len(chapters)),
			Detection: model.DetectionMetadata{
				Patterns:   []string{"length-split"},
				WordCount:  totalWords,
				Confidence: 0.4,
			},
		}
	}

	return &Parsed{
		Title:    title,
		FullText: text,
		Chapters: []ParsedChapter{{
			Ordinal:   1,
			Content:   text,
			WordCount: totalWords,
			Start:     0,
			End:       len(text),
		}},
		ContentType: model.ContentTypeSingle,
		Detection: model.DetectionMetadata{
			WordCount:  totalWords,
			Confidence: 1.0,
		},
	}
}

// splitAtHeadings cuts the text at each heading match. Text before the first
// heading (a title page, a preface) is folded into the first chapter.
func splitAtHeadings(text string, locs [][]int) []ParsedChapter {
	var chapters []ParsedChapter
	for i, loc := range locs {
		start := loc[0]
		if i == 0 {
			start = 0
		}
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}

		content := strings.TrimSpace(text[start:end])
		if content == "" {
			continue
		}
		heading := strings.TrimSpace(text[loc[0]:loc[1]])
		chapters = append(chapters, ParsedChapter{
			Ordinal:   len(chapters) + 1,
			Title:     heading,
			Content:   content,
			WordCount: len(strings.Fields(content)),
			Start:     start,
			End:       end,
		})
	}
	return chapters
}

// splitByLength splits undetected long text into chapters of roughly
// min(3000, total/3) words, cutting at the nearest paragraph boundary.
func splitByLength(text string, totalWords int) []ParsedChapter {
	target := targetChapterWords
	if third := totalWords / 3; third < target {
		target = third
	}
	if target < 1 {
		target = 1
	}

	paragraphs := strings.Split(text, "\n\n")
	var chapters []ParsedChapter
	var buf []string
	bufWords := 0
	offset := 0
	start := 0

	flush := func(end int) {
		if len(buf) == 0 {
			return
		}
		content := strings.TrimSpace(strings.Join(buf, "\n\n"))
		chapters = append(chapters, ParsedChapter{
			Ordinal:   len(chapters) + 1,
			Content:   content,
			WordCount: len(strings.Fields(content)),
			Start:     start,
			End:       end,
		})
		buf = nil
		bufWords = 0
		start = end
	}

	for _, para := range paragraphs {
		words := len(strings.Fields(para))
		if bufWords > 0 && bufWords+words > target {
			flush(offset)
		}
		buf = append(buf, para)
		bufWords += words
		offset += len(para) + 2
	}
	flush(len(text))
	return chapters
}

func contentTypeFor(chapters int) model.ContentType {
	switch {
	case chapters <= 1:
		return model.ContentTypeSingle
	case chapters >= 10:
		return model.ContentTypeFullBook
	default:
		return model.ContentTypeMulti
	}
}

func headingSamples(text string, locs [][]int) []string {
	max := 5
	var samples []string
	for _, loc := range locs {
		if len(samples) == max {
			break
		}
		samples = append(samples, strings.TrimSpace(text[loc[0]:loc[1]]))
	}
	return samples
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// DeriveTitle extracts a human title from an uploaded filename.
// "the-crystal-tower-1.txt" becomes "the-crystal-tower".
func DeriveTitle(filename string) string {
	base := filepath.Base(filename)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return regexp.MustCompile(`-\d+$`).ReplaceAllString(name, "")
}
