package ingestion

import (
	"context"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/smartramana/ragmesh/pkg/chunking"
	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
	"github.com/smartramana/ragmesh/pkg/models"
	"github.com/smartramana/ragmesh/pkg/observability"
)

// Parser converts one document format into an ordered section stream. The
// stream is transient; only the chunks derived from it are persisted.
type Parser interface {
	Parse(ctx context.Context, r io.Reader) ([]chunking.Section, error)
}

// ParserFactory resolves parsers by document type. Formats whose parser has
// not shipped are registered with a stand-in that fails permanently, so the
// worker marks those documents FAILED instead of retrying them.
type ParserFactory struct {
	logger  observability.Logger
	parsers map[models.DocumentType]Parser
}

// NewParserFactory returns a factory with the built-in parsers registered.
func NewParserFactory(logger observability.Logger) *ParserFactory {
	if logger == nil {
		logger = observability.NewLogger("ingestion.parsing")
	}
	f := &ParserFactory{
		logger:  logger,
		parsers: make(map[models.DocumentType]Parser),
	}
	f.Register(models.DocumentTypeTXT, NewTextParser())
	for _, dt := range []models.DocumentType{models.DocumentTypePDF, models.DocumentTypeDOCX, models.DocumentTypePPTX} {
		f.Register(dt, unavailableParser{documentType: dt})
	}
	return f
}

// Register installs or replaces the parser for a document type.
func (f *ParserFactory) Register(dt models.DocumentType, p Parser) {
	f.parsers[dt] = p
}

// ParserFor returns the parser registered for the document type.
func (f *ParserFactory) ParserFor(dt models.DocumentType) (Parser, error) {
	p, ok := f.parsers[dt]
	if !ok {
		return nil, ragerrors.Newf("PARSER_UNKNOWN_TYPE", ragerrors.ClassPermanent,
			"no parser registered for document type %q", dt)
	}
	return p, nil
}

// unavailableParser stands in for formats accepted at upload but not yet
// parseable in this build.
type unavailableParser struct {
	documentType models.DocumentType
}

func (p unavailableParser) Parse(ctx context.Context, r io.Reader) ([]chunking.Section, error) {
	return nil, ragerrors.Newf("PARSER_UNAVAILABLE", ragerrors.ClassPermanent,
		"no parser available for %s documents in this build", p.documentType)
}

// TextParser parses plain text and markdown-ish files. Heading lines open a
// titled region; each paragraph below becomes one section carrying that
// region's title. Plain text counts as a single page.
type TextParser struct{}

// NewTextParser returns the plain text parser.
func NewTextParser() *TextParser {
	return &TextParser{}
}

var headingPattern = regexp.MustCompile(`^#{1,6}\s+(.+)$`)

// Parse reads the whole document, normalizes it, and splits it into sections.
// Invalid UTF-8 bytes are replaced rather than rejected.
func (p *TextParser) Parse(ctx context.Context, r io.Reader) ([]chunking.Section, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, ragerrors.Wrap(err, "PARSER_READ_FAILED", "failed to read document content", ragerrors.ClassTransient)
	}
	text := Normalize(strings.ToValidUTF8(string(raw), string(utf8.RuneError)))
	return sectionize(text), nil
}

var (
	spaceRunPattern = regexp.MustCompile(`[ \t]+`)
	blankRunPattern = regexp.MustCompile(`\n{3,}`)
)

// Normalize canonicalizes raw parser text: Windows and bare-CR line endings
// become "\n", horizontal whitespace runs collapse to one space, runs of
// blank lines collapse to a single paragraph break, and every line is
// trimmed.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = spaceRunPattern.ReplaceAllString(text, " ")
	text = blankRunPattern.ReplaceAllString(text, "\n\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// sectionize splits normalized text on blank lines. A markdown heading does
// not emit content itself; it sets the title of the sections that follow it.
func sectionize(text string) []chunking.Section {
	sections := []chunking.Section{}
	if text == "" {
		return sections
	}

	title := ""
	var paragraph []string
	flush := func() {
		if len(paragraph) == 0 {
			return
		}
		page := 1
		sections = append(sections, chunking.Section{
			Title:      title,
			Content:    strings.Join(paragraph, "\n"),
			PageNumber: &page,
		})
		paragraph = nil
	}

	for _, line := range strings.Split(text, "\n") {
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			flush()
			title = strings.TrimSpace(m[1])
			continue
		}
		if line == "" {
			flush()
			continue
		}
		paragraph = append(paragraph, line)
	}
	flush()
	return sections
}
