package ingestion

import (
	"encoding/csv"
	"errors"
	"fmt"
	"html"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrEmptyContent reports a file that parsed to nothing usable.
var ErrEmptyContent = errors.New("parsed content is empty")

// UnsupportedFormatError reports a file extension with no registered
// parser. Ingestion marks the document FAILED with this reason instead
// of guessing.
type UnsupportedFormatError struct {
	Extension string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported document format %q", e.Extension)
}

// Parser turns raw uploaded bytes into plain text.
type Parser interface {
	Parse(r io.Reader) (string, error)
}

// ParserFunc adapts a function to the Parser interface.
type ParserFunc func(r io.Reader) (string, error)

func (f ParserFunc) Parse(r io.Reader) (string, error) { return f(r) }

// ParserRegistry maps lowercased file extensions to parsers. Not safe
// for concurrent registration; register everything at startup.
type ParserRegistry struct {
	parsers map[string]Parser
}

// NewParserRegistry returns a registry preloaded with the text-family
// parsers. Binary formats stay unsupported until a parser is registered
// for them.
func NewParserRegistry() *ParserRegistry {
	reg := &ParserRegistry{parsers: make(map[string]Parser)}
	text := ParserFunc(parsePlainText)
	for _, ext := range []string{".txt", ".md", ".markdown", ".log", ".json"} {
		reg.Register(ext, text)
	}
	reg.Register(".csv", ParserFunc(parseCSV))
	for _, ext := range []string{".html", ".htm"} {
		reg.Register(ext, ParserFunc(parseHTML))
	}
	return reg
}

func (r *ParserRegistry) Register(ext string, p Parser) {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	r.parsers[ext] = p
}

// ParseFile picks the parser by the filename's extension.
func (r *ParserRegistry) ParseFile(filename string, reader io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	p, ok := r.parsers[ext]
	if !ok {
		return "", &UnsupportedFormatError{Extension: ext}
	}
	text, err := p.Parse(reader)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyContent
	}
	return text, nil
}

// parsePlainText reads the whole stream and scrubs invalid UTF-8 so the
// chunker never sees broken rune boundaries.
func parsePlainText(reader io.Reader) (string, error) {
	raw, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read content: %w", err)
	}
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	return strings.ToValidUTF8(string(raw), "�"), nil
}

// parseCSV flattens rows into comma-joined lines so cell values stay
// keyword-searchable and the chunker sees one record per line.
func parseCSV(reader io.Reader) (string, error) {
	cr := csv.NewReader(reader)
	cr.FieldsPerRecord = -1
	var b strings.Builder
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read csv: %w", err)
		}
		b.WriteString(strings.Join(record, ", "))
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// parseHTML strips markup and decodes entities. Script and style bodies
// are dropped; everything else keeps its text content.
func parseHTML(reader io.Reader) (string, error) {
	raw, err := parsePlainText(reader)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	var tag strings.Builder
	inTag := false
	skipUntil := ""
	for _, r := range raw {
		if inTag {
			if r != '>' {
				tag.WriteRune(r)
				continue
			}
			inTag = false
			name := tagName(tag.String())
			tag.Reset()
			switch {
			case skipUntil != "" && name == "/"+skipUntil:
				skipUntil = ""
			case skipUntil == "" && (name == "script" || name == "style"):
				skipUntil = name
			}
			out.WriteByte(' ')
			continue
		}
		if r == '<' {
			inTag = true
			continue
		}
		if skipUntil == "" {
			out.WriteRune(r)
		}
	}
	return html.UnescapeString(out.String()), nil
}

func tagName(raw string) string {
	raw = strings.TrimSpace(strings.ToLower(raw))
	for i, r := range raw {
		if r == ' ' || r == '\t' || r == '\n' || (r == '/' && i > 0) {
			return raw[:i]
		}
	}
	return raw
}
