package parser

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"screenpilot/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
)

const (
	defaultChunkSize  = 1000 // runes
	defaultPageNumber = 1
)

// Page is the text of one page, slide or sheet of a source file.
type Page struct {
	Number int
	Text   string
}

// Extracted is the text pulled out of an uploaded file.
type Extracted struct {
	Pages []Page
}

// Text joins all pages with a newline.
func (e Extracted) Text() string {
	var b strings.Builder
	for _, p := range e.Pages {
		b.WriteString(p.Text)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// Supported reports whether filename has an extension ExtractText can read.
func Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf", ".txt", ".md", ".markdown", ".docx", ".pptx", ".xlsx", ".xlsm", ".xltx", ".xltm":
		return true
	}
	return false
}

// ExtractText picks a reader by file extension.
func ExtractText(filename string, data []byte) (Extracted, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	var (
		pages []Page
		err   error
	)
	switch ext {
	case ".pdf":
		pages, err = parsePDF(data)
	case ".txt":
		pages = []Page{{Number: defaultPageNumber, Text: string(data)}}
	case ".md", ".markdown":
		var text string
		text, err = markdownToText(data)
		pages = []Page{{Number: defaultPageNumber, Text: text}}
	case ".docx":
		pages, err = parseDOCX(data)
	case ".pptx":
		pages, err = parsePPTX(data)
	case ".xlsx":
		pages, err = parseXLSX(data)
	case ".xlsm", ".xltx", ".xltm":
		pages, err = parseWorkbook(data)
	default:
		return Extracted{}, fmt.Errorf("%w: %q", models.ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return Extracted{}, fmt.Errorf("failed to parse %s: %w", filename, err)
	}

	out := Extracted{}
	for _, p := range pages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		out.Pages = append(out.Pages, p)
	}
	log.Info().Str("file", filename).Int("pages", len(out.Pages)).Int("characters", len(out.Text())).Msg("Extracted text")
	return out, nil
}

func parsePDF(data []byte) ([]Page, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	var pages []Page
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, Page{Number: i, Text: pageText})
	}
	return pages, nil
}

func parseDOCX(data []byte) ([]Page, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// GetContent returns the document XML; paragraphs end with </w:p>
	content := r.Editable().GetContent()
	var text strings.Builder
	for _, para := range strings.Split(content, "</w:p>") {
		line := strings.TrimSpace(extractTextFromXML(para, "w:t"))
		if line == "" {
			continue
		}
		text.WriteString(line + "\n")
	}
	return []Page{{Number: defaultPageNumber, Text: text.String()}}, nil
}

func parsePPTX(data []byte) ([]Page, error) {
	f, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	var pages []Page
	slideNum := 0
	for _, file := range f.File {
		if !strings.HasPrefix(file.Name, "ppt/slides/slide") || !strings.HasSuffix(file.Name, ".xml") {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			continue
		}
		xmlData, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		slideNum++
		pages = append(pages, Page{Number: slideNum, Text: extractTextFromXML(string(xmlData), "a:t")})
	}
	return pages, nil
}

func parseXLSX(data []byte) ([]Page, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, err
	}

	var pages []Page
	for sheetNum, sheet := range f.Sheets {
		var text strings.Builder
		text.WriteString(fmt.Sprintf("Sheet: %s\n", sheet.Name))
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			for _, cell := range row.Cells {
				text.WriteString(cell.String() + "\t")
			}
			text.WriteString("\n")
		}
		pages = append(pages, Page{Number: sheetNum + 1, Text: text.String()})
	}
	return pages, nil
}

// parseWorkbook reads macro-enabled and template workbooks.
func parseWorkbook(data []byte) ([]Page, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []Page
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		var text strings.Builder
		text.WriteString(fmt.Sprintf("Sheet: %s\n", sheetName))
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
		}
		pages = append(pages, Page{Number: sheetNum + 1, Text: text.String()})
	}
	return pages, nil
}

// extractTextFromXML concatenates the bodies of every <tag> element.
func extractTextFromXML(xmlContent, tag string) string {
	var text strings.Builder
	open, closing := "<"+tag, "</"+tag+">"
	for rest := xmlContent; ; {
		start := strings.Index(rest, open)
		if start < 0 {
			break
		}
		rest = rest[start+len(open):]
		// skip <w:tab/>, <w:tbl> and friends that share the prefix
		if len(rest) == 0 || (rest[0] != '>' && rest[0] != ' ') {
			continue
		}
		gt := strings.IndexByte(rest, '>')
		if gt < 0 {
			break
		}
		if gt > 0 && rest[gt-1] == '/' {
			continue
		}
		rest = rest[gt+1:]
		end := strings.Index(rest, closing)
		if end < 0 {
			break
		}
		text.WriteString(rest[:end] + " ")
		rest = rest[end+len(closing):]
	}
	return text.String()
}

// ChunkText slices text into windows of size runes. Windows do not overlap and
// ignore sentence boundaries; the last one may be shorter.
func ChunkText(text string, size int) []string {
	if size <= 0 {
		size = defaultChunkSize
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for i := 0; i < len(runes); i += size {
		end := min(i+size, len(runes))
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

// ParseToChunks chunks every page and numbers the chunks from 1.
func ParseToChunks(e Extracted, size int) []models.Chunk {
	if size <= 0 {
		size = defaultChunkSize
	}
	var chunks []models.Chunk
	for _, page := range e.Pages {
		for i, c := range ChunkText(page.Text, size) {
			chunks = append(chunks, models.Chunk{
				Content:    c,
				PageNumber: page.Number,
				ChunkID:    len(chunks) + 1,
				Offset:     i * size,
			})
		}
	}
	return chunks
}
