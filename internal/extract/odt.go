package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"
)

// odtContentPath is the path to the document body inside an .odt zip.
const odtContentPath = "content.xml"

// odtBlock matches a heading or paragraph element with its inner markup.
var (
	odtBlock = regexp.MustCompile(`(?s)<text:(h|p)\b[^>]*>(.*?)</text:(?:h|p)>`)
	odtTag   = regexp.MustCompile(`<[^>]+>`)
)

// extractODT extracts text from .odt bytes, one line per heading or paragraph in document
// order. Inline spans are flattened into their paragraph.
func extractODT(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract ODT: not a zip: %w", err)
	}
	contentXML, err := readZipEntry(zr, odtContentPath)
	if err != nil {
		return "", fmt.Errorf("extract ODT: %w", err)
	}
	var b strings.Builder
	for _, m := range odtBlock.FindAllSubmatch(contentXML, -1) {
		line := strings.TrimSpace(html.UnescapeString(odtTag.ReplaceAllString(string(m[2]), "")))
		if line == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String(), nil
}
