package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/carelens/internal/models"
)

func TestExtractBytes_plain(t *testing.T) {
	e := NewExtractor()
	content := []byte("Intake note\nPresenting concern: insomnia\n")
	got, err := e.ExtractBytes(content, ".txt")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Intake note\nPresenting concern: insomnia" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_plainInvalidUTF8(t *testing.T) {
	e := NewExtractor()
	content := []byte("hello\x80world") // invalid UTF-8
	got, err := e.ExtractBytes(content, ".MD")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "hello\uFFFDworld" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_plainFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "letter.txt")
	if err := os.WriteFile(path, []byte("Referral letter"), 0600); err != nil {
		t.Fatal(err)
	}

	e := NewExtractor()
	got, err := e.Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "Referral letter" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_nonexistent(t *testing.T) {
	e := NewExtractor()
	_, err := e.Extract("/nonexistent/path/file.txt")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestExtractBytes_unsupported(t *testing.T) {
	e := NewExtractor()
	for _, ext := range []string{".xyz", ".exe", ""} {
		_, err := e.ExtractBytes([]byte("raw"), ext)
		if !errors.Is(err, models.ErrUnsupportedFormat) {
			t.Errorf("ext %q: expected ErrUnsupportedFormat, got %v", ext, err)
		}
	}
}

func TestSupported(t *testing.T) {
	tests := map[string]bool{
		".pdf": true, ".PDF": true, ".docx": true, ".odt": true, ".rtf": true,
		".txt": true, ".md": true, ".csv": false, ".xlsx": false, ".pptx": false,
	}
	for ext, want := range tests {
		if got := Supported(ext); got != want {
			t.Errorf("Supported(%q) = %v, want %v", ext, got, want)
		}
	}
}

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range files {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write([]byte(body))
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

const wordNS = `xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"`

func TestExtractBytes_docx(t *testing.T) {
	e := NewExtractor()
	body := `<w:document ` + wordNS + `><w:body>` +
		`<w:p w:rsidR="00AB"><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>Discharge</w:t></w:r><w:r><w:t xml:space="preserve"> Summary</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Sleep &amp; mood improved.</w:t></w:r></w:p>` +
		`<w:p/>` +
		`</w:body></w:document>`
	content := zipOf(t, map[string]string{"word/document.xml": body})
	got, err := e.ExtractBytes(content, ".docx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Discharge Summary\nSleep & mood improved." {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_docxContentTypes(t *testing.T) {
	const ct = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
	tests := []struct {
		name     string
		override string
	}{
		{"part name first", `<Override PartName="/word/document2.xml" ContentType="` + ct + `"/>`},
		{"content type first", `<Override ContentType="` + ct + `" PartName="/word/document2.xml"/>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := zipOf(t, map[string]string{
				"[Content_Types].xml": `<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` + tt.override + `</Types>`,
				"word/document2.xml":  `<w:document ` + wordNS + `><w:body><w:p><w:r><w:t>From document2</w:t></w:r></w:p></w:body></w:document>`,
			})
			got, err := NewExtractor().ExtractBytes(content, ".docx")
			if err != nil {
				t.Fatalf("ExtractBytes: %v", err)
			}
			if got != "From document2" {
				t.Errorf("got %q", got)
			}
		})
	}
}

func TestExtractBytes_docxErrors(t *testing.T) {
	e := NewExtractor()
	if _, err := e.ExtractBytes([]byte("not a zip"), ".docx"); err == nil {
		t.Error("expected error for non-zip docx")
	}
	content := zipOf(t, map[string]string{"other.xml": "<x/>"})
	if _, err := e.ExtractBytes(content, ".docx"); err == nil {
		t.Error("expected error when document.xml is missing")
	}
}

func TestExtractBytes_odt(t *testing.T) {
	contentXML := `<office:document-content xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0" xmlns:text="urn:oasis:names:tc:opendocument:xmlns:text:1.0"><office:body><office:text>` +
		`<text:h text:outline-level="1">Intake Form</text:h>` +
		`<text:p text:style-name="P1">Reports <text:span text:style-name="T1">panic</text:span> at work.</text:p>` +
		`<text:p/>` +
		`</office:text></office:body></office:document-content>`
	content := zipOf(t, map[string]string{"content.xml": contentXML, "mimetype": "application/vnd.oasis.opendocument.text"})
	got, err := NewExtractor().ExtractBytes(content, ".odt")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Intake Form\nReports panic at work." {
		t.Errorf("got %q", got)
	}

	if _, err := NewExtractor().ExtractBytes(zipOf(t, map[string]string{"mimetype": "x"}), ".odt"); err == nil {
		t.Error("expected error when content.xml is missing")
	}
}

func TestExtractBytes_rtf(t *testing.T) {
	content := []byte(`{\rtf1\ansi Client practiced grounding exercises.\par}`)
	got, err := NewExtractor().ExtractBytes(content, ".rtf")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if !strings.Contains(got, "Client practiced grounding exercises.") {
		t.Errorf("got %q", got)
	}
	if strings.Contains(got, `\rtf1`) {
		t.Errorf("control words leaked: %q", got)
	}
}

func TestExtractBytes_pdfInvalid(t *testing.T) {
	if _, err := NewExtractor().ExtractBytes([]byte("%PDF-broken"), ".pdf"); err == nil {
		t.Error("expected error for malformed PDF")
	}
}
