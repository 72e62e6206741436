// Package inout handles the pipeline's file boundary: listing input files,
// extracting text and metadata from .eml and .html files, loading CSV
// corpora, and serializing per-email result records as JSON, CSV or XML.
//
// The core pipeline only ever sees plain UTF-8 text; all envelope decoding
// and HTML stripping happens here.
package inout

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jhillyerd/enmime"
	"golang.org/x/net/html"

	"github.com/ssciwr/mailcom/internal/pseudonymize"
)

// Email is one raw input with envelope metadata.
type Email struct {
	Path            string
	Content         string
	Date            string
	Attachments     int
	AttachmentTypes []string
}

// DefaultFileTypes are the extensions scanned by ListFiles.
var DefaultFileTypes = []string{".eml", ".html"}

// ListFiles returns all files below dir carrying one of the given
// extensions, sorted. A missing directory or an empty result is an error.
func ListFiles(dir string, types []string) ([]string, error) {
	if len(types) == 0 {
		types = DefaultFileTypes
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("input directory %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path %q is not a directory", dir)
	}

	wanted := make(map[string]bool, len(types))
	for _, t := range types {
		wanted[strings.ToLower(t)] = true
	}
	var files []string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && wanted[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("directory %q contains no %v files", dir, types)
	}
	sort.Strings(files)
	return files, nil
}

// ReadEmail extracts content and metadata from one input file.
func ReadEmail(path string) (*Email, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from ListFiles
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck // read-only handle

	switch strings.ToLower(filepath.Ext(path)) {
	case ".eml":
		return readEnvelope(path, f)
	default:
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, err
		}
		return &Email{Path: path, Content: StripHTML(string(data))}, nil
	}
}

// readEnvelope decodes an RFC 5322 message, preferring the text body and
// falling back to stripped HTML.
func readEnvelope(path string, r io.Reader) (*Email, error) {
	env, err := enmime.ReadEnvelope(r)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", path, err)
	}
	content := env.Text
	if strings.TrimSpace(content) == "" && env.HTML != "" {
		content = StripHTML(env.HTML)
	}

	email := &Email{
		Path:    path,
		Content: content,
		Date:    env.GetHeader("Date"),
	}
	for _, part := range env.Attachments {
		email.Attachments++
		ext := strings.TrimPrefix(filepath.Ext(part.FileName), ".")
		if ext != "" {
			email.AttachmentTypes = append(email.AttachmentTypes, ext)
		}
	}
	return email, nil
}

// StripHTML reduces markup to its text content. Non-HTML input passes
// through unchanged; script and style bodies are dropped.
func StripHTML(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	root, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "br", "p", "div", "tr", "li":
				b.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return b.String()
}

// LoadCSV reads a corpus where column holds the email content. The first
// row is the header; a missing column is an error.
func LoadCSV(path, column string) ([]*Email, error) {
	f, err := os.Open(path) //nolint:gosec // controlled input path
	if err != nil {
		return nil, fmt.Errorf("open csv %q: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	col := -1
	for i, name := range header {
		if name == column {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("column %q does not exist in %q", column, path)
	}

	var emails []*Email
	row := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", row, err)
		}
		row++
		if col >= len(record) {
			continue
		}
		emails = append(emails, &Email{
			Path:    fmt.Sprintf("%s#%d", path, row),
			Content: record[col],
		})
	}
	return emails, nil
}

// Record is the serialized result for one email.
type Record struct {
	Content             string                      `json:"content" xml:"content"`
	CleanedContent      string                      `json:"cleaned_content" xml:"cleaned_content"`
	Lang                string                      `json:"lang" xml:"lang"`
	DetectedDatetime    []string                    `json:"detected_datetime" xml:"detected_datetime>item"`
	PseudoContent       string                      `json:"pseudo_content" xml:"pseudo_content"`
	NEList              []pseudonymize.NamedEntity  `json:"ne_list" xml:"ne_list>ne"`
	Sentences           []string                    `json:"sentences" xml:"sentences>sentence"`
	SentencesAfterEmail []string                    `json:"sentences_after_email" xml:"sentences_after_email>sentence"`
	Date                string                      `json:"date,omitempty" xml:"date,omitempty"`
	Attachments         int                         `json:"attachment" xml:"attachment"`
	AttachmentTypes     []string                    `json:"attachement_type,omitempty" xml:"attachement_type>item,omitempty"`
	Collision           bool                        `json:"pseudonym_collision,omitempty" xml:"pseudonym_collision,omitempty"`
}

// WriteJSON writes records as an indented JSON array.
func WriteJSON(w io.Writer, records []Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// csvHeader is the flattened column set of a Record.
var csvHeader = []string{
	"content", "cleaned_content", "lang", "detected_datetime",
	"pseudo_content", "ne_list", "sentences", "sentences_after_email",
	"date", "attachment", "attachement_type",
}

// WriteCSV flattens records into one CSV row each; list fields are joined
// with "; " and the entity list is embedded as JSON.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		neJSON, err := json.Marshal(r.NEList)
		if err != nil {
			return err
		}
		row := []string{
			r.Content,
			r.CleanedContent,
			r.Lang,
			strings.Join(r.DetectedDatetime, "; "),
			r.PseudoContent,
			string(neJSON),
			strings.Join(r.Sentences, "; "),
			strings.Join(r.SentencesAfterEmail, "; "),
			r.Date,
			fmt.Sprintf("%d", r.Attachments),
			strings.Join(r.AttachmentTypes, "; "),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// emailList is the XML root wrapper.
type emailList struct {
	XMLName xml.Name `xml:"email_list"`
	Emails  []Record `xml:"email"`
}

// WriteXML writes records as an <email_list> document.
func WriteXML(w io.Writer, records []Record) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(emailList{Emails: records}); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
