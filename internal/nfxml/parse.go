package nfxml

import (
	"errors"
	"io"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"golang.org/x/net/html/charset"
)

// ParseError reports a document that is not well-formed XML.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "parse xml: " + e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }

var (
	errNoRoot        = errors.New("document has no root element")
	errMultipleRoots = errors.New("document has more than one root element")
	errStrayText     = errors.New("document has text outside the root element")
)

// Parse reads an XML document. ISO-8859-1 and other declared encodings are
// decoded to UTF-8.
func Parse(r io.Reader) (*etree.Document, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charset.NewReaderLabel
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, &ParseError{Err: err}
	}
	if err := checkProlog(doc); err != nil {
		return nil, &ParseError{Err: err}
	}
	return doc, nil
}

// checkProlog enforces a single root element with nothing but whitespace,
// comments and processing instructions around it.
func checkProlog(doc *etree.Document) error {
	roots := 0
	for _, tok := range doc.Child {
		switch t := tok.(type) {
		case *etree.Element:
			roots++
		case *etree.CharData:
			if strings.TrimSpace(t.Data) != "" {
				return errStrayText
			}
		}
	}
	switch {
	case roots == 0:
		return errNoRoot
	case roots > 1:
		return errMultipleRoots
	}
	return nil
}

// ParseDecimal reads a pt-BR formatted amount ("1.234,56"). Anything that
// does not parse is zero.
func ParseDecimal(raw string) decimal.Decimal {
	value, _ := parseDecimal(raw)
	return value
}

func parseDecimal(raw string) (decimal.Decimal, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return decimal.Zero, false
	}
	value = strings.ReplaceAll(value, ".", "")
	value = strings.ReplaceAll(value, ",", ".")
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

var (
	isoDate    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	brazilDate = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`)
)

// ParseCivilDate accepts YYYY-MM-DD or DD/MM/YYYY and returns midnight UTC of
// that day. Any other input yields fallback and false.
func ParseCivilDate(raw string, fallback time.Time) (time.Time, bool) {
	value := strings.TrimSpace(raw)
	var layout string
	switch {
	case isoDate.MatchString(value):
		layout = "2006-01-02"
	case brazilDate.MatchString(value):
		layout = "02/01/2006"
	default:
		return fallback, false
	}
	t, err := time.ParseInLocation(layout, value, time.UTC)
	if err != nil {
		return fallback, false
	}
	return t, true
}

// CleanTaxID keeps only ASCII digits.
func CleanTaxID(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Truncate cuts s to at most n characters.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// serialize renders the document from its root element, without the XML
// declaration.
func serialize(doc *etree.Document) string {
	if doc == nil || doc.Root() == nil {
		return ""
	}
	out := etree.NewDocument()
	out.SetRoot(doc.Root().Copy())
	s, err := out.WriteToString()
	if err != nil {
		return ""
	}
	return s
}
