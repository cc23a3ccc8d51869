package nfxml

import (
	"strings"

	"github.com/beevik/etree"
)

// DocumentFormat is the closed set of invoice layouts the extractor understands.
type DocumentFormat int

const (
	Unrecognized DocumentFormat = iota
	NfseFormat
	LegacyNfeFormat
)

func (f DocumentFormat) String() string {
	switch f {
	case NfseFormat:
		return "nfse"
	case LegacyNfeFormat:
		return "nfe"
	default:
		return "unrecognized"
	}
}

// legacyNamespace is the namespace URI the legacy layout declares.
const legacyNamespace = "NFe"

const (
	nfseRootTag   = "NOTA"
	legacyRootTag = "Reg20Item"
)

// Classify picks the document layout and returns the element field lookups
// are scoped to. An unprefixed NOTA anywhere wins over a Reg20Item in the
// legacy namespace.
func Classify(doc *etree.Document) (DocumentFormat, *etree.Element) {
	if doc == nil || doc.Root() == nil {
		return Unrecognized, nil
	}
	root := doc.Root()

	if el := findFirst(root, func(e *etree.Element) bool {
		return e.Space == "" && e.Tag == nfseRootTag
	}); el != nil {
		return NfseFormat, el
	}
	if el := findFirst(root, func(e *etree.Element) bool {
		return e.Tag == legacyRootTag && e.NamespaceURI() == legacyNamespace
	}); el != nil {
		return LegacyNfeFormat, el
	}
	return Unrecognized, nil
}

// lookup returns the first non-blank text under scope for tag, trying the
// unprefixed name before the legacy-namespace name.
func lookup(scope *etree.Element, tag string) (string, bool) {
	if scope == nil {
		return "", false
	}
	passes := []func(*etree.Element) bool{
		func(e *etree.Element) bool { return e.Space == "" && e.Tag == tag },
		func(e *etree.Element) bool { return e.Tag == tag && e.NamespaceURI() == legacyNamespace },
	}
	for _, match := range passes {
		var found string
		walk(scope, func(e *etree.Element) bool {
			if !match(e) {
				return true
			}
			if text := strings.TrimSpace(textContent(e)); text != "" {
				found = text
				return false
			}
			return true
		})
		if found != "" {
			return found, true
		}
	}
	return "", false
}

// findFirst searches el and its descendants in document order.
func findFirst(el *etree.Element, match func(*etree.Element) bool) *etree.Element {
	if match(el) {
		return el
	}
	var found *etree.Element
	walk(el, func(e *etree.Element) bool {
		if match(e) {
			found = e
			return false
		}
		return true
	})
	return found
}

// walk visits the descendants of el depth-first until visit returns false.
func walk(el *etree.Element, visit func(*etree.Element) bool) bool {
	for _, child := range el.ChildElements() {
		if !visit(child) {
			return false
		}
		if !walk(child, visit) {
			return false
		}
	}
	return true
}

func textContent(el *etree.Element) string {
	var b strings.Builder
	var collect func(*etree.Element)
	collect = func(e *etree.Element) {
		for _, tok := range e.Child {
			switch t := tok.(type) {
			case *etree.CharData:
				b.WriteString(t.Data)
			case *etree.Element:
				collect(t)
			}
		}
	}
	collect(el)
	return b.String()
}
