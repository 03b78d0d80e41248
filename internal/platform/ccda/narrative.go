package ccda

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"html/template"
	"io"
	"net/url"
	"strings"
)

// narrativeElements maps CDA narrative block elements to HTML tags.
// Elements missing from the table are unwrapped: their children are kept.
var narrativeElements = map[string]string{
	"paragraph": "p",
	"content":   "span",
	"item":      "li",
	"table":     "table",
	"thead":     "thead",
	"tbody":     "tbody",
	"tfoot":     "tfoot",
	"tr":        "tr",
	"th":        "th",
	"td":        "td",
	"col":       "col",
	"colgroup":  "colgroup",
	"sub":       "sub",
	"sup":       "sup",
}

// tableAttributes are copied through for table parts.
var tableAttributes = map[string]bool{
	"align":       true,
	"valign":      true,
	"colspan":     true,
	"rowspan":     true,
	"span":        true,
	"width":       true,
	"border":      true,
	"cellpadding": true,
	"cellspacing": true,
	"summary":     true,
	"scope":       true,
	"abbr":        true,
	"headers":     true,
}

var tableParts = map[string]bool{
	"table": true, "thead": true, "tbody": true, "tfoot": true,
	"tr": true, "th": true, "td": true, "col": true, "colgroup": true,
}

var voidElements = map[string]bool{"br": true, "col": true}

type narrativeWriter struct {
	buf   bytes.Buffer
	stack []string // HTML tag emitted for each open CDA element, "" when unwrapped
	skip  int      // depth inside a dropped element
}

// NarrativeHTML converts the content of a CDA section <text> element to
// HTML. All character data is escaped and only known elements and
// attributes are emitted.
func NarrativeHTML(raw []byte) (template.HTML, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", nil
	}

	dec := xml.NewDecoder(io.MultiReader(
		strings.NewReader(`<text>`), bytes.NewReader(raw), strings.NewReader(`</text>`),
	))
	dec.Strict = false
	dec.Entity = xml.HTMLEntity
	dec.AutoClose = xml.HTMLAutoClose

	w := &narrativeWriter{}
	depth := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("ccda: narrative: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 1 {
				continue
			}
			w.start(t)
		case xml.EndElement:
			if depth == 1 {
				depth--
				continue
			}
			depth--
			w.end()
		case xml.CharData:
			if w.skip == 0 {
				w.buf.WriteString(html.EscapeString(string(t)))
			}
		}
	}
	for len(w.stack) > 0 {
		w.end()
	}
	return template.HTML(w.buf.String()), nil
}

func (w *narrativeWriter) start(el xml.StartElement) {
	name := el.Name.Local
	if w.skip > 0 || name == "renderMultiMedia" {
		w.skip++
		w.stack = append(w.stack, "")
		return
	}

	tag, attrs := w.translate(name, el.Attr)
	w.stack = append(w.stack, tag)
	if tag == "" {
		return
	}

	w.buf.WriteByte('<')
	w.buf.WriteString(tag)
	for _, a := range attrs {
		fmt.Fprintf(&w.buf, ` %s="%s"`, a.Name.Local, html.EscapeString(a.Value))
	}
	if voidElements[tag] {
		w.buf.WriteString(" /")
	}
	w.buf.WriteByte('>')
}

func (w *narrativeWriter) end() {
	if len(w.stack) == 0 {
		return
	}
	tag := w.stack[len(w.stack)-1]
	w.stack = w.stack[:len(w.stack)-1]
	if w.skip > 0 {
		w.skip--
		return
	}
	if tag == "" || voidElements[tag] {
		return
	}
	w.buf.WriteString("</")
	w.buf.WriteString(tag)
	w.buf.WriteByte('>')
}

func (w *narrativeWriter) parent() string {
	for i := len(w.stack) - 1; i >= 0; i-- {
		if w.stack[i] != "" {
			return w.stack[i]
		}
	}
	return ""
}

// translate picks the HTML tag and attributes for one CDA element.
func (w *narrativeWriter) translate(name string, in []xml.Attr) (string, []xml.Attr) {
	var tag string
	var out []xml.Attr
	classes := styleClasses(attrValue(in, "styleCode"))

	switch name {
	case "br":
		return "br", nil
	case "list":
		tag = "ul"
		if strings.EqualFold(attrValue(in, "listType"), "ordered") {
			tag = "ol"
		}
	case "caption":
		if w.parent() == "table" {
			tag = "caption"
		} else {
			tag = "span"
			classes = append(classes, "cda-caption")
		}
	case "linkHtml":
		tag = "a"
		if href, ok := safeHref(attrValue(in, "href")); ok {
			out = append(out, xml.Attr{Name: xml.Name{Local: "href"}, Value: href})
		}
		if n := attrValue(in, "name"); n != "" {
			out = append(out, xml.Attr{Name: xml.Name{Local: "id"}, Value: n})
		}
	case "footnoteRef":
		ref := attrValue(in, "IDREF")
		if ref == "" {
			return "", nil
		}
		tag = "a"
		out = append(out, xml.Attr{Name: xml.Name{Local: "href"}, Value: "#" + ref})
		classes = append(classes, "cda-footnote-ref")
	case "footnote":
		tag = "span"
		classes = append(classes, "cda-footnote")
	default:
		tag = narrativeElements[name]
		if tag == "" {
			return "", nil
		}
		if tableParts[tag] {
			for _, a := range in {
				if tableAttributes[strings.ToLower(a.Name.Local)] {
					out = append(out, xml.Attr{Name: xml.Name{Local: strings.ToLower(a.Name.Local)}, Value: a.Value})
				}
			}
		}
	}

	if id := attrValue(in, "ID"); id != "" {
		out = append([]xml.Attr{{Name: xml.Name{Local: "id"}, Value: id}}, out...)
	}
	if len(classes) > 0 {
		out = append(out, xml.Attr{Name: xml.Name{Local: "class"}, Value: strings.Join(classes, " ")})
	}
	return tag, out
}

func attrValue(attrs []xml.Attr, name string) string {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// styleClasses turns a styleCode list such as "Bold Italics" into
// "cda-bold cda-italics". Tokens that are not plain words are ignored.
func styleClasses(styleCode string) []string {
	var out []string
	for _, tok := range strings.Fields(styleCode) {
		ok := true
		for _, r := range tok {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, "cda-"+strings.ToLower(tok))
		}
	}
	return out
}

// safeHref keeps in-document fragments and absolute http(s) links.
func safeHref(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "#") && len(href) > 1 {
		return href, true
	}
	u, err := url.Parse(href)
	if err != nil || !u.IsAbs() {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return u.String(), true
}
