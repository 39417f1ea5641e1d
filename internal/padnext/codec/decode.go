package codec

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/drfirst/go-padnext/internal/padnext/document"
	"github.com/drfirst/go-padnext/internal/padnext/schema"
	"github.com/drfirst/go-padnext/internal/padnext/validate"
)

// Message is a decoded document of any kind
type Message struct {
	Root       string
	Version    schema.Version
	Auftrag    *document.Auftrag
	Quittung   *document.Quittung
	Rechnungen *document.Rechnungen
}

// Document returns the carried document
func (m *Message) Document() any {
	switch {
	case m.Auftrag != nil:
		return m.Auftrag
	case m.Quittung != nil:
		return m.Quittung
	case m.Rechnungen != nil:
		return m.Rechnungen
	}
	return nil
}

// TransferNumber returns the transfer number of an order or receipt, or 0
func (m *Message) TransferNumber() int {
	switch {
	case m.Auftrag != nil:
		return m.Auftrag.TransferNumber()
	case m.Quittung != nil:
		return m.Quittung.TransferNumber()
	}
	return 0
}

// Validate runs the validator for the carried document
func (m *Message) Validate() *validate.Result {
	res, err := validate.Document(m.Document(), m.Version)
	if err != nil {
		return &validate.Result{Version: m.Version}
	}
	return res
}

// DecodeAuftrag decodes an order with the default codec
func DecodeAuftrag(data []byte, version string) (*document.Auftrag, error) {
	return std.DecodeAuftrag(data, version)
}

// DecodeQuittung decodes a receipt with the default codec
func DecodeQuittung(data []byte, version string) (*document.Quittung, error) {
	return std.DecodeQuittung(data, version)
}

// DecodeRechnungen decodes a billing document with the default codec
func DecodeRechnungen(data []byte, version string) (*document.Rechnungen, error) {
	return std.DecodeRechnungen(data, version)
}

// Decode detects the document kind and decodes it with the default codec
func Decode(data []byte, version string) (*Message, error) {
	return std.Decode(data, version)
}

// Sniff reports the root element and declared schema version without
// decoding the whole document. Orders declare their version on the
// nachrichtentyp element, the other kinds on the root.
func Sniff(data []byte) (root, version string, err error) {
	d := newDecoder(data)
	depth := 0
	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", "", &ParseError{Root: root, Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch {
			case depth == 1:
				root = t.Name.Local
				if v := attr(t, "version"); v != "" || root != RootAuftrag {
					return root, v, nil
				}
			case depth == 2 && t.Name.Local == "nachrichtentyp":
				return root, attr(t, "version"), nil
			}
		case xml.EndElement:
			depth--
			if depth == 0 {
				return root, "", nil
			}
		}
	}
	if root == "" {
		return "", "", &ParseError{Err: errors.New("no root element")}
	}
	return root, "", nil
}

func attr(t xml.StartElement, local string) string {
	for _, a := range t.Attr {
		if a.Name.Local == local && a.Name.Space == "" {
			return a.Value
		}
	}
	return ""
}

// Decode detects the document kind from the root element and decodes it.
// The version argument is optional; when given it must match the version
// the document declares.
func (c *Codec) Decode(data []byte, version string) (*Message, error) {
	root, _, err := Sniff(data)
	if err != nil {
		return nil, err
	}
	m := &Message{Root: root}
	switch root {
	case RootAuftrag:
		m.Auftrag, err = c.DecodeAuftrag(data, version)
		if m.Auftrag == nil {
			return nil, err
		}
		m.Version, _ = schema.ParseVersion(m.Auftrag.SchemaVersion())
	case RootQuittung:
		m.Quittung, err = c.DecodeQuittung(data, version)
		if m.Quittung == nil {
			return nil, err
		}
		m.Version, _ = schema.ParseVersion(m.Quittung.Version)
	case RootRechnungen:
		m.Rechnungen, err = c.DecodeRechnungen(data, version)
		if m.Rechnungen == nil {
			return nil, err
		}
		m.Version, _ = schema.ParseVersion(m.Rechnungen.Version)
	default:
		return nil, &ParseError{Root: root, Err: ErrUnexpectedRoot}
	}
	if m.Version.IsZero() && version != "" {
		m.Version, _ = schema.ParseVersion(version)
	}
	return m, err
}

// DecodeAuftrag decodes an order. Missing required elements yield the
// partial order together with a *ParseError.
func (c *Codec) DecodeAuftrag(data []byte, version string) (*document.Auftrag, error) {
	v, err := resolve(data, RootAuftrag, version)
	if err != nil {
		return nil, err
	}
	var a document.Auftrag
	if err := unmarshal(data, &a); err != nil {
		return nil, &ParseError{Root: RootAuftrag, Version: v.String(), Err: err}
	}
	a.XMLName = xml.Name{}
	return &a, missing(RootAuftrag, v, validate.Auftrag(&a, v))
}

// DecodeQuittung decodes a receipt
func (c *Codec) DecodeQuittung(data []byte, version string) (*document.Quittung, error) {
	v, err := resolve(data, RootQuittung, version)
	if err != nil {
		return nil, err
	}
	var q document.Quittung
	if err := unmarshal(data, &q); err != nil {
		return nil, &ParseError{Root: RootQuittung, Version: v.String(), Err: err}
	}
	q.XMLName = xml.Name{}
	return &q, missing(RootQuittung, v, validate.Quittung(&q, v))
}

// DecodeRechnungen decodes a billing document
func (c *Codec) DecodeRechnungen(data []byte, version string) (*document.Rechnungen, error) {
	v, err := resolve(data, RootRechnungen, version)
	if err != nil {
		return nil, err
	}
	var r document.Rechnungen
	if err := unmarshal(data, &r); err != nil {
		return nil, &ParseError{Root: RootRechnungen, Version: v.String(), Err: err}
	}
	r.XMLName = xml.Name{}
	return &r, missing(RootRechnungen, v, validate.Rechnungen(&r, v))
}

// resolve checks the root element and settles the schema version from the
// declaration and the caller's expectation
func resolve(data []byte, want, version string) (schema.Version, error) {
	root, declared, err := Sniff(data)
	if err != nil {
		return schema.Version{}, err
	}
	if root != want {
		return schema.Version{}, &ParseError{Root: root,
			Err: fmt.Errorf("%w: got %q, want %q", ErrUnexpectedRoot, root, want)}
	}
	switch {
	case declared == "" && version == "":
		return schema.Version{}, &ParseError{Root: root, Err: ErrNoVersion}
	case declared != "" && version != "" && declared != version:
		return schema.Version{}, &ParseError{Root: root, Version: declared,
			Err: fmt.Errorf("%w: declared %s, expected %s", ErrVersionMismatch, declared, version)}
	case declared == "":
		declared = version
	}
	v, err := schema.ParseVersion(declared)
	if err != nil {
		return schema.Version{}, &ParseError{Root: root, Version: declared, Err: err}
	}
	return v, nil
}

func unmarshal(data []byte, into any) error {
	return newDecoder(data).Decode(into)
}

// missing turns absent required elements into a ParseError. Other
// findings are left to the caller's validation.
func missing(root string, v schema.Version, res *validate.Result) error {
	var paths []string
	for _, viol := range res.Violations {
		if viol.Kind == schema.KindStructural && viol.Rule == "required" {
			paths = append(paths, viol.Path)
		}
	}
	if len(paths) == 0 {
		return nil
	}
	return &ParseError{Root: root, Version: v.String(), Missing: paths, Err: ErrMissingRequired}
}
