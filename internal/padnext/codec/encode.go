package codec

import (
	"encoding/xml"
	"fmt"

	"golang.org/x/text/transform"

	"github.com/drfirst/go-padnext/internal/padnext/document"
	"github.com/drfirst/go-padnext/internal/padnext/schema"
	"github.com/drfirst/go-padnext/internal/padnext/validate"
)

// EncodeAuftrag validates and encodes an order with the default codec
func EncodeAuftrag(a *document.Auftrag, version string) ([]byte, error) {
	return std.EncodeAuftrag(a, version)
}

// EncodeQuittung validates and encodes a receipt with the default codec
func EncodeQuittung(q *document.Quittung, version string) ([]byte, error) {
	return std.EncodeQuittung(q, version)
}

// EncodeRechnungen validates and encodes a billing document with the
// default codec
func EncodeRechnungen(r *document.Rechnungen, version string) ([]byte, error) {
	return std.EncodeRechnungen(r, version)
}

// EncodeAuftrag validates a against version and encodes it
func (c *Codec) EncodeAuftrag(a *document.Auftrag, version string) ([]byte, error) {
	return c.encode(RootAuftrag, a, version)
}

// EncodeQuittung validates q against version and encodes it
func (c *Codec) EncodeQuittung(q *document.Quittung, version string) ([]byte, error) {
	return c.encode(RootQuittung, q, version)
}

// EncodeRechnungen validates r against version and encodes it
func (c *Codec) EncodeRechnungen(r *document.Rechnungen, version string) ([]byte, error) {
	return c.encode(RootRechnungen, r, version)
}

// Encode validates and encodes whichever document m carries
func (c *Codec) Encode(m *Message) ([]byte, error) {
	return c.encode(m.Root, m.Document(), m.Version.String())
}

func (c *Codec) encode(root string, doc any, version string) ([]byte, error) {
	v, err := schema.ParseVersion(version)
	if err != nil {
		return nil, &EncodeError{Root: root, Err: err}
	}
	res, err := validate.Document(doc, v)
	if err != nil {
		return nil, &EncodeError{Root: root, Version: v, Err: err}
	}
	if !res.Valid() {
		return nil, &EncodeError{Root: root, Version: v, Violations: res.Violations, Err: res.Err()}
	}

	var body []byte
	if c.cfg.Indent == "" {
		body, err = xml.Marshal(doc)
	} else {
		body, err = xml.MarshalIndent(doc, "", c.cfg.Indent)
	}
	if err != nil {
		return nil, &EncodeError{Root: root, Version: v, Err: fmt.Errorf("failed to marshal: %w", err)}
	}

	out, _, err := transform.Bytes(c.enc.NewEncoder(), body)
	if err != nil {
		return nil, &EncodeError{Root: root, Version: v, Err: fmt.Errorf("not representable in %s: %w", c.charset, err)}
	}
	header := fmt.Sprintf("<?xml version=\"1.0\" encoding=\"%s\"?>\n", c.charset)
	return append([]byte(header), out...), nil
}
