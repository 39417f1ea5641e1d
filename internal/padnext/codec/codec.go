// Package codec maps PADnext documents to and from their XML wire form.
//
// Encoding validates first and refuses invalid documents. Decoding is
// tolerant of attribute order and unknown elements but strict on required
// ones; it does not run the semantic checks of the validate package.
package codec

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// DefaultCharset is the wire charset of PADnext documents
const DefaultCharset = "ISO-8859-15"

// Root element names
const (
	RootAuftrag    = "auftrag"
	RootQuittung   = "Quittung"
	RootRechnungen = "rechnungen"
)

// Config holds codec configuration
type Config struct {
	// Charset is the IANA name of the output encoding
	Charset string `yaml:"charset"`
	// Indent is repeated per nesting level; empty produces compact output
	Indent string `yaml:"indent"`
}

// DefaultConfig returns the default codec configuration
func DefaultConfig() Config {
	return Config{
		Charset: DefaultCharset,
		Indent:  "  ",
	}
}

// Codec encodes and decodes documents. It holds no mutable state and is
// safe for concurrent use.
type Codec struct {
	cfg     Config
	enc     encoding.Encoding
	charset string
}

// New creates a codec for the given configuration
func New(cfg Config) (*Codec, error) {
	if cfg.Charset == "" {
		cfg.Charset = DefaultCharset
	}
	enc, err := lookupCharset(cfg.Charset)
	if err != nil {
		return nil, err
	}
	name, err := ianaindex.IANA.Name(enc)
	if err != nil {
		name = cfg.Charset
	}
	return &Codec{cfg: cfg, enc: enc, charset: name}, nil
}

// Charset returns the canonical name of the output charset
func (c *Codec) Charset() string { return c.charset }

var std = func() *Codec {
	c, err := New(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return c
}()

// Default returns the codec with the default configuration
func Default() *Codec { return std }

func lookupCharset(label string) (encoding.Encoding, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
	return enc, nil
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := lookupCharset(label)
	if err != nil {
		return nil, err
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}

func newDecoder(data []byte) *xml.Decoder {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.CharsetReader = charsetReader
	return d
}
