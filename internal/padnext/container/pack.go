package container

import (
	"bytes"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/drfirst/go-padnext/internal/padnext/codec"
	"github.com/drfirst/go-padnext/internal/padnext/document"
	"github.com/drfirst/go-padnext/internal/padnext/schema"
)

// Manifest check failures
var (
	ErrMissingFile      = errors.New("file missing")
	ErrLengthMismatch   = errors.New("file length differs from manifest")
	ErrChecksumMismatch = errors.New("file checksum differs from manifest")
	ErrNameMismatch     = errors.New("order and billing document names differ")
)

// File is one payload file
type File struct {
	Name string
	Data []byte
}

// Archive is a packed delivery
type Archive struct {
	Name    string
	Data    []byte
	Auftrag *document.Auftrag
}

// Unpacked is the content of an opened delivery
type Unpacked struct {
	Names   Names
	Auftrag *document.Auftrag
	Files   []File
}

// File returns the payload with the given name
func (u *Unpacked) File(name string) ([]byte, bool) {
	for _, f := range u.Files {
		if f.Name == name {
			return f.Data, true
		}
	}
	return nil, false
}

// Config holds packer configuration
type Config struct {
	// CheckPDF validates .pdf payloads before packing
	CheckPDF bool `yaml:"check_pdf"`
}

// DefaultConfig returns the default packer configuration
func DefaultConfig() Config {
	return Config{CheckPDF: true}
}

// Packer builds and opens transport archives
type Packer struct {
	config Config
	codec  *codec.Codec
	logger *zap.Logger
}

// NewPacker creates a new packer
func NewPacker(config Config, c *codec.Codec, logger *zap.Logger) *Packer {
	if c == nil {
		c = codec.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Packer{config: config, codec: c, logger: logger}
}

// Pack fills in the manifest lengths and checksums from files, names the
// billing document by convention, encodes the order for version and seals
// the payloads for pub. The given order is not modified; the packed copy is
// returned with the archive.
func (p *Packer) Pack(a *document.Auftrag, version string, files []File, pub *rsa.PublicKey) (*Archive, error) {
	names, err := NamesFor(a)
	if err != nil {
		return nil, err
	}

	packed := cloneAuftrag(a)
	byName := make(map[string][]byte, len(files))
	for _, f := range files {
		byName[f.Name] = f.Data
	}

	payloads := make([]File, 0, len(packed.Dateien))
	for i := range packed.Dateien {
		d := &packed.Dateien[i]
		data, ok := byName[d.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingFile, d.Name)
		}
		if strings.HasSuffix(d.Name, SuffixBilling) {
			d.Name = names.Billing()
		}
		if p.config.CheckPDF && isPDF(d.Name) {
			pages, err := CheckPDF(data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", d.Name, err)
			}
			p.logger.Debug("PDF payload checked", zap.String("file", d.Name), zap.Int("pages", pages))
		}
		d.Dateilaenge = document.Describe(data)
		payloads = append(payloads, File{Name: d.Name, Data: data})
	}

	auf, err := p.codec.EncodeAuftrag(packed, version)
	if err != nil {
		return nil, err
	}

	inner, err := zipFiles(payloads)
	if err != nil {
		return nil, fmt.Errorf("failed to compress payloads: %w", err)
	}
	sealed, err := Seal(inner, pub)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt payloads: %w", err)
	}
	outer, err := zipFiles([]File{
		{Name: names.Auftrag(), Data: auf},
		{Name: names.Encrypted(), Data: sealed},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build archive: %w", err)
	}

	p.logger.Info("Delivery packed",
		zap.String("archive", names.Archive()),
		zap.Int("files", len(payloads)),
		zap.Int("bytes", len(outer)))

	return &Archive{Name: names.Archive(), Data: outer, Auftrag: packed}, nil
}

// Unpack opens a transport archive, decrypts the payloads with priv and
// checks them against the manifest. Every manifest problem is reported;
// the unpacked content is returned alongside them.
func (p *Packer) Unpack(data []byte, priv *rsa.PrivateKey, version string) (*Unpacked, error) {
	outer, err := unzipFiles(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	var aufName string
	var auf, sealed []byte
	for _, f := range outer {
		switch {
		case strings.HasSuffix(f.Name, SuffixAuftrag):
			aufName, auf = f.Name, f.Data
		case strings.HasSuffix(f.Name, ".p7m"):
			sealed = f.Data
		}
	}
	if auf == nil {
		return nil, fmt.Errorf("%w: *%s", ErrMissingFile, SuffixAuftrag)
	}
	if sealed == nil {
		return nil, fmt.Errorf("%w: *.p7m", ErrMissingFile)
	}

	names, err := ParseName(aufName)
	if err != nil {
		return nil, err
	}
	a, err := p.codec.DecodeAuftrag(auf, version)
	if err != nil {
		return nil, err
	}

	plain, err := Open(sealed, priv)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt payloads: %w", err)
	}
	files, err := unzipFiles(plain)
	if err != nil {
		return nil, fmt.Errorf("failed to open payload archive: %w", err)
	}

	u := &Unpacked{Names: names, Auftrag: a, Files: files}
	return u, p.verify(u, stem(aufName, SuffixAuftrag))
}

func (p *Packer) verify(u *Unpacked, base string) error {
	var errs []error
	for _, d := range u.Auftrag.Dateien {
		data, ok := u.File(d.Name)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingFile, d.Name))
			continue
		}
		if int64(len(data)) != d.Length() {
			errs = append(errs, fmt.Errorf("%w: %s has %d bytes, manifest says %d",
				ErrLengthMismatch, d.Name, len(data), d.Length()))
		}
		sum := sha1.Sum(data)
		if got := hex.EncodeToString(sum[:]); got != d.Checksum() {
			errs = append(errs, fmt.Errorf("%w: %s", ErrChecksumMismatch, d.Name))
		}
		if strings.HasSuffix(d.Name, SuffixBilling) && stem(d.Name, SuffixBilling) != base {
			errs = append(errs, fmt.Errorf("%w: %s and %s", ErrNameMismatch, base+SuffixAuftrag, d.Name))
		}
	}
	if len(errs) > 0 {
		p.logger.Warn("Manifest check failed",
			zap.String("delivery", base),
			zap.Int("problems", len(errs)))
	}
	return errors.Join(errs...)
}

func zipFiles(files []File) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: f.Name, Method: zip.Deflate})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(f.Data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unzipFiles(data []byte) ([]File, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	files := make([]File, 0, len(zr.File))
	for _, zf := range zr.File {
		rc, err := zf.Open()
		if err != nil {
			return nil, err
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		files = append(files, File{Name: zf.Name, Data: body})
	}
	return files, nil
}

func cloneAuftrag(a *document.Auftrag) *document.Auftrag {
	c := *a
	c.Dateien = make([]document.Datei, len(a.Dateien))
	copy(c.Dateien, a.Dateien)
	for i := range c.Dateien {
		if l := c.Dateien[i].Dateilaenge; l != nil {
			cp := *l
			c.Dateien[i].Dateilaenge = &cp
		}
	}
	c.Issues = append([]schema.Violation(nil), a.Issues...)
	return &c
}
