// Package container packs an order and its payload files into the PADnext
// transport archive and unpacks it again.
//
// The archive (<base>_padx.zip) holds the order (<base>_auf.xml) and the
// encrypted payload archive (<base>_dat_padx.zip.p7m). The payload archive
// holds the files named in the order's manifest, and each file's length
// and SHA-1 checksum are recorded in the manifest.
package container

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/drfirst/go-padnext/internal/padnext/document"
)

// File name suffixes
const (
	SuffixAuftrag   = "_auf.xml"
	SuffixBilling   = "_padx.xml"
	SuffixPayload   = "_dat_padx.zip"
	SuffixEncrypted = "_dat_padx.zip.p7m"
	SuffixArchive   = "_padx.zip"
)

// ErrMalformedName is returned for names that do not follow the convention
var ErrMalformedName = errors.New("malformed PADnext file name")

var basePattern = regexp.MustCompile(`^(\d{8})_(\d{8})_([A-Z]+)_(\d{6})`)

// Names derives the conventional file names of one delivery:
// <kundennr:8>_<yyyymmdd>_<nachrichtentyp>_<transfernr:6>
type Names struct {
	Kundennr       int
	Datum          string
	Nachrichtentyp string
	Transfernr     int
}

// NamesFor derives the names from the sender, creation date, message type
// and transfer number of an order
func NamesFor(a *document.Auftrag) (Names, error) {
	created := a.CreatedAt()
	switch {
	case a.SenderID() == 0:
		return Names{}, fmt.Errorf("%w: order has no sender customer number", ErrMalformedName)
	case created.IsZero():
		return Names{}, fmt.Errorf("%w: order has no creation date", ErrMalformedName)
	case a.MessageType() == "":
		return Names{}, fmt.Errorf("%w: order has no message type", ErrMalformedName)
	case a.TransferNumber() == 0:
		return Names{}, fmt.Errorf("%w: order has no transfer number", ErrMalformedName)
	}
	return Names{
		Kundennr:       a.SenderID(),
		Datum:          created.Format("20060102"),
		Nachrichtentyp: a.MessageType(),
		Transfernr:     a.TransferNumber(),
	}, nil
}

// ParseName recovers the names from any file name of a delivery
func ParseName(name string) (Names, error) {
	m := basePattern.FindStringSubmatch(name)
	if m == nil {
		return Names{}, fmt.Errorf("%w: %q", ErrMalformedName, name)
	}
	kundennr, _ := strconv.Atoi(m[1])
	transfernr, _ := strconv.Atoi(m[4])
	return Names{Kundennr: kundennr, Datum: m[2], Nachrichtentyp: m[3], Transfernr: transfernr}, nil
}

// Base returns the common name stem
func (n Names) Base() string {
	return fmt.Sprintf("%08d_%s_%s_%06d", n.Kundennr, n.Datum, n.Nachrichtentyp, n.Transfernr)
}

// Auftrag returns the name of the order document
func (n Names) Auftrag() string { return n.Base() + SuffixAuftrag }

// Billing returns the name of the billing document payload
func (n Names) Billing() string { return n.Base() + SuffixBilling }

// Payload returns the name of the unencrypted payload archive
func (n Names) Payload() string { return n.Base() + SuffixPayload }

// Encrypted returns the name of the encrypted payload archive
func (n Names) Encrypted() string { return n.Base() + SuffixEncrypted }

// Archive returns the name of the transport archive
func (n Names) Archive() string { return n.Base() + SuffixArchive }

func stem(name, suffix string) string {
	return strings.TrimSuffix(name, suffix)
}
