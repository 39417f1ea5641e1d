// Package document provides the PADnext message structures: the delivery
// order (auftrag), the receipt (Quittung) and the billing document
// (rechnungen).
//
// Fields hold their lexical wire values so that any document, including a
// partial or invalid one, can be assembled and inspected. Typed accessors
// parse on demand; the validate package decides what is acceptable for a
// given schema version.
package document

import (
	"encoding/xml"
	"strconv"
	"strings"
	"time"

	"github.com/drfirst/go-padnext/internal/padnext/schema"
)

// Auftrag represents a delivery order: one outbound shipment and its manifest
type Auftrag struct {
	XMLName          xml.Name          `xml:"auftrag"`
	Xmlns            string            `xml:"xmlns,attr,omitempty"`
	Erstellungsdatum string            `xml:"erstellungsdatum,attr,omitempty"`
	Transfernr       string            `xml:"transfernr,attr,omitempty"`
	Echtdaten        string            `xml:"echtdaten,attr,omitempty"`
	Dateianzahl      string            `xml:"dateianzahl,attr,omitempty"`
	Empfaenger       *Teilnehmer       `xml:"empfaenger"`
	Absender         *Teilnehmer       `xml:"absender"`
	Nachrichtentyp   *Nachrichtentyp   `xml:"nachrichtentyp"`
	System           *System           `xml:"system"`
	Verschluesselung *Verschluesselung `xml:"verschluesselung"`
	Empfangsquittung *Empfangsquittung `xml:"empfangsquittung"`
	Dateien          []Datei           `xml:"datei"`

	// Issues are problems recorded while the document was assembled, such
	// as an unreadable payload file. They are reported by validation.
	Issues []schema.Violation `xml:"-"`
}

// Teilnehmer represents a participant (sender or recipient)
type Teilnehmer struct {
	Logisch        *Logisch        `xml:"logisch"`
	Name           string          `xml:"name,omitempty"`
	Bankverbindung *Bankverbindung `xml:"bankverbindung"`
}

// Logisch carries the logical participant address
type Logisch struct {
	Kundennr string `xml:"kundennr,omitempty"`
}

// Bankverbindung represents bank details. Older revisions use BLZ and
// account number, newer ones IBAN and BIC.
type Bankverbindung struct {
	BLZ     string `xml:"blz,omitempty"`
	Kontonr string `xml:"kontonr,omitempty"`
	IBAN    string `xml:"iban,omitempty"`
	BIC     string `xml:"bic,omitempty"`
}

// Nachrichtentyp is the message type discriminator. Its version attribute
// declares the schema revision of the whole order.
type Nachrichtentyp struct {
	Version string `xml:"version,attr,omitempty"`
	Value   string `xml:",chardata"`
}

// System describes the producing software
type System struct {
	Produkt           string `xml:"produkt,omitempty"`
	Version           string `xml:"version,omitempty"`
	Hersteller        string `xml:"hersteller,omitempty"`
	Zertifizierungsnr string `xml:"zertifizierungsnr,omitempty"`
}

// Verschluesselung declares how the payload archive is encrypted
type Verschluesselung struct {
	Verfahren string `xml:"verfahren,attr,omitempty"`
	IDCert    string `xml:"idcert,attr,omitempty"`
}

// Empfangsquittung requests a receipt, optionally by e-mail
type Empfangsquittung struct {
	Email string `xml:"email,attr,omitempty"`
	Value string `xml:",chardata"`
}

// Datei represents one payload file in the manifest
type Datei struct {
	ID               string       `xml:"id,attr,omitempty"`
	Erstellungsdatum string       `xml:"erstellungsdatum,attr,omitempty"`
	Dokumententyp    string       `xml:"dokumententyp,omitempty"`
	Name             string       `xml:"name,omitempty"`
	Beschreibung     string       `xml:"beschreibung,omitempty"`
	Dateilaenge      *Dateilaenge `xml:"dateilaenge"`
}

// Dateilaenge holds the unencrypted, uncompressed size and SHA-1 digest
type Dateilaenge struct {
	Laenge     string `xml:"laenge,omitempty"`
	Pruefsumme string `xml:"pruefsumme,omitempty"`
}

// TransferNumber returns the parsed transfer number, or 0
func (a *Auftrag) TransferNumber() int { return atoi(a.Transfernr) }

// FileCount returns the declared file count, or 0
func (a *Auftrag) FileCount() int { return atoi(a.Dateianzahl) }

// CreatedAt returns the parsed creation timestamp, or the zero time
func (a *Auftrag) CreatedAt() time.Time { return parseTime(a.Erstellungsdatum) }

// RealData reports whether the order carries production data
func (a *Auftrag) RealData() bool {
	ok, v := schema.Boolean{}.Accept(a.Echtdaten)
	return v == nil && ok
}

// SchemaVersion returns the revision declared on the message type
func (a *Auftrag) SchemaVersion() string {
	if a.Nachrichtentyp == nil {
		return ""
	}
	return a.Nachrichtentyp.Version
}

// MessageType returns the message type discriminator
func (a *Auftrag) MessageType() string {
	if a.Nachrichtentyp == nil {
		return ""
	}
	return a.Nachrichtentyp.Value
}

// SenderID returns the sender's customer number, or 0
func (a *Auftrag) SenderID() int {
	if a.Absender == nil || a.Absender.Logisch == nil {
		return 0
	}
	return atoi(a.Absender.Logisch.Kundennr)
}

// RecipientID returns the recipient's customer number, or 0
func (a *Auftrag) RecipientID() int {
	if a.Empfaenger == nil || a.Empfaenger.Logisch == nil {
		return 0
	}
	return atoi(a.Empfaenger.Logisch.Kundennr)
}

// File returns the manifest entry with the given id
func (a *Auftrag) File(id string) (*Datei, bool) {
	for i := range a.Dateien {
		if a.Dateien[i].ID == id {
			return &a.Dateien[i], true
		}
	}
	return nil, false
}

// Length returns the declared payload length, or -1 when unknown
func (d *Datei) Length() int64 {
	if d.Dateilaenge == nil {
		return -1
	}
	n, err := strconv.ParseInt(strings.TrimSpace(d.Dateilaenge.Laenge), 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// Checksum returns the declared SHA-1 digest in lower case
func (d *Datei) Checksum() string {
	if d.Dateilaenge == nil {
		return ""
	}
	return strings.ToLower(d.Dateilaenge.Pruefsumme)
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func parseTime(s string) time.Time {
	t, v := schema.Zeitpunkt.Accept(s)
	if v != nil {
		return time.Time{}
	}
	return t
}
