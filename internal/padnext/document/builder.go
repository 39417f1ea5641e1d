package document

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/drfirst/go-padnext/internal/padnext/schema"
)

// AuftragBuilder assembles an order field by field. It never fails: values
// are stored as given and checked later by validation.
type AuftragBuilder struct {
	a             *Auftrag
	countExplicit bool
	now           func() time.Time
}

// NewAuftrag creates a builder for an order in the latest schema revision
func NewAuftrag() *AuftragBuilder {
	b := &AuftragBuilder{
		a: &Auftrag{
			Xmlns:            schema.Namespace,
			Echtdaten:        "true",
			Nachrichtentyp:   &Nachrichtentyp{Version: schema.Latest.String(), Value: schema.NachrichtAbrechnung},
			Verschluesselung: &Verschluesselung{Verfahren: schema.VerfahrenKeine},
			Empfangsquittung: &Empfangsquittung{Value: "false"},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
	b.a.Erstellungsdatum = schema.FormatDateTime(b.now())
	return b
}

// Version sets the schema revision declared by the order
func (b *AuftragBuilder) Version(v schema.Version) *AuftragBuilder {
	b.nachrichtentyp().Version = v.String()
	return b
}

// TransferNumber sets the 6-digit transfer number
func (b *AuftragBuilder) TransferNumber(n int) *AuftragBuilder {
	b.a.Transfernr = strconv.Itoa(n)
	return b
}

// CreatedAt sets the creation timestamp
func (b *AuftragBuilder) CreatedAt(t time.Time) *AuftragBuilder {
	b.a.Erstellungsdatum = schema.FormatDateTime(t)
	return b
}

// TestData marks the order as carrying test data
func (b *AuftragBuilder) TestData() *AuftragBuilder {
	b.a.Echtdaten = "false"
	return b
}

// Recipient sets the receiving participant
func (b *AuftragBuilder) Recipient(kundennr int, name string) *AuftragBuilder {
	b.a.Empfaenger = &Teilnehmer{Logisch: &Logisch{Kundennr: strconv.Itoa(kundennr)}, Name: name}
	return b
}

// Sender sets the sending participant
func (b *AuftragBuilder) Sender(kundennr int, name string) *AuftragBuilder {
	b.a.Absender = &Teilnehmer{Logisch: &Logisch{Kundennr: strconv.Itoa(kundennr)}, Name: name}
	return b
}

// SenderBank attaches bank details to the sender
func (b *AuftragBuilder) SenderBank(bank Bankverbindung) *AuftragBuilder {
	if b.a.Absender == nil {
		b.a.Absender = &Teilnehmer{}
	}
	b.a.Absender.Bankverbindung = &bank
	return b
}

// MessageType sets the message type discriminator
func (b *AuftragBuilder) MessageType(typ string) *AuftragBuilder {
	b.nachrichtentyp().Value = typ
	return b
}

// System describes the producing software
func (b *AuftragBuilder) System(produkt, version, hersteller, zertifizierungsnr string) *AuftragBuilder {
	b.a.System = &System{
		Produkt:           produkt,
		Version:           version,
		Hersteller:        hersteller,
		Zertifizierungsnr: zertifizierungsnr,
	}
	return b
}

// Encryption declares the encryption method and certificate id
func (b *AuftragBuilder) Encryption(verfahren, idcert string) *AuftragBuilder {
	b.a.Verschluesselung = &Verschluesselung{Verfahren: verfahren, IDCert: idcert}
	return b
}

// RequestReceipt asks for a receipt, optionally notified by e-mail
func (b *AuftragBuilder) RequestReceipt(email string) *AuftragBuilder {
	b.a.Empfangsquittung = &Empfangsquittung{Value: "true", Email: email}
	return b
}

// DeclaredFileCount overrides the file count that Build would derive
func (b *AuftragBuilder) DeclaredFileCount(n int) *AuftragBuilder {
	b.a.Dateianzahl = strconv.Itoa(n)
	b.countExplicit = true
	return b
}

// AddFile appends a manifest entry as given
func (b *AuftragBuilder) AddFile(d Datei) *AuftragBuilder {
	b.a.Dateien = append(b.a.Dateien, d)
	return b
}

// AddPayload appends a manifest entry describing data, filling in its
// length and checksum
func (b *AuftragBuilder) AddPayload(id int, dokumententyp, name, beschreibung string, data []byte) *AuftragBuilder {
	return b.AddFile(Datei{
		ID:               strconv.Itoa(id),
		Erstellungsdatum: b.a.Erstellungsdatum,
		Dokumententyp:    dokumententyp,
		Name:             name,
		Beschreibung:     beschreibung,
		Dateilaenge:      Describe(data),
	})
}

// AddFileFromDisk appends a manifest entry for the file at path. A read
// failure is recorded as an issue and the entry is added without length.
func (b *AuftragBuilder) AddFileFromDisk(id int, dokumententyp, path string) *AuftragBuilder {
	data, err := os.ReadFile(path)
	if err != nil {
		b.a.Issues = append(b.a.Issues, schema.Structural(
			fmt.Sprintf("auftrag.datei[%d]", len(b.a.Dateien)),
			"readable", "a readable payload file", err.Error()))
		return b.AddFile(Datei{
			ID:               strconv.Itoa(id),
			Erstellungsdatum: b.a.Erstellungsdatum,
			Dokumententyp:    dokumententyp,
			Name:             filepath.Base(path),
		})
	}
	return b.AddPayload(id, dokumententyp, filepath.Base(path), "", data)
}

// Build returns the assembled order. Unless set explicitly, the declared
// file count is the number of entries added.
func (b *AuftragBuilder) Build() *Auftrag {
	if !b.countExplicit {
		b.a.Dateianzahl = strconv.Itoa(len(b.a.Dateien))
	}
	return b.a
}

func (b *AuftragBuilder) nachrichtentyp() *Nachrichtentyp {
	if b.a.Nachrichtentyp == nil {
		b.a.Nachrichtentyp = &Nachrichtentyp{}
	}
	return b.a.Nachrichtentyp
}

// Describe computes the manifest length and SHA-1 checksum of data
func Describe(data []byte) *Dateilaenge {
	sum := sha1.Sum(data)
	return &Dateilaenge{
		Laenge:     strconv.Itoa(len(data)),
		Pruefsumme: hex.EncodeToString(sum[:]),
	}
}

// QuittungBuilder assembles a receipt
type QuittungBuilder struct {
	q *Quittung
}

// NewQuittung creates a receipt for the given transfer number in the latest
// schema revision, accepted and received now
func NewQuittung(transfernr int) *QuittungBuilder {
	return &QuittungBuilder{q: &Quittung{
		Xmlns:           schema.Namespace,
		Version:         schema.Latest.String(),
		Transfernr:      strconv.Itoa(transfernr),
		Dateianzahl:     "0",
		Rechnungsanzahl: "0",
		Nachrichtentyp:  schema.NachrichtQuittung,
		Eingangsdatum:   schema.FormatDateTime(time.Now().UTC()),
		Status:          strconv.Itoa(StatusAngenommen),
	}}
}

// Version sets the schema revision
func (b *QuittungBuilder) Version(v schema.Version) *QuittungBuilder {
	b.q.Version = v.String()
	return b
}

// ReceivedAt sets the arrival timestamp
func (b *QuittungBuilder) ReceivedAt(t time.Time) *QuittungBuilder {
	b.q.Eingangsdatum = schema.FormatDateTime(t)
	return b
}

// Status sets the processing status code
func (b *QuittungBuilder) Status(code int) *QuittungBuilder {
	b.q.Status = strconv.Itoa(code)
	return b
}

// Counts sets the received file and invoice counts
func (b *QuittungBuilder) Counts(files, invoices int) *QuittungBuilder {
	b.q.Dateianzahl = strconv.Itoa(files)
	b.q.Rechnungsanzahl = strconv.Itoa(invoices)
	return b
}

// AddError appends an error entry
func (b *QuittungBuilder) AddError(art, beschreibung string) *QuittungBuilder {
	b.q.Fehler = append(b.q.Fehler, Fehler{Art: art, Beschreibung: beschreibung})
	return b
}

// Build returns the assembled receipt
func (b *QuittungBuilder) Build() *Quittung { return b.q }

// NewRechnungen creates an empty billing document in the latest revision
func NewRechnungen() *Rechnungen {
	return &Rechnungen{
		Xmlns:   schema.Namespace,
		Version: schema.Latest.String(),
		Anzahl:  "0",
	}
}

// Add appends an invoice and keeps the declared count in step
func (r *Rechnungen) Add(inv Rechnung) *Rechnungen {
	r.Rechnungen = append(r.Rechnungen, inv)
	r.Anzahl = strconv.Itoa(len(r.Rechnungen))
	return r
}
