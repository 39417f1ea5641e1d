package document

import (
	"encoding/xml"
	"time"

	"github.com/drfirst/go-padnext/internal/padnext/schema"
)

// Receipt status codes
const (
	StatusAngenommen = 1
	StatusTeilweise  = 2
	StatusAbgelehnt  = 3
)

// Quittung represents a receipt acknowledging an order by transfer number
type Quittung struct {
	XMLName         xml.Name `xml:"Quittung"`
	Xmlns           string   `xml:"xmlns,attr,omitempty"`
	Version         string   `xml:"version,attr,omitempty"`
	Transfernr      string   `xml:"transfernr,attr,omitempty"`
	Dateianzahl     string   `xml:"dateianzahl,attr,omitempty"`
	Rechnungsanzahl string   `xml:"rechnungsanzahl,attr,omitempty"`
	Nachrichtentyp  string   `xml:"nachrichtentyp,omitempty"`
	Eingangsdatum   string   `xml:"eingangsdatum,omitempty"`
	Status          string   `xml:"status,omitempty"`
	Fehler          []Fehler `xml:"fehler"`

	Issues []schema.Violation `xml:"-"`
}

// Fehler represents one error reported by the receiving side
type Fehler struct {
	Art          string `xml:"art,omitempty"`
	Beschreibung string `xml:"beschreibung,omitempty"`
}

// TransferNumber returns the referenced transfer number, or 0
func (q *Quittung) TransferNumber() int { return atoi(q.Transfernr) }

// StatusCode returns the processing status, or 0
func (q *Quittung) StatusCode() int { return atoi(q.Status) }

// ReceivedAt returns the parsed arrival timestamp, or the zero time
func (q *Quittung) ReceivedAt() time.Time { return parseTime(q.Eingangsdatum) }

// FileCount returns the number of files the receiver counted
func (q *Quittung) FileCount() int { return atoi(q.Dateianzahl) }

// InvoiceCount returns the number of invoices the receiver counted
func (q *Quittung) InvoiceCount() int { return atoi(q.Rechnungsanzahl) }

// Accepted reports whether the receiver took the whole delivery
func (q *Quittung) Accepted() bool { return q.StatusCode() == StatusAngenommen }
