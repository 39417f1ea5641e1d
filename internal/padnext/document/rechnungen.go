package document

import (
	"encoding/xml"

	"github.com/drfirst/go-padnext/internal/padnext/schema"
)

// Rechnungen represents the billing document carried as the main payload
// of an order
type Rechnungen struct {
	XMLName    xml.Name   `xml:"rechnungen"`
	Xmlns      string     `xml:"xmlns,attr,omitempty"`
	Version    string     `xml:"version,attr,omitempty"`
	Anzahl     string     `xml:"anzahl,attr,omitempty"`
	Rechnungen []Rechnung `xml:"rechnung"`

	Issues []schema.Violation `xml:"-"`
}

// Rechnung represents one invoice
type Rechnung struct {
	ID                  string           `xml:"id,attr,omitempty"`
	Rechnungsempfaenger *Person          `xml:"rechnungsempfaenger"`
	Behandelter         *Person          `xml:"behandelter"`
	Versicherung        *Versicherung    `xml:"versicherung"`
	Abrechnungsfall     *Abrechnungsfall `xml:"abrechnungsfall"`
}

// Person represents a patient or an invoice recipient
type Person struct {
	Vorname      string `xml:"vorname,omitempty"`
	Name         string `xml:"name,omitempty"`
	Geburtsdatum string `xml:"geburtsdatum,omitempty"`
	Geschlecht   string `xml:"geschlecht,omitempty"`
}

// Versicherung names the insurance type
type Versicherung struct {
	Art string `xml:"art,attr,omitempty"`
}

// Abrechnungsfall is a choice: exactly one variant must be set
type Abrechnungsfall struct {
	Humanmedizin *Humanmedizin `xml:"humanmedizin"`
	Zahnmedizin  *Zahnmedizin  `xml:"zahnmedizin"`
	Pauschal     *Pauschal     `xml:"pauschal"`
}

// Variants returns the names of the variants that are set
func (f *Abrechnungsfall) Variants() []string {
	var out []string
	if f.Humanmedizin != nil {
		out = append(out, schema.FallHumanmedizin)
	}
	if f.Zahnmedizin != nil {
		out = append(out, schema.FallZahnmedizin)
	}
	if f.Pauschal != nil {
		out = append(out, schema.FallPauschal)
	}
	return out
}

// Position represents one billed service
type Position struct {
	Ziffer string `xml:"ziffer,omitempty"`
	Datum  string `xml:"datum,omitempty"`
	Anzahl string `xml:"anzahl,omitempty"`
	Faktor string `xml:"faktor,omitempty"`
	Betrag string `xml:"betrag,omitempty"`
}

// Humanmedizin is a physician's billing case
type Humanmedizin struct {
	Positionen  []Position               `xml:"position"`
	Summenblock *SummenblockHumanmedizin `xml:"summenblock"`
}

// SummenblockHumanmedizin totals a physician's case:
// gesamt = honorar + auslagen - minderung
type SummenblockHumanmedizin struct {
	Honorar   string `xml:"honorar,omitempty"`
	Auslagen  string `xml:"auslagen,omitempty"`
	Minderung string `xml:"minderung,omitempty"`
	Gesamt    string `xml:"gesamt,omitempty"`
}

// Zahnmedizin is a dentist's billing case
type Zahnmedizin struct {
	Positionen  []Position              `xml:"position"`
	Summenblock *SummenblockZahnmedizin `xml:"summenblock"`
}

// SummenblockZahnmedizin totals a dentist's case including lab and
// material costs
type SummenblockZahnmedizin struct {
	Honorar    string `xml:"honorar,omitempty"`
	Eigenlabor string `xml:"eigenlabor,omitempty"`
	Fremdlabor string `xml:"fremdlabor,omitempty"`
	Material   string `xml:"material,omitempty"`
	Gesamt     string `xml:"gesamt,omitempty"`
}

// Pauschal is a flat-rate billing case
type Pauschal struct {
	Bezeichnung string               `xml:"bezeichnung,omitempty"`
	Summenblock *SummenblockPauschal `xml:"summenblock"`
}

// SummenblockPauschal totals a flat-rate case
type SummenblockPauschal struct {
	Pauschalbetrag string `xml:"pauschalbetrag,omitempty"`
	Gesamt         string `xml:"gesamt,omitempty"`
}

// Count returns the declared invoice count, or 0
func (r *Rechnungen) Count() int { return atoi(r.Anzahl) }
