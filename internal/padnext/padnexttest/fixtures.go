// Package padnexttest provides well-formed sample documents for tests.
package padnexttest

import (
	"time"

	"github.com/drfirst/go-padnext/internal/padnext/document"
	"github.com/drfirst/go-padnext/internal/padnext/schema"
)

// Created is the fixed creation time of sample documents
var Created = time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)

// Auftrag returns an order with two files that is valid in revision v
func Auftrag(v schema.Version, transfernr int) *document.Auftrag {
	b := document.NewAuftrag().
		Version(v).
		CreatedAt(Created).
		TransferNumber(transfernr).
		Recipient(12345678, "Abrechnungszentrum Nord").
		Sender(87654321, "Praxis Dr. Meier").
		System("PraxisSoft", "4.2", "Muster GmbH", "").
		AddPayload(1, schema.DokumentPADneXt, "rechnungen.xml", "", []byte("<rechnungen/>")).
		AddPayload(2, schema.DokumentAnlage, "befund.pdf", "", []byte("%PDF-1.4"))

	switch {
	case v.AtLeast(schema.V(2, 9)):
		b.SenderBank(document.Bankverbindung{IBAN: "DE89370400440532013000", BIC: "COBADEFFXXX"})
	case v.AtLeast(schema.V(2, 8)):
		b.SenderBank(document.Bankverbindung{IBAN: "DE89370400440532013000"})
	default:
		b.SenderBank(document.Bankverbindung{BLZ: "37040044", Kontonr: "532013000"})
	}
	if v.AtLeast(schema.V(2, 5)) {
		b.System("PraxisSoft", "4.2", "Muster GmbH", "ZN-2024-17")
	}
	if v.AtLeast(schema.V(2, 6)) {
		b.RequestReceipt("abrechnung@praxis-meier.de")
	} else {
		b.RequestReceipt("")
	}

	a := b.Build()
	if v.AtLeast(schema.V(2, 3)) {
		a.Dateien[0].Beschreibung = "Rechnungsdaten Q1"
	}
	return a
}

// Quittung returns an accepted receipt for transfernr in revision v
func Quittung(v schema.Version, transfernr int) *document.Quittung {
	return document.NewQuittung(transfernr).
		Version(v).
		ReceivedAt(Created.Add(2 * time.Hour)).
		Counts(2, 1).
		Build()
}

// Rechnungen returns a billing document with one invoice of each case type
func Rechnungen(v schema.Version) *document.Rechnungen {
	r := document.NewRechnungen()
	r.Version = v.String()
	patient := &document.Person{
		Vorname:      "Erika",
		Name:         "Mustermann",
		Geburtsdatum: "1964-08-12",
		Geschlecht:   schema.GeschlechtWeiblich,
	}
	r.Add(document.Rechnung{
		ID:           "R-1",
		Behandelter:  patient,
		Versicherung: &document.Versicherung{Art: schema.VersicherungPrivat},
		Abrechnungsfall: &document.Abrechnungsfall{Humanmedizin: &document.Humanmedizin{
			Positionen: []document.Position{
				{Ziffer: "1", Datum: "2024-02-10", Anzahl: "1", Faktor: "2.3", Betrag: "10.72"},
				{Ziffer: "5", Datum: "2024-02-10", Anzahl: "1", Faktor: "2.3", Betrag: "10.72"},
			},
			Summenblock: &document.SummenblockHumanmedizin{
				Honorar:   "21.44",
				Auslagen:  "3.50",
				Minderung: "1.00",
				Gesamt:    "23.94",
			},
		}},
	})
	r.Add(document.Rechnung{
		ID:          "R-2",
		Behandelter: patient,
		Abrechnungsfall: &document.Abrechnungsfall{Zahnmedizin: &document.Zahnmedizin{
			Positionen: []document.Position{
				{Ziffer: "0010", Datum: "2024-02-11", Anzahl: "1", Betrag: "12.94"},
			},
			Summenblock: &document.SummenblockZahnmedizin{
				Honorar:    "12.94",
				Eigenlabor: "20.00",
				Material:   "4.06",
				Gesamt:     "37.00",
			},
		}},
	})
	r.Add(document.Rechnung{
		ID:          "R-3",
		Behandelter: patient,
		Abrechnungsfall: &document.Abrechnungsfall{Pauschal: &document.Pauschal{
			Bezeichnung: "Gutachten",
			Summenblock: &document.SummenblockPauschal{Pauschalbetrag: "150.00", Gesamt: "150.00"},
		}},
	})
	if v.AtLeast(schema.V(2, 2)) {
		r.Rechnungen[0].Rechnungsempfaenger = &document.Person{Name: "Max Mustermann"}
	}
	return r
}
