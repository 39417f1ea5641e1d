package schema

import "regexp"

// Dokumententyp values
const (
	DokumentPADneXt           = "PADneXt"
	DokumentAnlage            = "ANLAGE"
	DokumentPAD               = "PAD"
	DokumentBegruendung       = "BEGRUENDUNG"
	DokumentKostenvoranschlag = "KOSTENVORANSCHLAG"
)

// Nachrichtentyp values
const (
	NachrichtAbrechnung        = "ADL"
	NachrichtKostenvoranschlag = "KVA"
	NachrichtQuittung          = "QUITTUNG"
)

// Verschluesselungsverfahren values
const (
	VerfahrenKeine = "0"
	VerfahrenPKCS7 = "1"
)

// Geschlecht values
const (
	GeschlechtMaennlich  = "m"
	GeschlechtWeiblich   = "w"
	GeschlechtUnbekannt  = "u"
	GeschlechtDivers     = "d"
	GeschlechtUnbestimmt = "x"
)

// Versicherungsart values
const (
	VersicherungPrivat       = "privat"
	VersicherungBeihilfe     = "beihilfe"
	VersicherungKVB          = "kvb"
	VersicherungPostB        = "postb"
	VersicherungBG           = "bg"
	VersicherungSelbstzahler = "selbstzahler"
)

// Enumerations with their value history
var (
	Dokumententyp = NewEnumeration("dokumententyp",
		EnumValue{Value: DokumentPADneXt, Introduced: V(2, 0)},
		EnumValue{Value: DokumentAnlage, Introduced: V(2, 0)},
		EnumValue{Value: DokumentPAD, Introduced: V(2, 0), Retired: V(2, 9)},
		EnumValue{Value: DokumentBegruendung, Introduced: V(2, 4)},
		EnumValue{Value: DokumentKostenvoranschlag, Introduced: V(2, 7)},
	)

	AuftragNachrichtentyp = NewEnumeration("nachrichtentyp",
		EnumValue{Value: NachrichtAbrechnung, Introduced: V(2, 0)},
		EnumValue{Value: NachrichtKostenvoranschlag, Introduced: V(2, 7)},
	)

	QuittungNachrichtentyp = NewEnumeration("nachrichtentyp",
		EnumValue{Value: NachrichtQuittung, Introduced: V(2, 0)},
	)

	Verfahren = NewEnumeration("verfahren",
		EnumValue{Value: VerfahrenKeine, Introduced: V(2, 0)},
		EnumValue{Value: VerfahrenPKCS7, Introduced: V(2, 0)},
	)

	Geschlecht = NewEnumeration("geschlecht",
		EnumValue{Value: GeschlechtMaennlich, Introduced: V(2, 0)},
		EnumValue{Value: GeschlechtWeiblich, Introduced: V(2, 0)},
		EnumValue{Value: GeschlechtUnbekannt, Introduced: V(2, 0), Retired: V(2, 11)},
		EnumValue{Value: GeschlechtDivers, Introduced: V(2, 10)},
		EnumValue{Value: GeschlechtUnbestimmt, Introduced: V(2, 11)},
	)

	Versicherungsart = NewEnumeration("versicherungsart",
		EnumValue{Value: VersicherungPrivat, Introduced: V(2, 0)},
		EnumValue{Value: VersicherungBeihilfe, Introduced: V(2, 0)},
		EnumValue{Value: VersicherungKVB, Introduced: V(2, 0)},
		EnumValue{Value: VersicherungPostB, Introduced: V(2, 0), Retired: V(2, 6)},
		EnumValue{Value: VersicherungBG, Introduced: V(2, 3)},
		EnumValue{Value: VersicherungSelbstzahler, Introduced: V(2, 5)},
	)
)

// Numeric fields
var (
	TransferNr      = BoundedInteger{MinDigits: 6, MaxDigits: 6, Sign: Positive}
	Dateianzahl     = BoundedInteger{MaxDigits: 4, Sign: Positive}
	Kundennr        = BoundedInteger{MaxDigits: 8, Sign: Positive}
	DateiID         = BoundedInteger{MaxDigits: 4, Sign: Positive}
	Dateilaenge     = BoundedInteger{MaxDigits: 12, Sign: NonNegative}
	Status          = BoundedInteger{MaxDigits: 3, Sign: Positive}
	Empfangsanzahl  = BoundedInteger{MaxDigits: 4, Sign: NonNegative}
	Rechnungsanzahl = BoundedInteger{MaxDigits: 6, Sign: NonNegative}
	Positionsanzahl = BoundedInteger{MaxDigits: 3, Sign: Positive}
	BLZ             = BoundedInteger{MinDigits: 8, MaxDigits: 8, Sign: Positive}
	Kontonr         = BoundedInteger{MaxDigits: 10, Sign: Positive}
)

// String fields
var (
	Name40            = BoundedString{Min: 1, Max: 40}
	Produkt           = BoundedString{Min: 1, Max: 40}
	ProduktVersion    = BoundedString{Min: 1, Max: 20}
	Hersteller        = BoundedString{Min: 1, Max: 40}
	Zertifizierungsnr = BoundedString{Min: 1, Max: 20}
	IDCert            = BoundedString{Min: 1, Max: 128}
	Beschreibung      = BoundedString{Max: 60}
	FehlerArt         = BoundedString{Min: 1, Max: 20}
	FehlerText        = BoundedString{Max: 500}
	Ziffer            = BoundedString{Min: 1, Max: 10}
	RechnungID        = BoundedString{Min: 1, Max: 20}
)

// Shaped strings
var (
	Dateiname = Pattern{Name: "a file name without path", Max: 40, Expr: regexp.MustCompile(`^[^/\\:]+$`)}
	Email     = Pattern{Name: "an e-mail address", Max: 100, Expr: regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)}
	SHA1Hex   = Pattern{Name: "a SHA-1 digest (40 hex characters)", Expr: regexp.MustCompile(`^[0-9a-fA-F]{40}$`)}
	IBAN      = Pattern{Name: "an IBAN", Max: 34, Expr: regexp.MustCompile(`^[A-Z]{2}[0-9]{2}[A-Z0-9]{11,30}$`)}
	BIC       = Pattern{Name: "a BIC (8 or 11 characters)", Expr: regexp.MustCompile(`^[A-Z]{6}[A-Z0-9]{2}([A-Z0-9]{3})?$`)}
	Betrag    = Pattern{Name: "a decimal amount with at most two fraction digits", Max: 15, Expr: regexp.MustCompile(`^-?[0-9]+(\.[0-9]{1,2})?$`)}
	Faktor    = Pattern{Name: "a decimal factor", Max: 8, Expr: regexp.MustCompile(`^[0-9]+(\.[0-9]{1,4})?$`)}
)

// Timestamps
var (
	Zeitpunkt = DateTime{}
	Datum     = DateTime{DateOnly: true}
)
