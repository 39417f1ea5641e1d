package validate

import (
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-padnext/internal/padnext/document"
	"github.com/drfirst/go-padnext/internal/padnext/padnexttest"
	"github.com/drfirst/go-padnext/internal/padnext/schema"
)

func paths(r *Result) []string {
	out := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		out[i] = v.Path
	}
	return out
}

func find(t *testing.T, r *Result, path, rule string) schema.Violation {
	t.Helper()
	for _, v := range r.Violations {
		if v.Path == path && v.Rule == rule {
			return v
		}
	}
	t.Fatalf("no %s violation at %s in %v", rule, path, r.Violations)
	return schema.Violation{}
}

func TestSampleDocumentsValidInEveryVersion(t *testing.T) {
	for _, v := range schema.Known() {
		t.Run(v.String(), func(t *testing.T) {
			r := Auftrag(padnexttest.Auftrag(v, 123456), v)
			assert.True(t, r.Valid(), "%v", r.Violations)
			assert.NoError(t, r.Err())

			r = Quittung(padnexttest.Quittung(v, 123456), v)
			assert.True(t, r.Valid(), "%v", r.Violations)

			r = Rechnungen(padnexttest.Rechnungen(v), v)
			assert.True(t, r.Valid(), "%v", r.Violations)
		})
	}
}

func TestFileCountMismatch(t *testing.T) {
	a := padnexttest.Auftrag(schema.Latest, 123456)
	a.Dateien = a.Dateien[:1]

	r := Auftrag(a, schema.Latest)
	require.False(t, r.Valid())
	v := find(t, r, "auftrag.@dateianzahl", "file-count")
	assert.Equal(t, schema.KindStructural, v.Kind)
	assert.Equal(t, "2", v.Value)
	assert.True(t, errors.Is(r.Err(), schema.ErrStructuralViolation))
}

func TestDuplicateFileIDsNameAllEntries(t *testing.T) {
	a := padnexttest.Auftrag(schema.Latest, 123456)
	third := a.Dateien[0]
	third.Name = "nachtrag.xml"
	a.Dateien = append(a.Dateien, third, a.Dateien[1])
	a.Dateianzahl = "4"

	r := Auftrag(a, schema.Latest)
	require.Len(t, r.Violations, 1)
	v := r.Violations[0]
	assert.Equal(t, "unique-id", v.Rule)
	assert.Equal(t, "1 (datei[0], datei[2]); 2 (datei[1], datei[3])", v.Value)
}

func TestDuplicateFileIDsCompareByValue(t *testing.T) {
	for _, second := range []string{"01", "+1", " 1"} {
		a := padnexttest.Auftrag(schema.Latest, 123456)
		a.Dateien[0].ID = "1"
		a.Dateien[1].ID = second

		r := Auftrag(a, schema.Latest)
		require.Len(t, r.Violations, 1, second)
		assert.Equal(t, "unique-id", r.Violations[0].Rule)
		assert.Equal(t, "1 (datei[0], datei[1])", r.Violations[0].Value)
	}
}

func TestRootNamespace(t *testing.T) {
	a := padnexttest.Auftrag(schema.Latest, 123456)
	a.Xmlns = "urn:something-else"
	r := Auftrag(a, schema.Latest)
	require.Len(t, r.Violations, 1)
	v := find(t, r, "auftrag.@xmlns", "namespace")
	assert.Equal(t, schema.KindStructural, v.Kind)
	assert.Equal(t, schema.Namespace, v.Expected)
	assert.Equal(t, "urn:something-else", v.Value)

	q := padnexttest.Quittung(schema.Latest, 123456)
	q.Xmlns = ""
	assert.Equal(t, []string{"Quittung.@xmlns"}, paths(Quittung(q, schema.Latest)))

	rs := padnexttest.Rechnungen(schema.Latest)
	rs.Xmlns = "http://padinfo.de/ns/pad/"
	assert.Equal(t, []string{"rechnungen.@xmlns"}, paths(Rechnungen(rs, schema.Latest)))
}

func TestFieldViolationsAccumulate(t *testing.T) {
	a := padnexttest.Auftrag(schema.Latest, 1234567)
	a.Absender.Name = strings.Repeat("x", 41)
	a.Dateien[1].Dokumententyp = "RECHNUNG"
	a.Erstellungsdatum = "gestern"

	r := Auftrag(a, schema.Latest)
	assert.Equal(t, []string{
		"auftrag.@erstellungsdatum",
		"auftrag.@transfernr",
		"auftrag.absender.name",
		"auftrag.datei[1].dokumententyp",
	}, paths(r))
	assert.Equal(t, map[schema.Kind]int{
		schema.KindMalformedTimestamp: 1,
		schema.KindConstraint:         2,
		schema.KindInvalidEnum:        1,
	}, r.Kinds())

	err := r.Err()
	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 4)
	assert.ErrorIs(t, err, schema.ErrInvalidEnumValue)
	assert.ErrorIs(t, err, schema.ErrMalformedTimestamp)
}

func TestCrossFieldSkipsFailedOperands(t *testing.T) {
	a := padnexttest.Auftrag(schema.Latest, 123456)
	a.Dateianzahl = "12345"
	a.Dateien[1].ID = "abc"
	a.Dateien[0].ID = "abc"

	r := Auftrag(a, schema.Latest)
	assert.Equal(t, []string{
		"auftrag.@dateianzahl",
		"auftrag.datei[0].@id",
		"auftrag.datei[1].@id",
	}, paths(r))
}

func TestRequiredAndAbsentFieldsFollowVersion(t *testing.T) {
	a := padnexttest.Auftrag(schema.V(2, 6), 123456)
	r := Auftrag(a, schema.V(2, 5))
	v := find(t, r, "auftrag.empfangsquittung.@email", "not-in-version")
	assert.Equal(t, schema.KindStructural, v.Kind)
	find(t, r, "auftrag.nachrichtentyp.@version", "version")

	a = padnexttest.Auftrag(schema.V(2, 3), 123456)
	a.Nachrichtentyp.Version = "2.2"
	r = Auftrag(a, schema.V(2, 2))
	find(t, r, "auftrag.datei[0].beschreibung", "not-in-version")

	a = padnexttest.Auftrag(schema.Latest, 123456)
	a.System = nil
	a.Dateien[0].Dateilaenge.Pruefsumme = ""
	r = Auftrag(a, schema.Latest)
	assert.Equal(t, []string{"auftrag.system", "auftrag.datei[0].dateilaenge.pruefsumme"}, paths(r))
	assert.Equal(t, "required", r.Violations[0].Rule)
}

func TestBankDetailsAcrossRevisions(t *testing.T) {
	blz := document.Bankverbindung{BLZ: "37040044", Kontonr: "532013000"}
	iban := document.Bankverbindung{IBAN: "DE89370400440532013000"}

	withBank := func(v schema.Version, b document.Bankverbindung) *Result {
		a := padnexttest.Auftrag(v, 123456)
		a.Absender.Bankverbindung = &b
		return Auftrag(a, v)
	}

	assert.True(t, withBank(schema.V(2, 7), blz).Valid())
	r := withBank(schema.V(2, 7), iban)
	assert.Equal(t, []string{
		"auftrag.absender.bankverbindung.blz",
		"auftrag.absender.bankverbindung.kontonr",
	}, paths(r))

	assert.True(t, withBank(schema.V(2, 8), blz).Valid())
	assert.True(t, withBank(schema.V(2, 8), iban).Valid())
	r = withBank(schema.V(2, 8), document.Bankverbindung{BLZ: "37040044"})
	find(t, r, "auftrag.absender.bankverbindung", "account")

	r = withBank(schema.V(2, 9), blz)
	assert.ElementsMatch(t, []string{
		"auftrag.absender.bankverbindung.blz",
		"auftrag.absender.bankverbindung.kontonr",
		"auftrag.absender.bankverbindung.iban",
	}, paths(r))
	assert.True(t, withBank(schema.V(2, 9), iban).Valid())

	a := padnexttest.Auftrag(schema.Latest, 123456)
	a.Empfaenger.Bankverbindung = &iban
	r = Auftrag(a, schema.Latest)
	find(t, r, "auftrag.empfaenger.bankverbindung", "not-in-version")
}

func TestEnumRetiredInTargetVersion(t *testing.T) {
	a := padnexttest.Auftrag(schema.V(2, 8), 123456)
	a.Dateien[1].Dokumententyp = schema.DokumentPAD
	assert.True(t, Auftrag(a, schema.V(2, 8)).Valid())

	a = padnexttest.Auftrag(schema.V(2, 9), 123456)
	a.Dateien[1].Dokumententyp = schema.DokumentPAD
	v := find(t, Auftrag(a, schema.V(2, 9)), "auftrag.datei[1].dokumententyp", "dokumententyp")
	assert.Equal(t, schema.KindInvalidEnum, v.Kind)
}

func TestPKCS7RequiresCertificate(t *testing.T) {
	a := padnexttest.Auftrag(schema.Latest, 123456)
	a.Verschluesselung = &document.Verschluesselung{Verfahren: schema.VerfahrenPKCS7}
	find(t, Auftrag(a, schema.Latest), "auftrag.verschluesselung.@idcert", "pkcs7-certificate")

	a.Verschluesselung.IDCert = "CN=Zentrum"
	assert.True(t, Auftrag(a, schema.Latest).Valid())
}

func TestTooManyFiles(t *testing.T) {
	a := padnexttest.Auftrag(schema.Latest, 123456)
	proto := a.Dateien[1]
	a.Dateien = a.Dateien[:0]
	for i := 1; i <= MaxFiles+1; i++ {
		d := proto
		d.ID = strconv.Itoa(i)
		a.Dateien = append(a.Dateien, d)
	}
	a.Dateianzahl = "10000"

	r := Auftrag(a, schema.Latest)
	find(t, r, "auftrag.@dateianzahl", "max-digits")
	find(t, r, "auftrag.datei", "max-occurs")
	find(t, r, "auftrag.datei[9999].@id", "max-digits")
}

func TestBuilderIssuesAreReported(t *testing.T) {
	a := padnexttest.Auftrag(schema.Latest, 123456)
	a.Issues = []schema.Violation{schema.Structural("auftrag.datei[2]", "readable", "a readable payload file", "no such file")}

	r := Auftrag(a, schema.Latest)
	require.Len(t, r.Violations, 1)
	assert.Equal(t, "readable", r.Violations[0].Rule)
}

func TestValidationDoesNotMutate(t *testing.T) {
	a := padnexttest.Auftrag(schema.Latest, 123456)
	a.Dateien = a.Dateien[:1]
	before := *a
	first := Auftrag(a, schema.Latest)
	second := Auftrag(a, schema.Latest)
	assert.Equal(t, first, second)
	assert.Equal(t, before, *a)
}

func TestQuittung(t *testing.T) {
	q := padnexttest.Quittung(schema.Latest, 999999)
	q.Fehler = []document.Fehler{{Art: "", Beschreibung: strings.Repeat("x", 501)}}
	q.Nachrichtentyp = "ADL"
	q.Status = "0"

	r := Quittung(q, schema.Latest)
	assert.Equal(t, []string{
		"Quittung.nachrichtentyp",
		"Quittung.status",
		"Quittung.fehler[0].art",
		"Quittung.fehler[0].beschreibung",
	}, paths(r))

	q = padnexttest.Quittung(schema.V(2, 10), 123456)
	v := find(t, Quittung(q, schema.Latest), "Quittung.@version", "version")
	assert.Equal(t, "2.10", v.Value)
}

func TestRechnungenSums(t *testing.T) {
	r := padnexttest.Rechnungen(schema.Latest)
	r.Rechnungen[0].Abrechnungsfall.Humanmedizin.Summenblock.Gesamt = "24.94"
	r.Rechnungen[1].Abrechnungsfall.Zahnmedizin.Positionen[0].Betrag = "13.00"
	r.Rechnungen[2].Abrechnungsfall.Pauschal.Summenblock.Gesamt = "15O.00"

	res := Rechnungen(r, schema.Latest)
	assert.Equal(t, []string{
		"rechnungen.rechnung[0].abrechnungsfall.humanmedizin.summenblock.gesamt",
		"rechnungen.rechnung[1].abrechnungsfall.zahnmedizin.summenblock.honorar",
		"rechnungen.rechnung[2].abrechnungsfall.pauschal.summenblock.gesamt",
	}, paths(res))
	assert.Equal(t, "sum", res.Violations[0].Rule)
	assert.Equal(t, "honorar + auslagen - minderung (23.94)", res.Violations[0].Expected)
	assert.Equal(t, "pattern", res.Violations[2].Rule, "malformed amount is not summed")
}

func TestRechnungenStructure(t *testing.T) {
	r := padnexttest.Rechnungen(schema.Latest)
	r.Rechnungen[1].ID = "R-1"
	r.Rechnungen[2].Abrechnungsfall.Humanmedizin = r.Rechnungen[0].Abrechnungsfall.Humanmedizin
	r.Anzahl = "4"

	res := Rechnungen(r, schema.Latest)
	find(t, res, "rechnungen.rechnung[2].abrechnungsfall", "choice")
	find(t, res, "rechnungen.@anzahl", "invoice-count")
	v := find(t, res, "rechnungen.rechnung", "unique-id")
	assert.Equal(t, "R-1 (rechnung[0], rechnung[1])", v.Value)

	old := padnexttest.Rechnungen(schema.V(2, 2))
	old.Version = "2.1"
	find(t, Rechnungen(old, schema.V(2, 1)), "rechnungen.rechnung[0].rechnungsempfaenger", "not-in-version")
}

func TestGenderValues(t *testing.T) {
	r := padnexttest.Rechnungen(schema.V(2, 10))
	r.Rechnungen[0].Behandelter = &document.Person{Name: "Muster", Geburtsdatum: "1990-01-01", Geschlecht: schema.GeschlechtUnbestimmt}
	find(t, Rechnungen(r, schema.V(2, 10)), "rechnungen.rechnung[0].behandelter.geschlecht", "geschlecht")

	r = padnexttest.Rechnungen(schema.V(2, 11))
	r.Rechnungen[0].Behandelter = &document.Person{Name: "Muster", Geburtsdatum: "1990-01-01", Geschlecht: schema.GeschlechtUnbestimmt}
	assert.True(t, Rechnungen(r, schema.V(2, 11)).Valid())
}

func TestDocumentDispatch(t *testing.T) {
	r, err := Document(padnexttest.Quittung(schema.Latest, 123456), schema.Latest)
	require.NoError(t, err)
	assert.True(t, r.Valid())

	_, err = Document("nope", schema.Latest)
	assert.Error(t, err)
}
