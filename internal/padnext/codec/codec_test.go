package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-padnext/internal/padnext/padnexttest"
	"github.com/drfirst/go-padnext/internal/padnext/schema"
)

func TestRoundTrip(t *testing.T) {
	for _, v := range schema.Known() {
		t.Run(v.String(), func(t *testing.T) {
			a := padnexttest.Auftrag(v, 123456)
			data, err := EncodeAuftrag(a, v.String())
			require.NoError(t, err)
			got, err := DecodeAuftrag(data, v.String())
			require.NoError(t, err)
			assert.Equal(t, a, got)

			q := padnexttest.Quittung(v, 123456)
			data, err = EncodeQuittung(q, v.String())
			require.NoError(t, err)
			gotQ, err := DecodeQuittung(data, v.String())
			require.NoError(t, err)
			assert.Equal(t, q, gotQ)

			r := padnexttest.Rechnungen(v)
			data, err = EncodeRechnungen(r, v.String())
			require.NoError(t, err)
			gotR, err := DecodeRechnungen(data, v.String())
			require.NoError(t, err)
			assert.Equal(t, r, gotR)
		})
	}
}

func TestEncodeEmitsDeclaredCharset(t *testing.T) {
	a := padnexttest.Auftrag(schema.Latest, 123456)
	a.Absender.Name = "Praxis Müller €"

	data, err := EncodeAuftrag(a, "2.12")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte(`<?xml version="1.0" encoding="ISO-8859-15"?>`)))
	assert.Contains(t, string(data), "Praxis M\xfcller \xa4")
	assert.Contains(t, string(data), `<auftrag xmlns="http://padinfo.de/ns/pad"`)
	assert.Contains(t, string(data), `<nachrichtentyp version="2.12">ADL</nachrichtentyp>`)

	got, err := DecodeAuftrag(data, "")
	require.NoError(t, err)
	assert.Equal(t, "Praxis Müller €", got.Absender.Name)
}

func TestEncodeUnrepresentableRune(t *testing.T) {
	a := padnexttest.Auftrag(schema.Latest, 123456)
	a.Absender.Name = "Praxis 東京"

	data, err := EncodeAuftrag(a, "2.12")
	assert.Nil(t, data)
	var encErr *EncodeError
	require.ErrorAs(t, err, &encErr)
	assert.Empty(t, encErr.Violations)
}

func TestEncodeInvalidDocument(t *testing.T) {
	a := padnexttest.Auftrag(schema.Latest, 123456)
	a.Dateien = a.Dateien[:1]

	data, err := EncodeAuftrag(a, "2.12")
	assert.Nil(t, data)
	var encErr *EncodeError
	require.ErrorAs(t, err, &encErr)
	require.Len(t, encErr.Violations, 1)
	assert.Equal(t, "file-count", encErr.Violations[0].Rule)
	assert.ErrorIs(t, err, schema.ErrStructuralViolation)

	data, err = EncodeAuftrag(padnexttest.Auftrag(schema.Latest, 123456), "9.9")
	assert.Nil(t, data)
	require.ErrorAs(t, err, &encErr)
}

func TestEncodeRequiresNamespace(t *testing.T) {
	a := padnexttest.Auftrag(schema.Latest, 123456)
	a.Xmlns = ""

	data, err := EncodeAuftrag(a, "2.12")
	assert.Nil(t, data)
	var encErr *EncodeError
	require.ErrorAs(t, err, &encErr)
	require.Len(t, encErr.Violations, 1)
	assert.Equal(t, "auftrag.@xmlns", encErr.Violations[0].Path)
	assert.ErrorIs(t, err, schema.ErrStructuralViolation)
}

func TestDecodeForeignNamespaceFailsValidation(t *testing.T) {
	data, err := EncodeQuittung(padnexttest.Quittung(schema.Latest, 123456), "2.12")
	require.NoError(t, err)
	data = bytes.Replace(data, []byte(schema.Namespace), []byte("urn:something-else"), 1)

	m, err := Decode(data, "")
	require.NoError(t, err)
	assert.Equal(t, "urn:something-else", m.Quittung.Xmlns)

	res := m.Validate()
	require.False(t, res.Valid())
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "Quittung.@xmlns", res.Violations[0].Path)
	assert.Equal(t, "namespace", res.Violations[0].Rule)
}

func TestDecodeIgnoresUnknownElements(t *testing.T) {
	a := padnexttest.Auftrag(schema.Latest, 123456)
	data, err := EncodeAuftrag(a, "2.12")
	require.NoError(t, err)

	data = bytes.Replace(data, []byte("<empfaenger>"),
		[]byte(`<zusatzinfo stufe="3"><hinweis>neu in 2.13</hinweis></zusatzinfo><empfaenger>`), 1)
	data = bytes.Replace(data, []byte("<dokumententyp>"), []byte("<seiten>4</seiten><dokumententyp>"), 1)

	got, err := DecodeAuftrag(data, "2.12")
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestDecodeToleratesAttributeOrder(t *testing.T) {
	data := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<Quittung rechnungsanzahl="0" dateianzahl="1" transfernr="123456" version="2.12" xmlns="http://padinfo.de/ns/pad">
  <nachrichtentyp>QUITTUNG</nachrichtentyp>
  <eingangsdatum>2024-03-01T12:00:00</eingangsdatum>
  <status>3</status>
  <fehler><art>FORMAT</art><beschreibung>Datei 1 unlesbar</beschreibung></fehler>
</Quittung>`)

	q, err := DecodeQuittung(data, "")
	require.NoError(t, err)
	assert.Equal(t, 123456, q.TransferNumber())
	assert.Equal(t, 3, q.StatusCode())
	assert.Equal(t, 1, q.FileCount())
	require.Len(t, q.Fehler, 1)
	assert.Equal(t, "FORMAT", q.Fehler[0].Art)
}

func TestDecodeMissingRequiredReturnsPartialDocument(t *testing.T) {
	data := []byte(`<Quittung xmlns="http://padinfo.de/ns/pad" version="2.12" transfernr="123456" dateianzahl="1" rechnungsanzahl="0">
  <nachrichtentyp>QUITTUNG</nachrichtentyp>
  <eingangsdatum>2024-03-01T12:00:00</eingangsdatum>
</Quittung>`)

	q, err := DecodeQuittung(data, "2.12")
	require.NotNil(t, q)
	assert.Equal(t, 123456, q.TransferNumber())

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, []string{"Quittung.status"}, perr.Missing)
	assert.ErrorIs(t, err, ErrMissingRequired)
}

func TestDecodeMalformed(t *testing.T) {
	for name, data := range map[string]string{
		"truncated":  `<auftrag><empfaenger>`,
		"empty":      ``,
		"not xml":    `PADneXt`,
		"wrong root": `<rechnung version="2.12"/>`,
	} {
		t.Run(name, func(t *testing.T) {
			a, err := DecodeAuftrag([]byte(data), "2.12")
			assert.Nil(t, a)
			var perr *ParseError
			assert.ErrorAs(t, err, &perr)
		})
	}
}

func TestDecodeVersionResolution(t *testing.T) {
	q := padnexttest.Quittung(schema.Latest, 123456)
	data, err := EncodeQuittung(q, "2.12")
	require.NoError(t, err)

	_, err = DecodeQuittung(data, "2.10")
	assert.ErrorIs(t, err, ErrVersionMismatch)

	got, err := DecodeQuittung(data, "")
	require.NoError(t, err)
	assert.Equal(t, "2.12", got.Version)

	noVersion := []byte(`<Quittung transfernr="123456"/>`)
	_, err = DecodeQuittung(noVersion, "")
	assert.ErrorIs(t, err, ErrNoVersion)
}

func TestSniff(t *testing.T) {
	a, err := EncodeAuftrag(padnexttest.Auftrag(schema.V(2, 9), 123456), "2.9")
	require.NoError(t, err)
	root, version, err := Sniff(a)
	require.NoError(t, err)
	assert.Equal(t, RootAuftrag, root)
	assert.Equal(t, "2.9", version)

	r, err := EncodeRechnungen(padnexttest.Rechnungen(schema.Latest), "2.12")
	require.NoError(t, err)
	root, version, err = Sniff(r)
	require.NoError(t, err)
	assert.Equal(t, RootRechnungen, root)
	assert.Equal(t, "2.12", version)

	_, _, err = Sniff([]byte("   "))
	var perr *ParseError
	assert.True(t, errors.As(err, &perr))
}

func TestDecodeMessage(t *testing.T) {
	data, err := EncodeQuittung(padnexttest.Quittung(schema.Latest, 654321), "2.12")
	require.NoError(t, err)

	m, err := Decode(data, "")
	require.NoError(t, err)
	assert.Equal(t, RootQuittung, m.Root)
	assert.Equal(t, schema.Latest, m.Version)
	assert.Equal(t, 654321, m.TransferNumber())
	assert.True(t, m.Validate().Valid())

	again, err := Default().Encode(m)
	require.NoError(t, err)
	assert.Equal(t, data, again)

	_, err = Decode([]byte(`<unbekannt version="2.12"/>`), "")
	assert.ErrorIs(t, err, ErrUnexpectedRoot)
}

func TestCodecConfig(t *testing.T) {
	c, err := New(Config{Charset: "UTF-8"})
	require.NoError(t, err)
	assert.Equal(t, "UTF-8", c.Charset())

	data, err := c.EncodeQuittung(padnexttest.Quittung(schema.Latest, 123456), "2.12")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte(`<?xml version="1.0" encoding="UTF-8"?>`+"\n<Quittung ")))
	assert.Equal(t, 1, bytes.Count(data, []byte("\n")), "compact body")

	_, err = New(Config{Charset: "x-no-such-charset"})
	assert.Error(t, err)
}
