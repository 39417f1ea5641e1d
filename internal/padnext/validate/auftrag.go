package validate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/drfirst/go-padnext/internal/padnext/document"
	"github.com/drfirst/go-padnext/internal/padnext/schema"
)

// MaxFiles is the largest manifest an order may carry
const MaxFiles = 9999

// Auftrag validates an order against revision v
func Auftrag(a *document.Auftrag, v schema.Version) *Result {
	w := newWalker(schema.AuftragRules, v)

	w.namespace("auftrag.@xmlns", a.Xmlns)
	w.field("auftrag.@erstellungsdatum", a.Erstellungsdatum, timestamp(schema.Zeitpunkt))
	w.field("auftrag.@transfernr", a.Transfernr, integer(schema.TransferNr))
	w.field("auftrag.@echtdaten", a.Echtdaten, boolean)
	w.field("auftrag.@dateianzahl", a.Dateianzahl, integer(schema.Dateianzahl))

	w.teilnehmer("auftrag.empfaenger", a.Empfaenger)
	w.teilnehmer("auftrag.absender", a.Absender)

	if w.node("auftrag.nachrichtentyp", a.Nachrichtentyp != nil) {
		w.value("auftrag.nachrichtentyp", a.Nachrichtentyp.Value, w.enum(schema.AuftragNachrichtentyp))
		w.field("auftrag.nachrichtentyp.@version", a.Nachrichtentyp.Version, w.declaredVersion)
	}

	if s := a.System; w.node("auftrag.system", s != nil) {
		w.field("auftrag.system.produkt", s.Produkt, text(schema.Produkt))
		w.field("auftrag.system.version", s.Version, text(schema.ProduktVersion))
		w.field("auftrag.system.hersteller", s.Hersteller, text(schema.Hersteller))
		w.field("auftrag.system.zertifizierungsnr", s.Zertifizierungsnr, text(schema.Zertifizierungsnr))
	}

	if e := a.Verschluesselung; w.node("auftrag.verschluesselung", e != nil) {
		w.field("auftrag.verschluesselung.@verfahren", e.Verfahren, w.enum(schema.Verfahren))
		w.field("auftrag.verschluesselung.@idcert", e.IDCert, text(schema.IDCert))
	}

	if q := a.Empfangsquittung; w.node("auftrag.empfangsquittung", q != nil) {
		w.value("auftrag.empfangsquittung", q.Value, boolean)
		w.field("auftrag.empfangsquittung.@email", q.Email, pattern(schema.Email))
	}

	if w.node("auftrag.datei", len(a.Dateien) > 0) {
		for i := range a.Dateien {
			w.datei(fmt.Sprintf("auftrag.datei[%d]", i), &a.Dateien[i])
		}
	}

	w.auftragCrossField(a)
	w.out = append(w.out, a.Issues...)
	return w.result()
}

func (w *walker) teilnehmer(path string, t *document.Teilnehmer) {
	if !w.node(path, t != nil) {
		return
	}
	var kundennr string
	if t.Logisch != nil {
		kundennr = t.Logisch.Kundennr
	}
	w.field(path+".logisch.kundennr", kundennr, integer(schema.Kundennr))
	w.field(path+".name", t.Name, text(schema.Name40))

	b := t.Bankverbindung
	if !w.node(path+".bankverbindung", b != nil) {
		return
	}
	w.field(path+".bankverbindung.blz", b.BLZ, integer(schema.BLZ))
	w.field(path+".bankverbindung.kontonr", b.Kontonr, integer(schema.Kontonr))
	w.field(path+".bankverbindung.iban", b.IBAN, pattern(schema.IBAN))
	w.field(path+".bankverbindung.bic", b.BIC, pattern(schema.BIC))
}

func (w *walker) datei(path string, d *document.Datei) {
	w.field(path+".@id", d.ID, integer(schema.DateiID))
	w.field(path+".@erstellungsdatum", d.Erstellungsdatum, timestamp(schema.Zeitpunkt))
	w.field(path+".dokumententyp", d.Dokumententyp, w.enum(schema.Dokumententyp))
	w.field(path+".name", d.Name, pattern(schema.Dateiname))
	w.field(path+".beschreibung", d.Beschreibung, text(schema.Beschreibung))
	if l := d.Dateilaenge; w.node(path+".dateilaenge", l != nil) {
		w.field(path+".dateilaenge.laenge", l.Laenge, integer(schema.Dateilaenge))
		w.field(path+".dateilaenge.pruefsumme", l.Pruefsumme, pattern(schema.SHA1Hex))
	}
}

func (w *walker) auftragCrossField(a *document.Auftrag) {
	n := len(a.Dateien)

	if a.Dateianzahl != "" && w.ok("auftrag.@dateianzahl") && a.FileCount() != n {
		w.add(schema.Structural("auftrag.@dateianzahl", "file-count",
			fmt.Sprintf("%d, the number of datei entries", n), a.Dateianzahl))
	}

	if n > MaxFiles {
		w.add(schema.Structural("auftrag.datei", "max-occurs",
			fmt.Sprintf("at most %d entries", MaxFiles), strconv.Itoa(n)))
	}

	// ids compare by value: 1, 01 and +1 name the same file
	ids := make([]string, n)
	for i := range a.Dateien {
		if !w.ok(fmt.Sprintf("auftrag.datei[%d].@id", i)) {
			continue
		}
		if id, v := schema.DateiID.Accept(a.Dateien[i].ID); v == nil {
			ids[i] = strconv.FormatInt(id, 10)
		}
	}
	if dup := duplicates("datei", ids); dup != "" {
		w.add(schema.Structural("auftrag.datei", "unique-id", "unique datei ids", dup))
	}

	if e := a.Verschluesselung; e != nil && e.Verfahren == schema.VerfahrenPKCS7 && e.IDCert == "" {
		w.add(schema.Structural("auftrag.verschluesselung.@idcert", "pkcs7-certificate",
			"a certificate id when verfahren is "+schema.VerfahrenPKCS7, ""))
	}

	w.bankAlternatives("auftrag.absender", a.Absender)
}

// bankAlternatives covers revisions in which both account schemes are
// optional: then at least one of them must be complete
func (w *walker) bankAlternatives(path string, t *document.Teilnehmer) {
	if t == nil || t.Bankverbindung == nil || w.failed[path+".bankverbindung"] {
		return
	}
	iban, _ := w.rules.Presence(path+".bankverbindung.iban", w.v)
	blz, _ := w.rules.Presence(path+".bankverbindung.blz", w.v)
	if iban != schema.Optional || blz != schema.Optional {
		return
	}
	b := t.Bankverbindung
	if b.IBAN == "" && (b.BLZ == "" || b.Kontonr == "") {
		w.add(schema.Structural(path+".bankverbindung", "account",
			"an iban, or blz together with kontonr", ""))
	}
}

// duplicates names every id used more than once together with the entries
// that share it, e.g. "1 (datei[0], datei[2])". Empty ids are skipped.
func duplicates(element string, ids []string) string {
	seen := make(map[string][]int)
	var order []string
	for i, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; !ok {
			order = append(order, id)
		}
		seen[id] = append(seen[id], i)
	}
	var parts []string
	for _, id := range order {
		idx := seen[id]
		if len(idx) < 2 {
			continue
		}
		refs := make([]string, len(idx))
		for j, i := range idx {
			refs[j] = fmt.Sprintf("%s[%d]", element, i)
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", id, strings.Join(refs, ", ")))
	}
	return strings.Join(parts, "; ")
}
