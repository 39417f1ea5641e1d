package schema

import (
	"sort"
	"strings"
)

// Presence is the requirement level of a field in one schema version
type Presence int

const (
	Absent Presence = iota
	Optional
	Required
)

func (p Presence) String() string {
	switch p {
	case Required:
		return "required"
	case Optional:
		return "optional"
	default:
		return "absent"
	}
}

// Change is one changelog row: from Since on, the field has Presence
type Change struct {
	Since    Version
	Presence Presence
}

// RuleTable maps field paths (indices stripped) to their changelog rows.
// New revisions are added as rows, never as code branches.
type RuleTable map[string][]Change

// Presence looks up the requirement level of path in version v. The second
// result is false when the path is not described by the table.
func (t RuleTable) Presence(path string, v Version) (Presence, bool) {
	rows, ok := t[RulePath(path)]
	if !ok {
		return Absent, false
	}
	p := Absent
	for _, c := range rows {
		if v.Before(c.Since) {
			break
		}
		p = c.Presence
	}
	return p, true
}

// Paths returns all described paths in lexical order
func (t RuleTable) Paths() []string {
	out := make([]string, 0, len(t))
	for p := range t {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// RulePath strips element indices: a.b[3].c becomes a.b.c
func RulePath(path string) string {
	if !strings.Contains(path, "[") {
		return path
	}
	var b strings.Builder
	skip := false
	for _, r := range path {
		switch {
		case r == '[':
			skip = true
		case r == ']':
			skip = false
		case !skip:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func always(p Presence) []Change { return []Change{{Since: V(2, 0), Presence: p}} }

func since(v Version, p Presence) []Change {
	return []Change{{Since: V(2, 0), Presence: Absent}, {Since: v, Presence: p}}
}

// AuftragRules describes the order document
var AuftragRules = RuleTable{
	"auftrag.@erstellungsdatum": always(Required),
	"auftrag.@transfernr":       always(Required),
	"auftrag.@echtdaten":        always(Required),
	"auftrag.@dateianzahl":      always(Required),

	"auftrag.empfaenger":                  always(Required),
	"auftrag.empfaenger.logisch.kundennr": always(Required),
	"auftrag.empfaenger.name":             always(Optional),
	"auftrag.empfaenger.bankverbindung":   always(Absent),

	"auftrag.absender":                    always(Required),
	"auftrag.absender.logisch.kundennr":   always(Required),
	"auftrag.absender.name":               always(Required),
	"auftrag.absender.bankverbindung":     always(Optional),
	"auftrag.absender.bankverbindung.blz": {
		{Since: V(2, 0), Presence: Required},
		{Since: V(2, 8), Presence: Optional},
		{Since: V(2, 9), Presence: Absent},
	},
	"auftrag.absender.bankverbindung.kontonr": {
		{Since: V(2, 0), Presence: Required},
		{Since: V(2, 8), Presence: Optional},
		{Since: V(2, 9), Presence: Absent},
	},
	"auftrag.absender.bankverbindung.iban": {
		{Since: V(2, 0), Presence: Absent},
		{Since: V(2, 4), Presence: Optional},
		{Since: V(2, 9), Presence: Required},
	},
	"auftrag.absender.bankverbindung.bic": since(V(2, 4), Optional),

	"auftrag.nachrichtentyp":          always(Required),
	"auftrag.nachrichtentyp.@version": always(Required),

	"auftrag.system":                   always(Required),
	"auftrag.system.produkt":           always(Required),
	"auftrag.system.version":           always(Required),
	"auftrag.system.hersteller":        always(Required),
	"auftrag.system.zertifizierungsnr": since(V(2, 5), Optional),

	"auftrag.verschluesselung":            always(Required),
	"auftrag.verschluesselung.@verfahren": always(Required),
	"auftrag.verschluesselung.@idcert":    always(Optional),

	"auftrag.empfangsquittung":        always(Required),
	"auftrag.empfangsquittung.@email": since(V(2, 6), Optional),

	"auftrag.datei":                        always(Required),
	"auftrag.datei.@id":                    always(Required),
	"auftrag.datei.@erstellungsdatum":      always(Required),
	"auftrag.datei.dokumententyp":          always(Required),
	"auftrag.datei.name":                   always(Required),
	"auftrag.datei.beschreibung":           since(V(2, 3), Optional),
	"auftrag.datei.dateilaenge":            always(Required),
	"auftrag.datei.dateilaenge.laenge":     always(Required),
	"auftrag.datei.dateilaenge.pruefsumme": always(Required),
}

// QuittungRules describes the receipt document
var QuittungRules = RuleTable{
	"Quittung.@version":            always(Required),
	"Quittung.@transfernr":         always(Required),
	"Quittung.@dateianzahl":        always(Required),
	"Quittung.@rechnungsanzahl":    always(Required),
	"Quittung.nachrichtentyp":      always(Required),
	"Quittung.eingangsdatum":       always(Required),
	"Quittung.status":              always(Required),
	"Quittung.fehler":              always(Optional),
	"Quittung.fehler.art":          always(Required),
	"Quittung.fehler.beschreibung": always(Optional),
}

// RechnungenRules describes the billing document
var RechnungenRules = buildRechnungenRules()

// Billing case variants
const (
	FallHumanmedizin = "humanmedizin"
	FallZahnmedizin  = "zahnmedizin"
	FallPauschal     = "pauschal"
)

func buildRechnungenRules() RuleTable {
	t := RuleTable{
		"rechnungen.@version":                     always(Required),
		"rechnungen.@anzahl":                      always(Required),
		"rechnungen.rechnung":                     always(Required),
		"rechnungen.rechnung.@id":                 always(Required),
		"rechnungen.rechnung.rechnungsempfaenger": since(V(2, 2), Optional),
		"rechnungen.rechnung.behandelter":         always(Required),
		"rechnungen.rechnung.versicherung":        always(Optional),
		"rechnungen.rechnung.versicherung.@art":   always(Required),
		"rechnungen.rechnung.abrechnungsfall":     always(Required),
	}
	person := func(prefix string, strict bool) {
		t[prefix+".vorname"] = always(Optional)
		t[prefix+".name"] = always(Required)
		if strict {
			t[prefix+".geburtsdatum"] = always(Required)
			t[prefix+".geschlecht"] = always(Required)
		} else {
			t[prefix+".geburtsdatum"] = always(Optional)
			t[prefix+".geschlecht"] = always(Optional)
		}
	}
	person("rechnungen.rechnung.behandelter", true)
	person("rechnungen.rechnung.rechnungsempfaenger", false)

	for _, fall := range []string{FallHumanmedizin, FallZahnmedizin, FallPauschal} {
		base := "rechnungen.rechnung.abrechnungsfall." + fall
		t[base] = always(Optional)
		t[base+".summenblock"] = always(Required)
		t[base+".summenblock.gesamt"] = always(Required)
		if fall == FallPauschal {
			t[base+".summenblock.pauschalbetrag"] = always(Required)
			t[base+".bezeichnung"] = always(Required)
			continue
		}
		t[base+".position"] = always(Required)
		t[base+".position.ziffer"] = always(Required)
		t[base+".position.datum"] = always(Required)
		t[base+".position.anzahl"] = always(Required)
		t[base+".position.faktor"] = always(Optional)
		t[base+".position.betrag"] = always(Required)
		t[base+".summenblock.honorar"] = always(Required)
	}
	t["rechnungen.rechnung.abrechnungsfall.humanmedizin.summenblock.auslagen"] = always(Optional)
	t["rechnungen.rechnung.abrechnungsfall.humanmedizin.summenblock.minderung"] = always(Optional)
	t["rechnungen.rechnung.abrechnungsfall.zahnmedizin.summenblock.eigenlabor"] = always(Optional)
	t["rechnungen.rechnung.abrechnungsfall.zahnmedizin.summenblock.fremdlabor"] = always(Optional)
	t["rechnungen.rechnung.abrechnungsfall.zahnmedizin.summenblock.material"] = always(Optional)
	return t
}
