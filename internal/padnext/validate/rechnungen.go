package validate

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/drfirst/go-padnext/internal/padnext/document"
	"github.com/drfirst/go-padnext/internal/padnext/schema"
)

// Rechnungen validates a billing document against revision v. Each billing
// case variant has its own summary block, and its own arithmetic is checked.
func Rechnungen(r *document.Rechnungen, v schema.Version) *Result {
	w := newWalker(schema.RechnungenRules, v)

	w.namespace("rechnungen.@xmlns", r.Xmlns)
	w.field("rechnungen.@version", r.Version, w.declaredVersion)
	w.field("rechnungen.@anzahl", r.Anzahl, integer(schema.Rechnungsanzahl))

	ids := make([]string, len(r.Rechnungen))
	if w.node("rechnungen.rechnung", len(r.Rechnungen) > 0) {
		for i := range r.Rechnungen {
			p := fmt.Sprintf("rechnungen.rechnung[%d]", i)
			w.rechnung(p, &r.Rechnungen[i])
			if w.ok(p + ".@id") {
				ids[i] = r.Rechnungen[i].ID
			}
		}
	}

	if r.Anzahl != "" && w.ok("rechnungen.@anzahl") && r.Count() != len(r.Rechnungen) {
		w.add(schema.Structural("rechnungen.@anzahl", "invoice-count",
			fmt.Sprintf("%d, the number of rechnung entries", len(r.Rechnungen)), r.Anzahl))
	}
	if dup := duplicates("rechnung", ids); dup != "" {
		w.add(schema.Structural("rechnungen.rechnung", "unique-id", "unique rechnung ids", dup))
	}

	w.out = append(w.out, r.Issues...)
	return w.result()
}

func (w *walker) rechnung(p string, r *document.Rechnung) {
	w.field(p+".@id", r.ID, text(schema.RechnungID))
	w.person(p+".rechnungsempfaenger", r.Rechnungsempfaenger)
	w.person(p+".behandelter", r.Behandelter)
	if vs := r.Versicherung; w.node(p+".versicherung", vs != nil) {
		w.field(p+".versicherung.@art", vs.Art, w.enum(schema.Versicherungsart))
	}

	f := r.Abrechnungsfall
	if !w.node(p+".abrechnungsfall", f != nil) {
		return
	}
	fp := p + ".abrechnungsfall"
	if variants := f.Variants(); len(variants) != 1 {
		w.add(schema.Structural(fp, "choice",
			"exactly one of humanmedizin, zahnmedizin, pauschal", strings.Join(variants, ", ")))
	}
	if h := f.Humanmedizin; w.node(fp+".humanmedizin", h != nil) {
		w.humanmedizin(fp+".humanmedizin", h)
	}
	if z := f.Zahnmedizin; w.node(fp+".zahnmedizin", z != nil) {
		w.zahnmedizin(fp+".zahnmedizin", z)
	}
	if pa := f.Pauschal; w.node(fp+".pauschal", pa != nil) {
		w.pauschal(fp+".pauschal", pa)
	}
}

func (w *walker) person(p string, per *document.Person) {
	if !w.node(p, per != nil) {
		return
	}
	w.field(p+".vorname", per.Vorname, text(schema.Name40))
	w.field(p+".name", per.Name, text(schema.Name40))
	w.field(p+".geburtsdatum", per.Geburtsdatum, timestamp(schema.Datum))
	w.field(p+".geschlecht", per.Geschlecht, w.enum(schema.Geschlecht))
}

// positions checks the entries and returns the sum of their amounts. The
// second result is false when an amount could not be used.
func (w *walker) positions(p string, ps []document.Position) (decimal.Decimal, bool) {
	sum := decimal.Zero
	usable := true
	if !w.node(p+".position", len(ps) > 0) {
		return sum, false
	}
	for i, pos := range ps {
		pp := fmt.Sprintf("%s.position[%d]", p, i)
		w.field(pp+".ziffer", pos.Ziffer, text(schema.Ziffer))
		w.field(pp+".datum", pos.Datum, timestamp(schema.Datum))
		w.field(pp+".anzahl", pos.Anzahl, integer(schema.Positionsanzahl))
		w.field(pp+".faktor", pos.Faktor, pattern(schema.Faktor))
		w.field(pp+".betrag", pos.Betrag, pattern(schema.Betrag))
		amount, ok := w.amount(pp+".betrag", pos.Betrag)
		if !ok {
			usable = false
			continue
		}
		sum = sum.Add(amount)
	}
	return sum, usable
}

func (w *walker) humanmedizin(p string, h *document.Humanmedizin) {
	total, usable := w.positions(p, h.Positionen)
	s := h.Summenblock
	sp := p + ".summenblock"
	if !w.node(sp, s != nil) {
		return
	}
	w.amountField(sp+".honorar", s.Honorar)
	w.amountField(sp+".auslagen", s.Auslagen)
	w.amountField(sp+".minderung", s.Minderung)
	w.amountField(sp+".gesamt", s.Gesamt)

	honorar, ok1 := w.amount(sp+".honorar", s.Honorar)
	auslagen, ok2 := w.amount(sp+".auslagen", s.Auslagen)
	minderung, ok3 := w.amount(sp+".minderung", s.Minderung)
	gesamt, ok4 := w.amount(sp+".gesamt", s.Gesamt)
	if usable && ok1 {
		w.sum(sp+".honorar", "sum of position betrag", total, honorar)
	}
	if ok1 && ok2 && ok3 && ok4 {
		w.sum(sp+".gesamt", "honorar + auslagen - minderung", honorar.Add(auslagen).Sub(minderung), gesamt)
	}
}

func (w *walker) zahnmedizin(p string, z *document.Zahnmedizin) {
	total, usable := w.positions(p, z.Positionen)
	s := z.Summenblock
	sp := p + ".summenblock"
	if !w.node(sp, s != nil) {
		return
	}
	w.amountField(sp+".honorar", s.Honorar)
	w.amountField(sp+".eigenlabor", s.Eigenlabor)
	w.amountField(sp+".fremdlabor", s.Fremdlabor)
	w.amountField(sp+".material", s.Material)
	w.amountField(sp+".gesamt", s.Gesamt)

	honorar, ok1 := w.amount(sp+".honorar", s.Honorar)
	eigen, ok2 := w.amount(sp+".eigenlabor", s.Eigenlabor)
	fremd, ok3 := w.amount(sp+".fremdlabor", s.Fremdlabor)
	material, ok4 := w.amount(sp+".material", s.Material)
	gesamt, ok5 := w.amount(sp+".gesamt", s.Gesamt)
	if usable && ok1 {
		w.sum(sp+".honorar", "sum of position betrag", total, honorar)
	}
	if ok1 && ok2 && ok3 && ok4 && ok5 {
		w.sum(sp+".gesamt", "honorar + eigenlabor + fremdlabor + material",
			honorar.Add(eigen).Add(fremd).Add(material), gesamt)
	}
}

func (w *walker) pauschal(p string, pa *document.Pauschal) {
	w.field(p+".bezeichnung", pa.Bezeichnung, text(schema.Name40))
	s := pa.Summenblock
	sp := p + ".summenblock"
	if !w.node(sp, s != nil) {
		return
	}
	w.amountField(sp+".pauschalbetrag", s.Pauschalbetrag)
	w.amountField(sp+".gesamt", s.Gesamt)

	betrag, ok1 := w.amount(sp+".pauschalbetrag", s.Pauschalbetrag)
	gesamt, ok2 := w.amount(sp+".gesamt", s.Gesamt)
	if ok1 && ok2 {
		w.sum(sp+".gesamt", "pauschalbetrag", betrag, gesamt)
	}
}

func (w *walker) amountField(path, value string) {
	w.field(path, value, pattern(schema.Betrag))
}

// amount parses a field that passed its field check. An absent optional
// amount counts as zero.
func (w *walker) amount(path, value string) (decimal.Decimal, bool) {
	if !w.ok(path) {
		return decimal.Zero, false
	}
	if value == "" {
		return decimal.Zero, true
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func (w *walker) sum(path, formula string, want, got decimal.Decimal) {
	if want.Equal(got) {
		return
	}
	w.add(schema.Structural(path, "sum",
		fmt.Sprintf("%s (%s)", formula, want.StringFixed(2)), got.StringFixed(2)))
}
