package validate

import (
	"fmt"

	"github.com/drfirst/go-padnext/internal/padnext/document"
	"github.com/drfirst/go-padnext/internal/padnext/schema"
)

// Quittung validates a receipt against revision v. Whether a matching
// order exists is the delivery tracker's concern, not checked here.
func Quittung(q *document.Quittung, v schema.Version) *Result {
	w := newWalker(schema.QuittungRules, v)

	w.namespace("Quittung.@xmlns", q.Xmlns)
	w.field("Quittung.@version", q.Version, w.declaredVersion)
	w.field("Quittung.@transfernr", q.Transfernr, integer(schema.TransferNr))
	w.field("Quittung.@dateianzahl", q.Dateianzahl, integer(schema.Empfangsanzahl))
	w.field("Quittung.@rechnungsanzahl", q.Rechnungsanzahl, integer(schema.Rechnungsanzahl))
	w.field("Quittung.nachrichtentyp", q.Nachrichtentyp, w.enum(schema.QuittungNachrichtentyp))
	w.field("Quittung.eingangsdatum", q.Eingangsdatum, timestamp(schema.Zeitpunkt))
	w.field("Quittung.status", q.Status, integer(schema.Status))

	if w.node("Quittung.fehler", len(q.Fehler) > 0) {
		for i, f := range q.Fehler {
			p := fmt.Sprintf("Quittung.fehler[%d]", i)
			w.field(p+".art", f.Art, text(schema.FehlerArt))
			w.field(p+".beschreibung", f.Beschreibung, text(schema.FehlerText))
		}
	}

	w.out = append(w.out, q.Issues...)
	return w.result()
}
