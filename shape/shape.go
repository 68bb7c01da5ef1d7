// Package shape renders backend results into the Norwegian markdown
// responses returned to callers. All functions are pure: they take
// store types and strings and return text, with no I/O and no state.
package shape

// licenseLine is appended to every response that includes law text.
const licenseLine = "**Lisens:** NLOD 2.0 - Norsk lisens for offentlige data"

// supersededWarning is shown when a looked-up document is no longer current.
const supersededWarning = "> **Denne loven/forskriften er opphevet.** " +
	"Resultatene kan vaere utdaterte. Bruk `sok()` for a finne gjeldende regelverk."
