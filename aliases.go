package paragraf

// lovAliases maps common law names and abbreviations to Lovdata ids
// in reference form (LOV-YYYY-MM-DD-NR / FOR-YYYY-MM-DD-NR). These
// are shortcuts only; every document in the cache resolves through
// the backend regardless of this table.
var lovAliases = map[string]string{
	// Entreprise og bygg
	"bustadoppføringslova":  "LOV-1997-06-13-43",
	"buofl":                 "LOV-1997-06-13-43",
	"avhendingslova":        "LOV-1992-07-03-93",
	"avhl":                  "LOV-1992-07-03-93",
	"plan-og-bygningsloven": "LOV-2008-06-27-71",
	"pbl":                   "LOV-2008-06-27-71",
	"byggherreforskriften":  "FOR-2009-08-03-1028",
	"byggesaksforskriften":  "FOR-2010-03-26-488",
	"sak10":                 "FOR-2010-03-26-488",
	"byggteknisk-forskrift": "FOR-2017-06-19-840",
	"tek17":                 "FOR-2017-06-19-840",
	// Husleie
	"husleieloven": "LOV-1999-03-26-17",
	"husll":        "LOV-1999-03-26-17",
	// Kontraktsrett
	"kjøpsloven":             "LOV-1988-05-13-27",
	"forbrukerkjøpsloven":    "LOV-2002-06-21-34",
	"fkjl":                   "LOV-2002-06-21-34",
	"håndverkertjenesteloven": "LOV-1989-06-16-63",
	"hvtjl":                  "LOV-1989-06-16-63",
	"angrerettloven":         "LOV-2014-06-20-27",
	// Arbeidsrett
	"arbeidsmiljøloven": "LOV-2005-06-17-62",
	"aml":               "LOV-2005-06-17-62",
	"ferieloven":        "LOV-1988-04-29-21",
	"folketrygdloven":   "LOV-1997-02-28-19",
	"ftrl":              "LOV-1997-02-28-19",
	// Forvaltning
	"forvaltningsloven": "LOV-1967-02-10",
	"fvl":               "LOV-1967-02-10",
	"offentleglova":     "LOV-2006-05-19-16",
	"offl":              "LOV-2006-05-19-16",
	"kommuneloven":      "LOV-2018-06-22-83",
	"koml":              "LOV-2018-06-22-83",
	// Tvisteløsning
	"tvisteloven":    "LOV-2005-06-17-90",
	"tvl":            "LOV-2005-06-17-90",
	"voldgiftsloven": "LOV-2004-05-14-25",
	"domstolloven":   "LOV-1915-08-13-5",
	// Anskaffelser
	"anskaffelsesloven":       "LOV-2016-06-17-73",
	"loa":                     "LOV-2016-06-17-73",
	"anskaffelsesforskriften": "FOR-2016-08-12-974",
	"foa":                     "FOR-2016-08-12-974",
	// Erstatning
	"skadeserstatningsloven": "LOV-1969-06-13-26",
	"skl":                    "LOV-1969-06-13-26",
	// Generelt
	"avtaleloven":             "LOV-1918-05-31-4",
	"avtl":                    "LOV-1918-05-31-4",
	"straffeloven":            "LOV-2005-05-20-28",
	"strl":                    "LOV-2005-05-20-28",
	"personopplysningsloven":  "LOV-2018-06-15-38",
	"popplyl":                 "LOV-2018-06-15-38",
}

// lovNames maps Lovdata ids to full human-readable titles for the
// most commonly requested laws.
var lovNames = map[string]string{
	"LOV-1997-06-13-43": "Lov om avtalar med forbrukar om oppføring av ny bustad m.m. (bustadoppføringslova)",
	"LOV-1992-07-03-93": "Lov om avhending av fast eigedom (avhendingslova)",
	"LOV-2008-06-27-71": "Lov om planlegging og byggesaksbehandling (plan- og bygningsloven)",
	"LOV-2005-06-17-62": "Lov om arbeidsmiljø, arbeidstid og stillingsvern mv. (arbeidsmiljøloven)",
	"LOV-2005-06-17-90": "Lov om mekling og rettergang i sivile tvister (tvisteloven)",
	"LOV-1967-02-10":    "Lov om behandlingsmåten i forvaltningssaker (forvaltningsloven)",
	"LOV-2002-06-21-34": "Lov om forbrukerkjøp (forbrukerkjøpsloven)",
	"LOV-1988-05-13-27": "Lov om kjøp (kjøpsloven)",
	"LOV-1918-05-31-4":  "Lov om avslutning av avtaler, om fuldmagt og om ugyldige viljeserklæringer (avtaleloven)",
	"LOV-1969-06-13-26": "Lov om skadeserstatning (skadeserstatningsloven)",
	"LOV-2016-06-17-73": "Lov om offentlige anskaffelser (anskaffelsesloven)",
}

// aliasCategory groups aliases for the liste() view. Only headline
// aliases are shown per category; abbreviations resolve but are not
// listed.
type aliasCategory struct {
	name    string
	aliases []string
}

var aliasCategories = []aliasCategory{
	{"Entreprise og bygg", []string{"bustadoppføringslova", "avhendingslova", "plan-og-bygningsloven"}},
	{"Kontraktsrett", []string{"kjøpsloven", "forbrukerkjøpsloven", "håndverkertjenesteloven", "avtaleloven"}},
	{"Arbeidsrett", []string{"arbeidsmiljøloven", "ferieloven", "folketrygdloven"}},
	{"Tvisteløsning", []string{"tvisteloven", "voldgiftsloven", "domstolloven"}},
	{"Forvaltning", []string{"forvaltningsloven", "offentleglova", "kommuneloven"}},
	{"Anskaffelser", []string{"anskaffelsesloven", "anskaffelsesforskriften"}},
}

// lawName returns the human-readable name for a Lovdata id, falling
// back to the id itself.
func lawName(id string) string {
	if name, ok := lovNames[id]; ok {
		return name
	}
	return id
}
