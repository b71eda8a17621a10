// Package engine implements the SAGE inference pipeline.
// This file holds the medical synonym data used by the entity extractor:
// colloquial-to-MedDRA mappings, UK/US spelling equivalences and complex
// multi-word phrase mappings. All lookups are case-insensitive.
package engine

import "strings"

// SynonymMapping resolves one lay phrase to its canonical dictionary value
// together with every known spelling of it.
type SynonymMapping struct {
	// CanonicalTerm is the preferred dictionary value, upper-cased.
	CanonicalTerm string

	// AllVariants holds every spelling that may appear in the data,
	// canonical term included.
	AllVariants []string
}

// spellingGroups groups UK/US spellings of the same concept. Each group is
// indexed under every member, so a lookup by either spelling returns the
// whole group.
var spellingGroups = [][]string{
	{"ANAEMIA", "ANEMIA"},
	{"DIARRHOEA", "DIARRHEA"},
	{"OEDEMA", "EDEMA"},
	{"HAEMORRHAGE", "HEMORRHAGE"},
	{"DYSPNOEA", "DYSPNEA"},
	{"HAEMATOMA", "HEMATOMA"},
	{"LEUKAEMIA", "LEUKEMIA"},
	{"ISCHAEMIA", "ISCHEMIA"},
	{"PYREXIA OF UNKNOWN ORIGIN", "FEVER OF UNKNOWN ORIGIN"},
	{"HYPOAESTHESIA", "HYPOESTHESIA"},
	{"PARAESTHESIA", "PARESTHESIA"},
	{"FAECAL INCONTINENCE", "FECAL INCONTINENCE"},
	{"OESOPHAGITIS", "ESOPHAGITIS"},
}

// spellingIndex maps each lowercase spelling to its full variant group.
var spellingIndex = buildSpellingIndex()

func buildSpellingIndex() map[string][]string {
	index := make(map[string][]string)
	for _, group := range spellingGroups {
		for _, spelling := range group {
			index[strings.ToLower(spelling)] = group
		}
	}
	return index
}

// colloquialMappings resolve lay vocabulary to MedDRA preferred terms.
var colloquialMappings = map[string]SynonymMapping{
	"fever":               {CanonicalTerm: "PYREXIA", AllVariants: []string{"PYREXIA"}},
	"high temperature":    {CanonicalTerm: "PYREXIA", AllVariants: []string{"PYREXIA"}},
	"belly pain":          {CanonicalTerm: "ABDOMINAL PAIN", AllVariants: []string{"ABDOMINAL PAIN"}},
	"stomach pain":        {CanonicalTerm: "ABDOMINAL PAIN", AllVariants: []string{"ABDOMINAL PAIN"}},
	"stomach ache":        {CanonicalTerm: "ABDOMINAL PAIN", AllVariants: []string{"ABDOMINAL PAIN"}},
	"tiredness":           {CanonicalTerm: "FATIGUE", AllVariants: []string{"FATIGUE"}},
	"exhaustion":          {CanonicalTerm: "FATIGUE", AllVariants: []string{"FATIGUE"}},
	"shortness of breath": {CanonicalTerm: "DYSPNOEA", AllVariants: []string{"DYSPNOEA", "DYSPNEA"}},
	"breathlessness":      {CanonicalTerm: "DYSPNOEA", AllVariants: []string{"DYSPNOEA", "DYSPNEA"}},
	"hives":               {CanonicalTerm: "URTICARIA", AllVariants: []string{"URTICARIA"}},
	"itching":             {CanonicalTerm: "PRURITUS", AllVariants: []string{"PRURITUS"}},
	"itchiness":           {CanonicalTerm: "PRURITUS", AllVariants: []string{"PRURITUS"}},
	"throwing up":         {CanonicalTerm: "VOMITING", AllVariants: []string{"VOMITING"}},
	"feeling sick":        {CanonicalTerm: "NAUSEA", AllVariants: []string{"NAUSEA"}},
	"dizziness":           {CanonicalTerm: "DIZZINESS", AllVariants: []string{"DIZZINESS"}},
	"racing heart":        {CanonicalTerm: "PALPITATIONS", AllVariants: []string{"PALPITATIONS"}},
	"trouble sleeping":    {CanonicalTerm: "INSOMNIA", AllVariants: []string{"INSOMNIA"}},
	"bruising":            {CanonicalTerm: "CONTUSION", AllVariants: []string{"CONTUSION"}},
	"nosebleed":           {CanonicalTerm: "EPISTAXIS", AllVariants: []string{"EPISTAXIS"}},
	"hair loss":           {CanonicalTerm: "ALOPECIA", AllVariants: []string{"ALOPECIA"}},
	"dry mouth":           {CanonicalTerm: "DRY MOUTH", AllVariants: []string{"DRY MOUTH"}},
	"heartburn":           {CanonicalTerm: "DYSPEPSIA", AllVariants: []string{"DYSPEPSIA"}},
}

// complexPhraseMappings resolve multi-word clinical phrases that the
// colloquial map cannot express. Checked before any other strategy.
var complexPhraseMappings = map[string]SynonymMapping{
	"low blood cell count": {
		CanonicalTerm: "WHITE BLOOD CELL COUNT DECREASED",
		AllVariants:   []string{"WHITE BLOOD CELL COUNT DECREASED", "LEUKOPENIA"},
	},
	"low white blood cell": {
		CanonicalTerm: "WHITE BLOOD CELL COUNT DECREASED",
		AllVariants:   []string{"WHITE BLOOD CELL COUNT DECREASED", "LEUKOPENIA"},
	},
	"low white blood cell count": {
		CanonicalTerm: "WHITE BLOOD CELL COUNT DECREASED",
		AllVariants:   []string{"WHITE BLOOD CELL COUNT DECREASED", "LEUKOPENIA"},
	},
	"low platelet count": {
		CanonicalTerm: "PLATELET COUNT DECREASED",
		AllVariants:   []string{"PLATELET COUNT DECREASED", "THROMBOCYTOPENIA"},
	},
	"low red blood cell count": {
		CanonicalTerm: "RED BLOOD CELL COUNT DECREASED",
		AllVariants:   []string{"RED BLOOD CELL COUNT DECREASED", "ANAEMIA", "ANEMIA"},
	},
	"high blood pressure": {
		CanonicalTerm: "HYPERTENSION",
		AllVariants:   []string{"HYPERTENSION", "BLOOD PRESSURE INCREASED"},
	},
	"low blood pressure": {
		CanonicalTerm: "HYPOTENSION",
		AllVariants:   []string{"HYPOTENSION", "BLOOD PRESSURE DECREASED"},
	},
	"high blood sugar": {
		CanonicalTerm: "HYPERGLYCAEMIA",
		AllVariants:   []string{"HYPERGLYCAEMIA", "HYPERGLYCEMIA", "BLOOD GLUCOSE INCREASED"},
	},
	"heart attack": {
		CanonicalTerm: "MYOCARDIAL INFARCTION",
		AllVariants:   []string{"MYOCARDIAL INFARCTION"},
	},
	"liver enzyme elevation": {
		CanonicalTerm: "ALANINE AMINOTRANSFERASE INCREASED",
		AllVariants:   []string{"ALANINE AMINOTRANSFERASE INCREASED", "HEPATIC ENZYME INCREASED"},
	},
}

// SpellingVariants returns every known spelling of term when the term has a
// UK/US variant group, nil otherwise. Case-insensitive.
func SpellingVariants(term string) []string {
	return spellingIndex[strings.ToLower(strings.TrimSpace(term))]
}

// HasSpellingVariants reports whether term belongs to a UK/US variant group.
func HasSpellingVariants(term string) bool {
	return SpellingVariants(term) != nil
}

// LookupColloquial resolves a lay phrase to its medical mapping, or nil.
func LookupColloquial(phrase string) *SynonymMapping {
	if m, ok := colloquialMappings[strings.ToLower(strings.TrimSpace(phrase))]; ok {
		return &m
	}
	return nil
}

// LookupComplexPhrase resolves a multi-word phrase mapping, or nil.
func LookupComplexPhrase(phrase string) *SynonymMapping {
	if m, ok := complexPhraseMappings[strings.ToLower(strings.TrimSpace(phrase))]; ok {
		return &m
	}
	return nil
}
