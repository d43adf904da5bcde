package emotional

import (
	"strings"
	"unicode"

	"progression-server/internal/models"
)

// ImpactAnalyzer turns free text into a per-emotion impact in [0,1].
type ImpactAnalyzer interface {
	Analyze(text string) models.EmotionVector
}

// keywordWeight is the impact contributed by each matched keyword.
const keywordWeight = 0.3

// defaultKeywords covers Spanish and English. Keys are matched against lowercased, accent-free tokens
// and multi-word phrases against the normalized text.
var defaultKeywords = map[models.Emotion][]string{
	models.EmotionJoy:          {"feliz", "alegre", "alegria", "genial", "encanta", "jaja", "jajaja", "gracias", "happy", "glad", "great", "love", "awesome", "haha", "yay"},
	models.EmotionTrust:        {"confio", "confianza", "segura", "seguro", "amiga", "amigo", "cuentame", "trust", "friend", "honest", "promise", "believe"},
	models.EmotionFear:         {"miedo", "asustado", "asustada", "nervioso", "nerviosa", "terror", "preocupa", "afraid", "scared", "fear", "worried", "anxious"},
	models.EmotionSadness:      {"triste", "tristeza", "llorar", "lloro", "solo", "sola", "extrano", "deprimido", "sad", "cry", "lonely", "miss", "depressed"},
	models.EmotionAnger:        {"enojado", "enojada", "furioso", "furiosa", "odio", "molesto", "molesta", "rabia", "angry", "hate", "mad", "furious", "annoyed"},
	models.EmotionSurprise:     {"wow", "increible", "sorpresa", "guau", "en serio", "no puede ser", "amazing", "surprise", "unbelievable", "omg"},
	models.EmotionAnticipation: {"espero", "pronto", "manana", "quiero", "ojala", "ansias", "esperando", "hope", "soon", "tomorrow", "looking forward"},
	models.EmotionDisgust:      {"asco", "asqueroso", "repugnante", "horrible", "puaj", "gross", "disgusting", "yuck", "awful"},
}

// KeywordAnalyzer is a deterministic keyword heuristic.
type KeywordAnalyzer struct {
	keywords map[models.Emotion][]string
}

var _ ImpactAnalyzer = (*KeywordAnalyzer)(nil)

// NewKeywordAnalyzer returns an analyzer over the built-in Spanish/English keyword lists.
func NewKeywordAnalyzer() *KeywordAnalyzer {
	return &KeywordAnalyzer{keywords: defaultKeywords}
}

// NewKeywordAnalyzerWith returns an analyzer over custom keyword lists.
func NewKeywordAnalyzerWith(keywords map[models.Emotion][]string) *KeywordAnalyzer {
	normalized := make(map[models.Emotion][]string, len(keywords))
	for e, words := range keywords {
		for _, w := range words {
			normalized[e] = append(normalized[e], normalize(w))
		}
	}
	return &KeywordAnalyzer{keywords: normalized}
}

// Analyze returns keywordWeight per matched keyword, capped at 1, and 0 for emotions without matches.
func (a *KeywordAnalyzer) Analyze(text string) models.EmotionVector {
	norm := normalize(text)
	if norm == "" {
		return models.EmotionVector{}
	}
	tokens := make(map[string]struct{})
	for _, tok := range strings.Fields(norm) {
		tokens[tok] = struct{}{}
	}
	padded := " " + norm + " "

	var impact models.EmotionVector
	for _, e := range models.Emotions {
		matches := 0
		for _, kw := range a.keywords[e] {
			if strings.Contains(kw, " ") {
				if strings.Contains(padded, " "+kw+" ") {
					matches++
				}
				continue
			}
			if _, ok := tokens[kw]; ok {
				matches++
			}
		}
		if matches > 0 {
			impact = impact.With(e, clamp(float64(matches)*keywordWeight, 0, 1))
		}
	}
	return impact
}

var accentReplacer = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
)

// normalize lowercases, strips Spanish accents and turns punctuation into spaces.
func normalize(text string) string {
	lower := accentReplacer.Replace(strings.ToLower(text))
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, lower)
	return strings.Join(strings.Fields(mapped), " ")
}

// TextFeatures are the surface signals used for personality adaptation.
type TextFeatures struct {
	Length        int
	Questions     int
	Exclamations  int
	HumorMarkers  int
	FormalMarkers int
}

var (
	humorMarkers  = []string{"jaja", "jeje", "haha", "lol", "xd", "lmao"}
	formalMarkers = []string{"usted", "por favor", "disculpe", "le agradezco", "cordialmente", "please", "kindly", "sir"}
)

// ExtractFeatures computes TextFeatures for text.
func ExtractFeatures(text string) TextFeatures {
	norm := normalize(text)
	f := TextFeatures{
		Length:       len([]rune(strings.TrimSpace(text))),
		Questions:    strings.Count(text, "?"),
		Exclamations: strings.Count(text, "!"),
	}
	padded := " " + norm + " "
	for _, m := range humorMarkers {
		if strings.Contains(norm, m) {
			f.HumorMarkers++
		}
	}
	if strings.Contains(text, "😂") || strings.Contains(text, "🤣") {
		f.HumorMarkers++
	}
	for _, m := range formalMarkers {
		if strings.Contains(padded, " "+m+" ") {
			f.FormalMarkers++
		}
	}
	return f
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
