package rules

// builtinDef is the compact source form of a built-in rule.
type builtinDef struct {
	slug, pattern, replacement, description string
	confidence                              float64
}

// builtinDefs is the fixed tier in match order. Several rules share a
// description and therefore share feedback. The "believe" entry maps a word
// to itself and never produces a suggestion.
var builtinDefs = []builtinDef{
	{"fone", "fone", "phone", "Silent 'ph' sound", 0.95},
	{"foto", "foto", "photo", "Silent 'ph' sound", 0.9},
	{"fisics", "fisics", "physics", "Silent 'ph' and 'y' sound", 0.85},
	{"nife", "nife", "knife", "Silent 'kn' sound", 0.9},
	{"nee", "nee", "knee", "Silent 'kn' sound", 0.8},
	{"rite", "rite", "write", "Silent 'w' sound", 0.85},
	{"recieve", "recieve", "receive", "'i' before 'e' except after 'c'", 0.95},
	{"believe", "believe", "believe", "'i' before 'e' rule", 0.9},
	{"seperate", "seperate", "separate", "Common vowel confusion", 0.9},
	{"definately", "definately", "definitely", "Common spelling error", 0.95},
	{"there-going", "there going", "they're going", "Contraction confusion", 0.8},
	{"your-going", "your going", "you're going", "Contraction confusion", 0.8},
	{"its-going", "its going", "it's going", "Contraction confusion", 0.7},
	{"would-of", "would of", "would have", "Modal verb confusion", 0.9},
	{"should-of", "should of", "should have", "Modal verb confusion", 0.9},
	{"could-of", "could of", "could have", "Modal verb confusion", 0.9},
	{"thru", "thru", "through", "Phonetic spelling", 0.85},
	{"u", "u", "you", "Text speak conversion", 0.7},
	{"r", "r", "are", "Text speak conversion", 0.6},
}

// BuiltinPrefix prefixes the ID of every built-in rule.
const BuiltinPrefix = "builtin-"

// Builtins returns a fresh copy of the built-in rule set, all enabled, in
// match order.
func Builtins() []Rule {
	out := make([]Rule, len(builtinDefs))
	for i, d := range builtinDefs {
		out[i] = Rule{
			ID:             BuiltinPrefix + d.slug,
			Pattern:        d.pattern,
			Replacement:    d.replacement,
			Enabled:        true,
			Priority:       DefaultBuiltInPriority,
			Description:    d.description,
			BaseConfidence: d.confidence,
			BuiltIn:        true,
		}
	}
	return out
}
