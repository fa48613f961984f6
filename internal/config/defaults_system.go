package config

// Complexity instructions attached to every specification request
const (
	DefaultComplexitySimple   = "The user has requested a SIMPLE app. Keep concepts basic and interactions straightforward. Focus on a single core idea."
	DefaultComplexityStandard = "The user has requested a STANDARD app with a good balance of detail and interactivity."
	DefaultComplexityDetailed = "The user has requested a DETAILED and COMPREHENSIVE app. Include multiple features, in-depth explanations, and rich interactions."
)

// DefaultSafetySettings returns the provider safety thresholds used when the
// configuration names none
func DefaultSafetySettings() []SafetySetting {
	categories := []string{
		"HARM_CATEGORY_HARASSMENT",
		"HARM_CATEGORY_HATE_SPEECH",
		"HARM_CATEGORY_SEXUALLY_EXPLICIT",
		"HARM_CATEGORY_DANGEROUS_CONTENT",
	}
	settings := make([]SafetySetting, 0, len(categories))
	for _, c := range categories {
		settings = append(settings, SafetySetting{Category: c, Threshold: "BLOCK_MEDIUM_AND_ABOVE"})
	}
	return settings
}
