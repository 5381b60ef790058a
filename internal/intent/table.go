package intent

import "github.com/nadzzz/agrivoice/internal/config"

// DefaultRules is the built-in intent table, in tie-break order. Keywords
// ending in "*" are stems.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:        "market_query",
			Keywords:    []string{"price", "mandi", "market", "cost", "rate", "buy", "sell", "selling"},
			EntityTypes: []string{"crop"},
			Confidence:  0.90,
		},
		{
			Name:        "pest_control",
			Keywords:    []string{"pest*", "insect*", "disease", "fungus", "fungal", "fungicide", "worm", "blight", "rot", "rotting", "spray*", "aphid"},
			EntityTypes: []string{"crop"},
			Confidence:  0.90,
		},
		{
			Name:        "crop_advice",
			Keywords:    []string{"grow*", "plant", "planting", "seed*", "sow*", "harvest*", "crop", "variety", "varieties", "yield"},
			EntityTypes: []string{"crop", "season"},
			Confidence:  0.88,
		},
		{
			Name:        "fertilizer",
			Keywords:    []string{"fertiliz*", "fertilis*", "manure", "urea", "npk", "compost", "nutrient", "soil health"},
			EntityTypes: []string{"crop"},
			Confidence:  0.88,
		},
		{
			Name:        "irrigation",
			Keywords:    []string{"water", "watering", "irrigat*", "drip", "sprinkler", "rain", "drought", "moisture"},
			EntityTypes: []string{"crop", "season"},
			Confidence:  0.87,
		},
		{
			Name:        "weather",
			Keywords:    []string{"weather", "rain", "rainfall", "temperature", "forecast", "monsoon", "climate"},
			EntityTypes: []string{"season"},
			Confidence:  0.85,
		},
		{
			Name:        "scheme_query",
			Keywords:    []string{"scheme", "subsidy", "subsidies", "government", "loan", "insurance", "pm kisan"},
			EntityTypes: []string{"crop"},
			Confidence:  0.85,
		},
	}
}

// DefaultEntities is the built-in entity dictionary.
func DefaultEntities() map[string][]string {
	return map[string][]string{
		"crop": {
			"rice", "rice=paddy", "wheat", "maize", "maize=corn", "sugarcane", "cotton",
			"tomato", "onion", "potato", "chilli", "pepper", "groundnut", "soybean",
			"mustard", "sunflower", "mango", "banana", "coconut", "tea", "coffee",
			"turmeric", "ginger", "garlic", "brinjal", "okra", "cabbage", "cauliflower",
		},
		"season": {"kharif", "rabi", "zaid", "monsoon", "summer", "winter"},
	}
}

// FromConfig builds a classifier from configuration, falling back to the
// built-in tables for whichever part is not configured.
func FromConfig(cfg config.IntentConfig) *Classifier {
	rules := DefaultRules()
	if len(cfg.Rules) > 0 {
		rules = make([]Rule, 0, len(cfg.Rules))
		for _, r := range cfg.Rules {
			rules = append(rules, Rule{
				Name:        r.Name,
				Keywords:    r.Keywords,
				EntityTypes: r.Entities,
				Confidence:  r.Confidence,
			})
		}
	}
	entities := DefaultEntities()
	if len(cfg.Entities) > 0 {
		entities = cfg.Entities
	}
	return New(rules, entities)
}
