package intent

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nadzzz/agrivoice/internal/config"
)

func TestClassifyTomatoPests(t *testing.T) {
	c := NewDefault()
	res := c.Classify("How do I control pests in tomato plants?")

	// "pest" and "plant" each hit one rule; pest_control wins on table order.
	assert.Equal(t, "pest_control", res.Intent)
	assert.Equal(t, []string{"pest"}, res.Matched)
	assert.InDelta(t, 0.90, res.Confidence, 1e-9)
	assert.Equal(t, map[string][]string{"crop": {"tomato"}}, res.Entities)
}

func TestClassifyHighestOverlapWins(t *testing.T) {
	c := NewDefault()
	res := c.Classify("When should I sow and harvest wheat for best yield in rabi?")
	assert.Equal(t, "crop_advice", res.Intent)
	assert.Len(t, res.Matched, 3)
	assert.InDelta(t, 0.88+0.06, res.Confidence, 1e-9)
	assert.Equal(t, []string{"wheat"}, res.Entities["crop"])
	assert.Equal(t, []string{"rabi"}, res.Entities["season"])
}

func TestClassifyGeneralKeepsAllEntities(t *testing.T) {
	c := NewDefault()
	res := c.Classify("Tell me about paddy in kharif")
	assert.Equal(t, General, res.Intent)
	assert.Equal(t, generalConfidence, res.Confidence)
	assert.Equal(t, []string{"rice"}, res.Entities["crop"])
	assert.Equal(t, []string{"kharif"}, res.Entities["season"])
}

func TestClassifyEmptyText(t *testing.T) {
	res := NewDefault().Classify("")
	assert.Equal(t, General, res.Intent)
	assert.Nil(t, res.Entities)
}

func TestSynonymsDeduplicate(t *testing.T) {
	res := NewDefault().Classify("rice or paddy seed variety")
	assert.Equal(t, []string{"rice"}, res.Entities["crop"])
}

func TestMultiWordKeyword(t *testing.T) {
	res := NewDefault().Classify("Am I eligible for PM-Kisan?")
	assert.Equal(t, "scheme_query", res.Intent)
}

func TestConfidenceCapped(t *testing.T) {
	c := New([]Rule{{Name: "x", Keywords: []string{"a", "b", "c", "d", "e"}, Confidence: 0.97}}, nil)
	res := c.Classify("a b c d e")
	assert.Equal(t, maxConfidence, res.Confidence)
}

func TestEntityMatchingIsWholeWord(t *testing.T) {
	res := NewDefault().Classify("teach me to store grain")
	assert.Empty(t, res.Entities["crop"])
}

func TestFromConfigOverridesRules(t *testing.T) {
	c := FromConfig(config.IntentConfig{
		Rules: []config.IntentRule{{Name: "livestock", Keywords: []string{"cow", "goat"}, Entities: []string{"animal"}}},
		Entities: map[string][]string{"animal": {"cow", "goat"}},
	})
	res := c.Classify("My cows are not eating")
	assert.Equal(t, "livestock", res.Intent)
	assert.Equal(t, []string{"cow"}, res.Entities["animal"])
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)
}

func TestClassifyConcurrent(t *testing.T) {
	c := NewDefault()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, "irrigation", c.Classify("drip irrigation for banana").Intent)
		}()
	}
	wg.Wait()
}

func TestShortKeywordsMatchWholeWords(t *testing.T) {
	c := NewDefault()

	res := c.Classify("Which crop rotation is best after kharif paddy?")
	assert.Equal(t, "crop_advice", res.Intent)
	assert.Equal(t, []string{"crop"}, res.Matched)
	assert.NotContains(t, res.Matched, "rot")

	res = c.Classify("How big does watermelon get?")
	assert.NotEqual(t, "irrigation", res.Intent)

	res = c.Classify("Is this the highly rated hybrid?")
	assert.NotEqual(t, "market_query", res.Intent)

	res = c.Classify("Why do my tomatoes rot on the vine?")
	assert.Equal(t, "pest_control", res.Intent)
	assert.Equal(t, []string{"rot"}, res.Matched)
}

func TestStemKeywordsMatchPrefixes(t *testing.T) {
	c := New([]Rule{{Name: "irrigation", Keywords: []string{"irrigat*", "drip line*"}}}, nil)

	res := c.Classify("Irrigating banana with drip lines")
	assert.Equal(t, "irrigation", res.Intent)
	assert.Equal(t, []string{"irrigat", "drip line"}, res.Matched)

	// Without the stem marker the same keyword needs a whole word.
	c = New([]Rule{{Name: "irrigation", Keywords: []string{"irrigat"}}}, nil)
	assert.Equal(t, General, c.Classify("Irrigating banana").Intent)
}
