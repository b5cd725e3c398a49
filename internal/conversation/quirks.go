package conversation

import "strings"

// Some model families reject a custom sampling temperature outright, and some
// cap output tokens well below what we'd ask for. Shaping happens once, right
// before the provider call; it is never a retry trigger.

// temperatureRejectingFamilies lists model-id prefixes that fail the request
// when temperature is set.
var temperatureRejectingFamilies = []string{
	"openai.gpt-oss",
	"amazon.nova-micro",
}

// maxTokenCaps lists model-id prefixes with a hard output-token ceiling.
var maxTokenCaps = map[string]int32{
	"amazon.nova-micro": 4096,
	"amazon.titan-text": 3000,
}

// applyModelQuirks adjusts a request for provider-specific capability quirks.
// A negative temperature means "omit"; the Bedrock client honors that.
func applyModelQuirks(req *LLMRequest) {
	model := strings.ToLower(req.Model)

	for _, family := range temperatureRejectingFamilies {
		if strings.HasPrefix(model, family) {
			req.Temperature = -1
			break
		}
	}

	for family, cap := range maxTokenCaps {
		if strings.HasPrefix(model, family) && req.MaxTokens > cap {
			req.MaxTokens = cap
			break
		}
	}
}
