package serving

import "inferd/pkg/types"

// EstimateTokens deterministically approximates the token count of text from
// its characters: CJK ideographs count as half a token, everything else as a
// quarter, with a floor of one.
func EstimateTokens(text string) int {
	if text == "" {
		return 1
	}
	var cjk, other int
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FFF {
			cjk++
		} else {
			other++
		}
	}
	n := int(float64(cjk)/2 + float64(other)/4)
	if n < 1 {
		n = 1
	}
	return n
}

// estimateUsage builds token accounting for a prompt/completion pair.
func estimateUsage(prompt, completion string) types.Usage {
	p := EstimateTokens(prompt)
	c := EstimateTokens(completion)
	return types.Usage{PromptTokens: p, CompletionTokens: c, TotalTokens: p + c}
}
