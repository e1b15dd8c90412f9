package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"inferd/pkg/types"
)

// Fingerprint returns the deterministic digest identifying a cacheable
// request. Two requests with the same model, normalized prompt, and sampling
// parameters always share a fingerprint; changing any of those fields changes
// it. Fields are NUL-separated before hashing so adjacent values cannot
// collide by concatenation.
func Fingerprint(modelID, prompt string, params types.GenerateParams) string {
	h := sha256.New()
	sep := []byte{0}
	write := func(s string) {
		h.Write([]byte(s))
		h.Write(sep)
	}
	write(modelID)
	write(normalizePrompt(prompt))
	write(strconv.Itoa(params.MaxTokens))
	write(strconv.FormatFloat(params.Temperature, 'g', -1, 64))
	write(strconv.FormatFloat(params.TopP, 'g', -1, 64))
	write(strconv.Itoa(params.TopK))
	write(strconv.FormatInt(params.Seed, 10))
	write(strconv.FormatFloat(params.RepeatPenalty, 'g', -1, 64))
	for _, stop := range params.Stop {
		write(stop)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// normalizePrompt trims surrounding whitespace so trivially re-padded prompts
// hit the same entry. Interior whitespace is significant and preserved.
func normalizePrompt(p string) string {
	return strings.TrimSpace(p)
}
