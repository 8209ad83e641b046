package content

import (
	"context"
	"fmt"
	"strings"

	"chirpd/internal/domain"
)

// companyRule flags a draft that attributes a product to the wrong company.
type companyRule struct {
	all    []string
	unless string
	reason string
}

// companyRules are cheap deterministic checks run before any model call.
var companyRules = []companyRule{
	{all: []string{"claude", "openai"}, unless: "anthropic", reason: "Claude is made by Anthropic, not OpenAI"},
	{all: []string{"grok", "google"}, unless: "xai", reason: "Grok is made by xAI, not Google"},
	{all: []string{"chatgpt", "anthropic"}, reason: "ChatGPT is made by OpenAI, not Anthropic"},
	{all: []string{"gemini", "openai"}, reason: "Gemini is made by Google, not OpenAI"},
}

// fabricationSignals are phrasings that assert a news event happened. A
// draft using one must be backed by a real headline.
var fabricationSignals = []string{
	"just announced", "just revealed", "just confirmed", "just dropped",
	"just released", "breaking:", "just reported",
}

// ruleCheck applies the deterministic checks. ok=true with an empty signal
// means the draft is a plain opinion needing no verification.
func ruleCheck(text string) (ok bool, signal, reason string) {
	lower := strings.ToLower(text)

	for _, r := range companyRules {
		hit := true
		for _, w := range r.all {
			if !strings.Contains(lower, w) {
				hit = false
				break
			}
		}
		if hit && (r.unless == "" || !strings.Contains(lower, r.unless)) {
			return false, "", r.reason
		}
	}

	for _, sig := range fabricationSignals {
		if strings.Contains(lower, sig) {
			return true, sig, ""
		}
	}
	return true, "", ""
}

// factCheck gates a draft before posting. Deterministic rules run first;
// drafts that claim a news event are then verified against real headlines
// by the cheap model. When verification itself fails (rate limit etc) the
// draft passes; blocking all posting on a checker outage is worse than an
// occasional unverified take.
func (g *Generator) factCheck(ctx context.Context, text string, news []domain.Headline) (bool, string) {
	ok, signal, reason := ruleCheck(text)
	if !ok {
		return false, reason
	}
	if signal == "" {
		return true, "opinion/observation"
	}

	if len(news) == 0 {
		return false, fmt.Sprintf("claims %q but no headlines to verify", signal)
	}

	var titles strings.Builder
	for i, h := range news {
		if i == 15 {
			break
		}
		titles.WriteString("- " + h.Title + "\n")
	}

	prompt := fmt.Sprintf(`Does this tweet claim match any of the real headlines below?

Tweet: %q

Real headlines:
%s
If the tweet specific claim is supported by a headline, say PASS.
If the tweet claims something NOT in any headline, say FAIL.

Answer PASS or FAIL on line 1, reason on line 2.`, text, titles.String())

	// The cheap model is enough for a PASS/FAIL verdict.
	result, err := g.chatOnce(ctx, g.fallbackModel, []chatMessage{{Role: "user", Content: prompt}}, 100, 0.1)
	if err != nil {
		g.log.Warn().Err(err).Msg("fact check unavailable, letting draft through")
		return true, "fact-check unavailable"
	}

	verdict, detail, _ := strings.Cut(result, "\n")
	if strings.Contains(strings.ToUpper(verdict), "PASS") {
		return true, strings.TrimSpace(detail)
	}
	return false, strings.TrimSpace(detail)
}
