package conversation

import (
	"regexp"
	"strings"
)

// GuardResult is the advisory outcome of scanning an inbound message. It never
// blocks the conversation; the engine logs suspicious messages and uses
// Sanitized in the prompt.
type GuardResult struct {
	// Suspicious is true when the score crosses the warn threshold.
	Suspicious bool
	// Score is a rough heuristic risk score (0.0 = safe, 1.0 = almost surely injection).
	Score float64
	// Reasons lists the detection signals that fired.
	Reasons []string
	// Sanitized is the message with instruction-like delimiters neutralized.
	Sanitized string
}

type promptGuardPattern struct {
	re     *regexp.Regexp
	reason string
	weight float64
}

// warnThreshold: messages scoring at or above this are logged as suspicious.
const warnThreshold = 0.5

var directInjectionPatterns = []promptGuardPattern{
	{regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above|earlier|your)\s+(instructions?|rules?|prompts?|guidelines?|directives?|programming)`), "direct_injection:ignore_instructions", 0.9},
	{regexp.MustCompile(`(?i)(disregard|forget)\s+(all\s+)?(previous|prior|above|earlier|your)\s+(instructions?|rules?|prompts?|guidelines?|directives?)`), "direct_injection:forget_instructions", 0.9},
	{regexp.MustCompile(`(?i)(ignore|esque[cç]a)\s+(todas\s+)?(as\s+)?(instru[cç][oõ]es|regras)\s+(anteriores|acima)`), "direct_injection:ignore_instructions_pt", 0.9},
	{regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|my)\s+`), "direct_injection:role_reassignment", 0.7},
	{regexp.MustCompile(`(?i)new\s+role\s*:|new\s+instructions?\s*:|system\s*prompt\s*:|<<\s*sys(tem)?\s*>>`), "direct_injection:new_role", 0.9},
	{regexp.MustCompile(`(?i)override\s+(your\s+)?(system|instructions?|rules?|safety|guidelines?)`), "direct_injection:override", 0.8},
	{regexp.MustCompile(`(?i)(pretend|imagine|suppose|assume)\s+(that\s+)?(you\s+)?(are|have|were|don'?t\s+have)\s+(no\s+)?(rules?|restrictions?|limits?|guidelines?|filters?)`), "direct_injection:pretend_no_rules", 0.9},
	{regexp.MustCompile(`(?i)jailbreak|DAN\s*mode|developer\s*mode|unrestricted\s*mode`), "direct_injection:jailbreak_keyword", 0.9},
}

var exfiltrationPatterns = []promptGuardPattern{
	{regexp.MustCompile(`(?i)(reveal|show|print|output|repeat|tell\s+me|what\s+(is|are))\s+(your\s+)?(system\s+prompt|instructions?|initial\s+prompt|hidden\s+prompt|system\s+message)`), "exfiltration:system_prompt", 0.8},
	{regexp.MustCompile(`(?i)(list|show|give|tell)\s+(me\s+)?(all\s+)?(the\s+)?(other\s+)?(leads?|customers?|clients?|contacts?)('?s)?\s+(data|info|names?|numbers?|phones?|emails?)`), "exfiltration:lead_data", 0.7},
	{regexp.MustCompile(`(?i)\b(api|secret|openai|gemini|aws|database|db)\s*(key|token|secret|password|credential)s?\b`), "exfiltration:credentials_keyword", 0.7},
	{regexp.MustCompile(`(?i)repeat\s+(everything|all|the\s+text)\s+(above|before|from\s+the\s+(start|beginning))`), "exfiltration:repeat_above", 0.7},
}

var obfuscationPatterns = []promptGuardPattern{
	{regexp.MustCompile(`(?i)base64\s*(encode|decode|:)|\\x[0-9a-fA-F]{2}`), "obfuscation:encoding", 0.4},
	{regexp.MustCompile(`!\[.*\]\(https?://`), "obfuscation:markdown_image", 0.4},
	{regexp.MustCompile(`(?i)<\s*(script|img|iframe|object|embed|link|style|svg|form)\b`), "obfuscation:html_injection", 0.6},
}

var contextManipulationPatterns = []promptGuardPattern{
	{regexp.MustCompile(`(?i)(end\s+of\s+)?(system|assistant)\s*(message|prompt|instructions?)\s*[\-=]{2,}`), "context_manipulation:fake_boundary", 0.8},
	{regexp.MustCompile(`(?i)\[/?INST\]|\[/?SYS\]|<\|im_start\|>|<\|im_end\|>|<\|system\|>|<\|user\|>|<\|assistant\|>`), "context_manipulation:special_tokens", 0.9},
	{regexp.MustCompile(`(?i)###\s*(system|instruction|human|assistant|user)\s*:`), "context_manipulation:role_markers", 0.7},
	{regexp.MustCompile("```\\s*json"), "context_manipulation:fenced_json", 0.6},
	{regexp.MustCompile(`(?i)(status|qualification)\s*[:=]\s*"?(qualified|scheduled)`), "context_manipulation:status_forgery", 0.6},
}

var allPromptGuardPatterns []promptGuardPattern

func init() {
	allPromptGuardPatterns = make([]promptGuardPattern, 0, len(directInjectionPatterns)+len(exfiltrationPatterns)+len(obfuscationPatterns)+len(contextManipulationPatterns))
	allPromptGuardPatterns = append(allPromptGuardPatterns, directInjectionPatterns...)
	allPromptGuardPatterns = append(allPromptGuardPatterns, exfiltrationPatterns...)
	allPromptGuardPatterns = append(allPromptGuardPatterns, obfuscationPatterns...)
	allPromptGuardPatterns = append(allPromptGuardPatterns, contextManipulationPatterns...)
}

// ScanInbound scores a lead's message for prompt injection and returns a
// sanitized copy for the prompt.
func ScanInbound(message string) GuardResult {
	if strings.TrimSpace(message) == "" {
		return GuardResult{Sanitized: strings.TrimSpace(message)}
	}

	var reasons []string
	maxWeight := 0.0
	for _, p := range allPromptGuardPatterns {
		if p.re.MatchString(message) {
			reasons = append(reasons, p.reason)
			if p.weight > maxWeight {
				maxWeight = p.weight
			}
		}
	}

	// Multiple signals compound: add 0.1 per additional signal, capped at 1.0.
	score := maxWeight
	if len(reasons) > 1 {
		score = maxWeight + float64(len(reasons)-1)*0.1
		if score > 1.0 {
			score = 1.0
		}
	}

	return GuardResult{
		Suspicious: score >= warnThreshold,
		Score:      score,
		Reasons:    reasons,
		Sanitized:  SanitizeForLLM(message),
	}
}

var (
	specialTokenRe = regexp.MustCompile(`(?i)\[/?INST\]|\[/?SYS\]|<\|im_start\|>|<\|im_end\|>|<\|system\|>|<\|user\|>|<\|assistant\|>|<<\s*/?sys(tem)?\s*>>`)
	roleMarkerRe   = regexp.MustCompile(`(?i)###\s*(system|instruction|human|assistant|user)\s*:`)
	htmlTagRe      = regexp.MustCompile(`(?i)<\s*/?\s*(script|img|iframe|object|embed|link|style|svg|form)\b[^>]*>`)
	markdownImgRe  = regexp.MustCompile(`!\[.*?\]\(https?://[^)]+\)`)
	sectionRuleRe  = regexp.MustCompile(`(?m)^\s*(={3,}|-{3,})\s*$`)
)

// SanitizeForLLM neutralizes delimiters a lead could use to fake prompt
// structure while keeping the words themselves. Code fences become ”' so a
// lead cannot smuggle a fenced JSON block into the extraction channel.
func SanitizeForLLM(message string) string {
	cleaned := specialTokenRe.ReplaceAllString(message, "")
	cleaned = roleMarkerRe.ReplaceAllString(cleaned, "")
	cleaned = htmlTagRe.ReplaceAllString(cleaned, "")
	cleaned = markdownImgRe.ReplaceAllString(cleaned, "")
	cleaned = strings.ReplaceAll(cleaned, "```", "'''")
	cleaned = sectionRuleRe.ReplaceAllString(cleaned, "")
	cleaned = sectionMarkerRe.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}
