package conversation

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/wolfman30/sdr-agent-platform/internal/leads"
)

// ParseKind tags how much structure was recovered from a completion.
type ParseKind string

const (
	// ParseOK means a JSON object was recovered, even one with only null values.
	ParseOK ParseKind = "ok"
	// ParseDegraded means no usable JSON was found; the reply text is still usable.
	ParseDegraded ParseKind = "degraded"
)

// ParseResult is the outcome of splitting a completion into reply and fields.
type ParseResult struct {
	Kind ParseKind
	// Source is "fenced", "loose" or empty when degraded.
	Source string
	Reply  string
	Fields map[string]string
}

var (
	fencedBlockRe  = regexp.MustCompile("(?s)```[a-zA-Z]*[ \\t]*\\r?\\n?\\s*(\\{.*?\\})\\s*```")
	fencedStripRe  = regexp.MustCompile("(?s)```[a-zA-Z]*[ \\t]*\\r?\\n?\\s*\\{.*?```")
	objectFragRe   = regexp.MustCompile(`(?s)\{[^{}]*\}`)
	nameKeyRe      = regexp.MustCompile(`(?i)"(name|nome|lead_name)"\s*:`)
	jsonFenceOpen  = regexp.MustCompile("(?i)```json|```[ \\t]*\\r?\\n?\\s*\\{")
	manyNewlinesRe = regexp.MustCompile(`\n{3,}`)
	speakerPrefix  = regexp.MustCompile(`(?i)^\s*(agent|assistant|agente|assistente)\s*:\s*`)
)

// echoPhrases identify lines copied from the extraction directive.
var echoPhrases = []string{
	"fenced json block",
	"exactly these keys",
	"use null for anything unknown",
	"write nothing after the block",
	"always include the block",
}

// fieldAliasOrder lists the accepted key spellings per core lead attribute.
// When several spellings of one attribute are present, the earliest wins.
var fieldAliasOrder = map[string][]string{
	leads.FieldName:      {"name", "nome", "lead_name", "full_name"},
	leads.FieldCompany:   {"company", "empresa", "company_name"},
	leads.FieldRole:      {"role", "cargo", "job_title"},
	leads.FieldChallenge: {"challenge", "desafio", "interesse", "pain"},
	leads.FieldBudget:    {"budget", "orcamento"},
	leads.FieldUrgency:   {"urgency", "urgencia", "prazo"},
}

type fieldAlias struct {
	core string
	rank int
}

// fieldAliases maps folded key spellings to core lead attributes.
var fieldAliases = func() map[string]fieldAlias {
	out := make(map[string]fieldAlias)
	for core, spellings := range fieldAliasOrder {
		for rank, spelling := range spellings {
			out[spelling] = fieldAlias{core: core, rank: rank}
		}
	}
	return out
}()

// ParseFencedJSON returns the first fenced block that decodes as a JSON object.
func ParseFencedJSON(raw string) (map[string]any, bool) {
	for _, m := range fencedBlockRe.FindAllStringSubmatch(raw, -1) {
		var obj map[string]any
		if err := json.Unmarshal([]byte(m[1]), &obj); err == nil {
			return obj, true
		}
	}
	return nil, false
}

// ParseLooseJSON looks for a closed object-shaped fragment with a name-like
// key anywhere in raw. Only fragments that decode as a whole are accepted;
// truncated or malformed objects yield nothing.
func ParseLooseJSON(raw string) (map[string]any, bool) {
	for _, frag := range objectFragRe.FindAllString(raw, -1) {
		if !nameKeyRe.MatchString(frag) {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(frag), &obj); err == nil {
			return obj, true
		}
	}
	return nil, false
}

// unterminatedObject returns the text from the last '{' when no '}' follows it
// and the tail looks like leaked lead JSON.
func unterminatedObject(raw string) (string, bool) {
	open := strings.LastIndexByte(raw, '{')
	if open < 0 || strings.IndexByte(raw[open:], '}') >= 0 {
		return "", false
	}
	tail := raw[open:]
	return tail, nameKeyRe.MatchString(tail)
}

// Parser turns a raw completion into a ParseResult. It never fails.
type Parser struct {
	fallbackReply string
}

const defaultFallbackReply = "Thanks for your message! Could you tell me a little more about what you need?"

// NewParser returns a parser that substitutes fallbackReply for an empty reply.
func NewParser(fallbackReply string) *Parser {
	fallbackReply = strings.TrimSpace(fallbackReply)
	if fallbackReply == "" {
		fallbackReply = defaultFallbackReply
	}
	return &Parser{fallbackReply: fallbackReply}
}

// Parse splits raw into the reply for the lead and the extracted fields.
func (p *Parser) Parse(raw string) ParseResult {
	result := ParseResult{Kind: ParseDegraded, Fields: map[string]string{}}

	if obj, ok := ParseFencedJSON(raw); ok {
		result.Kind, result.Source = ParseOK, "fenced"
		result.Fields = NormalizeFields(obj)
	} else if obj, ok := ParseLooseJSON(raw); ok {
		result.Kind, result.Source = ParseOK, "loose"
		result.Fields = NormalizeFields(obj)
	}

	result.Reply = p.cleanReply(raw)
	return result
}

func (p *Parser) cleanReply(raw string) string {
	reply := fencedStripRe.ReplaceAllString(raw, "")
	// A JSON fence left open by a cut-off completion runs to the end of the text.
	if loc := jsonFenceOpen.FindStringIndex(reply); loc != nil && !strings.Contains(reply[loc[1]:], "```") {
		reply = reply[:loc[0]]
	}
	for _, frag := range objectFragRe.FindAllString(reply, -1) {
		if nameKeyRe.MatchString(frag) {
			reply = strings.Replace(reply, frag, "", 1)
		}
	}
	if tail, ok := unterminatedObject(reply); ok {
		reply = strings.TrimSuffix(reply, tail)
	}

	lines := strings.Split(strings.ReplaceAll(reply, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if isEchoLine(line) {
			continue
		}
		kept = append(kept, strings.TrimRight(line, " \t"))
	}
	reply = strings.Join(kept, "\n")
	reply = speakerPrefix.ReplaceAllString(reply, "")
	reply = manyNewlinesRe.ReplaceAllString(reply, "\n\n")
	reply = strings.TrimSpace(reply)

	if reply == "" {
		return p.fallbackReply
	}
	return reply
}

func isEchoLine(line string) bool {
	if sectionMarkerRe.MatchString(line) {
		return true
	}
	lower := strings.ToLower(line)
	for _, phrase := range echoPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// NormalizeFields maps aliases to core keys and drops null, "null" and empty
// values. Non-scalar values are ignored. When one attribute arrives under
// several spellings, the order in fieldAliasOrder decides which is kept.
func NormalizeFields(obj map[string]any) map[string]string {
	type candidate struct {
		rank  int
		raw   string
		value string
	}
	best := make(map[string]candidate, len(obj))
	for rawKey, rawValue := range obj {
		value, ok := scalarString(rawValue)
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" || strings.EqualFold(value, "null") {
			continue
		}
		key, rank := canonicalKey(rawKey)
		if key == "" {
			continue
		}
		if cur, exists := best[key]; exists && (cur.rank < rank || (cur.rank == rank && cur.raw < rawKey)) {
			continue
		}
		best[key] = candidate{rank: rank, raw: rawKey, value: value}
	}

	out := make(map[string]string, len(best))
	for key, c := range best {
		out[key] = c.value
	}
	return out
}

func canonicalKey(raw string) (string, int) {
	folded := strings.ReplaceAll(leads.FoldText(raw), " ", "_")
	if alias, ok := fieldAliases[folded]; ok {
		return alias.core, alias.rank
	}
	return folded, 0
}

func scalarString(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case json.Number:
		return val.String(), true
	}
	return "", false
}
