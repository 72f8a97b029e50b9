package conversation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/wolfman30/sdr-agent-platform/internal/leads"
	"github.com/wolfman30/sdr-agent-platform/internal/tenancy"
)

// Prompt section headings. The sanitizer strips them from lead text and the
// parser strips them from model output.
const (
	sectionPersona    = "[AGENT PERSONA]"
	sectionKnown      = "[ALREADY KNOWN ABOUT THE LEAD]"
	sectionHistory    = "[CONVERSATION SO FAR]"
	sectionInbound    = "[NEW MESSAGE FROM THE LEAD]"
	sectionExtraction = "[LEAD DATA EXTRACTION]"
)

var sectionMarkerRe = regexp.MustCompile(`(?i)\[\s*(agent persona|already known about the lead|conversation so far|new message from the lead|lead data extraction)\s*\]`)

// extractionDirective is appended to every prompt.
const extractionDirective = sectionExtraction + `
Hold a natural conversation and ask at most one question per message.
While talking, try to learn the lead's name, company, role, main challenge, budget and urgency.
Never ask again for anything listed as already known.
After your reply, append exactly one fenced JSON block with exactly these keys:
` + "```json" + `
{"name": null, "company": null, "role": null, "challenge": null, "budget": null, "urgency": null}
` + "```" + `
Fill a key only with information the lead actually gave, and use null for anything unknown.
Always include the block, even when every value is null. Write nothing after the block.`

// PromptInput is everything the composer needs for one turn.
type PromptInput struct {
	TenantName      string
	Persona         tenancy.Persona
	Known           leads.LeadData
	History         []leads.Message
	LeadDisplayName string
	Inbound         string
}

// Composer renders prompts. It is stateless.
type Composer struct{}

// Compose renders the full instruction text for one turn. It has no
// hidden inputs: identical inputs always yield identical text.
func (Composer) Compose(in PromptInput) string {
	var b strings.Builder

	writePersona(&b, in)

	if !in.Known.IsEmpty() {
		b.WriteString("\n\n")
		b.WriteString(sectionKnown)
		b.WriteString("\n")
		for _, key := range in.Known.Keys() {
			fmt.Fprintf(&b, "- %s: %s\n", key, oneLine(in.Known.Get(key)))
		}
		b.WriteString("Do not ask for these again.")
	}

	if history := formatHistory(in.History); history != "" {
		b.WriteString("\n\n")
		b.WriteString(sectionHistory)
		b.WriteString("\n")
		b.WriteString(history)
	}

	b.WriteString("\n\n")
	b.WriteString(sectionInbound)
	b.WriteString("\n")
	if name := oneLine(in.LeadDisplayName); name != "" {
		fmt.Fprintf(&b, "(WhatsApp profile name: %s, not confirmed by the lead)\n", name)
	}
	b.WriteString(strings.TrimSpace(in.Inbound))

	b.WriteString("\n\n")
	b.WriteString(extractionDirective)
	return b.String()
}

func writePersona(b *strings.Builder, in PromptInput) {
	tenantName := strings.TrimSpace(in.TenantName)
	p := in.Persona

	b.WriteString(sectionPersona)
	b.WriteString("\n")
	if !p.IsCustom() {
		fmt.Fprintf(b, "You are a friendly sales development representative for %s, talking to a potential customer on WhatsApp.\n", tenantName)
		b.WriteString("Your goal is to understand the lead's business, their main challenge and how ready they are to buy, then offer a meeting with the team.\n")
		b.WriteString("Keep replies short (two to four sentences), warm, and in the language the lead writes in.")
	} else {
		if sys := strings.TrimSpace(p.SystemPrompt); sys != "" {
			b.WriteString(sys)
			b.WriteString("\n")
		}
		agent := strings.TrimSpace(p.AgentName)
		if agent == "" {
			agent = "the sales assistant"
		}
		fmt.Fprintf(b, "You are %s, representing %s on WhatsApp.", agent, tenantName)
		if personality := strings.TrimSpace(p.Personality); personality != "" {
			fmt.Fprintf(b, "\nPersonality: %s", personality)
		}
		var questions []string
		for _, q := range p.QualificationQuestions {
			if q = strings.TrimSpace(q); q != "" {
				questions = append(questions, q)
			}
		}
		if len(questions) > 0 {
			b.WriteString("\nQuestions to cover naturally over the conversation:")
			for i, q := range questions {
				fmt.Fprintf(b, "\n%d. %s", i+1, q)
			}
		}
		if criteria := strings.TrimSpace(p.QualificationCriteria); criteria != "" {
			fmt.Fprintf(b, "\nA lead is qualified when: %s", criteria)
		}
		if closing := strings.TrimSpace(p.ClosingMessage); closing != "" {
			fmt.Fprintf(b, "\nOnce the lead is qualified, close with: %s", closing)
		}
	}
	if welcome := strings.TrimSpace(p.WelcomeMessage); welcome != "" && len(in.History) == 0 {
		fmt.Fprintf(b, "\nThis is the first contact with this lead. Open with: %s", welcome)
	}
}

func formatHistory(history []leads.Message) string {
	var lines []string
	for _, msg := range history {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		switch msg.Role {
		case leads.RoleUser:
			lines = append(lines, "Lead: "+SanitizeForLLM(content))
		case leads.RoleAssistant:
			lines = append(lines, "Agent: "+content)
		}
	}
	return strings.Join(lines, "\n")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
