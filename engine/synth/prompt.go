package synth

import (
	"fmt"
	"strings"

	"github.com/WessleyAI/crisis-mvp/engine/domain"
)

// Fallback evidence text when a modality produced nothing.
const (
	NoTextEvidence  = "NO RELEVANT DATA FOUND IN DATABASE."
	NoImageEvidence = "No relevant images found."
)

const assistantRole = "You are a Disaster Response Assistant supporting field responders."

// Instructions are the fixed safety rules appended to every prompt. They are a
// prompt-level mitigation; nothing enforces them on the model's output.
var Instructions = []string{
	"Use BOTH the text logs and the visual evidence to answer, and cite the evidence ids you rely on in square brackets.",
	"If the text logs say '" + NoTextEvidence + "', tell the user you have no specific local logs on this, then give helpful GENERAL safety advice from your own knowledge.",
	"If an image was found but no text was found, describe the image to the user as your primary evidence.",
	"If the user asks for a photo and none is found, state that no visual evidence is available. Never invent photos, locations, times or casualty figures that are not in the evidence.",
	"Be professional and concise.",
}

// BuildPrompt renders the evidence, the fixed instructions and the question.
// Conversation history is passed to the model separately.
func BuildPrompt(question string, ev domain.EvidenceBundle) string {
	var b strings.Builder
	b.WriteString(assistantRole)
	b.WriteString("\n\nPAST TEXT LOGS:\n")
	b.WriteString(textContext(ev))
	b.WriteString("\n\nVISUAL EVIDENCE FOUND:\n")
	b.WriteString(visualContext(ev))
	if ev.Degraded() {
		fmt.Fprintf(&b, "\n\nNOTE: the %s search was unavailable; evidence for it may be missing.", joinModalities(ev.Failed))
	}
	b.WriteString("\n\nINSTRUCTIONS:\n")
	for i, ins := range Instructions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, ins)
	}
	b.WriteString("\nUSER QUESTION: ")
	b.WriteString(strings.TrimSpace(question))
	return b.String()
}

func textContext(ev domain.EvidenceBundle) string {
	if len(ev.Text) == 0 {
		return NoTextEvidence
	}
	lines := make([]string, len(ev.Text))
	for i, m := range ev.Text {
		var meta []string
		if m.Record.SourceTimestamp != nil {
			meta = append(meta, m.Record.SourceTimestamp.Format("2006-01-02 15:04 MST"))
		}
		if m.Record.Location != "" {
			meta = append(meta, m.Record.Location)
		}
		meta = append(meta, fmt.Sprintf("score %.2f", m.Score))
		lines[i] = fmt.Sprintf("[%s] (%s) %s", m.Record.ID, strings.Join(meta, ", "), m.Record.Text)
	}
	return strings.Join(lines, "\n")
}

func visualContext(ev domain.EvidenceBundle) string {
	if len(ev.Images) == 0 {
		return NoImageEvidence
	}
	lines := make([]string, len(ev.Images))
	for i, m := range ev.Images {
		desc := m.Record.Caption
		if desc == "" {
			desc = m.Record.ID
		}
		lines[i] = fmt.Sprintf("[%s] A relevant image was found showing: %s (score %.2f)", m.Record.ID, desc, m.Score)
	}
	return strings.Join(lines, "\n")
}

func joinModalities(ms []domain.Modality) string {
	s := make([]string, len(ms))
	for i, m := range ms {
		s[i] = string(m)
	}
	return strings.Join(s, " and ")
}

// Citations lists every evidence record placed in the prompt, text first.
func Citations(ev domain.EvidenceBundle) []domain.Citation {
	out := make([]domain.Citation, 0, len(ev.Text)+len(ev.Images))
	for _, m := range ev.Text {
		out = append(out, domain.Citation{Modality: domain.ModalityText, ID: m.Record.ID, Score: m.Score})
	}
	for _, m := range ev.Images {
		out = append(out, domain.Citation{Modality: domain.ModalityImage, ID: m.Record.ID, Score: m.Score})
	}
	return out
}
