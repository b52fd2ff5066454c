package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const soapSystemPrompt = `You are a clinical documentation assistant for licensed therapists.
Write a SOAP note from the session transcript you are given.
Respond with a single JSON object with exactly these string fields:
"subjective", "objective", "assessment", "plan".
Use neutral clinical language. Do not invent facts that are not in the transcript.
If the transcript does not support a section, write "Not discussed."`

// ErrEmptyDraft is returned when the model response has no usable SOAP content.
var ErrEmptyDraft = errors.New("notes: model returned an empty SOAP note")

// SOAPNote is a structured clinical note.
type SOAPNote struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

// Format renders the note as stored in session notes.
func (n SOAPNote) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "S: %s\n", n.Subjective)
	fmt.Fprintf(&b, "O: %s\n", n.Objective)
	fmt.Fprintf(&b, "A: %s\n", n.Assessment)
	fmt.Fprintf(&b, "P: %s", n.Plan)
	return b.String()
}

func (n SOAPNote) empty() bool {
	return strings.TrimSpace(n.Subjective+n.Objective+n.Assessment+n.Plan) == ""
}

// ParseSOAP extracts a SOAPNote from model output, tolerating code fences and
// prose around the JSON object.
func ParseSOAP(text string) (SOAPNote, error) {
	raw := strings.TrimSpace(text)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return SOAPNote{}, fmt.Errorf("notes: no JSON object in model output")
	}

	var note SOAPNote
	if err := json.Unmarshal([]byte(raw[start:end+1]), &note); err != nil {
		return SOAPNote{}, fmt.Errorf("notes: decode SOAP JSON: %w", err)
	}
	note.Subjective = strings.TrimSpace(note.Subjective)
	note.Objective = strings.TrimSpace(note.Objective)
	note.Assessment = strings.TrimSpace(note.Assessment)
	note.Plan = strings.TrimSpace(note.Plan)
	if note.empty() {
		return SOAPNote{}, ErrEmptyDraft
	}
	return note, nil
}

// Drafter turns transcripts into SOAP notes with an LLM.
type Drafter struct {
	llm   LLMClient
	model string
}

func NewDrafter(llm LLMClient, model string) *Drafter {
	if llm == nil {
		panic("notes: llm client required")
	}
	return &Drafter{llm: llm, model: model}
}

// Model is the model id recorded in the audit trail.
func (d *Drafter) Model() string { return d.model }

func (d *Drafter) Draft(ctx context.Context, transcript string) (SOAPNote, error) {
	resp, err := d.llm.Complete(ctx, LLMRequest{
		Model:       d.model,
		System:      soapSystemPrompt,
		Prompt:      "Session transcript:\n\n" + transcript,
		MaxTokens:   2048,
		Temperature: 0.2,
		JSON:        true,
	})
	if err != nil {
		return SOAPNote{}, fmt.Errorf("notes: draft SOAP: %w", err)
	}
	return ParseSOAP(resp.Text)
}
