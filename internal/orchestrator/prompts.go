package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"callsight/internal/config"
	"callsight/internal/record"
)

// Strict-JSON preamble shared by every stage prompt.
const promptPreamble = `You are an AI assistant that analyzes customer support and sales calls.

CRITICAL INSTRUCTIONS:
- You ALWAYS respond with a single valid JSON object.
- Do NOT include any explanations, markdown, backticks, or surrounding text.
- Do NOT include trailing commas.
- If you are unsure about a value, use null or an empty list [] as appropriate.
- Follow exactly the field names, types, and allowed values described below.`

var stageInstructions = map[record.Kind]string{
	record.KindSentiment: `You are performing SENTIMENT AND EMOTION ANALYSIS for a single customer call.

Respond with a SINGLE valid JSON object with exactly these fields:
- overall: one of "positive", "neutral", "negative"
- score: a number between -1.0 and 1.0, or null
- emotion_tags: an array of 1-5 high-level emotions like "frustration", "relief"
- sentiment_timeline: an array (possibly empty) of objects, each with:
    - segment_label: string (e.g. "intro", "problem_explained", "resolution")
    - start_second: number or null
    - end_second: number or null
    - sentiment: one of "positive", "neutral", "negative"
    - notes: string or null
- notes: 1-3 sentences summarizing the emotional journey, or null

"overall" reflects the entire call from the customer's perspective.`,

	record.KindIntentTopics: `You are performing INTENT AND TOPICS ANALYSIS for a single customer call.

Respond with a SINGLE valid JSON object with exactly these fields:
- primary_intent: short snake_case string, e.g. "reschedule_appointment", or null
- secondary_intents: array of strings
- topics: array of key topics discussed
- key_phrases: array of important phrases mentioned
- intent_confidence: number between 0.0 and 1.0, or null
- notes: string or null`,

	record.KindQuality: `You are performing CALL QUALITY AND AGENT PERFORMANCE ANALYSIS for a single customer call.

Respond with a SINGLE valid JSON object with exactly these fields:
- overall_quality_score: integer between 0 and 100, or null
- scores: an object with optional integer fields (0-100 or null):
    greeting, listening_and_empathy, clarity_of_explanations, professionalism, script_adherence
- strengths: 2-5 concrete points about what the agent did well
- improvements: 2-5 specific, actionable suggestions
- notes: string or null

Score bands: 0-39 poor, 40-59 fair, 60-79 good, 80-100 excellent.
"overall_quality_score" is NOT a simple average; judge the whole call.`,

	record.KindComplianceRisk: `You are performing COMPLIANCE AND RISK ANALYSIS for a single customer call.

Respond with a SINGLE valid JSON object with exactly these fields:
- required_phrases_present: array of strings
- missing_required_phrases: array of strings
- forbidden_phrases_detected: array of strings
- pii_detected: array of objects, each with:
    - type: string (e.g. "phone_number", "email", "card_number", "address")
    - original_value: string or null
    - masked_value: string or null (partially hidden, e.g. "+9715XXXXXXX")
- risk_level: one of "low", "medium", "high", "critical"
- notes: 1-3 sentences explaining the risk level, or null

Report required and forbidden phrases using the exact phrase from the lists
below, even when the call used a close paraphrase.
REQUIRED_PHRASES (JSON): %s
FORBIDDEN_PHRASES (JSON): %s

risk_level guidance: "low" no significant issues; "medium" minor gaps or light
PII exposure; "high" missing required phrases, forbidden phrases, or sensitive
PII; "critical" severe breach or potential legal exposure.`,

	record.KindOutcomeFollowup: `You are performing OUTCOME AND FOLLOW-UP ANALYSIS for a single customer call.

Respond with a SINGLE valid JSON object with exactly these fields:
- resolution_status: one of "resolved", "partially_resolved", "unresolved"
- final_outcome: short description of how the call ended, or null
- followup_actions: array of objects, each with:
    - description: string
    - owner: string or null (e.g. "agent", "customer", "backoffice")
    - due_date: "YYYY-MM-DD" string or null
- escalation_required: true or false
- escalation_reason: string or null
- notes: string or null`,
}

// BuildPrompt assembles the full stage prompt: preamble, stage instructions,
// call metadata, transcript, and an optional rejection diagnostic from a
// previous attempt to steer the model toward compliant output.
func BuildPrompt(kind record.Kind, rec *record.CallRecord, compliance config.ComplianceConfig, diagnostic string) string {
	instructions := stageInstructions[kind]
	if kind == record.KindComplianceRisk {
		required, _ := json.Marshal(compliance.RequiredPhrases)
		forbidden, _ := json.Marshal(compliance.ForbiddenPhrases)
		instructions = fmt.Sprintf(instructions, string(required), string(forbidden))
	}

	metaJSON, _ := json.Marshal(rec.Metadata)

	var b strings.Builder
	b.WriteString(promptPreamble)
	b.WriteString("\n\n")
	b.WriteString(instructions)
	if diagnostic != "" {
		b.WriteString("\n\nYour previous response was REJECTED for this reason:\n")
		b.WriteString(diagnostic)
		b.WriteString("\nProduce a corrected JSON object that satisfies the schema exactly.")
	}
	b.WriteString("\n\nCall metadata (JSON):\n")
	b.Write(metaJSON)
	b.WriteString("\n\nTranscript:\n\"\"\"")
	b.WriteString(rec.Transcript.Text)
	b.WriteString("\"\"\"")
	return b.String()
}
