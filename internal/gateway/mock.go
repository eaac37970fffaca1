package gateway

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"path/filepath"
	"strings"

	"callsight/internal/record"
)

// MockDim is the embedding dimension the mock produces.
const MockDim = 64

// Mock is a deterministic offline gateway for demos and tests. Infer returns
// schema-compliant JSON derived from the prompt text, Embed returns a
// normalized bag-of-words vector, and Transcribe echoes a canned transcript.
type Mock struct {
	// FailSubstring, when non-empty, makes Infer fail with a ServiceError for
	// any prompt containing it. Used to exercise failure isolation.
	FailSubstring string
}

// Transcribe returns a canned transcript naming the source file.
func (m *Mock) Transcribe(ctx context.Context, audioPath string) (Transcription, error) {
	name := filepath.Base(audioPath)
	text := fmt.Sprintf("Mock transcript for %s: the customer asks about billing and requests a refund for last month.", name)
	return Transcription{Text: text, Language: "en"}, nil
}

// Infer returns deterministic valid JSON for the stage kind.
func (m *Mock) Infer(ctx context.Context, kind record.Kind, prompt string) (string, error) {
	if m.FailSubstring != "" && strings.Contains(prompt, m.FailSubstring) {
		return "", &TransportError{Kind: ServiceError, Status: 503, Msg: "mock failure"}
	}

	negative := strings.Contains(strings.ToLower(prompt), "refund") ||
		strings.Contains(strings.ToLower(prompt), "complaint")

	switch kind {
	case record.KindSentiment:
		overall, score := record.SentimentNeutral, 0.1
		if negative {
			overall, score = record.SentimentNegative, -0.6
		}
		return fmt.Sprintf(`{"overall":%q,"score":%.1f,"emotion_tags":["frustration"],"sentiment_timeline":[],"notes":"mock"}`, overall, score), nil
	case record.KindIntentTopics:
		return `{"primary_intent":"billing_question","secondary_intents":["refund_request"],"topics":["billing","refund"],"key_phrases":["refund for last month"],"intent_confidence":0.8,"notes":"mock"}`, nil
	case record.KindQuality:
		return `{"overall_quality_score":72,"scores":{"greeting":80,"listening_and_empathy":70,"clarity_of_explanations":75,"professionalism":78,"script_adherence":60},"strengths":["clear greeting"],"improvements":["confirm resolution"],"notes":"mock"}`, nil
	case record.KindComplianceRisk:
		return `{"required_phrases_present":[],"missing_required_phrases":[],"forbidden_phrases_detected":[],"pii_detected":[],"risk_level":"low","notes":"mock"}`, nil
	case record.KindOutcomeFollowup:
		return `{"resolution_status":"partially_resolved","final_outcome":"refund request logged","followup_actions":[{"description":"process refund","owner":"backoffice"}],"escalation_required":false,"notes":"mock"}`, nil
	}
	return "", &TransportError{Kind: ServiceError, Msg: "unknown stage kind"}
}

// Embed hashes tokens into a fixed-dimension bag-of-words vector and
// normalizes it, so texts sharing vocabulary land close in cosine space.
func (m *Mock) Embed(ctx context.Context, text string) ([]float64, error) {
	vec := make([]float64, MockDim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,!?:;\"'()")
		if tok == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%MockDim]++
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}
