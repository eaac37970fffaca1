package validate

import (
	"reflect"
	"strings"
	"testing"

	"callsight/internal/record"
)

func TestValidateSentimentFenced(t *testing.T) {
	raw := "Here is the analysis:\n```json\n" +
		`{"overall": "negative", "score": -0.6, "emotion_tags": ["frustration"], "notes": "customer upset about billing"}` +
		"\n```"

	sec, fail := Validate(record.KindSentiment, raw)
	if fail != nil {
		t.Fatalf("validate: %v", fail)
	}
	if sec.Kind != record.KindSentiment {
		t.Fatalf("kind = %s", sec.Kind)
	}
	if sec.RawOutput != raw {
		t.Fatalf("raw output not preserved verbatim")
	}
	if sec.Sentiment == nil || sec.Sentiment.Overall != record.SentimentNegative {
		t.Fatalf("expected negative sentiment, got %+v", sec.Sentiment)
	}
	if sec.Sentiment.Score == nil || *sec.Sentiment.Score != -0.6 {
		t.Fatalf("score = %v", sec.Sentiment.Score)
	}
	if !sec.AnalyzedAt.IsZero() {
		t.Fatalf("AnalyzedAt must be left for the committer")
	}
}

func TestValidateRejectsUnknownLabel(t *testing.T) {
	raw := `{"overall": "furious", "score": -0.9, "emotion_tags": []}`
	sec, fail := Validate(record.KindSentiment, raw)
	if sec != nil || fail == nil {
		t.Fatalf("expected failure, got section %+v", sec)
	}
	if !strings.Contains(fail.Reason, "furious") {
		t.Fatalf("reason should name the bad label: %s", fail.Reason)
	}
	if fail.Raw != raw {
		t.Fatalf("failure must carry the raw text")
	}
}

func TestValidateRejectsScoreOutOfRange(t *testing.T) {
	raw := `{"overall": "positive", "score": 1.5, "emotion_tags": []}`
	if sec, fail := Validate(record.KindSentiment, raw); fail == nil {
		t.Fatalf("expected failure, got %+v", sec)
	}
}

func TestValidateRejectsUnknownFields(t *testing.T) {
	raw := `{"overall": "positive", "score": 0.5, "emotion_tags": [], "vibe": "good"}`
	_, fail := Validate(record.KindSentiment, raw)
	if fail == nil {
		t.Fatalf("expected unknown field rejection")
	}
}

func TestValidateQualityBounds(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ok   bool
	}{
		{
			name: "valid",
			raw: `{"overall_quality_score": 82,
				"scores": {"greeting": 90, "listening_and_empathy": 78, "clarity_of_explanations": 85, "professionalism": 88, "script_adherence": 70},
				"strengths": ["clear greeting"], "improvements": ["restate next steps"]}`,
			ok: true,
		},
		{
			name: "overall out of range",
			raw:  `{"overall_quality_score": 150, "scores": {"greeting": null, "listening_and_empathy": null, "clarity_of_explanations": null, "professionalism": null, "script_adherence": null}, "strengths": [], "improvements": []}`,
			ok:   false,
		},
		{
			name: "subscore negative",
			raw:  `{"overall_quality_score": 50, "scores": {"greeting": -5, "listening_and_empathy": null, "clarity_of_explanations": null, "professionalism": null, "script_adherence": null}, "strengths": [], "improvements": []}`,
			ok:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sec, fail := Validate(record.KindQuality, tt.raw)
			if tt.ok && fail != nil {
				t.Fatalf("unexpected failure: %v", fail)
			}
			if !tt.ok && fail == nil {
				t.Fatalf("expected failure, got %+v", sec)
			}
		})
	}
}

func TestValidateComplianceRequiresRiskLevel(t *testing.T) {
	raw := `{"required_phrases_present": [], "missing_required_phrases": [], "forbidden_phrases_detected": [], "pii_detected": []}`
	if _, fail := Validate(record.KindComplianceRisk, raw); fail == nil {
		t.Fatalf("expected failure on empty risk_level")
	}

	raw = `{"required_phrases_present": ["recording disclosure"], "missing_required_phrases": [], "forbidden_phrases_detected": [], "pii_detected": [{"type": "phone", "masked_value": "+1-***-1234"}], "risk_level": "medium"}`
	sec, fail := Validate(record.KindComplianceRisk, raw)
	if fail != nil {
		t.Fatalf("validate: %v", fail)
	}
	if sec.Compliance.RiskLevel != record.RiskMedium {
		t.Fatalf("risk_level = %s", sec.Compliance.RiskLevel)
	}
}

func TestValidateOutcomeResolutionStatus(t *testing.T) {
	raw := `{"resolution_status": "partially_resolved", "final_outcome": "refund requested", "followup_actions": [{"description": "process refund", "owner": "billing"}], "escalation_required": true, "escalation_reason": "refund above agent limit"}`
	sec, fail := Validate(record.KindOutcomeFollowup, raw)
	if fail != nil {
		t.Fatalf("validate: %v", fail)
	}
	if sec.Outcome.ResolutionStatus != record.ResolutionPartiallyResolved {
		t.Fatalf("resolution_status = %s", sec.Outcome.ResolutionStatus)
	}
	if !sec.Outcome.EscalationRequired {
		t.Fatalf("escalation_required lost")
	}

	raw = `{"resolution_status": "done", "followup_actions": [], "escalation_required": false}`
	if _, fail := Validate(record.KindOutcomeFollowup, raw); fail == nil {
		t.Fatalf("expected failure on unknown resolution status")
	}
}

func TestValidateDeterministic(t *testing.T) {
	raw := `{"primary_intent": "billing_dispute", "secondary_intents": ["refund"], "topics": ["billing"], "key_phrases": ["charged twice"], "intent_confidence": 0.92}`

	first, fail := Validate(record.KindIntentTopics, raw)
	if fail != nil {
		t.Fatalf("validate: %v", fail)
	}
	second, fail := Validate(record.KindIntentTopics, raw)
	if fail != nil {
		t.Fatalf("validate: %v", fail)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("same input produced different sections")
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"prose around", `Sure! {"a": {"b": 2}} Hope that helps.`, `{"a": {"b": 2}}`},
		{"braces in strings", `{"a": "}{"}`, `{"a": "}{"}`},
		{"unbalanced", `{"a": 1`, ""},
		{"no object", "no json here", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSON(tt.in); got != tt.want {
				t.Fatalf("ExtractJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
