// Package validate enforces the per-stage output schema on raw inference
// responses. Validate is a pure function: no clock, no I/O, no state, so the
// same input always yields the same Section or Failure.
package validate

import (
	"encoding/json"
	"fmt"
	"strings"

	"callsight/internal/record"
)

// Failure describes a raw response that did not satisfy the stage schema.
// It carries the offending text so the caller can steer a retry or keep the
// output for audit.
type Failure struct {
	Kind   record.Kind
	Raw    string
	Reason string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("validate %s: %s", f.Kind, f.Reason)
}

// Validate parses raw against the schema for kind. On success the returned
// Section carries the typed payload plus the raw text verbatim; AnalyzedAt is
// left zero for the committer to stamp.
func Validate(kind record.Kind, raw string) (*record.Section, *Failure) {
	if !kind.Valid() {
		return nil, &Failure{Kind: kind, Raw: raw, Reason: "unknown section kind"}
	}

	payload := ExtractJSON(raw)
	if payload == "" {
		return nil, &Failure{Kind: kind, Raw: raw, Reason: "no JSON object found in response"}
	}

	sec := &record.Section{Kind: kind, RawOutput: raw}

	var err error
	switch kind {
	case record.KindSentiment:
		sec.Sentiment, err = decodeSentiment(payload)
	case record.KindIntentTopics:
		sec.IntentTopics, err = decodeIntentTopics(payload)
	case record.KindQuality:
		sec.Quality, err = decodeQuality(payload)
	case record.KindComplianceRisk:
		sec.Compliance, err = decodeCompliance(payload)
	case record.KindOutcomeFollowup:
		sec.Outcome, err = decodeOutcome(payload)
	}
	if err != nil {
		return nil, &Failure{Kind: kind, Raw: raw, Reason: err.Error()}
	}
	return sec, nil
}

func strictDecode(payload string, out any) error {
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode: %v", err)
	}
	return nil
}

func decodeSentiment(payload string) (*record.SentimentPayload, error) {
	var p record.SentimentPayload
	if err := strictDecode(payload, &p); err != nil {
		return nil, err
	}
	if !validSentimentLabel(p.Overall) {
		return nil, fmt.Errorf("overall %q not in {positive, neutral, negative}", p.Overall)
	}
	if p.Score != nil && (*p.Score < -1.0 || *p.Score > 1.0) {
		return nil, fmt.Errorf("score %v outside [-1.0, 1.0]", *p.Score)
	}
	for i, seg := range p.Timeline {
		if !validSentimentLabel(seg.Sentiment) {
			return nil, fmt.Errorf("sentiment_timeline[%d].sentiment %q not in {positive, neutral, negative}", i, seg.Sentiment)
		}
	}
	return &p, nil
}

func decodeIntentTopics(payload string) (*record.IntentTopicsPayload, error) {
	var p record.IntentTopicsPayload
	if err := strictDecode(payload, &p); err != nil {
		return nil, err
	}
	if p.IntentConfidence != nil && (*p.IntentConfidence < 0.0 || *p.IntentConfidence > 1.0) {
		return nil, fmt.Errorf("intent_confidence %v outside [0.0, 1.0]", *p.IntentConfidence)
	}
	return &p, nil
}

func decodeQuality(payload string) (*record.QualityPayload, error) {
	var p record.QualityPayload
	if err := strictDecode(payload, &p); err != nil {
		return nil, err
	}
	if err := checkScore("overall_quality_score", p.OverallScore); err != nil {
		return nil, err
	}
	sub := map[string]*int{
		"greeting":                p.Scores.Greeting,
		"listening_and_empathy":   p.Scores.ListeningAndEmpathy,
		"clarity_of_explanations": p.Scores.ClarityOfExplanations,
		"professionalism":         p.Scores.Professionalism,
		"script_adherence":        p.Scores.ScriptAdherence,
	}
	for name, v := range sub {
		if err := checkScore(name, v); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func decodeCompliance(payload string) (*record.CompliancePayload, error) {
	var p record.CompliancePayload
	if err := strictDecode(payload, &p); err != nil {
		return nil, err
	}
	switch p.RiskLevel {
	case record.RiskLow, record.RiskMedium, record.RiskHigh, record.RiskCritical:
	default:
		return nil, fmt.Errorf("risk_level %q not in {low, medium, high, critical}", p.RiskLevel)
	}
	return &p, nil
}

func decodeOutcome(payload string) (*record.OutcomePayload, error) {
	var p record.OutcomePayload
	if err := strictDecode(payload, &p); err != nil {
		return nil, err
	}
	switch p.ResolutionStatus {
	case record.ResolutionResolved, record.ResolutionPartiallyResolved, record.ResolutionUnresolved:
	default:
		return nil, fmt.Errorf("resolution_status %q not in {resolved, partially_resolved, unresolved}", p.ResolutionStatus)
	}
	return &p, nil
}

func validSentimentLabel(s string) bool {
	switch s {
	case record.SentimentPositive, record.SentimentNeutral, record.SentimentNegative:
		return true
	}
	return false
}

func checkScore(name string, v *int) error {
	if v != nil && (*v < 0 || *v > 100) {
		return fmt.Errorf("%s %d outside [0, 100]", name, *v)
	}
	return nil
}

// ExtractJSON finds the first balanced JSON object in s, stripping the
// markdown fences models like to wrap output in.
func ExtractJSON(s string) string {
	if s == "" {
		return ""
	}

	s = strings.ReplaceAll(s, "\r\n", "\n")
	for _, fence := range []string{"```json", "```yaml", "```text", "```", "`json", "`"} {
		s = strings.ReplaceAll(s, fence, "")
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}
	return ""
}
