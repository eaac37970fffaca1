// Package record defines the canonical call record: metadata, transcript, and
// the per-stage analysis sections that enrichment attaches to it over time.
package record

import (
	"time"
)

// Kind identifies one analysis stage / section variant.
type Kind string

const (
	KindSentiment       Kind = "sentiment"
	KindIntentTopics    Kind = "intent_topics"
	KindQuality         Kind = "quality"
	KindComplianceRisk  Kind = "compliance_risk"
	KindOutcomeFollowup Kind = "outcome_followup"
)

// Kinds lists every section kind in the order stages are run by default.
// Stages are independent; the order is operator convenience only.
func Kinds() []Kind {
	return []Kind{
		KindSentiment,
		KindIntentTopics,
		KindQuality,
		KindComplianceRisk,
		KindOutcomeFollowup,
	}
}

// Valid reports whether k names a known section kind.
func (k Kind) Valid() bool {
	switch k {
	case KindSentiment, KindIntentTopics, KindQuality, KindComplianceRisk, KindOutcomeFollowup:
		return true
	}
	return false
}

// Sentiment labels.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Risk levels.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// Resolution statuses.
const (
	ResolutionResolved          = "resolved"
	ResolutionPartiallyResolved = "partially_resolved"
	ResolutionUnresolved        = "unresolved"
)

// RecordingRef points at a source audio asset. Immutable once discovered.
type RecordingRef struct {
	Path         string `json:"path"`
	Name         string `json:"name"`
	SizeBytes    int64  `json:"size_bytes"`
	ModifiedUnix int64  `json:"modified_unix"`
}

// CallMetadata describes one call. Immutable after creation.
type CallMetadata struct {
	CallID    string            `json:"call_id"`
	ClientID  string            `json:"client_id"`
	Recording RecordingRef      `json:"recording"`
	CreatedAt time.Time         `json:"created_at"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Transcript is the external transcription collaborator's output.
type Transcript struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// SentimentSegment is one coarse step of the sentiment timeline.
type SentimentSegment struct {
	SegmentLabel string   `json:"segment_label"`
	StartSecond  *float64 `json:"start_second"`
	EndSecond    *float64 `json:"end_second"`
	Sentiment    string   `json:"sentiment"`
	Notes        string   `json:"notes,omitempty"`
}

// SentimentPayload holds the structured sentiment & emotion analysis.
type SentimentPayload struct {
	Overall     string             `json:"overall"`
	Score       *float64           `json:"score"` // -1.0 .. 1.0
	EmotionTags []string           `json:"emotion_tags"`
	Timeline    []SentimentSegment `json:"sentiment_timeline,omitempty"`
	Notes       string             `json:"notes,omitempty"`
}

// IntentTopicsPayload holds intent and topic analysis.
type IntentTopicsPayload struct {
	PrimaryIntent    string   `json:"primary_intent"`
	SecondaryIntents []string `json:"secondary_intents"`
	Topics           []string `json:"topics"`
	KeyPhrases       []string `json:"key_phrases"`
	IntentConfidence *float64 `json:"intent_confidence"` // 0.0 .. 1.0
	Notes            string   `json:"notes,omitempty"`
}

// QualitySubScores break the overall call quality score down by aspect.
// All scores are 0..100; nil means the model could not judge the aspect.
type QualitySubScores struct {
	Greeting              *int `json:"greeting"`
	ListeningAndEmpathy   *int `json:"listening_and_empathy"`
	ClarityOfExplanations *int `json:"clarity_of_explanations"`
	Professionalism       *int `json:"professionalism"`
	ScriptAdherence       *int `json:"script_adherence"`
}

// QualityPayload holds call quality / agent performance analysis.
type QualityPayload struct {
	OverallScore *int             `json:"overall_quality_score"` // 0 .. 100
	Scores       QualitySubScores `json:"scores"`
	Strengths    []string         `json:"strengths"`
	Improvements []string         `json:"improvements"`
	Notes        string           `json:"notes,omitempty"`
}

// PIIFinding is one piece of personal data found in the transcript.
type PIIFinding struct {
	Type          string `json:"type"`
	OriginalValue string `json:"original_value,omitempty"`
	MaskedValue   string `json:"masked_value,omitempty"`
}

// CompliancePayload holds compliance & risk analysis.
type CompliancePayload struct {
	RequiredPhrasesPresent   []string     `json:"required_phrases_present"`
	MissingRequiredPhrases   []string     `json:"missing_required_phrases"`
	ForbiddenPhrasesDetected []string     `json:"forbidden_phrases_detected"`
	PIIDetected              []PIIFinding `json:"pii_detected"`
	RiskLevel                string       `json:"risk_level"`
	Notes                    string       `json:"notes,omitempty"`
}

// FollowupAction is one action the call left open.
type FollowupAction struct {
	Description string `json:"description"`
	Owner       string `json:"owner,omitempty"`
	DueDate     string `json:"due_date,omitempty"` // YYYY-MM-DD
}

// OutcomePayload holds outcome & follow-up analysis.
type OutcomePayload struct {
	ResolutionStatus   string           `json:"resolution_status"`
	FinalOutcome       string           `json:"final_outcome,omitempty"`
	FollowupActions    []FollowupAction `json:"followup_actions"`
	EscalationRequired bool             `json:"escalation_required"`
	EscalationReason   string           `json:"escalation_reason,omitempty"`
	Notes              string           `json:"notes,omitempty"`
}

// Section is the tagged union over analysis variants. Exactly one payload
// pointer matching Kind is set on a valid section; a degraded section keeps
// only RawOutput with all payloads nil.
type Section struct {
	Kind       Kind      `json:"kind"`
	RawOutput  string    `json:"raw_output"`
	Degraded   bool      `json:"degraded,omitempty"`
	AnalyzedAt time.Time `json:"analyzed_at"`

	Sentiment    *SentimentPayload    `json:"sentiment,omitempty"`
	IntentTopics *IntentTopicsPayload `json:"intent_topics,omitempty"`
	Quality      *QualityPayload      `json:"quality,omitempty"`
	Compliance   *CompliancePayload   `json:"compliance_risk,omitempty"`
	Outcome      *OutcomePayload      `json:"outcome_followup,omitempty"`
}

// HasPayload reports whether the section carries a typed payload for its kind.
func (s *Section) HasPayload() bool {
	if s == nil {
		return false
	}
	switch s.Kind {
	case KindSentiment:
		return s.Sentiment != nil
	case KindIntentTopics:
		return s.IntentTopics != nil
	case KindQuality:
		return s.Quality != nil
	case KindComplianceRisk:
		return s.Compliance != nil
	case KindOutcomeFollowup:
		return s.Outcome != nil
	}
	return false
}

// CallRecord is the canonical, incrementally enriched representation of one
// analyzed call. Sections hold at most one entry per kind.
type CallRecord struct {
	Metadata   CallMetadata      `json:"metadata"`
	Transcript Transcript        `json:"transcript"`
	Sections   map[Kind]*Section `json:"sections,omitempty"`
}

// Section returns the section for kind, or nil.
func (r *CallRecord) Section(kind Kind) *Section {
	if r == nil || r.Sections == nil {
		return nil
	}
	return r.Sections[kind]
}

// SectionComplete reports whether the section for kind is present per the
// idempotence contract: a typed payload that passed validation. Degraded
// sections do not count and are re-attempted by later runs.
func (r *CallRecord) SectionComplete(kind Kind) bool {
	sec := r.Section(kind)
	return sec != nil && !sec.Degraded && sec.HasPayload()
}

// SetSection stores sec under its kind, replacing any previous entry.
func (r *CallRecord) SetSection(sec *Section) {
	if r.Sections == nil {
		r.Sections = make(map[Kind]*Section)
	}
	r.Sections[sec.Kind] = sec
}

// Projection is the flat metadata view of a record used by the search index
// for filtering. Missing sections leave their fields empty / nil.
type Projection struct {
	CallID        string `json:"call_id"`
	ClientID      string `json:"client_id"`
	Sentiment     string `json:"sentiment,omitempty"`
	PrimaryIntent string `json:"primary_intent,omitempty"`
	RiskLevel     string `json:"risk_level,omitempty"`
	QualityScore  *int   `json:"quality_score,omitempty"`
}

// Project derives the index metadata projection from the record.
func (r *CallRecord) Project() Projection {
	p := Projection{
		CallID:   r.Metadata.CallID,
		ClientID: r.Metadata.ClientID,
	}
	if sec := r.Section(KindSentiment); sec != nil && sec.Sentiment != nil {
		p.Sentiment = sec.Sentiment.Overall
	}
	if sec := r.Section(KindIntentTopics); sec != nil && sec.IntentTopics != nil {
		p.PrimaryIntent = sec.IntentTopics.PrimaryIntent
	}
	if sec := r.Section(KindComplianceRisk); sec != nil && sec.Compliance != nil {
		p.RiskLevel = sec.Compliance.RiskLevel
	}
	if sec := r.Section(KindQuality); sec != nil && sec.Quality != nil {
		p.QualityScore = sec.Quality.OverallScore
	}
	return p
}
