package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"callsight/internal/record"
)

func testMeta(callID string) record.CallMetadata {
	return record.CallMetadata{
		CallID:   callID,
		ClientID: "client_test",
		Recording: record.RecordingRef{
			Path:         "/recordings/" + callID + ".wav",
			Name:         callID + ".wav",
			SizeBytes:    1024,
			ModifiedUnix: 1700000000,
		},
	}
}

func sentimentSection(overall string) *record.Section {
	score := 0.4
	return &record.Section{
		Kind:       record.KindSentiment,
		RawOutput:  fmt.Sprintf(`{"overall": %q}`, overall),
		AnalyzedAt: time.Now().UTC(),
		Sentiment: &record.SentimentPayload{
			Overall: overall,
			Score:   &score,
		},
	}
}

func TestCreateAndGet(t *testing.T) {
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	created, err := st.Create(testMeta("call_1"), record.Transcript{Text: "hello", Language: "en"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Metadata.CreatedAt.IsZero() {
		t.Fatalf("CreatedAt not stamped")
	}

	got, err := st.Get("call_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Transcript.Text != "hello" || got.Metadata.ClientID != "client_test" {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
	if len(got.Sections) != 0 {
		t.Fatalf("new record should have no sections")
	}
}

func TestCreateConflictLeavesStoreUnchanged(t *testing.T) {
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := st.Create(testMeta("call_1"), record.Transcript{Text: "first"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = st.Create(testMeta("call_1"), record.Transcript{Text: "second"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, err := st.Get("call_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Transcript.Text != "first" {
		t.Fatalf("conflict overwrote the record")
	}
	if n, _ := st.Count(); n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}

func TestGetNotFound(t *testing.T) {
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := st.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInvalidCallIDs(t *testing.T) {
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, id := range []string{"", "a/b", `a\b`, "../escape"} {
		if _, err := st.Create(testMeta(id), record.Transcript{}); err == nil {
			t.Fatalf("call id %q accepted", id)
		}
	}
}

func TestUpsertSectionIsolation(t *testing.T) {
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := st.Create(testMeta("call_1"), record.Transcript{Text: "hi"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := st.UpsertSection("call_1", sentimentSection("positive")); err != nil {
		t.Fatalf("upsert sentiment: %v", err)
	}

	conf := 0.8
	intent := &record.Section{
		Kind:       record.KindIntentTopics,
		RawOutput:  `{"primary_intent": "billing"}`,
		AnalyzedAt: time.Now().UTC(),
		IntentTopics: &record.IntentTopicsPayload{
			PrimaryIntent:    "billing",
			IntentConfidence: &conf,
		},
	}
	got, err := st.UpsertSection("call_1", intent)
	if err != nil {
		t.Fatalf("upsert intent: %v", err)
	}

	if sec := got.Section(record.KindSentiment); sec == nil || sec.Sentiment.Overall != "positive" {
		t.Fatalf("sentiment section disturbed by intent upsert: %+v", sec)
	}
	if sec := got.Section(record.KindIntentTopics); sec == nil || sec.IntentTopics.PrimaryIntent != "billing" {
		t.Fatalf("intent section missing: %+v", sec)
	}

	// replacing a section swaps only that entry
	if _, err := st.UpsertSection("call_1", sentimentSection("negative")); err != nil {
		t.Fatalf("replace sentiment: %v", err)
	}
	got, err = st.Get("call_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Section(record.KindSentiment).Sentiment.Overall != "negative" {
		t.Fatalf("sentiment not replaced")
	}
	if got.Section(record.KindIntentTopics) == nil {
		t.Fatalf("intent section lost on sentiment replace")
	}
}

func TestUpsertSectionConcurrent(t *testing.T) {
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := st.Create(testMeta("call_1"), record.Transcript{Text: "hi"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	sections := []*record.Section{
		sentimentSection("neutral"),
		{
			Kind:         record.KindIntentTopics,
			RawOutput:    "{}",
			IntentTopics: &record.IntentTopicsPayload{PrimaryIntent: "support"},
		},
		{
			Kind:      record.KindQuality,
			RawOutput: "{}",
			Quality:   &record.QualityPayload{},
		},
		{
			Kind:       record.KindComplianceRisk,
			RawOutput:  "{}",
			Compliance: &record.CompliancePayload{RiskLevel: record.RiskLow},
		},
		{
			Kind:      record.KindOutcomeFollowup,
			RawOutput: "{}",
			Outcome:   &record.OutcomePayload{ResolutionStatus: record.ResolutionResolved},
		},
	}

	var wg sync.WaitGroup
	for _, sec := range sections {
		wg.Add(1)
		go func(sec *record.Section) {
			defer wg.Done()
			if _, err := st.UpsertSection("call_1", sec); err != nil {
				t.Errorf("upsert %s: %v", sec.Kind, err)
			}
		}(sec)
	}
	wg.Wait()

	got, err := st.Get("call_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for _, kind := range record.Kinds() {
		if got.Section(kind) == nil {
			t.Fatalf("section %s lost under concurrent upserts", kind)
		}
	}
}

func TestReopenPersistence(t *testing.T) {
	dir := t.TempDir()

	st, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("call_%d", i)
		if _, err := st.Create(testMeta(id), record.Transcript{Text: id}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if _, err := st.UpsertSection("call_1", sentimentSection("positive")); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	ids, err := reopened.IDs()
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	want := []string{"call_0", "call_1", "call_2"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v", ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
	got, err := reopened.Get("call_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.SectionComplete(record.KindSentiment) {
		t.Fatalf("section lost across reopen")
	}
}
