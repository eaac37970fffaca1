package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"callsight/internal/gateway"
	"callsight/internal/record"
	"callsight/internal/store"
)

func writeAudio(t *testing.T, dir, name string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("RIFF fake audio"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
	return path
}

func TestDiscoverRecordingsSortedByModTime(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	writeAudio(t, dir, "newest.wav", base.Add(2*time.Hour))
	writeAudio(t, dir, filepath.Join("nested", "oldest.mp3"), base)
	writeAudio(t, dir, "middle.WAV", base.Add(time.Hour))
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not audio"), 0o644); err != nil {
		t.Fatalf("write notes: %v", err)
	}

	refs, err := DiscoverRecordings(dir)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	want := []string{"oldest.mp3", "middle.WAV", "newest.wav"}
	if len(refs) != len(want) {
		t.Fatalf("refs = %d, want %d", len(refs), len(want))
	}
	for i, name := range want {
		if refs[i].Name != name {
			t.Fatalf("refs[%d] = %s, want %s", i, refs[i].Name, name)
		}
	}
}

func TestCallIDDeterministic(t *testing.T) {
	ref := record.RecordingRef{Name: "call_20260301.wav", ModifiedUnix: 1770000000}
	first := CallID(ref)
	if first != "call_20260301_1770000000" {
		t.Fatalf("call id = %s", first)
	}
	if CallID(ref) != first {
		t.Fatalf("call id not stable")
	}

	// touching the file changes the id
	ref.ModifiedUnix++
	if CallID(ref) == first {
		t.Fatalf("modified recording must map to a new call")
	}
}

func TestIngestAllIdempotent(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	writeAudio(t, dir, "a.wav", base)
	writeAudio(t, dir, "b.wav", base.Add(time.Minute))

	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	in := New(st, &gateway.Mock{}, "client_test")
	ctx := context.Background()

	res, err := in.IngestAll(ctx, dir)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Ingested != 2 || res.Skipped != 0 || res.Failed != 0 {
		t.Fatalf("first pass = %+v", res)
	}

	res, err = in.IngestAll(ctx, dir)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if res.Ingested != 0 || res.Skipped != 2 {
		t.Fatalf("second pass = %+v, want all skipped", res)
	}

	ids, err := st.IDs()
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("store has %d records, want 2", len(ids))
	}
	rec, err := st.Get(ids[0])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Transcript.Text == "" || rec.Metadata.ClientID != "client_test" {
		t.Fatalf("record incomplete: %+v", rec.Metadata)
	}
}

func TestLoadManifest(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"Audio File", "Campaign", "Agent"},
		{"a.wav", "spring_renewal", "agent_7"},
		{"b.wav", "", "agent_2"},
		{"", "orphan row", ""},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	path := filepath.Join(t.TempDir(), "manifest.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save manifest: %v", err)
	}

	entries, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	extra := ApplyManifest(entries, "A.WAV")
	if extra == nil || extra["campaign"] != "spring_renewal" || extra["agent"] != "agent_7" {
		t.Fatalf("manifest extras = %+v", extra)
	}
	if extra := ApplyManifest(entries, "b.wav"); extra["agent"] != "agent_2" {
		t.Fatalf("manifest extras for b = %+v", extra)
	}
	if ApplyManifest(entries, "unknown.wav") != nil {
		t.Fatalf("unknown file must have no extras")
	}
}
