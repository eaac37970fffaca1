// Package ingest discovers call recordings on disk, transcribes them, and
// creates call records in the store. Ingestion is idempotent: a recording's
// call id is derived from its file name and modification time, so re-running
// over the same directory skips everything already stored.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"callsight/internal/gateway"
	"callsight/internal/logger"
	"callsight/internal/record"
	"callsight/internal/store"
)

var audioExtensions = map[string]bool{
	".wav": true,
	".mp3": true,
	".m4a": true,
	".ogg": true,
}

// IsAudioFile reports whether path has a supported recording extension.
func IsAudioFile(path string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(path))]
}

// DiscoverRecordings walks dir recursively and returns every audio file,
// oldest first by modification time.
func DiscoverRecordings(dir string) ([]record.RecordingRef, error) {
	var refs []record.RecordingRef
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsAudioFile(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		refs = append(refs, record.RecordingRef{
			Path:         path,
			Name:         d.Name(),
			SizeBytes:    info.Size(),
			ModifiedUnix: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover recordings in %s: %w", dir, err)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].ModifiedUnix != refs[j].ModifiedUnix {
			return refs[i].ModifiedUnix < refs[j].ModifiedUnix
		}
		return refs[i].Name < refs[j].Name
	})
	return refs, nil
}

// CallID derives the stable id for a recording: file stem plus modification
// time. The same unmodified file always maps to the same call.
func CallID(ref record.RecordingRef) string {
	stem := strings.TrimSuffix(ref.Name, filepath.Ext(ref.Name))
	return fmt.Sprintf("%s_%d", stem, ref.ModifiedUnix)
}

// Ingester transcribes newly discovered recordings into the store.
type Ingester struct {
	store    *store.Store
	gw       gateway.Gateway
	clientID string
	manifest []ManifestEntry
	log      *logrus.Entry
}

func New(st *store.Store, gw gateway.Gateway, clientID string) *Ingester {
	return &Ingester{
		store:    st,
		gw:       gw,
		clientID: clientID,
		log:      logger.Component("ingest"),
	}
}

// UseManifest attaches a manifest whose rows supply extra metadata for
// recordings matched by file name.
func (in *Ingester) UseManifest(entries []ManifestEntry) {
	in.manifest = entries
}

// Result counts what an ingest pass did.
type Result struct {
	Ingested int `json:"ingested"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// IngestAll discovers recordings under dir and ingests every one not already
// stored. A failing recording is logged and counted but does not stop the
// pass.
func (in *Ingester) IngestAll(ctx context.Context, dir string) (Result, error) {
	refs, err := DiscoverRecordings(dir)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		switch err := in.IngestOne(ctx, ref, ApplyManifest(in.manifest, ref.Name)); {
		case err == nil:
			res.Ingested++
		case err == store.ErrConflict:
			res.Skipped++
		default:
			res.Failed++
			in.log.WithError(err).WithField("file", ref.Name).Error("ingest failed")
		}
	}

	in.log.WithField("ingested", res.Ingested).
		WithField("skipped", res.Skipped).
		WithField("failed", res.Failed).
		Info("ingest pass complete")
	return res, nil
}

// IngestOne transcribes one recording and creates its call record. Returns
// store.ErrConflict when the call already exists. Extra metadata, typically
// from a manifest, is attached verbatim.
func (in *Ingester) IngestOne(ctx context.Context, ref record.RecordingRef, extra map[string]string) error {
	callID := CallID(ref)
	if in.store.Has(callID) {
		return store.ErrConflict
	}

	tx, err := in.gw.Transcribe(ctx, ref.Path)
	if err != nil {
		return fmt.Errorf("transcribe %s: %w", ref.Name, err)
	}

	meta := record.CallMetadata{
		CallID:    callID,
		ClientID:  in.clientID,
		Recording: ref,
		Extra:     extra,
	}
	if _, err := in.store.Create(meta, record.Transcript{Text: tx.Text, Language: tx.Language}); err != nil {
		return err
	}

	in.log.WithField("call_id", callID).
		WithField("file", ref.Name).
		Info("call ingested")
	return nil
}
