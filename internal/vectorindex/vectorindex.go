// Package vectorindex keeps a semantic search index derived from the call
// store. Index documents live in a sqlite database keyed by call_id with the
// embedding stored as a little-endian float64 blob; queries are a brute-force
// cosine scan, which is plenty for per-client call volumes.
package vectorindex

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"callsight/internal/logger"
	"callsight/internal/record"
	"callsight/internal/store"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS call_documents (
	call_id       TEXT PRIMARY KEY,
	client_id     TEXT NOT NULL,
	transcript    TEXT NOT NULL,
	content_hash  TEXT NOT NULL,
	sentiment     TEXT,
	primary_intent TEXT,
	risk_level    TEXT,
	quality_score INTEGER,
	embedding     BLOB NOT NULL,
	dimension     INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);
`

// InfrastructureError wraps a failure of the index engine itself, as opposed
// to an empty or partial result.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("vectorindex %s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

// Embedder turns text into a vector. The inference gateway satisfies this.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Index is the vector search engine plus its synchronizer.
type Index struct {
	db       *sql.DB
	embedder Embedder
}

// Open opens (or creates) the index database at path.
func Open(path string, embedder Embedder) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &InfrastructureError{Op: "open", Err: err}
	}

	// WAL allows concurrent readers while a writer is active.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, &InfrastructureError{Op: "open", Err: err}
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, &InfrastructureError{Op: "open", Err: err}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, &InfrastructureError{Op: "create schema", Err: err}
	}

	return &Index{db: db, embedder: embedder}, nil
}

// Close releases the underlying database.
func (ix *Index) Close() error { return ix.db.Close() }

// SyncResult counts what a sync pass did.
type SyncResult struct {
	Indexed   int `json:"indexed"`   // embedded and upserted
	Refreshed int `json:"refreshed"` // metadata updated, embedding reused
	Skipped   int `json:"skipped"`   // empty transcript
}

// Sync derives an index document for each call and upserts it keyed by
// call_id. Re-syncing an unchanged call reuses the stored embedding and only
// refreshes the metadata projection, so redundant syncs stay cheap and
// harmless. With no callIDs given, every stored call is synced.
func (ix *Index) Sync(ctx context.Context, st *store.Store, callIDs []string) (SyncResult, error) {
	log := logger.Component("vectorindex")

	var res SyncResult
	if len(callIDs) == 0 {
		var err error
		callIDs, err = st.IDs()
		if err != nil {
			return res, err
		}
	}

	for _, id := range callIDs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rec, err := st.Get(id)
		if err != nil {
			return res, err
		}
		if strings.TrimSpace(rec.Transcript.Text) == "" {
			res.Skipped++
			continue
		}

		hash := contentHash(rec.Transcript.Text)
		proj := rec.Project()

		var existing string
		err = ix.db.QueryRowContext(ctx,
			`SELECT content_hash FROM call_documents WHERE call_id = ?`, id).Scan(&existing)
		switch {
		case err == nil && existing == hash:
			if err := ix.updateProjection(ctx, id, proj); err != nil {
				return res, err
			}
			res.Refreshed++
			continue
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return res, &InfrastructureError{Op: "lookup document", Err: err}
		}

		vec, err := ix.embedder.Embed(ctx, rec.Transcript.Text)
		if err != nil {
			return res, fmt.Errorf("embed %s: %w", id, err)
		}
		if err := ix.upsert(ctx, id, rec.Transcript.Text, hash, proj, vec); err != nil {
			return res, err
		}
		res.Indexed++
	}

	log.WithField("indexed", res.Indexed).
		WithField("refreshed", res.Refreshed).
		WithField("skipped", res.Skipped).
		Info("index sync complete")
	return res, nil
}

func (ix *Index) upsert(ctx context.Context, callID, transcript, hash string, proj record.Projection, vec []float64) error {
	_, err := ix.db.ExecContext(ctx, `
		INSERT INTO call_documents
			(call_id, client_id, transcript, content_hash, sentiment, primary_intent, risk_level, quality_score, embedding, dimension, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(call_id) DO UPDATE SET
			client_id = excluded.client_id,
			transcript = excluded.transcript,
			content_hash = excluded.content_hash,
			sentiment = excluded.sentiment,
			primary_intent = excluded.primary_intent,
			risk_level = excluded.risk_level,
			quality_score = excluded.quality_score,
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			updated_at = excluded.updated_at
	`, callID, proj.ClientID, transcript, hash,
		nullIfEmpty(proj.Sentiment), nullIfEmpty(proj.PrimaryIntent), nullIfEmpty(proj.RiskLevel),
		nullableInt(proj.QualityScore), float64sToBlob(vec), len(vec), time.Now().Unix())
	if err != nil {
		return &InfrastructureError{Op: "upsert document", Err: err}
	}
	return nil
}

func (ix *Index) updateProjection(ctx context.Context, callID string, proj record.Projection) error {
	_, err := ix.db.ExecContext(ctx, `
		UPDATE call_documents
		SET sentiment = ?, primary_intent = ?, risk_level = ?, quality_score = ?, updated_at = ?
		WHERE call_id = ?
	`, nullIfEmpty(proj.Sentiment), nullIfEmpty(proj.PrimaryIntent), nullIfEmpty(proj.RiskLevel),
		nullableInt(proj.QualityScore), time.Now().Unix(), callID)
	if err != nil {
		return &InfrastructureError{Op: "update projection", Err: err}
	}
	return nil
}

// Delete removes a call from the index. Deleting an unknown id is a no-op.
func (ix *Index) Delete(ctx context.Context, callID string) error {
	if _, err := ix.db.ExecContext(ctx, `DELETE FROM call_documents WHERE call_id = ?`, callID); err != nil {
		return &InfrastructureError{Op: "delete document", Err: err}
	}
	return nil
}

// Filters narrow search results before top-k truncation.
type Filters struct {
	ClientID   string
	Sentiment  string
	RiskLevels []string
	MinQuality *int
}

// Match is one ranked search hit. Distance is 1 - cosine similarity, so
// smaller means closer.
type Match struct {
	CallID     string            `json:"call_id"`
	Distance   float64           `json:"distance"`
	Snippet    string            `json:"snippet"`
	Projection record.Projection `json:"projection"`
}

// Search embeds the query text and returns up to topK matches ordered by
// ascending distance. An empty index yields an empty slice.
func (ix *Index) Search(ctx context.Context, query string, topK int, filters Filters) ([]Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("vectorindex: query is required")
	}
	if topK <= 0 {
		topK = 5
	}

	queryVec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	sqlQuery := `
		SELECT call_id, client_id, transcript, sentiment, primary_intent, risk_level, quality_score, embedding, dimension
		FROM call_documents
	`
	var clauses []string
	var args []any
	if filters.ClientID != "" {
		clauses = append(clauses, "client_id = ?")
		args = append(args, filters.ClientID)
	}
	if filters.Sentiment != "" {
		clauses = append(clauses, "sentiment = ?")
		args = append(args, filters.Sentiment)
	}
	if len(filters.RiskLevels) > 0 {
		placeholders := make([]string, len(filters.RiskLevels))
		for i, rl := range filters.RiskLevels {
			placeholders[i] = "?"
			args = append(args, rl)
		}
		clauses = append(clauses, "risk_level IN ("+strings.Join(placeholders, ",")+")")
	}
	if filters.MinQuality != nil {
		clauses = append(clauses, "quality_score >= ?")
		args = append(args, *filters.MinQuality)
	}
	if len(clauses) > 0 {
		sqlQuery += " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := ix.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, &InfrastructureError{Op: "query documents", Err: err}
	}
	defer rows.Close()

	matches := make([]Match, 0)
	for rows.Next() {
		var (
			callID, clientID, transcript        string
			sentiment, primaryIntent, riskLevel sql.NullString
			qualityScore                        sql.NullInt64
			blob                                []byte
			dimension                           int
		)
		if err := rows.Scan(&callID, &clientID, &transcript, &sentiment, &primaryIntent, &riskLevel, &qualityScore, &blob, &dimension); err != nil {
			continue
		}
		if dimension != len(queryVec) {
			continue
		}
		vec := blobToFloat64s(blob)
		if len(vec) != len(queryVec) {
			continue
		}

		proj := record.Projection{
			CallID:        callID,
			ClientID:      clientID,
			Sentiment:     sentiment.String,
			PrimaryIntent: primaryIntent.String,
			RiskLevel:     riskLevel.String,
		}
		if qualityScore.Valid {
			q := int(qualityScore.Int64)
			proj.QualityScore = &q
		}

		matches = append(matches, Match{
			CallID:     callID,
			Distance:   1 - cosineSimilarity(queryVec, vec),
			Snippet:    buildSnippet(transcript, 240),
			Projection: proj,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &InfrastructureError{Op: "scan documents", Err: err}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Count returns the number of indexed documents.
func (ix *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM call_documents`).Scan(&n); err != nil {
		return 0, &InfrastructureError{Op: "count documents", Err: err}
	}
	return n, nil
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func buildSnippet(content string, maxLen int) string {
	content = strings.TrimSpace(strings.ReplaceAll(content, "\n", " "))
	if len(content) <= maxLen {
		return content
	}
	return content[:maxLen] + "..."
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func float64sToBlob(values []float64) []byte {
	blob := make([]byte, len(values)*8)
	for i, v := range values {
		bits := math.Float64bits(v)
		for j := 0; j < 8; j++ {
			blob[i*8+j] = byte(bits >> (j * 8))
		}
	}
	return blob
}

func blobToFloat64s(blob []byte) []float64 {
	if len(blob)%8 != 0 {
		return nil
	}
	values := make([]float64, len(blob)/8)
	for i := range values {
		bits := uint64(0)
		for j := 0; j < 8; j++ {
			bits |= uint64(blob[i*8+j]) << (j * 8)
		}
		values[i] = math.Float64frombits(bits)
	}
	return values
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
