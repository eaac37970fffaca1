package ingest

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ManifestEntry is one row of an ingest manifest spreadsheet: a recording
// file name plus operator-supplied metadata attached to the call record.
type ManifestEntry struct {
	FileName string
	Extra    map[string]string
}

// LoadManifest reads an xlsx manifest and auto-detects the recording column
// by header heuristics. All remaining columns become extra metadata keyed by
// their lowercased header.
func LoadManifest(path string) ([]ManifestEntry, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("manifest has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read manifest rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, fmt.Errorf("manifest has no data rows")
	}

	header := rows[0]
	fileIdx := -1
	for i, h := range header {
		l := strings.ToLower(strings.TrimSpace(h))
		if strings.Contains(l, "file") || strings.Contains(l, "audio") || strings.Contains(l, "record") {
			fileIdx = i
			break
		}
	}
	if fileIdx == -1 {
		fileIdx = 0
	}

	var out []ManifestEntry
	for i, r := range rows {
		if i == 0 {
			continue
		}
		if fileIdx >= len(r) || strings.TrimSpace(r[fileIdx]) == "" {
			continue
		}
		entry := ManifestEntry{
			FileName: strings.TrimSpace(r[fileIdx]),
			Extra:    make(map[string]string),
		}
		for j, cell := range r {
			if j == fileIdx || j >= len(header) {
				continue
			}
			key := strings.ToLower(strings.TrimSpace(header[j]))
			val := strings.TrimSpace(cell)
			if key == "" || val == "" {
				continue
			}
			entry.Extra[key] = val
		}
		if len(entry.Extra) == 0 {
			entry.Extra = nil
		}
		out = append(out, entry)
	}
	return out, nil
}

// ApplyManifest returns the extra metadata for a recording file name, or nil
// when the manifest has no row for it. Matching is by base name, case
// insensitive.
func ApplyManifest(entries []ManifestEntry, fileName string) map[string]string {
	for _, e := range entries {
		if strings.EqualFold(e.FileName, fileName) {
			return e.Extra
		}
	}
	return nil
}
