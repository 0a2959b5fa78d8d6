package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxNotes = "carrel_notes"

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the notes index.
// The caller should proceed without search if the instance stays unhealthy.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	// Initial health check
	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxNotes,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxNotes, err)
	}

	index := m.client.Index(idxNotes)
	filterable := []interface{}{"ownerId", "folderId", "tags"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxNotes, err)
	}
	searchable := []string{"title", "content", "tags"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxNotes, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// searchWindow normalizes the paging window: zero or negative limits
// fall back to the default page size and negative offsets become zero.
func searchWindow(q Query) (limit, offset int64) {
	limit = int64(q.Limit)
	if limit <= 0 {
		limit = 20
	}
	offset = int64(q.Offset)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Search queries the notes index, restricted to the readable owners.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit, offset := searchWindow(q)

	sr := &meili.SearchRequest{
		Limit:                 limit,
		Offset:                offset,
		AttributesToHighlight: []string{"*"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}

	var filters []string
	if len(q.OwnerIDs) > 0 {
		ids := make([]string, len(q.OwnerIDs))
		for i, id := range q.OwnerIDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		filters = append(filters, fmt.Sprintf("ownerId IN [%s]", strings.Join(ids, ", ")))
	}
	if q.FilterFolderID != "" {
		filters = append(filters, fmt.Sprintf("folderId = %q", q.FilterFolderID))
	}
	if len(filters) > 0 {
		sr.Filter = filters
	}

	resp, err := m.client.Index(idxNotes).Search(q.Text, sr)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}

	return results, int(resp.EstimatedTotalHits), nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		ID:       decodeString(hit, "id"),
		FolderID: decodeString(hit, "folderId"),
		OwnerID:  decodeInt64(hit, "ownerId"),
	}
	r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
	r.Snippet = firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content"))
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeInt64(hit meili.Hit, key string) int64 {
	raw, ok := hit[key]
	if !ok {
		return 0
	}

	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexNote adds or updates a note in the search index.
func (m *Meili) IndexNote(rec NoteRecord) error {
	_, err := m.client.Index(idxNotes).AddDocuments([]NoteRecord{rec}, nil)
	return err
}

// IndexNotes bulk-indexes notes.
func (m *Meili) IndexNotes(records []NoteRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxNotes).AddDocuments(records, nil)
	return err
}

// DeleteNote removes a note from the search index.
func (m *Meili) DeleteNote(id string) error {
	_, err := m.client.Index(idxNotes).DeleteDocument(id, nil)
	return err
}
