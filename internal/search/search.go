package search

// Result is a single note hit returned to the caller.
type Result struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	FolderID string `json:"folderId"`
	OwnerID  int64  `json:"ownerId"`
}

// Query describes a search request. OwnerIDs restricts hits to content
// the requesting user may read (their own plus accessible owners).
type Query struct {
	Text           string
	OwnerIDs       []int64
	FilterFolderID string
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over notes.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// NoteRecord is the data we index for a note.
type NoteRecord struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags"`
	FolderID string   `json:"folderId"`
	OwnerID  int64    `json:"ownerId"`
}
