package mutation

// Snapshot is the serialised document after a highlight pass.
type Snapshot struct {
	ID         string `json:"id"` // UUIDv7
	PageURL    string `json:"page_url"`
	PageID     string `json:"page_id"`
	HTML       []byte `json:"html"`
	HTMLHash   string `json:"html_hash"`  // SHA-256 hex
	Highlights int    `json:"highlights"` // annotations present in HTML
	Phrases    int    `json:"phrases"`    // phrases the pass ran with
	Timestamp  int64  `json:"timestamp"`  // epoch milliseconds
}
