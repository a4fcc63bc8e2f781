package models

// SearchResult represents a single search result
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
	Source  string `json:"source"`
}

// WebSearchFunctionArgs represents arguments for the web_search function
type WebSearchFunctionArgs struct {
	Query string `json:"query"`
}
