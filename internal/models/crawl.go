package models

// PageInfo is one page discovered by the crawler.
type PageInfo struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	Depth int    `json:"depth"`
}

// ImageRef is one image reference found during a crawl, with the page it
// appeared on.
type ImageRef struct {
	URL  string `json:"url"`
	Page string `json:"page"`
}

// CrawlResult is the full output of the crawl phase, consumed by the
// downstream visual, blur and performance phases.
type CrawlResult struct {
	Pages       []PageInfo   `json:"pages"`
	BrokenLinks []BrokenLink `json:"broken_links,omitempty"`
	MetaIssues  []MetaIssue  `json:"meta_issues,omitempty"`
	Images      []ImageRef   `json:"images,omitempty"`
	Stats       CrawlStats   `json:"stats"`
}

// PageURLs returns the discovered page URLs in visit order.
func (r *CrawlResult) PageURLs() []string {
	urls := make([]string, 0, len(r.Pages))
	for _, p := range r.Pages {
		urls = append(urls, p.URL)
	}
	return urls
}
