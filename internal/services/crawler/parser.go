package crawler

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// pageContent is everything extracted from one fetched HTML document.
type pageContent struct {
	title          string
	hasTitle       bool
	hasDescription bool
	links          []string
	images         []string
}

// parsePage pulls the title, meta coverage, outbound links and image
// references from a document. Links and image sources are resolved against
// the page URL and deduplicated in document order.
func parsePage(doc *goquery.Document, pageURL *url.URL) *pageContent {
	content := &pageContent{}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	content.title = title
	content.hasTitle = title != ""

	doc.Find(`meta[name="description"]`).EachWithBreak(func(i int, s *goquery.Selection) bool {
		if desc, ok := s.Attr("content"); ok && strings.TrimSpace(desc) != "" {
			content.hasDescription = true
			return false
		}
		return true
	})

	linkSet := make(map[string]bool)
	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || shouldSkipLink(href) {
			return
		}
		resolved := resolveURL(href, pageURL)
		if resolved == "" || linkSet[resolved] {
			return
		}
		linkSet[resolved] = true
		content.links = append(content.links, resolved)
	})

	imageSet := make(map[string]bool)
	doc.Find("img[src]").Each(func(i int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok || strings.TrimSpace(src) == "" {
			return
		}
		resolved := resolveURL(src, pageURL)
		if resolved == "" || imageSet[resolved] {
			return
		}
		imageSet[resolved] = true
		content.images = append(content.images, resolved)
	})

	return content
}

// shouldSkipLink filters link schemes that can never be crawled.
func shouldSkipLink(href string) bool {
	href = strings.ToLower(strings.TrimSpace(href))
	if href == "" {
		return true
	}
	if strings.HasPrefix(href, "#") {
		return true
	}
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "sms:", "ftp:", "data:"} {
		if strings.HasPrefix(href, prefix) {
			return true
		}
	}
	return false
}

// resolveURL resolves a potentially relative reference against its page,
// dropping fragments so the same page is never visited twice.
func resolveURL(href string, pageURL *url.URL) string {
	resolved, err := pageURL.Parse(href)
	if err != nil {
		return ""
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}

// normalizePageURL is the visited-set key: fragment stripped and the empty
// path normalized to "/" so example.com and example.com/ are one page.
func normalizePageURL(u *url.URL) string {
	clone := *u
	clone.Fragment = ""
	if clone.Path == "" {
		clone.Path = "/"
	}
	return clone.String()
}

// sameHost reports whether a link stays on the crawl's host.
func sameHost(a, b *url.URL) bool {
	return strings.EqualFold(a.Host, b.Host)
}

// pathContainsKeyword reports whether the URL path matches any exclusion
// keyword as a case-insensitive substring.
func pathContainsKeyword(u *url.URL, keywords []string) bool {
	path := strings.ToLower(u.Path)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(path, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
