package crawl

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// defaultLinkPatterns match detail-page paths across the dealer platforms we
// crawl. A Source can narrow these via CrawlOpts.
var defaultLinkPatterns = []string{
	"/inventory/", "/vehicle", "/detail", "/listing", "/used-", "/vdp",
}

var pageParams = []string{"page", "pg", "p"}

var nextTextPattern = regexp.MustCompile(`(?i)\bnext\b|»|›`)

// detailLinks returns absolute detail-page URLs found on a listing page, in
// document order, de-duplicated.
func detailLinks(doc *goquery.Document, base *url.URL, patterns []string) []string {
	if len(patterns) == 0 {
		patterns = defaultLinkPatterns
	}
	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		abs := resolveLink(href, base)
		if abs == "" || seen[abs] {
			return
		}
		lower := strings.ToLower(abs)
		for _, p := range patterns {
			if strings.Contains(lower, p) {
				seen[abs] = true
				links = append(links, abs)
				return
			}
		}
	})
	return links
}

// nextPage locates the pagination link for the page after current. Heuristics
// in priority order: rel=next, "next"-styled anchors, then an anchor whose
// page-number query parameter is exactly current's page plus one.
func nextPage(doc *goquery.Document, base *url.URL, current *url.URL) string {
	if href, ok := doc.Find(`a[rel="next"]`).Attr("href"); ok {
		return resolveLink(href, base)
	}

	var next string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		if nextTextPattern.MatchString(s.Text()) || strings.Contains(strings.ToLower(class), "next") {
			href, _ := s.Attr("href")
			if abs := resolveLink(href, base); abs != "" {
				next = abs
				return false
			}
		}
		return true
	})
	if next != "" {
		return next
	}

	want := pageNumber(current) + 1
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		abs := resolveLink(href, base)
		if abs == "" {
			return true
		}
		if u, err := url.Parse(abs); err == nil && pageNumber(u) == want {
			next = abs
			return false
		}
		return true
	})
	return next
}

// pageNumber reads the page-number query parameter from u, defaulting to 1.
func pageNumber(u *url.URL) int {
	q := u.Query()
	for _, param := range pageParams {
		if v := q.Get(param); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				return n
			}
		}
	}
	return 1
}

func resolveLink(href string, base *url.URL) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}
