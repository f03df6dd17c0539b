package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/milan101q/specialoffer/engine/domain"
)

// gallerySelectors targets carousel and gallery containers before falling
// back to every image on the page.
const gallerySelectors = `[class*="gallery"] img, [class*="carousel"] img, [class*="slider"] img, [class*="slide"] img, [class*="photo"] img, [id*="gallery"] img`

// lazyAttrs are tried when src is missing or a lazy-load stub.
var lazyAttrs = []string{"data-src", "data-lazy", "data-original", "data-lazy-src"}

var imageExtPattern = regexp.MustCompile(`(?i)\.(jpe?g|png|webp|gif|avif)(\?|$)`)

// placeholderPatterns mark dealer-platform stand-in images.
var placeholderPatterns = []string{"no-image", "noimage", "no_image", "placeholder", "comingsoon", "coming-soon", "default.", "spacer", "blank.", "1x1"}

// nonVehiclePatterns mark site chrome that lives inside gallery markup.
var nonVehiclePatterns = []string{"logo", "banner", "badge", "icon", "sprite", "button", "avatar"}

// extractImages collects gallery image URLs, resolved against the listing
// URL, filtered, de-duplicated in document order, and capped.
func extractImages(doc *goquery.Document, listingURL string) []string {
	base, err := url.Parse(listingURL)
	if err != nil {
		base = nil
	}

	candidates := collectImageURLs(doc.Find(gallerySelectors), base)
	if len(candidates) == 0 {
		candidates = collectImageURLs(doc.Find("img"), base)
	}

	seen := make(map[string]bool, len(candidates))
	images := make([]string, 0, len(candidates))
	for _, u := range candidates {
		if seen[u] || !vehicleImageURL(u) {
			continue
		}
		seen[u] = true
		images = append(images, u)
		if len(images) == domain.MaxImagesPerVehicle {
			break
		}
	}
	return images
}

func collectImageURLs(sel *goquery.Selection, base *url.URL) []string {
	var urls []string
	sel.Each(func(_ int, s *goquery.Selection) {
		raw, _ := s.Attr("src")
		if raw == "" || strings.HasPrefix(raw, "data:") {
			for _, attr := range lazyAttrs {
				if v, ok := s.Attr(attr); ok && v != "" {
					raw = v
					break
				}
			}
		}
		if raw == "" || strings.HasPrefix(raw, "data:") {
			return
		}
		if abs := absoluteURL(raw, base); abs != "" {
			urls = append(urls, abs)
		}
	})
	return urls
}

func absoluteURL(raw string, base *url.URL) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

// vehicleImageURL filters to URLs that look like vehicle photography: a real
// image extension or a photo CDN path, minus placeholders and site chrome.
func vehicleImageURL(u string) bool {
	lower := strings.ToLower(u)
	if !imageExtPattern.MatchString(lower) &&
		!strings.Contains(lower, "/photo") && !strings.Contains(lower, "/image") &&
		!strings.Contains(lower, "cdn") {
		return false
	}
	for _, p := range placeholderPatterns {
		if strings.Contains(lower, p) {
			return false
		}
	}
	for _, p := range nonVehiclePatterns {
		if strings.Contains(lower, p) {
			return false
		}
	}
	return true
}
