package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// carfaxURLTemplate builds the canonical report URL when no link is found on
// the page. Carfax resolves reports directly by VIN through this endpoint.
const carfaxURLTemplate = "https://www.carfax.com/VehicleHistory/p/Report.cfx?partner=DVW_0&vin=%s"

var carfaxHrefPattern = regexp.MustCompile(`(?i)https?://[^\s"'()]*carfax\.com[^\s"'()]*`)

type reportStrategy func(doc *goquery.Document) string

var reportStrategies = []reportStrategy{
	reportFromBrandedAnchor,
	reportFromBrandedImage,
	reportFromGenericAnchor,
	reportFromStructuredData,
	reportFromEventHandler,
	reportFromDataAttrs,
}

// extractReportURL runs the report-link strategy chain, falling back to a
// deterministic template URL built from the VIN. Whatever URL wins, the VIN
// is guaranteed present as a query parameter.
func extractReportURL(doc *goquery.Document, vin string) string {
	for _, strat := range reportStrategies {
		if u := strat(doc); u != "" {
			return ensureVINParam(u, vin)
		}
	}
	return fmt.Sprintf(carfaxURLTemplate, vin)
}

// reportFromBrandedAnchor finds anchors whose visible text names the provider.
func reportFromBrandedAnchor(doc *goquery.Document) string {
	return findAnchor(doc, func(s *goquery.Selection) bool {
		return strings.Contains(strings.ToLower(s.Text()), "carfax")
	})
}

// reportFromBrandedImage finds anchors wrapping a provider-branded image.
func reportFromBrandedImage(doc *goquery.Document) string {
	return findAnchor(doc, func(s *goquery.Selection) bool {
		img := s.Find("img").First()
		if img.Length() == 0 {
			return false
		}
		src, _ := img.Attr("src")
		alt, _ := img.Attr("alt")
		return strings.Contains(strings.ToLower(src+alt), "carfax")
	})
}

// reportFromGenericAnchor accepts "view report" / "vehicle history" style
// link text when the href points at the provider.
func reportFromGenericAnchor(doc *goquery.Document) string {
	return findAnchor(doc, func(s *goquery.Selection) bool {
		text := strings.ToLower(s.Text())
		if !strings.Contains(text, "report") && !strings.Contains(text, "history") {
			return false
		}
		href, _ := s.Attr("href")
		return strings.Contains(strings.ToLower(href), "carfax")
	})
}

func reportFromStructuredData(doc *goquery.Document) string {
	var found string
	doc.Find(`[itemprop="url"], meta[content]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, v := range []string{s.AttrOr("content", ""), s.AttrOr("href", "")} {
			if m := carfaxHrefPattern.FindString(v); m != "" {
				found = m
				return false
			}
		}
		return true
	})
	return found
}

// reportFromEventHandler digs branded URLs out of inline onclick handlers,
// a pattern some dealer platforms use instead of plain anchors.
func reportFromEventHandler(doc *goquery.Document) string {
	var found string
	doc.Find("[onclick]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if m := carfaxHrefPattern.FindString(s.AttrOr("onclick", "")); m != "" {
			found = m
			return false
		}
		return true
	})
	return found
}

func reportFromDataAttrs(doc *goquery.Document) string {
	var found string
	doc.Find("[data-carfax-url], [data-report-url], [data-history-url]").
		EachWithBreak(func(_ int, s *goquery.Selection) bool {
			for _, attr := range []string{"data-carfax-url", "data-report-url", "data-history-url"} {
				if v := s.AttrOr(attr, ""); strings.HasPrefix(v, "http") {
					found = v
					return false
				}
			}
			return true
		})
	return found
}

func findAnchor(doc *goquery.Document, match func(*goquery.Selection) bool) string {
	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !match(s) {
			return true
		}
		href, _ := s.Attr("href")
		if strings.HasPrefix(href, "http") {
			found = href
			return false
		}
		return true
	})
	return found
}

// ensureVINParam appends the VIN as a query parameter when the found URL
// lacks one, so the link always resolves to the right report.
func ensureVINParam(reportURL, vin string) string {
	u, err := url.Parse(reportURL)
	if err != nil {
		return fmt.Sprintf(carfaxURLTemplate, vin)
	}
	q := u.Query()
	for key := range q {
		if strings.EqualFold(key, "vin") {
			return reportURL
		}
	}
	q.Set("vin", vin)
	u.RawQuery = q.Encode()
	return u.String()
}
