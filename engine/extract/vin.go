package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/milan101q/specialoffer/engine/domain"
)

// vinLabelPattern matches a "VIN" label followed by a 17-character code,
// e.g. "VIN: 1HGCM82633A004352" or "VIN# 1HGCM82633A004352".
var vinLabelPattern = regexp.MustCompile(`(?i)\bVIN\b[:#\s]*([A-HJ-NPR-Z0-9]{17})\b`)

// vinStrategy yields a candidate VIN or "".
type vinStrategy func(doc *goquery.Document, listingURL string) string

var vinStrategies = []vinStrategy{
	vinFromLabelText,
	vinFromAttributes,
	vinFromMeta,
	vinFromURL,
}

// extractVIN runs the VIN strategy chain and returns the first valid VIN.
func extractVIN(doc *goquery.Document, listingURL string) string {
	for _, strat := range vinStrategies {
		if vin := domain.NormalizeVIN(strat(doc, listingURL)); domain.ValidVIN(vin) {
			return vin
		}
	}
	return ""
}

// vinFromLabelText scans visible text for a VIN label followed by the code.
// This is the highest-precision strategy since dealers rarely label non-VINs.
func vinFromLabelText(doc *goquery.Document, _ string) string {
	if m := vinLabelPattern.FindStringSubmatch(doc.Text()); m != nil {
		return m[1]
	}
	return ""
}

// vinFromAttributes checks well-known VIN carrier attributes and elements
// whose id or class names the VIN.
func vinFromAttributes(doc *goquery.Document, _ string) string {
	for _, attr := range []string{"data-vin", "vin", "data-vehicle-vin"} {
		var found string
		doc.Find("[" + attr + "]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			v, _ := s.Attr(attr)
			if domain.ValidVIN(v) {
				found = v
				return false
			}
			return true
		})
		if found != "" {
			return found
		}
	}

	var found string
	doc.Find(`[itemprop="vehicleIdentificationNumber"], [id*="vin"], [class*="vin"]`).
		EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := strings.TrimSpace(s.Text())
			if domain.ValidVIN(text) {
				found = text
				return false
			}
			if m := domain.VINPattern.FindString(text); m != "" && domain.ValidVIN(m) {
				found = m
				return false
			}
			return true
		})
	return found
}

// vinFromMeta scans meta tag content for an embedded VIN.
func vinFromMeta(doc *goquery.Document, _ string) string {
	var found string
	doc.Find("meta[content]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		content, _ := s.Attr("content")
		if m := domain.VINPattern.FindString(strings.ToUpper(content)); m != "" {
			found = m
			return false
		}
		return true
	})
	return found
}

// vinFromURL matches the VIN pattern against the detail URL itself. Many
// dealer platforms embed the VIN in the listing path or query string.
func vinFromURL(_ *goquery.Document, listingURL string) string {
	return domain.VINPattern.FindString(strings.ToUpper(listingURL))
}
