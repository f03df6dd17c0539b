package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/milan101q/specialoffer/engine/domain"
)

var (
	pricePattern   = regexp.MustCompile(`\$\s*([0-9][0-9,]*)`)
	mileagePattern = regexp.MustCompile(`(?i)\b([0-9][0-9,]*)\s*(?:miles?|mi\.?)\b`)
	digitBlob      = regexp.MustCompile(`\b[0-9]{7,}\b`)
	bareNumber     = regexp.MustCompile(`[0-9][0-9,]*`)
	mileWord       = regexp.MustCompile(`(?i)\bmile`)
)

const (
	priceSelectors   = `[itemprop="price"], [class*="price"], [id*="price"]`
	mileageSelectors = `[itemprop="mileageFromOdometer"], [class*="mileage"], [class*="odometer"], [id*="mileage"]`
)

// extractPriceMileage scans the document for both numeric fields. Price and
// mileage frequently sit adjacent in dealer markup and occasionally fuse into
// one digit blob, so each candidate passes a plausibility gate and a combined
// blob split runs as the last resort. Unknown stays 0.
func extractPriceMileage(doc *goquery.Document) (price, mileage int) {
	price = extractPrice(doc)
	mileage = extractMileage(doc)
	if price != 0 && mileage != 0 {
		return price, mileage
	}

	if p, m, ok := findCombinedBlob(doc); ok {
		if price == 0 {
			price = p
		}
		if mileage == 0 {
			mileage = m
		}
	}
	return price, mileage
}

// extractPrice tries price-labeled elements first, then any currency-prefixed
// number in the page body. Values outside the plausible asking-price range are
// rejected as misclassified mileage (or lot fees).
func extractPrice(doc *goquery.Document) int {
	var price int
	doc.Find(priceSelectors).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if content, ok := s.Attr("content"); ok {
			text = content + " " + text
		}
		if p := firstPlausiblePrice(text); p != 0 {
			price = p
			return false
		}
		return true
	})
	if price != 0 {
		return price
	}
	return firstPlausiblePrice(doc.Text())
}

func firstPlausiblePrice(text string) int {
	for _, m := range pricePattern.FindAllStringSubmatch(text, -1) {
		if v := parseNumber(m[1]); domain.PlausiblePrice(v) {
			return v
		}
	}
	return 0
}

// extractMileage tries mileage-labeled elements first, then any "miles"
// suffixed number in the page body. A labeled value under 1,000 with no
// literal "mile" nearby is rejected as a misclassified price.
func extractMileage(doc *goquery.Document) int {
	var mileage int
	doc.Find(mileageSelectors).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if m := mileagePattern.FindStringSubmatch(text); m != nil {
			if v := parseNumber(m[1]); domain.PlausibleMileage(v) {
				mileage = v
				return false
			}
		}
		// Labeled element with a bare number and no unit.
		if m := bareNumber.FindString(text); m != "" {
			v := parseNumber(m)
			if v < 1_000 && !mileWord.MatchString(text) {
				return true
			}
			if domain.PlausibleMileage(v) {
				mileage = v
				return false
			}
		}
		return true
	})
	if mileage != 0 {
		return mileage
	}
	for _, m := range mileagePattern.FindAllStringSubmatch(doc.Text(), -1) {
		if v := parseNumber(m[1]); domain.PlausibleMileage(v) {
			return v
		}
	}
	return 0
}

// findCombinedBlob looks for a fused price+mileage digit run, e.g. a page
// rendering "25995134902" where 25995 is the price and 134902 the mileage.
// Only runs of at least 7 digits whose value exceeds 1,000,000 qualify; the
// trailing six digits are read as mileage and the leading remainder as price.
func findCombinedBlob(doc *goquery.Document) (price, mileage int, ok bool) {
	for _, blob := range digitBlob.FindAllString(doc.Text(), -1) {
		v := parseNumber(blob)
		if v <= 1_000_000 {
			continue
		}
		p := parseNumber(blob[:len(blob)-6])
		m := parseNumber(blob[len(blob)-6:])
		if domain.PlausiblePrice(p) && domain.PlausibleMileage(m) {
			return p, m, true
		}
	}
	return 0, 0, false
}

func parseNumber(s string) int {
	v, err := strconv.Atoi(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return 0
	}
	return v
}
