package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/milan101q/specialoffer/engine/domain"
)

var (
	yearPattern  = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	titleNoise   = map[string]bool{"for": true, "sale": true, "used": true, "certified": true, "pre-owned": true, "|": true, "-": true}
	nonTitleWord = regexp.MustCompile(`[|•·]`)
)

// extractTitle returns the page's listing title: first non-empty heading,
// falling back to the social-preview meta tag.
func extractTitle(doc *goquery.Document) string {
	var title string
	doc.Find("h1, h2").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		t := strings.TrimSpace(s.Text())
		if t != "" {
			title = t
			return false
		}
		return true
	})
	if title == "" {
		title, _ = doc.Find(`meta[property="og:title"]`).Attr("content")
		title = strings.TrimSpace(title)
	}
	return collapseSpace(title)
}

// parseTitle pulls year, make, and model out of a human-readable title like
// "2019 Chevy Silverado 1500 LT for sale". Year must land in the plausible
// model-year window; make resolves through the alias vocabulary; model is
// whatever follows the make up to the first noise token.
func parseTitle(title string, now time.Time) (year int, make_ string, model string) {
	if title == "" {
		return 0, "", ""
	}
	head := nonTitleWord.Split(title, 2)[0]

	if m := yearPattern.FindString(head); m != "" {
		y, _ := strconv.Atoi(m)
		if y >= domain.MinModelYear && y <= domain.MaxModelYear(now) {
			year = y
		}
	}

	tokens := strings.Fields(head)
	found, next, ok := domain.FindMake(tokens)
	if !ok {
		return year, "", ""
	}
	make_ = found

	var modelTokens []string
	for _, tok := range tokens[next:] {
		if titleNoise[strings.ToLower(tok)] || yearPattern.MatchString(tok) {
			break
		}
		modelTokens = append(modelTokens, tok)
		if len(modelTokens) == 3 {
			break
		}
	}
	return year, make_, strings.Join(modelTokens, " ")
}

// structuredData carries vehicle hints from schema.org microdata markers.
type structuredData struct {
	Make  string
	Model string
	Year  int
}

// structuredVehicleData reads itemprop markers when the page carries them.
// Used only to backfill fields the title parse could not produce.
func structuredVehicleData(doc *goquery.Document) structuredData {
	var sd structuredData
	sd.Make = itempropValue(doc, "brand")
	if canonical, ok := domain.CanonicalMake(sd.Make); ok {
		sd.Make = canonical
	}
	sd.Model = itempropValue(doc, "model")
	for _, prop := range []string{"vehicleModelDate", "productionDate", "releaseDate"} {
		if v := itempropValue(doc, prop); v != "" {
			if m := yearPattern.FindString(v); m != "" {
				sd.Year, _ = strconv.Atoi(m)
				break
			}
		}
	}
	return sd
}

func itempropValue(doc *goquery.Document, prop string) string {
	sel := doc.Find(`[itemprop="` + prop + `"]`).First()
	if sel.Length() == 0 {
		return ""
	}
	if content, ok := sel.Attr("content"); ok {
		return strings.TrimSpace(content)
	}
	return strings.TrimSpace(sel.Text())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
