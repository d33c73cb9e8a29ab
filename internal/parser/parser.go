// Package parser extracts store identifiers from free-game feed pages with goquery.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/freegame-watcher/internal/harvest"
)

// DefaultItemSelector matches one announcement on a feed page.
const DefaultItemSelector = "article"

var storeLink = regexp.MustCompile(`(?i)(?:store\.steampowered\.com|steamcommunity\.com|s\.team)/(app|a|sub|subs|package)/(\d+)`)

// Parser implements harvest.PageParser.
type Parser struct {
	itemSelector string
}

// New returns a Parser. An empty selector means DefaultItemSelector.
func New(itemSelector string) *Parser {
	if strings.TrimSpace(itemSelector) == "" {
		itemSelector = DefaultItemSelector
	}
	return &Parser{itemSelector: itemSelector}
}

// Parse returns one match per store link. Links inside an announcement item take the
// item's text as context and its published time, when present, as timestamp. Pages
// without items are treated as a single untimed item.
func (p *Parser) Parse(text string) ([]harvest.RawMatch, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	var matches []harvest.RawMatch
	items := doc.Find(p.itemSelector)
	if items.Length() == 0 {
		return collect(doc.Selection, nil, matches), nil
	}
	items.Each(func(_ int, item *goquery.Selection) {
		matches = collect(item, publishedMs(item), matches)
	})
	return matches, nil
}

func collect(scope *goquery.Selection, ts *float64, out []harvest.RawMatch) []harvest.RawMatch {
	context := squash(scope.Text())
	scope.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		m := storeLink.FindStringSubmatch(href)
		if m == nil {
			return
		}
		out = append(out, harvest.RawMatch{
			IDText:      m[2],
			KindHint:    kindOf(m[1]),
			Context:     context,
			TimestampMs: ts,
		})
	})
	return out
}

func kindOf(segment string) harvest.Kind {
	switch strings.ToLower(segment) {
	case "app", "a":
		return harvest.KindApp
	default:
		return harvest.KindPackage
	}
}

// publishedMs reads a <time datetime> child or a data-published attribute.
// Both RFC 3339 and epoch milliseconds are accepted.
func publishedMs(item *goquery.Selection) *float64 {
	raw, ok := item.Find("time[datetime]").First().Attr("datetime")
	if !ok {
		raw, ok = item.Attr("data-published")
	}
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		ms := harvest.TimeToMs(t)
		return &ms
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return &v
	}
	return nil
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
