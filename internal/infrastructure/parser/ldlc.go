package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"PartsScanner/internal/domain"
	"PartsScanner/internal/scanner"
)

var (
	skuExpr          = regexp.MustCompile(`[A-Z]{2}\d{12}`)
	modelExpr        = regexp.MustCompile(`\(([^()]+)\)`)
	parenthesesExpr  = regexp.MustCompile(`\([^()]*\)`)
	digitsExpr       = regexp.MustCompile(`\d+`)
	decimalExpr      = regexp.MustCompile(`[\d.,]+`)
	scriptPricesExpr = regexp.MustCompile(`\$\("#pdt-(\D{2}\d{12}) \.price"\)\.replaceWith\('<div class="price"><div class="price">(.+?)</sup>`)
)

// PriceMarkupCutover is the first month listings carry prices in the basket
// block instead of the legacy price cell.
var PriceMarkupCutover = time.Date(2019, time.February, 1, 0, 0, 0, 0, time.UTC)

var (
	articleSelectors = []string{
		`tr[class*="cmp"]:not([class*="group"])`,
		`li[class="pdt-item"]`,
	}
	paginationSelectors = []string{"ul.pagerItems", "ul.pagination", "ul.pagerUnitItems"}
	titleSelectors      = []string{
		`td[class="designation"] > a`,
		`div[class="pdt-info"] > h3[class="title-3"] > a`,
		`div[class="dsp-cell-right"] > div > div > h3[class="title-3"]`,
	}
	infoSelectors = []string{
		`td[class="designation"] > span`,
		`td[class="designation"] > div[class="caract"] > span`,
		`div[class="pdt-info"] > p[class="desc"]`,
		`div[class="dsp-cell-right"] > div > div > p[class="desc"]`,
	}
	currentPriceSelectors = []string{
		`div[class="basket"] > div[class="price"] > div[class="price"]`,
		`div.price div.price`,
	}
)

const legacyPriceSelector = `td[class="prix"] > span[class="price"]`

// LDLCOptions tune the listing parser for one page family.
type LDLCOptions struct {
	// Name registers the parser.
	Name string
	// LinkBase prefixes pagination links that are not absolute.
	LinkBase string
	// TrailingNavItems is the number of pager entries after the page numbers
	// (a "next" arrow on live pages).
	TrailingNavItems int
}

// LDLC parses LDLC product listings, archived or live.
type LDLC struct {
	opts LDLCOptions
}

var _ scanner.Parser = (*LDLC)(nil)

// NewLDLC builds the parser; the name defaults to "ldlc".
func NewLDLC(opts LDLCOptions) *LDLC {
	if opts.Name == "" {
		opts.Name = "ldlc"
	}
	opts.LinkBase = strings.TrimRight(opts.LinkBase, "/")
	return &LDLC{opts: opts}
}

// Name identifies the parser inside the registry.
func (l *LDLC) Name() string {
	return l.opts.Name
}

// Parse loads a listing page.
func (l *LDLC) Parse(content []byte) (scanner.Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &ldlcPage{doc: doc, raw: string(content), opts: l.opts}, nil
}

type ldlcPage struct {
	doc  *goquery.Document
	raw  string
	opts LDLCOptions

	pricesOnce sync.Once
	prices     map[string]float64
}

// Articles returns the product rows of the page.
func (p *ldlcPage) Articles() ([]scanner.Article, error) {
	for _, selector := range articleSelectors {
		found := p.doc.Find(selector)
		if found.Length() == 0 {
			continue
		}
		articles := make([]scanner.Article, 0, found.Length())
		found.Each(func(_ int, s *goquery.Selection) {
			articles = append(articles, &ldlcArticle{sel: s, page: p})
		})
		return articles, nil
	}
	return nil, domain.ErrNoArticles
}

// Pagination reads the first pager found; a page without pager is a single page.
func (p *ldlcPage) Pagination() (scanner.Pagination, error) {
	for _, selector := range paginationSelectors {
		pager := p.doc.Find(selector).First()
		if pager.Length() == 0 {
			continue
		}

		items := pager.Find("li")
		count := items.Length() - p.opts.TrailingNavItems
		if count < 1 {
			count = 1
		}

		links := make(map[int]string, count)
		items.Each(func(i int, li *goquery.Selection) {
			if i >= count {
				return
			}
			href, ok := li.Find("a").First().Attr("href")
			if !ok || strings.TrimSpace(href) == "" {
				return
			}
			links[i+1] = p.absolute(strings.TrimSpace(href))
		})
		return scanner.Pagination{Count: count, Links: links}, nil
	}
	return scanner.Pagination{Count: 1}, nil
}

func (p *ldlcPage) absolute(href string) string {
	if strings.HasPrefix(href, "http") {
		return href
	}
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return p.opts.LinkBase + href
}

// scriptPrices collects prices injected by inline scripts, keyed by product id.
func (p *ldlcPage) scriptPrices() map[string]float64 {
	p.pricesOnce.Do(func() {
		p.prices = map[string]float64{}
		for _, match := range scriptPricesExpr.FindAllStringSubmatch(p.raw, -1) {
			price, err := priceFromParts(strings.Split(match[2], "<sup>"))
			if err != nil {
				continue
			}
			if _, seen := p.prices[match[1]]; !seen {
				p.prices[match[1]] = price
			}
		}
	})
	return p.prices
}

type ldlcArticle struct {
	sel  *goquery.Selection
	page *ldlcPage
}

// Record extracts the product carried by the fragment.
func (a *ldlcArticle) Record(item domain.WorkItem) (domain.ProductRecord, error) {
	sku, err := a.sku()
	if err != nil {
		return domain.ProductRecord{}, err
	}

	title, ok := firstText(a.sel, titleSelectors)
	if !ok {
		return domain.ProductRecord{}, fmt.Errorf("title of %s: %w", sku, domain.ErrMissingField)
	}

	info, ok := firstText(a.sel, infoSelectors)
	if !ok {
		return domain.ProductRecord{}, fmt.Errorf("description of %s: %w", sku, domain.ErrMissingField)
	}
	description, model := splitModel(info)

	price, err := a.price(item.Date)
	if err != nil {
		return domain.ProductRecord{}, fmt.Errorf("price of %s: %w", sku, err)
	}

	return domain.ProductRecord{
		SKU:         sku,
		Category:    item.Category,
		Title:       title,
		Description: description,
		Model:       model,
		Price:       price,
		Date:        domain.Day(item.Date),
	}.Bounded(), nil
}

func (a *ldlcArticle) sku() (string, error) {
	if link := a.sel.Find(`td[class="designation"] > a[class="seemore"]`).First(); link.Length() > 0 {
		href, _ := link.Attr("href")
		// Archived links embed the capture timestamp; the product id comes last.
		if matches := skuExpr.FindAllString(href, -1); len(matches) > 0 {
			return matches[len(matches)-1], nil
		}
		return "", fmt.Errorf("sku in %q: %w", href, domain.ErrMissingField)
	}
	if id, ok := a.sel.Attr("data-id"); ok && id != "" {
		if utf8.RuneCountInString(id) > domain.MaxSKULen {
			return "", fmt.Errorf("sku %q too long: %w", id, domain.ErrMissingField)
		}
		return id, nil
	}
	return "", fmt.Errorf("sku: %w", domain.ErrMissingField)
}

func (a *ldlcArticle) price(date time.Time) (*float64, error) {
	if date.Before(PriceMarkupCutover) {
		cell := a.sel.Find(legacyPriceSelector).First()
		if cell.Length() == 0 {
			return nil, nil
		}
		return priceFromSelection(cell)
	}

	for _, selector := range currentPriceSelectors {
		if block := a.sel.Find(selector).First(); block.Length() > 0 {
			return priceFromSelection(block)
		}
	}

	id, _ := a.sel.Attr("data-id")
	if price, ok := a.page.scriptPrices()[id]; ok {
		return &price, nil
	}
	return nil, nil
}

func priceFromSelection(sel *goquery.Selection) (*float64, error) {
	markup, err := sel.Html()
	if err != nil {
		return nil, err
	}
	price, err := priceFromParts(strings.Split(markup, "<sup>"))
	if err != nil {
		return nil, err
	}
	return &price, nil
}

// priceFromParts reads a price split around its <sup> cents: with two parts
// the digits of each side form the integral and fractional values, with one
// part the decimal characters are kept and a comma is the decimal separator.
func priceFromParts(parts []string) (float64, error) {
	var literal string
	if len(parts) >= 2 {
		integral := strings.Join(digitsExpr.FindAllString(parts[0], -1), "")
		fractional := strings.Join(digitsExpr.FindAllString(parts[1], -1), "")
		literal = integral + "." + fractional
	} else if len(parts) == 1 {
		text := strings.ReplaceAll(parts[0], " ", "")
		literal = strings.ReplaceAll(strings.Join(decimalExpr.FindAllString(text, -1), ""), ",", ".")
	}

	price, err := strconv.ParseFloat(literal, 64)
	if err != nil {
		return 0, fmt.Errorf("read price %q: %w", literal, err)
	}
	return price, nil
}

// splitModel returns the text with parenthesized groups removed and the
// content of the first group as the model.
func splitModel(info string) (description, model string) {
	description = strings.TrimSpace(parenthesesExpr.ReplaceAllString(info, ""))
	if match := modelExpr.FindStringSubmatch(info); match != nil {
		model = match[1]
	}
	return description, model
}

func firstText(sel *goquery.Selection, selectors []string) (string, bool) {
	for _, selector := range selectors {
		if found := sel.Find(selector).First(); found.Length() > 0 {
			return collapse(found.Text()), true
		}
	}
	return "", false
}

func collapse(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
