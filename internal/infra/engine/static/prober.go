package static

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	domain "github.com/bryanwahyu/shopwatch/internal/domain/scans"
)

// Prober is the quick-scan engine. It fetches the page over plain HTTP and
// runs the checks that are possible without a browser: purchase control,
// price, images, template integrity and load time. Script and checkout
// checks need the browser engine.
type Prober struct {
	client     *http.Client
	slowLoadMS int64
}

func NewProber(timeout time.Duration, slowLoadMS int64) *Prober {
	return &Prober{
		client:     &http.Client{Timeout: timeout},
		slowLoadMS: slowLoadMS,
	}
}

const maxBodyBytes = 4 << 20

func (p *Prober) Run(ctx context.Context, req domain.RunRequest) (domain.RunResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return domain.RunResult{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", "shopwatch-prober/1.0")

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return domain.RunResult{}, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return domain.RunResult{}, domain.ErrTargetNotFound
	}
	if resp.StatusCode >= 400 {
		return domain.RunResult{}, fmt.Errorf("fetch %s: status %d", req.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return domain.RunResult{}, fmt.Errorf("read body: %w", err)
	}
	loadMS := time.Since(start).Milliseconds()

	page := parsePage(bytes.NewReader(body))

	return domain.RunResult{
		LoadTimeMS: loadMS,
		Findings:   p.evaluate(page, loadMS),
		HTML:       body,
	}, nil
}

// pageFacts is what a single tokenizer pass extracts from the markup.
type pageFacts struct {
	Title         string
	HasBuyControl bool
	HasPrice      bool
	ImageCount    int
	BrokenImages  int
	TemplateLeaks []string
}

var buyControlHints = []string{
	"add to cart", "add to bag", "add to basket", "buy now", "addtocart", "add-to-cart",
}

var priceHints = []string{
	"price", "amount", "cost",
}

// templateMarkers are unrendered template expressions leaking into output.
var templateMarkers = []string{
	"{{", "{%", "<%=", "undefined", "[object object]",
}

func parsePage(body io.Reader) pageFacts {
	var facts pageFacts
	z := html.NewTokenizer(body)
	var inTitle, inScript bool

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return facts

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := z.TagName()
			tag := string(tn)

			switch tag {
			case "title":
				inTitle = true
			case "script", "style":
				inScript = true
			case "img":
				facts.ImageCount++
				if hasAttr {
					src := extractAttr(z, "src")
					if src == "" || strings.HasPrefix(src, "data:,") {
						facts.BrokenImages++
					}
				} else {
					facts.BrokenImages++
				}
			case "button", "input", "a":
				if hasAttr && attrsSuggestBuyControl(z) {
					facts.HasBuyControl = true
				}
			case "span", "div", "p", "meta":
				if hasAttr && attrsSuggestPrice(z) {
					facts.HasPrice = true
				}
			}

		case html.TextToken:
			text := strings.TrimSpace(string(z.Text()))
			if text == "" {
				break
			}
			if inTitle {
				facts.Title = text
				inTitle = false
				break
			}
			if inScript {
				break
			}
			lower := strings.ToLower(text)
			for _, hint := range buyControlHints {
				if strings.Contains(lower, hint) {
					facts.HasBuyControl = true
					break
				}
			}
			if containsCurrency(text) {
				facts.HasPrice = true
			}
			for _, marker := range templateMarkers {
				if strings.Contains(lower, marker) && len(facts.TemplateLeaks) < 5 {
					facts.TemplateLeaks = append(facts.TemplateLeaks, text)
					break
				}
			}

		case html.EndTagToken:
			tn, _ := z.TagName()
			switch string(tn) {
			case "title":
				inTitle = false
			case "script", "style":
				inScript = false
			}
		}
	}
}

func (p *Prober) evaluate(facts pageFacts, loadMS int64) []domain.RawFinding {
	findings := make([]domain.RawFinding, 0, 5)

	if facts.HasBuyControl {
		findings = append(findings, pass("purchase-control", "purchase control present"))
	} else {
		findings = append(findings, domain.RawFinding{
			Check:      "purchase-control",
			Verdict:    domain.VerdictFail,
			Confidence: 0.8,
			Message:    "no add-to-cart or buy control found in markup",
		})
	}

	if facts.HasPrice {
		findings = append(findings, pass("product-price", "price present"))
	} else {
		findings = append(findings, domain.RawFinding{
			Check:      "product-price",
			Verdict:    domain.VerdictFail,
			Confidence: 0.75,
			Message:    "no price element or currency amount found",
		})
	}

	switch {
	case facts.ImageCount == 0:
		findings = append(findings, domain.RawFinding{
			Check:      "product-images",
			Verdict:    domain.VerdictFail,
			Confidence: 0.75,
			Message:    "page contains no images",
		})
	case facts.BrokenImages > 0:
		findings = append(findings, domain.RawFinding{
			Check:      "product-images",
			Verdict:    domain.VerdictFail,
			Confidence: 0.7,
			Message:    fmt.Sprintf("%d of %d images have no usable source", facts.BrokenImages, facts.ImageCount),
		})
	default:
		findings = append(findings, pass("product-images", fmt.Sprintf("%d images with sources", facts.ImageCount)))
	}

	if len(facts.TemplateLeaks) > 0 {
		findings = append(findings, domain.RawFinding{
			Check:      "template-integrity",
			Verdict:    domain.VerdictFail,
			Confidence: 0.85,
			Message:    "unrendered template expressions in page text",
			Detail:     strings.Join(facts.TemplateLeaks, "; "),
		})
	} else {
		findings = append(findings, pass("template-integrity", "no template leakage detected"))
	}

	if p.slowLoadMS > 0 && loadMS > p.slowLoadMS {
		findings = append(findings, domain.RawFinding{
			Check:      "load-time",
			Verdict:    domain.VerdictFail,
			Confidence: 0.9,
			Message:    fmt.Sprintf("page loaded in %dms, threshold %dms", loadMS, p.slowLoadMS),
		})
	} else {
		findings = append(findings, pass("load-time", fmt.Sprintf("page loaded in %dms", loadMS)))
	}

	return findings
}

func pass(check, msg string) domain.RawFinding {
	return domain.RawFinding{Check: check, Verdict: domain.VerdictPass, Confidence: 1, Message: msg}
}

func attrsSuggestBuyControl(z *html.Tokenizer) bool {
	return attrsContainAny(z, buyControlHints)
}

func attrsSuggestPrice(z *html.Tokenizer) bool {
	return attrsContainAny(z, priceHints)
}

func attrsContainAny(z *html.Tokenizer, hints []string) bool {
	for {
		key, val, more := z.TagAttr()
		k := string(key)
		if k == "class" || k == "id" || k == "name" || k == "itemprop" || k == "data-action" || k == "aria-label" {
			v := strings.ToLower(string(val))
			for _, hint := range hints {
				if strings.Contains(v, hint) {
					return true
				}
			}
		}
		if !more {
			return false
		}
	}
}

func extractAttr(z *html.Tokenizer, target string) string {
	for {
		key, val, more := z.TagAttr()
		if string(key) == target {
			return strings.TrimSpace(string(val))
		}
		if !more {
			return ""
		}
	}
}

var currencySymbols = []string{"$", "€", "£", "¥", "USD", "EUR", "GBP", "Rp"}

func containsCurrency(text string) bool {
	for _, sym := range currencySymbols {
		idx := strings.Index(text, sym)
		if idx < 0 {
			continue
		}
		rest := strings.TrimLeft(text[idx+len(sym):], " ")
		if len(rest) > 0 && rest[0] >= '0' && rest[0] <= '9' {
			return true
		}
	}
	return false
}
