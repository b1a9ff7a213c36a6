package scraper

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"jobinsight/discovery-service/internal/errors"
	"jobinsight/discovery-service/internal/linknorm"
	"jobinsight/discovery-service/internal/logging"
	"jobinsight/discovery-service/internal/model"
)

// HTMLSource scrapes a server-rendered search page and, optionally, each
// posting's detail page. All requests share one rate limiter.
type HTMLSource struct {
	def     Definition
	client  *http.Client
	limiter *rate.Limiter
	norm    *linknorm.Normalizer
	logger  *zap.Logger
}

// NewHTMLSource returns a source for def. def must have passed
// ParseDefinitions or carry equivalent defaults.
func NewHTMLSource(def Definition, norm *linknorm.Normalizer, logger *zap.Logger) (*HTMLSource, error) {
	def.applyDefaults()
	if err := def.validate(); err != nil {
		return nil, err
	}
	if norm == nil {
		norm = linknorm.New()
	}
	return &HTMLSource{
		def:     def,
		client:  newHTTPClient(),
		limiter: rate.NewLimiter(rate.Limit(def.RatePerSecond), 1),
		norm:    norm,
		logger:  logger.Named(def.Name),
	}, nil
}

func (s *HTMLSource) Name() string { return s.def.Name }

// Fetch reads search pages until count postings are collected, a page has no
// cards or MaxPages is reached. A failure on the first page is an error;
// later pages only end the walk.
func (s *HTMLSource) Fetch(ctx context.Context, keyword string, count int) ([]model.RawPosting, error) {
	if count <= 0 {
		return nil, nil
	}

	var out []model.RawPosting
	seen := make(map[string]struct{})

	for page := 1; page <= s.def.MaxPages && len(out) < count; page++ {
		pageURL := s.searchURL(keyword, page)
		doc, err := s.get(ctx, pageURL)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			s.logger.Warn("search page failed, stopping", zap.Int("page", page), zap.Error(err))
			break
		}

		cards := s.parseCards(doc, pageURL)
		if len(cards) == 0 {
			break
		}

		// Detail pages are fetched only for as many cards as are still needed.
		for len(cards) > 0 && len(out) < count {
			n := min(len(cards), count-len(out))
			chunk := s.fillDetails(ctx, cards[:n])
			cards = cards[n:]

			for _, p := range chunk {
				if _, dup := seen[p.Link]; dup {
					continue
				}
				if s.def.RequireSkills && len(p.Skills) == 0 {
					s.logger.Debug("no skills found, skipping", zap.String(logging.FieldLink, p.Link))
					continue
				}
				seen[p.Link] = struct{}{}
				out = append(out, p)
				if len(out) == count {
					break
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (s *HTMLSource) searchURL(keyword string, page int) string {
	r := strings.NewReplacer(
		"{keyword}", url.PathEscape(keyword),
		"{page}", strconv.Itoa(page),
	)
	return r.Replace(s.def.SearchURL)
}

func (s *HTMLSource) get(ctx context.Context, rawURL string) (*goquery.Document, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "GET %s", rawURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("GET %s: status %d", rawURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", rawURL)
	}
	return doc, nil
}

func (s *HTMLSource) parseCards(doc *goquery.Document, pageURL string) []model.RawPosting {
	sel := s.def.Selectors
	base, _ := url.Parse(pageURL)

	var cards []model.RawPosting
	doc.Find(sel.Card).Each(func(_ int, card *goquery.Selection) {
		title := cleanText(card.Find(sel.Title).First().Text())
		if title == "" {
			return
		}
		link := s.cardLink(card, base)
		if link == "" {
			return
		}

		p := model.RawPosting{Title: title, Link: link, Source: s.def.Name}
		if sel.Salary != "" {
			card.Find(sel.Salary).EachWithBreak(func(_ int, el *goquery.Selection) bool {
				text := cleanText(el.Text())
				if text == "" || (sel.SalaryContains != "" && !strings.Contains(text, sel.SalaryContains)) {
					return true
				}
				p.SalaryText = &text
				return false
			})
		}
		if sel.Skills != "" {
			p.Skills = texts(card.Find(sel.Skills))
		}
		cards = append(cards, p)
	})
	return cards
}

func (s *HTMLSource) cardLink(card *goquery.Selection, base *url.URL) string {
	sel := s.def.Selectors
	el := card
	if sel.Link != "" {
		el = card.Find(sel.Link).First()
	}
	val := strings.TrimSpace(el.AttrOr(sel.LinkAttr, ""))
	if val == "" {
		return ""
	}
	if sel.LinkTrimPrefix != "" {
		if !strings.HasPrefix(val, sel.LinkTrimPrefix) {
			return ""
		}
		val = strings.TrimPrefix(val, sel.LinkTrimPrefix)
	}
	if sel.LinkTemplate != "" {
		val = strings.ReplaceAll(sel.LinkTemplate, "{value}", val)
	}

	ref, err := url.Parse(val)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	return s.norm.Normalize(ref.String())
}

// fillDetails adds detail-page skills to each card using a bounded pool. A
// failed detail page leaves the card's skills as they were.
func (s *HTMLSource) fillDetails(ctx context.Context, cards []model.RawPosting) []model.RawPosting {
	if s.def.Selectors.DetailSkills == "" {
		return cards
	}

	var g errgroup.Group
	g.SetLimit(s.def.DetailWorkers)
	for i := range cards {
		g.Go(func() error {
			doc, err := s.get(ctx, cards[i].Link)
			if err != nil {
				s.logger.Debug("detail page failed", zap.String(logging.FieldLink, cards[i].Link), zap.Error(err))
				return nil
			}
			cards[i].Skills = mergeSkills(cards[i].Skills, texts(doc.Find(s.def.Selectors.DetailSkills)))
			return nil
		})
	}
	_ = g.Wait()
	return cards
}

func texts(sel *goquery.Selection) []string {
	var out []string
	sel.Each(func(_ int, el *goquery.Selection) {
		if t := cleanText(el.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}

func mergeSkills(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		key := strings.ToLower(s)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
