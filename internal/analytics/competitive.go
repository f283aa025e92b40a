package analytics

import (
	"math"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/brandlens/visibility-bot/internal/models"
)

// Hosts that list or discuss products rather than being one
var publisherDomains = map[string]bool{
	"wikipedia.org": true,
	"reddit.com":    true,
	"youtube.com":   true,
	"medium.com":    true,
	"quora.com":     true,
	"linkedin.com":  true,
	"g2.com":        true,
	"capterra.com":  true,
	"forbes.com":    true,
	"github.com":    true,
	"google.com":    true,
}

// cases.Caser keeps state and is not safe for concurrent use.
func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}

// Identity is a normalized competitor
type Identity struct {
	Name   string
	Domain string
}

func (id Identity) key() string {
	if id.Domain != "" {
		return id.Domain
	}
	return strings.ToLower(id.Name)
}

// CompetitorIdentity derives a competitor from a result item: the registrable
// domain of its URL when it has one, otherwise the leading part of its title.
func CompetitorIdentity(item models.SearchResult) Identity {
	if domain := registrableDomain(item.URL); domain != "" && !publisherDomains[domain] {
		label := strings.SplitN(domain, ".", 2)[0]
		label = strings.NewReplacer("-", " ", "_", " ").Replace(label)
		return Identity{Name: titleCase(label), Domain: domain}
	}
	return Identity{Name: nameFromTitle(item.Title)}
}

func registrableDomain(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}
	return domain
}

// nameFromTitle handles "Name - tagline", "Name | site" and "Name: ..." titles
func nameFromTitle(title string) string {
	title = strings.TrimSpace(title)
	for _, sep := range []string{" - ", " | ", " – ", " — ", ": "} {
		if i := strings.Index(title, sep); i > 0 {
			title = title[:i]
		}
	}
	words := strings.Fields(title)
	if len(words) > 4 {
		words = words[:4]
	}
	return strings.Join(words, " ")
}

// Aggregator builds competitive reports for a brand
type Aggregator struct {
	scorer SentimentScorer
	topN   int
}

// NewAggregator creates an aggregator. A nil scorer uses LexicalSentiment.
func NewAggregator(scorer SentimentScorer, topN int) *Aggregator {
	if scorer == nil {
		scorer = NewLexicalSentiment()
	}
	return &Aggregator{scorer: scorer, topN: topN}
}

type competitorAcc struct {
	identity     Identity
	mentions     int
	sentimentSum float64
	positionSum  int
	providers    []string
	seenProvider map[string]bool
}

func (c *competitorAcc) add(provider string, position int, sentiment float64) {
	c.mentions++
	c.positionSum += position
	c.sentimentSum += sentiment
	if provider != "" && !c.seenProvider[provider] {
		c.seenProvider[provider] = true
		c.providers = append(c.providers, provider)
	}
}

// tally keeps competitors in first-seen order
type tally struct {
	order []*competitorAcc
	byKey map[string]*competitorAcc
	own   int
}

func newTally() *tally {
	return &tally{byKey: make(map[string]*competitorAcc)}
}

func (t *tally) competitor(id Identity) *competitorAcc {
	k := id.key()
	if acc, ok := t.byKey[k]; ok {
		return acc
	}
	acc := &competitorAcc{identity: id, seenProvider: make(map[string]bool)}
	t.byKey[k] = acc
	t.order = append(t.order, acc)
	return acc
}

// AggregateResults counts the brand and its competitors across the ranked
// items of completed provider results. A competitor counts once per result.
func (a *Aggregator) AggregateResults(brand string, results []models.ProviderResult) *models.CompetitiveReport {
	matcher := newBrandMatcher(brand)
	t := newTally()

	for _, r := range results {
		if r.Status != models.ResultCompleted {
			continue
		}
		seen := make(map[string]bool)
		for i, item := range r.Results {
			if matcher.inItem(item) {
				t.own++
				continue
			}
			id := CompetitorIdentity(item)
			if id.Name == "" || seen[id.key()] {
				continue
			}
			seen[id.key()] = true
			t.competitor(id).add(r.Provider, i+1, a.scorer.Score(item.Title+" "+item.Snippet))
		}
	}

	return a.report(brand, t)
}

// AggregateMentions counts extracted mentions: competitive mentions with a
// competitor name go to that competitor, everything else to the brand.
func (a *Aggregator) AggregateMentions(brand string, mentions []models.Mention) *models.CompetitiveReport {
	t := newTally()

	for _, m := range mentions {
		name := strings.TrimSpace(m.CompetitorName)
		if m.Type != models.MentionCompetitive || name == "" {
			t.own++
			continue
		}
		id := Identity{Name: titleCase(name)}
		t.competitor(id).add(m.Provider, m.Position, a.scorer.Score(m.Context))
	}

	return a.report(brand, t)
}

func (a *Aggregator) report(brand string, t *tally) *models.CompetitiveReport {
	competitors := make([]models.CompetitorStat, 0, len(t.order))
	total := 0
	for _, acc := range t.order {
		total += acc.mentions
		competitors = append(competitors, models.CompetitorStat{
			Name:        acc.identity.Name,
			Domain:      acc.identity.Domain,
			Mentions:    acc.mentions,
			Sentiment:   round1(acc.sentimentSum / float64(nonZero(acc.mentions))),
			Providers:   acc.providers,
			AvgPosition: round1(float64(acc.positionSum) / float64(nonZero(acc.mentions))),
		})
	}

	sort.SliceStable(competitors, func(i, j int) bool {
		return competitors[i].Mentions > competitors[j].Mentions
	})

	report := &models.CompetitiveReport{
		Brand:              brand,
		OwnMentions:        t.own,
		CompetitorMentions: total,
		MarketShare:        100,
	}

	if total > 0 {
		report.MarketShare = round1(100 * float64(t.own) / float64(nonZero(t.own+total)))
	}

	if len(competitors) > 0 {
		top := competitors[0].Mentions
		gap := top - t.own
		if gap < 0 {
			gap = 0
		}
		report.CompetitorGap = round1(100 * float64(gap) / float64(nonZero(top)))
	}

	if a.topN > 0 && len(competitors) > a.topN {
		competitors = competitors[:a.topN]
	}
	report.Competitors = competitors

	return report
}

func nonZero(n int) int {
	if n == 0 {
		return 1
	}
	return n
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
