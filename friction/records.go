package friction

import (
	"github.com/eitanko/Suggesty-backend/models"
	"github.com/eitanko/Suggesty-backend/urlpattern"
)

// Collector folds detector output into friction records keyed by their
// natural key.
type Collector struct {
	accountID  int64
	journeyID  string
	totalUsers int
	records    map[models.FrictionKey]*models.FrictionRecord
	order      []models.FrictionKey
}

func NewCollector(accountID int64, journeyID string, totalUsers int) *Collector {
	return &Collector{
		accountID:  accountID,
		journeyID:  journeyID,
		totalUsers: totalUsers,
		records:    map[models.FrictionKey]*models.FrictionRecord{},
	}
}

// Add counts one occurrence.
func (c *Collector) Add(eventName, url, element string, kind models.FrictionKind) {
	key := models.FrictionKey{
		AccountID: c.accountID,
		JourneyID: c.journeyID,
		EventName: eventName,
		URL:       url,
		Element:   element,
		Kind:      kind,
	}
	rec, ok := c.records[key]
	if !ok {
		rec = &models.FrictionRecord{FrictionKey: key, TotalUsers: c.totalUsers}
		c.records[key] = rec
		c.order = append(c.order, key)
	}
	rec.Volume++
}

func (c *Collector) AddRepeats(repeats []Repeat) {
	for _, r := range repeats {
		c.Add(models.FrictionEventRepeated, urlpattern.ExtractBasePattern(r.URL), r.Element, models.FrictionRepeated)
	}
}

func (c *Collector) AddDropOffs(drops []DropOff) {
	for _, d := range drops {
		c.Add(models.FrictionEventDropOff, d.URL, d.Element, models.FrictionDropOff)
	}
}

func (c *Collector) AddNavigation(navs []Navigation) {
	for _, n := range navs {
		c.Add(n.EventName, n.Pathname, n.Element, n.Kind)
	}
}

// Records returns the collected rows with rates filled in, in first-seen
// order.
func (c *Collector) Records() []models.FrictionRecord {
	out := make([]models.FrictionRecord, 0, len(c.order))
	for _, k := range c.order {
		rec := *c.records[k]
		rec.Rate = models.Rate(rec.Volume, rec.TotalUsers)
		out = append(out, rec)
	}
	return out
}

// RateKey locates a friction rate by element and URL.
type RateKey struct {
	Element string
	URL     string
}

// Rates indexes the collected rows of one kind by element and URL.
func (c *Collector) Rates(kind models.FrictionKind) map[RateKey]float64 {
	out := map[RateKey]float64{}
	for _, rec := range c.Records() {
		if rec.Kind == kind {
			out[RateKey{Element: rec.Element, URL: rec.URL}] = rec.Rate
		}
	}
	return out
}
