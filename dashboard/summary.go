package dashboard

import "time"

// PartyTrend compares a party's latest share with the previous month.
type PartyTrend struct {
	Label       string
	Latest      float64
	HasLatest   bool
	Previous    float64
	HasPrevious bool
}

// Delta is the change in share; zero unless both values are known.
func (p PartyTrend) Delta() float64 {
	if !p.HasLatest || !p.HasPrevious {
		return 0
	}
	return p.Latest - p.Previous
}

// Summary holds the latest observation and its month-earlier reference.
type Summary struct {
	Latest   *Row
	Previous *Row
	Trends   []PartyTrend
}

// Summarize picks the newest row and the newest row at least one calendar
// month older, and compares every party between them.
func Summarize(ds *Dataset) Summary {
	if ds.Empty() {
		return Summary{}
	}

	latest := &ds.Rows[len(ds.Rows)-1]
	cutoff := latest.Date.AddDate(0, -1, 0)

	var previous *Row
	for i := len(ds.Rows) - 1; i >= 0; i-- {
		if !ds.Rows[i].Date.After(cutoff) {
			previous = &ds.Rows[i]
			break
		}
	}

	summary := Summary{Latest: latest, Previous: previous}
	for _, party := range ds.Parties {
		trend := PartyTrend{Label: party}
		trend.Latest, trend.HasLatest = latest.Parties[party]
		if previous != nil {
			trend.Previous, trend.HasPrevious = previous.Parties[party]
		}
		if !trend.HasLatest && !trend.HasPrevious {
			continue
		}
		summary.Trends = append(summary.Trends, trend)
	}
	return summary
}

// Since returns the rows dated on or after from.
func (d *Dataset) Since(from time.Time) []Row {
	if d == nil {
		return nil
	}
	for i, row := range d.Rows {
		if !row.Date.Before(from) {
			return d.Rows[i:]
		}
	}
	return nil
}
