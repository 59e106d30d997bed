package socrata

import (
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/domain"
)

// SafetyDays is how far behind now the crawl stops. Upstream datasets keep
// backfilling recent days.
const SafetyDays = 7

// SafetyCutoff returns the inclusive upper bound for a crawl started at now:
// the last second of the day SafetyDays earlier, in now's location.
func SafetyCutoff(now time.Time) time.Time {
	d := now.AddDate(0, 0, -SafetyDays)
	return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, d.Location())
}

// BuildWhere renders the SoQL $where clause for the range (lower, cutoff].
// A nil lower bound reads everything up to the cutoff.
func BuildWhere(field string, lower *time.Time, cutoff time.Time) string {
	upper := fmt.Sprintf("%s <= '%s'", field, domain.FormatTimestamp(cutoff))
	if lower == nil {
		return upper
	}
	return fmt.Sprintf("%s > '%s' AND %s", field, domain.FormatTimestamp(*lower), upper)
}

// BuildOrder renders the $order clause. Ordering by the date field then the
// Socrata row id keeps offset pagination stable across requests.
func BuildOrder(field string) string {
	return field + ",:id"
}
