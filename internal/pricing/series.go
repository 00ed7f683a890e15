package pricing

import (
	"time"

	"github.com/wnt/lotkeeper/internal/models"
)

// NearestAtOrBefore returns the last point of an ascending series whose time
// is not after target. It never returns a later point; when every point is
// later, or the series is empty, ok is false.
func NearestAtOrBefore(series []models.PricePoint, target time.Time) (point models.PricePoint, ok bool) {
	for _, p := range series {
		if p.Timestamp.After(target) {
			break
		}
		point, ok = p, true
	}
	return point, ok
}
