package progression

import (
	"math"
	"sort"

	"github.com/noah-isme/gema-progress-api/internal/models"
)

// UpcomingDeadline pairs an incomplete unit with the deadline the student must meet.
type UpcomingDeadline struct {
	Unit     models.Unit
	Deadline EffectiveDeadline
}

// Summary is the course-level roll-up of a student's unit progress.
type Summary struct {
	PercentComplete   int
	CompletedCount    int
	TotalCount        int
	UpcomingDeadlines []UpcomingDeadline
}

// Summarize derives completion percentage and the ordered list of upcoming deadlines.
func Summarize(units []models.Unit, progress map[uint]models.UnitProgress, deadlines map[uint]EffectiveDeadline) Summary {
	ordered := SortUnits(units)
	summary := Summary{TotalCount: len(ordered), UpcomingDeadlines: []UpcomingDeadline{}}

	for _, unit := range ordered {
		if progress[unit.ID].IsCompleted {
			summary.CompletedCount++
			continue
		}
		if deadline, ok := deadlines[unit.ID]; ok {
			summary.UpcomingDeadlines = append(summary.UpcomingDeadlines, UpcomingDeadline{Unit: unit, Deadline: deadline})
		}
	}

	if summary.TotalCount > 0 {
		summary.PercentComplete = int(math.Round(100 * float64(summary.CompletedCount) / float64(summary.TotalCount)))
	}

	// stable: equal deadlines keep canonical unit order
	sort.SliceStable(summary.UpcomingDeadlines, func(i, j int) bool {
		return summary.UpcomingDeadlines[i].Deadline.Deadline.Before(summary.UpcomingDeadlines[j].Deadline.Deadline)
	})

	return summary
}
