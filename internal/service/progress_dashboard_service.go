package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/gema-progress-api/internal/dto"
	"github.com/noah-isme/gema-progress-api/internal/observability"
	"github.com/noah-isme/gema-progress-api/internal/progression"
	"github.com/noah-isme/gema-progress-api/internal/repository"
)

const (
	summaryCacheKeyPrefix      = "progress:summary:v1"
	summaryGenerationKeyPrefix = "progress:summary:gen"
	summaryComputeTimeout      = 10 * time.Second
)

var errSummaryGenerationMoved = errors.New("summary generation moved")

// ProgressDashboardService serves cached course progress summaries for dashboards.
type ProgressDashboardService interface {
	GetSummary(ctx context.Context, studentID, courseID uint) (dto.ProgressSummaryResponse, error)
	HandleChange(ctx context.Context, change ProgressChange)
}

type progressDashboardService struct {
	progress      ProgressService
	units         repository.UnitRepository
	deadlines     DeadlineResolver
	cache         *redis.Client
	cacheTTL      time.Duration
	dueSoonWindow time.Duration
	group         singleflight.Group
	logger        zerolog.Logger
	now           func() time.Time
}

// NewProgressDashboardService builds the summary aggregator. cache may be nil.
func NewProgressDashboardService(progress ProgressService, units repository.UnitRepository, deadlines DeadlineResolver, cache *redis.Client, ttl, dueSoonWindow time.Duration, logger zerolog.Logger) ProgressDashboardService {
	if dueSoonWindow <= 0 {
		dueSoonWindow = 72 * time.Hour
	}
	return &progressDashboardService{
		progress:      progress,
		units:         units,
		deadlines:     deadlines,
		cache:         cache,
		cacheTTL:      ttl,
		dueSoonWindow: dueSoonWindow,
		logger:        logger.With().Str("component", "progress_dashboard_service").Logger(),
		now:           time.Now,
	}
}

func summaryCacheKey(studentID, courseID uint) string {
	return fmt.Sprintf("%s:course:%d:student:%d", summaryCacheKeyPrefix, courseID, studentID)
}

func courseGenerationKey(courseID uint) string {
	return fmt.Sprintf("%s:course:%d", summaryGenerationKeyPrefix, courseID)
}

func studentGenerationKey(studentID, courseID uint) string {
	return fmt.Sprintf("%s:course:%d:student:%d", summaryGenerationKeyPrefix, courseID, studentID)
}

// summaryGeneration is the pair of invalidation counters a cached summary was computed under.
// Any invalidation after the snapshot bumps one of them and the write is skipped.
type summaryGeneration [2]string

type generationReader interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

func readGeneration(ctx context.Context, r generationReader, studentID, courseID uint) (summaryGeneration, error) {
	values, err := r.MGet(ctx, courseGenerationKey(courseID), studentGenerationKey(studentID, courseID)).Result()
	if err != nil {
		return summaryGeneration{}, err
	}
	var gen summaryGeneration
	for i := range gen {
		if i < len(values) && values[i] != nil {
			gen[i] = fmt.Sprint(values[i])
		}
	}
	return gen, nil
}

func (s *progressDashboardService) GetSummary(ctx context.Context, studentID, courseID uint) (dto.ProgressSummaryResponse, error) {
	cacheKey := summaryCacheKey(studentID, courseID)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var response dto.ProgressSummaryResponse
			if unmarshalErr := json.Unmarshal([]byte(cached), &response); unmarshalErr == nil {
				observability.SummaryCache().WithLabelValues("hit").Inc()
				response.CacheHit = true
				return response, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("failed to read progress summary cache")
		}
		observability.SummaryCache().WithLabelValues("miss").Inc()
	}

	value, err, _ := s.group.Do(cacheKey, func() (interface{}, error) {
		// shared by every coalesced caller, so one cancelled request must not fail the rest
		computeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), summaryComputeTimeout)
		defer cancel()

		var gen summaryGeneration
		cacheable := s.cache != nil && s.cacheTTL > 0
		if cacheable {
			read, err := readGeneration(computeCtx, s.cache, studentID, courseID)
			if err != nil {
				s.logger.Warn().Err(err).Msg("failed to read progress summary generation")
				cacheable = false
			}
			gen = read
		}

		response, err := s.compute(computeCtx, studentID, courseID)
		if err != nil {
			return nil, err
		}
		if cacheable {
			s.store(computeCtx, studentID, courseID, gen, response)
		}
		return response, nil
	})
	if err != nil {
		return dto.ProgressSummaryResponse{}, err
	}

	return value.(dto.ProgressSummaryResponse), nil
}

func (s *progressDashboardService) compute(ctx context.Context, studentID, courseID uint) (dto.ProgressSummaryResponse, error) {
	units, err := s.units.ListByCourse(ctx, courseID)
	if err != nil {
		return dto.ProgressSummaryResponse{}, translateRepoError(err)
	}

	var (
		initResult InitResult
		deadlines  map[uint]progression.EffectiveDeadline
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		result, err := s.progress.GetOrInitialize(groupCtx, studentID, courseID)
		if err != nil {
			return err
		}
		initResult = result
		return nil
	})
	group.Go(func() error {
		if s.deadlines == nil {
			deadlines = progression.ResolveDeadlines(units, nil)
			return nil
		}
		resolved, err := s.deadlines.Resolve(groupCtx, studentID, courseID, units)
		if err != nil {
			s.logger.Warn().Err(err).Uint("course_id", courseID).Msg("deadline resolution degraded to unit defaults")
			resolved = progression.ResolveDeadlines(units, nil)
		}
		deadlines = resolved
		return nil
	})
	if err := group.Wait(); err != nil {
		return dto.ProgressSummaryResponse{}, err
	}

	now := s.now().UTC()
	summary := progression.Summarize(initResult.Units, initResult.Progress, deadlines)

	upcoming := make([]dto.UpcomingDeadlineResponse, 0, len(summary.UpcomingDeadlines))
	for _, item := range summary.UpcomingDeadlines {
		upcoming = append(upcoming, dto.UpcomingDeadlineResponse{
			UnitID:   item.Unit.ID,
			Title:    item.Unit.Title,
			Deadline: item.Deadline.Deadline,
			Source:   item.Deadline.Source,
			Priority: s.priority(item.Deadline.Deadline, now),
		})
	}

	return dto.ProgressSummaryResponse{
		StudentID:         studentID,
		CourseID:          courseID,
		PercentComplete:   summary.PercentComplete,
		CompletedCount:    summary.CompletedCount,
		TotalCount:        summary.TotalCount,
		UpcomingDeadlines: upcoming,
		GeneratedAt:       now,
	}, nil
}

func (s *progressDashboardService) priority(deadline, now time.Time) string {
	deadline = deadline.UTC()
	switch {
	case deadline.Before(now):
		return dto.DeadlineOverdue
	case sameDay(deadline, now):
		return dto.DeadlineDueToday
	case deadline.Sub(now) <= s.dueSoonWindow:
		return dto.DeadlineDueSoon
	default:
		return dto.DeadlineLater
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// store writes the summary only while both generation counters still hold the values read
// before the snapshot was taken.
func (s *progressDashboardService) store(ctx context.Context, studentID, courseID uint, gen summaryGeneration, response dto.ProgressSummaryResponse) {
	payload, err := json.Marshal(response)
	if err != nil {
		return
	}

	key := summaryCacheKey(studentID, courseID)
	err = s.cache.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readGeneration(ctx, tx, studentID, courseID)
		if err != nil {
			return err
		}
		if current != gen {
			return errSummaryGenerationMoved
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.cacheTTL)
			return nil
		})
		return err
	}, courseGenerationKey(courseID), studentGenerationKey(studentID, courseID))

	switch {
	case err == nil:
	case errors.Is(err, errSummaryGenerationMoved), errors.Is(err, redis.TxFailedErr):
		s.logger.Debug().Uint("course_id", courseID).Uint("student_id", studentID).Msg("skipped caching summary invalidated during compute")
	default:
		s.logger.Warn().Err(err).Msg("failed to store progress summary cache")
	}
}

// HandleChange drops cached summaries made stale by a progress change.
func (s *progressDashboardService) HandleChange(ctx context.Context, change ProgressChange) {
	if s.cache == nil {
		return
	}

	if change.StudentID != 0 {
		if err := s.cache.Incr(ctx, studentGenerationKey(change.StudentID, change.CourseID)).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to bump progress summary generation")
		}
		if err := s.cache.Del(ctx, summaryCacheKey(change.StudentID, change.CourseID)).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to invalidate progress summary")
		}
		return
	}

	if err := s.cache.Incr(ctx, courseGenerationKey(change.CourseID)).Err(); err != nil {
		s.logger.Warn().Err(err).Uint("course_id", change.CourseID).Msg("failed to bump course summary generation")
	}
	pattern := fmt.Sprintf("%s:course:%d:student:*", summaryCacheKeyPrefix, change.CourseID)
	iter := s.cache.Scan(ctx, 0, pattern, 100).Iterator()
	keys := make([]string, 0)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		s.logger.Warn().Err(err).Uint("course_id", change.CourseID).Msg("failed to scan progress summaries")
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := s.cache.Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn().Err(err).Uint("course_id", change.CourseID).Msg("failed to invalidate course summaries")
	}
}
