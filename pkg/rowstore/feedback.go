package rowstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/smartramana/ragmesh/pkg/database"
	"github.com/smartramana/ragmesh/pkg/models"
	"github.com/smartramana/ragmesh/pkg/observability"
)

// RatingStats summarizes feedback over a window.
type RatingStats struct {
	Count      int64
	MeanRating float64
	Histogram  map[int]int64
}

// FeedbackRepository persists the zero-or-one rating per interaction.
type FeedbackRepository interface {
	// Upsert inserts the rating or replaces the existing one in place,
	// refreshing created_at. The returned row carries the stable id.
	Upsert(ctx context.Context, feedback *models.Feedback) (*models.Feedback, error)
	GetByInteraction(ctx context.Context, interactionID uuid.UUID) (*models.Feedback, error)
	// StatsSince aggregates a tenant's ratings from the given instant.
	StatsSince(ctx context.Context, tenantID string, since time.Time) (*RatingStats, error)
}

type feedbackRepository struct {
	db     *sqlx.DB
	logger observability.Logger
}

// NewFeedbackRepository creates the feedback repository
func NewFeedbackRepository(db *database.Database, logger observability.Logger) FeedbackRepository {
	if logger == nil {
		logger = observability.NewLogger("rowstore")
	}
	return &feedbackRepository{db: db.DB(), logger: logger}
}

func (r *feedbackRepository) Upsert(ctx context.Context, feedback *models.Feedback) (*models.Feedback, error) {
	if feedback.ID == uuid.Nil {
		feedback.ID = uuid.New()
	}

	var stored models.Feedback
	err := r.db.GetContext(ctx, &stored, `
		INSERT INTO chat_feedback (id, interaction_id, rating, comment)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (interaction_id) DO UPDATE
		SET rating = EXCLUDED.rating, comment = EXCLUDED.comment, created_at = now()
		RETURNING id, interaction_id, rating, comment, created_at`,
		feedback.ID, feedback.InteractionID, feedback.Rating, feedback.Comment)
	if err != nil {
		return nil, database.TranslateError(err)
	}

	r.logger.Info("Feedback stored", map[string]interface{}{
		"feedback_id":    stored.ID.String(),
		"interaction_id": stored.InteractionID.String(),
		"rating":         stored.Rating,
	})
	return &stored, nil
}

func (r *feedbackRepository) GetByInteraction(ctx context.Context, interactionID uuid.UUID) (*models.Feedback, error) {
	var feedback models.Feedback
	err := r.db.GetContext(ctx, &feedback, `
		SELECT id, interaction_id, rating, comment, created_at
		FROM chat_feedback
		WHERE interaction_id = $1`, interactionID)
	if err != nil {
		return nil, database.TranslateError(err)
	}
	return &feedback, nil
}

func (r *feedbackRepository) StatsSince(ctx context.Context, tenantID string, since time.Time) (*RatingStats, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT f.rating, count(*) AS n
		FROM chat_feedback f
		JOIN chat_interactions i ON i.id = f.interaction_id
		WHERE i.tenant_id = $1 AND f.created_at >= $2
		GROUP BY f.rating`, tenantID, since)
	if err != nil {
		return nil, database.TranslateError(err)
	}
	defer func() {
		_ = rows.Close()
	}()

	stats := &RatingStats{Histogram: map[int]int64{1: 0, 2: 0, 3: 0, 4: 0, 5: 0}}
	var ratingSum int64
	for rows.Next() {
		var rating int
		var n int64
		if err := rows.Scan(&rating, &n); err != nil {
			return nil, database.TranslateError(err)
		}
		stats.Histogram[rating] = n
		stats.Count += n
		ratingSum += int64(rating) * n
	}
	if err := rows.Err(); err != nil {
		return nil, database.TranslateError(err)
	}

	if stats.Count > 0 {
		stats.MeanRating = float64(ratingSum) / float64(stats.Count)
	}
	return stats, nil
}
