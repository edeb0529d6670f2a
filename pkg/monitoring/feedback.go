package monitoring

import (
	"context"
	"time"

	"github.com/google/uuid"

	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
	"github.com/smartramana/ragmesh/pkg/models"
	"github.com/smartramana/ragmesh/pkg/observability"
	"github.com/smartramana/ragmesh/pkg/rowstore"
)

// FeedbackService accepts answer ratings and reports rating statistics. An
// interaction holds at most one rating; resubmitting replaces it.
type FeedbackService struct {
	feedback     rowstore.FeedbackRepository
	interactions rowstore.InteractionRepository
	logger       observability.Logger
}

// NewFeedbackService creates the feedback service
func NewFeedbackService(
	feedback rowstore.FeedbackRepository,
	interactions rowstore.InteractionRepository,
	logger observability.Logger,
) *FeedbackService {
	if logger == nil {
		logger = observability.NewLogger("feedback")
	}
	return &FeedbackService{
		feedback:     feedback,
		interactions: interactions,
		logger:       logger,
	}
}

// Submit stores a rating for an answered interaction. The rating must be
// 1..5 and the interaction must exist.
func (s *FeedbackService) Submit(ctx context.Context, interactionID uuid.UUID, rating int, comment *string) (*models.Feedback, error) {
	if rating < 1 || rating > 5 {
		return nil, ragerrors.Newf("FEEDBACK_INVALID_RATING", ragerrors.ClassValidation,
			"rating must be between 1 and 5, got %d", rating)
	}

	if _, err := s.interactions.GetByID(ctx, interactionID); err != nil {
		if ragerrors.IsNotFound(err) {
			return nil, ragerrors.Wrap(err, "FEEDBACK_INTERACTION_NOT_FOUND",
				"interaction not found", ragerrors.ClassNotFound).
				WithDetail("interaction_id", interactionID.String())
		}
		return nil, ragerrors.Wrap(err, "FEEDBACK_INTERACTION_LOOKUP",
			"failed to verify interaction", ragerrors.ClassTransient)
	}

	stored, err := s.feedback.Upsert(ctx, &models.Feedback{
		InteractionID: interactionID,
		Rating:        rating,
		Comment:       comment,
	})
	if err != nil {
		return nil, ragerrors.Wrap(err, "FEEDBACK_STORE", "failed to store feedback", ragerrors.ClassTransient)
	}

	s.logger.Info("Feedback submitted", map[string]interface{}{
		"feedback_id":    stored.ID.String(),
		"interaction_id": interactionID.String(),
		"rating":         rating,
		"has_comment":    comment != nil,
	})
	return stored, nil
}

// ForInteraction returns the rating attached to an interaction, if any
func (s *FeedbackService) ForInteraction(ctx context.Context, interactionID uuid.UUID) (*models.Feedback, error) {
	return s.feedback.GetByInteraction(ctx, interactionID)
}

// Stats aggregates a tenant's ratings from the given instant
func (s *FeedbackService) Stats(ctx context.Context, tenantID string, since time.Time) (*rowstore.RatingStats, error) {
	stats, err := s.feedback.StatsSince(ctx, tenantID, since)
	if err != nil {
		return nil, ragerrors.Wrap(err, "FEEDBACK_STATS", "failed to aggregate ratings", ragerrors.ClassTransient)
	}
	return stats, nil
}
