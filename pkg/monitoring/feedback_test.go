package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
	"github.com/smartramana/ragmesh/pkg/models"
	"github.com/smartramana/ragmesh/pkg/observability"
	"github.com/smartramana/ragmesh/pkg/rowstore"
)

type fakeInteractionStore struct {
	interaction *models.Interaction
	err         error
}

func (f *fakeInteractionStore) Insert(ctx context.Context, interaction *models.Interaction) error {
	return nil
}

func (f *fakeInteractionStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Interaction, error) {
	return f.interaction, f.err
}

func (f *fakeInteractionStore) UsageSince(ctx context.Context, tenantID string, since time.Time) (rowstore.Usage, error) {
	return rowstore.Usage{}, nil
}

func (f *fakeInteractionStore) TopUsageSince(ctx context.Context, since time.Time, limit int) ([]rowstore.TenantUsage, error) {
	return nil, nil
}

type fakeFeedbackStore struct {
	upserted  *models.Feedback
	upsertErr error
	stats     *rowstore.RatingStats
	statsErr  error
	gotSince  time.Time
}

func (f *fakeFeedbackStore) Upsert(ctx context.Context, feedback *models.Feedback) (*models.Feedback, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	stored := *feedback
	stored.ID = uuid.New()
	stored.CreatedAt = time.Now()
	f.upserted = &stored
	return &stored, nil
}

func (f *fakeFeedbackStore) GetByInteraction(ctx context.Context, interactionID uuid.UUID) (*models.Feedback, error) {
	return f.upserted, nil
}

func (f *fakeFeedbackStore) StatsSince(ctx context.Context, tenantID string, since time.Time) (*rowstore.RatingStats, error) {
	f.gotSince = since
	return f.stats, f.statsErr
}

func newTestFeedbackService(interactions *fakeInteractionStore, feedback *fakeFeedbackStore) *FeedbackService {
	return NewFeedbackService(feedback, interactions, observability.NewNoopLogger())
}

func TestSubmitRejectsOutOfRangeRating(t *testing.T) {
	store := &fakeFeedbackStore{}
	svc := newTestFeedbackService(&fakeInteractionStore{}, store)

	for _, rating := range []int{0, -1, 6} {
		_, err := svc.Submit(context.Background(), uuid.New(), rating, nil)
		require.Error(t, err, "rating %d", rating)
		assert.True(t, ragerrors.IsValidation(err))
	}
	assert.Nil(t, store.upserted, "invalid ratings must not reach the store")
}

func TestSubmitUnknownInteraction(t *testing.T) {
	interactions := &fakeInteractionStore{
		err: ragerrors.New("DB_NOT_FOUND", "no rows", ragerrors.ClassNotFound),
	}
	svc := newTestFeedbackService(interactions, &fakeFeedbackStore{})

	_, err := svc.Submit(context.Background(), uuid.New(), 4, nil)
	require.Error(t, err)
	assert.True(t, ragerrors.IsNotFound(err))
}

func TestSubmitLookupFailureIsTransient(t *testing.T) {
	interactions := &fakeInteractionStore{
		err: ragerrors.New("DB_CONNECTION", "connection refused", ragerrors.ClassTransient),
	}
	svc := newTestFeedbackService(interactions, &fakeFeedbackStore{})

	_, err := svc.Submit(context.Background(), uuid.New(), 4, nil)
	require.Error(t, err)
	assert.True(t, ragerrors.IsTransient(err))
}

func TestSubmitStoresFeedback(t *testing.T) {
	interactionID := uuid.New()
	interactions := &fakeInteractionStore{interaction: &models.Interaction{ID: interactionID}}
	store := &fakeFeedbackStore{}
	svc := newTestFeedbackService(interactions, store)

	comment := "spot on"
	stored, err := svc.Submit(context.Background(), interactionID, 5, &comment)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, stored.ID)
	assert.Equal(t, interactionID, stored.InteractionID)
	assert.Equal(t, 5, stored.Rating)
	require.NotNil(t, store.upserted)
	assert.Equal(t, 5, store.upserted.Rating)
}

func TestStatsForwardsWindow(t *testing.T) {
	store := &fakeFeedbackStore{stats: &rowstore.RatingStats{
		Count:      3,
		MeanRating: 4.0,
		Histogram:  map[int]int64{1: 0, 2: 0, 3: 1, 4: 1, 5: 1},
	}}
	svc := newTestFeedbackService(&fakeInteractionStore{}, store)

	since := time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC)
	stats, err := svc.Stats(context.Background(), "tenant-a", since)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Count)
	assert.Equal(t, since, store.gotSince)
}
