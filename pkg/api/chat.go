package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
	"github.com/smartramana/ragmesh/pkg/models"
)

// chatHandler answers a question against the tenant's documents. The
// tenant always comes from the header middleware; a tenant_id in the
// body is ignored.
func (s *Server) chatHandler(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(ragerrors.Wrap(err, "API_BAD_JSON", "request body is not valid JSON", ragerrors.ClassValidation))
		return
	}
	req.TenantID = tenantFrom(c)

	resp, err := s.deps.Chat.Answer(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// feedbackHandler records a 1-5 rating for a prior interaction.
func (s *Server) feedbackHandler(c *gin.Context) {
	var req models.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(ragerrors.Wrap(err, "API_BAD_JSON", "request body is not valid JSON", ragerrors.ClassValidation))
		return
	}
	if err := req.Validate(); err != nil {
		_ = c.Error(ragerrors.Wrap(err, "FEEDBACK_INVALID", err.Error(), ragerrors.ClassValidation))
		return
	}
	interactionID, err := uuid.Parse(req.InteractionID)
	if err != nil {
		_ = c.Error(ragerrors.New("FEEDBACK_BAD_INTERACTION", "interaction_id is not a valid UUID", ragerrors.ClassValidation))
		return
	}

	var comment *string
	if req.Comment != "" {
		comment = &req.Comment
	}
	fb, err := s.deps.Feedback.Submit(c.Request.Context(), interactionID, req.Rating, comment)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, models.FeedbackResponse{
		Success:    true,
		Message:    "feedback recorded",
		FeedbackID: fb.ID.String(),
	})
}
