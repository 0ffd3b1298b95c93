// Package identify meters photo identification requests.
package identify

import (
	"context"

	"sadhana-metering/internal/apperr"
	"sadhana-metering/internal/logger"
	"sadhana-metering/internal/service/llm"
	"sadhana-metering/internal/service/quota"
	"sadhana-metering/pkg/api"
	"sadhana-metering/pkg/metering"
	"sadhana-metering/pkg/validation"

	"github.com/sirupsen/logrus"
)

// IdentifyService admits, runs and commits one identification.
type IdentifyService struct {
	gate      *quota.Gate
	vision    llm.VisionProvider
	validator *validation.IdentifyRequestValidator
}

func NewIdentifyService(gate *quota.Gate, vision llm.VisionProvider, maxImageBytes int) *IdentifyService {
	return &IdentifyService{
		gate:      gate,
		vision:    vision,
		validator: validation.NewIdentifyRequestValidator(maxImageBytes),
	}
}

// Identify validates the image, checks today's identify quota, calls the
// vision model and records the use only when the model answered.
func (s *IdentifyService) Identify(ctx context.Context, userID string, req api.IdentifyRequest) (*api.IdentifyResult, error) {
	if userID == "" {
		return nil, apperr.Authentication("authentication required")
	}
	image, err := s.validator.ValidateIdentifyRequest(req)
	if err != nil {
		return nil, apperr.InvalidInput("validation failed", err)
	}

	admission, err := s.gate.Admit(ctx, userID, metering.FeatureIdentify)
	if err != nil {
		return nil, err
	}

	log := logger.Log.WithFields(logrus.Fields{"user_id": userID, "mime_type": req.MimeType})

	result, err := s.vision.Identify(ctx, image, req.MimeType)
	if err != nil {
		log.WithError(err).Warn("Identification failed")
		if apperr.KindOf(err) == apperr.KindInternal {
			err = apperr.Upstream("vision request failed", err)
		}
		return nil, err
	}

	s.gate.Commit(ctx, admission)
	log.WithFields(logrus.Fields{"type": result.Type, "confidence": result.Confidence}).Info("Identification completed")
	return result, nil
}
