// Package verify owns the verification lifecycle of merged spots.
// Spots start unverified, are demoted to quarantined automatically when
// their aggregate confidence falls below the configured floor, and reach
// verified only through an explicit reviewer action, never automatically.
package verify

import (
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wildsight/spot-pipeline/internal/config"
	"github.com/wildsight/spot-pipeline/internal/model"
)

// Machine applies verification transitions. Automatic transitions happen
// after every merge; explicit ones come from the review surface.
type Machine struct {
	cfg    config.VerifyConfig
	logger *zap.Logger
}

func New(cfg config.VerifyConfig) *Machine {
	return &Machine{
		cfg:    cfg,
		logger: zap.L().Named("verify"),
	}
}

// Evaluate applies the automatic post-merge rules to a spot and mutates its
// status in place. It returns whether the status changed and, if so, why.
// Verified spots are demoted only when the auto-demote policy is enabled.
func (m *Machine) Evaluate(s *model.MergedSpot) (bool, string) {
	below := s.Confidence < m.cfg.QuarantineFloor

	switch s.Status {
	case model.StatusUnverified:
		if below {
			s.Status = model.StatusQuarantined
			reason := fmt.Sprintf("confidence %.3f below floor %.3f", s.Confidence, m.cfg.QuarantineFloor)
			m.logger.Info("spot quarantined", zap.String("spot_id", s.ID), zap.String("reason", reason))
			return true, reason
		}
	case model.StatusVerified:
		if below && m.cfg.AutoDemoteVerified {
			s.Status = model.StatusQuarantined
			reason := fmt.Sprintf("verified spot fell to confidence %.3f, below floor %.3f", s.Confidence, m.cfg.QuarantineFloor)
			m.logger.Warn("verified spot demoted", zap.String("spot_id", s.ID), zap.String("reason", reason))
			return true, reason
		}
	case model.StatusQuarantined:
		// Quarantined spots stay quarantined until a reviewer acts.
	}

	return false, ""
}

// Promote marks a spot verified. Only an explicit external review reaches
// this path.
func (m *Machine) Promote(s *model.MergedSpot) error {
	if s.Status == model.StatusVerified {
		return eris.Errorf("verify: spot %s is already verified", s.ID)
	}
	s.Status = model.StatusVerified
	m.logger.Info("spot promoted", zap.String("spot_id", s.ID))
	return nil
}

// Quarantine demotes a spot by explicit review decision.
func (m *Machine) Quarantine(s *model.MergedSpot, reason string) error {
	if s.Status == model.StatusQuarantined {
		return eris.Errorf("verify: spot %s is already quarantined", s.ID)
	}
	s.Status = model.StatusQuarantined
	m.logger.Info("spot quarantined by review", zap.String("spot_id", s.ID), zap.String("reason", reason))
	return nil
}
