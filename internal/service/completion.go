package service

import (
	"github.com/rs/zerolog"

	"github.com/convoreach/backend/internal/model"
	"github.com/convoreach/backend/internal/repository"
)

// CompletionDetector decides when a campaign has no outstanding work left and
// flips it to COMPLETED. The flip itself is a compare-and-set in the store, so
// two dispatch completions racing here finalize the campaign exactly once.
type CompletionDetector struct {
	campaigns repository.CampaignRepositoryInterface
	log       zerolog.Logger
}

func NewCompletionDetector(campaigns repository.CampaignRepositoryInterface, log zerolog.Logger) *CompletionDetector {
	return &CompletionDetector{
		campaigns: campaigns,
		log:       log.With().Str("component", "completion").Logger(),
	}
}

// Check finalizes the campaign if its counters cover the whole target. The
// counters come straight from the atomic increment that triggered the check,
// never from a separate read. A zero total means the target was not resolved
// yet, so it never finalizes here; the processor completes empty campaigns
// itself.
func (d *CompletionDetector) Check(campaignID int, c repository.CampaignCounters) error {
	if c.Total <= 0 {
		return nil
	}
	if c.Sent+c.Failed < c.Total {
		return nil
	}
	won, err := d.campaigns.FinalizeAs(campaignID, model.StatusCompleted)
	if err != nil {
		return err
	}
	if won {
		d.log.Info().Int("campaign_id", campaignID).
			Int("sent", c.Sent).Int("failed", c.Failed).Int("total", c.Total).
			Msg("campaign completed")
	}
	return nil
}
