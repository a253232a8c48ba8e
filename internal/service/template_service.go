// internal/service/template_service.go
package service

import (
	"context"
	"strings"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/formfill"
)

// RenderPreview renders the message a company would receive, optionally from
// an override template instead of the campaign's.
func (s *CampaignService) RenderPreview(ctx context.Context, campaignID, companyID int, overrideTemplate *string) (string, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return "", err
	}
	company, err := s.CompanyRepo.GetByID(ctx, campaignID, companyID)
	if err != nil {
		return "", err
	}

	template := campaign.MessageTemplate
	if overrideTemplate != nil && strings.TrimSpace(*overrideTemplate) != "" {
		template = *overrideTemplate
	}
	if strings.TrimSpace(template) == "" {
		return "", appErrors.NewInvalidInput("template", "cannot be empty")
	}
	return formfill.RenderMessage(template, company), nil
}
