package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
)

type CampaignRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Campaign, error)
	UpdateCounters(ctx context.Context, id int, c model.Counters) error
	Create(ctx context.Context, c *model.Campaign) error
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, name, owner_id,
	sender_first_name, sender_last_name, sender_email, sender_phone, sender_company, sender_country, sender_address,
	message_template, subject, queued_count, completed_count, failed_count, created_at, updated_at`

// ====================== Campaigns ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	c.CreatedAt = time.Now().UTC()
	query := `
		INSERT INTO campaigns (name, owner_id,
			sender_first_name, sender_last_name, sender_email, sender_phone, sender_company, sender_country, sender_address,
			message_template, subject, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`
	s := c.Sender
	err := r.DB.QueryRowContext(ctx, query, c.Name, c.OwnerID,
		s.FirstName, s.LastName, s.Email, s.Phone, s.Company, s.Country, s.Address,
		c.MessageTemplate, c.Subject, c.CreatedAt,
	).Scan(&c.ID)
	return eris.Wrap(err, "insert campaign")
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	var (
		c       model.Campaign
		updated sql.NullTime
	)
	s := &c.Sender
	err := r.DB.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Name, &c.OwnerID,
		&s.FirstName, &s.LastName, &s.Email, &s.Phone, &s.Company, &s.Country, &s.Address,
		&c.MessageTemplate, &c.Subject, &c.QueuedCount, &c.CompletedCount, &c.FailedCount,
		&c.CreatedAt, &updated,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, eris.Wrapf(err, "select campaign %d", id)
	}
	if updated.Valid {
		c.UpdatedAt = &updated.Time
	}
	return &c, nil
}

// UpdateCounters overwrites the aggregate counters with values recomputed
// from company statuses.
func (r *CampaignRepository) UpdateCounters(ctx context.Context, id int, c model.Counters) error {
	query := `
		UPDATE campaigns
		SET queued_count = $1, completed_count = $2, failed_count = $3, updated_at = $4
		WHERE id = $5
	`
	res, err := r.DB.ExecContext(ctx, query, c.Queued, c.Completed, c.Failed, time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "update counters for campaign %d", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return appErrors.NewCampaignNotFound(id)
	}
	return nil
}
