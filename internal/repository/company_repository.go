package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
)

// CompanyFilter narrows a paginated company listing.
type CompanyFilter struct {
	Status model.Status
	Offset int
	Limit  int
}

type CompanyRepositoryInterface interface {
	Create(ctx context.Context, c *model.Company) error
	GetByID(ctx context.Context, campaignID, companyID int) (*model.Company, error)
	ListByCampaign(ctx context.Context, campaignID int, f CompanyFilter) ([]*model.Company, int, error)
	IDsByStatus(ctx context.Context, campaignID int, status model.Status) ([]int, error)
	// Transition moves a company from -> to only if it is still in from.
	Transition(ctx context.Context, companyID int, from, to model.Status) (bool, error)
	// SaveOutcome writes a terminal outcome only if the company is still in from.
	SaveOutcome(ctx context.Context, from model.Status, o model.Outcome) (bool, error)
	// ResetStuck forces in-flight companies last touched before cutoff back to
	// pending, skipping the excluded IDs, and returns the IDs it reset.
	ResetStuck(ctx context.Context, campaignID int, cutoff time.Time, exclude map[int]bool) ([]int, error)
	StatusCounts(ctx context.Context, campaignID int) (map[model.Status]int, error)
}

type CompanyRepository struct {
	DB  *sql.DB
	Now func() time.Time
}

func (r *CompanyRepository) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

const companyColumns = `id, campaign_id, company_name, website_url, contact_email, contact_person, phone,
	status, error_reason, error_message, contact_method, emails_found, contact_page_url, screenshot_ref,
	fields_filled, processed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCompany(row rowScanner) (*model.Company, error) {
	var (
		c         model.Company
		status    string
		reason    string
		method    string
		emails    string
		processed sql.NullTime
	)
	err := row.Scan(&c.ID, &c.CampaignID, &c.Name, &c.WebsiteURL, &c.ContactEmail, &c.ContactPerson, &c.Phone,
		&status, &reason, &c.ErrorMessage, &method, &emails, &c.ContactPageURL, &c.ScreenshotRef,
		&c.FieldsFilled, &processed, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = model.Status(status)
	c.ErrorReason = model.FailureReason(reason)
	c.ContactMethod = model.ContactMethod(method)
	if emails != "" {
		if err := json.Unmarshal([]byte(emails), &c.EmailsFound); err != nil {
			return nil, eris.Wrapf(err, "decode emails_found for company %d", c.ID)
		}
	}
	if processed.Valid {
		c.ProcessedAt = &processed.Time
	}
	return &c, nil
}

func encodeEmails(emails []string) string {
	if len(emails) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(emails)
	return string(b)
}

// ====================== Companies ======================

func (r *CompanyRepository) Create(ctx context.Context, c *model.Company) error {
	now := r.now()
	c.CreatedAt, c.UpdatedAt = now, now
	if c.Status == "" {
		c.Status = model.StatusPending
	}
	query := `
		INSERT INTO companies (campaign_id, company_name, website_url, contact_email, contact_person, phone,
			status, emails_found, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	err := r.DB.QueryRowContext(ctx, query, c.CampaignID, c.Name, c.WebsiteURL, c.ContactEmail, c.ContactPerson,
		c.Phone, string(c.Status), encodeEmails(c.EmailsFound), now, now,
	).Scan(&c.ID)
	return eris.Wrap(err, "insert company")
}

func (r *CompanyRepository) GetByID(ctx context.Context, campaignID, companyID int) (*model.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE id = $1 AND campaign_id = $2`
	c, err := scanCompany(r.DB.QueryRowContext(ctx, query, companyID, campaignID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCompanyNotFound(companyID)
		}
		return nil, eris.Wrapf(err, "select company %d", companyID)
	}
	return c, nil
}

func (r *CompanyRepository) ListByCampaign(ctx context.Context, campaignID int, f CompanyFilter) ([]*model.Company, int, error) {
	where := ` WHERE campaign_id = $1`
	args := []any{campaignID}
	if f.Status != "" {
		where += ` AND status = $2`
		args = append(args, string(f.Status))
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM companies`+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "count companies")
	}

	query := `SELECT ` + companyColumns + ` FROM companies` + where +
		fmt.Sprintf(` ORDER BY id ASC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "list companies")
	}
	defer rows.Close()

	companies := []*model.Company{}
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "scan company")
		}
		companies = append(companies, c)
	}
	return companies, total, eris.Wrap(rows.Err(), "iterate companies")
}

func (r *CompanyRepository) IDsByStatus(ctx context.Context, campaignID int, status model.Status) ([]int, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id FROM companies WHERE campaign_id = $1 AND status = $2 ORDER BY id ASC`,
		campaignID, string(status))
	if err != nil {
		return nil, eris.Wrap(err, "select company ids")
	}
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "scan company id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "iterate company ids")
}

func (r *CompanyRepository) Transition(ctx context.Context, companyID int, from, to model.Status) (bool, error) {
	if !model.CanTransition(from, to) {
		return false, eris.Errorf("illegal transition %s -> %s for company %d", from, to, companyID)
	}
	query := `UPDATE companies SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	if to == model.StatusPending {
		query = `
			UPDATE companies
			SET status = $1, updated_at = $2, error_reason = '', error_message = '', contact_method = '',
				emails_found = '[]', contact_page_url = '', screenshot_ref = '', fields_filled = 0, processed_at = NULL
			WHERE id = $3 AND status = $4
		`
	}
	return r.compareAndSet(ctx, query, string(to), r.now(), companyID, string(from))
}

func (r *CompanyRepository) SaveOutcome(ctx context.Context, from model.Status, o model.Outcome) (bool, error) {
	if !o.Status.IsTerminal() || !model.CanTransition(from, o.Status) {
		return false, eris.Errorf("illegal outcome %s -> %s for company %d", from, o.Status, o.CompanyID)
	}
	now := r.now()
	query := `
		UPDATE companies
		SET status = $1, error_reason = $2, error_message = $3, contact_method = $4, emails_found = $5,
			contact_page_url = $6, screenshot_ref = $7, fields_filled = $8, processed_at = $9, updated_at = $9
		WHERE id = $10 AND status = $11
	`
	return r.compareAndSet(ctx, query,
		string(o.Status), string(o.Reason), o.ErrorMessage, string(o.ContactMethod), encodeEmails(o.EmailsFound),
		o.ContactPageURL, o.ScreenshotRef, o.FieldsFilled, now, o.CompanyID, string(from))
}

func (r *CompanyRepository) compareAndSet(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, eris.Wrap(err, "update company status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "rows affected")
	}
	return n == 1, nil
}

func (r *CompanyRepository) ResetStuck(ctx context.Context, campaignID int, cutoff time.Time, exclude map[int]bool) ([]int, error) {
	inFlight := []model.Status{model.StatusDiscovering, model.StatusFilling, model.StatusSubmitting}
	placeholders := make([]string, len(inFlight))
	args := []any{campaignID, cutoff.UTC()}
	for i, s := range inFlight {
		placeholders[i] = fmt.Sprintf("$%d", i+3)
		args = append(args, string(s))
	}
	query := `SELECT id, status FROM companies WHERE campaign_id = $1 AND updated_at < $2 AND status IN (` +
		strings.Join(placeholders, ", ") + `) ORDER BY id ASC`

	type stuck struct {
		id     int
		status model.Status
	}
	var candidates []stuck
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "select stuck companies")
	}
	for rows.Next() {
		var s stuck
		var status string
		if err := rows.Scan(&s.id, &status); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "scan stuck company")
		}
		s.status = model.Status(status)
		candidates = append(candidates, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "iterate stuck companies")
	}

	reset := []int{}
	for _, s := range candidates {
		if exclude[s.id] || !model.CanForceReset(s.status) {
			continue
		}
		ok, err := r.compareAndSet(ctx, `
			UPDATE companies
			SET status = $1, updated_at = $2, error_reason = '', error_message = ''
			WHERE id = $3 AND status = $4
		`, string(model.StatusPending), r.now(), s.id, string(s.status))
		if err != nil {
			return reset, err
		}
		if ok {
			reset = append(reset, s.id)
		}
	}
	return reset, nil
}

func (r *CompanyRepository) StatusCounts(ctx context.Context, campaignID int) (map[model.Status]int, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM companies WHERE campaign_id = $1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, eris.Wrap(err, "count company statuses")
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "scan status count")
		}
		counts[model.Status(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "iterate status counts")
}
