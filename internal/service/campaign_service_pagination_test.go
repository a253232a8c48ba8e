package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
)

func TestListCompaniesPagination(t *testing.T) {
	h := newHarness(t, 1)
	ids := h.addFormCompanies(t, 5)
	ctx := context.Background()

	pageSize := 2
	page1, pagination1, err := h.svc.ListCompanies(ctx, h.campaign.ID, 1, pageSize, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	page2, _, _ := h.svc.ListCompanies(ctx, h.campaign.ID, 2, pageSize, "")

	expectedTotal := 5
	if pagination1["totalCount"] != expectedTotal {
		t.Errorf("expected totalCount %d, got %d", expectedTotal, pagination1["totalCount"])
	}
	if pagination1["totalPages"] != 3 {
		t.Errorf("expected 3 pages, got %d", pagination1["totalPages"])
	}

	if len(page1) != 2 || len(page2) != 2 {
		t.Fatalf("expected full pages, got %d and %d", len(page1), len(page2))
	}

	// Check ascending id order
	if page1[0].ID >= page1[1].ID || page2[0].ID >= page2[1].ID {
		t.Errorf("expected ascending order within pages")
	}

	// Check no duplicates between pages
	if page1[1].ID == page2[0].ID {
		t.Errorf("duplicate entry between pages: %v", page1[1].ID)
	}

	page3, pagination3, _ := h.svc.ListCompanies(ctx, h.campaign.ID, 3, pageSize, "")
	if len(page3) != 1 {
		t.Errorf("expected last page to have 1 item, got %d", len(page3))
	}
	if pagination3["page"] != 3 {
		t.Errorf("expected page 3, got %d", pagination3["page"])
	}

	// Beyond the last page is empty, not an error
	page9, _, err := h.svc.ListCompanies(ctx, h.campaign.ID, 9, pageSize, "")
	if err != nil || len(page9) != 0 {
		t.Errorf("expected empty page, got %d items and %v", len(page9), err)
	}

	// Status filter
	h.companies.SetStatus(ids[2], model.StatusFailed, time.Now())
	failed, pagination, _ := h.svc.ListCompanies(ctx, h.campaign.ID, 1, pageSize, "failed")
	if len(failed) != 1 || failed[0].ID != ids[2] || pagination["totalCount"] != 1 {
		t.Errorf("expected only company %d, got %v", ids[2], failed)
	}
}

func TestListCompaniesDefaults(t *testing.T) {
	h := newHarness(t, 1)
	h.addFormCompanies(t, 3)

	_, pagination, err := h.svc.ListCompanies(context.Background(), h.campaign.ID, 0, 0, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pagination["page"] != 1 || pagination["pageSize"] != 20 {
		t.Errorf("expected page 1 of size 20, got %v", pagination)
	}

	_, pagination, _ = h.svc.ListCompanies(context.Background(), h.campaign.ID, 1, 1000, "")
	if pagination["pageSize"] != 100 {
		t.Errorf("expected page size capped at 100, got %d", pagination["pageSize"])
	}
}

func TestListCompaniesRejectsUnknownStatus(t *testing.T) {
	h := newHarness(t, 1)

	_, _, err := h.svc.ListCompanies(context.Background(), h.campaign.ID, 1, 10, "sleeping")
	var invalid *appErrors.ErrInvalidInput
	if !errors.As(err, &invalid) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if invalid.Field != "status" {
		t.Errorf("expected field status, got %s", invalid.Field)
	}
}
