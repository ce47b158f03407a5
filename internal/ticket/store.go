// Package ticket stores helpdesk tickets. It performs no authorization; the
// API layer checks organisation ownership after loading a ticket.
package ticket

import (
	"context"
	"strings"
	"time"

	"github.com/d9705996/helpdesk/internal/apperr"
	"github.com/d9705996/helpdesk/internal/model"
	"gorm.io/gorm"
)

// Paging limits for List.
const (
	DefaultLimit = 50
	MaxLimit     = 500
	MaxTitle     = 255
)

// View is a ticket joined with its author and organisation names.
type View struct {
	model.Ticket
	UserName         string `json:"userName"`
	UserEmail        string `json:"userEmail"`
	OrganisationName string `json:"organisationName"`
}

// Filter narrows List. OrganisationID is mandatory.
type Filter struct {
	OrganisationID uint
	Status         model.TicketStatus
	Limit          int
	Offset         int
}

// Input is the payload for Create.
type Input struct {
	Title          string
	Description    *string
	Status         model.TicketStatus
	UserID         uint
	OrganisationID uint
}

// Patch holds the fields an update may change. Nil means unchanged.
type Patch struct {
	Title       *string
	Description *string
	Status      *model.TicketStatus
}

// Store is the GORM-backed ticket repository.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore returns a Store using gdb.
func NewStore(gdb *gorm.DB) *Store {
	return &Store{db: gdb, now: time.Now}
}

func (s *Store) joined(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Table("tickets").
		Select("tickets.*, users.name AS user_name, users.email AS user_email, organisations.name AS organisation_name").
		Joins("JOIN users ON users.id = tickets.user_id").
		Joins("JOIN organisations ON organisations.id = tickets.organisation_id")
}

// List returns one page of an organisation's tickets, newest first, and the
// total number matching the filter.
func (s *Store) List(ctx context.Context, f Filter) ([]View, int64, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, invalidStatus()
	}
	f.Limit, f.Offset = Page(f.Limit, f.Offset)

	scope := func(q *gorm.DB) *gorm.DB {
		q = q.Where("tickets.organisation_id = ?", f.OrganisationID)
		if f.Status != "" {
			q = q.Where("tickets.status = ?", f.Status)
		}
		return q
	}

	var total int64
	if err := scope(s.db.WithContext(ctx).Model(&model.Ticket{})).Count(&total).Error; err != nil {
		return nil, 0, apperr.Database("count tickets", err)
	}
	views := []View{}
	err := scope(s.joined(ctx)).
		Order("tickets.created_at DESC, tickets.id DESC").
		Limit(f.Limit).Offset(f.Offset).
		Scan(&views).Error
	if err != nil {
		return nil, 0, apperr.Database("list tickets", err)
	}
	return views, total, nil
}

// Get returns the ticket with id regardless of organisation.
func (s *Store) Get(ctx context.Context, id uint) (*View, error) {
	var views []View
	if err := s.joined(ctx).Where("tickets.id = ?", id).Limit(1).Scan(&views).Error; err != nil {
		return nil, apperr.Database("get ticket", err)
	}
	if len(views) == 0 {
		return nil, apperr.NotFound("Ticket")
	}
	return &views[0], nil
}

// Create validates and inserts a ticket.
func (s *Store) Create(ctx context.Context, in Input) (*View, error) {
	title, err := validTitle(in.Title)
	if err != nil {
		return nil, err
	}
	status := in.Status
	if status == "" {
		status = model.TicketOpen
	}
	if !status.Valid() {
		return nil, invalidStatus()
	}
	t := &model.Ticket{
		Title:          title,
		Description:    in.Description,
		Status:         status,
		UserID:         in.UserID,
		OrganisationID: in.OrganisationID,
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, apperr.Database("create ticket", err)
	}
	return s.Get(ctx, t.ID)
}

// Update applies p to ticket id. An empty patch is a validation error.
func (s *Store) Update(ctx context.Context, id uint, p Patch) (*View, error) {
	fields := map[string]any{}
	if p.Title != nil {
		title, err := validTitle(*p.Title)
		if err != nil {
			return nil, err
		}
		fields["title"] = title
	}
	if p.Description != nil {
		fields["description"] = *p.Description
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return nil, invalidStatus()
		}
		fields["status"] = *p.Status
	}
	if len(fields) == 0 {
		return nil, apperr.Validation("No fields to update").WithCode("EMPTY_UPDATE")
	}
	fields["updated_at"] = s.now().UTC()

	res := s.db.WithContext(ctx).Model(&model.Ticket{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return nil, apperr.Database("update ticket", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.NotFound("Ticket")
	}
	return s.Get(ctx, id)
}

// Delete removes ticket id.
func (s *Store) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&model.Ticket{}, id)
	if res.Error != nil {
		return apperr.Database("delete ticket", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("Ticket")
	}
	return nil
}

// ParseStatus validates a status from user input. Empty is allowed.
func ParseStatus(s string) (model.TicketStatus, error) {
	st := model.TicketStatus(strings.TrimSpace(s))
	if st != "" && !st.Valid() {
		return "", invalidStatus()
	}
	return st, nil
}

func validTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	switch {
	case title == "":
		return "", apperr.ValidationField("title", "Missing required fields: title")
	case len([]rune(title)) > MaxTitle:
		return "", apperr.ValidationField("title", "Title must be at most 255 characters")
	}
	return title, nil
}

func invalidStatus() error {
	names := make([]string, len(model.TicketStatuses))
	for i, s := range model.TicketStatuses {
		names[i] = string(s)
	}
	return apperr.ValidationField("status", "Status must be one of: "+strings.Join(names, ", ")).
		WithCode("INVALID_STATUS")
}

// Page clamps limit into [1, MaxLimit], defaulting to DefaultLimit, and
// offset to at least zero.
func Page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
