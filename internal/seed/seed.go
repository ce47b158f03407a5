// Package seed prepares a fresh database: the default organisations, an
// admin account when the users table is empty and, optionally, demo tickets.
// Every step is idempotent, so it runs on each startup.
package seed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/d9705996/helpdesk/internal/auth"
	"github.com/d9705996/helpdesk/internal/model"
	"github.com/d9705996/helpdesk/internal/ticket"
	"gorm.io/gorm"
)

// Organisations are created on first boot in this order.
var Organisations = []string{"Acme Corp", "Globex Inc"}

// Options configures Run.
type Options struct {
	AdminEmail    string
	AdminPassword string // if empty, a random password is generated and printed once
	DemoData      bool
}

// Run seeds organisations, the admin user and, if requested, demo tickets.
func Run(ctx context.Context, db *gorm.DB, hasher *auth.Hasher, opts Options, log *slog.Logger) error {
	orgs, err := EnsureOrganisations(ctx, db, log)
	if err != nil {
		return err
	}
	admin, err := EnsureAdmin(ctx, db, hasher, orgs[0].ID, opts, log)
	if err != nil {
		return err
	}
	if opts.DemoData && admin != nil {
		return EnsureDemoTickets(ctx, db, admin, log)
	}
	return nil
}

// EnsureOrganisations creates the default organisations when none exist and
// returns all organisations ordered by id.
func EnsureOrganisations(ctx context.Context, db *gorm.DB, log *slog.Logger) ([]model.Organisation, error) {
	var orgs []model.Organisation
	if err := db.WithContext(ctx).Order("id ASC").Find(&orgs).Error; err != nil {
		return nil, fmt.Errorf("list organisations: %w", err)
	}
	if len(orgs) > 0 {
		return orgs, nil
	}
	for _, name := range Organisations {
		orgs = append(orgs, model.Organisation{Name: name})
	}
	if err := db.WithContext(ctx).Create(&orgs).Error; err != nil {
		return nil, fmt.Errorf("insert organisations: %w", err)
	}
	log.Info("seed organisations created", "count", len(orgs))
	return orgs, nil
}

// EnsureAdmin creates an ADMIN user in orgID if no users exist. It returns
// the new user, or nil when users were already present.
func EnsureAdmin(ctx context.Context, db *gorm.DB, hasher *auth.Hasher, orgID uint, opts Options, log *slog.Logger) (*model.User, error) {
	var count int64
	if err := db.WithContext(ctx).Model(&model.User{}).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		log.Info("seed admin already exists")
		return nil, nil
	}

	email, err := auth.CanonicalEmail(opts.AdminEmail)
	if err != nil {
		return nil, fmt.Errorf("seed admin email %q: %w", opts.AdminEmail, err)
	}
	password := opts.AdminPassword
	if password == "" {
		if password, err = generatePassword(); err != nil {
			return nil, fmt.Errorf("generate seed password: %w", err)
		}
		fmt.Printf("[helpdesk] seed admin password: %s\n", password)
	}

	hash, err := hasher.Hash(ctx, password)
	if err != nil {
		return nil, fmt.Errorf("hash seed password: %w", err)
	}
	u := &model.User{
		Name:           "Seed Admin",
		Email:          email,
		PasswordHash:   hash,
		Role:           model.RoleAdmin,
		OrganisationID: orgID,
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, fmt.Errorf("insert seed admin: %w", err)
	}
	log.Info("seed admin created", "email", email, "organisation_id", orgID)
	return u, nil
}

var demoTickets = []ticket.Input{
	{Title: "Laptop will not boot", Status: model.TicketOpen},
	{Title: "VPN disconnects every hour", Status: model.TicketInProgress},
	{Title: "Request access to billing dashboard", Status: model.TicketPending},
	{Title: "Printer on floor 3 jammed", Status: model.TicketResolved},
}

// EnsureDemoTickets files a handful of tickets as owner when its organisation
// has none.
func EnsureDemoTickets(ctx context.Context, db *gorm.DB, owner *model.User, log *slog.Logger) error {
	store := ticket.NewStore(db)
	if _, total, err := store.List(ctx, ticket.Filter{OrganisationID: owner.OrganisationID, Limit: 1}); err != nil {
		return fmt.Errorf("count demo tickets: %w", err)
	} else if total > 0 {
		return nil
	}
	for _, in := range demoTickets {
		in.UserID = owner.ID
		in.OrganisationID = owner.OrganisationID
		if _, err := store.Create(ctx, in); err != nil {
			return fmt.Errorf("insert demo ticket: %w", err)
		}
	}
	log.Info("seed demo tickets created", "count", len(demoTickets))
	return nil
}

func generatePassword() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
