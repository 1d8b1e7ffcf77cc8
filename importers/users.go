package importers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aluiziolira/go-catalog-migrator/client"
	"github.com/aluiziolira/go-catalog-migrator/models"
	"github.com/aluiziolira/go-catalog-migrator/parser"
	"github.com/aluiziolira/go-catalog-migrator/pipeline"
	"github.com/aluiziolira/go-catalog-migrator/store"
	"github.com/google/uuid"
)

const maxBioLength = 1000

// UserStrategy imports registered customers as destination users with a
// linked profile record.
type UserStrategy struct {
	deps Deps

	mu     sync.Mutex
	phones map[string]string

	roleOnce sync.Once
	roleID   int
}

// NewUserStrategy builds the user strategy.
func NewUserStrategy(deps Deps) *UserStrategy {
	return &UserStrategy{deps: deps, phones: make(map[string]string)}
}

func (s *UserStrategy) Entity() string { return Users }

func (s *UserStrategy) ExternalID(c models.Customer) string { return parser.ExternalID(c.ID) }

func (s *UserStrategy) Fetch(ctx context.Context, page, perPage int) (client.Page[models.Customer], error) {
	return s.deps.Commerce.Customers(ctx, page, perPage)
}

func (s *UserStrategy) phone(c models.Customer) string {
	return parser.FormatPhone(c.Phone(), s.deps.Config.Import.PhoneCountryCode)
}

// Keep drops customers the destination cannot hold: a malformed email, a
// missing or invalid phone, or a phone already claimed by another customer
// in this run.
func (s *UserStrategy) Keep(c models.Customer) (bool, string) {
	if email := strings.TrimSpace(c.Email); email != "" && !parser.ValidEmail(email) {
		return false, "invalid email"
	}
	if c.Phone() == "" {
		return false, "missing phone"
	}
	phone := s.phone(c)
	if phone == "" {
		return false, "invalid phone"
	}

	id := parser.ExternalID(c.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.phones[phone]; ok && owner != id {
		return false, "duplicate phone"
	}
	s.phones[phone] = id
	return true, ""
}

func (s *UserStrategy) Process(ctx context.Context, c models.Customer, existing *store.Record, dryRun bool) (pipeline.Result, error) {
	id := parser.ExternalID(c.ID)
	phone := s.phone(c)
	email := strings.TrimSpace(c.Email)
	first := parser.DecodeText(c.FirstName)
	last := parser.DecodeText(c.LastName)
	if first == "" {
		first = parser.DecodeText(c.Billing.FirstName)
	}
	if last == "" {
		last = parser.DecodeText(c.Billing.LastName)
	}
	meta := map[string]any{"email": email, "firstName": first, "lastName": last, "phone": phone}

	if found, ok, err := s.findExisting(ctx, id, phone); err != nil {
		return pipeline.Result{}, err
	} else if ok {
		slog.Debug("user exists in destination",
			slog.Int("customer", c.ID),
			slog.Int("user", found.ID),
		)
		return pipeline.Result{Outcome: pipeline.Skipped, InternalID: found.ID, Metadata: meta, Reason: "exists in destination"}, nil
	}

	if dryRun {
		slog.Info("dry run: would import user", slog.Int("id", c.ID), slog.String("phone", phone))
		return pipeline.Result{Outcome: pipeline.Created, Metadata: meta}, nil
	}

	accountEmail := email
	if accountEmail == "" {
		accountEmail = strings.TrimPrefix(phone, "+") + "@" + placeholderMailDomain
	}
	user := map[string]any{
		"username":        phone,
		"email":           strings.ToLower(accountEmail),
		"password":        uuid.NewString(),
		"confirmed":       true,
		"blocked":         false,
		"phone":           phone,
		"IsActive":        true,
		"external_id":     id,
		"external_source": sourceCommerce,
	}
	if role := s.customerRole(ctx); role > 0 {
		user["role"] = role
	}

	entry, err := s.deps.Destination.CreateUser(ctx, user)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("create user: %w", err)
	}

	info := map[string]any{
		"FirstName": first,
		"LastName":  last,
		"Bio":       parser.Truncate(userBio(email, c.Address()), maxBioLength),
		"user":      entry.ID,
	}
	if _, err := s.deps.Destination.Create(ctx, collUserInfos, info); err != nil {
		slog.Warn("user info not created",
			slog.Int("user", entry.ID),
			slog.Any("error", err),
		)
	}
	return pipeline.Result{Outcome: pipeline.Created, InternalID: entry.ID, Metadata: meta}, nil
}

func (s *UserStrategy) findExisting(ctx context.Context, externalID, phone string) (client.Entry, bool, error) {
	for _, key := range []client.Key{{Field: "external_id", Value: externalID}, {Field: "phone", Value: phone}} {
		entries, err := s.deps.Destination.Find(ctx, collUsers, []client.Key{key}, 1)
		if err != nil {
			return client.Entry{}, false, fmt.Errorf("find user by %s: %w", key.Field, err)
		}
		if len(entries) > 0 {
			return entries[0], true, nil
		}
	}
	return client.Entry{}, false, nil
}

// customerRole resolves the authenticated customer role once per run. A
// failed lookup leaves users on the destination default role.
func (s *UserStrategy) customerRole(ctx context.Context) int {
	s.roleOnce.Do(func() {
		roles, err := s.deps.Destination.Roles(ctx)
		if err != nil {
			slog.Warn("roles not loaded, using default role", slog.Any("error", err))
			return
		}
		for _, r := range roles {
			if strings.EqualFold(r.Name, "customer") || strings.EqualFold(r.Type, "customer") {
				s.roleID = r.ID
				return
			}
		}
		slog.Warn("customer role not found, using default role")
	})
	return s.roleID
}

func userBio(email, address string) string {
	var parts []string
	if email != "" {
		parts = append(parts, "Email: "+email)
	}
	if address != "" {
		parts = append(parts, "Address: "+address)
	}
	return strings.Join(parts, "\n")
}
