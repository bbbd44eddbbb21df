// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package templates manages the append-only version chain of named key
// configuration templates. An edit never mutates a row: it inserts version
// N+1 pointing back at the row it was derived from and deactivates that row.
package templates

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/toeirei/keyless/internal/audit"
	"github.com/toeirei/keyless/internal/clock"
	"github.com/toeirei/keyless/internal/errs"
	"github.com/toeirei/keyless/internal/logging"
	"github.com/toeirei/keyless/internal/model"
)

// DefaultDurationMonths applies when a draft leaves the duration unset.
const DefaultDurationMonths = 12

// CreatedAtLayout is the format of created_at values.
const CreatedAtLayout = "2006-01-02T15:04:05.000000"

// Store is the template persistence the chain needs.
type Store interface {
	InsertTemplate(ctx context.Context, t model.Template) error
	GetTemplate(ctx context.Context, tenant, id string) (model.Template, error)
	ListTemplates(ctx context.Context, tenant string, includeArchived bool) ([]model.Template, error)
	TemplatesByName(ctx context.Context, tenant, name string) ([]model.Template, error)
	SupersedeTemplate(ctx context.Context, tenant, foundID string, next model.Template) error
	ArchiveTemplate(ctx context.Context, tenant, id string) error
	DeleteTemplate(ctx context.Context, tenant, id string) error
}

// Draft is the content of a new template.
type Draft struct {
	Name           string
	UserRef        *string
	VKConfig       json.RawMessage
	NFCTags        []string
	DurationMonths int
}

// Patch lists the fields an update changes. Nil fields carry over from the
// row being updated.
type Patch struct {
	Name           *string
	UserRef        *string
	VKConfig       json.RawMessage
	NFCTags        []string
	DurationMonths *int
}

// Chain implements template versioning for all tenants.
type Chain struct {
	store Store
	audit audit.Recorder
	clock clock.Clock
	newID func() string
}

// New returns a Chain. A nil clock means wall time.
func New(store Store, rec audit.Recorder, c clock.Clock) *Chain {
	return &Chain{store: store, audit: rec, clock: clock.OrSystem(c), newID: NewID}
}

// NewID returns "tpl_" followed by 12 hex characters of a random UUID.
func NewID() string {
	return "tpl_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Create inserts version 1 of a new name, active.
func (c *Chain) Create(ctx context.Context, s model.Session, d Draft) (model.Template, error) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return model.Template{}, errs.Validationf("template name is required")
	}
	cfg, err := normalizeConfig(d.VKConfig)
	if err != nil {
		return model.Template{}, err
	}
	months := d.DurationMonths
	if months == 0 {
		months = DefaultDurationMonths
	}
	if months < 0 {
		return model.Template{}, errs.Validationf("duration must be positive, got %d months", months)
	}

	t := model.Template{
		ID:             c.newID(),
		Tenant:         s.Tenant,
		Name:           name,
		UserRef:        d.UserRef,
		VKConfig:       cfg,
		NFCTags:        tagsOrEmpty(d.NFCTags),
		DurationMonths: months,
		Version:        1,
		IsActive:       true,
		CreatedAt:      c.clock.Now().Format(CreatedAtLayout),
		CreatedBy:      s.User,
	}
	if err := c.store.InsertTemplate(ctx, t); err != nil {
		return model.Template{}, fmt.Errorf("create template %q: %w", name, err)
	}
	c.record(ctx, s, audit.CreateTemplate, name, audit.Params{"template_id": t.ID})
	return t, nil
}

// Update derives version found.Version+1 from the row id, which need not be
// the active one. The found row is deactivated and the new row inserted in
// one transaction.
func (c *Chain) Update(ctx context.Context, s model.Session, id string, p Patch) (model.Template, error) {
	found, err := c.store.GetTemplate(ctx, s.Tenant, id)
	if err != nil {
		return model.Template{}, err
	}

	next := found
	next.ID = c.newID()
	next.Version = found.Version + 1
	prev := found.ID
	next.PreviousVersionID = &prev
	next.IsActive = true
	next.CreatedAt = c.clock.Now().Format(CreatedAtLayout)
	next.CreatedBy = s.User

	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return model.Template{}, errs.Validationf("template name is required")
		}
		next.Name = name
	}
	if p.UserRef != nil {
		next.UserRef = p.UserRef
	}
	if p.VKConfig != nil {
		cfg, err := normalizeConfig(p.VKConfig)
		if err != nil {
			return model.Template{}, err
		}
		next.VKConfig = cfg
	}
	if p.NFCTags != nil {
		next.NFCTags = tagsOrEmpty(p.NFCTags)
	}
	if p.DurationMonths != nil {
		if *p.DurationMonths <= 0 {
			return model.Template{}, errs.Validationf("duration must be positive, got %d months", *p.DurationMonths)
		}
		next.DurationMonths = *p.DurationMonths
	}

	if err := c.store.SupersedeTemplate(ctx, s.Tenant, found.ID, next); err != nil {
		return model.Template{}, fmt.Errorf("update template %q: %w", found.Name, err)
	}
	c.record(ctx, s, audit.UpdateTemplate, next.Name, audit.Params{"old_id": found.ID, "new_id": next.ID, "version": next.Version})
	return next, nil
}

// Archive deactivates exactly the row id. No new version is created.
func (c *Chain) Archive(ctx context.Context, s model.Session, id string) error {
	found, err := c.store.GetTemplate(ctx, s.Tenant, id)
	if err != nil {
		return err
	}
	if err := c.store.ArchiveTemplate(ctx, s.Tenant, id); err != nil {
		return fmt.Errorf("archive template %q: %w", found.Name, err)
	}
	c.record(ctx, s, audit.ArchiveTemplate, found.Name, audit.Params{"template_id": id})
	return nil
}

// HardDelete removes exactly the row id. Sibling versions stay, so the
// history of a name can have gaps.
func (c *Chain) HardDelete(ctx context.Context, s model.Session, id string) error {
	found, err := c.store.GetTemplate(ctx, s.Tenant, id)
	if err != nil {
		return err
	}
	if err := c.store.DeleteTemplate(ctx, s.Tenant, id); err != nil {
		return fmt.Errorf("delete template %q: %w", found.Name, err)
	}
	c.record(ctx, s, audit.DeleteTemplate, found.Name, audit.Params{"template_id": id})
	return nil
}

// History returns every row sharing the name of row id, newest version
// first. It is name-scoped: previous_version_id links are not followed.
func (c *Chain) History(ctx context.Context, tenant, id string) ([]model.Template, error) {
	found, err := c.store.GetTemplate(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	return c.store.TemplatesByName(ctx, tenant, found.Name)
}

// List returns active templates by name, or with includeArchived every row
// by name then version descending.
func (c *Chain) List(ctx context.Context, tenant string, includeArchived bool) ([]model.Template, error) {
	return c.store.ListTemplates(ctx, tenant, includeArchived)
}

// Get returns one row.
func (c *Chain) Get(ctx context.Context, tenant, id string) (model.Template, error) {
	return c.store.GetTemplate(ctx, tenant, id)
}

func (c *Chain) record(ctx context.Context, s model.Session, action audit.Action, subject string, params audit.Params) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Record(ctx, s.Tenant, s.User, action, subject, params); err != nil {
		logging.Warnf("audit %s for %s: %v", action, subject, err)
	}
}

// normalizeConfig requires a JSON object; an empty config becomes {}.
func normalizeConfig(raw json.RawMessage) (json.RawMessage, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return json.RawMessage("{}"), nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, errs.Validationf("key configuration must be a JSON object")
	}
	return raw, nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// BuildKeyConfig turns a template into the body of a create-key call: the
// template's configuration object plus userReference (when the template
// carries one) and endingTimestamp, now plus the template duration in epoch
// milliseconds.
func BuildKeyConfig(t model.Template, now time.Time) (json.RawMessage, error) {
	obj := map[string]json.RawMessage{}
	if len(t.VKConfig) > 0 {
		if err := json.Unmarshal(t.VKConfig, &obj); err != nil || obj == nil {
			return nil, errs.Validationf("template %s has a malformed configuration", t.ID)
		}
	}
	if t.UserRef != nil {
		ref, err := json.Marshal(*t.UserRef)
		if err != nil {
			return nil, fmt.Errorf("encode user reference: %w", err)
		}
		obj["userReference"] = ref
	}
	months := t.DurationMonths
	if months <= 0 {
		months = DefaultDurationMonths
	}
	obj["endingTimestamp"] = json.RawMessage(strconv.FormatInt(now.AddDate(0, months, 0).UnixMilli(), 10))
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode key configuration: %w", err)
	}
	return raw, nil
}
