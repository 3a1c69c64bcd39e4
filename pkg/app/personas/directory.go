package personas

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/tulipdesk/pkg/util"
)

// Store persists personas keyed by userId.
type Store interface {
	ScanPersonas(ctx context.Context) ([]Persona, error)
	// GetPersona returns nil, nil when the persona does not exist.
	GetPersona(ctx context.Context, userID string) (*Persona, error)
	// InsertPersona fails with ErrPersonaExists if userId is taken.
	InsertPersona(ctx context.Context, p Persona) error
	// UpdatePersona fails with ErrPersonaNotFound if userId is absent.
	UpdatePersona(ctx context.Context, userID string, u Update, updatedAt int64) (*Persona, error)
	// DeletePersona fails with ErrPersonaNotFound if userId is absent.
	DeletePersona(ctx context.Context, userID string) error
}

// CreateRequest is the POST /api/personas body.
type CreateRequest struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	AvatarURL string `json:"avatarUrl"`
	Bio       string `json:"bio"`
}

// Directory serves persona profiles. A nil store means the directory runs
// on the built-in seeds only and rejects writes.
type Directory struct {
	store  Store
	cache  Cache
	seeds  map[string]Persona
	clock  util.Clock
	logger *zap.SugaredLogger
}

func NewDirectory(store Store, cache Cache, clock util.Clock, logger *zap.SugaredLogger) (*Directory, error) {
	seeds, err := Seeds()
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cache == nil {
		cache = NewMemoryCache(0, clock)
	}
	return &Directory{store: store, cache: cache, seeds: seeds, clock: clock, logger: logger}, nil
}

// Get resolves a persona for display. It never fails: lookups that miss or
// error degrade to the unknown persona.
func (d *Directory) Get(ctx context.Context, userID string) Persona {
	if userID == "" {
		return Unknown("")
	}
	if p, ok := d.cache.Get(ctx, userID); ok {
		return p
	}
	if d.store != nil {
		p, err := d.store.GetPersona(ctx, userID)
		if err != nil {
			d.logger.Warnw("persona_lookup_failed", "userId", userID, "err", err)
		} else if p != nil {
			d.cache.Put(ctx, *p)
			return *p
		}
	}
	if p, ok := d.seeds[userID]; ok {
		return p
	}
	return Unknown(userID)
}

// List returns every persona sorted by name. The full listing is cached for
// the cache TTL; an empty store falls back to the seeds, uncached.
func (d *Directory) List(ctx context.Context) ([]Persona, error) {
	if d.store == nil {
		d.logger.Warn("personas store not configured; returning seed personas")
		return seedList(d.seeds), nil
	}
	if items, ok := d.cache.All(ctx); ok {
		SortByName(items)
		return items, nil
	}

	items, err := d.store.ScanPersonas(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan personas: %w", err)
	}
	if len(items) == 0 {
		return seedList(d.seeds), nil
	}
	d.cache.Refresh(ctx, items)
	SortByName(items)
	return items, nil
}

// Lookup returns the stored persona, or nil when there is none.
func (d *Directory) Lookup(ctx context.Context, userID string) (*Persona, error) {
	if d.store == nil {
		if p, ok := d.seeds[userID]; ok {
			return &p, nil
		}
		return nil, nil
	}
	p, err := d.store.GetPersona(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load persona %s: %w", userID, err)
	}
	if p != nil {
		d.cache.Put(ctx, *p)
	}
	return p, nil
}

func (d *Directory) Create(ctx context.Context, req CreateRequest) (*Persona, error) {
	if d.store == nil {
		return nil, ErrNotConfigured
	}

	userName := strings.TrimSpace(req.UserName)
	if userName == "" {
		return nil, &ValidationError{Message: "userName is required"}
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = Slugify(userName)
	}
	if userID == "" {
		userID = "user-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	}

	now := d.clock.Now().Unix()
	p := Persona{
		UserID:    userID,
		UserName:  userName,
		AvatarURL: strings.TrimSpace(req.AvatarURL),
		Bio:       strings.TrimSpace(req.Bio),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.store.InsertPersona(ctx, p); err != nil {
		if errors.Is(err, ErrPersonaExists) {
			return nil, err
		}
		return nil, fmt.Errorf("create persona: %w", err)
	}

	d.cache.Put(ctx, p)
	d.logger.Infow("persona_created", "userId", userID)
	return &p, nil
}

func (d *Directory) Update(ctx context.Context, userID string, u Update) (*Persona, error) {
	if d.store == nil {
		return nil, ErrNotConfigured
	}
	if u.Empty() {
		return nil, &ValidationError{Message: "No updatable fields provided"}
	}

	p, err := d.store.UpdatePersona(ctx, userID, u, d.clock.Now().Unix())
	if err != nil {
		if errors.Is(err, ErrPersonaNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update persona: %w", err)
	}

	d.cache.Put(ctx, *p)
	return p, nil
}

func (d *Directory) Delete(ctx context.Context, userID string) error {
	if d.store == nil {
		return ErrNotConfigured
	}
	if err := d.store.DeletePersona(ctx, userID); err != nil {
		if errors.Is(err, ErrPersonaNotFound) {
			return err
		}
		return fmt.Errorf("delete persona: %w", err)
	}
	d.cache.Delete(ctx, userID)
	return nil
}
