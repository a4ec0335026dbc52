package aircloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-aircloud/internal/climate"
	"github.com/joshp123/gohome-aircloud/internal/config"
	"github.com/joshp123/gohome-aircloud/internal/session"
)

var ErrAlreadyConfigured = errors.New("account already configured")

// Entry is one configured account and everything running for it.
type Entry struct {
	UniqueID string
	Title    string

	client      *Client
	session     *session.Manager
	coordinator *Coordinator
	entities    map[int]*HitachiAcUnit

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe func()
}

func (e *Entry) Client() *Client { return e.client }

func (e *Entry) Coordinator() *Coordinator { return e.coordinator }

// Entities returns the entry's entities sorted by unit id.
func (e *Entry) Entities() []*HitachiAcUnit {
	out := make([]*HitachiAcUnit, 0, len(e.entities))
	for _, entity := range e.entities {
		out = append(out, entity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID() < out[j].UnitID() })
	return out
}

// Integration owns the entries of all configured accounts.
type Integration struct {
	cfg        Config
	sessionCfg config.SessionConfig
	blob       session.BlobStore
	registry   *climate.Registry
	logger     logrus.FieldLogger

	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewIntegration(cfg Config, sessionCfg config.SessionConfig, blob session.BlobStore, registry *climate.Registry, logger logrus.FieldLogger) *Integration {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if blob == nil {
		blob = session.NewMemoryStore()
	}
	return &Integration{
		cfg:        cfg,
		sessionCfg: sessionCfg,
		blob:       blob,
		registry:   registry,
		logger:     logger,
		entries:    make(map[string]*Entry),
	}
}

func (i *Integration) Registry() *climate.Registry { return i.registry }

// AuthAPI returns an unauthenticated IAM client for config flows.
func (i *Integration) AuthAPI() *AuthAPI {
	return NewAuthAPI(i.cfg.BaseURL, &http.Client{Timeout: i.cfg.RequestTimeout})
}

// Configured reports whether uniqueID already has an entry.
func (i *Integration) Configured(uniqueID string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.entries[uniqueID]
	return ok
}

// SetupEntry connects an account, registers one entity per interior unit
// and starts polling (and notifications when enabled).
func (i *Integration) SetupEntry(ctx context.Context, account config.AirCloudAccount) error {
	uniqueID := account.UniqueID()
	if uniqueID == "" {
		return fmt.Errorf("aircloud account email is required")
	}
	if i.Configured(uniqueID) {
		return fmt.Errorf("%w: %s", ErrAlreadyConfigured, uniqueID)
	}
	password, err := account.ResolvePassword()
	if err != nil {
		return err
	}

	logger := i.logger.WithField("account", uniqueID)
	auth := accountAuthenticator{api: i.AuthAPI(), email: account.Email, password: password}
	manager, err := session.NewManager(session.Declaration{
		Provider:  Domain,
		Account:   uniqueID,
		StatePath: session.StatePath(i.sessionCfg.StateDir, Domain, uniqueID),
	}, auth, i.blob, logger)
	if err != nil {
		return fmt.Errorf("aircloud session: %w", err)
	}

	client := NewClient(i.cfg, manager, logger)
	if err := client.Connect(ctx); err != nil {
		return err
	}

	coordinator := NewCoordinator(client, i.cfg.PollInterval, i.cfg.RequestTimeout, logger)
	entry := &Entry{
		UniqueID:    uniqueID,
		Title:       account.Email,
		client:      client,
		session:     manager,
		coordinator: coordinator,
		entities:    make(map[int]*HitachiAcUnit),
	}
	entities := make([]climate.Entity, 0)
	for _, unit := range client.Units() {
		entity := NewHitachiAcUnit(client, i.registry, coordinator, unit)
		entry.entities[unit.ID] = entity
		entities = append(entities, entity)
	}
	if err := i.registry.Add(entities...); err != nil {
		client.Close()
		return err
	}
	entry.unsubscribe = client.OnChange(func(changes map[int]Change) {
		handleChanges(changes, entry.entities, logger)
	})

	runCtx, cancel := context.WithCancel(context.Background())
	entry.cancel = cancel
	if err := coordinator.Start(runCtx); err != nil {
		cancel()
		i.teardown(entry)
		return err
	}
	manager.StartWithInterval(runCtx, session.RefreshInterval(i.sessionCfg))

	if i.cfg.NotificationsEnabled {
		profile, _ := client.UserProfile()
		notifier := NewNotifier(i.cfg.NotificationURL, profile.FamilyID, client.AccessToken, client.InvalidateSession, coordinator.RequestRefresh, logger)
		entry.wg.Add(1)
		go func() {
			defer entry.wg.Done()
			notifier.Run(runCtx)
		}()
	}

	i.mu.Lock()
	if _, exists := i.entries[uniqueID]; exists {
		i.mu.Unlock()
		cancel()
		i.teardown(entry)
		return fmt.Errorf("%w: %s", ErrAlreadyConfigured, uniqueID)
	}
	i.entries[uniqueID] = entry
	i.mu.Unlock()

	logger.WithField("units", len(entities)).Info("aircloud entry set up")
	return nil
}

// UnloadEntry stops the entry's background work, removes its entities and
// closes the client.
func (i *Integration) UnloadEntry(_ context.Context, uniqueID string) error {
	i.mu.Lock()
	entry, ok := i.entries[uniqueID]
	delete(i.entries, uniqueID)
	i.mu.Unlock()
	if !ok {
		return fmt.Errorf("aircloud entry %s is not loaded", uniqueID)
	}
	entry.cancel()
	i.teardown(entry)
	i.logger.WithField("account", uniqueID).Info("aircloud entry unloaded")
	return nil
}

// UnloadAll unloads every entry.
func (i *Integration) UnloadAll(ctx context.Context) {
	for _, entry := range i.Entries() {
		if err := i.UnloadEntry(ctx, entry.UniqueID); err != nil {
			i.logger.WithError(err).Warn("aircloud unload failed")
		}
	}
}

func (i *Integration) teardown(entry *Entry) {
	entry.coordinator.Stop()
	entry.wg.Wait()
	if entry.unsubscribe != nil {
		entry.unsubscribe()
	}
	ids := make([]string, 0, len(entry.entities))
	for _, entity := range entry.entities {
		ids = append(ids, entity.UniqueID())
	}
	i.registry.Remove(ids...)
	entry.client.Close()
}

// Entries returns loaded entries sorted by unique id.
func (i *Integration) Entries() []*Entry {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]*Entry, 0, len(i.entries))
	for _, entry := range i.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UniqueID < out[b].UniqueID })
	return out
}

// Entity finds the entity for an interior unit across entries.
func (i *Integration) Entity(unitID int) (*HitachiAcUnit, bool) {
	for _, entry := range i.Entries() {
		if entity, ok := entry.entities[unitID]; ok {
			return entity, true
		}
	}
	return nil, false
}

// RefreshAll polls every entry now.
func (i *Integration) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, entry := range i.Entries() {
		if err := entry.coordinator.Refresh(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entry.UniqueID, err))
		}
	}
	return errors.Join(errs...)
}

func handleChanges(changes map[int]Change, entities map[int]*HitachiAcUnit, logger logrus.FieldLogger) {
	for id, change := range changes {
		fields := logrus.Fields{"unit_id": id}
		entity, known := entities[id]
		switch {
		case change.New == nil:
			logger.WithFields(fields).Warn("aircloud unit disappeared")
			if known {
				if err := entity.MarkUnavailable(); err != nil {
					logger.WithFields(fields).WithError(err).Warn("aircloud state update failed")
				}
			}
		case !known:
			// Entities are created at setup; a new unit needs a reload.
			logger.WithFields(fields).Warn("aircloud unit appeared")
		default:
			if change.Old == nil {
				logger.WithFields(fields).Info("aircloud unit reappeared")
			}
			if err := entity.HandleUpdate(*change.New); err != nil {
				logger.WithFields(fields).WithError(err).Warn("aircloud state update failed")
			}
		}
	}
}
