// Package registry implements the Integration Registry: catalog
// registration, installation CRUD, and orchestration of the
// credential vault and health monitor for each installed connector.
// Grounded on internal/marketplace.Service (ItemType/Connector/
// Installation catalog-plus-installations shape) and
// internal/marketplace.Installer's per-operation locking idiom,
// adapted from the teacher's simple active/paused/uninstalled status
// field to the richer registered/connected/disabled/error/uninstalled
// state machine.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nchat/core/internal/connector"
	"github.com/nchat/core/internal/health"
	"github.com/nchat/core/internal/vault"
)

// Status is an installation's position in the lifecycle state machine:
// registered -> connected -> {disabled|error} -> uninstalled.
type Status string

const (
	StatusRegistered Status = "registered"
	StatusConnected  Status = "connected"
	StatusDisabled   Status = "disabled"
	StatusError      Status = "error"
	StatusUninstalled Status = "uninstalled"
)

// ConfigError is returned by Install when catalogID has no registered
// catalog entry.
type ConfigError struct {
	CatalogID string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("registry: no catalog entry registered for %q", e.CatalogID)
}

// AuthError wraps a failure from a connector's Connect call.
type AuthError struct {
	InstallationID string
	Cause          error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("registry: connect failed for installation %s: %v", e.InstallationID, e.Cause)
}

func (e *AuthError) Unwrap() error { return e.Cause }

// ErrNotFound is returned by operations addressing an unknown
// installation ID.
var ErrNotFound = errors.New("registry: installation not found")

// Installation is one configured connector instance.
type Installation struct {
	ID          string
	CatalogID   string
	Config      connector.Config
	Status      Status
	Enabled     bool
	InstalledAt time.Time
	UpdatedAt   time.Time
	LastError   string
}

// ConnectorFactory builds a fresh, unconnected Connector instance for
// a catalog entry. The registry never holds a single shared Connector
// per catalog entry — each installation gets its own.
type ConnectorFactory func() connector.Connector

type catalogRegistration struct {
	entry   connector.CatalogEntry
	factory ConnectorFactory
}

// Registry orchestrates the connector catalog, the credential vault,
// and the health monitor, exactly as internal/marketplace.Service
// orchestrates ConnectorManager + Installer + signature verification
// in the teacher.
type Registry struct {
	mu            sync.Mutex
	catalog       map[string]catalogRegistration
	installations map[string]*Installation
	connectors    map[string]connector.Connector
	vault         *vault.Vault
	monitor       *health.Monitor
	now           func() time.Time
}

// New creates a Registry backed by the given vault. A health.Monitor
// is constructed internally with onAutoDisable wired back into the
// registry's own disable handling, breaking the registry<->monitor
// import cycle per the teacher's callback-based decoupling.
func New(v *vault.Vault, maxConsecutiveFailures int, checkIntervalMs int64) *Registry {
	r := &Registry{
		catalog:       make(map[string]catalogRegistration),
		installations: make(map[string]*Installation),
		connectors:    make(map[string]connector.Connector),
		vault:         v,
		now:           time.Now,
	}
	r.monitor = health.NewMonitor(maxConsecutiveFailures, checkIntervalMs, r.handleAutoDisable)
	return r
}

// RegisterConnector adds a catalog entry and the factory used to
// build connector instances for it.
func (r *Registry) RegisterConnector(entry connector.CatalogEntry, factory ConnectorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catalog[entry.ID] = catalogRegistration{entry: entry, factory: factory}
}

// ListCatalog returns every registered catalog entry.
func (r *Registry) ListCatalog() []connector.CatalogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]connector.CatalogEntry, 0, len(r.catalog))
	for _, reg := range r.catalog {
		out = append(out, reg.entry)
	}
	return out
}

// Install connects the connector, stores credentials once Connect has
// succeeded, creates an installation record with status connected, and starts health
// monitoring. Returns *ConfigError if catalogID is unregistered, or
// *AuthError if Connect fails.
func (r *Registry) Install(catalogID string, cfg connector.Config, creds connector.Credentials) (*Installation, error) {
	r.mu.Lock()
	reg, ok := r.catalog[catalogID]
	if !ok {
		r.mu.Unlock()
		return nil, &ConfigError{CatalogID: catalogID}
	}
	id := "inst-" + uuid.NewString()
	conn := reg.factory()
	r.mu.Unlock()

	if err := conn.Connect(cfg, creds); err != nil {
		return nil, &AuthError{InstallationID: id, Cause: err}
	}

	if err := r.vault.Store(id, vault.Credentials{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Extra:        creds.Extra,
	}); err != nil {
		_ = conn.Disconnect()
		return nil, fmt.Errorf("registry: storing credentials: %w", err)
	}

	now := r.now()
	installation := &Installation{
		ID:          id,
		CatalogID:   catalogID,
		Config:      cfg,
		Status:      StatusConnected,
		Enabled:     true,
		InstalledAt: now,
		UpdatedAt:   now,
	}

	r.mu.Lock()
	r.installations[id] = installation
	r.connectors[id] = conn
	r.mu.Unlock()

	r.monitor.StartMonitoring(id, conn)
	return installation, nil
}

// Configure merges partialConfig into an installation's config and
// bumps UpdatedAt.
func (r *Registry) Configure(id string, partialConfig connector.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.installations[id]
	if !ok {
		return ErrNotFound
	}
	if inst.Config == nil {
		inst.Config = connector.Config{}
	}
	for k, v := range partialConfig {
		inst.Config[k] = v
	}
	inst.UpdatedAt = r.now()
	return nil
}

// Enable starts monitoring and connects the installation's connector,
// setting status to connected.
func (r *Registry) Enable(id string) error {
	r.mu.Lock()
	inst, ok := r.installations[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	conn := r.connectors[id]
	cfg := inst.Config
	r.mu.Unlock()

	creds, err := r.vault.Retrieve(id)
	if err != nil {
		return fmt.Errorf("registry: retrieving credentials for %s: %w", id, err)
	}
	if err := conn.Connect(cfg, connector.Credentials{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Extra:        creds.Extra,
	}); err != nil {
		return &AuthError{InstallationID: id, Cause: err}
	}

	r.mu.Lock()
	inst.Status = StatusConnected
	inst.Enabled = true
	inst.UpdatedAt = r.now()
	r.mu.Unlock()

	r.monitor.StartMonitoring(id, conn)
	return nil
}

// Disable stops monitoring and disconnects the installation's
// connector, setting status to disabled.
func (r *Registry) Disable(id string) error {
	r.mu.Lock()
	inst, ok := r.installations[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	conn := r.connectors[id]
	r.mu.Unlock()

	r.monitor.StopMonitoring(id)
	_ = conn.Disconnect()

	r.mu.Lock()
	inst.Status = StatusDisabled
	inst.Enabled = false
	inst.UpdatedAt = r.now()
	r.mu.Unlock()
	return nil
}

// Uninstall stops monitoring, disconnects best-effort, removes
// credentials, and deletes the installation record entirely.
func (r *Registry) Uninstall(id string) error {
	r.mu.Lock()
	_, ok := r.installations[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	conn := r.connectors[id]
	r.mu.Unlock()

	r.monitor.StopMonitoring(id)
	if conn != nil {
		_ = conn.Disconnect()
	}
	_ = r.vault.Remove(id)

	r.mu.Lock()
	delete(r.installations, id)
	delete(r.connectors, id)
	r.mu.Unlock()
	return nil
}

// Shutdown stops all monitoring and disconnects every connected
// connector, best-effort.
func (r *Registry) Shutdown() {
	r.monitor.StopAll()

	r.mu.Lock()
	conns := make([]connector.Connector, 0, len(r.connectors))
	for _, c := range r.connectors {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.Disconnect()
	}
}

// Get returns the installation record for id.
func (r *Registry) Get(id string) (*Installation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.installations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inst
	return &cp, nil
}

// List returns every installation record.
func (r *Registry) List() []*Installation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Installation, 0, len(r.installations))
	for _, inst := range r.installations {
		cp := *inst
		out = append(out, &cp)
	}
	return out
}

// handleAutoDisable is wired into health.Monitor at construction: it
// transitions the installation to error and performs a best-effort
// disconnect, per spec.md §4.4.
func (r *Registry) handleAutoDisable(id string, reason string) {
	r.mu.Lock()
	inst, ok := r.installations[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	conn := r.connectors[id]
	inst.Status = StatusError
	inst.Enabled = false
	inst.LastError = reason
	inst.UpdatedAt = r.now()
	r.mu.Unlock()

	if conn != nil {
		_ = conn.Disconnect()
	}
}
