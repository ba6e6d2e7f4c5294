package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"raygate/internal/models"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/pelletier/go-toml/v2"
)

const (
	settingsFile      = "settings.toml"
	subscriptionsFile = "subscriptions.json"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrServerNotFound       = errors.New("server not found")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store is the document store the rest of the system talks to. Settings
// live in a TOML document, subscriptions in a JSON document. All access
// goes through one mutex; documents are read once and written through.
type Store struct {
	mu            sync.Mutex
	storage       *AppStorage
	settings      *models.Settings
	subscriptions []*models.Subscription
}

func NewStore(storage *AppStorage) (*Store, error) {
	s := &Store{storage: storage}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	s.settings = models.DefaultSettings()
	settingsPath := filepath.Join(s.storage.ConfigPath(), settingsFile)
	if data, err := s.storage.ReadFile(settingsPath); err == nil {
		if err := toml.Unmarshal(data, s.settings); err != nil {
			return fmt.Errorf("malformed settings file %s: %w", settingsPath, err)
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	s.subscriptions = nil
	subsPath := filepath.Join(s.storage.DBPath(), subscriptionsFile)
	if data, err := s.storage.ReadFile(subsPath); err == nil {
		if err := json.Unmarshal(data, &s.subscriptions); err != nil {
			return fmt.Errorf("malformed subscriptions file %s: %w", subsPath, err)
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	return nil
}

func (s *Store) writeSettings() error {
	data, err := toml.Marshal(s.settings)
	if err != nil {
		return err
	}
	return s.storage.WriteFile(filepath.Join(s.storage.ConfigPath(), settingsFile), data)
}

func (s *Store) writeSubscriptions() error {
	data, err := json.MarshalIndent(s.subscriptions, "", "  ")
	if err != nil {
		return err
	}
	return s.storage.WriteFile(filepath.Join(s.storage.DBPath(), subscriptionsFile), data)
}

func (s *Store) GetSettings() *models.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.settings
	return &cp
}

func (s *Store) UpdateSettings(settings *models.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *settings
	s.settings = &cp
	return s.writeSettings()
}

func (s *Store) GetAllSubscriptions() []*models.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Subscription, len(s.subscriptions))
	copy(out, s.subscriptions)
	return out
}

func (s *Store) GetSubscription(id uuid.UUID) *models.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(id)
}

func (s *Store) findLocked(id uuid.UUID) *models.Subscription {
	for _, sub := range s.subscriptions {
		if sub.ID == id {
			return sub
		}
	}
	return nil
}

func (s *Store) AddSubscription(sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions = append(s.subscriptions, sub)
	return s.writeSubscriptions()
}

// SaveSubscription replaces a subscription document wholesale.
func (s *Store) SaveSubscription(sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.subscriptions {
		if existing.ID == sub.ID {
			s.subscriptions[i] = sub
			return s.writeSubscriptions()
		}
	}
	return ErrSubscriptionNotFound
}

func (s *Store) DeleteSubscription(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subscriptions {
		if sub.ID == id {
			s.subscriptions = append(s.subscriptions[:i], s.subscriptions[i+1:]...)
			return s.writeSubscriptions()
		}
	}
	return ErrSubscriptionNotFound
}

func (s *Store) GetServer(subscriptionID, serverID uuid.UUID) *models.ServerSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.findLocked(subscriptionID)
	if sub == nil {
		return nil
	}
	return sub.Server(serverID)
}

// FindServer scans every subscription for the given server id.
func (s *Store) FindServer(serverID uuid.UUID) (*models.Subscription, *models.ServerSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subscriptions {
		if srv := sub.Server(serverID); srv != nil {
			return sub, srv
		}
	}
	return nil, nil
}

func (s *Store) UpdateServerStatus(subscriptionID, serverID uuid.UUID, status models.ServerStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.findLocked(subscriptionID)
	if sub == nil {
		return ErrSubscriptionNotFound
	}
	srv := sub.Server(serverID)
	if srv == nil {
		return ErrServerNotFound
	}
	srv.Status = status
	return s.writeSubscriptions()
}
