package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/dgellow/auth-relay/internal/log"
)

// KindAuthenticationState is the Datastore kind holding handshake records
const KindAuthenticationState = "AuthenticationState"

var (
	_ Storage = (*DatastoreStorage)(nil)
	_ Sweeper = (*DatastoreStorage)(nil)
)

// StateEntity is the Datastore entity for a handshake record; the key name is the state
type StateEntity struct {
	Key          *datastore.Key `datastore:"__key__"`
	AccessToken  string         `datastore:"access_token,noindex"`
	RefreshToken string         `datastore:"refresh_token,noindex"`
	IDToken      string         `datastore:"id_token,noindex"`
	CreatedAt    time.Time      `datastore:"created_at"`
	ExpiresAt    time.Time      `datastore:"expires_at"`
}

// DatastoreStorage keeps handshake records as Datastore entities in an
// optional namespace
type DatastoreStorage struct {
	client    *datastore.Client
	namespace string
	ttl       time.Duration
}

func NewDatastoreStorage(ctx context.Context, projectID, namespace string, ttl time.Duration) (*DatastoreStorage, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	client, err := datastore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Datastore client: %w", err)
	}
	log.LogInfoWithFields("storage", "Connected to Datastore", map[string]any{
		"project":   projectID,
		"namespace": namespace,
	})
	return &DatastoreStorage{client: client, namespace: namespace, ttl: ttl}, nil
}

func (s *DatastoreStorage) namespacedKey(stateID string) *datastore.Key {
	key := datastore.NameKey(KindAuthenticationState, stateID, nil)
	key.Namespace = s.namespace
	return key
}

func (s *DatastoreStorage) Create(ctx context.Context, stateID string) (*AuthenticationState, error) {
	now := time.Now()
	key := s.namespacedKey(stateID)
	entity := &StateEntity{
		Key:       key,
		CreatedAt: now,
		ExpiresAt: expiry(now, s.ttl),
	}
	if _, err := s.client.Put(ctx, key, entity); err != nil {
		return nil, backendError("create state", err)
	}
	return &AuthenticationState{State: stateID}, nil
}

func (s *DatastoreStorage) Get(ctx context.Context, stateID string) (*AuthenticationState, error) {
	var entity StateEntity
	err := s.client.Get(ctx, s.namespacedKey(stateID), &entity)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, backendError("get state", err)
	}
	if expired(entity.ExpiresAt, time.Now()) {
		return nil, ErrStateNotFound
	}
	return &AuthenticationState{State: stateID}, nil
}

func (s *DatastoreStorage) Update(ctx context.Context, state *AuthenticationState) error {
	key := s.namespacedKey(state.State)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity StateEntity
		if err := tx.Get(key, &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return ErrStateNotFound
			}
			return err
		}
		entity.AccessToken = state.AccessToken
		entity.RefreshToken = state.RefreshToken
		entity.IDToken = state.IDToken
		_, err := tx.Put(key, &entity)
		return err
	})
	if errors.Is(err, ErrStateNotFound) {
		return err
	}
	if err != nil {
		return backendError("update state", err)
	}
	return nil
}

func (s *DatastoreStorage) Pop(ctx context.Context, stateID, refreshToken string) (*AuthenticationState, error) {
	if refreshToken == "" {
		return nil, ErrPopConditionFailed
	}

	key := s.namespacedKey(stateID)
	var entity StateEntity
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		if err := tx.Get(key, &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return ErrPopConditionFailed
			}
			return err
		}
		if entity.RefreshToken != refreshToken {
			return ErrPopConditionFailed
		}
		return tx.Delete(key)
	})
	if errors.Is(err, ErrPopConditionFailed) {
		return nil, err
	}
	if err != nil {
		return nil, backendError("pop state", err)
	}

	return &AuthenticationState{
		State:        stateID,
		AccessToken:  entity.AccessToken,
		RefreshToken: entity.RefreshToken,
		IDToken:      entity.IDToken,
	}, nil
}

// DeleteExpired removes entities whose expiry has passed. Records created
// without a TTL carry a zero expires_at and are skipped.
func (s *DatastoreStorage) DeleteExpired(ctx context.Context) (int, error) {
	query := datastore.NewQuery(KindAuthenticationState).
		Namespace(s.namespace).
		FilterField("expires_at", ">", time.Time{}).
		FilterField("expires_at", "<", time.Now()).
		KeysOnly()

	keys, err := s.client.GetAll(ctx, query, nil)
	if err != nil {
		return 0, backendError("query expired states", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.client.DeleteMulti(ctx, keys); err != nil {
		return 0, backendError("delete expired states", err)
	}
	return len(keys), nil
}

func (s *DatastoreStorage) Close() error {
	return s.client.Close()
}
