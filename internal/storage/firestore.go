package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/dgellow/auth-relay/internal/log"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	_ Storage = (*FirestoreStorage)(nil)
	_ Sweeper = (*FirestoreStorage)(nil)
)

// StateDoc is one handshake record document, keyed by state
type StateDoc struct {
	State        string    `firestore:"state"`
	AccessToken  string    `firestore:"access_token,omitempty"`
	RefreshToken string    `firestore:"refresh_token,omitempty"`
	IDToken      string    `firestore:"id_token,omitempty"`
	CreatedAt    time.Time `firestore:"created_at"`
	ExpiresAt    time.Time `firestore:"expires_at,omitempty"`
}

// FirestoreStorage keeps handshake records in a Firestore collection.
// Update and Pop run inside transactions so the read and the write are atomic.
type FirestoreStorage struct {
	client     *firestore.Client
	projectID  string
	collection string
	ttl        time.Duration
}

// NewFirestoreStorage creates a new Firestore-backed state store
func NewFirestoreStorage(ctx context.Context, projectID, database, collection string, ttl time.Duration) (*FirestoreStorage, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	var client *firestore.Client
	var err error

	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	log.LogInfoWithFields("storage", "Connected to Firestore", map[string]any{
		"project":    projectID,
		"database":   database,
		"collection": collection,
	})

	return &FirestoreStorage{
		client:     client,
		projectID:  projectID,
		collection: collection,
		ttl:        ttl,
	}, nil
}

func (s *FirestoreStorage) doc(stateID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(stateID)
}

func (s *FirestoreStorage) Create(ctx context.Context, stateID string) (*AuthenticationState, error) {
	now := time.Now()
	_, err := s.doc(stateID).Set(ctx, StateDoc{
		State:     stateID,
		CreatedAt: now,
		ExpiresAt: expiry(now, s.ttl),
	})
	if err != nil {
		return nil, backendError("create state", err)
	}
	return &AuthenticationState{State: stateID}, nil
}

func (s *FirestoreStorage) Get(ctx context.Context, stateID string) (*AuthenticationState, error) {
	snap, err := s.doc(stateID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, backendError("get state", err)
	}

	var doc StateDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, backendError("decode state", err)
	}
	if expired(doc.ExpiresAt, time.Now()) {
		return nil, ErrStateNotFound
	}
	return &AuthenticationState{State: doc.State}, nil
}

func (s *FirestoreStorage) Update(ctx context.Context, state *AuthenticationState) error {
	ref := s.doc(state.State)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrStateNotFound
			}
			return err
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "access_token", Value: state.AccessToken},
			{Path: "refresh_token", Value: state.RefreshToken},
			{Path: "id_token", Value: state.IDToken},
		})
	})
	if errors.Is(err, ErrStateNotFound) {
		return err
	}
	if err != nil {
		return backendError("update state", err)
	}
	return nil
}

func (s *FirestoreStorage) Pop(ctx context.Context, stateID, refreshToken string) (*AuthenticationState, error) {
	if refreshToken == "" {
		return nil, ErrPopConditionFailed
	}

	ref := s.doc(stateID)
	var popped StateDoc
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrPopConditionFailed
			}
			return err
		}
		if err := snap.DataTo(&popped); err != nil {
			return err
		}
		if popped.RefreshToken != refreshToken {
			return ErrPopConditionFailed
		}
		return tx.Delete(ref)
	})
	if errors.Is(err, ErrPopConditionFailed) {
		return nil, err
	}
	if err != nil {
		return nil, backendError("pop state", err)
	}

	return &AuthenticationState{
		State:        stateID,
		AccessToken:  popped.AccessToken,
		RefreshToken: popped.RefreshToken,
		IDToken:      popped.IDToken,
	}, nil
}

// DeleteExpired removes documents whose expires_at is in the past
func (s *FirestoreStorage) DeleteExpired(ctx context.Context) (int, error) {
	iter := s.client.Collection(s.collection).
		Where("expires_at", "<", time.Now()).
		Documents(ctx)
	defer iter.Stop()

	bw := s.client.BulkWriter(ctx)
	deleted := 0
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			bw.End()
			return deleted, backendError("query expired states", err)
		}
		if _, err := bw.Delete(snap.Ref); err != nil {
			log.LogWarnWithFields("storage", "Failed to queue expired state deletion", map[string]any{
				"state": snap.Ref.ID,
				"error": err.Error(),
			})
			continue
		}
		deleted++
	}
	bw.End()
	return deleted, nil
}

func (s *FirestoreStorage) Close() error {
	return s.client.Close()
}
