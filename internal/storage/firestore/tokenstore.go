package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const installationsCollection = "installations"

// FirestoreStore implements sdk.TokenStore with one document per
// installation: installations/{installationID}.
type FirestoreStore struct {
	client   *firestore.Client
	doc      string
	platform string
}

func NewFirestoreStore(client *firestore.Client, installationID, platform string) *FirestoreStore {
	return &FirestoreStore{client: client, doc: installationID, platform: platform}
}

// installationRecord is the stored document.
type installationRecord struct {
	Token     string    `firestore:"token"`
	Platform  string    `firestore:"platform,omitempty"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

func (s *FirestoreStore) Load(ctx context.Context) (string, error) {
	snap, err := s.ref().Get(ctx)
	if status.Code(err) == codes.NotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read installation %s: %w", s.doc, err)
	}

	var record installationRecord
	if err := snap.DataTo(&record); err != nil {
		return "", fmt.Errorf("failed to decode installation %s: %w", s.doc, err)
	}
	return record.Token, nil
}

func (s *FirestoreStore) Save(ctx context.Context, token string) error {
	record := installationRecord{
		Token:     token,
		Platform:  s.platform,
		UpdatedAt: time.Now(),
	}
	if _, err := s.ref().Set(ctx, record); err != nil {
		return fmt.Errorf("failed to write installation %s: %w", s.doc, err)
	}
	return nil
}

func (s *FirestoreStore) ref() *firestore.DocumentRef {
	return s.client.Collection(installationsCollection).Doc(s.doc)
}
