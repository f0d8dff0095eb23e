// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/metastore"
)

// CredentialStore implements metastore.CredentialStore. Credentials are
// stored as AES-GCM ciphertext; this layer never sees plaintext fields.
type CredentialStore struct {
	db *sql.DB
}

var _ metastore.CredentialStore = (*CredentialStore)(nil)

// Create stores a new encrypted credential.
func (s *CredentialStore) Create(ctx context.Context, cred *core.IntegrationCredential) error {
	if cred.ID == uuid.Nil {
		cred.ID = uuid.New()
	}
	now := time.Now().UTC()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.ModifiedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO integration_credentials
		   (id, organization_id, source_short_name, auth_variant, encrypted_fields, created_at, modified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cred.ID.String(), cred.OrganizationID.String(), cred.SourceShortName,
		string(cred.AuthVariant), cred.EncryptedFields,
		formatTime(cred.CreatedAt), formatTime(cred.ModifiedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("credential %s: %w", cred.ID, core.ErrAlreadyExists)
		}
		return fmt.Errorf("inserting credential: %w", err)
	}
	return nil
}

// Get retrieves a credential scoped to an organization.
func (s *CredentialStore) Get(ctx context.Context, orgID, id uuid.UUID) (core.IntegrationCredential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, source_short_name, auth_variant, encrypted_fields, created_at, modified_at
		 FROM integration_credentials WHERE organization_id = ? AND id = ?`,
		orgID.String(), id.String())

	var (
		rawID, rawOrgID, shortName, authVariant string
		encrypted                               []byte
		createdAt, modifiedAt                   string
	)
	err := row.Scan(&rawID, &rawOrgID, &shortName, &authVariant, &encrypted, &createdAt, &modifiedAt)
	if err != nil {
		return core.IntegrationCredential{}, notFound(err, fmt.Sprintf("credential %s", id))
	}

	parsedID, err := uuid.Parse(rawID)
	if err != nil {
		return core.IntegrationCredential{}, fmt.Errorf("parsing credential id: %w", err)
	}
	parsedOrgID, err := uuid.Parse(rawOrgID)
	if err != nil {
		return core.IntegrationCredential{}, fmt.Errorf("parsing organization id: %w", err)
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return core.IntegrationCredential{}, err
	}
	modified, err := parseTime(modifiedAt)
	if err != nil {
		return core.IntegrationCredential{}, err
	}

	return core.IntegrationCredential{
		ID:              parsedID,
		OrganizationID:  parsedOrgID,
		SourceShortName: shortName,
		AuthVariant:     core.AuthVariant(authVariant),
		EncryptedFields: encrypted,
		CreatedAt:       created,
		ModifiedAt:      modified,
	}, nil
}

// UpdateFields atomically replaces the ciphertext of a credential. Used for
// rotating refresh tokens, where losing the new token would strand the
// connection.
func (s *CredentialStore) UpdateFields(ctx context.Context, orgID, id uuid.UUID, encryptedFields []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE integration_credentials SET encrypted_fields = ?, modified_at = ?
		 WHERE organization_id = ? AND id = ?`,
		encryptedFields, formatTime(time.Now().UTC()), orgID.String(), id.String())
	if err != nil {
		return fmt.Errorf("updating credential fields: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("credential %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// Delete removes a credential scoped to an organization.
func (s *CredentialStore) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM integration_credentials WHERE organization_id = ? AND id = ?`,
		orgID.String(), id.String())
	if err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("credential %s: %w", id, core.ErrNotFound)
	}
	return nil
}
