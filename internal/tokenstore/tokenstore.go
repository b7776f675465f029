// Package tokenstore persiste credenciales por (user, platform) con los
// campos secretos cifrados. Monta sobre kv.Client, así el mismo contrato
// corre en memoria, Redis o Postgres.
package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/adbridge/internal/domain"
	"github.com/dropDatabas3/adbridge/internal/kv"
	mcperrors "github.com/dropDatabas3/adbridge/internal/mcp/errors"
	"github.com/dropDatabas3/adbridge/internal/security/secretbox"
)

const keyPrefix = "tok:"

// Store guarda TokenData cifrando access y refresh token en reposo.
// Cada registro se escribe entero en un Set: la atomicidad por clave la
// garantiza el backend kv.
type Store struct {
	kv     kv.Client
	cipher *secretbox.Cipher
}

// New crea un Store. Ambos colaboradores son obligatorios.
func New(client kv.Client, cipher *secretbox.Cipher) *Store {
	return &Store{kv: client, cipher: cipher}
}

// record es el formato persistido. Los dos primeros campos van cifrados;
// expires_at, scopes y platform_user_id quedan en claro (no son secretos).
type record struct {
	AccessToken    string    `json:"access_token"`
	RefreshToken   string    `json:"refresh_token"`
	ExpiresAt      time.Time `json:"expires_at"`
	Scopes         []string  `json:"scopes"`
	PlatformUserID string    `json:"platform_user_id"`
}

func validateKey(userID, platform string) (string, string, *mcperrors.Error) {
	u := strings.TrimSpace(userID)
	p := domain.NormalizePlatform(platform)
	if u == "" {
		return "", "", mcperrors.NewInvalidParams("user_id vacío")
	}
	if p == "" {
		return "", "", mcperrors.NewInvalidParams("platform vacía")
	}
	return u, p, nil
}

// storageKey escapa ambos componentes antes de unirlos: un user_id con ":"
// adentro no puede cruzarse al namespace de otro usuario.
func storageKey(userID, platform string) string {
	return keyPrefix + url.QueryEscape(userID) + ":" + url.QueryEscape(platform)
}

// Store cifra los campos secretos y persiste el registro completo.
func (s *Store) Store(ctx context.Context, userID, platform string, td domain.TokenData) error {
	u, p, verr := validateKey(userID, platform)
	if verr != nil {
		return verr
	}
	if err := td.Validate(); err != nil {
		return mcperrors.NewInvalidParams(err.Error())
	}

	encAccess, err := s.cipher.Encrypt(td.AccessToken)
	if err != nil {
		return fmt.Errorf("tokenstore: cifrar access_token: %w", err)
	}
	encRefresh, err := s.cipher.Encrypt(td.RefreshToken)
	if err != nil {
		return fmt.Errorf("tokenstore: cifrar refresh_token: %w", err)
	}

	raw, err := json.Marshal(record{
		AccessToken:    encAccess,
		RefreshToken:   encRefresh,
		ExpiresAt:      td.ExpiresAt,
		Scopes:         td.Scopes,
		PlatformUserID: td.PlatformUserID,
	})
	if err != nil {
		return fmt.Errorf("tokenstore: marshal: %w", err)
	}
	return s.kv.Set(ctx, storageKey(u, p), string(raw), 0)
}

// Get descifra y devuelve la credencial. Ausente no es error: (nil, nil).
func (s *Store) Get(ctx context.Context, userID, platform string) (*domain.TokenData, error) {
	u, p, verr := validateKey(userID, platform)
	if verr != nil {
		return nil, verr
	}

	raw, err := s.kv.Get(ctx, storageKey(u, p))
	if kv.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tokenstore: get: %w", err)
	}

	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("tokenstore: registro corrupto: %w", err)
	}

	access, err := s.cipher.Decrypt(rec.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: descifrar access_token: %w", err)
	}
	refresh, err := s.cipher.Decrypt(rec.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: descifrar refresh_token: %w", err)
	}

	return &domain.TokenData{
		AccessToken:    access,
		RefreshToken:   refresh,
		ExpiresAt:      rec.ExpiresAt,
		Scopes:         rec.Scopes,
		PlatformUserID: rec.PlatformUserID,
	}, nil
}

// Delete borra la credencial. Retorna true si existía.
func (s *Store) Delete(ctx context.Context, userID, platform string) (bool, error) {
	u, p, verr := validateKey(userID, platform)
	if verr != nil {
		return false, verr
	}
	return s.kv.Delete(ctx, storageKey(u, p))
}

// Has reporta si hay credencial almacenada.
func (s *Store) Has(ctx context.Context, userID, platform string) (bool, error) {
	u, p, verr := validateKey(userID, platform)
	if verr != nil {
		return false, verr
	}
	return s.kv.Exists(ctx, storageKey(u, p))
}

// ListPlatforms enumera las plataformas con token del usuario.
func (s *Store) ListPlatforms(ctx context.Context, userID string) ([]string, error) {
	u := strings.TrimSpace(userID)
	if u == "" {
		return nil, mcperrors.NewInvalidParams("user_id vacío")
	}

	prefix := keyPrefix + url.QueryEscape(u) + ":"
	keys, err := s.kv.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: list: %w", err)
	}

	platforms := make([]string, 0, len(keys))
	for _, k := range keys {
		p, err := url.QueryUnescape(strings.TrimPrefix(k, prefix))
		if err != nil {
			continue
		}
		platforms = append(platforms, p)
	}
	return platforms, nil
}

// ClearAll borra todas las credenciales del usuario. Retorna cuántas borró.
func (s *Store) ClearAll(ctx context.Context, userID string) (int, error) {
	platforms, err := s.ListPlatforms(ctx, userID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, p := range platforms {
		deleted, err := s.Delete(ctx, userID, p)
		if err != nil {
			return count, err
		}
		if deleted {
			count++
		}
	}
	return count, nil
}
