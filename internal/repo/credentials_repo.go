package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Tempest/internal/domain"
)

// CredentialsRepo — доступ к подключённым аккаунтам рекламных платформ.
//
// OAuth-флоу получения токенов живёт у внешнего коллаборатора;
// ядру нужен только lookup access-токена по (user_id, platform).
type CredentialsRepo struct {
	pool *pgxpool.Pool
}

// NewCredentialsRepo создаёт CredentialsRepo.
func NewCredentialsRepo(pool *pgxpool.Pool) *CredentialsRepo {
	return &CredentialsRepo{pool: pool}
}

// PlatformMToken возвращает access-токен платформы M для пользователя.
func (r *CredentialsRepo) PlatformMToken(ctx context.Context, userID string) (string, error) {
	return r.token(ctx, userID, domain.PlatformM)
}

// PlatformGToken возвращает access-токен платформы G для пользователя.
func (r *CredentialsRepo) PlatformGToken(ctx context.Context, userID string) (string, error) {
	return r.token(ctx, userID, domain.PlatformG)
}

func (r *CredentialsRepo) token(ctx context.Context, userID string, platform domain.Platform) (string, error) {
	var token string
	err := r.pool.QueryRow(ctx,
		`SELECT access_token FROM user_credentials WHERE user_id = $1 AND platform = $2`,
		userID, string(platform),
	).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s for user %s", ErrNotFound, platform, userID)
	}
	if err != nil {
		return "", fmt.Errorf("lookup %s credentials: %w", platform, err)
	}
	return token, nil
}
