package redisshare

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"collabnotes/internal/domain"
)

const keyPrefix = "share:"

// Repository resolves shareable-link tokens from Redis. Each token lives in
// a hash at share:<token> with the fields document_id, permission,
// expires_at (unix seconds, 0 for never) and accesses. Expiry is enforced
// here as well as by the key TTL, so a link cut short by its creator stops
// working immediately.
type Repository struct {
	client *redis.Client
	logger *zap.Logger
}

// New creates the repository on an existing Redis client.
func New(client *redis.Client, logger *zap.Logger) *Repository {
	return &Repository{client: client, logger: logger}
}

// TouchAccess resolves a token, bumps its access counter and returns the
// grant. Unknown and expired tokens map to domain.ErrNotFound.
func (r *Repository) TouchAccess(ctx context.Context, token string) (*domain.ShareGrant, error) {
	key := keyPrefix + token

	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to look up share token: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrNotFound
	}

	grant, err := grantFromFields(fields)
	if err != nil {
		r.logger.Warn("malformed share token record",
			zap.String("token", token),
			zap.Error(err))
		return nil, domain.ErrNotFound
	}
	if grant.Expired(time.Now()) {
		return nil, domain.ErrNotFound
	}

	accesses, err := r.client.HIncrBy(ctx, key, "accesses", 1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to record share access: %w", err)
	}
	grant.Accesses = accesses

	return grant, nil
}

// Put stores a grant under a token, with a key TTL matching its expiry.
// Used by provisioning tooling and tests; the sync path only reads.
func (r *Repository) Put(ctx context.Context, token string, grant *domain.ShareGrant) error {
	key := keyPrefix + token

	var expiresAt int64
	if !grant.ExpiresAt.IsZero() {
		expiresAt = grant.ExpiresAt.Unix()
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key,
		"document_id", grant.DocumentID,
		"permission", grant.Permission,
		"expires_at", expiresAt,
		"accesses", grant.Accesses)
	if expiresAt > 0 {
		pipe.ExpireAt(ctx, key, grant.ExpiresAt)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store share token: %w", err)
	}
	return nil
}

func grantFromFields(fields map[string]string) (*domain.ShareGrant, error) {
	documentID := fields["document_id"]
	permission := fields["permission"]
	if documentID == "" || permission == "" {
		return nil, errors.New("missing document_id or permission")
	}

	grant := &domain.ShareGrant{
		DocumentID: documentID,
		Permission: permission,
	}
	if raw := fields["expires_at"]; raw != "" && raw != "0" {
		sec, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad expires_at %q: %w", raw, err)
		}
		grant.ExpiresAt = time.Unix(sec, 0)
	}
	if raw := fields["accesses"]; raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad accesses %q: %w", raw, err)
		}
		grant.Accesses = n
	}
	return grant, nil
}
