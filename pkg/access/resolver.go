package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"doc-sync/pkg/db"
	"doc-sync/pkg/errdefs"
)

type resolverStore interface {
	GetDocument(ctx context.Context, id string) (*db.Document, error)
	ReplaceGrant(ctx context.Context, grant *db.AccessGrant) error
	GetGrantByToken(ctx context.Context, token string) (*db.AccessGrant, error)
}

// Resolution is the outcome of looking up a shared token.
type Resolution struct {
	Owner      string
	Role       Role
	DocumentID string
}

// Resolver maps owner tokens and shared-link tokens to principals.
type Resolver struct {
	tokens *TokenVerifier
	store  resolverStore
	logger *zap.SugaredLogger
}

// NewResolver creates an access control resolver
func NewResolver(tokens *TokenVerifier, store resolverStore, logger *zap.SugaredLogger) *Resolver {
	return &Resolver{tokens: tokens, store: store, logger: logger}
}

// Verify checks a signed token and returns its identity.
func (r *Resolver) Verify(token string) (string, error) {
	return r.tokens.Verify(token)
}

// ResolveOwner authenticates an owner connection to documentID. The token
// subject must own the document; the role is always writer.
func (r *Resolver) ResolveOwner(ctx context.Context, token, documentID string) (Principal, error) {
	identity, err := r.tokens.Verify(token)
	if err != nil {
		return Principal{}, err
	}

	doc, err := r.store.GetDocument(ctx, documentID)
	if err != nil {
		return Principal{}, err
	}
	if doc.Owner != identity {
		return Principal{}, fmt.Errorf("%w: %s does not own document %s", errdefs.ErrPermission, identity, documentID)
	}

	return Principal{Identity: identity, Role: RoleWriter, DocumentID: documentID, Owner: doc.Owner}, nil
}

// ResolveShared authenticates a guest connection through a shared token. The
// signed token is optional; when present it must verify and names the guest.
func (r *Resolver) ResolveShared(ctx context.Context, sharedToken, token string) (Principal, error) {
	identity := ""
	if token != "" {
		var err error
		if identity, err = r.tokens.Verify(token); err != nil {
			return Principal{}, err
		}
	}

	res, err := r.Resolve(ctx, sharedToken)
	if err != nil {
		return Principal{}, err
	}

	return Principal{
		Identity:   identity,
		Role:       res.Role,
		DocumentID: res.DocumentID,
		Owner:      res.Owner,
		Guest:      true,
	}, nil
}

// Resolve looks up a shared token. Write permission wins over read; a grant
// with neither is refused.
func (r *Resolver) Resolve(ctx context.Context, sharedToken string) (Resolution, error) {
	if sharedToken == "" {
		return Resolution{}, db.ErrGrantNotFound
	}

	grant, err := r.store.GetGrantByToken(ctx, sharedToken)
	if err != nil {
		return Resolution{}, err
	}

	role, err := roleFor(grant)
	if err != nil {
		return Resolution{}, err
	}

	doc, err := r.store.GetDocument(ctx, grant.DocumentID)
	if err != nil {
		return Resolution{}, err
	}

	return Resolution{Owner: doc.Owner, Role: role, DocumentID: grant.DocumentID}, nil
}

func roleFor(grant *db.AccessGrant) (Role, error) {
	switch {
	case grant.CanWrite:
		return RoleWriter, nil
	case grant.CanRead:
		return RoleReader, nil
	default:
		return "", fmt.Errorf("%w: grant carries no permissions", errdefs.ErrPermission)
	}
}

// CreateGrant issues a new shared token for documentID, replacing any previous
// one. Only the document owner may do this.
func (r *Resolver) CreateGrant(ctx context.Context, ownerIdentity, documentID string, permissions []db.Permission) (*db.AccessGrant, error) {
	doc, err := r.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Owner != ownerIdentity {
		return nil, fmt.Errorf("%w: only the owner can share document %s", errdefs.ErrPermission, documentID)
	}

	grant := &db.AccessGrant{
		DocumentID: documentID,
		Token:      strings.ReplaceAll(uuid.NewString(), "-", ""),
		CreatedAt:  time.Now(),
	}
	for _, p := range permissions {
		switch p {
		case db.PermissionRead:
			grant.CanRead = true
		case db.PermissionWrite:
			grant.CanWrite = true
		default:
			return nil, fmt.Errorf("%w: unknown permission %q", errdefs.ErrMalformedInput, p)
		}
	}
	if !grant.CanRead && !grant.CanWrite {
		return nil, fmt.Errorf("%w: a grant needs read or write permission", errdefs.ErrMalformedInput)
	}

	if err := r.store.ReplaceGrant(ctx, grant); err != nil {
		if errors.Is(err, errdefs.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to store grant: %w", err)
	}

	r.logger.Infow("Issued shared link", "document_id", documentID, "permissions", grant.Permissions())
	return grant, nil
}
