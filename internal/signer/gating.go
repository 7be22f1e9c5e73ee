package signer

import (
	"context"
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/streamvault/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/metrics"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/publish"
	"github.com/therealutkarshpriyadarshi/streamvault/pkg/models"
)

// AccessLookup resolves the access level of a content record
type AccessLookup interface {
	ContentAccess(ctx context.Context, contentID int64) (models.AccessLevel, error)
}

// Outcome is the result of an entitlement check
type Outcome int

const (
	Allowed Outcome = iota
	DeniedNoUser
	DeniedNotEntitled
	DeniedUnknownContent
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case DeniedNoUser:
		return "denied_no_user"
	case DeniedNotEntitled:
		return "denied_not_entitled"
	case DeniedUnknownContent:
		return "denied_unknown_content"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Grant carries the outcome and, when allowed, the signed URL
type Grant struct {
	Outcome Outcome
	URL     string
}

// Allowed reports whether the grant carries a playable URL
func (g Grant) Allowed() bool {
	return g.Outcome == Allowed
}

// Authorize checks user's entitlement to the content behind key and signs it
// with the default expiry when permitted. user may be nil.
func (i *Issuer) Authorize(ctx context.Context, key string, user *models.User) (Grant, error) {
	grant, err := i.authorize(ctx, key, user)
	if err != nil {
		metrics.RecordError("signer", apperrors.Kind(err))
		return Grant{}, err
	}
	metrics.RecordSignedURL(grant.Outcome.String())
	return grant, nil
}

func (i *Issuer) authorize(ctx context.Context, key string, user *models.User) (Grant, error) {
	contentID, ok := publish.ContentIDFromKey(key)
	if !ok {
		return Grant{Outcome: DeniedUnknownContent}, nil
	}
	if i.access == nil {
		return Grant{}, errors.New("signer has no access lookup")
	}

	level, err := i.access.ContentAccess(ctx, contentID)
	if errors.Is(err, apperrors.ErrRecordNotFound) {
		return Grant{Outcome: DeniedUnknownContent}, nil
	}
	if err != nil {
		return Grant{}, fmt.Errorf("lookup access for content %d: %w", contentID, err)
	}

	if level == models.AccessLevelPremium {
		if user == nil {
			return Grant{Outcome: DeniedNoUser}, nil
		}
		if !user.HasPremiumAccess(i.now()) {
			return Grant{Outcome: DeniedNotEntitled}, nil
		}
	}

	signed, err := i.Issue(key, 0)
	if err != nil {
		return Grant{}, err
	}
	return Grant{Outcome: Allowed, URL: signed}, nil
}

// IssueForUser returns a signed URL when user may access key. A denial is
// reported as ok=false with a nil error; only lookup or signing faults are errors.
func (i *Issuer) IssueForUser(ctx context.Context, key string, user *models.User) (string, bool, error) {
	grant, err := i.Authorize(ctx, key, user)
	if err != nil {
		return "", false, err
	}
	if !grant.Allowed() {
		return "", false, nil
	}
	return grant.URL, true, nil
}
