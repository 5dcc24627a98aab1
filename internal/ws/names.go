package ws

import (
	"context"
	"errors"
	"log"

	"golang.org/x/sync/singleflight"

	"studybuddy-chat/internal/repositories"
)

// nameResolver looks display names up when a frame is written, so a renamed user
// shows the new name on the next message. Concurrent lookups for one email share
// a single query.
type nameResolver struct {
	users repositories.UserRepository
	group singleflight.Group
}

func (r *nameResolver) lookup(ctx context.Context, email string) string {
	if email == "" {
		return ""
	}
	v, err, _ := r.group.Do(email, func() (any, error) {
		// callers that join share this query, so it must not end with the first caller
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeWait)
		defer cancel()
		user, err := r.users.GetUserByEmail(lookupCtx, email)
		if err != nil {
			return "", err
		}
		return user.Name, nil
	})
	if err != nil {
		if !errors.Is(err, repositories.ErrUserNotFound) {
			log.Printf("ws name lookup failed: email=%s err=%v", email, err)
		}
		return ""
	}
	return v.(string)
}
