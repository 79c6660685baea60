package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/AdamBeresnev/pinpoint/internal/middleware"
	"github.com/AdamBeresnev/pinpoint/internal/store"
	users "github.com/AdamBeresnev/pinpoint/internal/user"
	"github.com/AdamBeresnev/pinpoint/internal/utils"
	"github.com/markbates/goth"
)

type UserService struct {
	store *store.UserStore
}

func NewUserService(store *store.UserStore) *UserService {
	return &UserService{store: store}
}

func (s *UserService) FindOrCreateUserByProvider(ctx context.Context, gothUser goth.User) (*users.User, error) {
	user, err := s.store.GetUserByProvider(ctx, gothUser.Provider, gothUser.UserID)

	if err == nil {
		if utils.OrZero(user.AvatarURL) != gothUser.AvatarURL || user.DisplayName != displayName(gothUser) {
			user.DisplayName = displayName(gothUser)
			user.AvatarURL = utils.StringOrNil(gothUser.AvatarURL)
			s.store.UpdateUserNameAndAvatar(ctx, user)
		}
		return user, nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		newUser := &users.User{
			Username:    s.availableUsername(ctx, gothUser),
			DisplayName: displayName(gothUser),
			Email:       gothUser.Email,
			Provider:    &gothUser.Provider,
			ProviderID:  &gothUser.UserID,
			AvatarURL:   utils.StringOrNil(gothUser.AvatarURL),
		}
		err := s.store.CreateUser(ctx, newUser)
		return newUser, err
	}

	return nil, err
}

func displayName(gothUser goth.User) string {
	if gothUser.Name != "" {
		return gothUser.Name
	}
	if gothUser.NickName != "" {
		return gothUser.NickName
	}
	return gothUser.UserID
}

// availableUsername derives a stable username from the provider profile,
// suffixing with the provider user id when the name is taken.
func (s *UserService) availableUsername(ctx context.Context, gothUser goth.User) string {
	base := strings.ToLower(gothUser.NickName)
	if base == "" {
		base = strings.ToLower(strings.SplitN(gothUser.Email, "@", 2)[0])
	}
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return -1
	}, base)
	if base == "" || base == middleware.GuestUsername {
		base = gothUser.Provider + "-" + gothUser.UserID
	}

	if _, err := s.store.GetUser(ctx, base); errors.Is(err, sql.ErrNoRows) {
		return base
	}
	return fmt.Sprintf("%s-%s", base, gothUser.UserID)
}

func (s *UserService) GetUser(ctx context.Context, username string) (*users.User, error) {
	return s.store.GetUser(ctx, username)
}

func (s *UserService) EnsureGuestUser(ctx context.Context) (*users.User, error) {
	user, err := s.store.GetUser(ctx, middleware.GuestUsername)
	if err == nil {
		return user, nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		guestUser := &users.User{
			Username:    middleware.GuestUsername,
			DisplayName: "Guest",
			Email:       "guest@pinpoint.local",
		}
		err := s.store.CreateUser(ctx, guestUser)
		return guestUser, err
	}
	return nil, err
}
