package permissions

import (
	"context"
	"strconv"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"
)

const (
	memberCacheSize = 4096
	memberCacheTTL  = 5 * time.Minute
)

type memberGetter interface {
	GetChatMember(ctx context.Context, chatID, userID int64) (*api.ChatMember, error)
}

// Authorizer decides who may run admin commands and who bypasses screening.
// Configured identities are always admins; chat managers are admins only when
// includeManagers is set.
type Authorizer struct {
	ids             map[int64]struct{}
	includeManagers bool
	members         memberGetter
	cache           *expirable.LRU[string, bool]
}

func NewAuthorizer(ids []int64, includeManagers bool, members memberGetter) *Authorizer {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return &Authorizer{
		ids:             set,
		includeManagers: includeManagers && members != nil,
		members:         members,
		cache:           expirable.NewLRU[string, bool](memberCacheSize, nil, memberCacheTTL),
	}
}

func (a *Authorizer) IsConfiguredAdmin(userID int64) bool {
	_, ok := a.ids[userID]
	return ok
}

// IsAdmin never fails: a platform error only denies the manager path.
func (a *Authorizer) IsAdmin(ctx context.Context, chatID, userID int64) bool {
	if a.IsConfiguredAdmin(userID) {
		return true
	}
	if !a.includeManagers {
		return false
	}

	key := strconv.FormatInt(chatID, 10) + "/" + strconv.FormatInt(userID, 10)
	if allowed, ok := a.cache.Get(key); ok {
		return allowed
	}
	member, err := a.members.GetChatMember(ctx, chatID, userID)
	if err != nil {
		log.WithField("object", "Authorizer").
			WithField("chat_id", chatID).
			WithField("user_id", userID).
			WithField("error", err.Error()).
			Warn("cant resolve chat member")
		return false
	}
	allowed := canModerate(member)
	a.cache.Add(key, allowed)
	return allowed
}

// canModerate holds for the chat creator and for administrators allowed to restrict
// members or manage the chat.
func canModerate(member *api.ChatMember) bool {
	switch {
	case member == nil:
		return false
	case member.IsCreator():
		return true
	case !member.IsAdministrator():
		return false
	}
	return member.CanRestrictMembers || member.CanManageChat || member.CanPromoteMembers
}

// Forget drops the cached decision, e.g. after a member status change.
func (a *Authorizer) Forget(chatID, userID int64) {
	a.cache.Remove(strconv.FormatInt(chatID, 10) + "/" + strconv.FormatInt(userID, 10))
}
