package bot

import (
	"context"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	UpdateTimeout = 5 * time.Minute
)

// AllowedUpdates are the update kinds the moderation layer consumes.
var AllowedUpdates = []string{
	"message",
	"chat_member",
	"callback_query",
}

type UpdateProcessor struct {
	updateHandlers []Handler
	now            func() time.Time
}

var registeredHandlers = make(map[string]Handler)

func RegisterUpdateHandler(title string, handler Handler) {
	registeredHandlers[title] = handler
}

// NewUpdateProcessor chains the registered handlers named in enabled, in that order.
func NewUpdateProcessor(enabled []string) *UpdateProcessor {
	enabledHandlers := make([]Handler, 0, len(enabled))
	for _, handlerName := range enabled {
		handler, ok := registeredHandlers[handlerName]
		if !ok || handler == nil {
			log.Warnf("no registered handler: %s", handlerName)
			continue
		}
		enabledHandlers = append(enabledHandlers, handler)
	}
	return newUpdateProcessor(enabledHandlers...)
}

func newUpdateProcessor(handlers ...Handler) *UpdateProcessor {
	return &UpdateProcessor{
		updateHandlers: handlers,
		now:            time.Now,
	}
}

func (up *UpdateProcessor) Process(ctx context.Context, u *api.Update) error {
	if u == nil {
		return errors.New("update is nil")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	updateTime := updateTimestamp(u)
	if !updateTime.IsZero() {
		if age := up.now().Sub(updateTime); age > UpdateTimeout {
			log.WithFields(log.Fields{
				"update_time": updateTime,
				"age":         age,
			}).Debug("skipping outdated update")
			return nil
		}
	}

	chat := u.FromChat()
	if chat == nil && u.ChatMember != nil {
		chat = &u.ChatMember.Chat
	}
	user := u.SentFrom()
	if user == nil && u.ChatMember != nil {
		user = &u.ChatMember.From
	}

	for _, handler := range up.updateHandlers {
		if handler == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		proceed, err := handler.Handle(ctx, u, chat, user)
		if err != nil {
			return errors.WithMessage(err, "handling error")
		}
		if !proceed {
			log.Trace("not proceeding")
			return nil
		}
	}
	return nil
}

// updateTimestamp is zero for updates without a platform date, e.g. callback queries.
func updateTimestamp(u *api.Update) time.Time {
	switch {
	case u.Message != nil:
		return time.Unix(int64(u.Message.Date), 0)
	case u.EditedMessage != nil:
		return time.Unix(int64(u.EditedMessage.Date), 0)
	case u.ChatMember != nil:
		return time.Unix(int64(u.ChatMember.Date), 0)
	default:
		return time.Time{}
	}
}

func GetUpdatesChans(ctx context.Context, bot *api.BotAPI, config api.UpdateConfig) (api.UpdatesChannel, chan error) {
	ch := make(chan api.Update, bot.Buffer)
	chErr := make(chan error)

	go func() {
		defer close(ch)
		defer close(chErr)
		for {
			select {
			case <-ctx.Done():
				chErr <- ctx.Err()
				return
			default:
				updates, err := bot.GetUpdates(config)
				if err != nil {
					chErr <- err
					return
				}

				for _, update := range updates {
					if update.UpdateID >= config.Offset {
						config.Offset = update.UpdateID + 1
						select {
						case ch <- update:
						case <-ctx.Done():
							chErr <- ctx.Err()
							return
						}
					}
				}
			}
		}
	}()

	return ch, chErr
}

func GetFullName(user *api.User) string {
	if user == nil {
		return ""
	}
	fullName := user.FirstName + " " + user.LastName
	fullName = strings.TrimSpace(fullName)
	if len(fullName) == 0 {
		fullName = user.UserName
	}
	return fullName
}

// IsServiceMessage reports platform status messages such as joins, leaves and pins.
func IsServiceMessage(msg *api.Message) bool {
	if msg == nil {
		return false
	}
	return len(msg.NewChatMembers) > 0 ||
		msg.LeftChatMember != nil ||
		msg.NewChatTitle != "" ||
		len(msg.NewChatPhoto) > 0 ||
		msg.DeleteChatPhoto ||
		msg.GroupChatCreated ||
		msg.SuperGroupChatCreated ||
		msg.MigrateToChatID != 0 ||
		msg.MigrateFromChatID != 0 ||
		msg.PinnedMessage != nil
}
