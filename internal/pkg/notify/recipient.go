package notify

import (
	"context"

	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/gofiber/fiber/v2/log"
)

// OwnerMessage addresses a message to a billing owner.
func OwnerMessage(ctx context.Context, users repository.UserRepository, ownerID uint, template string, data map[string]string) (Message, error) {
	user, err := users.GetByID(ctx, ownerID)
	if err != nil {
		return Message{}, err
	}
	if data == nil {
		data = map[string]string{}
	}
	if _, ok := data["name"]; !ok {
		data["name"] = user.Name
	}
	return Message{Template: template, To: user.Email, Data: data}, nil
}

// SendToOwner resolves the owner and hands the message off, logging failures.
func SendToOwner(ctx context.Context, n Notifier, users repository.UserRepository, ownerID uint, template string, data map[string]string) {
	if n == nil || users == nil {
		return
	}
	msg, err := OwnerMessage(ctx, users, ownerID, template, data)
	if err != nil {
		log.Warnf("[Notify] Dropping %s notification, owner %d not resolvable: %v", template, ownerID, err)
		return
	}
	Send(ctx, n, msg)
}
