package postbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/postbox/store"
)

// RegisterPush registers a push token for the account. Tokens sharing the
// token's instance id are superseded across all accounts, so a device
// changing hands stops waking its previous owner.
func (c *client) RegisterPush(ctx context.Context, token *PushToken) error {
	if err := c.checkAccess(); err != nil {
		return err
	}
	if token == nil || token.RegistrationToken == "" {
		return &ValidationError{Field: "registrationToken", Message: "required"}
	}
	if token.Environment != store.PushEnvAndroid && token.Environment != store.PushEnvIOS {
		return &ValidationError{Field: "environment", Message: "must be android or ios"}
	}

	if err := c.service.store.RegisterPushToken(ctx, c.address.String(), token); err != nil {
		if store.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("register push token: %w", err)
	}

	c.service.logger.Debug("push token registered", "address", c.raw, "environment", token.Environment)
	return c.service.publish(ctx, "PushRegistered", func() error {
		return c.service.events.PushRegistered.Publish(ctx, PushRegisteredEvent{
			Address:      c.address.String(),
			Environment:  token.Environment,
			RegisteredAt: time.Now().UTC(),
		})
	})
}

// DeletePush removes a push token owned by the account. Deleting a token
// that is unknown or owned by another account returns ErrNotFound.
func (c *client) DeletePush(ctx context.Context, registrationToken string) error {
	if err := c.checkAccess(); err != nil {
		return err
	}
	if registrationToken == "" {
		return &ValidationError{Field: "registrationToken", Message: "required"}
	}

	if err := c.service.store.DeletePushToken(ctx, c.address.String(), registrationToken); err != nil {
		if store.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("delete push token: %w", err)
	}
	return nil
}

// PushTokens lists the account's registered push tokens.
func (c *client) PushTokens(ctx context.Context) ([]*PushToken, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}

	tokens, err := c.service.store.ListPushTokens(ctx, c.address.String())
	if err != nil {
		return nil, fmt.Errorf("list push tokens: %w", err)
	}
	return tokens, nil
}
