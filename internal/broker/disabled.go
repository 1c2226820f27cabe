package broker

import (
	"context"

	"github.com/google/uuid"
)

// Disabled never touches the network. It answers with a name-based UUID
// derived from the topic and payload, so the same event always gets the
// same id.
type Disabled struct{}

func NewDisabled() Disabled { return Disabled{} }

func (Disabled) Publish(_ context.Context, msg Message) (string, error) {
	name := make([]byte, 0, len(msg.Topic)+1+len(msg.Payload))
	name = append(name, msg.Topic...)
	name = append(name, 0)
	name = append(name, msg.Payload...)
	return uuid.NewSHA1(uuid.NameSpaceURL, name).String(), nil
}

func (Disabled) Close() error { return nil }
