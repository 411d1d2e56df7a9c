package relay

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/handoff-relay/handoff/internal/pkg/models"
)

const (
	maxDeviceIDLength   = 128
	maxDisplayNameRunes = 64
	maxGroupNameRunes   = 64
	maxTextBytes        = 1 << 20
)

// decodePayload unmarshals msg.Payload into v
func decodePayload(msg *models.Message, v any) error {
	if len(msg.Payload) == 0 || string(msg.Payload) == "null" {
		return invalid("payload", "is required")
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return invalid("payload", "%v", err)
	}
	return nil
}

func validDeviceID(id string) bool {
	return id != "" && len(id) <= maxDeviceIDLength && strings.TrimSpace(id) == id
}

// validateDeviceInfo checks a self-description. The display name may only be
// omitted when requireName is false, e.g. on reconnect.
func validateDeviceInfo(info models.DeviceInfo, requireName bool) error {
	name := strings.TrimSpace(info.DisplayName)
	if requireName && name == "" {
		return invalid("device.displayName", "is required")
	}
	if utf8.RuneCountInString(name) > maxDisplayNameRunes {
		return invalid("device.displayName", "must be at most %d characters", maxDisplayNameRunes)
	}
	if info.Kind != "" && !info.Kind.Valid() {
		return invalid("device.kind", "unknown kind %q", info.Kind)
	}
	return nil
}

// validateIntent checks an intent's type and variant payload. When
// requireTarget is set, targetDevice must be present.
func validateIntent(in *models.Intent, requireTarget bool) error {
	if in.Type == "" {
		return invalid("intent.type", "is required")
	}
	if !models.IsKnownIntentType(in.Type) {
		return invalid("intent.type", "unknown intent type %q", in.Type)
	}
	if requireTarget && in.TargetDevice == "" {
		return invalid("intent.targetDevice", "is required")
	}
	if err := in.ValidatePayload(); err != nil {
		return invalid("intent.payload", "%v", err)
	}
	return nil
}

func validateGroupName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return invalid("name", "is required")
	}
	if utf8.RuneCountInString(name) > maxGroupNameRunes {
		return invalid("name", "must be at most %d characters", maxGroupNameRunes)
	}
	return nil
}
