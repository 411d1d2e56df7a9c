package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Intent types
const (
	IntentFileHandoff         = "file_handoff"
	IntentBatchFileHandoff    = "batch_file_handoff"
	IntentMediaContinuation   = "media_continuation"
	IntentLinkOpen            = "link_open"
	IntentPromptInjection     = "prompt_injection"
	IntentClipboardSync       = "clipboard_sync"
	IntentRemoteAccessRequest = "remote_access_request"
	IntentSessionInvitation   = "session_invitation"
	IntentInvitationResponse  = "invitation_response"
	IntentNearbySession       = "nearby_session"
)

// Intent is a one-shot content-sharing request. It is never persisted.
type Intent struct {
	ID           string          `json:"id,omitempty"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	TargetDevice string          `json:"targetDevice,omitempty"`
	SourceDevice string          `json:"sourceDevice,omitempty"`
	AutoOpen     bool            `json:"autoOpen"`
	Timestamp    int64           `json:"timestamp"`
}

// FileHandoffPayload carries one file inline
type FileHandoffPayload struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Data     []byte `json:"data"`
}

// BatchFileHandoffPayload carries several files inline
type BatchFileHandoffPayload struct {
	Files []FileHandoffPayload `json:"files"`
}

// MediaContinuationPayload resumes playback on another device
type MediaContinuationPayload struct {
	URL      string  `json:"url"`
	Title    string  `json:"title,omitempty"`
	Position float64 `json:"position"`
	Playing  bool    `json:"playing"`
}

// LinkOpenPayload asks the target to open a URL
type LinkOpenPayload struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// PromptInjectionPayload pastes text into an app on the target
type PromptInjectionPayload struct {
	Text      string `json:"text"`
	TargetApp string `json:"targetApp,omitempty"`
}

// ClipboardSyncPayload mirrors clipboard text
type ClipboardSyncPayload struct {
	Text string `json:"text"`
}

// RemoteAccessRequestPayload asks the target to share its screen
type RemoteAccessRequestPayload struct {
	Purpose string `json:"purpose,omitempty"`
	Message string `json:"message,omitempty"`
}

var knownIntentTypes = map[string]bool{
	IntentFileHandoff:         true,
	IntentBatchFileHandoff:    true,
	IntentMediaContinuation:   true,
	IntentLinkOpen:            true,
	IntentPromptInjection:     true,
	IntentClipboardSync:       true,
	IntentRemoteAccessRequest: true,
	IntentSessionInvitation:   true,
	IntentInvitationResponse:  true,
	IntentNearbySession:       true,
}

// IsKnownIntentType reports whether t names an intent variant
func IsKnownIntentType(t string) bool {
	return knownIntentTypes[t]
}

// ValidatePayload decodes the variant payload for the intent type and checks
// its required fields. Variants without required fields accept any payload.
func (i *Intent) ValidatePayload() error {
	if !IsKnownIntentType(i.Type) {
		return fmt.Errorf("unknown intent type: %q", i.Type)
	}

	switch i.Type {
	case IntentFileHandoff:
		var p FileHandoffPayload
		if err := decodePayload(i.Payload, &p); err != nil {
			return err
		}
		return validateFile(p)

	case IntentBatchFileHandoff:
		var p BatchFileHandoffPayload
		if err := decodePayload(i.Payload, &p); err != nil {
			return err
		}
		if len(p.Files) == 0 {
			return fmt.Errorf("files must not be empty")
		}
		for idx, f := range p.Files {
			if err := validateFile(f); err != nil {
				return fmt.Errorf("files[%d]: %w", idx, err)
			}
		}

	case IntentMediaContinuation:
		var p MediaContinuationPayload
		if err := decodePayload(i.Payload, &p); err != nil {
			return err
		}
		if strings.TrimSpace(p.URL) == "" {
			return fmt.Errorf("url is required")
		}
		if p.Position < 0 {
			return fmt.Errorf("position must not be negative")
		}

	case IntentLinkOpen:
		var p LinkOpenPayload
		if err := decodePayload(i.Payload, &p); err != nil {
			return err
		}
		if strings.TrimSpace(p.URL) == "" {
			return fmt.Errorf("url is required")
		}

	case IntentPromptInjection:
		var p PromptInjectionPayload
		if err := decodePayload(i.Payload, &p); err != nil {
			return err
		}
		if p.Text == "" {
			return fmt.Errorf("text is required")
		}

	case IntentClipboardSync:
		var p ClipboardSyncPayload
		if err := decodePayload(i.Payload, &p); err != nil {
			return err
		}
		if p.Text == "" {
			return fmt.Errorf("text is required")
		}
	}

	return nil
}

func validateFile(f FileHandoffPayload) error {
	if f.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(f.Data) == 0 {
		return fmt.Errorf("data is required")
	}
	return nil
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("payload is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}
