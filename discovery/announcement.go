package discovery

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// AppTag identifies this protocol family on a shared broadcast segment.
const AppTag = "vdrop"

// Verdict is the outcome of classifying one inbound announcement.
type Verdict int

const (
	// VerdictAccepted means the announcement updates the registry.
	VerdictAccepted Verdict = iota
	// VerdictMalformed means the payload is not a structurally valid announcement.
	VerdictMalformed
	// VerdictForeignApp means the payload carries another application's tag.
	VerdictForeignApp
	// VerdictSelfEcho means the payload is this process's own broadcast.
	VerdictSelfEcho
	// VerdictNoSource means the sender address could not be used as a key.
	VerdictNoSource
)

func (v Verdict) String() string {
	switch v {
	case VerdictAccepted:
		return "accepted"
	case VerdictMalformed:
		return "malformed"
	case VerdictForeignApp:
		return "foreign_app"
	case VerdictSelfEcho:
		return "self_echo"
	case VerdictNoSource:
		return "no_source"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Announcement is the discovery datagram advertising a peer's presence.
type Announcement struct {
	App        string `json:"app"`
	DeviceName string `json:"device_name"`
	Port       uint16 `json:"port"`
	InstanceID string `json:"instance_id"`
}

// wireAnnouncement detects missing fields, which zero values cannot.
type wireAnnouncement struct {
	App        *string `json:"app"`
	DeviceName *string `json:"device_name"`
	Port       *uint16 `json:"port"`
	InstanceID *string `json:"instance_id"`
}

// NewAnnouncement builds this process's announcement.
func NewAnnouncement(deviceName string, port uint16, instanceID string) Announcement {
	return Announcement{
		App:        AppTag,
		DeviceName: deviceName,
		Port:       port,
		InstanceID: instanceID,
	}
}

// Marshal encodes the announcement as UTF-8 JSON.
func (a Announcement) Marshal() ([]byte, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal announcement: %w", err)
	}
	return payload, nil
}

// ParseAnnouncement decodes a datagram payload. All four fields are required.
func ParseAnnouncement(payload []byte) (Announcement, error) {
	if !utf8.Valid(payload) {
		return Announcement{}, fmt.Errorf("decode announcement: invalid UTF-8")
	}

	var wire wireAnnouncement
	if err := json.Unmarshal(payload, &wire); err != nil {
		return Announcement{}, fmt.Errorf("decode announcement: %w", err)
	}
	if wire.App == nil || wire.DeviceName == nil || wire.Port == nil || wire.InstanceID == nil {
		return Announcement{}, fmt.Errorf("decode announcement: missing field")
	}

	return Announcement{
		App:        *wire.App,
		DeviceName: *wire.DeviceName,
		Port:       *wire.Port,
		InstanceID: *wire.InstanceID,
	}, nil
}

// Classify parses a payload and decides whether it may update the registry.
func Classify(payload []byte, selfInstanceID string) (Announcement, Verdict) {
	msg, err := ParseAnnouncement(payload)
	if err != nil {
		return Announcement{}, VerdictMalformed
	}
	if msg.App != AppTag {
		return msg, VerdictForeignApp
	}
	if msg.InstanceID == selfInstanceID {
		return msg, VerdictSelfEcho
	}
	return msg, VerdictAccepted
}
