package bridge

import "errors"

// Sentinel errors for inbound message handling. Handler errors are
// logged by the MQTT client wrapper; a bad set message is a no-op.
var (
	// ErrUnknownTopic indicates a message arrived on a topic that does
	// not parse as a set topic.
	ErrUnknownTopic = errors.New("topic does not match set/zone/<id>/<attribute>")

	// ErrZoneNotConfigured indicates a set message addressed a zone
	// absent from the amp.zones configuration.
	ErrZoneNotConfigured = errors.New("zone is not configured")

	// ErrInvalidPayload indicates a set or volume payload that could
	// not be decoded for its attribute type.
	ErrInvalidPayload = errors.New("invalid payload")
)
