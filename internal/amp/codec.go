package amp

import "fmt"

// Wire framing constants. Commands are terminated by a bare CR; the amp
// echoes every byte and terminates each response chunk with CR LF '#'.
const (
	// statusPrefix opens every zone enquiry response line.
	statusPrefix = '>'

	// statusLineLen is '>' + zone ID + 10 two-digit fields.
	statusLineLen = 1 + 2 + 2*NumAttributes
)

// chunkTerminator closes every response chunk, including the command echo.
var chunkTerminator = []byte("\r\n#")

// rejectionChunk is the amp's reply to an unparseable or invalid command.
var rejectionChunk = []byte("\r\nCommand Error.")

// EncodeQuery builds a zone enquiry command, without the trailing CR.
// Querying a virtual amp zone (e.g. "10") returns six status lines, one
// per physical zone of that unit.
func EncodeQuery(zone ZoneID) []byte {
	return []byte(fmt.Sprintf("?%s", zone))
}

// EncodeSet builds an attribute set command, without the trailing CR.
//
// Parameters:
//   - zone: Target zone; virtual IDs are accepted, the amp fans them out
//   - attr: Attribute to set; must be writable
//   - value: Wire value, two-digit encoded
//
// Returns:
//   - []byte: Command such as "<12VO22"
//   - error: ErrReadOnlyAttribute or ErrValueOutOfRange
func EncodeSet(zone ZoneID, attr Attribute, value int) ([]byte, error) {
	if err := zone.Validate(); err != nil {
		return nil, err
	}
	if attr.ReadOnly() {
		return nil, fmt.Errorf("%w: %s", ErrReadOnlyAttribute, attr)
	}
	if err := attr.ValidateValue(value); err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("<%s%s%02d", zone, attr.commandKey(), value)), nil
}

// EncodeBaud builds the baud rate change command, without the trailing CR.
// The amp switches rate as soon as it receives the CR, so the "#Done."
// reply arrives corrupted at the old rate and is never read back.
func EncodeBaud(rate int) []byte {
	return []byte(fmt.Sprintf("<%d", rate))
}

// DecodeStatus parses one zone enquiry response line.
//
// The line is the chunk content with the CR LF '#' terminator already
// stripped: '>' followed by the two-digit zone ID and ten two-digit
// attribute values in wire order.
//
// Returns:
//   - ZoneStatus: Decoded zone state
//   - error: ErrMalformedResponse on bad prefix, width, digits, or an
//     attribute value outside its wire domain
func DecodeStatus(line []byte) (ZoneStatus, error) {
	if len(line) != statusLineLen || line[0] != statusPrefix {
		return ZoneStatus{}, fmt.Errorf("%w: %q", ErrMalformedResponse, line)
	}

	id, err := ParseZoneID(string(line[1:3]))
	if err != nil {
		return ZoneStatus{}, fmt.Errorf("%w: %q: %v", ErrMalformedResponse, line, err)
	}
	if id.IsVirtual() {
		return ZoneStatus{}, fmt.Errorf("%w: %q: virtual zone in status", ErrMalformedResponse, line)
	}

	st := ZoneStatus{ID: id}
	for a := Attribute(0); int(a) < NumAttributes; a++ {
		v, err := decodeField(line[3+2*int(a):])
		if err != nil {
			return ZoneStatus{}, fmt.Errorf("%w: %q: field %s", ErrMalformedResponse, line, a)
		}
		min, max := a.Range()
		if v < min || v > max {
			return ZoneStatus{}, fmt.Errorf("%w: %q: %s=%d outside %d-%d",
				ErrMalformedResponse, line, a, v, min, max)
		}
		st.Values[a] = v
	}
	return st, nil
}

// decodeField parses a two-digit decimal field.
func decodeField(b []byte) (int, error) {
	if len(b) < 2 || b[0] < '0' || b[0] > '9' || b[1] < '0' || b[1] > '9' {
		return 0, fmt.Errorf("bad digits")
	}
	return int(b[0]-'0')*10 + int(b[1]-'0'), nil
}
