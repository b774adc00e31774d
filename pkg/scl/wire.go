package scl

// Wire message types (spec.md §4.G): a single leading byte uniquely
// identifies every message, so the parser never looks further before
// dispatching. Numeric values are this implementation's choice but must
// stay stable across peers running this code.
const (
	MsgStartBundle  byte = 0x01
	MsgEndBundle    byte = 0x02
	MsgDataSegment  byte = 0x03
	MsgAckSegment   byte = 0x04
	MsgKeepalive    byte = 0x05
	MsgShutdown     byte = 0x06
)

// contactHeaderMagic is the 4-byte magic "dtn!" in network byte order
// (spec.md §4.F, §6).
const contactHeaderMagic uint32 = 0x64746e21

// contactHeaderVersion is this implementation's handshake version.
const contactHeaderVersion uint8 = 1

// ContactHeader flags (spec.md §4.F).
const (
	flagSegmentAckEnabled   uint8 = 1 << 0
	flagReactiveFragEnabled uint8 = 1 << 1
)

// contactHeaderLen is the fixed 8-byte wire size of a ContactHeader
// (spec.md §6): uint32 magic, uint8 version, uint8 flags, uint16
// keepalive-seconds, all big-endian.
const contactHeaderLen = 8
