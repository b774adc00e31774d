package scl

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dtnproto/scl/internal/sdnv"
	"github.com/dtnproto/scl/pkg/bpabstract"
	"github.com/dtnproto/scl/pkg/clparams"
)

// contactHeader is the bit-exact 8-byte handshake message (spec.md §4.F,
// §6): uint32 magic, uint8 version, uint8 flags, uint16 keepalive
// seconds, all big-endian.
type contactHeader struct {
	Magic             uint32
	Version           uint8
	Flags             uint8
	KeepaliveInterval uint16 // seconds
}

func newContactHeader(params clparams.LinkParams) contactHeader {
	var flags uint8
	if params.SegmentAckEnabled {
		flags |= flagSegmentAckEnabled
	}
	if params.ReactiveFragEnabled {
		flags |= flagReactiveFragEnabled
	}
	keepaliveSec := uint16(params.KeepaliveInterval / time.Second)
	return contactHeader{
		Magic:             contactHeaderMagic,
		Version:           contactHeaderVersion,
		Flags:             flags,
		KeepaliveInterval: keepaliveSec,
	}
}

func (h contactHeader) encode() []byte {
	buf := make([]byte, contactHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], h.KeepaliveInterval)
	return buf
}

func decodeContactHeader(buf []byte) (contactHeader, bool) {
	if len(buf) < contactHeaderLen {
		return contactHeader{}, false
	}
	return contactHeader{
		Magic:             binary.BigEndian.Uint32(buf[0:4]),
		Version:           buf[4],
		Flags:             buf[5],
		KeepaliveInterval: binary.BigEndian.Uint16(buf[6:8]),
	}, true
}

func (h contactHeader) toLinkParams(local clparams.LinkParams) clparams.LinkParams {
	peer := local
	peer.SegmentAckEnabled = h.Flags&flagSegmentAckEnabled != 0
	peer.ReactiveFragEnabled = h.Flags&flagReactiveFragEnabled != 0
	peer.KeepaliveInterval = time.Duration(h.KeepaliveInterval) * time.Second
	return peer
}

// writeHandshakeGreeting queues our own ContactHeader and announce
// bundle into sendbuf. Per spec.md §9's resolved Open Question, this
// happens immediately at connection construction, full duplex, without
// waiting to read the peer's greeting first.
func (c *Connection) writeHandshakeGreeting() error {
	header := newContactHeader(c.localParams)
	c.queueRaw(header.encode())

	announce := bpabstract.NewAnnounceBundle(c.localEID)
	announceBytes, err := announce.FormatBundle()
	if err != nil {
		return fmt.Errorf("scl: formatting announce bundle: %w", err)
	}

	lenBuf := make([]byte, sdnv.EncodingLen(uint64(len(announceBytes))))
	n, err := sdnv.Encode(uint64(len(announceBytes)), lenBuf)
	if err != nil {
		return err
	}
	c.queueRaw(lenBuf[:n])
	c.queueRaw(announceBytes)
	return nil
}

// tryCompleteHandshake attempts to consume a peer ContactHeader plus
// announce-length SDNV plus announce bundle from recvbuf (spec.md §4.F
// steps 3-5). It returns (true, nil) once the handshake completes and
// contact_up is set; (false, nil) when more bytes are needed (the
// connection simply returns from process_data per spec.md §4.F); or a
// non-nil error for any protocol violation, which the caller turns into
// break_contact(BROKEN).
func (c *Connection) tryCompleteHandshake() (bool, error) {
	raw := c.recvbuf.Start()

	header, ok := decodeContactHeader(raw)
	if !ok {
		return false, nil // incomplete
	}
	if header.Magic != contactHeaderMagic {
		return false, ErrBadMagic
	}
	if header.Version != contactHeaderVersion {
		return false, ErrBadVersion
	}

	rest := raw[contactHeaderLen:]
	var announceLen uint64
	sdnvN, err := sdnv.Decode(rest, &announceLen)
	if err != nil {
		if err == sdnv.ErrIncomplete {
			return false, nil
		}
		return false, fmt.Errorf("%w: announce length sdnv: %v", ErrProtocol, err)
	}
	rest = rest[sdnvN:]
	if uint64(len(rest)) < announceLen {
		return false, nil // incomplete: announce bundle body not fully arrived
	}
	announceBytes := rest[:announceLen]

	peerEID, err := parseAnnounceBytes(announceBytes)
	if err != nil {
		return false, fmt.Errorf("%w: announce bundle: %v", ErrProtocol, err)
	}

	totalConsumed := contactHeaderLen + sdnvN + int(announceLen)
	c.recvbuf.Consume(totalConsumed)
	c.peerEID = peerEID

	peerParams := header.toLinkParams(c.localParams)
	c.params = clparams.Negotiate(c.localParams, peerParams)

	c.linkID = c.contactMgr.NewLink(peerEID, c.localParams.OnDemand, c.params)
	c.contactID = c.contactMgr.EnsureContact(c.linkID)
	c.contactMgr.SetContactUp(c.contactID, true)

	now := c.clock.Now()
	c.dataRcvd, c.dataSent, c.keepaliveSent = now, now, now
	c.contactUp = true

	c.events.Post(ContactUpEvent{Contact: c.contactID})
	return true, nil
}

// parseAnnounceBytes parses the wire bytes of an announce bundle
// directly, rather than going through the general HeaderParser seam:
// the announce bundle's format is fixed by this package (spec.md §4.F),
// unlike ordinary bundles which are opaque to SCL (§1).
func parseAnnounceBytes(buf []byte) (bpabstract.EndpointID, error) {
	if len(buf) < 2 {
		return "", fmt.Errorf("announce bundle too short")
	}
	eidLen := int(buf[0])
	if len(buf) < 1+eidLen+1 {
		return "", fmt.Errorf("announce bundle truncated")
	}
	eid := bpabstract.EndpointID(buf[1 : 1+eidLen])
	rest := buf[1+eidLen:]
	adminType := rest[len(rest)-1] >> 4
	if adminType != 0xA {
		return "", fmt.Errorf("not an announce bundle (admin type %#x)", adminType)
	}
	return eid, nil
}
