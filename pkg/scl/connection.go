package scl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dtnproto/scl/internal/ringbuf"
	"github.com/dtnproto/scl/internal/sdnv"
	"github.com/dtnproto/scl/pkg/bpabstract"
	"github.com/dtnproto/scl/pkg/clparams"
	"github.com/dtnproto/scl/pkg/contactmgr"
)

// maxCopyPerPass bounds how many payload bytes send_pending_data copies
// into sendbuf in a single step 1/4 pass, so a single huge segment cannot
// make one pass run unboundedly long; the ring buffer would happily grow
// to hold more. A segment longer than this is copied over several
// passes, and pending acks and the next segment are only emitted once
// its last byte has been copied.
const maxCopyPerPass = 64 * 1024

// maxAcksPerPass bounds how many ACK_SEGMENT messages step 2 emits in a
// single pass, for the same interleaving reason.
const maxAcksPerPass = 64

// Stats is an atomically-updated snapshot of a Connection's counters,
// read by the metrics collector (component K) from a goroutine other
// than the one driving Run.
type Stats struct {
	SegmentsSent   int64
	SegmentsRcvd   int64
	BytesSent      int64
	BytesAcked     int64
	KeepalivesSent int64
	ContactUp      bool
}

// Connection is the single-threaded per-connection protocol engine
// (spec.md §1, §4): one goroutine drives Run, and all the state below is
// owned by that goroutine alone except the atomic counters, which the
// metrics collector may read concurrently.
//
// Grounded on the teacher's pkg/sdo segmented/block-transfer server
// loop (pkg/sdo/server.go's select{ctx.Done(); rxChan; time.After}
// shape) generalized from CANopen SDO segments to SCL's DATA_SEGMENT
// framing, and cross-checked against original_source's
// StreamConvergenceLayer.cc for the send_pending_data/process_data
// step ordering.
type Connection struct {
	log *logrus.Entry

	io      IOChannel
	sendbuf *ringbuf.RingBuffer
	recvbuf *ringbuf.RingBuffer

	contactMgr *contactmgr.Manager
	linkID     contactmgr.LinkID
	contactID  contactmgr.ContactID

	localEID     bpabstract.EndpointID
	peerEID      bpabstract.EndpointID
	localParams  clparams.LinkParams // our own configured params, pre-negotiation
	params       clparams.LinkParams // negotiated params, valid once contactUp
	headerParser bpabstract.HeaderParser
	events       EventSink
	clock        Clock

	contactUp     bool
	contactBroken bool

	currentInflight *InFlightBundle
	inflight        []*InFlightBundle
	sendSegmentTodo int

	incoming        []*IncomingBundle
	recvSegmentTodo int

	dataRcvd      time.Time
	dataSent      time.Time
	keepaliveSent time.Time

	// readErr is a terminal IOChannel.Read error observed by
	// readFromChannel, deferred until drivePass has let process_data
	// dispatch anything already sitting in recvbuf.
	readErr error

	sendBundleQueue chan bpabstract.Bundle
	closeRequested  chan struct{}

	segmentsSent   atomic.Int64
	segmentsRcvd   atomic.Int64
	bytesSent      atomic.Int64
	bytesAcked     atomic.Int64
	keepalivesSent atomic.Int64
}

// Config bundles the per-connection construction parameters.
type Config struct {
	IO           IOChannel
	ContactMgr   *contactmgr.Manager
	LocalEID     bpabstract.EndpointID
	LocalParams  clparams.LinkParams
	HeaderParser bpabstract.HeaderParser
	Events       EventSink
	Clock        Clock // nil defaults to RealClock
	Logger       *logrus.Entry
}

// NewConnection builds a Connection, queues the handshake greeting, and
// writes as much of it to the IOChannel as the channel accepts right
// away; everything else happens once Run is called.
func NewConnection(cfg Config) (*Connection, error) {
	if cfg.Clock == nil {
		cfg.Clock = RealClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Connection{
		log:             cfg.Logger.WithField("component", "scl"),
		io:              cfg.IO,
		sendbuf:         ringbuf.New(0),
		recvbuf:         ringbuf.New(0),
		contactMgr:      cfg.ContactMgr,
		localEID:        cfg.LocalEID,
		localParams:     cfg.LocalParams,
		params:          cfg.LocalParams,
		headerParser:    cfg.HeaderParser,
		events:          cfg.Events,
		clock:           cfg.Clock,
		sendBundleQueue: make(chan bpabstract.Bundle, 64),
		closeRequested:  make(chan struct{}),
	}
	if err := c.writeHandshakeGreeting(); err != nil {
		return nil, err
	}
	c.flushSendbuf()
	return c, nil
}

// Stats returns a point-in-time snapshot, safe to call concurrently
// with Run.
func (c *Connection) Stats() Stats {
	return Stats{
		SegmentsSent:   c.segmentsSent.Load(),
		SegmentsRcvd:   c.segmentsRcvd.Load(),
		BytesSent:      c.bytesSent.Load(),
		BytesAcked:     c.bytesAcked.Load(),
		KeepalivesSent: c.keepalivesSent.Load(),
		ContactUp:      c.contactUp && !c.contactBroken,
	}
}

// SendBundle asks the connection to transmit b. Safe to call from any
// goroutine; it is delivered to the owning goroutine over a channel and
// enqueued on the inflight FIFO from there (spec.md §5 handle_send_bundle).
func (c *Connection) SendBundle(ctx context.Context, b bpabstract.Bundle) error {
	select {
	case c.sendBundleQueue <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closeRequested:
		return ErrClosed
	}
}

// Close requests an orderly shutdown (spec.md §4.I): a SHUTDOWN message
// is written and flushed before the channel closes. Safe to call once
// from any goroutine; Run returns shortly after.
func (c *Connection) Close() {
	select {
	case <-c.closeRequested:
	default:
		close(c.closeRequested)
	}
}

// pollInterval is how often Run wakes up to drive the timer/poll driver
// (spec.md §4.H) even with no I/O or send activity.
const pollInterval = 200 * time.Millisecond

// Run drives the connection until the contact breaks, ctx is canceled,
// or Close is called. It always returns nil; terminal state is observed
// through ContactDownEvent.
func (c *Connection) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for !c.contactBroken {
		select {
		case <-ctx.Done():
			c.breakContact(ReasonUser, nil, true)
		case <-c.closeRequested:
			c.breakContact(ReasonUser, nil, true)
		case b := <-c.sendBundleQueue:
			c.handleSendBundle(b)
			c.drivePass()
		case <-c.io.Readable():
			c.readFromChannel()
			c.drivePass()
		case <-ticker.C:
			c.handlePollTimeout()
		}
	}
	return nil
}

// drivePass runs one handshake-or-segment-engine pass and flushes
// whatever that queued, per spec.md §4.F/§4.G.
func (c *Connection) drivePass() {
	if c.contactBroken {
		return
	}
	if !c.contactUp {
		done, err := c.tryCompleteHandshake()
		if err != nil {
			c.breakContact(ReasonBroken, err, false)
			return
		}
		if !done {
			return
		}
	}
	if err := c.processData(); err != nil {
		c.breakContact(ReasonBroken, err, false)
		return
	}
	if c.contactBroken {
		return
	}
	if c.readErr != nil {
		// Whatever arrived alongside the error (typically a peer's
		// SHUTDOWN immediately followed by closing its write side) has
		// now had its chance to be dispatched above; only an unexplained
		// close counts as BROKEN.
		c.breakContact(ReasonBroken, c.readErr, false)
		return
	}
	if err := c.sendPendingData(); err != nil {
		c.breakContact(ReasonBroken, err, false)
		return
	}
	c.flushSendbuf()
}

// readFromChannel drains whatever the IOChannel has immediately
// available into recvbuf. Any bytes at all count as contact activity,
// so data_rcvd is refreshed here rather than in process_data, matching
// that the idle-close timer must reset on a readability signal even if
// process_data itself decides there's nothing new to dispatch yet.
//
// A terminal read error (EOF or otherwise) is recorded rather than
// acted on immediately: a peer's final write before closing (e.g. an
// orderly SHUTDOWN) often lands in the very same read as the close
// itself, and process_data must get a chance to dispatch it before the
// connection is torn down as BROKEN.
func (c *Connection) readFromChannel() {
	for {
		c.recvbuf.Reserve(4096)
		n, err := c.io.Read(c.recvbuf.End())
		if n > 0 {
			c.recvbuf.Fill(n)
			c.dataRcvd = c.clock.Now()
		}
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				return
			}
			c.readErr = err
			return
		}
		if n == 0 {
			return
		}
	}
}

// queueRaw appends data directly to sendbuf, growing it as needed.
// Used by the handshake greeting and every message emitted from the
// segment engine.
func (c *Connection) queueRaw(data []byte) {
	c.sendbuf.Reserve(len(data))
	n := copy(c.sendbuf.End(), data)
	c.sendbuf.Fill(n)
}

// flushSendbuf writes as much of sendbuf to the IOChannel as it will
// accept right now, updating data_sent on any successful write.
func (c *Connection) flushSendbuf() {
	for c.sendbuf.Fullbytes() > 0 {
		n, err := c.io.Write(c.sendbuf.Start())
		if n > 0 {
			c.sendbuf.Consume(n)
			c.dataSent = c.clock.Now()
		}
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				return
			}
			c.breakContact(ReasonBroken, err, false)
			return
		}
		if n == 0 {
			return
		}
	}
}

func encodeSDNV(n uint64) []byte {
	buf := make([]byte, sdnv.EncodingLen(n))
	w, err := sdnv.Encode(n, buf)
	if err != nil {
		// EncodingLen always sizes buf correctly; this would be a bug
		// in this package, not a runtime condition callers must handle.
		panic(fmt.Sprintf("scl: sdnv encode: %v", err))
	}
	return buf[:w]
}

// ---- send_pending_data (spec.md §4.G) ----

func (c *Connection) sendPendingData() error {
	if c.sendSegmentTodo > 0 {
		c.continueCurrentSegment()
		if c.sendSegmentTodo > 0 {
			return nil
		}
	}

	if err := c.emitPendingAcks(); err != nil {
		return err
	}

	if c.currentInflight == nil {
		next := c.pickNextInflight()
		if next == nil {
			return nil
		}
		return c.startInflightSegment(next)
	}
	return c.emitNextSegmentOfCurrent()
}

func (c *Connection) pickNextInflight() *InFlightBundle {
	for _, f := range c.inflight {
		if f.SentData.NumContiguous() < f.FormattedLength {
			return f
		}
	}
	return nil
}

func (c *Connection) startInflightSegment(f *InFlightBundle) error {
	if !f.SentData.Empty() {
		return fmt.Errorf("%w", ErrSendSegmentInvariant)
	}
	if err := f.Bundle.Payload().Open(); err != nil {
		return err
	}
	header, err := f.Bundle.FormatHeaderBlocks()
	if err != nil {
		return err
	}

	segLen := int(c.localParams.SegmentLength)
	if segLen > f.FormattedLength {
		segLen = f.FormattedLength
	}
	if segLen < f.HeaderBlockLength {
		segLen = f.HeaderBlockLength
	}

	c.currentInflight = f
	c.queueRaw([]byte{MsgStartBundle})
	c.queueRaw([]byte{MsgDataSegment})
	c.queueRaw(encodeSDNV(uint64(segLen)))
	c.queueRaw(header)
	f.SentData.SetRange(0, f.HeaderBlockLength)
	c.sendSegmentTodo = segLen - f.HeaderBlockLength
	c.segmentsSent.Add(1)
	return nil
}

func (c *Connection) emitNextSegmentOfCurrent() error {
	f := c.currentInflight
	if f.PayloadSent() == f.PayloadLen() {
		if f.TailBlockLength > 0 && f.SentData.NumContiguous() < f.FormattedLength {
			return c.sendTailSegment(f)
		}
		return c.finishBundle()
	}
	segLen := int(c.localParams.SegmentLength)
	if remaining := f.PayloadLen() - f.PayloadSent(); segLen > remaining {
		segLen = remaining
	}
	c.queueRaw([]byte{MsgDataSegment})
	c.queueRaw(encodeSDNV(uint64(segLen)))
	c.sendSegmentTodo = segLen
	c.segmentsSent.Add(1)
	return nil
}

// sendTailSegment frames the bundle's tail blocks (e.g. a trailing CRC
// block) as one final DATA_SEGMENT once every payload byte has been
// queued, the same way startInflightSegment frames the already-
// serialized header: queued whole via queueRaw rather than trickled
// through sendSegmentTodo/continueCurrentSegment, since FormatTailBlocks
// hands back the full section already in memory. Without this,
// sent_data never reaches formatted_length for a bundle with a nonzero
// tail block and FullySent never turns true.
func (c *Connection) sendTailSegment(f *InFlightBundle) error {
	tail, err := f.Bundle.FormatTailBlocks()
	if err != nil {
		return err
	}
	offset := f.SentData.NumContiguous()
	c.queueRaw([]byte{MsgDataSegment})
	c.queueRaw(encodeSDNV(uint64(len(tail))))
	c.queueRaw(tail)
	f.SentData.SetRange(offset, len(tail))
	c.segmentsSent.Add(1)
	c.bytesSent.Add(int64(len(tail)))
	return nil
}

func (c *Connection) continueCurrentSegment() {
	f := c.currentInflight
	n := c.sendSegmentTodo
	if n > maxCopyPerPass {
		n = maxCopyPerPass
	}

	c.sendbuf.Reserve(n)
	buf := c.sendbuf.End()[:n]
	formattedOffset := f.SentData.NumContiguous()
	payloadOffset := formattedOffset - f.HeaderBlockLength

	read, err := f.Bundle.Payload().ReadAt(buf, int64(payloadOffset))
	if err != nil && !errors.Is(err, io.EOF) {
		c.breakContact(ReasonBroken, err, false)
		return
	}
	if read < n {
		// Short read from a payload that genuinely has fewer bytes than
		// formatted_length accounted for is a bundle-abstraction bug,
		// not a wire condition; zero-pad defensively rather than send
		// garbage off the end of buf.
		for i := read; i < n; i++ {
			buf[i] = 0
		}
	}
	c.sendbuf.Fill(n)
	f.SentData.SetRange(formattedOffset, n)
	f.AdvancePayloadSent(n)
	c.sendSegmentTodo -= n
	c.bytesSent.Add(int64(n))
}

func (c *Connection) finishBundle() error {
	f := c.currentInflight
	c.queueRaw([]byte{MsgEndBundle})
	f.Bundle.Payload().Close()
	c.currentInflight = nil
	if !c.params.SegmentAckEnabled {
		f.SynthesizeFullAck()
	}
	c.completeInflightIfDone(f)
	return nil
}

func (c *Connection) completeInflightIfDone(f *InFlightBundle) {
	// finishBundle clears currentInflight before calling here, so a bundle
	// that is still current has not had its END_BUNDLE emitted yet.
	if f == c.currentInflight || !f.FullySent() || !f.FullyAcked() {
		return
	}
	acked := f.AckData.NumContiguous() - f.HeaderBlockLength
	c.bytesAcked.Add(int64(acked))
	c.events.Post(BundleTransmittedEvent{
		Bundle:     f.Bundle,
		Contact:    c.contactID,
		BytesSent:  f.PayloadSent(),
		BytesAcked: acked,
	})
	c.removeInflight(f)
}

func (c *Connection) removeInflight(f *InFlightBundle) {
	for i, cand := range c.inflight {
		if cand == f {
			c.inflight = append(c.inflight[:i], c.inflight[i+1:]...)
			return
		}
	}
}

// emitPendingAcks walks every incoming bundle's ack_data in FIFO order,
// emitting one ACK_SEGMENT per recorded segment end, up to
// maxAcksPerPass per call so a backlog of small segments cannot starve
// outbound data segments (spec.md §4.G "must not monopolize the buffer").
//
// A segment end is marked in ack_data as soon as its DATA_SEGMENT
// begins (MarkSegmentEnd), before its body has necessarily all arrived
// in one Read. acked_length must never run ahead of what's actually
// been received (invariant I2), so a segment end beyond rcvd_data's
// contiguous prefix is left set and retried on a later pass, matching
// original_source's "if (ack_len > rcvd_bytes) break".
func (c *Connection) emitPendingAcks() error {
	emitted := 0
	for _, in := range c.incoming {
		if emitted >= maxAcksPerPass {
			break
		}
		rcvd := in.RcvdData.Last() + 1
	ranges:
		for _, r := range in.AckData.Ranges() {
			for e := r.Lo; e < r.Hi; e++ {
				if emitted >= maxAcksPerPass {
					break ranges
				}
				if e+1 > rcvd {
					break ranges
				}
				c.queueRaw([]byte{MsgAckSegment})
				c.queueRaw(encodeSDNV(uint64(e + 1)))
				in.AckedLength = e + 1
				in.AckData.Clear(e)
				emitted++
			}
		}
	}
	c.popFinishedIncoming()
	return nil
}

func (c *Connection) popFinishedIncoming() {
	kept := c.incoming[:0]
	for _, in := range c.incoming {
		if in.Finished() {
			continue
		}
		kept = append(kept, in)
	}
	c.incoming = kept
}

// ---- process_data (spec.md §4.G) ----

func (c *Connection) processData() error {
	if c.recvSegmentTodo > 0 {
		if err := c.continueRecvSegment(); err != nil {
			return err
		}
		if c.recvSegmentTodo > 0 {
			return nil
		}
	}
	for c.recvbuf.Fullbytes() > 0 {
		consumed, err := c.dispatchOne()
		if err != nil {
			return err
		}
		if !consumed {
			break
		}
	}
	return nil
}

func (c *Connection) dispatchOne() (bool, error) {
	raw := c.recvbuf.Start()
	if len(raw) == 0 {
		return false, nil
	}
	switch raw[0] {
	case MsgStartBundle:
		if len(c.incoming) > 0 && c.incoming[len(c.incoming)-1].TotalLength == 0 {
			return false, fmt.Errorf("%w: START_BUNDLE mid-bundle", ErrProtocol)
		}
		c.incoming = append(c.incoming, NewIncomingBundle())
		c.recvbuf.Consume(1)
		return true, nil

	case MsgEndBundle:
		if len(c.incoming) == 0 {
			return false, fmt.Errorf("%w: END_BUNDLE with no open bundle", ErrProtocol)
		}
		back := c.incoming[len(c.incoming)-1]
		if back.RcvdData.Empty() {
			return false, fmt.Errorf("%w: END_BUNDLE with no data received", ErrProtocol)
		}
		total := back.RcvdData.Last() + 1
		if back.Bundle != nil && total > back.Bundle.FormattedLength() {
			return false, fmt.Errorf("%w", ErrOverLength)
		}
		back.TotalLength = total
		c.recvbuf.Consume(1)
		if back.Bundle != nil {
			back.Bundle.Payload().Close()
		}
		c.events.Post(BundleReceivedEvent{
			Bundle:        back.Bundle,
			Source:        Peer{EID: c.peerEID},
			BytesReceived: total - back.HeaderBlockLength,
		})
		return true, nil

	case MsgDataSegment:
		return c.dispatchDataSegment(raw)

	case MsgAckSegment:
		return c.dispatchAckSegment(raw)

	case MsgKeepalive:
		c.recvbuf.Consume(1)
		return true, nil

	case MsgShutdown:
		c.recvbuf.Consume(1)
		c.breakContact(ReasonShutdown, nil, false)
		return false, nil

	default:
		return false, fmt.Errorf("%w: %#x", ErrUnknownType, raw[0])
	}
}

func (c *Connection) dispatchDataSegment(raw []byte) (bool, error) {
	rest := raw[1:]
	var segLen uint64
	n, err := sdnv.Decode(rest, &segLen)
	if err != nil {
		if errors.Is(err, sdnv.ErrIncomplete) {
			return false, nil
		}
		return false, fmt.Errorf("%w: segment length: %v", ErrProtocol, err)
	}
	if len(c.incoming) == 0 {
		return false, fmt.Errorf("%w: DATA_SEGMENT with no START_BUNDLE", ErrProtocol)
	}
	back := c.incoming[len(c.incoming)-1]
	body := rest[n:]

	if !back.HeaderArrived() {
		if uint64(len(body)) < segLen {
			return false, nil // wait for the whole first segment before parsing
		}
		bundle, consumed, err := c.headerParser(c.localEID, body[:segLen])
		if err != nil {
			if errors.Is(err, bpabstract.ErrIncomplete) {
				return false, nil
			}
			return false, fmt.Errorf("%w: header parse: %v", ErrProtocol, err)
		}
		if err := bundle.Payload().Open(); err != nil {
			return false, err
		}
		back.Bundle = bundle
		back.HeaderBlockLength = consumed
		c.recvbuf.Consume(1 + n + consumed)
		back.RcvdData.SetRange(0, consumed)
		back.MarkSegmentEnd(int(segLen) - 1)
		c.recvSegmentTodo = int(segLen) - consumed
	} else {
		offset := back.RcvdData.NumContiguous()
		c.recvbuf.Consume(1 + n)
		back.MarkSegmentEnd(offset + int(segLen) - 1)
		c.recvSegmentTodo = int(segLen)
	}
	c.segmentsRcvd.Add(1)

	for c.recvSegmentTodo > 0 && c.recvbuf.Fullbytes() > 0 {
		if err := c.continueRecvSegment(); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (c *Connection) continueRecvSegment() error {
	back := c.incoming[len(c.incoming)-1]
	n := c.recvSegmentTodo
	if avail := c.recvbuf.Fullbytes(); n > avail {
		n = avail
	}
	if n == 0 {
		return nil
	}
	data := c.recvbuf.Start()[:n]
	offset := back.RcvdData.NumContiguous() - back.HeaderBlockLength
	if back.Bundle != nil {
		if _, err := back.Bundle.Payload().WriteAt(data, int64(offset)); err != nil {
			return err
		}
	}
	back.RcvdData.SetRange(back.RcvdData.NumContiguous(), n)
	c.recvbuf.Consume(n)
	c.recvSegmentTodo -= n
	return nil
}

func (c *Connection) dispatchAckSegment(raw []byte) (bool, error) {
	rest := raw[1:]
	var ackedLen uint64
	n, err := sdnv.Decode(rest, &ackedLen)
	if err != nil {
		if errors.Is(err, sdnv.ErrIncomplete) {
			return false, nil
		}
		return false, fmt.Errorf("%w: ack length: %v", ErrProtocol, err)
	}
	c.recvbuf.Consume(1 + n)
	if err := c.handleAckSegment(ackedLen); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Connection) handleAckSegment(ackedLen uint64) error {
	if len(c.inflight) == 0 {
		return fmt.Errorf("%w: ACK_SEGMENT with no inflight bundle", ErrProtocol)
	}
	f := c.inflight[0]
	ackBegin := f.AckData.NumContiguous()
	if int(ackedLen) < ackBegin {
		return fmt.Errorf("%w", ErrAckRegressed)
	}
	f.AckData.SetRange(0, int(ackedLen))
	c.completeInflightIfDone(f)
	return nil
}

func (c *Connection) handleSendBundle(b bpabstract.Bundle) {
	c.inflight = append(c.inflight, NewInFlightBundle(b))
}

// handleCancelBundle is deliberately a no-op: spec.md §5 lists
// handle_cancel_bundle among the daemon-facing operations but does not
// define any behavior for it beyond accepting the request.
func (c *Connection) handleCancelBundle(bpabstract.Bundle) {}
