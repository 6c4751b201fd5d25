package wsecho

import (
	"encoding/binary"
	"math"
	"strconv"
)

// State is the step of the frame parser a Machine is waiting in.
type State int

// The Machine moves through these states in order for every frame,
// returning to StateAwaitHeader after each one, and may jump to
// StateClosed from any of them.
const (
	// StateAwaitHeader waits for the first 2 bytes of a frame.
	StateAwaitHeader State = iota
	// StateAwaitLength waits for the 2 or 8 byte extended payload length.
	StateAwaitLength
	// StateAwaitMaskKey waits for the 4 byte masking key.
	StateAwaitMaskKey
	// StateAwaitPayload waits for the whole frame payload.
	StateAwaitPayload
	// StateEmit echoes the reassembled message.
	StateEmit
	// StateAwaitCloseBody handles the payload of a close frame.
	StateAwaitCloseBody
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitHeader:
		return "AwaitHeader"
	case StateAwaitLength:
		return "AwaitLength"
	case StateAwaitMaskKey:
		return "AwaitMaskKey"
	case StateAwaitPayload:
		return "AwaitPayload"
	case StateEmit:
		return "Emit"
	case StateAwaitCloseBody:
		return "AwaitCloseBody"
	case StateClosed:
		return "Closed"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Reasons sent with the close frames the server fails a connection with.
const (
	reasonMaskRequired    = "MASK must be set."
	reasonKeepAlive       = "The server does not accept ping or pong frames."
	reasonFragmentedClose = "Control frames must not be fragmented."
	reasonTooBig          = "The server does not support such huge message lengths."
	reasonEmptyPayload    = "The text area can't be empty."
	reasonStatusRequired  = "Next time, please set the status code."
)

// message is the state of the message being received.
type message struct {
	// h is the header of the current frame.
	h header
	// indicator is the 7 bit payload length of the current frame.
	indicator byte

	fragments [][]byte
	closeBody []byte
	// total is the payload length of every frame of the message so far.
	total  uint64
	frames int
}

// Machine is the incremental frame parser of a single connection.
//
// Bytes are pushed in with Feed in whatever chunks they arrive in and
// the Machine advances as far as the buffered bytes allow, remembering
// where it stopped for the next call. It never blocks and never touches
// the transport. Everything it wants done is returned as Effects.
//
// A Machine is not safe for concurrent use.
type Machine struct {
	cfg   *Config
	state State
	buf   *buffer
	msg   message

	// maxPayload is cfg.MaxPayload capped at math.MaxInt32 so
	// every accepted payload length fits an int.
	maxPayload uint64

	effects []Effect
}

// NewMachine returns a Machine in StateAwaitHeader.
// A nil cfg means DefaultConfig.
func NewMachine(cfg *Config) *Machine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	maxPayload := cfg.MaxPayload
	if maxPayload > math.MaxInt32 {
		maxPayload = math.MaxInt32
	}
	return &Machine{
		cfg:        cfg,
		state:      StateAwaitHeader,
		buf:        newBuffer(),
		maxPayload: maxPayload,
	}
}

// State returns the state the Machine is waiting in.
func (m *Machine) State() State {
	return m.state
}

// Feed appends p to the buffered input and parses as far as possible.
// It returns the effects produced, in the order they must be applied.
//
// p is copied, the caller may reuse it once Feed returns.
// Once the Machine has terminated, Feed does nothing.
func (m *Machine) Feed(p []byte) []Effect {
	if m.state == StateClosed {
		return nil
	}
	m.buf.append(p)

	for m.step() {
	}

	effects := m.effects
	m.effects = nil
	return effects
}

// Close discards all parse state and returns the buffered input
// to the pool. It must be called when the transport ends.
// It is safe to call more than once.
func (m *Machine) Close() {
	m.teardown()
}

// step runs the current state once. It returns false when
// the Machine must wait for more input or has terminated.
func (m *Machine) step() bool {
	switch m.state {
	case StateAwaitHeader:
		return m.readHeader()
	case StateAwaitLength:
		return m.readLength()
	case StateAwaitMaskKey:
		return m.readMaskKey()
	case StateAwaitPayload:
		return m.readPayload()
	case StateEmit:
		return m.emitMessage()
	case StateAwaitCloseBody:
		return m.handleClose()
	default:
		return false
	}
}

// readHeader handles the first 2 bytes of a frame.
//
//	 0                   1
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5
//	+-+-+-+-+-------+-+-------------+
//	|F|R|R|R| opcode|M| Payload len |
//	|I|S|S|S|  (4)  |A|     (7)     |
//	|N|V|V|V|       |S|             |
//	| |1|2|3|       |K|             |
//	+-+-+-+-+-------+-+-------------+
func (m *Machine) readHeader() bool {
	if m.buf.len() < 2 {
		return false
	}
	b := m.buf.peek(2)

	h := header{
		fin:    b[0]&(1<<7) != 0,
		rsv1:   b[0]&(1<<6) != 0,
		rsv2:   b[0]&(1<<5) != 0,
		rsv3:   b[0]&(1<<4) != 0,
		opcode: opcode(b[0] & 0xf),
		masked: b[1]&(1<<7) != 0,
	}
	m.msg.h = h
	m.msg.indicator = b[1] &^ (1 << 7)
	m.buf.consume(2)

	switch {
	case !h.masked:
		return m.fail(StatusProtocolError, reasonMaskRequired)
	case h.opcode.keepAlive():
		return m.fail(StatusUnsupportedData, reasonKeepAlive)
	case h.opcode == opClose && !h.fin:
		return m.fail(StatusProtocolError, reasonFragmentedClose)
	}

	m.state = StateAwaitLength
	return true
}

// readLength resolves the payload length of the frame from the
// 7 bit indicator and the extended length that may follow it.
func (m *Machine) readLength() bool {
	var n uint64
	switch m.msg.indicator {
	case extendedLength16:
		if m.buf.len() < extendedLength16N {
			return false
		}
		n = uint64(binary.BigEndian.Uint16(m.buf.consume(extendedLength16N)))
	case extendedLength64:
		if m.buf.len() < extendedLength64N {
			return false
		}
		n = binary.BigEndian.Uint64(m.buf.consume(extendedLength64N))
	default:
		n = uint64(m.msg.indicator)
	}
	m.msg.h.payloadLength = n

	// total never exceeds maxPayload so the subtraction cannot wrap.
	if n > m.maxPayload || m.msg.total > m.maxPayload-n {
		return m.fail(StatusMessageTooBig, reasonTooBig)
	}
	m.msg.total += n

	m.state = StateAwaitMaskKey
	return true
}

func (m *Machine) readMaskKey() bool {
	if m.buf.len() < maskKeyLen {
		return false
	}
	copy(m.msg.h.maskKey[:], m.buf.consume(maskKeyLen))

	m.state = StateAwaitPayload
	return true
}

// readPayload waits until the whole frame payload is buffered
// and then unmasks it into the message.
func (m *Machine) readPayload() bool {
	h := m.msg.h
	// payloadLength is at most maxPayload which fits an int.
	n := int(h.payloadLength)
	if m.buf.len() < n {
		return false
	}

	p := make([]byte, n)
	copy(p, m.buf.consume(n))
	mask(h.maskKey, 0, p)
	m.msg.frames++

	if h.opcode == opClose {
		m.msg.closeBody = p
		m.state = StateAwaitCloseBody
		return true
	}

	if n == 0 {
		return m.fail(StatusPolicyViolation, reasonEmptyPayload)
	}
	m.msg.fragments = append(m.msg.fragments, p)

	if !h.fin {
		m.state = StateAwaitHeader
		return true
	}
	m.state = StateEmit
	return true
}

// emitMessage echoes the reassembled message back as one binary frame.
func (m *Machine) emitMessage() bool {
	var p []byte
	if len(m.msg.fragments) == 1 {
		p = m.msg.fragments[0]
	} else {
		p = make([]byte, 0, m.msg.total)
		for _, f := range m.msg.fragments {
			p = append(p, f...)
		}
	}

	m.effects = append(m.effects,
		Message{
			Payload: p,
			Frames:  m.msg.frames,
		},
		Write{
			Frame: encodeDataFrame(p),
		},
	)

	// Bytes already buffered belong to the next frame and are kept.
	m.msg = message{}
	m.state = StateAwaitHeader
	return true
}

// handleClose answers a close frame from the client.
// StatusGoingAway is not answered, anything else is echoed
// with the farewell reason.
func (m *Machine) handleClose() bool {
	ce, err := parseClosePayload(m.msg.closeBody)
	if err != nil {
		return m.fail(StatusPolicyViolation, reasonStatusRequired)
	}

	if ce.Code != StatusGoingAway {
		m.effects = append(m.effects, Write{
			Frame: encodeCloseFrame(ce.Code, m.cfg.FarewellReason),
			Close: true,
		})
	}
	m.effects = append(m.effects, Terminate{
		Close: ce,
		Peer:  true,
	})
	m.teardown()
	return false
}

// fail closes the connection with the given status code and reason.
// It always returns false so states can return its result.
func (m *Machine) fail(code StatusCode, reason string) bool {
	m.effects = append(m.effects,
		Write{
			Frame: encodeCloseFrame(code, reason),
			Close: true,
		},
		Terminate{
			Close: CloseError{
				Code:   code,
				Reason: reason,
			},
		},
	)
	m.teardown()
	return false
}

func (m *Machine) teardown() {
	m.state = StateClosed
	m.msg = message{}
	m.buf.release()
}
