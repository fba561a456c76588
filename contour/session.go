package contour

import (
	"context"
	"fmt"
)

// SessionState is one of the four phases the Contour dialect's session negotiates.
type SessionState uint8

const (
	// StateEstablish is the initial phase: negotiate ENQ/ACK before any data flows.
	StateEstablish SessionState = iota
	// StateData is entered once established; Sync yields records until EOT.
	StateData
	// StatePreCommand is entered after EOT; EnsureCommand advances it to StateCommand.
	StatePreCommand
	// StateCommand accepts SendCommand calls.
	StateCommand
)

// String renders the state for diagnostics.
func (s SessionState) String() string {
	switch s {
	case StateEstablish:
		return "Establish"
	case StateData:
		return "Data"
	case StatePreCommand:
		return "PreCommand"
	case StateCommand:
		return "Command"
	default:
		return "Unknown"
	}
}

// Session drives the Contour ASTM session state machine over a Channel. It owns the channel, the
// frame-recno expectation, and the establishment nonce. Not goroutine-safe: one Session serves one
// transfer, mirroring the original driver's single-threaded model.
type Session struct {
	ch            *Channel
	state         SessionState
	expectedRecno uint8
	foo           byte // churning nonce written on NAK during establishment; see DESIGN.md OQ-2
}

// NewSession wraps ch in a fresh Session in the Establish state.
func NewSession(ch *Channel) *Session {
	return &Session{ch: ch, state: StateEstablish, expectedRecno: notSynchronized}
}

// State reports the session's current phase.
func (s *Session) State() SessionState { return s.state }

// Sync drives one step of the state machine and returns the next frame's text payload. ok is false
// and err is nil exactly when the stream has reached end-of-stream (EOT observed in Data, or an L
// terminator record); err is non-nil on any transport or protocol failure. For a frame that fails
// to parse, NAK has already been written to the meter per the "NAK-before-propagate" contract;
// transport errors are returned without writing NAK.
func (s *Session) Sync(ctx context.Context) (text []byte, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	switch s.state {
	case StateEstablish:
		return s.syncEstablish(ctx)
	case StateData:
		return s.syncData(ctx)
	default:
		return nil, false, fmt.Errorf("contour: Sync called in state %v", s.state)
	}
}

func (s *Session) syncEstablish(ctx context.Context) ([]byte, bool, error) {
	if err := s.ch.WriteByte(enq); err != nil {
		return nil, false, err
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		block, err := s.ch.ReadBlock()
		if err != nil {
			return nil, false, err
		}
		last := lastByte(block)
		switch last {
		case nak:
			if err := s.ch.WriteByte(s.foo); err != nil {
				return nil, false, err
			}
			s.foo++
		case enq:
			if err := s.ch.WriteByte(ack); err != nil {
				return nil, false, err
			}
			s.expectedRecno = notSynchronized
			s.state = StateData
			return s.syncData(ctx)
		}
	}
}

func (s *Session) syncData(ctx context.Context) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	block, err := s.ch.ReadBlock()
	if err != nil {
		return nil, false, err
	}
	if lastByte(block) == eot {
		s.state = StatePreCommand
		return nil, false, nil
	}

	frame, present, err := parseFrame(block, &s.expectedRecno)
	if err != nil {
		if nakErr := s.ch.WriteByte(nak); nakErr != nil {
			return nil, false, nakErr
		}
		return nil, false, err
	}
	if !present {
		if nakErr := s.ch.WriteByte(nak); nakErr != nil {
			return nil, false, nakErr
		}
		return nil, false, ErrMalformedFrame
	}

	if err := s.ch.WriteByte(ack); err != nil {
		return nil, false, err
	}
	if len(frame.Text) > 0 && frame.Text[0] == 'L' {
		// Message Terminator Record: end of stream, same as an EOT block.
		return nil, false, nil
	}
	return frame.Text, true, nil
}

// EnsureCommand drives the session from any state into StateCommand, ready for SendCommand.
func (s *Session) EnsureCommand(ctx context.Context) error {
	for s.state == StateEstablish || s.state == StateData {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.ch.WriteByte(nak); err != nil {
			return err
		}
		block, err := s.ch.ReadBlock()
		if err != nil {
			return err
		}
		if lastByte(block) == eot {
			s.state = StatePreCommand
			break
		}
	}

	if s.state == StatePreCommand {
		if err := s.ch.WriteByte(enq); err != nil {
			return err
		}
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			block, err := s.ch.ReadBlock()
			if err != nil {
				return err
			}
			if lastByte(block) == ack {
				s.state = StateCommand
				return nil
			}
		}
	}
	return nil
}

// SendCommand writes one command byte and returns the meter's reply payload with its trailing ACK
// byte stripped. A reply that does not end in ACK yields an empty (nil) payload.
func (s *Session) SendCommand(c byte) ([]byte, error) {
	if s.state != StateCommand {
		return nil, fmt.Errorf("contour: SendCommand called in state %v", s.state)
	}
	if err := s.ch.WriteByte(c); err != nil {
		return nil, err
	}
	block, err := s.ch.ReadBlock()
	if err != nil {
		return nil, err
	}
	if lastByte(block) == ack {
		return block[:len(block)-1], nil
	}
	return nil, nil
}

func lastByte(b []byte) byte {
	if len(b) == 0 {
		return 0
	}
	return b[len(b)-1]
}
