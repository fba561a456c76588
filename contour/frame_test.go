package contour

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildFrame assembles STX recno text CR (ETX|ETB) <2-hex checksum> CR LF, computing the checksum
// the way the wire protocol does: sum of bytes from recno through the terminator, inclusive.
func buildFrame(recno byte, text string, terminator byte) []byte {
	var sum uint32
	buf := []byte{stx, '0' + recno}
	sum += uint32('0' + recno)
	buf = append(buf, text...)
	for i := 0; i < len(text); i++ {
		sum += uint32(text[i])
	}
	buf = append(buf, cr)
	sum += uint32(cr)
	buf = append(buf, terminator)
	sum += uint32(terminator)
	checksum := byte(sum & 0xFF)
	buf = append(buf, hexDigitChar(checksum/16), hexDigitChar(checksum%16))
	buf = append(buf, cr, lf)
	return buf
}

func TestParseFrame_ValidChecksum(t *testing.T) {
	expected := notSynchronized
	buf := buildFrame(0, "Hpayload", etx)
	frame, ok, err := parseFrame(buf, &expected)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint8(0), frame.Recno)
	assert.Equal(t, "Hpayload", string(frame.Text))
	assert.Equal(t, etx, frame.Terminator)
	assert.Equal(t, uint8(1), expected)
}

func TestParseFrame_BadChecksum(t *testing.T) {
	expected := notSynchronized
	buf := buildFrame(0, "Hpayload", etx)
	wrong := buf[len(buf)-4] // high checksum digit
	if wrong == '0' {
		buf[len(buf)-4] = '1'
	} else {
		buf[len(buf)-4] = '0'
	}
	_, _, err := parseFrame(buf, &expected)
	var csErr *BadChecksumError
	assert.ErrorAs(t, err, &csErr)
}

func TestParseFrame_NoSTX(t *testing.T) {
	expected := notSynchronized
	frame, ok, err := parseFrame([]byte("no stx here"), &expected)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Frame{}, frame)
}

func TestParseFrame_RecnoAdvancesMod8(t *testing.T) {
	expected := uint8(6)
	buf := buildFrame(6, "x", etb)
	_, ok, err := parseFrame(buf, &expected)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint8(7), expected)

	buf = buildFrame(7, "y", etb)
	_, ok, err = parseFrame(buf, &expected)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint8(0), expected) // wraps mod 8
}

func TestParseFrame_RetransmissionAccepted(t *testing.T) {
	expected := uint8(3)
	buf := buildFrame(2, "retry", etx) // previous recno, not the expected one
	_, ok, err := parseFrame(buf, &expected)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint8(3), expected) // does not advance on a retransmission
}

func TestParseFrame_UnexpectedRecno(t *testing.T) {
	expected := uint8(3)
	buf := buildFrame(5, "oops", etx)
	_, _, err := parseFrame(buf, &expected)
	var recnoErr *BadRecnoError
	assert.ErrorAs(t, err, &recnoErr)
}

func TestParseFrame_MalformedMissingTerminator(t *testing.T) {
	expected := notSynchronized
	buf := []byte{stx, '0'}
	buf = append(buf, "no terminator"...)
	_, _, err := parseFrame(buf, &expected)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}
