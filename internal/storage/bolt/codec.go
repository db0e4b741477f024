package bolt

import (
	"encoding/binary"
	"hash/crc32"
	"math"

	"github.com/xtxerr/featstore/internal/errors"
	"github.com/xtxerr/featstore/internal/kind"
)

// Payload frame layout, little endian:
//
//	[1]  version
//	[1]  rank (1 or 2)
//	[4]  rows
//	[4]  cols
//	[8*] values, row major
//	[4]  crc32 (Castagnoli) over everything above
//
// The trailing checksum catches torn writes and bit rot; a frame that
// does not verify is reported as corruption, never silently truncated.

const frameVersion = 1

const frameHeaderLen = 1 + 1 + 4 + 4

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// encodePayload serializes a payload into a checksummed frame.
func encodePayload(p kind.Payload) []byte {
	rank := p.Rank()
	var rows, cols int
	var values []float64

	if rank == 1 {
		cols = len(p.Values1D)
		values = p.Values1D
	} else {
		rows, cols = p.Rows(), p.Cols()
		values = make([]float64, 0, rows*cols)
		for _, r := range p.Values2D {
			values = append(values, r...)
		}
	}

	buf := make([]byte, frameHeaderLen+8*len(values)+4)
	buf[0] = frameVersion
	buf[1] = byte(rank)
	binary.LittleEndian.PutUint32(buf[2:], uint32(rows))
	binary.LittleEndian.PutUint32(buf[6:], uint32(cols))

	off := frameHeaderLen
	for _, v := range values {
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(v))
		off += 8
	}

	crc := crc32.Checksum(buf[:off], crcTable)
	binary.LittleEndian.PutUint32(buf[off:], crc)
	return buf
}

// decodePayload verifies and deserializes a frame.
func decodePayload(buf []byte) (kind.Payload, error) {
	if len(buf) < frameHeaderLen+4 {
		return kind.Payload{}, errors.Wrapf(errors.ErrCorruptPayload,
			"payload frame truncated: %d bytes", len(buf))
	}

	body, tail := buf[:len(buf)-4], buf[len(buf)-4:]
	if got, want := crc32.Checksum(body, crcTable), binary.LittleEndian.Uint32(tail); got != want {
		return kind.Payload{}, errors.Wrapf(errors.ErrCorruptPayload,
			"payload frame checksum mismatch: %08x != %08x", got, want)
	}

	if buf[0] != frameVersion {
		return kind.Payload{}, errors.Wrapf(errors.ErrCorruptPayload,
			"unknown payload frame version %d", buf[0])
	}
	rank := int(buf[1])
	rows := int(binary.LittleEndian.Uint32(buf[2:]))
	cols := int(binary.LittleEndian.Uint32(buf[6:]))

	n := cols
	if rank == 2 {
		n = rows * cols
	}
	if len(body) != frameHeaderLen+8*n {
		return kind.Payload{}, errors.Wrapf(errors.ErrCorruptPayload,
			"payload frame length %d does not match shape %dx%d", len(body), rows, cols)
	}

	values := make([]float64, n)
	off := frameHeaderLen
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(body[off:]))
		off += 8
	}

	switch rank {
	case 1:
		return kind.Payload1D(values), nil
	case 2:
		grid := make([][]float64, rows)
		for i := range grid {
			grid[i] = values[i*cols : (i+1)*cols : (i+1)*cols]
		}
		return kind.Payload2D(grid), nil
	default:
		return kind.Payload{}, errors.Wrapf(errors.ErrCorruptPayload,
			"payload frame rank %d", rank)
	}
}
