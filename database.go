package sealpir

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
)

// coefficientsPerElement returns the number of logT-bit coefficients
// needed to hold eleSize bytes.
func coefficientsPerElement(logT, eleSize int) int {
	return (8*eleSize + logT - 1) / logT
}

// elementsPerPlaintext returns how many eleSize-byte elements fit into a
// single degree-N plaintext.
func elementsPerPlaintext(logT, N, eleSize int) int {
	return N / coefficientsPerElement(logT, eleSize)
}

// plaintextsPerDatabase returns the number of plaintexts needed to hold
// eleNum elements of eleSize bytes, before matrix padding.
func plaintextsPerDatabase(logT, N, eleNum, eleSize int) int {
	perPtxt := elementsPerPlaintext(logT, N, eleSize)
	return (eleNum + perPtxt - 1) / perPtxt
}

// bytesToCoeffs slices the byte stream into logT-bit groups, in stream
// order, most significant bit first. The last coefficient is
// left-justified within its logT bits.
func bytesToCoeffs(logT int, data []byte) []uint64 {
	coeffs := make([]uint64, coefficientsPerElement(logT, len(data)))

	idx, room := 0, logT
	for _, b := range data {
		src, rest := b, 8
		for rest > 0 {
			if room == 0 {
				idx++
				room = logT
			}
			shift := rest
			if room < rest {
				shift = room
			}
			coeffs[idx] <<= uint(shift)
			coeffs[idx] |= uint64(src >> (8 - shift))
			src <<= uint(shift)
			room -= shift
			rest -= shift
		}
	}
	coeffs[idx] <<= uint(room)

	return coeffs
}

// EncodeDatabase packs a raw byte buffer of eleNum elements, each exactly
// eleSize bytes, into the sequence of plaintexts filling the database
// matrix of p. Coefficients beyond the real data, whether from a partial
// final plaintext or from whole-plaintext matrix padding, hold the
// sentinel value 1; decoders must strip trailing 1-valued coefficients.
//
// EncodeDatabase returns [ErrCapacityExceeded] if the data requires more
// plaintexts than the dimension vector provides.
func EncodeDatabase(p Parameters, data []byte, eleNum, eleSize int) ([]*rlwe.Plaintext, error) {

	if len(data) == 0 || eleNum < 1 || eleSize < 1 {
		return nil, fmt.Errorf("%w: empty database", ErrInvalidArgument)
	}

	if len(data) != eleNum*eleSize {
		return nil, fmt.Errorf("%w: got %d bytes, expected %d elements of %d bytes", ErrInvalidArgument, len(data), eleNum, eleSize)
	}

	logT, N := p.LogT(), p.N()

	if coefficientsPerElement(logT, eleSize) > N {
		return nil, fmt.Errorf("%w: a %d-byte element does not fit into a single plaintext", ErrInvalidArgument, eleSize)
	}

	matrixPlaintexts := p.MatrixPlaintexts()

	if total := plaintextsPerDatabase(logT, N, eleNum, eleSize); total > matrixPlaintexts {
		return nil, fmt.Errorf("%w: %d elements of %d bytes require %d plaintexts, matrix holds %d", ErrCapacityExceeded, eleNum, eleSize, total, matrixPlaintexts)
	}

	bytesPerPtxt := elementsPerPlaintext(logT, N, eleSize) * eleSize

	db := make([]*rlwe.Plaintext, 0, matrixPlaintexts)

	for offset := 0; offset < len(data); offset += bytesPerPtxt {
		end := offset + bytesPerPtxt
		if end > len(data) {
			end = len(data)
		}
		db = append(db, encodeCoeffs(p, bytesToCoeffs(logT, data[offset:end])))
	}

	// Pad the matrix with all-1 plaintexts.
	for len(db) < matrixPlaintexts {
		db = append(db, encodeCoeffs(p, nil))
	}

	return db, nil
}

// encodeCoeffs lifts plaintext coefficients into a fresh [rlwe.Plaintext]
// in the time domain, padding unused coefficients with 1.
func encodeCoeffs(p Parameters, coeffs []uint64) *rlwe.Plaintext {
	pt := rlwe.NewPlaintext(p, p.rlweParams.MaxLevel())
	N := p.N()
	for j := range pt.Value.Coeffs {
		row := pt.Value.Coeffs[j]
		for i := 0; i < N; i++ {
			if i < len(coeffs) {
				row[i] = coeffs[i]
			} else {
				row[i] = 1
			}
		}
	}
	return pt
}
