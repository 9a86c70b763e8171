package sealpir

import (
	"fmt"
	"math/bits"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/ring"
)

// expandQuery obliviously expands one compressed time-domain ciphertext
// into m ciphertexts forming a one-hot selection vector: if the input
// encrypts X^i, output i encrypts 2^Ceil(Log2(m)) and every other output
// encrypts 0. The client divides the scale out after decryption.
//
// The expansion doubles the working list once per level: each ciphertext
// c spawns c + automorphism(c) and a negacyclic-shifted copy of the same
// sum, so that coefficient i of the input migrates to the constant term
// of output i. When m is not a power of two, the slots of the final
// level whose index lands beyond m's real range are finished with a
// plain multiplication by 2 instead, and the list is truncated to m.
func expandQuery(p Parameters, eval *rlwe.Evaluator, ct *rlwe.Ciphertext, m int) ([]*rlwe.Ciphertext, error) {

	if m == 1 {
		return []*rlwe.Ciphertext{ct.CopyNew()}, nil
	}

	logm := bits.Len(uint(m - 1))
	N := p.N()
	twoN := N << 1
	level := ct.Level()
	ringQ := p.rlweParams.RingQ().AtLevel(level)

	galEls := p.GaloisElements()
	if len(galEls) < logm {
		return nil, fmt.Errorf("%w: dimension size %d exceeds the galois element schedule", ErrInternal, m)
	}
	for _, galEl := range galEls[:logm] {
		if _, err := eval.CheckAndGetGaloisKey(galEl); err != nil {
			return nil, fmt.Errorf("%w: no key for galois element %d", ErrMissingKey, galEl)
		}
	}

	temp := []*rlwe.Ciphertext{ct.CopyNew()}
	rotated := rlwe.NewCiphertext(p, 1, level)

	for i := 0; i < logm-1; i++ {
		indexRaw := twoN - (1 << i)
		index := (indexRaw * int(galEls[i])) % twoN

		next := make([]*rlwe.Ciphertext, len(temp)<<1)
		for a := range temp {
			if err := eval.Automorphism(temp[a], galEls[i], rotated); err != nil {
				return nil, fmt.Errorf("%w: automorphism with galois element %d: %v", ErrInternal, galEls[i], err)
			}

			sum := rlwe.NewCiphertext(p, 1, level)
			addCiphertexts(ringQ, temp[a], rotated, sum)
			next[a] = sum

			shifted := rlwe.NewCiphertext(p, 1, level)
			shiftedRotated := rlwe.NewCiphertext(p, 1, level)
			mulPowerOfX(ringQ, temp[a], indexRaw, shifted)
			mulPowerOfX(ringQ, rotated, index, shiftedRotated)
			addCiphertexts(ringQ, shifted, shiftedRotated, shifted)
			next[a+len(temp)] = shifted
		}
		temp = next
	}

	// Final level. Slots at index >= m - 2^(logm-1) are padding when m is
	// not a power of two: they are doubled in place and spawn no second
	// child, so the truncation to m never drops a real slot.
	half := 1 << (logm - 1)
	corner := m - half
	indexRaw := twoN - half
	index := (indexRaw * int(galEls[logm-1])) % twoN

	out := make([]*rlwe.Ciphertext, m)
	for a := range temp {
		if a >= corner {
			doubled := rlwe.NewCiphertext(p, 1, level)
			for i := range doubled.Value {
				ringQ.MulScalar(temp[a].Value[i], 2, doubled.Value[i])
			}
			*doubled.MetaData = *temp[a].MetaData
			out[a] = doubled
			continue
		}

		if err := eval.Automorphism(temp[a], galEls[logm-1], rotated); err != nil {
			return nil, fmt.Errorf("%w: automorphism with galois element %d: %v", ErrInternal, galEls[logm-1], err)
		}

		sum := rlwe.NewCiphertext(p, 1, level)
		addCiphertexts(ringQ, temp[a], rotated, sum)
		out[a] = sum

		shifted := rlwe.NewCiphertext(p, 1, level)
		shiftedRotated := rlwe.NewCiphertext(p, 1, level)
		mulPowerOfX(ringQ, temp[a], indexRaw, shifted)
		mulPowerOfX(ringQ, rotated, index, shiftedRotated)
		addCiphertexts(ringQ, shifted, shiftedRotated, shifted)
		out[a+half] = shifted
	}

	return out, nil
}

// addCiphertexts evaluates out = a + b component-wise. All three must
// share the same domain.
func addCiphertexts(ringQ *ring.Ring, a, b, out *rlwe.Ciphertext) {
	for i := range out.Value {
		ringQ.Add(a.Value[i], b.Value[i], out.Value[i])
	}
	*out.MetaData = *a.MetaData
}

// mulPowerOfX evaluates out = ct * X^k, the negacyclic coefficient
// rotation. ct must be in the time domain.
func mulPowerOfX(ringQ *ring.Ring, ct *rlwe.Ciphertext, k int, out *rlwe.Ciphertext) {
	for i := range ct.Value {
		ringQ.MultByMonomial(ct.Value[i], k, out.Value[i])
	}
	*out.MetaData = *ct.MetaData
}
