package sealpir

import (
	"math/bits"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
)

// decomposeCiphertext converts one time-domain ciphertext into the
// sequence of plaintexts that re-seeds the next recursion dimension. Each
// ciphertext polynomial splits, per modulus of the chain, into chunks of
// logT bits extracted by shifting every coefficient right by 0, logT,
// 2*logT, ... and masking with T-1. The total count equals
// [Parameters.ExpansionRatio].
func decomposeCiphertext(p Parameters, ct *rlwe.Ciphertext) []*rlwe.Plaintext {

	logT := p.logT
	mask := p.t - 1
	moduli := p.rlweParams.Q()[:ct.Level()+1]
	N := p.N()

	out := make([]*rlwe.Plaintext, 0, p.expansionRatio)

	for _, poly := range ct.Value {
		for j, qj := range moduli {
			logQj := bits.Len64(qj) - 1
			ratio := (logQj + logT - 1) / logT

			coeffs := poly.Coeffs[j]
			shift := 0
			for k := 0; k < ratio; k++ {
				pt := rlwe.NewPlaintext(p, p.rlweParams.MaxLevel())
				for row := range pt.Value.Coeffs {
					dst := pt.Value.Coeffs[row]
					for m := 0; m < N; m++ {
						dst[m] = (coeffs[m] >> uint(shift)) & mask
					}
				}
				shift += logT
				out = append(out, pt)
			}
		}
	}

	return out
}
