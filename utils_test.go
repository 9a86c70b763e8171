package sealpir

import (
	"fmt"
	"math/big"
	"math/bits"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/ring"
)

// NTT-friendly moduli for LogN up to 14, borrowed widths: one 46-bit and
// one 36-bit prime. Insecure, used for the sole purpose of fast testing.
var (
	testQ = []uint64{0x200000440001, 0x800280001}
	testP = []uint64{0x3ffffffb80001}

	testParamsSingleDim = ParametersLiteral{
		LogN: 12,
		Q:    testQ,
		P:    testP,
		T:    786433, // 20-bit prime
		NVec: []int{8},
	}

	testParamsTwoDim = ParametersLiteral{
		LogN: 12,
		Q:    testQ,
		P:    testP,
		T:    1 << 20,
		NVec: []int{4, 4},
	}
)

// queryScale is the coefficient value test clients place at the selected
// slot of a query plaintext. It must be large enough to dominate the
// evaluation noise and small enough that scale * 2^logm * T stays well
// below Q/2.
const queryScale = uint64(1) << 50

type testContext struct {
	params Parameters
	ringQ  *ring.Ring
	kgen   *rlwe.KeyGenerator
	sk     *rlwe.SecretKey
	enc    *rlwe.Encryptor
	dec    *rlwe.Decryptor
}

func newTestContext(t require.TestingT, pl ParametersLiteral) *testContext {
	params, err := NewParametersFromLiteral(pl)
	require.NoError(t, err)

	kgen := rlwe.NewKeyGenerator(params)
	sk := kgen.GenSecretKeyNew()

	return &testContext{
		params: params,
		ringQ:  params.rlweParams.RingQ(),
		kgen:   kgen,
		sk:     sk,
		enc:    rlwe.NewEncryptor(params, sk),
		dec:    rlwe.NewDecryptor(params, sk),
	}
}

func (tc *testContext) galoisKeys() []*rlwe.GaloisKey {
	return tc.kgen.GenGaloisKeysNew(tc.params.GaloisElements(), tc.sk)
}

func testString(p Parameters, opname string) string {
	return fmt.Sprintf("%s/LogN=%d/LogT=%d/Dims=%d", opname, p.LogN(), p.LogT(), p.Dimensions())
}

// computeIndices maps a plaintext index of the flat database onto the
// per-dimension indices a client selects, most significant dimension
// first.
func computeIndices(p Parameters, ptIdx int) []int {
	product := p.MatrixPlaintexts()
	indices := make([]int, 0, p.Dimensions())
	for _, n := range p.NVec() {
		product /= n
		indices = append(indices, ptIdx/product)
		ptIdx %= product
	}
	return indices
}

// newTestQuery encrypts, for each dimension, a plaintext holding
// queryScale at the selected coefficient and 0 everywhere else.
func (tc *testContext) newTestQuery(t *testing.T, indices []int) Query {
	q := make(Query, len(indices))
	for d, idx := range indices {
		pt := rlwe.NewPlaintext(tc.params, tc.params.rlweParams.MaxLevel())
		for j, qj := range tc.params.rlweParams.Q() {
			pt.Value.Coeffs[j][idx] = queryScale % qj
		}
		ct, err := tc.enc.EncryptNew(pt)
		require.NoError(t, err)
		q[d] = ct
	}
	return q
}

// decryptToCoeffs decrypts ct and divides every coefficient by scale
// with rounding, recovering the raw plaintext polynomial the reply
// encrypts. No modular reduction happens here: packed chunks are
// logT-bit values that may equal or exceed a prime T, and the scaled
// coefficients sit far below Q/2, so the rounded quotient is already
// exact.
func (tc *testContext) decryptToCoeffs(ct *rlwe.Ciphertext, scale *big.Int) []uint64 {
	pt := tc.dec.DecryptNew(ct)
	if pt.IsNTT {
		tc.ringQ.AtLevel(ct.Level()).INTT(pt.Value, pt.Value)
	}

	N := tc.params.N()
	centered := make([]*big.Int, N)
	for i := range centered {
		centered[i] = new(big.Int)
	}
	tc.ringQ.AtLevel(ct.Level()).PolyToBigintCentered(pt.Value, 1, centered)

	twoScale := new(big.Int).Lsh(scale, 1)

	out := make([]uint64, N)
	for i, c := range centered {
		v := new(big.Int).Lsh(c, 1)
		v.Add(v, scale)
		v.Div(v, twoScale)
		out[i] = v.Uint64()
	}
	return out
}

// recomposeCiphertext rebuilds the first-dimension ciphertext from the
// per-chunk coefficient vectors a client decodes out of a reply,
// inverting the server-side decomposition.
func (tc *testContext) recomposeCiphertext(chunks [][]uint64) *rlwe.Ciphertext {
	p := tc.params
	logT := p.LogT()
	ct := rlwe.NewCiphertext(p, 1, p.rlweParams.MaxLevel())

	idx := 0
	for c := range ct.Value {
		for j, qj := range p.rlweParams.Q() {
			logQj := bits.Len64(qj) - 1
			ratio := (logQj + logT - 1) / logT
			row := ct.Value[c].Coeffs[j]
			for k := 0; k < ratio; k++ {
				chunk := chunks[idx]
				idx++
				for m := range row {
					row[m] |= chunk[m] << uint(k*logT)
				}
			}
		}
	}
	return ct
}

// decodeElement slices one element out of the continuous logT-bit stream
// a plaintext packs. Elements are not coefficient aligned unless logT
// divides 8*eleSize, so the stream is decoded to bytes before slicing at
// the element's byte offset.
func decodeElement(logT int, coeffs []uint64, slot, eleSize int) []byte {
	stream := coeffsToBytes(logT, coeffs, (slot+1)*eleSize)
	return stream[slot*eleSize:]
}

// coeffsToBytes inverts the packing of bytesToCoeffs: logT-bit groups in
// stream order, most significant bit first.
func coeffsToBytes(logT int, coeffs []uint64, size int) []byte {
	out := make([]byte, size)
	bit := 0
	for _, c := range coeffs {
		for k := logT - 1; k >= 0 && bit < 8*size; k-- {
			if (c>>uint(k))&1 == 1 {
				out[bit/8] |= 1 << uint(7-bit%8)
			}
			bit++
		}
	}
	return out
}

// testDatabase builds a deterministic byte buffer of eleNum elements of
// eleSize bytes each.
func testDatabase(eleNum, eleSize int) []byte {
	data := make([]byte, eleNum*eleSize)
	for i := range data {
		data[i] = byte((i*31 + i/eleSize) & 0xFF)
	}
	return data
}
