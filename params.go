package sealpir

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"slices"

	"github.com/google/go-cmp/cmp"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/zeebo/blake3"
)

// ParametersLiteral is a literal representation of the PIR server
// parameters. It has public fields and is used to express unchecked
// user-defined parameters literally into Go programs. The
// [NewParametersFromLiteral] function is used to generate the actual
// checked parameters from the literal representation.
//
// Users must set the ring degree (LogN) and the ciphertext modulus, by
// either setting the Q and P fields to the desired moduli chain, or by
// setting the LogQ and LogP fields to the desired moduli sizes, as with
// [rlwe.ParametersLiteral]. In addition, T holds the plaintext modulus
// and NVec the dimension vector shaping the database matrix.
type ParametersLiteral struct {
	LogN int
	Q    []uint64 `json:",omitempty"`
	P    []uint64 `json:",omitempty"`
	LogQ []int    `json:",omitempty"`
	LogP []int    `json:",omitempty"`

	// T is the plaintext modulus. Database bytes are packed into
	// coefficients of Ceil(Log2(T)) bits each, so T also fixes the
	// decomposition chunk width.
	T uint64

	// NVec is the per-dimension size of the database matrix. The product
	// of its entries is the total number of plaintext slots.
	NVec []int

	// ExpansionRatio optionally cross-checks the number of plaintexts a
	// ciphertext decomposes into. When non-zero, parameter creation fails
	// if it disagrees with the value derived from T and the modulus
	// chain.
	ExpansionRatio int `json:",omitempty"`
}

// Parameters is an immutable snapshot of the server configuration: the
// RLWE parameters of the HE backend, the plaintext modulus and the PIR
// dimension vector. It is replaced wholesale on update, never mutated.
type Parameters struct {
	rlweParams     rlwe.Parameters
	t              uint64
	logT           int
	nvec           []int
	expansionRatio int
	fingerprint    [32]byte
}

// NewParametersFromLiteral instantiates a checked set of PIR parameters
// from a [ParametersLiteral].
func NewParametersFromLiteral(pl ParametersLiteral) (Parameters, error) {

	rlweParams, err := rlwe.NewParametersFromLiteral(rlwe.ParametersLiteral{
		LogN: pl.LogN,
		Q:    pl.Q,
		P:    pl.P,
		LogQ: pl.LogQ,
		LogP: pl.LogP,
	})
	if err != nil {
		return Parameters{}, fmt.Errorf("cannot NewParametersFromLiteral: %w", err)
	}

	if pl.T < 2 {
		return Parameters{}, fmt.Errorf("%w: plaintext modulus T=%d must be at least 2", ErrInvalidArgument, pl.T)
	}

	for _, qi := range rlweParams.Q() {
		if pl.T >= qi {
			return Parameters{}, fmt.Errorf("%w: plaintext modulus T=%d must be smaller than every ciphertext modulus", ErrInvalidArgument, pl.T)
		}
	}

	if len(pl.NVec) == 0 {
		return Parameters{}, fmt.Errorf("%w: empty dimension vector", ErrInvalidArgument)
	}

	N := rlweParams.N()
	for i, ni := range pl.NVec {
		if ni < 1 || ni > N {
			return Parameters{}, fmt.Errorf("%w: NVec[%d]=%d outside [1, %d]", ErrInvalidArgument, i, ni, N)
		}
	}

	logT := bits.Len64(pl.T - 1)

	p := Parameters{
		rlweParams:     rlweParams,
		t:              pl.T,
		logT:           logT,
		nvec:           slices.Clone(pl.NVec),
		expansionRatio: expansionRatio(rlweParams.Q(), logT),
	}
	p.fingerprint = p.hash()

	// The decomposition ratio is a parameter-derived constant; when the
	// caller supplies its own value the two must agree.
	if pl.ExpansionRatio != 0 && pl.ExpansionRatio != p.expansionRatio {
		return Parameters{}, fmt.Errorf("%w: declared ExpansionRatio=%d, derived %d", ErrInvalidArgument, pl.ExpansionRatio, p.expansionRatio)
	}

	return p, nil
}

// expansionRatio derives the number of plaintexts one degree-1 ciphertext
// decomposes into: its two polynomials each split into Ceil(Floor(Log2(qj))/logT)
// chunks per modulus qj of the chain.
func expansionRatio(moduli []uint64, logT int) (ratio int) {
	for _, qi := range moduli {
		logQi := bits.Len64(qi) - 1
		ratio += (logQi + logT - 1) / logT
	}
	return ratio << 1
}

// GetRLWEParameters returns the underlying [rlwe.Parameters], making
// Parameters an [rlwe.ParameterProvider].
func (p Parameters) GetRLWEParameters() *rlwe.Parameters {
	return &p.rlweParams
}

// N returns the ring degree.
func (p Parameters) N() int {
	return p.rlweParams.N()
}

// LogN returns the base-2 logarithm of the ring degree.
func (p Parameters) LogN() int {
	return p.rlweParams.LogN()
}

// T returns the plaintext modulus.
func (p Parameters) T() uint64 {
	return p.t
}

// LogT returns Ceil(Log2(T)), the number of bits packed into one
// plaintext coefficient and the decomposition chunk width.
func (p Parameters) LogT() int {
	return p.logT
}

// NVec returns a copy of the dimension vector.
func (p Parameters) NVec() []int {
	return slices.Clone(p.nvec)
}

// Dimensions returns the number of dimensions of the database matrix.
func (p Parameters) Dimensions() int {
	return len(p.nvec)
}

// MatrixPlaintexts returns the product of the dimension vector, i.e. the
// exact number of plaintexts the encoded database holds.
func (p Parameters) MatrixPlaintexts() int {
	prod := 1
	for _, ni := range p.nvec {
		prod *= ni
	}
	return prod
}

// ExpansionRatio returns the number of plaintexts one reply ciphertext
// decomposes into between recursion dimensions.
func (p Parameters) ExpansionRatio() int {
	return p.expansionRatio
}

// GaloisElements returns the galois elements a client must generate keys
// for so that the server can expand its queries: (N + 2^i) / 2^i for
// every level i of the binary expansion of the largest dimension.
func (p Parameters) GaloisElements() []uint64 {
	var logm int
	for _, ni := range p.nvec {
		if l := bits.Len(uint(ni - 1)); l > logm {
			logm = l
		}
	}

	N := p.N()
	galEls := make([]uint64, logm)
	for i := range galEls {
		galEls[i] = uint64((N + (1 << i)) / (1 << i))
	}
	return galEls
}

// Fingerprint returns a digest of the full parameter set. Galois keys are
// stamped with it at registration time; keys whose stamp disagrees with
// the live parameters are unusable.
func (p Parameters) Fingerprint() [32]byte {
	return p.fingerprint
}

// Equal compares two parameter snapshots for equality.
func (p Parameters) Equal(other *Parameters) bool {
	return p.rlweParams.Equal(&other.rlweParams) &&
		p.t == other.t &&
		cmp.Equal(p.nvec, other.nvec)
}

// structuralEqual reports whether the fields a parameter update must not
// change (ring degree, modulus chain) agree between the two sets.
func (p Parameters) structuralEqual(other *Parameters) bool {
	return p.rlweParams.LogN() == other.rlweParams.LogN() &&
		slices.Equal(p.rlweParams.Q(), other.rlweParams.Q()) &&
		slices.Equal(p.rlweParams.P(), other.rlweParams.P())
}

func (p Parameters) hash() [32]byte {
	h := blake3.New()

	buf := make([]byte, 8)
	write := func(v uint64) {
		binary.LittleEndian.PutUint64(buf, v)
		h.Write(buf)
	}

	write(uint64(p.rlweParams.LogN()))
	for _, qi := range p.rlweParams.Q() {
		write(qi)
	}
	for _, pi := range p.rlweParams.P() {
		write(pi)
	}
	write(p.t)
	for _, ni := range p.nvec {
		write(uint64(ni))
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
