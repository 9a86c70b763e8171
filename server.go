package sealpir

import (
	"fmt"
	"sync"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/ring"
)

// Query is a compressed encrypted query: exactly one ciphertext per
// dimension of the database matrix, each in the time domain.
type Query []*rlwe.Ciphertext

// Reply is the encrypted protocol response, produced by the final
// recursion dimension. Decryption happens at the client.
type Reply []*rlwe.Ciphertext

// Server holds the encoded database and per-client key material, and
// answers queries without learning the requested index.
//
// Configuration changes (UpdateParameters, SetDatabase, Preprocess) are
// single-writer operations and must not run concurrently with each other
// or with in-flight GenerateReply calls. GenerateReply itself never
// mutates shared state and may run concurrently for any number of
// clients; preprocessing the database first is the recommended operating
// mode as it lifts the shared plaintexts into the evaluation domain once
// instead of once per call.
type Server struct {
	mu           sync.RWMutex
	params       Parameters
	db           []*rlwe.Plaintext
	preprocessed bool

	keys *keyStore
	eval *rlwe.Evaluator
}

// NewServer creates a new PIR server with the given parameters and no
// database.
func NewServer(p Parameters) *Server {
	return &Server{
		params: p,
		keys:   newKeyStore(),
		eval:   rlwe.NewEvaluator(p, nil),
	}
}

// Parameters returns the live parameter snapshot.
func (s *Server) Parameters() Parameters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// UpdateParameters replaces the parameter snapshot. Only the plaintext
// modulus and the dimension vector may change; a different ring degree or
// modulus chain is rejected with [ErrIncompatibleParameters] and leaves
// the previous configuration intact. A successful update invalidates the
// preprocessing cache and re-stamps all registered keys, which remain
// valid since the key-bearing fields did not change.
func (s *Server) UpdateParameters(p Parameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.params.structuralEqual(&p) {
		return fmt.Errorf("%w: ring degree and modulus chain cannot change", ErrIncompatibleParameters)
	}

	s.params = p
	s.eval = rlwe.NewEvaluator(p, nil)
	s.preprocessed = false
	s.keys.retag(p.Fingerprint())
	return nil
}

// SetDatabase replaces the database with db, whose length must equal the
// product of the dimension vector. Ownership of db and its plaintexts
// passes to the server; the caller must not retain references. The
// preprocessing cache is invalidated.
func (s *Server) SetDatabase(db []*rlwe.Plaintext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if db == nil {
		return fmt.Errorf("%w: database cannot be nil", ErrInvalidArgument)
	}
	if len(db) != s.params.MatrixPlaintexts() {
		return fmt.Errorf("%w: got %d plaintexts, matrix holds %d", ErrInvalidArgument, len(db), s.params.MatrixPlaintexts())
	}

	s.db = db
	s.preprocessed = false
	return nil
}

// SetDatabaseFromBytes encodes a raw byte buffer of eleNum elements of
// eleSize bytes each through [EncodeDatabase] and installs the result.
func (s *Server) SetDatabaseFromBytes(data []byte, eleNum, eleSize int) error {
	s.mu.RLock()
	p := s.params
	s.mu.RUnlock()

	db, err := EncodeDatabase(p, data, eleNum, eleSize)
	if err != nil {
		return err
	}
	return s.SetDatabase(db)
}

// Preprocess lifts every database plaintext into the evaluation domain
// (NTT and Montgomery form) once. It is idempotent: repeated calls after
// the database has been preprocessed are no-ops. Replacing the database
// or updating parameters clears the preprocessed state.
func (s *Server) Preprocess() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return fmt.Errorf("%w: no database loaded", ErrInvalidArgument)
	}
	if s.preprocessed {
		return nil
	}

	ringQ := s.params.rlweParams.RingQ()
	for _, pt := range s.db {
		plaintextToEvalDomain(ringQ, pt)
	}
	s.preprocessed = true
	return nil
}

// RegisterGaloisKeys installs the automorphism keys for clientID,
// overwriting any previous registration, and stamps them with the current
// parameter version. The key set must cover every galois element returned
// by [Parameters.GaloisElements].
func (s *Server) RegisterGaloisKeys(clientID uint32, keys []*rlwe.GaloisKey) error {
	s.mu.RLock()
	p := s.params
	s.mu.RUnlock()

	if len(keys) == 0 {
		return fmt.Errorf("%w: empty galois key set", ErrInvalidArgument)
	}

	have := make(map[uint64]bool, len(keys))
	for _, key := range keys {
		if key == nil {
			return fmt.Errorf("%w: nil galois key", ErrInvalidArgument)
		}
		have[key.GaloisElement] = true
	}
	for _, galEl := range p.GaloisElements() {
		if !have[galEl] {
			return fmt.Errorf("%w: key set lacks galois element %d", ErrInvalidArgument, galEl)
		}
	}

	s.keys.set(clientID, rlwe.NewMemEvaluationKeySet(nil, keys...), p.Fingerprint())
	return nil
}

// RevokeGaloisKeys removes the key material registered for clientID, if
// any.
func (s *Server) RevokeGaloisKeys(clientID uint32) {
	s.keys.delete(clientID)
}

// Clients returns the identifiers with registered key material, sorted.
func (s *Server) Clients() []uint32 {
	return s.keys.clients()
}

// GenerateReply answers query for clientID. For each dimension it expands
// the compressed ciphertext into an encrypted one-hot vector, reduces the
// current virtual database against it by homomorphic inner products, and,
// except at the last dimension, decomposes the result ciphertexts into
// the plaintexts seeding the next dimension. Intermediate virtual
// databases are owned by the call; the shared database is only ever read.
func (s *Server) GenerateReply(query Query, clientID uint32) (Reply, error) {

	s.mu.RLock()
	p, db, preprocessed, eval := s.params, s.db, s.preprocessed, s.eval
	s.mu.RUnlock()

	if db == nil {
		return nil, fmt.Errorf("%w: no database loaded", ErrInvalidArgument)
	}
	if len(query) != p.Dimensions() {
		return nil, fmt.Errorf("%w: got %d ciphertexts for %d dimensions", ErrMalformedQuery, len(query), p.Dimensions())
	}

	maxLevel := p.rlweParams.MaxLevel()
	for i, ct := range query {
		if ct == nil || ct.Degree() != 1 || ct.Level() != maxLevel || ct.IsNTT {
			return nil, fmt.Errorf("%w: dimension %d expects a fresh degree-1 time-domain ciphertext", ErrMalformedQuery, i)
		}
	}

	evk, err := s.keys.lookup(clientID, p.Fingerprint())
	if err != nil {
		return nil, err
	}
	eval = eval.ShallowCopy().WithKey(evk)

	ringQ := p.rlweParams.RingQ()
	product := p.MatrixPlaintexts()
	cur := db

	for i, n := range p.nvec {

		expanded, err := expandQuery(p, eval, query[i], n)
		if err != nil {
			return nil, err
		}
		for _, ct := range expanded {
			ctToNTT(ringQ, ct)
		}

		// The first dimension reads the shared database directly when it
		// is preprocessed; otherwise it transforms an owned copy. Later
		// dimensions own their virtual database outright.
		if i > 0 {
			for _, pt := range cur {
				plaintextToEvalDomain(ringQ, pt)
			}
		} else if !preprocessed {
			owned := make([]*rlwe.Plaintext, len(cur))
			for j, pt := range cur {
				owned[j] = pt.CopyNew()
				plaintextToEvalDomain(ringQ, owned[j])
			}
			cur = owned
		}

		if len(cur) != product || product%n != 0 {
			return nil, fmt.Errorf("%w: virtual database of %d plaintexts cannot split into columns of %d", ErrInternal, len(cur), n)
		}
		if !expanded[0].IsNTT || !cur[0].IsNTT || !cur[0].IsMontgomery {
			return nil, fmt.Errorf("%w: domain mismatch entering dimension %d", ErrInternal, i)
		}
		product /= n

		// Inner product of the n expanded ciphertexts with each of the
		// product columns {cur[k + j*product] : j in [0, n)}.
		results := make([]*rlwe.Ciphertext, product)
		for k := 0; k < product; k++ {
			acc := rlwe.NewCiphertext(p, 1, maxLevel)
			mulPlain(ringQ, expanded[0], cur[k], acc, false)
			for j := 1; j < n; j++ {
				mulPlain(ringQ, expanded[j], cur[k+j*product], acc, true)
			}
			results[k] = acc
		}

		for _, ct := range results {
			ctFromNTT(ringQ, ct)
		}

		if i == len(p.nvec)-1 {
			return results, nil
		}

		next := make([]*rlwe.Plaintext, 0, p.expansionRatio*product)
		for _, ct := range results {
			pts := decomposeCiphertext(p, ct)
			if len(pts) != p.expansionRatio {
				return nil, fmt.Errorf("%w: ciphertext decomposed into %d plaintexts, expected %d", ErrInternal, len(pts), p.expansionRatio)
			}
			next = append(next, pts...)
		}
		cur = next
		product *= p.expansionRatio
	}

	return nil, fmt.Errorf("%w: recursion left the final dimension without a reply", ErrInternal)
}

// plaintextToEvalDomain lifts pt into NTT and Montgomery form in place.
func plaintextToEvalDomain(ringQ *ring.Ring, pt *rlwe.Plaintext) {
	ringQ.NTT(pt.Value, pt.Value)
	ringQ.MForm(pt.Value, pt.Value)
	pt.IsNTT = true
	pt.IsMontgomery = true
}

func ctToNTT(ringQ *ring.Ring, ct *rlwe.Ciphertext) {
	for i := range ct.Value {
		ringQ.NTT(ct.Value[i], ct.Value[i])
	}
	ct.IsNTT = true
}

func ctFromNTT(ringQ *ring.Ring, ct *rlwe.Ciphertext) {
	for i := range ct.Value {
		ringQ.INTT(ct.Value[i], ct.Value[i])
	}
	ct.IsNTT = false
}

// mulPlain evaluates acc = ct * pt, or acc += ct * pt when accumulate is
// set, component-wise in the frequency domain. pt must be in Montgomery
// form.
func mulPlain(ringQ *ring.Ring, ct *rlwe.Ciphertext, pt *rlwe.Plaintext, acc *rlwe.Ciphertext, accumulate bool) {
	if accumulate {
		for i := range ct.Value {
			ringQ.MulCoeffsMontgomeryThenAdd(ct.Value[i], pt.Value, acc.Value[i])
		}
		return
	}
	for i := range ct.Value {
		ringQ.MulCoeffsMontgomery(ct.Value[i], pt.Value, acc.Value[i])
	}
	*acc.MetaData = *ct.MetaData
}
