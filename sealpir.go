/*
Package sealpir implements the server side of a multi-dimensional Private
Information Retrieval (PIR) protocol over the Lattigo RLWE backend.

The server holds a database encoded as a matrix of plaintext polynomials,
shaped by a dimension vector. A client sends one compressed ciphertext per
dimension; the server obliviously expands each of them into an encrypted
one-hot selection vector using galois automorphisms, reduces the database
against the vector dimension by dimension, and returns the final
ciphertexts. The server only ever performs encrypted-domain arithmetic:
it never decrypts and never learns the requested index.

Key generation, encryption and decryption are the client's side of the
protocol and are provided by github.com/tuneinsight/lattigo/v6; this
package consumes them opaquely through galois keys registered per client.
*/
package sealpir
