// Package crypto seals offsite snapshot copies with a passphrase-derived
// AES-256-GCM key. The stream is split into chunks; each chunk binds its
// index and a final flag as associated data, so reordering or truncation is
// detected on read.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	KeySize    = 32
	SaltSize   = 16
	ChunkSize  = 64 * 1024
	Iterations = 210_000
	MagicBytes = "ERPT"
	Version    = 1
)

var (
	ErrNoPassphrase = errors.New("encryption passphrase is empty")
	ErrTampered     = errors.New("decryption failed: wrong passphrase or tampered data")
	ErrTruncated    = errors.New("encrypted stream ended before its final chunk")
)

// DeriveKey stretches passphrase with PBKDF2-SHA256.
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, Iterations, KeySize, sha256.New)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func chunkAAD(index uint64, final bool) []byte {
	aad := make([]byte, 9)
	binary.BigEndian.PutUint64(aad, index)
	if final {
		aad[8] = 1
	}
	return aad
}

type encryptWriter struct {
	w     io.Writer
	aead  cipher.AEAD
	buf   []byte
	index uint64
	err   error
}

// NewEncryptWriter writes the header to w and returns a writer that seals
// everything written to it. Close emits the final chunk; it does not close w.
func NewEncryptWriter(w io.Writer, passphrase string) (io.WriteCloser, error) {
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	aead, err := newAEAD(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}

	header := append([]byte(MagicBytes), Version)
	header = append(header, salt...)
	if _, err := w.Write(header); err != nil {
		return nil, err
	}
	return &encryptWriter{w: w, aead: aead, buf: make([]byte, 0, ChunkSize)}, nil
}

func (ew *encryptWriter) Write(p []byte) (int, error) {
	if ew.err != nil {
		return 0, ew.err
	}
	n := len(p)
	for len(p) > 0 {
		take := min(ChunkSize-len(ew.buf), len(p))
		ew.buf = append(ew.buf, p[:take]...)
		p = p[take:]
		if len(ew.buf) == ChunkSize {
			if err := ew.seal(false); err != nil {
				ew.err = err
				return 0, err
			}
		}
	}
	return n, nil
}

// seal writes [len(4)][nonce][ciphertext] for the buffered plaintext.
func (ew *encryptWriter) seal(final bool) error {
	nonce := make([]byte, ew.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	sealed := ew.aead.Seal(nonce, nonce, ew.buf, chunkAAD(ew.index, final))

	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(sealed)))
	if _, err := ew.w.Write(size[:]); err != nil {
		return err
	}
	if _, err := ew.w.Write(sealed); err != nil {
		return err
	}
	ew.index++
	ew.buf = ew.buf[:0]
	return nil
}

func (ew *encryptWriter) Close() error {
	if ew.err != nil {
		return ew.err
	}
	ew.err = ew.seal(true)
	if ew.err != nil {
		return ew.err
	}
	ew.err = errors.New("encrypt writer closed")
	return nil
}

type decryptReader struct {
	r     io.Reader
	aead  cipher.AEAD
	buf   []byte
	index uint64
	done  bool
}

// NewDecryptReader reads and checks the header from r, then returns a
// reader yielding the plaintext.
func NewDecryptReader(r io.Reader, passphrase string) (io.Reader, error) {
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}
	head := make([]byte, len(MagicBytes)+1+SaltSize)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fmt.Errorf("failed to read encryption header: %w", err)
	}
	if string(head[:len(MagicBytes)]) != MagicBytes {
		return nil, fmt.Errorf("not an encrypted snapshot: bad magic")
	}
	if v := head[len(MagicBytes)]; v != Version {
		return nil, fmt.Errorf("unsupported encryption format version %d", v)
	}
	aead, err := newAEAD(DeriveKey(passphrase, head[len(MagicBytes)+1:]))
	if err != nil {
		return nil, err
	}
	return &decryptReader{r: r, aead: aead}, nil
}

func (dr *decryptReader) Read(p []byte) (int, error) {
	for len(dr.buf) == 0 {
		if dr.done {
			return 0, io.EOF
		}
		if err := dr.open(); err != nil {
			return 0, err
		}
	}
	n := copy(p, dr.buf)
	dr.buf = dr.buf[n:]
	return n, nil
}

func (dr *decryptReader) open() error {
	var size [4]byte
	if _, err := io.ReadFull(dr.r, size[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrTruncated
		}
		return err
	}
	n := binary.BigEndian.Uint32(size[:])
	ns := dr.aead.NonceSize()
	if int(n) < ns+dr.aead.Overhead() || int(n) > ns+ChunkSize+dr.aead.Overhead() {
		return ErrTampered
	}
	sealed := make([]byte, n)
	if _, err := io.ReadFull(dr.r, sealed); err != nil {
		return ErrTruncated
	}

	nonce, ct := sealed[:ns], sealed[ns:]
	// A chunk is either final or not; try the common case first.
	plain, err := dr.aead.Open(nil, nonce, ct, chunkAAD(dr.index, false))
	if err != nil {
		plain, err = dr.aead.Open(nil, nonce, ct, chunkAAD(dr.index, true))
		if err != nil {
			return ErrTampered
		}
		dr.done = true
	}
	dr.index++
	dr.buf = plain
	return nil
}
