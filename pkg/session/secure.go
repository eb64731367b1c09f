// Package session implements the per-connection encrypted transport a
// HAP connection switches to after Pair-Verify (HAP Section 6.5.2).
//
// Every write is split into frames of at most 1024 plaintext bytes.
// Frame layout:
//
//	2-byte little-endian plaintext length (also the AAD)
//	ciphertext (length bytes)
//	16-byte Poly1305 tag
//
// Each direction has its own ChaCha20-Poly1305 key and 64-bit frame
// counter; the counter occupies the final 8 bytes of the 12-byte nonce
// in little-endian order and never resets within a session.
package session

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/backkem/hap/pkg/crypto"
)

// Frame size constants.
const (
	// MaxFrameSize is the largest plaintext one frame may carry.
	MaxFrameSize = 1024

	// lengthSize is the AAD length prefix.
	lengthSize = 2
)

// Secure wraps a net.Conn with HAP framed encryption. It is itself a
// net.Conn; writes are serialized internally so the event notifier and
// the request loop can share the connection.
type Secure struct {
	conn net.Conn

	encryptKey []byte
	decryptKey []byte
	encryptCnt uint64
	decryptCnt uint64

	// leftover plaintext from the last frame, for short Read calls.
	readBuf []byte

	writeMu sync.Mutex
	readMu  sync.Mutex
}

// NewAccessory derives the accessory-side transport keys from the
// Pair-Verify shared secret and wraps conn. The accessory encrypts
// with the read key and decrypts with the write key.
func NewAccessory(conn net.Conn, sharedSecret []byte) (*Secure, error) {
	readKey, writeKey, err := deriveControlKeys(sharedSecret)
	if err != nil {
		return nil, err
	}
	return &Secure{conn: conn, encryptKey: readKey, decryptKey: writeKey}, nil
}

// NewController derives the controller-side keys, the mirror of
// NewAccessory. Used by tests that drive both ends in-process.
func NewController(conn net.Conn, sharedSecret []byte) (*Secure, error) {
	readKey, writeKey, err := deriveControlKeys(sharedSecret)
	if err != nil {
		return nil, err
	}
	return &Secure{conn: conn, encryptKey: writeKey, decryptKey: readKey}, nil
}

func deriveControlKeys(sharedSecret []byte) (readKey, writeKey []byte, err error) {
	readKey, err = crypto.HKDFSHA512(sharedSecret, "Control-Salt", "Control-Read-Encryption-Key")
	if err != nil {
		return nil, nil, err
	}
	writeKey, err = crypto.HKDFSHA512(sharedSecret, "Control-Salt", "Control-Write-Encryption-Key")
	if err != nil {
		return nil, nil, err
	}
	return readKey, writeKey, nil
}

func frameNonce(counter uint64) []byte {
	nonce := make([]byte, crypto.NonceSize)
	binary.LittleEndian.PutUint64(nonce[4:], counter)
	return nonce
}

// Read returns decrypted plaintext, one frame at a time. A failed tag
// check returns ErrDecrypt; the caller must close the connection.
func (s *Secure) Read(b []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if len(s.readBuf) == 0 {
		if err := s.readFrame(); err != nil {
			return 0, err
		}
	}
	n := copy(b, s.readBuf)
	s.readBuf = s.readBuf[n:]
	return n, nil
}

func (s *Secure) readFrame() error {
	var lengthAAD [lengthSize]byte
	if _, err := io.ReadFull(s.conn, lengthAAD[:]); err != nil {
		return err
	}
	size := binary.LittleEndian.Uint16(lengthAAD[:])
	if size > MaxFrameSize {
		return ErrFrameTooLarge
	}

	ciphertext := make([]byte, int(size)+crypto.Overhead)
	if _, err := io.ReadFull(s.conn, ciphertext); err != nil {
		return err
	}

	plaintext, err := crypto.DecryptAndVerify(s.decryptKey, frameNonce(s.decryptCnt), ciphertext, lengthAAD[:])
	if err != nil {
		return ErrDecrypt
	}
	s.decryptCnt++
	s.readBuf = plaintext
	return nil
}

// Write encrypts b into as many frames as needed and writes them.
func (s *Secure) Write(b []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var written int
	for len(b) > 0 {
		size := len(b)
		if size > MaxFrameSize {
			size = MaxFrameSize
		}

		var lengthAAD [lengthSize]byte
		binary.LittleEndian.PutUint16(lengthAAD[:], uint16(size))

		sealed, err := crypto.EncryptAndSeal(s.encryptKey, frameNonce(s.encryptCnt), b[:size], lengthAAD[:])
		if err != nil {
			return written, err
		}
		s.encryptCnt++

		frame := make([]byte, 0, lengthSize+len(sealed))
		frame = append(frame, lengthAAD[:]...)
		frame = append(frame, sealed...)
		if _, err := s.conn.Write(frame); err != nil {
			return written, err
		}

		written += size
		b = b[size:]
	}
	return written, nil
}

// Close closes the underlying connection.
func (s *Secure) Close() error {
	return s.conn.Close()
}

// LocalAddr returns the underlying local address.
func (s *Secure) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// RemoteAddr returns the underlying remote address.
func (s *Secure) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// SetDeadline sets the underlying deadlines.
func (s *Secure) SetDeadline(t time.Time) error {
	return s.conn.SetDeadline(t)
}

// SetReadDeadline sets the underlying read deadline.
func (s *Secure) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// SetWriteDeadline sets the underlying write deadline.
func (s *Secure) SetWriteDeadline(t time.Time) error {
	return s.conn.SetWriteDeadline(t)
}
