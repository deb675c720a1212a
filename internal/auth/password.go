// Package auth holds the dashboard admin credential check.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrInvalidHash is returned for an encoded hash that cannot be parsed.
var ErrInvalidHash = errors.New("auth: invalid argon2id hash")

type params struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

// HashPassword returns an encoded argon2id hash:
// argon2id$v=19$m=...,t=...,p=...$saltB64$hashB64
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("auth: empty password")
	}
	var (
		time    uint32 = 3
		memory  uint32 = 64 * 1024 // 64MB
		keyLen  uint32 = 32
		saltLen        = 16
	)
	threads := uint8(selectParallelism())
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, time, memory, threads, keyLen)
	return fmt.Sprintf("argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s", argon2.Version, memory, time, threads,
		base64.RawStdEncoding.EncodeToString(salt), base64.RawStdEncoding.EncodeToString(key)), nil
}

func selectParallelism() int {
	p := runtime.NumCPU() / 2
	if p < 1 {
		p = 1
	}
	if p > 4 {
		p = 4
	}
	return p
}

// ValidateHash checks that encoded is a well-formed argon2id hash.
func ValidateHash(encoded string) error {
	_, err := parseHash(encoded)
	return err
}

func parseHash(encoded string) (params, error) {
	var p params
	toks := strings.Split(encoded, "$")
	if len(toks) != 5 || toks[0] != "argon2id" {
		return p, ErrInvalidHash
	}
	if toks[1] != "v="+strconv.Itoa(argon2.Version) {
		return p, fmt.Errorf("%w: unsupported version %q", ErrInvalidHash, toks[1])
	}
	for _, kv := range strings.Split(toks[2], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return p, fmt.Errorf("%w: bad parameter %q", ErrInvalidHash, kv)
		}
		switch k {
		case "m":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return p, fmt.Errorf("%w: memory: %v", ErrInvalidHash, err)
			}
			p.memory = uint32(n)
		case "t":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return p, fmt.Errorf("%w: time: %v", ErrInvalidHash, err)
			}
			p.time = uint32(n)
		case "p":
			n, err := strconv.ParseUint(v, 10, 8)
			if err != nil {
				return p, fmt.Errorf("%w: threads: %v", ErrInvalidHash, err)
			}
			p.threads = uint8(n)
		}
	}
	if p.memory == 0 || p.time == 0 || p.threads == 0 {
		return p, fmt.Errorf("%w: missing parameters", ErrInvalidHash)
	}
	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(toks[3]); err != nil {
		return p, fmt.Errorf("%w: salt: %v", ErrInvalidHash, err)
	}
	if p.key, err = base64.RawStdEncoding.DecodeString(toks[4]); err != nil || len(p.key) == 0 {
		return p, fmt.Errorf("%w: key", ErrInvalidHash)
	}
	return p, nil
}

// VerifyPassword reports whether password matches encoded.
func VerifyPassword(encoded, password string) bool {
	p, err := parseHash(encoded)
	if err != nil {
		return false
	}
	calc := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.threads, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(calc, p.key) == 1
}

// Credentials is the single dashboard admin account.
type Credentials struct {
	User string
	Hash string
}

// Enabled reports whether a password hash is configured.
func (c Credentials) Enabled() bool { return c.Hash != "" }

// Check verifies a username and password pair.
func (c Credentials) Check(user, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(c.User)) == 1
	passOK := VerifyPassword(c.Hash, password)
	return userOK && passOK
}
