package modules

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"

	"go.starlark.net/starlark"
	"golang.org/x/crypto/bcrypt"
)

var digests = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha512": sha512.New,
}

func newHashlib() (starlark.Value, error) {
	members := starlark.StringDict{
		"bcrypt":       starlark.NewBuiltin("bcrypt", bcryptHash),
		"bcrypt_check": starlark.NewBuiltin("bcrypt_check", bcryptCheck),
	}
	for name, h := range digests {
		members[name] = starlark.NewBuiltin(name, hexDigest(h))
	}
	return module("hashlib", members), nil
}

// hexDigest returns a function of one string or bytes argument that
// returns its hex-encoded digest.
func hexDigest(newHash func() hash.Hash) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var data starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &data); err != nil {
			return nil, err
		}
		raw, err := bytesOf(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		h := newHash()
		h.Write(raw)
		return starlark.String(hex.EncodeToString(h.Sum(nil))), nil
	}
}

// bcrypt(password, cost=10) returns a bcrypt hash of password.
func bcryptHash(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var password string
	cost := bcrypt.DefaultCost
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "password", &password, "cost?", &cost); err != nil {
		return nil, err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.String(hashed), nil
}

// bcrypt_check(password, hashed) reports whether password matches hashed.
func bcryptCheck(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var password, hashed string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "password", &password, "hashed", &hashed); err != nil {
		return nil, err
	}
	err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password))
	switch {
	case err == nil:
		return starlark.True, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return starlark.False, nil
	}
	return nil, fmt.Errorf("%s: %w", b.Name(), err)
}

func bytesOf(v starlark.Value) ([]byte, error) {
	switch v := v.(type) {
	case starlark.String:
		return []byte(v), nil
	case starlark.Bytes:
		return []byte(v), nil
	}
	return nil, fmt.Errorf("want string or bytes, got %s", v.Type())
}
