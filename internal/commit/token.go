package commit

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/slimatic/zakapp-sub004/internal/canon"
	"github.com/slimatic/zakapp-sub004/internal/model"
)

// ErrInvalidToken is returned for a resume token that cannot be decoded
// or does not belong to the payload being imported.
var ErrInvalidToken = errors.New("invalid resume token")

// Token marks where a rolled back collection can be resumed. It binds to
// the collection's array digest, so it only applies to the same payload.
type Token struct {
	Collection model.Collection
	// Index is the incoming position that was about to be applied.
	Index  int
	Digest string
}

// Encode renders the token as URL-safe base64 of its canonical JSON.
func (t Token) Encode() string {
	b := canon.MustMarshal(canon.Object{
		"collection": canon.String(t.Collection),
		"digest":     canon.String(t.Digest),
		"index":      canon.IntNumber(int64(t.Index)),
	})
	return base64.RawURLEncoding.EncodeToString(b)
}

func (t Token) String() string {
	return t.Encode()
}

// ParseToken decodes a token produced by Encode.
func ParseToken(s string) (Token, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	v, err := canon.Parse(raw)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	obj, ok := v.(canon.Object)
	if !ok {
		return Token{}, fmt.Errorf("%w: not an object", ErrInvalidToken)
	}

	col, _ := obj["collection"].(canon.String)
	c, err := model.ParseCollection(string(col))
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	digest, _ := obj["digest"].(canon.String)
	n, _ := obj["index"].(canon.Number)
	idx, ok := n.Int64()
	if !ok || idx < 0 || digest == "" {
		return Token{}, fmt.Errorf("%w: missing index or digest", ErrInvalidToken)
	}
	return Token{Collection: c, Index: int(idx), Digest: string(digest)}, nil
}

// check verifies the token applies to collection c with array digest d.
func (t Token) check(c model.Collection, d string) error {
	if t.Collection != c {
		return fmt.Errorf("%w: token is for %s, not %s", ErrInvalidToken, t.Collection, c)
	}
	if t.Digest != d {
		return fmt.Errorf("%w: %s changed since the token was issued", ErrInvalidToken, c)
	}
	return nil
}
