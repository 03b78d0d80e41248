// Package rendercache stores rendered document markup keyed by the
// attachment it was produced from.
package rendercache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/ehr/notes/internal/platform/fhir"
)

// Entry is one rendered attachment.
type Entry struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Markup      string    `json:"markup"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is a render cache backend. A miss is (nil, false, nil).
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Put(ctx context.Context, e *Entry) error
}

// Key identifies an attachment by the FHIR server it was read from, its
// content type, location and inline payload. server is the client's base URL;
// relative attachment URLs only mean something together with it.
func Key(server string, att fhir.Attachment) string {
	h := sha256.New()
	for _, part := range []string{server, att.ContentType, att.URL, att.Hash, att.Data} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Chain consults stores in order. A hit in a later store is copied into the
// earlier ones; Put writes to all of them.
func Chain(stores ...Store) Store {
	return chain(stores)
}

type chain []Store

func (c chain) Get(ctx context.Context, key string) (*Entry, bool, error) {
	for i, s := range c {
		e, ok, err := s.Get(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}
		for _, earlier := range c[:i] {
			if err := earlier.Put(ctx, e); err != nil {
				return e, true, err
			}
		}
		return e, true, nil
	}
	return nil, false, nil
}

func (c chain) Put(ctx context.Context, e *Entry) error {
	for _, s := range c {
		if err := s.Put(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
