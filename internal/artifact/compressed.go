package artifact

import (
	"context"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const zstdSuffix = ".zst"

// Compressed stores zstd-compressed content under path+".zst" in the
// wrapped store. Paths seen by callers never carry the suffix.
type Compressed struct {
	inner Store
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

func NewCompressed(inner Store) (*Compressed, error) {
	if inner == nil {
		return nil, errStoreNotConfig
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, err
	}
	return &Compressed{inner: inner, enc: enc, dec: dec}, nil
}

func (c *Compressed) Put(ctx context.Context, runID, path string, content []byte) error {
	if _, _, err := checkKey(runID, path); err != nil {
		return err
	}
	return c.inner.Put(ctx, runID, strings.TrimSpace(path)+zstdSuffix, c.enc.EncodeAll(content, nil))
}

func (c *Compressed) Get(ctx context.Context, runID, path string) ([]byte, error) {
	if _, _, err := checkKey(runID, path); err != nil {
		return nil, err
	}
	raw, err := c.inner.Get(ctx, runID, strings.TrimSpace(path)+zstdSuffix)
	if err != nil {
		return nil, err
	}
	out, err := c.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", path, err)
	}
	return out, nil
}

func (c *Compressed) GetURL(ctx context.Context, runID, path string) (string, error) {
	return c.inner.GetURL(ctx, runID, strings.TrimSpace(path)+zstdSuffix)
}

func (c *Compressed) List(ctx context.Context, runID string) ([]string, error) {
	paths, err := c.inner.List(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := paths[:0]
	for _, p := range paths {
		if strings.HasSuffix(p, zstdSuffix) {
			out = append(out, strings.TrimSuffix(p, zstdSuffix))
		}
	}
	return out, nil
}

func (c *Compressed) Close() error {
	c.dec.Close()
	return c.enc.Close()
}
