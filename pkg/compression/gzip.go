// Package compression implements the AS4 payload compression feature
// (application/gzip). Compression is applied by the gateway when a leg's
// payload profile requires it; the CompressionType part property recording
// it is system-managed and refused from submissions.
package compression

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/sirosfoundation/go-as4-gateway/pkg/ebms"
)

// TypeGzip is the only compression type the AS4 profile defines.
const TypeGzip = "application/gzip"

// Compressor applies GZIP compression to payload parts.
type Compressor struct {
	level int
}

// NewCompressor creates a compressor with the default compression level.
func NewCompressor() *Compressor {
	return &Compressor{level: gzip.DefaultCompression}
}

// NewCompressorWithLevel creates a compressor with an explicit level.
func NewCompressorWithLevel(level int) *Compressor {
	return &Compressor{level: level}
}

// CompressPayload compresses one payload part in place, recording the
// original MIME type and the compression type in the part properties.
func (c *Compressor) CompressPayload(p *ebms.Payload) error {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := w.Write(p.Data); err != nil {
		w.Close()
		return fmt.Errorf("compressing payload %s: %w", p.ContentID, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finishing payload %s: %w", p.ContentID, err)
	}

	if p.Properties == nil {
		p.Properties = make(map[string]string, 2)
	}
	p.Properties[ebms.MimeTypeProperty] = p.ContentType
	p.Properties[ebms.CompressionProperty] = TypeGzip
	p.Data = buf.Bytes()
	p.ContentType = TypeGzip
	return nil
}

// DecompressPayload reverses CompressPayload, restoring the original MIME
// type. A payload without the compression property is returned unchanged.
func (c *Compressor) DecompressPayload(p *ebms.Payload) error {
	if p.Properties[ebms.CompressionProperty] != TypeGzip {
		return nil
	}

	r, err := gzip.NewReader(bytes.NewReader(p.Data))
	if err != nil {
		return ebms.NewProtocolErrorFrom(ebms.ErrorDecompressionFailure,
			"payload "+p.ContentID+" is not valid gzip", err)
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return ebms.NewProtocolErrorFrom(ebms.ErrorDecompressionFailure,
			"decompressing payload "+p.ContentID, err)
	}

	p.Data = buf.Bytes()
	if original := p.Properties[ebms.MimeTypeProperty]; original != "" {
		p.ContentType = original
	}
	delete(p.Properties, ebms.CompressionProperty)
	return nil
}
