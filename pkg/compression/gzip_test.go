package compression

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-as4-gateway/pkg/ebms"
)

func testPayload() *ebms.Payload {
	repeated := "This is test data that should be compressed. It contains repeated text. "
	return &ebms.Payload{
		ContentID:   "payload-1",
		ContentType: "application/xml",
		Data:        []byte(repeated + repeated + repeated + repeated + repeated),
	}
}

func TestCompressor_CompressDecompressPayload(t *testing.T) {
	compressor := NewCompressor()
	p := testPayload()
	original := append([]byte(nil), p.Data...)

	require.NoError(t, compressor.CompressPayload(p))
	assert.Equal(t, TypeGzip, p.ContentType)
	assert.Equal(t, TypeGzip, p.Properties[ebms.CompressionProperty])
	assert.Equal(t, "application/xml", p.Properties[ebms.MimeTypeProperty])
	assert.Less(t, len(p.Data), len(original))

	require.NoError(t, compressor.DecompressPayload(p))
	assert.Equal(t, original, p.Data)
	assert.Equal(t, "application/xml", p.ContentType)
	_, stillMarked := p.Properties[ebms.CompressionProperty]
	assert.False(t, stillMarked)
}

func TestCompressor_DecompressPayload_Uncompressed(t *testing.T) {
	compressor := NewCompressor()
	p := testPayload()
	original := append([]byte(nil), p.Data...)

	// A payload without the compression property passes through.
	require.NoError(t, compressor.DecompressPayload(p))
	assert.Equal(t, original, p.Data)
}

func TestCompressor_DecompressPayload_CorruptData(t *testing.T) {
	compressor := NewCompressor()
	p := &ebms.Payload{
		ContentID:   "payload-1",
		ContentType: TypeGzip,
		Data:        []byte("definitely not gzip"),
		Properties: map[string]string{
			ebms.CompressionProperty: TypeGzip,
			ebms.MimeTypeProperty:    "application/xml",
		},
	}

	err := compressor.DecompressPayload(p)
	require.Error(t, err)

	var perr *ebms.ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, ebms.ErrorDecompressionFailure.Code, perr.ErrorCode.Code)
}

func TestCompressor_LargePayload(t *testing.T) {
	compressor := NewCompressor()
	p := &ebms.Payload{
		ContentID:   "big",
		ContentType: "application/octet-stream",
		Data:        bytes.Repeat([]byte("test data "), 100000),
	}
	original := append([]byte(nil), p.Data...)

	require.NoError(t, compressor.CompressPayload(p))
	assert.Less(t, len(p.Data), len(original))
	require.NoError(t, compressor.DecompressPayload(p))
	assert.Equal(t, original, p.Data)
}
