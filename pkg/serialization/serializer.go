// Package serialization provides the flow-document codec shared by every
// persistence adapter, so saving and loading a flow round-trips the same
// bytes regardless of the backing store.
package serialization

import (
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/stepflow/stepflow/internal/core/flow"
)

// Codec encodes and decodes a flow document
type Codec interface {
	Encode(f *flow.Flow) ([]byte, error)
	Decode(data []byte, f *flow.Flow) error
	Name() string
}

// CompressionType represents compression algorithms
type CompressionType string

const (
	CompressionNone CompressionType = "none"
	CompressionGzip CompressionType = "gzip"
	CompressionZstd CompressionType = "zstd"
)

// Config holds serializer settings
type Config struct {
	Codec       Codec
	Compression CompressionType
	EncryptKey  []byte // AES-256 key (32 bytes), optional
}

// FlowSerializer turns a flow aggregate into storable bytes and back:
// codec, then compression, then optional encryption.
type FlowSerializer struct {
	config Config
}

// NewFlowSerializer creates a serializer with the given configuration
func NewFlowSerializer(config Config) *FlowSerializer {
	if config.Codec == nil {
		config.Codec = NewMsgPackCodec()
	}
	return &FlowSerializer{config: config}
}

// Default returns the serializer the persistence adapters use unless
// configured otherwise: msgpack + zstd, no encryption.
func Default() *FlowSerializer {
	return NewFlowSerializer(Config{
		Codec:       NewMsgPackCodec(),
		Compression: CompressionZstd,
	})
}

// Marshal encodes, compresses, and encrypts a flow document.
func (s *FlowSerializer) Marshal(f *flow.Flow) ([]byte, error) {
	data, err := s.config.Codec.Encode(f)
	if err != nil {
		return nil, fmt.Errorf("codec encoding failed: %w", err)
	}
	data, err = s.compress(data)
	if err != nil {
		return nil, fmt.Errorf("compression failed: %w", err)
	}
	if len(s.config.EncryptKey) > 0 {
		data, err = s.encrypt(data)
		if err != nil {
			return nil, fmt.Errorf("encryption failed: %w", err)
		}
	}
	return data, nil
}

// Unmarshal reverses Marshal.
func (s *FlowSerializer) Unmarshal(data []byte) (*flow.Flow, error) {
	var err error
	if len(s.config.EncryptKey) > 0 {
		data, err = s.decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("decryption failed: %w", err)
		}
	}
	data, err = s.decompress(data)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}
	f := &flow.Flow{}
	if err := s.config.Codec.Decode(data, f); err != nil {
		return nil, fmt.Errorf("codec decoding failed: %w", err)
	}
	return f, nil
}

func (s *FlowSerializer) compress(data []byte) ([]byte, error) {
	switch s.config.Compression {
	case CompressionGzip:
		var buf bytes.Buffer
		writer := gzip.NewWriter(&buf)
		if _, err := writer.Write(data); err != nil {
			return nil, err
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		encoder, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer encoder.Close()
		return encoder.EncodeAll(data, nil), nil
	default:
		return data, nil
	}
}

func (s *FlowSerializer) decompress(data []byte) ([]byte, error) {
	switch s.config.Compression {
	case CompressionGzip:
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer reader.Close()
		return io.ReadAll(reader)
	case CompressionZstd:
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer decoder.Close()
		return decoder.DecodeAll(data, nil)
	default:
		return data, nil
	}
}

// encrypt seals data with AES-GCM, nonce prepended.
func (s *FlowSerializer) encrypt(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.config.EncryptKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, data, nil), nil
}

func (s *FlowSerializer) decrypt(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.config.EncryptKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("invalid ciphertext size")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// JSONCodec implements JSON serialization
type JSONCodec struct{}

func (c *JSONCodec) Encode(f *flow.Flow) ([]byte, error)    { return json.Marshal(f) }
func (c *JSONCodec) Decode(data []byte, f *flow.Flow) error { return json.Unmarshal(data, f) }
func (c *JSONCodec) Name() string                           { return "json" }

// MsgPackCodec implements MessagePack serialization
type MsgPackCodec struct{}

func (c *MsgPackCodec) Encode(f *flow.Flow) ([]byte, error)    { return msgpack.Marshal(f) }
func (c *MsgPackCodec) Decode(data []byte, f *flow.Flow) error { return msgpack.Unmarshal(data, f) }
func (c *MsgPackCodec) Name() string                           { return "msgpack" }

// NewJSONCodec creates a new JSON codec
func NewJSONCodec() Codec { return &JSONCodec{} }

// NewMsgPackCodec creates a new MessagePack codec
func NewMsgPackCodec() Codec { return &MsgPackCodec{} }
