package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// Erros relacionados ao enquadramento binário
var (
	ErrFrameTooLarge = errors.New("quadro excede o tamanho máximo")
	ErrInvalidFrame  = errors.New("quadro inválido ou corrompido")
)

const (
	// frameHeaderSize: 1 byte de flags + 4 bytes de tamanho (big endian)
	frameHeaderSize = 5

	// FlagCompressed marca corpo comprimido com LZ4
	FlagCompressed byte = 0x01

	// MaxFrameSize limita o corpo de um quadro
	MaxFrameSize = 16 << 20

	// DefaultCompressMin é o menor corpo que vale a pena comprimir
	DefaultCompressMin = 512
)

// EncodeLine serializa um valor como uma linha JSON terminada em '\n'
func EncodeLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// FrameCodec serializa envelopes em quadros binários com compressão opcional
type FrameCodec struct {
	Compress    bool
	CompressMin int
}

// Encode serializa um valor em um quadro completo (cabeçalho + corpo)
func (c FrameCodec) Encode(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var flags byte
	if c.Compress && len(body) >= c.compressMin() {
		compressed, err := compressData(body)
		if err != nil {
			return nil, fmt.Errorf("erro ao comprimir quadro: %w", err)
		}
		// Só usar a versão comprimida quando ela for realmente menor
		if len(compressed) < len(body) {
			body = compressed
			flags |= FlagCompressed
		}
	}

	if len(body) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	buf := bytes.NewBuffer(make([]byte, 0, frameHeaderSize+len(body)))
	buf.WriteByte(flags)
	if err := binary.Write(buf, binary.BigEndian, uint32(len(body))); err != nil {
		return nil, err
	}
	buf.Write(body)
	return buf.Bytes(), nil
}

// WriteFrame escreve um quadro em w
func (c FrameCodec) WriteFrame(w io.Writer, v any) error {
	frame, err := c.Encode(v)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// ReadFrame lê um quadro de r e retorna o JSON do corpo já descomprimido
func (c FrameCodec) ReadFrame(r io.Reader) (json.RawMessage, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	flags := header[0]
	size := binary.BigEndian.Uint32(header[1:])
	if size > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if flags&^FlagCompressed != 0 {
		return nil, fmt.Errorf("%w: flags desconhecidas 0x%02x", ErrInvalidFrame, flags)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	if flags&FlagCompressed != 0 {
		decompressed, err := decompressData(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
		body = decompressed
	}
	return json.RawMessage(body), nil
}

func (c FrameCodec) compressMin() int {
	if c.CompressMin <= 0 {
		return DefaultCompressMin
	}
	return c.CompressMin
}

// compressData comprime dados usando LZ4 com checksum de bloco
func compressData(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if err := zw.Apply(lz4.ChecksumOption(true), lz4.CompressionLevelOption(lz4.Fast)); err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	// Fechar para descarregar o último bloco
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decompressData descomprime dados comprimidos com LZ4, limitado a MaxFrameSize
func decompressData(compressed []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(compressed))
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(zr, MaxFrameSize+1))
	if err != nil {
		return nil, err
	}
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	return buf.Bytes(), nil
}
