package engine

import (
	"context"
	"fmt"

	"github.com/opencode-ai/memengine/internal/connection"
	"github.com/opencode-ai/memengine/internal/datavalue"
)

// ReadDataValue reads a value shaped like like (same type, and for strings and
// byte arrays the same length and encoding) from address.
func ReadDataValue(ctx context.Context, conn connection.Connection, address uint32, like datavalue.Value, chunkSize int) (datavalue.Value, error) {
	if conn == nil {
		return nil, connection.ErrNotConnected
	}

	n := datavalue.ReadLength(like)
	if n <= 0 {
		return nil, fmt.Errorf("cannot read zero-length %s at %08X", like.Type(), address)
	}
	buf := make([]byte, n)
	if err := conn.ReadBytes(ctx, address, buf, chunkSize, nil); err != nil {
		return nil, fmt.Errorf("failed to read %s at %08X: %w", like.Type(), address, err)
	}

	var enc datavalue.StringType
	if s, ok := like.(datavalue.String); ok {
		enc = s.Encoding
	}
	return datavalue.FromBytes(like.Type(), buf, conn.LittleEndian(), enc)
}

// WriteDataValue writes v at address. appendNull terminates strings.
func WriteDataValue(ctx context.Context, conn connection.Connection, address uint32, v datavalue.Value, appendNull bool) error {
	if conn == nil {
		return connection.ErrNotConnected
	}

	buf, err := datavalue.Bytes(v, conn.LittleEndian())
	if err != nil {
		return err
	}
	if s, ok := v.(datavalue.String); ok && appendNull {
		buf = datavalue.WithTerminator(buf, s.Encoding)
	}
	if len(buf) == 0 {
		return nil
	}
	if err := conn.WriteBytes(ctx, address, buf); err != nil {
		return fmt.Errorf("failed to write %s at %08X: %w", v.Type(), address, err)
	}
	return nil
}
