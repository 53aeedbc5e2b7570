package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrExpired  = errors.New("record expired")
	ErrBackend  = errors.New("store backend unavailable")
)

const watchRetries = 4

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return errors.New("record field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}

func writeBytes(buf *bytes.Buffer, b []byte) error {
	return writeString(buf, string(b))
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	s, err := readString(r)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// scriptError reports whether a Lua {err=...} reply carries code. Redis 7
// may prefix bare error replies, so the match is on the tail.
func scriptError(err error, code string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return msg == code || strings.HasSuffix(msg, " "+code)
}

// mutation is what an update callback asks watchUpdate to do with the key.
type mutation struct {
	data   []byte
	ttl    time.Duration
	delete bool
}

// watchUpdate runs fn against the current value of key inside WATCH and
// commits its mutation with MULTI, retrying on contention.
func watchUpdate(
	ctx context.Context,
	client redis.UniversalClient,
	key string,
	fn func(data []byte) (mutation, error),
) error {
	for i := 0; i < watchRetries; i++ {
		err := client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			m, fnErr := fn(data)
			if m.delete {
				if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				}); err != nil {
					return err
				}
				return fnErr
			}
			if fnErr != nil {
				return fnErr
			}
			if m.data == nil {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, m.data, m.ttl)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return err
	}
	return fmt.Errorf("%w: too much contention on %s", ErrBackend, key)
}

func backendErr(err error) error {
	return fmt.Errorf("%w: %v", ErrBackend, err)
}
