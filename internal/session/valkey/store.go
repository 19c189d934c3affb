package sessionvalkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/valkey-io/valkey-go"
)

type store struct {
	valkey valkey.Client
	prefix string
}

func newStore(valkeyClient valkey.Client, prefix string) *store {
	prefix = strings.TrimSuffix(prefix, ":")
	return &store{
		valkey: valkeyClient,
		prefix: prefix,
	}
}

// getAll reads keys with one MGET so the values come from a single write.
// A missing key yields a nil entry.
func (s *store) getAll(ctx context.Context, keys ...string) ([][]byte, error) {
	msgs, err := s.valkey.Do(ctx, s.valkey.B().Mget().Key(keys...).Build()).ToArray()
	if err != nil {
		return nil, fmt.Errorf("executing mget command: %w", err)
	}

	values := make([][]byte, len(keys))
	for i, msg := range msgs {
		if msg.IsNil() {
			continue
		}

		bytes, err := msg.AsBytes()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", keys[i], err)
		}
		values[i] = bytes
	}

	return values, nil
}

// setAll writes every value inside one MULTI/EXEC block.
func (s *store) setAll(ctx context.Context, values map[string]any) error {
	cmds := make([]valkey.Completed, 0, len(values)+2)
	cmds = append(cmds, s.valkey.B().Multi().Build())
	for key, val := range values {
		bytes, err := s.encode(val)
		if err != nil {
			return fmt.Errorf("encoding data: %w", err)
		}
		cmds = append(cmds, s.valkey.B().Set().Key(key).Value(valkey.BinaryString(bytes)).Build())
	}
	cmds = append(cmds, s.valkey.B().Exec().Build())

	for _, resp := range s.valkey.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("executing set transaction: %w", err)
		}
	}

	return nil
}

func (s *store) destroy(ctx context.Context, keys ...string) error {
	if err := s.valkey.Do(ctx, s.valkey.B().Del().Key(keys...).Build()).Error(); err != nil {
		return fmt.Errorf("executing del command: %w", err)
	}

	return nil
}

func (s *store) key(objectType ObjectType, objectID string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, objectType, objectID)
}

func (s *store) encode(v any) ([]byte, error) {
	bytes, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling json: %w", err)
	}

	return bytes, nil
}

func (s *store) decode(data []byte, into any) error {
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("unmarshaling json: %w", err)
	}

	return nil
}
