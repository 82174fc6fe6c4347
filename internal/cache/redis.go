package cache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

const redisKeyPrefix = "cachefront"

type RedisTLSConfig struct {
	Enabled bool
	CAFile  string
}

type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      RedisTLSConfig
}

type redisStore struct {
	client valkey.Client
}

// NewRedis connects to a valkey/redis server and verifies it with a ping.
// Entries are stored as JSON documents under cachefront:<generation>:<key>,
// so generation names must not contain the delimiter.
func NewRedis(cfg RedisConfig) (Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("cache: redis address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("cache: read redis ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("cache: redis ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("cache: redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}

	return &redisStore{client: client}, nil
}

func redisKey(generation, key string) string {
	return redisKeyPrefix + ":" + generation + ":" + key
}

func (s *redisStore) Get(ctx context.Context, generation, key string) (Entry, bool, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(redisKey(generation, key)).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("cache: redis get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: redis get bytes: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("cache: redis unmarshal: %w", err)
	}
	return entry, true, nil
}

func (s *redisStore) Put(ctx context.Context, generation, key string, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: redis marshal: %w", err)
	}
	cmd := s.client.B().Set().Key(redisKey(generation, key)).Value(string(payload)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, generation, key string) error {
	cmd := s.client.B().Del().Key(redisKey(generation, key)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: redis del: %w", err)
	}
	return nil
}

func (s *redisStore) Keys(ctx context.Context, generation string) ([]string, error) {
	raw, err := s.scan(ctx, redisKeyPrefix+":"+generation+":*")
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(raw))
	for _, full := range raw {
		parts := strings.SplitN(full, ":", 3)
		if len(parts) != 3 {
			continue
		}
		keys = append(keys, parts[2])
	}
	return keys, nil
}

func (s *redisStore) ListGenerations(ctx context.Context) ([]string, error) {
	raw, err := s.scan(ctx, redisKeyPrefix+":*")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	names := make([]string, 0)
	for _, full := range raw {
		parts := strings.SplitN(full, ":", 3)
		if len(parts) != 3 {
			continue
		}
		if _, ok := seen[parts[1]]; ok {
			continue
		}
		seen[parts[1]] = struct{}{}
		names = append(names, parts[1])
	}
	return names, nil
}

func (s *redisStore) DeleteGeneration(ctx context.Context, name string) error {
	raw, err := s.scan(ctx, redisKeyPrefix+":"+name+":*")
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	cmd := s.client.B().Del().Key(raw...).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: redis del generation: %w", err)
	}
	return nil
}

func (s *redisStore) BytesUsed(ctx context.Context, generation string) (int64, error) {
	keys, err := s.Keys(ctx, generation)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, key := range keys {
		entry, ok, err := s.Get(ctx, generation, key)
		if err != nil {
			return 0, err
		}
		if ok {
			total += int64(len(entry.Body))
		}
	}
	return total, nil
}

func (s *redisStore) Close(context.Context) error {
	s.client.Close()
	return nil
}

func (s *redisStore) scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		cmd := s.client.B().Scan().Cursor(cursor).Match(pattern).Count(200).Build()
		entry, err := s.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("cache: redis scan: %w", err)
		}
		keys = append(keys, entry.Elements...)
		cursor = entry.Cursor
		if cursor == 0 {
			return keys, nil
		}
	}
}
