package faqstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"

	"github.com/yanqian/semantic-faq/internal/domain/faq"
)

// ValkeyStore caches answer rows in a Valkey-compatible database.
type ValkeyStore struct {
	client valkey.Client
	prefix string
}

// NewValkeyStore constructs a new cache backed by Valkey.
func NewValkeyStore(client valkey.Client, prefix string) *ValkeyStore {
	if prefix == "" {
		prefix = "faq"
	}
	return &ValkeyStore{client: client, prefix: prefix}
}

func (s *ValkeyStore) GetAnswer(ctx context.Context, id uuid.UUID) (faq.AnswerRecord, bool, error) {
	cmd := s.client.B().Get().Key(s.entryKey(id)).Build()
	payload, err := s.client.Do(ctx, cmd).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return faq.AnswerRecord{}, false, nil
		}
		return faq.AnswerRecord{}, false, err
	}
	var record faq.AnswerRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return faq.AnswerRecord{}, false, err
	}
	return record, true, nil
}

func (s *ValkeyStore) SaveAnswer(ctx context.Context, record faq.AnswerRecord, ttl time.Duration) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.setString(ctx, s.entryKey(record.ID), string(payload), ttl)
}

func (s *ValkeyStore) Invalidate(ctx context.Context, id uuid.UUID) error {
	return s.client.Do(ctx, s.client.B().Del().Key(s.entryKey(id)).Build()).Error()
}

func (s *ValkeyStore) setString(ctx context.Context, key, value string, ttl time.Duration) error {
	builder := s.client.B().Set().Key(key).Value(value)
	var cmd valkey.Completed
	if ttl > 0 {
		if ttl < time.Second {
			ttl = time.Second
		}
		cmd = builder.Ex(ttl).Build()
	} else {
		cmd = builder.Build()
	}
	return s.client.Do(ctx, cmd).Error()
}

func (s *ValkeyStore) entryKey(id uuid.UUID) string {
	return fmt.Sprintf("%s:answer:%s", s.prefix, id)
}

var _ faq.AnswerCache = (*ValkeyStore)(nil)
