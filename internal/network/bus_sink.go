package network

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	nats "github.com/nats-io/nats.go"

	"github.com/annel0/blockundo/internal/logging"
)

// BlockBatch - пакет обновлений в том виде, в каком он уходит в шину
type BlockBatch struct {
	Level   string        `json:"level"`
	Target  string        `json:"target,omitempty"`
	SentAt  time.Time     `json:"sent_at"`
	Updates []BlockUpdate `json:"updates"`
}

// Publisher - минимальная операция публикации, общая для NATS и Redis
type Publisher interface {
	Publish(subject string, data []byte) error
}

// BusSink публикует пакеты в шину сообщений: subject <prefix>.<уровень>.
// Игровые узлы подписываются и рассылают обновления своим клиентам.
type BusSink struct {
	pub       Publisher
	prefix    string
	published uint64
	failed    uint64
	log       *logging.Logger
}

// NewBusSink создаёт sink поверх произвольного Publisher
func NewBusSink(pub Publisher, prefix string) *BusSink {
	if prefix == "" {
		prefix = "blocks"
	}
	return &BusSink{pub: pub, prefix: prefix, log: logging.GetComponentLogger("network")}
}

// Subject возвращает subject для уровня
func (b *BusSink) Subject(level string) string {
	return fmt.Sprintf("%s.%s", b.prefix, level)
}

// SendBlocks сериализует пакет в JSON и публикует. Ошибки публикации
// только логируются: визуальные обновления не критичны для состояния мира.
func (b *BusSink) SendBlocks(level, target string, updates []BlockUpdate) {
	data, err := json.Marshal(BlockBatch{Level: level, Target: target, SentAt: time.Now().UTC(), Updates: updates})
	if err != nil {
		atomic.AddUint64(&b.failed, 1)
		b.log.Warn("⚠️ Ошибка сериализации пакета блоков: %v", err)
		return
	}
	if err := b.pub.Publish(b.Subject(level), data); err != nil {
		atomic.AddUint64(&b.failed, 1)
		b.log.Warn("⚠️ Ошибка публикации пакета блоков (%s): %v", level, err)
		return
	}
	atomic.AddUint64(&b.published, 1)
}

// Stats возвращает число опубликованных и неудачных пакетов
func (b *BusSink) Stats() (published, failed uint64) {
	return atomic.LoadUint64(&b.published), atomic.LoadUint64(&b.failed)
}

// NatsPublisher публикует через соединение NATS
type NatsPublisher struct {
	nc *nats.Conn
}

// NewNatsPublisher подключается к NATS (url: nats://127.0.0.1:4222)
func NewNatsPublisher(url string) (*NatsPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("blockundo"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NatsPublisher{nc: nc}, nil
}

func (p *NatsPublisher) Publish(subject string, data []byte) error {
	return p.nc.Publish(subject, data)
}

// Close отправляет буферизованные сообщения и закрывает соединение
func (p *NatsPublisher) Close() error {
	return p.nc.Drain()
}

// RedisPublisher публикует в канал Redis Pub/Sub с именем subject
type RedisPublisher struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisPublisher подключается к Redis и проверяет соединение
func NewRedisPublisher(addr, password string, db int) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisPublisher{client: client, timeout: 2 * time.Second}, nil
}

func (p *RedisPublisher) Publish(subject string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.client.Publish(ctx, subject, data).Err()
}

// Close закрывает клиент Redis
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
