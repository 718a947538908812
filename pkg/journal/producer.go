// 文件: pkg/journal/producer.go
// 流水生产者 (Kafka)
//
// 异步发送, 错误只记日志不回灌清算路径; 流水缺失可由持久层补录。

package journal

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
)

// ProducerConfig 生产者配置
type ProducerConfig struct {
	Brokers        []string
	RequiredAcks   int    // 0=不等待, 1=leader确认, -1=全部确认
	Compression    string // none, gzip, snappy, lz4, zstd
	FlushFrequency time.Duration
	FlushMessages  int
	MaxRetries     int
}

func DefaultProducerConfig(brokers []string) ProducerConfig {
	return ProducerConfig{
		Brokers:        brokers,
		RequiredAcks:   1,
		Compression:    "snappy",
		FlushFrequency: 100 * time.Millisecond,
		FlushMessages:  100,
		MaxRetries:     3,
	}
}

// Producer 流水生产者
type Producer struct {
	producer sarama.AsyncProducer
	config   ProducerConfig

	sentCount  atomic.Int64
	errorCount atomic.Int64

	closed atomic.Bool
	wg     sync.WaitGroup
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	saramaConfig := sarama.NewConfig()

	switch cfg.RequiredAcks {
	case 0:
		saramaConfig.Producer.RequiredAcks = sarama.NoResponse
	case -1:
		saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	default:
		saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	}

	switch cfg.Compression {
	case "gzip":
		saramaConfig.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaConfig.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaConfig.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		saramaConfig.Producer.Compression = sarama.CompressionZSTD
	default:
		saramaConfig.Producer.Compression = sarama.CompressionNone
	}

	saramaConfig.Producer.Flush.Frequency = cfg.FlushFrequency
	saramaConfig.Producer.Flush.Messages = cfg.FlushMessages
	saramaConfig.Producer.Retry.Max = cfg.MaxRetries

	saramaConfig.Producer.Return.Successes = false
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create journal producer: %w", err)
	}

	p := &Producer{
		producer: producer,
		config:   cfg,
	}

	p.wg.Add(1)
	go p.handleErrors()

	return p, nil
}

// Append 追加一条流水 (异步)
func (p *Producer) Append(record Record) error {
	if p.closed.Load() {
		return fmt.Errorf("journal producer is closed")
	}

	data, err := record.Value()
	if err != nil {
		return fmt.Errorf("serialize journal record: %w", err)
	}

	p.producer.Input() <- &sarama.ProducerMessage{
		Topic: record.Topic(),
		Key:   sarama.StringEncoder(record.Key()),
		Value: sarama.ByteEncoder(data),
	}
	p.sentCount.Add(1)

	return nil
}

func (p *Producer) handleErrors() {
	defer p.wg.Done()

	for err := range p.producer.Errors() {
		p.errorCount.Add(1)
		log.Printf("[Journal] append error: topic=%s, err=%v", err.Msg.Topic, err.Err)
	}
}

// ProducerStats 统计信息
type ProducerStats struct {
	SentCount  int64
	ErrorCount int64
}

func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		SentCount:  p.sentCount.Load(),
		ErrorCount: p.errorCount.Load(),
	}
}

// Close 关闭生产者
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	err := p.producer.Close()
	p.wg.Wait()

	return err
}
