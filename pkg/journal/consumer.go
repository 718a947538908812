// 文件: pkg/journal/consumer.go
// 流水消费者 (Kafka 消费者组)
//
// 下游对账/风控进程用, 引擎本体不依赖。

package journal

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/IBM/sarama"
)

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Brokers       []string
	GroupID       string
	Topics        []string
	OffsetInitial int64 // -1=newest, -2=oldest
	AutoCommit    bool
}

func DefaultConsumerConfig(brokers []string, groupID string) ConsumerConfig {
	return ConsumerConfig{
		Brokers:       brokers,
		GroupID:       groupID,
		Topics:        []string{TopicFill, TopicSettlement},
		OffsetInitial: sarama.OffsetOldest,
		AutoCommit:    true,
	}
}

// RecordHandler 流水处理函数
type RecordHandler func(topic string, partition int32, offset int64, key, value []byte) error

// Consumer 流水消费者
type Consumer struct {
	client  sarama.ConsumerGroup
	config  ConsumerConfig
	handler RecordHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewConsumer(cfg ConsumerConfig, handler RecordHandler) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	saramaConfig.Consumer.Offsets.Initial = cfg.OffsetInitial
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = cfg.AutoCommit

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create journal consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		client:  client,
		config:  cfg,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start 启动消费
func (c *Consumer) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &groupHandler{handler: c.handler}
			if err := c.client.Consume(c.ctx, c.config.Topics, handler); err != nil {
				log.Printf("[Journal] consume error: %v", err)
			}
			if c.ctx.Err() != nil {
				return
			}
		}
	}()
}

// Stop 停止消费
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

type groupHandler struct {
	handler RecordHandler
}

func (h *groupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := h.handler(msg.Topic, msg.Partition, msg.Offset, msg.Key, msg.Value); err != nil {
			log.Printf("[Journal] handle error: topic=%s, offset=%d, err=%v", msg.Topic, msg.Offset, err)
			// 不中断, 继续下一条
		}
		session.MarkMessage(msg, "")
	}
	return nil
}
