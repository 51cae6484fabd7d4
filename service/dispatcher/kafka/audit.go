package kafka

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/Shopify/sarama"

	"DirectIM/logger"
	"DirectIM/module/dm/model"
)

// AuditProducer 把每条成功落库的消息镜像到 Kafka，供下游离线分析。
// fire-and-forget：投递失败只记日志，绝不反馈到发送路径。
type AuditProducer struct {
	producer sarama.AsyncProducer
	topic    string
}

type Config struct {
	Brokers []string
	Topic   string
}

func buildConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_8_0_0
	cfg.Producer.Return.Successes = false
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 1
	// Key 控制分区：同一接收方落同一分区，下游按用户回放有序
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

func NewAuditProducer(c Config) (*AuditProducer, error) {
	p, err := sarama.NewAsyncProducer(c.Brokers, buildConfig())
	if err != nil {
		return nil, err
	}
	ap := &AuditProducer{producer: p, topic: c.Topic}
	go func() {
		for err := range p.Errors() {
			logger.Warnf("[kafka] audit publish failed: %v", err)
		}
	}()
	return ap, nil
}

// MessageStored 满足 store.AuditFunc 的形状。
func (ap *AuditProducer) MessageStored(msg *model.Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	ap.producer.Input() <- &sarama.ProducerMessage{
		Topic: ap.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(msg.ReceiverID, 10)),
		Value: sarama.ByteEncoder(b),
	}
}

func (ap *AuditProducer) Close() error {
	return ap.producer.Close()
}
