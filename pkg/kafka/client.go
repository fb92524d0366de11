// Package kafka 提供了与 Kafka 消息队列交互的功能。
// 抽取和生成各自使用一个 topic，互不阻塞；每个 topic 由一个消费者按顺序逐条处理。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"

	"om-smart-go/internal/config"
	"om-smart-go/internal/model"
	"om-smart-go/pkg/log"
	"om-smart-go/pkg/tasks"
)

// Producer 按 lane 把任务投递到对应的 topic。
type Producer struct {
	writer *kafka.Writer
	topics map[model.Lane]string
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers(cfg.Brokers)...),
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{
		writer: w,
		topics: map[model.Lane]string{
			model.LaneExtraction: cfg.ExtractionTopic,
			model.LaneGeneration: cfg.GenerationTopic,
		},
	}
}

// Dispatch 发送一个任务。以实体 ID 为 key，同一实体的消息落在同一分区。
func (p *Producer) Dispatch(ctx context.Context, task tasks.PipelineTask) error {
	topic, ok := p.topics[task.Lane]
	if !ok || topic == "" {
		return fmt.Errorf("未配置 lane %q 对应的 topic", task.Lane)
	}
	value, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(task.EntityID),
		Value: value,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// StartConsumer 启动一个消费者，阻塞直到 ctx 结束。
// 每条消息交给 runner 处理（含有限次重试），处理结束后才提交 offset。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, topic string, runner *Runner) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg.Brokers),
		Topic:    topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("[Consumer] 关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("[Consumer] Kafka 消费者已启动，正在监听主题 '%s'", topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Infof("[Consumer] 主题 '%s' 的消费者退出", topic)
				return
			}
			log.Error("[Consumer] 从 Kafka 读取消息失败", err)
			return
		}

		var task tasks.PipelineTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("[Consumer] 无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			commit(ctx, r, m)
			continue
		}

		log.Infof("[Consumer] 收到任务: lane=%s, entity=%s, job=%d, offset=%d", task.Lane, task.EntityID, task.JobID, m.Offset)
		runner.Run(ctx, task)
		commit(ctx, r, m)
	}
}

func commit(ctx context.Context, r *kafka.Reader, m kafka.Message) {
	if err := r.CommitMessages(ctx, m); err != nil {
		log.Errorf("[Consumer] 提交 Kafka 消息 offset 失败: %v", err)
	}
}

func brokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
