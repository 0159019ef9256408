package consumer

import (
	"bytes"
	"context"
	"io"

	"silo-data/internal/config"
	"silo-data/internal/ingest"
	"silo-data/internal/mqtt"

	"go.uber.org/zap"
)

// csvIngester 摄取入口（接口便于测试）
type csvIngester interface {
	IngestCSV(ctx context.Context, r io.Reader) (*ingest.RunStats, error)
}

// MQTTConsumer 订阅现场网关推送的 CSV 批次。
// 每条消息是一份完整的宽格式 CSV 文档（含表头），走与上传相同的管道。
type MQTTConsumer struct {
	config     *config.Config
	mqttClient *mqtt.Client
	ingester   csvIngester
	logger     *zap.Logger
}

// NewMQTTConsumer 创建 MQTT 消费者
func NewMQTTConsumer(cfg *config.Config, mqttClient *mqtt.Client, ingester csvIngester, logger *zap.Logger) *MQTTConsumer {
	return &MQTTConsumer{
		config:     cfg,
		mqttClient: mqttClient,
		ingester:   ingester,
		logger:     logger,
	}
}

// Start 启动消费者，阻塞直到上下文取消
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.mqttClient.Subscribe(c.config.MQTT.Topic, c.config.MQTT.QoS, c.handleMessage); err != nil {
		return err
	}

	c.logger.Info("MQTT consumer started",
		zap.String("topic", c.config.MQTT.Topic),
	)

	<-ctx.Done()
	return nil
}

// Stop 停止消费者
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	if err := c.mqttClient.Unsubscribe(c.config.MQTT.Topic); err != nil {
		c.logger.Error("failed to unsubscribe", zap.Error(err))
	}

	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handleMessage 处理一条消息；摄取失败只记日志，消费者不退出
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	c.logger.Debug("received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	stats, err := c.ingester.IngestCSV(context.Background(), bytes.NewReader(payload))
	if err != nil {
		c.logger.Error("failed to ingest MQTT batch",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return err
	}

	if !stats.Success() {
		c.logger.Warn("MQTT batch ingested with errors",
			zap.String("topic", topic),
			zap.Int("rows_processed", stats.RowsProcessed),
			zap.Int("readings_inserted", stats.ReadingsInserted),
			zap.Strings("errors", stats.Errors),
		)
		return nil
	}

	c.logger.Info("MQTT batch ingested",
		zap.String("topic", topic),
		zap.Int("rows_processed", stats.RowsProcessed),
		zap.Int("readings_inserted", stats.ReadingsInserted),
	)
	return nil
}
