// Пакет notifier — уведомления устройств о новых командах через MQTT.
//
// Устройство по-прежнему забирает команды через GET /device/commands;
// сообщение в топик <prefix>/<device_id>/commands лишь сокращает задержку
// до следующего poll. Ошибки публикации логируются и не влияют на очередь.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/model"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	// quiesce — время на отправку незавершённых сообщений при отключении, мс
	quiesce = 250
	// qos 0: потерянное уведомление компенсируется очередным poll
	qos = 0
)

// Options — параметры подключения к брокеру.
type Options struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// publisher — часть pahomqtt.Client, используемая для публикации.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// MQTT публикует уведомления о поставленных командах.
type MQTT struct {
	client pahomqtt.Client
	pub    publisher
	prefix string
	logger *slog.Logger
}

// Connect подключается к брокеру. Автоматическое переподключение включено:
// после успешного старта обрыв связи не требует действий от вызывающей стороны.
func Connect(opts Options, logger *slog.Logger) (*MQTT, error) {
	logger = logger.With(slog.String("component", "mqtt_notifier"))

	co := pahomqtt.NewClientOptions()
	co.AddBroker(opts.BrokerURL)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.SetCleanSession(true)
	co.SetAutoReconnect(true)
	co.SetConnectTimeout(connectTimeout)
	co.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("Соединение с MQTT-брокером потеряно", slog.String("error", err.Error()))
	})
	co.SetOnConnectHandler(func(_ pahomqtt.Client) {
		logger.Info("Подключение к MQTT-брокеру установлено", slog.String("broker", opts.BrokerURL))
	})

	client := pahomqtt.NewClient(co)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("таймаут подключения к MQTT-брокеру %s", opts.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("ошибка подключения к MQTT-брокеру: %w", err)
	}

	n := newMQTT(client, opts.TopicPrefix, logger)
	n.client = client
	return n, nil
}

func newMQTT(pub publisher, prefix string, logger *slog.Logger) *MQTT {
	return &MQTT{pub: pub, prefix: prefix, logger: logger}
}

// Topic возвращает топик уведомлений устройства.
func (n *MQTT) Topic(deviceID string) string {
	return n.prefix + "/" + deviceID + "/commands"
}

// queuedMessage — тело уведомления.
type queuedMessage struct {
	CommandID     int64  `json:"command_id"`
	Command       string `json:"command"`
	FingerprintID int    `json:"fingerprint_id"`
	QueuedAt      string `json:"queued_at"`
}

// CommandQueued публикует уведомление о новой команде.
func (n *MQTT) CommandQueued(ctx context.Context, c *model.Command) {
	payload, err := json.Marshal(queuedMessage{
		CommandID:     c.ID,
		Command:       string(c.Kind),
		FingerprintID: c.FingerprintID,
		QueuedAt:      c.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		n.logger.Error("Ошибка сериализации уведомления", slog.String("error", err.Error()))
		return
	}

	topic := n.Topic(c.DeviceID)
	token := n.pub.Publish(topic, qos, false, payload)

	// Ожидание публикации не дольше publishTimeout и не дольше контекста запроса
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			n.logger.Warn("Уведомление не опубликовано",
				slog.String("topic", topic),
				slog.Int64("command_id", c.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		n.logger.Debug("Уведомление опубликовано", slog.String("topic", topic), slog.Int64("command_id", c.ID))
	case <-time.After(publishTimeout):
		n.logger.Warn("Таймаут публикации уведомления", slog.String("topic", topic))
	case <-ctx.Done():
	}
}

// Close отключается от брокера.
func (n *MQTT) Close() {
	if n.client != nil {
		n.client.Disconnect(quiesce)
	}
}
