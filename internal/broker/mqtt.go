package broker

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type MQTTOptions struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	QoS       byte
}

// MQTTTransport publishes to <projectId>/<topic>. MQTT 3.1.1 carries no
// headers, so only the payload is sent and the id is generated locally.
type MQTTTransport struct {
	client mqtt.Client
	prefix string
	qos    byte
	log    *zap.Logger
}

func NewMQTTTransport(ctx context.Context, opts MQTTOptions, projectID string, log *zap.Logger) (*MQTTTransport, error) {
	client := buildMQTTClient(opts, log)
	if err := connectWithBackoff(ctx, client, log, time.Second, 30*time.Second); err != nil {
		return nil, err
	}
	return &MQTTTransport{client: client, prefix: projectID, qos: opts.QoS, log: log}, nil
}

func buildMQTTClient(opts MQTTOptions, log *zap.Logger) mqtt.Client {
	clientID := opts.ClientID
	if clientID == "" {
		clientID = "beacon-relay-" + uuid.NewString()[:8]
	}

	o := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(clientID).
		SetOrderMatters(false).
		SetCleanSession(true).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(false)

	if opts.Username != "" {
		o.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		o.SetPassword(opts.Password)
	}

	o.OnConnect = func(mqtt.Client) {
		log.Info("mqtt connected", zap.String("broker", opts.BrokerURL), zap.String("client_id", clientID))
	}
	o.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", zap.Error(err))
	}
	return mqtt.NewClient(o)
}

func connectWithBackoff(ctx context.Context, client mqtt.Client, log *zap.Logger, start, max time.Duration) error {
	backoff := start
	for {
		token := client.Connect()
		if token.Wait() && token.Error() == nil {
			return nil
		}
		log.Warn("mqtt connect error, retrying", zap.Error(token.Error()), zap.Duration("backoff", backoff))
		select {
		case <-time.After(backoff):
			if backoff < max {
				backoff *= 2
			}
		case <-ctx.Done():
			return fmt.Errorf("mqtt connect: %w (last error: %v)", ctx.Err(), token.Error())
		}
	}
}

func (t *MQTTTransport) Topic(name string) string {
	if t.prefix == "" {
		return name
	}
	return t.prefix + "/" + name
}

func (t *MQTTTransport) Publish(ctx context.Context, msg Message) (string, error) {
	token := t.client.Publish(t.Topic(msg.Topic), t.qos, false, msg.Payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return "", err
		}
		return uuid.NewString(), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (t *MQTTTransport) Close() error {
	t.client.Disconnect(250)
	return nil
}
