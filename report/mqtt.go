package report

import (
	"encoding/json"
	"path"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/synthread/go-qspiflash/validate"
)

var (
	DefaultPrefix  = "qspiflash"
	PublishTimeout = 5 * time.Second
)

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type resultMsg struct {
	Format    string  `json:"format"`
	Test      string  `json:"test"`
	Passed    bool    `json:"passed"`
	Error     string  `json:"error,omitempty"`
	ElapsedMs float64 `json:"elapsed_ms"`
}

type summaryMsg struct {
	Passed int  `json:"passed"`
	Failed int  `json:"failed"`
	OK     bool `json:"ok"`
}

// MQTT publishes each result as JSON to <prefix>/<format>/<test> and the
// summary to <prefix>/summary
type MQTT struct {
	client publisher
	prefix string
	log    logrus.FieldLogger

	err error
}

// DialMQTT connects to broker, e.g. tcp://localhost:1883
func DialMQTT(broker, clientID, prefix string) (*MQTT, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(PublishTimeout)
	client := mqtt.NewClient(opts)

	tok := client.Connect()
	if !tok.WaitTimeout(PublishTimeout) {
		return nil, errors.Errorf("timed out connecting to %s", broker)
	}
	if err := tok.Error(); err != nil {
		return nil, errors.Wrapf(err, "could not connect to %s", broker)
	}
	return NewMQTT(client, prefix), nil
}

func NewMQTT(client publisher, prefix string) *MQTT {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &MQTT{
		client: client,
		prefix: prefix,
		log:    logrus.WithField("reporter", "mqtt"),
	}
}

// Err returns the first publish failure
func (m *MQTT) Err() error {
	return m.err
}

// Close disconnects from the broker
func (m *MQTT) Close() {
	if c, ok := m.client.(mqtt.Client); ok {
		c.Disconnect(250)
	}
}

func (m *MQTT) publish(topic string, v interface{}) {
	bs, err := json.Marshal(v)
	if err != nil {
		m.fail(errors.Wrap(err, "could not encode result"))
		return
	}
	tok := m.client.Publish(topic, 1, false, bs)
	if !tok.WaitTimeout(PublishTimeout) {
		m.fail(errors.Errorf("timed out publishing to %s", topic))
		return
	}
	if err := tok.Error(); err != nil {
		m.fail(errors.Wrapf(err, "could not publish to %s", topic))
	}
}

func (m *MQTT) fail(err error) {
	m.log.WithError(err).Error("publish failed")
	if m.err == nil {
		m.err = err
	}
}

func (m *MQTT) Format(string) {}

func (m *MQTT) Result(r validate.Result) {
	msg := resultMsg{
		Format:    r.Format,
		Test:      r.Test,
		Passed:    r.Passed(),
		ElapsedMs: float64(r.Elapsed) / float64(time.Millisecond),
	}
	if r.Err != nil {
		msg.Error = r.Err.Error()
	}
	m.publish(path.Join(m.prefix, r.Format, r.Test), msg)
}

func (m *MQTT) Done(s validate.Summary) {
	m.publish(path.Join(m.prefix, "summary"), summaryMsg{
		Passed: s.Passed,
		Failed: s.Failed,
		OK:     s.OK(),
	})
}
