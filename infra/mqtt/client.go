package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/voltplan/voltplan/core/events"
	"github.com/voltplan/voltplan/core/model"
	"github.com/voltplan/voltplan/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Enabled       bool            `json:"enabled"`
	Broker        string          `json:"broker"`
	ClientID      string          `json:"client_id"`
	Username      string          `json:"username"`
	Password      string          `json:"password"`
	DecisionTopic string          `json:"decision_topic"`
	CommandTopic  string          `json:"command_topic"`
	StateTopic    string          `json:"state_topic"`
	UseTLS        bool            `json:"use_tls"`
	ClientCert    string          `json:"client_cert"`
	ClientKey     string          `json:"client_key"`
	CABundle      string          `json:"ca_bundle"`
	AuthMethod    string          `json:"auth_method"`
	QoS           map[string]byte `json:"qos"`
	Retain        bool            `json:"retain"`
	LWTTopic      string          `json:"lwt_topic"`
	LWTPayload    string          `json:"lwt_payload"`
	LWTQoS        byte            `json:"lwt_qos"`
	LWTRetain     bool            `json:"lwt_retain"`
	MaxRetries    int             `json:"max_retries"`
	BackoffMS     int             `json:"backoff_ms"`
	TLSConfig     *tls.Config     `json:"-"`
}

// SetDefaults fills topics and identifiers left empty.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "voltplan"
	}
	if c.DecisionTopic == "" {
		c.DecisionTopic = "voltplan/decision"
	}
	if c.CommandTopic == "" {
		c.CommandTopic = "voltplan/command"
	}
	if c.StateTopic == "" {
		c.StateTopic = "voltplan/state"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS == 0 {
		c.BackoffMS = 100
	}
}

// Command is the payload accepted on the command topic. Override commands
// name a target and an action; permissive commands carry only the flag.
type Command struct {
	Target          string `json:"target,omitempty"`
	Action          string `json:"action,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Clear           bool   `json:"clear,omitempty"`
	Permissive      *bool  `json:"permissive,omitempty"`
}

// CommandHandler receives commands parsed from the command topic.
type CommandHandler func(Command)

// SnapshotHandler receives sensor snapshots parsed from the state topic.
type SnapshotHandler func(model.Snapshot)

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// PahoClient publishes planner decisions and listens for commands using
// Eclipse Paho.
type PahoClient struct {
	cli           pahoClient
	decisionTopic string
	commandTopic  string
	stateTopic    string
	qos           map[string]byte
	retain        bool
	handler       CommandHandler
	states        SnapshotHandler
	logger        logger.Logger
	maxRetries    int
	backoff       time.Duration
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewPahoClient connects to the MQTT broker and subscribes to the command
// and state topics. Either handler may be nil when only publishing is needed.
func NewPahoClient(cfg Config, commands CommandHandler, states SnapshotHandler) (*PahoClient, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_client")
	pc := &PahoClient{
		decisionTopic: cfg.DecisionTopic,
		commandTopic:  cfg.CommandTopic,
		stateTopic:    cfg.StateTopic,
		qos:           cfg.QoS,
		retain:        cfg.Retain,
		handler:       commands,
		states:        states,
		logger:        log,
		maxRetries:    cfg.MaxRetries,
		backoff:       time.Duration(cfg.BackoffMS) * time.Millisecond,
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		if pc.handler != nil {
			qos := byte(0)
			if q, ok := pc.qos["command"]; ok {
				qos = q
			}
			if token := c.Subscribe(pc.commandTopic, qos, pc.onCommand); token.Wait() && token.Error() != nil {
				log.Errorf("subscribe error: %v", token.Error())
			}
		}
		if pc.states != nil {
			qos := byte(0)
			if q, ok := pc.qos["state"]; ok {
				qos = q
			}
			if token := c.Subscribe(pc.stateTopic, qos, pc.onState); token.Wait() && token.Error() != nil {
				log.Errorf("subscribe error: %v", token.Error())
			}
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	pc.cli = c
	return pc, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}
	return cfg, nil
}

func (p *PahoClient) onCommand(_ paho.Client, msg paho.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		p.logger.Errorf("failed to decode command: %v", err)
		return
	}
	p.logger.Infof("received command target=%s action=%s clear=%v", cmd.Target, cmd.Action, cmd.Clear)
	if p.handler != nil {
		p.handler(cmd)
	}
}

func (p *PahoClient) onState(_ paho.Client, msg paho.Message) {
	var snap model.Snapshot
	if err := json.Unmarshal(msg.Payload(), &snap); err != nil {
		p.logger.Errorf("failed to decode snapshot: %v", err)
		return
	}
	if snap.Time.IsZero() {
		snap.Time = time.Now()
	}
	if p.states != nil {
		p.states(snap)
	}
}

// PublishDecision publishes the evaluation summary to the decision topic,
// retrying with exponential backoff on transient failures.
func (p *PahoClient) PublishDecision(ev events.Evaluation) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.publish(p.decisionTopic, "decision", payload)
}

// PublishOverride publishes an override change notification on a subtopic of
// the decision topic.
func (p *PahoClient) PublishOverride(ev events.OverrideChanged) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.publish(p.decisionTopic+"/override", "decision", payload)
}

func (p *PahoClient) publish(topic, qosKey string, payload []byte) error {
	qos := byte(0)
	if q, ok := p.qos[qosKey]; ok {
		qos = q
	}
	var publishErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		token := p.cli.Publish(topic, qos, p.retain, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			return nil
		}
		p.logger.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		time.Sleep(p.backoff * time.Duration(1<<attempt))
	}
	return publishErr
}

// Disconnect gracefully closes the MQTT connection.
func (p *PahoClient) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
