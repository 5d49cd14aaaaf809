// Package mqtt accepts bridge commands from an MQTT broker.
//
// Commands arrive on <prefix>/<group>/set with either a bare action name or
// a JSON object, and the outcome is published retained on <prefix>/<group>/state.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/milight/internal/bridge"
	"github.com/dokzlo13/milight/internal/config"
)

// Invoker runs bridge requests. *bridge.Controller implements it.
type Invoker interface {
	Invoke(ctx context.Context, req bridge.Request) (*bridge.Result, error)
}

// Command is the JSON form of a set payload
type Command struct {
	Action string `json:"action"`
	Steps  int    `json:"steps,omitempty"`
}

// State is published after every command
type State struct {
	ID     string `json:"id,omitempty"`
	Action string `json:"action"`
	OK     bool   `json:"ok"`
	Sent   int    `json:"sent"`
	Error  string `json:"error,omitempty"`
}

// Service subscribes to command topics and forwards them to the bridge
type Service struct {
	cfg     config.MQTTConfig
	invoker Invoker
	client  paho.Client
	ctx     context.Context

	// handlers in flight; Stop waits for them
	wg sync.WaitGroup
}

// NewService creates a new MQTT Service
func NewService(cfg config.MQTTConfig, invoker Invoker) *Service {
	return &Service{
		cfg:     cfg,
		invoker: invoker,
		ctx:     context.Background(),
	}
}

// ClientOptions builds the paho client options from config
func (s *Service) ClientOptions() *paho.ClientOptions {
	return paho.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetUsername(s.cfg.Username).
		SetPassword(s.cfg.Password).
		SetAutoReconnect(true).
		// Handlers publish and wait for the ack; ordered routing would block that
		SetOrderMatters(false).
		SetConnectTimeout(s.cfg.Timeout.Duration()).
		SetOnConnectHandler(func(client paho.Client) {
			// Subscriptions are lost on clean-session reconnects
			if err := s.subscribe(client); err != nil {
				log.Error().Err(err).Msg("MQTT subscribe failed")
			}
		}).
		SetConnectionLostHandler(func(client paho.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost")
		}).
		SetReconnectingHandler(func(client paho.Client, opts *paho.ClientOptions) {
			log.Info().Msg("MQTT reconnecting")
		})
}

// Start connects to the broker. Subscription happens in the connect handler.
func (s *Service) Start(ctx context.Context) error {
	s.ctx = ctx
	s.client = paho.NewClient(s.ClientOptions())

	t := s.client.Connect()
	if err := wait(t, s.cfg.Timeout.Duration()); err != nil {
		return fmt.Errorf("MQTT connection error: %w", err)
	}

	log.Info().Str("broker", s.cfg.Broker).Str("topic", s.commandFilter()).Msg("Connected to MQTT broker")
	return nil
}

// Stop disconnects from the broker and waits for running commands to finish
func (s *Service) Stop() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	s.wg.Wait()
}

func (s *Service) commandFilter() string {
	return s.cfg.TopicPrefix + "/+/set"
}

func (s *Service) subscribe(client paho.Client) error {
	t := client.Subscribe(s.commandFilter(), s.cfg.QoS, func(client paho.Client, msg paho.Message) {
		s.wg.Add(1)
		defer s.wg.Done()

		group, state, ok := s.handle(msg.Topic(), msg.Payload())
		if !ok {
			return
		}
		s.publish(client, group, state)
	})
	return wait(t, s.cfg.Timeout.Duration())
}

// handle runs one command and returns the group it addressed and the state
// to publish. ok is false when topic is not a command topic; every command
// topic gets a state, including rejected ones.
func (s *Service) handle(topic string, payload []byte) (group int, state State, ok bool) {
	group, err := ParseTopic(s.cfg.TopicPrefix, topic)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Ignoring MQTT message")
		return 0, State{}, false
	}

	cmd, err := ParseCommand(payload)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Invalid MQTT command")
		return group, State{OK: false, Error: err.Error()}, true
	}

	state = State{Action: cmd.Action}
	req, err := bridge.ParseRequest(group, cmd.Action, cmd.Steps)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Rejected MQTT command")
		state.Error = err.Error()
		return group, state, true
	}
	req.Source = "mqtt"

	res, err := s.invoker.Invoke(s.ctx, req)
	if res != nil {
		state.ID = res.ID
		state.Sent = res.Sent
	}
	if err != nil {
		state.Error = err.Error()
		return group, state, true
	}
	state.OK = true
	return group, state, true
}

func (s *Service) publish(client paho.Client, group int, state State) {
	data, err := json.Marshal(state)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal MQTT state")
		return
	}
	topic := StateTopic(s.cfg.TopicPrefix, group)
	t := client.Publish(topic, s.cfg.QoS, true, data)
	if err := wait(t, s.cfg.Timeout.Duration()); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("MQTT publish failed")
	}
}

// ParseTopic extracts the group selector from <prefix>/<group>/set
func ParseTopic(prefix, topic string) (int, error) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return 0, fmt.Errorf("topic %q outside prefix %q", topic, prefix)
	}
	groupStr, ok := strings.CutSuffix(rest, "/set")
	if !ok || strings.Contains(groupStr, "/") {
		return 0, fmt.Errorf("topic %q is not a command topic", topic)
	}
	group, err := strconv.Atoi(groupStr)
	if err != nil {
		return 0, fmt.Errorf("topic %q: bad group %q", topic, groupStr)
	}
	return group, nil
}

// StateTopic returns the retained state topic for a group
func StateTopic(prefix string, group int) string {
	return fmt.Sprintf("%s/%d/state", prefix, group)
}

// ParseCommand accepts `on` or `{"action":"inc_brightness","steps":3}`
func ParseCommand(payload []byte) (Command, error) {
	raw := strings.TrimSpace(string(payload))
	if raw == "" {
		return Command{}, errors.New("empty payload")
	}

	if strings.HasPrefix(raw, "{") {
		var cmd Command
		if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
			return Command{}, fmt.Errorf("invalid JSON command: %w", err)
		}
		if cmd.Action == "" {
			return Command{}, errors.New("missing action")
		}
		return cmd, nil
	}

	return Command{Action: raw}, nil
}

func wait(t paho.Token, timeout time.Duration) error {
	if !t.WaitTimeout(timeout) {
		return fmt.Errorf("timed out after %v", timeout)
	}
	return t.Error()
}
