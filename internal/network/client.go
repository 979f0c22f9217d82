package network

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/stickman-iot/gateway/internal/config"
	"github.com/stickman-iot/gateway/internal/fabric"
	"github.com/stickman-iot/gateway/internal/model"
)

// sessionState is the network client's connection state machine.
type sessionState int

const (
	stateDisconnected sessionState = iota
	stateConnecting
	stateMqttConnect
	stateConnected
	stateError
)

func (s sessionState) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateConnecting:
		return "connecting"
	case stateMqttConnect:
		return "mqtt_connect"
	case stateConnected:
		return "connected"
	case stateError:
		return "error"
	default:
		return "unknown"
	}
}

const (
	maxConsecutiveFailures = 5
	cooloffDuration        = 30 * time.Second
	maxBackoff             = 30 * time.Second
	baseBackoff            = 5 * time.Second
	backoffStep            = 2 * time.Second
)

// Client drives the TLS-secured MQTT session. It owns its MQTT context
// exclusively; no other task touches the connection, state, or packet ID
// counter.
type Client struct {
	fab *fabric.Fabric
	log zerolog.Logger
	cfg config.Config

	state             sessionState
	conn              net.Conn
	nextPacketID      uint16
	lastPingTx        time.Time
	consecutiveErrors int

	rxBuf []byte
}

// New constructs a Client in the Disconnected state.
func New(fab *fabric.Fabric, log zerolog.Logger, cfg config.Config) *Client {
	return &Client{
		fab:          fab,
		log:          log.With().Str("component", "network").Logger(),
		cfg:          cfg,
		state:        stateDisconnected,
		nextPacketID: 1,
		rxBuf:        make([]byte, 1024),
	}
}

// Run waits for EventDataReady (the processor's statistics are
// initialized and it is ready to supply the network queue) before
// driving the state machine, which otherwise runs until EventShutdown
// is observed. On shutdown, an in-flight DISCONNECT is still attempted
// before exit.
func (c *Client) Run() {
	c.log.Info().Msg("network client waiting for data processor")
	for {
		if c.fab.Events.Get()&fabric.EventShutdown != 0 {
			return
		}
		if _, ok := c.fab.Events.Wait(fabric.EventDataReady, fabric.WaitAll, false, time.Second); ok {
			break
		}
	}
	c.log.Info().Msg("network client started")

	for {
		if c.fab.Events.Get()&fabric.EventShutdown != 0 {
			c.shutdown()
			return
		}

		switch c.state {
		case stateDisconnected:
			c.connect()
		case stateMqttConnect:
			c.mqttHandshake()
		case stateConnected:
			c.serviceConnected()
		case stateError:
			c.backoff()
		}
	}
}

// connect opens the TCP+TLS transport. The stdlib's tls.Dial already
// performs the connect-then-handshake sequence that embedded firmware
// typically interleaves as non-blocking connect plus SSL_WANT_* stepping;
// tls.DialWithDialer's timeout plays the same liveness role as a
// select-gated completion with a handshake step ceiling.
func (c *Client) connect() {
	c.state = stateConnecting
	c.log.Info().Str("host", c.cfg.BrokerHost).Int("port", c.cfg.BrokerPort).Msg("connecting")

	tlsCfg, err := c.buildTLSConfig()
	if err != nil {
		c.log.Error().Err(err).Msg("failed to build tls config")
		c.enterError()
		return
	}

	dialer := &net.Dialer{Timeout: c.cfg.ConnectTimeout}
	addr := fmt.Sprintf("%s:%d", c.cfg.BrokerHost, c.cfg.BrokerPort)
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsCfg)
	if err != nil {
		c.log.Warn().Err(err).Msg("tls dial failed")
		c.diagnoseTLSError(err)
		c.enterError()
		return
	}

	c.conn = conn
	c.fab.Events.Set(fabric.EventNetworkConnected | fabric.EventTLSReady)
	c.log.Info().Msg("tls session established")
	c.state = stateMqttConnect
}

// buildTLSConfig loads the configured CA bundle at startup and honours
// the verify-required flag. Verification defaults to advisory-only even
// when a CA bundle is configured, preserving the original firmware's
// behaviour of logging certificate problems without refusing the
// connection unless TLSVerifyRequired is explicitly set.
func (c *Client) buildTLSConfig() (*tls.Config, error) {
	tlsCfg := &tls.Config{ServerName: c.cfg.BrokerHost}

	if c.cfg.CACertPath != "" {
		pem, err := os.ReadFile(c.cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("reading CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("no certificates parsed from CA bundle")
		}
		tlsCfg.RootCAs = pool
	}

	if !c.cfg.TLSVerifyRequired {
		tlsCfg.InsecureSkipVerify = true
		tlsCfg.VerifyConnection = func(cs tls.ConnectionState) error {
			if c.cfg.CACertPath == "" {
				return nil
			}
			opts := x509.VerifyOptions{DNSName: cs.ServerName, Roots: tlsCfg.RootCAs}
			for _, cert := range cs.PeerCertificates[1:] {
				opts.Intermediates = x509.NewCertPool()
				opts.Intermediates.AddCert(cert)
			}
			if _, err := cs.PeerCertificates[0].Verify(opts); err != nil {
				c.diagnoseTLSError(err)
			}
			return nil
		}
	}

	return tlsCfg, nil
}

// diagnoseTLSError decomposes known certificate verification failures
// into per-reason diagnostic lines, mirroring the original firmware's
// per-flag certificate verification diagnostics.
func (c *Client) diagnoseTLSError(err error) {
	var hostErr x509.HostnameError
	var invalidErr x509.CertificateInvalidError
	var unknownErr x509.UnknownAuthorityError
	switch {
	case errors.As(err, &hostErr):
		c.log.Warn().Msg("  - CN/SAN mismatch")
	case errors.As(err, &invalidErr):
		switch invalidErr.Reason {
		case x509.Expired:
			c.log.Warn().Msg("  - certificate expired or not yet valid")
		case x509.CANotAuthorizedForThisName:
			c.log.Warn().Msg("  - CA not authorized for this name")
		case x509.TooManyIntermediates:
			c.log.Warn().Msg("  - too many intermediate certificates")
		case x509.IncompatibleUsage:
			c.log.Warn().Msg("  - key usage violation")
		default:
			c.log.Warn().Msg("  - other certificate issue")
		}
	case errors.As(err, &unknownErr):
		c.log.Warn().Msg("  - certificate not trusted (unknown authority)")
	default:
		c.log.Warn().Err(err).Msg("  - unclassified tls error")
	}
}

// mqttHandshake sends CONNECT and awaits CONNACK, bounded by
// ConnectTimeout: a stepped, non-blocking handshake ceiling collapses to
// a single read deadline over a real, blocking TLS connection.
func (c *Client) mqttHandshake() {
	packet, err := encodeConnect(c.cfg.ClientID, uint16(c.cfg.Keepalive.Seconds()))
	if err != nil {
		c.log.Error().Err(err).Msg("failed to encode connect packet")
		c.enterError()
		return
	}

	_ = c.conn.SetDeadline(time.Now().Add(c.cfg.ConnectTimeout))
	if _, err := c.conn.Write(packet); err != nil {
		c.log.Warn().Err(err).Msg("failed to send connect packet")
		c.enterError()
		return
	}

	n, err := c.conn.Read(c.rxBuf)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to read connack")
		c.enterError()
		return
	}

	present, code, err := decodeConnack(c.rxBuf[:n])
	if err != nil {
		c.log.Warn().Err(err).Msg("malformed connack")
		c.enterError()
		return
	}
	if code != connackAccepted {
		c.log.Warn().Str("reason", code.String()).Msg("broker rejected connect")
		c.enterError()
		return
	}

	_ = c.conn.SetDeadline(time.Time{})
	c.log.Info().Bool("session_present", present).Msg("mqtt session established")
	c.lastPingTx = time.Now()
	c.consecutiveErrors = 0
	c.fab.Events.Set(fabric.EventMQTTConnected)
	c.state = stateConnected
}

// serviceConnected runs one iteration of the publish/keepalive/health-probe
// loop for the Connected state.
func (c *Client) serviceConnected() {
	if time.Since(c.lastPingTx) > c.cfg.Keepalive/2 {
		if err := c.ping(); err != nil {
			c.log.Warn().Err(err).Msg("pingreq failed")
			c.enterError()
			return
		}
	}

	msg, ok := c.fab.NetworkQueue.Get(100 * time.Millisecond)
	if ok {
		if err := c.publish(msg); err != nil {
			c.log.Warn().Err(err).Msg("publish failed, re-queuing at front")
			c.fab.NetworkQueue.PushFront(msg, 100*time.Millisecond)
			c.enterError()
			return
		}
	}

	if !c.probeHealth() {
		c.log.Warn().Msg("health probe failed")
		c.enterError()
	}
}

func (c *Client) ping() error {
	if _, err := c.conn.Write(encodePingreq()); err != nil {
		return err
	}
	c.lastPingTx = time.Now()
	return nil
}

// publish builds the topic and payload, selects QoS, and writes the
// PUBLISH packet.
func (c *Client) publish(msg model.Message) error {
	topic := c.cfg.TopicBase + msg.Data.Type.String() + fmt.Sprintf("/sensor_%d", msg.Data.SensorID)

	payload, err := json.Marshal(struct {
		SensorID  uint8   `json:"sensor_id"`
		Type      string  `json:"type"`
		Value     float64 `json:"value"`
		Timestamp uint32  `json:"timestamp"`
		Priority  uint8   `json:"priority"`
		Encrypted bool    `json:"encrypted"`
	}{
		SensorID:  msg.Data.SensorID,
		Type:      msg.Data.Type.String(),
		Value:     roundTo2dp(float64(msg.Data.Value)),
		Timestamp: msg.Data.TimestampMs,
		Priority:  uint8(msg.Priority),
		Encrypted: msg.Encrypted,
	})
	if err != nil {
		return fmt.Errorf("marshalling payload: %w", err)
	}

	q := qos0
	var packetID uint16
	if msg.Priority > model.PriorityNormal {
		q = qos1
		packetID = c.nextPacketID
		c.nextPacketID++
		if c.nextPacketID == 0 {
			c.nextPacketID = 1 // packet id 0 is not valid at QoS >= 1
		}
	}

	packet, err := encodePublish(topic, payload, q, packetID)
	if err != nil {
		return fmt.Errorf("encoding publish: %w", err)
	}

	_, err = c.conn.Write(packet)
	return err
}

func roundTo2dp(v float64) float64 {
	if v < 0 {
		return -roundTo2dp(-v)
	}
	return float64(int64(v*100+0.5)) / 100
}

// probeHealth mirrors the original's getsockopt(SO_ERROR) + zero-timeout
// select by attempting a one-byte read with a 1ms deadline: an error
// (other than a timeout on an otherwise healthy connection) signals the
// peer has gone away. Inbound bytes are not parsed in the Connected state,
// so a byte consumed here is discarded.
func (c *Client) probeHealth() bool {
	_ = c.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	_, err := c.conn.Read(c.rxBuf[:1])
	_ = c.conn.SetReadDeadline(time.Time{})
	if err == nil {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func (c *Client) enterError() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.fab.Events.Clear(fabric.EventNetworkConnected | fabric.EventMQTTConnected)
	c.consecutiveErrors++
	c.state = stateError
}

// backoff waits min(5s+2s*attempts, 30s) before re-entering Disconnected,
// plus an extended 30s cooloff once 5 consecutive failures accumulate.
func (c *Client) backoff() {
	delay := baseBackoff + backoffStep*time.Duration(c.consecutiveErrors)
	if delay > maxBackoff {
		delay = maxBackoff
	}
	c.log.Info().Dur("delay", delay).Int("consecutive_errors", c.consecutiveErrors).Msg("backing off before reconnect")
	time.Sleep(delay)

	if c.consecutiveErrors >= maxConsecutiveFailures {
		c.log.Warn().Msg("5 consecutive failures, entering extended cooloff")
		time.Sleep(cooloffDuration)
		c.consecutiveErrors = 0
	}

	c.state = stateDisconnected
}

// shutdown emits a best-effort DISCONNECT packet if a session is active,
// then closes the transport.
func (c *Client) shutdown() {
	c.log.Info().Msg("network client shutting down")
	if c.state == stateConnected && c.conn != nil {
		_, _ = c.conn.Write(encodeDisconnect())
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}
