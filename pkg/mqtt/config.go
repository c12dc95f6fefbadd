package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"io/ioutil"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultKeepAlive is the keep alive interval sent to the broker
	DefaultKeepAlive = 60 * time.Second

	// DefaultConnectTimeout bounds each attempt to reach the broker before
	// the client backs off and retries
	DefaultConnectTimeout = 10 * time.Second

	// DefaultMaxReconnectInterval caps the exponential reconnect backoff
	DefaultMaxReconnectInterval = 2 * time.Minute

	// DefaultBufferSize is the capacity of the channel between the paho
	// callback and the receive loop
	DefaultBufferSize = 100
)

var secureSchemes = map[string]bool{
	"tls":   true,
	"ssl":   true,
	"mqtts": true,
	"wss":   true,
}

var plainSchemes = map[string]bool{
	"tcp":  true,
	"mqtt": true,
	"ws":   true,
}

// Config holds everything needed to connect to the broker and subscribe to
// the readings topic.
type Config struct {
	Broker               string
	Topic                string
	QoS                  byte
	ClientID             string
	Username             string
	Password             string
	CAFile               string
	InsecureSkipVerify   bool
	KeepAlive            time.Duration
	ConnectTimeout       time.Duration
	MaxReconnectInterval time.Duration
	BufferSize           int
}

// Validate checks the configuration is usable, returning a descriptive error
// if not. Any error here is a startup configuration error.
func (c *Config) Validate() error {
	if c.Broker == "" {
		return errors.New("missing broker address")
	}

	u, err := url.Parse(c.Broker)
	if err != nil {
		return errors.Wrap(err, "invalid broker address")
	}

	scheme := strings.ToLower(u.Scheme)
	if !secureSchemes[scheme] && !plainSchemes[scheme] {
		return errors.Errorf("unsupported broker scheme %q", u.Scheme)
	}

	if u.Hostname() == "" {
		return errors.New("broker address must include a host")
	}

	if c.Topic == "" {
		return errors.New("missing topic")
	}

	if c.QoS > 2 {
		return errors.Errorf("invalid qos %d, must be 0, 1 or 2", c.QoS)
	}

	if c.Username == "" {
		return errors.New("missing broker username")
	}

	if c.Password == "" {
		return errors.New("missing broker password")
	}

	if c.IsSecure() && c.CAFile == "" {
		return errors.New("missing CA certificate file for TLS broker connection")
	}

	return nil
}

// IsSecure returns true if the broker address uses a TLS scheme.
func (c *Config) IsSecure() bool {
	u, err := url.Parse(c.Broker)
	if err != nil {
		return false
	}

	return secureSchemes[strings.ToLower(u.Scheme)]
}

// NewTLSConfig builds a tls.Config trusting only the certificates in caFile.
// When skipHostnameVerification is true the broker's hostname is not checked
// against its certificate, but the certificate chain is still verified against
// the CA bundle.
func NewTLSConfig(caFile string, skipHostnameVerification bool) (*tls.Config, error) {
	pemBytes, err := ioutil.ReadFile(caFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read CA certificate file")
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, errors.Errorf("no PEM encoded certificates found in %s", caFile)
	}

	tlsConfig := &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}

	if skipHostnameVerification {
		tlsConfig.InsecureSkipVerify = true
		tlsConfig.VerifyPeerCertificate = verifyChain(pool)
	}

	return tlsConfig, nil
}

// verifyChain returns a VerifyPeerCertificate callback that checks the
// presented chain against roots without checking the server name.
func verifyChain(roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New("broker presented no certificates")
		}

		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return errors.Wrap(err, "failed to parse broker certificate")
			}
			certs = append(certs, cert)
		}

		intermediates := x509.NewCertPool()
		for _, cert := range certs[1:] {
			intermediates.AddCert(cert)
		}

		_, err := certs[0].Verify(x509.VerifyOptions{
			Roots:         roots,
			Intermediates: intermediates,
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		})
		if err != nil {
			return errors.Wrap(err, "failed to verify broker certificate chain")
		}

		return nil
	}
}
