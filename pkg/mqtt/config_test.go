package mqtt_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io/ioutil"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/mqtt"
)

func TestConfigValidate(t *testing.T) {
	testcases := []struct {
		label  string
		modify func(c *mqtt.Config)
		valid  bool
	}{
		{"valid", func(c *mqtt.Config) {}, true},
		{"plain tcp without ca", func(c *mqtt.Config) { c.Broker = "tcp://localhost:1883"; c.CAFile = "" }, true},
		{"missing broker", func(c *mqtt.Config) { c.Broker = "" }, false},
		{"bad scheme", func(c *mqtt.Config) { c.Broker = "http://broker.local:8883" }, false},
		{"no host", func(c *mqtt.Config) { c.Broker = "tls://:8883" }, false},
		{"unparseable", func(c *mqtt.Config) { c.Broker = "tls://%zz" }, false},
		{"missing topic", func(c *mqtt.Config) { c.Topic = "" }, false},
		{"bad qos", func(c *mqtt.Config) { c.QoS = 3 }, false},
		{"missing username", func(c *mqtt.Config) { c.Username = "" }, false},
		{"missing password", func(c *mqtt.Config) { c.Password = "" }, false},
		{"tls without ca", func(c *mqtt.Config) { c.CAFile = "" }, false},
	}

	for _, tc := range testcases {
		t.Run(tc.label, func(t *testing.T) {
			config := testConfig()
			config.CAFile = "ca.crt"
			tc.modify(config)

			err := config.Validate()
			if tc.valid {
				assert.Nil(t, err)
			} else {
				assert.NotNil(t, err)
			}
		})
	}
}

func TestIsSecure(t *testing.T) {
	assert.True(t, (&mqtt.Config{Broker: "tls://a:8883"}).IsSecure())
	assert.True(t, (&mqtt.Config{Broker: "ssl://a:8883"}).IsSecure())
	assert.True(t, (&mqtt.Config{Broker: "MQTTS://a:8883"}).IsSecure())
	assert.False(t, (&mqtt.Config{Broker: "tcp://a:1883"}).IsSecure())
}

// certificate authority and leaf certificates generated for each test
type pki struct {
	caKey  *ecdsa.PrivateKey
	caCert *x509.Certificate
	caPEM  []byte
}

func newPKI(t *testing.T, name string) *pki {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.Nil(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.Nil(t, err)

	cert, err := x509.ParseCertificate(der)
	require.Nil(t, err)

	return &pki{
		caKey:  key,
		caCert: cert,
		caPEM:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
	}
}

func (p *pki) leaf(t *testing.T, hostname string) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.Nil(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: hostname},
		DNSNames:     []string{hostname},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, p.caCert, &key.PublicKey, p.caKey)
	require.Nil(t, err)

	return der
}

func writeFile(t *testing.T, contents []byte) string {
	t.Helper()

	dir, err := ioutil.TempDir("", "mqtt")
	require.Nil(t, err)

	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "ca.crt")
	require.Nil(t, ioutil.WriteFile(path, contents, 0600))

	return path
}

func TestNewTLSConfigMissingFile(t *testing.T) {
	_, err := mqtt.NewTLSConfig(filepath.Join(os.TempDir(), "does-not-exist.crt"), false)
	assert.NotNil(t, err)
}

func TestNewTLSConfigNoCertificates(t *testing.T) {
	path := writeFile(t, []byte("not a certificate"))

	_, err := mqtt.NewTLSConfig(path, false)
	assert.NotNil(t, err)
}

func TestNewTLSConfigVerifiesHostname(t *testing.T) {
	ca := newPKI(t, "test ca")
	path := writeFile(t, ca.caPEM)

	tlsConfig, err := mqtt.NewTLSConfig(path, false)
	require.Nil(t, err)

	assert.False(t, tlsConfig.InsecureSkipVerify)
	assert.Nil(t, tlsConfig.VerifyPeerCertificate)
	assert.NotNil(t, tlsConfig.RootCAs)
}

func TestNewTLSConfigSkipHostnameStillVerifiesChain(t *testing.T) {
	ca := newPKI(t, "test ca")
	other := newPKI(t, "other ca")
	path := writeFile(t, ca.caPEM)

	tlsConfig, err := mqtt.NewTLSConfig(path, true)
	require.Nil(t, err)

	assert.True(t, tlsConfig.InsecureSkipVerify)
	require.NotNil(t, tlsConfig.VerifyPeerCertificate)

	// signed by our CA for some other host name: accepted
	err = tlsConfig.VerifyPeerCertificate([][]byte{ca.leaf(t, "34.10.35.179.example")}, nil)
	assert.Nil(t, err)

	// signed by an unknown CA: rejected
	err = tlsConfig.VerifyPeerCertificate([][]byte{other.leaf(t, "broker.local")}, nil)
	assert.NotNil(t, err)

	err = tlsConfig.VerifyPeerCertificate(nil, nil)
	assert.NotNil(t, err)

	err = tlsConfig.VerifyPeerCertificate([][]byte{[]byte("garbage")}, nil)
	assert.NotNil(t, err)
}
