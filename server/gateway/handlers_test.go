// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package gateway

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foundriesio/dg-fota/context"
	"github.com/foundriesio/dg-fota/history"
	"github.com/foundriesio/dg-fota/ingest"
	"github.com/foundriesio/dg-fota/lwm2m"
	"github.com/foundriesio/dg-fota/notify"
	"github.com/foundriesio/dg-fota/server"
	"github.com/foundriesio/dg-fota/storage"
	"github.com/foundriesio/dg-fota/storage/shadows"
)

type client struct {
	srv     *httptest.Server
	pki     *pki
	shadows *shadows.Storage
	applied []string
}

func (c *client) httpClient(withCert bool) *http.Client {
	client := c.srv.Client()
	transport := client.Transport.(*http.Transport).Clone()
	if withCert {
		transport.TLSClientConfig.Certificates = []tls.Certificate{c.pki.clientKp}
	}
	client.Transport = transport
	return client
}

func (c *client) Do(t *testing.T, method, resource, body string, status int) []byte {
	req, err := http.NewRequest(method, c.srv.URL+resource, strings.NewReader(body))
	require.Nil(t, err)
	res, err := c.httpClient(true).Do(req)
	require.Nil(t, err)
	defer func() { require.Nil(t, res.Body.Close()) }()
	buf, err := io.ReadAll(res.Body)
	require.Nil(t, err)
	require.Equal(t, status, res.StatusCode, string(buf))
	return buf
}

func (c *client) GET(t *testing.T, resource string, status int) []byte {
	return c.Do(t, http.MethodGet, resource, "", status)
}

func (c *client) HandleReportedState(ctx context.Context, deviceId string, delta, reported lwm2m.Shadow) error {
	c.applied = append(c.applied, deviceId)
	return nil
}

type pki struct {
	rootKey *ecdsa.PrivateKey
	rootCa  *x509.Certificate

	clientKey  *ecdsa.PrivateKey
	clientCert *x509.Certificate
	clientKp   tls.Certificate
}

func createPKI(t *testing.T, deviceId string) *pki {
	pki := pki{}

	// Create root CA
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.Nil(t, err)
	pki.rootKey = key

	template := &x509.Certificate{
		SerialNumber: big.NewInt(2019),
		Subject: pkix.Name{
			Organization: []string{"example"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &pki.rootKey.PublicKey, pki.rootKey)
	require.Nil(t, err)
	pki.rootCa, err = x509.ParseCertificate(der)
	require.Nil(t, err)

	// Device client cert
	pki.clientKey, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.Nil(t, err)

	template = &x509.Certificate{
		Subject: pkix.Name{
			CommonName:         deviceId,
			OrganizationalUnit: []string{"example"},
		},
		Issuer:       pki.rootCa.Subject,
		SerialNumber: big.NewInt(2019),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().AddDate(10, 0, 0),

		IsCA:        false,
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err = x509.CreateCertificate(rand.Reader, template, pki.rootCa, &pki.clientKey.PublicKey, pki.rootKey)
	require.Nil(t, err)
	pki.clientCert, err = x509.ParseCertificate(der)
	require.Nil(t, err)

	// Client cert keypair
	certPem := pem.EncodeToMemory(
		&pem.Block{
			Type:  "CERTIFICATE",
			Bytes: der,
		},
	)
	privDer, err := x509.MarshalECPrivateKey(pki.clientKey)
	require.Nil(t, err)
	privPem := pem.EncodeToMemory(
		&pem.Block{
			Type:  "EC PRIVATE KEY",
			Bytes: privDer,
		},
	)
	pki.clientKp, err = tls.X509KeyPair(certPem, privPem)
	require.Nil(t, err)

	return &pki
}

func testWrapper(t *testing.T, testFunc func(*client)) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	fs, err := storage.NewFs(t.TempDir())
	require.Nil(t, err)
	c := &client{pki: createPKI(t, "dev-1"), shadows: shadows.NewStorage(fs)}
	pipeline := ingest.NewPipeline(c.shadows, history.Nop{}, notify.Nop{}, c)

	e := server.NewEchoServer("dg-test", logger)

	srv := httptest.NewUnstartedServer(e)
	RegisterHandlers(e, pipeline, c.shadows)

	pool := x509.NewCertPool()
	pool.AddCert(c.pki.rootCa)
	srv.TLS = &tls.Config{
		ClientAuth: tls.VerifyClientCertIfGiven,
		ClientCAs:  pool,
	}
	srv.StartTLS()
	t.Cleanup(srv.Close)

	c.srv = srv
	testFunc(c)
}

func TestGatewayAuth(t *testing.T) {
	testWrapper(t, func(tc *client) {
		res, err := tc.httpClient(false).Get(tc.srv.URL + "/device")
		require.Nil(t, err)
		require.Nil(t, res.Body.Close())
		require.Equal(t, http.StatusUnauthorized, res.StatusCode)

		tc.GET(t, "/device", 404)
	})
}

func TestGatewayShadow(t *testing.T) {
	testWrapper(t, func(tc *client) {
		tc.GET(t, "/device/shadow/desired", 404)
		tc.Do(t, http.MethodPatch, "/device/shadow/reported", "not json", 400)

		report := `[{"ObjectID": 14204, "ObjectVersion": "1.0", "ObjectInstanceID": 0, "Resources": {"3": "1.0.0", "99": 1710000000}}]`
		var delta lwm2m.Shadow
		require.Nil(t, json.Unmarshal(tc.Do(t, http.MethodPatch, "/device/shadow/reported", report, 200), &delta))
		require.Equal(t, "1.0.0", delta["14204:1.0"]["0"]["3"])
		require.Equal(t, []string{"dev-1"}, tc.applied)

		// The same report again changes nothing.
		require.Equal(t, "{}\n", string(tc.Do(t, http.MethodPatch, "/device/shadow/reported", report, 200)))

		var info DeviceInfo
		require.Nil(t, json.Unmarshal(tc.GET(t, "/device", 200), &info))
		require.Equal(t, "dev-1", info.DeviceId)
		require.Equal(t, 1, info.Version)

		require.Equal(t, "{}\n", string(tc.GET(t, "/device/shadow/desired", 200)))
		require.Nil(t, tc.shadows.SetDesiredState(context.Background(), "dev-1", lwm2m.Shadow{"14240:1.0": {"0": {"1": "on"}}}))
		var desired lwm2m.Shadow
		require.Nil(t, json.Unmarshal(tc.GET(t, "/device/shadow/desired", 200), &desired))
		require.Equal(t, "on", desired["14240:1.0"]["0"]["1"])
	})
}
