// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alexflint/go-arg"

	"github.com/foundriesio/dg-fota/config"
	"github.com/foundriesio/dg-fota/server"
	"github.com/foundriesio/dg-fota/storage"
)

type CommonArgs struct {
	DataDir  string `arg:"required,env:DG_FOTA_DATA_DIR" help:"Directory to store data"`
	LogLevel string `arg:"--log-level" help:"Overrides log_level of config.toml"`
}

type args struct {
	CommonArgs

	Serve              *ServeCmd              `arg:"subcommand:serve" help:"Run the REST API and the FOTA daemons"`
	CreateCipherSecret *CreateCipherSecretCmd `arg:"subcommand:create-cipher-secret" help:"Generate the secret protecting API keys at rest"`
	AccountSet         *AccountSetCmd         `arg:"subcommand:account-set" help:"Configure the nRF Cloud API of an account"`
}

func main() {
	args := args{}
	p := arg.MustParse(&args)

	var err error
	switch {
	case args.Serve != nil:
		err = args.Serve.Run(args.CommonArgs)
	case args.CreateCipherSecret != nil:
		err = args.CreateCipherSecret.Run(args.CommonArgs)
	case args.AccountSet != nil:
		err = args.AccountSet.Run(args.CommonArgs)
	default:
		p.Fail("missing required subcommand")
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}
}

func (c CommonArgs) loadConfig(fs *storage.FsHandle) (*config.Config, error) {
	cfg, err := config.Load(fs.FilePath(storage.ConfigFile))
	if err != nil {
		return nil, err
	}
	if c.LogLevel != "" {
		cfg.LogLevel = c.LogLevel
	}
	return cfg, nil
}

func (c CommonArgs) openStorage() (*storage.FsHandle, *storage.DbHandle, error) {
	fs, err := storage.NewFs(c.DataDir)
	if err != nil {
		return nil, nil, err
	}
	db, err := storage.NewDb(fs.FilePath(storage.DbFile))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load database: %w", err)
	}
	return fs, db, nil
}

func (c CommonArgs) certsDir() string {
	return filepath.Join(c.DataDir, "certs")
}

func (c CommonArgs) loadCas() (*x509.CertPool, error) {
	path := filepath.Join(c.certsDir(), "cas.pem")
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read CAs file: %w", err)
	}

	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(bytes) {
		return nil, fmt.Errorf("no certificate found in %s", path)
	}
	return caPool, nil
}

func (c CommonArgs) loadTlsKeyPair() (tls.Certificate, error) {
	keyFile := filepath.Join(c.certsDir(), "tls.key")
	certFile := filepath.Join(c.certsDir(), "tls.crt")
	return tls.LoadX509KeyPair(certFile, keyFile)
}

func (c CommonArgs) loadCipher(fs *storage.FsHandle) (*server.AccountCipher, error) {
	secret, err := fs.ReadFile(storage.CipherSecretFile)
	if err != nil {
		return nil, err
	} else if secret == nil {
		return nil, fmt.Errorf("no cipher secret in %s: run create-cipher-secret first", c.DataDir)
	}
	return server.NewCipher(string(secret))
}
