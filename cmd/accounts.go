// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"errors"
	"fmt"

	"github.com/foundriesio/dg-fota/server"
	"github.com/foundriesio/dg-fota/storage"
	"github.com/foundriesio/dg-fota/storage/accounts"
)

type CreateCipherSecretCmd struct {
	Force bool `help:"Replace an existing secret. API keys stored with the old one become unreadable."`
}

func (c CreateCipherSecretCmd) Run(args CommonArgs) error {
	fs, err := storage.NewFs(args.DataDir)
	if err != nil {
		return err
	}
	if current, err := fs.ReadFile(storage.CipherSecretFile); err != nil {
		return err
	} else if current != nil && !c.Force {
		return errors.New("a cipher secret already exists")
	}
	secret, err := server.GenerateCipherSecret()
	if err != nil {
		return err
	}
	return fs.WriteFile(storage.CipherSecretFile, []byte(secret), 0o600)
}

type AccountSetCmd struct {
	Name     string `arg:"positional,required" help:"Account name"`
	Endpoint string `help:"nRF Cloud API endpoint, defaults to nrfcloud.endpoint of config.toml"`
	ApiKey   string `arg:"--api-key,required,env:NRFCLOUD_API_KEY" help:"nRF Cloud API key"`
}

func (c AccountSetCmd) Run(args CommonArgs) error {
	fs, db, err := args.openStorage()
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			fmt.Println("Unexpected error closing database", err)
		}
	}()
	cfg, err := args.loadConfig(fs)
	if err != nil {
		return err
	}
	cipher, err := args.loadCipher(fs)
	if err != nil {
		return err
	}
	accountStorage, err := accounts.NewStorage(db, cipher, cfg.NRFCloud.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to initialize account storage: %w", err)
	}
	return accountStorage.Set(c.Name, c.Endpoint, c.ApiKey)
}
