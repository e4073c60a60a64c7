// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package accounts

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"

	"github.com/foundriesio/dg-fota/context"
	"github.com/foundriesio/dg-fota/nrfcloud"
	"github.com/foundriesio/dg-fota/storage"
)

var ErrInvalidAccount = errors.New("invalid account settings")

// Cipher protects the API keys at rest.
type Cipher interface {
	Encrypt(data []byte) ([]byte, error)
	Decrypt(data []byte) ([]byte, error)
}

type Account struct {
	Name        string            `json:"name"`
	ApiEndpoint string            `json:"apiEndpoint"`
	UpdatedAt   storage.Timestamp `json:"updatedAt"`
}

type Storage struct {
	cipher          Cipher
	defaultEndpoint string
	settings        cache.Cache[string, nrfcloud.Settings]

	stmtAccountGet  stmtAccountGet
	stmtAccountList stmtAccountList
	stmtAccountSet  stmtAccountSet
}

func NewStorage(db *storage.DbHandle, cipher Cipher, defaultEndpoint string) (*Storage, error) {
	handle := Storage{
		cipher:          cipher,
		defaultEndpoint: defaultEndpoint,
		settings:        cache.NewCache[string, nrfcloud.Settings]().WithTTL(5 * time.Minute).WithMaxKeys(1000),
	}
	if err := db.InitStmt(
		&handle.stmtAccountGet,
		&handle.stmtAccountList,
		&handle.stmtAccountSet,
	); err != nil {
		return nil, err
	}
	return &handle, nil
}

// Set stores the nRF Cloud API settings of an account. An empty endpoint
// selects the default one.
func (s Storage) Set(name, endpoint, apiKey string) error {
	if name == "" || apiKey == "" {
		return fmt.Errorf("%w: an account name and an API key are required", ErrInvalidAccount)
	}
	if endpoint == "" {
		endpoint = s.defaultEndpoint
	}
	if u, err := url.Parse(endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: invalid API endpoint %q", ErrInvalidAccount, endpoint)
	}
	key, err := s.cipher.Encrypt([]byte(apiKey))
	if err != nil {
		return fmt.Errorf("unable to encrypt API key: %w", err)
	}
	if err = s.stmtAccountSet.run(name, endpoint, string(key)); err != nil {
		return fmt.Errorf("unable to store account %s: %w", name, err)
	}
	s.settings.Invalidate(name)
	return nil
}

func (s Storage) List() ([]Account, error) {
	return s.stmtAccountList.run()
}

// Settings returns the API settings of an account, nil when the account is
// not configured.
func (s Storage) Settings(ctx context.Context, account string) (*nrfcloud.Settings, error) {
	if settings, ok := s.settings.Get(account); ok {
		return &settings, nil
	}
	var endpoint, key string
	err := s.stmtAccountGet.Stmt.QueryRow(account).Scan(&endpoint, &key)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("unable to read account %s: %w", account, err)
	}
	apiKey, err := s.cipher.Decrypt([]byte(key))
	if err != nil {
		context.CtxGetLog(ctx).Error("Unable to decrypt API key", "account", account, "error", err)
		return nil, fmt.Errorf("unable to decrypt API key of %s: %w", account, err)
	}
	settings := nrfcloud.Settings{Endpoint: endpoint, ApiKey: string(apiKey)}
	s.settings.Set(account, settings, 0)
	return &settings, nil
}

type stmtAccountGet storage.DbStmt

func (s *stmtAccountGet) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("accountGet", `
		SELECT api_endpoint, api_key FROM accounts WHERE name = ?`,
	)
	return
}

type stmtAccountList storage.DbStmt

func (s *stmtAccountList) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("accountList", `
		SELECT name, api_endpoint, updated_at FROM accounts ORDER BY name`,
	)
	return
}

func (s *stmtAccountList) run() ([]Account, error) {
	rows, err := s.Stmt.Query()
	if err != nil {
		return nil, err
	}
	defer storage.CloseRows("stmtAccountList", rows)

	accounts := []Account{}
	for rows.Next() {
		var a Account
		if err = rows.Scan(&a.Name, &a.ApiEndpoint, &a.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

type stmtAccountSet storage.DbStmt

func (s *stmtAccountSet) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("accountSet", `
		INSERT INTO accounts (name, api_endpoint, api_key, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			api_endpoint = excluded.api_endpoint,
			api_key = excluded.api_key,
			updated_at = excluded.updated_at`,
	)
	return
}

func (s *stmtAccountSet) run(name, endpoint, key string) error {
	_, err := s.Stmt.Exec(name, endpoint, key, storage.Now())
	return err
}
