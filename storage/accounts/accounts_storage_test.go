// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package accounts

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/foundriesio/dg-fota/context"
	"github.com/foundriesio/dg-fota/storage"
)

// reverseCipher is enough to tell encrypted from plain text.
type reverseCipher struct{}

func reverse(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[len(data)-1-i] = b
	}
	return out
}

func (reverseCipher) Encrypt(data []byte) ([]byte, error) {
	return append([]byte("enc:"), reverse(data)...), nil
}

func (reverseCipher) Decrypt(data []byte) ([]byte, error) {
	rest, ok := strings.CutPrefix(string(data), "enc:")
	if !ok {
		return nil, errors.New("not encrypted")
	}
	return reverse([]byte(rest)), nil
}

func TestAccounts(t *testing.T) {
	db, err := storage.NewDb(filepath.Join(t.TempDir(), "sql.db"))
	require.Nil(t, err)
	t.Cleanup(func() { require.Nil(t, db.Close()) })
	s, err := NewStorage(db, reverseCipher{}, "https://api.nrfcloud.com")
	require.Nil(t, err)
	ctx := context.Background()

	settings, err := s.Settings(ctx, "nordic")
	require.Nil(t, err)
	require.Nil(t, settings)

	require.True(t, errors.Is(s.Set("nordic", "", ""), ErrInvalidAccount))
	require.True(t, errors.Is(s.Set("nordic", "not a url", "key"), ErrInvalidAccount))

	require.Nil(t, s.Set("nordic", "", "key-1"))
	settings, err = s.Settings(ctx, "nordic")
	require.Nil(t, err)
	require.Equal(t, "https://api.nrfcloud.com", settings.Endpoint)
	require.Equal(t, "key-1", settings.ApiKey)

	var stored string
	require.Nil(t, s.stmtAccountGet.Stmt.QueryRow("nordic").Scan(new(string), &stored))
	require.Equal(t, "enc:1-yek", stored)

	// Updates invalidate the cached settings.
	require.Nil(t, s.Set("nordic", "https://api.dev.nrfcloud.com", "key-2"))
	settings, err = s.Settings(ctx, "nordic")
	require.Nil(t, err)
	require.Equal(t, "https://api.dev.nrfcloud.com", settings.Endpoint)
	require.Equal(t, "key-2", settings.ApiKey)

	require.Nil(t, s.Set("acme", "", "key-3"))
	accounts, err := s.List()
	require.Nil(t, err)
	require.Len(t, accounts, 2)
	require.Equal(t, "acme", accounts[0].Name)
	require.Equal(t, "nordic", accounts[1].Name)
}
