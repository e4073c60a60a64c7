// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package fota

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/foundriesio/dg-fota/storage"
)

func appDetails(version string) DeviceFirmwareDetails {
	return DeviceFirmwareDetails{
		AppVersion:         version,
		MfwVersion:         "1.3.6",
		SupportedFOTATypes: []storage.Target{storage.TargetApp},
	}
}

func TestBundleIds(t *testing.T) {
	target, err := BundleTarget("APP*1e29dfa3*v2.0.1")
	require.Nil(t, err)
	require.Equal(t, storage.TargetApp, target)
	target, err = BundleTarget("MDM_FULL*bdd24c80*mfw_nrf91x1_full_2.0.1")
	require.Nil(t, err)
	require.Equal(t, storage.TargetModem, target)
	_, err = BundleTarget("FOO*1")
	require.NotNil(t, err)

	require.Equal(t, "2.0.1", BundleVersion("APP*1e29dfa3*v2.0.1").String())
	require.Equal(t, "2.0.1", BundleVersion("MODEM*ad48df2a*mfw_nrf91x1_2.0.1").String())
	require.Nil(t, BundleVersion("APP*1e29dfa3*latest"))
	require.Nil(t, BundleVersion("APP"))
}

func TestValidateUpgradePath(t *testing.T) {
	target, err := ValidateUpgradePath(storage.UpgradePath{
		"2.0.0":   "APP*1e29dfa3*v2.0.1",
		">=2.0.1": "APP*cd5412d9*v2.0.2",
		"1.0.0":   "APP*abcdef*custom",
	})
	require.Nil(t, err)
	require.Equal(t, storage.TargetApp, target)

	for name, path := range map[string]storage.UpgradePath{
		"empty":          {},
		"unknown bundle": {"1.0.0": "NOPE*1*v1.0.1"},
		"bad key":        {"not-a-version": "APP*1*v1.0.1"},
		"backwards":      {"2.0.0": "APP*1*v1.9.0"},
		"same version":   {"2.0.0": "APP*1*v2.0.0"},
	} {
		_, err := ValidateUpgradePath(path)
		require.True(t, errors.Is(err, ErrInvalidUpgradePath), name)
	}

	_, err = ValidateUpgradePath(storage.UpgradePath{
		"2.0.0":     "APP*1e29dfa3*v2.0.1",
		"mfw 1.3.6": "MODEM*1*mfw_nrf9160_1.3.7",
	})
	require.True(t, errors.Is(err, ErrInvalidUpgradePath))

	_, err = ValidateUpgradePath(storage.UpgradePath{
		"2.0.0": "APP*1e29dfa3*v2.0.1",
		"1.3.6": "MODEM*1*mfw_nrf9160_1.3.7",
	})
	require.Equal(t, ErrMultipleTargets, err)
	require.True(t, errors.Is(err, ErrInvalidUpgradePath))
}

func TestNextBundleStatic(t *testing.T) {
	path := storage.UpgradePath{
		"2.0.0": "APP*1e29dfa3*v2.0.1",
		"2.0.1": "APP*cd5412d9*v2.0.2",
	}
	upgrade, err := NextBundle(path, appDetails("2.0.0"), nil)
	require.Nil(t, err)
	require.Equal(t, Upgrade{
		BundleId:        "APP*1e29dfa3*v2.0.1",
		ReportedVersion: "2.0.0",
		Target:          storage.TargetApp,
	}, upgrade)

	upgrade, err = NextBundle(path, appDetails("2.0.1"), storage.UsedVersions{"2.0.0": "APP*1e29dfa3*v2.0.1"})
	require.Nil(t, err)
	require.Equal(t, "APP*cd5412d9*v2.0.2", upgrade.BundleId)

	upgrade, err = NextBundle(path, appDetails("2.0.2"), nil)
	require.Nil(t, err)
	require.Equal(t, "", upgrade.BundleId)
	require.Equal(t, "2.0.2", upgrade.ReportedVersion)

	// The device did not move, the bundle is not issued twice.
	upgrade, err = NextBundle(path, appDetails("2.0.0"), storage.UsedVersions{"2.0.0": "APP*1e29dfa3*v2.0.1"})
	require.Nil(t, err)
	require.Equal(t, "", upgrade.BundleId)
}

func TestNextBundleRange(t *testing.T) {
	path := storage.UpgradePath{
		">=1.0.0": "APP*1e29dfa3*v2.0.1",
	}
	upgrade, err := NextBundle(path, appDetails("2.0.0"), nil)
	require.Nil(t, err)
	require.Equal(t, "APP*1e29dfa3*v2.0.1", upgrade.BundleId)

	// The range still matches after the upgrade, but the bundle was used.
	upgrade, err = NextBundle(path, appDetails("2.0.1"), storage.UsedVersions{"2.0.0": "APP*1e29dfa3*v2.0.1"})
	require.Nil(t, err)
	require.Equal(t, "", upgrade.BundleId)

	upgrade, err = NextBundle(path, appDetails("0.9.0"), nil)
	require.Nil(t, err)
	require.Equal(t, "", upgrade.BundleId)
}

func TestNextBundlePrecedence(t *testing.T) {
	path := storage.UpgradePath{
		"1.0.0":          "APP*aaaa*v1.1.0",
		"<2.0.0":         "APP*bbbb*v2.0.0",
		">=1.0.0 <1.5.0": "APP*cccc*v1.5.0",
	}
	upgrade, err := NextBundle(path, appDetails("1.0.0"), nil)
	require.Nil(t, err)
	require.Equal(t, "APP*aaaa*v1.1.0", upgrade.BundleId)

	used := storage.UsedVersions{"1.0.0": "APP*aaaa*v1.1.0"}
	upgrade, err = NextBundle(path, appDetails("1.0.0"), used)
	require.Nil(t, err)
	require.Equal(t, "APP*bbbb*v2.0.0", upgrade.BundleId)

	used["1.1.0"] = "APP*bbbb*v2.0.0"
	upgrade, err = NextBundle(path, appDetails("1.1.0"), used)
	require.Nil(t, err)
	require.Equal(t, "APP*cccc*v1.5.0", upgrade.BundleId)
}

func TestNextBundleErrors(t *testing.T) {
	path := storage.UpgradePath{"1.3.6": "MODEM*ad48df2a*mfw_nrf91x1_1.3.7"}
	_, err := NextBundle(path, appDetails("1.0.0"), nil)
	require.True(t, errors.Is(err, ErrTargetNotSupported))

	details := DeviceFirmwareDetails{
		AppVersion:         "1.0.0",
		SupportedFOTATypes: []storage.Target{storage.TargetApp, storage.TargetModem},
	}
	_, err = NextBundle(path, details, nil)
	require.True(t, errors.Is(err, ErrNoFirmwareVersion))

	details.MfwVersion = "1.3.6"
	upgrade, err := NextBundle(path, details, nil)
	require.Nil(t, err)
	require.Equal(t, storage.TargetModem, upgrade.Target)
	require.Equal(t, "MODEM*ad48df2a*mfw_nrf91x1_1.3.7", upgrade.BundleId)

	_, err = NextBundle(storage.UpgradePath{}, details, nil)
	require.True(t, errors.Is(err, ErrInvalidUpgradePath))
}
