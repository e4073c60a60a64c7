// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package fota

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/foundriesio/dg-fota/storage"
)

var (
	ErrInvalidUpgradePath = errors.New("invalid upgrade path")
	ErrMultipleTargets    = fmt.Errorf("%w: a job must have a single target", ErrInvalidUpgradePath)
	ErrTargetNotSupported = errors.New("device does not support FOTA for target")
)

var bundleTypes = map[string]storage.Target{
	"APP":        storage.TargetApp,
	"MODEM":      storage.TargetModem,
	"MDM_FULL":   storage.TargetModem,
	"BOOT":       storage.TargetBoot,
	"SOFTDEVICE": storage.TargetSoftdevice,
	"BOOTLOADER": storage.TargetBootloader,
}

// Upgrade is the next step of an upgrade path. An empty BundleId means the
// path is exhausted.
type Upgrade struct {
	BundleId        string
	ReportedVersion string
	Target          storage.Target
}

// BundleTarget returns the target of a bundle id like APP*1e29dfa3*v2.0.1.
func BundleTarget(bundleId string) (storage.Target, error) {
	prefix, _, _ := strings.Cut(bundleId, "*")
	target, ok := bundleTypes[prefix]
	if !ok {
		return "", fmt.Errorf("unknown type of bundle %q", bundleId)
	}
	return target, nil
}

// BundleVersion returns the version a bundle id ends with, if any.
func BundleVersion(bundleId string) *semver.Version {
	i := strings.LastIndex(bundleId, "*")
	if i < 0 {
		return nil
	}
	return parseVersion(bundleId[i+1:])
}

// ValidateUpgradePath checks a path and returns the target it upgrades.
func ValidateUpgradePath(path storage.UpgradePath) (storage.Target, error) {
	if len(path) == 0 {
		return "", fmt.Errorf("%w: no upgrades defined", ErrInvalidUpgradePath)
	}
	var targets []storage.Target
	for key, bundleId := range path {
		target, err := BundleTarget(bundleId)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrInvalidUpgradePath, err)
		}
		if !slices.Contains(targets, target) {
			targets = append(targets, target)
		}

		from, err := semver.StrictNewVersion(key)
		if err != nil {
			if _, err = semver.NewConstraint(key); err != nil {
				return "", fmt.Errorf("%w: %q is neither a version nor a range", ErrInvalidUpgradePath, key)
			}
			continue
		}
		if to := BundleVersion(bundleId); to != nil && !to.GreaterThan(from) {
			return "", fmt.Errorf("%w: bundle %s does not upgrade version %s", ErrInvalidUpgradePath, bundleId, key)
		}
	}
	if len(targets) != 1 {
		return "", ErrMultipleTargets
	}
	return targets[0], nil
}

// NextBundle picks the bundle to apply to a device given the versions
// already upgraded. The exact version entry of the reported version is
// preferred, then the ranges it satisfies in lexical order. Bundles issued
// before are skipped.
func NextBundle(path storage.UpgradePath, details DeviceFirmwareDetails, used storage.UsedVersions) (Upgrade, error) {
	target, err := ValidateUpgradePath(path)
	if err != nil {
		return Upgrade{}, err
	}
	if !slices.Contains(details.SupportedFOTATypes, target) {
		return Upgrade{}, fmt.Errorf("%w %s", ErrTargetNotSupported, target)
	}
	reported := details.Version(target)
	if reported == "" {
		return Upgrade{}, fmt.Errorf("%w for target %s", ErrNoFirmwareVersion, target)
	}
	upgrade := Upgrade{ReportedVersion: reported, Target: target}
	current, err := semver.NewVersion(reported)
	if err != nil {
		return Upgrade{}, fmt.Errorf("invalid reported version %q: %w", reported, err)
	}

	issued := map[string]bool{}
	for _, bundleId := range used {
		issued[bundleId] = true
	}

	var exact, ranges []string
	for key := range path {
		if v, err := semver.StrictNewVersion(key); err == nil {
			if v.Equal(current) {
				exact = append(exact, key)
			}
		} else if c, err := semver.NewConstraint(key); err == nil && c.Check(current) {
			ranges = append(ranges, key)
		}
	}
	slices.Sort(exact)
	slices.Sort(ranges)

	for _, key := range append(exact, ranges...) {
		if bundleId := path[key]; !issued[bundleId] {
			upgrade.BundleId = bundleId
			return upgrade, nil
		}
	}
	return upgrade, nil
}
