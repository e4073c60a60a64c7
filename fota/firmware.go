// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package fota

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"

	"github.com/foundriesio/dg-fota/context"
	"github.com/foundriesio/dg-fota/lwm2m"
	"github.com/foundriesio/dg-fota/storage"
)

var (
	ErrFOTANotSupported  = errors.New("device does not support FOTA")
	ErrNoFirmwareVersion = errors.New("device has not reported a firmware version")
)

// DeviceStateReader reads the state a device reported.
type DeviceStateReader interface {
	GetReportedState(ctx context.Context, deviceId string) (lwm2m.Shadow, error)
}

type DeviceFirmwareDetails struct {
	AppVersion         string           `json:"appVersion,omitempty"`
	MfwVersion         string           `json:"mfwVersion,omitempty"`
	SupportedFOTATypes []storage.Target `json:"supportedFOTATypes"`
}

// Version returns the version the device runs for target, or "".
func (d DeviceFirmwareDetails) Version(target storage.Target) string {
	switch target {
	case storage.TargetApp:
		return d.AppVersion
	case storage.TargetModem:
		return d.MfwVersion
	}
	return ""
}

var fotaTypes = map[string]storage.Target{
	"APP":        storage.TargetApp,
	"MODEM":      storage.TargetModem,
	"MDM_FULL":   storage.TargetModem,
	"BOOT":       storage.TargetBoot,
	"SOFTDEVICE": storage.TargetSoftdevice,
	"BOOTLOADER": storage.TargetBootloader,
}

type FirmwareResolver struct {
	reader DeviceStateReader
}

func NewFirmwareResolver(reader DeviceStateReader) *FirmwareResolver {
	return &FirmwareResolver{reader: reader}
}

// Resolve derives the firmware details of a device from its reported state.
func (r FirmwareResolver) Resolve(ctx context.Context, deviceId string) (*DeviceFirmwareDetails, error) {
	shadow, err := r.reader.GetReportedState(ctx, deviceId)
	if err != nil {
		return nil, fmt.Errorf("unknown device state: %w", err)
	}
	return FirmwareDetails(shadow)
}

// FirmwareDetails extracts the firmware details from a reported shadow.
func FirmwareDetails(shadow lwm2m.Shadow) (*DeviceFirmwareDetails, error) {
	details := DeviceFirmwareDetails{SupportedFOTATypes: []storage.Target{}}

	value, _ := shadow.Resource(lwm2m.ObjectNRFCloudServiceInfo, lwm2m.DefaultInstanceID, lwm2m.ResourceFOTATypes)
	seen := map[storage.Target]bool{}
	for _, token := range stringList(value) {
		if target, ok := fotaTypes[token]; ok && !seen[target] {
			seen[target] = true
			details.SupportedFOTATypes = append(details.SupportedFOTATypes, target)
		}
	}
	if len(details.SupportedFOTATypes) == 0 {
		return nil, ErrFOTANotSupported
	}

	if value, ok := shadow.Resource(lwm2m.ObjectDeviceInformation, lwm2m.DefaultInstanceID, lwm2m.ResourceAppVersion); ok {
		details.AppVersion = NormalizeVersion(value)
	}
	if value, ok := shadow.Resource(lwm2m.ObjectDeviceInformation, lwm2m.DefaultInstanceID, lwm2m.ResourceModemFirmware); ok {
		details.MfwVersion = NormalizeVersion(value)
	}
	if details.AppVersion == "" && details.MfwVersion == "" {
		return nil, ErrNoFirmwareVersion
	}
	return &details, nil
}

func stringList(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		list := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				list = append(list, s)
			}
		}
		return list
	}
	return nil
}

var embeddedVersion = regexp.MustCompile(`\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?`)

// NormalizeVersion turns a reported version into major.minor.patch. Modem
// firmware names like mfw_nrf91x1_2.0.1 yield the version they end with.
// Anything else yields "".
func NormalizeVersion(value any) string {
	s, ok := value.(string)
	if !ok {
		return ""
	}
	v := parseVersion(s)
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch())
}

func parseVersion(s string) *semver.Version {
	if v, err := semver.NewVersion(s); err == nil {
		return v
	}
	matches := embeddedVersion.FindAllString(s, -1)
	if len(matches) == 0 {
		return nil
	}
	v, err := semver.NewVersion(matches[len(matches)-1])
	if err != nil {
		return nil
	}
	return v
}
