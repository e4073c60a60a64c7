// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package lwm2m holds the LwM2M object model used for device shadows and
// the diff engine computing the minimal delta between two shadows.
package lwm2m

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	ObjectGeolocation           = 14201
	ObjectBatteryAndPower       = 14202
	ObjectConnectionInformation = 14203
	ObjectDeviceInformation     = 14204
	ObjectEnvironment           = 14205
	ObjectSolarCharge           = 14210
	ObjectButtonPress           = 14220
	ObjectSeaWaterLevel         = 14230
	ObjectRGBLED                = 14240
	ObjectNRFCloudServiceInfo   = 14401

	// Resources of ObjectDeviceInformation.
	ResourceIMEI             = "0"
	ResourceModemFirmware    = "2"
	ResourceAppVersion       = "3"
	ResourceBoard            = "4"
	ResourceFOTATypes        = "0" // of ObjectNRFCloudServiceInfo
	DefaultObjectVersion     = "1.0"
	DefaultInstanceID        = "0"
	DefaultTimestampResource = "99"
)

// TimestampResources lists, per object, the resource carrying the time of
// the last update of an instance. Objects not listed have none.
var TimestampResources = map[int]string{
	ObjectGeolocation:           DefaultTimestampResource,
	ObjectBatteryAndPower:       DefaultTimestampResource,
	ObjectConnectionInformation: DefaultTimestampResource,
	ObjectDeviceInformation:     DefaultTimestampResource,
	ObjectEnvironment:           DefaultTimestampResource,
	ObjectSolarCharge:           DefaultTimestampResource,
	ObjectButtonPress:           DefaultTimestampResource,
	ObjectSeaWaterLevel:         DefaultTimestampResource,
	ObjectRGBLED:                DefaultTimestampResource,
	ObjectNRFCloudServiceInfo:   DefaultTimestampResource,
}

// Resources of one object instance, keyed by resource id.
type Resources = map[string]any

// Instances of one object, keyed by instance id.
type Instances = map[string]Resources

// Shadow is a device state tree keyed "ObjectID:ObjectVersion", then
// instance id, then resource id.
type Shadow map[string]Instances

// ShadowDocument is what a device reported and what the server desires.
type ShadowDocument struct {
	Reported Shadow `json:"reported,omitempty"`
	Desired  Shadow `json:"desired,omitempty"`
}

func ObjectKey(objectId int, version string) string {
	if version == "" {
		version = DefaultObjectVersion
	}
	return fmt.Sprintf("%d:%s", objectId, version)
}

func ParseObjectKey(key string) (objectId int, version string, err error) {
	idStr, version, found := strings.Cut(key, ":")
	if !found || version == "" {
		return 0, "", fmt.Errorf("invalid object key %q: expected ObjectID:ObjectVersion", key)
	}
	if objectId, err = strconv.Atoi(idStr); err != nil {
		return 0, "", fmt.Errorf("invalid object key %q: %w", key, err)
	}
	return objectId, version, nil
}

// TimestampResource returns the timestamp resource id declared for the
// object of the given key.
func TimestampResource(objectKey string) (string, bool) {
	objectId, _, err := ParseObjectKey(objectKey)
	if err != nil {
		return "", false
	}
	res, ok := TimestampResources[objectId]
	return res, ok
}

// Resource looks up a resource of an object regardless of the object version.
// When several versions are present the highest key wins.
func (s Shadow) Resource(objectId int, instanceId, resourceId string) (any, bool) {
	prefix := strconv.Itoa(objectId) + ":"
	keys := make([]string, 0, 1)
	for key := range s {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	for _, key := range keys {
		if value, ok := s[key][instanceId][resourceId]; ok {
			return value, true
		}
	}
	return nil, false
}

// Merge returns a copy of current with every resource of delta applied.
func Merge(current, delta Shadow) Shadow {
	merged := copyShadow(current)
	if merged == nil {
		merged = Shadow{}
	}
	for objKey, instances := range delta {
		if merged[objKey] == nil {
			merged[objKey] = Instances{}
		}
		for instId, resources := range instances {
			if merged[objKey][instId] == nil {
				merged[objKey][instId] = Resources{}
			}
			for resId, value := range resources {
				merged[objKey][instId][resId] = copyValue(value)
			}
		}
	}
	return merged
}

func copyShadow(s Shadow) Shadow {
	if s == nil {
		return nil
	}
	out := make(Shadow, len(s))
	for objKey, instances := range s {
		out[objKey] = copyInstances(instances)
	}
	return out
}

func copyInstances(instances Instances) Instances {
	out := make(Instances, len(instances))
	for instId, resources := range instances {
		out[instId] = copyResources(resources)
	}
	return out
}

func copyResources(resources Resources) Resources {
	out := make(Resources, len(resources))
	for resId, value := range resources {
		out[resId] = copyValue(value)
	}
	return out
}

func copyValue(value any) any {
	switch v := value.(type) {
	case []any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = copyValue(v[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k := range v {
			out[k] = copyValue(v[k])
		}
		return out
	}
	return value
}
