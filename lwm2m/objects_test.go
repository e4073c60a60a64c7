// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package lwm2m

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObjectsToShadowAndBack(t *testing.T) {
	objects := []ObjectInstance{
		{ObjectID: ObjectDeviceInformation, ObjectVersion: "1.0", Resources: Resources{"3": "1.0.0", "99": 1}},
		{ObjectID: ObjectConnectionInformation, Resources: Resources{"0": "LTE-M"}},
		{ObjectID: ObjectRGBLED, ObjectInstanceID: 1, Resources: Resources{"0": 255}},
	}
	shadow := ObjectsToShadow(objects)
	require.Equal(t, Shadow{
		"14204:1.0": Instances{"0": Resources{"3": "1.0.0", "99": 1}},
		"14203:1.0": Instances{"0": Resources{"0": "LTE-M"}},
		"14240:1.0": Instances{"1": Resources{"0": 255}},
	}, shadow)

	back := ShadowToObjects(shadow)
	require.Len(t, back, 3)
	require.Equal(t, ObjectConnectionInformation, back[0].ObjectID)
	require.Equal(t, "1.0", back[0].ObjectVersion)
	require.Equal(t, ObjectDeviceInformation, back[1].ObjectID)
	require.Equal(t, ObjectRGBLED, back[2].ObjectID)
	require.Equal(t, 1, back[2].ObjectInstanceID)
}

func TestShadowToObjectsSkipsMalformedKeys(t *testing.T) {
	shadow := Shadow{
		"14204":     Instances{"0": Resources{"3": "1.0.0"}},
		"14203:1.0": Instances{"x": Resources{"0": "LTE-M"}, "0": Resources{"0": "NB-IoT"}},
	}
	objects := ShadowToObjects(shadow)
	require.Len(t, objects, 1)
	require.Equal(t, "NB-IoT", objects[0].Resources["0"])
}

func TestShadowResource(t *testing.T) {
	shadow := Shadow{
		"14204:1.0": Instances{"0": Resources{"3": "1.0.0"}},
		"14204:1.1": Instances{"0": Resources{"3": "1.1.0"}},
	}
	v, ok := shadow.Resource(ObjectDeviceInformation, "0", ResourceAppVersion)
	require.True(t, ok)
	require.Equal(t, "1.1.0", v)

	_, ok = shadow.Resource(ObjectDeviceInformation, "0", ResourceBoard)
	require.False(t, ok)
	_, ok = Shadow(nil).Resource(ObjectNRFCloudServiceInfo, "0", ResourceFOTATypes)
	require.False(t, ok)
}

func TestParseObjectKey(t *testing.T) {
	id, version, err := ParseObjectKey("14401:1.0")
	require.Nil(t, err)
	require.Equal(t, ObjectNRFCloudServiceInfo, id)
	require.Equal(t, "1.0", version)

	_, _, err = ParseObjectKey("abc:1.0")
	require.NotNil(t, err)
	_, _, err = ParseObjectKey("14401:")
	require.NotNil(t, err)

	res, ok := TimestampResource("14202:1.0")
	require.True(t, ok)
	require.Equal(t, "99", res)
	_, ok = TimestampResource("3:1.0")
	require.False(t, ok)
}
