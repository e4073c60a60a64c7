// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package lwm2m

import (
	"log/slog"
	"slices"
	"strconv"
)

// ObjectInstance is the flat representation of one instance of an object,
// as devices and the history store exchange it.
type ObjectInstance struct {
	ObjectID         int       `json:"ObjectID"`
	ObjectVersion    string    `json:"ObjectVersion,omitempty"`
	ObjectInstanceID int       `json:"ObjectInstanceID,omitempty"`
	Resources        Resources `json:"Resources"`
}

func ObjectsToShadow(objects []ObjectInstance) Shadow {
	shadow := Shadow{}
	for _, obj := range objects {
		key := ObjectKey(obj.ObjectID, obj.ObjectVersion)
		if shadow[key] == nil {
			shadow[key] = Instances{}
		}
		instId := strconv.Itoa(obj.ObjectInstanceID)
		if shadow[key][instId] == nil {
			shadow[key][instId] = Resources{}
		}
		for resId, value := range obj.Resources {
			shadow[key][instId][resId] = copyValue(value)
		}
	}
	return shadow
}

// ShadowToObjects flattens a shadow ordered by object id, version and
// instance id. Keys which do not parse are skipped.
func ShadowToObjects(shadow Shadow) []ObjectInstance {
	var objects []ObjectInstance
	for key, instances := range shadow {
		objectId, version, err := ParseObjectKey(key)
		if err != nil {
			slog.Warn("Skipping malformed shadow object", "key", key, "error", err)
			continue
		}
		for instKey, resources := range instances {
			instId, err := strconv.Atoi(instKey)
			if err != nil {
				slog.Warn("Skipping malformed shadow instance", "key", key, "instance", instKey)
				continue
			}
			objects = append(objects, ObjectInstance{
				ObjectID:         objectId,
				ObjectVersion:    version,
				ObjectInstanceID: instId,
				Resources:        copyResources(resources),
			})
		}
	}
	slices.SortFunc(objects, func(a, b ObjectInstance) int {
		if a.ObjectID != b.ObjectID {
			return a.ObjectID - b.ObjectID
		}
		if a.ObjectVersion != b.ObjectVersion {
			if a.ObjectVersion < b.ObjectVersion {
				return -1
			}
			return 1
		}
		return a.ObjectInstanceID - b.ObjectInstanceID
	})
	return objects
}
