// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package lwm2m

import "reflect"

// Diff returns the part of update that differs from current, or nil when
// nothing changed.
//
// Objects, instances and resources missing from current are taken as is.
// An instance whose only changed resource is its timestamp is dropped, and
// a timestamp older than the current one is never part of the delta.
func Diff(current, update Shadow) Shadow {
	var delta Shadow
	for objKey, updInstances := range update {
		curInstances, ok := current[objKey]
		if !ok {
			if instances := nonEmpty(updInstances); len(instances) > 0 {
				delta = withObject(delta, objKey, instances)
			}
			continue
		}
		tsRes, hasTs := TimestampResource(objKey)
		for instId, updResources := range updInstances {
			curResources, ok := curInstances[instId]
			if !ok {
				if len(updResources) > 0 {
					delta = withInstance(delta, objKey, instId, copyResources(updResources))
				}
				continue
			}
			changed := Resources{}
			for resId, value := range updResources {
				if curValue, ok := curResources[resId]; !ok || !valueEqual(curValue, value) {
					changed[resId] = copyValue(value)
				}
			}
			if hasTs {
				if _, tsChanged := changed[tsRes]; tsChanged {
					if len(changed) == 1 {
						continue
					}
					if isBackwards(curResources[tsRes], changed[tsRes]) {
						delete(changed, tsRes)
					}
				}
			}
			if len(changed) > 0 {
				delta = withInstance(delta, objKey, instId, changed)
			}
		}
	}
	return delta
}

// DiffShadow applies Diff to both trees of a shadow document and returns nil
// when neither changed.
func DiffShadow(current, update ShadowDocument) *ShadowDocument {
	reported := Diff(current.Reported, update.Reported)
	desired := Diff(current.Desired, update.Desired)
	if reported == nil && desired == nil {
		return nil
	}
	return &ShadowDocument{Reported: reported, Desired: desired}
}

func nonEmpty(instances Instances) Instances {
	out := Instances{}
	for instId, resources := range instances {
		if len(resources) > 0 {
			out[instId] = copyResources(resources)
		}
	}
	return out
}

func withObject(delta Shadow, objKey string, instances Instances) Shadow {
	if delta == nil {
		delta = Shadow{}
	}
	delta[objKey] = instances
	return delta
}

func withInstance(delta Shadow, objKey, instId string, resources Resources) Shadow {
	if delta == nil {
		delta = Shadow{}
	}
	if delta[objKey] == nil {
		delta[objKey] = Instances{}
	}
	delta[objKey][instId] = resources
	return delta
}

func isBackwards(current, update any) bool {
	cur, ok := toFloat(current)
	if !ok {
		return false
	}
	upd, ok := toFloat(update)
	return ok && upd < cur
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// valueEqual compares decoded JSON values. Numbers compare by value whatever
// their Go type, so a shadow read from disk equals one built in memory.
func valueEqual(a, b any) bool {
	if s, ok := a.([]string); ok {
		a = stringsToAny(s)
	}
	if s, ok := b.([]string); ok {
		b = stringsToAny(s)
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valueEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, ok := bv[k]
			if !ok || !valueEqual(v, other) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func stringsToAny(s []string) []any {
	out := make([]any, len(s))
	for i := range s {
		out[i] = s[i]
	}
	return out
}
