// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	startRequestSchema = mustCompile("start-request.json", `{
		"type": "object",
		"required": ["upgradePath", "account"],
		"additionalProperties": false,
		"properties": {
			"account": {"type": "string", "minLength": 1},
			"upgradePath": {
				"type": "object",
				"minProperties": 1,
				"additionalProperties": {"type": "string", "minLength": 1}
			}
		}
	}`)

	accountRequestSchema = mustCompile("account-request.json", `{
		"type": "object",
		"required": ["apiKey"],
		"additionalProperties": false,
		"properties": {
			"apiEndpoint": {"type": "string", "format": "uri"},
			"apiKey": {"type": "string", "minLength": 1}
		}
	}`)

	desiredStateSchema = mustCompile("desired-state.json", `{
		"type": "object",
		"minProperties": 1,
		"propertyNames": {"pattern": "^[0-9]+:[0-9]+\\.[0-9]+$"},
		"additionalProperties": {
			"type": "object",
			"additionalProperties": {"type": "object"}
		}
	}`)
)

func mustCompile(ref, schema string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.AssertFormat = true
	if err := c.AddResource(ref, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("invalid schema %s: %s", ref, err))
	}
	return c.MustCompile(ref)
}

// validateJson checks a request body against a schema before decoding it.
func validateJson(schema *jsonschema.Schema, body []byte, v any) error {
	var doc any
	if err := decodeJson(body, &doc); err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("invalid request: %s", leafMessage(verr))
		}
		return fmt.Errorf("invalid request: %w", err)
	}
	return decodeJson(body, v)
}

func leafMessage(err *jsonschema.ValidationError) string {
	for len(err.Causes) > 0 {
		err = err.Causes[0]
	}
	loc := err.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return loc + ": " + err.Message
}
