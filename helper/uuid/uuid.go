// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package uuid mints the task ids handed out by the store.
package uuid

import (
	uuidparse "github.com/hashicorp/go-uuid"
)

// Generate returns a random UUID string, panicking on entropy failure.
// Task ids are minted with this and are unique per table.
func Generate() string {
	id, err := uuidparse.GenerateUUID()
	if err != nil {
		panic(err)
	}
	return id
}

// Validate reports whether the given string parses as a UUID.
func Validate(id string) bool {
	_, err := uuidparse.ParseUUID(id)
	return err == nil
}
