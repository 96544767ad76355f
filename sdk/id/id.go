// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package id

import (
	"encoding/hex"
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// RandomBytes is the number of random bytes behind every generated id, which
// gives the id 128 bits of entropy.
const RandomBytes = 16

// Length is the length of an id generated without a prefix.
const Length = RandomBytes * 2

// New generates a random, hex encoded id with an optional prefix.
func New(optionalPrefix string) (string, error) {
	b, err := uuid.GenerateRandomBytes(RandomBytes)
	if err != nil {
		return "", fmt.Errorf("unable to generate id: %w", err)
	}
	id := hex.EncodeToString(b)
	switch {
	case optionalPrefix != "":
		return fmt.Sprintf("%s_%s", optionalPrefix, id), nil
	default:
		return id, nil
	}
}
