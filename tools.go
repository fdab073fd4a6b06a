// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

//go:build tools

// Package main pins the ginkgo CLI used to run the protocol scenario suite.
package main

import (
	_ "github.com/onsi/ginkgo/v2/ginkgo"
)
