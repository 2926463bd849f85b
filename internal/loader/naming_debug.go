// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build debug

package loader

const librarySuffix = "_loaderd"
