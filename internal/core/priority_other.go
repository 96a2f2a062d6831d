//go:build !linux

package core

import "biped/pkg/types"

func applyPriority(types.Priority) error { return nil }
