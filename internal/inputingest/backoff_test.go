// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package inputingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffPolicy_GrowsByMultiplierAndCaps(t *testing.T) {
	p := DefaultBackoffPolicy()
	assert.Equal(t, 500*time.Millisecond, p.Next(0))
	assert.Equal(t, 850*time.Millisecond, p.Next(1))
	assert.Equal(t, p.Max, p.Next(20))
}
