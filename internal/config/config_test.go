// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitConfig_DefaultsAndValidates(t *testing.T) {
	t.Setenv("CLIENT_ID", "client-123")

	v, err := InitConfig()
	require.NoError(t, err)

	cfg, err := GetApplicationConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "tourguide-client", cfg.Name)
	assert.Equal(t, "client-123", cfg.ClientID)
	assert.Equal(t, 2, cfg.MaxPreGenerate)
	assert.Equal(t, 1, cfg.MaxPrefetchAhead)
	assert.Equal(t, 80, cfg.TailMaxChars)
	assert.Equal(t, 0.35, cfg.SanityZCRThreshold)
}

func TestGetApplicationConfig_MissingRequiredFieldsFails(t *testing.T) {
	v, err := InitConfig()
	require.NoError(t, err)
	v.Set("client_id", "")

	_, err = GetApplicationConfig(v)
	assert.Error(t, err)
}
