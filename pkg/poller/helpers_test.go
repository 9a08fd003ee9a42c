package poller

import (
	"context"
	"testing"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/require"

	"github.com/inean/dns-synchub/pkg/settings"
)

func loadSettings(t *testing.T, env map[string]string) *settings.Settings {
	t.Helper()
	cfg, err := settings.Load(context.Background(), settings.WithLookuper(envconfig.MapLookuper(env)))
	require.NoError(t, err)
	return cfg
}
