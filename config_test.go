package requiem

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSecrets(v *viper.Viper) {
	v.Set("token_secret", "01234567890123456789012345678901")
	v.Set("connection_id_secret", "abcdefghijabcdefghijabcdefghijab")
}

func TestDefaultConfigIsInvalidWithoutSecrets(t *testing.T) {
	assert.Error(t, DefaultConfig().Validate())
}

func TestLoadConfigAppliesDefaultsAndOverrides(t *testing.T) {
	v := viper.New()
	validSecrets(v)
	v.Set("port", 9999)
	v.Set("dispatcher_pool_size", 8)

	cfg, err := LoadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, 8, cfg.DispatcherPoolSize)
	assert.Equal(t, "0.0.0.0", cfg.Host) // untouched default
}

func TestValidateRejectsShortSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TokenSecret = []byte("too-short")
	cfg.ConnectionIDSecret = []byte("01234567890123456789012345678901")
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroPoolSizes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TokenSecret = []byte("01234567890123456789012345678901")
	cfg.ConnectionIDSecret = []byte("01234567890123456789012345678901")
	cfg.SocketPoolSize = 0
	assert.Error(t, cfg.Validate())
}
