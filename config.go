package requiem

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/Mabuchin/requiem/internal/quicengine"
	"github.com/Mabuchin/requiem/logging"
)

// Config is the full set of recognized server options, generalizing a
// flag.FlagSet-based server subcommand into a viper/cobra-driven
// configuration surface.
type Config struct {
	Host string
	Port int

	SocketPoolSize int
	DispatcherPoolSize int

	SocketEventCapacity int
	SocketPollingTimeout time.Duration

	TokenSecret []byte
	ConnectionIDSecret []byte

	AllowAddressRouting bool
	AddressRouteCacheSize int

	RetryValidity time.Duration

	TLS quicengine.TLSMaterial

	Transport quicengine.Params

	LogLevel logging.Level
}

// defaultAddressRouteCacheSize bounds the allow_address_routing side
// table when the operator doesn't set one explicitly.
const defaultAddressRouteCacheSize = 65536

// DefaultConfig returns a Config with the same transport defaults a
// single-listener QUIC server would use, scaled up to this module's
// pool-of-sockets/pool-of-dispatchers model.
func DefaultConfig() Config {
	return Config{
		Host: "0.0.0.0",
		Port: 4433,
		SocketPoolSize: 1,
		DispatcherPoolSize: 4,
		SocketEventCapacity: 64,
		SocketPollingTimeout: 100 * time.Millisecond,
		AllowAddressRouting: false,
		AddressRouteCacheSize: defaultAddressRouteCacheSize,
		RetryValidity: 10 * time.Second,
		Transport: quicengine.Params{
			MaxIdleTimeout: 30 * time.Second,
			InitialMaxData: 1 << 20,
			MaxUDPPayloadSize: 1452,
			InitialMaxStreamDataBidiLocal: 1 << 14,
			InitialMaxStreamDataBidiRemote: 1 << 14,
			InitialMaxStreamDataUni: 1 << 14,
			InitialMaxStreamsBidi: 100,
			InitialMaxStreamsUni: 100,
			DisableActiveMigration: false,
			EnableEarlyData: false,
			EnableDgram: false,
		},
		LogLevel: logging.LevelInfo,
	}
}

// LoadConfig reads recognized options from v (a viper instance already
// pointed at a config file, env prefix, and/or flag set by the caller)
// layered over DefaultConfig.
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()

	if v.IsSet("host") {
		cfg.Host = v.GetString("host")
	}
	if v.IsSet("port") {
		cfg.Port = v.GetInt("port")
	}
	if v.IsSet("socket_pool_size") {
		cfg.SocketPoolSize = v.GetInt("socket_pool_size")
	}
	if v.IsSet("dispatcher_pool_size") {
		cfg.DispatcherPoolSize = v.GetInt("dispatcher_pool_size")
	}
	if v.IsSet("socket_event_capacity") {
		cfg.SocketEventCapacity = v.GetInt("socket_event_capacity")
	}
	if v.IsSet("socket_polling_timeout") {
		cfg.SocketPollingTimeout = v.GetDuration("socket_polling_timeout")
	}
	if v.IsSet("token_secret") {
		cfg.TokenSecret = []byte(v.GetString("token_secret"))
	}
	if v.IsSet("connection_id_secret") {
		cfg.ConnectionIDSecret = []byte(v.GetString("connection_id_secret"))
	}
	if v.IsSet("allow_address_routing") {
		cfg.AllowAddressRouting = v.GetBool("allow_address_routing")
	}
	if v.IsSet("initial_max_data") {
		cfg.Transport.InitialMaxData = uint64(v.GetInt64("initial_max_data"))
	}
	if v.IsSet("max_udp_payload_size") {
		cfg.Transport.MaxUDPPayloadSize = uint64(v.GetInt64("max_udp_payload_size"))
	}
	if v.IsSet("initial_max_stream_data_bidi_local") {
		cfg.Transport.InitialMaxStreamDataBidiLocal = uint64(v.GetInt64("initial_max_stream_data_bidi_local"))
	}
	if v.IsSet("initial_max_stream_data_bidi_remote") {
		cfg.Transport.InitialMaxStreamDataBidiRemote = uint64(v.GetInt64("initial_max_stream_data_bidi_remote"))
	}
	if v.IsSet("initial_max_stream_data_uni") {
		cfg.Transport.InitialMaxStreamDataUni = uint64(v.GetInt64("initial_max_stream_data_uni"))
	}
	if v.IsSet("initial_max_streams_bidi") {
		cfg.Transport.InitialMaxStreamsBidi = uint64(v.GetInt64("initial_max_streams_bidi"))
	}
	if v.IsSet("initial_max_streams_uni") {
		cfg.Transport.InitialMaxStreamsUni = uint64(v.GetInt64("initial_max_streams_uni"))
	}
	if v.IsSet("max_idle_timeout") {
		cfg.Transport.MaxIdleTimeout = v.GetDuration("max_idle_timeout")
	}
	if v.IsSet("disable_active_migration") {
		cfg.Transport.DisableActiveMigration = v.GetBool("disable_active_migration")
	}
	if v.IsSet("enable_early_data") {
		cfg.Transport.EnableEarlyData = v.GetBool("enable_early_data")
	}
	if v.IsSet("enable_dgram") {
		cfg.Transport.EnableDgram = v.GetBool("enable_dgram")
	}
	if v.IsSet("tls_cert_file") {
		cfg.TLS.CertFile = v.GetString("tls_cert_file")
	}
	if v.IsSet("tls_key_file") {
		cfg.TLS.KeyFile = v.GetString("tls_key_file")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the minimum secret lengths and pool sizes required
// before Server wiring begins.
func (c Config) Validate() error {
	if len(c.TokenSecret) < 32 {
		return fmt.Errorf("requiem: token_secret must be at least 32 bytes, got %d", len(c.TokenSecret))
	}
	if len(c.ConnectionIDSecret) < 32 {
		return fmt.Errorf("requiem: connection_id_secret must be at least 32 bytes, got %d", len(c.ConnectionIDSecret))
	}
	if c.SocketPoolSize < 1 {
		return fmt.Errorf("requiem: socket_pool_size must be >= 1")
	}
	if c.DispatcherPoolSize < 1 {
		return fmt.Errorf("requiem: dispatcher_pool_size must be >= 1")
	}
	return nil
}
