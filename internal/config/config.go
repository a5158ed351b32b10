// Package config reads and validates the JSON control files for the
// outpost client and server: exported fields with explicit json tags, a
// loader that opens the file and unmarshals it, and a validation pass at
// startup.  Unknown keys are rejected rather than ignored, so a typo in
// an option name fails fast instead of silently running with a default.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// KeySize is the required length of the pre-shared key file, in bytes.
// The key file holds the raw bytes with no encoding and no framing.
const KeySize = 32

// DefaultFlushIntervalSeconds bounds end-to-end freshness when the batch
// buffer stays under capacity (a slow-moving or stationary installation).
const DefaultFlushIntervalSeconds = 60

// DefaultSimilarityThreshold is the duplicate-filter tolerance in degrees,
// about eleven metres of latitude.
const DefaultSimilarityThreshold = 0.0001

// DefaultServerPort is the CoAP port.
const DefaultServerPort = 5683

// ClientConfig contains the values from the client's JSON config file.
//
// An example config file:
//
//	{
//	    "device": "/dev/ttyACM0",
//	    "baud": 4800,
//	    "outpost_host": "outpost.example.com:5683",
//	    "psk_path": "/etc/outpost/outpost.key",
//	    "similarity_threshold": 0.0001,
//	    "flush_interval_seconds": 60
//	}
type ClientConfig struct {
	// Device is the serial device producing NMEA sentences.
	Device string `json:"device"`

	// Baud is the serial baud rate.  4800 and 38400 are the values GPS
	// receivers in the field actually use.
	Baud int `json:"baud"`

	// OutpostHost is the server's address in host:port form.
	OutpostHost string `json:"outpost_host"`

	// PSKPath is the path of the 32-byte pre-shared key file.
	PSKPath string `json:"psk_path"`

	// SimilarityThreshold is the duplicate-filter tolerance in degrees.
	// Fixes closer than this to the last accepted fix on either axis are
	// dropped.  Zero means use the default.
	SimilarityThreshold float64 `json:"similarity_threshold"`

	// FlushIntervalSeconds is how long a non-empty batch buffer may sit
	// before it's flushed regardless of fill.  Zero means use the default.
	FlushIntervalSeconds uint `json:"flush_interval_seconds"`
}

// ServerConfig contains the values from the server's JSON config file.
// On the deployed profile PSKPath usually comes from the OUTPOST_PSK_PATH
// environment variable instead (secrets stay out of the config file);
// GetServerConfig applies that override.
type ServerConfig struct {
	// BindAddress is the local address to listen on.  Empty means all
	// interfaces.
	BindAddress string `json:"bind_address"`

	// BindPort is the UDP port to listen on.  Zero means the CoAP
	// default, 5683.
	BindPort uint `json:"bind_port"`

	// PSKPath is the path of the 32-byte pre-shared key file.
	PSKPath string `json:"psk_path"`

	// SinkDSN names the store that accepted fixes are appended to.  The
	// value "memory" (the default when empty) selects the built-in
	// in-memory sink, the only sink outpost-server has built in; it
	// refuses to start with any other value.
	SinkDSN string `json:"sink_dsn"`

	// JournalDirectory, if set, enables a daily rolling journal of
	// decoded batch plaintexts in that directory.
	JournalDirectory string `json:"journal_directory"`
}

// pskPathEnvVar overrides the server config file's psk_path when set.
const pskPathEnvVar = "OUTPOST_PSK_PATH"

// GetClientConfig reads, parses and validates the client config file.
func GetClientConfig(configFileName string) (*ClientConfig, error) {
	var config ClientConfig
	if err := unmarshalStrict(configFileName, &config); err != nil {
		return nil, err
	}

	if config.Device == "" {
		return nil, fmt.Errorf("config %s: device is required", configFileName)
	}
	if config.Baud <= 0 {
		return nil, fmt.Errorf("config %s: baud is required", configFileName)
	}
	if config.OutpostHost == "" {
		return nil, fmt.Errorf("config %s: outpost_host is required", configFileName)
	}
	if config.PSKPath == "" {
		return nil, fmt.Errorf("config %s: psk_path is required", configFileName)
	}
	if config.SimilarityThreshold < 0 {
		return nil, fmt.Errorf("config %s: similarity_threshold must not be negative", configFileName)
	}
	if config.SimilarityThreshold == 0 {
		config.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if config.FlushIntervalSeconds == 0 {
		config.FlushIntervalSeconds = DefaultFlushIntervalSeconds
	}

	return &config, nil
}

// GetServerConfig reads, parses and validates the server config file,
// applying the OUTPOST_PSK_PATH environment override.
func GetServerConfig(configFileName string) (*ServerConfig, error) {
	var config ServerConfig
	if err := unmarshalStrict(configFileName, &config); err != nil {
		return nil, err
	}

	if envPath := os.Getenv(pskPathEnvVar); envPath != "" {
		config.PSKPath = envPath
	}
	if config.PSKPath == "" {
		return nil, fmt.Errorf("config %s: psk_path is required (file key or %s)", configFileName, pskPathEnvVar)
	}
	if config.BindPort == 0 {
		config.BindPort = DefaultServerPort
	}
	if config.SinkDSN == "" {
		config.SinkDSN = "memory"
	}

	return &config, nil
}

// unmarshalStrict decodes the named JSON file into target, rejecting any
// key the target struct doesn't declare.
func unmarshalStrict(configFileName string, target interface{}) error {
	file, err := os.Open(configFileName)
	if err != nil {
		return fmt.Errorf("cannot read the JSON control file - %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("cannot parse the JSON control file %s - %w", configFileName, err)
	}
	return nil
}

// LoadKey reads a pre-shared key file: exactly 32 raw bytes, no encoding.
// Anything else is a startup error, not something to limp along with.
func LoadKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read the key file - %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("key file %s holds %d bytes, want exactly %d", path, len(key), KeySize)
	}
	return key, nil
}
