package host

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/alec-deason/wasm-plugin/codec"
	"github.com/alec-deason/wasm-plugin/internal/abi"
)

// Config holds the load-time settings of an Executor. It is validated once,
// when the executor is created, never per call.
type Config struct {
	// Codec is the serialization format shared with every guest.
	Codec codec.Kind `yaml:"codec" json:"codec" validate:"required,oneof=json cbor gojson jsoniter" jsonschema:"enum=json,enum=cbor,enum=gojson,enum=jsoniter,default=json"`

	// ABI forces a calling convention instead of detecting it.
	ABI string `yaml:"abi" json:"abi,omitempty" validate:"omitempty,oneof=auto fixed-buffer fat-pointer" jsonschema:"enum=auto,enum=fixed-buffer,enum=fat-pointer,default=auto"`

	// ExportPrefix marks exports that are callable plugin functions.
	ExportPrefix string `yaml:"export_prefix" json:"export_prefix" validate:"required" jsonschema:"default=wasm_plugin_exported__"`

	// ImportModule is the namespace host functions are linked under.
	ImportModule string `yaml:"import_module" json:"import_module" validate:"required,ne=wasi_snapshot_preview1" jsonschema:"default=env"`

	// BufferCapacity is the fixed-buffer capacity used when the guest does not
	// export MESSAGE_BUFFER_SIZE.
	BufferCapacity uint32 `yaml:"buffer_capacity" json:"buffer_capacity" validate:"gt=0" jsonschema:"minimum=1,default=10240"`

	// MaxMessageSize bounds any single fat-pointer message and any inbound
	// import payload.
	MaxMessageSize uint32 `yaml:"max_message_size" json:"max_message_size" validate:"gt=0" jsonschema:"minimum=1,default=16777216"`

	// MemoryLimitPages caps guest memory. Zero keeps the engine default.
	MemoryLimitPages uint32 `yaml:"memory_limit_pages" json:"memory_limit_pages,omitempty" validate:"lte=65536" jsonschema:"maximum=65536"`

	// InjectEntropy provides __getrandom to guests that import it.
	InjectEntropy bool `yaml:"inject_entropy" json:"inject_entropy" jsonschema:"default=true"`
}

// validate is a package-level singleton for better performance.
// Creating a new validator on each call is expensive; reusing is recommended.
var validate = validator.New()

// DefaultConfig returns the configuration used when no options are given.
func DefaultConfig() Config {
	return Config{
		Codec:          codec.KindJSON,
		ABI:            abi.GenerationUnknown.String(),
		ExportPrefix:   abi.ExportPrefix,
		ImportModule:   abi.DefaultImportModule,
		BufferCapacity: abi.DefaultBufferCapacity,
		MaxMessageSize: 16 << 20,
		InjectEntropy:  true,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Generation returns the configured calling convention, GenerationAuto when
// it should be detected.
func (c Config) Generation() (Generation, error) {
	return abi.ParseGeneration(c.ABI)
}

// ParseConfig decodes a YAML document over DefaultConfig and validates the
// result. Unknown keys are rejected.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(data)
}

// ConfigSchema returns the JSON Schema of Config.
func ConfigSchema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true, // Expand struct definitions inline
	}
	schema := reflector.Reflect(&Config{})

	jsonBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return jsonBytes, nil
}
