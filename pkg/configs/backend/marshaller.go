package backend

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// load config of cmd/loops from a file.
//
// args:
//   - filepath: filepath refers a config file.
//
// returns *LoopsConfig, error:
//
//	When loading success, returns `(*LoopsConfig, nil)`.
//	Otherwise, returns `(nil, error)`.
func LoadLoopsConfig(filepath string) (*LoopsConfig, error) {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}
	return UnmarshalLoops(content)
}

// load config of cmd/datasetd from a file.
func LoadAPIConfig(filepath string) (*APIConfig, error) {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}
	return UnmarshalAPI(content)
}

func UnmarshalLoops(conf []byte) (*LoopsConfig, error) {
	var out *LoopsConfigMarshall
	if err := yaml.Unmarshal(conf, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("config is empty")
	}
	return seal(out)
}

func UnmarshalAPI(conf []byte) (*APIConfig, error) {
	var out *APIConfigMarshall
	if err := yaml.Unmarshal(conf, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("config is empty")
	}
	return seal(out)
}

// seal, reporting misconfiguration as error.
func seal[S any](m Marshalled[S]) (sealed S, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("misconfigured: %v", r)
		}
	}()
	return TrySeal(m), nil
}
